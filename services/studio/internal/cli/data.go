package cli

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"charchat/pkg/domain"
)

func (a *App) characters(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("characters: expected list, save or delete")
	}
	user, err := a.requireUser(ctx)
	if err != nil {
		return err
	}
	switch args[0] {
	case "list":
		if err := wantArgs("characters list", args[1:], 0); err != nil {
			return err
		}
		characters, err := a.Data.LoadCharacters(ctx, user.ID)
		if err != nil {
			return err
		}
		return a.printJSON(characters)
	case "save":
		if err := wantArgs("characters save", args[1:], 1); err != nil {
			return err
		}
		var character domain.Character
		if err := a.readJSON(args[1], &character); err != nil {
			return err
		}
		if character.ID == "" {
			character.ID = a.NewID()
		}
		if err := a.Data.SaveCharacter(ctx, user.ID, character); err != nil {
			return err
		}
		return a.printJSON(character)
	case "delete":
		if err := wantArgs("characters delete", args[1:], 1); err != nil {
			return err
		}
		return a.Data.DeleteCharacter(ctx, args[1])
	default:
		return fmt.Errorf("characters: unknown subcommand %q", args[0])
	}
}

// avatar uploads an image and points the character's AvatarURL at it.
func (a *App) avatar(ctx context.Context, args []string) error {
	if err := wantArgs("avatar", args, 2); err != nil {
		return err
	}
	user, err := a.requireUser(ctx)
	if err != nil {
		return err
	}
	characterID, path := args[0], args[1]

	characters, err := a.Data.LoadCharacters(ctx, user.ID)
	if err != nil {
		return err
	}
	idx := -1
	for i, c := range characters {
		if c.ID == characterID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("character %q not found", characterID)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	contentType, err := detectContentType(f, path)
	if err != nil {
		return err
	}
	avatarURL, err := a.Data.UploadAvatar(ctx, user.ID, characterID, contentType, f, info.Size())
	if err != nil {
		return err
	}

	character := characters[idx]
	character.AvatarURL = avatarURL
	if err := a.Data.SaveCharacter(ctx, user.ID, character); err != nil {
		return err
	}
	return a.printJSON(map[string]string{"characterId": characterID, "avatarUrl": avatarURL})
}

// detectContentType sniffs f and rewinds it. The extension wins when the
// content is not recognized.
func detectContentType(f io.ReadSeeker, path string) (string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	contentType := http.DetectContentType(head[:n])
	if contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
			contentType = byExt
		}
	}
	return contentType, nil
}

func (a *App) sessions(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("sessions: expected list, save or delete")
	}
	user, err := a.requireUser(ctx)
	if err != nil {
		return err
	}
	switch args[0] {
	case "list":
		if err := wantArgs("sessions list", args[1:], 1); err != nil {
			return err
		}
		sessions, err := a.Data.LoadChatSessions(ctx, user.ID, args[1])
		if err != nil {
			return err
		}
		return a.printJSON(sessions)
	case "save":
		if err := wantArgs("sessions save", args[1:], 2); err != nil {
			return err
		}
		var session domain.ChatSession
		if err := a.readJSON(args[2], &session); err != nil {
			return err
		}
		if session.ID == "" {
			session.ID = a.NewID()
		}
		if err := a.Data.SaveChatSession(ctx, user.ID, session, args[1]); err != nil {
			return err
		}
		return a.printJSON(session)
	case "delete":
		if err := wantArgs("sessions delete", args[1:], 1); err != nil {
			return err
		}
		return a.Data.DeleteSession(ctx, args[1])
	default:
		return fmt.Errorf("sessions: unknown subcommand %q", args[0])
	}
}

func (a *App) messages(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("messages: expected list or send")
	}
	user, err := a.requireUser(ctx)
	if err != nil {
		return err
	}
	switch args[0] {
	case "list":
		if err := wantArgs("messages list", args[1:], 1); err != nil {
			return err
		}
		messages, err := a.Data.LoadMessages(ctx, args[1])
		if err != nil {
			return err
		}
		return a.printJSON(messages)
	case "send":
		if err := wantArgs("messages send", args[1:], 3); err != nil {
			return err
		}
		role := domain.Role(args[2])
		if role != domain.RoleUser && role != domain.RoleModel {
			return fmt.Errorf("messages send: role must be %q or %q", domain.RoleUser, domain.RoleModel)
		}
		message := domain.Message{
			ID:        a.NewID(),
			Role:      role,
			Content:   args[3],
			Timestamp: a.Now().UnixMilli(),
		}
		if err := a.Data.SaveMessage(ctx, user.ID, args[1], message); err != nil {
			return err
		}
		return a.printJSON(message)
	default:
		return fmt.Errorf("messages: unknown subcommand %q", args[0])
	}
}

func (a *App) settings(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("settings: expected get or set")
	}
	user, err := a.requireUser(ctx)
	if err != nil {
		return err
	}
	switch args[0] {
	case "get":
		if err := wantArgs("settings get", args[1:], 0); err != nil {
			return err
		}
		settings, err := a.Data.LoadSettings(ctx, user.ID)
		if err != nil {
			return err
		}
		return a.printJSON(settings)
	case "set":
		if err := wantArgs("settings set", args[1:], 1); err != nil {
			return err
		}
		var settings domain.AppSettings
		if err := a.readJSON(args[1], &settings); err != nil {
			return err
		}
		return a.Data.SaveSettings(ctx, user.ID, settings)
	default:
		return fmt.Errorf("settings: unknown subcommand %q", args[0])
	}
}
