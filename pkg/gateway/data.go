package gateway

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"strings"
	"time"

	"charchat/pkg/domain"
	"charchat/pkg/provider"
)

// DataGateway maps characters, sessions, messages and settings onto provider
// tables. Every write carries the acting user's id.
type DataGateway struct {
	tables  provider.TableStore
	objects ObjectUploader
	logger  *slog.Logger
	now     func() time.Time
}

func NewDataGateway(tables provider.TableStore, opts ...Option) *DataGateway {
	o := buildOptions(opts)
	return &DataGateway{
		tables:  tables,
		objects: o.objects,
		logger:  o.logger,
		now:     o.now,
	}
}

// SaveCharacter creates the character or overwrites the one with the same id.
func (g *DataGateway) SaveCharacter(ctx context.Context, userID string, character domain.Character) error {
	return g.exec("SaveCharacter", MsgSaveCharacterFailed, func() error {
		row, err := characterRow(userID, character)
		if err != nil {
			return err
		}
		return g.tables.Upsert(ctx, provider.TableCharacters, row, "id")
	})
}

// LoadCharacters returns the user's characters, newest first.
func (g *DataGateway) LoadCharacters(ctx context.Context, userID string) ([]domain.Character, error) {
	return run(g, "LoadCharacters", MsgLoadCharactersFailed, []domain.Character{}, func() ([]domain.Character, error) {
		rows, err := g.tables.Select(ctx, provider.TableCharacters, provider.Query{
			Filters: []provider.Filter{provider.Eq("user_id", userID)},
			Order:   []provider.Order{{Column: "created_at"}},
		})
		if err != nil {
			return nil, err
		}
		out := make([]domain.Character, 0, len(rows))
		for _, row := range rows {
			character, books := characterFromRow(row)
			if books.Form == domain.LorebooksUnreadable {
				g.logger.Warn("unreadable lorebooks", "character_id", character.ID, "err", books.Err)
			}
			out = append(out, character)
		}
		return out, nil
	})
}

// DeleteCharacter removes one character. Its sessions and messages go with it
// at the store.
func (g *DataGateway) DeleteCharacter(ctx context.Context, characterID string) error {
	return g.exec("DeleteCharacter", MsgDeleteCharacterFailed, func() error {
		return g.tables.Delete(ctx, provider.TableCharacters, provider.Eq("id", characterID))
	})
}

// SaveChatSession creates or overwrites a session of characterID. Messages are
// saved separately.
func (g *DataGateway) SaveChatSession(ctx context.Context, userID string, session domain.ChatSession, characterID string) error {
	return g.exec("SaveChatSession", MsgSaveSessionFailed, func() error {
		if strings.TrimSpace(session.Name) == "" {
			session.Name = "Chat - " + g.now().Format("Jan 2, 2006")
		}
		return g.tables.Upsert(ctx, provider.TableChatSessions, sessionRow(userID, characterID, session), "id")
	})
}

// LoadChatSessions returns the sessions of one character, most recently
// updated first. Messages are left empty.
func (g *DataGateway) LoadChatSessions(ctx context.Context, userID, characterID string) ([]domain.ChatSession, error) {
	return run(g, "LoadChatSessions", MsgLoadSessionsFailed, []domain.ChatSession{}, func() ([]domain.ChatSession, error) {
		rows, err := g.tables.Select(ctx, provider.TableChatSessions, provider.Query{
			Filters: []provider.Filter{
				provider.Eq("user_id", userID),
				provider.Eq("character_id", characterID),
			},
			Order: []provider.Order{{Column: "updated_at"}},
		})
		if err != nil {
			return nil, err
		}
		out := make([]domain.ChatSession, 0, len(rows))
		for _, row := range rows {
			out = append(out, sessionFromRow(row))
		}
		return out, nil
	})
}

func (g *DataGateway) SaveMessage(ctx context.Context, userID, sessionID string, message domain.Message) error {
	return g.exec("SaveMessage", MsgSaveMessageFailed, func() error {
		return g.tables.Upsert(ctx, provider.TableChatMessages, messageRow(userID, sessionID, message), "id")
	})
}

// LoadMessages returns the messages of a session in timestamp order.
func (g *DataGateway) LoadMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	return run(g, "LoadMessages", MsgLoadMessagesFailed, []domain.Message{}, func() ([]domain.Message, error) {
		rows, err := g.tables.Select(ctx, provider.TableChatMessages, provider.Query{
			Filters: []provider.Filter{provider.Eq("session_id", sessionID)},
			Order:   []provider.Order{{Column: "timestamp", Ascending: true}},
		})
		if err != nil {
			return nil, err
		}
		out := make([]domain.Message, 0, len(rows))
		for _, row := range rows {
			message, err := messageFromRow(row)
			if err != nil {
				return nil, err
			}
			out = append(out, message)
		}
		return out, nil
	})
}

func (g *DataGateway) DeleteSession(ctx context.Context, sessionID string) error {
	return g.exec("DeleteSession", MsgDeleteSessionFailed, func() error {
		return g.tables.Delete(ctx, provider.TableChatSessions, provider.Eq("id", sessionID))
	})
}

// SaveSettings stores the user's settings. Global lorebooks are kept out of
// the stored blob.
func (g *DataGateway) SaveSettings(ctx context.Context, userID string, settings domain.AppSettings) error {
	return g.exec("SaveSettings", MsgSaveSettingsFailed, func() error {
		data := map[string]any{}
		maps.Copy(data, settings)
		delete(data, domain.SettingsGlobalLorebooks)
		return g.tables.Upsert(ctx, provider.TableUserSettings, provider.Row{
			"user_id":       userID,
			"settings_data": data,
		}, "user_id")
	})
}

// LoadSettings returns the user's settings, or an empty set when none were
// saved.
func (g *DataGateway) LoadSettings(ctx context.Context, userID string) (domain.AppSettings, error) {
	return run(g, "LoadSettings", MsgLoadSettingsFailed, domain.AppSettings{}, func() (domain.AppSettings, error) {
		rows, err := g.tables.Select(ctx, provider.TableUserSettings, provider.Query{
			Columns: []string{"settings_data"},
			Filters: []provider.Filter{provider.Eq("user_id", userID)},
			Limit:   1,
		})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return domain.AppSettings{}, nil
		}
		return settingsFromValue(rows[0]["settings_data"])
	})
}

// UploadAvatar stores an avatar image for a character and returns the URL to
// put in Character.AvatarURL.
func (g *DataGateway) UploadAvatar(ctx context.Context, userID, characterID, contentType string, r io.Reader, size int64) (string, error) {
	return run(g, "UploadAvatar", MsgUploadAvatarFailed, "", func() (string, error) {
		if g.objects == nil {
			return "", ErrNoObjectStorage
		}
		if userID == "" || characterID == "" {
			return "", errAvatarKey
		}
		return g.objects.UploadObject(ctx, AvatarBucket, userID+"/"+characterID, contentType, r, size)
	})
}

func (g *DataGateway) exec(op, fallback string, fn func() error) error {
	_, err := run(g, op, fallback, struct{}{}, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// run calls fn and converts its failure, or panic, into a gateway error
// paired with empty.
func run[T any](g *DataGateway, op, fallback string, empty T, fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("data gateway panic", "op", op, "panic", r)
			out, err = empty, panicError(op, fallback, r)
		}
	}()
	out, err = fn()
	if err != nil {
		g.logger.Error("data operation failed", "op", op, "err", err)
		return empty, newError(op, fallback, err)
	}
	return out, nil
}
