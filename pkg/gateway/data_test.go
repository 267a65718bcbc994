package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"charchat/pkg/domain"
	"charchat/pkg/provider"
	"charchat/pkg/store"
)

func newDataGateway(t *testing.T, opts ...Option) (*DataGateway, *store.MemoryStore) {
	t.Helper()
	tables := store.NewMemoryStore()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	return NewDataGateway(tables, opts...), tables
}

// seedSession stores a character and one session under it for userID.
func seedSession(t *testing.T, gw *DataGateway, userID, characterID, sessionID string) {
	t.Helper()
	ctx := context.Background()
	if err := gw.SaveCharacter(ctx, userID, sampleCharacter(characterID)); err != nil {
		t.Fatalf("seed character: %v", err)
	}
	if err := gw.SaveChatSession(ctx, userID, domain.ChatSession{ID: sessionID, Name: sessionID}, characterID); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func sampleCharacter(id string) domain.Character {
	return domain.Character{
		ID:           id,
		Name:         "Marlowe",
		Tagline:      "A tired detective",
		Personality:  "dry",
		FirstMessage: "What do you want?",
		Lorebooks: []domain.Lorebook{{
			ID:      "lb-1",
			Name:    "City",
			Enabled: true,
			Entries: []domain.LorebookEntry{
				{ID: "e-1", Keys: []string{"bay", "harbor"}, Content: "Fog every night.", Enabled: true},
				{ID: "e-2", Keys: []string{}, Content: "", Enabled: false},
			},
		}},
	}
}

func TestSaveThenLoadCharacterKeepsLorebooks(t *testing.T) {
	gw, _ := newDataGateway(t)
	ctx := context.Background()
	character := sampleCharacter("c-1")

	if err := gw.SaveCharacter(ctx, "u-1", character); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := gw.LoadCharacters(ctx, "u-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "c-1" {
		t.Fatalf("unexpected characters: %+v", loaded)
	}
	if !reflect.DeepEqual(loaded[0].Lorebooks, character.Lorebooks) {
		t.Fatalf("lorebooks differ:\n got %+v\nwant %+v", loaded[0].Lorebooks, character.Lorebooks)
	}
	if !reflect.DeepEqual(loaded[0], character) {
		t.Fatalf("character differs:\n got %+v\nwant %+v", loaded[0], character)
	}
}

func TestSaveCharacterOverwritesAndIsolatesUsers(t *testing.T) {
	gw, _ := newDataGateway(t)
	ctx := context.Background()

	first := sampleCharacter("c-1")
	if err := gw.SaveCharacter(ctx, "u-1", first); err != nil {
		t.Fatalf("save: %v", err)
	}
	first.Name = "Philip"
	first.Lorebooks = nil
	if err := gw.SaveCharacter(ctx, "u-1", first); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := gw.SaveCharacter(ctx, "u-2", sampleCharacter("c-2")); err != nil {
		t.Fatalf("save other user: %v", err)
	}

	loaded, err := gw.LoadCharacters(ctx, "u-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Name != "Philip" {
		t.Fatalf("unexpected characters: %+v", loaded)
	}
	if loaded[0].Lorebooks == nil || len(loaded[0].Lorebooks) != 0 {
		t.Fatalf("expected empty non-nil lorebooks, got %#v", loaded[0].Lorebooks)
	}
}

func TestLoadCharactersNewestFirst(t *testing.T) {
	gw, _ := newDataGateway(t)
	ctx := context.Background()
	for _, id := range []string{"c-1", "c-2", "c-3"} {
		if err := gw.SaveCharacter(ctx, "u-1", sampleCharacter(id)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	loaded, err := gw.LoadCharacters(ctx, "u-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var ids []string
	for _, c := range loaded {
		ids = append(ids, c.ID)
	}
	if strings.Join(ids, ",") != "c-3,c-2,c-1" {
		t.Fatalf("unexpected order: %v", ids)
	}
}

func TestLoadCharactersToleratesUnreadableLorebooks(t *testing.T) {
	var logs bytes.Buffer
	gw, tables := newDataGateway(t, WithLogger(bufferLogger(&logs)))
	ctx := context.Background()

	if err := tables.Insert(ctx, provider.TableCharacters, provider.Row{
		"id":        "c-bad",
		"user_id":   "u-1",
		"name":      "Broken",
		"lorebooks": "{not json",
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	loaded, err := gw.LoadCharacters(ctx, "u-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Name != "Broken" {
		t.Fatalf("unexpected characters: %+v", loaded)
	}
	if loaded[0].Lorebooks == nil || len(loaded[0].Lorebooks) != 0 {
		t.Fatalf("expected empty lorebooks, got %#v", loaded[0].Lorebooks)
	}
	if !strings.Contains(logs.String(), "unreadable lorebooks") || !strings.Contains(logs.String(), "c-bad") {
		t.Fatalf("expected warning for c-bad, got %s", logs.String())
	}
}

func TestCharacterRoundTripKeepsUnmodeledLorebookFields(t *testing.T) {
	gw, tables := newDataGateway(t)
	ctx := context.Background()

	stored := `[{"id":"lb-1","name":"City","description":"","enabled":true,"scanDepth":4,` +
		`"entries":[{"id":"e-1","keys":["bay"],"content":"Fog","enabled":true,"priority":10,"secondaryKeys":["x"]}]}]`
	if err := tables.Insert(ctx, provider.TableCharacters, provider.Row{
		"id":        "c-1",
		"user_id":   "u-1",
		"name":      "Marlowe",
		"lorebooks": stored,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	loaded, err := gw.LoadCharacters(ctx, "u-1")
	if err != nil || len(loaded) != 1 {
		t.Fatalf("load: %v %+v", err, loaded)
	}
	if err := gw.SaveCharacter(ctx, "u-1", loaded[0]); err != nil {
		t.Fatalf("save: %v", err)
	}

	rows, err := tables.Select(ctx, provider.TableCharacters, provider.Query{Filters: []provider.Filter{provider.Eq("id", "c-1")}})
	if err != nil || len(rows) != 1 {
		t.Fatalf("select: %v %+v", err, rows)
	}
	text, _ := rows[0]["lorebooks"].(string)
	for _, field := range []string{`"scanDepth":4`, `"priority":10`, `"secondaryKeys":["x"]`} {
		if !strings.Contains(text, field) {
			t.Fatalf("expected %s kept, stored %s", field, text)
		}
	}
}

func TestDeleteCharacterCascadesAtStore(t *testing.T) {
	gw, _ := newDataGateway(t)
	ctx := context.Background()

	if err := gw.SaveCharacter(ctx, "u-1", sampleCharacter("c-1")); err != nil {
		t.Fatalf("save character: %v", err)
	}
	if err := gw.SaveChatSession(ctx, "u-1", domain.ChatSession{ID: "s-1", Name: "first"}, "c-1"); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := gw.SaveMessage(ctx, "u-1", "s-1", domain.Message{ID: "m-1", Role: domain.RoleUser, Content: "hi", Timestamp: 1}); err != nil {
		t.Fatalf("save message: %v", err)
	}

	if err := gw.DeleteCharacter(ctx, "c-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	characters, _ := gw.LoadCharacters(ctx, "u-1")
	sessions, _ := gw.LoadChatSessions(ctx, "u-1", "c-1")
	messages, _ := gw.LoadMessages(ctx, "s-1")
	if len(characters) != 0 || len(sessions) != 0 || len(messages) != 0 {
		t.Fatalf("expected cascade, got %d characters %d sessions %d messages", len(characters), len(sessions), len(messages))
	}
}

func TestSaveChatSessionDefaultsName(t *testing.T) {
	clock := func() time.Time { return time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC) }
	gw, _ := newDataGateway(t, WithClock(clock))
	ctx := context.Background()

	if err := gw.SaveCharacter(ctx, "u-1", sampleCharacter("c-1")); err != nil {
		t.Fatalf("save character: %v", err)
	}
	if err := gw.SaveChatSession(ctx, "u-1", domain.ChatSession{ID: "s-1", Summary: "so far"}, "c-1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	sessions, err := gw.LoadChatSessions(ctx, "u-1", "c-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(sessions))
	}
	got := sessions[0]
	if got.Name != "Chat - Mar 5, 2024" || got.Summary != "so far" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.Messages == nil || len(got.Messages) != 0 {
		t.Fatalf("expected empty messages placeholder, got %#v", got.Messages)
	}
}

func TestLoadChatSessionsFiltersByCharacter(t *testing.T) {
	gw, _ := newDataGateway(t)
	ctx := context.Background()

	saves := []struct {
		user, character, id string
	}{
		{"u-1", "c-1", "s-1"},
		{"u-1", "c-2", "s-2"},
		{"u-2", "c-1", "s-3"},
		{"u-1", "c-1", "s-4"},
	}
	for _, id := range []string{"c-1", "c-2"} {
		if err := gw.SaveCharacter(ctx, "u-1", sampleCharacter(id)); err != nil {
			t.Fatalf("save character: %v", err)
		}
	}
	for _, s := range saves {
		session := domain.ChatSession{ID: s.id, Name: s.id, LastSummarizedMessageID: "m-" + s.id}
		if err := gw.SaveChatSession(ctx, s.user, session, s.character); err != nil {
			t.Fatalf("save %s: %v", s.id, err)
		}
	}
	sessions, err := gw.LoadChatSessions(ctx, "u-1", "c-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "s-4" || sessions[1].ID != "s-1" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
	if sessions[0].LastSummarizedMessageID != "m-s-4" {
		t.Fatalf("unexpected summary marker: %q", sessions[0].LastSummarizedMessageID)
	}
}

func TestLoadMessagesOrdersByTimestamp(t *testing.T) {
	gw, _ := newDataGateway(t)
	ctx := context.Background()
	seedSession(t, gw, "u-1", "c-1", "s-1")
	if err := gw.SaveChatSession(ctx, "u-1", domain.ChatSession{ID: "s-other", Name: "other"}, "c-1"); err != nil {
		t.Fatalf("save other session: %v", err)
	}

	stamps := []int64{1700000000300, 1700000000100, 1700000000300, 1700000000050, 1700000000200}
	for i, ts := range stamps {
		message := domain.Message{
			ID:        "m-" + string(rune('a'+i)),
			Role:      domain.RoleModel,
			Content:   "line",
			Timestamp: ts,
		}
		if err := gw.SaveMessage(ctx, "u-1", "s-1", message); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := gw.SaveMessage(ctx, "u-1", "s-other", domain.Message{ID: "m-z", Role: domain.RoleUser, Timestamp: 1}); err != nil {
		t.Fatalf("save other: %v", err)
	}

	messages, err := gw.LoadMessages(ctx, "s-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(messages) != len(stamps) {
		t.Fatalf("expected %d messages, got %d", len(stamps), len(messages))
	}
	for i := 1; i < len(messages); i++ {
		if messages[i].Timestamp < messages[i-1].Timestamp {
			t.Fatalf("timestamps decrease at %d: %v", i, messages)
		}
	}
	if messages[0].Role != domain.RoleModel {
		t.Fatalf("unexpected role: %q", messages[0].Role)
	}
}

func TestSaveMessageOverwritesByID(t *testing.T) {
	gw, _ := newDataGateway(t)
	ctx := context.Background()
	seedSession(t, gw, "u-1", "c-1", "s-1")

	message := domain.Message{ID: "m-1", Role: domain.RoleModel, Content: "draft", Timestamp: 10}
	if err := gw.SaveMessage(ctx, "u-1", "s-1", message); err != nil {
		t.Fatalf("save: %v", err)
	}
	message.Content = "final"
	if err := gw.SaveMessage(ctx, "u-1", "s-1", message); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	messages, err := gw.LoadMessages(ctx, "s-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "final" {
		t.Fatalf("unexpected messages: %+v", messages)
	}
}

func TestDeleteSessionRemovesMessages(t *testing.T) {
	gw, _ := newDataGateway(t)
	ctx := context.Background()
	seedSession(t, gw, "u-1", "c-1", "s-1")
	if err := gw.SaveMessage(ctx, "u-1", "s-1", domain.Message{ID: "m-1", Role: domain.RoleUser, Timestamp: 1}); err != nil {
		t.Fatalf("save message: %v", err)
	}
	if err := gw.DeleteSession(ctx, "s-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	messages, err := gw.LoadMessages(ctx, "s-1")
	if err != nil || len(messages) != 0 {
		t.Fatalf("expected no messages, got %v (%v)", messages, err)
	}
}

func TestSaveSettingsDropsGlobalLorebooks(t *testing.T) {
	gw, tables := newDataGateway(t)
	ctx := context.Background()

	settings := domain.AppSettings{
		"theme":                        "dark",
		"temperature":                  0.7,
		domain.SettingsGlobalLorebooks: []any{"lb-1"},
	}
	if err := gw.SaveSettings(ctx, "u-1", settings); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := settings[domain.SettingsGlobalLorebooks]; !ok {
		t.Fatalf("caller's settings were mutated")
	}

	rows, err := tables.Select(ctx, provider.TableUserSettings, provider.Query{
		Filters: []provider.Filter{provider.Eq("user_id", "u-1")},
	})
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected one settings row, got %v (%v)", rows, err)
	}
	stored := rows[0]["settings_data"].(map[string]any)
	if _, ok := stored[domain.SettingsGlobalLorebooks]; ok {
		t.Fatalf("global lorebooks persisted: %v", stored)
	}

	loaded, err := gw.LoadSettings(ctx, "u-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded["theme"] != "dark" || loaded["temperature"] != 0.7 {
		t.Fatalf("unexpected settings: %v", loaded)
	}
	if _, ok := loaded[domain.SettingsGlobalLorebooks]; ok {
		t.Fatalf("global lorebooks loaded back: %v", loaded)
	}
}

func TestLoadSettingsWithoutRow(t *testing.T) {
	gw, _ := newDataGateway(t)
	settings, err := gw.LoadSettings(context.Background(), "u-nobody")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings == nil || len(settings) != 0 {
		t.Fatalf("expected empty settings, got %#v", settings)
	}
}

func TestSettingsFromEncodedValue(t *testing.T) {
	settings, err := settingsFromValue(`{"theme":"light"}`)
	if err != nil || settings["theme"] != "light" {
		t.Fatalf("unexpected settings %v (%v)", settings, err)
	}
	settings, err = settingsFromValue([]byte("null"))
	if err != nil || settings == nil || len(settings) != 0 {
		t.Fatalf("expected empty settings for null, got %#v (%v)", settings, err)
	}
}

type recordingUploader struct {
	bucket, key, contentType string
	body                     []byte
	err                      error
}

func (u *recordingUploader) UploadObject(_ context.Context, bucket, key, contentType string, r io.Reader, _ int64) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	u.bucket, u.key, u.contentType, u.body = bucket, key, contentType, body
	return "http://objects.test/" + bucket + "/" + key, nil
}

func TestUploadAvatar(t *testing.T) {
	uploader := &recordingUploader{}
	gw, _ := newDataGateway(t, WithObjectUploader(uploader))

	url, err := gw.UploadAvatar(context.Background(), "u-1", "c-1", "image/png", strings.NewReader("png"), 3)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if url != "http://objects.test/avatars/u-1/c-1" {
		t.Fatalf("unexpected url %q", url)
	}
	if uploader.bucket != AvatarBucket || uploader.key != "u-1/c-1" || string(uploader.body) != "png" {
		t.Fatalf("unexpected upload: %+v", uploader)
	}

	uploader.err = &provider.Error{Status: 403, Message: "new row violates row-level security policy"}
	if _, err := gw.UploadAvatar(context.Background(), "u-1", "c-1", "image/png", strings.NewReader("png"), 3); err == nil || err.Error() != "new row violates row-level security policy" {
		t.Fatalf("expected provider message, got %v", err)
	}
}

func TestUploadAvatarWithoutObjectStorage(t *testing.T) {
	gw, _ := newDataGateway(t)
	url, err := gw.UploadAvatar(context.Background(), "u-1", "c-1", "image/png", strings.NewReader("png"), 3)
	if url != "" || !errors.Is(err, ErrNoObjectStorage) {
		t.Fatalf("expected missing storage error, got %q %v", url, err)
	}
	if err.Error() != MsgUploadAvatarFailed {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestDataGatewayFailuresReturnEmptyValues(t *testing.T) {
	for _, panics := range []bool{false, true} {
		tables := &failingTables{err: errNetwork, panic: panics}
		gw := NewDataGateway(tables, WithLogger(discardLogger()))
		ctx := context.Background()

		checkErr := func(name string, err error, message string) {
			t.Helper()
			var gwErr *Error
			if !errors.As(err, &gwErr) {
				t.Fatalf("%s (panic=%v): expected gateway error, got %v", name, panics, err)
			}
			if gwErr.Message != message {
				t.Fatalf("%s (panic=%v): expected %q, got %q", name, panics, message, gwErr.Message)
			}
		}

		checkErr("SaveCharacter", gw.SaveCharacter(ctx, "u-1", sampleCharacter("c-1")), MsgSaveCharacterFailed)
		characters, err := gw.LoadCharacters(ctx, "u-1")
		checkErr("LoadCharacters", err, MsgLoadCharactersFailed)
		if characters == nil || len(characters) != 0 {
			t.Fatalf("expected empty characters, got %#v", characters)
		}
		checkErr("DeleteCharacter", gw.DeleteCharacter(ctx, "c-1"), MsgDeleteCharacterFailed)
		checkErr("SaveChatSession", gw.SaveChatSession(ctx, "u-1", domain.ChatSession{ID: "s-1"}, "c-1"), MsgSaveSessionFailed)
		sessions, err := gw.LoadChatSessions(ctx, "u-1", "c-1")
		checkErr("LoadChatSessions", err, MsgLoadSessionsFailed)
		if sessions == nil || len(sessions) != 0 {
			t.Fatalf("expected empty sessions, got %#v", sessions)
		}
		checkErr("SaveMessage", gw.SaveMessage(ctx, "u-1", "s-1", domain.Message{ID: "m-1"}), MsgSaveMessageFailed)
		messages, err := gw.LoadMessages(ctx, "s-1")
		checkErr("LoadMessages", err, MsgLoadMessagesFailed)
		if messages == nil || len(messages) != 0 {
			t.Fatalf("expected empty messages, got %#v", messages)
		}
		checkErr("DeleteSession", gw.DeleteSession(ctx, "s-1"), MsgDeleteSessionFailed)
		checkErr("SaveSettings", gw.SaveSettings(ctx, "u-1", domain.AppSettings{"a": 1}), MsgSaveSettingsFailed)
		settings, err := gw.LoadSettings(ctx, "u-1")
		checkErr("LoadSettings", err, MsgLoadSettingsFailed)
		if settings == nil || len(settings) != 0 {
			t.Fatalf("expected empty settings, got %#v", settings)
		}
	}
}

func TestDataGatewaySurfacesProviderMessage(t *testing.T) {
	tables := &failingTables{err: &provider.Error{Status: 403, Message: "new row violates row-level security policy", Code: provider.CodeRowLevelSecurity}}
	gw := NewDataGateway(tables, WithLogger(discardLogger()))

	err := gw.SaveCharacter(context.Background(), "u-2", sampleCharacter("c-1"))
	if err == nil || err.Error() != "new row violates row-level security policy" {
		t.Fatalf("expected provider message, got %v", err)
	}
	var pErr *provider.Error
	if !errors.As(err, &pErr) || pErr.Status != 403 {
		t.Fatalf("expected provider error cause, got %v", err)
	}
}
