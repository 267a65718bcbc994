package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"charchat/pkg/provider"
)

func TestMemoryStoreUpsertKeepsCreatedAtAndOverwritesSuppliedColumns(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	row := provider.Row{"id": "c1", "user_id": "u1", "name": "Alice", "tagline": "hi"}
	if err := s.Upsert(ctx, provider.TableCharacters, row, "id"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	s.now = func() time.Time { return base.Add(time.Hour) }
	if err := s.Upsert(ctx, provider.TableCharacters, provider.Row{"id": "c1", "user_id": "u1", "name": "Alicia"}, "id"); err != nil {
		t.Fatalf("update: %v", err)
	}

	rows, err := s.Select(ctx, provider.TableCharacters, provider.Query{Filters: []provider.Filter{provider.Eq("id", "c1")}})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	got := rows[0]
	if got["name"] != "Alicia" || got["tagline"] != "hi" {
		t.Fatalf("unexpected row: %v", got)
	}
	if got["created_at"] != base {
		t.Fatalf("created_at changed: %v", got["created_at"])
	}
	if got["updated_at"] != base.Add(time.Hour) {
		t.Fatalf("updated_at not bumped: %v", got["updated_at"])
	}
}

func TestMemoryStoreInsertDuplicateKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	row := provider.Row{"id": "u1", "email": "a@b.com"}
	if err := s.Insert(ctx, provider.TableUserProfiles, row); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Insert(ctx, provider.TableUserProfiles, row); !errors.Is(err, provider.ErrDuplicateKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}
}

func TestMemoryStoreSelectOrdersFiltersAndLimits(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed := []struct {
		table string
		row   provider.Row
	}{
		{provider.TableCharacters, provider.Row{"id": "c1", "user_id": "u1"}},
		{provider.TableChatSessions, provider.Row{"id": "s1", "user_id": "u1", "character_id": "c1"}},
		{provider.TableChatSessions, provider.Row{"id": "s2", "user_id": "u1", "character_id": "c1"}},
	}
	for _, r := range seed {
		if err := s.Insert(ctx, r.table, r.row); err != nil {
			t.Fatalf("seed %s: %v", r.table, err)
		}
	}
	for i, ts := range []int64{30, 10, 20} {
		row := provider.Row{"id": string(rune('a' + i)), "session_id": "s1", "user_id": "u1", "role": "user", "content": "m", "timestamp": ts}
		if err := s.Insert(ctx, provider.TableChatMessages, row); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := s.Insert(ctx, provider.TableChatMessages, provider.Row{"id": "z", "session_id": "s2", "user_id": "u1", "role": "user", "timestamp": int64(1)}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rows, err := s.Select(ctx, provider.TableChatMessages, provider.Query{
		Columns: []string{"id", "timestamp"},
		Filters: []provider.Filter{provider.Eq("session_id", "s1")},
		Order:   []provider.Order{{Column: "timestamp", Ascending: true}},
		Limit:   2,
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 2 || rows[0]["id"] != "b" || rows[1]["id"] != "c" {
		t.Fatalf("unexpected rows: %v", rows)
	}
	if _, ok := rows[0]["content"]; ok {
		t.Fatalf("expected projection to drop content: %v", rows[0])
	}
}

func TestMemoryStoreDescendingTiesNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	for _, id := range []string{"first", "second"} {
		if err := s.Upsert(ctx, provider.TableCharacters, provider.Row{"id": id, "user_id": "u1"}, "id"); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	rows, err := s.Select(ctx, provider.TableCharacters, provider.Query{
		Order: []provider.Order{{Column: "created_at", Ascending: false}},
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if rows[0]["id"] != "second" || rows[1]["id"] != "first" {
		t.Fatalf("unexpected order: %v", rows)
	}
}

func TestMemoryStoreDeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	mustInsert := func(table string, row provider.Row) {
		t.Helper()
		if err := s.Insert(ctx, table, row); err != nil {
			t.Fatalf("insert %s: %v", table, err)
		}
	}
	mustInsert(provider.TableCharacters, provider.Row{"id": "c1", "user_id": "u1"})
	mustInsert(provider.TableCharacters, provider.Row{"id": "c2", "user_id": "u1"})
	mustInsert(provider.TableChatSessions, provider.Row{"id": "s1", "user_id": "u1", "character_id": "c1"})
	mustInsert(provider.TableChatSessions, provider.Row{"id": "s2", "user_id": "u1", "character_id": "c2"})
	mustInsert(provider.TableChatMessages, provider.Row{"id": "m1", "session_id": "s1", "user_id": "u1", "role": "user"})
	mustInsert(provider.TableChatMessages, provider.Row{"id": "m2", "session_id": "s2", "user_id": "u1", "role": "user"})

	if err := s.Delete(ctx, provider.TableCharacters, provider.Eq("id", "c1")); err != nil {
		t.Fatalf("delete: %v", err)
	}

	sessions, _ := s.Select(ctx, provider.TableChatSessions, provider.Query{})
	messages, _ := s.Select(ctx, provider.TableChatMessages, provider.Query{})
	if len(sessions) != 1 || sessions[0]["id"] != "s2" {
		t.Fatalf("unexpected sessions: %v", sessions)
	}
	if len(messages) != 1 || messages[0]["id"] != "m2" {
		t.Fatalf("unexpected messages: %v", messages)
	}
}

func TestMemoryStoreRejectsUnknownTableAndColumn(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.Select(ctx, "secrets", provider.Query{}); !errors.Is(err, provider.ErrUnknownTable) {
		t.Fatalf("expected unknown table, got %v", err)
	}
	if err := s.Insert(ctx, provider.TableUserProfiles, provider.Row{"id": "u1", "nickname": "x"}); err == nil {
		t.Fatalf("expected unknown column to fail")
	}
	if err := s.Delete(ctx, provider.TableUserProfiles); err == nil {
		t.Fatalf("expected unfiltered delete to fail")
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	settings := map[string]any{"theme": "dark"}
	if err := s.Upsert(ctx, provider.TableUserSettings, provider.Row{"user_id": "u1", "settings_data": settings}, "user_id"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	settings["theme"] = "light"

	rows, err := s.Select(ctx, provider.TableUserSettings, provider.Query{Filters: []provider.Filter{provider.Eq("user_id", "u1")}})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	data := rows[0]["settings_data"].(map[string]any)
	if data["theme"] != "dark" {
		t.Fatalf("store aliased caller map: %v", data)
	}
	data["theme"] = "blue"
	rows, _ = s.Select(ctx, provider.TableUserSettings, provider.Query{})
	if rows[0]["settings_data"].(map[string]any)["theme"] != "dark" {
		t.Fatalf("store aliased returned map")
	}
}

func TestMemoryStoreAccounts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateAccount(ctx, Account{ID: "u1", Email: " A@B.com ", PasswordHash: "h"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateAccount(ctx, Account{ID: "u2", Email: "a@b.com"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected email taken, got %v", err)
	}
	account, ok, err := s.GetAccountByEmail(ctx, "a@b.COM")
	if err != nil || !ok || account.ID != "u1" || account.Email != "a@b.com" {
		t.Fatalf("lookup by email: %+v ok=%v err=%v", account, ok, err)
	}
	if _, ok, _ := s.GetAccountByID(ctx, "missing"); ok {
		t.Fatalf("expected missing account")
	}
}

func TestMemoryStoreRequiresParentRows(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Insert(ctx, provider.TableCharacters, provider.Row{"id": "c1", "user_id": "u1"}); err != nil {
		t.Fatalf("insert character: %v", err)
	}

	orphan := provider.Row{"id": "s1", "user_id": "u1", "character_id": "missing"}
	if err := s.Insert(ctx, provider.TableChatSessions, orphan); !errors.Is(err, provider.ErrForeignKey) {
		t.Fatalf("insert: expected foreign key error, got %v", err)
	}
	if err := s.Upsert(ctx, provider.TableChatSessions, orphan, "id"); !errors.Is(err, provider.ErrForeignKey) {
		t.Fatalf("upsert: expected foreign key error, got %v", err)
	}
	if err := s.Insert(ctx, provider.TableChatMessages, provider.Row{"id": "m1", "user_id": "u1", "role": "user"}); !errors.Is(err, provider.ErrForeignKey) {
		t.Fatalf("expected foreign key error without session_id, got %v", err)
	}

	if err := s.Insert(ctx, provider.TableChatSessions, provider.Row{"id": "s1", "user_id": "u1", "character_id": "c1"}); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	// Updates may leave the parent column out.
	if err := s.Upsert(ctx, provider.TableChatSessions, provider.Row{"id": "s1", "user_id": "u1", "name": "renamed"}, "id"); err != nil {
		t.Fatalf("partial upsert: %v", err)
	}
	if err := s.Upsert(ctx, provider.TableChatSessions, provider.Row{"id": "s1", "user_id": "u1", "character_id": "gone"}, "id"); !errors.Is(err, provider.ErrForeignKey) {
		t.Fatalf("expected foreign key error on repoint, got %v", err)
	}
	rows, _ := s.Select(ctx, provider.TableChatSessions, provider.Query{})
	if len(rows) != 1 || rows[0]["character_id"] != "c1" || rows[0]["name"] != "renamed" {
		t.Fatalf("unexpected sessions: %v", rows)
	}
}
