package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"charchat/pkg/gateway"
	"charchat/pkg/provider"
)

type stubProvider struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	handler  http.HandlerFunc
}

func (s *stubProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.requests = append(s.requests, r)
	s.bodies = append(s.bodies, string(body))
	s.mu.Unlock()
	r.Body = io.NopCloser(strings.NewReader(string(body)))
	s.handler(w, r)
}

func (s *stubProvider) last() (*http.Request, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1], s.bodies[len(s.bodies)-1]
}

func newStubClient(t *testing.T, handler http.HandlerFunc, opts Options) (*Client, *stubProvider) {
	t.Helper()
	stub := &stubProvider{handler: handler}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL
	c, err := NewClient(opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, stub
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sessionBody(access, refresh string, expiresAt time.Time) map[string]any {
	return map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_at":    expiresAt.Unix(),
		"refresh_token": refresh,
		"user":          map[string]string{"id": "u1", "email": "a@b.com"},
	}
}

func TestSignInHoldsSessionAndEmits(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	c, stub := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sessionBody("access-1", "refresh-1", expires))
	}, Options{APIKey: "anon"})

	var events []provider.AuthEvent
	sub := c.OnAuthStateChange(func(e provider.AuthEvent, s *provider.Session) {
		events = append(events, e)
	})
	defer sub.Unsubscribe()

	session, err := c.SignInWithPassword(context.Background(), provider.Credentials{Email: "a@b.com", Password: "secret"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if session.User.ID != "u1" || session.AccessToken != "access-1" {
		t.Fatalf("unexpected session: %+v", session)
	}
	req, body := stub.last()
	if req.URL.Path != "/auth/v1/token" || req.URL.Query().Get("grant_type") != "password" {
		t.Fatalf("unexpected request: %s", req.URL)
	}
	if req.Header.Get("apikey") != "anon" {
		t.Fatalf("expected apikey header")
	}
	if !strings.Contains(body, `"password":"secret"`) {
		t.Fatalf("unexpected body: %s", body)
	}
	got, err := c.GetSession(context.Background())
	if err != nil || got == nil || got.AccessToken != "access-1" {
		t.Fatalf("get session: %+v err=%v", got, err)
	}
	if len(events) != 1 || events[0] != provider.EventSignedIn {
		t.Fatalf("unexpected events: %v", events)
	}
}

func TestProviderErrorsDecodeToProviderError(t *testing.T) {
	c, _ := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid login credentials", "code": provider.CodeInvalidGrant})
	}, Options{})

	_, err := c.SignInWithPassword(context.Background(), provider.Credentials{Email: "a@b.com", Password: "nope"})
	var apiErr *provider.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected provider error, got %T %v", err, err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Message != "Invalid login credentials" || apiErr.Code != provider.CodeInvalidGrant {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestGetSessionRefreshesExpiredSession(t *testing.T) {
	storage := NewMemorySessionStorage()
	_ = storage.Save(&provider.Session{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Minute),
		User:         provider.User{ID: "u1"},
	})
	c, stub := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sessionBody("fresh", "refresh-2", time.Now().Add(time.Hour)))
	}, Options{Storage: storage})

	var events []provider.AuthEvent
	c.OnAuthStateChange(func(e provider.AuthEvent, _ *provider.Session) { events = append(events, e) })

	session, err := c.GetSession(context.Background())
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.AccessToken != "fresh" {
		t.Fatalf("expected refreshed token, got %q", session.AccessToken)
	}
	req, body := stub.last()
	if req.URL.Query().Get("grant_type") != "refresh_token" || !strings.Contains(body, "refresh-1") {
		t.Fatalf("unexpected refresh request %s %s", req.URL, body)
	}
	stored, _ := storage.Load()
	if stored == nil || stored.RefreshToken != "refresh-2" {
		t.Fatalf("expected rotated session persisted, got %+v", stored)
	}
	if len(events) != 1 || events[0] != provider.EventTokenRefreshed {
		t.Fatalf("unexpected events: %v", events)
	}
}

func TestRejectedRefreshClearsSession(t *testing.T) {
	storage := NewMemorySessionStorage()
	_ = storage.Save(&provider.Session{AccessToken: "stale", RefreshToken: "bad", ExpiresAt: time.Now().Add(-time.Minute)})
	c, _ := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid Refresh Token"})
	}, Options{Storage: storage})

	var events []provider.AuthEvent
	c.OnAuthStateChange(func(e provider.AuthEvent, _ *provider.Session) { events = append(events, e) })

	if _, err := c.GetSession(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	session, err := c.GetSession(context.Background())
	if err != nil || session != nil {
		t.Fatalf("expected cleared session, got %+v err=%v", session, err)
	}
	if stored, _ := storage.Load(); stored != nil {
		t.Fatalf("expected storage cleared")
	}
	if len(events) != 1 || events[0] != provider.EventSignedOut {
		t.Fatalf("unexpected events: %v", events)
	}
}

func TestSignOutClearsLocalStateWhenServerFails(t *testing.T) {
	storage := NewMemorySessionStorage()
	_ = storage.Save(&provider.Session{AccessToken: "access", ExpiresAt: time.Now().Add(time.Hour)})
	c, stub := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "boom"})
	}, Options{Storage: storage})

	if err := c.SignOut(context.Background()); err == nil {
		t.Fatalf("expected server error to be reported")
	}
	req, _ := stub.last()
	if req.Header.Get("Authorization") != "Bearer access" {
		t.Fatalf("expected bearer on logout, got %q", req.Header.Get("Authorization"))
	}
	if session, _ := c.GetSession(context.Background()); session != nil {
		t.Fatalf("expected no session after sign out")
	}
}

func TestSelectEncodesQuery(t *testing.T) {
	storage := NewMemorySessionStorage()
	_ = storage.Save(&provider.Session{AccessToken: "access", ExpiresAt: time.Now().Add(time.Hour)})
	c, stub := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{"id": "m1", "timestamp": 1700000000123}})
	}, Options{Storage: storage})

	rows, err := c.Select(context.Background(), provider.TableChatMessages, provider.Query{
		Filters: []provider.Filter{provider.Eq("session_id", "s 1")},
		Order:   []provider.Order{{Column: "timestamp", Ascending: true}},
		Limit:   5,
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	req, _ := stub.last()
	q := req.URL.Query()
	if req.URL.Path != "/rest/v1/chat_messages" || q.Get("session_id") != "eq.s 1" || q.Get("order") != "timestamp.asc" || q.Get("limit") != "5" || q.Get("select") != "*" {
		t.Fatalf("unexpected request: %s", req.URL)
	}
	if req.Header.Get("Authorization") != "Bearer access" {
		t.Fatalf("expected session bearer")
	}
	if ts, ok := rows[0]["timestamp"].(json.Number); !ok || ts.String() != "1700000000123" {
		t.Fatalf("expected exact numeric timestamp, got %#v", rows[0]["timestamp"])
	}
}

func TestUpsertSendsMergePreference(t *testing.T) {
	c, stub := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}, Options{APIKey: "anon"})

	if err := c.Upsert(context.Background(), provider.TableCharacters, provider.Row{"id": "c1"}, "id"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	req, body := stub.last()
	if req.Method != http.MethodPost || req.URL.Query().Get("on_conflict") != "id" {
		t.Fatalf("unexpected request: %s %s", req.Method, req.URL)
	}
	if !strings.Contains(req.Header.Get("Prefer"), "resolution=merge-duplicates") {
		t.Fatalf("missing merge preference: %q", req.Header.Get("Prefer"))
	}
	if req.Header.Get("Authorization") != "Bearer anon" {
		t.Fatalf("expected api key bearer without session, got %q", req.Header.Get("Authorization"))
	}
	if strings.TrimSpace(body) != `{"id":"c1"}` {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestNetworkFailureIsNotProviderError(t *testing.T) {
	c, err := NewClient(Options{BaseURL: "http://127.0.0.1:1", HTTPClient: &http.Client{Timeout: time.Second}})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.Select(context.Background(), provider.TableCharacters, provider.Query{})
	var apiErr *provider.Error
	if err == nil || errors.As(err, &apiErr) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestUploadObject(t *testing.T) {
	c, stub := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"key": "avatars/u1/c1", "url": "http://p/storage/v1/object/public/avatars/u1/c1"})
	}, Options{})

	u, err := c.UploadObject(context.Background(), "avatars", "u1/c1", "image/png", strings.NewReader("png"), 3)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if u != "http://p/storage/v1/object/public/avatars/u1/c1" {
		t.Fatalf("unexpected url %q", u)
	}
	req, body := stub.last()
	if req.URL.Path != "/storage/v1/object/avatars/u1/c1" || req.Header.Get("Content-Type") != "image/png" || body != "png" {
		t.Fatalf("unexpected upload request %s %q %q", req.URL.Path, req.Header.Get("Content-Type"), body)
	}
}

func TestFileSessionStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	s := NewFileSessionStorage(path)
	if got, err := s.Load(); err != nil || got != nil {
		t.Fatalf("expected empty storage, got %+v err=%v", got, err)
	}
	want := &provider.Session{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Unix(1700000000, 0).UTC(), User: provider.User{ID: "u1"}}
	if err := s.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
	got, err := s.Load()
	if err != nil || got == nil || got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken ||
		!got.ExpiresAt.Equal(want.ExpiresAt) || got.User != want.User {
		t.Fatalf("load: %+v err=%v", got, err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got, _ := s.Load(); got != nil {
		t.Fatalf("expected cleared storage")
	}
}

func TestNonProviderErrorBodyIsNotShownToUsers(t *testing.T) {
	c, _ := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html><body>502 Bad Gateway</body></html>")
	}, Options{})

	_, err := c.Select(context.Background(), provider.TableCharacters, provider.Query{})
	if err == nil {
		t.Fatalf("expected error")
	}
	var apiErr *provider.Error
	if errors.As(err, &apiErr) {
		t.Fatalf("expected transport error, got provider error %+v", apiErr)
	}

	_, err = gateway.NewDataGateway(c).LoadCharacters(context.Background(), "u-1")
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) || gwErr.Message != gateway.MsgLoadCharactersFailed {
		t.Fatalf("expected generic gateway message, got %v", err)
	}
}
