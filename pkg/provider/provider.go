// Package provider describes the capabilities the application consumes from
// the hosted identity and table provider.
package provider

import (
	"context"
	"time"
)

// User is the identity record returned by the provider.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is an authenticated provider session.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Expired reports whether the access token is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// AuthListener receives session changes. session is nil after sign-out.
type AuthListener func(event AuthEvent, session *Session)

// Subscription releases a registered listener. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// IdentityProvider is the consumed identity capability set.
type IdentityProvider interface {
	// SignUp creates an account. The session is nil when the provider
	// requires confirmation before issuing one.
	SignUp(ctx context.Context, creds Credentials) (*User, *Session, error)
	SignInWithPassword(ctx context.Context, creds Credentials) (*Session, error)
	SignOut(ctx context.Context) error
	// GetSession returns the current session or nil when signed out.
	GetSession(ctx context.Context) (*Session, error)
	OnAuthStateChange(listener AuthListener) Subscription
}

// Row is one table row keyed by column name.
type Row map[string]any

// Filter is an equality condition on one column.
type Filter struct {
	Column string
	Value  any
}

// Eq builds an equality filter.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Value: value}
}

type Order struct {
	Column    string
	Ascending bool
}

// Query selects rows. Empty Columns selects every column; Limit <= 0 means
// no limit.
type Query struct {
	Columns []string
	Filters []Filter
	Order   []Order
	Limit   int
}

// TableStore is the consumed table capability set.
type TableStore interface {
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) error
	// Upsert inserts row or overwrites the row whose onConflict column matches.
	Upsert(ctx context.Context, table string, row Row, onConflict string) error
	Delete(ctx context.Context, table string, filters ...Filter) error
}

// Table names.
const (
	TableUserProfiles = "user_profiles"
	TableUserSettings = "user_settings"
	TableCharacters   = "characters"
	TableChatSessions = "chat_sessions"
	TableChatMessages = "chat_messages"
)
