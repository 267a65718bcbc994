package store

import (
	"context"
	"errors"
	"time"

	"charchat/pkg/provider"
)

// ErrEmailTaken is returned when an account already uses the email.
var ErrEmailTaken = errors.New("email already registered")

// Account is a provider login record.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccountStore persists provider accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, account Account) error
	GetAccountByEmail(ctx context.Context, email string) (Account, bool, error)
	GetAccountByID(ctx context.Context, id string) (Account, bool, error)
}

// Store defines persistence for accounts and application tables.
type Store interface {
	provider.TableStore
	AccountStore
}

// SessionStore issues and validates access tokens.
type SessionStore interface {
	NewSession(userID, email string) (token string, expiresAt time.Time, err error)
	GetUserByToken(token string) (Claims, bool, error)
	DeleteSession(token string) error
}

// Claims are the verified contents of an access token.
type Claims struct {
	UserID   string
	Email    string
	IssuedAt time.Time
}

// UserSessionRevoker is an optional capability that revokes all sessions
// issued for a user since a cutoff time.
type UserSessionRevoker interface {
	RevokeUserSessions(userID string, since time.Time) error
}

// UserRefreshTokenRevoker is an optional capability that revokes all refresh
// tokens for a user.
type UserRefreshTokenRevoker interface {
	RevokeUserRefreshTokens(userID string) error
}
