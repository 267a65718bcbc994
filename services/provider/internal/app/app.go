package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"charchat/internal/util"
	"charchat/pkg/auth"
	"charchat/pkg/provider"
	"charchat/pkg/storage"
	"charchat/pkg/store"
)

const redisPrefix = "charchat:provider"

// Config holds runtime configuration for the core application.
type Config struct {
	Store store.Store
	// Redis backs token revocation and refresh tokens. Nil keeps them in
	// memory.
	Redis          *redis.Client
	JWTSecret      string
	JWTIssuer      string
	JWTLeeway      time.Duration
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	Objects        storage.ObjectStore
	Buckets        []string
	PublicURL      string
	MaxObjectBytes int64
	Sessions       store.SessionStore
	RefreshTokens  store.RefreshTokenStore
	Now            func() time.Time
}

// App is the provider core: accounts, sessions, row-level secured tables and
// object storage.
type App struct {
	store          store.Store
	sessions       store.SessionStore
	refreshTokens  store.RefreshTokenStore
	refreshTTL     time.Duration
	objects        storage.ObjectStore
	buckets        map[string]struct{}
	publicURL      string
	maxObjectBytes int64
	now            func() time.Time
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if cfg.MaxObjectBytes <= 0 {
		cfg.MaxObjectBytes = 5 << 20
	}
	if len(cfg.Buckets) == 0 {
		cfg.Buckets = []string{"avatars"}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		var revoker store.TokenRevoker
		if cfg.Redis != nil {
			revoker = store.NewRedisTokenRevoker(cfg.Redis, redisPrefix)
		} else {
			revoker = store.NewMemoryTokenRevoker()
		}
		jwtStore, err := store.NewJWTSessionStore(cfg.JWTSecret, cfg.AccessTTL, revoker, store.JWTOptions{
			Issuer: cfg.JWTIssuer,
			Leeway: cfg.JWTLeeway,
		})
		if err != nil {
			return nil, fmt.Errorf("init jwt session store: %w", err)
		}
		sessionStore = jwtStore
	}

	refreshStore := cfg.RefreshTokens
	if refreshStore == nil {
		if cfg.Redis != nil {
			refreshStore = store.NewRedisRefreshTokenStore(cfg.Redis, redisPrefix)
		} else {
			refreshStore = store.NewMemoryRefreshTokenStore()
		}
	}

	buckets := make(map[string]struct{}, len(cfg.Buckets))
	for _, b := range cfg.Buckets {
		if b = strings.TrimSpace(b); b != "" {
			buckets[b] = struct{}{}
		}
	}

	return &App{
		store:          cfg.Store,
		sessions:       sessionStore,
		refreshTokens:  refreshStore,
		refreshTTL:     cfg.RefreshTTL,
		objects:        cfg.Objects,
		buckets:        buckets,
		publicURL:      strings.TrimRight(strings.TrimSpace(cfg.PublicURL), "/"),
		maxObjectBytes: cfg.MaxObjectBytes,
		now:            cfg.Now,
	}, nil
}

// SignUp registers an account and signs it in.
func (a *App) SignUp(ctx context.Context, email, password string) (*provider.Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrEmailAndPasswordRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return nil, err
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := a.now().UTC()
	account := store.Account{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return nil, ErrUserAlreadyRegistered
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return a.issueSession(ctx, account.ID, account.Email)
}

// SignIn validates credentials and issues a session.
func (a *App) SignIn(ctx context.Context, email, password string) (*provider.Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrEmailAndPasswordRequired
	}
	account, ok, err := a.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	if !ok || !auth.CheckPassword(password, account.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return a.issueSession(ctx, account.ID, account.Email)
}

// Refresh rotates a refresh token and issues a new session.
func (a *App) Refresh(ctx context.Context, refreshToken string) (*provider.Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrRefreshTokenRequired
	}
	userID, newRefreshToken, err := a.refreshTokens.RotateToken(ctx, refreshToken, a.refreshTTL)
	if err != nil {
		if errors.Is(err, store.ErrInvalidRefreshToken) || errors.Is(err, store.ErrRefreshTokenReplay) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	account, found, err := a.store.GetAccountByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	if !found {
		_ = a.refreshTokens.DeleteToken(ctx, newRefreshToken)
		return nil, ErrInvalidRefreshToken
	}
	accessToken, expiresAt, err := a.sessions.NewSession(account.ID, account.Email)
	if err != nil {
		_ = a.refreshTokens.DeleteToken(ctx, newRefreshToken)
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	return &provider.Session{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		ExpiresAt:    expiresAt,
		User:         provider.User{ID: account.ID, Email: account.Email},
	}, nil
}

// Authenticate resolves the account behind an access token.
func (a *App) Authenticate(ctx context.Context, accessToken string) (provider.User, error) {
	claims, ok, err := a.sessions.GetUserByToken(accessToken)
	if err != nil || !ok {
		return provider.User{}, ErrUnauthorized
	}
	account, found, err := a.store.GetAccountByID(ctx, claims.UserID)
	if err != nil {
		return provider.User{}, fmt.Errorf("fetch account: %w", err)
	}
	if !found {
		return provider.User{}, ErrUnauthorized
	}
	return provider.User{ID: account.ID, Email: account.Email}, nil
}

// Logout revokes the access token and every refresh token of its user. With
// global set, every access token issued to the user so far is revoked too.
func (a *App) Logout(ctx context.Context, accessToken string, global bool) error {
	user, err := a.Authenticate(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := a.sessions.DeleteSession(accessToken); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	if global {
		revoker, ok := a.sessions.(store.UserSessionRevoker)
		if !ok {
			return errors.New("session store does not support user token revocation")
		}
		if err := revoker.RevokeUserSessions(user.ID, a.now().UTC()); err != nil {
			return fmt.Errorf("revoke user sessions: %w", err)
		}
	}
	refreshRevoker, ok := a.refreshTokens.(store.UserRefreshTokenRevoker)
	if !ok {
		return errors.New("refresh token store does not support user token revocation")
	}
	if err := refreshRevoker.RevokeUserRefreshTokens(user.ID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return nil
}

func (a *App) issueSession(ctx context.Context, userID, email string) (*provider.Session, error) {
	accessToken, expiresAt, err := a.sessions.NewSession(userID, email)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refreshToken, err := a.refreshTokens.NewToken(ctx, userID, a.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return &provider.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		User:         provider.User{ID: userID, Email: email},
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
