package gateway

import (
	"context"
	"log/slog"
	"strings"

	"charchat/pkg/domain"
	"charchat/pkg/provider"
)

// AuthGateway signs users up, in and out against an identity provider.
type AuthGateway struct {
	identity provider.IdentityProvider
	tables   provider.TableStore
	logger   *slog.Logger
}

// NewAuthGateway builds an auth gateway. tables receives the profile and
// settings rows created at sign-up.
func NewAuthGateway(identity provider.IdentityProvider, tables provider.TableStore, opts ...Option) *AuthGateway {
	o := buildOptions(opts)
	return &AuthGateway{identity: identity, tables: tables, logger: o.logger}
}

// SignUp registers an account and provisions its profile and default
// settings. Provisioning failures are logged and do not fail the sign-up.
func (g *AuthGateway) SignUp(ctx context.Context, email, password string) (user *domain.AuthUser, err error) {
	const op = "SignUp"
	defer g.recoverAuth(op, MsgSignUpFailed, &user, &err)

	email = strings.TrimSpace(email)
	password = strings.TrimSpace(password)
	created, _, perr := g.identity.SignUp(ctx, provider.Credentials{Email: email, Password: password})
	if perr != nil {
		return nil, g.fail(op, MsgSignUpFailed, perr)
	}
	if created == nil || created.ID == "" {
		return nil, g.fail(op, MsgCreateUserFailed, errNoUser)
	}

	g.provision(ctx, created.ID, email)
	return &domain.AuthUser{ID: created.ID, Email: fallbackEmail(created.Email, email)}, nil
}

// SignIn authenticates with email and password.
func (g *AuthGateway) SignIn(ctx context.Context, email, password string) (user *domain.AuthUser, err error) {
	const op = "SignIn"
	defer g.recoverAuth(op, MsgSignInFailed, &user, &err)

	email = strings.TrimSpace(email)
	session, perr := g.identity.SignInWithPassword(ctx, provider.Credentials{
		Email:    email,
		Password: strings.TrimSpace(password),
	})
	if perr != nil {
		return nil, g.fail(op, MsgSignInFailed, perr)
	}
	if session == nil || session.User.ID == "" {
		return nil, g.fail(op, MsgNoUserOnSignIn, errNoUser)
	}
	return &domain.AuthUser{ID: session.User.ID, Email: fallbackEmail(session.User.Email, email)}, nil
}

// SignOut ends the current session.
func (g *AuthGateway) SignOut(ctx context.Context) (err error) {
	const op = "SignOut"
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("auth gateway panic", "op", op, "panic", r)
			err = panicError(op, MsgSignOutFailed, r)
		}
	}()
	if perr := g.identity.SignOut(ctx); perr != nil {
		return g.fail(op, MsgSignOutFailed, perr)
	}
	return nil
}

// CurrentUser returns the signed-in user, or nil when there is none or the
// session cannot be read.
func (g *AuthGateway) CurrentUser(ctx context.Context) (user *domain.AuthUser) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("auth gateway panic", "op", "CurrentUser", "panic", r)
			user = nil
		}
	}()
	session, err := g.identity.GetSession(ctx)
	if err != nil {
		g.logger.Debug("read session failed", "err", err)
		return nil
	}
	return userFromSession(session)
}

// OnAuthStateChange calls fn with the signed-in user after every session
// change, or with nil after sign-out.
func (g *AuthGateway) OnAuthStateChange(fn func(*domain.AuthUser)) provider.Subscription {
	return g.identity.OnAuthStateChange(func(event provider.AuthEvent, session *provider.Session) {
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("auth listener panic", "event", string(event), "panic", r)
			}
		}()
		fn(userFromSession(session))
	})
}

func (g *AuthGateway) provision(ctx context.Context, userID, email string) {
	if g.tables == nil {
		return
	}
	if err := g.tables.Insert(ctx, provider.TableUserProfiles, provider.Row{
		"id":    userID,
		"email": email,
	}); err != nil {
		g.logger.Error("create profile failed", "user_id", userID, "err", err)
	}
	if err := g.tables.Insert(ctx, provider.TableUserSettings, provider.Row{
		"user_id":       userID,
		"settings_data": map[string]any{},
	}); err != nil {
		g.logger.Error("create settings failed", "user_id", userID, "err", err)
	}
}

func (g *AuthGateway) fail(op, fallback string, err error) *Error {
	gwErr := newError(op, fallback, err)
	g.logger.Warn("auth operation failed", "op", op, "err", err)
	return gwErr
}

func (g *AuthGateway) recoverAuth(op, fallback string, user **domain.AuthUser, err *error) {
	if r := recover(); r != nil {
		g.logger.Error("auth gateway panic", "op", op, "panic", r)
		*user = nil
		*err = panicError(op, fallback, r)
	}
}

func userFromSession(session *provider.Session) *domain.AuthUser {
	if session == nil || session.User.ID == "" {
		return nil
	}
	return &domain.AuthUser{ID: session.User.ID, Email: session.User.Email}
}

func fallbackEmail(email, input string) string {
	if strings.TrimSpace(email) != "" {
		return email
	}
	return input
}
