package remote

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"charchat/pkg/provider"
)

// refreshMargin renews sessions shortly before they expire.
const refreshMargin = 10 * time.Second

type sessionResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         provider.User `json:"user"`
}

func (r sessionResponse) session(now time.Time) *provider.Session {
	if r.AccessToken == "" {
		return nil
	}
	s := &provider.Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		User:         r.User,
	}
	switch {
	case r.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(r.ExpiresAt, 0).UTC()
	case r.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second).UTC()
	}
	return s
}

// SignUp creates an account and, when the provider issues one, holds the new
// session.
func (c *Client) SignUp(ctx context.Context, creds provider.Credentials) (*provider.User, *provider.Session, error) {
	var resp sessionResponse
	err := c.do(ctx, request{method: http.MethodPost, path: "/auth/v1/signup", payload: creds}, &resp)
	if err != nil {
		return nil, nil, err
	}
	var user *provider.User
	if resp.User.ID != "" {
		u := resp.User
		user = &u
	}
	session := resp.session(c.now())
	if session != nil {
		c.setSession(session, provider.EventSignedIn)
	}
	return user, session, nil
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, creds provider.Credentials) (*provider.Session, error) {
	var resp sessionResponse
	err := c.do(ctx, request{
		method:  http.MethodPost,
		path:    "/auth/v1/token",
		query:   url.Values{"grant_type": {"password"}},
		payload: creds,
	}, &resp)
	if err != nil {
		return nil, err
	}
	session := resp.session(c.now())
	if session == nil {
		return nil, errors.New("provider returned no session")
	}
	c.setSession(session, provider.EventSignedIn)
	return session, nil
}

// SignOut ends the session on the provider. Local state is cleared even when
// the provider call fails; that error is still returned.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	c.ensureLoadedLocked()
	session := c.session
	c.mu.Unlock()

	var err error
	if session != nil {
		err = c.do(ctx, request{method: http.MethodPost, path: "/auth/v1/logout", token: session.AccessToken}, nil)
	}
	c.setSession(nil, provider.EventSignedOut)
	return err
}

// GetSession returns the held session, refreshing it first when it has
// expired. It returns nil without error when nobody is signed in.
func (c *Client) GetSession(ctx context.Context) (*provider.Session, error) {
	c.mu.Lock()
	c.ensureLoadedLocked()
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return nil, nil
	}
	if !session.Expired(c.now().Add(refreshMargin)) {
		s := *session
		return &s, nil
	}
	return c.refresh(ctx, session)
}

// OnAuthStateChange registers listener for session changes.
func (c *Client) OnAuthStateChange(listener provider.AuthListener) provider.Subscription {
	return c.listeners.Add(listener)
}

func (c *Client) refresh(ctx context.Context, stale *provider.Session) (*provider.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.Lock()
	current := c.session
	c.mu.Unlock()
	if current == nil {
		return nil, nil
	}
	if current.AccessToken != stale.AccessToken {
		// Another caller refreshed while we waited.
		s := *current
		return &s, nil
	}
	if current.RefreshToken == "" {
		c.setSession(nil, provider.EventSignedOut)
		return nil, nil
	}

	var resp sessionResponse
	err := c.do(ctx, request{
		method:  http.MethodPost,
		path:    "/auth/v1/token",
		query:   url.Values{"grant_type": {"refresh_token"}},
		payload: map[string]string{"refresh_token": current.RefreshToken},
	}, &resp)
	if err != nil {
		var apiErr *provider.Error
		if errors.As(err, &apiErr) {
			c.logger.Warn("session refresh rejected", "status", apiErr.Status, "err", apiErr.Message)
			c.setSession(nil, provider.EventSignedOut)
		}
		return nil, err
	}
	session := resp.session(c.now())
	if session == nil {
		c.setSession(nil, provider.EventSignedOut)
		return nil, errors.New("provider returned no session")
	}
	c.setSession(session, provider.EventTokenRefreshed)
	s := *session
	return &s, nil
}

// accessToken returns the bearer for table and storage calls: the session's
// access token, or empty to fall back to the API key.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	session, err := c.GetSession(ctx)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", nil
	}
	return session.AccessToken, nil
}

func (c *Client) ensureLoadedLocked() {
	if c.loaded {
		return
	}
	c.loaded = true
	session, err := c.storage.Load()
	if err != nil {
		c.logger.Warn("load stored session failed", "err", err)
		return
	}
	c.session = session
}

func (c *Client) setSession(session *provider.Session, event provider.AuthEvent) {
	c.mu.Lock()
	c.loaded = true
	c.session = session
	c.mu.Unlock()

	var err error
	if session == nil {
		err = c.storage.Clear()
	} else {
		err = c.storage.Save(session)
	}
	if err != nil {
		c.logger.Warn("persist session failed", "err", err)
	}

	var snapshot *provider.Session
	if session != nil {
		s := *session
		snapshot = &s
	}
	c.listeners.Emit(event, snapshot)
}
