package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"charchat/internal/ratelimit"
	"charchat/internal/util"
	"charchat/pkg/provider"
	"charchat/services/provider/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Redis shares rate limit windows between instances. Nil limits per
	// process.
	Redis                    *redis.Client
	SignupRateLimitPerMinute int
	LoginRateLimitPerMinute  int
	TrustedProxies           *util.TrustedProxies
	CORSOrigins              []string
	MaxUploadBytes           int64
	Now                      func() time.Time
}

// Server exposes the provider's auth, rest and storage endpoints.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	signupLimiter  ratelimit.Limiter
	loginLimiter   ratelimit.Limiter
	trustedProxies *util.TrustedProxies
	corsOrigins    []string
	maxUploadBytes int64
	now            func() time.Time
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	signupLimit := cfg.SignupRateLimitPerMinute
	if signupLimit <= 0 {
		signupLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	newLimiter := func(name string, limit int) (ratelimit.Limiter, error) {
		if cfg.Redis == nil {
			return ratelimit.NewMemoryFixedWindowLimiter(limit, time.Minute)
		}
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.Redis, "charchat:provider:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	signupLimiter, err := newLimiter("signup", signupLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	origins := make([]string, 0, len(cfg.CORSOrigins))
	for _, o := range cfg.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 5 << 20
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		signupLimiter:  signupLimiter,
		loginLimiter:   loginLimiter,
		trustedProxies: cfg.TrustedProxies,
		corsOrigins:    origins,
		maxUploadBytes: maxUpload,
		now:            now,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithCORS(s.corsOrigins, h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog("provider", h)
	return util.WithRequestID(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/auth/v1/signup", s.handleSignup)
	s.mux.HandleFunc("/auth/v1/token", s.handleToken)
	s.mux.HandleFunc("/auth/v1/logout", s.handleLogout)
	s.mux.Handle("/auth/v1/user", s.authenticated(s.handleUser))

	// tables
	s.mux.Handle("/rest/v1/", s.authenticated(s.handleTable))

	// storage
	s.mux.Handle("/storage/v1/object/", s.authenticated(s.handleUpload))
	s.mux.HandleFunc("/storage/v1/object/public/", s.handlePublicObject)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, provider.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "provider.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, provider.CodeUnauthorized, "unauthorized")
			return
		}
		user, err := s.app.Authenticate(r.Context(), token)
		if err != nil {
			s.audit(r, "provider.authorize", "fail", "reason", "invalid_token")
			writeAppError(w, r, err)
			return
		}
		next(w, r, user)
	})
}

// auth handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "provider.signup", "rate_limited")
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, provider.CodeValidation, "invalid JSON body")
		return
	}
	session, err := s.app.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "provider.signup", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "provider.signup", "success", "user_id", session.User.ID)
	writeJSON(w, http.StatusOK, s.sessionBody(session))
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "provider.token", "rate_limited")
		return
	}
	grantType := r.URL.Query().Get("grant_type")
	body := io.LimitReader(r.Body, 1<<20)
	var (
		session *provider.Session
		err     error
	)
	switch grantType {
	case "password":
		var req credentialsRequest
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, provider.CodeValidation, "invalid JSON body")
			return
		}
		session, err = s.app.SignIn(r.Context(), req.Email, req.Password)
	case "refresh_token":
		var req refreshRequest
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, provider.CodeValidation, "invalid JSON body")
			return
		}
		session, err = s.app.Refresh(r.Context(), req.RefreshToken)
	default:
		writeError(w, http.StatusBadRequest, provider.CodeValidation, "unsupported grant_type")
		return
	}
	if err != nil {
		s.audit(r, "provider.token", "fail", "grant_type", grantType, "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "provider.token", "success", "grant_type", grantType, "user_id", session.User.ID)
	writeJSON(w, http.StatusOK, s.sessionBody(session))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, provider.CodeUnauthorized, "unauthorized")
		return
	}
	global := r.URL.Query().Get("scope") == "global"
	if err := s.app.Logout(r.Context(), token, global); err != nil {
		s.audit(r, "provider.logout", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "provider.logout", "success", "global", global)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request, user provider.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) sessionBody(session *provider.Session) sessionResponse {
	expiresIn := int64(session.ExpiresAt.Sub(s.now()).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return sessionResponse{
		AccessToken:  session.AccessToken,
		TokenType:    "bearer",
		ExpiresIn:    expiresIn,
		ExpiresAt:    session.ExpiresAt.Unix(),
		RefreshToken: session.RefreshToken,
		User:         session.User,
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, provider.CodeValidation, "method not allowed")
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type sessionResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         provider.User `json:"user"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, provider.CodeRateLimited, msg)
	return false
}
