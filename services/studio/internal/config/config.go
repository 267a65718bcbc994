package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is read from the environment only.
type Config struct {
	ProviderURL string `env:"CHARCHAT_PROVIDER_URL,required"`
	APIKey      string `env:"CHARCHAT_API_KEY"`
	// SessionFile persists the signed-in session between invocations.
	// Empty selects <user config dir>/charchat/session.json.
	SessionFile string        `env:"CHARCHAT_SESSION_FILE"`
	LogLevel    string        `env:"CHARCHAT_LOG_LEVEL" envDefault:"warn"`
	HTTPTimeout time.Duration `env:"CHARCHAT_HTTP_TIMEOUT" envDefault:"10s"`
}

// Load reads the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads environ instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.ProviderURL = strings.TrimRight(strings.TrimSpace(cfg.ProviderURL), "/")
	if cfg.SessionFile == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return cfg, fmt.Errorf("resolve session file: %w", err)
		}
		cfg.SessionFile = filepath.Join(dir, "charchat", "session.json")
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	u, err := url.Parse(cfg.ProviderURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: CHARCHAT_PROVIDER_URL must be an http(s) url, got %q", cfg.ProviderURL)
	}
	if cfg.HTTPTimeout <= 0 {
		return errors.New("config: CHARCHAT_HTTP_TIMEOUT must be positive")
	}
	return nil
}
