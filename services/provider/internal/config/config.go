package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// FileConfig represents configuration loaded from YAML, then overridden by
// environment variables.
type FileConfig struct {
	Port                     string      `yaml:"port" env:"PROVIDER_PORT"`
	LogLevel                 string      `yaml:"logLevel" env:"LOG_LEVEL"`
	PublicURL                string      `yaml:"publicURL" env:"PROVIDER_PUBLIC_URL"`
	StoreDriver              string      `yaml:"storeDriver" env:"PROVIDER_STORE_DRIVER"`
	DatabaseURL              string      `yaml:"databaseURL" env:"DATABASE_URL"`
	RedisAddr                string      `yaml:"redisAddr" env:"REDIS_ADDR"`
	RedisPassword            string      `yaml:"redisPassword" env:"REDIS_PASSWORD"`
	JWTSecret                string      `yaml:"jwtSecret" env:"JWT_SECRET"`
	JWTIssuer                string      `yaml:"jwtIssuer" env:"JWT_ISSUER"`
	JWTLeeway                string      `yaml:"jwtLeeway" env:"JWT_LEEWAY"`
	AccessTTL                string      `yaml:"accessTTL" env:"PROVIDER_ACCESS_TTL"`
	RefreshTTL               string      `yaml:"refreshTTL" env:"PROVIDER_REFRESH_TTL"`
	SignupRateLimitPerMinute int         `yaml:"signupRateLimitPerMinute" env:"PROVIDER_SIGNUP_RATE_LIMIT_PER_MINUTE"`
	LoginRateLimitPerMinute  int         `yaml:"loginRateLimitPerMinute" env:"PROVIDER_LOGIN_RATE_LIMIT_PER_MINUTE"`
	TrustedProxyCIDRs        []string    `yaml:"trustedProxyCidrs" env:"PROVIDER_TRUSTED_PROXY_CIDRS" envSeparator:","`
	CORSOrigins              []string    `yaml:"corsOrigins" env:"PROVIDER_CORS_ORIGINS" envSeparator:","`
	MaxUploadBytes           int64       `yaml:"maxUploadBytes" env:"PROVIDER_MAX_UPLOAD_BYTES"`
	Minio                    MinioConfig `yaml:"minio" envPrefix:"MINIO_"`
}

// MinioConfig locates the avatar bucket. Storage routes are disabled when
// Endpoint is empty.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `yaml:"accessKey" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secretKey" env:"SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"BUCKET"`
	UseSSL    bool   `yaml:"useSSL" env:"USE_SSL"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if strings.TrimSpace(cfg.StoreDriver) == "" {
		cfg.StoreDriver = StoreDriverPostgres
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PROVIDER_PORT)")
	}
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required for the postgres store")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("config: unknown storeDriver %q", cfg.StoreDriver)
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("config: jwtSecret must be at least 32 bytes (set JWT_SECRET)")
	}
	if _, err := ParseDuration("accessTTL", cfg.AccessTTL); err != nil {
		return err
	}
	if _, err := ParseDuration("refreshTTL", cfg.RefreshTTL); err != nil {
		return err
	}
	if _, err := ParseDuration("jwtLeeway", cfg.JWTLeeway); err != nil {
		return err
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	if cfg.Minio.Endpoint != "" {
		if cfg.Minio.Bucket == "" || cfg.Minio.AccessKey == "" || cfg.Minio.SecretKey == "" {
			return errors.New("config: minio requires bucket, accessKey and secretKey")
		}
	}
	return nil
}

// ParseDuration parses an optional duration setting. Empty means zero, which
// callers replace with their default.
func ParseDuration(name, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must be >= 0", name)
	}
	return dur, nil
}
