package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"charchat/internal/util"
	"charchat/pkg/storage"
	"charchat/pkg/store"
	"charchat/pkg/store/migrations"
	"charchat/services/provider/internal/app"
	"charchat/services/provider/internal/config"
	"charchat/services/provider/internal/server"
)

func main() {
	configPath := flag.String("config", config.ConfigPath, "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	accessTTL, _ := config.ParseDuration("accessTTL", cfg.AccessTTL)
	refreshTTL, _ := config.ParseDuration("refreshTTL", cfg.RefreshTTL)
	jwtLeeway, _ := config.ParseDuration("jwtLeeway", cfg.JWTLeeway)

	logger := util.InitLogger(cfg.LogLevel)

	var dataStore store.Store
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		dataStore = store.NewMemoryStore()
	default:
		if err := store.RunMigrations(cfg.DatabaseURL, migrations.FS); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer gormStore.Close()
		dataStore = gormStore
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var objects storage.ObjectStore
	if cfg.Minio.Endpoint != "" {
		objects, err = storage.NewMinioStore(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Bucket, cfg.Minio.UseSSL)
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
	} else {
		logger.Warn("object storage not configured; avatar uploads are disabled")
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = "http://localhost:" + cfg.Port
	}
	appCore, err := app.New(app.Config{
		Store:          dataStore,
		Redis:          redisClient,
		JWTSecret:      cfg.JWTSecret,
		JWTIssuer:      cfg.JWTIssuer,
		JWTLeeway:      jwtLeeway,
		AccessTTL:      accessTTL,
		RefreshTTL:     refreshTTL,
		Objects:        objects,
		PublicURL:      publicURL,
		MaxObjectBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("invalid trustedProxyCidrs: %v", err)
	}
	httpServer, err := server.New(server.Config{
		App:                      appCore,
		Redis:                    redisClient,
		SignupRateLimitPerMinute: cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:  cfg.LoginRateLimitPerMinute,
		TrustedProxies:           trustedProxies,
		CORSOrigins:              cfg.CORSOrigins,
		MaxUploadBytes:           cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("provider listening", "addr", addr, "store", cfg.StoreDriver)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
