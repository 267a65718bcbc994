package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"charchat/internal/util"
	"charchat/pkg/gateway"
	"charchat/pkg/remote"
	"charchat/services/studio/internal/cli"
	"charchat/services/studio/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	// stdout carries command output.
	logger := util.InitLoggerTo(os.Stderr, cfg.LogLevel)

	client, err := remote.NewClient(remote.Options{
		BaseURL:    cfg.ProviderURL,
		APIKey:     cfg.APIKey,
		HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout},
		Storage:    remote.NewFileSessionStorage(cfg.SessionFile),
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init provider client: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app := &cli.App{
		Auth: gateway.NewAuthGateway(client, client, gateway.WithLogger(logger)),
		Data: gateway.NewDataGateway(client, gateway.WithLogger(logger), gateway.WithObjectUploader(client)),
		In:   os.Stdin,
		Out:  os.Stdout,
		Err:  os.Stderr,
	}
	code := app.Run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
