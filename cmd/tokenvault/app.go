package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/focusmate/tokenvault/internal/db"
	"github.com/focusmate/tokenvault/internal/handlers"
	"github.com/focusmate/tokenvault/internal/logger"
	"github.com/focusmate/tokenvault/internal/repository/postgres"
	"github.com/focusmate/tokenvault/internal/service/cryptobox"
	"github.com/focusmate/tokenvault/internal/service/onboarding"
	"github.com/focusmate/tokenvault/internal/service/provider"
	"github.com/focusmate/tokenvault/internal/service/sweeper"
	"github.com/focusmate/tokenvault/internal/service/tokens"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	box, err := cryptobox.New(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("error while creating crypto box. Err: %w", err)
	}

	providerClient, err := provider.NewClient(provider.Config{
		ClientID:     c.GoogleClientID,
		ClientSecret: c.GoogleClientSecret,
		RedirectURL:  c.OAuthRedirectURL,
		Scopes:       c.Scopes(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("error while creating provider client. Err: %w", err)
	}

	refresher := tokens.NewRefresher(box, providerClient)
	tokenManager := tokens.NewManager(tokens.Config{}, refresher, storage.Credential(), box, logger)

	stateCodec, err := onboarding.NewStateCodec(c.SecretKey, 0)
	if err != nil {
		return nil, fmt.Errorf("error while creating state codec. Err: %w", err)
	}
	flow, err := onboarding.NewFlow(providerClient, box, storage.Credential(), stateCodec, logger)
	if err != nil {
		return nil, fmt.Errorf("error while creating onboarding flow. Err: %w", err)
	}

	migrationSweeper := sweeper.New(box, storage.Credential(), logger)

	mux := handlers.NewRouter(
		flow,
		tokenManager,
		migrationSweeper,
		c.AppURL,
		handlers.Secrets{API: c.APISecret, Migration: c.MigrationSecret},
		logger,
	)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			slog.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		slog.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	slog.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
