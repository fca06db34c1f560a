package e2e

import (
	"crypto/rand"
	"encoding/base64"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/focusmate/tokenvault/internal/handlers"
	"github.com/focusmate/tokenvault/internal/logger"
	"github.com/focusmate/tokenvault/internal/repository"
	"github.com/focusmate/tokenvault/internal/repository/postgres"
	"github.com/focusmate/tokenvault/internal/service/cryptobox"
	"github.com/focusmate/tokenvault/internal/service/onboarding"
	"github.com/focusmate/tokenvault/internal/service/provider"
	"github.com/focusmate/tokenvault/internal/service/sweeper"
	"github.com/focusmate/tokenvault/internal/service/tokens"
	"github.com/focusmate/tokenvault/internal/testutil"
)

// Shared secrets and redirect target the served stack is wired with
const (
	APISecret       = "test-api-secret"
	MigrationSecret = "test-migration-secret"
	AppURL          = "https://app.example/settings"
)

type Services struct {
	Box         *cryptobox.CryptoBox
	Manager     *tokens.Manager
	Credentials repository.CredentialRepo
}

// Create db transaction and run server with that connection (one connection cause one transaction)
// The created transaction passed to inner function: so, you can safely use testutil.WithTx with it
// The provider config should point at a fake provider, credentials are filled in if empty.
func ServeWithTx(dbpool *pgxpool.Pool, t *testing.T, providerCfg provider.Config, fn func(tx pgx.Tx, srvURL string, services Services)) {
	testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
		// Initialize repositories
		credRepo := &postgres.CredentialRepo{DB: tx}

		// Fresh AES key per run, every stored token is sealed with it
		key := make([]byte, 32)
		_, err := rand.Read(key)
		require.NoError(t, err, "encryption key should be generated without errors")

		box, err := cryptobox.New(base64.StdEncoding.EncodeToString(key))
		require.NoError(t, err, "crypto box should be created without errors")

		if providerCfg.ClientID == "" {
			providerCfg.ClientID = "test-client-id"
		}
		if providerCfg.ClientSecret == "" {
			providerCfg.ClientSecret = "test-client-secret"
		}

		// Initialize services
		noopLogger := logger.NewNoOpLogger()

		providerClient, err := provider.NewClient(providerCfg, noopLogger)
		require.NoError(t, err, "provider client should be created without errors")

		refresher := tokens.NewRefresher(box, providerClient)
		manager := tokens.NewManager(tokens.Config{}, refresher, credRepo, box, noopLogger)

		stateCodec, err := onboarding.NewStateCodec("test-state-secret", 0)
		require.NoError(t, err, "state codec should be created without errors")

		flow, err := onboarding.NewFlow(providerClient, box, credRepo, stateCodec, noopLogger)
		require.NoError(t, err, "onboarding flow should be created without errors")

		migrationSweeper := sweeper.New(box, credRepo, noopLogger)

		// Complete all together as router
		router := handlers.NewRouter(
			flow,
			manager,
			migrationSweeper,
			AppURL,
			handlers.Secrets{API: APISecret, Migration: MigrationSecret},
			noopLogger,
		)

		// Run http server with the router in transaction
		srv := httptest.NewServer(router)
		defer srv.Close()

		fn(tx, srv.URL, Services{
			Box:         box,
			Manager:     manager,
			Credentials: credRepo,
		})
	})
}
