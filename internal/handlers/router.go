package handlers

import (
	"context"
	"net/http"

	"github.com/focusmate/tokenvault/internal/handlers/middleware"
	"github.com/focusmate/tokenvault/internal/logger"
	"github.com/focusmate/tokenvault/internal/models"
	"github.com/focusmate/tokenvault/internal/service/sweeper"
	"github.com/focusmate/tokenvault/internal/service/tokens"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

// Secrets guard the internal surfaces. The API secret covers token handout,
// the migration secret covers the one-off encryption sweep.
type Secrets struct {
	API       string
	Migration string
}

func NewRouter(
	flow onboardingFlow,
	tokenManager tokenManager,
	migrationSweeper migrationSweeper,
	appURL string,
	secrets Secrets,
	logger logger.Logger,
) http.Handler {
	withAPISecret := middleware.BearerSecret(secrets.API)
	withMigrationSecret := middleware.BearerSecret(secrets.Migration)

	root := http.NewServeMux()

	root.Handle("GET /oauth/start", handleOAuthStart(flow))
	root.Handle("GET /oauth/callback", handleOAuthCallback(flow, appURL, logger))

	root.Handle("POST /api/tokens/access", withAPISecret(handleAccessToken(tokenManager, logger)))
	root.Handle("POST /migrate/encrypt-tokens", withMigrationSecret(handleMigrateEncryptTokens(migrationSweeper, logger)))

	root.Handle("GET /healthz", handleHealthz())

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type onboardingFlow interface {
	// Build the provider consent URL, requesting offline access
	AuthorizationURL(identityHint string) string

	// Complete the callback leg: exchange the code, resolve the identity
	// and persist the encrypted credential.
	// Failures come back as *onboarding.FlowError with a redirect code.
	HandleCallback(ctx context.Context, code string, state string, providerErr string) (models.Credential, error)
}

type tokenManager interface {
	// Return a guaranteed-valid decrypted access token for the identity
	// Has to return apperrors.ErrCredentialNotFound for unknown identities
	AccessToken(ctx context.Context, identity string) (tokens.Grant, error)
}

type migrationSweeper interface {
	Run(ctx context.Context) (sweeper.Summary, error)
}

func handleHealthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}
