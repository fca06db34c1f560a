// Package onboarding runs the authorization-code handshake that provisions
// the very first credential for an identity.
package onboarding

import (
	"context"
	"fmt"
	"strings"

	"github.com/focusmate/tokenvault/internal/apperrors"
	"github.com/focusmate/tokenvault/internal/logger"
	"github.com/focusmate/tokenvault/internal/models"
	"github.com/focusmate/tokenvault/internal/repository"
	"github.com/focusmate/tokenvault/internal/service/cryptobox"
	"github.com/focusmate/tokenvault/internal/service/provider"
	"github.com/focusmate/tokenvault/internal/service/tokens"
)

// Outcome codes. Every terminal state of the handshake, success or failure,
// maps to exactly one of these so the redirect back to the app always
// carries a machine readable discriminator.
const (
	CodeOAuthFailed          = "oauth_failed"
	CodeNoCode               = "no_code"
	CodeExchangeFailed       = "token_exchange_failed"
	CodeNoRefreshToken       = "no_refresh_token"
	CodeUserInfoFailed       = "user_info_failed"
	CodeStorageNotConfigured = "storage_not_configured"
	CodeStorageFailed        = "storage_failed"
	CodeUnexpected           = "unexpected_error"
)

// FlowError is a failed handshake with its outward discriminator
type FlowError struct {
	Code string
	Err  error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("oauth flow failed (%s): %v", e.Code, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

func failWith(code string, err error) *FlowError {
	return &FlowError{Code: code, Err: err}
}

// oauthProvider is the slice of the provider client the flow needs
type oauthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (provider.Token, error)
	UserInfo(ctx context.Context, accessToken string) (provider.UserInfo, error)
	Scopes() []string
}

type Flow struct {
	provider oauthProvider
	box      *cryptobox.CryptoBox
	repo     repository.CredentialRepo
	state    *StateCodec
	logger   logger.Logger
}

func NewFlow(p oauthProvider, box *cryptobox.CryptoBox, repo repository.CredentialRepo, state *StateCodec, l logger.Logger) (*Flow, error) {
	if p == nil || box == nil || state == nil {
		return nil, fmt.Errorf("provider, cryptobox and state codec must not be nil")
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Flow{
		provider: p,
		box:      box,
		repo:     repo,
		state:    state,
		logger:   l,
	}, nil
}

// AuthorizationURL builds the provider consent URL for a new connection.
// The identity hint rides along inside the signed state; failing to mint the
// state only drops the hint, the consent URL itself is still produced.
func (f *Flow) AuthorizationURL(identityHint string) string {
	state, err := f.state.Encode(models.NormalizeIdentity(identityHint))
	if err != nil {
		f.logger.Warn("Failed to sign oauth state, proceeding without it", "error", err)
		state = ""
	}

	return f.provider.AuthCodeURL(state)
}

// HandleCallback finishes the handshake: code exchange, user info lookup,
// encryption, upsert. Re-consent fully replaces any prior credential for the
// identity. The returned error, if any, is always a *FlowError.
func (f *Flow) HandleCallback(ctx context.Context, code string, state string, providerErrParam string) (models.Credential, error) {
	var cred models.Credential

	if providerErrParam != "" {
		return cred, failWith(CodeOAuthFailed, fmt.Errorf("%w: %s", apperrors.ErrProviderDenied, providerErrParam))
	}
	if code == "" {
		return cred, failWith(CodeNoCode, apperrors.ErrNoAuthorizationCode)
	}
	if f.repo == nil {
		return cred, failWith(CodeStorageNotConfigured, fmt.Errorf("credential store is not configured"))
	}

	// Only the hint travels in the state, losing it is not a failure
	if hint, err := f.state.Decode(state); err != nil && state != "" {
		f.logger.Warn("Ignoring undecodable oauth state", "error", err)
	} else if hint != "" {
		f.logger.Debug("OAuth callback carries identity hint", "hint", hint)
	}

	token, err := f.provider.Exchange(ctx, code)
	if err != nil {
		return cred, failWith(CodeExchangeFailed, err)
	}

	// A missing refresh token is a consent configuration bug, not a
	// transient fault. Nothing may be persisted in that case: storing an
	// access token with no way to renew it would strand the identity.
	if token.RefreshToken == "" {
		f.logger.Error("Token exchange returned no refresh token, check access_type/prompt parameters")
		return cred, failWith(CodeNoRefreshToken, apperrors.ErrNoRefreshToken)
	}

	info, err := f.provider.UserInfo(ctx, token.AccessToken)
	if err != nil {
		return cred, failWith(CodeUserInfoFailed, err)
	}

	cred, err = f.buildCredential(info.Email, token)
	if err != nil {
		return models.Credential{}, failWith(CodeUnexpected, err)
	}

	saved, err := f.repo.Upsert(ctx, cred)
	if err != nil {
		return models.Credential{}, failWith(CodeStorageFailed, err)
	}

	f.logger.Info("Credential stored for identity", "identity", saved.Identity, "scopes", saved.Scopes)
	return saved, nil
}

func (f *Flow) buildCredential(identity string, token provider.Token) (models.Credential, error) {
	var cred models.Credential

	encryptedAccess, err := f.box.Encrypt(token.AccessToken)
	if err != nil {
		return cred, fmt.Errorf("encrypting access token: %w", err)
	}
	encryptedRefresh, err := f.box.Encrypt(token.RefreshToken)
	if err != nil {
		return cred, fmt.Errorf("encrypting refresh token: %w", err)
	}

	scopes := strings.Fields(token.Scope)
	if len(scopes) == 0 {
		scopes = f.provider.Scopes()
	}

	expiresAt := tokens.ExpiryFromNow(token.ExpiresIn)

	return models.Credential{
		Identity:              models.NormalizeIdentity(identity),
		EncryptedAccessToken:  encryptedAccess,
		EncryptedRefreshToken: encryptedRefresh,
		ExpiresAt:             &expiresAt,
		Scopes:                scopes,
	}, nil
}
