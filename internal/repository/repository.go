package repository

import (
	"context"
	"time"

	"github.com/focusmate/tokenvault/internal/models"
)

// Credential repository interface
type CredentialRepo interface {
	// Get credential by normalized identity
	// If nothing is stored must return apperrors.ErrCredentialNotFound
	GetByIdentity(ctx context.Context, identity string) (models.Credential, error)

	// Create or fully replace the credential for its identity
	// Re-consent replaces prior tokens entirely
	Upsert(ctx context.Context, cred models.Credential) (models.Credential, error)

	// Update the access token and expiry after a refresh
	// The stored refresh token is left untouched
	UpdateTokens(ctx context.Context, identity string, encryptedAccess string, expiresAt time.Time) error

	// Rewrite both token fields in place
	// Used by the encryption sweep and by refresh-token rotation
	UpdateSecrets(ctx context.Context, identity string, encryptedAccess string, encryptedRefresh string) error

	// List every stored credential, sweep only
	ListAll(ctx context.Context) ([]models.Credential, error)
}

// Storage aggregates repositories over one connection or transaction
type Storage interface {
	Credential() CredentialRepo

	InTx(ctx context.Context, fn func(Storage) error) error
}
