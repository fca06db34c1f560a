package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Credential is the persisted token material for one connected identity.
// Both token fields hold CryptoBox ciphertext, never plaintext.
type Credential struct {
	ID       uuid.UUID
	Identity string

	EncryptedAccessToken  string
	EncryptedRefreshToken string

	// ExpiresAt is nil when the provider did not report a lifetime.
	// Nil is treated as already expired and forces a refresh.
	ExpiresAt *time.Time

	// Scopes granted on consent. Informational, not enforced here.
	Scopes []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RefreshResult is the outcome of a single token refresh.
// It is returned to callers and never stored as its own entity.
type RefreshResult struct {
	EncryptedAccessToken string
	ExpiresAt            time.Time

	// EncryptedRefreshToken is set only when the provider rotated
	// the refresh token. Empty means keep the stored one.
	EncryptedRefreshToken string
}

// NormalizeIdentity canonicalizes an identity key before any store access.
// Identities are email addresses; gmail treats the local part case
// insensitively, so lower-case plus trim is the equality rule everywhere.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
