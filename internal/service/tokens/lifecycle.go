package tokens

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/focusmate/tokenvault/internal/logger"
	"github.com/focusmate/tokenvault/internal/models"
	"github.com/focusmate/tokenvault/internal/repository"
	"github.com/focusmate/tokenvault/internal/service/cryptobox"
)

// Lifecycle manager with sensible defaults
type Config struct {
	// ExpiryBuffer shifts the expiry check earlier by this much
	// If not set the default is used
	ExpiryBuffer time.Duration
}

// refresher is the slice of Refresher the manager needs, split out so tests
// can count refresh calls
type refresher interface {
	Refresh(ctx context.Context, encryptedRefreshToken string) (models.RefreshResult, error)
}

// Manager hands out guaranteed-valid access tokens for stored credentials,
// refreshing and writing back as needed.
type Manager struct {
	buffer    time.Duration
	refresher refresher
	repo      repository.CredentialRepo
	box       *cryptobox.CryptoBox
	logger    logger.Logger

	// Per-identity single flight: concurrent callers for the same identity
	// share one refresh instead of hammering the provider
	mu       sync.Mutex
	inflight map[string]*flight
}

type flight struct {
	done  chan struct{}
	grant Grant
	err   error
}

// Grant is a decrypted access token with its expiry, ready to hand out.
type Grant struct {
	AccessToken string
	ExpiresAt   time.Time
}

func NewManager(cfg Config, r refresher, repo repository.CredentialRepo, box *cryptobox.CryptoBox, l logger.Logger) *Manager {
	if cfg.ExpiryBuffer == 0 {
		cfg.ExpiryBuffer = DefaultExpiryBuffer
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Manager{
		buffer:    cfg.ExpiryBuffer,
		refresher: r,
		repo:      repo,
		box:       box,
		logger:    l,
		inflight:  make(map[string]*flight),
	}
}

// ValidToken returns a usable encrypted access token for the credential.
// The unexpired path returns the stored pair unchanged and never touches the
// network. When the returned EncryptedAccessToken differs from the stored
// one the caller must persist it before relying on the next request.
func (m *Manager) ValidToken(ctx context.Context, cred models.Credential) (models.RefreshResult, error) {
	if !IsExpired(cred.ExpiresAt, m.buffer) {
		return models.RefreshResult{
			EncryptedAccessToken: cred.EncryptedAccessToken,
			ExpiresAt:            *cred.ExpiresAt,
		}, nil
	}

	return m.refresher.Refresh(ctx, cred.EncryptedRefreshToken)
}

// AccessToken loads the credential for identity, refreshes it if needed,
// persists any change and returns the decrypted access token with its expiry.
// Concurrent calls for the same identity share one pass.
func (m *Manager) AccessToken(ctx context.Context, identity string) (Grant, error) {
	identity = models.NormalizeIdentity(identity)

	m.mu.Lock()
	if f, ok := m.inflight[identity]; ok {
		m.mu.Unlock()
		select {
		case <-f.done:
			return f.grant, f.err
		case <-ctx.Done():
			return Grant{}, ctx.Err()
		}
	}

	f := &flight{done: make(chan struct{})}
	m.inflight[identity] = f
	m.mu.Unlock()

	f.grant, f.err = m.accessToken(ctx, identity)
	close(f.done)

	m.mu.Lock()
	delete(m.inflight, identity)
	m.mu.Unlock()

	return f.grant, f.err
}

func (m *Manager) accessToken(ctx context.Context, identity string) (Grant, error) {
	cred, err := m.repo.GetByIdentity(ctx, identity)
	if err != nil {
		return Grant{}, err
	}

	result, err := m.ValidToken(ctx, cred)
	if err != nil {
		return Grant{}, fmt.Errorf("getting valid token for %q: %w", identity, err)
	}

	m.persistIfChanged(ctx, cred, result)

	accessToken, err := m.box.Decrypt(result.EncryptedAccessToken)
	if err != nil {
		return Grant{}, fmt.Errorf("decrypting access token: %w", err)
	}

	return Grant{AccessToken: accessToken, ExpiresAt: result.ExpiresAt}, nil
}

// persistIfChanged writes a refreshed credential back to the store.
// A write-back failure is deliberately non-fatal: the decrypted token is
// still valid for the in-flight request, the next request just refreshes
// again. It is logged loudly because repeated failures silently degrade
// every call to the refresh path.
func (m *Manager) persistIfChanged(ctx context.Context, cred models.Credential, result models.RefreshResult) {
	if result.EncryptedAccessToken == cred.EncryptedAccessToken {
		return
	}

	if result.EncryptedRefreshToken != "" {
		err := m.repo.UpdateSecrets(ctx, cred.Identity, result.EncryptedAccessToken, result.EncryptedRefreshToken)
		if err != nil {
			m.logger.Error("Failed to persist rotated refresh token", "identity", cred.Identity, "error", err)
		}
	}

	err := m.repo.UpdateTokens(ctx, cred.Identity, result.EncryptedAccessToken, result.ExpiresAt)
	if err != nil {
		m.logger.Error("Failed to persist refreshed access token", "identity", cred.Identity, "error", err)
	}
}
