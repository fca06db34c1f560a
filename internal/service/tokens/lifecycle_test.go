package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focusmate/tokenvault/internal/apperrors"
	"github.com/focusmate/tokenvault/internal/models"
	"github.com/focusmate/tokenvault/internal/service/cryptobox"
	"github.com/focusmate/tokenvault/internal/service/provider"
)

// memRepo is an in-memory CredentialRepo for lifecycle tests
type memRepo struct {
	mu    sync.Mutex
	creds map[string]models.Credential

	failWrites bool
	updates    int
}

func newMemRepo(creds ...models.Credential) *memRepo {
	r := &memRepo{creds: make(map[string]models.Credential)}
	for _, c := range creds {
		r.creds[models.NormalizeIdentity(c.Identity)] = c
	}
	return r
}

func (r *memRepo) GetByIdentity(ctx context.Context, identity string) (models.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cred, ok := r.creds[models.NormalizeIdentity(identity)]
	if !ok {
		return cred, apperrors.ErrCredentialNotFound
	}
	return cred, nil
}

func (r *memRepo) Upsert(ctx context.Context, cred models.Credential) (models.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cred.Identity = models.NormalizeIdentity(cred.Identity)
	r.creds[cred.Identity] = cred
	return cred, nil
}

func (r *memRepo) UpdateTokens(ctx context.Context, identity string, encryptedAccess string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failWrites {
		return errors.New("db error: connection reset")
	}

	cred, ok := r.creds[models.NormalizeIdentity(identity)]
	if !ok {
		return apperrors.ErrCredentialNotFound
	}
	cred.EncryptedAccessToken = encryptedAccess
	cred.ExpiresAt = &expiresAt
	r.creds[cred.Identity] = cred
	r.updates++
	return nil
}

func (r *memRepo) UpdateSecrets(ctx context.Context, identity string, encryptedAccess string, encryptedRefresh string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failWrites {
		return errors.New("db error: connection reset")
	}

	cred, ok := r.creds[models.NormalizeIdentity(identity)]
	if !ok {
		return apperrors.ErrCredentialNotFound
	}
	cred.EncryptedAccessToken = encryptedAccess
	cred.EncryptedRefreshToken = encryptedRefresh
	r.creds[cred.Identity] = cred
	r.updates++
	return nil
}

func (r *memRepo) ListAll(ctx context.Context) ([]models.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	creds := make([]models.Credential, 0, len(r.creds))
	for _, c := range r.creds {
		creds = append(creds, c)
	}
	return creds, nil
}

// startTokenEndpoint runs a fake provider token endpoint and counts hits
func startTokenEndpoint(t *testing.T, accessToken string) (*provider.Client, *atomic.Int64) {
	t.Helper()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(provider.Token{AccessToken: accessToken, ExpiresIn: 3600})
	}))
	t.Cleanup(srv.Close)

	client, err := provider.NewClient(provider.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     srv.URL,
	}, nil)
	require.NoError(t, err)

	return client, &hits
}

func credentialWithExpiry(t *testing.T, box *cryptobox.CryptoBox, expiresIn time.Duration) models.Credential {
	t.Helper()

	access, err := box.Encrypt("stored-access-token")
	require.NoError(t, err)
	refresh, err := box.Encrypt("stored-refresh-token")
	require.NoError(t, err)

	cred := models.Credential{
		Identity:              "user@example.com",
		EncryptedAccessToken:  access,
		EncryptedRefreshToken: refresh,
	}
	if expiresIn != 0 {
		at := time.Now().Add(expiresIn)
		cred.ExpiresAt = &at
	}
	return cred
}

func Test_Manager_ValidToken(t *testing.T) {
	box := newBox(t)

	t.Run("unexpired credential is untouched and offline", func(t *testing.T) {
		client, hits := startTokenEndpoint(t, "never-used")
		m := NewManager(Config{}, NewRefresher(box, client), newMemRepo(), box, nil)

		cred := credentialWithExpiry(t, box, time.Hour)

		result, err := m.ValidToken(t.Context(), cred)

		require.NoError(t, err)
		assert.Equal(t, cred.EncryptedAccessToken, result.EncryptedAccessToken, "cheap path must return the stored token unchanged")
		assert.Equal(t, *cred.ExpiresAt, result.ExpiresAt)
		assert.Zero(t, hits.Load(), "cheap path must make zero network calls")
	})

	t.Run("expired credential is refreshed", func(t *testing.T) {
		client, hits := startTokenEndpoint(t, "fresh-access")
		m := NewManager(Config{}, NewRefresher(box, client), newMemRepo(), box, nil)

		cred := credentialWithExpiry(t, box, -time.Minute)

		result, err := m.ValidToken(t.Context(), cred)

		require.NoError(t, err)
		assert.NotEqual(t, cred.EncryptedAccessToken, result.EncryptedAccessToken)
		assert.True(t, result.ExpiresAt.After(time.Now()), "new expiry must be in the future")
		assert.EqualValues(t, 1, hits.Load(), "exactly one provider call")
	})

	t.Run("nil expiry forces refresh", func(t *testing.T) {
		client, hits := startTokenEndpoint(t, "fresh-access")
		m := NewManager(Config{}, NewRefresher(box, client), newMemRepo(), box, nil)

		cred := credentialWithExpiry(t, box, 0)

		_, err := m.ValidToken(t.Context(), cred)

		require.NoError(t, err)
		assert.EqualValues(t, 1, hits.Load())
	})

	t.Run("expiry inside buffer forces refresh", func(t *testing.T) {
		client, hits := startTokenEndpoint(t, "fresh-access")
		m := NewManager(Config{ExpiryBuffer: 5 * time.Minute}, NewRefresher(box, client), newMemRepo(), box, nil)

		cred := credentialWithExpiry(t, box, 4*time.Minute)

		_, err := m.ValidToken(t.Context(), cred)

		require.NoError(t, err)
		assert.EqualValues(t, 1, hits.Load())
	})
}

func Test_Manager_AccessToken(t *testing.T) {
	box := newBox(t)

	t.Run("unknown identity", func(t *testing.T) {
		client, _ := startTokenEndpoint(t, "unused")
		m := NewManager(Config{}, NewRefresher(box, client), newMemRepo(), box, nil)

		_, err := m.AccessToken(t.Context(), "nobody@example.com")

		require.ErrorIs(t, err, apperrors.ErrCredentialNotFound)
	})

	t.Run("valid token returned decrypted without persist", func(t *testing.T) {
		client, hits := startTokenEndpoint(t, "unused")
		repo := newMemRepo(credentialWithExpiry(t, box, time.Hour))
		m := NewManager(Config{}, NewRefresher(box, client), repo, box, nil)

		grant, err := m.AccessToken(t.Context(), "user@example.com")

		require.NoError(t, err)
		assert.Equal(t, "stored-access-token", grant.AccessToken)
		assert.True(t, grant.ExpiresAt.After(time.Now()), "expiry of the stored credential must be handed out")
		assert.Zero(t, hits.Load())
		assert.Zero(t, repo.updates, "no refresh means no write back")
	})

	t.Run("expired token refreshed and persisted", func(t *testing.T) {
		client, hits := startTokenEndpoint(t, "fresh-access")
		repo := newMemRepo(credentialWithExpiry(t, box, -time.Minute))
		m := NewManager(Config{}, NewRefresher(box, client), repo, box, nil)

		grant, err := m.AccessToken(t.Context(), "user@example.com")

		require.NoError(t, err)
		assert.Equal(t, "fresh-access", grant.AccessToken)
		assert.True(t, grant.ExpiresAt.After(time.Now()), "refresh must set a future expiry")
		assert.EqualValues(t, 1, hits.Load())

		stored, err := repo.GetByIdentity(t.Context(), "user@example.com")
		require.NoError(t, err)
		require.NotNil(t, stored.ExpiresAt)
		assert.True(t, stored.ExpiresAt.After(time.Now()), "write back must carry the new expiry")

		storedToken, err := box.Decrypt(stored.EncryptedAccessToken)
		require.NoError(t, err)
		assert.Equal(t, "fresh-access", storedToken)
	})

	t.Run("identity is normalized before lookup", func(t *testing.T) {
		client, _ := startTokenEndpoint(t, "unused")
		repo := newMemRepo(credentialWithExpiry(t, box, time.Hour))
		m := NewManager(Config{}, NewRefresher(box, client), repo, box, nil)

		grant, err := m.AccessToken(t.Context(), "  USER@Example.com ")

		require.NoError(t, err)
		assert.Equal(t, "stored-access-token", grant.AccessToken)
	})

	t.Run("write back failure is non fatal", func(t *testing.T) {
		client, _ := startTokenEndpoint(t, "fresh-access")
		repo := newMemRepo(credentialWithExpiry(t, box, -time.Minute))
		repo.failWrites = true
		m := NewManager(Config{}, NewRefresher(box, client), repo, box, nil)

		grant, err := m.AccessToken(t.Context(), "user@example.com")

		require.NoError(t, err, "the in-flight request still holds a usable token")
		assert.Equal(t, "fresh-access", grant.AccessToken)
	})

	t.Run("concurrent callers share one refresh", func(t *testing.T) {
		client, hits := startTokenEndpoint(t, "fresh-access")
		repo := newMemRepo(credentialWithExpiry(t, box, -time.Minute))
		m := NewManager(Config{}, NewRefresher(box, client), repo, box, nil)

		const callers = 8
		var wg sync.WaitGroup
		grants := make([]Grant, callers)
		errs := make([]error, callers)

		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				grants[i], errs[i] = m.AccessToken(context.Background(), "user@example.com")
			}()
		}
		wg.Wait()

		for i := range callers {
			require.NoError(t, errs[i])
			assert.Equal(t, "fresh-access", grants[i].AccessToken)
		}
		assert.EqualValues(t, 1, hits.Load(), "single flight must collapse concurrent refreshes into one provider call")
	})
}
