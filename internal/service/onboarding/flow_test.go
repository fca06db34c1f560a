package onboarding

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focusmate/tokenvault/internal/apperrors"
	"github.com/focusmate/tokenvault/internal/models"
	"github.com/focusmate/tokenvault/internal/service/cryptobox"
	"github.com/focusmate/tokenvault/internal/service/provider"
)

// fakeRepo keeps upserted credentials in memory
type fakeRepo struct {
	upserts int
	failing bool
	saved   map[string]models.Credential
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{saved: make(map[string]models.Credential)}
}

func (r *fakeRepo) GetByIdentity(ctx context.Context, identity string) (models.Credential, error) {
	cred, ok := r.saved[models.NormalizeIdentity(identity)]
	if !ok {
		return cred, apperrors.ErrCredentialNotFound
	}
	return cred, nil
}

func (r *fakeRepo) Upsert(ctx context.Context, cred models.Credential) (models.Credential, error) {
	if r.failing {
		return models.Credential{}, errors.New("db error: connection refused")
	}
	r.upserts++
	cred.Identity = models.NormalizeIdentity(cred.Identity)
	r.saved[cred.Identity] = cred
	return cred, nil
}

func (r *fakeRepo) UpdateTokens(ctx context.Context, identity string, encryptedAccess string, expiresAt time.Time) error {
	return nil
}

func (r *fakeRepo) UpdateSecrets(ctx context.Context, identity string, encryptedAccess string, encryptedRefresh string) error {
	return nil
}

func (r *fakeRepo) ListAll(ctx context.Context) ([]models.Credential, error) {
	return nil, nil
}

// fakeGoogle is an httptest provider with controllable responses
type fakeGoogle struct {
	srv *httptest.Server

	exchangeStatus int
	token          provider.Token
	userInfoStatus int
	email          string
}

func startFakeGoogle(t *testing.T) *fakeGoogle {
	t.Helper()

	g := &fakeGoogle{
		exchangeStatus: http.StatusOK,
		token: provider.Token{
			AccessToken:  "plain-access",
			RefreshToken: "plain-refresh",
			ExpiresIn:    3600,
			Scope:        "calendar.readonly gmail.readonly",
		},
		userInfoStatus: http.StatusOK,
		email:          "User@Example.com",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		if g.exchangeStatus != http.StatusOK {
			w.WriteHeader(g.exchangeStatus)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(g.token)
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, r *http.Request) {
		if g.userInfoStatus != http.StatusOK {
			w.WriteHeader(g.userInfoStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(provider.UserInfo{Email: g.email})
	})

	g.srv = httptest.NewServer(mux)
	t.Cleanup(g.srv.Close)

	return g
}

func newTestFlow(t *testing.T, g *fakeGoogle, repo *fakeRepo) (*Flow, *cryptobox.CryptoBox) {
	t.Helper()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	box, err := cryptobox.New(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)

	client, err := provider.NewClient(provider.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://vault.example.com/oauth/callback",
		Scopes:       []string{"calendar.readonly"},
		AuthURL:      g.srv.URL + "/auth",
		TokenURL:     g.srv.URL + "/token",
		UserInfoURL:  g.srv.URL + "/userinfo",
	}, nil)
	require.NoError(t, err)

	codec, err := NewStateCodec("state-secret", 0)
	require.NoError(t, err)

	flow, err := NewFlow(client, box, repo, codec, nil)
	require.NoError(t, err)

	return flow, box
}

func Test_AuthorizationURL(t *testing.T) {
	g := startFakeGoogle(t)
	flow, _ := newTestFlow(t, g, newFakeRepo())

	raw := flow.AuthorizationURL("User@Example.com ")

	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	require.NotEmpty(t, q.Get("state"))

	codec, err := NewStateCodec("state-secret", 0)
	require.NoError(t, err)
	hint, err := codec.Decode(q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", hint, "hint rides normalized inside the signed state")
}

func Test_HandleCallback(t *testing.T) {
	flowErrCode := func(t *testing.T, err error) string {
		t.Helper()
		var flowErr *FlowError
		require.ErrorAs(t, err, &flowErr, "callback errors must carry an outcome code")
		return flowErr.Code
	}

	t.Run("success", func(t *testing.T) {
		g := startFakeGoogle(t)
		repo := newFakeRepo()
		flow, box := newTestFlow(t, g, repo)

		state, err := mustStateCodec(t).Encode("user@example.com")
		require.NoError(t, err)

		cred, err := flow.HandleCallback(t.Context(), "auth-code", state, "")

		require.NoError(t, err)
		assert.Equal(t, "user@example.com", cred.Identity, "identity comes from provider user info, normalized")
		assert.Equal(t, []string{"calendar.readonly", "gmail.readonly"}, cred.Scopes)
		require.NotNil(t, cred.ExpiresAt)
		assert.WithinDuration(t, time.Now().Add(time.Hour), *cred.ExpiresAt, time.Second)

		access, err := box.Decrypt(cred.EncryptedAccessToken)
		require.NoError(t, err)
		assert.Equal(t, "plain-access", access)

		refresh, err := box.Decrypt(cred.EncryptedRefreshToken)
		require.NoError(t, err)
		assert.Equal(t, "plain-refresh", refresh)

		assert.Equal(t, 1, repo.upserts)
	})

	t.Run("re-consent replaces stored credential", func(t *testing.T) {
		g := startFakeGoogle(t)
		repo := newFakeRepo()
		flow, box := newTestFlow(t, g, repo)

		first, err := flow.HandleCallback(t.Context(), "auth-code", "", "")
		require.NoError(t, err)

		g.token.AccessToken = "second-access"
		g.token.RefreshToken = "second-refresh"

		second, err := flow.HandleCallback(t.Context(), "auth-code", "", "")
		require.NoError(t, err)

		assert.NotEqual(t, first.EncryptedRefreshToken, second.EncryptedRefreshToken)

		refresh, err := box.Decrypt(second.EncryptedRefreshToken)
		require.NoError(t, err)
		assert.Equal(t, "second-refresh", refresh, "re-consent must replace old tokens entirely")
	})

	t.Run("provider error parameter", func(t *testing.T) {
		g := startFakeGoogle(t)
		repo := newFakeRepo()
		flow, _ := newTestFlow(t, g, repo)

		_, err := flow.HandleCallback(t.Context(), "", "", "access_denied")

		assert.Equal(t, CodeOAuthFailed, flowErrCode(t, err))
		assert.ErrorIs(t, err, apperrors.ErrProviderDenied)
		assert.Zero(t, repo.upserts)
	})

	t.Run("missing code", func(t *testing.T) {
		g := startFakeGoogle(t)
		flow, _ := newTestFlow(t, g, newFakeRepo())

		_, err := flow.HandleCallback(t.Context(), "", "", "")

		assert.Equal(t, CodeNoCode, flowErrCode(t, err))
		assert.ErrorIs(t, err, apperrors.ErrNoAuthorizationCode)
	})

	t.Run("exchange failure", func(t *testing.T) {
		g := startFakeGoogle(t)
		g.exchangeStatus = http.StatusBadRequest
		repo := newFakeRepo()
		flow, _ := newTestFlow(t, g, repo)

		_, err := flow.HandleCallback(t.Context(), "bad-code", "", "")

		assert.Equal(t, CodeExchangeFailed, flowErrCode(t, err))
		assert.Zero(t, repo.upserts)
	})

	t.Run("missing refresh token is its own loud failure", func(t *testing.T) {
		g := startFakeGoogle(t)
		g.token.RefreshToken = ""
		repo := newFakeRepo()
		flow, _ := newTestFlow(t, g, repo)

		_, err := flow.HandleCallback(t.Context(), "auth-code", "", "")

		assert.Equal(t, CodeNoRefreshToken, flowErrCode(t, err), "must not collapse into a generic exchange failure")
		assert.ErrorIs(t, err, apperrors.ErrNoRefreshToken)
		assert.Zero(t, repo.upserts, "nothing may be persisted without a refresh token")
	})

	t.Run("user info failure", func(t *testing.T) {
		g := startFakeGoogle(t)
		g.userInfoStatus = http.StatusUnauthorized
		repo := newFakeRepo()
		flow, _ := newTestFlow(t, g, repo)

		_, err := flow.HandleCallback(t.Context(), "auth-code", "", "")

		assert.Equal(t, CodeUserInfoFailed, flowErrCode(t, err))
		assert.Zero(t, repo.upserts)
	})

	t.Run("storage failure", func(t *testing.T) {
		g := startFakeGoogle(t)
		repo := newFakeRepo()
		repo.failing = true
		flow, _ := newTestFlow(t, g, repo)

		_, err := flow.HandleCallback(t.Context(), "auth-code", "", "")

		assert.Equal(t, CodeStorageFailed, flowErrCode(t, err))
	})

	t.Run("undecodable state is not fatal", func(t *testing.T) {
		g := startFakeGoogle(t)
		repo := newFakeRepo()
		flow, _ := newTestFlow(t, g, repo)

		cred, err := flow.HandleCallback(t.Context(), "auth-code", "garbage-state", "")

		require.NoError(t, err, "a mangled state only loses the hint")
		assert.Equal(t, "user@example.com", cred.Identity)
	})
}

// mustStateCodec builds the codec used by the test flow
func mustStateCodec(t *testing.T) *StateCodec {
	t.Helper()

	codec, err := NewStateCodec("state-secret", 0)
	require.NoError(t, err)
	return codec
}
