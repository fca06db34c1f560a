// Package provider speaks the OAuth wire protocol to Google.
// It owns the token endpoint and user-info calls; nothing above it needs to
// know what the provider's requests and responses look like.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/focusmate/tokenvault/internal/apperrors"
	"github.com/focusmate/tokenvault/internal/logger"
)

const (
	defaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	defaultTimeout     = 10 * time.Second
)

type Config struct {
	// OAuth client credentials
	// Required to be set
	ClientID     string
	ClientSecret string

	// Redirect URL registered with the provider
	RedirectURL string

	// Scopes requested on consent
	Scopes []string

	// Endpoint overrides, used by tests to point at a fake provider
	// If not set Google's endpoints are used
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// Per request timeout, default 10s
	Timeout time.Duration
}

// Token is the provider's token endpoint response
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// UserInfo identifies the consenting user
type UserInfo struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type Client struct {
	oauth       oauth2.Config
	userInfoURL string
	tokenURL    string
	timeout     time.Duration

	client *http.Client
	logger logger.Logger
}

func NewClient(cfg Config, l logger.Logger) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, apperrors.ErrMissingClientCredentials
	}

	endpoint := google.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = defaultUserInfoURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Client{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
		tokenURL:    endpoint.TokenURL,
		timeout:     timeout,
		client:      &http.Client{},
		logger:      l,
	}, nil
}

// AuthCodeURL builds the consent URL.
// access_type=offline and prompt=consent are non-negotiable: without both
// the provider may skip the refresh token on re-consent and the whole
// lifecycle breaks downstream.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Scopes returns the scopes that will be requested on consent
func (c *Client) Scopes() []string {
	return c.oauth.Scopes
}

// Exchange trades an authorization code for tokens
func (c *Client) Exchange(ctx context.Context, code string) (Token, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {c.oauth.RedirectURL},
		"client_id":     {c.oauth.ClientID},
		"client_secret": {c.oauth.ClientSecret},
	}

	return c.postTokenForm(ctx, CodeExchangeFailed, form)
}

// Refresh trades a refresh token for a new access token.
// A failure here is usually unrecoverable without fresh user consent
// (revoked or expired refresh token), so the provider's response body is
// carried on the error instead of being retried away.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.oauth.ClientID},
		"client_secret": {c.oauth.ClientSecret},
	}

	return c.postTokenForm(ctx, CodeRefreshFailed, form)
}

// UserInfo fetches the consenting user's identity with a bearer token
func (c *Client) UserInfo(ctx context.Context, accessToken string) (UserInfo, error) {
	var info UserInfo

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return info, NewError(CodeUserInfoFailed, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return info, NewError(CodeUserInfoFailed, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		c.logger.Warn("User info request failed", "status_code", resp.StatusCode)
		return info, NewErrorWithBody(CodeUserInfoFailed, resp.StatusCode, string(body), fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return info, NewError(CodeUserInfoFailed, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}
	if info.Email == "" {
		return info, NewError(CodeUserInfoFailed, resp.StatusCode, fmt.Errorf("user info response has no email"))
	}

	return info, nil
}

func (c *Client) postTokenForm(ctx context.Context, failCode string, form url.Values) (Token, error) {
	var token Token

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return token, NewError(failCode, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return token, NewError(failCode, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		c.logger.Warn("Token endpoint request failed",
			"grant_type", form.Get("grant_type"),
			"status_code", resp.StatusCode,
		)
		return token, NewErrorWithBody(failCode, resp.StatusCode, string(body), fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return token, NewError(failCode, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}
	if token.AccessToken == "" {
		return token, NewError(failCode, resp.StatusCode, fmt.Errorf("token response has no access token"))
	}

	c.logger.Debug("Token endpoint response",
		"grant_type", form.Get("grant_type"),
		"expires_in", token.ExpiresIn,
		"rotated_refresh", token.RefreshToken != "",
	)
	return token, nil
}
