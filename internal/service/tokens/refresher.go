package tokens

import (
	"context"
	"fmt"

	"github.com/focusmate/tokenvault/internal/models"
	"github.com/focusmate/tokenvault/internal/service/cryptobox"
	"github.com/focusmate/tokenvault/internal/service/provider"
)

// providerClient is the slice of the provider client the refresher needs
type providerClient interface {
	Refresh(ctx context.Context, refreshToken string) (provider.Token, error)
}

// Refresher turns an encrypted refresh token into a fresh encrypted access
// token via the provider's token endpoint.
type Refresher struct {
	box      *cryptobox.CryptoBox
	provider providerClient
}

func NewRefresher(box *cryptobox.CryptoBox, p providerClient) *Refresher {
	return &Refresher{box: box, provider: p}
}

// Refresh decrypts the stored refresh token, calls the provider and returns
// the re-encrypted result. The refresh token itself is only present on the
// result when the provider rotated it; most providers never do.
func (r *Refresher) Refresh(ctx context.Context, encryptedRefreshToken string) (models.RefreshResult, error) {
	var result models.RefreshResult

	refreshToken, err := r.box.Decrypt(encryptedRefreshToken)
	if err != nil {
		return result, fmt.Errorf("decrypting refresh token: %w", err)
	}

	token, err := r.provider.Refresh(ctx, refreshToken)
	if err != nil {
		return result, fmt.Errorf("refreshing token with provider: %w", err)
	}

	result.ExpiresAt = ExpiryFromNow(token.ExpiresIn)

	result.EncryptedAccessToken, err = r.box.Encrypt(token.AccessToken)
	if err != nil {
		return result, fmt.Errorf("encrypting refreshed access token: %w", err)
	}

	if token.RefreshToken != "" {
		result.EncryptedRefreshToken, err = r.box.Encrypt(token.RefreshToken)
		if err != nil {
			return result, fmt.Errorf("encrypting rotated refresh token: %w", err)
		}
	}

	return result, nil
}
