package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/focusmate/tokenvault/internal/apperrors"
	"github.com/focusmate/tokenvault/internal/handlers/render"
	"github.com/focusmate/tokenvault/internal/logger"
	"github.com/focusmate/tokenvault/internal/models"
	"github.com/focusmate/tokenvault/internal/service/provider"
)

func handleAccessToken(tokenManager tokenManager, l logger.Logger) http.Handler {
	type request struct {
		Identity string `json:"identity" validate:"required,email"`
	}

	type response struct {
		Identity    string    `json:"identity"`
		AccessToken string    `json:"access_token"`
		ExpiresAt   time.Time `json:"expires_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		identity := models.NormalizeIdentity(req.Identity)
		grant, err := tokenManager.AccessToken(r.Context(), identity)

		var providerErr *provider.Error

		switch {
		case err == nil:
			render.JSON(w, response{
				Identity:    identity,
				AccessToken: grant.AccessToken,
				ExpiresAt:   grant.ExpiresAt,
			})
			return
		case errors.Is(err, apperrors.ErrCredentialNotFound):
			render.ServiceError(w, "Identity not connected", http.StatusNotFound)
		case errors.As(err, &providerErr):
			l.Error("Provider refused token refresh", "identity", identity, "error", err)
			render.ServiceError(w, "Provider refresh failed", http.StatusBadGateway)
		default:
			l.Error("Failed to get access token", "identity", identity, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
