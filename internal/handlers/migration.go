package handlers

import (
	"net/http"

	"github.com/focusmate/tokenvault/internal/handlers/render"
	"github.com/focusmate/tokenvault/internal/logger"
)

// handleMigrateEncryptTokens runs the plaintext-to-encrypted sweep and reports
// the outcome. Safe to call repeatedly: already encrypted rows are skipped.
func handleMigrateEncryptTokens(migrationSweeper migrationSweeper, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		summary, err := migrationSweeper.Run(r.Context())
		if err != nil {
			l.Error("Encryption sweep failed", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, summary)
	})
}
