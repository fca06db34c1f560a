// Package sweeper upgrades any credential still holding plaintext tokens to
// the encrypted at-rest format. It exists for stores written before
// encryption was introduced and is safe to run repeatedly.
package sweeper

import (
	"context"
	"fmt"

	"github.com/focusmate/tokenvault/internal/logger"
	"github.com/focusmate/tokenvault/internal/models"
	"github.com/focusmate/tokenvault/internal/repository"
	"github.com/focusmate/tokenvault/internal/service/cryptobox"
)

// RecordError is one credential the sweep could not upgrade
type RecordError struct {
	Identity string `json:"identity"`
	Reason   string `json:"reason"`
}

// Summary is the outcome of one sweep over the whole store
type Summary struct {
	Total     int           `json:"total"`
	Encrypted int           `json:"encrypted"`
	Skipped   int           `json:"skipped"`
	Errors    []RecordError `json:"errors"`
}

type Sweeper struct {
	box    *cryptobox.CryptoBox
	repo   repository.CredentialRepo
	logger logger.Logger
}

func New(box *cryptobox.CryptoBox, repo repository.CredentialRepo, l logger.Logger) *Sweeper {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Sweeper{box: box, repo: repo, logger: l}
}

// Run walks every stored credential once. Records already in encrypted form
// are skipped, which makes a second run over a healthy store a no-op.
// A failing record is reported and the sweep moves on; one bad row must not
// hold the rest of the store in plaintext.
func (s *Sweeper) Run(ctx context.Context) (Summary, error) {
	summary := Summary{Errors: []RecordError{}}

	creds, err := s.repo.ListAll(ctx)
	if err != nil {
		return summary, fmt.Errorf("listing credentials: %w", err)
	}
	summary.Total = len(creds)

	for _, cred := range creds {
		changed, err := s.encryptRecord(ctx, cred)

		switch {
		case err != nil:
			s.logger.Error("Failed to encrypt credential", "identity", cred.Identity, "error", err)
			summary.Errors = append(summary.Errors, RecordError{Identity: cred.Identity, Reason: err.Error()})
		case changed:
			summary.Encrypted++
		default:
			summary.Skipped++
		}
	}

	s.logger.Info("Encryption sweep finished",
		"total", summary.Total,
		"encrypted", summary.Encrypted,
		"skipped", summary.Skipped,
		"errors", len(summary.Errors),
	)
	return summary, nil
}

func (s *Sweeper) encryptRecord(ctx context.Context, cred models.Credential) (changed bool, err error) {
	access := cred.EncryptedAccessToken
	refresh := cred.EncryptedRefreshToken

	if !cryptobox.IsEncrypted(access) {
		access, err = s.box.Encrypt(access)
		if err != nil {
			return false, fmt.Errorf("access token: %w", err)
		}
		changed = true
	}

	if !cryptobox.IsEncrypted(refresh) {
		refresh, err = s.box.Encrypt(refresh)
		if err != nil {
			return false, fmt.Errorf("refresh token: %w", err)
		}
		changed = true
	}

	if !changed {
		return false, nil
	}

	if err := s.repo.UpdateSecrets(ctx, cred.Identity, access, refresh); err != nil {
		return false, fmt.Errorf("persisting: %w", err)
	}

	return true, nil
}
