package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/focusmate/tokenvault/internal/apperrors"
	"github.com/focusmate/tokenvault/internal/models"
)

type CredentialRepo struct {
	DB DBTX
}

const getCredential = `-- name: GetCredentialByIdentity
SELECT id, identity, access_token, refresh_token, expires_at, scopes, created_at, updated_at
FROM credentials
WHERE identity = $1
`

func (r *CredentialRepo) GetByIdentity(ctx context.Context, identity string) (models.Credential, error) {
	rows, _ := r.DB.Query(ctx, getCredential, models.NormalizeIdentity(identity))
	cred, err := pgx.CollectOneRow(rows, rowToCredential)

	switch {
	case err == nil:
		return cred, nil
	case errors.Is(err, pgx.ErrNoRows):
		return cred, fmt.Errorf("repo error: %w", apperrors.ErrCredentialNotFound)
	default:
		return cred, fmt.Errorf("db error: %w", err)
	}
}

const upsertCredential = `-- name: UpsertCredential
INSERT INTO credentials (id, identity, access_token, refresh_token, expires_at, scopes)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (identity) DO UPDATE SET
    access_token  = EXCLUDED.access_token,
    refresh_token = EXCLUDED.refresh_token,
    expires_at    = EXCLUDED.expires_at,
    scopes        = EXCLUDED.scopes,
    updated_at    = now()
RETURNING id, identity, access_token, refresh_token, expires_at, scopes, created_at, updated_at
`

// Upsert stores a credential keyed by its normalized identity.
// An existing row for the identity is replaced entirely.
func (r *CredentialRepo) Upsert(ctx context.Context, cred models.Credential) (models.Credential, error) {
	id := cred.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	rows, _ := r.DB.Query(ctx, upsertCredential,
		id,
		models.NormalizeIdentity(cred.Identity),
		cred.EncryptedAccessToken,
		cred.EncryptedRefreshToken,
		cred.ExpiresAt,
		cred.Scopes,
	)
	saved, err := pgx.CollectOneRow(rows, rowToCredential)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgerrcode.IsIntegrityConstraintViolation(pgErr.Code) {
			return saved, fmt.Errorf("repo error: %w", apperrors.ErrInvalidIdentity)
		}
		return saved, fmt.Errorf("db error: %w", err)
	}

	return saved, nil
}

const updateTokens = `-- name: UpdateCredentialTokens
UPDATE credentials
SET access_token = $2, expires_at = $3, updated_at = now()
WHERE identity = $1
RETURNING id
`

func (r *CredentialRepo) UpdateTokens(ctx context.Context, identity string, encryptedAccess string, expiresAt time.Time) error {
	rows, _ := r.DB.Query(ctx, updateTokens, models.NormalizeIdentity(identity), encryptedAccess, expiresAt)
	_, err := pgx.CollectOneRow(rows, pgx.RowTo[uuid.UUID])

	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("repo error: %w", apperrors.ErrCredentialNotFound)
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

const updateSecrets = `-- name: UpdateCredentialSecrets
UPDATE credentials
SET access_token = $2, refresh_token = $3, updated_at = now()
WHERE identity = $1
RETURNING id
`

func (r *CredentialRepo) UpdateSecrets(ctx context.Context, identity string, encryptedAccess string, encryptedRefresh string) error {
	rows, _ := r.DB.Query(ctx, updateSecrets, models.NormalizeIdentity(identity), encryptedAccess, encryptedRefresh)
	_, err := pgx.CollectOneRow(rows, pgx.RowTo[uuid.UUID])

	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("repo error: %w", apperrors.ErrCredentialNotFound)
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

const listCredentials = `-- name: ListCredentials
SELECT id, identity, access_token, refresh_token, expires_at, scopes, created_at, updated_at
FROM credentials
ORDER BY identity
`

func (r *CredentialRepo) ListAll(ctx context.Context) ([]models.Credential, error) {
	rows, _ := r.DB.Query(ctx, listCredentials)
	creds, err := pgx.CollectRows(rows, rowToCredential)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return creds, nil
}

func rowToCredential(row pgx.CollectableRow) (models.Credential, error) {
	var c models.Credential
	err := row.Scan(&c.ID, &c.Identity, &c.EncryptedAccessToken, &c.EncryptedRefreshToken, &c.ExpiresAt, &c.Scopes, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}
