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

	"github.com/nkiryanov/schoolagenda/internal/apperrors"
	"github.com/nkiryanov/schoolagenda/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const tokenColumns = `id, owner_id, token_hash, expires_at, is_revoked, created_at`

const createToken = `-- name: CreateRefreshToken
INSERT INTO refresh_tokens (id, owner_id, token_hash, expires_at)
VALUES ($1, $2, $3, $4)
RETURNING ` + tokenColumns

func (r *RefreshTokenRepo) Create(ctx context.Context, ownerID uuid.UUID, tokenHash string, expiresAt time.Time) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, createToken, uuid.New(), ownerID, tokenHash, expiresAt.UTC())
	token, err := pgx.CollectOneRow(rows, rowToToken)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenHashTaken)
		}

		return token, fmt.Errorf("db error: %w", err)
	}

	return token, nil
}

const getTokenByHash = `-- name: GetRefreshTokenByHash
SELECT ` + tokenColumns + `
FROM refresh_tokens
WHERE token_hash = $1
`

// Return token even if it expired or revoked already
func (r *RefreshTokenRepo) GetByHash(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getTokenByHash, tokenHash)
	token, err := pgx.CollectOneRow(rows, rowToToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const revokeToken = `-- name: RevokeRefreshToken
UPDATE refresh_tokens
SET is_revoked = TRUE
WHERE id = $1 AND is_revoked = FALSE
`

const tokenExists = `-- name: RefreshTokenExists
SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE id = $1)
`

// Compare-and-swap revoke: only one caller may flip the flag
func (r *RefreshTokenRepo) Revoke(ctx context.Context, tokenID uuid.UUID) (bool, error) {
	tag, err := r.DB.Exec(ctx, revokeToken, tokenID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Nothing changed: either revoked already or there is no such token at all
	var exists bool
	err = r.DB.QueryRow(ctx, tokenExists, tokenID).Scan(&exists)
	switch {
	case err != nil:
		return false, fmt.Errorf("db error: %w", err)
	case !exists:
		return false, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return false, nil
	}
}

const revokeAllForOwner = `-- name: RevokeAllRefreshTokensForOwner
UPDATE refresh_tokens
SET is_revoked = TRUE
WHERE owner_id = $1 AND is_revoked = FALSE
`

func (r *RefreshTokenRepo) RevokeAllForOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeAllForOwner, ownerID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const deleteExpiredForOwner = `-- name: DeleteExpiredRefreshTokensForOwner
DELETE FROM refresh_tokens
WHERE owner_id = $1 AND expires_at < $2
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, ownerID uuid.UUID, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredForOwner, ownerID, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const deleteAllExpired = `-- name: DeleteAllExpiredRefreshTokens
DELETE FROM refresh_tokens
WHERE expires_at < $1
`

func (r *RefreshTokenRepo) DeleteAllExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteAllExpired, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func rowToToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.ID, &t.OwnerID, &t.TokenHash, &t.ExpiresAt, &t.IsRevoked, &t.CreatedAt)
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return t, err
}
