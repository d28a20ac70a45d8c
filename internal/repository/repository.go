package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/schoolagenda/internal/models"
)

type UserRepo interface {
	// Create active user
	// If user with the email exists already has to return apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, email string, name string, hashedPassword string) (models.User, error)

	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	// Activate or deactivate user
	// If user not found must return apperrors.ErrUserNotFound
	SetActive(ctx context.Context, userID uuid.UUID, active bool) (models.User, error)
}

type RefreshTokenRepo interface {
	// Insert new not revoked token
	// On token hash collision has to return apperrors.ErrRefreshTokenHashTaken
	Create(ctx context.Context, ownerID uuid.UUID, tokenHash string, expiresAt time.Time) (models.RefreshToken, error)

	// Return token even if it revoked or expired
	// If not found must return apperrors.ErrRefreshTokenNotFound
	GetByHash(ctx context.Context, tokenHash string) (models.RefreshToken, error)

	// Flip is_revoked only if the token is not revoked yet
	// Return true if this call revoked the token, false if it was revoked already
	// If not found must return apperrors.ErrRefreshTokenNotFound
	Revoke(ctx context.Context, tokenID uuid.UUID) (bool, error)

	// Revoke every not revoked token of the owner, return number of revoked rows
	RevokeAllForOwner(ctx context.Context, ownerID uuid.UUID) (int64, error)

	// Delete owner tokens with expires_at < now, return number of deleted rows
	DeleteExpired(ctx context.Context, ownerID uuid.UUID, now time.Time) (int64, error)

	// Same as DeleteExpired but for every owner
	DeleteAllExpired(ctx context.Context, now time.Time) (int64, error)
}

type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo

	// Run fn in a transaction. Commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}
