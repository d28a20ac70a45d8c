package models

import (
	"time"

	"github.com/google/uuid"
)

// Persisted refresh token record. Raw token value is never stored, only its digest
type RefreshToken struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	IsRevoked bool
	CreatedAt time.Time
}

// Token may be exchanged for a new pair only if it is not revoked and not expired yet
func (t RefreshToken) Consumable(now time.Time) bool {
	return !t.IsRevoked && now.UTC().Before(t.ExpiresAt.UTC())
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued by SessionService
// Refresh is empty if the refresh token could not be persisted
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// Result of successful login or rotation
type Session struct {
	Pair TokenPair
	User User
}
