package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/schoolagenda/internal/apperrors"
	"github.com/nkiryanov/schoolagenda/internal/clock"
	"github.com/nkiryanov/schoolagenda/internal/logger"
	"github.com/nkiryanov/schoolagenda/internal/metrics"
	"github.com/nkiryanov/schoolagenda/internal/models"
	"github.com/nkiryanov/schoolagenda/internal/repository"
	"github.com/nkiryanov/schoolagenda/internal/service/auth/tokenmanager"
)

const (
	defaultAccessTokenTTL  = 30 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Interface to create or verify user password hashes
type PasswordHasher interface {
	Hash(password string) (string, error)

	// Must be protected against timing attacks and return false on malformed hash
	Verify(hashedPassword string, password string) bool
}

// Signed stateless access tokens
type AccessTokenCodec interface {
	Issue(subject uuid.UUID, ttl time.Duration) (models.IssuedToken, error)

	// Every error has to wrap apperrors.ErrUnauthenticated
	Decode(token string) (uuid.UUID, error)
}

type Config struct {
	// Access and refresh token lifetimes
	// Refresh token has to live longer than access one
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Bcrypt hasher with default cost if not set
	Hasher PasswordHasher

	// Real clock if not set
	Clock clock.Clock

	// No-op logger if not set
	Logger logger.Logger

	// By default login succeeds with access token only if refresh token could not be stored
	// Set to fail login instead
	StrictLogin bool
}

type SessionService struct {
	accessTTL   time.Duration
	refreshTTL  time.Duration
	strictLogin bool

	hasher  PasswordHasher
	codec   AccessTokenCodec
	clock   clock.Clock
	logger  logger.Logger
	storage repository.Storage

	// Verified when account is not found, so both cases take the same time
	dummyHash string
}

// Consumed token was revoked by someone else between lookup and revoke
var errConsumedConcurrently = errors.New("refresh token consumed concurrently")

func NewService(cfg Config, codec AccessTokenCodec, storage repository.Storage) (*SessionService, error) {
	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	if cfg.AccessTTL < 0 || cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, fmt.Errorf("refresh token ttl (%s) must be longer than access token ttl (%s)", cfg.RefreshTTL, cfg.AccessTTL)
	}
	if codec == nil || storage == nil {
		return nil, errors.New("token codec and storage must not be nil")
	}

	if cfg.Hasher == nil {
		cfg.Hasher = BcryptHasher{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	dummyHash, err := cfg.Hasher.Hash("not a real password")
	if err != nil {
		return nil, fmt.Errorf("hasher is not usable. Err: %w", err)
	}

	return &SessionService{
		accessTTL:   cfg.AccessTTL,
		refreshTTL:  cfg.RefreshTTL,
		strictLogin: cfg.StrictLogin,
		hasher:      cfg.Hasher,
		codec:       codec,
		clock:       cfg.Clock,
		logger:      cfg.Logger.With("component", "session"),
		storage:     storage,
		dummyHash:   dummyHash,
	}, nil
}

// Create active account and log it in
func (s *SessionService) Register(ctx context.Context, email string, name string, password string) (models.Session, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.Session{}, fmt.Errorf("can't use this as password. Err: %w", err)
	}

	user, err := s.storage.User().CreateUser(ctx, email, name, hash)
	if err != nil {
		return models.Session{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID)

	return s.startSession(ctx, user)
}

// Exchange credentials for a new session
// Unknown email and wrong password are reported the same way: apperrors.ErrInvalidCredentials
func (s *SessionService) Login(ctx context.Context, email string, password string) (models.Session, error) {
	user, err := s.storage.User().GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		s.hasher.Verify(s.dummyHash, password)
		metrics.Logins.WithLabelValues(metrics.LoginRejected).Inc()
		return models.Session{}, apperrors.ErrInvalidCredentials
	case err != nil:
		metrics.Logins.WithLabelValues(metrics.LoginFailed).Inc()
		return models.Session{}, fmt.Errorf("login error: %w", err)
	}

	if !s.hasher.Verify(user.HashedPassword, password) {
		metrics.Logins.WithLabelValues(metrics.LoginRejected).Inc()
		return models.Session{}, apperrors.ErrInvalidCredentials
	}

	if !user.IsActive {
		metrics.Logins.WithLabelValues(metrics.LoginRejected).Inc()
		return models.Session{}, apperrors.ErrAccountInactive
	}

	return s.startSession(ctx, user)
}

func (s *SessionService) startSession(ctx context.Context, user models.User) (models.Session, error) {
	now := s.clock.Now()

	access, err := s.issueAccess(user.ID)
	if err != nil {
		metrics.Logins.WithLabelValues(metrics.LoginFailed).Inc()
		return models.Session{}, err
	}

	// Housekeeping only, login must not depend on it
	if deleted, err := s.storage.Refresh().DeleteExpired(ctx, user.ID, now); err != nil {
		s.logger.Warn("expired refresh tokens not deleted", "user_id", user.ID, "error", err)
	} else if deleted > 0 {
		metrics.RefreshTokensCleanupDeleted.Add(float64(deleted))
	}

	refresh, err := s.createRefresh(ctx, s.storage, user.ID, now)
	if err != nil {
		if s.strictLogin {
			metrics.Logins.WithLabelValues(metrics.LoginFailed).Inc()
			return models.Session{}, err
		}

		s.logger.Warn("refresh token not stored, session issued with access token only", "user_id", user.ID, "error", err)
		metrics.Logins.WithLabelValues(metrics.LoginDegraded).Inc()
		return models.Session{Pair: models.TokenPair{Access: access}, User: user}, nil
	}

	metrics.Logins.WithLabelValues(metrics.LoginSuccess).Inc()
	return models.Session{Pair: models.TokenPair{Access: access, Refresh: refresh}, User: user}, nil
}

// Exchange refresh token for a new pair. The presented token is never consumable again
//
// Revoked token presented again is treated as stolen: every session of the owner is revoked
// and apperrors.ErrTokenReuseDetected is returned
func (s *SessionService) Rotate(ctx context.Context, raw string) (models.Session, error) {
	now := s.clock.Now()

	record, err := s.storage.Refresh().GetByHash(ctx, tokenmanager.HashRefresh(raw))
	switch {
	case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
		return models.Session{}, apperrors.ErrInvalidToken
	case err != nil:
		return models.Session{}, fmt.Errorf("rotate error: %w", err)
	}

	if !now.Before(record.ExpiresAt) {
		if err := s.revoke(ctx, s.storage, record.ID); err != nil {
			return models.Session{}, err
		}
		metrics.RefreshTokensExpired.Inc()
		return models.Session{}, apperrors.ErrTokenExpired
	}

	if record.IsRevoked {
		return models.Session{}, s.reuseDetected(ctx, record)
	}

	user, err := s.storage.User().GetUserByID(ctx, record.OwnerID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound) || (err == nil && !user.IsActive):
		if err := s.revoke(ctx, s.storage, record.ID); err != nil {
			return models.Session{}, err
		}
		return models.Session{}, apperrors.ErrAccountUnavailable
	case err != nil:
		return models.Session{}, fmt.Errorf("rotate error: %w", err)
	}

	access, err := s.issueAccess(user.ID)
	if err != nil {
		return models.Session{}, err
	}

	var refresh models.IssuedToken
	err = s.storage.InTx(ctx, func(tx repository.Storage) error {
		revoked, err := tx.Refresh().Revoke(ctx, record.ID)
		if errors.Is(err, apperrors.ErrRefreshTokenNotFound) {
			return apperrors.ErrInvalidToken
		}
		if err != nil {
			return fmt.Errorf("rotate error: %w", err)
		}
		if !revoked {
			return errConsumedConcurrently
		}

		refresh, err = s.createRefresh(ctx, tx, user.ID, now)
		return err
	})
	switch {
	case errors.Is(err, errConsumedConcurrently):
		return models.Session{}, s.reuseDetected(ctx, record)
	case err != nil:
		return models.Session{}, err
	}

	metrics.RefreshTokensRevoked.Inc()
	metrics.RefreshTokensRotated.Inc()
	return models.Session{Pair: models.TokenPair{Access: access, Refresh: refresh}, User: user}, nil
}

// Revoke the session of the refresh token
// Revoking already revoked token is not an error
func (s *SessionService) Logout(ctx context.Context, raw string) error {
	record, err := s.storage.Refresh().GetByHash(ctx, tokenmanager.HashRefresh(raw))
	switch {
	case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
		return apperrors.ErrTokenNotFound
	case err != nil:
		return fmt.Errorf("logout error: %w", err)
	}

	if record.IsRevoked {
		return nil
	}

	return s.revoke(ctx, s.storage, record.ID)
}

// Revoke every session of the user, return number of revoked refresh tokens
func (s *SessionService) LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	count, err := s.storage.Refresh().RevokeAllForOwner(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("logout all error: %w", err)
	}

	metrics.RefreshTokensRevoked.Add(float64(count))
	s.logger.Info("all sessions revoked", "user_id", userID, "revoked", count)
	return count, nil
}

// Decode access token. The store is not touched
func (s *SessionService) Authenticate(access string) (uuid.UUID, error) {
	metrics.AccessTokenValidations.Inc()

	userID, err := s.codec.Decode(access)
	if err != nil {
		metrics.AccessTokenValidationsFailed.Inc()
		s.logger.Debug("access token rejected", "error", err)
		return uuid.Nil, err
	}

	return userID, nil
}

// Authenticate and resolve active user
func (s *SessionService) AuthenticateUser(ctx context.Context, access string) (models.User, error) {
	userID, err := s.Authenticate(access)
	if err != nil {
		return models.User{}, err
	}

	user, err := s.storage.User().GetUserByID(ctx, userID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return models.User{}, apperrors.ErrUnauthenticated
	case err != nil:
		return models.User{}, fmt.Errorf("authenticate error: %w", err)
	case !user.IsActive:
		return models.User{}, apperrors.ErrUnauthenticated
	}

	return user, nil
}

func (s *SessionService) issueAccess(userID uuid.UUID) (models.IssuedToken, error) {
	access, err := s.codec.Issue(userID, s.accessTTL)
	if err != nil {
		return access, fmt.Errorf("access token could not be issued. Err: %w", err)
	}

	metrics.AccessTokensIssued.Inc()
	return access, nil
}

func (s *SessionService) createRefresh(ctx context.Context, storage repository.Storage, userID uuid.UUID, now time.Time) (models.IssuedToken, error) {
	raw, hash, err := tokenmanager.NewRefresh()
	if err != nil {
		return models.IssuedToken{}, err
	}

	record, err := storage.Refresh().Create(ctx, userID, hash, now.Add(s.refreshTTL))
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("refresh token could not be stored. Err: %w", err)
	}

	metrics.RefreshTokensIssued.Inc()
	return models.IssuedToken{Value: raw, ExpiresAt: record.ExpiresAt}, nil
}

// Token deleted in the meantime (expired and swept) counts as revoked
func (s *SessionService) revoke(ctx context.Context, storage repository.Storage, tokenID uuid.UUID) error {
	revoked, err := storage.Refresh().Revoke(ctx, tokenID)
	switch {
	case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("revoke error: %w", err)
	}
	if revoked {
		metrics.RefreshTokensRevoked.Inc()
	}
	return nil
}

func (s *SessionService) reuseDetected(ctx context.Context, record models.RefreshToken) error {
	metrics.RefreshTokenReuseDetected.Inc()

	count, err := s.storage.Refresh().RevokeAllForOwner(ctx, record.OwnerID)
	if err != nil {
		s.logger.Error("refresh token reuse detected, sessions not revoked", "user_id", record.OwnerID, "token_id", record.ID, "error", err)
		return fmt.Errorf("revoke all error: %w", err)
	}

	metrics.RefreshTokensRevoked.Add(float64(count))
	s.logger.Warn("refresh token reuse detected, all sessions revoked", "user_id", record.OwnerID, "token_id", record.ID, "revoked", count)
	return apperrors.ErrTokenReuseDetected
}
