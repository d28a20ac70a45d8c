package tokenmanager

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/nkiryanov/schoolagenda/internal/apperrors"
	"github.com/nkiryanov/schoolagenda/internal/clock"
	"github.com/nkiryanov/schoolagenda/internal/models"
)

const (
	defaultSigningMethod = "HS256"
)

// Token manager config
type Config struct {
	// Secret key to sign access token
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Time source, real clock if not set
	Clock clock.Clock
}

// Issues and decodes access tokens, generates opaque refresh tokens
// Access tokens are stateless: nothing is stored, nothing could be revoked before expiry
type TokenManager struct {
	key   []byte
	alg   jwt.SigningMethod
	clock clock.Clock
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg, ok := jwt.GetSigningMethod(cfg.Alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("signing method %q is not supported, use HMAC one", cfg.Alg)
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	return &TokenManager{
		key:   []byte(cfg.SecretKey),
		alg:   alg,
		clock: cfg.Clock,
	}, nil
}

// Issue signed access token for the subject valid for ttl
func (m *TokenManager) Issue(subject uuid.UUID, ttl time.Duration) (models.IssuedToken, error) {
	now := m.clock.Now().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	jti, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while generating token id. Err: %w", err)
	}

	token := jwt.NewWithClaims(m.alg, jwt.RegisteredClaims{
		ID:        jti.String(),
		Subject:   subject.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString(m.key)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return models.IssuedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

// Decode and validate access token, return its subject
// Every failure wraps apperrors.ErrUnauthenticated
func (m *TokenManager) Decode(access string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}

	_, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) {
			return m.key, nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock.Now),
	)

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return uuid.Nil, fmt.Errorf("%w: %w", apperrors.ErrAccessTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return uuid.Nil, fmt.Errorf("%w: %w", apperrors.ErrTokenSignatureInvalid, err)
	default:
		return uuid.Nil, fmt.Errorf("%w: %w", apperrors.ErrTokenMalformed, err)
	}

	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject is not an id", apperrors.ErrTokenMalformed)
	}

	return subject, nil
}
