package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	ErrRefreshTokenNotFound  = errors.New("refresh token not found")
	ErrRefreshTokenHashTaken = errors.New("refresh token hash already exists")

	// Session protocol outcomes
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrInvalidToken       = errors.New("invalid refresh token")
	ErrTokenExpired       = errors.New("refresh token is expired")
	ErrAccountUnavailable = errors.New("account not found or inactive")
	ErrTokenNotFound      = errors.New("refresh token not found")

	// Reuse is reported outside exactly as ErrInvalidToken
	ErrTokenReuseDetected = fmt.Errorf("refresh token reuse detected: %w", ErrInvalidToken)

	// Access token decoding failures. All of them are ErrUnauthenticated
	ErrUnauthenticated       = errors.New("unauthenticated")
	ErrTokenSignatureInvalid = fmt.Errorf("access token signature is invalid: %w", ErrUnauthenticated)
	ErrAccessTokenExpired    = fmt.Errorf("access token is expired: %w", ErrUnauthenticated)
	ErrTokenMalformed        = fmt.Errorf("access token is malformed: %w", ErrUnauthenticated)
)
