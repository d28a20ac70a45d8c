package tokenmanager

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// 256 bits of entropy
const refreshTokenBytes = 32

// Generate opaque refresh token and the digest to store instead of it
func NewRefresh() (raw string, hash string, err error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("error while generating refresh token. Err: %w", err)
	}

	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, HashRefresh(raw), nil
}

// SHA-256 hex digest, always 64 chars
func HashRefresh(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
