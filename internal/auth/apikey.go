package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// APIKeyPrefix marks a long-lived agent API key.
const APIKeyPrefix = "ctx_"

var ErrMalformedKey = errors.New("malformed api key")

// ParseAPIKey returns the secret part of a ctx_ key. The check is purely
// syntactic so callers can reject bad input before touching the registry.
// Surrounding whitespace is not stripped.
func ParseAPIKey(value string) (string, error) {
	if !strings.HasPrefix(value, APIKeyPrefix) {
		return "", ErrMalformedKey
	}
	secret := strings.TrimPrefix(value, APIKeyPrefix)
	if secret == "" {
		return "", ErrMalformedKey
	}
	return secret, nil
}

// HashAPIKeySecret is the registry digest: lowercase hex SHA-256.
func HashAPIKeySecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
