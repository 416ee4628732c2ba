package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// TokenPrefix identifies CareHaven session tokens.
	TokenPrefix = "chs_"
	// TokenLength is the number of random bytes in a token (256 bits).
	TokenLength = 32
)

// GenerateToken creates a new opaque session token.
// Format: chs_<base64url(32 random bytes)>. The plaintext token is handed to
// the client exactly once; only its SHA-256 hash is stored server-side.
func GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := TokenPrefix + encoded

	sum := sha256.Sum256([]byte(fullToken))
	hashStr := hex.EncodeToString(sum[:])

	// First 8 chars after the scheme prefix, for logs and session listings.
	prefix := TokenPrefix + encoded[:8]

	return fullToken, hashStr, prefix, nil
}

// HashToken computes the SHA-256 hash of a token for storage lookup.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ValidateTokenFormat checks that a client-supplied token is well-formed
// before any storage lookup happens.
func ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encoded := strings.TrimPrefix(token, TokenPrefix)
	if encoded == "" {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}
