package authn

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when a login identifier matches no
// principal, so the not-found path performs the same bcrypt work as a real
// mismatch. The comparison result is always discarded.
var dummyHash = func() string {
	h, err := bcrypt.GenerateFromPassword([]byte("carehaven-no-such-principal"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}()

// HashSecret bcrypt-hashes a password or PIN for storage.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifySecret reports whether the plaintext matches a stored bcrypt hash.
func VerifySecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// PINLookupKey derives the deterministic lookup key for a staff PIN. The PIN
// itself is stored only as a bcrypt hash; this key exists so a PIN can be
// resolved to a principal without scanning every credential.
func PINLookupKey(pin string) string {
	sum := sha256.Sum256([]byte("pin-lookup:" + pin))
	return hex.EncodeToString(sum[:])
}
