package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// Prefix identifies the signature scheme in the header value.
	Prefix = "sha256="

	// SecretBytes is the secret size: 32 bytes gives 256 bits of entropy,
	// matching the HMAC-SHA256 block strength.
	SecretBytes = 32

	// Header is the request header carrying the payload signature.
	Header = "X-Webhook-Signature"
)

/* Pure functions, no state and no external calls.
 * Secrets are hex strings; signatures are hex HMAC-SHA256 digests of the
 * raw payload bytes, prefixed with the scheme.
 */

// GenerateSecret creates a new cryptographically secure signing secret.
func GenerateSecret() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Sign computes the signature header value for a payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

/* Verify recomputes the signature and compares in constant time.
 * A plain == would leak how many leading bytes matched.
 */
func Verify(payload []byte, sig, secret string) bool {
	if !strings.HasPrefix(sig, Prefix) {
		return false
	}

	expected, err := hex.DecodeString(strings.TrimPrefix(sig, Prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	calculated := mac.Sum(nil)

	return subtle.ConstantTimeCompare(expected, calculated) == 1
}
