// Package sha256 derives log-safe fingerprints for API credentials.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// FingerprintLen is the number of hex characters kept from the digest.
const FingerprintLen = 8

// Fingerprint returns a short hex prefix of the credential's SHA-256 digest.
// Rotation logs and run summaries carry it instead of the key itself.
func Fingerprint(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])[:FingerprintLen]
}
