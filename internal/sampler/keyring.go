package sampler

import (
	"strings"
	"sync"

	"github.com/CU-BIC/S3/internal/hash/sha256"
)

// CredentialRing is an ordered list of API credentials with a forward-only
// cursor. Reads are safe from concurrent flush goroutines; rotation happens on
// the pipeline's owning goroutine.
type CredentialRing struct {
	mu          sync.RWMutex
	credentials []string
	index       int
}

// NewCredentialRing builds a ring from keys, skipping blank entries.
func NewCredentialRing(keys []string) (*CredentialRing, error) {
	creds := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			creds = append(creds, k)
		}
	}
	if len(creds) == 0 {
		return nil, ErrNoCredentials
	}
	return &CredentialRing{credentials: creds}, nil
}

// Current returns the active credential.
func (r *CredentialRing) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.credentials[r.index]
}

// Index returns the position of the active credential.
func (r *CredentialRing) Index() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index
}

// Len returns the number of credentials.
func (r *CredentialRing) Len() int {
	return len(r.credentials)
}

// Rotate advances to the next credential. On the last credential it fails with
// KeyRingExhaustedError and the index is left unchanged.
func (r *CredentialRing) Rotate() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index >= len(r.credentials)-1 {
		return "", &KeyRingExhaustedError{Size: len(r.credentials)}
	}
	r.index++
	return r.credentials[r.index], nil
}

// Fingerprint identifies the active credential in logs without revealing it.
func (r *CredentialRing) Fingerprint() string {
	return Fingerprint(r.Current())
}

// Fingerprint returns the first 8 hex characters of the credential's SHA-256.
func Fingerprint(credential string) string {
	return sha256.Fingerprint(credential)
}
