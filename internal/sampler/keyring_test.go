package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialRingRotation(t *testing.T) {
	t.Parallel()

	ring, err := NewCredentialRing([]string{"k1", " ", "k2", "k3"})
	require.NoError(t, err)
	require.Equal(t, 3, ring.Len())
	assert.Equal(t, "k1", ring.Current())

	next, err := ring.Rotate()
	require.NoError(t, err)
	assert.Equal(t, "k2", next)
	assert.Equal(t, 1, ring.Index())

	next, err = ring.Rotate()
	require.NoError(t, err)
	assert.Equal(t, "k3", next)

	_, err = ring.Rotate()
	require.ErrorIs(t, err, ErrKeyRingExhausted)
	var exhausted *KeyRingExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Size)

	// The ring stays on its last credential.
	assert.Equal(t, "k3", ring.Current())
	assert.Equal(t, 2, ring.Index())
}

func TestCredentialRingSingleKey(t *testing.T) {
	t.Parallel()

	ring, err := NewCredentialRing([]string{"only"})
	require.NoError(t, err)
	_, err = ring.Rotate()
	assert.ErrorIs(t, err, ErrKeyRingExhausted)
}

func TestCredentialRingEmpty(t *testing.T) {
	t.Parallel()

	_, err := NewCredentialRing([]string{"", "  "})
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	ring, err := NewCredentialRing([]string{"secret-key"})
	require.NoError(t, err)
	fp := ring.Fingerprint()
	assert.Len(t, fp, 8)
	assert.NotContains(t, fp, "secret")
	assert.Equal(t, fp, Fingerprint("secret-key"))
	assert.NotEqual(t, fp, Fingerprint("other-key"))
}
