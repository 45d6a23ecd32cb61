package sampler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Classify(ServiceSnap, nil))

	wrappedQuota := fmt.Errorf("roads: status 429: %w", ErrQuotaExceeded)
	err := Classify(ServiceSnap, wrappedQuota)
	var quota *QuotaExceededError
	require.ErrorAs(t, err, &quota)
	assert.Equal(t, ServiceSnap, quota.Service)
	assert.True(t, IsQuota(err))

	boom := errors.New("connection reset")
	err = Classify(ServiceImage, boom)
	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	assert.Equal(t, ServiceImage, transport.Service)
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsQuota(err))

	// Already-classified errors keep their original service.
	again := Classify(ServicePanorama, err)
	require.ErrorAs(t, again, &transport)
	assert.Equal(t, ServiceImage, transport.Service)
}

func TestQuotaErrorMatchesSentinel(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("cycle: %w", &QuotaExceededError{Service: ServiceObstruction})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Contains(t, err.Error(), "obstruction: quota exceeded")
}
