package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "s3/images/a.jpg", "image/jpeg", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://s3/images/a.jpg", uri)

	payload[0] = 'C'
	got, ok := store.Get("s3/images/a.jpg")
	require.True(t, ok)
	assert.Equal(t, "content", string(got))

	got[0] = 'X'
	again, _ := store.Get("s3/images/a.jpg")
	assert.Equal(t, "content", string(again))
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	for _, p := range []string{"b", "a", "c"} {
		_, err := store.PutObject(ctx, p, "", bytes.NewReader(nil))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, store.Paths())

	_, err := store.PutObject(ctx, "", "", bytes.NewReader(nil))
	assert.Error(t, err)
	_, ok := store.Get("missing")
	assert.False(t, ok)
}
