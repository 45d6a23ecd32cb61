package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func (f *fakeClient) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeClient) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	if f.values == nil {
		f.values = map[string]string{}
		f.ttls = map[string]time.Duration{}
	}
	f.values[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := &fakeClient{}
	s := New(client, "s3:")

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", "v", time.Hour))
	assert.Equal(t, "v", client.values["s3:k"])
	assert.Equal(t, time.Hour, client.ttls["s3:k"])

	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestStorePropagatesErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	down := errors.New("connection refused")
	s := New(&fakeClient{err: down}, "")

	_, _, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, down)
	assert.ErrorIs(t, s.Set(ctx, "k", "v", 0), down)
}

func TestOpenWithoutAddress(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Open("", "", 0))
	c := Open("127.0.0.1:6379", "", 2)
	require.NotNil(t, c)
	assert.Equal(t, 2, c.Options().DB)
	_ = c.Close()
}
