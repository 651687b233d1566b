package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/DevHatRo/scancan/internal/cache"
	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T, opts ...cache.Option) (*cache.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := cache.NewFromClient(client, opts...)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestDigest(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		cache.Digest(nil))
	assert.NotEqual(t, cache.Digest([]byte("a")), cache.Digest([]byte("b")))
}

func TestRedis_GetPut(t *testing.T) {
	store, mr := newRedis(t)
	ctx := context.Background()
	digest := cache.Digest([]byte("payload"))

	_, ok, err := store.Get(ctx, digest)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, digest, "stream: OK"))

	reply, ok, err := store.Get(ctx, digest)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "stream: OK", reply)
	assert.True(t, mr.Exists("scancan:verdict:"+digest))
}

func TestRedis_TTLAndPrefix(t *testing.T) {
	store, mr := newRedis(t, cache.WithTTL(time.Minute), cache.WithPrefix("test:"))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "abc", "stream: Eicar-Test-Signature FOUND"))
	assert.Equal(t, time.Minute, mr.TTL("test:abc"))

	mr.FastForward(2 * time.Minute)
	_, ok, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_ServerDown(t *testing.T) {
	store, mr := newRedis(t)
	mr.Close()

	_, _, err := store.Get(context.Background(), "abc")
	assert.Error(t, err)
	assert.Error(t, store.Put(context.Background(), "abc", "stream: OK"))
	assert.Error(t, store.Ping(context.Background()))
}

func TestNop(t *testing.T) {
	var v cache.Verdicts = cache.Nop{}
	require.NoError(t, v.Put(context.Background(), "abc", "stream: OK"))
	_, ok, err := v.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.False(t, ok)
}
