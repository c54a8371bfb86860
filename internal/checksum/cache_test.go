package checksum

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCache(NewRedisStore(client, "fileslide:crc:"), time.Minute, time.Hour), mr
}

func TestCacheClaimDoneRelease(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)
	const uri = "http://example.com/a.bin"

	ok, err := cache.Claim(ctx, uri)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.Claim(ctx, uri)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must fail")

	e, err := cache.Get(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, StatePending, e.State)
	assert.Equal(t, time.Minute, mr.TTL("fileslide:crc:"+uri))

	require.NoError(t, cache.Done(ctx, uri, "v1", 0xdeadbeef))
	e, err = cache.Get(ctx, uri)
	require.NoError(t, err)
	assert.True(t, e.Matches("v1"))
	assert.False(t, e.Matches("v2"))
	assert.Equal(t, uint32(0xdeadbeef), e.CRC32)
	assert.Equal(t, time.Hour, mr.TTL("fileslide:crc:"+uri))

	require.NoError(t, cache.Release(ctx, uri))
	e, err = cache.Get(ctx, uri)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestCacheLookup(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)

	require.NoError(t, cache.Done(ctx, "a", "e", 1))
	mr.Set("fileslide:crc:garbage", "not json")

	entries, err := cache.Lookup(ctx, []string{"a", "missing", "garbage"})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].Matches("e"))
	assert.Nil(t, entries[1])
	require.NotNil(t, entries[2])
	assert.Equal(t, State(""), entries[2].State)
}

func TestCacheEntryFormat(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)

	require.NoError(t, cache.Done(ctx, "a", "etag", 42))
	got, err := mr.Get("fileslide:crc:a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"done","etag":"etag","crc32":42}`, got)
}
