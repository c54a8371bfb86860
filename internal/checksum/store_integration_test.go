//go:build integration

package checksum

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whitebrick/fileslide-streamer/internal/testutils"
	"github.com/whitebrick/fileslide-streamer/pkg/archive"
)

func TestResolveAgainstRedisIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: testutils.StartRedisContainer(t, ctx)})
	defer client.Close()

	cache := NewCache(NewRedisStore(client, "it:"), time.Minute, time.Hour)
	src := testutils.NewMemoryOrigin()
	src.Put("mem://b/big.bin", testutils.GenerateTestData(t, 10_000), "v1")

	r := NewResolver(cache, src, testOptions())
	f := newFile(src, "mem://b/big.bin")
	require.NoError(t, r.Resolve(ctx, []*archive.File{f}))

	crc, ok := f.CRC32()
	require.True(t, ok)

	ttl, err := client.TTL(ctx, "it:mem://b/big.bin").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	e, err := cache.Get(ctx, "mem://b/big.bin")
	require.NoError(t, err)
	assert.Equal(t, StateDone, e.State)
	assert.Equal(t, crc, e.CRC32)
}
