package redis_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisrepo "github.com/ticketops/boxoffice/internal/repository/redis"
)

// Key formats are the deployed cache schema; renaming one silently orphans
// every live entry, so they are pinned here.
func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "boxoffice:v1:event:ev-1:summary", redisrepo.KeyEventSummary("ev-1"))
	assert.Equal(t, "boxoffice:v1:event:ev-1:availability", redisrepo.KeyEventAvailability("ev-1"))
	assert.Equal(t, "boxoffice:v1:event:ev-1:seatmap:VIP", redisrepo.KeySeatMap("ev-1", "VIP"))
	assert.Equal(t, "boxoffice:v1:rl", redisrepo.RateLimitPrefix())
	assert.Equal(t, "boxoffice:v1:idem:orders:cust-1:abc", redisrepo.KeyIdemOrder("cust-1", "abc"))
}

func TestNilCachePassThrough(t *testing.T) {
	ctx := context.Background()
	var c *redisrepo.Cache

	s, ok, err := c.GetString(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s)

	require.NoError(t, c.SetString(ctx, "k", "v", 0))
	require.NoError(t, c.Del(ctx, "k"))
	require.NoError(t, c.InvalidateEvent(ctx, "ev-1"))

	_, ok, err = redisrepo.GetJSON[int](ctx, c, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

// Without Redis the cache must not dedupe or memoize; every call reaches the
// loader so reads stay fresh.
func TestGetOrSetJSONNilCacheCallsLoader(t *testing.T) {
	ctx := context.Background()
	var c *redisrepo.Cache

	calls := 0
	loader := func(ctx context.Context) (string, error) {
		calls++
		return "fresh", nil
	}

	for i := 0; i < 3; i++ {
		v, err := redisrepo.GetOrSetJSON(ctx, c, "k", 0, loader)
		require.NoError(t, err)
		assert.Equal(t, "fresh", v)
	}
	assert.Equal(t, 3, calls)
}
