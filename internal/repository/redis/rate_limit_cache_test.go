package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"demo-call-service/internal/client"
	"demo-call-service/internal/ratelimit"
)

const (
	testWindow = int64(3600)
	testNow    = int64(1_700_000_000)
)

func newTestCache(t *testing.T, retention time.Duration) (*RateLimitCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := &client.RedisClient{Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()})}
	t.Cleanup(func() { _ = rc.Close() })
	return NewRateLimitCache(rc, retention), mr
}

func storedTime(t *testing.T, mr *miniredis.Miniredis, sourceID string) int64 {
	t.Helper()
	raw, err := mr.Get(rateLimitPrefix + sourceID)
	require.NoError(t, err)
	v, err := strconv.ParseInt(raw, 10, 64)
	require.NoError(t, err)
	return v
}

func TestAcquireAllowsAbsentSource(t *testing.T) {
	cache, mr := newTestCache(t, 24*time.Hour)

	acq, err := cache.Acquire(context.Background(), "203.0.113.7", testNow, testWindow)
	require.NoError(t, err)
	assert.True(t, acq.Allowed)
	assert.Equal(t, testNow, storedTime(t, mr, "203.0.113.7"))
	assert.Equal(t, 24*time.Hour, mr.TTL(rateLimitPrefix+"203.0.113.7"))
}

func TestAcquireWithinWindowLeavesRecordUntouched(t *testing.T) {
	cache, mr := newTestCache(t, 24*time.Hour)
	ctx := context.Background()

	_, err := cache.Acquire(ctx, "203.0.113.7", testNow, testWindow)
	require.NoError(t, err)

	acq, err := cache.Acquire(ctx, "203.0.113.7", testNow+testWindow-1, testWindow)
	require.NoError(t, err)
	assert.False(t, acq.Allowed)
	assert.Equal(t, testNow, acq.LastRequestTime)
	assert.Equal(t, testNow, storedTime(t, mr, "203.0.113.7"))
}

func TestAcquireRefreshesAfterWindow(t *testing.T) {
	cache, mr := newTestCache(t, 24*time.Hour)
	ctx := context.Background()

	_, err := cache.Acquire(ctx, "203.0.113.7", testNow, testWindow)
	require.NoError(t, err)

	acq, err := cache.Acquire(ctx, "203.0.113.7", testNow+testWindow, testWindow)
	require.NoError(t, err)
	assert.True(t, acq.Allowed)
	assert.Equal(t, testNow+testWindow, storedTime(t, mr, "203.0.113.7"))
}

func TestAcquireKeepsSourcesIndependent(t *testing.T) {
	cache, _ := newTestCache(t, 24*time.Hour)
	ctx := context.Background()

	_, err := cache.Acquire(ctx, "203.0.113.7", testNow, testWindow)
	require.NoError(t, err)

	acq, err := cache.Acquire(ctx, "203.0.113.8", testNow+1, testWindow)
	require.NoError(t, err)
	assert.True(t, acq.Allowed)
}

func TestAcquireTTLNeverShorterThanWindow(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)

	_, err := cache.Acquire(context.Background(), "203.0.113.7", testNow, testWindow)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(testWindow)*time.Second, mr.TTL(rateLimitPrefix+"203.0.113.7"))
}

func TestLimiterThroughRedisStore(t *testing.T) {
	cache, _ := newTestCache(t, 24*time.Hour)
	limiter := ratelimit.NewLimiter(cache, time.Hour, zap.NewNop())
	ctx := context.Background()
	now := time.Unix(testNow, 0)

	assert.True(t, limiter.CheckAndRecord(ctx, "203.0.113.7", now).Allowed)

	limited := limiter.CheckAndRecord(ctx, "203.0.113.7", now.Add(20*time.Minute))
	assert.False(t, limited.Allowed)
	assert.Equal(t, 40*time.Minute, limited.RetryAfter)

	assert.True(t, limiter.CheckAndRecord(ctx, "203.0.113.7", now.Add(time.Hour)).Allowed)
}

func TestAcquireFailsWhenServerDown(t *testing.T) {
	cache, mr := newTestCache(t, 24*time.Hour)
	mr.Close()

	_, err := cache.Acquire(context.Background(), "203.0.113.7", testNow, testWindow)
	assert.Error(t, err)
	assert.Error(t, cache.Ping(context.Background()))

	decision := ratelimit.NewLimiter(cache, time.Hour, zap.NewNop()).
		CheckAndRecord(context.Background(), "203.0.113.7", time.Unix(testNow, 0))
	assert.True(t, decision.Allowed)
	assert.True(t, decision.FailedOpen)
}
