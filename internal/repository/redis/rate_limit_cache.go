package redis

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"demo-call-service/internal/client"
	"demo-call-service/internal/ratelimit"
	"demo-call-service/internal/util"
)

const rateLimitPrefix = "rate_limit:"

// acquireScript inserts or refreshes the record only when the stored timestamp is
// at least a window old. The key TTL doubles as the retention period.
var acquireScript = redis.NewScript(`
    local key = KEYS[1]
    local now = tonumber(ARGV[1])
    local window = tonumber(ARGV[2])
    local ttl = tonumber(ARGV[3])

    local last = redis.call('GET', key)
    if last then
        last = tonumber(last)
        if now - last < window then
            return {0, last}
        end
    end

    redis.call('SET', key, now, 'EX', ttl)
    return {1, now}
`)

type RateLimitCache struct {
	client    *client.RedisClient
	retention time.Duration
}

var _ ratelimit.Store = (*RateLimitCache)(nil)

func NewRateLimitCache(client *client.RedisClient, retention time.Duration) *RateLimitCache {
	return &RateLimitCache{client: client, retention: retention}
}

func (c *RateLimitCache) Acquire(ctx context.Context, sourceID string, now, window int64) (ratelimit.Acquisition, error) {
	ttl := int64(c.retention / time.Second)
	if ttl < window {
		ttl = window
	}

	result, err := c.client.Eval(ctx, acquireScript, []string{rateLimitPrefix + sourceID}, now, window, ttl).Int64Slice()
	if err != nil {
		util.Error("Failed to execute rate limit script",
			zap.String("source", sourceID),
			zap.Error(err))
		return ratelimit.Acquisition{}, fmt.Errorf("failed to execute rate limit script: %w", err)
	}
	if len(result) != 2 {
		return ratelimit.Acquisition{}, fmt.Errorf("unexpected result format from rate limit script")
	}

	if result[0] == 1 {
		return ratelimit.Acquisition{Allowed: true}, nil
	}
	return ratelimit.Acquisition{Allowed: false, LastRequestTime: result[1]}, nil
}

// Purge is a no-op: records expire through their key TTL.
func (c *RateLimitCache) Purge(ctx context.Context, cutoff int64) (int64, error) {
	return 0, nil
}

func (c *RateLimitCache) Ping(ctx context.Context) error {
	return c.client.HealthCheck(ctx)
}
