package scylla

import (
	"context"
	"fmt"

	"demo-call-service/internal/bucketing"
	"demo-call-service/internal/ratelimit"
)

const (
	insertRateLimit = `
        INSERT INTO rate_limits (bucket, source_identifier, last_request_time)
        VALUES (?, ?, ?) IF NOT EXISTS`

	refreshRateLimit = `
        UPDATE rate_limits SET last_request_time = ?
        WHERE bucket = ? AND source_identifier = ?
        IF last_request_time = ?`

	listBucket = `
        SELECT source_identifier, last_request_time FROM rate_limits WHERE bucket = ?`

	deleteIfStale = `
        DELETE FROM rate_limits WHERE bucket = ? AND source_identifier = ?
        IF last_request_time < ?`
)

// RateLimitRepository stores cooldown records with lightweight transactions, so
// the insert and the refresh are each a single compare-and-set.
type RateLimitRepository struct {
	client  *ScyllaClient
	buckets *bucketing.BucketingManager
}

var _ ratelimit.Store = (*RateLimitRepository)(nil)

func NewRateLimitRepository(client *ScyllaClient, buckets *bucketing.BucketingManager) *RateLimitRepository {
	return &RateLimitRepository{client: client, buckets: buckets}
}

func (r *RateLimitRepository) Acquire(ctx context.Context, sourceID string, now, window int64) (ratelimit.Acquisition, error) {
	bucket := r.buckets.RateLimitBucket(sourceID)

	existing := map[string]interface{}{}
	applied, err := r.client.Query(ctx, insertRateLimit, bucket, sourceID, now).MapScanCAS(existing)
	if err != nil {
		return ratelimit.Acquisition{}, fmt.Errorf("failed to insert rate limit record: %w", err)
	}
	if applied {
		return ratelimit.Acquisition{Allowed: true}, nil
	}

	last, err := lastRequestTime(existing)
	if err != nil {
		return ratelimit.Acquisition{}, err
	}
	if now-last < window {
		return ratelimit.Acquisition{Allowed: false, LastRequestTime: last}, nil
	}

	current := map[string]interface{}{}
	applied, err = r.client.Query(ctx, refreshRateLimit, now, bucket, sourceID, last).MapScanCAS(current)
	if err != nil {
		return ratelimit.Acquisition{}, fmt.Errorf("failed to refresh rate limit record: %w", err)
	}
	if applied {
		return ratelimit.Acquisition{Allowed: true}, nil
	}

	// Another request refreshed the record between our read and our write.
	last, err = lastRequestTime(current)
	if err != nil {
		return ratelimit.Acquisition{}, err
	}
	return ratelimit.Acquisition{Allowed: false, LastRequestTime: last}, nil
}

// Purge walks every bucket partition and removes records older than cutoff.
func (r *RateLimitRepository) Purge(ctx context.Context, cutoff int64) (int64, error) {
	var removed int64

	for bucket := 0; bucket < r.buckets.RateLimitBuckets(); bucket++ {
		var (
			sourceID string
			last     int64
			stale    []string
		)

		iter := r.client.Query(ctx, listBucket, bucket).Iter()
		for iter.Scan(&sourceID, &last) {
			if last < cutoff {
				stale = append(stale, sourceID)
			}
		}
		if err := iter.Close(); err != nil {
			return removed, fmt.Errorf("failed to scan rate limit bucket %d: %w", bucket, err)
		}

		for _, id := range stale {
			applied, err := r.client.Query(ctx, deleteIfStale, bucket, id, cutoff).MapScanCAS(map[string]interface{}{})
			if err != nil {
				return removed, fmt.Errorf("failed to delete rate limit record: %w", err)
			}
			if applied {
				removed++
			}
		}
	}

	return removed, nil
}

func (r *RateLimitRepository) Ping(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

func lastRequestTime(row map[string]interface{}) (int64, error) {
	switch v := row["last_request_time"].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("unexpected last_request_time value %T", row["last_request_time"])
	}
}
