package postgres

import (
	"context"
	"fmt"

	"demo-call-service/internal/client"
	"demo-call-service/internal/model"
	"demo-call-service/internal/ratelimit"
)

// acquireQuery performs the conditional upsert in one statement. RETURNING yields
// no row when the existing record is still inside the window.
const acquireQuery = `
    INSERT INTO rate_limits (source_identifier, last_request_time)
    VALUES (?, ?)
    ON CONFLICT (source_identifier) DO UPDATE
        SET last_request_time = EXCLUDED.last_request_time
        WHERE rate_limits.last_request_time <= ?
    RETURNING source_identifier, last_request_time`

type RateLimitRepository struct {
	client *client.PostgresClient
}

var _ ratelimit.Store = (*RateLimitRepository)(nil)

func NewRateLimitRepository(client *client.PostgresClient) *RateLimitRepository {
	return &RateLimitRepository{client: client}
}

func (r *RateLimitRepository) Acquire(ctx context.Context, sourceID string, now, window int64) (ratelimit.Acquisition, error) {
	db := r.client.DB.WithContext(ctx)

	var written []model.RateLimitRecord
	if err := db.Raw(acquireQuery, sourceID, now, now-window).Scan(&written).Error; err != nil {
		return ratelimit.Acquisition{}, fmt.Errorf("failed to upsert rate limit record: %w", err)
	}
	if len(written) > 0 {
		return ratelimit.Acquisition{Allowed: true}, nil
	}

	var existing model.RateLimitRecord
	err := db.Where("source_identifier = ?", sourceID).Take(&existing).Error
	if err != nil {
		return ratelimit.Acquisition{}, fmt.Errorf("failed to read rate limit record: %w", err)
	}
	return ratelimit.Acquisition{Allowed: false, LastRequestTime: existing.LastRequestTime}, nil
}

func (r *RateLimitRepository) Purge(ctx context.Context, cutoff int64) (int64, error) {
	result := r.client.DB.WithContext(ctx).
		Where("last_request_time < ?", cutoff).
		Delete(&model.RateLimitRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge rate limit records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *RateLimitRepository) Ping(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}
