package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"demo-call-service/internal/metrics"
	"demo-call-service/internal/util"
)

// DefaultWindow is the cooldown between two accepted calls from one source.
const DefaultWindow = time.Hour

// Decision is the outcome of CheckAndRecord.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	// FailedOpen is set when the store errored and the request was let through.
	FailedOpen bool
}

// Limiter applies a fixed cooldown window per source identifier.
type Limiter struct {
	store   Store
	window  time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewLimiter(store Store, window time.Duration, logger *zap.Logger) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		store:   store,
		window:  window,
		logger:  logger,
		metrics: metrics.Default(),
	}
}

func (l *Limiter) Window() time.Duration {
	return l.window
}

// CheckAndRecord admits sourceID when it has no record or its last accepted
// request is at least one window old, recording now in that case. Store errors
// fail open.
func (l *Limiter) CheckAndRecord(ctx context.Context, sourceID string, now time.Time) Decision {
	window := int64(l.window / time.Second)
	nowUnix := now.Unix()

	acq, err := l.store.Acquire(ctx, sourceID, nowUnix, window)
	if err != nil {
		l.metrics.RateLimitStoreErrors.Inc()
		l.logger.Error("Rate limit store failed, allowing request",
			util.String("source", sourceID),
			util.ErrorField(err),
		)
		return Decision{Allowed: true, FailedOpen: true}
	}

	if acq.Allowed {
		return Decision{Allowed: true}
	}

	remaining := window - (nowUnix - acq.LastRequestTime)
	if remaining > window {
		remaining = window
	}
	if remaining < 1 {
		remaining = 1
	}

	l.logger.Debug("Rate limit window active",
		util.String("source", sourceID),
		util.Int64("last_request_time", acq.LastRequestTime),
		util.Int64("retry_after_seconds", remaining),
	)
	return Decision{Allowed: false, RetryAfter: time.Duration(remaining) * time.Second}
}

// Ping checks the underlying store round trip.
func (l *Limiter) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}
