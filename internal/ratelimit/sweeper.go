package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"demo-call-service/internal/metrics"
	"demo-call-service/internal/util"
)

// Sweeper periodically removes records that have not been refreshed for the
// retention period.
type Sweeper struct {
	store     Store
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewSweeper(store Store, retention, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps once per interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.retention <= 0 {
		s.logger.Info("Rate limit retention disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx, s.now()); err != nil {
				s.logger.Warn("Rate limit sweep failed", util.ErrorField(err))
			}
		}
	}
}

// SweepOnce deletes every record whose last request is older than now minus retention.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-s.retention).Unix()
	n, err := s.store.Purge(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.Default().RateLimitPurged.Add(float64(n))
	s.logger.Info("Rate limit sweep completed",
		util.Int64("removed", n),
		util.Int64("cutoff", cutoff),
	)
	return n, nil
}
