// Package analytics records the outcome of every call-initiation attempt.
package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"demo-call-service/internal/model"
	"demo-call-service/internal/util"
)

// Sink persists one attempt.
type Sink interface {
	Insert(ctx context.Context, attempt model.CallAttempt) error
}

// Recorder writes attempts in the background so analytics never slows a request.
// A nil *Recorder discards everything.
type Recorder struct {
	sink    Sink
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewRecorder(sink Sink, timeout time.Duration, logger *zap.Logger) *Recorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Recorder{sink: sink, timeout: timeout, logger: logger}
}

func (r *Recorder) Record(attempt model.CallAttempt) {
	if r == nil {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.sink.Insert(ctx, attempt); err != nil {
			r.logger.Warn("Failed to record call attempt",
				util.RequestID(attempt.RequestID),
				zap.String("outcome", string(attempt.Outcome)),
				zap.Error(err),
			)
		}
	}()
}

func (r *Recorder) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}
