// Package notify fans accepted call requests out to best-effort sinks.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"demo-call-service/internal/metrics"
	"demo-call-service/internal/model"
	"demo-call-service/internal/util"
)

const defaultTimeout = 10 * time.Second

// Notifier delivers one call notification to an external sink.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event model.CallNotification) error
}

// Dispatcher runs every notifier on a detached goroutine. Failures are logged
// and counted, never returned.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics
	wg        sync.WaitGroup
}

func NewDispatcher(timeout time.Duration, logger *zap.Logger, notifiers ...Notifier) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{
		notifiers: notifiers,
		timeout:   timeout,
		logger:    logger,
		metrics:   metrics.Default(),
	}
}

// Dispatch returns immediately.
func (d *Dispatcher) Dispatch(event model.CallNotification) {
	for _, n := range d.notifiers {
		d.wg.Add(1)
		go d.deliver(n, event)
	}
}

func (d *Dispatcher) deliver(n Notifier, event model.CallNotification) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := n.Notify(ctx, event); err != nil {
		d.metrics.NotificationsTotal.WithLabelValues(n.Name(), "failed").Inc()
		d.logger.Warn("Call notification failed",
			zap.String("sink", n.Name()),
			util.RequestID(event.RequestID),
			zap.Error(err),
		)
		return
	}

	d.metrics.NotificationsTotal.WithLabelValues(n.Name(), "delivered").Inc()
	d.logger.Debug("Call notification delivered",
		zap.String("sink", n.Name()),
		util.RequestID(event.RequestID),
	)
}

// Wait blocks until in-flight deliveries finish. Used at shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Len reports how many sinks are configured.
func (d *Dispatcher) Len() int {
	return len(d.notifiers)
}
