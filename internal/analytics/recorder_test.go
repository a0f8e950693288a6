package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"demo-call-service/internal/model"
)

type memorySink struct {
	mu       sync.Mutex
	attempts []model.CallAttempt
	err      error
}

func (m *memorySink) Insert(_ context.Context, a model.CallAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return m.err
}

func TestRecorderWritesInBackground(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	r := NewRecorder(sink, time.Second, zap.NewNop())

	r.Record(model.CallAttempt{RequestID: "a", Outcome: model.OutcomeDispatched})
	r.Record(model.CallAttempt{RequestID: "b", Outcome: model.OutcomeRateLimited})
	r.Wait()

	assert.Len(t, sink.attempts, 2)
}

func TestRecorderSwallowsErrors(t *testing.T) {
	t.Parallel()

	sink := &memorySink{err: errors.New("clickhouse down")}
	r := NewRecorder(sink, time.Second, zap.NewNop())

	assert.NotPanics(t, func() {
		r.Record(model.CallAttempt{RequestID: "a"})
		r.Wait()
	})
}

func TestNilRecorderIsNoop(t *testing.T) {
	t.Parallel()

	var r *Recorder
	assert.NotPanics(t, func() {
		r.Record(model.CallAttempt{RequestID: "a"})
		r.Wait()
	})
}
