package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"demo-call-service/internal/model"
)

var testEvent = model.CallNotification{
	RequestID:    "req-1",
	PhoneNumber:  "+351912345678",
	Persona:      "dentist",
	CustomerName: "Website User",
	Backend:      "mock",
	SourceIP:     "203.0.113.7",
	RequestedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
}

type recordingNotifier struct {
	mu     sync.Mutex
	name   string
	events []model.CallNotification
	err    error
	block  chan struct{}
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(ctx context.Context, event model.CallNotification) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestDispatcherFansOut(t *testing.T) {
	t.Parallel()

	ok := &recordingNotifier{name: "ok"}
	failing := &recordingNotifier{name: "failing", err: errors.New("boom")}
	d := NewDispatcher(time.Second, zap.NewNop(), ok, failing)

	d.Dispatch(testEvent)
	d.Wait()

	assert.Equal(t, 1, ok.count())
	assert.Equal(t, 1, failing.count())
	assert.Equal(t, 2, d.Len())
}

func TestDispatchDoesNotBlockCaller(t *testing.T) {
	t.Parallel()

	slow := &recordingNotifier{name: "slow", block: make(chan struct{})}
	d := NewDispatcher(5*time.Second, zap.NewNop(), slow)

	returned := make(chan struct{})
	go func() {
		d.Dispatch(testEvent)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a slow notifier")
	}

	close(slow.block)
	d.Wait()
	assert.Equal(t, 1, slow.count())
}

func TestDispatcherAppliesTimeout(t *testing.T) {
	t.Parallel()

	stuck := &recordingNotifier{name: "stuck", block: make(chan struct{})}
	d := NewDispatcher(20*time.Millisecond, zap.NewNop(), stuck)

	d.Dispatch(testEvent)
	d.Wait()
	assert.Zero(t, stuck.count())
}

func TestWebhookPostsEvent(t *testing.T) {
	t.Parallel()

	var got model.CallNotification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhook(srv.URL, srv.Client()).Notify(context.Background(), testEvent))
	assert.Equal(t, testEvent, got)
}

func TestWebhookNon2xxIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, srv.Client()).Notify(context.Background(), testEvent)
	assert.ErrorContains(t, err, "status 500")
}

type fakeProducer struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

func (f *fakeProducer) ProduceMessage(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	f.topic, f.key, f.value, f.headers = topic, key, value, headers
	return nil
}

func TestKafkaPublisherKeysBySource(t *testing.T) {
	t.Parallel()

	p := &fakeProducer{}
	require.NoError(t, NewKafkaPublisher(p, "call-requests").Notify(context.Background(), testEvent))

	assert.Equal(t, "call-requests", p.topic)
	assert.Equal(t, "203.0.113.7", string(p.key))
	assert.Equal(t, "req-1", p.headers["request_id"])

	var decoded model.CallNotification
	require.NoError(t, json.Unmarshal(p.value, &decoded))
	assert.Equal(t, testEvent, decoded)
}
