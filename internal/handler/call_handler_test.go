package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"demo-call-service/internal/backend"
	"demo-call-service/internal/model"
	"demo-call-service/internal/ratelimit"
	"demo-call-service/internal/service"
)

type fakeCalls struct {
	result *backend.Result
	err    error

	gotReq  model.CallRequest
	gotMeta model.RequestMeta
	calls   int
	rejects int
}

func (f *fakeCalls) RejectMalformed(meta model.RequestMeta) error {
	f.rejects++
	f.gotMeta = meta
	return service.ErrMalformedBody
}

func (f *fakeCalls) StartCall(_ context.Context, req model.CallRequest, meta model.RequestMeta) (*backend.Result, error) {
	f.calls++
	f.gotReq = req
	f.gotMeta = meta
	return f.result, f.err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestRouter(calls CallStarter, pinger StorePinger) http.Handler {
	h := NewCallHandler(calls, pinger, zap.NewNop())
	return NewRouter(h, RouterOptions{AllowedOrigins: []string{"https://demo.example.com"}}, zap.NewNop())
}

func postStartCall(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/start_call", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://demo.example.com")
	req.Header.Set("Referer", "https://demo.example.com/try")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestStartCallRelaysBackendResponse(t *testing.T) {
	calls := &fakeCalls{result: &backend.Result{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"message":"Call scheduled","data":{"mock":true}}`),
	}}
	router := newTestRouter(calls, fakePinger{})

	rec := postStartCall(t, router, `{"phone_number":"912345678","persona":"sales","customer_name":"Ana"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"Call scheduled","data":{"mock":true}}`, rec.Body.String())

	require.Equal(t, 1, calls.calls)
	assert.Equal(t, "912345678", calls.gotReq.PhoneNumber)
	assert.Equal(t, "sales", calls.gotReq.Persona)
	assert.Equal(t, "Ana", calls.gotReq.CustomerName)
	assert.Equal(t, model.RequestMeta{
		Origin:    "https://demo.example.com",
		Referer:   "https://demo.example.com/try",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64)",
		ClientIP:  "203.0.113.7",
	}, calls.gotMeta)
}

func TestStartCallProductionFailureIsServiceUnavailable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer upstream.Close()

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), time.Hour, zap.NewNop())
	calls := service.NewCallService(
		service.Options{AllowedOrigins: []string{"https://demo.example.com"}, CountryCode: "351", DefaultCustomerName: "Website User"},
		limiter,
		backend.NewProduction(upstream.URL, "secret", upstream.Client()),
		nil,
		nil,
		nil,
		zap.NewNop(),
	)

	rec := postStartCall(t, newTestRouter(calls, limiter), `{"phone_number":"912345678","persona":"sales"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Details)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestStartCallRejectsMalformedJSON(t *testing.T) {
	calls := &fakeCalls{}
	rec := postStartCall(t, newTestRouter(calls, fakePinger{}), `{"phone_number":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, calls.calls)
	assert.Equal(t, 1, calls.rejects)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "Invalid request body", resp.Error)
}

func TestStartCallMalformedBodyChecksOriginFirst(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), time.Hour, zap.NewNop())
	calls := service.NewCallService(
		service.Options{AllowedOrigins: []string{"https://other.example.com"}, CountryCode: "351"},
		limiter,
		backend.NewMock(),
		nil,
		nil,
		nil,
		zap.NewNop(),
	)
	router := newTestRouter(calls, limiter)

	rec := postStartCall(t, router, `{"phone_number":`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/start_call", strings.NewReader(`not json`))
	req.Header.Set("Origin", "https://other.example.com")
	req.Header.Set("User-Agent", "curl/8.0")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/start_call", strings.NewReader(`not json`))
	req.Header.Set("Origin", "https://other.example.com")
	req.Header.Set("User-Agent", "Mozilla/5.0")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decodeResponse(t, rec).Error)
}

func TestStartCallRateLimited(t *testing.T) {
	calls := &fakeCalls{err: &service.RateLimitedError{RetryAfter: 29*time.Minute + 30*time.Second}}
	rec := postStartCall(t, newTestRouter(calls, fakePinger{}), `{"phone_number":"1","persona":"sales"}`)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1770", rec.Header().Get("Retry-After"))
	resp := decodeResponse(t, rec)
	assert.Equal(t, "Too many requests", resp.Error)
	assert.Equal(t, 30, resp.RetryAfter)
}

func TestStartCallErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		details string
	}{
		{
			name:   "validation",
			err:    &service.ValidationError{Problems: []string{"phone_number is required"}},
			status: http.StatusBadRequest,
		},
		{
			name:   "forbidden origin",
			err:    service.ErrForbiddenOrigin,
			status: http.StatusForbidden,
		},
		{
			name:   "forbidden client",
			err:    service.ErrForbiddenClient,
			status: http.StatusForbidden,
		},
		{
			name:    "local backend down",
			err:     &backend.DispatchError{Err: backend.ErrUnreachable, Details: "Is the local backend running?"},
			status:  http.StatusBadGateway,
			details: "Is the local backend running?",
		},
		{
			name:   "production network failure",
			err:    &backend.DispatchError{Err: backend.ErrUnavailable, Cause: errors.New("dial tcp: refused")},
			status: http.StatusServiceUnavailable,
		},
		{
			name:    "production key missing",
			err:     &backend.DispatchError{Err: backend.ErrMisconfigured, Details: "PRODUCTION_API_KEY is not set"},
			status:  http.StatusServiceUnavailable,
			details: "PRODUCTION_API_KEY is not set",
		},
		{
			name:   "unexpected",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := &fakeCalls{err: tt.err}
			rec := postStartCall(t, newTestRouter(calls, fakePinger{}), `{"phone_number":"1","persona":"sales"}`)

			assert.Equal(t, tt.status, rec.Code)
			resp := decodeResponse(t, rec)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.details, resp.Details)
			assert.Empty(t, rec.Header().Get("Retry-After"))
		})
	}
}

func TestValidationErrorMessageNamesFields(t *testing.T) {
	calls := &fakeCalls{err: &service.ValidationError{Problems: []string{"phone_number is required", "persona is required"}}}
	rec := postStartCall(t, newTestRouter(calls, fakePinger{}), `{}`)

	resp := decodeResponse(t, rec)
	assert.Contains(t, resp.Error, "phone_number is required")
	assert.Contains(t, resp.Error, "persona is required")
}

func TestRateLimitHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestRouter(&fakeCalls{}, fakePinger{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ratelimit/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, decodeResponse(t, rec).Success)
	})

	t.Run("store down", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestRouter(&fakeCalls{}, fakePinger{err: errors.New("connection refused")}).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ratelimit/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		resp := decodeResponse(t, rec)
		assert.False(t, resp.Success)
		assert.Equal(t, "connection refused", resp.Error)
	})
}

func TestRouterServiceRoutes(t *testing.T) {
	router := newTestRouter(&fakeCalls{}, fakePinger{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"demo-call-service"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/start_call", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterCORSPreflight(t *testing.T) {
	router := newTestRouter(&fakeCalls{}, fakePinger{})

	req := httptest.NewRequest(http.MethodOptions, "/api/start_call", nil)
	req.Header.Set("Origin", "https://demo.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://demo.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequireHTTPS(t *testing.T) {
	h := NewCallHandler(&fakeCalls{}, fakePinger{}, zap.NewNop())
	router := NewRouter(h, RouterOptions{RequireHTTPS: true}, zap.NewNop())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusUpgradeRequired, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
