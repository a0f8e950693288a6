// Package backend holds the call-origination strategies. Exactly one is selected
// at startup.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"demo-call-service/internal/config"
)

type Kind string

const (
	KindLocal      Kind = "local"
	KindProduction Kind = "production"
	KindProvider   Kind = "provider"
	KindMock       Kind = "mock"
)

var (
	// ErrUnreachable maps to 502: the backend could not be reached or refused the call.
	ErrUnreachable = errors.New("call backend unreachable")
	// ErrUnavailable maps to 503: a network failure talking to a remote backend.
	ErrUnavailable = errors.New("call backend unavailable")
	// ErrMisconfigured maps to 503: required credentials are missing.
	ErrMisconfigured = errors.New("call backend misconfigured")
)

// DispatchError carries an operator hint alongside one of the sentinel errors.
type DispatchError struct {
	Err     error
	Details string
	Cause   error
}

func (e *DispatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %v", e.Err, e.Cause)
	}
	return e.Err.Error()
}

func (e *DispatchError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// Call is the validated, normalized request forwarded to a backend.
type Call struct {
	RequestID    string `json:"request_id"`
	PhoneNumber  string `json:"phone_number"`
	Persona      string `json:"persona"`
	CustomerName string `json:"customer_name"`
	CustomPrompt string `json:"custom_prompt,omitempty"`
}

// Result is the response relayed to the browser verbatim.
type Result struct {
	StatusCode int
	Body       []byte
}

// JSON builds a Result from a value.
func JSON(status int, v interface{}) (*Result, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode backend result: %w", err)
	}
	return &Result{StatusCode: status, Body: body}, nil
}

type Backend interface {
	Kind() Kind
	Dispatch(ctx context.Context, call Call) (*Result, error)
}

// New picks the strategy named by CALL_BACKEND, or derives one: development
// uses the local backend, a configured production URL uses production, and
// anything else gets the mock acknowledgment.
func New(cfg *config.Config, httpClient *http.Client, logger *zap.Logger) (Backend, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Call.BackendTimeout}
	}

	kind := Kind(cfg.Call.Backend)
	if kind == "" {
		switch {
		case cfg.IsDevelopment():
			kind = KindLocal
		case cfg.Call.ProductionAPIURL != "":
			kind = KindProduction
		default:
			kind = KindMock
		}
	}

	var b Backend
	switch kind {
	case KindLocal:
		b = NewLocal(cfg.Call.LocalBackendURL, httpClient)
	case KindProduction:
		if cfg.Call.ProductionAPIURL == "" {
			return nil, fmt.Errorf("PRODUCTION_API_URL is required for the production backend")
		}
		if cfg.Call.ProductionAPIKey == "" {
			logger.Warn("PRODUCTION_API_KEY is not set, call requests will be refused")
		}
		b = NewProduction(cfg.Call.ProductionAPIURL, cfg.Call.ProductionAPIKey, httpClient)
	case KindProvider:
		b = NewProvider(ProviderConfig{
			URL:           cfg.Call.ProviderOutboundURL,
			APIKey:        cfg.Call.ProviderAPIKey,
			AgentID:       cfg.Call.ProviderAgentID,
			PhoneNumberID: cfg.Call.ProviderPhoneNumber,
		}, httpClient)
	case KindMock:
		logger.Warn("No call backend configured, returning mock acknowledgments")
		b = NewMock()
	default:
		return nil, fmt.Errorf("unknown CALL_BACKEND %q", kind)
	}

	logger.Info("Call backend selected", zap.String("backend", string(b.Kind())))
	return b, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}, header http.Header) (*http.Response, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp, respBody, nil
}

func is2xx(status int) bool {
	return status >= 200 && status < 300
}

const userAgent = "demo-call-service/1.0"
