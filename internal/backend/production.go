package backend

import (
	"context"
	"fmt"
	"net/http"
)

const maxErrorBodyInCause = 256

// Production forwards the call to the hosted call backend. A 2xx reply is
// passed through unchanged; anything else is reported as unavailable.
type Production struct {
	url    string
	apiKey string
	client *http.Client
}

func NewProduction(url, apiKey string, client *http.Client) *Production {
	return &Production{url: url, apiKey: apiKey, client: client}
}

func (p *Production) Kind() Kind { return KindProduction }

func (p *Production) Dispatch(ctx context.Context, call Call) (*Result, error) {
	if p.apiKey == "" {
		return nil, &DispatchError{
			Err:     ErrMisconfigured,
			Details: "The call service is not configured. Please contact support.",
		}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.apiKey)
	header.Set("User-Agent", userAgent)
	header.Set("X-Request-ID", call.RequestID)

	resp, body, err := postJSON(ctx, p.client, p.url, call, header)
	if err != nil {
		return nil, &DispatchError{
			Err:     ErrUnavailable,
			Details: "Could not connect to the call service. Please try again later.",
			Cause:   err,
		}
	}
	if !is2xx(resp.StatusCode) {
		if len(body) > maxErrorBodyInCause {
			body = body[:maxErrorBodyInCause]
		}
		return nil, &DispatchError{
			Err:     ErrUnavailable,
			Details: "The call service could not schedule the call. Please try again later.",
			Cause:   fmt.Errorf("backend returned status %d: %s", resp.StatusCode, body),
		}
	}
	return &Result{StatusCode: resp.StatusCode, Body: body}, nil
}
