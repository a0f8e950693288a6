package backend

import (
	"context"
	"encoding/json"
	"net/http"
)

type ProviderConfig struct {
	URL           string
	APIKey        string
	AgentID       string
	PhoneNumberID string
}

// Provider places the call directly through the voice-AI provider's
// outbound-call API.
type Provider struct {
	cfg    ProviderConfig
	client *http.Client
}

type outboundCallRequest struct {
	AgentID            string `json:"agent_id"`
	AgentPhoneNumberID string `json:"agent_phone_number_id"`
	ToNumber           string `json:"to_number"`
}

type providerResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Text    string          `json:"text,omitempty"`
}

func NewProvider(cfg ProviderConfig, client *http.Client) *Provider {
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Kind() Kind { return KindProvider }

func (p *Provider) Dispatch(ctx context.Context, call Call) (*Result, error) {
	if p.cfg.APIKey == "" || p.cfg.AgentID == "" || p.cfg.PhoneNumberID == "" {
		return nil, &DispatchError{
			Err:     ErrMisconfigured,
			Details: "The voice provider credentials are not configured.",
		}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	header.Set("User-Agent", userAgent)

	resp, body, err := postJSON(ctx, p.client, p.cfg.URL, outboundCallRequest{
		AgentID:            p.cfg.AgentID,
		AgentPhoneNumberID: p.cfg.PhoneNumberID,
		ToNumber:           call.PhoneNumber,
	}, header)
	if err != nil {
		return nil, &DispatchError{
			Err:     ErrUnavailable,
			Details: "Could not connect to the voice provider. Please try again later.",
			Cause:   err,
		}
	}

	if !json.Valid(body) {
		return JSON(http.StatusInternalServerError, providerResponse{
			Error: "Failed to parse response",
			Text:  string(body),
		})
	}

	if !is2xx(resp.StatusCode) {
		var failure struct {
			Error json.RawMessage `json:"error"`
		}
		_ = json.Unmarshal(body, &failure)

		msg := "API call failed"
		var s string
		if len(failure.Error) > 0 {
			if json.Unmarshal(failure.Error, &s) == nil && s != "" {
				msg = s
			} else if string(failure.Error) != "null" {
				msg = string(failure.Error)
			}
		}
		return JSON(resp.StatusCode, providerResponse{Error: msg})
	}

	return JSON(http.StatusOK, providerResponse{Success: true, Data: body})
}
