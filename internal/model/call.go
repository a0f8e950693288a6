package model

import "time"

// PersonaCustom selects the caller-supplied prompt instead of a built-in persona.
const PersonaCustom = "custom"

// -------------------- CALL REQUEST --------------------
type CallRequest struct {
	PhoneNumber  string `json:"phone_number" validate:"required"`
	Persona      string `json:"persona" validate:"required"`
	CustomerName string `json:"customer_name,omitempty"`
	CustomPrompt string `json:"custom_prompt,omitempty" validate:"required_if=Persona custom"`
	RequestID    string `json:"request_id,omitempty"`
}

// RequestMeta carries the transport-level facts the call service checks.
type RequestMeta struct {
	Origin    string
	Referer   string
	UserAgent string
	ClientIP  string
}

// -------------------- NOTIFICATION --------------------
// CallNotification is published to the automation webhook and the call event topic.
type CallNotification struct {
	RequestID    string    `json:"request_id"`
	PhoneNumber  string    `json:"phone_number"`
	Persona      string    `json:"persona"`
	CustomerName string    `json:"customer_name"`
	CustomPrompt string    `json:"custom_prompt,omitempty"`
	Backend      string    `json:"backend"`
	SourceIP     string    `json:"source_ip"`
	RequestedAt  time.Time `json:"requested_at"`
}

// -------------------- ANALYTICS --------------------
type CallOutcome string

const (
	OutcomeDispatched      CallOutcome = "dispatched"
	OutcomeRejectedOrigin  CallOutcome = "rejected_origin"
	OutcomeRejectedClient  CallOutcome = "rejected_client"
	OutcomeInvalid         CallOutcome = "invalid"
	OutcomeRateLimited     CallOutcome = "rate_limited"
	OutcomeBackendError    CallOutcome = "backend_error"
	OutcomeBackendRejected CallOutcome = "backend_rejected"
)

// CallAttempt is one row of call-initiation analytics.
type CallAttempt struct {
	RequestID  string      `json:"request_id" ch:"request_id"`
	OccurredAt time.Time   `json:"occurred_at" ch:"occurred_at"`
	SourceIP   string      `json:"source_ip" ch:"source_ip"`
	PhoneHash  string      `json:"phone_hash" ch:"phone_hash"`
	Origin     string      `json:"origin" ch:"origin"`
	UserAgent  string      `json:"user_agent" ch:"user_agent"`
	Persona    string      `json:"persona" ch:"persona"`
	Backend    string      `json:"backend" ch:"backend"`
	Outcome    CallOutcome `json:"outcome" ch:"outcome"`
	StatusCode int         `json:"status_code" ch:"status_code"`
}
