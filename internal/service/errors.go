package service

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"demo-call-service/internal/backend"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrForbiddenOrigin = errors.New("origin not allowed")
	ErrForbiddenClient = errors.New("client not allowed")
	ErrMalformedBody   = fmt.Errorf("%w: request body must be valid JSON", ErrInvalidInput)

	ErrBackendUnreachable   = backend.ErrUnreachable
	ErrBackendUnavailable   = backend.ErrUnavailable
	ErrBackendMisconfigured = backend.ErrMisconfigured
)

// ValidationError names the fields that failed validation.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// RateLimitedError is returned while the source is inside its cooldown window.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %d minutes", e.RetryAfterMinutes())
}

// RetryAfterMinutes rounds the remaining cooldown up to whole minutes.
func (e *RateLimitedError) RetryAfterMinutes() int {
	return int(math.Ceil(e.RetryAfter.Minutes()))
}

// RetryAfterSeconds rounds the remaining cooldown up to whole seconds.
func (e *RateLimitedError) RetryAfterSeconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}
