// Package ratelimit enforces the per-source cooldown between demo calls.
package ratelimit

import (
	"context"
	"errors"
)

// ErrStoreUnavailable is returned by stores that were never configured.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Acquisition is the result of a single conditional upsert.
type Acquisition struct {
	Allowed bool
	// LastRequestTime is the stored timestamp that caused a rejection (unix seconds).
	LastRequestTime int64
}

// Store persists one record per source identifier.
//
// Acquire must be atomic: insert the record if absent, or refresh it to now when
// the stored timestamp is at least window seconds old, otherwise leave it untouched
// and report the stored timestamp.
type Store interface {
	Acquire(ctx context.Context, sourceID string, now, window int64) (Acquisition, error)
	Purge(ctx context.Context, cutoff int64) (int64, error)
	Ping(ctx context.Context) error
}
