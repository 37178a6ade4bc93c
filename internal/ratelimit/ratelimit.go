// Package ratelimit meters anonymous chat turns per client IP over a rolling
// window anchored to the first request in the window.
package ratelimit

import (
	"context"
	"time"
)

const (
	DefaultLimit  = 3
	DefaultWindow = 24 * time.Hour

	// Unlimited is reported as remaining for authenticated callers.
	Unlimited = -1
)

type Status struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at,omitzero"`
}

// Store is the per-IP quota ledger. Implementations must make Increment
// atomic per IP: concurrent callers never charge past the limit.
type Store interface {
	// Check reports the quota without charging. It creates a fresh record if
	// none exists and rolls an expired window over.
	Check(ctx context.Context, ip string) (Status, error)
	// Increment charges one request. When the window is already exhausted
	// nothing is charged and Allowed is false.
	Increment(ctx context.Context, ip string) (Status, error)
	// IncrementOnce charges like Increment unless key was already charged
	// for ip in the current window. A repeated key is never charged and never
	// rejected; replay reports that case.
	IncrementOnce(ctx context.Context, ip, key string) (st Status, replay bool, err error)
	// Status is read-only and never creates or mutates a record.
	Status(ctx context.Context, ip string) (Status, error)
	// Reset deletes the record for ip.
	Reset(ctx context.Context, ip string) error
}

// NewStatus derives the caller-facing view of a window holding count charges.
func NewStatus(count, limit int, resetAt time.Time) Status {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Status{Allowed: count < limit, Remaining: remaining, ResetAt: resetAt}
}

// UnlimitedStatus is what authenticated callers see.
func UnlimitedStatus() Status {
	return Status{Allowed: true, Remaining: Unlimited}
}
