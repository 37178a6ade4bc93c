package common

import (
	"errors"
	"time"
)

// Kind is the machine-readable error class carried across the HTTP boundary.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindRateLimited            Kind = "rate_limited"
	KindAuth                   Kind = "auth"
	KindForbidden              Kind = "forbidden"
	KindNotFound               Kind = "not_found"
	KindConflict               Kind = "conflict"
	KindTransient              Kind = "transient"
	KindStorageUnavailable     Kind = "storage_unavailable"
	KindGeneration             Kind = "generation"
	KindGenerationUnconfigured Kind = "generation_unconfigured"
	KindInternal               Kind = "internal"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error

	// set for KindRateLimited
	ResetAt time.Time
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind) + ": " + e.Msg
	}
	return string(e.Kind) + ": " + e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string) error { return &Error{Kind: KindValidation, Msg: msg} }

func Unauthorized(msg string) error { return &Error{Kind: KindAuth, Msg: msg} }

func Forbidden(msg string) error { return &Error{Kind: KindForbidden, Msg: msg} }

func NotFound(msg string) error { return &Error{Kind: KindNotFound, Msg: msg} }

func Conflict(msg string) error { return &Error{Kind: KindConflict, Msg: msg} }

func RateLimited(resetAt time.Time) error {
	return &Error{
		Kind:    KindRateLimited,
		Msg:     "guest message limit reached, sign in to continue",
		ResetAt: resetAt,
	}
}

func StorageUnavailable(err error) error {
	return &Error{Kind: KindStorageUnavailable, Msg: "storage unavailable", Err: err}
}

func Transient(msg string, err error) error {
	return &Error{Kind: KindTransient, Msg: msg, Err: err}
}

func Generation(err error) error {
	return &Error{Kind: KindGeneration, Msg: "failed to generate a response", Err: err}
}

func GenerationUnconfigured(msg string) error {
	return &Error{Kind: KindGenerationUnconfigured, Msg: msg}
}

func Internal(err error) error {
	return &Error{Kind: KindInternal, Msg: "internal error", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Retryable reports whether a client may retry automatically.
// Generation failures need a manual retry.
func Retryable(k Kind) bool {
	switch k {
	case KindTransient, KindStorageUnavailable:
		return true
	default:
		return false
	}
}
