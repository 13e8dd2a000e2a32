package model

import (
	"errors"
	"fmt"
)

// Kind classifies a model invocation failure. Classification happens at the
// transport boundary, where status codes and net errors are still visible,
// so downstream code never re-derives the kind from error message text.
type Kind int

const (
	// KindOther covers failures that fit no specific class.
	KindOther Kind = iota
	// KindServiceUnavailable means the model backend is down or overloaded.
	KindServiceUnavailable
	// KindMalformedRequest means the service rejected the prompt itself.
	KindMalformedRequest
	// KindTimeout means the call exceeded its deadline.
	KindTimeout
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindMalformedRequest:
		return "malformed_request"
	case KindTimeout:
		return "timeout"
	default:
		return "other"
	}
}

// Error is a classified model invocation failure.
type Error struct {
	Kind Kind
	Op   string // e.g. "chat completion"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("model %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("model %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from err. Unclassified errors are KindOther.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindOther
}
