package llm

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a model-reported generation error.
type Kind int

const (
	// KindUnknown is an unclassified error. Never retried.
	KindUnknown Kind = iota
	// KindTransient is a timeout or provider-side failure. Retryable.
	KindTransient
	// KindMalformed is unparseable or empty output. Retryable with a fresh seed.
	KindMalformed
	// KindRefusal is a guardrail refusal. Retrying rarely helps; never retried.
	KindRefusal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed"
	case KindRefusal:
		return "refusal"
	default:
		return "unknown"
	}
}

// GenError is a classifiable generation error from the model session.
type GenError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *GenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GenError) Unwrap() error { return e.Err }

// Transient wraps err as a transient generation error.
func Transient(msg string, err error) *GenError {
	return &GenError{Kind: KindTransient, Message: msg, Err: err}
}

// Malformed wraps err as a malformed-output error.
func Malformed(msg string, err error) *GenError {
	return &GenError{Kind: KindMalformed, Message: msg, Err: err}
}

// Refusal marks a guardrail refusal.
func Refusal(msg string) *GenError {
	return &GenError{Kind: KindRefusal, Message: msg}
}

// KindOf classifies an arbitrary error. Context deadline expiry counts as
// transient so a timed-out attempt burns retry budget like any other failure.
func KindOf(err error) Kind {
	var genErr *GenError
	if errors.As(err, &genErr) {
		return genErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}

// Retryable reports whether the error is a known-retryable condition.
// Only known-retryable conditions may burn retry attempts.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindMalformed:
		return true
	default:
		return false
	}
}
