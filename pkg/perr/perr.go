// Package perr defines the pipeline's error taxonomy. Stages and
// collaborators return typed errors classified by Kind rather than
// distinguishing failures through Go error types or panics, so the
// StageRunner and PipelineCoordinator can apply a uniform retry and
// escalation policy.
package perr

import "fmt"

// Kind classifies the cause of a pipeline failure.
type Kind int

const (
	// KindTransientNetwork covers fetcher and remote LLM network failures
	// that are expected to clear on retry.
	KindTransientNetwork Kind = iota
	// KindRateLimited covers remote LLM 429-style responses.
	KindRateLimited
	// KindInvalidInput covers malformed user input: bad URLs, bad edit
	// segments. Never retryable.
	KindInvalidInput
	// KindResourceExhausted covers gate timeouts, disk exhaustion, OOM.
	KindResourceExhausted
	// KindProviderUnavailable covers a local LLM backend being down.
	KindProviderUnavailable
	// KindParseFailure covers an LLM response that could not be parsed
	// into the expected structure.
	KindParseFailure
	// KindPartialFailure covers translation batches where some segments
	// failed but the batch as a whole is accepted.
	KindPartialFailure
	// KindCancelled covers user-initiated cancellation.
	KindCancelled
	// KindCorruptState covers checkpoint load failures: malformed state,
	// or a lock already held by another process.
	KindCorruptState
)

// String returns the taxonomy name used in logs and error messages.
func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindRateLimited:
		return "rate_limited"
	case KindInvalidInput:
		return "invalid_input"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindProviderUnavailable:
		return "provider_unavailable"
	case KindParseFailure:
		return "parse_failure"
	case KindPartialFailure:
		return "partial_failure"
	case KindCancelled:
		return "cancelled"
	case KindCorruptState:
		return "corrupt_state"
	default:
		return "unknown"
	}
}

// defaultRetryable reports the taxonomy's default retry policy for the kind.
// Callers may override this per-instance via PipelineError.Retryable.
func (k Kind) defaultRetryable() bool {
	switch k {
	case KindTransientNetwork, KindRateLimited, KindProviderUnavailable,
		KindParseFailure, KindPartialFailure:
		return true
	case KindResourceExhausted:
		// Retried on the normal stage budget; no configuration is changed
		// between attempts.
		return true
	default:
		return false
	}
}

// PipelineError is the structured error returned by stages and escalated
// to the PipelineCoordinator per spec §7.
type PipelineError struct {
	// Kind classifies the failure.
	Kind Kind
	// Stage names the stage that produced the error, e.g. "TRANSCRIBE".
	Stage string
	// Cause is the underlying error, if any.
	Cause error
	// Retryable is set by New from the kind's default retry policy; a
	// caller may change it to override that policy for this instance.
	Retryable bool
	// UserMessage is a human-readable description safe to surface to the
	// caller.
	UserMessage string
}

// New creates a PipelineError with the kind's default retry policy.
func New(kind Kind, stage string, cause error, userMessage string) *PipelineError {
	return &PipelineError{
		Kind:        kind,
		Stage:       stage,
		Cause:       cause,
		Retryable:   kind.defaultRetryable(),
		UserMessage: userMessage,
	}
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Kind, e.UserMessage)
}

// Unwrap exposes the underlying cause for errors.As/errors.Is.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a PipelineError with the same Kind. This
// lets callers write `errors.Is(err, perr.New(perr.KindCancelled, "", nil, ""))`
// style checks, though comparing Kind directly after errors.As is usually
// clearer.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
