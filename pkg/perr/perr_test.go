package perr

import (
	"errors"
	"testing"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindTransientNetwork, "transient_network"},
		{KindRateLimited, "rate_limited"},
		{KindInvalidInput, "invalid_input"},
		{KindResourceExhausted, "resource_exhausted"},
		{KindProviderUnavailable, "provider_unavailable"},
		{KindParseFailure, "parse_failure"},
		{KindPartialFailure, "partial_failure"},
		{KindCancelled, "cancelled"},
		{KindCorruptState, "corrupt_state"},
		{Kind(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestNew_DefaultRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindTransientNetwork, true},
		{KindRateLimited, true},
		{KindInvalidInput, false},
		{KindCancelled, false},
		{KindCorruptState, false},
	}
	for _, tt := range tests {
		err := New(tt.kind, "FETCH", nil, "")
		if err.Retryable != tt.want {
			t.Errorf("New(%v).Retryable = %v, want %v", tt.kind, err.Retryable, tt.want)
		}
	}
}

func TestPipelineError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := New(KindTransientNetwork, "FETCH", cause, "could not download video")

	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}

	var pe *PipelineError
	if !errors.As(err, &pe) {
		t.Fatal("errors.As failed to unwrap PipelineError")
	}
	if pe.Kind != KindTransientNetwork {
		t.Errorf("Kind = %v, want %v", pe.Kind, KindTransientNetwork)
	}
}

func TestPipelineError_Error(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := New(KindTransientNetwork, "FETCH", cause, "")
	if got := err.Error(); got != "FETCH: transient_network: dial tcp: timeout" {
		t.Errorf("Error() = %q", got)
	}

	noCause := New(KindCancelled, "TRANSLATE", nil, "run cancelled by user")
	if got := noCause.Error(); got != "TRANSLATE: cancelled: run cancelled by user" {
		t.Errorf("Error() = %q", got)
	}
}

func TestPipelineError_Is(t *testing.T) {
	a := New(KindRateLimited, "TRANSLATE", nil, "")
	b := New(KindRateLimited, "ANALYZE", errors.New("429"), "")
	c := New(KindParseFailure, "ANALYZE", nil, "")

	if !errors.Is(a, b) {
		t.Error("expected a and b to match by Kind")
	}
	if errors.Is(a, c) {
		t.Error("expected a and c to differ by Kind")
	}
}
