package llmrouter

import (
	"strings"

	"github.com/clipforge/pipeline/pkg/perr"
)

// classifyProviderError maps an error returned by an llm.Provider into the
// pipeline's error taxonomy. Providers wrap transport/API errors with
// fmt.Errorf rather than exposing a common typed error, so classification
// here is substring-based against the status text each SDK includes in its
// wrapped error message.
func classifyProviderError(err error) error {
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "429", "rate limit", "too many requests"):
		return perr.New(perr.KindRateLimited, "", err, "LLM provider rate limit exceeded")
	case containsAny(msg, "insufficient_quota", "quota exceeded", "billing"):
		return perr.New(perr.KindInvalidInput, "", err, "LLM provider quota exceeded")
	case containsAny(msg, "503", "502", "overloaded", "unavailable", "connection refused", "timeout"):
		return perr.New(perr.KindProviderUnavailable, "", err, "LLM provider unavailable")
	default:
		return perr.New(perr.KindProviderUnavailable, "", err, "LLM provider call failed")
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isRateLimited(err error) bool {
	pe, ok := err.(*perr.PipelineError)
	if !ok {
		return false
	}
	return pe.Kind == perr.KindRateLimited
}
