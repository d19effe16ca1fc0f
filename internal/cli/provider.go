package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/clipforge/pipeline/pkg/llm"
	"github.com/clipforge/pipeline/pkg/llm/anthropic"
	"github.com/clipforge/pipeline/pkg/llm/gemini"
	"github.com/clipforge/pipeline/pkg/llm/openai"
)

// defaultProviderFactory creates providers using an API key read from
// apiKeyEnv. baseURL, when set, redirects an "openai" backend at an
// OpenAI-compatible local inference server instead of api.openai.com —
// this is how a BackendConfig with Provider "openai" serves the "local"
// role.
func defaultProviderFactory(ctx context.Context, backend string, apiKeyEnv, baseURL string) (llm.Provider, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" && backend != "openai" {
		return nil, fmt.Errorf("%s is not set (required for backend %q)", apiKeyEnv, backend)
	}

	switch backend {
	case "openai":
		var opts []openai.Option
		if baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		return openai.New(apiKey, opts...), nil
	case "anthropic":
		return anthropic.New(apiKey), nil
	case "gemini":
		return gemini.New(ctx, apiKey)
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}
