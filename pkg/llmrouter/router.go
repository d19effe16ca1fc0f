// Package llmrouter selects an LLM backend per task kind, applies a
// per-provider timeout and rate limit, retries rate-limited remote calls
// with exponential backoff, and falls back from local to remote on failure
// with an augmented strict-schema prompt.
package llmrouter

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/clipforge/pipeline/pkg/cost"
	"github.com/clipforge/pipeline/pkg/llm"
	"github.com/clipforge/pipeline/pkg/perr"
	"github.com/clipforge/pipeline/pkg/responseparser"
	"github.com/clipforge/pipeline/pkg/trace/metrics"
)

// TaskKind names one of the LLM-backed analysis/translation tasks the
// pipeline routes independently.
type TaskKind string

const (
	TaskHighlightDetection TaskKind = "highlight_detection"
	TaskChapterDetection   TaskKind = "chapter_detection"
	TaskTranslation        TaskKind = "translation"
	TaskTitleGeneration    TaskKind = "title_generation"
)

// Role is the abstract routing target a task kind resolves to; Backends
// maps each role to the concrete provider that serves it.
type Role string

const (
	RoleLocal  Role = "local"
	RoleRemote Role = "remote"
)

// Backend pairs a concrete llm.Provider with the model it should be
// called with.
type Backend struct {
	Provider llm.Provider
	Model    string
}

// Config configures routing, fallback, and rate limiting.
type Config struct {
	// Routing maps each task kind to the role that serves it.
	Routing map[TaskKind]Role
	// Backends maps each role to its concrete provider/model.
	Backends map[Role]Backend
	// FallbackEnabled allows a one-shot fallback from local to remote.
	FallbackEnabled bool
	// RPM is the requests-per-minute budget for the remote role.
	RPM int
	// Temperature is the default sampling temperature for all calls.
	Temperature *float64
	// MaxOutputTokens caps response length.
	MaxOutputTokens int
	// ProviderTimeout bounds a single call to any one backend.
	ProviderTimeout time.Duration
	// RetryBudget bounds rate-limit backoff retries for the remote role.
	RetryBudget int
	// Metrics, if non-nil, records fallback and call-count metrics.
	Metrics *metrics.Registry
	// CostTracker, if non-nil, records token usage/cost per task kind.
	CostTracker *cost.Tracker
}

// Request is a single LLMRouter call.
type Request struct {
	Task   TaskKind
	Prompt string
	Schema responseparser.Schema
}

// Result is a successfully parsed LLMRouter response.
type Result struct {
	Raw      string
	Role     Role
	Model    string
	Fallback bool
	Usage    llm.Usage
}

// Router implements spec's LLMRouter.
type Router struct {
	cfg     Config
	limiter *tokenBucket
}

// New creates a Router. If cfg.RPM is 0, a default of 60 is used.
func New(cfg Config) *Router {
	rpm := cfg.RPM
	if rpm <= 0 {
		rpm = 60
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = 3
	}
	return &Router{
		cfg:     cfg,
		limiter: newTokenBucket(rpm),
	}
}

// Execute runs req's prompt against the routed provider, parses and
// validates the response, and falls back to remote once on failure when
// eligible, per spec §4.4's algorithm.
func (r *Router) Execute(ctx context.Context, req Request) (*Result, error) {
	role, ok := r.cfg.Routing[req.Task]
	if !ok {
		role = RoleRemote
	}

	result, err := r.callRole(ctx, req, role)
	if err == nil {
		return result, nil
	}

	if role == RoleLocal && r.cfg.FallbackEnabled && isFallbackEligible(err) {
		r.incMetric("llmrouter_fallback_total", map[string]string{"task": string(req.Task)})
		augmented := req
		augmented.Prompt = augmentStrictSchema(req.Prompt, req.Schema)
		result, fbErr := r.callRole(ctx, augmented, RoleRemote)
		if fbErr == nil {
			result.Fallback = true
			return result, nil
		}
		return nil, fbErr
	}

	return nil, err
}

func isFallbackEligible(err error) bool {
	var pe *perr.PipelineError
	switch e := err.(type) {
	case *perr.PipelineError:
		pe = e
	default:
		return true
	}
	switch pe.Kind {
	case perr.KindInvalidInput:
		return false
	default:
		return true
	}
}

func (r *Router) callRole(ctx context.Context, req Request, role Role) (*Result, error) {
	backend, ok := r.cfg.Backends[role]
	if !ok || backend.Provider == nil {
		return nil, perr.New(perr.KindProviderUnavailable, "", nil, string(role)+" backend not configured")
	}

	if role == RoleRemote {
		if err := r.limiter.take(ctx); err != nil {
			return nil, err
		}
	}

	r.incMetric("llmrouter_calls_total", map[string]string{"role": string(role), "task": string(req.Task)})

	var lastErr error
	budget := 1
	if role == RoleRemote {
		budget = r.cfg.RetryBudget
	}

	for attempt := 0; attempt < budget; attempt++ {
		resp, err := r.callOnce(ctx, req, backend)
		if err == nil {
			parsed := responseparser.Parse(resp.Message.Content, req.Schema)
			if r.cfg.CostTracker != nil {
				r.cfg.CostTracker.AddForEntity(resp.Model, string(req.Task), resp.Usage)
			}
			if parsed.Failure == responseparser.NoFailure {
				return &Result{Raw: parsed.Raw, Role: role, Model: resp.Model, Usage: resp.Usage}, nil
			}

			// Per spec's one strict-mode retry: a parse/schema failure gets
			// exactly one immediate re-send with the schema echoed back into
			// the prompt, independent of the rate-limit retry budget above.
			lastErr = perr.New(perr.KindParseFailure, "", nil, "LLM response could not be parsed")
			strictReq := req
			strictReq.Prompt = augmentStrictSchema(req.Prompt, req.Schema)
			resp2, err2 := r.callOnce(ctx, strictReq, backend)
			if err2 != nil {
				return nil, err2
			}
			parsed2 := responseparser.Parse(resp2.Message.Content, strictReq.Schema)
			if r.cfg.CostTracker != nil {
				r.cfg.CostTracker.AddForEntity(resp2.Model, string(req.Task), resp2.Usage)
			}
			if parsed2.Failure == responseparser.NoFailure {
				return &Result{Raw: parsed2.Raw, Role: role, Model: resp2.Model, Usage: resp2.Usage}, nil
			}
			return nil, perr.New(perr.KindParseFailure, "", nil, "LLM response could not be parsed after strict-mode retry")
		}

		lastErr = err
		if !isRateLimited(err) {
			return nil, err
		}
		if attempt < budget-1 {
			backoff(ctx, attempt)
		}
	}
	return nil, lastErr
}

func (r *Router) callOnce(ctx context.Context, req Request, backend Backend) (*llm.Response, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if r.cfg.ProviderTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.ProviderTimeout)
		defer cancel()
	}

	params := llm.Params{
		Model:       backend.Model,
		Messages:    []llm.Message{llm.NewUserMessage(req.Prompt)},
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxOutputTokens,
	}

	resp, err := backend.Provider.Complete(callCtx, params)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, perr.New(perr.KindTransientNetwork, "", err, "LLM call timed out")
		}
		return nil, classifyProviderError(err)
	}
	return resp, nil
}

func (r *Router) incMetric(name string, labels map[string]string) {
	if r.cfg.Metrics == nil {
		return
	}
	r.cfg.Metrics.Counter(name, "").Inc(labels)
}

func augmentStrictSchema(prompt string, schema responseparser.Schema) string {
	return prompt + "\n\nRespond with a single JSON object that strictly matches this shape (replace every placeholder value with the real one):\n" +
		schema.ExamplePayload() +
		"\nDo not include any explanatory text outside the JSON."
}

func backoff(ctx context.Context, attempt int) {
	base := time.Second
	cap := 60 * time.Second
	d := time.Duration(math.Min(float64(cap), float64(base)*math.Pow(2, float64(attempt))))
	jitter := time.Duration(rand.Int63n(int64(d) / 4 + 1))
	select {
	case <-ctx.Done():
	case <-time.After(d + jitter):
	}
}
