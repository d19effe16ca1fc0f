// Package config handles clipforge project configuration loading and
// validation.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// validRoles is the set of routable LLM roles a task kind may be assigned.
var validRoles = map[string]bool{
	"local":  true,
	"remote": true,
}

// validBackends is the set of concrete backends a role may resolve to.
var validBackends = map[string]bool{
	"anthropic": true,
	"openai":    true,
	"gemini":    true,
}

// taskKinds are the LLM-backed task kinds that can be routed independently.
var taskKinds = map[string]bool{
	"highlight_detection": true,
	"chapter_detection":   true,
	"translation":         true,
	"title_generation":    true,
}

// Config is the top-level clipforge.yaml structure.
type Config struct {
	// Version is the config schema version. Must be "1".
	Version string `yaml:"version"`
	// StateRoot is the directory under which run state, checkpoints, and
	// exported artifacts are written.
	StateRoot string `yaml:"state_root"`
	// LLM configures model routing, rate limits, and fallback behavior.
	LLM LLMConfig `yaml:"llm"`
	// Resource configures admission thresholds for CPU/memory/GPU/disk.
	Resource ResourceConfig `yaml:"resource"`
	// Translation configures the translation batcher.
	Translation TranslationConfig `yaml:"translation"`
	// Stage configures per-stage retry and timeout defaults.
	Stage StageConfig `yaml:"stage"`
	// Checkpoint configures checkpoint persistence behavior.
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
}

// LLMConfig configures the LLM router.
type LLMConfig struct {
	// Routing maps a task kind (highlight_detection, chapter_detection,
	// translation, title_generation) to a role: "local" or "remote".
	Routing map[string]string `yaml:"routing"`
	// FallbackEnabled allows a one-shot fallback from local to remote
	// when the routed local call fails.
	FallbackEnabled bool `yaml:"fallback_enabled"`
	// RPM is the requests-per-minute budget enforced for the remote role.
	RPM int `yaml:"rpm"`
	// Temperature is the default sampling temperature. Nil means provider
	// default.
	Temperature *float64 `yaml:"temperature"`
	// MaxOutputTokens caps the response length for LLM calls.
	MaxOutputTokens int `yaml:"max_output_tokens"`
	// Backends maps each role ("local", "remote") to the concrete
	// provider backend and connection settings that serve it.
	Backends map[string]BackendConfig `yaml:"backends"`
}

// BackendConfig holds the concrete provider and connection settings that
// back a routing role.
type BackendConfig struct {
	// Provider is the concrete backend: "anthropic", "openai", or "gemini".
	// An OpenAI-compatible local inference server (llama.cpp, vLLM,
	// Ollama) is reached by setting Provider to "openai" with BaseURL
	// pointed at the local endpoint.
	Provider string `yaml:"provider"`
	// Model is the model identifier passed to the provider.
	Model string `yaml:"model"`
	// APIKeyEnv is the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`
	// Timeout is parsed and validated but is not passed to the router, so
	// it places no deadline on requests to this backend.
	Timeout Duration `yaml:"timeout"`
}

// ResourceConfig configures the resource gate's admission thresholds.
type ResourceConfig struct {
	// MaxCPUPercent is the ceiling on system CPU utilization before new
	// work is held back. 0 disables the check.
	MaxCPUPercent float64 `yaml:"max_cpu_percent"`
	// MaxMemPercent is the ceiling on system memory utilization.
	MaxMemPercent float64 `yaml:"max_mem_percent"`
	// MaxGPUPercent is the ceiling on GPU utilization, when a GPU is
	// present and nvidia-smi is available.
	MaxGPUPercent float64 `yaml:"max_gpu_percent"`
	// MaxParallelExports bounds how many BatchExporter jobs may run
	// concurrently.
	MaxParallelExports int `yaml:"max_parallel_exports"`
	// MaxParallelEncodes bounds concurrent VideoEditor invocations.
	MaxParallelEncodes int `yaml:"max_parallel_encodes"`
	// SampleInterval is how often the resource monitor samples system
	// load.
	SampleInterval Duration `yaml:"sample_interval"`
}

// TranslationConfig configures the translation batcher.
type TranslationConfig struct {
	// MaxTokensPerChunk bounds the estimated token size of a translation
	// batch sent to the LLM in one call.
	MaxTokensPerChunk int `yaml:"max_tokens_per_chunk"`
	// OverlapSegments is the number of trailing segments from the
	// previous chunk carried forward as context.
	OverlapSegments int `yaml:"overlap_segments"`
	// MinSuccessRate is the minimum fraction of segments that must
	// translate successfully for a batch to be accepted as partial
	// success rather than failed outright.
	MinSuccessRate float64 `yaml:"min_success_rate"`
	// MaxRetriesPerChunk is passed to the batcher, which does not read it:
	// a failed chunk is always followed by one individual retry per
	// segment.
	MaxRetriesPerChunk int `yaml:"max_retries_per_chunk"`
}

// StageConfig configures default stage execution behavior.
type StageConfig struct {
	// RetryBudget bounds the number of retry attempts for a single stage.
	RetryBudget int `yaml:"retry_budget"`
	// Timeout is parsed but not applied: stage invocations run with no
	// wall-clock limit.
	Timeout Duration `yaml:"timeout"`
}

// CheckpointConfig configures checkpoint persistence.
type CheckpointConfig struct {
	// CleanupOnSuccess removes the checkpoint directory once a run
	// completes the EXPORT stage successfully.
	CleanupOnSuccess bool `yaml:"cleanup_on_success"`
	// ExpireAfter is parsed but not read by the checkpoint store, which
	// never expires checkpoints.
	ExpireAfter Duration `yaml:"expire_after"`
}

// Duration wraps time.Duration with YAML string unmarshaling support.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "30s" or "5m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	if d.Duration == 0 {
		return "", nil
	}
	return d.Duration.String(), nil
}

// Default returns a Config populated with the defaults described in the
// clipforge configuration reference. Load starts from these and overlays
// whatever the file and environment specify.
func Default() *Config {
	return &Config{
		Version:   "1",
		StateRoot: ".clipforge",
		LLM: LLMConfig{
			Routing: map[string]string{
				"highlight_detection": "local",
				"chapter_detection":   "local",
				"translation":         "remote",
				"title_generation":    "local",
			},
			FallbackEnabled: true,
			RPM:             60,
			MaxOutputTokens: 4096,
			Backends: map[string]BackendConfig{
				"local": {
					Provider:  "openai",
					Model:     "local-default",
					APIKeyEnv: "CLIPFORGE_LOCAL_API_KEY",
					BaseURL:   "http://127.0.0.1:8080/v1",
				},
				"remote": {
					Provider:  "anthropic",
					Model:     "claude-3-5-sonnet",
					APIKeyEnv: "ANTHROPIC_API_KEY",
				},
			},
		},
		Resource: ResourceConfig{
			MaxCPUPercent:      90,
			MaxMemPercent:      85,
			MaxGPUPercent:      95,
			MaxParallelExports: 2,
			MaxParallelEncodes: 1,
			SampleInterval:     Duration{2 * time.Second},
		},
		Translation: TranslationConfig{
			MaxTokensPerChunk:  2000,
			OverlapSegments:    2,
			MinSuccessRate:     0.8,
			MaxRetriesPerChunk: 2,
		},
		Stage: StageConfig{
			RetryBudget: 3,
			Timeout:     Duration{0},
		},
		Checkpoint: CheckpointConfig{
			CleanupOnSuccess: true,
			ExpireAfter:      Duration{0},
		},
	}
}

// Load reads a clipforge.yaml file, performs environment variable
// substitution, parses the YAML over the defaults, and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	substituted := Substitute(string(data))

	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(substituted))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is well-formed.
func (c *Config) Validate() error {
	if c.Version != "1" {
		return fmt.Errorf("config: unsupported version %q (expected \"1\")", c.Version)
	}
	if c.StateRoot == "" {
		return fmt.Errorf("config: state_root is required")
	}
	for kind, role := range c.LLM.Routing {
		if !taskKinds[kind] {
			return fmt.Errorf("config: llm.routing: unknown task kind %q", kind)
		}
		if !validRoles[role] {
			return fmt.Errorf("config: llm.routing[%s]: unsupported role %q", kind, role)
		}
	}
	for role, backend := range c.LLM.Backends {
		if !validRoles[role] {
			return fmt.Errorf("config: llm.backends: unsupported role %q", role)
		}
		if !validBackends[backend.Provider] {
			return fmt.Errorf("config: llm.backends[%s]: unsupported provider %q", role, backend.Provider)
		}
	}
	if c.Resource.MaxParallelExports < 0 {
		return fmt.Errorf("config: resource.max_parallel_exports must be >= 0")
	}
	if c.Resource.MaxParallelEncodes < 0 {
		return fmt.Errorf("config: resource.max_parallel_encodes must be >= 0")
	}
	if c.Translation.MinSuccessRate < 0 || c.Translation.MinSuccessRate > 1 {
		return fmt.Errorf("config: translation.min_success_rate must be in [0,1]")
	}
	return nil
}
