package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
	}{
		{
			name: "valid config",
			yaml: `version: "1"
state_root: .clipforge
llm:
  routing:
    highlight_detection: local
    translation: remote
  rpm: 30
resource:
  max_cpu_percent: 80
translation:
  min_success_rate: 0.9
`,
		},
		{
			name: "env substitution",
			yaml: `version: "1"
state_root: ${STATE_ROOT}
`,
			env: map[string]string{"STATE_ROOT": ".runs"},
		},
		{
			name: "env substitution with default",
			yaml: `version: "1"
state_root: ${STATE_ROOT:-.clipforge}
`,
		},
		{
			name:    "bad version",
			yaml:    `version: "2"`,
			wantErr: `unsupported version "2"`,
		},
		{
			name:    "missing version",
			yaml:    `state_root: .clipforge`,
			wantErr: `unsupported version ""`,
		},
		{
			name: "missing state_root",
			yaml: `version: "1"
state_root: ""
`,
			wantErr: "state_root is required",
		},
		{
			name: "unknown routing task kind",
			yaml: `version: "1"
state_root: .clipforge
llm:
  routing:
    bogus: local
`,
			wantErr: `unknown task kind "bogus"`,
		},
		{
			name: "invalid routing role",
			yaml: `version: "1"
state_root: .clipforge
llm:
  routing:
    highlight_detection: invalid
`,
			wantErr: `unsupported role "invalid"`,
		},
		{
			name: "invalid backend provider",
			yaml: `version: "1"
state_root: .clipforge
llm:
  backends:
    local:
      provider: bogus
`,
			wantErr: `unsupported provider "bogus"`,
		},
		{
			name: "invalid success rate",
			yaml: `version: "1"
state_root: .clipforge
translation:
  min_success_rate: 1.5
`,
			wantErr: "min_success_rate must be in [0,1]",
		},
		{
			name:    "bad yaml",
			yaml:    `{{{`,
			wantErr: "parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			dir := t.TempDir()
			path := filepath.Join(dir, "clipforge.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.wantErr)
				}
				if !contains(err.Error(), tt.wantErr) {
					t.Fatalf("error %q does not contain %q", err.Error(), tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Version != "1" {
				t.Errorf("version = %q, want %q", cfg.Version, "1")
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/clipforge.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clipforge.yaml")
	if err := os.WriteFile(path, []byte(`version: "1"
state_root: .clipforge
`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Resource.MaxParallelExports != 2 {
		t.Errorf("default max_parallel_exports = %d, want 2", cfg.Resource.MaxParallelExports)
	}
	if cfg.Translation.MinSuccessRate != 0.8 {
		t.Errorf("default min_success_rate = %v, want 0.8", cfg.Translation.MinSuccessRate)
	}
	if !cfg.LLM.FallbackEnabled {
		t.Error("default fallback_enabled should be true")
	}
}

func TestLoad_MatchesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clipforge.yaml")
	if err := os.WriteFile(path, []byte(`version: "1"
state_root: .clipforge
`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config loaded from a bare version/state_root file diverges from Default() (-want +got):\n%s", diff)
	}
}

func TestDuration_Parsing(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantSec float64
		wantErr bool
	}{
		{name: "seconds", yaml: "30s", wantSec: 30},
		{name: "minutes", yaml: "5m", wantSec: 300},
		{name: "complex", yaml: "1m30s", wantSec: 90},
		{name: "empty", yaml: "", wantSec: 0},
		{name: "invalid", yaml: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgYAML := `version: "1"
state_root: .clipforge
stage:
  timeout: ` + tt.yaml + "\n"

			dir := t.TempDir()
			path := filepath.Join(dir, "clipforge.yaml")
			if err := os.WriteFile(path, []byte(cfgYAML), 0o644); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := cfg.Stage.Timeout.Seconds()
			if got != tt.wantSec {
				t.Errorf("timeout = %vs, want %vs", got, tt.wantSec)
			}
		})
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchString(s, substr)
}

func searchString(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
