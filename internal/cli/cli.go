// Package cli implements the clipforge command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/clipforge/pipeline/pkg/llm"
)

// ProviderFactory creates an LLM provider for a backend name ("anthropic",
// "openai", "gemini"). The default implementation resolves API keys from
// environment variables named by the config.
type ProviderFactory func(ctx context.Context, backend string, apiKeyEnv, baseURL string) (llm.Provider, error)

// App is the clipforge CLI application.
type App struct {
	stdout          io.Writer
	stderr          io.Writer
	providerFactory ProviderFactory
}

// New creates a CLI application that writes to the given writers.
func New(stdout, stderr io.Writer) *App {
	return &App{
		stdout:          stdout,
		stderr:          stderr,
		providerFactory: defaultProviderFactory,
	}
}

// SetProviderFactory overrides the default provider factory (for testing).
func (a *App) SetProviderFactory(f ProviderFactory) {
	a.providerFactory = f
}

// Run dispatches to the appropriate subcommand and returns an exit code.
func (a *App) Run(args []string) int {
	if len(args) == 0 {
		a.printUsage()
		return 0
	}

	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "version":
		return a.runVersion()
	case "run":
		return a.runRun(cmdArgs)
	case "resume":
		return a.runResume(cmdArgs)
	case "list":
		return a.runList(cmdArgs)
	case "export":
		return a.runExport(cmdArgs)
	case "trace":
		return a.runTrace(cmdArgs)
	case "cost":
		return a.runCost(cmdArgs)
	case "help", "-h", "--help":
		a.printUsage()
		return 0
	default:
		a.errf("unknown command: %s\n\n", cmd)
		a.printUsage()
		return 1
	}
}

func (a *App) printUsage() {
	a.outf(`clipforge — Turn long-form video into highlight clips with subtitles

Usage: clipforge <command> [flags]

Commands:
  run       Run the pipeline end-to-end (or up to AWAIT_USER_SELECTION)
  resume    Resume a run from its last checkpoint
  list      List in-progress runs and completed projects
  export    Batch-export one or more completed projects
  trace     Inspect a run's execution spans
  cost      View LLM cost breakdown for a run
  version   Print version information
  help      Show this help message

Run 'clipforge <command> -h' for command-specific help.
`)
}

// outf writes to stdout, ignoring write errors (terminal I/O).
func (a *App) outf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.stdout, format, args...)
}

// errf writes to stderr, ignoring write errors (terminal I/O).
func (a *App) errf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.stderr, format, args...)
}
