package cli

import (
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/clipforge/pipeline/internal/config"
	"github.com/clipforge/pipeline/internal/manifest"
	"github.com/clipforge/pipeline/pkg/checkpoint"
)

// runList renders two tables: runs still in progress (from the checkpoint
// store, keyed by stage cursor) and completed or paused projects that have
// a saved manifest. A run paused at AWAIT_USER_SELECTION appears in both,
// since its checkpoint is non-terminal but a manifest was already saved.
func (a *App) runList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	configPath := fs.String("config", "clipforge.yaml", "path to clipforge.yaml")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		a.errf("Error: %v\n", err)
		return 1
	}

	checkpoints := checkpoint.NewStore(cfg.StateRoot)
	incomplete, err := checkpoints.ListIncomplete()
	if err != nil {
		a.errf("Error: %v\n", err)
		return 1
	}

	a.outf("IN PROGRESS\n")
	if len(incomplete) == 0 {
		a.outf("  (none)\n")
	} else {
		w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "  RUN ID\tSTAGE\tPROGRESS\tLAST ERROR")
		for _, cp := range incomplete {
			lastErr := cp.LastError
			if lastErr == "" {
				lastErr = "-"
			}
			_, _ = fmt.Fprintf(w, "  %s\t%s\t%.0f%%\t%s\n", cp.RunID, cp.Stage, cp.StageProgress*100, lastErr)
		}
		_ = w.Flush()
	}

	store := manifest.NewStore(cfg.StateRoot)
	ids, err := store.List()
	if err != nil {
		a.errf("Error: %v\n", err)
		return 1
	}

	a.outf("\nPROJECTS\n")
	if len(ids) == 0 {
		a.outf("  (none)\n")
		return 0
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "  RUN ID\tCREATED\tHIGHLIGHTS\tVIDEOS\tSTATUS")
	for _, id := range ids {
		b, err := store.Load(id)
		if err != nil || b == nil {
			continue
		}
		status := "ok"
		if b.Error != "" {
			status = "error"
		} else if len(b.Highlights) > 0 && len(b.Videos) == 0 {
			status = "awaiting selection"
		}
		_, _ = fmt.Fprintf(w, "  %s\t%s\t%d\t%d\t%s\n",
			b.RunID, b.CreatedAt.Format("2006-01-02 15:04:05"), len(b.Highlights), len(b.Videos), status)
	}
	_ = w.Flush()
	return 0
}
