package cli

import (
	"flag"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/clipforge/pipeline/internal/config"
	"github.com/clipforge/pipeline/internal/manifest"
	"github.com/clipforge/pipeline/pkg/trace"
)

// runTrace renders the execution spans a run's manifest captured,
// ordered by start time with each span's parent shown for nesting.
func (a *App) runTrace(args []string) int {
	fs := flag.NewFlagSet("trace", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	configPath := fs.String("config", "clipforge.yaml", "path to clipforge.yaml")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() == 0 {
		a.errf("Usage: clipforge trace <run-id>\n")
		return 1
	}
	runID := fs.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		a.errf("Error: %v\n", err)
		return 1
	}

	store := manifest.NewStore(cfg.StateRoot)
	b, err := store.Load(runID)
	if err != nil {
		a.errf("Error: %v\n", err)
		return 1
	}
	if b == nil {
		a.errf("Error: no manifest found for run %q\n", runID)
		return 1
	}
	if len(b.Spans) == 0 {
		a.outf("Run %s has no recorded spans.\n", runID)
		return 0
	}

	spans := make([]*trace.Span, len(b.Spans))
	copy(spans, b.Spans)
	sort.Slice(spans, func(i, j int) bool { return spans[i].StartTime.Before(spans[j].StartTime) })

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SPAN\tNAME\tPARENT\tDURATION\tSTATUS\tERROR")
	for _, s := range spans {
		duration := "-"
		if !s.EndTime.IsZero() {
			duration = s.EndTime.Sub(s.StartTime).Round(time.Millisecond).String()
		}
		status := "ok"
		if s.Status == trace.StatusError {
			status = "error"
		}
		parent := s.ParentID
		if parent == "" {
			parent = "-"
		}
		errMsg := s.Error
		if errMsg == "" {
			errMsg = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, parent, duration, status, errMsg)
	}
	_ = w.Flush()

	if len(b.CostRecords) > 0 {
		var total float64
		for _, cr := range b.CostRecords {
			total += cr.Cost
		}
		a.outf("\n%d cost record(s) totaling $%.6f. See 'clipforge cost %s' for a breakdown.\n", len(b.CostRecords), total, runID)
	}
	return 0
}
