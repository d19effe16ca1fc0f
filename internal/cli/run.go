package cli

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/clipforge/pipeline/internal/config"
	"github.com/clipforge/pipeline/internal/id"
	"github.com/clipforge/pipeline/internal/manifest"
	"github.com/clipforge/pipeline/pkg/adapters"
	"github.com/clipforge/pipeline/pkg/artifact"
	"github.com/clipforge/pipeline/pkg/coordinator"
)

func (a *App) runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	configPath := fs.String("config", "clipforge.yaml", "path to clipforge.yaml")
	runID := fs.String("run-id", "", "run ID (generated if empty)")
	quality := fs.String("quality", "", "requested source quality")
	language := fs.String("language", "", "transcription language hint (empty autodetects)")
	diarize := fs.Bool("diarize", false, "enable speaker diarization")
	sourceLang := fs.String("source-lang", "en", "translation source language")
	targetLang := fs.String("target-lang", "", "translation target language")
	subtitleFormat := fs.String("subtitle-format", "SRT", "subtitle format: SRT, ASS, or VTT")
	outputDir := fs.String("output-dir", ".", "directory for fetched/exported files")
	autoSelectAll := fs.Bool("select-all", false, "auto-select every detected highlight instead of pausing at AWAIT_USER_SELECTION")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() == 0 {
		a.errf("Usage: clipforge run <source-url> [flags]\n")
		return 1
	}
	sourceURL := fs.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		a.errf("Error: %v\n", err)
		return 1
	}
	if *targetLang == "" {
		a.errf("Error: -target-lang is required\n")
		return 1
	}

	ctx := context.Background()
	pl, err := a.buildPipeline(ctx, cfg, *sourceLang, *targetLang)
	if err != nil {
		a.errf("Error: %v\n", err)
		return 1
	}
	defer pl.Close()

	run := *runID
	if run == "" {
		run = id.New()
	}

	rcfg := coordinator.RunConfig{
		Quality:        *quality,
		Language:       *language,
		Diarize:        *diarize,
		SourceLang:     *sourceLang,
		TargetLang:     *targetLang,
		SubtitleFormat: adapters.SubtitleFormat(*subtitleFormat),
		OutputDir:      *outputDir,
		RetryBudget:    cfg.Stage.RetryBudget,
		// Checkpoint deletion after EXPORT follows checkpoint.cleanup_on_success.
		CleanupOnSuccess: &cfg.Checkpoint.CleanupOnSuccess,
	}
	if *autoSelectAll {
		rcfg.Select = selectAllHighlights
	}

	start := time.Now()
	proj, err := pl.coord.Run(ctx, run, sourceURL, rcfg)
	duration := time.Since(start)

	if err != nil {
		a.errf("Error: %v\n", err)
		a.saveManifest(cfg.StateRoot, pl, run, proj, start, duration, err)
		return 1
	}

	if rcfg.Select == nil && len(proj.Highlights) > 0 && len(proj.Videos) == 0 {
		a.outf("Run %s is paused at AWAIT_USER_SELECTION with %d highlight(s) and %d chapter(s).\n",
			run, len(proj.Highlights), len(proj.Chapters))
		a.outf("Resume with: clipforge resume %s -select <highlight-index>,...\n", run)
		a.saveManifest(cfg.StateRoot, pl, run, proj, start, duration, nil)
		return 0
	}

	a.outf("Run %s complete: %d video(s) produced.\n", run, len(proj.Videos))
	a.saveManifest(cfg.StateRoot, pl, run, proj, start, duration, nil)
	return 0
}

// selectAllHighlights is the -select-all auto-selection callback: it
// keeps every detected highlight span as a single edit segment per
// highlight.
func selectAllHighlights(ctx context.Context, proj *artifact.Project) ([]artifact.EditSegment, error) {
	segByID := make(map[int]artifact.Segment, len(proj.Transcription.Segments))
	for _, s := range proj.Transcription.Segments {
		segByID[s.ID] = s
	}

	out := make([]artifact.EditSegment, 0, len(proj.Highlights))
	for i, h := range proj.Highlights {
		start, ok := segByID[h.StartSegmentID]
		if !ok {
			continue
		}
		end, ok := segByID[h.EndSegmentID]
		if !ok {
			end = start
		}
		out = append(out, artifact.EditSegment{ID: i + 1, StartS: start.StartS, EndS: end.EndS, Title: h.SuggestedTitle})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no highlights available to auto-select")
	}
	return out, nil
}

// saveManifest persists the run's project container, best-effort;
// failures are reported but never override the run's own exit code.
func (a *App) saveManifest(stateRoot string, pl *pipeline, runID string, proj *artifact.Project, start time.Time, duration time.Duration, runErr error) {
	if proj == nil {
		proj = &artifact.Project{RunID: runID}
	}
	b := manifest.FromProject(proj, "", nil)
	b.StartTime = start
	b.Duration = duration
	if runErr != nil {
		b.Error = runErr.Error()
	}
	if pl != nil {
		b.Spans = pl.tracer.Spans()
		b.CostRecords = pl.costTracker.Records()
	}
	store := manifest.NewStore(stateRoot)
	if err := store.Save(b); err != nil {
		a.errf("Warning: failed to save project manifest: %v\n", err)
	}
}
