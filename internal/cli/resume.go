package cli

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/clipforge/pipeline/internal/config"
	"github.com/clipforge/pipeline/internal/manifest"
	"github.com/clipforge/pipeline/pkg/artifact"
	"github.com/clipforge/pipeline/pkg/coordinator"
)

func (a *App) runResume(args []string) int {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	configPath := fs.String("config", "clipforge.yaml", "path to clipforge.yaml")
	sourceLang := fs.String("source-lang", "en", "translation source language")
	targetLang := fs.String("target-lang", "", "translation target language")
	selectSpec := fs.String("select", "", "comma-separated 1-based highlight indices to keep (required to pass AWAIT_USER_SELECTION)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() == 0 {
		a.errf("Usage: clipforge resume <run-id> [flags]\n")
		return 1
	}
	runID := fs.Arg(0)

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

	store := manifest.NewStore(cfg.StateRoot)
	b, err := store.Load(runID)
	if err != nil {
		a.errf("Error: %v\n", err)
		return 1
	}

	rcfg := coordinator.RunConfig{
		SourceLang:  *sourceLang,
		TargetLang:  *targetLang,
		RetryBudget: cfg.Stage.RetryBudget,
		// Checkpoint deletion after EXPORT follows checkpoint.cleanup_on_success.
		CleanupOnSuccess: &cfg.Checkpoint.CleanupOnSuccess,
	}
	if b != nil {
		rcfg.ResumeProject = bundleToProject(b)
	}
	if *selectSpec != "" {
		indices, err := parseIndices(*selectSpec)
		if err != nil {
			a.errf("Error: %v\n", err)
			return 1
		}
		rcfg.Select = selectByIndex(indices)
	}

	start := time.Now()
	proj, err := pl.coord.RunFromCheckpoint(ctx, runID, rcfg)
	duration := time.Since(start)

	if err != nil {
		a.errf("Error: %v\n", err)
		a.saveManifest(cfg.StateRoot, pl, runID, proj, start, duration, err)
		return 1
	}

	if rcfg.Select == nil && len(proj.Highlights) > 0 && len(proj.Videos) == 0 {
		a.outf("Run %s is still paused at AWAIT_USER_SELECTION with %d highlight(s).\n", runID, len(proj.Highlights))
		a.outf("Resume again with: clipforge resume %s -select <highlight-index>,...\n", runID)
		a.saveManifest(cfg.StateRoot, pl, runID, proj, start, duration, nil)
		return 0
	}

	a.outf("Run %s complete: %d video(s) produced.\n", runID, len(proj.Videos))
	a.saveManifest(cfg.StateRoot, pl, runID, proj, start, duration, nil)
	return 0
}

// bundleToProject rehydrates the artifacts a prior run persisted to its
// project container, so RunFromCheckpoint does not resume with an empty
// Project. The checkpoint itself only tracks the stage cursor.
func bundleToProject(b *manifest.Bundle) *artifact.Project {
	return &artifact.Project{
		RunID:              b.RunID,
		SourceURL:          b.SourceURL,
		Video:              b.Video,
		Transcription:      b.Transcription,
		Highlights:         b.Highlights,
		Chapters:           b.Chapters,
		TranslatedSegments: b.Translated,
		EditSegments:       b.EditSegments,
		Videos:             b.Videos,
	}
}

func parseIndices(spec string) ([]int, error) {
	parts := strings.Split(spec, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid highlight index %q: %w", p, err)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no highlight indices given")
	}
	return out, nil
}

// selectByIndex builds a SelectionFunc that keeps the 1-based highlight
// indices named by indices, mapping each onto the transcript's segment
// timing.
func selectByIndex(indices []int) coordinator.SelectionFunc {
	return func(ctx context.Context, proj *artifact.Project) ([]artifact.EditSegment, error) {
		segByID := make(map[int]artifact.Segment, len(proj.Transcription.Segments))
		for _, s := range proj.Transcription.Segments {
			segByID[s.ID] = s
		}

		out := make([]artifact.EditSegment, 0, len(indices))
		for _, idx := range indices {
			if idx < 1 || idx > len(proj.Highlights) {
				return nil, fmt.Errorf("highlight index %d out of range (1-%d)", idx, len(proj.Highlights))
			}
			h := proj.Highlights[idx-1]
			start, ok := segByID[h.StartSegmentID]
			if !ok {
				return nil, fmt.Errorf("highlight %d references unknown segment %d", idx, h.StartSegmentID)
			}
			end, ok := segByID[h.EndSegmentID]
			if !ok {
				end = start
			}
			out = append(out, artifact.EditSegment{ID: idx, StartS: start.StartS, EndS: end.EndS, Title: h.SuggestedTitle})
		}
		return out, nil
	}
}
