// Package coordinator drives the pipeline's fixed stage sequence —
// FETCH, EXTRACT_AUDIO, TRANSCRIBE, ANALYZE, AWAIT_USER_SELECTION,
// TRANSLATE, GENERATE_SUBTITLES, EDIT_VIDEO, EXPORT — forwarding
// artifacts between stages, checkpointing at stage boundaries, and
// aggregating weighted progress across a fixed, domain-specific stage
// sequence with per-stage retry.
package coordinator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/clipforge/pipeline/pkg/adapters"
	"github.com/clipforge/pipeline/pkg/artifact"
	"github.com/clipforge/pipeline/pkg/checkpoint"
	"github.com/clipforge/pipeline/pkg/clipplog"
	"github.com/clipforge/pipeline/pkg/llmrouter"
	"github.com/clipforge/pipeline/pkg/perr"
	"github.com/clipforge/pipeline/pkg/resource"
	"github.com/clipforge/pipeline/pkg/stage"
	"github.com/clipforge/pipeline/pkg/trace"
	"github.com/clipforge/pipeline/pkg/translate"
)

// stageWeights assigns each stage its contribution to overall progress;
// AWAIT_USER_SELECTION is a pause point and carries no weight.
var stageWeights = map[checkpoint.Stage]float64{
	checkpoint.StageFetch:             .05,
	checkpoint.StageExtractAudio:      .05,
	checkpoint.StageTranscribe:        .25,
	checkpoint.StageAnalyze:           .10,
	checkpoint.StageTranslate:         .20,
	checkpoint.StageGenerateSubtitles: .05,
	checkpoint.StageEditVideo:         .20,
	checkpoint.StageExport:            .10,
}

// stageSequence is the fixed, strictly-sequential order stages execute in.
var stageSequence = []checkpoint.Stage{
	checkpoint.StageFetch,
	checkpoint.StageExtractAudio,
	checkpoint.StageTranscribe,
	checkpoint.StageAnalyze,
	checkpoint.StageAwaitUserSelection,
	checkpoint.StageTranslate,
	checkpoint.StageGenerateSubtitles,
	checkpoint.StageEditVideo,
	checkpoint.StageExport,
}

// SelectionFunc is the externally provided callback AWAIT_USER_SELECTION
// blocks on. It returns the subset of highlight/chapter ids the user
// chose to keep, expressed as EditSegments for the EDIT_VIDEO stage.
type SelectionFunc func(ctx context.Context, proj *artifact.Project) ([]artifact.EditSegment, error)

// ProgressFunc reports overall weighted progress in [0, 1] and the stage
// currently executing.
type ProgressFunc func(overall float64, stage checkpoint.Stage)

// RunConfig carries the per-run parameters a caller supplies to Run.
type RunConfig struct {
	Quality        string
	Language       string
	Diarize        bool
	SourceLang     string
	TargetLang     string
	SubtitleStyle  string
	SubtitleFormat adapters.SubtitleFormat
	OutputDir      string
	Progress       ProgressFunc
	Select         SelectionFunc
	RetryBudget    int
	// CleanupOnSuccess deletes the run's checkpoint directory once EXPORT
	// completes. Defaults to true, matching checkpoint.cleanup_on_success.
	CleanupOnSuccess *bool
	// ResumeProject seeds RunFromCheckpoint's project state with artifacts
	// recovered from a collaborator's project container (manifest), since
	// the checkpoint itself only durably tracks the stage cursor. Ignored
	// by Run.
	ResumeProject *artifact.Project
}

func (c RunConfig) cleanupOnSuccess() bool {
	if c.CleanupOnSuccess == nil {
		return true
	}
	return *c.CleanupOnSuccess
}

// Deps bundles the collaborators the coordinator drives. All fields are
// required except Tracer, Logger and Gate: a nil Tracer defaults to a
// no-op tracer, a nil Logger disables logging, and a nil Gate skips
// admission control.
type Deps struct {
	Fetcher        adapters.Fetcher
	AudioExtractor adapters.AudioExtractor
	Transcriber    adapters.Transcriber
	SubtitleWriter adapters.SubtitleWriter
	VideoEditor    adapters.VideoEditor
	Router         *llmrouter.Router
	Translator     *translate.Batcher
	Checkpoints    *checkpoint.Store
	Gate           *resource.Gate
	Tracer         trace.Tracer
	Logger         *clipplog.Logger
}

// Coordinator drives one run of the pipeline at a time per instance; use
// one Coordinator per concurrent run.
type Coordinator struct {
	deps Deps

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a Coordinator. Missing optional Deps fields are filled with
// no-op defaults.
func New(deps Deps) *Coordinator {
	if deps.Tracer == nil {
		deps.Tracer = trace.Noop{}
	}
	return &Coordinator{deps: deps}
}

// Cancel requests cancellation of the in-flight run, if any. Idempotent.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// runState is the mutable context threaded through stage execution.
type runState struct {
	runID string
	url   string
	cfg   RunConfig
	proj  *artifact.Project
	cp    *checkpoint.Checkpoint
}

// Run executes the full pipeline for url end-to-end, from PENDING through
// EXPORT, with at-stage-boundary durability.
func (c *Coordinator) Run(ctx context.Context, runID, url string, cfg RunConfig) (*artifact.Project, error) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	if err := c.deps.Checkpoints.Open(runID); err != nil {
		return nil, err
	}
	defer c.deps.Checkpoints.Release(runID)

	rs := &runState{
		runID: runID,
		url:   url,
		cfg:   cfg,
		proj:  &artifact.Project{RunID: runID, SourceURL: url},
		cp: &checkpoint.Checkpoint{
			RunID: runID,
			Stage: checkpoint.StagePending,
		},
	}
	return c.drive(ctx, rs, 0)
}

// RunFromCheckpoint resumes a previously interrupted run, continuing from
// its last durable stage.
func (c *Coordinator) RunFromCheckpoint(ctx context.Context, runID string, cfg RunConfig) (*artifact.Project, error) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	cp, err := c.deps.Checkpoints.Load(runID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, perr.New(perr.KindInvalidInput, "", nil, "no checkpoint found for run "+runID)
	}
	if err := c.deps.Checkpoints.Open(runID); err != nil {
		return nil, err
	}
	defer c.deps.Checkpoints.Release(runID)

	proj := cfg.ResumeProject
	if proj == nil {
		proj = &artifact.Project{}
	}
	proj.RunID = runID

	rs := &runState{
		runID: runID,
		cfg:   cfg,
		proj:  proj,
		cp:    cp,
	}

	startIdx := 0
	for i, s := range stageSequence {
		if s == cp.Stage {
			startIdx = i
			break
		}
	}
	return c.drive(ctx, rs, startIdx)
}

// drive executes stageSequence[startIdx:] in order, persisting a
// checkpoint after each stage completes.
func (c *Coordinator) drive(ctx context.Context, rs *runState, startIdx int) (*artifact.Project, error) {
	ctx, runSpan := c.deps.Tracer.StartSpan(ctx, "coordinator.run")
	runSpan.SetAttribute("run.id", rs.runID)
	defer c.deps.Tracer.EndSpan(runSpan)

	completedWeight := 0.0
	for i := 0; i < startIdx; i++ {
		completedWeight += stageWeights[stageSequence[i]]
	}

	for i := startIdx; i < len(stageSequence); i++ {
		s := stageSequence[i]

		if err := ctx.Err(); err != nil {
			rs.cp.Stage = checkpoint.StageCanceled
			_ = c.deps.Checkpoints.Save(rs.cp)
			return nil, perr.New(perr.KindCancelled, string(s), err, "run canceled")
		}

		if err := c.runStageWithRetry(ctx, rs, s, completedWeight); err != nil {
			rs.cp.Stage = checkpoint.StageFailed
			rs.cp.LastError = err.Error()
			_ = c.deps.Checkpoints.Save(rs.cp)
			runSpan.SetError(err)
			return nil, err
		}

		completedWeight += stageWeights[s]
		rs.cp.Stage = s
		rs.cp.StageProgress = 1.0
		rs.cp.RetryCount = 0
		if err := c.deps.Checkpoints.Save(rs.cp); err != nil {
			return nil, err
		}
		if c.deps.Logger != nil {
			c.deps.Logger.InfoCtx(ctx, "stage complete", "run_id", rs.runID, "stage", string(s))
		}
		if rs.cfg.Progress != nil {
			rs.cfg.Progress(completedWeight, s)
		}

		if s == checkpoint.StageAwaitUserSelection {
			// A pause point: the caller resumes via RunFromCheckpoint once a
			// selection is recorded. If Select is provided inline, continue
			// synchronously instead of forcing a round trip.
			if rs.cfg.Select == nil {
				return rs.proj, nil
			}
		}
	}

	rs.cp.Stage = checkpoint.StageCompleted
	if rs.cfg.cleanupOnSuccess() {
		if err := c.deps.Checkpoints.Delete(rs.runID); err != nil && c.deps.Logger != nil {
			c.deps.Logger.InfoCtx(ctx, "checkpoint cleanup failed", "run_id", rs.runID, "error", err.Error())
		}
	} else {
		_ = c.deps.Checkpoints.Save(rs.cp)
	}
	return rs.proj, nil
}

// runStageWithRetry executes one stage's work function, retrying
// retryable failures with exponential backoff up to the stage's retry
// budget (default 3).
func (c *Coordinator) runStageWithRetry(ctx context.Context, rs *runState, s checkpoint.Stage, completedWeight float64) error {
	budget := rs.cfg.RetryBudget
	if budget <= 0 {
		budget = 3
	}

	ctx, span := c.deps.Tracer.StartSpan(ctx, "coordinator.stage")
	span.SetAttribute("stage.name", string(s))
	defer c.deps.Tracer.EndSpan(span)

	fn := c.stageFunc(s)

	var lastErr error
	for attempt := 0; attempt < budget; attempt++ {
		span.SetAttribute("stage.attempt", strconv.Itoa(attempt+1))
		err := fn(ctx, rs)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
		if attempt < budget-1 {
			waitBackoff(ctx, attempt)
		}
	}
	return fmt.Errorf("stage %q: retry budget exhausted: %w", s, lastErr)
}

func retryable(err error) bool {
	pe, ok := err.(*perr.PipelineError)
	if !ok {
		return false
	}
	return pe.Retryable
}

func waitBackoff(ctx context.Context, attempt int) {
	base := time.Second
	capD := 60 * time.Second
	d := time.Duration(math.Min(float64(capD), float64(base)*math.Pow(2, float64(attempt))))
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	select {
	case <-ctx.Done():
	case <-time.After(d + jitter):
	}
}

// stageFunc dispatches to the concrete stage implementation.
func (c *Coordinator) stageFunc(s checkpoint.Stage) func(context.Context, *runState) error {
	switch s {
	case checkpoint.StageFetch:
		return c.runFetch
	case checkpoint.StageExtractAudio:
		return c.runExtractAudio
	case checkpoint.StageTranscribe:
		return c.runTranscribe
	case checkpoint.StageAnalyze:
		return c.runAnalyze
	case checkpoint.StageAwaitUserSelection:
		return c.runAwaitSelection
	case checkpoint.StageTranslate:
		return c.runTranslate
	case checkpoint.StageGenerateSubtitles:
		return c.runGenerateSubtitles
	case checkpoint.StageEditVideo:
		return c.runEditVideo
	case checkpoint.StageExport:
		return c.runExport
	default:
		return func(context.Context, *runState) error {
			return fmt.Errorf("coordinator: unknown stage %q", s)
		}
	}
}

