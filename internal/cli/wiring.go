package cli

import (
	"context"
	"fmt"

	"github.com/clipforge/pipeline/internal/config"
	"github.com/clipforge/pipeline/pkg/adapters"
	"github.com/clipforge/pipeline/pkg/checkpoint"
	"github.com/clipforge/pipeline/pkg/clipplog"
	"github.com/clipforge/pipeline/pkg/cost"
	"github.com/clipforge/pipeline/pkg/coordinator"
	"github.com/clipforge/pipeline/pkg/llmrouter"
	"github.com/clipforge/pipeline/pkg/resource"
	"github.com/clipforge/pipeline/pkg/trace"
	"github.com/clipforge/pipeline/pkg/trace/metrics"
	"github.com/clipforge/pipeline/pkg/translate"
)

// pipeline bundles the wired collaborators one clipforge.yaml resolves
// to: a Coordinator plus the auxiliary stores and instrumentation a
// command needs to report on a run afterward.
type pipeline struct {
	coord       *coordinator.Coordinator
	checkpoints *checkpoint.Store
	gate        *resource.Gate
	monitor     *resource.Monitor
	tracer      *trace.InMemory
	metrics     *metrics.Registry
	costTracker *cost.Tracker
	logger      *clipplog.Logger
}

// buildPipeline resolves cfg into a Coordinator wired with real
// LLM backends, admission control, checkpointing, and instrumentation.
// Fetcher/AudioExtractor/Transcriber/SubtitleWriter/VideoEditor are
// intentionally the in-memory fakes: concrete implementations of those
// collaborators (yt-dlp, ffmpeg, a speech-to-text client) are external
// to this module, so the CLI exercises the full stage sequence against
// fakes until a caller supplies real ones via a future -adapter flag.
func (a *App) buildPipeline(ctx context.Context, cfg *config.Config, sourceLang, targetLang string) (*pipeline, error) {
	logger := clipplog.New(a.stderr, clipplog.Info)

	routing := make(map[llmrouter.TaskKind]llmrouter.Role, len(cfg.LLM.Routing))
	for kind, role := range cfg.LLM.Routing {
		routing[llmrouter.TaskKind(kind)] = llmrouter.Role(role)
	}

	backends := make(map[llmrouter.Role]llmrouter.Backend, len(cfg.LLM.Backends))
	for role, bc := range cfg.LLM.Backends {
		provider, err := a.providerFactory(ctx, bc.Provider, bc.APIKeyEnv, bc.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("resolve backend %q: %w", role, err)
		}
		backends[llmrouter.Role(role)] = llmrouter.Backend{Provider: provider, Model: bc.Model}
	}

	reg := metrics.NewRegistry()
	tracer := trace.NewInMemory()
	costTracker := cost.NewTracker()

	router := llmrouter.New(llmrouter.Config{
		Routing:         routing,
		Backends:        backends,
		FallbackEnabled: cfg.LLM.FallbackEnabled,
		RPM:             cfg.LLM.RPM,
		Temperature:     cfg.LLM.Temperature,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		Metrics:         reg,
		CostTracker:     costTracker,
	})

	batcher := translate.New(router, translate.Config{
		SourceLang:         sourceLang,
		TargetLang:         targetLang,
		MaxTokensPerChunk:  cfg.Translation.MaxTokensPerChunk,
		OverlapSegments:    cfg.Translation.OverlapSegments,
		MinSuccessRate:     cfg.Translation.MinSuccessRate,
		MaxRetriesPerChunk: cfg.Translation.MaxRetriesPerChunk,
	})

	checkpoints := checkpoint.NewStore(cfg.StateRoot)

	monitor := resource.NewMonitor(cfg.Resource.SampleInterval.Duration)
	gate := resource.NewGate(monitor, resource.Thresholds{
		MaxCPUPercent:      cfg.Resource.MaxCPUPercent,
		MaxMemPercent:      cfg.Resource.MaxMemPercent,
		MaxGPUPercent:      cfg.Resource.MaxGPUPercent,
		MaxParallelExports: cfg.Resource.MaxParallelExports,
		MaxParallelEncodes: cfg.Resource.MaxParallelEncodes,
	})

	coord := coordinator.New(coordinator.Deps{
		Fetcher:        &adapters.FakeFetcher{},
		AudioExtractor: &adapters.FakeAudioExtractor{},
		Transcriber:    &adapters.FakeTranscriber{},
		SubtitleWriter: &adapters.FakeSubtitleWriter{},
		VideoEditor:    &adapters.FakeVideoEditor{},
		Router:         router,
		Translator:     batcher,
		Checkpoints:    checkpoints,
		Gate:           gate,
		Tracer:         metrics.NewCollector(tracer, reg),
		Logger:         logger,
	})

	monitor.Start(ctx)

	return &pipeline{
		coord:       coord,
		checkpoints: checkpoints,
		gate:        gate,
		monitor:     monitor,
		tracer:      tracer,
		metrics:     reg,
		costTracker: costTracker,
		logger:      logger,
	}, nil
}

// Close stops the resource monitor's sampling goroutine. Call once the
// command using the pipeline has finished.
func (p *pipeline) Close() {
	p.monitor.Stop()
}
