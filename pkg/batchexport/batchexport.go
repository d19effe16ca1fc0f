// Package batchexport schedules a queue of export requests across a
// bounded pool of workers, admitting each one through a ResourceGate.
// Requests are dynamically re-enqueued on failure up to a configured
// retry limit, and the whole batch can abort early on a permanent
// failure depending on policy.
package batchexport

import (
	"context"
	"fmt"
	"sync"

	"github.com/clipforge/pipeline/pkg/artifact"
	"github.com/clipforge/pipeline/pkg/resource"
)

// ExportFunc performs one export request and returns its result.
type ExportFunc func(ctx context.Context, req artifact.ExportRequest) (*artifact.ExportResult, error)

// ProgressFunc reports completed/total requests processed so far.
type ProgressFunc func(completed, total int)

// Config tunes BatchExporter's scheduling policy. Zero values are
// replaced by New with spec defaults.
type Config struct {
	// ParallelExports bounds concurrent in-flight requests, independent
	// of whatever cap the ResourceGate itself enforces.
	ParallelExports int
	// ContinueOnError keeps processing the remaining queue after a
	// request fails permanently. Default true.
	ContinueOnError *bool
	// RetryFailed re-enqueues a failed request up to MaxRetries times.
	// Default true.
	RetryFailed *bool
	// MaxRetries bounds re-enqueue attempts per request. Default 2.
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.ParallelExports <= 0 {
		c.ParallelExports = 2
	}
	if c.ContinueOnError == nil {
		t := true
		c.ContinueOnError = &t
	}
	if c.RetryFailed == nil {
		t := true
		c.RetryFailed = &t
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	return c
}

// Result is the outcome of one BatchExporter.Run call.
type Result struct {
	Results []artifact.ExportResult
	Failed  []artifact.ExportRequest
}

// BatchExporter runs a queue of ExportRequests with bounded concurrency,
// admitting each one through a ResourceGate before dispatch.
type BatchExporter struct {
	gate   *resource.Gate
	export ExportFunc
	cfg    Config
}

// New creates a BatchExporter. gate may be nil, in which case no
// admission control is applied beyond the worker pool's own cap.
func New(gate *resource.Gate, export ExportFunc, cfg Config) *BatchExporter {
	return &BatchExporter{gate: gate, export: export, cfg: cfg.withDefaults()}
}

type job struct {
	req     artifact.ExportRequest
	attempt int
}

// Run processes every request in requests, honoring ParallelExports
// concurrency, ResourceGate admission, and the configured retry/continue
// policy. progress, if non-nil, is called after each request settles
// (success, permanent failure, or exhausted retries).
func (b *BatchExporter) Run(ctx context.Context, requests []artifact.ExportRequest, progress ProgressFunc) (*Result, error) {
	total := len(requests)
	if total == 0 {
		return &Result{}, nil
	}

	var (
		mu      sync.Mutex
		results []artifact.ExportResult
		failed  []artifact.ExportRequest
		settled int
	)

	// stopCh is closed exactly once, either when every request has
	// settled or when a permanent failure trips !ContinueOnError — either
	// way it unblocks every worker parked on queue.
	queue := make(chan job, total*(b.cfg.MaxRetries+2))
	stopCh := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(stopCh) }) }

	for _, r := range requests {
		queue <- job{req: r}
	}

	var wg sync.WaitGroup

	settle := func(result *artifact.ExportResult, failedReq *artifact.ExportRequest, abortBatch bool) {
		mu.Lock()
		if result != nil {
			results = append(results, *result)
		}
		if failedReq != nil {
			failed = append(failed, *failedReq)
		}
		settled++
		n := settled
		mu.Unlock()

		if progress != nil {
			progress(n, total)
		}
		if n >= total || abortBatch {
			stop()
		}
	}

	worker := func() {
		defer wg.Done()
		for {
			select {
			case <-stopCh:
				return
			case j, ok := <-queue:
				if !ok {
					return
				}
				// A job received after an abort goes back on the queue so
				// the drain below reports it as skipped instead of running it.
				select {
				case <-stopCh:
					queue <- j
					return
				default:
				}

				if ctx.Err() != nil {
					canceled := artifact.ExportResult{RunID: j.req.RunID, Success: false, Error: ctx.Err().Error()}
					settle(&canceled, &j.req, true)
					continue
				}

				res, err := b.runOne(ctx, j.req)
				if err == nil {
					settle(res, nil, false)
					continue
				}

				if *b.cfg.RetryFailed && j.attempt < b.cfg.MaxRetries {
					queue <- job{req: j.req, attempt: j.attempt + 1}
					continue
				}

				failedRes := artifact.ExportResult{RunID: j.req.RunID, Success: false, Error: err.Error()}
				settle(&failedRes, &j.req, !*b.cfg.ContinueOnError)
			}
		}
	}

	workers := b.cfg.ParallelExports
	if workers > total {
		workers = total
	}
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go worker()
	}
	wg.Wait()

	// Drain any requests left queued after an abort (either a fatal
	// failure under !ContinueOnError, or ctx cancellation) as skipped.
	for {
		select {
		case j, ok := <-queue:
			if !ok {
				return &Result{Results: results, Failed: failed}, nil
			}
			failed = append(failed, j.req)
			results = append(results, artifact.ExportResult{
				RunID: j.req.RunID, Success: false, Error: "skipped: batch aborted",
			})
		default:
			return &Result{Results: results, Failed: failed}, nil
		}
	}
}

func (b *BatchExporter) runOne(ctx context.Context, req artifact.ExportRequest) (*artifact.ExportResult, error) {
	if b.gate != nil {
		ticket, err := b.gate.AcquireWithTimeout(ctx, resource.JobKindExport, 0)
		if err != nil {
			return nil, fmt.Errorf("batchexport: acquire: %w", err)
		}
		defer ticket.Release()
	}
	return b.export(ctx, req)
}
