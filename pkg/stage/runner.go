// Package stage implements the generic per-item execution wrapper shared
// by every pipeline stage: cancellation polling between items, throttled
// progress callbacks, checkpoint-aware item skipping, and partial-success
// aggregation.
package stage

import (
	"context"
	"time"
)

// Status summarizes how a stage's items fared.
type Status int

const (
	// StatusSuccess means every item succeeded.
	StatusSuccess Status = iota
	// StatusPartial means at least MinSuccessRate of items succeeded.
	StatusPartial
	// StatusFailed means fewer than MinSuccessRate of items succeeded.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusPartial:
		return "PARTIAL"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// WorkerFunc processes a single item, returning its typed result or an
// error describing why the item failed.
type WorkerFunc func(ctx context.Context, item string) (any, error)

// Result is the aggregate outcome of running a stage over its items.
type Result struct {
	Status     Status
	Successful map[string]any
	Failed     map[string]string
}

// DefaultMinSuccessRate is used when Runner.MinSuccessRate is unset.
const DefaultMinSuccessRate = 0.90

// progressThrottle bounds how often ProgressFunc fires during a run.
const progressThrottle = 200 * time.Millisecond

// ProgressFunc reports completion count out of total, throttled to at
// most once per 200ms plus a final call when the stage finishes.
type ProgressFunc func(completed, total int)

// AlreadyCompleted reports whether an item should be skipped because a
// checkpoint already recorded it as done.
type AlreadyCompleted func(item string) bool

// OnItemDone is invoked after each item succeeds, so the caller can
// persist a per-item checkpoint. Errors returned are ignored by Run but
// may be surfaced via logging by the caller's closure.
type OnItemDone func(item string, output any)

// Runner wraps worker invocation with the cross-cutting concerns shared
// by every stage.
type Runner struct {
	MinSuccessRate float64
}

// New creates a Runner. A minSuccessRate <= 0 uses DefaultMinSuccessRate.
func New(minSuccessRate float64) *Runner {
	if minSuccessRate <= 0 {
		minSuccessRate = DefaultMinSuccessRate
	}
	return &Runner{MinSuccessRate: minSuccessRate}
}

// Run executes worker over items in order, skipping items already marked
// complete, polling ctx for cancellation between items, and reporting
// throttled progress.
func (r *Runner) Run(
	ctx context.Context,
	items []string,
	worker WorkerFunc,
	alreadyDone AlreadyCompleted,
	onDone OnItemDone,
	progress ProgressFunc,
) (*Result, error) {
	result := &Result{
		Successful: make(map[string]any),
		Failed:     make(map[string]string),
	}

	total := len(items)
	completed := 0
	lastReport := time.Time{}

	report := func(force bool) {
		if progress == nil {
			return
		}
		if force || time.Since(lastReport) >= progressThrottle {
			progress(completed, total)
			lastReport = time.Now()
		}
	}

	skipped := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if alreadyDone != nil && alreadyDone(item) {
			skipped++
			completed++
			report(false)
			continue
		}

		output, err := worker(ctx, item)
		if err != nil {
			result.Failed[item] = err.Error()
		} else {
			result.Successful[item] = output
			if onDone != nil {
				onDone(item, output)
			}
		}
		completed++
		report(false)
	}
	report(true)

	result.Status = classify(len(result.Successful)+skipped, total, r.MinSuccessRate)
	return result, nil
}

func classify(successful, total int, minRate float64) Status {
	if total == 0 || successful == total {
		return StatusSuccess
	}
	rate := float64(successful) / float64(total)
	if rate >= minRate {
		return StatusPartial
	}
	return StatusFailed
}
