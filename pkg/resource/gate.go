package resource

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// JobKind distinguishes encode jobs (subject to a tighter concurrency
// cap) from other export work.
type JobKind string

const (
	JobKindExport JobKind = "export"
	JobKindEncode JobKind = "encode"
)

// Thresholds configures the admission predicate evaluated by Gate.
type Thresholds struct {
	MaxCPUPercent      float64
	MaxMemPercent      float64
	MaxGPUPercent      float64
	MaxParallelExports int
	MaxParallelEncodes int
}

// DefaultThresholds returns conservative ceilings suitable for a shared
// workstation running the pipeline alongside other work.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxCPUPercent:      80,
		MaxMemPercent:      70,
		MaxGPUPercent:      90,
		MaxParallelExports: 2,
		MaxParallelEncodes: 1,
	}
}

// Gate is an admission controller: CanStart evaluates a predicate over
// the monitor's latest snapshot and the live job registry;
// AcquireWithTimeout blocks until the predicate holds or the timeout
// elapses. The job registry and predicate evaluation share one mutex so
// a burst of concurrent acquire calls can never all observe stale
// headroom and overshoot the configured ceilings.
type Gate struct {
	monitor    *Monitor
	thresholds Thresholds

	mu            sync.Mutex
	activeExports int
	activeEncodes int
}

// NewGate creates a Gate that reads live load from monitor.
func NewGate(monitor *Monitor, thresholds Thresholds) *Gate {
	return &Gate{monitor: monitor, thresholds: thresholds}
}

// CanStart reports whether admitting one more job of kind would keep the
// system within every configured ceiling.
func (g *Gate) CanStart(kind JobKind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canStartLocked(kind)
}

func (g *Gate) canStartLocked(kind JobKind) bool {
	snap := g.monitor.Snapshot()

	if g.thresholds.MaxCPUPercent > 0 && snap.CPUPercent >= g.thresholds.MaxCPUPercent {
		return false
	}
	if g.thresholds.MaxMemPercent > 0 && snap.MemPercent >= g.thresholds.MaxMemPercent {
		return false
	}
	if g.thresholds.MaxGPUPercent > 0 {
		for _, gpu := range snap.GPUs {
			if gpu.UtilizationPercent >= g.thresholds.MaxGPUPercent {
				return false
			}
		}
	}
	if g.thresholds.MaxParallelExports > 0 && g.activeExports >= g.thresholds.MaxParallelExports {
		return false
	}
	if kind == JobKindEncode && g.thresholds.MaxParallelEncodes > 0 && g.activeEncodes >= g.thresholds.MaxParallelEncodes {
		return false
	}
	return true
}

// Ticket represents an admitted job. Release must be called when the job
// ends; calls after the first are no-ops.
type Ticket struct {
	release func()
	once    sync.Once
}

// Release returns the job's admission slot to the gate.
func (t *Ticket) Release() {
	t.once.Do(t.release)
}

// ErrTimeout is returned by AcquireWithTimeout when the predicate never
// holds before the deadline.
type ErrTimeout struct {
	Kind JobKind
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("resource: acquire timeout for job kind %q", e.Kind)
}

const pollInterval = time.Second

// AcquireWithTimeout blocks, polling at 1s intervals, until CanStart(kind)
// holds or timeout elapses. On success it registers the job and returns a
// Ticket whose Release must be called when the job completes.
func (g *Gate) AcquireWithTimeout(ctx context.Context, kind JobKind, timeout time.Duration) (*Ticket, error) {
	deadline := time.Now().Add(timeout)

	for {
		g.mu.Lock()
		if g.canStartLocked(kind) {
			g.activeExports++
			if kind == JobKindEncode {
				g.activeEncodes++
			}
			g.mu.Unlock()
			return g.newTicket(kind), nil
		}
		g.mu.Unlock()

		if timeout > 0 && time.Now().After(deadline) {
			return nil, &ErrTimeout{Kind: kind}
		}

		wait := pollInterval
		if timeout > 0 {
			if remaining := time.Until(deadline); remaining < wait {
				wait = remaining
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (g *Gate) newTicket(kind JobKind) *Ticket {
	return &Ticket{release: func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.activeExports--
		if kind == JobKindEncode {
			g.activeEncodes--
		}
	}}
}
