package metrics

import (
	"context"
	"strconv"

	"github.com/clipforge/pipeline/pkg/trace"
)

// Collector wraps a trace.Tracer and automatically populates metrics
// from coordinator trace spans. Use it as a drop-in replacement for any
// tracer to gain automatic metrics collection.
type Collector struct {
	inner trace.Tracer
	reg   *Registry

	runsTotal     *Counter
	runDuration   *Histogram
	stagesTotal   *Counter
	stageDuration *Histogram
	stageRetries  *Counter
}

// NewCollector creates a Collector that delegates span management to
// inner and records metrics in reg.
func NewCollector(inner trace.Tracer, reg *Registry) *Collector {
	return &Collector{
		inner:         inner,
		reg:           reg,
		runsTotal:     reg.Counter("coordinator_runs_total", "Total number of pipeline runs"),
		runDuration:   reg.Histogram("coordinator_run_duration_seconds", "Pipeline run duration in seconds"),
		stagesTotal:   reg.Counter("coordinator_stage_total", "Total number of stage executions"),
		stageDuration: reg.Histogram("coordinator_stage_duration_seconds", "Stage execution duration in seconds"),
		stageRetries:  reg.Counter("coordinator_stage_retries_total", "Total number of stage retry attempts"),
	}
}

// StartSpan delegates to the inner tracer.
func (c *Collector) StartSpan(ctx context.Context, name string) (context.Context, *trace.Span) {
	return c.inner.StartSpan(ctx, name)
}

// EndSpan delegates to the inner tracer and records metrics.
func (c *Collector) EndSpan(span *trace.Span) {
	c.inner.EndSpan(span)
	c.record(span)
}

func (c *Collector) record(span *trace.Span) {
	duration := span.EndTime.Sub(span.StartTime).Seconds()
	status := "ok"
	if span.Status == trace.StatusError {
		status = "error"
	}

	switch span.Name {
	case "coordinator.run":
		c.runsTotal.Inc(map[string]string{"status": status})
		c.runDuration.Observe(duration, nil)

	case "coordinator.stage":
		stageName := span.Attributes["stage.name"]
		c.stagesTotal.Inc(map[string]string{"stage": stageName, "status": status})
		c.stageDuration.Observe(duration, map[string]string{"stage": stageName})
		if n, err := strconv.Atoi(span.Attributes["stage.attempt"]); err == nil && n > 1 {
			c.stageRetries.Add(float64(n-1), map[string]string{"stage": stageName})
		}
	}
}
