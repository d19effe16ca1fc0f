// Package clipplog provides structured JSON logging with trace correlation
// for the clipforge pipeline.
//
// The Logger writes JSON log lines with level, timestamp, message, and
// optional fields. When a trace span exists in the context, the logger
// automatically includes trace_id and span_id for correlation.
//
// Usage:
//
//	logger := clipplog.New(os.Stdout, clipplog.Info)
//	logger.InfoCtx(ctx, "stage started", "stage", "transcribe", "run_id", runID)
//
// For file logging with rotation:
//
//	fw, err := clipplog.NewFileWriter("/var/log/clipforge.log", clipplog.FileConfig{
//	    MaxSize:  10 * 1024 * 1024, // 10 MB
//	    MaxFiles: 5,
//	})
//	logger := clipplog.New(fw, clipplog.Debug)
package clipplog
