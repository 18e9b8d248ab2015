// Package progress is the observability sink for the worker pool. The
// dispatcher emits worker state changes, queue notifications, job outcomes and
// log lines; a non-blocking Hub batches them on a background goroutine and
// fans them out to pluggable sinks such as Prometheus, Pub/Sub or zap.
package progress
