// Package metrics collects router metrics off the request path.
//
// Components emit events through a buffered channel with non-blocking
// sends; a single goroutine folds them into:
//   - request counts per route (root, forward, not_found)
//   - pick counts per instance, and pick failures
//   - forward response times with percentiles (P50, P95, P99)
//   - forward status code distribution per instance
//   - running/sleeping state of docker instances
//
// The same events feed Prometheus series when a registerer is supplied.
//
// Example usage:
//
//	reg := prometheus.NewRegistry()
//	collector := metrics.NewCollector(1000, logger, metrics.WithRegisterer(reg))
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:     metrics.EventInstancePicked,
//		Instance: "backend-instance-0",
//	})
//
//	snapshot := collector.Snapshot("random")
//
// On shutdown the collector drains queued events before stopping.
package metrics
