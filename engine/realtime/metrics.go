package realtime

import "github.com/robin-ai/robinrag/pkg/metrics"

type realtimeMetrics struct {
	reg             *metrics.Registry
	runs            *metrics.Counter
	cleanupFailures *metrics.Counter
	embedSeconds    *metrics.Histogram
	cleanupSeconds  *metrics.Histogram
}

func newRealtimeMetrics(reg *metrics.Registry) *realtimeMetrics {
	return &realtimeMetrics{
		reg:             reg,
		runs:            reg.Counter("robin_realtime_runs_total", "Realtime vectorization runs started."),
		cleanupFailures: reg.Counter("robin_realtime_cleanup_failures_total", "Record groups whose vectors could not be deleted."),
		embedSeconds:    reg.Histogram("robin_embed_duration_seconds", "Embedding call latency.", nil),
		cleanupSeconds:  reg.Histogram("robin_realtime_cleanup_duration_seconds", "Delete latency per record group.", nil),
	}
}

func (m *realtimeMetrics) records(ok bool) *metrics.Counter {
	s := "failed"
	if ok {
		s = "succeeded"
	}
	return m.reg.Counter(metrics.WithLabels("robin_realtime_records_total", "status", s), "Records vectorized.")
}
