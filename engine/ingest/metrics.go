package ingest

import "github.com/robin-ai/robinrag/pkg/metrics"

type pipelineMetrics struct {
	reg           *metrics.Registry
	runs          *metrics.Counter
	failedBatches *metrics.Counter
	embedSeconds  *metrics.Histogram
	upsertSeconds *metrics.Histogram
	vectors       *metrics.Gauge
	fullness      *metrics.Gauge
}

func newPipelineMetrics(reg *metrics.Registry) *pipelineMetrics {
	return &pipelineMetrics{
		reg:           reg,
		runs:          reg.Counter("robin_ingest_runs_total", "Ingestion runs started."),
		failedBatches: reg.Counter("robin_ingest_failed_batches_total", "Index batches that failed to upsert."),
		embedSeconds:  reg.Histogram("robin_embed_duration_seconds", "Embedding call latency.", nil),
		upsertSeconds: reg.Histogram("robin_upsert_duration_seconds", "Upsert latency per pipeline batch.", nil),
		vectors:       reg.Gauge("robin_index_vectors", "Vectors stored in the index."),
		fullness:      reg.Gauge("robin_index_fullness", "Index fullness ratio."),
	}
}

func status(ok bool) string {
	if ok {
		return "succeeded"
	}
	return "failed"
}

func (m *pipelineMetrics) units(ok bool) *metrics.Counter {
	return m.reg.Counter(metrics.WithLabels("robin_ingest_units_total", "status", status(ok)), "Pages processed.")
}

func (m *pipelineMetrics) chunks(ok bool) *metrics.Counter {
	return m.reg.Counter(metrics.WithLabels("robin_ingest_chunks_total", "status", status(ok)), "Chunks processed.")
}
