// Package ingest runs documents through normalization, classification,
// chunking, embedding and vector upsert, producing one IngestionReport per
// run. Partial failures are counted in the report, never returned as errors.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/robin-ai/robinrag/engine/chunk"
	"github.com/robin-ai/robinrag/engine/classify"
	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/engine/semantic"
	"github.com/robin-ai/robinrag/pkg/fn"
	"github.com/robin-ai/robinrag/pkg/metrics"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingVector, error)
}

// Index is the part of semantic.VectorIndex the pipeline writes to.
type Index interface {
	EnsureReady(ctx context.Context) error
	Upsert(ctx context.Context, records []domain.IndexRecord) (semantic.UpsertResult, error)
	Stats(ctx context.Context) (domain.IndexStats, error)
}

// TagRecorder stores a page's classification, e.g. in the tag graph.
type TagRecorder interface {
	RecordDocument(ctx context.Context, docID string, page int, res domain.ClassificationResult) error
}

// Ledger persists run reports.
type Ledger interface {
	SaveReport(ctx context.Context, r *domain.IngestionReport) error
}

// Deps holds the external dependencies for the ingestion pipeline. Embedder
// and Index are required.
type Deps struct {
	Embedder   Embedder
	Index      Index
	Classifier *classify.Classifier // nil uses classify.Default()
	Tags       TagRecorder          // optional
	Ledger     Ledger               // optional
	Metrics    *metrics.Registry    // optional
	Logger     *slog.Logger
	Now        func() time.Time
}

// Pipeline is a configured ingestion pipeline. It is safe for concurrent
// runs; each run owns its report and batch.
type Pipeline struct {
	deps    Deps
	opts    Options
	chunker *chunk.Chunker
	log     *slog.Logger
	m       *pipelineMetrics
	prepare fn.Stage[page, page]
	embed   fn.Stage[chunkJob, domain.IndexRecord]
}

// New validates opts and builds a Pipeline.
func New(deps Deps, opts Options) (*Pipeline, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if deps.Embedder == nil || deps.Index == nil {
		return nil, fmt.Errorf("ingest: %w", domain.NewConfigError("deps", "", "embedder and index are required"))
	}
	if deps.Classifier == nil {
		deps.Classifier = classify.Default()
	}
	deps.Classifier = deps.Classifier.WithWindow(opts.ContextWindow)
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	ch, _ := chunk.New(opts.ChunkSize, opts.Overlap) // checked by Validate

	p := &Pipeline{
		deps:    deps,
		opts:    opts,
		chunker: ch,
		log:     deps.Logger,
		m:       newPipelineMetrics(deps.Metrics),
	}
	p.prepare = fn.Then(p.step(StateNormalized, p.normalize),
		fn.Then(p.step(StateClassified, p.classify), p.step(StateChunked, p.chunk)))
	p.embed = fn.TracedStage("ingest.embed", p.embedChunk)
	return p, nil
}

// Options returns the pipeline's options.
func (p *Pipeline) Options() Options { return p.opts }

// RunDocument ingests a single document.
func (p *Pipeline) RunDocument(ctx context.Context, doc domain.Document) (*domain.IngestionReport, error) {
	return p.Run(ctx, []domain.Document{doc})
}

// Run ingests docs in order and always returns a report. The error is
// non-nil only when the index cannot be made ready or ctx ends.
func (p *Pipeline) Run(ctx context.Context, docs []domain.Document) (*domain.IngestionReport, error) {
	r := &run{
		p: p,
		report: &domain.IngestionReport{
			RunID:     uuid.NewString(),
			Kind:      domain.TypeDocument,
			StartedAt: p.deps.Now().UTC(),
		},
	}
	r.stamp = r.report.StartedAt.Format(time.RFC3339)
	log := p.log.With("run_id", r.report.RunID)
	p.m.runs.Inc()

	if err := p.deps.Index.EnsureReady(ctx); err != nil {
		r.report.Degraded = true
		r.finish(ctx)
		log.Error("ingest: run aborted, index unavailable", "error", err)
		return r.report, fmt.Errorf("ingest: %w", err)
	}
	r.report.Before = p.snapshot(ctx)

	var runErr error
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("ingest: %w", err)
			break
		}
		r.document(ctx, doc)
	}
	r.flush(ctx)
	r.report.After = p.snapshot(ctx)
	r.finish(ctx)

	rep := r.report
	log.Info("ingest: run complete",
		"documents", len(docs),
		"units", rep.TotalUnits,
		"failed_units", rep.FailedUnits,
		"chunks", rep.TotalChunks,
		"failed_chunks", rep.FailedChunks,
		"failed_batches", rep.FailedBatches,
		"vectors_before", rep.Before.TotalVectorCount,
		"vectors_after", rep.After.TotalVectorCount,
		"duration", rep.Duration(),
	)
	return rep, runErr
}

func (p *Pipeline) snapshot(ctx context.Context) domain.IndexStats {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()
	stats, err := p.deps.Index.Stats(ctx)
	if err != nil {
		p.log.Warn("ingest: stats unavailable", "error", err)
		return stats
	}
	p.m.vectors.Set(float64(stats.TotalVectorCount))
	p.m.fullness.Set(stats.Fullness)
	return stats
}

// run is the mutable state of one Run call.
type run struct {
	p       *Pipeline
	report  *domain.IngestionReport
	pending []domain.IndexRecord
	stamp   string
}

func (r *run) fail(unit string, state State, err error, retry bool) {
	r.report.Failures = append(r.report.Failures, domain.UnitFailure{
		Unit:      unit,
		Stage:     string(state),
		Reason:    err.Error(),
		Retryable: retry,
	})
}

// retryable is false for failures that depend only on the input: rejected
// documents, pages with no text and vectors of the wrong dimension.
func retryable(state State, err error) bool {
	switch {
	case state == StateExtracted,
		errors.Is(err, errNoText),
		errors.Is(err, domain.ErrDimensionMismatch):
		return false
	}
	return true
}

func (r *run) document(ctx context.Context, doc domain.Document) {
	log := r.p.log.With("doc_id", doc.ID)
	if err := domain.ValidateDocument(doc); err != nil {
		n := max(1, len(doc.Pages))
		r.report.TotalUnits += n
		r.report.FailedUnits += n
		r.p.m.units(false).Add(int64(n))
		r.fail(doc.ID, StateExtracted, err, false)
		log.Warn("ingest: document rejected", "stage", StateFailed, "error", err)
		return
	}
	log.Info("ingest: document extracted", "stage", StateExtracted, "pages", len(doc.Pages))

	source := r.p.opts.Source
	if source == "" {
		source = doc.Source
	}
	if source == "" {
		source = doc.ID
	}
	for _, u := range doc.Units() {
		r.page(ctx, u, source)
	}
	log.Info("ingest: document done", "stage", StateDone)
}

func (r *run) page(ctx context.Context, u domain.RawUnit, source string) {
	r.report.TotalUnits++
	log := r.p.log.With("doc_id", u.DocumentID, "page", u.Page)

	pg, err := r.p.prepare(ctx, page{unit: u}).Unwrap()
	if err != nil {
		state := StateFailed
		var se *stageError
		if errors.As(err, &se) {
			state = se.state
		}
		r.report.FailedUnits++
		r.p.m.units(false).Inc()
		r.fail(u.ID(), state, err, retryable(state, err))
		log.Warn("ingest: page failed", "stage", state, "error", err)
		return
	}

	if r.p.deps.Tags != nil {
		if err := r.p.deps.Tags.RecordDocument(ctx, u.DocumentID, u.Page, pg.class); err != nil {
			log.Warn("ingest: tag graph write failed", "error", err)
		}
	}

	embedded, retry := 0, false
	for _, c := range pg.chunks {
		r.report.TotalChunks++
		rec, err := r.p.embed(ctx, chunkJob{page: &pg, chunk: c, source: source, stamp: r.stamp}).Unwrap()
		if err != nil {
			r.report.FailedChunks++
			r.p.m.chunks(false).Inc()
			again := retryable(StateEmbedded, err)
			retry = retry || again
			r.fail(chunkID(c), StateEmbedded, err, again)
			log.Warn("ingest: chunk skipped", "chunk_index", c.Index, "stage", StateEmbedded, "error", err)
			continue
		}
		embedded++
		r.pending = append(r.pending, rec)
		if len(r.pending) >= r.p.opts.BatchSize {
			r.flush(ctx)
		}
	}

	if embedded == 0 {
		r.report.FailedUnits++
		r.p.m.units(false).Inc()
		r.fail(u.ID(), StateEmbedded, fmt.Errorf("all %d chunks failed", len(pg.chunks)), retry)
		log.Warn("ingest: page failed", "stage", StateEmbedded, "chunks", len(pg.chunks))
		return
	}
	r.report.SucceededUnits++
	r.p.m.units(true).Inc()
	log.Debug("ingest: page embedded", "stage", StateEmbedded, "chunks", len(pg.chunks), "embedded", embedded)
}

// flush upserts the pending batch. Records in failed index batches count as
// failed chunks.
func (r *run) flush(ctx context.Context) {
	if len(r.pending) == 0 {
		return
	}
	batch := r.pending
	r.pending = nil

	start := time.Now()
	res, err := r.p.deps.Index.Upsert(ctx, batch)
	r.p.m.upsertSeconds.Since(start)

	r.report.SucceededChunks += res.Upserted
	r.report.FailedChunks += res.Failed
	r.report.FailedBatches += res.FailedBatches
	r.p.m.chunks(true).Add(int64(res.Upserted))
	r.p.m.chunks(false).Add(int64(res.Failed))
	r.p.m.failedBatches.Add(int64(res.FailedBatches))

	if err != nil {
		r.report.Degraded = true
	}
	if res.Failed > 0 {
		reason := fmt.Errorf("%w: %d of %d records not stored", domain.ErrPartialBatchFailure, res.Failed, len(batch))
		if err != nil {
			reason = fmt.Errorf("%w: %w", reason, err)
		}
		r.fail(batch[0].ID, StateUpserted, reason, true)
		r.p.log.Warn("ingest: batch partially failed", "stage", StateUpserted, "records", len(batch), "failed", res.Failed, "error", reason)
		return
	}
	r.p.log.Debug("ingest: batch upserted", "stage", StateUpserted, "records", len(batch), "batches", res.Batches)
}

func (r *run) finish(ctx context.Context) {
	r.report.FinishedAt = r.p.deps.Now().UTC()
	if r.p.deps.Ledger == nil {
		return
	}
	if err := r.p.deps.Ledger.SaveReport(context.WithoutCancel(ctx), r.report); err != nil {
		r.p.log.Warn("ingest: saving report failed", "run_id", r.report.RunID, "error", err)
	}
}
