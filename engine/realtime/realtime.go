// Package realtime vectorizes short-lived domain records (option contracts,
// market snapshots) into a scoped group of the vector index, hands the group
// to a consumer, then deletes it.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/engine/semantic"
	"github.com/robin-ai/robinrag/pkg/fn"
	"github.com/robin-ai/robinrag/pkg/metrics"
)

// Kind is the IngestionReport kind of a realtime run.
const Kind = "realtime"

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingVector, error)
}

// Index is the part of semantic.VectorIndex a realtime run uses.
type Index interface {
	EnsureReady(ctx context.Context) error
	Upsert(ctx context.Context, records []domain.IndexRecord) (semantic.UpsertResult, error)
	Query(ctx context.Context, vec domain.EmbeddingVector, topK int, filter map[string]any) []semantic.Match
	Delete(ctx context.Context, filter map[string]any) error
	Stats(ctx context.Context) (domain.IndexStats, error)
}

// Ledger persists run reports.
type Ledger interface {
	SaveReport(ctx context.Context, r *domain.IngestionReport) error
}

// Deps holds the external dependencies. Embedder and Index are required.
type Deps struct {
	Embedder Embedder
	Index    Index
	Ledger   Ledger            // optional
	Metrics  *metrics.Registry // optional
	Logger   *slog.Logger
	Now      func() time.Time
}

// ConsumeFunc uses the group's vectors while they exist.
type ConsumeFunc func(ctx context.Context, s *Session) error

// Pipeline vectorizes record groups. It is safe for concurrent use with
// distinct groups.
type Pipeline struct {
	deps Deps
	opts Options
	log  *slog.Logger
	m    *realtimeMetrics
}

// New validates opts and builds a Pipeline.
func New(deps Deps, opts Options) (*Pipeline, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("realtime: %w", err)
	}
	if deps.Embedder == nil || deps.Index == nil {
		return nil, fmt.Errorf("realtime: %w", domain.NewConfigError("deps", "", "embedder and index are required"))
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	p := &Pipeline{
		deps: deps,
		opts: opts,
		log:  deps.Logger,
		m:    newRealtimeMetrics(deps.Metrics),
	}
	return p, nil
}

// Vectorize embeds records into group, calls consume, and deletes every
// vector tagged with group afterwards. The delete runs whether consume
// succeeds, fails or panics, on a fresh context bounded by CleanupTimeout.
// Per-record failures are counted in the report; the error carries the
// consume and cleanup failures, or an index that could not be made ready.
func (p *Pipeline) Vectorize(ctx context.Context, group string, records []domain.Record, consume ConsumeFunc) (rep *domain.IngestionReport, err error) {
	if group == "" {
		return nil, fmt.Errorf("realtime: %w", domain.NewConfigError("group", "", "must not be empty"))
	}
	if consume == nil {
		return nil, fmt.Errorf("realtime: %w", domain.NewConfigError("consume", "", "must not be nil"))
	}

	rep = &domain.IngestionReport{
		RunID:     uuid.NewString(),
		Kind:      Kind,
		StartedAt: p.deps.Now().UTC(),
	}
	log := p.log.With("run_id", rep.RunID, "record_group", group)
	p.m.runs.Inc()

	if len(records) > p.opts.MaxRecords {
		log.Info("realtime: capping records", "records", len(records), "max_records", p.opts.MaxRecords)
		records = records[:p.opts.MaxRecords]
	}

	if err := p.deps.Index.EnsureReady(ctx); err != nil {
		rep.Degraded = true
		rep.TotalUnits, rep.FailedUnits = len(records), len(records)
		p.finish(ctx, rep)
		log.Error("realtime: index unavailable", "error", err)
		return rep, fmt.Errorf("realtime: %w", err)
	}

	defer func() {
		if cerr := p.cleanup(ctx, group, log); cerr != nil {
			err = errors.Join(err, cerr)
		}
		p.finish(ctx, rep)
		log.Info("realtime: run complete",
			"records", rep.TotalUnits,
			"upserted", rep.SucceededChunks,
			"failed", rep.FailedChunks,
			"duration", rep.Duration(),
		)
	}()

	rep.Before = p.snapshot(ctx)
	upserted := p.store(ctx, group, records, rep, log)
	rep.After = p.snapshot(ctx)

	sess := &Session{group: group, upserted: upserted, embedder: p.deps.Embedder, index: p.deps.Index}
	if cerr := consume(ctx, sess); cerr != nil {
		log.Warn("realtime: consume failed", "error", cerr)
		return rep, fmt.Errorf("realtime: consume %s: %w", group, cerr)
	}
	return rep, nil
}

// store embeds and upserts records, filling in rep. It returns the number of
// records stored.
func (p *Pipeline) store(ctx context.Context, group string, records []domain.Record, rep *domain.IngestionReport, log *slog.Logger) int {
	stamp := rep.StartedAt.Format(time.RFC3339)
	rep.TotalUnits = len(records)
	rep.TotalChunks = len(records)

	results := fn.ParMap(records, p.opts.Workers, func(rec domain.Record) fn.Result[domain.IndexRecord] {
		return p.embedRecord(ctx, group, stamp, rec)
	})

	batch := make([]domain.IndexRecord, 0, len(results))
	for i, res := range results {
		ir, err := res.Unwrap()
		if err != nil {
			unit := recordUnit(records[i], i)
			rep.FailedChunks++
			rep.FailedUnits++
			rep.Failures = append(rep.Failures, domain.UnitFailure{Unit: unit, Stage: "embedded", Reason: err.Error()})
			p.m.records(false).Inc()
			log.Warn("realtime: record skipped", "record_id", unit, "error", err)
			continue
		}
		batch = append(batch, ir)
	}
	if len(batch) == 0 {
		return 0
	}

	up, err := p.deps.Index.Upsert(ctx, batch)
	rep.SucceededChunks += up.Upserted
	rep.SucceededUnits += up.Upserted
	rep.FailedChunks += up.Failed
	rep.FailedUnits += up.Failed
	rep.FailedBatches += up.FailedBatches
	p.m.records(true).Add(int64(up.Upserted))
	p.m.records(false).Add(int64(up.Failed))
	if err != nil {
		rep.Degraded = true
	}
	if up.Failed > 0 {
		reason := fmt.Errorf("%w: %d of %d records not stored", domain.ErrPartialBatchFailure, up.Failed, len(batch))
		if err != nil {
			reason = fmt.Errorf("%w: %w", reason, err)
		}
		rep.Failures = append(rep.Failures, domain.UnitFailure{Unit: group, Stage: "upserted", Reason: reason.Error()})
		log.Warn("realtime: upsert partially failed", "failed", up.Failed, "error", reason)
	}
	return up.Upserted
}

func recordUnit(rec domain.Record, i int) string {
	if rec == nil {
		return fmt.Sprintf("record[%d]", i)
	}
	if id := rec.RecordID(); id != "" {
		return id
	}
	return fmt.Sprintf("record[%d]", i)
}

func (p *Pipeline) embedRecord(ctx context.Context, group, stamp string, rec domain.Record) fn.Result[domain.IndexRecord] {
	if err := validateRecord(rec); err != nil {
		return fn.Err[domain.IndexRecord](err)
	}
	text := rec.Describe()
	start := time.Now()
	vec, err := p.deps.Embedder.Embed(ctx, text)
	p.m.embedSeconds.Since(start)
	if err != nil {
		return fn.Err[domain.IndexRecord](err)
	}

	md := maps.Clone(rec.Metadata())
	if md == nil {
		md = map[string]any{}
	}
	maps.Copy(md, map[string]any{
		domain.MetaText:        text,
		domain.MetaSource:      group,
		domain.MetaRecordID:    rec.RecordID(),
		domain.MetaRecordGroup: group,
		domain.MetaType:        rec.Kind(),
		domain.MetaTimestamp:   stamp,
	})
	return fn.Ok(domain.IndexRecord{ID: group + "/" + rec.RecordID(), Vector: vec, Metadata: md})
}

func validateRecord(rec domain.Record) error {
	if rec == nil {
		return errors.New("realtime: nil record")
	}
	if rec.RecordID() == "" {
		return errors.New("realtime: record without id")
	}
	switch c := rec.(type) {
	case domain.OptionContract:
		return domain.ValidateOptionContract(c)
	case *domain.OptionContract:
		return domain.ValidateOptionContract(*c)
	}
	return nil
}

func (p *Pipeline) cleanup(ctx context.Context, group string, log *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.CleanupTimeout)
	defer cancel()

	start := time.Now()
	err := p.deps.Index.Delete(ctx, map[string]any{domain.MetaRecordGroup: group})
	p.m.cleanupSeconds.Since(start)
	if err != nil {
		p.m.cleanupFailures.Inc()
		log.Error("realtime: cleanup failed", "error", err)
		return fmt.Errorf("realtime: cleanup %s: %w", group, err)
	}
	log.Debug("realtime: group deleted")
	return nil
}

func (p *Pipeline) snapshot(ctx context.Context) domain.IndexStats {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()
	stats, err := p.deps.Index.Stats(ctx)
	if err != nil {
		p.log.Warn("realtime: stats unavailable", "error", err)
	}
	return stats
}

func (p *Pipeline) finish(ctx context.Context, rep *domain.IngestionReport) {
	rep.FinishedAt = p.deps.Now().UTC()
	if p.deps.Ledger == nil {
		return
	}
	if err := p.deps.Ledger.SaveReport(context.WithoutCancel(ctx), rep); err != nil {
		p.log.Warn("realtime: saving report failed", "run_id", rep.RunID, "error", err)
	}
}
