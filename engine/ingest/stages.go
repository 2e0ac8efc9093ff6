package ingest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/engine/normalize"
	"github.com/robin-ai/robinrag/pkg/fn"
)

// State is a step of the per-page state machine.
type State string

const (
	StateExtracted  State = "extracted"
	StateNormalized State = "normalized"
	StateClassified State = "classified"
	StateChunked    State = "chunked"
	StateEmbedded   State = "embedded"
	StateUpserted   State = "upserted"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

var errNoText = errors.New("no text after normalization")

// stageError records the state a page failed to reach.
type stageError struct {
	state State
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.state, e.err) }
func (e *stageError) Unwrap() error { return e.err }

// page is the work item flowing through the preparation stages.
type page struct {
	unit   domain.RawUnit
	clean  string
	class  domain.ClassificationResult
	chunks []domain.Chunk
}

type chunkJob struct {
	page   *page
	chunk  domain.Chunk
	source string
	stamp  string
}

func chunkID(c domain.Chunk) string {
	return fmt.Sprintf("%s#p%d#c%d", c.DocumentID, c.Page, c.Index)
}

// step wraps a page transform as a traced stage that logs the transition
// it completes.
func (p *Pipeline) step(state State, f func(page) (page, error)) fn.Stage[page, page] {
	return fn.TracedStage("ingest."+string(state), func(_ context.Context, in page) fn.Result[page] {
		out, err := f(in)
		if err != nil {
			return fn.Err[page](&stageError{state: state, err: err})
		}
		p.log.Debug("ingest: stage", "doc_id", in.unit.DocumentID, "page", in.unit.Page, "stage", state)
		return fn.Ok(out)
	})
}

func (p *Pipeline) normalize(in page) (page, error) {
	in.clean = normalize.Normalize(in.unit.Text)
	if in.clean == "" {
		return in, errNoText
	}
	return in, nil
}

func (p *Pipeline) classify(in page) (page, error) {
	in.class = p.deps.Classifier.Classify(in.clean)
	return in, nil
}

func (p *Pipeline) chunk(in page) (page, error) {
	in.chunks = p.chunker.Chunks(in.unit.DocumentID, in.unit.Page, in.clean)
	if len(in.chunks) == 0 {
		return in, errNoText
	}
	return in, nil
}

// embedChunk embeds one chunk and attaches its metadata.
func (p *Pipeline) embedChunk(ctx context.Context, job chunkJob) fn.Result[domain.IndexRecord] {
	start := time.Now()
	vec, err := p.deps.Embedder.Embed(ctx, job.chunk.Text)
	p.m.embedSeconds.Since(start)
	if err != nil {
		return fn.Err[domain.IndexRecord](err)
	}

	c := job.chunk
	md := map[string]any{
		domain.MetaText:       c.Text,
		domain.MetaSource:     job.source,
		domain.MetaPage:       c.Page,
		domain.MetaChunkIndex: c.Index,
		domain.MetaType:       domain.TypeDocument,
		domain.MetaTimestamp:  job.stamp,
		domain.MetaDocID:      c.DocumentID,
	}
	if job.page.class.Context != "" {
		md[domain.MetaExcerpt] = job.page.class.Context
	}
	maps.Copy(md, job.page.class.Tags())
	return fn.Ok(domain.IndexRecord{ID: chunkID(c), Vector: vec, Metadata: md})
}
