package realtime

import (
	"context"
	"fmt"
	"maps"

	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/engine/semantic"
)

// Session gives a consumer access to one record group while it exists.
type Session struct {
	group    string
	upserted int
	embedder Embedder
	index    Index
}

// Group returns the record group name.
func (s *Session) Group() string { return s.group }

// Upserted returns how many records of the group were stored.
func (s *Session) Upserted() int { return s.upserted }

// Query searches the group. filter narrows the search further; its
// record_group key, if any, is overridden.
func (s *Session) Query(ctx context.Context, vec domain.EmbeddingVector, topK int, filter map[string]any) []semantic.Match {
	scoped := maps.Clone(filter)
	if scoped == nil {
		scoped = map[string]any{}
	}
	scoped[domain.MetaRecordGroup] = s.group
	return s.index.Query(ctx, vec, topK, scoped)
}

// Search embeds text and queries the group with it.
func (s *Session) Search(ctx context.Context, text string, topK int, filter map[string]any) ([]semantic.Match, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("realtime: search %s: %w", s.group, err)
	}
	return s.Query(ctx, vec, topK, filter), nil
}
