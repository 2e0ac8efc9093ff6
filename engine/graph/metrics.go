package graph

import (
	"context"
	"fmt"
)

// NodeCounts returns node counts grouped by label.
func (g *TagGraph) NodeCounts(ctx context.Context) (map[string]int64, error) {
	return g.counts(ctx, `MATCH (n) RETURN labels(n)[0] AS type, count(*) AS count`)
}

// RelationshipCounts returns relationship counts grouped by type.
func (g *TagGraph) RelationshipCounts(ctx context.Context) (map[string]int64, error) {
	return g.counts(ctx, `MATCH ()-[r]->() RETURN type(r) AS type, count(*) AS count`)
}

func (g *TagGraph) counts(ctx context.Context, cypher string) (map[string]int64, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, fmt.Errorf("graph: counts: %w", err)
	}
	counts := make(map[string]int64)
	for result.Next(ctx) {
		rec := result.Record()
		typ, _ := rec.Get("type")
		cnt, _ := rec.Get("count")
		if t, ok := typ.(string); ok {
			if c, ok := cnt.(int64); ok {
				counts[t] = c
			}
		}
	}
	return counts, nil
}

// TopPatterns returns the patterns mentioned by the most documents.
func (g *TagGraph) TopPatterns(ctx context.Context, limit int) ([]TagStats, error) {
	return g.top(ctx, LabelPattern, limit)
}

// TopTerms returns the terms mentioned by the most documents.
func (g *TagGraph) TopTerms(ctx context.Context, limit int) ([]TagStats, error) {
	return g.top(ctx, LabelTerm, limit)
}

func (g *TagGraph) top(ctx context.Context, label string, limit int) ([]TagStats, error) {
	if limit <= 0 {
		limit = 10
	}
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (d:Document)-[m:%s]->(t:%s)
		 RETURN t.name AS name, count(DISTINCT d) AS documents, count(m) AS mentions
		 ORDER BY documents DESC, name LIMIT $limit`, RelMentions, label)
	result, err := sess.Run(ctx, cypher, map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("graph: top %s: %w", label, err)
	}
	var stats []TagStats
	for result.Next(ctx) {
		rec := result.Record()
		name, _ := rec.Get("name")
		docs, _ := rec.Get("documents")
		mentions, _ := rec.Get("mentions")
		var s TagStats
		s.Name, _ = name.(string)
		s.Documents, _ = docs.(int64)
		s.Mentions, _ = mentions.(int64)
		stats = append(stats, s)
	}
	return stats, nil
}
