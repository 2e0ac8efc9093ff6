package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/pkg/repo"
)

// TagGraph stores Document, Pattern and Term nodes joined by MENTIONS
// relationships carrying the page number.
type TagGraph struct {
	opener repo.Opener
	docs   *repo.Neo4jRepo[Document, string]
	now    func() time.Time
}

// New creates a TagGraph on a neo4j driver.
func New(driver neo4j.DriverWithContext) *TagGraph {
	return NewWithOpener(repo.DriverOpener(driver))
}

// NewWithOpener creates a TagGraph that obtains sessions from opener.
func NewWithOpener(opener repo.Opener) *TagGraph {
	return &TagGraph{
		opener: opener,
		docs:   newDocumentRepo(opener),
		now:    time.Now,
	}
}

var schema = []string{
	`CREATE CONSTRAINT document_id IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`,
	`CREATE CONSTRAINT pattern_name IF NOT EXISTS FOR (p:Pattern) REQUIRE p.name IS UNIQUE`,
	`CREATE CONSTRAINT term_name IF NOT EXISTS FOR (t:Term) REQUIRE t.name IS UNIQUE`,
}

// EnsureSchema creates the uniqueness constraints. It is safe to call
// repeatedly.
func (g *TagGraph) EnsureSchema(ctx context.Context) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	for _, stmt := range schema {
		if _, err := sess.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("graph: schema: %w", err)
		}
	}
	return nil
}

// RecordDocument replaces the mentions of one document page with the
// patterns and terms in res. All writes happen in a single transaction.
func (g *TagGraph) RecordDocument(ctx context.Context, docID string, page int, res domain.ClassificationResult) error {
	if docID == "" {
		return errors.New("graph: record document: empty document id")
	}
	if page < 1 {
		return fmt.Errorf("graph: record document %s: invalid page %d", docID, page)
	}
	params := map[string]any{
		"doc":      docID,
		"page":     int64(page),
		"now":      g.now().UTC().Format(time.RFC3339),
		"patterns": nonNil(res.Patterns),
		"terms":    nonNil(res.Terms),
	}

	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx repo.Runner) (any, error) {
		stmts := []string{
			`MERGE (d:Document {id: $doc})
			 SET d.updated_at = $now,
			     d.pages = CASE WHEN coalesce(d.pages, 0) < $page THEN $page ELSE d.pages END`,
			`MATCH (d:Document {id: $doc})-[m:MENTIONS {page: $page}]->() DELETE m`,
		}
		if len(res.Patterns) > 0 {
			stmts = append(stmts, mentionCypher(LabelPattern, "patterns"))
		}
		if len(res.Terms) > 0 {
			stmts = append(stmts, mentionCypher(LabelTerm, "terms"))
		}
		for _, stmt := range stmts {
			if _, err := tx.Run(ctx, stmt, params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("graph: record document %s page %d: %w", docID, page, err)
	}
	return nil
}

func mentionCypher(label, param string) string {
	return fmt.Sprintf(
		`MATCH (d:Document {id: $doc})
		 UNWIND $%s AS name
		 MERGE (t:%s {name: name})
		 MERGE (d)-[:%s {page: $page}]->(t)`,
		param, label, RelMentions)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// DocumentsForPattern returns the documents mentioning a strategy pattern,
// ordered by document id, with the pages that mention it.
func (g *TagGraph) DocumentsForPattern(ctx context.Context, name string) ([]Mention, error) {
	return g.mentions(ctx, LabelPattern, name)
}

// DocumentsForTerm is DocumentsForPattern for indicator and math terms.
func (g *TagGraph) DocumentsForTerm(ctx context.Context, name string) ([]Mention, error) {
	return g.mentions(ctx, LabelTerm, name)
}

func (g *TagGraph) mentions(ctx context.Context, label, name string) ([]Mention, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (d:Document)-[m:%s]->(:%s {name: $name})
		 WITH d.id AS id, m.page AS page ORDER BY page
		 RETURN id, collect(DISTINCT page) AS pages
		 ORDER BY id`, RelMentions, label)
	result, err := sess.Run(ctx, cypher, map[string]any{"name": name})
	if err != nil {
		return nil, fmt.Errorf("graph: documents for %s %q: %w", label, name, err)
	}
	var out []Mention
	for result.Next(ctx) {
		rec := result.Record()
		id, _ := rec.Get("id")
		pages, _ := rec.Get("pages")
		m := Mention{Pages: int64s(pages)}
		m.DocumentID, _ = id.(string)
		out = append(out, m)
	}
	return out, nil
}

// PatternsForDocument returns the sorted pattern names a document mentions
// on any page.
func (g *TagGraph) PatternsForDocument(ctx context.Context, docID string) ([]string, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (:Document {id: $doc})-[:%s]->(p:%s)
		 RETURN DISTINCT p.name AS name ORDER BY name`, RelMentions, LabelPattern)
	result, err := sess.Run(ctx, cypher, map[string]any{"doc": docID})
	if err != nil {
		return nil, fmt.Errorf("graph: patterns for %s: %w", docID, err)
	}
	var out []string
	for result.Next(ctx) {
		if n, ok := result.Record().Get("name"); ok {
			if name, ok := n.(string); ok {
				out = append(out, name)
			}
		}
	}
	return out, nil
}

// Document returns one document node.
func (g *TagGraph) Document(ctx context.Context, id string) (Document, error) {
	return g.docs.Get(ctx, id)
}

// Documents lists document nodes ordered by id.
func (g *TagGraph) Documents(ctx context.Context, opts repo.ListOpts) ([]Document, error) {
	return g.docs.List(ctx, opts)
}

// DeleteDocument removes a document and its mentions. Tag nodes stay.
func (g *TagGraph) DeleteDocument(ctx context.Context, id string) error {
	return g.docs.Delete(ctx, id)
}
