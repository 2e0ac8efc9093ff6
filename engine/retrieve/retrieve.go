// Package retrieve answers a question with the most similar stored passages,
// optionally widened with the documents the tag graph links to the
// question's strategy patterns.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robin-ai/robinrag/engine/classify"
	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/engine/graph"
	"github.com/robin-ai/robinrag/engine/semantic"
	"github.com/robin-ai/robinrag/pkg/fn"
)

// Embedder turns the question into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingVector, error)
}

// Searcher abstracts the vector index query.
type Searcher interface {
	Query(ctx context.Context, vec domain.EmbeddingVector, topK int, filter map[string]any) []semantic.Match
}

// PatternIndex looks up documents by strategy pattern.
type PatternIndex interface {
	DocumentsForPattern(ctx context.Context, name string) ([]graph.Mention, error)
}

// Options configures a Retriever.
type Options struct {
	TopK          int
	MinScore      float32
	SearchTimeout time.Duration
	UseGraph      bool
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:          5,
		SearchTimeout: 5 * time.Second,
		UseGraph:      true,
	}
}

// Passage is one retrieved record.
type Passage struct {
	ID      string  `json:"id"`
	Score   float32 `json:"score"`
	Text    string  `json:"text"`
	Excerpt string  `json:"excerpt,omitempty"`
	Source  string  `json:"source"`
	Page    int     `json:"page,omitempty"`
	Type    string  `json:"type"`
}

// Context is a search result widened with tag graph links.
type Context struct {
	Passages []Passage                  `json:"passages"`
	Patterns []string                   `json:"patterns,omitempty"`
	Related  map[string][]graph.Mention `json:"related,omitempty"`
}

// Retriever embeds questions and searches the index.
type Retriever struct {
	embed    Embedder
	search   Searcher
	patterns PatternIndex
	classify *classify.Classifier
	opts     Options
	logger   *slog.Logger
}

// New creates a Retriever. patterns may be nil.
func New(embed Embedder, search Searcher, patterns PatternIndex, opts Options, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultOptions().SearchTimeout
	}
	return &Retriever{
		embed:    embed,
		search:   search,
		patterns: patterns,
		classify: classify.Default(),
		opts:     opts,
		logger:   logger,
	}
}

// Search returns up to topK passages for question, best first. topK <= 0
// uses the configured default. An embedding failure is returned; an
// unreachable index yields no passages.
func (r *Retriever) Search(ctx context.Context, question string, topK int, filter map[string]any) ([]Passage, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("retrieve: empty question")
	}
	if topK <= 0 {
		topK = r.opts.TopK
	}
	vec, err := r.embed.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("retrieve: embed question: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, r.opts.SearchTimeout)
	defer cancel()
	matches := r.search.Query(searchCtx, vec, topK, filter)

	kept := fn.Filter(matches, func(m semantic.Match) bool { return m.Score >= r.opts.MinScore })
	passages := fn.Map(kept, toPassage)
	r.logger.Debug("retrieve: search done", "question_len", len(question), "matches", len(matches), "passages", len(passages))
	return passages, nil
}

// Lookup is Search plus the tag graph documents mentioning the question's
// strategy patterns. Graph failures are logged and skipped.
func (r *Retriever) Lookup(ctx context.Context, question string, topK int, filter map[string]any) (*Context, error) {
	passages, err := r.Search(ctx, question, topK, filter)
	if err != nil {
		return nil, err
	}
	out := &Context{Passages: passages}
	if !r.opts.UseGraph || r.patterns == nil {
		return out, nil
	}

	out.Patterns = r.classify.Classify(question).Patterns
	for _, p := range out.Patterns {
		mentions, err := r.patterns.DocumentsForPattern(ctx, p)
		if err != nil {
			r.logger.Warn("retrieve: graph lookup failed, continuing without", "pattern", p, "error", err)
			continue
		}
		if len(mentions) == 0 {
			continue
		}
		if out.Related == nil {
			out.Related = map[string][]graph.Mention{}
		}
		out.Related[p] = mentions
	}
	return out, nil
}

func toPassage(m semantic.Match) Passage {
	md := m.Metadata
	p := Passage{ID: m.ID, Score: m.Score}
	p.Text, _ = md[domain.MetaText].(string)
	p.Excerpt, _ = md[domain.MetaExcerpt].(string)
	p.Source, _ = md[domain.MetaSource].(string)
	p.Type, _ = md[domain.MetaType].(string)
	switch v := md[domain.MetaPage].(type) {
	case int64:
		p.Page = int(v)
	case int:
		p.Page = v
	case float64:
		p.Page = int(v)
	}
	return p
}

// ContextParts renders passages and graph links as prompt context blocks.
func ContextParts(c *Context) []string {
	parts := make([]string, 0, len(c.Passages)+1)
	for _, p := range c.Passages {
		loc := p.Source
		if p.Page > 0 {
			loc = fmt.Sprintf("%s p.%d", p.Source, p.Page)
		}
		body := p.Text
		if p.Excerpt != "" {
			body += "\n" + p.Excerpt
		}
		parts = append(parts, fmt.Sprintf("[%s] (source: %s, score: %.3f)\n%s", p.ID, loc, p.Score, body))
	}
	if len(c.Related) > 0 {
		var b strings.Builder
		b.WriteString("Related documents from tag graph:\n")
		for _, pat := range c.Patterns {
			for _, m := range c.Related[pat] {
				fmt.Fprintf(&b, "- %s: %s pages %v\n", pat, m.DocumentID, m.Pages)
			}
		}
		parts = append(parts, b.String())
	}
	return parts
}
