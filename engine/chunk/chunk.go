// Package chunk splits cleaned text into bounded, overlapping spans that
// prefer natural boundaries.
package chunk

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/robin-ai/robinrag/engine/domain"
)

const (
	// DefaultMaxLen is the default span length in bytes.
	DefaultMaxLen = 400
	// DefaultOverlap is the default number of bytes repeated between spans.
	DefaultOverlap = 50
)

var sentenceEnd = regexp.MustCompile(`[.!?]["')\]]?\s+`)

// Span is a slice of the input text. Start and End are byte offsets.
type Span struct {
	Text  string
	Start int
	End   int
}

// Chunker splits text into spans of at most maxLen bytes.
type Chunker struct {
	maxLen  int
	overlap int
}

// New returns a Chunker. It fails with domain.ErrInvalidConfiguration unless
// maxLen > 0 and 0 <= overlap < maxLen.
func New(maxLen, overlap int) (*Chunker, error) {
	if maxLen <= 0 {
		return nil, domain.NewConfigError("chunk_size", fmt.Sprint(maxLen), "must be positive")
	}
	if overlap < 0 || overlap >= maxLen {
		return nil, domain.NewConfigError("overlap", fmt.Sprint(overlap), fmt.Sprintf("must be in [0, %d)", maxLen))
	}
	return &Chunker{maxLen: maxLen, overlap: overlap}, nil
}

// MaxLen returns the configured span length.
func (c *Chunker) MaxLen() int { return c.maxLen }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Split cuts text into spans. A cut prefers, in order: the last paragraph
// break, the last sentence end, the last whitespace, and finally a hard cut on
// a rune boundary. Every span after the first starts overlap bytes before the
// previous span's end, moved back to a rune boundary.
func (c *Chunker) Split(text string) []Span {
	if text == "" {
		return nil
	}
	var spans []Span
	pos := 0
	for pos < len(text) {
		if len(text)-pos <= c.maxLen {
			spans = append(spans, Span{Text: text[pos:], Start: pos, End: len(text)})
			break
		}
		cut := c.cutPoint(text, pos)
		spans = append(spans, Span{Text: text[pos:cut], Start: pos, End: cut})

		next := cut - c.overlap
		for next > pos && !utf8.RuneStart(text[next]) {
			next--
		}
		if next <= pos {
			next = cut
		}
		pos = next
	}
	return spans
}

// cutPoint picks the end of the span starting at pos. The cut always lies
// beyond pos+overlap when a natural boundary is used so the next span makes
// progress.
func (c *Chunker) cutPoint(text string, pos int) int {
	limit := pos + c.maxLen
	for limit > pos && !utf8.RuneStart(text[limit]) {
		limit--
	}
	if limit == pos {
		// maxLen is smaller than the rune at pos.
		_, size := utf8.DecodeRuneInString(text[pos:])
		return pos + size
	}

	window := text[pos:limit]
	minRel := c.overlap + 1

	if i := strings.LastIndex(window, "\n\n"); i >= 0 && i+2 >= minRel {
		return pos + i + 2
	}
	if locs := sentenceEnd.FindAllStringIndex(window, -1); len(locs) > 0 {
		for k := len(locs) - 1; k >= 0; k-- {
			if locs[k][1] >= minRel {
				return pos + locs[k][1]
			}
		}
	}
	if i := strings.LastIndexFunc(window, unicode.IsSpace); i >= 0 {
		_, size := utf8.DecodeRuneInString(window[i:])
		if i+size >= minRel {
			return pos + i + size
		}
	}
	return limit
}

// Chunks splits text and wraps the spans as domain chunks for one page.
// Spans that are only whitespace are dropped; indexes stay contiguous.
func (c *Chunker) Chunks(docID string, page int, text string) []domain.Chunk {
	spans := c.Split(text)
	out := make([]domain.Chunk, 0, len(spans))
	for _, s := range spans {
		t := strings.TrimSpace(s.Text)
		if t == "" {
			continue
		}
		out = append(out, domain.Chunk{
			DocumentID: docID,
			Page:       page,
			Index:      len(out),
			Text:       t,
			Start:      s.Start,
			End:        s.End,
		})
	}
	return out
}

// Reconstruct rebuilds the original text from spans produced by Split.
func Reconstruct(spans []Span) string {
	if len(spans) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(spans[0].Text)
	prevEnd := spans[0].End
	for _, s := range spans[1:] {
		if skip := prevEnd - s.Start; skip < len(s.Text) {
			b.WriteString(s.Text[max(skip, 0):])
		}
		prevEnd = s.End
	}
	return b.String()
}
