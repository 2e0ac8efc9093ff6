// Package domain defines core domain types, constants, and validation for the
// robinrag engine. It acts as the validation gate at pipeline entry points.
package domain

import (
	"fmt"
	"sort"
	"time"
)

// Record types stored in the metadata "type" field.
const (
	TypeDocument = "document"
	TypeOptions  = "options"
	TypeMarket   = "market"
)

// Metadata keys every index record carries.
const (
	MetaText        = "text"
	MetaSource      = "source"
	MetaPage        = "page"
	MetaChunkIndex  = "chunk_index"
	MetaRecordID    = "record_id"
	MetaType        = "type"
	MetaTimestamp   = "timestamp"
	MetaDocID       = "doc_id"
	MetaExcerpt     = "excerpt"
	MetaRecordGroup = "record_group"
	MetaRecordKey   = "record_key"
	MetaHasMath     = "has_math"
	MetaHasStrategy = "has_strategy"
	MetaPatterns    = "patterns"
	MetaTerms       = "terms"
)

// RawUnit is one unit of extracted text: a document page or a domain record.
type RawUnit struct {
	DocumentID string `json:"document_id"`
	Page       int    `json:"page,omitempty"`
	RecordID   string `json:"record_id,omitempty"`
	Text       string `json:"text"`
}

// ID returns a stable identifier for the unit.
func (u RawUnit) ID() string {
	if u.RecordID != "" {
		return u.RecordID
	}
	return fmt.Sprintf("%s#p%d", u.DocumentID, u.Page)
}

// Category is a strategy category flag derived from pattern matches.
type Category string

const (
	CategoryFundamental  Category = "fundamental_analysis"
	CategoryTechnical    Category = "technical_analysis"
	CategoryQuantitative Category = "quantitative_methods"
	CategoryOptions      Category = "options_strategies"
	CategoryPortfolio    Category = "portfolio_management"
	CategoryRisk         Category = "risk_management"
	CategoryMathTrading  Category = "mathematical_trading"
	CategoryMarket       Category = "market_analysis"
)

// ClassificationResult is the rule-based tagging of a cleaned text.
type ClassificationResult struct {
	HasMath     bool              `json:"has_math"`
	HasStrategy bool              `json:"has_strategy"`
	Categories  map[Category]bool `json:"categories"`
	Patterns    []string          `json:"patterns"`
	Terms       []string          `json:"terms"`
	Context     string            `json:"context,omitempty"`
}

// Tags flattens the result into index metadata.
func (c ClassificationResult) Tags() map[string]any {
	tags := map[string]any{
		MetaHasMath:     c.HasMath,
		MetaHasStrategy: c.HasStrategy,
		MetaPatterns:    append([]string(nil), c.Patterns...),
		MetaTerms:       append([]string(nil), c.Terms...),
	}
	cats := make([]string, 0, len(c.Categories))
	for cat, on := range c.Categories {
		if on {
			cats = append(cats, string(cat))
		}
	}
	sort.Strings(cats)
	tags["categories"] = cats
	return tags
}

// Chunk is a bounded span of cleaned text prepared for embedding.
type Chunk struct {
	DocumentID string
	Page       int
	Index      int
	Text       string
	Start      int // byte offset into the cleaned page text
	End        int
}

// EmbeddingVector is a fixed-length embedding.
type EmbeddingVector []float32

// IndexRecord is a single vector with metadata stored in the index.
type IndexRecord struct {
	ID       string
	Vector   EmbeddingVector
	Metadata map[string]any
}

// IndexStats summarises the vector index.
type IndexStats struct {
	TotalVectorCount uint64  `json:"total_vector_count"`
	Dimension        int     `json:"dimension"`
	Fullness         float64 `json:"fullness"`
}

// UnitFailure records why a unit or chunk was skipped. Retryable is false
// when the same input would fail the same way again.
type UnitFailure struct {
	Unit      string `json:"unit"`
	Stage     string `json:"stage"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

// IngestionReport is the immutable outcome of one ingestion run.
type IngestionReport struct {
	RunID           string        `json:"run_id"`
	Kind            string        `json:"kind"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	TotalUnits      int           `json:"total_units"`
	SucceededUnits  int           `json:"succeeded_units"`
	FailedUnits     int           `json:"failed_units"`
	TotalChunks     int           `json:"total_chunks"`
	SucceededChunks int           `json:"succeeded_chunks"`
	FailedChunks    int           `json:"failed_chunks"`
	FailedBatches   int           `json:"failed_batches"`
	Before          IndexStats    `json:"before"`
	After           IndexStats    `json:"after"`
	Degraded        bool          `json:"degraded"`
	Failures        []UnitFailure `json:"failures,omitempty"`
}

// Retryable reports whether any recorded failure could succeed on a rerun.
func (r *IngestionReport) Retryable() bool {
	for _, f := range r.Failures {
		if f.Retryable {
			return true
		}
	}
	return false
}

// Duration returns the wall-clock length of the run.
func (r *IngestionReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
