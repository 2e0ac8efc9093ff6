// Package graph records which documents mention which strategy patterns and
// terms, as a Neo4j tag graph.
package graph

// Node labels and relationship type.
const (
	LabelDocument = "Document"
	LabelPattern  = "Pattern"
	LabelTerm     = "Term"
	RelMentions   = "MENTIONS"
)

// Document is a document node.
type Document struct {
	ID        string `json:"id"`
	Pages     int64  `json:"pages"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Mention lists the pages of one document that mention a tag.
type Mention struct {
	DocumentID string  `json:"document_id"`
	Pages      []int64 `json:"pages"`
}

// TagStats counts the documents and page mentions of one tag.
type TagStats struct {
	Name      string `json:"name"`
	Documents int64  `json:"documents"`
	Mentions  int64  `json:"mentions"`
}
