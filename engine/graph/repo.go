package graph

import (
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/robin-ai/robinrag/pkg/repo"
)

func newDocumentRepo(opener repo.Opener) *repo.Neo4jRepo[Document, string] {
	return repo.NewNeo4jRepo[Document, string](opener, LabelDocument, documentToMap, documentFromRecord)
}

func documentToMap(d Document) map[string]any {
	m := map[string]any{"id": d.ID, "pages": d.Pages}
	if d.UpdatedAt != "" {
		m["updated_at"] = d.UpdatedAt
	}
	return m
}

func documentFromRecord(rec *neo4j.Record) (Document, error) {
	props, ok := repo.Props(rec, "n")
	if !ok {
		return Document{}, fmt.Errorf("graph: record has no document properties")
	}
	return documentFromProps(props), nil
}

func documentFromProps(props map[string]any) Document {
	var d Document
	d.ID, _ = props["id"].(string)
	d.Pages, _ = props["pages"].(int64)
	d.UpdatedAt, _ = props["updated_at"].(string)
	return d
}

func int64s(v any) []int64 {
	items, _ := v.([]any)
	out := make([]int64, 0, len(items))
	for _, it := range items {
		if n, ok := it.(int64); ok {
			out = append(out, n)
		}
	}
	return out
}
