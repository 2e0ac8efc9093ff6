package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/robin-ai/robinrag/engine/domain"
)

// inputLine is one record of an input file: either a whole document with
// pages, or a single page of one.
type inputLine struct {
	DocumentID string   `json:"document_id"`
	Source     string   `json:"source,omitempty"`
	Pages      []string `json:"pages,omitempty"`
	Page       int      `json:"page,omitempty"`
	Text       *string  `json:"text,omitempty"`
}

// ReadDocuments decodes a JSON value, a JSON array, or a stream of JSON
// lines into documents. Page records for the same document_id are merged in
// page order; a page record replaces the same page of a pages array. Missing
// page numbers stay missing: the document carries explicit PageNumbers
// instead. Documents keep first-seen order.
func ReadDocuments(r io.Reader) ([]domain.Document, error) {
	dec := json.NewDecoder(r)
	var lines []inputLine
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("ingest: read documents: %w", err)
		}
		if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
			var batch []inputLine
			if err := json.Unmarshal(raw, &batch); err != nil {
				return nil, fmt.Errorf("ingest: read documents: %w", err)
			}
			lines = append(lines, batch...)
			continue
		}
		var l inputLine
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, fmt.Errorf("ingest: read documents: %w", err)
		}
		lines = append(lines, l)
	}
	return mergeLines(lines)
}

func mergeLines(lines []inputLine) ([]domain.Document, error) {
	type acc struct {
		doc     domain.Document
		records map[int]string
	}
	var order []string
	byID := map[string]*acc{}
	for i, l := range lines {
		if l.DocumentID == "" {
			return nil, fmt.Errorf("ingest: record %d: document_id is empty", i+1)
		}
		a, ok := byID[l.DocumentID]
		if !ok {
			a = &acc{doc: domain.Document{ID: l.DocumentID, Source: l.Source}, records: map[int]string{}}
			byID[l.DocumentID] = a
			order = append(order, l.DocumentID)
		}
		if l.Text == nil {
			a.doc.Pages = append(a.doc.Pages, l.Pages...)
			continue
		}
		if l.Page < 1 || l.Page > domain.MaxPageNumber {
			return nil, fmt.Errorf("ingest: record %d: page must be in [1, %d], got %d", i+1, domain.MaxPageNumber, l.Page)
		}
		if _, dup := a.records[l.Page]; dup {
			return nil, fmt.Errorf("ingest: record %d: duplicate page %d for %s", i+1, l.Page, l.DocumentID)
		}
		a.records[l.Page] = *l.Text
	}

	docs := make([]domain.Document, 0, len(order))
	for _, id := range order {
		a := byID[id]
		if len(a.records) > 0 {
			a.doc.Pages, a.doc.PageNumbers = numberPages(a.doc.Pages, a.records)
		}
		docs = append(docs, a.doc)
	}
	return docs, nil
}

// numberPages merges positional pages (numbered from 1) with numbered page
// records. PageNumbers is nil when the result is contiguous from 1.
func numberPages(positional []string, records map[int]string) ([]string, []int) {
	byNum := make(map[int]string, len(positional)+len(records))
	for i, text := range positional {
		byNum[i+1] = text
	}
	maps.Copy(byNum, records)

	nums := slices.Sorted(maps.Keys(byNum))
	pages := make([]string, len(nums))
	contiguous := true
	for i, n := range nums {
		pages[i] = byNum[n]
		contiguous = contiguous && n == i+1
	}
	if contiguous {
		return pages, nil
	}
	return pages, nums
}
