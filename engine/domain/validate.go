package domain

import (
	"fmt"
	"strings"
)

// MaxPageNumber is the highest page number a document may carry.
const MaxPageNumber = 100_000

// Document is a source document delivered as per-page plain text.
type Document struct {
	ID     string   `json:"document_id"`
	Source string   `json:"source,omitempty"`
	Pages  []string `json:"pages"`
	// PageNumbers gives the 1-based number of each entry in Pages. When
	// empty the pages are numbered 1..len(Pages).
	PageNumbers []int `json:"page_numbers,omitempty"`
}

// PageNumber returns the number of the i-th page.
func (d Document) PageNumber(i int) int {
	if len(d.PageNumbers) == 0 {
		return i + 1
	}
	return d.PageNumbers[i]
}

// Units expands the document into one RawUnit per page.
func (d Document) Units() []RawUnit {
	units := make([]RawUnit, 0, len(d.Pages))
	for i, p := range d.Pages {
		units = append(units, RawUnit{DocumentID: d.ID, Page: d.PageNumber(i), Text: p})
	}
	return units
}

// ValidateDocument checks a Document before ingestion.
func ValidateDocument(d Document) error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("validate: document_id is empty")
	}
	if len(d.Pages) == 0 {
		return fmt.Errorf("validate: %s: %w", d.ID, ErrEmptyDocument)
	}
	if len(d.PageNumbers) == 0 {
		if len(d.Pages) > MaxPageNumber {
			return fmt.Errorf("validate: %s: %d pages exceeds %d", d.ID, len(d.Pages), MaxPageNumber)
		}
		return nil
	}
	if len(d.PageNumbers) != len(d.Pages) {
		return fmt.Errorf("validate: %s: %d page numbers for %d pages", d.ID, len(d.PageNumbers), len(d.Pages))
	}
	prev := 0
	for _, n := range d.PageNumbers {
		if n <= prev || n > MaxPageNumber {
			return fmt.Errorf("validate: %s: page number %d out of order or outside [1, %d]", d.ID, n, MaxPageNumber)
		}
		prev = n
	}
	return nil
}

// ValidateOptionContract checks the fields Describe relies on.
func ValidateOptionContract(c OptionContract) error {
	if c.Underlying == "" {
		return fmt.Errorf("validate: underlying_symbol is empty")
	}
	switch strings.ToLower(c.Type) {
	case "call", "put":
	default:
		return fmt.Errorf("validate: unknown option type %q", c.Type)
	}
	if c.Strike <= 0 {
		return fmt.Errorf("validate: strike must be positive, got %g", c.Strike)
	}
	if c.Expiration.IsZero() {
		return fmt.Errorf("validate: expiration_date is empty")
	}
	return nil
}
