package domain

import (
	"fmt"
	"strings"
	"time"
)

// Record is anything the realtime pipeline can describe, embed, and tag.
type Record interface {
	RecordID() string
	Kind() string
	Describe() string
	Metadata() map[string]any
}

// OptionContract is one listed options contract.
type OptionContract struct {
	Symbol       string    `json:"symbol"`
	Underlying   string    `json:"underlying_symbol"`
	Type         string    `json:"type"` // call | put
	Strike       float64   `json:"strike_price"`
	Expiration   time.Time `json:"expiration_date"`
	OpenInterest int64     `json:"open_interest"`
	ClosePrice   *float64  `json:"close_price,omitempty"`
	Status       string    `json:"status"`
}

func (c OptionContract) RecordID() string {
	if c.Symbol != "" {
		return c.Symbol
	}
	return fmt.Sprintf("%s-%s-%s-%g", c.Underlying, c.Expiration.Format("20060102"), strings.ToLower(c.Type), c.Strike)
}

func (c OptionContract) Kind() string { return TypeOptions }

// Describe renders the contract as the sentence that gets embedded.
func (c OptionContract) Describe() string {
	closePrice := "N/A"
	if c.ClosePrice != nil {
		closePrice = fmt.Sprintf("%g", *c.ClosePrice)
	}
	return fmt.Sprintf(
		"Option contract for %s expiring on %s, %s option with strike price $%g. Open interest: %d, Last close price: $%s. Contract status: %s.",
		c.Underlying, c.Expiration.Format("2006-01-02"), strings.ToUpper(c.Type), c.Strike,
		c.OpenInterest, closePrice, c.Status,
	)
}

func (c OptionContract) Metadata() map[string]any {
	return map[string]any{
		"symbol":        c.Underlying,
		"contract":      c.Symbol,
		"option_type":   strings.ToLower(c.Type),
		"strike":        c.Strike,
		"expiration":    c.Expiration.Format("2006-01-02"),
		"open_interest": c.OpenInterest,
	}
}

// MarketSnapshot is a point-in-time quote for a symbol.
type MarketSnapshot struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Price     *float64  `json:"price,omitempty"`
	Volume    *int64    `json:"volume,omitempty"`
	MarketCap *float64  `json:"market_cap,omitempty"`
}

func (m MarketSnapshot) RecordID() string {
	return fmt.Sprintf("%s@%s", m.Symbol, m.Timestamp.UTC().Format(time.RFC3339))
}

func (m MarketSnapshot) Kind() string { return TypeMarket }

func (m MarketSnapshot) Describe() string {
	ts := "N/A"
	if !m.Timestamp.IsZero() {
		ts = m.Timestamp.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("Market data for %s on %s. Price: $%s, Volume: %s, Market cap: $%s.",
		m.Symbol, ts, fmtFloat(m.Price), fmtInt(m.Volume), fmtFloat(m.MarketCap))
}

func (m MarketSnapshot) Metadata() map[string]any {
	md := map[string]any{"symbol": m.Symbol}
	if m.Price != nil {
		md["price"] = *m.Price
	}
	if m.Volume != nil {
		md["volume"] = *m.Volume
	}
	return md
}

func fmtFloat(f *float64) string {
	if f == nil {
		return "N/A"
	}
	return fmt.Sprintf("%g", *f)
}

func fmtInt(i *int64) string {
	if i == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d", *i)
}
