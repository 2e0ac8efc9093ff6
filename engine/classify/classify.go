// Package classify tags cleaned text with strategy families, indicator and
// term mentions, and a mathematical-content flag using fixed pattern tables.
// Results depend only on the input text and the tables.
package classify

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/robin-ai/robinrag/engine/domain"
)

// DefaultWindow is the context window, in bytes, on each side of a match.
const DefaultWindow = 100

// ContextSeparator joins context windows in ExtractContext.
const ContextSeparator = "\n---\n"

type family struct {
	name     string
	category domain.Category
	re       *regexp.Regexp
}

type term struct {
	label string
	re    *regexp.Regexp
}

// Classifier evaluates compiled pattern tables against text. It is safe for
// concurrent use.
type Classifier struct {
	families    []family
	anyStrategy *regexp.Regexp
	indicators  []term
	charts      []term
	mathTerms   []term
	finance     []term
	symbols     []string
	expressions []*regexp.Regexp
	window      int
}

// New compiles tables into a Classifier. window <= 0 selects DefaultWindow.
// It returns an error if any strategy or expression pattern fails to compile.
func New(t Tables, window int) (*Classifier, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	c := &Classifier{symbols: append([]string(nil), t.MathSymbols...), window: window}

	alts := make([]string, 0, len(t.Strategies))
	for _, s := range t.Strategies {
		re, err := regexp.Compile(`(?i)\b(?:` + s.Pattern + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("classify: strategy %q: %w", s.Name, err)
		}
		c.families = append(c.families, family{name: s.Name, category: s.Category, re: re})
		alts = append(alts, `(?:`+s.Pattern+`)`)
	}
	if len(alts) > 0 {
		c.anyStrategy = regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
	}

	c.indicators = compileGroups(t.Indicators)
	c.charts = compileGroups(t.ChartPatterns)
	c.mathTerms = compileGroups(t.MathTerms)
	c.finance = compileGroups(t.FinanceTerms)

	for _, e := range t.Expressions {
		re, err := regexp.Compile(e)
		if err != nil {
			return nil, fmt.Errorf("classify: expression %q: %w", e, err)
		}
		c.expressions = append(c.expressions, re)
	}
	return c, nil
}

// Default returns a Classifier over DefaultTables.
func Default() *Classifier {
	c, err := New(DefaultTables(), DefaultWindow)
	if err != nil {
		panic(err) // built-in tables are constant
	}
	return c
}

// WithWindow returns a copy of c whose Classify extracts context with the
// given window. The compiled tables are shared.
func (c *Classifier) WithWindow(window int) *Classifier {
	cp := *c
	cp.window = max(0, window)
	return &cp
}

// Window returns the context window used by Classify.
func (c *Classifier) Window() int { return c.window }

func compileGroups(groups []TermGroup) []term {
	var out []term
	for _, g := range groups {
		for _, t := range g.Terms {
			if t == "" {
				continue
			}
			out = append(out, term{label: g.Prefix + ":" + t, re: compileTerm(t)})
		}
	}
	return out
}

// Classify tags text. Patterns and Terms come back sorted and de-duplicated;
// every known category is present in Categories.
func (c *Classifier) Classify(text string) domain.ClassificationResult {
	res := domain.ClassificationResult{
		Categories: map[domain.Category]bool{
			domain.CategoryFundamental:  false,
			domain.CategoryTechnical:    false,
			domain.CategoryQuantitative: false,
			domain.CategoryOptions:      false,
			domain.CategoryPortfolio:    false,
			domain.CategoryRisk:         false,
			domain.CategoryMathTrading:  false,
			domain.CategoryMarket:       false,
		},
	}
	if text == "" {
		res.Patterns, res.Terms = []string{}, []string{}
		return res
	}

	patterns := map[string]struct{}{}
	for _, f := range c.families {
		if f.re.MatchString(text) {
			patterns[f.name] = struct{}{}
			res.Categories[f.category] = true
		}
	}

	terms := map[string]struct{}{}
	indicatorHit := matchInto(c.indicators, text, terms)
	chartHit := matchInto(c.charts, text, terms)
	if indicatorHit || chartHit {
		res.Categories[domain.CategoryTechnical] = true
	}
	mathHit := matchInto(c.mathTerms, text, terms)
	financeHit := matchInto(c.finance, text, terms)

	res.Patterns = sortedKeys(patterns)
	res.Terms = sortedKeys(terms)
	for _, on := range res.Categories {
		if on {
			res.HasStrategy = true
			break
		}
	}
	res.HasMath = mathHit || financeHit || c.hasMathSyntax(text)
	res.Context = c.ExtractContext(text, c.window)
	return res
}

// matchInto records every matching term label and reports whether any matched.
// It does not short-circuit so every label is collected.
func matchInto(ts []term, text string, into map[string]struct{}) bool {
	hit := false
	for _, t := range ts {
		if t.re.MatchString(text) {
			into[t.label] = struct{}{}
			hit = true
		}
	}
	return hit
}

// HasMath reports whether text contains a math symbol, a math or financial
// term, or numeric-expression syntax.
func (c *Classifier) HasMath(text string) bool {
	if c.hasMathSyntax(text) {
		return true
	}
	for _, t := range c.mathTerms {
		if t.re.MatchString(text) {
			return true
		}
	}
	for _, t := range c.finance {
		if t.re.MatchString(text) {
			return true
		}
	}
	return false
}

func (c *Classifier) hasMathSyntax(text string) bool {
	for _, s := range c.symbols {
		if strings.Contains(text, s) {
			return true
		}
	}
	for _, re := range c.expressions {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ExtractContext returns up to window bytes either side of every strategy
// match, clipped to rune boundaries and joined by ContextSeparator. It
// returns "" when no strategy family matches.
func (c *Classifier) ExtractContext(text string, window int) string {
	if c.anyStrategy == nil || text == "" {
		return ""
	}
	if window < 0 {
		window = 0
	}
	locs := c.anyStrategy.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(locs))
	for _, loc := range locs {
		start := max(0, loc[0]-window)
		for start > 0 && !utf8.RuneStart(text[start]) {
			start++
		}
		end := min(len(text), loc[1]+window)
		for end < len(text) && !utf8.RuneStart(text[end]) {
			end--
		}
		if s := strings.TrimSpace(text[start:end]); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ContextSeparator)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
