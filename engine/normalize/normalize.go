// Package normalize cleans extracted page text in two passes: structural
// denoising followed by math-aware formatting.
package normalize

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"
)

// maxPasses bounds the per-line fixed-point loop in Normalize.
const maxPasses = 4

var (
	urlRe       = regexp.MustCompile(`https?://\S+|www\.\S+`)
	emailRe     = regexp.MustCompile(`\S+@\S+`)
	copyrightRe = regexp.MustCompile(`©.*$`)
	isbnRe      = regexp.MustCompile(`ISBN.*$`)

	pageNumberRe = regexp.MustCompile(`^\d+$`)
	headerRe     = regexp.MustCompile(`^(?:Page|Chapter|Section)\s+\d+`)
	// TOC and reference headings only; body lines starting with the same
	// word are kept.
	headingRe = regexp.MustCompile(`^(?:Table of Contents|Contents|References|Bibliography)[\s.:\d]*$`)

	bulletRe   = regexp.MustCompile(`^[•\-*]\s*`)
	footnoteRe = regexp.MustCompile(`^\d+\.(?:\s+|$)`)

	spaceRe = regexp.MustCompile(`\s+`)
)

var (
	mathSymbolRe = regexp.MustCompile(`[∂∫∮∇Δ∑∏∞→←↔∈∉⊂⊃∪∩∅∀∃¬∧∨⇒⇔≡≠≈≅∼∝±×÷√αβγδεζηθικλμνξοπρστυφχψωΓΘΛΞΠΣΦΨΩ]`)
	equationRe   = regexp.MustCompile(`\$[^$]+\$`)
	latexRe      = regexp.MustCompile(`(?s)\\begin\{[^}]+\}.*?\\end\{[^}]+\}`)

	formulaRes = []*regexp.Regexp{
		// Black-Scholes call price.
		regexp.MustCompile(`C\s*=\s*S[_0]N\(d[_1]\)\s*-\s*Ke\^\{-rT\}N\(d[_2]\)`),
		// d1 term.
		regexp.MustCompile(`d[_1]\s*=\s*\((?:ln|log)\(S[_0]/K\)\s*\+\s*\(r\s*\+\s*σ\^2/2\)T\)/\(σ\s*sqrt\{T\}\)`),
		// Itô process.
		regexp.MustCompile(`dX[_t]\s*=\s*μ\(X[_t],t\)dt\s*\+\s*σ\(X[_t],t\)dW[_t]`),
	}
)

// Normalize cleans raw page text line by line. Each line is run through
// the line rules and Format until it stops changing, blank lines are
// dropped, and the survivors are joined with a single newline. Line rules
// only ever see one source line, and every output line is already stable,
// so Normalize(Normalize(t)) == Normalize(t). It never panics; on an
// internal failure it returns the lines cleaned so far.
func Normalize(raw string) (out string) {
	var kept []string
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("normalize: recovered", "panic", r, "len", len(raw))
			out = strings.Join(kept, "\n")
		}
	}()

	for _, line := range lines(raw) {
		if l := cleanLine(line); l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

func cleanLine(line string) string {
	for i := 0; i < maxPasses; i++ {
		next := Format(denoiseLine(line))
		if next == line {
			break
		}
		line = next
	}
	return line
}

func lines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(stripControl(text), "\n")
}

// Denoise strips structural noise: URLs, emails, page numbers, header and
// footer lines, bullets, TOC/reference/copyright/ISBN lines, footnote
// markers and control characters. Kept lines are collapsed, trimmed and
// joined with a newline.
func Denoise(text string) string {
	var kept []string
	for _, line := range lines(text) {
		if l := collapse(denoiseLine(line)); l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

func denoiseLine(line string) string {
	line = urlRe.ReplaceAllString(line, " ")
	line = emailRe.ReplaceAllString(line, " ")
	line = copyrightRe.ReplaceAllString(line, "")
	line = isbnRe.ReplaceAllString(line, "")

	// Stripping a bullet can expose a footnote marker and vice versa.
	for {
		line = strings.TrimSpace(line)
		if boilerplate(line) {
			return ""
		}
		stripped := footnoteRe.ReplaceAllString(bulletRe.ReplaceAllString(line, ""), "")
		if stripped == line {
			return line
		}
		line = stripped
	}
}

func boilerplate(line string) bool {
	return pageNumberRe.MatchString(line) ||
		headerRe.MatchString(line) ||
		headingRe.MatchString(line)
}

// Format pads mathematical symbols, equations, LaTeX blocks and known
// financial formulas with single spaces so they never fuse with adjacent
// words, then collapses whitespace. It works on one line; Normalize calls
// it per line.
func Format(text string) string {
	if text == "" {
		return ""
	}
	for _, re := range formulaRes {
		text = pad(re, text)
	}
	text = pad(latexRe, text)
	text = pad(equationRe, text)
	text = pad(mathSymbolRe, text)
	return collapse(text)
}

func pad(re *regexp.Regexp, text string) string {
	return re.ReplaceAllString(text, " ${0} ")
}

func collapse(text string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
}

// stripControl drops control and format characters, maps carriage returns to
// newlines and every other Unicode space to an ASCII space.
func stripControl(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case r == '\r':
			return '\n'
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r), r == unicode.ReplacementChar:
			return -1
		}
		return r
	}, text)
}
