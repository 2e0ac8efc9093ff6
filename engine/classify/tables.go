package classify

import (
	"regexp"
	"strings"

	"github.com/robin-ai/robinrag/engine/domain"
)

// StrategyFamily is a named regex family mapped to one category flag.
type StrategyFamily struct {
	Name     string
	Category domain.Category
	Pattern  string
}

// TermGroup is a named list of literal terms. Matches are reported as
// "<Prefix>:<term>".
type TermGroup struct {
	Prefix string
	Terms  []string
}

// Tables holds every pattern table the classifier evaluates, in order.
type Tables struct {
	Strategies    []StrategyFamily
	Indicators    []TermGroup
	ChartPatterns []TermGroup
	MathTerms     []TermGroup
	FinanceTerms  []TermGroup
	MathSymbols   []string
	Expressions   []string
}

// DefaultTables returns the built-in finance and options tables.
func DefaultTables() Tables {
	return Tables{
		Strategies: []StrategyFamily{
			{"fundamental", domain.CategoryFundamental, `value\s+investing|growth\s+investing|dividend\s+growth|quality\s+factor|momentum\s+factor|low\s+volatility|high\s+yield|defensive|cyclical|sector\s+rotation`},
			{"technical", domain.CategoryTechnical, `trend\s+following|mean\s+reversion|breakout\s+trading|swing\s+trading|scalping|day\s+trading|position\s+trading|range\s+trading`},
			{"quantitative", domain.CategoryQuantitative, `factor\s+investing|statistical\s+arbitrage|pairs\s+trading|market\s+neutral|long\s+short|smart\s+beta|risk\s+premia|alpha\s+generation`},
			{"options_basic", domain.CategoryOptions, `covered\s+call|protective\s+put|buy\s+write|married\s+put|collar|synthetic\s+stock|protective\s+collar|delta\s+neutral`},
			{"options_spread", domain.CategoryOptions, `vertical\s+spread|calendar\s+spread|diagonal\s+spread|iron\s+condor|iron\s+butterfly|jade\s+lizard|broken\s+wing\s+butterfly|theta\s+positive`},
			{"options_volatility", domain.CategoryOptions, `straddle|strangle|ratio\s+spread|backspreads|calendar\s+ratio|double\s+calendar|volatility\s+arbitrage|vega\s+trading`},
			{"portfolio_management", domain.CategoryPortfolio, `asset\s+allocation|portfolio\s+optimization|risk\s+parity|tactical\s+allocation|strategic\s+allocation|rebalancing|factor\s+allocation|correlation\s+matrix`},
			{"risk_management", domain.CategoryRisk, `position\s+sizing|stop\s+loss|take\s+profit|trailing\s+stop|risk\s+reward\s+ratio|portfolio\s+hedging|delta\s+hedging|gamma\s+hedging|beta\s+hedging`},
			{"market_microstructure", domain.CategoryMarket, `order\s+flow|market\s+making|liquidity\s+analysis|tick\s+data|bid\s+ask\s+spread|order\s+book|depth\s+analysis|market\s+impact`},
			{"quant_methods", domain.CategoryMathTrading, `time\s+series\s+analysis|stochastic\s+calculus|brownian\s+motion|monte\s+carlo\s+simulation|numerical\s+methods|optimization|machine\s+learning|kalman\s+filter`},
			{"derivatives_math", domain.CategoryMathTrading, `black\s+scholes|binomial\s+model|trinomial\s+tree|finite\s+difference|partial\s+differential\s+equation|ito\s+calculus|martingale|wiener\s+process`},
			{"intermarket", domain.CategoryMarket, `correlation\s+analysis|cross\s+asset|relative\s+strength|intermarket\s+analysis|asset\s+class\s+correlation|rotation\s+analysis|cointegration`},
			{"sentiment", domain.CategoryMarket, `market\s+sentiment|fear\s+greed|put\s+call\s+ratio|vix\s+analysis|market\s+breadth|advance\s+decline|tick\s+index|standard\s+deviation`},
		},
		Indicators: []TermGroup{
			{"trend", []string{"Moving Average", "MACD", "Directional Movement", "Parabolic SAR", "Trend Lines", "Channels", "Fibonacci", "Ichimoku Cloud", "Linear Regression", "Exponential Moving Average"}},
			{"momentum", []string{"RSI", "Stochastic", "CCI", "Williams %R", "Rate of Change", "Momentum", "Relative Vigor Index", "Ultimate Oscillator", "Stochastic RSI", "Fisher Transform"}},
			{"volume", []string{"On-Balance Volume", "Volume Profile", "Money Flow Index", "Accumulation/Distribution", "Volume RSI", "Chaikin Money Flow", "Volume Weighted Average Price", "Negative Volume Index"}},
			{"volatility", []string{"Bollinger Bands", "ATR", "Keltner Channels", "Standard Deviation", "Volatility Index", "Historical Volatility", "Normalized ATR", "Chaikin Volatility", "Volatility Ratio", "Volatility Stop"}},
			{"oscillators", []string{"Detrended Price Oscillator", "Percentage Price Oscillator", "Chande Momentum Oscillator", "Aroon Oscillator", "True Strength Index"}},
		},
		ChartPatterns: []TermGroup{
			{"chart_reversal", []string{"Head and Shoulders", "Double Top", "Double Bottom", "Triple Top", "Triple Bottom", "Rounding Bottom", "Cup and Handle"}},
			{"chart_continuation", []string{"Triangle", "Flag", "Pennant", "Rectangle", "Wedge", "Channel", "Measured Move"}},
			{"chart_candlestick", []string{"Doji", "Hammer", "Shooting Star", "Engulfing", "Harami", "Morning Star", "Evening Star", "Three White Soldiers"}},
		},
		MathTerms: []TermGroup{
			{"calculus", []string{"derivative", "integral", "differential", "gradient", "partial derivative", "limit", "continuity", "convergence", "taylor series", "fourier series", "laplace transform", "complex analysis", "contour integral", "residue", "cauchy-riemann", "analytic function", "harmonic function", "conformal mapping", "vector calculus", "divergence", "curl", "line integral", "surface integral", "volume integral", "green theorem", "stokes theorem", "divergence theorem", "jacobian", "hessian", "tensor", "manifold", "differential form"}},
			{"algebra", []string{"group", "ring", "field", "vector space", "linear transformation", "matrix", "determinant", "eigenvalue", "eigenvector", "basis", "dimension", "rank", "nullity", "orthogonal", "orthonormal", "inner product", "outer product", "tensor product", "direct sum", "quotient space", "isomorphism", "homomorphism", "kernel", "image", "polynomial", "root", "factor", "gcd", "lcm", "modulo", "congruence"}},
			{"probability", []string{"probability", "distribution", "random variable", "expected value", "variance", "standard deviation", "correlation", "covariance", "normal distribution", "poisson", "binomial", "monte carlo", "markov chain", "stochastic process", "brownian motion", "martingale", "ito process", "stochastic differential equation", "fokker-planck", "kolmogorov equation", "ergodic", "stationary", "autocorrelation", "spectral density", "power spectrum", "fourier transform"}},
		},
		FinanceTerms: []TermGroup{
			{"finance", []string{"delta", "gamma", "theta", "vega", "rho", "vanna", "volga", "charm", "speed", "color", "zomma", "ultima", "vomma", "delta-gamma", "delta-vega", "gamma-vega", "cross-gamma"}},
			{"finance", []string{"alpha", "beta", "sharpe ratio", "sortino ratio", "information ratio", "maximum drawdown", "value at risk", "volatility", "correlation", "r-squared", "tracking error", "jensen alpha", "treynor ratio", "calmar ratio", "omega ratio", "ulcer index", "kurtosis", "skewness"}},
			{"finance", []string{"present value", "future value", "npv", "irr", "yield", "duration", "convexity", "forward rate", "spot rate", "yield curve", "term structure", "discount factor", "annuity", "perpetuity", "modified duration", "key rate duration", "option adjusted spread", "zero coupon", "par yield", "bootstrapping"}},
		},
		MathSymbols: []string{
			"∂", "∫", "∮", "∇", "Δ", "∑", "∏", "∞", "→", "←", "↔",
			"∈", "∉", "⊂", "⊃", "∪", "∩", "∅", "∀", "∃", "¬", "∧", "∨",
			"⇒", "⇔", "≡", "≠", "≈", "≅", "∼", "∝", "±", "×", "÷", "√",
			"α", "β", "γ", "δ", "ε", "ζ", "η", "θ", "ι", "κ", "λ", "μ",
			"ν", "ξ", "ο", "π", "ρ", "σ", "τ", "υ", "φ", "χ", "ψ", "ω",
			"Γ", "Θ", "Λ", "Ξ", "Π", "Σ", "Φ", "Ψ", "Ω",
		},
		Expressions: []string{
			`\d+\s*[+\-*/^]\s*\d+`,              // arithmetic
			`\b[a-zA-Z]\w*\s*=\s*\d+`,           // assignment
			`\b[a-zA-Z]\s*[+\-*/^]\s*[a-zA-Z]\b`, // single-letter operands
			`\b[a-zA-Z]+\([^)]*\)`,              // f(x)
			`\b[a-zA-Z]+\[[^\]]*\]`,             // x[i]
			`\b[a-zA-Z]+\s*\{[^}]*\}`,           // set notation
			`\|[a-zA-Z][^|]*\|`,                 // norm
		},
	}
}

// compileTerm builds a case-insensitive whole-word matcher for a literal term.
// Spaces inside a term match any whitespace run, line breaks included.
func compileTerm(term string) *regexp.Regexp {
	expr := strings.ReplaceAll(regexp.QuoteMeta(term), " ", `\s+`)
	if isWordByte(term[0]) {
		expr = `\b` + expr
	}
	if isWordByte(term[len(term)-1]) {
		expr += `\b`
	}
	return regexp.MustCompile(`(?i)` + expr)
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}
