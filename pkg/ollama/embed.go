// Package ollama provides an embedding client backed by Ollama's HTTP API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/pkg/fn"
	"github.com/robin-ai/robinrag/pkg/resilience"
)

// Default configuration values.
const (
	DefaultBaseURL     = "http://localhost:11434"
	DefaultModel       = "nomic-embed-text"
	DefaultDimension   = 768
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultBackoffBase = time.Second
	DefaultBackoffMax  = 10 * time.Second
)

// Config configures an EmbedClient. Zero values take the defaults above.
type Config struct {
	BaseURL   string
	Model     string
	Dimension int
	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration
	// MaxRetries is the total number of attempts per text.
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration

	Breaker    *resilience.Breaker
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// EmbedClient turns text into fixed-length vectors. It is safe for
// concurrent use.
type EmbedClient struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

// NewEmbedClient creates an Ollama embedding client.
func NewEmbedClient(cfg Config) *EmbedClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultBackoffMax
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &EmbedClient{cfg: cfg, client: client, log: log}
}

// Dimension returns the configured vector length.
func (c *EmbedClient) Dimension() int { return c.cfg.Dimension }

// Model returns the configured model name.
func (c *EmbedClient) Model() string { return c.cfg.Model }

type embedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResp struct {
	Embedding []float64 `json:"embedding"`
}

// statusError is a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("status %d", e.code)
	}
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

// errMalformed marks a response body that could not be decoded.
var errMalformed = errors.New("malformed response")

// retryable reports whether an attempt error is transient.
func retryable(err error) bool {
	var se *statusError
	switch {
	case errors.As(err, &se):
		return se.code == http.StatusTooManyRequests || se.code >= 500
	case errors.Is(err, errMalformed), errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, context.Canceled):
		return false
	}
	return true // network errors and per-attempt timeouts
}

// Embed returns the embedding for text. Transient failures are retried with
// doubling backoff; once attempts run out the error matches
// domain.ErrEmbeddingUnavailable. A vector of the wrong length fails with
// *domain.DimensionMismatchError and is never retried.
func (c *EmbedClient) Embed(ctx context.Context, text string) (domain.EmbeddingVector, error) {
	opts := fn.RetryOpts{
		MaxAttempts: c.cfg.MaxRetries,
		InitialWait: c.cfg.BackoffBase,
		MaxWait:     c.cfg.BackoffMax,
		Retryable:   retryable,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			c.log.Warn("ollama: embed attempt failed", "attempt", attempt, "wait", wait, "error", err)
		},
	}
	res := fn.Retry(ctx, opts, func(ctx context.Context) fn.Result[domain.EmbeddingVector] {
		if c.cfg.Breaker != nil {
			return resilience.CallResult(c.cfg.Breaker, ctx, c.attempt(text))
		}
		return c.attempt(text)(ctx)
	})
	vec, err := res.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("ollama: embed: %w: %w", domain.ErrEmbeddingUnavailable, err)
	}
	if err := domain.CheckDimension(vec, c.cfg.Dimension); err != nil {
		c.log.Warn("ollama: embedding has wrong dimension", "model", c.cfg.Model, "error", err)
		return nil, fmt.Errorf("ollama: embed: %w", err)
	}
	return vec, nil
}

func (c *EmbedClient) attempt(text string) func(context.Context) fn.Result[domain.EmbeddingVector] {
	return func(ctx context.Context) fn.Result[domain.EmbeddingVector] {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		return fn.FromPair(c.post(ctx, text))
	}
}

func (c *EmbedClient) post(ctx context.Context, text string) (domain.EmbeddingVector, error) {
	body, err := json.Marshal(embedReq{Model: c.cfg.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}

	var out embedResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	vec := make(domain.EmbeddingVector, len(out.Embedding))
	for i, v := range out.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Ping checks that the Ollama server answers /api/tags.
func (c *EmbedClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama: ping: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: ping: %w: %w", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: ping: %w: status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	return nil
}
