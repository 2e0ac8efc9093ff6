package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/pkg/resilience"
)

func vector(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = float64(i) / float64(n)
	}
	return v
}

func newTestClient(t *testing.T, h http.HandlerFunc, dim int) (*EmbedClient, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	c := NewEmbedClient(Config{
		BaseURL:     srv.URL,
		Dimension:   dim,
		Timeout:     time.Second,
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
		HTTPClient:  srv.Client(),
	})
	return c, &calls
}

func TestEmbedSuccess(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req embedReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != DefaultModel || req.Prompt != "iron condor" {
			t.Errorf("unexpected body: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(embedResp{Embedding: vector(8)})
	}, 8)

	vec, err := c.Embed(context.Background(), "iron condor")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 8 || calls.Load() != 1 {
		t.Fatalf("got %d dims after %d calls", len(vec), calls.Load())
	}
}

func TestEmbedServerErrorsExhaustRetries(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}, 8)

	_, err := c.Embed(context.Background(), "text")
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable in chain, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestEmbedRetriesThrottling(t *testing.T) {
	var n atomic.Int32
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if n.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(embedResp{Embedding: vector(4)})
	}, 4)

	if _, err := c.Embed(context.Background(), "text"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestEmbedClientErrorNotRetried(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}, 4)

	_, err := c.Embed(context.Background(), "text")
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx should not be retried, got %d attempts", calls.Load())
	}
}

func TestEmbedMalformedBodyNotRetried(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}, 4)

	if _, err := c.Embed(context.Background(), "text"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("malformed body should not be retried, got %d attempts", calls.Load())
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResp{Embedding: vector(3)})
	}, 768)

	_, err := c.Embed(context.Background(), "text")
	var dm *domain.DimensionMismatchError
	if !errors.As(err, &dm) || dm.Want != 768 || dm.Got != 3 {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	if errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatal("dimension mismatch must not read as unavailable")
	}
	if calls.Load() != 1 {
		t.Fatalf("dimension mismatch should not be retried, got %d attempts", calls.Load())
	}
}

func TestEmbedAttemptTimeoutRetried(t *testing.T) {
	var n atomic.Int32
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_ = json.NewEncoder(w).Encode(embedResp{Embedding: vector(2)})
	}, 2)
	c.cfg.Timeout = 50 * time.Millisecond

	if _, err := c.Embed(context.Background(), "text"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestEmbedUnreachable(t *testing.T) {
	c := NewEmbedClient(Config{
		BaseURL:     "http://127.0.0.1:1",
		Dimension:   4,
		Timeout:     100 * time.Millisecond,
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
	})
	if _, err := c.Embed(context.Background(), "text"); !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestEmbedBreakerOpens(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, 4)
	c.cfg.Breaker = resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 3, Timeout: time.Minute})

	_, _ = c.Embed(context.Background(), "first")
	before := calls.Load()
	_, err := c.Embed(context.Background(), "second")
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if calls.Load() != before {
		t.Fatalf("open breaker should short-circuit, server saw %d more calls", calls.Load()-before)
	}
}

func TestPing(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	}, 4)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	down := NewEmbedClient(Config{BaseURL: "http://127.0.0.1:1", Timeout: 100 * time.Millisecond})
	if err := down.Ping(context.Background()); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestDefaults(t *testing.T) {
	c := NewEmbedClient(Config{BaseURL: "http://ollama:11434/"})
	if c.Dimension() != DefaultDimension || c.Model() != DefaultModel {
		t.Fatalf("unexpected defaults: %d %s", c.Dimension(), c.Model())
	}
	if c.cfg.BaseURL != "http://ollama:11434" {
		t.Fatalf("trailing slash not trimmed: %s", c.cfg.BaseURL)
	}
}
