package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/robin-ai/robinrag/engine/graph"
	"github.com/robin-ai/robinrag/engine/ingest"
	"github.com/robin-ai/robinrag/engine/realtime"
	"github.com/robin-ai/robinrag/engine/retrieve"
	"github.com/robin-ai/robinrag/engine/semantic"
	"github.com/robin-ai/robinrag/pkg/ledger"
	"github.com/robin-ai/robinrag/pkg/metrics"
	"github.com/robin-ai/robinrag/pkg/ollama"
)

// services are the backends a command talks to. graph is nil when Neo4j is
// not configured.
type services struct {
	embedder ingest.Embedder
	index    *semantic.VectorIndex
	graph    *graph.TagGraph
	ledger   *ledger.Ledger
	metrics  *metrics.Registry
	closers  []func() error
	injected bool
}

func connect(ctx context.Context) (*services, error) {
	if svc != nil {
		return svc, nil
	}
	s := &services{metrics: metrics.New()}

	s.embedder = ollama.NewEmbedClient(cfg.EmbedConfig(log))
	s.index = semantic.New(cfg.Qdrant.Addr, cfg.IndexOptions(log))
	s.closers = append(s.closers, s.index.Close)

	led, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.ledger = led
	s.closers = append(s.closers, led.Close)

	if cfg.Neo4j.URL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URL, neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Password, ""))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("neo4j: %w", err)
		}
		s.closers = append(s.closers, func() error { return driver.Close(context.Background()) })
		if err := driver.VerifyConnectivity(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("neo4j: %w", err)
		}
		s.graph = graph.New(driver)
	}
	svc = s
	return s, nil
}

// Close releases backends in reverse order of opening.
func (s *services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *services) tags() ingest.TagRecorder {
	if s.graph == nil {
		return nil
	}
	return s.graph
}

func (s *services) patterns() retrieve.PatternIndex {
	if s.graph == nil {
		return nil
	}
	return s.graph
}

func (s *services) ingestPipeline() (*ingest.Pipeline, error) {
	return ingest.New(ingest.Deps{
		Embedder: s.embedder,
		Index:    s.index,
		Tags:     s.tags(),
		Ledger:   s.ledger,
		Metrics:  s.metrics,
		Logger:   log,
	}, cfg.Pipeline.Options)
}

func (s *services) realtimePipeline() (*realtime.Pipeline, error) {
	return realtime.New(realtime.Deps{
		Embedder: s.embedder,
		Index:    s.index,
		Ledger:   s.ledger,
		Metrics:  s.metrics,
		Logger:   log,
	}, cfg.Realtime)
}
