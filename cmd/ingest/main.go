// Command ingest watches a directory for JSON document files and runs them
// through the ingestion pipeline into Qdrant, optionally tagging Neo4j and
// consuming documents from NATS.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/robin-ai/robinrag/engine/graph"
	"github.com/robin-ai/robinrag/engine/ingest"
	"github.com/robin-ai/robinrag/engine/semantic"
	"github.com/robin-ai/robinrag/pkg/config"
	"github.com/robin-ai/robinrag/pkg/ledger"
	"github.com/robin-ai/robinrag/pkg/metrics"
	"github.com/robin-ai/robinrag/pkg/ollama"
)

func main() {
	var (
		configPath = flag.String("config", "robinrag.yaml", "YAML config file")
		dir        = flag.String("dir", "", "directory to watch (overrides watch.dir)")
		workers    = flag.Int("workers", 0, "files ingested concurrently (overrides watch.workers)")
		once       = flag.Bool("once", false, "scan the directory once and exit")
	)
	flag.Parse()

	if err := run(*configPath, *dir, *workers, *once); err != nil {
		fmt.Fprintln(os.Stderr, "ingest:", err)
		os.Exit(1)
	}
}

func run(configPath, dir string, workers int, once bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dir != "" {
		cfg.Watch.Dir = dir
	}
	if workers > 0 {
		cfg.Watch.Workers = workers
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := cfg.Logger()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	met := metrics.New()
	if cfg.Metrics.Port > 0 {
		met.ServeAsync(ctx, cfg.Metrics.Port, log)
	}

	embedder := ollama.NewEmbedClient(cfg.EmbedConfig(log))
	if err := embedder.Ping(ctx); err != nil {
		log.Warn("ollama not reachable, embeddings will fail until it is", "url", cfg.Ollama.URL, "error", err)
	}

	index := semantic.New(cfg.Qdrant.Addr, cfg.IndexOptions(log))
	defer index.Close()
	if err := ensureIndex(ctx, index); err != nil {
		return err
	}

	led, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer led.Close()

	var tags ingest.TagRecorder
	if cfg.Neo4j.URL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URL, neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Password, ""))
		if err != nil {
			return fmt.Errorf("neo4j: %w", err)
		}
		defer driver.Close(context.Background())
		if err := driver.VerifyConnectivity(ctx); err != nil {
			return fmt.Errorf("neo4j: %w", err)
		}
		tg := graph.New(driver)
		if err := tg.EnsureSchema(ctx); err != nil {
			return err
		}
		tags = tg
		log.Info("connected to Neo4j", "url", cfg.Neo4j.URL)
	}

	pipeline, err := ingest.New(ingest.Deps{
		Embedder: embedder,
		Index:    index,
		Tags:     tags,
		Ledger:   led,
		Metrics:  met,
		Logger:   log,
	}, cfg.Pipeline.Options)
	if err != nil {
		return err
	}

	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("robin-ingest"))
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer nc.Drain()
		sub, err := ingest.StartConsumer(nc, pipeline, led)
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
		log.Info("consuming documents", "subject", ingest.DocumentSubject, "url", cfg.NATS.URL)
	}

	w := &watcher{
		dir:      cfg.Watch.Dir,
		interval: cfg.Watch.Interval,
		workers:  cfg.Watch.Workers,
		pipeline: pipeline,
		seen:     led,
		log:      log,
		m:        newWatchMetrics(met),
	}
	log.Info("watching for documents", "dir", w.dir, "interval", w.interval, "workers", w.workers,
		"collection", index.Collection())

	if once {
		n, err := w.scan(ctx)
		log.Info("scan complete", "ingested_files", n)
		return err
	}
	if err := w.run(ctx); err != nil {
		return err
	}
	log.Info("shutting down")
	return nil
}

type readier interface {
	EnsureReady(ctx context.Context) error
}

// ensureIndex initializes the collection before any scan or consumer runs.
// A failed initialization is cached by the handle for its lifetime, so the
// daemon exits and leaves the restart to its supervisor.
func ensureIndex(ctx context.Context, index readier) error {
	if err := index.EnsureReady(ctx); err != nil {
		return fmt.Errorf("qdrant: %w", err)
	}
	return nil
}
