//go:build integration

package ingest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/robin-ai/robinrag/engine/graph"
	"github.com/robin-ai/robinrag/engine/semantic"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestIngestPipeline_EndToEnd(t *testing.T) {
	ctx := context.Background()

	neo4jURL := envOr("NEO4J_URL", "neo4j://localhost:7687")
	driver, err := neo4j.NewDriverWithContext(neo4jURL, neo4j.NoAuth())
	if err != nil {
		t.Fatalf("neo4j connect: %v", err)
	}
	defer func() {
		sess := driver.NewSession(ctx, neo4j.SessionConfig{})
		sess.Run(ctx, "MATCH (d:Document {id: 'handbook'}) DETACH DELETE d", nil)
		sess.Close(ctx)
		driver.Close(ctx)
	}()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		t.Fatalf("neo4j verify: %v", err)
	}

	vi := semantic.New(envOr("QDRANT_URL", "localhost:6334"), semantic.Options{
		Collection:    "test_ingest_e2e",
		Dimension:     testDim,
		BatchInterval: 10 * time.Millisecond,
		APIKey:        os.Getenv("QDRANT_API_KEY"),
	})
	defer func() {
		vi.Drop(ctx)
		vi.Close()
	}()

	tags := graph.New(driver)
	p := newTestPipeline(t, Deps{Embedder: &fakeEmbedder{dim: testDim}, Index: vi, Tags: tags}, testOptions())

	rep, err := p.RunDocument(ctx, sampleDoc())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	checkReconciles(t, rep)
	if rep.FailedChunks != 0 || rep.SucceededChunks == 0 {
		t.Fatalf("report = %+v", rep)
	}
	if got := rep.After.TotalVectorCount - rep.Before.TotalVectorCount; got != uint64(rep.SucceededChunks) {
		t.Fatalf("index grew by %d, want %d", got, rep.SucceededChunks)
	}

	// second run replaces, does not duplicate
	if _, err := p.RunDocument(ctx, sampleDoc()); err != nil {
		t.Fatal(err)
	}
	stats, err := vi.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalVectorCount != rep.After.TotalVectorCount {
		t.Fatalf("re-ingest changed count: %d -> %d", rep.After.TotalVectorCount, stats.TotalVectorCount)
	}

	mentions, err := tags.DocumentsForPattern(ctx, "options_spread")
	if err != nil {
		t.Fatal(err)
	}
	if len(mentions) != 1 || mentions[0].DocumentID != "handbook" {
		t.Fatalf("mentions = %+v", mentions)
	}
}
