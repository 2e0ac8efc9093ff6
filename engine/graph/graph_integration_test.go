//go:build integration

package graph

import (
	"context"
	"os"
	"reflect"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/robin-ai/robinrag/engine/domain"
)

func testDriver(t *testing.T) neo4j.DriverWithContext {
	t.Helper()
	url := envOr("NEO4J_URL", "neo4j://localhost:7687")
	driver, err := neo4j.NewDriverWithContext(url, neo4j.NoAuth())
	if err != nil {
		t.Fatalf("neo4j connect: %v", err)
	}
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		t.Fatalf("neo4j verify: %v", err)
	}
	t.Cleanup(func() {
		sess := driver.NewSession(ctx, neo4j.SessionConfig{})
		sess.Run(ctx, "MATCH (n) WHERE n:Document OR n:Pattern OR n:Term DETACH DELETE n", nil)
		sess.Close(ctx)
		driver.Close(ctx)
	})
	return driver
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestNeo4j_RecordAndQuery(t *testing.T) {
	g := New(testDriver(t))
	ctx := context.Background()
	if err := g.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	res := domain.ClassificationResult{Patterns: []string{"iron_condor"}, Terms: []string{"indicator:rsi"}}
	for _, page := range []int{2, 1, 2} {
		if err := g.RecordDocument(ctx, "it-doc", page, res); err != nil {
			t.Fatalf("RecordDocument page %d: %v", page, err)
		}
	}

	got, err := g.DocumentsForPattern(ctx, "iron_condor")
	if err != nil {
		t.Fatal(err)
	}
	want := []Mention{{DocumentID: "it-doc", Pages: []int64{1, 2}}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	doc, err := g.Document(ctx, "it-doc")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Pages != 2 {
		t.Fatalf("pages = %d", doc.Pages)
	}

	// re-recording a page without tags drops its mentions
	if err := g.RecordDocument(ctx, "it-doc", 2, domain.ClassificationResult{}); err != nil {
		t.Fatal(err)
	}
	got, _ = g.DocumentsForPattern(ctx, "iron_condor")
	if len(got) != 1 || !reflect.DeepEqual(got[0].Pages, []int64{1}) {
		t.Fatalf("after clear: %+v", got)
	}

	if err := g.DeleteDocument(ctx, "it-doc"); err != nil {
		t.Fatal(err)
	}
	got, _ = g.DocumentsForPattern(ctx, "iron_condor")
	if len(got) != 0 {
		t.Fatalf("after delete: %+v", got)
	}
}
