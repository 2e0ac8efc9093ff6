package realtime

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/engine/semantic"
	"github.com/robin-ai/robinrag/engine/semantic/semantictest"
	"github.com/robin-ai/robinrag/pkg/metrics"
)

const testDim = 4

type fakeEmbedder struct {
	mu     sync.Mutex
	calls  int
	failIf func(text string) bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingVector, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.failIf != nil && f.failIf(text) {
		return nil, fmt.Errorf("fake: %w", domain.ErrEmbeddingUnavailable)
	}
	h := fnv.New32a()
	h.Write([]byte(text))
	s := h.Sum32()
	v := make(domain.EmbeddingVector, testDim)
	for i := range v {
		v[i] = float32((s>>(i*4))&0xf) + 1
	}
	return v, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	reports []*domain.IngestionReport
}

func (f *fakeLedger) SaveReport(_ context.Context, r *domain.IngestionReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return nil
}

func newIndex(fake *semantictest.Fake) *semantic.VectorIndex {
	return semantic.NewWithClients(fake.Points(), fake, semantic.Options{
		Collection:  "test",
		Dimension:   testDim,
		BatchSize:   2,
		InitTimeout: time.Second,
	})
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Timeout = time.Second
	opts.CleanupTimeout = time.Second
	return opts
}

func newTestPipeline(t *testing.T, deps Deps, opts Options) *Pipeline {
	t.Helper()
	p, err := New(deps, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func contract(strike float64, typ string) domain.OptionContract {
	exp := time.Date(2026, 12, 18, 0, 0, 0, 0, time.UTC)
	return domain.OptionContract{
		Symbol:       fmt.Sprintf("SPY261218%s%08.0f", strings.ToUpper(typ[:1]), strike*1000),
		Underlying:   "SPY",
		Type:         typ,
		Strike:       strike,
		Expiration:   exp,
		OpenInterest: 1200,
		Status:       "active",
	}
}

func contracts(n int) []domain.Record {
	out := make([]domain.Record, n)
	for i := range out {
		out[i] = contract(500+float64(i*5), "call")
	}
	return out
}

func TestVectorize_ConsumesThenDeletes(t *testing.T) {
	fake := semantictest.New()
	emb := &fakeEmbedder{}
	ledger := &fakeLedger{}
	p := newTestPipeline(t, Deps{Embedder: emb, Index: newIndex(fake), Ledger: ledger}, testOptions())

	var seen []semantic.Match
	rep, err := p.Vectorize(context.Background(), "spy-chain", contracts(3), func(ctx context.Context, s *Session) error {
		if s.Group() != "spy-chain" || s.Upserted() != 3 {
			t.Errorf("session group=%q upserted=%d", s.Group(), s.Upserted())
		}
		if n := fake.Count("test"); n != 3 {
			t.Errorf("expected 3 points during consume, got %d", n)
		}
		var err error
		seen, err = s.Search(ctx, "SPY call", 10, nil)
		return err
	})
	if err != nil {
		t.Fatalf("Vectorize: %v", err)
	}

	if len(seen) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(seen))
	}
	for _, m := range seen {
		md := m.Metadata
		if md[domain.MetaRecordGroup] != "spy-chain" || md[domain.MetaType] != domain.TypeOptions {
			t.Errorf("metadata = %v", md)
		}
		if id, _ := md[domain.MetaRecordID].(string); !strings.HasPrefix(id, "SPY261218C") {
			t.Errorf("record_id = %v", md[domain.MetaRecordID])
		}
		if !strings.HasPrefix(m.ID, "spy-chain/") {
			t.Errorf("index id = %q", m.ID)
		}
		if _, err := time.Parse(time.RFC3339, md[domain.MetaTimestamp].(string)); err != nil {
			t.Errorf("timestamp: %v", err)
		}
		if !strings.HasPrefix(md[domain.MetaText].(string), "Option contract for SPY") {
			t.Errorf("text = %v", md[domain.MetaText])
		}
	}

	if n := fake.Count("test"); n != 0 {
		t.Fatalf("expected group deleted, %d points remain", n)
	}
	if rep.Kind != Kind || rep.TotalUnits != 3 || rep.SucceededUnits != 3 || rep.FailedUnits != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.After.TotalVectorCount != 3 {
		t.Fatalf("after snapshot = %+v", rep.After)
	}
	if len(ledger.reports) != 1 || ledger.reports[0].RunID != rep.RunID {
		t.Fatalf("ledger reports = %v", ledger.reports)
	}
}

func TestVectorize_CleanupOnConsumeError(t *testing.T) {
	fake := semantictest.New()
	p := newTestPipeline(t, Deps{Embedder: &fakeEmbedder{}, Index: newIndex(fake)}, testOptions())

	boom := errors.New("llm failed")
	rep, err := p.Vectorize(context.Background(), "g", contracts(2), func(context.Context, *Session) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected consume error, got %v", err)
	}
	if rep == nil || rep.SucceededUnits != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if n := fake.Count("test"); n != 0 {
		t.Fatalf("expected cleanup after failure, %d points remain", n)
	}
}

func TestVectorize_CleanupOnPanic(t *testing.T) {
	fake := semantictest.New()
	p := newTestPipeline(t, Deps{Embedder: &fakeEmbedder{}, Index: newIndex(fake)}, testOptions())

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		p.Vectorize(context.Background(), "g", contracts(2), func(context.Context, *Session) error {
			panic("consumer bug")
		})
	}()
	if n := fake.Count("test"); n != 0 {
		t.Fatalf("expected cleanup after panic, %d points remain", n)
	}
}

func TestVectorize_CleanupUsesFreshContext(t *testing.T) {
	fake := semantictest.New()
	p := newTestPipeline(t, Deps{Embedder: &fakeEmbedder{}, Index: newIndex(fake)}, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	_, err := p.Vectorize(ctx, "g", contracts(2), func(context.Context, *Session) error {
		cancel()
		return nil
	})
	if err != nil {
		t.Fatalf("Vectorize: %v", err)
	}
	if n := fake.Count("test"); n != 0 {
		t.Fatalf("expected cleanup despite cancelled caller, %d points remain", n)
	}
}

func TestVectorize_CleanupFailureJoined(t *testing.T) {
	fake := semantictest.New()
	fake.DeleteErr = errors.New("delete refused")
	reg := metrics.New()
	p := newTestPipeline(t, Deps{Embedder: &fakeEmbedder{}, Index: newIndex(fake), Metrics: reg}, testOptions())

	boom := errors.New("consume failed")
	_, err := p.Vectorize(context.Background(), "g", contracts(1), func(context.Context, *Session) error {
		return boom
	})
	if !errors.Is(err, boom) || !errors.Is(err, fake.DeleteErr) {
		t.Fatalf("expected both errors joined, got %v", err)
	}
	if got := reg.Counter("robin_realtime_cleanup_failures_total", "").Value(); got != 1 {
		t.Fatalf("cleanup failures = %d", got)
	}
}

func TestVectorize_CapsRecords(t *testing.T) {
	fake := semantictest.New()
	emb := &fakeEmbedder{}
	opts := testOptions()
	opts.MaxRecords = 5
	p := newTestPipeline(t, Deps{Embedder: emb, Index: newIndex(fake)}, opts)

	rep, err := p.Vectorize(context.Background(), "g", contracts(8), func(_ context.Context, s *Session) error {
		if s.Upserted() != 5 {
			t.Errorf("upserted = %d", s.Upserted())
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if rep.TotalUnits != 5 || emb.calls != 5 {
		t.Fatalf("total=%d calls=%d", rep.TotalUnits, emb.calls)
	}
}

func TestVectorize_DefaultCap(t *testing.T) {
	if DefaultOptions().MaxRecords != 300 {
		t.Fatalf("default cap = %d", DefaultOptions().MaxRecords)
	}
}

func TestVectorize_PartialFailures(t *testing.T) {
	fake := semantictest.New()
	emb := &fakeEmbedder{failIf: func(text string) bool { return strings.Contains(text, "strike price $505") }}
	p := newTestPipeline(t, Deps{Embedder: emb, Index: newIndex(fake)}, testOptions())

	bad := contract(0, "call")
	bad.Symbol = "BAD"
	records := append(contracts(3), bad, nil)

	rep, err := p.Vectorize(context.Background(), "g", records, func(_ context.Context, s *Session) error {
		if s.Upserted() != 2 {
			t.Errorf("upserted = %d", s.Upserted())
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if rep.TotalUnits != 5 || rep.SucceededUnits != 2 || rep.FailedUnits != 3 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.TotalChunks != rep.SucceededChunks+rep.FailedChunks {
		t.Fatalf("chunks do not reconcile: %+v", rep)
	}
	units := map[string]bool{}
	for _, f := range rep.Failures {
		units[f.Unit] = true
	}
	if !units["BAD"] || !units["record[4]"] || len(rep.Failures) != 3 {
		t.Fatalf("failures = %+v", rep.Failures)
	}
}

func TestVectorize_UpsertFailureCounted(t *testing.T) {
	fake := semantictest.New()
	fake.UpsertErr = func(call int) error {
		if call == 1 {
			return errors.New("batch rejected")
		}
		return nil
	}
	p := newTestPipeline(t, Deps{Embedder: &fakeEmbedder{}, Index: newIndex(fake)}, testOptions())

	rep, err := p.Vectorize(context.Background(), "g", contracts(3), func(context.Context, *Session) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if rep.SucceededUnits != 1 || rep.FailedUnits != 2 || rep.FailedBatches != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if !strings.Contains(rep.Failures[0].Reason, domain.ErrPartialBatchFailure.Error()) {
		t.Fatalf("failure reason = %q", rep.Failures[0].Reason)
	}
}

func TestVectorize_GroupsAreIsolated(t *testing.T) {
	fake := semantictest.New()
	p := newTestPipeline(t, Deps{Embedder: &fakeEmbedder{}, Index: newIndex(fake)}, testOptions())
	ctx := context.Background()

	market := []domain.Record{
		domain.MarketSnapshot{Symbol: "QQQ", Timestamp: time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)},
	}

	_, err := p.Vectorize(ctx, "outer", contracts(2), func(ctx context.Context, outer *Session) error {
		_, err := p.Vectorize(ctx, "inner", market, func(ctx context.Context, inner *Session) error {
			got, err := inner.Search(ctx, "QQQ", 10, map[string]any{domain.MetaRecordGroup: "outer"})
			if err != nil {
				return err
			}
			if len(got) != 1 || got[0].Metadata[domain.MetaType] != domain.TypeMarket {
				t.Errorf("inner search = %+v", got)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if n := fake.Count("test"); n != 2 {
			t.Errorf("inner cleanup touched outer group: %d points", n)
		}
		got, err := outer.Search(ctx, "SPY", 10, nil)
		if err != nil {
			return err
		}
		if len(got) != 2 {
			t.Errorf("outer search = %d matches", len(got))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestVectorize_IndexUnavailable(t *testing.T) {
	fake := semantictest.New()
	fake.ListErr = errors.New("connection refused")
	p := newTestPipeline(t, Deps{Embedder: &fakeEmbedder{}, Index: newIndex(fake)}, testOptions())

	called := false
	rep, err := p.Vectorize(context.Background(), "g", contracts(2), func(context.Context, *Session) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if called {
		t.Fatal("consume must not run without an index")
	}
	if !rep.Degraded || rep.FailedUnits != 2 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestVectorize_Arguments(t *testing.T) {
	p := newTestPipeline(t, Deps{Embedder: &fakeEmbedder{}, Index: newIndex(semantictest.New())}, testOptions())
	noop := func(context.Context, *Session) error { return nil }

	if _, err := p.Vectorize(context.Background(), "", nil, noop); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("empty group: %v", err)
	}
	if _, err := p.Vectorize(context.Background(), "g", nil, nil); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("nil consume: %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Deps{}, DefaultOptions()); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("missing deps: %v", err)
	}
	deps := Deps{Embedder: &fakeEmbedder{}, Index: newIndex(semantictest.New())}
	bad := Options{}
	err := bad.Validate()
	var ce *domain.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	for _, field := range []string{"max_records", "workers", "timeout", "cleanup_timeout"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("missing %s in %v", field, err)
		}
	}
	if _, err := New(deps, bad); err == nil {
		t.Error("expected invalid options to fail")
	}
}
