package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/pkg/metrics"
)

type memSeen struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func newMemSeen() *memSeen { return &memSeen{keys: map[string]bool{}} }

func (s *memSeen) IsProcessed(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key], s.err
}

func (s *memSeen) MarkProcessed(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = true
	return nil
}

func (s *memSeen) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

type fakeRunner struct {
	mu         sync.Mutex
	docs       []string
	failOn     string // doc id whose run reports a retryable failure
	terminalOn string // doc id whose run reports a failure a rerun cannot fix
	errOn      string // doc id whose run returns an error
}

func (r *fakeRunner) Run(_ context.Context, docs []domain.Document) (*domain.IngestionReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep := &domain.IngestionReport{RunID: "run", Kind: domain.TypeDocument}
	for _, d := range docs {
		r.docs = append(r.docs, d.ID)
		rep.TotalUnits += len(d.Pages)
		switch d.ID {
		case r.errOn:
			return nil, errors.New("index unavailable")
		case r.failOn:
			rep.FailedUnits++
			rep.Failures = append(rep.Failures, domain.UnitFailure{Unit: d.ID + "#p1", Stage: "embedded", Retryable: true})
		case r.terminalOn:
			rep.FailedUnits++
			rep.Failures = append(rep.Failures, domain.UnitFailure{Unit: d.ID + "#p2", Stage: "normalized"})
		}
	}
	return rep, nil
}

func (r *fakeRunner) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.docs...)
}

func newTestWatcher(dir string, r runner, seen *memSeen) *watcher {
	return &watcher{
		dir:      dir,
		interval: time.Hour,
		workers:  2,
		pipeline: r,
		seen:     seen,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		m:        newWatchMetrics(metrics.New()),
	}
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIsInput(t *testing.T) {
	tests := map[string]bool{
		"a.json":       true,
		"b.JSONL":      true,
		".hidden.json": false,
		"notes.txt":    false,
		"json":         false,
	}
	for name, want := range tests {
		if got := isInput(name); got != want {
			t.Errorf("isInput(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestScan_IngestsAndMarks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"document_id":"a","pages":["Covered calls on SPY."]}`)
	writeFile(t, dir, "b.jsonl", "{\"document_id\":\"b\",\"page\":1,\"text\":\"Delta hedging.\"}\n")
	writeFile(t, dir, "skip.txt", "not json")
	writeFile(t, dir, ".partial.json", `{"document_id":"x"`)

	r := &fakeRunner{}
	seen := newMemSeen()
	w := newTestWatcher(dir, r, seen)

	n, err := w.scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("ingested %d files, want 2", n)
	}
	if seen.count() != 2 {
		t.Errorf("marked %d keys, want 2", seen.count())
	}
	if w.m.files.Value() != 2 {
		t.Errorf("files metric = %d", w.m.files.Value())
	}

	// Second scan finds nothing new.
	n, err = w.scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || len(r.ran()) != 2 {
		t.Errorf("rescan ingested %d, runs %v", n, r.ran())
	}
	if w.m.skipped.Value() != 2 {
		t.Errorf("skipped metric = %d", w.m.skipped.Value())
	}
}

func TestScan_FailuresAreRetried(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.json", `{"document_id":`)
	writeFile(t, dir, "partial.json", `{"document_id":"partial","pages":["x"]}`)
	writeFile(t, dir, "down.json", `{"document_id":"down","pages":["x"]}`)
	writeFile(t, dir, "empty.json", `[]`)

	r := &fakeRunner{failOn: "partial", errOn: "down"}
	seen := newMemSeen()
	w := newTestWatcher(dir, r, seen)

	n, err := w.scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || seen.count() != 0 {
		t.Fatalf("ingested %d, marked %d; want nothing", n, seen.count())
	}
	if got := w.m.failed("decode").Value(); got != 1 {
		t.Errorf("decode failures = %d", got)
	}
	if got := w.m.failed("units").Value(); got != 1 {
		t.Errorf("unit failures = %d", got)
	}
	if got := w.m.failed("run").Value(); got != 1 {
		t.Errorf("run failures = %d", got)
	}

	r.mu.Lock()
	r.failOn, r.errOn = "", ""
	r.mu.Unlock()
	if n, _ := w.scan(context.Background()); n != 2 {
		t.Errorf("retry ingested %d, want 2", n)
	}
}

func TestScan_TerminalFailuresAreNotRetried(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "blank.jsonl", "{\"document_id\":\"blank\",\"page\":1,\"text\":\"x\"}\n")

	r := &fakeRunner{terminalOn: "blank"}
	seen := newMemSeen()
	w := newTestWatcher(dir, r, seen)

	if n, err := w.scan(context.Background()); err != nil || n != 1 {
		t.Fatalf("scan = %d, %v", n, err)
	}
	if got := w.m.failed("terminal").Value(); got != 1 {
		t.Errorf("terminal failures = %d", got)
	}
	if n, _ := w.scan(context.Background()); n != 0 {
		t.Errorf("rescan ingested %d", n)
	}
	if got := r.ran(); len(got) != 1 {
		t.Errorf("runs = %v, want one", got)
	}
}

func TestScan_LedgerError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"document_id":"a","pages":["x"]}`)
	seen := newMemSeen()
	seen.err = errors.New("database is locked")

	w := newTestWatcher(dir, &fakeRunner{}, seen)
	if _, err := w.scan(context.Background()); err == nil {
		t.Fatal("expected ledger error")
	}
}

func TestScan_ChangedFileIsReingested(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"document_id":"a","pages":["one"]}`)

	r := &fakeRunner{}
	w := newTestWatcher(dir, r, newMemSeen())
	if n, _ := w.scan(context.Background()); n != 1 {
		t.Fatalf("first scan ingested %d", n)
	}

	writeFile(t, dir, "a.json", `{"document_id":"a","pages":["one","two"]}`)
	if n, _ := w.scan(context.Background()); n != 1 {
		t.Fatalf("changed file ingested %d times", n)
	}
	if got := r.ran(); len(got) != 2 {
		t.Errorf("runs = %v", got)
	}
}

func TestRun_PicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{}
	seen := newMemSeen()
	w := newTestWatcher(filepath.Join(dir, "inbox"), r, seen)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.run(ctx) }()

	// run creates the directory before watching it.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(w.dir); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watch dir not created")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	writeFile(t, w.dir, "new.json", `{"document_id":"new","pages":["Iron condor."]}`)

	for seen.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("file event did not trigger a scan")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}
