package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/engine/ingest"
	"github.com/robin-ai/robinrag/pkg/fn"
	"github.com/robin-ai/robinrag/pkg/metrics"
)

// runner is the part of ingest.Pipeline the watcher drives.
type runner interface {
	Run(ctx context.Context, docs []domain.Document) (*domain.IngestionReport, error)
}

type watchMetrics struct {
	files     *metrics.Counter
	failed    func(stage string) *metrics.Counter
	skipped   *metrics.Counter
	queue     *metrics.Gauge
	lastScan  *metrics.Gauge
	scanTime  *metrics.Histogram
	fileBytes *metrics.Counter
}

func newWatchMetrics(reg *metrics.Registry) *watchMetrics {
	return &watchMetrics{
		files: reg.Counter("robin_watch_files_processed_total", "Input files fully ingested"),
		failed: func(stage string) *metrics.Counter {
			return reg.Counter(metrics.WithLabels("robin_watch_files_failed_total", "stage", stage), "Input files that will be retried")
		},
		skipped:   reg.Counter("robin_watch_files_skipped_total", "Input files already in the ledger"),
		queue:     reg.Gauge("robin_watch_queue_depth", "Files waiting in the current scan"),
		lastScan:  reg.Gauge("robin_watch_last_scan_timestamp", "Unix time of the last directory scan"),
		scanTime:  reg.Histogram("robin_watch_scan_duration_seconds", "Directory scan duration", nil),
		fileBytes: reg.Counter("robin_watch_bytes_total", "Bytes of input read"),
	}
}

// watcher ingests new JSON and JSONL files dropped into dir. Files are keyed
// by name, size and mtime, so an edited file is ingested again.
type watcher struct {
	dir      string
	interval time.Duration
	workers  int
	pipeline runner
	seen     ingest.Seen
	log      *slog.Logger
	m        *watchMetrics
}

type inputFile struct {
	path string
	key  string
	size int64
}

func isInput(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".json" || ext == ".jsonl"
}

// pending lists input files in dir not yet marked processed, sorted by name.
func (w *watcher) pending(ctx context.Context) ([]inputFile, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("watch: read %s: %w", w.dir, err)
	}
	var out []inputFile
	for _, e := range entries {
		if e.IsDir() || !isInput(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed between ReadDir and Info
		}
		key := fmt.Sprintf("file:%s:%d:%d", e.Name(), info.Size(), info.ModTime().UnixNano())
		done, err := w.seen.IsProcessed(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("watch: ledger: %w", err)
		}
		if done {
			w.m.skipped.Inc()
			continue
		}
		out = append(out, inputFile{path: filepath.Join(w.dir, e.Name()), key: key, size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}

// scan ingests every pending file with up to w.workers files in flight and
// returns how many were marked processed. A file stays pending while its
// report holds a retryable failure.
func (w *watcher) scan(ctx context.Context) (int, error) {
	start := time.Now()
	defer w.m.scanTime.Since(start)
	w.m.lastScan.Set(float64(start.Unix()))

	files, err := w.pending(ctx)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, nil
	}
	w.m.queue.Set(float64(len(files)))
	w.log.Info("watch: scan", "dir", w.dir, "files", len(files))

	results := fn.ParMap(files, w.workers, func(f inputFile) fn.Result[*domain.IngestionReport] {
		defer w.m.queue.Add(-1)
		return fn.FromPair(w.process(ctx, f))
	})

	done := 0
	for i, r := range results {
		rep, err := r.Unwrap()
		log := w.log.With("file", filepath.Base(files[i].path))
		if err != nil {
			log.Warn("watch: file failed, will retry", "error", err)
			continue
		}
		if rep.Retryable() {
			w.m.failed("units").Inc()
			log.Warn("watch: file had retryable failures, will retry",
				"run_id", rep.RunID, "failed_units", rep.FailedUnits, "failed_chunks", rep.FailedChunks)
			continue
		}
		if len(rep.Failures) > 0 {
			w.m.failed("terminal").Inc()
			log.Warn("watch: file has failures a rerun cannot fix, marking processed",
				"run_id", rep.RunID, "failed_units", rep.FailedUnits, "failed_chunks", rep.FailedChunks)
		}
		if err := w.seen.MarkProcessed(ctx, files[i].key); err != nil {
			log.Error("watch: mark processed failed", "error", err)
			continue
		}
		w.m.files.Inc()
		done++
		log.Info("watch: file done", "run_id", rep.RunID, "chunks", rep.SucceededChunks,
			"duration_ms", rep.Duration().Milliseconds())
	}
	return done, nil
}

func (w *watcher) process(ctx context.Context, f inputFile) (*domain.IngestionReport, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		w.m.failed("open").Inc()
		return nil, err
	}
	defer fh.Close()
	w.m.fileBytes.Add(f.size)

	docs, err := ingest.ReadDocuments(fh)
	if err != nil {
		w.m.failed("decode").Inc()
		return nil, err
	}
	if len(docs) == 0 {
		return nil, errors.New("no documents")
	}
	rep, err := w.pipeline.Run(ctx, docs)
	if err != nil {
		w.m.failed("run").Inc()
		return nil, err
	}
	return rep, nil
}

// run scans once, then again on every interval tick and on every file event
// under dir, until ctx is done. Events arriving during a scan collapse into
// one follow-up scan.
func (w *watcher) run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch: add %s: %w", w.dir, err)
	}

	trigger := make(chan struct{}, 1)
	kick := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}
	kick()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			kick()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) && isInput(filepath.Base(ev.Name)) {
				kick()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch: notify error", "error", err)
		case <-trigger:
			if _, err := w.scan(ctx); err != nil {
				w.log.Error("watch: scan failed", "error", err)
			}
		}
	}
}
