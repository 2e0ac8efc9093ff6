// Package ledger persists ingestion reports and processed-document keys in a
// local SQLite database.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/pkg/ledger/migrations"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("ledger: not found")

const timeLayout = time.RFC3339Nano

// Ledger is a SQLite-backed run history. It is safe for concurrent use.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path and applies pending migrations.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger: empty path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ledger: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	// One writer keeps SQLITE_BUSY out of concurrent SaveReport calls.
	db.SetMaxOpenConns(1)

	if err := migrate(db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func migrate(db *sql.DB, fsys fs.FS) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("ledger: create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("ledger: read schema version: %w", err)
	}

	files, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return fmt.Errorf("ledger: list migrations: %w", err)
	}
	sort.Strings(files)

	for _, name := range files {
		version, err := migrationVersion(name)
		if err != nil {
			return err
		}
		if version <= current {
			continue
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("ledger: read %s: %w", name, err)
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("ledger: begin %s: %w", name, err)
		}
		if _, err := tx.Exec(string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("ledger: apply %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			version, time.Now().UTC().Format(timeLayout)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("ledger: record %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("ledger: commit %s: %w", name, err)
		}
	}
	return nil
}

// migrationVersion parses the numeric prefix of "NNN_name.up.sql".
func migrationVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("ledger: bad migration name %q", name)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, fmt.Errorf("ledger: bad migration name %q: %w", name, err)
	}
	return v, nil
}

// SaveReport stores r, replacing any earlier report with the same run id.
func (l *Ledger) SaveReport(ctx context.Context, r *domain.IngestionReport) error {
	if r == nil {
		return errors.New("ledger: nil report")
	}
	if r.RunID == "" {
		return errors.New("ledger: report has no run id")
	}
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("ledger: encode report: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, kind, started_at, finished_at, total_units, failed_units,
		                  total_chunks, failed_chunks, degraded, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			kind = excluded.kind,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			total_units = excluded.total_units,
			failed_units = excluded.failed_units,
			total_chunks = excluded.total_chunks,
			failed_chunks = excluded.failed_chunks,
			degraded = excluded.degraded,
			report = excluded.report
	`,
		r.RunID, r.Kind,
		r.StartedAt.UTC().Format(timeLayout), r.FinishedAt.UTC().Format(timeLayout),
		r.TotalUnits, r.FailedUnits, r.TotalChunks, r.FailedChunks,
		boolToInt(r.Degraded), string(body),
	)
	if err != nil {
		return fmt.Errorf("ledger: save report %s: %w", r.RunID, err)
	}
	return nil
}

// Report returns the stored report for runID.
func (l *Ledger) Report(ctx context.Context, runID string) (*domain.IngestionReport, error) {
	var body string
	err := l.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE run_id = ?`, runID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get report %s: %w", runID, err)
	}
	return decodeReport(body)
}

// RecentReports returns up to n reports, newest first. An empty kind matches
// every run.
func (l *Ledger) RecentReports(ctx context.Context, kind string, n int) ([]*domain.IngestionReport, error) {
	if n <= 0 {
		n = 20
	}
	query := `SELECT report FROM runs ORDER BY started_at DESC, run_id LIMIT ?`
	args := []any{n}
	if kind != "" {
		query = `SELECT report FROM runs WHERE kind = ? ORDER BY started_at DESC, run_id LIMIT ?`
		args = []any{kind, n}
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list reports: %w", err)
	}
	defer rows.Close()

	var out []*domain.IngestionReport
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("ledger: scan report: %w", err)
		}
		r, err := decodeReport(body)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func decodeReport(body string) (*domain.IngestionReport, error) {
	var r domain.IngestionReport
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("ledger: decode report: %w", err)
	}
	return &r, nil
}

// MarkProcessed records key as ingested.
func (l *Ledger) MarkProcessed(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("ledger: empty key")
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO processed (key, processed_at) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET processed_at = excluded.processed_at
	`, key, l.now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("ledger: mark %s: %w", key, err)
	}
	return nil
}

// IsProcessed reports whether key was marked.
func (l *Ledger) IsProcessed(ctx context.Context, key string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx, `SELECT 1 FROM processed WHERE key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger: check %s: %w", key, err)
	}
	return true, nil
}

// Forget removes key so the document is ingested again.
func (l *Ledger) Forget(ctx context.Context, key string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM processed WHERE key = ?`, key); err != nil {
		return fmt.Errorf("ledger: forget %s: %w", key, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
