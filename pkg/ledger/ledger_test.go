package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robin-ai/robinrag/engine/domain"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "nested", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, l.Close()) })
	return l
}

func report(id, kind string, started time.Time) *domain.IngestionReport {
	return &domain.IngestionReport{
		RunID:           id,
		Kind:            kind,
		StartedAt:       started,
		FinishedAt:      started.Add(2 * time.Second),
		TotalUnits:      3,
		SucceededUnits:  2,
		FailedUnits:     1,
		TotalChunks:     10,
		SucceededChunks: 9,
		FailedChunks:    1,
		After:           domain.IndexStats{TotalVectorCount: 9, Dimension: 4},
		Failures:        []domain.UnitFailure{{Unit: "doc#p2", Stage: "normalize", Reason: "empty page"}},
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.MarkProcessed(ctx, "a.pdf"))
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()

	done, err := l.IsProcessed(ctx, "a.pdf")
	require.NoError(t, err)
	assert.True(t, done)

	var versions int
	require.NoError(t, l.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&versions))
	assert.Equal(t, 1, versions)
}

func TestSaveReport_RoundTrip(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.SaveReport(ctx, report("run-1", "document", started)))

	got, err := l.Report(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "document", got.Kind)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Equal(t, 2*time.Second, got.Duration())
	assert.Equal(t, 1, got.FailedUnits)
	assert.Equal(t, uint64(9), got.After.TotalVectorCount)
	require.Len(t, got.Failures, 1)
	assert.Equal(t, "normalize", got.Failures[0].Stage)
}

func TestSaveReport_Upserts(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	r := report("run-1", "document", time.Now())
	require.NoError(t, l.SaveReport(ctx, r))

	r.Degraded = true
	r.FailedChunks = 10
	require.NoError(t, l.SaveReport(ctx, r))

	got, err := l.Report(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, got.Degraded)
	assert.Equal(t, 10, got.FailedChunks)

	all, err := l.RecentReports(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSaveReport_Invalid(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	assert.Error(t, l.SaveReport(ctx, nil))
	assert.Error(t, l.SaveReport(ctx, &domain.IngestionReport{}))
}

func TestReport_NotFound(t *testing.T) {
	l := openTestLedger(t)
	_, err := l.Report(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecentReports_OrderAndKind(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, l.SaveReport(ctx, report("old", "document", base)))
	require.NoError(t, l.SaveReport(ctx, report("rt", "realtime", base.Add(time.Hour))))
	require.NoError(t, l.SaveReport(ctx, report("new", "document", base.Add(2*time.Hour))))

	all, err := l.RecentReports(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"new", "rt", "old"}, []string{all[0].RunID, all[1].RunID, all[2].RunID})

	docs, err := l.RecentReports(ctx, "document", 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "new", docs[0].RunID)

	none, err := l.RecentReports(ctx, "market", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestProcessed_MarkCheckForget(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	done, err := l.IsProcessed(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, l.MarkProcessed(ctx, "doc-1"))
	require.NoError(t, l.MarkProcessed(ctx, "doc-1"))

	done, err = l.IsProcessed(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, done)

	require.NoError(t, l.Forget(ctx, "doc-1"))
	done, err = l.IsProcessed(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, done)

	assert.Error(t, l.MarkProcessed(ctx, ""))
}

func TestSaveReport_Concurrent(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Now()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := "run-" + string(rune('a'+i))
			assert.NoError(t, l.SaveReport(ctx, report(id, "realtime", base.Add(time.Duration(i)*time.Second))))
		}()
	}
	wg.Wait()

	all, err := l.RecentReports(ctx, "realtime", 100)
	require.NoError(t, err)
	assert.Len(t, all, 16)
}

func TestMigrationVersion(t *testing.T) {
	v, err := migrationVersion("001_init.up.sql")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = migrationVersion("init.up.sql")
	assert.Error(t, err)
	_, err = migrationVersion("abc_init.up.sql")
	assert.Error(t, err)
}
