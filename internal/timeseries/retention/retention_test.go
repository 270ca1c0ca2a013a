package retention

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/collection/memory"
	"github.com/xtxerr/strata/internal/filter"
	"github.com/xtxerr/strata/internal/timeseries"
	"github.com/xtxerr/strata/internal/timeseries/archive"
)

var epoch = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func bucket(t *testing.T, begin time.Time, res time.Duration) *timeseries.Bucket {
	t.Helper()
	bb, err := timeseries.NewBucketBuilder(begin.UnixMilli(), begin.Add(res).UnixMilli(), nil, 10, 0)
	require.NoError(t, err)
	bb.Ingest(1)
	b, err := bb.Build()
	require.NoError(t, err)
	return b
}

func seed(t *testing.T) (map[time.Duration]collection.Collection[*timeseries.Bucket], string) {
	t.Helper()
	ctx := context.Background()
	f := memory.NewFactory()
	dir := t.TempDir()
	w := archive.NewWriter(dir, archive.DefaultOptions())

	colls := make(map[time.Duration]collection.Collection[*timeseries.Bucket])
	for _, res := range []time.Duration{time.Minute, time.Hour} {
		c, err := collection.GetTyped[*timeseries.Bucket](ctx, f, timeseries.CollectionName("b", res))
		require.NoError(t, err)
		colls[res] = c

		// one bucket per hour over the last 48 hours
		for h := 48; h >= 1; h-- {
			b := bucket(t, epoch.Add(-time.Duration(h)*time.Hour), res)
			_, err := c.Save(ctx, b)
			require.NoError(t, err)
			require.NoError(t, w.OnFlush(ctx, res, []*timeseries.Bucket{b}))
		}
	}
	return colls, dir
}

func count(t *testing.T, c collection.Collection[*timeseries.Bucket]) int64 {
	t.Helper()
	n, err := c.Count(context.Background(), filter.Empty(), 0)
	require.NoError(t, err)
	return n
}

func TestRunCleanup(t *testing.T) {
	colls, dir := seed(t)
	m := New(colls, Policy{
		Buckets:    map[time.Duration]time.Duration{time.Minute: 24 * time.Hour},
		ArchiveDir: dir,
		Archive:    12 * time.Hour,
	}, func() time.Time { return epoch })

	results := m.RunCleanup(context.Background())
	require.Len(t, results, 2)

	minute := results[0]
	assert.Equal(t, time.Minute, minute.Resolution)
	assert.Equal(t, epoch.Add(-24*time.Hour).UnixMilli(), minute.Cutoff)
	assert.Equal(t, int64(24), minute.BucketsDeleted)
	assert.Equal(t, 36, minute.FilesDeleted)
	assert.Positive(t, minute.BytesFreed)
	assert.Empty(t, minute.Errors)

	hour := results[1]
	assert.Equal(t, int64(0), hour.BucketsDeleted)
	assert.Equal(t, 36, hour.FilesDeleted)

	assert.Equal(t, int64(24), count(t, colls[time.Minute]))
	assert.Equal(t, int64(48), count(t, colls[time.Hour]))

	files, err := archive.Files(dir, time.Minute)
	require.NoError(t, err)
	assert.Len(t, files, 12)

	stats := m.Stats()
	assert.Equal(t, epoch, stats.LastRunTime)
	assert.Equal(t, int64(24), stats.BucketsDeleted)
	assert.Equal(t, int64(72), stats.FilesDeleted)

	// nothing left to delete
	results = m.RunCleanup(context.Background())
	assert.Equal(t, int64(0), results[0].BucketsDeleted)
	assert.Equal(t, 0, results[0].FilesDeleted)
}

func TestDryRunDeletesNothing(t *testing.T) {
	colls, dir := seed(t)
	m := New(colls, Policy{
		Buckets:    map[time.Duration]time.Duration{time.Minute: time.Hour, time.Hour: time.Hour},
		ArchiveDir: dir,
		Archive:    time.Hour,
	}, func() time.Time { return epoch })

	results := m.DryRun(context.Background())
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, int64(47), r.BucketsDeleted)
		assert.Equal(t, 47, r.FilesDeleted)
	}

	assert.Equal(t, int64(48), count(t, colls[time.Minute]))
	files, err := archive.Files(dir, time.Hour)
	require.NoError(t, err)
	assert.Len(t, files, 48)
	assert.Zero(t, m.Stats().BucketsDeleted)
}

func TestArchiveIgnoresForeignFiles(t *testing.T) {
	colls, dir := seed(t)
	foreign := filepath.Join(archive.Dir(dir, time.Minute), "notes.parquet")
	require.NoError(t, os.WriteFile(foreign, []byte("x"), 0644))

	m := New(colls, Policy{ArchiveDir: dir, Archive: time.Nanosecond}, func() time.Time { return epoch })
	m.RunCleanup(context.Background())

	_, err := os.Stat(foreign)
	assert.NoError(t, err)
}

func TestForTimeSeries(t *testing.T) {
	ctx := context.Background()
	ts, err := timeseries.Open(ctx, memory.NewFactory(), timeseries.Options{
		Collection:  "metrics",
		Resolutions: []time.Duration{time.Second, time.Minute},
		Pipeline:    timeseries.Config{PclPrecision: 10},
	})
	require.NoError(t, err)
	defer ts.Close(ctx)

	old := time.Now().Add(-2 * time.Hour).UnixMilli()
	require.NoError(t, ts.IngestPoint(nil, old, 1))
	require.NoError(t, ts.IngestPoint(nil, time.Now().UnixMilli(), 1))
	require.NoError(t, ts.Checkpoint(ctx))

	m := ForTimeSeries(ts, Policy{Buckets: map[time.Duration]time.Duration{time.Second: time.Hour}})
	results := m.RunCleanup(ctx)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].BucketsDeleted)
	assert.Equal(t, int64(0), results[1].BucketsDeleted)
}
