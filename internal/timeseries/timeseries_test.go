package timeseries

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/strata/internal/collection/memory"
	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/testutil"
	"github.com/xtxerr/strata/internal/timeseries/journal"
)

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "buckets_1000", CollectionName("buckets", time.Second))
	assert.Equal(t, "buckets_3600000", CollectionName("buckets", time.Hour))
}

func TestTimeSeriesEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := memory.NewFactory()

	var flushed int
	ts, err := Open(ctx, f, Options{
		Collection:  "metrics",
		Resolutions: []time.Duration{time.Second, time.Minute},
		Pipeline:    Config{PclPrecision: 10, SketchAccuracy: 0.01},
		Listeners: []FlushListener{FlushListenerFunc(func(_ context.Context, _ time.Duration, b []*Bucket) error {
			flushed += len(b)
			return nil
		})},
	})
	require.NoError(t, err)

	for i := int64(0); i < 120; i++ {
		require.NoError(t, ts.IngestPoint(map[string]string{"site": "fra1"}, i*1000, float64(i)))
	}
	require.NoError(t, ts.Close(ctx))
	assert.ErrorIs(t, ts.IngestPoint(nil, 0, 1), errors.ErrClosed)

	assert.Equal(t, 122, flushed)
	perMinute := allBuckets(t, ts.Collection(time.Minute))
	require.Len(t, perMinute, 2)
	assert.Equal(t, "metrics_60000", ts.Collection(time.Minute).Name())

	resp, err := ts.Query(ctx, Query{
		From:       0,
		To:         119_999,
		Attributes: map[string]string{"site": "fra1"},
		Shrink:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, resp.Resolution)
	b := resp.Series[""][0]
	assert.Equal(t, int64(120), b.Count)
	assert.Equal(t, 119.0, b.Max)

	median, err := b.Quantile(0.5)
	require.NoError(t, err)
	assert.InDelta(t, 60, median, 2)

	resp, err = ts.Query(ctx, Query{From: 0, To: 119_999, Resolution: time.Second})
	require.NoError(t, err)
	assert.Len(t, resp.Series[""], 120)
}

func TestOpenRejectsBadResolutions(t *testing.T) {
	_, err := Open(context.Background(), memory.NewFactory(), Options{
		Collection:  "metrics",
		Resolutions: []time.Duration{time.Minute, time.Second},
		Pipeline:    Config{PclPrecision: 10},
	})
	assert.ErrorIs(t, err, errors.ErrInvalidResolution)
}

func journaled(t *testing.T, dir string) []journal.Point {
	t.Helper()
	segments, err := journal.Segments(dir)
	require.NoError(t, err)
	var out []journal.Point
	for _, s := range segments {
		p, _, err := journal.ReadSegment(s.Path)
		require.NoError(t, err)
		out = append(out, p...)
	}
	return out
}

func TestJournalReplayOnOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// Points journaled by a process that never flushed them.
	j, err := journal.Open(dir, journal.Options{})
	require.NoError(t, err)
	for i := int64(0); i < 30; i++ {
		require.NoError(t, j.Append(journal.Point{Attributes: map[string]string{"site": "fra1"}, Timestamp: i * 1000, Value: 1}))
	}
	require.NoError(t, j.Close())

	f := memory.NewFactory()
	ts, err := Open(ctx, f, Options{
		Collection:  "metrics",
		Resolutions: []time.Duration{time.Second, time.Minute},
		Pipeline:    Config{PclPrecision: 10},
		JournalDir:  dir,
	})
	require.NoError(t, err)

	assert.Len(t, allBuckets(t, ts.Collection(time.Second)), 30)
	perMinute := allBuckets(t, ts.Collection(time.Minute))
	require.Len(t, perMinute, 1)
	assert.Equal(t, int64(30), perMinute[0].Count)
	assert.Empty(t, journaled(t, dir))

	require.NoError(t, ts.IngestPoint(nil, 40_000, 2))
	assert.Len(t, journaled(t, dir), 1)

	require.NoError(t, ts.Close(ctx))
	require.NoError(t, ts.Close(ctx))
	assert.Empty(t, journaled(t, dir))
	assert.ErrorIs(t, ts.IngestPoint(nil, 0, 1), errors.ErrClosed)
}

func TestCheckpointPersistsAndTruncates(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ts, err := Open(ctx, memory.NewFactory(), Options{
		Collection:  "metrics",
		Resolutions: []time.Duration{time.Second, time.Minute},
		Pipeline:    Config{PclPrecision: 10},
		JournalDir:  dir,
	})
	require.NoError(t, err)
	defer ts.Close(ctx)

	for i := int64(0); i < 10; i++ {
		require.NoError(t, ts.IngestPoint(nil, 500*i, float64(i)))
	}
	assert.Len(t, journaled(t, dir), 10)

	require.NoError(t, ts.Checkpoint(ctx))
	assert.Empty(t, journaled(t, dir))
	assert.Len(t, allBuckets(t, ts.Collection(time.Second)), 5)

	// A window split by the checkpoint is merged again by queries.
	require.NoError(t, ts.IngestPoint(nil, 4_900, 100))
	require.NoError(t, ts.Checkpoint(ctx))
	resp, err := ts.Query(ctx, Query{From: 4_000, To: 4_999, Resolution: time.Second})
	require.NoError(t, err)
	require.Len(t, resp.Series[""], 1)
	assert.Equal(t, int64(3), resp.Series[""][0].Count)
	assert.Equal(t, 100.0, resp.Series[""][0].Max)
}

func TestCheckpointKeepsOneBucketPerWindow(t *testing.T) {
	ctx := context.Background()
	f := memory.NewFactory()
	dir := t.TempDir()
	now := time.UnixMilli(120_500)
	opts := Options{
		Collection:  "metrics",
		Resolutions: []time.Duration{time.Second, time.Minute},
		Pipeline:    Config{PclPrecision: 10, Now: func() time.Time { return now }},
		JournalDir:  dir,
	}

	ts, err := Open(ctx, f, opts)
	require.NoError(t, err)
	require.NoError(t, ts.IngestPoint(nil, 120_100, 1))
	require.NoError(t, ts.IngestPoint(nil, 120_200, 2))
	require.NoError(t, ts.Checkpoint(ctx))
	require.NoError(t, ts.IngestPoint(nil, 120_300, 30))
	require.NoError(t, ts.Checkpoint(ctx))

	for _, res := range opts.Resolutions {
		got := allBuckets(t, ts.Collection(res))
		require.Len(t, got, 1, "resolution %s", res)
		assert.Equal(t, int64(3), got[0].Count, "resolution %s", res)
		assert.Equal(t, 30.0, got[0].Max, "resolution %s", res)
	}
	require.NoError(t, ts.Close(ctx))

	// The windows are still open after a restart.
	ts, err = Open(ctx, f, opts)
	require.NoError(t, err)
	require.NoError(t, ts.IngestPoint(nil, 120_400, 4))
	require.NoError(t, ts.Close(ctx))

	for _, res := range opts.Resolutions {
		got := allBuckets(t, bucketCollection(t, f, CollectionName("metrics", res)))
		require.Len(t, got, 1, "resolution %s", res)
		assert.Equal(t, int64(4), got[0].Count, "resolution %s", res)
		assert.Equal(t, 37.0, got[0].Sum, "resolution %s", res)
	}
}

func TestCheckpointLoop(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ts, err := Open(ctx, memory.NewFactory(), Options{
		Collection:       "metrics",
		Resolutions:      []time.Duration{time.Second},
		Pipeline:         Config{PclPrecision: 10},
		JournalDir:       dir,
		CheckpointPeriod: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer ts.Close(ctx)

	require.NoError(t, ts.IngestPoint(nil, 0, 1))
	require.NoError(t, testutil.Eventually(5*time.Second, 10*time.Millisecond, func() bool {
		return ts.Journal().Stats().SegmentsDeleted > 0 && ts.Chain().Head().Stats().BucketsFlushed.Load() == 1
	}))
}
