package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/timeseries"
)

func bucket(t *testing.T, begin int64, attrs map[string]string, values ...float64) *timeseries.Bucket {
	t.Helper()
	bb, err := timeseries.NewBucketBuilder(begin, begin+1000, attrs, 10, 0.01)
	require.NoError(t, err)
	for _, v := range values {
		bb.Ingest(v)
	}
	b, err := bb.Build()
	require.NoError(t, err)
	b.ID = document.NewObjectID()
	return b
}

func TestParseCompressionType(t *testing.T) {
	tests := map[string]CompressionType{
		"":       CompressionNone,
		"none":   CompressionNone,
		"snappy": CompressionSnappy,
		"zstd":   CompressionZstd,
		"lz4":    CompressionLZ4,
		"gzip":   CompressionGzip,
		"brotli": CompressionZstd,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseCompressionType(in), in)
	}
}

func TestRowConversion(t *testing.T) {
	b := bucket(t, 5000, map[string]string{"site": "fra1", "host": "a"}, 1, 2, 30)
	row := BucketToRow(b, time.Second)

	assert.Equal(t, "host=a,site=fra1", row.Series)
	assert.Equal(t, int64(1000), row.ResolutionMs)
	assert.Equal(t, b.ID.Hex(), row.ID)

	back := RowToBucket(&row)
	assert.Equal(t, b, back)

	empty := RowToBucket(&Row{ID: "nope", Begin: 7})
	assert.True(t, empty.ID.IsZero())
	assert.Nil(t, empty.Attributes)
	assert.Nil(t, empty.Distribution)
}

func TestWriteAndRead(t *testing.T) {
	for _, c := range []CompressionType{CompressionNone, CompressionSnappy, CompressionZstd, CompressionGzip} {
		path := filepath.Join(t.TempDir(), "nested", "b.parquet")
		in := []*timeseries.Bucket{
			bucket(t, 0, map[string]string{"host": "a"}, 1, 2, 3),
			bucket(t, 1000, map[string]string{"host": "b"}, 10),
			bucket(t, 2000, nil),
		}
		require.NoError(t, WriteFile(path, time.Second, in, Options{Compression: c}))

		out, err := Read(path)
		require.NoError(t, err)
		require.Len(t, out, 3)
		for i := range in {
			assert.Equal(t, in[i].ID, out[i].ID)
			assert.Equal(t, in[i].Begin, out[i].Begin)
			assert.Equal(t, in[i].Count, out[i].Count)
			assert.Equal(t, in[i].Sum, out[i].Sum)
			assert.Equal(t, in[i].Distribution, out[i].Distribution)
		}

		q, err := out[0].Quantile(0.5)
		require.NoError(t, err)
		assert.InDelta(t, 2, q, 0.1)
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.parquet"))
	assert.Error(t, err)
}

func TestReadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.parquet")
	require.NoError(t, os.WriteFile(path, []byte("PAR1 not really parquet"), 0644))

	_, err := Read(path)
	assert.Error(t, err)
}

func TestWriterListensToFlushes(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	w := NewWriter(root, DefaultOptions())

	require.NoError(t, w.OnFlush(ctx, time.Second, nil))
	require.NoError(t, w.OnFlush(ctx, time.Second, []*timeseries.Bucket{bucket(t, 0, nil, 1)}))
	require.NoError(t, w.OnFlush(ctx, time.Second, []*timeseries.Bucket{bucket(t, 1000, nil, 2), bucket(t, 2000, nil, 3)}))
	require.NoError(t, w.OnFlush(ctx, time.Minute, []*timeseries.Bucket{bucket(t, 0, nil, 1, 2, 3)}))

	files, rows := w.Stats()
	assert.Equal(t, int64(3), files)
	assert.Equal(t, int64(4), rows)

	perSecond, err := Files(root, time.Second)
	require.NoError(t, err)
	require.Len(t, perSecond, 2)
	assert.Equal(t, filepath.Join(root, "1000"), filepath.Dir(perSecond[0]))

	first, err := Read(perSecond[0])
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, int64(0), first[0].Begin)

	none, err := Files(root, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.OnFlush(ctx, time.Second, []*timeseries.Bucket{bucket(t, 0, nil, 1)}), ErrWriterClosed)
}

func TestQuerierSummarize(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	w := NewWriter(root, DefaultOptions())

	a := map[string]string{"host": "a"}
	b := map[string]string{"host": "b"}
	require.NoError(t, w.OnFlush(ctx, time.Second, []*timeseries.Bucket{
		bucket(t, 0, a, 1, 2),
		bucket(t, 0, b, 10),
	}))
	require.NoError(t, w.OnFlush(ctx, time.Second, []*timeseries.Bucket{
		bucket(t, 1000, a, 5),
		bucket(t, 1000, b, 20, 30),
		bucket(t, 5000, a, 100),
	}))

	q, err := NewQuerier(ctx, root)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	got, err := q.Summarize(ctx, time.Second, 0, 1000)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, Summary{Series: "host=a", Buckets: 2, Count: 3, Sum: 8, Min: 1, Max: 5, First: 0, Last: 1000}, got[0])
	assert.Equal(t, Summary{Series: "host=b", Buckets: 2, Count: 3, Sum: 60, Min: 10, Max: 30, First: 0, Last: 1000}, got[1])

	empty, err := q.Summarize(ctx, time.Minute, 0, 1000)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
