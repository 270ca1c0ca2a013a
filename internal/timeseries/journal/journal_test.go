package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/strata/internal/errors"
)

func points(n int) []Point {
	out := make([]Point, n)
	for i := range out {
		out[i] = Point{
			Attributes: map[string]string{"host": "a", "i": string(rune('a' + i%26))},
			Timestamp:  int64(i * 1000),
			Value:      float64(i) / 2,
		}
	}
	return out
}

func readAll(t *testing.T, dir string) []Point {
	t.Helper()
	segments, err := Segments(dir)
	require.NoError(t, err)
	var out []Point
	for _, s := range segments {
		p, damaged, err := ReadSegment(s.Path)
		require.NoError(t, err)
		assert.False(t, damaged, s.Path)
		out = append(out, p...)
	}
	return out
}

func TestEncodingRoundTrip(t *testing.T) {
	in := append(points(3), Point{Timestamp: -5, Value: -1.25})
	data, err := encodePoints(in)
	require.NoError(t, err)

	out, err := decodePoints(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodePoints(data[:len(data)-3])
	assert.Error(t, err)
}

func TestAppendAndRead(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, Options{})
	require.NoError(t, err)

	in := points(10)
	require.NoError(t, j.Append(in[:4]...))
	require.NoError(t, j.Append(in[4:]...))
	require.NoError(t, j.Append())

	// flush mode makes records visible without Close
	assert.Equal(t, in, readAll(t, dir))

	stats := j.Stats()
	assert.Equal(t, int64(2), stats.RecordsWritten)
	assert.Equal(t, int64(10), stats.PointsWritten)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
	assert.ErrorIs(t, j.Append(in[0]), errors.ErrClosed)
}

func TestRotationBySize(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, Options{MaxSegmentSize: 128, Sync: SyncNone})
	require.NoError(t, err)

	in := points(20)
	for _, p := range in {
		require.NoError(t, j.Append(p))
	}
	require.NoError(t, j.Close())

	segments, err := Segments(dir)
	require.NoError(t, err)
	assert.Greater(t, len(segments), 1)
	assert.Equal(t, in, readAll(t, dir))
}

func TestCheckpointDropsSealedSegments(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, Options{MaxSegmentSize: 128})
	require.NoError(t, err)

	for _, p := range points(10) {
		require.NoError(t, j.Append(p))
	}
	require.NoError(t, j.Checkpoint())

	segments, err := Segments(dir)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Empty(t, readAll(t, dir))

	require.NoError(t, j.Append(points(1)...))
	assert.Equal(t, points(1), readAll(t, dir))
	require.NoError(t, j.Close())
	assert.ErrorIs(t, j.Checkpoint(), errors.ErrClosed)
}

func TestReopenContinuesSequence(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, Options{})
	require.NoError(t, err)
	require.NoError(t, j.Append(points(2)...))
	require.NoError(t, j.Close())

	j, err = Open(dir, Options{})
	require.NoError(t, err)
	defer j.Close()

	segments, err := Segments(dir)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, segments[0].Seq+1, segments[1].Seq)
	assert.Equal(t, points(2), readAll(t, dir))
}

func TestTornTailIsDamaged(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, Options{})
	require.NoError(t, err)
	require.NoError(t, j.Append(points(3)...))
	require.NoError(t, j.Append(points(2)...))
	require.NoError(t, j.Close())

	segments, err := Segments(dir)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	path := segments[0].Path
	require.NoError(t, os.Truncate(path, segments[0].Size-5))

	got, damaged, err := ReadSegment(path)
	require.NoError(t, err)
	assert.True(t, damaged)
	assert.Equal(t, points(3), got)
}

func TestBadSegments(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "0000000000000001.jrn")
	require.NoError(t, os.WriteFile(bad, []byte("not a journal"), 0644))
	_, _, err := ReadSegment(bad)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0644))
	segments, err := Segments(dir)
	require.NoError(t, err)
	assert.Len(t, segments, 1)

	_, err = Open(t.TempDir(), Options{Sync: "sometimes"})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	none, err := Segments(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, none)
}
