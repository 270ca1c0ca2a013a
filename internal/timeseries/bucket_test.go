package timeseries

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
)

func build(t *testing.T, begin int64, attrs map[string]string, precision int64, accuracy float64, values ...float64) *Bucket {
	t.Helper()
	b, err := NewBucketBuilder(begin, begin+1000, attrs, precision, accuracy)
	require.NoError(t, err)
	for _, v := range values {
		b.Ingest(v)
	}
	bucket, err := b.Build()
	require.NoError(t, err)
	return bucket
}

func TestBucketBuilderIngest(t *testing.T) {
	b := build(t, 5000, map[string]string{"host": "a"}, 10, 0, 3, 14, 27, 29)

	assert.Equal(t, int64(5000), b.Begin)
	assert.Equal(t, int64(6000), b.End)
	assert.Equal(t, map[string]string{"host": "a"}, b.Attributes)
	assert.Equal(t, int64(4), b.Count)
	assert.Equal(t, 73.0, b.Sum)
	assert.Equal(t, 3.0, b.Min)
	assert.Equal(t, 29.0, b.Max)
	assert.Equal(t, map[int64]int64{0: 1, 10: 1, 20: 2}, b.Distribution)
	assert.InDelta(t, 18.25, b.Mean(), 1e-9)
	assert.Empty(t, b.Sketch)
}

func TestBucketBuilderNegativeValuesBinDown(t *testing.T) {
	b := build(t, 0, nil, 10, 0, -5, -10, -11)
	assert.Equal(t, map[int64]int64{-10: 2, -20: 1}, b.Distribution)
	assert.Equal(t, -11.0, b.Min)
	assert.Equal(t, -5.0, b.Max)
}

func TestEmptyBucket(t *testing.T) {
	b := build(t, 0, nil, 10, 0.01)
	assert.Zero(t, b.Count)
	assert.Nil(t, b.Distribution)
	assert.Zero(t, b.Percentile(50))
	assert.Zero(t, b.Mean())
	assert.Empty(t, b.Sketch)
}

func TestPercentile(t *testing.T) {
	b := build(t, 0, nil, 10, 0, 3, 14, 27, 29)

	tests := []struct {
		p    float64
		want int64
	}{
		{0, 0},
		{25, 0},
		{26, 10},
		{50, 10},
		{51, 20},
		{100, 20},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Percentile(tt.p), "p%v", tt.p)
	}
}

func TestPercentileErrorBoundedByPrecision(t *testing.T) {
	values := make([]float64, 0, 1000)
	for i := 0; i < 1000; i++ {
		values = append(values, float64(i))
	}
	b := build(t, 0, nil, 25, 0, values...)

	for _, p := range []float64{10, 50, 90, 99} {
		exact := p / 100 * 1000
		got := float64(b.Percentile(p))
		assert.InDelta(t, exact, got, 25, "p%v", p)
	}
}

func TestAccumulate(t *testing.T) {
	b, err := NewBucketBuilder(0, 10000, map[string]string{"host": "a"}, 10, 0)
	require.NoError(t, err)

	require.NoError(t, b.Accumulate(build(t, 0, nil, 10, 0, 1, 2, 3)))
	require.NoError(t, b.Accumulate(build(t, 1000, nil, 10, 0, 50)))
	require.NoError(t, b.Accumulate(build(t, 2000, nil, 10, 0)))
	require.NoError(t, b.Accumulate(nil))
	b.Ingest(-4)

	out, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, int64(5), out.Count)
	assert.Equal(t, 52.0, out.Sum)
	assert.Equal(t, -4.0, out.Min)
	assert.Equal(t, 50.0, out.Max)
	assert.Equal(t, map[int64]int64{-10: 1, 0: 3, 50: 1}, out.Distribution)
}

func TestAccumulateRebinsOtherPrecision(t *testing.T) {
	b, err := NewBucketBuilder(0, 1000, nil, 10, 0)
	require.NoError(t, err)
	require.NoError(t, b.Accumulate(build(t, 0, nil, 5, 0, 5, 6, 15)))

	out, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{0: 2, 10: 1}, out.Distribution)
	for k := range out.Distribution {
		assert.Zero(t, k%10)
	}
}

func TestBuildIsASnapshot(t *testing.T) {
	b, err := NewBucketBuilder(0, 1000, map[string]string{"k": "v"}, 10, 0)
	require.NoError(t, err)
	b.Ingest(1)
	first, err := b.Build()
	require.NoError(t, err)

	b.Ingest(2)
	first.Attributes["k"] = "changed"

	second, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Count)
	assert.Equal(t, int64(2), second.Count)
	assert.Equal(t, "v", second.Attributes["k"])
}

func TestInvalidBuilderConfig(t *testing.T) {
	_, err := NewBucketBuilder(0, 1000, nil, 0, 0)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = NewBucketBuilder(0, 1000, nil, 10, 1.5)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestQuantileFromSketch(t *testing.T) {
	values := make([]float64, 0, 100)
	for i := 1; i <= 100; i++ {
		values = append(values, float64(i))
	}
	b := build(t, 0, nil, 10, 0.01, values...)
	require.NotEmpty(t, b.Sketch)

	median, err := b.Quantile(0.5)
	require.NoError(t, err)
	assert.InDelta(t, 50, median, 1.5)

	p99, err := b.Quantile(0.99)
	require.NoError(t, err)
	assert.InDelta(t, 99, p99, 2)
}

func TestQuantileWithoutSketch(t *testing.T) {
	b := build(t, 0, nil, 10, 0, 1, 2)
	_, err := b.Quantile(0.5)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestAccumulateMergesSketches(t *testing.T) {
	b, err := NewBucketBuilder(0, 10000, nil, 10, 0.01)
	require.NoError(t, err)
	require.NoError(t, b.Accumulate(build(t, 0, nil, 10, 0.01, 10, 10, 10)))
	require.NoError(t, b.Accumulate(build(t, 1000, nil, 10, 0.01, 100)))

	out, err := b.Build()
	require.NoError(t, err)
	maximum, err := out.Quantile(1)
	require.NoError(t, err)
	assert.InDelta(t, 100, maximum, 2)
}

func TestBuilderWithoutSketchAdoptsFirstSketch(t *testing.T) {
	b, err := NewBucketBuilder(0, 10000, nil, 10, 0)
	require.NoError(t, err)
	require.NoError(t, b.Accumulate(build(t, 0, nil, 10, 0.01, 5, 6, 7)))

	out, err := b.Build()
	require.NoError(t, err)
	require.NotEmpty(t, out.Sketch)
	q, err := out.Quantile(0)
	require.NoError(t, err)
	assert.InDelta(t, 5, q, 0.2)
}

func TestBucketDocumentForm(t *testing.T) {
	in := build(t, 7000, map[string]string{"host": "a", "dc": "x"}, 10, 0.01, 1, 12, 12)
	in.ID = document.NewObjectID()

	doc, err := document.Encode(in)
	require.NoError(t, err)
	v, ok, err := document.Lookup(doc, "attributes.host")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", v)

	out, err := document.DecodeAs[*Bucket](doc)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
