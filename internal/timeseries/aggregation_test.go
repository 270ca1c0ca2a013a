package timeseries

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/collection/memory"
	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/filter"
)

// seed stores, for each attribute set, one single-value bucket per second
// in [0, 60s) at the 1s resolution and one per minute at the 1m resolution.
func seed(t *testing.T, sets ...map[string]string) *AggregationPipeline {
	t.Helper()
	ctx := context.Background()
	f := memory.NewFactory()
	second := bucketCollection(t, f, "b_1000")
	minute := bucketCollection(t, f, "b_60000")

	for _, attrs := range sets {
		var perSecond []*Bucket
		for ts := int64(0); ts < 60_000; ts += 1000 {
			perSecond = append(perSecond, build(t, ts, attrs, 10, 0, float64(ts/1000)))
		}
		require.NoError(t, second.SaveAll(ctx, perSecond))

		values := make([]float64, 60)
		for i := range values {
			values[i] = float64(i)
		}
		_, err := minute.Save(ctx, build(t, 0, attrs, 10, 0, values...))
		require.NoError(t, err)
	}

	a, err := NewAggregationPipeline(map[time.Duration]collection.Collection[*Bucket]{
		time.Second: second,
		time.Minute: minute,
	}, 10)
	require.NoError(t, err)
	return a
}

var (
	hostA = map[string]string{"host": "a", "dc": "x"}
	hostB = map[string]string{"host": "b", "dc": "x"}
)

func TestStoredResolution(t *testing.T) {
	a := seed(t)
	assert.Equal(t, []time.Duration{time.Second, time.Minute}, a.Resolutions())

	tests := []struct {
		target, want time.Duration
	}{
		{time.Millisecond, time.Second},
		{time.Second, time.Second},
		{30 * time.Second, time.Second},
		{time.Minute, time.Minute},
		{time.Hour, time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, a.storedResolution(tt.target), "target %s", tt.target)
	}
}

func TestCollectDefaultsToFinestResolution(t *testing.T) {
	a := seed(t, hostA)
	resp, err := a.Collect(context.Background(), Query{From: 0, To: 9_999})
	require.NoError(t, err)

	assert.Equal(t, time.Second, resp.Interval)
	assert.Equal(t, time.Second, resp.Resolution)
	require.Len(t, resp.Series, 1)
	series := resp.Series[""]
	require.Len(t, series, 10)
	for i, b := range series {
		assert.Equal(t, int64(i*1000), b.Begin)
		assert.Equal(t, int64(1), b.Count)
		assert.Empty(t, b.Attributes)
	}
	assert.Equal(t, map[string]string{}, resp.Groups[""])
}

func TestCollectByResolutionRoundsDown(t *testing.T) {
	a := seed(t, hostA)
	resp, err := a.Collect(context.Background(), Query{From: 0, To: 60_000, Resolution: 5 * time.Minute})
	require.NoError(t, err)

	assert.Equal(t, time.Minute, resp.Resolution)
	assert.Equal(t, time.Minute, resp.Interval)
	require.Len(t, resp.Series[""], 1)
	assert.Equal(t, int64(60), resp.Series[""][0].Count)
}

func TestCollectByBucketCount(t *testing.T) {
	a := seed(t, hostA)
	resp, err := a.Collect(context.Background(), Query{From: 0, To: 60_000, BucketCount: 6})
	require.NoError(t, err)

	assert.Equal(t, time.Second, resp.Resolution)
	assert.Equal(t, 10*time.Second, resp.Interval)
	series := resp.Series[""]
	require.Len(t, series, 6)
	for i, b := range series {
		assert.Equal(t, int64(i*10_000), b.Begin)
		assert.Equal(t, b.Begin+10_000, b.End)
		assert.Equal(t, int64(10), b.Count)
		assert.Equal(t, float64(i*10), b.Min)
		assert.Equal(t, float64(i*10+9), b.Max)
	}
}

func TestCollectShrink(t *testing.T) {
	a := seed(t, hostA, hostB)
	resp, err := a.Collect(context.Background(), Query{From: 0, To: 29_999, Shrink: true})
	require.NoError(t, err)

	assert.Equal(t, time.Second, resp.Resolution)
	series := resp.Series[""]
	require.Len(t, series, 1)
	b := series[0]
	assert.Equal(t, int64(0), b.Begin)
	assert.Equal(t, int64(30_000), b.End)
	assert.Equal(t, int64(60), b.Count)
	assert.Equal(t, 0.0, b.Min)
	assert.Equal(t, 29.0, b.Max)
	assert.Equal(t, int64(10), b.Percentile(50))
}

func TestCollectGroupsByDimensions(t *testing.T) {
	a := seed(t, hostA, hostB)
	ctx := context.Background()

	resp, err := a.Collect(ctx, Query{From: 0, To: 59_999, Shrink: true, GroupDimensions: []string{"host"}})
	require.NoError(t, err)
	require.Len(t, resp.Series, 2)
	assert.Equal(t, map[string]string{"host": "a"}, resp.Groups["host=a"])
	assert.Equal(t, map[string]string{"host": "b"}, resp.Groups["host=b"])
	assert.Equal(t, int64(60), resp.Series["host=a"][0].Count)
	assert.Equal(t, map[string]string{"host": "b"}, resp.Series["host=b"][0].Attributes)

	resp, err = a.Collect(ctx, Query{From: 0, To: 59_999, Shrink: true, GroupDimensions: []string{"dc"}})
	require.NoError(t, err)
	require.Len(t, resp.Series, 1)
	assert.Equal(t, int64(120), resp.Series["dc=x"][0].Count)

	resp, err = a.Collect(ctx, Query{From: 0, To: 59_999, Shrink: true, GroupDimensions: []string{"rack"}})
	require.NoError(t, err)
	require.Len(t, resp.Series, 1)
	assert.Equal(t, int64(120), resp.Series[""][0].Count)
}

func TestCollectFiltersAttributesAndRange(t *testing.T) {
	a := seed(t, hostA, hostB)
	ctx := context.Background()

	resp, err := a.Collect(ctx, Query{
		From:       10_000,
		To:         19_000,
		Attributes: map[string]string{"host": "b"},
		Shrink:     true,
	})
	require.NoError(t, err)
	b := resp.Series[""][0]
	assert.Equal(t, int64(10), b.Count)
	assert.Equal(t, 10.0, b.Min)
	assert.Equal(t, 19.0, b.Max)

	resp, err = a.Collect(ctx, Query{
		From:   0,
		To:     59_998,
		Filter: filter.NewGte("sum", 50),
		Shrink: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20), resp.Series[""][0].Count)

	resp, err = a.Collect(ctx, Query{From: 0, To: 59_999, Attributes: map[string]string{"host": "c"}})
	require.NoError(t, err)
	assert.Empty(t, resp.Series)
	assert.Empty(t, resp.Groups)
}

func TestCollectRejectsInvertedRange(t *testing.T) {
	a := seed(t)
	_, err := a.Collect(context.Background(), Query{From: 10, To: 5})
	assert.ErrorIs(t, err, errors.ErrInvalidValue)
}

func TestNewAggregationPipelineValidates(t *testing.T) {
	_, err := NewAggregationPipeline(nil, 10)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	coll := bucketCollection(t, memory.NewFactory(), "b")
	_, err = NewAggregationPipeline(map[time.Duration]collection.Collection[*Bucket]{time.Second: coll}, 0)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}
