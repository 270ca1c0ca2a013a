package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/strata/internal/collection/memory"
	"github.com/xtxerr/strata/internal/timeseries"
)

type recorded struct {
	attrs map[string]string
	ts    int64
	value float64
}

type recorder struct{ points []recorded }

func (r *recorder) IngestPoint(attrs map[string]string, ts int64, value float64) error {
	r.points = append(r.points, recorded{attrs, ts, value})
	return nil
}

func TestIngestLines(t *testing.T) {
	in := `{"attributes": {"site": "fra1"}, "timestamp": 1000, "value": 1.5}

{"timestamp": 2000, "value": -3}
{"value": 7}
`
	before := time.Now().UnixMilli()
	var r recorder
	n, err := ingest(context.Background(), strings.NewReader(in), &r)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, r.points, 3)
	assert.Equal(t, recorded{map[string]string{"site": "fra1"}, 1000, 1.5}, r.points[0])
	assert.Equal(t, int64(2000), r.points[1].ts)
	assert.Nil(t, r.points[1].attrs)
	assert.GreaterOrEqual(t, r.points[2].ts, before)
}

func TestIngestRejectsBadLines(t *testing.T) {
	var r recorder
	n, err := ingest(context.Background(), strings.NewReader("{\"value\": 1}\nnot json\n"), &r)
	assert.Equal(t, 1, n)
	assert.ErrorContains(t, err, "line 2")

	_, err = ingest(context.Background(), strings.NewReader(`{"timestamp": 5}`), &r)
	assert.ErrorContains(t, err, "missing value")
}

func TestIngestStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := ingest(ctx, pr, &recorder{})
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("ingest did not stop")
	}
}

func TestIngestIntoTimeSeries(t *testing.T) {
	ctx := context.Background()
	ts, err := timeseries.Open(ctx, memory.NewFactory(), timeseries.Options{
		Collection:  "points",
		Resolutions: []time.Duration{time.Second, time.Minute},
		Pipeline:    timeseries.Config{PclPrecision: 10},
	})
	require.NoError(t, err)

	var in strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&in, `{"attributes": {"host": "a"}, "timestamp": %d, "value": 2}`+"\n", i*500)
	}
	n, err := ingest(ctx, strings.NewReader(in.String()), ts)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	require.NoError(t, ts.Close(ctx))

	resp, err := ts.Query(ctx, timeseries.Query{From: 0, To: 4_999, Shrink: true})
	require.NoError(t, err)
	require.Len(t, resp.Series[""], 1)
	assert.Equal(t, int64(10), resp.Series[""][0].Count)
	assert.Equal(t, 20.0, resp.Series[""][0].Sum)
}
