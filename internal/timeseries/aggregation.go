package timeseries

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/filter"
	"github.com/xtxerr/strata/internal/logging"
)

// Query selects and shapes stored buckets.
type Query struct {
	// From and To bound bucket begins, inclusive, in epoch milliseconds.
	From, To int64

	// Attributes restricts to buckets carrying every key with its value.
	Attributes map[string]string

	// Filter is an optional further restriction over the bucket documents,
	// e.g. filter.NewGte("count", 10).
	Filter filter.Filter

	// GroupDimensions are the attribute keys output series are split by.
	// Empty yields a single series.
	GroupDimensions []string

	// At most one of Shrink, BucketCount and Resolution selects the output
	// interval, in that order of precedence. With none set the finest
	// stored resolution is used.
	Resolution  time.Duration
	BucketCount int
	Shrink      bool
}

// Response holds the series of a Query.
type Response struct {
	Start, End int64

	// Interval is the width of the output buckets.
	Interval time.Duration

	// Resolution is the stored resolution the buckets were read from.
	Resolution time.Duration

	// Series maps a group key to its buckets in ascending begin order.
	Series map[string][]*Bucket

	// Groups maps a group key to the dimension values it stands for.
	Groups map[string]map[string]string
}

// AggregationPipeline answers queries over the bucket collections of a
// rollup chain.
type AggregationPipeline struct {
	resolutions  []time.Duration
	collections  map[time.Duration]collection.Collection[*Bucket]
	pclPrecision int64
	log          *slog.Logger
}

// NewAggregationPipeline creates a pipeline over collections, keyed by
// their resolution. Merged buckets use pclPrecision.
func NewAggregationPipeline(collections map[time.Duration]collection.Collection[*Bucket], pclPrecision int64) (*AggregationPipeline, error) {
	if len(collections) == 0 {
		return nil, fmt.Errorf("no bucket collections: %w", errors.ErrInvalidConfig)
	}
	if pclPrecision <= 0 {
		return nil, fmt.Errorf("pcl precision %d: %w", pclPrecision, errors.ErrInvalidConfig)
	}
	resolutions := make([]time.Duration, 0, len(collections))
	for r := range collections {
		resolutions = append(resolutions, r)
	}
	sort.Slice(resolutions, func(i, j int) bool { return resolutions[i] < resolutions[j] })

	return &AggregationPipeline{
		resolutions:  resolutions,
		collections:  collections,
		pclPrecision: pclPrecision,
		log:          logging.Component("aggregation"),
	}, nil
}

// Resolutions returns the stored resolutions, ascending.
func (a *AggregationPipeline) Resolutions() []time.Duration {
	return append([]time.Duration(nil), a.resolutions...)
}

// storedResolution returns the coarsest stored resolution not exceeding
// target, or the finest one when all exceed it.
func (a *AggregationPipeline) storedResolution(target time.Duration) time.Duration {
	chosen := a.resolutions[0]
	for _, r := range a.resolutions {
		if r <= target {
			chosen = r
		}
	}
	return chosen
}

// plan resolves the stored resolution to read and the output interval.
func (a *AggregationPipeline) plan(q Query) (stored, interval time.Duration) {
	span := time.Duration(q.To-q.From) * time.Millisecond
	switch {
	case q.Shrink:
		interval = span + time.Millisecond
		stored = a.storedResolution(interval)
	case q.BucketCount > 0:
		interval = span / time.Duration(q.BucketCount)
		if interval < time.Millisecond {
			interval = time.Millisecond
		}
		stored = a.storedResolution(interval)
		if interval < stored {
			interval = stored
		}
	case q.Resolution > 0:
		stored = a.storedResolution(q.Resolution)
		interval = stored
	default:
		stored = a.resolutions[0]
		interval = stored
	}
	return stored, interval.Truncate(time.Millisecond)
}

// index maps a bucket begin onto its output window.
func (q Query) index(begin int64, interval time.Duration) int64 {
	if q.Shrink {
		return q.From
	}
	width := interval.Milliseconds()
	if q.BucketCount > 0 {
		return q.From + (begin-q.From)/width*width
	}
	r := begin % width
	if r < 0 {
		r += width
	}
	return begin - r
}

// filter returns the filter selecting the stored buckets of q.
func (q Query) filter() (filter.Filter, error) {
	children := []filter.Filter{
		filter.NewGte("begin", q.From),
		filter.NewLte("begin", q.To),
	}
	keys := make([]string, 0, len(q.Attributes))
	for k := range q.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		eq, err := filter.NewEquals("attributes."+k, q.Attributes[k])
		if err != nil {
			return nil, err
		}
		children = append(children, eq)
	}
	if q.Filter != nil {
		children = append(children, q.Filter)
	}
	return filter.NewAnd(children...), nil
}

// project restricts attrs to dims. Missing dimensions are left out.
func project(attrs map[string]string, dims []string) map[string]string {
	out := make(map[string]string, len(dims))
	for _, d := range dims {
		if v, ok := attrs[d]; ok {
			out[d] = v
		}
	}
	return out
}

// Collect reads the buckets matching q and merges them per group and
// output window.
func (a *AggregationPipeline) Collect(ctx context.Context, q Query) (*Response, error) {
	if q.To < q.From {
		return nil, fmt.Errorf("query range [%d, %d]: %w", q.From, q.To, errors.ErrInvalidValue)
	}
	stored, interval := a.plan(q)
	f, err := q.filter()
	if err != nil {
		return nil, err
	}

	coll := a.collections[stored]
	cur, err := coll.Find(ctx, f, collection.FindOptions{Order: collection.OrderBy("begin", collection.Ascending)})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	type window struct {
		group string
		index int64
	}
	builders := make(map[window]*BucketBuilder)
	groups := make(map[string]map[string]string)
	width := interval.Milliseconds()
	read := 0

	for cur.Next(ctx) {
		b := cur.Value()
		read++

		dims := project(b.Attributes, q.GroupDimensions)
		key := canonicalAttributes(dims)
		groups[key] = dims

		w := window{group: key, index: q.index(b.Begin, interval)}
		builder, ok := builders[w]
		if !ok {
			end := w.index + width
			if q.Shrink {
				end = q.To + 1
			}
			builder, err = NewBucketBuilder(w.index, end, dims, a.pclPrecision, 0)
			if err != nil {
				return nil, err
			}
			builders[w] = builder
		}
		if err := builder.Accumulate(b); err != nil {
			return nil, err
		}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	resp := &Response{
		Start:      q.From,
		End:        q.To,
		Interval:   interval,
		Resolution: stored,
		Series:     make(map[string][]*Bucket, len(groups)),
		Groups:     groups,
	}
	for w, builder := range builders {
		bucket, err := builder.Build()
		if err != nil {
			return nil, err
		}
		resp.Series[w.group] = append(resp.Series[w.group], bucket)
	}
	for _, series := range resp.Series {
		sort.Slice(series, func(i, j int) bool { return series[i].Begin < series[j].Begin })
	}

	a.log.Debug("collected", "stored", stored, "interval", interval, "read", read, "groups", len(groups))
	return resp, nil
}
