// Package timeseries aggregates numeric points into fixed-width buckets,
// rolls them up through a chain of coarser resolutions and answers
// aggregation queries over the stored buckets.
//
// Points enter the finest IngestionPipeline of a Chain. Once the window of
// a bucket has passed, the pipeline persists it to its collection and
// forwards it to the next pipeline, which merges it into its own, wider
// window:
//
//	points -> 1s pipeline -> buckets_1000
//	              |
//	              v
//	          1m pipeline -> buckets_60000
//	              |
//	              v
//	          1h pipeline -> buckets_3600000
//
// AggregationPipeline reads back the stored buckets and merges them into
// the grouping and interval a Query asks for.
package timeseries

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/logging"
	"github.com/xtxerr/strata/internal/timeseries/journal"
)

// CollectionName returns the name of the bucket collection of resolution.
func CollectionName(base string, resolution time.Duration) string {
	return base + "_" + strconv.FormatInt(resolution.Milliseconds(), 10)
}

// Options configures a TimeSeries.
type Options struct {
	// Collection is the base name of the bucket collections.
	Collection string

	// Resolutions of the rollup chain, finest first.
	Resolutions []time.Duration

	// Pipeline is the configuration shared by every pipeline. Its
	// Resolution is ignored.
	Pipeline Config

	// Listeners observe every flush of every resolution.
	Listeners []FlushListener

	// JournalDir, when set, journals every ingested point there. Points
	// journaled before a crash are replayed by the next Open.
	JournalDir string
	Journal    journal.Options

	// CheckpointPeriod is the interval of Checkpoint while journaling.
	// Zero checkpoints only on Open and Close.
	CheckpointPeriod time.Duration
}

// TimeSeries ties a rollup chain to the aggregation over its collections.
type TimeSeries struct {
	// mu is held shared by IngestPoint and exclusively by Checkpoint, so
	// the journal never holds a point the chain has not seen.
	mu sync.RWMutex

	chain       *Chain
	aggregation *AggregationPipeline
	collections map[time.Duration]collection.Collection[*Bucket]
	journal     *journal.Journal
	closed      bool
	log         *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open creates the bucket collections in f, indexes them and starts the
// chain.
func Open(ctx context.Context, f collection.Factory, opts Options) (*TimeSeries, error) {
	if err := ValidateResolutions(opts.Resolutions); err != nil {
		return nil, err
	}

	collections := make(map[time.Duration]collection.Collection[*Bucket], len(opts.Resolutions))
	for _, res := range opts.Resolutions {
		coll, err := collection.GetTyped[*Bucket](ctx, f, CollectionName(opts.Collection, res))
		if err != nil {
			return nil, err
		}
		err = coll.CreateOrUpdateIndex(ctx, collection.IndexField{
			FieldName:  "begin",
			Order:      collection.Ascending,
			FieldClass: collection.FieldNumber,
		})
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", coll.Name(), err)
		}
		collections[res] = coll
	}

	builder := NewChainBuilder(opts.Pipeline, func(_ context.Context, res time.Duration) (collection.Collection[*Bucket], error) {
		return collections[res], nil
	})
	for _, res := range opts.Resolutions {
		builder.Add(res)
	}
	for _, l := range opts.Listeners {
		builder.AddFlushListener(l)
	}
	chain, err := builder.Build(ctx)
	if err != nil {
		return nil, err
	}

	if err := chain.Resume(ctx); err != nil {
		_ = chain.Close(ctx)
		return nil, err
	}

	aggregation, err := NewAggregationPipeline(collections, opts.Pipeline.PclPrecision)
	if err != nil {
		_ = chain.Close(ctx)
		return nil, err
	}

	ts := &TimeSeries{
		chain:       chain,
		aggregation: aggregation,
		collections: collections,
		log:         logging.Component("timeseries"),
	}

	if opts.JournalDir != "" {
		if err := ts.openJournal(ctx, opts.JournalDir, opts.Journal); err != nil {
			_ = chain.Close(ctx)
			return nil, err
		}
		if opts.CheckpointPeriod > 0 {
			loopCtx, cancel := context.WithCancel(context.Background())
			ts.cancel = cancel
			ts.wg.Add(1)
			go ts.checkpointLoop(loopCtx, opts.CheckpointPeriod)
		}
	}

	ts.log.Info("time series opened", "collection", opts.Collection, "resolutions", opts.Resolutions,
		"journal", opts.JournalDir)
	return ts, nil
}

// openJournal replays the segments left in dir into the chain, persists
// them and starts a fresh journal. On error the old segments are kept.
func (ts *TimeSeries) openJournal(ctx context.Context, dir string, opts journal.Options) error {
	leftover, err := journal.Segments(dir)
	if err != nil {
		return fmt.Errorf("list journal: %w", err)
	}

	j, err := journal.Open(dir, opts)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	replayed := 0
	for _, seg := range leftover {
		points, damaged, err := journal.ReadSegment(seg.Path)
		if err != nil {
			ts.log.Warn("skipping unreadable journal segment", "segment", seg.Path, "error", err)
			continue
		}
		if damaged {
			ts.log.Warn("journal segment has a damaged tail", "segment", seg.Path, "points", len(points))
		}
		for _, p := range points {
			if err := ts.chain.Head().IngestPoint(p.Attributes, p.Timestamp, p.Value); err != nil {
				j.Close()
				return fmt.Errorf("replay journal: %w", err)
			}
		}
		replayed += len(points)
	}

	if len(leftover) > 0 {
		if err := ts.chain.ForceFlush(ctx); err != nil {
			j.Close()
			return fmt.Errorf("persist replayed points: %w", err)
		}
		if err := j.Checkpoint(); err != nil {
			j.Close()
			return fmt.Errorf("checkpoint journal: %w", err)
		}
		ts.log.Info("journal replayed", "segments", len(leftover), "points", replayed)
	}

	ts.journal = j
	return nil
}

func (ts *TimeSeries) checkpointLoop(ctx context.Context, period time.Duration) {
	defer ts.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ts.Checkpoint(ctx); err != nil && ctx.Err() == nil {
				ts.log.Error("checkpoint failed", "error", err)
			}
		}
	}
}

// Checkpoint blocks ingestion, persists every open window of every
// resolution and then drops the journaled points. A window persisted while
// still open keeps its stored bucket; later flushes of the window update
// it. If persisting fails the journal is kept.
func (ts *TimeSeries) Checkpoint(ctx context.Context) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if err := ts.chain.ForceFlush(ctx); err != nil {
		return err
	}
	if ts.journal == nil {
		return nil
	}
	return ts.journal.Checkpoint()
}

// Journal returns the point journal, or nil.
func (ts *TimeSeries) Journal() *journal.Journal { return ts.journal }

// Chain returns the rollup chain.
func (ts *TimeSeries) Chain() *Chain { return ts.chain }

// Aggregation returns the query side.
func (ts *TimeSeries) Aggregation() *AggregationPipeline { return ts.aggregation }

// Collection returns the bucket collection of resolution, or nil.
func (ts *TimeSeries) Collection(resolution time.Duration) collection.Collection[*Bucket] {
	return ts.collections[resolution]
}

// IngestPoint adds value at ts (epoch ms) at the finest resolution,
// journaling it first when a journal is configured.
func (ts *TimeSeries) IngestPoint(attrs map[string]string, timestamp int64, value float64) error {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	if ts.journal != nil {
		if err := ts.journal.Append(journal.Point{Attributes: attrs, Timestamp: timestamp, Value: value}); err != nil {
			return fmt.Errorf("journal point: %w", err)
		}
	}
	return ts.chain.Head().IngestPoint(attrs, timestamp, value)
}

// Query runs q against the stored buckets.
func (ts *TimeSeries) Query(ctx context.Context, q Query) (*Response, error) {
	return ts.aggregation.Collect(ctx, q)
}

// Flush runs a non-forced flush through the chain.
func (ts *TimeSeries) Flush(ctx context.Context) error {
	return ts.chain.Flush(ctx)
}

// Close drains the chain. Every ingested point is persisted at every
// resolution before Close returns without error; only then is the journal
// emptied.
func (ts *TimeSeries) Close(ctx context.Context) error {
	if ts.cancel != nil {
		ts.cancel()
		ts.wg.Wait()
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.closed {
		return nil
	}
	ts.closed = true

	err := ts.chain.Close(ctx)
	if ts.journal != nil {
		if err == nil {
			err = ts.journal.Checkpoint()
		}
		err = errors.Join(err, ts.journal.Close())
	}
	ts.log.Info("time series closed", "error", err)
	return err
}
