package timeseries

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/filter"
	"github.com/xtxerr/strata/internal/logging"
	"github.com/xtxerr/strata/internal/metrics"
)

// DefaultFlushOffset is the lag after a window's end before a non-forced
// flush persists it.
const DefaultFlushOffset = 10 * time.Second

const (
	// saveBatchSize is the number of buckets per SaveAll call.
	saveBatchSize = 256

	// saveParallelism bounds concurrent SaveAll calls of one flush.
	saveParallelism = 4
)

// Config configures an IngestionPipeline.
type Config struct {
	// Resolution is the window width. Required.
	Resolution time.Duration

	// FlushPeriod is the scheduler interval. Zero disables the scheduler.
	FlushPeriod time.Duration

	// FlushOffset delays non-forced flushes of a window past its end.
	// Negative means DefaultFlushOffset.
	FlushOffset time.Duration

	// PclPrecision is the distribution bin width. Required.
	PclPrecision int64

	// SketchAccuracy enables DDSketch quantiles when positive.
	SketchAccuracy float64

	// Metrics may be nil.
	Metrics *metrics.Metrics

	// Now defaults to time.Now.
	Now func() time.Time
}

// FlushListener observes the buckets of every successful flush.
type FlushListener interface {
	OnFlush(ctx context.Context, resolution time.Duration, buckets []*Bucket) error
}

// FlushListenerFunc adapts a function to FlushListener.
type FlushListenerFunc func(ctx context.Context, resolution time.Duration, buckets []*Bucket) error

// OnFlush calls f.
func (f FlushListenerFunc) OnFlush(ctx context.Context, resolution time.Duration, buckets []*Bucket) error {
	return f(ctx, resolution, buckets)
}

// IngestionPipeline aggregates points into buckets of one resolution and
// persists them once their window has passed.
//
// Ingestion runs under the read lock and may proceed concurrently; the
// per-window maps and the builders are individually safe for concurrent
// use. Flush takes the write lock for the remove-and-build step only.
type IngestionPipeline struct {
	mu sync.RWMutex

	// groups maps a window index (epoch ms) to a *sync.Map of attribute
	// hash to *series.
	groups sync.Map

	// flushMu serializes flushes. A flush that has returned has forwarded
	// everything it drained.
	flushMu sync.Mutex

	// stored holds the persisted state of windows flushed before they
	// closed. A later flush of such a window updates that bucket instead
	// of storing a second one. Guarded by flushMu.
	stored map[windowKey]*Bucket

	cfg        Config
	resolution int64
	offset     int64
	coll       collection.Collection[*Bucket]
	log        *slog.Logger
	metrics    metrics.Pipeline

	next      atomic.Pointer[IngestionPipeline]
	listeners []FlushListener

	// State
	running atomic.Bool
	closed  atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stats Stats
}

// Stats holds pipeline statistics.
type Stats struct {
	PointsIngested  atomic.Int64
	BucketsIngested atomic.Int64
	FlushesDone     atomic.Int64
	BucketsFlushed  atomic.Int64
	Errors          atomic.Int64
}

// windowKey identifies the bucket of one window and attribute set.
type windowKey struct {
	begin int64
	attrs string
}

func keyOf(b *Bucket) windowKey {
	return windowKey{begin: b.Begin, attrs: canonicalAttributes(b.Attributes)}
}

// series is the chain of builders sharing one attribute hash. It holds more
// than one builder only on a hash collision.
type series struct {
	mu       sync.Mutex
	builders []*BucketBuilder
}

// NewIngestionPipeline creates a pipeline persisting into coll. The
// scheduler is not running until Start.
func NewIngestionPipeline(coll collection.Collection[*Bucket], cfg Config) (*IngestionPipeline, error) {
	if cfg.Resolution < time.Millisecond {
		return nil, fmt.Errorf("resolution %s: %w", cfg.Resolution, errors.ErrInvalidResolution)
	}
	if cfg.PclPrecision <= 0 {
		return nil, fmt.Errorf("pcl precision %d: %w", cfg.PclPrecision, errors.ErrInvalidConfig)
	}
	if cfg.FlushOffset < 0 {
		cfg.FlushOffset = DefaultFlushOffset
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &IngestionPipeline{
		cfg:        cfg,
		resolution: cfg.Resolution.Milliseconds(),
		offset:     cfg.FlushOffset.Milliseconds(),
		coll:       coll,
		log:        logging.Component("ingestion").With("resolution", cfg.Resolution.String()),
		metrics:    cfg.Metrics.ForResolution(cfg.Resolution),
		stored:     make(map[windowKey]*Bucket),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Resolution returns the window width.
func (p *IngestionPipeline) Resolution() time.Duration {
	return p.cfg.Resolution
}

// Collection returns the collection buckets are persisted to.
func (p *IngestionPipeline) Collection() collection.Collection[*Bucket] {
	return p.coll
}

// SetNextPipeline forwards every flushed bucket into next.
func (p *IngestionPipeline) SetNextPipeline(next *IngestionPipeline) {
	p.next.Store(next)
}

// AddFlushListener registers l. It must be called before Start.
func (p *IngestionPipeline) AddFlushListener(l FlushListener) {
	p.listeners = append(p.listeners, l)
}

// Stats returns the live statistics.
func (p *IngestionPipeline) Stats() *Stats {
	return &p.stats
}

// Start starts the flush scheduler when a flush period is configured.
func (p *IngestionPipeline) Start() error {
	if p.closed.Load() {
		return errors.ErrClosed
	}
	if p.running.Swap(true) {
		return fmt.Errorf("pipeline %s already running", p.cfg.Resolution)
	}
	if p.cfg.FlushPeriod <= 0 {
		return nil
	}

	p.wg.Add(1)
	go p.flushWorker()
	return nil
}

// flushWorker periodically flushes eligible windows. Failures are logged
// and do not stop the scheduler.
func (p *IngestionPipeline) flushWorker() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.FlushPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.Flush(p.ctx); err != nil && p.ctx.Err() == nil {
				p.log.Error("scheduled flush failed", "error", err)
			}
		}
	}
}

// Close stops the scheduler and flushes every open window. It does not
// close the next pipeline.
func (p *IngestionPipeline) Close(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil
	}
	p.cancel()
	p.wg.Wait()
	p.running.Store(false)

	return p.flush(ctx, true)
}

// index rounds ts down to its window start.
func (p *IngestionPipeline) index(ts int64) int64 {
	r := ts % p.resolution
	if r < 0 {
		r += p.resolution
	}
	return ts - r
}

// IngestPoint adds value at ts (epoch ms) to the window of attrs.
func (p *IngestionPipeline) IngestPoint(attrs map[string]string, ts int64, value float64) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return errors.ErrClosed
	}
	b, err := p.builder(p.index(ts), attrs)
	if err != nil {
		return err
	}
	b.Ingest(value)

	p.stats.PointsIngested.Add(1)
	p.metrics.Ingested()
	return nil
}

// IngestBucket merges an upstream bucket into the window containing its
// begin.
func (p *IngestionPipeline) IngestBucket(bucket *Bucket) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return errors.ErrClosed
	}
	b, err := p.builder(p.index(bucket.Begin), bucket.Attributes)
	if err != nil {
		return err
	}
	if err := b.Accumulate(bucket); err != nil {
		return err
	}

	p.stats.BucketsIngested.Add(1)
	p.metrics.Ingested()
	return nil
}

// builder returns the builder of (index, attrs), creating it if absent.
// The caller holds the read lock.
func (p *IngestionPipeline) builder(index int64, attrs map[string]string) (*BucketBuilder, error) {
	v, ok := p.groups.Load(index)
	if !ok {
		v, _ = p.groups.LoadOrStore(index, &sync.Map{})
	}
	group := v.(*sync.Map)

	key := attributesKey(attrs)
	v, ok = group.Load(key)
	if !ok {
		v, _ = group.LoadOrStore(key, &series{})
	}
	s := v.(*series)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.builders {
		if sameAttributes(b.attributes, attrs) {
			return b, nil
		}
	}
	b, err := NewBucketBuilder(index, index+p.resolution, copyAttributes(attrs), p.cfg.PclPrecision, p.cfg.SketchAccuracy)
	if err != nil {
		return nil, err
	}
	s.builders = append(s.builders, b)
	return b, nil
}

// Resume loads the stored buckets of windows that are still open, so that
// flushes after a restart update them instead of storing a second bucket
// per window.
func (p *IngestionPipeline) Resume(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	since := p.cfg.Now().UnixMilli() - p.offset - p.resolution
	open, err := collection.FindAll(ctx, p.coll, filter.NewGte("begin", since), collection.FindOptions{})
	if err != nil {
		return fmt.Errorf("load open windows: %w", err)
	}
	for _, b := range open {
		p.stored[keyOf(b)] = b
	}
	if len(open) > 0 {
		p.log.Debug("resumed open windows", "buckets", len(open))
	}
	return nil
}

// Flush persists the windows whose end lies more than the flush offset in
// the past.
func (p *IngestionPipeline) Flush(ctx context.Context) error {
	return p.flush(ctx, false)
}

// ForceFlush persists every open window.
func (p *IngestionPipeline) ForceFlush(ctx context.Context) error {
	return p.flush(ctx, true)
}

func (p *IngestionPipeline) flush(ctx context.Context, force bool) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	start := time.Now()

	buckets, pending, cutoff, err := p.drain(force)
	p.metrics.Pending(pending)
	if err != nil {
		p.metrics.FlushFailed()
		p.stats.Errors.Add(1)
		return err
	}
	defer p.forget(cutoff)
	if len(buckets) == 0 {
		return nil
	}

	stored, err := p.fold(buckets)
	if err != nil {
		p.metrics.FlushFailed()
		p.stats.Errors.Add(1)
		return err
	}
	if err := p.persist(ctx, stored); err != nil {
		p.metrics.FlushFailed()
		p.stats.Errors.Add(1)
		p.log.Error("flush failed", "buckets", len(buckets), "error", err)
		return err
	}
	for _, b := range stored {
		p.stored[keyOf(b)] = b
	}

	// The next pipeline and the listeners see what this flush added to each
	// window, so a window flushed in several steps is counted once.
	var forwardErr error
	if next := p.next.Load(); next != nil {
		var errs []error
		for _, b := range buckets {
			if err := next.IngestBucket(b); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			p.metrics.FlushFailed()
			p.stats.Errors.Add(1)
			forwardErr = fmt.Errorf("forward %d of %d buckets to %s: %w",
				len(errs), len(buckets), next.Resolution(), errors.Join(errs...))
		}
	}

	for _, l := range p.listeners {
		if err := l.OnFlush(ctx, p.cfg.Resolution, buckets); err != nil {
			// Listener failures do not undo a persisted flush.
			p.stats.Errors.Add(1)
			p.log.Warn("flush listener failed", "error", err)
		}
	}

	took := time.Since(start)
	p.stats.FlushesDone.Add(1)
	p.stats.BucketsFlushed.Add(int64(len(buckets)))
	p.metrics.Flushed(len(buckets), took)
	p.log.Debug("flushed", "buckets", len(buckets), "forced", force, "took", took)
	return forwardErr
}

// fold merges each drained bucket into the stored bucket of its window, if
// there is one, and returns the buckets to save. Every returned bucket has
// an identity.
func (p *IngestionPipeline) fold(buckets []*Bucket) ([]*Bucket, error) {
	out := make([]*Bucket, len(buckets))
	for i, b := range buckets {
		prev, ok := p.stored[keyOf(b)]
		if !ok {
			if b.ID.IsZero() {
				b.ID = document.NewObjectID()
			}
			out[i] = b
			continue
		}
		bb, err := NewBucketBuilder(prev.Begin, prev.End, prev.Attributes, p.cfg.PclPrecision, p.cfg.SketchAccuracy)
		if err != nil {
			return nil, err
		}
		if err := bb.Accumulate(prev); err != nil {
			return nil, err
		}
		if err := bb.Accumulate(b); err != nil {
			return nil, err
		}
		merged, err := bb.Build()
		if err != nil {
			return nil, err
		}
		merged.ID = prev.ID
		out[i] = merged
	}
	return out, nil
}

// forget drops the stored state of windows that closed before cutoff.
func (p *IngestionPipeline) forget(cutoff int64) {
	for k := range p.stored {
		if k.begin+p.resolution < cutoff {
			delete(p.stored, k)
		}
	}
}

// drain removes the eligible windows and builds their buckets under the
// write lock. It returns the buckets ordered by begin then attributes, the
// number of windows left open and the cutoff that decided eligibility.
func (p *IngestionPipeline) drain(force bool) ([]*Bucket, int, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.cfg.Now().UnixMilli() - p.offset

	var (
		buckets  []*Bucket
		pending  int
		buildErr error
	)
	p.groups.Range(func(k, v any) bool {
		index := k.(int64)
		if !force && index+p.resolution >= cutoff {
			pending++
			return true
		}
		p.groups.Delete(index)

		v.(*sync.Map).Range(func(_, sv any) bool {
			for _, b := range sv.(*series).builders {
				bucket, err := b.Build()
				if err != nil {
					buildErr = err
					return false
				}
				buckets = append(buckets, bucket)
			}
			return true
		})
		return buildErr == nil
	})
	if buildErr != nil {
		return nil, pending, cutoff, buildErr
	}

	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Begin != buckets[j].Begin {
			return buckets[i].Begin < buckets[j].Begin
		}
		return canonicalAttributes(buckets[i].Attributes) < canonicalAttributes(buckets[j].Attributes)
	})
	return buckets, pending, cutoff, nil
}

// persist saves buckets in parallel batches.
func (p *IngestionPipeline) persist(ctx context.Context, buckets []*Bucket) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(saveParallelism)

	for start := 0; start < len(buckets); start += saveBatchSize {
		end := min(start+saveBatchSize, len(buckets))
		batch := buckets[start:end]
		g.Go(func() error {
			return p.coll.SaveAll(gctx, batch)
		})
	}
	return g.Wait()
}

// attributesKey hashes the sorted key=value pairs of attrs.
func attributesKey(attrs map[string]string) uint64 {
	return xxhash.Sum64String(canonicalAttributes(attrs))
}

// canonicalAttributes renders attrs as sorted key=value pairs separated by
// commas.
func canonicalAttributes(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(attrs[k])
	}
	return sb.String()
}

func sameAttributes(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func copyAttributes(attrs map[string]string) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
