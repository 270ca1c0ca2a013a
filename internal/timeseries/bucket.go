package timeseries

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/DataDog/sketches-go/ddsketch/pb/sketchpb"
	"google.golang.org/protobuf/proto"

	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
)

// Bucket is the aggregate of the values ingested for one attribute set over
// one time window. Buckets are immutable once built.
type Bucket struct {
	ID document.ObjectID `json:"id"`

	// Begin is the inclusive window start in epoch milliseconds. End is the
	// exclusive window end, 0 when unknown.
	Begin int64 `json:"begin"`
	End   int64 `json:"end,omitempty"`

	Attributes map[string]string `json:"attributes,omitempty"`

	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`

	// Min and Max are meaningful only when Count > 0.
	Min float64 `json:"min"`
	Max float64 `json:"max"`

	// Distribution maps a value bin, a multiple of PclPrecision, to the
	// number of values that fell into it.
	Distribution map[int64]int64 `json:"distribution,omitempty"`
	PclPrecision int64           `json:"pclPrecision"`

	// Sketch is a protobuf encoded DDSketch, present when the pipeline was
	// configured with a sketch accuracy.
	Sketch []byte `json:"sketch,omitempty"`
}

// GetID implements document.Entity.
func (b *Bucket) GetID() document.ObjectID { return b.ID }

// SetID implements document.Entity.
func (b *Bucket) SetID(id document.ObjectID) { b.ID = id }

// Mean returns Sum/Count, or 0 for an empty bucket.
func (b *Bucket) Mean() float64 {
	if b.Count == 0 {
		return 0
	}
	return b.Sum / float64(b.Count)
}

// Percentile estimates the p-th percentile (0..100) from the distribution.
// It returns the first bin at which the running count reaches
// ceil(p/100 * Count); the error is bounded by PclPrecision. An empty bucket
// yields 0.
func (b *Bucket) Percentile(p float64) int64 {
	if b.Count == 0 || len(b.Distribution) == 0 {
		return 0
	}
	target := int64(math.Ceil(p / 100 * float64(b.Count)))
	if target < 1 {
		target = 1
	}

	keys := make([]int64, 0, len(b.Distribution))
	for k := range b.Distribution {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var running int64
	for _, k := range keys {
		running += b.Distribution[k]
		if running >= target {
			return k
		}
	}
	return keys[len(keys)-1]
}

// Quantile returns the q-quantile (0..1) from the sketch, with the relative
// accuracy the sketch was built with.
func (b *Bucket) Quantile(q float64) (float64, error) {
	if len(b.Sketch) == 0 {
		return 0, fmt.Errorf("bucket has no sketch: %w", errors.ErrInvalidConfig)
	}
	sketch, err := decodeSketch(b.Sketch)
	if err != nil {
		return 0, err
	}
	return sketch.GetValueAtQuantile(q)
}

// bin maps v onto the lower edge of its distribution bin.
func bin(v float64, precision int64) int64 {
	return int64(math.Floor(v/float64(precision))) * precision
}

func encodeSketch(s *ddsketch.DDSketch) ([]byte, error) {
	data, err := proto.Marshal(s.ToProto())
	if err != nil {
		return nil, fmt.Errorf("encode sketch: %w", err)
	}
	return data, nil
}

func decodeSketch(data []byte) (*ddsketch.DDSketch, error) {
	var pb sketchpb.DDSketch
	if err := proto.Unmarshal(data, &pb); err != nil {
		return nil, fmt.Errorf("decode sketch: %w", err)
	}
	s, err := ddsketch.FromProto(&pb)
	if err != nil {
		return nil, fmt.Errorf("decode sketch: %w", err)
	}
	return s, nil
}

// BucketBuilder accumulates points and upstream buckets into one Bucket.
// It is safe for concurrent use.
type BucketBuilder struct {
	mu sync.Mutex

	begin, end   int64
	attributes   map[string]string
	pclPrecision int64

	count        int64
	sum          float64
	min          float64
	max          float64
	distribution map[int64]int64

	// sketch is nil unless a sketch accuracy was configured or one was
	// adopted from the first accumulated bucket.
	sketch *ddsketch.DDSketch
}

// NewBucketBuilder creates a builder for the window [begin, end) of attrs.
// A positive sketchAccuracy also maintains a DDSketch with that relative
// accuracy.
func NewBucketBuilder(begin, end int64, attrs map[string]string, pclPrecision int64, sketchAccuracy float64) (*BucketBuilder, error) {
	if pclPrecision <= 0 {
		return nil, fmt.Errorf("pcl precision %d: %w", pclPrecision, errors.ErrInvalidConfig)
	}
	b := &BucketBuilder{
		begin:        begin,
		end:          end,
		attributes:   attrs,
		pclPrecision: pclPrecision,
		min:          math.MaxFloat64,
		max:          -math.MaxFloat64,
		distribution: make(map[int64]int64),
	}
	if sketchAccuracy > 0 {
		s, err := ddsketch.NewDefaultDDSketch(sketchAccuracy)
		if err != nil {
			return nil, fmt.Errorf("sketch accuracy %v: %w", sketchAccuracy, errors.ErrInvalidConfig)
		}
		b.sketch = s
	}
	return b, nil
}

// Ingest adds one value.
func (b *BucketBuilder) Ingest(value float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.count++
	b.sum += value
	if value < b.min {
		b.min = value
	}
	if value > b.max {
		b.max = value
	}
	b.distribution[bin(value, b.pclPrecision)]++

	if b.sketch != nil {
		// Values outside the sketch's indexable range are only kept in the
		// distribution.
		_ = b.sketch.Add(value)
	}
}

// Accumulate merges a built bucket. Distribution bins of a bucket with a
// different precision are re-binned onto this builder's precision.
func (b *BucketBuilder) Accumulate(other *Bucket) error {
	if other == nil || other.Count == 0 {
		return nil
	}

	var incoming *ddsketch.DDSketch
	if len(other.Sketch) > 0 {
		s, err := decodeSketch(other.Sketch)
		if err != nil {
			return err
		}
		incoming = s
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// The sketch is merged first so that a mapping mismatch leaves the
	// builder untouched.
	switch {
	case incoming == nil:
	case b.sketch == nil:
		// A builder without a sketch of its own adopts the first one it
		// receives, so merged query results keep their quantiles.
		if b.count == 0 {
			b.sketch = incoming
		}
	default:
		if err := b.sketch.MergeWith(incoming); err != nil {
			return fmt.Errorf("merge sketch: %w", err)
		}
	}

	b.count += other.Count
	b.sum += other.Sum
	if other.Min < b.min {
		b.min = other.Min
	}
	if other.Max > b.max {
		b.max = other.Max
	}
	for k, n := range other.Distribution {
		if other.PclPrecision != b.pclPrecision {
			k = bin(float64(k), b.pclPrecision)
		}
		b.distribution[k] += n
	}
	return nil
}

// Count returns the number of values accumulated so far.
func (b *BucketBuilder) Count() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Build returns the accumulated state as a new Bucket. The builder stays
// usable.
func (b *BucketBuilder) Build() (*Bucket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := &Bucket{
		Begin:        b.begin,
		End:          b.end,
		Count:        b.count,
		Sum:          b.sum,
		PclPrecision: b.pclPrecision,
	}
	if len(b.attributes) > 0 {
		out.Attributes = make(map[string]string, len(b.attributes))
		for k, v := range b.attributes {
			out.Attributes[k] = v
		}
	}
	if b.count > 0 {
		out.Min = b.min
		out.Max = b.max
		out.Distribution = make(map[int64]int64, len(b.distribution))
		for k, n := range b.distribution {
			out.Distribution[k] = n
		}
	}
	if b.sketch != nil && !b.sketch.IsEmpty() {
		data, err := encodeSketch(b.sketch)
		if err != nil {
			return nil, err
		}
		out.Sketch = data
	}
	return out, nil
}
