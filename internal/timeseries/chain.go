package timeseries

import (
	"context"
	"fmt"
	"time"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/errors"
)

// CollectionFunc returns the bucket collection of one resolution.
type CollectionFunc func(ctx context.Context, resolution time.Duration) (collection.Collection[*Bucket], error)

// ChainBuilder assembles a linear rollup chain of pipelines from the finest
// to the coarsest resolution.
type ChainBuilder struct {
	base        Config
	collections CollectionFunc
	resolutions []time.Duration
	listeners   []FlushListener
}

// NewChainBuilder creates a builder whose pipelines share base, except for
// the resolution, and persist into the collections returned by collections.
func NewChainBuilder(base Config, collections CollectionFunc) *ChainBuilder {
	return &ChainBuilder{base: base, collections: collections}
}

// Add registers a resolution.
func (b *ChainBuilder) Add(resolution time.Duration) *ChainBuilder {
	b.resolutions = append(b.resolutions, resolution)
	return b
}

// AddFlushListener registers l on every pipeline of the chain.
func (b *ChainBuilder) AddFlushListener(l FlushListener) *ChainBuilder {
	b.listeners = append(b.listeners, l)
	return b
}

// ValidateResolutions checks that resolutions is non-empty and strictly
// ascending with each entry an exact multiple of the previous one.
func ValidateResolutions(resolutions []time.Duration) error {
	if len(resolutions) == 0 {
		return fmt.Errorf("no resolutions: %w", errors.ErrInvalidResolution)
	}
	for i, r := range resolutions {
		if r < time.Millisecond || r%time.Millisecond != 0 {
			return fmt.Errorf("resolution %s is not a positive whole number of milliseconds: %w", r, errors.ErrInvalidResolution)
		}
		if i == 0 {
			continue
		}
		prev := resolutions[i-1]
		if r <= prev {
			return fmt.Errorf("resolution %s does not follow %s: %w", r, prev, errors.ErrInvalidResolution)
		}
		if r%prev != 0 {
			return fmt.Errorf("resolution %s is not a multiple of %s: %w", r, prev, errors.ErrInvalidResolution)
		}
	}
	return nil
}

// Build validates the resolutions and creates the chain. The pipelines'
// schedulers are started.
func (b *ChainBuilder) Build(ctx context.Context) (*Chain, error) {
	if err := ValidateResolutions(b.resolutions); err != nil {
		return nil, err
	}

	chain := &Chain{}
	for _, res := range b.resolutions {
		coll, err := b.collections(ctx, res)
		if err != nil {
			return nil, fmt.Errorf("bucket collection for %s: %w", res, err)
		}
		cfg := b.base
		cfg.Resolution = res
		p, err := NewIngestionPipeline(coll, cfg)
		if err != nil {
			return nil, err
		}
		for _, l := range b.listeners {
			p.AddFlushListener(l)
		}
		if n := len(chain.Pipelines); n > 0 {
			chain.Pipelines[n-1].SetNextPipeline(p)
		}
		chain.Pipelines = append(chain.Pipelines, p)
	}

	for _, p := range chain.Pipelines {
		if err := p.Start(); err != nil {
			_ = chain.Close(ctx)
			return nil, err
		}
	}
	return chain, nil
}

// Chain is a built rollup chain, finest resolution first.
type Chain struct {
	Pipelines []*IngestionPipeline
}

// Head returns the finest pipeline.
func (c *Chain) Head() *IngestionPipeline {
	return c.Pipelines[0]
}

// Pipeline returns the pipeline of resolution, or nil.
func (c *Chain) Pipeline(resolution time.Duration) *IngestionPipeline {
	for _, p := range c.Pipelines {
		if p.Resolution() == resolution {
			return p
		}
	}
	return nil
}

// Flush runs a non-forced flush on every pipeline, finest first.
func (c *Chain) Flush(ctx context.Context) error {
	var errs []error
	for _, p := range c.Pipelines {
		if err := p.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Resume loads the stored state of open windows into every pipeline.
func (c *Chain) Resume(ctx context.Context) error {
	for _, p := range c.Pipelines {
		if err := p.Resume(ctx); err != nil {
			return fmt.Errorf("resume %s: %w", p.Resolution(), err)
		}
	}
	return nil
}

// ForceFlush persists every open window of every pipeline, finest first.
// Once it returns without error, every point ingested before the call is
// persisted at every resolution.
func (c *Chain) ForceFlush(ctx context.Context) error {
	var errs []error
	for _, p := range c.Pipelines {
		if err := p.ForceFlush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes the pipelines finest first, so each final flush reaches the
// next pipeline before it closes.
func (c *Chain) Close(ctx context.Context) error {
	var errs []error
	for _, p := range c.Pipelines {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
