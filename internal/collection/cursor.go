package collection

import (
	"context"

	"github.com/xtxerr/strata/internal/filter"
)

// Cursor iterates lazily over the results of Find.
//
//	cur, err := c.Find(ctx, f, opts)
//	if err != nil { ... }
//	defer cur.Close(ctx)
//	for cur.Next(ctx) {
//	    use(cur.Value())
//	}
//	if err := cur.Err(); err != nil { ... }
type Cursor[T any] interface {
	// Next advances to the next element and reports whether there is one.
	Next(ctx context.Context) bool
	// Value returns the current element.
	Value() T
	// Err returns the error that stopped iteration, if any.
	Err() error
	Close(ctx context.Context) error
}

// All drains c into a slice and closes it.
func All[T any](ctx context.Context, c Cursor[T]) ([]T, error) {
	defer c.Close(ctx)
	var out []T
	for c.Next(ctx) {
		out = append(out, c.Value())
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FindAll runs Find and drains the cursor.
func FindAll[T any](ctx context.Context, c Collection[T], f filter.Filter, opts FindOptions) ([]T, error) {
	cur, err := c.Find(ctx, f, opts)
	if err != nil {
		return nil, err
	}
	return All(ctx, cur)
}

// SliceCursor iterates over an in-memory result.
type SliceCursor[T any] struct {
	items []T
	pos   int
	err   error
}

// NewSliceCursor returns a cursor over items.
func NewSliceCursor[T any](items []T) *SliceCursor[T] {
	return &SliceCursor[T]{items: items, pos: -1}
}

// Next implements Cursor.
func (c *SliceCursor[T]) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos+1 >= len(c.items) {
		c.pos = len(c.items)
		return false
	}
	c.pos++
	return true
}

// Value implements Cursor.
func (c *SliceCursor[T]) Value() T {
	var zero T
	if c.pos < 0 || c.pos >= len(c.items) {
		return zero
	}
	return c.items[c.pos]
}

// Err implements Cursor.
func (c *SliceCursor[T]) Err() error { return c.err }

// Close implements Cursor.
func (c *SliceCursor[T]) Close(context.Context) error {
	c.items = nil
	return nil
}

// mapCursor converts the elements of another cursor.
type mapCursor[S, T any] struct {
	src Cursor[S]
	fn  func(S) (T, error)
	cur T
	err error
}

// MapCursor returns a cursor yielding fn applied to each element of src.
// Iteration stops at the first conversion error.
func MapCursor[S, T any](src Cursor[S], fn func(S) (T, error)) Cursor[T] {
	return &mapCursor[S, T]{src: src, fn: fn}
}

func (c *mapCursor[S, T]) Next(ctx context.Context) bool {
	if c.err != nil || !c.src.Next(ctx) {
		return false
	}
	v, err := c.fn(c.src.Value())
	if err != nil {
		c.err = err
		return false
	}
	c.cur = v
	return true
}

func (c *mapCursor[S, T]) Value() T { return c.cur }

func (c *mapCursor[S, T]) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.src.Err()
}

func (c *mapCursor[S, T]) Close(ctx context.Context) error { return c.src.Close(ctx) }
