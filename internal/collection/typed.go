package collection

import (
	"context"

	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/filter"
)

// Typed adapts a document collection to an entity type. Entities are
// converted through their JSON encoding; identities are assigned before the
// document is written so the caller's value carries it afterwards.
type Typed[T document.Entity] struct {
	docs DocumentCollection
}

var _ Collection[*document.AbstractEntity] = (*Typed[*document.AbstractEntity])(nil)

// NewTyped wraps docs.
func NewTyped[T document.Entity](docs DocumentCollection) *Typed[T] {
	return &Typed[T]{docs: docs}
}

// GetTyped fetches the named collection from f and wraps it.
func GetTyped[T document.Entity](ctx context.Context, f Factory, name string) (*Typed[T], error) {
	docs, err := f.GetCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	return NewTyped[T](docs), nil
}

// Documents returns the underlying document collection.
func (c *Typed[T]) Documents() DocumentCollection { return c.docs }

// Name implements Collection.
func (c *Typed[T]) Name() string { return c.docs.Name() }

// Find implements Collection.
func (c *Typed[T]) Find(ctx context.Context, f filter.Filter, opts FindOptions) (Cursor[T], error) {
	cur, err := c.docs.Find(ctx, f, opts)
	if err != nil {
		return nil, err
	}
	return MapCursor(cur, document.DecodeAs[T]), nil
}

// Count implements Collection.
func (c *Typed[T]) Count(ctx context.Context, f filter.Filter, limit int64) (int64, error) {
	return c.docs.Count(ctx, f, limit)
}

// EstimatedCount implements Collection.
func (c *Typed[T]) EstimatedCount(ctx context.Context) (int64, error) {
	return c.docs.EstimatedCount(ctx)
}

// Distinct implements Collection.
func (c *Typed[T]) Distinct(ctx context.Context, field string, f filter.Filter) ([]string, error) {
	return c.docs.Distinct(ctx, field, f)
}

// Save implements Collection.
func (c *Typed[T]) Save(ctx context.Context, entity T) (T, error) {
	doc, err := c.encode(entity)
	if err != nil {
		return entity, err
	}
	if _, err := c.docs.Save(ctx, doc); err != nil {
		return entity, err
	}
	return entity, nil
}

// SaveAll implements Collection.
func (c *Typed[T]) SaveAll(ctx context.Context, entities []T) error {
	docs := make([]*document.Document, 0, len(entities))
	for _, e := range entities {
		doc, err := c.encode(e)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	return c.docs.SaveAll(ctx, docs)
}

func (c *Typed[T]) encode(entity T) (*document.Document, error) {
	if entity.GetID().IsZero() {
		entity.SetID(document.NewObjectID())
	}
	return document.Encode(entity)
}

// Remove implements Collection.
func (c *Typed[T]) Remove(ctx context.Context, f filter.Filter) error {
	return c.docs.Remove(ctx, f)
}

// CreateOrUpdateIndex implements Collection.
func (c *Typed[T]) CreateOrUpdateIndex(ctx context.Context, field IndexField) error {
	return c.docs.CreateOrUpdateIndex(ctx, field)
}

// CreateOrUpdateCompoundIndex implements Collection.
func (c *Typed[T]) CreateOrUpdateCompoundIndex(ctx context.Context, fields ...IndexField) error {
	return c.docs.CreateOrUpdateCompoundIndex(ctx, fields...)
}

// DropIndex implements Collection.
func (c *Typed[T]) DropIndex(ctx context.Context, name string) error {
	return c.docs.DropIndex(ctx, name)
}

// Rename implements Collection.
func (c *Typed[T]) Rename(ctx context.Context, newName string) error {
	return c.docs.Rename(ctx, newName)
}

// Drop implements Collection.
func (c *Typed[T]) Drop(ctx context.Context) error {
	return c.docs.Drop(ctx)
}
