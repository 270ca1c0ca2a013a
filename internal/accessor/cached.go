package accessor

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/filter"
)

// CachedAccessor serves reads from an in-memory copy of the collection and
// mirrors every write to both the copy and the underlying accessor.
//
// Reads observe the writes made through the same CachedAccessor. Writes
// made through other accessors become visible after ReloadCache.
//
// The cache holds document forms; every read decodes a fresh entity, so
// callers may modify what they get.
type CachedAccessor[T document.Entity] struct {
	*Accessor[T]

	mu    sync.RWMutex
	cache map[document.ObjectID]*document.Document

	group singleflight.Group
}

// NewCached wraps a and loads the cache.
func NewCached[T document.Entity](ctx context.Context, a *Accessor[T]) (*CachedAccessor[T], error) {
	c := &CachedAccessor[T]{Accessor: a}
	if err := c.ReloadCache(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// ReloadCache replaces the cache with the current collection contents.
// Concurrent calls share one load.
func (c *CachedAccessor[T]) ReloadCache(ctx context.Context) error {
	_, err, _ := c.group.Do("reload", func() (any, error) {
		cur, err := c.Accessor.Stream(ctx)
		if err != nil {
			return nil, err
		}
		defer cur.Close(ctx)

		fresh := make(map[document.ObjectID]*document.Document)
		for cur.Next(ctx) {
			e := cur.Value()
			doc, err := document.Encode(e)
			if err != nil {
				return nil, err
			}
			fresh[e.GetID()] = doc
		}
		if err := cur.Err(); err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cache = fresh
		c.mu.Unlock()
		c.log.Debug("cache reloaded", "entries", len(fresh))
		return nil, nil
	})
	return err
}

// Len returns the number of cached entities.
func (c *CachedAccessor[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Get implements the Accessor method from the cache.
func (c *CachedAccessor[T]) Get(_ context.Context, id document.ObjectID) (T, error) {
	c.mu.RLock()
	doc, ok := c.cache[id]
	c.mu.RUnlock()
	if !ok {
		var zero T
		return zero, errors.NewNotFound(c.entityType, id.Hex())
	}
	return document.DecodeAs[T](doc)
}

// GetByString implements the Accessor method from the cache.
func (c *CachedAccessor[T]) GetByString(ctx context.Context, id string) (T, error) {
	oid, err := document.ParseObjectID(id)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.Get(ctx, oid)
}

// GetAll returns every cached entity in identity order.
func (c *CachedAccessor[T]) GetAll(ctx context.Context) ([]T, error) {
	return c.FindCached(ctx, nil)
}

// FindCached evaluates f against the cache and returns the matches in
// identity order.
func (c *CachedAccessor[T]) FindCached(_ context.Context, f filter.Filter) ([]T, error) {
	match, err := collection.CompilePredicate(f)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	docs := make([]*document.Document, 0, len(c.cache))
	for _, d := range c.cache {
		ok, err := match(d)
		if err != nil {
			c.mu.RUnlock()
			return nil, err
		}
		if ok {
			docs = append(docs, d)
		}
	}
	c.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		return document.CompareIDs(docs[i].GetID(), docs[j].GetID()) < 0
	})
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		e, err := document.DecodeAs[T](d)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// FindByCriteria implements the Accessor method from the cache.
func (c *CachedAccessor[T]) FindByCriteria(ctx context.Context, criteria map[string]any) (T, error) {
	var zero T
	f, err := CriteriaFilter(criteria)
	if err != nil {
		return zero, err
	}
	found, err := c.FindCached(ctx, f)
	if err != nil {
		return zero, err
	}
	if len(found) == 0 {
		return zero, errors.NewNotFound(c.entityType, "criteria")
	}
	return found[0], nil
}

// FindManyByCriteria implements the Accessor method from the cache.
func (c *CachedAccessor[T]) FindManyByCriteria(ctx context.Context, criteria map[string]any) ([]T, error) {
	f, err := CriteriaFilter(criteria)
	if err != nil {
		return nil, err
	}
	return c.FindCached(ctx, f)
}

// FindByAttributes implements the Accessor method from the cache.
func (c *CachedAccessor[T]) FindByAttributes(ctx context.Context, attrs map[string]string, namespace string) (T, error) {
	var zero T
	found, err := c.FindManyByAttributes(ctx, attrs, namespace)
	if err != nil {
		return zero, err
	}
	if len(found) == 0 {
		return zero, errors.NewNotFound(c.entityType, "attributes")
	}
	return found[0], nil
}

// FindManyByAttributes implements the Accessor method from the cache.
func (c *CachedAccessor[T]) FindManyByAttributes(ctx context.Context, attrs map[string]string, namespace string) ([]T, error) {
	f, err := AttributesFilter(namespace, attrs)
	if err != nil {
		return nil, err
	}
	return c.FindCached(ctx, f)
}

// Save writes through to the accessor, then updates the cache.
func (c *CachedAccessor[T]) Save(ctx context.Context, entity T) (T, error) {
	saved, err := c.Accessor.Save(ctx, entity)
	if err != nil {
		return saved, err
	}
	if err := c.put(saved); err != nil {
		return saved, err
	}
	return saved, nil
}

// SaveAll writes through to the accessor, then updates the cache.
func (c *CachedAccessor[T]) SaveAll(ctx context.Context, entities []T) error {
	if err := c.Accessor.SaveAll(ctx, entities); err != nil {
		return err
	}
	for _, e := range entities {
		if err := c.put(e); err != nil {
			return err
		}
	}
	return nil
}

func (c *CachedAccessor[T]) put(e T) error {
	doc, err := document.Encode(e)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.cache[e.GetID()] = doc
	c.mu.Unlock()
	return nil
}

// Remove deletes through the accessor, then from the cache.
func (c *CachedAccessor[T]) Remove(ctx context.Context, id document.ObjectID) error {
	if err := c.Accessor.Remove(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.cache, id)
	c.mu.Unlock()
	return nil
}

// RestoreVersion restores through the accessor, then updates the cache.
func (c *CachedAccessor[T]) RestoreVersion(ctx context.Context, entityID, versionID document.ObjectID) (T, error) {
	restored, err := c.Accessor.RestoreVersion(ctx, entityID, versionID)
	if err != nil {
		return restored, err
	}
	return restored, c.put(restored)
}
