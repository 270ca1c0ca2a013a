// Package memory implements an in-process collection backend. Documents are
// cloned on the way in and out, so callers never share state with the store.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/filter"
	"github.com/xtxerr/strata/internal/logging"
)

// BackendName identifies this backend in configuration.
const BackendName = "memory"

// Factory owns the in-memory collections of one process.
type Factory struct {
	mu          sync.Mutex
	collections map[string]*Collection
	log         *slog.Logger
}

var _ collection.Factory = (*Factory)(nil)

// NewFactory returns an empty factory.
func NewFactory() *Factory {
	return &Factory{
		collections: make(map[string]*Collection),
		log:         logging.Component("memory"),
	}
}

// Backend implements collection.Factory.
func (f *Factory) Backend() string { return BackendName }

// GetCollection implements collection.Factory.
func (f *Factory) GetCollection(_ context.Context, name string) (collection.DocumentCollection, error) {
	return f.Collection(name), nil
}

// Collection returns the named collection, creating it on first use.
func (f *Factory) Collection(name string) *Collection {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.collections[name]; ok {
		return c
	}
	c := &Collection{
		factory: f,
		name:    name,
		docs:    make(map[document.ObjectID]*document.Document),
	}
	f.collections[name] = c
	f.log.Debug("collection created", "collection", name)
	return c
}

// Close implements collection.Factory. Contents are discarded.
func (f *Factory) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections = make(map[string]*Collection)
	return nil
}

// rename moves c to newName. The caller holds c.mu.
func (f *Factory) rename(c *Collection, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.collections[newName]; exists {
		return fmt.Errorf("target %q already exists", newName)
	}
	delete(f.collections, c.name)
	f.collections[newName] = c
	return nil
}

func (f *Factory) forget(c *Collection, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collections[name] == c {
		delete(f.collections, name)
	}
}

// Collection is a map of documents keyed by identity.
type Collection struct {
	factory *Factory

	mu   sync.RWMutex
	name string
	docs map[document.ObjectID]*document.Document
}

var _ collection.DocumentCollection = (*Collection)(nil)

// Name implements collection.Collection.
func (c *Collection) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// snapshot returns the stored documents without cloning. Callers must not
// mutate them.
func (c *Collection) snapshot() []*document.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*document.Document, 0, len(c.docs))
	for _, d := range c.docs {
		out = append(out, d)
	}
	return out
}

// Find implements collection.Collection. MaxTime is ignored.
func (c *Collection) Find(ctx context.Context, f filter.Filter, opts collection.FindOptions) (collection.Cursor[*document.Document], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, err := collection.NewQuery(collection.OrEmpty(f), opts)
	if err != nil {
		return nil, err
	}
	matched, err := q.Apply(c.snapshot())
	if err != nil {
		return nil, err
	}
	out := make([]*document.Document, len(matched))
	for i, d := range matched {
		out[i] = d.Clone()
	}
	return collection.NewSliceCursor(out), nil
}

// Count implements collection.Collection.
func (c *Collection) Count(ctx context.Context, f filter.Filter, limit int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return collection.Count(c.snapshot(), collection.OrEmpty(f), limit)
}

// EstimatedCount implements collection.Collection.
func (c *Collection) EstimatedCount(context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.docs)), nil
}

// Distinct implements collection.Collection.
func (c *Collection) Distinct(ctx context.Context, field string, f filter.Filter) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return collection.Distinct(c.snapshot(), field, collection.OrEmpty(f))
}

// Save implements collection.Collection.
func (c *Collection) Save(ctx context.Context, doc *document.Document) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := collection.EnsureID(doc)
	stored := doc.Clone()

	c.mu.Lock()
	c.docs[id] = stored
	c.mu.Unlock()
	return doc, nil
}

// SaveAll implements collection.Collection.
func (c *Collection) SaveAll(ctx context.Context, docs []*document.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range docs {
		id := collection.EnsureID(d)
		c.docs[id] = d.Clone()
	}
	return nil
}

// Remove implements collection.Collection.
func (c *Collection) Remove(ctx context.Context, f filter.Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	match, err := collection.CompilePredicate(collection.OrEmpty(f))
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, d := range c.docs {
		ok, err := match(d)
		if err != nil {
			return err
		}
		if ok {
			delete(c.docs, id)
		}
	}
	return nil
}

// CreateOrUpdateIndex is a no-op.
func (c *Collection) CreateOrUpdateIndex(context.Context, collection.IndexField) error { return nil }

// CreateOrUpdateCompoundIndex is a no-op.
func (c *Collection) CreateOrUpdateCompoundIndex(context.Context, ...collection.IndexField) error {
	return nil
}

// DropIndex is a no-op.
func (c *Collection) DropIndex(context.Context, string) error { return nil }

// Rename implements collection.Collection.
func (c *Collection) Rename(_ context.Context, newName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.factory.rename(c, newName); err != nil {
		return errors.NewCollectionError(c.name, "rename", err)
	}
	c.name = newName
	return nil
}

// Drop implements collection.Collection.
func (c *Collection) Drop(context.Context) error {
	c.mu.Lock()
	c.docs = make(map[document.ObjectID]*document.Document)
	name := c.name
	c.mu.Unlock()
	c.factory.forget(c, name)
	return nil
}
