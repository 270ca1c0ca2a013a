// Package filesystem implements a collection backend storing one JSON file
// per document under <root>/<collection>/<id>.json.
//
// Every query scans the collection directory, so the backend suits small
// configuration-style collections rather than bulk data.
package filesystem

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/filter"
	"github.com/xtxerr/strata/internal/logging"
)

// BackendName identifies this backend in configuration.
const BackendName = "filesystem"

const ext = ".json"

// Factory opens collections below a root directory.
type Factory struct {
	root string
	log  *slog.Logger

	mu          sync.Mutex
	collections map[string]*Collection
}

var _ collection.Factory = (*Factory)(nil)

// NewFactory creates root if needed.
func NewFactory(root string) (*Factory, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create root %s: %w", root, err)
	}
	return &Factory{
		root:        root,
		log:         logging.Component("filesystem"),
		collections: make(map[string]*Collection),
	}, nil
}

// Backend implements collection.Factory.
func (f *Factory) Backend() string { return BackendName }

// Root returns the root directory.
func (f *Factory) Root() string { return f.root }

// GetCollection implements collection.Factory.
func (f *Factory) GetCollection(_ context.Context, name string) (collection.DocumentCollection, error) {
	return f.Collection(name)
}

// Collection returns the named collection, creating its directory.
func (f *Factory) Collection(name string) (*Collection, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.collections[name]; ok {
		return c, nil
	}
	c := &Collection{factory: f, name: name}
	if err := os.MkdirAll(c.dir(), 0755); err != nil {
		return nil, errors.NewCollectionError(name, "create", err)
	}
	f.collections[name] = c
	return c, nil
}

// Close implements collection.Factory.
func (f *Factory) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections = make(map[string]*Collection)
	return nil
}

func (f *Factory) rename(c *Collection, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := filepath.Join(f.root, newName)
	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("target %q already exists", newName)
	}
	if err := os.Rename(c.dir(), target); err != nil {
		return err
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

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("collection name %q: %w", name, errors.ErrInvalidValue)
	}
	return nil
}

// Collection is a directory of JSON documents.
type Collection struct {
	factory *Factory

	mu   sync.RWMutex
	name string
}

var _ collection.DocumentCollection = (*Collection)(nil)

// Name implements collection.Collection.
func (c *Collection) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *Collection) dir() string {
	return filepath.Join(c.factory.root, c.name)
}

func (c *Collection) path(id document.ObjectID) string {
	return filepath.Join(c.dir(), id.Hex()+ext)
}

// load reads every document. The caller holds c.mu.
func (c *Collection) load() ([]*document.Document, error) {
	entries, err := os.ReadDir(c.dir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewCollectionError(c.name, "scan", err)
	}

	docs := make([]*document.Document, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir(), e.Name()))
		if err != nil {
			return nil, errors.NewCollectionError(c.name, "read", err)
		}
		doc, err := document.Parse(data)
		if err != nil {
			return nil, errors.NewCollectionError(c.name, "decode "+e.Name(), err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// write stores doc atomically. The caller holds c.mu for writing.
func (c *Collection) write(doc *document.Document) error {
	id := collection.EnsureID(doc)
	data, err := doc.MarshalJSON()
	if err != nil {
		return errors.NewCollectionError(c.name, "encode", err)
	}

	tmp, err := os.CreateTemp(c.dir(), ".tmp-*")
	if err != nil {
		return errors.NewCollectionError(c.name, "write", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.NewCollectionError(c.name, "write", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.NewCollectionError(c.name, "write", err)
	}
	if err := os.Rename(tmp.Name(), c.path(id)); err != nil {
		os.Remove(tmp.Name())
		return errors.NewCollectionError(c.name, "write", err)
	}
	return nil
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

	c.mu.RLock()
	docs, err := c.load()
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	matched, err := q.Apply(docs)
	if err != nil {
		return nil, err
	}
	return collection.NewSliceCursor(matched), nil
}

// Count implements collection.Collection.
func (c *Collection) Count(ctx context.Context, f filter.Filter, limit int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.RLock()
	docs, err := c.load()
	c.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	return collection.Count(docs, collection.OrEmpty(f), limit)
}

// EstimatedCount implements collection.Collection by counting files.
func (c *Collection) EstimatedCount(context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries, err := os.ReadDir(c.dir())
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.NewCollectionError(c.name, "scan", err)
	}
	var n int64
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ext) {
			n++
		}
	}
	return n, nil
}

// Distinct implements collection.Collection.
func (c *Collection) Distinct(ctx context.Context, field string, f filter.Filter) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	docs, err := c.load()
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return collection.Distinct(docs, field, collection.OrEmpty(f))
}

// Save implements collection.Collection.
func (c *Collection) Save(ctx context.Context, doc *document.Document) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureDir(); err != nil {
		return nil, err
	}
	if err := c.write(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// SaveAll implements collection.Collection.
func (c *Collection) SaveAll(ctx context.Context, docs []*document.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureDir(); err != nil {
		return err
	}
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.write(d); err != nil {
			return err
		}
	}
	return nil
}

// ensureDir recreates the directory after Drop. The caller holds c.mu.
func (c *Collection) ensureDir() error {
	if err := os.MkdirAll(c.dir(), 0755); err != nil {
		return errors.NewCollectionError(c.name, "create", err)
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

	docs, err := c.load()
	if err != nil {
		return err
	}
	removed := 0
	for _, d := range docs {
		ok, err := match(d)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		id := d.GetID()
		if id.IsZero() {
			continue
		}
		if err := os.Remove(c.path(id)); err != nil && !os.IsNotExist(err) {
			return errors.NewCollectionError(c.name, "remove", err)
		}
		removed++
	}
	c.factory.log.Debug("documents removed", "collection", c.name, "count", removed)
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

// Rename implements collection.Collection by renaming the directory.
func (c *Collection) Rename(_ context.Context, newName string) error {
	if err := checkName(newName); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.factory.rename(c, newName); err != nil {
		return errors.NewCollectionError(c.name, "rename", err)
	}
	c.name = newName
	return nil
}

// Drop implements collection.Collection by deleting the directory.
func (c *Collection) Drop(context.Context) error {
	c.mu.Lock()
	name := c.name
	err := os.RemoveAll(c.dir())
	c.mu.Unlock()
	if err != nil {
		return errors.NewCollectionError(name, "drop", err)
	}
	c.factory.forget(c, name)
	return nil
}
