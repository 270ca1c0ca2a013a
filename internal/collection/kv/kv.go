// Package kv implements a collection backend on BadgerDB, an embedded LSM
// key-value store. Documents are stored as JSON under "<collection>/<id>".
package kv

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/filter"
	"github.com/xtxerr/strata/internal/logging"
)

// BackendName identifies this backend in configuration.
const BackendName = "kv"

const sep = '/'

// ctxCheckInterval is how many keys are visited between context checks.
const ctxCheckInterval = 1000

// Config holds BadgerDB configuration.
type Config struct {
	// Path to store database files.
	Path string

	// InMemory mode (for testing).
	InMemory bool

	// MaxMemoryMB limits the memtable and caches (0 = 48 MB total).
	MaxMemoryMB int64
}

// Factory owns one badger database shared by all collections.
type Factory struct {
	db  *badger.DB
	log *slog.Logger

	// renameMu serialises renames so two collections cannot race onto the
	// same prefix.
	renameMu sync.Mutex
}

var _ collection.Factory = (*Factory)(nil)

// Open opens the database.
func Open(cfg Config) (*Factory, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	memTableSize := int64(16 << 20)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB << 20 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w: %v", errors.ErrConnectionFailed, err)
	}
	return &Factory{db: db, log: logging.Component("kv")}, nil
}

// Backend implements collection.Factory.
func (f *Factory) Backend() string { return BackendName }

// GetCollection implements collection.Factory.
func (f *Factory) GetCollection(_ context.Context, name string) (collection.DocumentCollection, error) {
	return f.Collection(name)
}

// Collection returns a handle on the named collection. Handles are cheap;
// all state lives in the database.
func (f *Factory) Collection(name string) (*Collection, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	return &Collection{factory: f, name: name}, nil
}

// Close implements collection.Factory.
func (f *Factory) Close(context.Context) error {
	return f.db.Close()
}

// RunGC reclaims value log space. It returns nil when there was nothing to
// collect.
func (f *Factory) RunGC(discardRatio float64) error {
	err := f.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

func checkName(name string) error {
	if name == "" || strings.ContainsRune(name, sep) {
		return fmt.Errorf("collection name %q: %w", name, errors.ErrInvalidValue)
	}
	return nil
}

func prefixOf(name string) []byte {
	return append([]byte(name), sep)
}

func keyOf(name string, id document.ObjectID) []byte {
	return append(prefixOf(name), id.Hex()...)
}

// Collection is a key prefix in the shared database.
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

// scan calls fn with every key and, when values is set, decoded document
// under the collection prefix.
func (c *Collection) scan(ctx context.Context, values bool, fn func(key []byte, doc *document.Document) error) error {
	prefix := prefixOf(c.Name())
	return c.factory.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = values
		it := txn.NewIterator(opts)
		defer it.Close()

		n := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
			if n%ctxCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			item := it.Item()
			if !values {
				if err := fn(item.Key(), nil); err != nil {
					return err
				}
				continue
			}
			var doc *document.Document
			err := item.Value(func(val []byte) error {
				var err error
				doc, err = document.Parse(val)
				return err
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			if err := fn(item.KeyCopy(nil), doc); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Collection) loadAll(ctx context.Context) ([]*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var docs []*document.Document
	err := c.scan(ctx, true, func(_ []byte, doc *document.Document) error {
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, c.wrap("scan", err)
	}
	return docs, nil
}

func (c *Collection) wrap(op string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.NewCollectionError(c.Name(), op, err)
}

// Find implements collection.Collection. MaxTime is ignored.
func (c *Collection) Find(ctx context.Context, f filter.Filter, opts collection.FindOptions) (collection.Cursor[*document.Document], error) {
	q, err := collection.NewQuery(collection.OrEmpty(f), opts)
	if err != nil {
		return nil, err
	}
	docs, err := c.loadAll(ctx)
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
	docs, err := c.loadAll(ctx)
	if err != nil {
		return 0, err
	}
	return collection.Count(docs, collection.OrEmpty(f), limit)
}

// EstimatedCount implements collection.Collection with a key-only scan.
func (c *Collection) EstimatedCount(ctx context.Context) (int64, error) {
	var n int64
	err := c.scan(ctx, false, func([]byte, *document.Document) error {
		n++
		return nil
	})
	return n, c.wrap("count", err)
}

// Distinct implements collection.Collection.
func (c *Collection) Distinct(ctx context.Context, field string, f filter.Filter) ([]string, error) {
	docs, err := c.loadAll(ctx)
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
	id := collection.EnsureID(doc)
	data, err := doc.MarshalJSON()
	if err != nil {
		return nil, c.wrap("encode", err)
	}
	err = c.factory.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyOf(c.Name(), id), data)
	})
	if err != nil {
		return nil, c.wrap("save", err)
	}
	return doc, nil
}

// SaveAll implements collection.Collection with a write batch, which splits
// into as many transactions as badger needs.
func (c *Collection) SaveAll(ctx context.Context, docs []*document.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := c.Name()
	wb := c.factory.db.NewWriteBatch()
	defer wb.Cancel()

	for i, d := range docs {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		id := collection.EnsureID(d)
		data, err := d.MarshalJSON()
		if err != nil {
			return c.wrap("encode", err)
		}
		if err := wb.Set(keyOf(name, id), data); err != nil {
			return c.wrap("save", err)
		}
	}
	return c.wrap("save", wb.Flush())
}

// Remove implements collection.Collection.
func (c *Collection) Remove(ctx context.Context, f filter.Filter) error {
	match, err := collection.CompilePredicate(collection.OrEmpty(f))
	if err != nil {
		return err
	}

	var keys [][]byte
	err = c.scan(ctx, true, func(key []byte, doc *document.Document) error {
		ok, err := match(doc)
		if ok {
			keys = append(keys, key)
		}
		return err
	})
	if err != nil {
		return c.wrap("remove", err)
	}
	return c.deleteKeys(keys)
}

func (c *Collection) deleteKeys(keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}
	wb := c.factory.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return c.wrap("remove", err)
		}
	}
	return c.wrap("remove", wb.Flush())
}

// CreateOrUpdateIndex is a no-op.
func (c *Collection) CreateOrUpdateIndex(context.Context, collection.IndexField) error { return nil }

// CreateOrUpdateCompoundIndex is a no-op.
func (c *Collection) CreateOrUpdateCompoundIndex(context.Context, ...collection.IndexField) error {
	return nil
}

// DropIndex is a no-op.
func (c *Collection) DropIndex(context.Context, string) error { return nil }

// Rename implements collection.Collection by rewriting every key under the
// new prefix. It fails when the target prefix already holds documents.
func (c *Collection) Rename(ctx context.Context, newName string) error {
	if err := checkName(newName); err != nil {
		return err
	}
	c.factory.renameMu.Lock()
	defer c.factory.renameMu.Unlock()

	target := &Collection{factory: c.factory, name: newName}
	n, err := target.EstimatedCount(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return errors.NewCollectionError(c.Name(), "rename", fmt.Errorf("target %q already exists", newName))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	oldPrefix := prefixOf(c.name)
	newPrefix := prefixOf(newName)

	var keys [][]byte
	wb := c.factory.db.NewWriteBatch()
	defer wb.Cancel()
	err = c.factory.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = oldPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(oldPrefix); it.ValidForPrefix(oldPrefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			key := item.KeyCopy(nil)
			keys = append(keys, key)
			newKey := append(bytes.Clone(newPrefix), key[len(oldPrefix):]...)
			if err := wb.Set(newKey, val); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		err = wb.Flush()
	}
	if err != nil {
		return errors.NewCollectionError(c.name, "rename", err)
	}

	del := c.factory.db.NewWriteBatch()
	defer del.Cancel()
	for _, k := range keys {
		if err := del.Delete(k); err != nil {
			return errors.NewCollectionError(c.name, "rename", err)
		}
	}
	if err := del.Flush(); err != nil {
		return errors.NewCollectionError(c.name, "rename", err)
	}

	c.factory.log.Debug("collection renamed", "from", c.name, "to", newName, "documents", len(keys))
	c.name = newName
	return nil
}

// Drop implements collection.Collection.
func (c *Collection) Drop(context.Context) error {
	c.mu.RLock()
	prefix := prefixOf(c.name)
	c.mu.RUnlock()
	return c.wrap("drop", c.factory.db.DropPrefix(prefix))
}
