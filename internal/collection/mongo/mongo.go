// Package mongo implements collections on a MongoDB document store.
//
// Documents keep their JSON shape; the root identity is stored as the
// ObjectID _id and mapped back to the hex "id" on read.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/filter"
	"github.com/xtxerr/strata/internal/logging"
)

// BackendName identifies this backend in configuration.
const BackendName = "mongo"

// codeIndexNotFound is returned by dropIndexes for a missing index.
const codeIndexNotFound = 27

// Config holds connection settings.
type Config struct {
	// URI takes precedence over Host and Port when set.
	URI string

	Host         string
	Port         int
	Username     string
	Password     string
	Database     string
	AuthDatabase string

	MaxConnections uint64
	MinConnections uint64
	MaxIdleTime    time.Duration
	MaxWaitTime    time.Duration

	// BatchSize is the number of documents per bulk write.
	BatchSize int
}

// uri returns the connection string.
func (c Config) uri() string {
	if c.URI != "" {
		return c.URI
	}
	host := c.Host
	if c.Port > 0 {
		host += ":" + strconv.Itoa(c.Port)
	}
	u := url.URL{Scheme: "mongodb", Host: host, Path: "/"}
	return u.String()
}

// Factory holds one client shared by all collections.
type Factory struct {
	client    *driver.Client
	db        *driver.Database
	batchSize int
	log       *slog.Logger
}

var _ collection.Factory = (*Factory)(nil)

// Connect opens the client and verifies the connection.
func Connect(ctx context.Context, cfg Config) (*Factory, error) {
	opts := options.Client().ApplyURI(cfg.uri())
	if cfg.MaxConnections > 0 {
		opts.SetMaxPoolSize(cfg.MaxConnections)
	}
	if cfg.MinConnections > 0 {
		opts.SetMinPoolSize(cfg.MinConnections)
	}
	if cfg.MaxIdleTime > 0 {
		opts.SetMaxConnIdleTime(cfg.MaxIdleTime)
	}
	if cfg.MaxWaitTime > 0 {
		opts.SetServerSelectionTimeout(cfg.MaxWaitTime)
	}
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{
			AuthSource: cfg.AuthDatabase,
			Username:   cfg.Username,
			Password:   cfg.Password,
		})
	}

	client, err := driver.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrConnectionFailed, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: %w", errors.ErrConnectionFailed, err)
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 1000
	}
	return &Factory{
		client:    client,
		db:        client.Database(cfg.Database),
		batchSize: batch,
		log:       logging.Component("mongo").With("database", cfg.Database),
	}, nil
}

// Backend implements collection.Factory.
func (f *Factory) Backend() string { return BackendName }

// GetCollection implements collection.Factory. Collections are created by
// the server on first write.
func (f *Factory) GetCollection(_ context.Context, name string) (collection.DocumentCollection, error) {
	return f.Collection(name), nil
}

// Collection returns a handle on the named collection.
func (f *Factory) Collection(name string) *Collection {
	return &Collection{factory: f, coll: f.db.Collection(name)}
}

// Close implements collection.Factory.
func (f *Factory) Close(ctx context.Context) error {
	return f.client.Disconnect(ctx)
}

// Collection wraps a driver collection.
type Collection struct {
	factory *Factory

	mu   sync.RWMutex
	coll *driver.Collection
}

var _ collection.DocumentCollection = (*Collection)(nil)

func (c *Collection) handle() *driver.Collection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.coll
}

// Name implements collection.Collection.
func (c *Collection) Name() string { return c.handle().Name() }

func (c *Collection) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if driver.IsTimeout(err) {
		err = fmt.Errorf("%w: %w", errors.ErrTimeout, err)
	} else if driver.IsNetworkError(err) {
		err = fmt.Errorf("%w: %w", errors.ErrConnectionFailed, err)
	}
	return errors.NewCollectionError(c.Name(), op, err)
}

// sortDocument renders the order followed by the identity tie-break.
func sortDocument(order collection.SearchOrder) (bson.D, error) {
	out := make(bson.D, 0, len(order)+1)
	hasID := false
	for _, k := range order {
		name, err := FieldName(k.Attribute)
		if err != nil {
			return nil, err
		}
		if name == document.StorageIDField {
			hasID = true
		}
		out = append(out, bson.E{Key: name, Value: int(k.Direction)})
	}
	if !hasID {
		out = append(out, bson.E{Key: document.StorageIDField, Value: 1})
	}
	return out, nil
}

// Find implements collection.Collection.
func (c *Collection) Find(ctx context.Context, f filter.Filter, opts collection.FindOptions) (collection.Cursor[*document.Document], error) {
	query, err := FilterFactory{}.Build(f)
	if err != nil {
		return nil, err
	}
	sort, err := sortDocument(opts.Order)
	if err != nil {
		return nil, err
	}

	findOpts := options.Find().SetSort(sort)
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	if opts.MaxTime > 0 {
		findOpts.SetMaxTime(opts.MaxTime)
	}

	cur, err := c.handle().Find(ctx, query, findOpts)
	if err != nil {
		return nil, c.wrap("find", err)
	}
	return &cursor{coll: c, cur: cur}, nil
}

type cursor struct {
	coll *Collection
	cur  *driver.Cursor
	doc  *document.Document
	err  error
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.err != nil || !c.cur.Next(ctx) {
		return false
	}
	var d bson.D
	if err := c.cur.Decode(&d); err != nil {
		c.err = c.coll.wrap("decode", err)
		return false
	}
	c.doc = fromBSON(d)
	return true
}

func (c *cursor) Value() *document.Document { return c.doc }

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.coll.wrap("find", c.cur.Err())
}

func (c *cursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }

// Count implements collection.Collection.
func (c *Collection) Count(ctx context.Context, f filter.Filter, limit int64) (int64, error) {
	query, err := FilterFactory{}.Build(f)
	if err != nil {
		return 0, err
	}
	opts := options.Count()
	if limit > 0 {
		opts.SetLimit(limit)
	}
	n, err := c.handle().CountDocuments(ctx, query, opts)
	return n, c.wrap("count", err)
}

// EstimatedCount implements collection.Collection from collection metadata.
func (c *Collection) EstimatedCount(ctx context.Context) (int64, error) {
	n, err := c.handle().EstimatedDocumentCount(ctx)
	return n, c.wrap("count", err)
}

// Distinct implements collection.Collection. The server flattens arrays.
func (c *Collection) Distinct(ctx context.Context, field string, f filter.Filter) ([]string, error) {
	query, err := FilterFactory{}.Build(f)
	if err != nil {
		return nil, err
	}
	name, err := FieldName(field)
	if err != nil {
		return nil, err
	}
	values, err := c.handle().Distinct(ctx, name, query)
	if err != nil {
		return nil, c.wrap("distinct", err)
	}

	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = fromBSONValue(v)
		if v == nil {
			continue
		}
		s := document.Stringify(v)
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out, nil
}

// Save implements collection.Collection as an upserting replace.
func (c *Collection) Save(ctx context.Context, doc *document.Document) (*document.Document, error) {
	id := collection.EnsureID(doc)
	_, err := c.handle().ReplaceOne(ctx,
		bson.D{{Key: document.StorageIDField, Value: id}},
		toBSON(doc),
		options.Replace().SetUpsert(true))
	if err != nil {
		return nil, c.wrap("save", err)
	}
	return doc, nil
}

// SaveAll implements collection.Collection with unordered bulk writes of
// BatchSize documents. A document repeated in docs is written once, last
// version wins.
func (c *Collection) SaveAll(ctx context.Context, docs []*document.Document) error {
	docs = latest(docs)
	size := c.factory.batchSize
	for start := 0; start < len(docs); start += size {
		end := min(start+size, len(docs))
		models := make([]driver.WriteModel, 0, end-start)
		for _, d := range docs[start:end] {
			models = append(models, driver.NewReplaceOneModel().
				SetFilter(bson.D{{Key: document.StorageIDField, Value: d.GetID()}}).
				SetReplacement(toBSON(d)).
				SetUpsert(true))
		}
		if _, err := c.handle().BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
			return c.wrap("save", err)
		}
	}
	return nil
}

// latest assigns missing ids and keeps the last document of each id, at the
// position of its first occurrence.
func latest(docs []*document.Document) []*document.Document {
	index := make(map[document.ObjectID]int, len(docs))
	out := make([]*document.Document, 0, len(docs))
	for _, d := range docs {
		id := collection.EnsureID(d)
		if i, dup := index[id]; dup {
			out[i] = d
			continue
		}
		index[id] = len(out)
		out = append(out, d)
	}
	return out
}

// Remove implements collection.Collection.
func (c *Collection) Remove(ctx context.Context, f filter.Filter) error {
	query, err := FilterFactory{}.Build(f)
	if err != nil {
		return err
	}
	_, err = c.handle().DeleteMany(ctx, query)
	return c.wrap("remove", err)
}

func indexKeys(fields []collection.IndexField) (bson.D, error) {
	keys := make(bson.D, 0, len(fields))
	for _, f := range fields {
		name, err := FieldName(f.FieldName)
		if err != nil {
			return nil, err
		}
		keys = append(keys, bson.E{Key: name, Value: int(f.Order)})
	}
	return keys, nil
}

// CreateOrUpdateIndex implements collection.Collection.
func (c *Collection) CreateOrUpdateIndex(ctx context.Context, field collection.IndexField) error {
	return c.CreateOrUpdateCompoundIndex(ctx, field)
}

// CreateOrUpdateCompoundIndex implements collection.Collection. Creating an
// index that already exists with the same keys is a no-op on the server.
func (c *Collection) CreateOrUpdateCompoundIndex(ctx context.Context, fields ...collection.IndexField) error {
	if len(fields) == 0 {
		return nil
	}
	keys, err := indexKeys(fields)
	if err != nil {
		return err
	}
	_, err = c.handle().Indexes().CreateOne(ctx, driver.IndexModel{
		Keys:    keys,
		Options: options.Index().SetName(collection.IndexName(fields...)),
	})
	return c.wrap("create index", err)
}

// DropIndex implements collection.Collection. A missing index is not an
// error.
func (c *Collection) DropIndex(ctx context.Context, name string) error {
	_, err := c.handle().Indexes().DropOne(ctx, name)
	var cmdErr driver.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == codeIndexNotFound {
		return nil
	}
	return c.wrap("drop index", err)
}

// Rename implements collection.Collection through the admin command.
func (c *Collection) Rename(ctx context.Context, newName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	db := c.coll.Database()
	cmd := bson.D{
		{Key: "renameCollection", Value: db.Name() + "." + c.coll.Name()},
		{Key: "to", Value: db.Name() + "." + newName},
	}
	if err := c.factory.client.Database("admin").RunCommand(ctx, cmd).Err(); err != nil {
		return errors.NewCollectionError(c.coll.Name(), "rename", err)
	}
	c.factory.log.Debug("collection renamed", "from", c.coll.Name(), "to", newName)
	c.coll = db.Collection(newName)
	return nil
}

// Drop implements collection.Collection.
func (c *Collection) Drop(ctx context.Context) error {
	return c.wrap("drop", c.handle().Drop(ctx))
}
