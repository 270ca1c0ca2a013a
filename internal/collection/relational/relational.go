// Package relational implements collections as two-column SQL tables
// (id, object) holding documents as JSON, on DuckDB or Postgres.
package relational

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/filter"
	"github.com/xtxerr/strata/internal/logging"
	"github.com/xtxerr/strata/internal/store"
)

// maxIdentLength is the Postgres identifier limit.
const maxIdentLength = 63

// Config configures a relational factory.
type Config struct {
	Store store.Config

	// BatchSize is the number of rows per multi-row upsert.
	BatchSize int
}

// Factory creates collection tables on demand.
type Factory struct {
	store     *store.Store
	dialect   Dialect
	filters   FilterFactory
	batchSize int
	log       *slog.Logger

	group singleflight.Group
	mu    sync.Mutex
	ready map[string]bool
}

var _ collection.Factory = (*Factory)(nil)

// Open connects to the database described by cfg.
func Open(ctx context.Context, cfg Config) (*Factory, error) {
	s, err := store.New(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	f, err := NewFactory(s, cfg.BatchSize)
	if err != nil {
		s.Close()
		return nil, err
	}
	return f, nil
}

// NewFactory wraps an open store. The factory owns s from here on.
func NewFactory(s *store.Store, batchSize int) (*Factory, error) {
	dialect, err := DialectFor(s.Driver())
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Factory{
		store:     s,
		dialect:   dialect,
		filters:   FilterFactory{Dialect: dialect},
		batchSize: batchSize,
		log:       logging.Component("relational").With("dialect", dialect.Name()),
		ready:     make(map[string]bool),
	}, nil
}

// Backend implements collection.Factory.
func (f *Factory) Backend() string { return f.dialect.Name() }

// Store returns the underlying connection layer.
func (f *Factory) Store() *store.Store { return f.store }

// GetCollection implements collection.Factory. The table is created if
// missing.
func (f *Factory) GetCollection(ctx context.Context, name string) (collection.DocumentCollection, error) {
	return f.Collection(ctx, name)
}

// Collection returns the named collection with its table in place.
func (f *Factory) Collection(ctx context.Context, name string) (*Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("empty collection name: %w", errors.ErrInvalidValue)
	}
	if err := f.ensureTable(ctx, name); err != nil {
		return nil, err
	}
	return &Collection{factory: f, name: name}, nil
}

// Close implements collection.Factory.
func (f *Factory) Close(context.Context) error {
	return f.store.Close()
}

// ensureTable creates the table once per name. Concurrent callers share
// one CREATE statement.
func (f *Factory) ensureTable(ctx context.Context, name string) error {
	f.mu.Lock()
	ok := f.ready[name]
	f.mu.Unlock()
	if ok {
		return nil
	}

	_, err, _ := f.group.Do(name, func() (any, error) {
		ctx, cancel := f.store.WithTimeout(ctx, 0)
		defer cancel()
		if _, err := f.store.ExecContext(ctx, f.dialect.CreateTable(name)); err != nil {
			return nil, errors.NewCollectionError(name, "create", err)
		}
		f.mu.Lock()
		f.ready[name] = true
		f.mu.Unlock()
		f.log.Debug("table ready", "collection", name)
		return nil, nil
	})
	return err
}

func (f *Factory) forget(name string) {
	f.mu.Lock()
	delete(f.ready, name)
	f.mu.Unlock()
}

func (f *Factory) renamed(from, to string) {
	f.mu.Lock()
	delete(f.ready, from)
	f.ready[to] = true
	f.mu.Unlock()
}

// Collection is one table.
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

// table returns the quoted table name after making sure it exists; a
// dropped collection is recreated empty on next use.
func (c *Collection) table(ctx context.Context) (string, error) {
	name := c.Name()
	if err := c.factory.ensureTable(ctx, name); err != nil {
		return "", err
	}
	return c.factory.dialect.QuoteIdent(name), nil
}

func (c *Collection) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.NewCollectionError(c.Name(), op, store.Classify(err))
}

func (c *Collection) where(f filter.Filter) (Clause, error) {
	return c.factory.filters.Build(f)
}

// orderBy renders the sort keys followed by the identity tie-break.
func (c *Collection) orderBy(order collection.SearchOrder) (string, error) {
	d := c.factory.dialect
	var terms []string
	for _, k := range order {
		jsonExpr, err := FormatField(k.Attribute, false)
		if err != nil {
			return "", err
		}
		if jsonExpr == IDColumn {
			terms = append(terms, IDColumn+orderSuffix(k.Direction))
			continue
		}
		textExpr, _ := FormatFieldAsText(k.Attribute)
		terms = append(terms, d.OrderBy(jsonExpr, textExpr, k.Direction)...)
	}
	terms = append(terms, IDColumn+" ASC")
	return " ORDER BY " + strings.Join(terms, ", "), nil
}

// Find implements collection.Collection. MaxTime bounds the statement and
// the cursor's lifetime.
func (c *Collection) Find(ctx context.Context, f filter.Filter, opts collection.FindOptions) (collection.Cursor[*document.Document], error) {
	where, err := c.where(f)
	if err != nil {
		return nil, err
	}
	order, err := c.orderBy(opts.Order)
	if err != nil {
		return nil, err
	}
	table, err := c.table(ctx)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + IDColumn + ", " + c.factory.dialect.AsText(ObjectColumn) + " FROM " + table)
	sb.WriteString(" WHERE " + where.SQL)
	sb.WriteString(order)
	if opts.Limit > 0 {
		sb.WriteString(" LIMIT " + strconv.FormatInt(opts.Limit, 10))
	}
	if opts.Skip > 0 {
		sb.WriteString(" OFFSET " + strconv.FormatInt(opts.Skip, 10))
	}

	qctx, cancel := c.factory.store.WithTimeout(ctx, opts.MaxTime)
	rows, err := c.factory.store.QueryContext(qctx, sb.String(), where.Args...)
	if err != nil {
		cancel()
		return nil, c.wrap("find", err)
	}
	return &rowCursor{coll: c, rows: rows, cancel: cancel}, nil
}

// rowCursor decodes rows lazily.
type rowCursor struct {
	coll   *Collection
	rows   *sql.Rows
	cancel context.CancelFunc
	cur    *document.Document
	err    error
}

func (r *rowCursor) Next(context.Context) bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}
	var id, object string
	if err := r.rows.Scan(&id, &object); err != nil {
		r.err = r.coll.wrap("scan", err)
		return false
	}
	doc, err := document.Parse([]byte(object))
	if err != nil {
		r.err = r.coll.wrap("decode "+id, err)
		return false
	}
	r.cur = doc
	return true
}

func (r *rowCursor) Value() *document.Document { return r.cur }

func (r *rowCursor) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.coll.wrap("find", r.rows.Err())
}

func (r *rowCursor) Close(context.Context) error {
	err := r.rows.Close()
	r.cancel()
	return err
}

// Count implements collection.Collection.
func (c *Collection) Count(ctx context.Context, f filter.Filter, limit int64) (int64, error) {
	where, err := c.where(f)
	if err != nil {
		return 0, err
	}
	table, err := c.table(ctx)
	if err != nil {
		return 0, err
	}

	inner := "SELECT 1 FROM " + table + " WHERE " + where.SQL
	if limit > 0 {
		inner += " LIMIT " + strconv.FormatInt(limit, 10)
	}
	return c.scalarCount(ctx, "SELECT COUNT(*) FROM ("+inner+") matched", where.Args...)
}

// EstimatedCount implements collection.Collection.
func (c *Collection) EstimatedCount(ctx context.Context) (int64, error) {
	table, err := c.table(ctx)
	if err != nil {
		return 0, err
	}
	return c.scalarCount(ctx, "SELECT COUNT(*) FROM "+table)
}

func (c *Collection) scalarCount(ctx context.Context, query string, args ...any) (int64, error) {
	ctx, cancel := c.factory.store.WithTimeout(ctx, 0)
	defer cancel()
	var n int64
	if err := c.factory.store.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, c.wrap("count", err)
	}
	return n, nil
}

// Distinct implements collection.Collection. Values are read as JSON text
// and projected in Go so arrays contribute their elements.
func (c *Collection) Distinct(ctx context.Context, field string, f filter.Filter) ([]string, error) {
	where, err := c.where(f)
	if err != nil {
		return nil, err
	}
	jsonExpr, err := FormatField(field, false)
	if err != nil {
		return nil, err
	}
	table, err := c.table(ctx)
	if err != nil {
		return nil, err
	}

	projection := IDColumn
	if jsonExpr != IDColumn {
		projection = c.factory.dialect.AsText(jsonExpr)
	}
	query := "SELECT DISTINCT " + projection + " FROM " + table +
		" WHERE " + where.SQL + " AND " + jsonExpr + " IS NOT NULL"

	ctx, cancel := c.factory.store.WithTimeout(ctx, 0)
	defer cancel()
	rows, err := c.factory.store.QueryContext(ctx, query, where.Args...)
	if err != nil {
		return nil, c.wrap("distinct", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	out := []string{}
	add := func(v any) {
		if v == nil {
			return
		}
		s := document.Stringify(v)
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, c.wrap("distinct", err)
		}
		if jsonExpr == IDColumn {
			add(raw)
			continue
		}
		v, err := document.ParseValue([]byte(raw))
		if err != nil {
			return nil, c.wrap("distinct", err)
		}
		if arr, ok := v.([]any); ok {
			for _, e := range arr {
				add(e)
			}
			continue
		}
		add(v)
	}
	return out, c.wrap("distinct", rows.Err())
}

// upsert renders a multi-row upsert for n rows.
func (c *Collection) upsert(table string, n int) string {
	d := c.factory.dialect
	var sb strings.Builder
	sb.WriteString("INSERT INTO " + table + " (" + IDColumn + ", " + ObjectColumn + ") VALUES ")
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(" + d.Placeholder(2*i+1) + ", " + d.JSONParam(2*i+2) + ")")
	}
	sb.WriteString(" ON CONFLICT (" + IDColumn + ") DO UPDATE SET " + ObjectColumn + " = EXCLUDED." + ObjectColumn)
	return sb.String()
}

func encodeRow(doc *document.Document) (string, string, error) {
	id := collection.EnsureID(doc)
	data, err := doc.MarshalJSON()
	if err != nil {
		return "", "", err
	}
	return id.Hex(), string(data), nil
}

// Save implements collection.Collection.
func (c *Collection) Save(ctx context.Context, doc *document.Document) (*document.Document, error) {
	table, err := c.table(ctx)
	if err != nil {
		return nil, err
	}
	id, data, err := encodeRow(doc)
	if err != nil {
		return nil, c.wrap("encode", err)
	}

	ctx, cancel := c.factory.store.WithTimeout(ctx, 0)
	defer cancel()
	if _, err := c.factory.store.ExecContext(ctx, c.upsert(table, 1), id, data); err != nil {
		return nil, c.wrap("save", err)
	}
	return doc, nil
}

// SaveAll implements collection.Collection in one transaction, BatchSize
// rows per statement. A document repeated in docs is written once, last
// version wins.
func (c *Collection) SaveAll(ctx context.Context, docs []*document.Document) error {
	if len(docs) == 0 {
		return nil
	}
	table, err := c.table(ctx)
	if err != nil {
		return err
	}

	type row struct{ id, data string }
	index := make(map[string]int, len(docs))
	rows := make([]row, 0, len(docs))
	for _, d := range docs {
		id, data, err := encodeRow(d)
		if err != nil {
			return c.wrap("encode", err)
		}
		if i, dup := index[id]; dup {
			rows[i].data = data
			continue
		}
		index[id] = len(rows)
		rows = append(rows, row{id, data})
	}

	ctx, cancel := c.factory.store.WithTimeout(ctx, 0)
	defer cancel()
	err = c.factory.store.TransactionContext(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(rows); start += c.factory.batchSize {
			end := min(start+c.factory.batchSize, len(rows))
			args := make([]any, 0, 2*(end-start))
			for _, r := range rows[start:end] {
				args = append(args, r.id, r.data)
			}
			if _, err := tx.ExecContext(ctx, c.upsert(table, end-start), args...); err != nil {
				return err
			}
		}
		return nil
	})
	return c.wrap("save", err)
}

// Remove implements collection.Collection.
func (c *Collection) Remove(ctx context.Context, f filter.Filter) error {
	where, err := c.where(f)
	if err != nil {
		return err
	}
	table, err := c.table(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := c.factory.store.WithTimeout(ctx, 0)
	defer cancel()
	_, err = c.factory.store.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+where.SQL, where.Args...)
	return c.wrap("remove", err)
}

// indexIdent returns the per-table index name, hashed down to the
// identifier limit when needed.
func (c *Collection) indexIdent(name string) string {
	ident := c.Name() + "_" + name
	if len(ident) <= maxIdentLength {
		return ident
	}
	sum := strconv.FormatUint(xxhash.Sum64String(ident), 16)
	return ident[:maxIdentLength-len(sum)-1] + "_" + sum
}

// CreateOrUpdateIndex implements collection.Collection.
func (c *Collection) CreateOrUpdateIndex(ctx context.Context, field collection.IndexField) error {
	return c.CreateOrUpdateCompoundIndex(ctx, field)
}

// CreateOrUpdateCompoundIndex implements collection.Collection with an
// expression index over the JSON paths. DuckDB skips index creation.
func (c *Collection) CreateOrUpdateCompoundIndex(ctx context.Context, fields ...collection.IndexField) error {
	d := c.factory.dialect
	if !d.SupportsIndexes() || len(fields) == 0 {
		return nil
	}
	table, err := c.table(ctx)
	if err != nil {
		return err
	}

	terms := make([]string, 0, len(fields))
	for _, fld := range fields {
		expr, err := FormatField(fld.FieldName, fld.FieldClass == collection.FieldString)
		if err != nil {
			return err
		}
		dir := " ASC"
		if fld.Order == collection.Descending {
			dir = " DESC"
		}
		terms = append(terms, "("+expr+")"+dir)
	}
	stmt := "CREATE INDEX IF NOT EXISTS " + d.QuoteIdent(c.indexIdent(collection.IndexName(fields...))) +
		" ON " + table + " (" + strings.Join(terms, ", ") + ")"

	ctx, cancel := c.factory.store.WithTimeout(ctx, 0)
	defer cancel()
	_, err = c.factory.store.ExecContext(ctx, stmt)
	return c.wrap("create index", err)
}

// DropIndex implements collection.Collection.
func (c *Collection) DropIndex(ctx context.Context, name string) error {
	d := c.factory.dialect
	if !d.SupportsIndexes() {
		return nil
	}
	ctx, cancel := c.factory.store.WithTimeout(ctx, 0)
	defer cancel()
	_, err := c.factory.store.ExecContext(ctx, "DROP INDEX IF EXISTS "+d.QuoteIdent(c.indexIdent(name)))
	return c.wrap("drop index", err)
}

// Rename implements collection.Collection.
func (c *Collection) Rename(ctx context.Context, newName string) error {
	if newName == "" {
		return fmt.Errorf("empty collection name: %w", errors.ErrInvalidValue)
	}
	table, err := c.table(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	d := c.factory.dialect
	qctx, cancel := c.factory.store.WithTimeout(ctx, 0)
	defer cancel()
	if _, err := c.factory.store.ExecContext(qctx, "ALTER TABLE "+table+" RENAME TO "+d.QuoteIdent(newName)); err != nil {
		return errors.NewCollectionError(c.name, "rename", store.Classify(err))
	}
	c.factory.renamed(c.name, newName)
	c.name = newName
	return nil
}

// Drop implements collection.Collection.
func (c *Collection) Drop(ctx context.Context) error {
	name := c.Name()
	ctx, cancel := c.factory.store.WithTimeout(ctx, 0)
	defer cancel()
	_, err := c.factory.store.ExecContext(ctx, "DROP TABLE IF EXISTS "+c.factory.dialect.QuoteIdent(name))
	c.factory.forget(name)
	return c.wrap("drop", err)
}
