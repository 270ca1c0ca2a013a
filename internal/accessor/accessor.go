// Package accessor provides identity-oriented access to a collection with
// optional version history and an optional in-memory cache.
package accessor

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/filter"
	"github.com/xtxerr/strata/internal/logging"
)

const (
	// AttributesField is the default namespace searched by FindByAttributes.
	AttributesField = "attributes"

	// CustomFieldsField is the alternate namespace.
	CustomFieldsField = "customFields"
)

// byID is the order used by range reads.
var byID = collection.OrderBy(document.IDField, collection.Ascending)

// Accessor wraps a collection with identity lookups, criteria lookups and
// optional version history.
//
// Accessor is safe for concurrent use.
type Accessor[T document.Entity] struct {
	coll       collection.Collection[T]
	entityType string
	log        *slog.Logger
	now        func() time.Time

	// versions is nil until EnableVersioning.
	versions *versioning
}

// Option configures an Accessor.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces the clock used to stamp versions.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New wraps c.
func New[T document.Entity](c collection.Collection[T], opts ...Option) *Accessor[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	entityType := reflect.TypeOf((*T)(nil)).Elem().String()
	return &Accessor[T]{
		coll:       c,
		entityType: entityType,
		log:        logging.Component("accessor").With("collection", c.Name()),
		now:        o.now,
	}
}

// Collection returns the wrapped collection.
func (a *Accessor[T]) Collection() collection.Collection[T] {
	return a.coll
}

// Get returns the entity with the given identity or an error matching
// errors.ErrNotFound.
func (a *Accessor[T]) Get(ctx context.Context, id document.ObjectID) (T, error) {
	var zero T
	found, err := collection.FindAll(ctx, a.coll, filter.EqID(id), collection.FindOptions{Limit: 1})
	if err != nil {
		return zero, err
	}
	if len(found) == 0 {
		return zero, errors.NewNotFound(a.entityType, id.Hex())
	}
	return found[0], nil
}

// GetByString is Get for the hex form of an identity.
func (a *Accessor[T]) GetByString(ctx context.Context, id string) (T, error) {
	oid, err := document.ParseObjectID(id)
	if err != nil {
		var zero T
		return zero, err
	}
	return a.Get(ctx, oid)
}

// GetRange returns up to limit entities in identity order after skipping
// skip of them. A limit of 0 returns all remaining entities.
func (a *Accessor[T]) GetRange(ctx context.Context, skip, limit int64) ([]T, error) {
	return collection.FindAll(ctx, a.coll, nil, collection.FindOptions{Order: byID, Skip: skip, Limit: limit})
}

// GetAll returns every entity in identity order.
func (a *Accessor[T]) GetAll(ctx context.Context) ([]T, error) {
	return a.GetRange(ctx, 0, 0)
}

// Stream returns a cursor over every entity in identity order. The caller
// must close it.
func (a *Accessor[T]) Stream(ctx context.Context) (collection.Cursor[T], error) {
	return a.coll.Find(ctx, nil, collection.FindOptions{Order: byID})
}

// Find runs f with opts.
func (a *Accessor[T]) Find(ctx context.Context, f filter.Filter, opts collection.FindOptions) ([]T, error) {
	return collection.FindAll(ctx, a.coll, f, opts)
}

// CriteriaFilter converts exact-match criteria into an And of Equals.
// Keys are sorted so equal criteria compile to equal filters. An empty map
// yields True.
func CriteriaFilter(criteria map[string]any) (filter.Filter, error) {
	if len(criteria) == 0 {
		return filter.NewTrue(), nil
	}
	keys := make([]string, 0, len(criteria))
	for k := range criteria {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	children := make([]filter.Filter, 0, len(keys))
	for _, k := range keys {
		eq, err := filter.NewEquals(k, criteria[k])
		if err != nil {
			return nil, err
		}
		children = append(children, eq)
	}
	return filter.NewAnd(children...), nil
}

// AttributesFilter matches every attr as namespace.<key> = value. An empty
// namespace means AttributesField.
func AttributesFilter(namespace string, attrs map[string]string) (filter.Filter, error) {
	if namespace == "" {
		namespace = AttributesField
	}
	criteria := make(map[string]any, len(attrs))
	for k, v := range attrs {
		criteria[namespace+"."+k] = v
	}
	return CriteriaFilter(criteria)
}

// FindByCriteria returns the first entity in identity order matching every
// criterion.
func (a *Accessor[T]) FindByCriteria(ctx context.Context, criteria map[string]any) (T, error) {
	var zero T
	f, err := CriteriaFilter(criteria)
	if err != nil {
		return zero, err
	}
	return a.first(ctx, f, fmt.Sprint(criteria))
}

// FindManyByCriteria returns every entity matching every criterion.
func (a *Accessor[T]) FindManyByCriteria(ctx context.Context, criteria map[string]any) ([]T, error) {
	f, err := CriteriaFilter(criteria)
	if err != nil {
		return nil, err
	}
	return a.Find(ctx, f, collection.FindOptions{Order: byID})
}

// FindByAttributes returns the first entity whose namespace map contains
// every attr. An empty namespace means AttributesField.
func (a *Accessor[T]) FindByAttributes(ctx context.Context, attrs map[string]string, namespace string) (T, error) {
	var zero T
	f, err := AttributesFilter(namespace, attrs)
	if err != nil {
		return zero, err
	}
	return a.first(ctx, f, fmt.Sprint(attrs))
}

// FindManyByAttributes returns every entity whose namespace map contains
// every attr.
func (a *Accessor[T]) FindManyByAttributes(ctx context.Context, attrs map[string]string, namespace string) ([]T, error) {
	f, err := AttributesFilter(namespace, attrs)
	if err != nil {
		return nil, err
	}
	return a.Find(ctx, f, collection.FindOptions{Order: byID})
}

func (a *Accessor[T]) first(ctx context.Context, f filter.Filter, what string) (T, error) {
	var zero T
	found, err := a.Find(ctx, f, collection.FindOptions{Order: byID, Limit: 1})
	if err != nil {
		return zero, err
	}
	if len(found) == 0 {
		return zero, errors.NewNotFound(a.entityType, what)
	}
	return found[0], nil
}

// Save assigns an identity when entity has none and upserts it. With
// versioning enabled, an update first snapshots the stored state.
func (a *Accessor[T]) Save(ctx context.Context, entity T) (T, error) {
	if a.versions == nil || entity.GetID().IsZero() {
		return a.coll.Save(ctx, entity)
	}

	id := entity.GetID()
	unlock := a.versions.locks.lock(id)
	defer unlock()
	if err := snapshot(ctx, a, id); err != nil {
		return entity, err
	}
	return a.coll.Save(ctx, entity)
}

// SaveAll saves entities. With versioning enabled every entity is saved on
// its own so each update is snapshotted.
func (a *Accessor[T]) SaveAll(ctx context.Context, entities []T) error {
	if a.versions == nil {
		return a.coll.SaveAll(ctx, entities)
	}
	for _, e := range entities {
		if _, err := a.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes the entity with the given identity. Its version history
// is kept. Removing a missing entity is not an error.
func (a *Accessor[T]) Remove(ctx context.Context, id document.ObjectID) error {
	return a.coll.Remove(ctx, filter.EqID(id))
}
