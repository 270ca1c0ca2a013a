// Package collection defines the storage contract shared by every backend
// and the in-process query machinery used by the backends that have no
// native query language.
//
// A Collection is a named container of entities. All backends store the
// schema-less document form (*document.Document); Typed adapts such a
// collection to a concrete entity type.
//
// Semantics common to all backends:
//
//   - Find applies the filter, then the order (multi-key, final tie-break on
//     identity ascending), then skip, then limit. Limit 0 means unlimited.
//   - Count equals the number of documents Find would yield without skip and
//     limit, capped at limit when limit > 0.
//   - Save assigns a fresh identity when the document has none and upserts
//     otherwise.
//   - Remove is idempotent.
//   - Index management is advisory; backends without indexes accept and
//     ignore it.
//   - I/O failures are returned as *errors.CollectionError.
package collection

import (
	"context"
	"time"

	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/filter"
)

// Direction is the sort or index direction of a field.
type Direction int

const (
	Ascending  Direction = 1
	Descending Direction = -1
)

// String returns "ASC" or "DESC".
func (d Direction) String() string {
	if d == Descending {
		return "DESC"
	}
	return "ASC"
}

// SortKey is one key of a SearchOrder.
type SortKey struct {
	Attribute string
	Direction Direction
}

// SearchOrder is a multi-key sort specification. The first key has the
// highest priority.
type SearchOrder []SortKey

// OrderBy starts a SearchOrder.
func OrderBy(attribute string, dir Direction) SearchOrder {
	return SearchOrder{{Attribute: attribute, Direction: dir}}
}

// Then appends a lower priority key.
func (o SearchOrder) Then(attribute string, dir Direction) SearchOrder {
	out := make(SearchOrder, len(o), len(o)+1)
	copy(out, o)
	return append(out, SortKey{Attribute: attribute, Direction: dir})
}

// FieldClass is the semantic type of an indexed field.
type FieldClass string

const (
	FieldString   FieldClass = "string"
	FieldNumber   FieldClass = "number"
	FieldBoolean  FieldClass = "boolean"
	FieldObjectID FieldClass = "objectId"
	FieldDate     FieldClass = "date"
)

// IndexField describes one field of an index.
type IndexField struct {
	FieldName  string
	Order      Direction
	FieldClass FieldClass
}

// IndexName derives the conventional name of an index over fields, e.g.
// "attributes.site_1_begin_-1".
func IndexName(fields ...IndexField) string {
	name := ""
	for i, f := range fields {
		if i > 0 {
			name += "_"
		}
		dir := "1"
		if f.Order == Descending {
			dir = "-1"
		}
		name += f.FieldName + "_" + dir
	}
	return name
}

// FindOptions controls ordering, paging and execution time of Find.
type FindOptions struct {
	Order SearchOrder
	Skip  int64
	Limit int64 // 0 = unlimited

	// MaxTime bounds backend execution time; 0 = unbounded. Only backends
	// with a native timeout honor it.
	MaxTime time.Duration
}

// Collection is the storage contract implemented by every backend.
// Implementations are safe for concurrent use.
type Collection[T any] interface {
	// Name returns the current collection name.
	Name() string

	Find(ctx context.Context, f filter.Filter, opts FindOptions) (Cursor[T], error)
	Count(ctx context.Context, f filter.Filter, limit int64) (int64, error)
	EstimatedCount(ctx context.Context) (int64, error)

	// Distinct returns the unique non-null string projections of field over
	// the documents matching f, in no particular order.
	Distinct(ctx context.Context, field string, f filter.Filter) ([]string, error)

	Save(ctx context.Context, entity T) (T, error)
	SaveAll(ctx context.Context, entities []T) error
	Remove(ctx context.Context, f filter.Filter) error

	CreateOrUpdateIndex(ctx context.Context, field IndexField) error
	CreateOrUpdateCompoundIndex(ctx context.Context, fields ...IndexField) error
	DropIndex(ctx context.Context, name string) error

	// Rename changes the collection identity; contents are kept and later
	// calls (including Drop) address the new name.
	Rename(ctx context.Context, newName string) error
	Drop(ctx context.Context) error
}

// DocumentCollection is the form every backend implements.
type DocumentCollection = Collection[*document.Document]

// Factory creates and caches the collections of one backend.
type Factory interface {
	// Backend names the backend, e.g. "memory" or "postgres".
	Backend() string

	// GetCollection returns the named collection, creating it on first use.
	GetCollection(ctx context.Context, name string) (DocumentCollection, error)

	Close(ctx context.Context) error
}

// VersionSuffix is appended to a collection name to form the name of the
// collection holding its version history.
const VersionSuffix = "_versions"

// VersionCollectionName returns the history collection name for name.
func VersionCollectionName(name string) string {
	return name + VersionSuffix
}

// GetVersionedCollection returns the history collection belonging to name.
func GetVersionedCollection(ctx context.Context, f Factory, name string) (DocumentCollection, error) {
	return f.GetCollection(ctx, VersionCollectionName(name))
}

// EnsureID assigns a fresh identity to doc when it has none and returns the
// identity.
func EnsureID(doc *document.Document) document.ObjectID {
	id := doc.GetID()
	if id.IsZero() {
		id = document.NewObjectID()
		doc.SetID(id)
	}
	return id
}

// OrEmpty substitutes True for a nil filter. Backends call it on every
// incoming filter.
func OrEmpty(f filter.Filter) filter.Filter {
	if f == nil {
		return filter.Empty()
	}
	return f
}
