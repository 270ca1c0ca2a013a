package accessor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/filter"
)

// VersionCustomField is the custom field of a snapshot payload holding the
// identity of the version it was taken as.
const VersionCustomField = "versionId"

// EntityVersion is a stored snapshot of an entity as it was before an
// update. Versions are never modified after they are written.
type EntityVersion struct {
	ID       document.ObjectID `json:"id"`
	EntityID document.ObjectID `json:"entityId"`

	// UpdateTime is the snapshot time in epoch milliseconds.
	UpdateTime int64 `json:"updateTime"`

	Entity *document.Document `json:"entity"`
}

// GetID implements document.Entity.
func (v *EntityVersion) GetID() document.ObjectID { return v.ID }

// SetID implements document.Entity.
func (v *EntityVersion) SetID(id document.ObjectID) { v.ID = id }

// Time returns UpdateTime as a time.
func (v *EntityVersion) Time() time.Time { return time.UnixMilli(v.UpdateTime) }

// newestFirst orders a history.
var newestFirst = collection.OrderBy("updateTime", collection.Descending).
	Then(document.IDField, collection.Descending)

type versioning struct {
	coll        collection.Collection[*EntityVersion]
	minInterval time.Duration
	locks       keyedMutex
}

// OpenVersions returns the history collection belonging to the collection
// called name.
func OpenVersions(ctx context.Context, f collection.Factory, name string) (*collection.Typed[*EntityVersion], error) {
	docs, err := collection.GetVersionedCollection(ctx, f, name)
	if err != nil {
		return nil, err
	}
	return collection.NewTyped[*EntityVersion](docs), nil
}

// EnableVersioning records the stored state of an entity in versions every
// time it is updated through Save. A snapshot is skipped when the previous
// one for the same entity is younger than minInterval.
//
// EnableVersioning must be called before the accessor is shared.
func (a *Accessor[T]) EnableVersioning(ctx context.Context, versions collection.Collection[*EntityVersion], minInterval time.Duration) error {
	err := versions.CreateOrUpdateCompoundIndex(ctx,
		collection.IndexField{FieldName: "entityId", Order: collection.Ascending, FieldClass: collection.FieldObjectID},
		collection.IndexField{FieldName: "updateTime", Order: collection.Descending, FieldClass: collection.FieldNumber},
	)
	if err != nil {
		return fmt.Errorf("index version collection: %w", err)
	}
	a.versions = &versioning{
		coll:        versions,
		minInterval: minInterval,
		locks:       keyedMutex{locks: make(map[document.ObjectID]*refMutex)},
	}
	a.log.Debug("versioning enabled", "versions", versions.Name(), "min_interval", minInterval)
	return nil
}

// Versioned reports whether EnableVersioning was called.
func (a *Accessor[T]) Versioned() bool { return a.versions != nil }

func historyFilter(entityID document.ObjectID) filter.Filter {
	return filter.Eq("entityId", entityID.Hex())
}

// snapshot stores the current state of id unless it does not exist yet or
// the debounce interval has not passed. The caller holds the entity lock.
func snapshot[T document.Entity](ctx context.Context, a *Accessor[T], id document.ObjectID) error {
	v := a.versions

	current, err := a.Get(ctx, id)
	if errors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	now := a.now()
	if v.minInterval > 0 {
		last, err := collection.FindAll(ctx, v.coll, historyFilter(id), collection.FindOptions{Order: newestFirst, Limit: 1})
		if err != nil {
			return err
		}
		if len(last) > 0 && now.Sub(last[0].Time()) < v.minInterval {
			a.log.Debug("snapshot skipped", "id", id.Hex(), "since", now.Sub(last[0].Time()))
			return nil
		}
	}

	doc, err := document.Encode(current)
	if err != nil {
		return err
	}
	version := &EntityVersion{
		ID:         document.NewObjectID(),
		EntityID:   id,
		UpdateTime: now.UnixMilli(),
	}
	markVersion(doc, version.ID)
	version.Entity = doc

	if _, err := v.coll.Save(ctx, version); err != nil {
		return fmt.Errorf("save version of %s: %w", id.Hex(), err)
	}
	return nil
}

// markVersion stores versionID under customFields.versionId.
func markVersion(doc *document.Document, versionID document.ObjectID) {
	v, _ := doc.Get(CustomFieldsField)
	custom, ok := v.(*document.Document)
	if !ok {
		custom = document.New()
	}
	custom.Set(VersionCustomField, versionID.Hex())
	doc.Set(CustomFieldsField, custom)
}

// History returns the versions of entityID, newest first.
func (a *Accessor[T]) History(ctx context.Context, entityID document.ObjectID, skip, limit int64) ([]*EntityVersion, error) {
	if a.versions == nil {
		return nil, fmt.Errorf("%s: versioning not enabled: %w", a.coll.Name(), errors.ErrInvalidConfig)
	}
	return collection.FindAll(ctx, a.versions.coll, historyFilter(entityID),
		collection.FindOptions{Order: newestFirst, Skip: skip, Limit: limit})
}

// RestoreVersion overwrites the live entity with the content of one of its
// versions and returns it. The restore itself does not create a version.
func (a *Accessor[T]) RestoreVersion(ctx context.Context, entityID, versionID document.ObjectID) (T, error) {
	var zero T
	if a.versions == nil {
		return zero, fmt.Errorf("%s: versioning not enabled: %w", a.coll.Name(), errors.ErrInvalidConfig)
	}

	found, err := collection.FindAll(ctx, a.versions.coll, filter.EqID(versionID), collection.FindOptions{Limit: 1})
	if err != nil {
		return zero, err
	}
	if len(found) == 0 || found[0].EntityID != entityID || found[0].Entity == nil {
		return zero, fmt.Errorf("version %s of %s: %w", versionID.Hex(), entityID.Hex(), errors.ErrVersionNotFound)
	}

	entity, err := document.DecodeAs[T](found[0].Entity)
	if err != nil {
		return zero, err
	}
	entity.SetID(entityID)

	unlock := a.versions.locks.lock(entityID)
	defer unlock()
	saved, err := a.coll.Save(ctx, entity)
	if err != nil {
		return zero, err
	}
	a.log.Info("version restored", "id", entityID.Hex(), "version", versionID.Hex())
	return saved, nil
}

// keyedMutex serializes snapshot-then-save per entity.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[document.ObjectID]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(id document.ObjectID) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
