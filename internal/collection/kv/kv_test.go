package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/collection/collectiontest"
	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/filter"
)

func newFactory(t *testing.T) collection.Factory {
	f, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	return f
}

func TestConformance(t *testing.T) {
	collectiontest.Run(t, newFactory, collectiontest.Options{})
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	f, err := Open(Config{Path: dir})
	require.NoError(t, err)
	c, err := f.Collection("persist")
	require.NoError(t, err)

	doc := document.New()
	doc.Set("site", "fra1")
	_, err = c.Save(ctx, doc)
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))

	f, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer f.Close(ctx)
	c, err = f.Collection("persist")
	require.NoError(t, err)

	got, err := collection.FindAll(ctx, c, filter.Eq("site", "fra1"), collection.FindOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, doc.GetID(), got[0].GetID())
}

func TestPrefixesDoNotLeak(t *testing.T) {
	ctx := context.Background()
	f, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	defer f.Close(ctx)

	a, _ := f.Collection("a")
	ab, _ := f.Collection("ab")
	for _, c := range []*Collection{a, ab, ab} {
		_, err := c.Save(ctx, document.New())
		require.NoError(t, err)
	}

	n, err := a.EstimatedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, a.Drop(ctx))
	n, err = ab.EstimatedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRenameOntoPopulatedCollectionFails(t *testing.T) {
	ctx := context.Background()
	f, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	defer f.Close(ctx)

	a, _ := f.Collection("a")
	b, _ := f.Collection("b")
	_, err = b.Save(ctx, document.New())
	require.NoError(t, err)

	assert.Error(t, a.Rename(ctx, "b"))
	assert.Equal(t, "a", a.Name())
}

func TestRejectsSeparatorInName(t *testing.T) {
	f, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	defer f.Close(context.Background())

	_, err = f.Collection("a/b")
	assert.Error(t, err)
}
