package relational

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/collection/collectiontest"
	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/filter"
	"github.com/xtxerr/strata/internal/store"
)

func openDuckDB(t *testing.T) *Factory {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.Driver = store.DriverDuckDB
	f, err := Open(context.Background(), Config{Store: cfg, BatchSize: 7})
	require.NoError(t, err)
	return f
}

func TestDuckDBConformance(t *testing.T) {
	collectiontest.Run(t, func(t *testing.T) collection.Factory { return openDuckDB(t) }, collectiontest.Options{})
}

func TestPostgresConformance(t *testing.T) {
	url := os.Getenv("STRATA_POSTGRES_URL")
	if url == "" {
		t.Skip("STRATA_POSTGRES_URL not set")
	}
	collectiontest.Run(t, func(t *testing.T) collection.Factory {
		cfg := store.DefaultConfig()
		cfg.Driver = store.DriverPostgres
		cfg.DSN = url
		f, err := Open(context.Background(), Config{Store: cfg})
		require.NoError(t, err)
		t.Cleanup(func() {
			for _, name := range []string{"identity", "upsert", "bulk", "ordering", "multikey", "count",
				"filters", "oql", "fulltext", "distinct", "remove", "indexes", "before_rename", "after_rename"} {
				c, err := f.Collection(context.Background(), name)
				if err == nil {
					c.Drop(context.Background())
				}
			}
		})
		return f
	}, collectiontest.Options{})
}

func TestDistinctFlattensArrays(t *testing.T) {
	ctx := context.Background()
	f := openDuckDB(t)
	defer f.Close(ctx)

	c, err := f.Collection(ctx, "tags")
	require.NoError(t, err)

	a := document.New()
	a.Set("tags", []any{"core", "fra1"})
	b := document.New()
	b.Set("tags", "core")
	n := document.New()
	n.Set("tags", nil)
	require.NoError(t, c.SaveAll(ctx, []*document.Document{a, b, n}))

	values, err := c.Distinct(ctx, "tags", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"core", "fra1"}, values)

	ids, err := c.Distinct(ctx, document.IDField, filter.Eq("tags", "core"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{b.GetID().Hex()}, ids)
}

func TestSaveAllDeduplicatesWithinBatch(t *testing.T) {
	ctx := context.Background()
	f := openDuckDB(t)
	defer f.Close(ctx)

	c, err := f.Collection(ctx, "dups")
	require.NoError(t, err)

	d := document.New()
	d.Set("v", int64(1))
	again := d.Clone()
	collection.EnsureID(d)
	again.SetID(d.GetID())
	again.Set("v", int64(2))

	require.NoError(t, c.SaveAll(ctx, []*document.Document{d, again}))
	got, err := collection.FindAll(ctx, c, nil, collection.FindOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	v, _ := got[0].Get("v")
	assert.Equal(t, int64(2), v)
}

func TestNumericCompareOnTextFails(t *testing.T) {
	ctx := context.Background()
	f := openDuckDB(t)
	defer f.Close(ctx)

	c, err := f.Collection(ctx, "mixed")
	require.NoError(t, err)

	d := document.New()
	d.Set("n", "abc")
	_, err = c.Save(ctx, d)
	require.NoError(t, err)

	_, err = c.Count(ctx, filter.NewGt("n", 1), 0)
	assert.Error(t, err)

	n, err := c.Count(ctx, filter.Eq("n", "abc"), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDroppedCollectionIsRecreated(t *testing.T) {
	ctx := context.Background()
	f := openDuckDB(t)
	defer f.Close(ctx)

	c, err := f.Collection(ctx, "ephemeral")
	require.NoError(t, err)
	_, err = c.Save(ctx, document.New())
	require.NoError(t, err)
	require.NoError(t, c.Drop(ctx))

	n, err := c.EstimatedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
