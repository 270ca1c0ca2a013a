// Package collectiontest provides a conformance suite every collection
// backend runs from its own tests.
package collectiontest

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/filter"
	"github.com/xtxerr/strata/internal/oql"
)

// Bean is the entity stored by the suite.
type Bean struct {
	document.AbstractEntity
	StringProperty string  `json:"stringProperty,omitempty"`
	Int1           int64   `json:"int1"`
	Ratio          float64 `json:"ratio,omitempty"`
	Flag           bool    `json:"flag"`
}

// NewBean returns a bean with the given string property.
func NewBean(s string, int1 int64) *Bean {
	return &Bean{StringProperty: s, Int1: int1}
}

// Options disables checks a backend cannot support.
type Options struct {
	// SkipFulltext skips Fulltext filters (needs a text index on some stores).
	SkipFulltext bool
	// SkipRename skips Rename.
	SkipRename bool
}

// Run executes the suite. newFactory is called once per subtest and must
// return an empty backend.
func Run(t *testing.T, newFactory func(t *testing.T) collection.Factory, opts Options) {
	tests := []struct {
		name string
		fn   func(t *testing.T, f collection.Factory)
		skip bool
	}{
		{"SaveAssignsIdentity", testSaveAssignsIdentity, false},
		{"SaveUpserts", testSaveUpserts, false},
		{"SaveAll", testSaveAll, false},
		{"FindOrdering", testFindOrdering, false},
		{"MultiKeyOrder", testMultiKeyOrder, false},
		{"Count", testCount, false},
		{"Filters", testFilters, false},
		{"OQL", testOQL, false},
		{"Fulltext", testFulltext, opts.SkipFulltext},
		{"DistinctAndRemove", testDistinctAndRemove, false},
		{"RemoveIdempotent", testRemoveIdempotent, false},
		{"Indexes", testIndexes, false},
		{"RenameThenDrop", testRenameThenDrop, opts.SkipRename},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.skip {
				t.Skip("not supported by backend")
			}
			f := newFactory(t)
			t.Cleanup(func() { f.Close(context.Background()) })
			tt.fn(t, f)
		})
	}
}

func beans(t *testing.T, f collection.Factory, name string) *collection.Typed[*Bean] {
	t.Helper()
	c, err := collection.GetTyped[*Bean](context.Background(), f, name)
	require.NoError(t, err)
	return c
}

func find(t *testing.T, c collection.Collection[*Bean], fl filter.Filter, opts collection.FindOptions) []*Bean {
	t.Helper()
	out, err := collection.FindAll(context.Background(), c, fl, opts)
	require.NoError(t, err)
	return out
}

func names(bs []*Bean) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.StringProperty
	}
	return out
}

func testSaveAssignsIdentity(t *testing.T, f collection.Factory) {
	ctx := context.Background()
	c := beans(t, f, "identity")

	b := NewBean("a", 1)
	b.SetAttribute("site", "fra1")
	require.True(t, b.GetID().IsZero())

	saved, err := c.Save(ctx, b)
	require.NoError(t, err)
	require.False(t, saved.GetID().IsZero())
	assert.Equal(t, b.GetID(), saved.GetID())

	got := find(t, c, filter.EqID(b.GetID()), collection.FindOptions{})
	require.Len(t, got, 1)
	assert.Equal(t, b, got[0])

	got = find(t, c, filter.Eq(document.IDField, b.GetID().Hex()), collection.FindOptions{})
	require.Len(t, got, 1)
}

func testSaveUpserts(t *testing.T, f collection.Factory) {
	ctx := context.Background()
	c := beans(t, f, "upsert")

	b := NewBean("before", 1)
	_, err := c.Save(ctx, b)
	require.NoError(t, err)

	b.StringProperty = "after"
	_, err = c.Save(ctx, b)
	require.NoError(t, err)

	n, err := c.Count(ctx, filter.Empty(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got := find(t, c, nil, collection.FindOptions{})
	require.Len(t, got, 1)
	assert.Equal(t, "after", got[0].StringProperty)
}

func testSaveAll(t *testing.T, f collection.Factory) {
	ctx := context.Background()
	c := beans(t, f, "bulk")

	var batch []*Bean
	for i := 0; i < 25; i++ {
		batch = append(batch, NewBean(fmt.Sprintf("s%02d", i), int64(i)))
	}
	require.NoError(t, c.SaveAll(ctx, batch))
	for _, b := range batch {
		assert.False(t, b.GetID().IsZero())
	}

	n, err := c.Count(ctx, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(25), n)

	est, err := c.EstimatedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(25), est)

	// saving the same batch again updates in place
	batch[0].Int1 = 100
	require.NoError(t, c.SaveAll(ctx, batch))
	n, err = c.Count(ctx, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(25), n)

	got := find(t, c, filter.NewGte("int1", 100), collection.FindOptions{})
	require.Len(t, got, 1)
	assert.Equal(t, "s00", got[0].StringProperty)
}

func testFindOrdering(t *testing.T, f collection.Factory) {
	ctx := context.Background()
	c := beans(t, f, "ordering")

	_, err := c.Save(ctx, NewBean("b", 2))
	require.NoError(t, err)
	_, err = c.Save(ctx, NewBean("a", 1))
	require.NoError(t, err)

	asc := collection.OrderBy("stringProperty", collection.Ascending)
	desc := collection.OrderBy("stringProperty", collection.Descending)

	assert.Equal(t, []string{"a", "b"}, names(find(t, c, filter.Empty(), collection.FindOptions{Order: asc})))
	assert.Equal(t, []string{"b", "a"}, names(find(t, c, filter.Empty(), collection.FindOptions{Order: desc})))
	assert.Equal(t, []string{"b"}, names(find(t, c, filter.Empty(), collection.FindOptions{Order: asc, Skip: 1, Limit: 1})))
	assert.Equal(t, []string{"a"}, names(find(t, c, filter.Empty(), collection.FindOptions{Order: asc, Limit: 1})))
	assert.Empty(t, find(t, c, filter.Empty(), collection.FindOptions{Order: asc, Skip: 5}))

	byNumber := collection.OrderBy("int1", collection.Descending)
	assert.Equal(t, []string{"b", "a"}, names(find(t, c, nil, collection.FindOptions{Order: byNumber})))
}

func testMultiKeyOrder(t *testing.T, f collection.Factory) {
	ctx := context.Background()
	c := beans(t, f, "multikey")

	for _, b := range []*Bean{NewBean("x", 2), NewBean("y", 1), NewBean("z", 2), NewBean("w", 1)} {
		_, err := c.Save(ctx, b)
		require.NoError(t, err)
	}

	order := collection.OrderBy("int1", collection.Ascending).Then("stringProperty", collection.Descending)
	assert.Equal(t, []string{"y", "w", "z", "x"}, names(find(t, c, nil, collection.FindOptions{Order: order})))

	// identity breaks the remaining ties in insertion order
	same := []*Bean{NewBean("t1", 7), NewBean("t2", 7), NewBean("t3", 7)}
	for _, b := range same {
		_, err := c.Save(ctx, b)
		require.NoError(t, err)
	}
	got := find(t, c, filter.NewGte("int1", 7), collection.FindOptions{Order: collection.OrderBy("int1", collection.Ascending)})
	assert.Equal(t, []string{"t1", "t2", "t3"}, names(got))
}

func testCount(t *testing.T, f collection.Factory) {
	ctx := context.Background()
	c := beans(t, f, "count")

	for i := 0; i < 10; i++ {
		_, err := c.Save(ctx, NewBean("s", int64(i)))
		require.NoError(t, err)
	}

	n, err := c.Count(ctx, filter.NewGte("int1", 5), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = c.Count(ctx, filter.NewGte("int1", 5), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	found := find(t, c, filter.NewGte("int1", 5), collection.FindOptions{})
	assert.Len(t, found, 5)
}

func testFilters(t *testing.T, f collection.Factory) {
	ctx := context.Background()
	c := beans(t, f, "filters")

	core := NewBean("core-01", 1)
	core.SetAttribute("site", "fra1")
	core.Ratio = 0.5
	core.Flag = true
	edge := NewBean("Edge-02", 5)
	edge.SetAttribute("site", "ams2")
	plain := NewBean("plain", 10)
	require.NoError(t, c.SaveAll(ctx, []*Bean{core, edge, plain}))

	tests := []struct {
		name string
		f    filter.Filter
		want []string
	}{
		{"equals string", filter.Eq("stringProperty", "plain"), []string{"plain"}},
		{"equals int", filter.Eq("int1", 5), []string{"Edge-02"}},
		{"equals bool", filter.Eq("flag", true), []string{"core-01"}},
		{"equals nested", filter.Eq("attributes.site", "fra1"), []string{"core-01"}},
		{"equals missing", filter.Eq("attributes.site", "nowhere"), nil},
		{"equals id", filter.EqID(edge.GetID()), []string{"Edge-02"}},
		{"gt", filter.NewGt("int1", 1), []string{"Edge-02", "plain"}},
		{"gte", filter.NewGte("int1", 5), []string{"Edge-02", "plain"}},
		{"lt", filter.NewLt("int1", 5), []string{"core-01"}},
		{"lte", filter.NewLte("int1", 5), []string{"Edge-02", "core-01"}},
		{"regex sensitive", filter.NewRegex("stringProperty", "^edge", true), nil},
		{"regex insensitive", filter.NewRegex("stringProperty", "^edge", false), []string{"Edge-02"}},
		{"regex unanchored", filter.NewRegex("stringProperty", "-0", true), []string{"Edge-02", "core-01"}},
		{"exists", filter.NewExists("attributes.site"), []string{"Edge-02", "core-01"}},
		{"not exists", filter.NewNot(filter.NewExists("attributes")), []string{"plain"}},
		{"and", filter.NewAnd(filter.NewGt("int1", 1), filter.Eq("attributes.site", "ams2")), []string{"Edge-02"}},
		{"or", filter.NewOr(filter.Eq("int1", 1), filter.Eq("int1", 10)), []string{"core-01", "plain"}},
		{"in", filter.InStrings("stringProperty", "plain", "core-01", "absent"), []string{"core-01", "plain"}},
		{"in nothing", filter.InStrings("stringProperty"), nil},
		{"true", filter.NewTrue(), []string{"Edge-02", "core-01", "plain"}},
		{"false", filter.NewFalse(), nil},
		{"empty and", filter.NewAnd(), []string{"Edge-02", "core-01", "plain"}},
	}
	for _, tt := range tests {
		got := names(find(t, c, tt.f, collection.FindOptions{}))
		sort.Strings(got)
		if tt.want == nil {
			assert.Empty(t, got, tt.name)
			continue
		}
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func testOQL(t *testing.T, f collection.Factory) {
	ctx := context.Background()
	c := beans(t, f, "oql")

	one := NewBean("one", 1)
	one.SetAttribute("MyAtt1", "My value 1")
	two := NewBean("two", 2)
	require.NoError(t, c.SaveAll(ctx, []*Bean{one, two}))

	tests := []struct {
		query string
		want  []string
	}{
		{`int1 < 2`, []string{"one"}},
		{`int1 >= 2`, []string{"two"}},
		{`int1 = 2`, []string{"two"}},
		{`stringProperty != one`, []string{"two"}},
		{`stringProperty ~ "^T"`, []string{"two"}},
		{`attributes.MyAtt1 = "My value 1"`, []string{"one"}},
		{`int1 in (1, 2) and not(stringProperty = one)`, []string{"two"}},
		{``, []string{"one", "two"}},
	}
	for _, tt := range tests {
		fl, err := oql.Parse(tt.query)
		require.NoError(t, err, tt.query)
		got := names(find(t, c, fl, collection.FindOptions{}))
		sort.Strings(got)
		assert.Equal(t, tt.want, got, tt.query)
	}
}

func testFulltext(t *testing.T, f collection.Factory) {
	ctx := context.Background()
	c := beans(t, f, "fulltext")

	a := NewBean("link timeout on uplink", 1)
	b := NewBean("all good", 2)
	require.NoError(t, c.SaveAll(ctx, []*Bean{a, b}))

	got := find(t, c, filter.NewFulltext("TIMEOUT"), collection.FindOptions{})
	assert.Equal(t, []string{"link timeout on uplink"}, names(got))
}

func testDistinctAndRemove(t *testing.T, f collection.Factory) {
	ctx := context.Background()
	c := beans(t, f, "distinct")

	one := NewBean("one", 1)
	one.SetAttribute("MyAtt1", "My value 1")
	two := NewBean("two", 2)
	two.SetAttribute("MyAtt1", "My value 2")
	dup := NewBean("dup", 3)
	dup.SetAttribute("MyAtt1", "My value 2")
	none := NewBean("none", 4)
	for _, b := range []*Bean{one, two, dup, none} {
		_, err := c.Save(ctx, b)
		require.NoError(t, err)
	}

	values, err := c.Distinct(ctx, "attributes.MyAtt1", filter.Empty())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"My value 1", "My value 2"}, values)

	values, err = c.Distinct(ctx, "attributes.MyAtt1", filter.NewLt("int1", 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"My value 1"}, values)

	require.NoError(t, c.Remove(ctx, filter.Empty()))
	assert.Empty(t, find(t, c, filter.Empty(), collection.FindOptions{}))

	values, err = c.Distinct(ctx, "attributes.MyAtt1", filter.Empty())
	require.NoError(t, err)
	assert.Empty(t, values)
}

func testRemoveIdempotent(t *testing.T, f collection.Factory) {
	ctx := context.Background()
	c := beans(t, f, "remove")

	a, b := NewBean("a", 1), NewBean("b", 2)
	require.NoError(t, c.SaveAll(ctx, []*Bean{a, b}))

	require.NoError(t, c.Remove(ctx, filter.EqID(a.GetID())))
	require.NoError(t, c.Remove(ctx, filter.EqID(a.GetID())))
	require.NoError(t, c.Remove(ctx, filter.Eq("stringProperty", "never")))

	assert.Equal(t, []string{"b"}, names(find(t, c, nil, collection.FindOptions{})))
}

func testIndexes(t *testing.T, f collection.Factory) {
	ctx := context.Background()
	c := beans(t, f, "indexes")
	_, err := c.Save(ctx, NewBean("a", 1))
	require.NoError(t, err)

	field := collection.IndexField{FieldName: "stringProperty", Order: collection.Ascending, FieldClass: collection.FieldString}
	require.NoError(t, c.CreateOrUpdateIndex(ctx, field))
	require.NoError(t, c.CreateOrUpdateIndex(ctx, field))
	require.NoError(t, c.CreateOrUpdateCompoundIndex(ctx, field,
		collection.IndexField{FieldName: "int1", Order: collection.Descending, FieldClass: collection.FieldNumber}))
	require.NoError(t, c.DropIndex(ctx, collection.IndexName(field)))
}

func testRenameThenDrop(t *testing.T, f collection.Factory) {
	ctx := context.Background()
	c := beans(t, f, "before_rename")
	_, err := c.Save(ctx, NewBean("kept", 1))
	require.NoError(t, err)

	require.NoError(t, c.Rename(ctx, "after_rename"))
	assert.Equal(t, "after_rename", c.Name())
	assert.Equal(t, []string{"kept"}, names(find(t, c, nil, collection.FindOptions{})))

	renamed := beans(t, f, "after_rename")
	assert.Equal(t, []string{"kept"}, names(find(t, renamed, nil, collection.FindOptions{})))

	require.NoError(t, c.Drop(ctx))
	fresh := beans(t, f, "after_rename")
	n, err := fresh.Count(ctx, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	old := beans(t, f, "before_rename")
	n, err = old.Count(ctx, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
