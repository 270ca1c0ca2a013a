package filter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
)

func sampleTrees() []Filter {
	id := document.NewObjectID()
	return []Filter{
		NewTrue(),
		NewFalse(),
		Eq("name", "router-01"),
		Eq("count", 42),
		Eq("ratio", 0.25),
		Eq("enabled", true),
		Eq("missing", nil),
		EqID(id),
		NewGt("a", -1),
		NewGte("a", 0),
		NewLt("a", 10),
		NewLte("a", 1<<40),
		NewRegex("attributes.host", "^core-.*", false),
		NewRegex("attributes.host", "edge", true),
		NewExists("attributes.site"),
		NewFulltext("timeout"),
		NewAnd(),
		NewOr(),
		NewAnd(
			Eq("attributes.MyAtt1", "My value 1"),
			NewOr(NewGt("n", 1), NewNot(NewExists("x"))),
			NewNot(NewAnd(Eq("a", "b"), NewFalse())),
		),
	}
}

func TestRoundTrip(t *testing.T) {
	for _, f := range sampleTrees() {
		data, err := Marshal(f)
		require.NoError(t, err, String(f))

		back, err := Unmarshal(data)
		require.NoError(t, err, string(data))
		assert.True(t, Equal(f, back), "round trip changed %s into %s", String(f), String(back))
	}
}

func TestWireFormat(t *testing.T) {
	data, err := Marshal(Eq("attributes.site", "fra1"))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "Equals", m["type"])
	assert.Equal(t, "attributes.site", m["field"])
	assert.Equal(t, "fra1", m["expectedValue"])
	assert.Contains(t, m, "children")
	assert.Nil(t, m["children"])

	data, err = Marshal(NewAnd(NewTrue()))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &m))
	children, ok := m["children"].([]any)
	require.True(t, ok)
	assert.Len(t, children, 1)
}

func TestUnmarshalMissingChildren(t *testing.T) {
	f, err := Unmarshal([]byte(`{"type":"And"}`))
	require.NoError(t, err)
	and, ok := f.(*And)
	require.True(t, ok)
	assert.Empty(t, and.Children)
	assert.True(t, Equal(f, NewAnd()))
}

func TestUnmarshalNestedComposites(t *testing.T) {
	f, err := Unmarshal([]byte(`{"type":"Not","children":[
		{"type":"Or","children":[
			{"type":"And","children":[{"type":"Gt","field":"n","value":3}]},
			{"type":"Exists","field":"x"}
		]}
	]}`))
	require.NoError(t, err)
	want := NewNot(NewOr(NewAnd(NewGt("n", 3)), NewExists("x")))
	assert.True(t, Equal(want, f), String(f))

	_, err = Unmarshal([]byte(`{"type":"Not","children":[{"type":"True"},{"type":"False"}]}`))
	assert.ErrorIs(t, err, errors.ErrInvalidValue)
}

func TestUnmarshalUntypedExpectedValue(t *testing.T) {
	f, err := Unmarshal([]byte(`{"type":"Equals","field":"n","expectedValue":7}`))
	require.NoError(t, err)
	assert.Equal(t, int64(7), f.(*Equals).Value)

	f, err = Unmarshal([]byte(`{"type":"Equals","field":"s","expectedValue":"x","children":null}`))
	require.NoError(t, err)
	assert.Equal(t, "x", f.(*Equals).Value)
}

func TestUnmarshalUnknownType(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":"Between","field":"a"}`))
	assert.ErrorIs(t, err, errors.ErrUnsupportedFilter)
}

func TestEqualsValueNormalization(t *testing.T) {
	f, err := NewEquals("n", int32(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), f.Value)

	f, err = NewEquals("f", float32(0.5))
	require.NoError(t, err)
	assert.Equal(t, 0.5, f.Value)

	type state string
	f, err = NewEquals("s", state("up"))
	require.NoError(t, err)
	assert.Equal(t, "up", f.Value)

	_, err = NewEquals("x", []string{"a"})
	assert.ErrorIs(t, err, errors.ErrInvalidValue)

	_, err = NewEquals("", "a")
	assert.ErrorIs(t, err, errors.ErrInvalidValue)
}

func TestIn(t *testing.T) {
	f, err := In("a", nil)
	require.NoError(t, err)
	assert.Equal(t, KindFalse, f.Kind())

	f, err = In("a", []any{"x", 2})
	require.NoError(t, err)
	or, ok := f.(*Or)
	require.True(t, ok)
	require.Len(t, or.Children, 2)
	assert.True(t, Equal(or.Children[0], Eq("a", "x")))
	assert.True(t, Equal(or.Children[1], Eq("a", int64(2))))
}

func TestFromMap(t *testing.T) {
	f, err := FromMap("attributes", map[string]any{"b": "2", "a": "1"})
	require.NoError(t, err)
	assert.True(t, Equal(f, NewAnd(Eq("attributes.a", "1"), Eq("attributes.b", "2"))))

	f, err = FromMap("", nil)
	require.NoError(t, err)
	assert.Equal(t, KindTrue, f.Kind())

	f, err = FromMap("", map[string]any{"a": "1"})
	require.NoError(t, err)
	assert.True(t, Equal(f, Eq("a", "1")))
}

func TestCollectFilterAttributes(t *testing.T) {
	f := NewAnd(
		Eq("a", "1"),
		NewOr(NewGt("b", 1), NewNot(NewExists("c"))),
		NewFulltext("x"),
		NewTrue(),
		Eq("a", "2"),
	)
	got := CollectFilterAttributes(f)
	assert.Equal(t, map[string]struct{}{"a": {}, "b": {}, "c": {}}, got)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(&And{}, &And{Children: []Filter{}}))
	assert.False(t, Equal(Eq("a", int64(1)), Eq("a", 1.0)))
	assert.False(t, Equal(NewRegex("a", "x", true), NewRegex("a", "x", false)))
	assert.False(t, Equal(NewAnd(NewTrue()), NewOr(NewTrue())))
	assert.False(t, Equal(NewAnd(NewTrue(), NewFalse()), NewAnd(NewFalse(), NewTrue())))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(NewTrue(), nil))
}

func TestString(t *testing.T) {
	f := NewAnd(Eq("a", "x"), NewNot(NewLt("b", 3)))
	assert.Equal(t, `(a = "x" and not(b < 3))`, String(f))
}
