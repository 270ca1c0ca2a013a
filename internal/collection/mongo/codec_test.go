package mongo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/xtxerr/strata/internal/document"
)

func TestToBSONMovesIdentity(t *testing.T) {
	id := document.NewObjectID()
	nested := document.New()
	nested.Set("id", "abc")
	nested.Set("n", int64(1))

	doc := document.New()
	doc.Set("name", "sw1")
	doc.SetID(id)
	doc.Set("entity", nested)
	doc.Set("tags", []any{"a", int64(2)})

	got := toBSON(doc)
	require.NotEmpty(t, got)
	assert.Equal(t, bson.E{Key: "_id", Value: id}, got[0])
	assert.Equal(t, bson.D{
		{Key: "_id", Value: id},
		{Key: "name", Value: "sw1"},
		{Key: "entity", Value: bson.D{{Key: "id", Value: "abc"}, {Key: "n", Value: int64(1)}}},
		{Key: "tags", Value: bson.A{"a", int64(2)}},
	}, got)
}

func TestFromBSON(t *testing.T) {
	id := primitive.NewObjectID()
	ref := primitive.NewObjectID()
	d := bson.D{
		{Key: "name", Value: "sw1"},
		{Key: "_id", Value: id},
		{Key: "port", Value: int32(161)},
		{Key: "ref", Value: bson.D{{Key: "_id", Value: ref}}},
		{Key: "seen", Value: primitive.DateTime(42)},
		{Key: "list", Value: bson.A{int32(1), "x"}},
	}

	doc := fromBSON(d)
	assert.Equal(t, []string{"id", "name", "port", "ref", "seen", "list"}, doc.Keys())
	assert.Equal(t, id, doc.GetID())

	port, _ := doc.Get("port")
	assert.Equal(t, int64(161), port)
	seen, _ := doc.Get("seen")
	assert.Equal(t, int64(42), seen)
	list, _ := doc.Get("list")
	assert.Equal(t, []any{int64(1), "x"}, list)

	v, _ := doc.Get("ref")
	nested, ok := v.(*document.Document)
	require.True(t, ok)
	assert.Equal(t, ref, nested.GetID())
}

func TestRoundTrip(t *testing.T) {
	doc := document.New()
	doc.SetID(document.NewObjectID())
	doc.Set("a", "b")
	doc.Set("n", int64(7))

	got := fromBSON(toBSON(doc))
	assert.Equal(t, doc.String(), got.String())
}
