package mongo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/filter"
	"github.com/xtxerr/strata/internal/oql"
)

func TestFieldName(t *testing.T) {
	tests := map[string]string{
		"id":            "_id",
		"_id":           "_id",
		"a.b":           "a.b",
		"entity._id":    "entity.id",
		"entity.id":     "entity.id",
		"attributes.ip": "attributes.ip",
	}
	for in, want := range tests {
		got, err := FieldName(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := FieldName("")
	assert.ErrorIs(t, err, errors.ErrNoSuchProperty)
}

func TestBuild(t *testing.T) {
	id := document.NewObjectID()

	tests := []struct {
		name string
		f    filter.Filter
		want bson.D
	}{
		{"nil", nil, bson.D{}},
		{"true", filter.NewTrue(), bson.D{}},
		{"false", filter.NewFalse(), unsatisfiable},
		{"equals", filter.Eq("a.b", "x"), bson.D{{Key: "a.b", Value: "x"}}},
		{"equals id", filter.Eq("id", id.Hex()), bson.D{{Key: "_id", Value: id}}},
		{"equals object id", filter.EqID(id), bson.D{{Key: "_id", Value: id}}},
		{"equals bad id", filter.Eq("_id", "nope"), bson.D{{Key: "_id", Value: "nope"}}},
		{"gt", filter.NewGt("n", 3), bson.D{{Key: "n", Value: bson.D{{Key: "$gt", Value: int64(3)}}}}},
		{"lte", filter.NewLte("n", 3), bson.D{{Key: "n", Value: bson.D{{Key: "$lte", Value: int64(3)}}}}},
		{"regex", filter.NewRegex("s", "^a", false), bson.D{{Key: "s", Value: primitive.Regex{Pattern: "^a", Options: "i"}}}},
		{"regex sensitive", filter.NewRegex("s", "^a", true), bson.D{{Key: "s", Value: primitive.Regex{Pattern: "^a"}}}},
		{"exists", filter.NewExists("a"), bson.D{{Key: "a", Value: bson.D{{Key: "$exists", Value: true}, {Key: "$ne", Value: nil}}}}},
		{"fulltext", filter.NewFulltext("up"), bson.D{{Key: "$text", Value: bson.D{{Key: "$search", Value: "up"}}}}},
		{"not", filter.NewNot(filter.Eq("a", "x")), bson.D{{Key: "$nor", Value: bson.A{bson.D{{Key: "a", Value: "x"}}}}}},
		{"empty and", filter.NewAnd(), bson.D{}},
		{"empty or", filter.NewOr(), unsatisfiable},
		{
			"and or",
			filter.NewAnd(filter.Eq("a", "x"), filter.NewOr(filter.NewGt("n", 1), filter.NewExists("b"))),
			bson.D{{Key: "$and", Value: bson.A{
				bson.D{{Key: "a", Value: "x"}},
				bson.D{{Key: "$or", Value: bson.A{
					bson.D{{Key: "n", Value: bson.D{{Key: "$gt", Value: int64(1)}}}},
					bson.D{{Key: "b", Value: bson.D{{Key: "$exists", Value: true}, {Key: "$ne", Value: nil}}}},
				}}},
			}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FilterFactory{}.Build(tt.f)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildFromOQL(t *testing.T) {
	got, err := FilterFactory{}.Build(oql.MustParse(`site = fra1 and n != 3`))
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "site", Value: "fra1"}},
		bson.D{{Key: "$nor", Value: bson.A{
			bson.D{{Key: "n", Value: int64(3)}},
		}}},
	}}}, got)
}

func TestBuildRejectsInvalidRegex(t *testing.T) {
	_, err := FilterFactory{}.Build(filter.NewRegex("a", "(", true))
	assert.ErrorIs(t, err, errors.ErrInvalidValue)
}
