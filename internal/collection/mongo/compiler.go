package mongo

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/filter"
)

// FilterFactory compiles filters into BSON query documents.
type FilterFactory struct{}

var _ collection.FilterFactory[bson.D] = FilterFactory{}

// unsatisfiable matches no document: every stored document has an _id.
var unsatisfiable = bson.D{{Key: "_id", Value: bson.D{{Key: "$exists", Value: false}}}}

// Build implements collection.FilterFactory.
func (FilterFactory) Build(f filter.Filter) (bson.D, error) {
	return build(collection.OrEmpty(f))
}

func build(f filter.Filter) (bson.D, error) {
	switch n := f.(type) {
	case *filter.True:
		return bson.D{}, nil
	case *filter.False:
		return unsatisfiable, nil

	case *filter.And:
		if len(n.Children) == 0 {
			return bson.D{}, nil
		}
		children, err := buildAll(n.Children)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$and", Value: children}}, nil
	case *filter.Or:
		if len(n.Children) == 0 {
			return unsatisfiable, nil
		}
		children, err := buildAll(n.Children)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$or", Value: children}}, nil
	case *filter.Not:
		if n.Child == nil {
			return nil, errors.NewUnsupportedFilter("mongo", f)
		}
		child, err := build(n.Child)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$nor", Value: bson.A{child}}}, nil

	case *filter.Equals:
		field, err := FieldName(n.Field)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: field, Value: queryValue(field, n.Value)}}, nil

	case *filter.Gt:
		return operator(n.Field, "$gt", n.Value)
	case *filter.Gte:
		return operator(n.Field, "$gte", n.Value)
	case *filter.Lt:
		return operator(n.Field, "$lt", n.Value)
	case *filter.Lte:
		return operator(n.Field, "$lte", n.Value)

	case *filter.Regex:
		if _, err := collection.CompileRegex(n.Expression, true); err != nil {
			return nil, err
		}
		field, err := FieldName(n.Field)
		if err != nil {
			return nil, err
		}
		options := ""
		if !n.CaseSensitive {
			options = "i"
		}
		return bson.D{{Key: field, Value: primitive.Regex{Pattern: n.Expression, Options: options}}}, nil

	case *filter.Exists:
		field, err := FieldName(n.Field)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: field, Value: bson.D{
			{Key: "$exists", Value: true},
			{Key: "$ne", Value: nil},
		}}}, nil

	case *filter.Fulltext:
		return bson.D{{Key: "$text", Value: bson.D{{Key: "$search", Value: n.Expression}}}}, nil
	}
	return nil, errors.NewUnsupportedFilter("mongo", f)
}

func buildAll(filters []filter.Filter) (bson.A, error) {
	out := make(bson.A, 0, len(filters))
	for _, f := range filters {
		d, err := build(f)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func operator(field, op string, value int64) (bson.D, error) {
	name, err := FieldName(field)
	if err != nil {
		return nil, err
	}
	return bson.D{{Key: name, Value: bson.D{{Key: op, Value: value}}}}, nil
}

// FieldName maps a dotted field to its stored name. The root identity is
// stored as _id; nested identities keep the document form "id".
func FieldName(field string) (string, error) {
	path, err := document.ParsePath(field)
	if err != nil {
		return "", err
	}
	if len(path) == 1 && (path[0] == document.IDField || path[0] == document.StorageIDField) {
		return document.StorageIDField, nil
	}
	segs := make([]string, len(path))
	for i, seg := range path {
		if seg == document.StorageIDField {
			seg = document.IDField
		}
		segs[i] = seg
	}
	return strings.Join(segs, "."), nil
}

// queryValue converts a hex string compared against _id to an ObjectID.
// Strings that are not valid hex stay strings and match nothing.
func queryValue(field string, v any) any {
	if field != document.StorageIDField {
		return v
	}
	if s, ok := v.(string); ok {
		if id, err := document.ParseObjectID(s); err == nil {
			return id
		}
	}
	return v
}
