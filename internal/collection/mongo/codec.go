package mongo

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/xtxerr/strata/internal/document"
)

// toBSON converts a document for storage. The root "id" becomes the
// ObjectID _id.
func toBSON(doc *document.Document) bson.D {
	out := make(bson.D, 0, doc.Len())
	id := doc.GetID()
	if !id.IsZero() {
		out = append(out, bson.E{Key: document.StorageIDField, Value: id})
	}
	doc.Range(func(key string, value any) bool {
		if key == document.IDField {
			return true
		}
		out = append(out, bson.E{Key: key, Value: toBSONValue(value)})
		return true
	})
	return out
}

func toBSONValue(v any) any {
	switch x := v.(type) {
	case *document.Document:
		out := make(bson.D, 0, x.Len())
		x.Range(func(key string, value any) bool {
			out = append(out, bson.E{Key: key, Value: toBSONValue(value)})
			return true
		})
		return out
	case []any:
		out := make(bson.A, len(x))
		for i, e := range x {
			out[i] = toBSONValue(e)
		}
		return out
	}
	return v
}

// fromBSON converts a stored document back. _id becomes the hex "id" in
// first position.
func fromBSON(d bson.D) *document.Document {
	doc := document.New()
	for _, e := range d {
		if e.Key == document.StorageIDField {
			if id, ok := e.Value.(primitive.ObjectID); ok {
				doc.Set(document.IDField, id.Hex())
				continue
			}
		}
	}
	for _, e := range d {
		if e.Key == document.StorageIDField {
			if _, ok := e.Value.(primitive.ObjectID); ok {
				continue
			}
		}
		doc.Set(e.Key, fromBSONValue(e.Value))
	}
	return doc
}

func fromBSONValue(v any) any {
	switch x := v.(type) {
	case bson.D:
		return fromBSON(x)
	case bson.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = fromBSONValue(e)
		}
		return out
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case primitive.ObjectID:
		return x.Hex()
	case primitive.DateTime:
		return int64(x)
	case primitive.Decimal128:
		return x.String()
	case primitive.Regex:
		return x.Pattern
	}
	return v
}
