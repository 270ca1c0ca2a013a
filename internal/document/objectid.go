package document

import (
	"bytes"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/xtxerr/strata/internal/errors"
)

// ObjectID is the 12-byte, time-ordered identity of every stored entity.
// It is the BSON ObjectID so the document-store backend can use it natively.
type ObjectID = primitive.ObjectID

// NilObjectID is the zero identity; an entity carrying it has not been saved.
var NilObjectID = primitive.NilObjectID

const (
	// IDField is the identity key of the document form.
	IDField = "id"

	// StorageIDField is the identity key used by document stores and in
	// nested snapshots. Paths accept it as an alias of IDField.
	StorageIDField = "_id"

	// ClassField is the synthetic property naming the entity's type.
	ClassField = "_class"
)

// NewObjectID generates a fresh identity.
func NewObjectID() ObjectID {
	return primitive.NewObjectID()
}

// ParseObjectID parses the 24-character hex form.
func ParseObjectID(s string) (ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return NilObjectID, fmt.Errorf("%q: %w", s, errors.ErrInvalidID)
	}
	return id, nil
}

// IsValidObjectID reports whether s is a parseable identity.
func IsValidObjectID(s string) bool {
	return primitive.IsValidObjectID(s)
}

// CompareIDs orders identities bytewise, which is creation order for
// generated ids.
func CompareIDs(a, b ObjectID) int {
	return bytes.Compare(a[:], b[:])
}

// IDFromValue converts a stored identity value (hex string or ObjectID) into
// an ObjectID. ok is false when v carries no valid identity.
func IDFromValue(v any) (ObjectID, bool) {
	switch x := v.(type) {
	case ObjectID:
		return x, !x.IsZero()
	case *ObjectID:
		if x == nil {
			return NilObjectID, false
		}
		return *x, !x.IsZero()
	case string:
		id, err := primitive.ObjectIDFromHex(x)
		if err != nil {
			return NilObjectID, false
		}
		return id, !id.IsZero()
	}
	return NilObjectID, false
}
