// Package filter defines the predicate tree used to select entities from a
// collection.
//
// A Filter is a closed sum type: the concrete node types are declared in this
// package and nowhere else. Every backend compiler switches exhaustively over
// them and rejects anything it does not know with errors.ErrUnsupportedFilter.
//
// Leaf nodes address a field with a dotted path into the entity's document
// form, e.g. "attributes.property1". Composite nodes (And, Or, Not) own their
// children and carry no field.
package filter

import (
	"fmt"
	"math"
	"reflect"

	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
)

// Kind is the serialization discriminator of a filter node.
type Kind string

const (
	KindAnd      Kind = "And"
	KindOr       Kind = "Or"
	KindNot      Kind = "Not"
	KindEquals   Kind = "Equals"
	KindGt       Kind = "Gt"
	KindGte      Kind = "Gte"
	KindLt       Kind = "Lt"
	KindLte      Kind = "Lte"
	KindRegex    Kind = "Regex"
	KindExists   Kind = "Exists"
	KindFulltext Kind = "Fulltext"
	KindTrue     Kind = "True"
	KindFalse    Kind = "False"
)

// Filter is a node of the predicate tree.
type Filter interface {
	// Kind returns the node's discriminator.
	Kind() Kind
	// FieldName returns the addressed field, or "" for composite,
	// True, False and Fulltext nodes.
	FieldName() string

	sealed()
}

// =============================================================================
// Composite nodes
// =============================================================================

// And matches when every child matches. An And without children matches
// everything.
type And struct {
	Children []Filter
}

// Or matches when at least one child matches. An Or without children
// matches nothing.
type Or struct {
	Children []Filter
}

// Not negates its single child.
type Not struct {
	Child Filter
}

func (*And) Kind() Kind        { return KindAnd }
func (*Or) Kind() Kind         { return KindOr }
func (*Not) Kind() Kind        { return KindNot }
func (*And) FieldName() string { return "" }
func (*Or) FieldName() string  { return "" }
func (*Not) FieldName() string { return "" }
func (*And) sealed()           {}
func (*Or) sealed()            {}
func (*Not) sealed()           {}

// =============================================================================
// Leaf nodes
// =============================================================================

// Equals matches when the field equals Value. Value is one of nil, bool,
// int64, float64, string or document.ObjectID.
type Equals struct {
	Field string
	Value any
}

// Gt matches when the numeric field is strictly greater than Value.
type Gt struct {
	Field string
	Value int64
}

// Gte matches when the numeric field is greater than or equal to Value.
type Gte struct {
	Field string
	Value int64
}

// Lt matches when the numeric field is strictly lower than Value.
type Lt struct {
	Field string
	Value int64
}

// Lte matches when the numeric field is lower than or equal to Value.
type Lte struct {
	Field string
	Value int64
}

// Regex matches when the field's string form contains a match of Expression.
type Regex struct {
	Field         string
	Expression    string
	CaseSensitive bool
}

// Exists matches when the field is present and not null.
type Exists struct {
	Field string
}

// Fulltext matches when any string value of the entity contains Expression.
type Fulltext struct {
	Expression string
}

// True matches everything.
type True struct{}

// False matches nothing.
type False struct{}

func (*Equals) Kind() Kind   { return KindEquals }
func (*Gt) Kind() Kind       { return KindGt }
func (*Gte) Kind() Kind      { return KindGte }
func (*Lt) Kind() Kind       { return KindLt }
func (*Lte) Kind() Kind      { return KindLte }
func (*Regex) Kind() Kind    { return KindRegex }
func (*Exists) Kind() Kind   { return KindExists }
func (*Fulltext) Kind() Kind { return KindFulltext }
func (*True) Kind() Kind     { return KindTrue }
func (*False) Kind() Kind    { return KindFalse }

func (f *Equals) FieldName() string { return f.Field }
func (f *Gt) FieldName() string     { return f.Field }
func (f *Gte) FieldName() string    { return f.Field }
func (f *Lt) FieldName() string     { return f.Field }
func (f *Lte) FieldName() string    { return f.Field }
func (f *Regex) FieldName() string  { return f.Field }
func (f *Exists) FieldName() string { return f.Field }
func (*Fulltext) FieldName() string { return "" }
func (*True) FieldName() string     { return "" }
func (*False) FieldName() string    { return "" }

func (*Equals) sealed()   {}
func (*Gt) sealed()       {}
func (*Gte) sealed()      {}
func (*Lt) sealed()       {}
func (*Lte) sealed()      {}
func (*Regex) sealed()    {}
func (*Exists) sealed()   {}
func (*Fulltext) sealed() {}
func (*True) sealed()     {}
func (*False) sealed()    {}

// Children returns the child nodes of a composite filter and nil for leaves.
func Children(f Filter) []Filter {
	switch n := f.(type) {
	case *And:
		return n.Children
	case *Or:
		return n.Children
	case *Not:
		if n.Child == nil {
			return nil
		}
		return []Filter{n.Child}
	default:
		return nil
	}
}

// IsComposite reports whether f is an And, Or or Not node.
func IsComposite(f Filter) bool {
	switch f.(type) {
	case *And, *Or, *Not:
		return true
	}
	return false
}

// =============================================================================
// Value normalization
// =============================================================================

// NormalizeValue maps a Go value accepted by Equals onto its canonical
// representation: integers become int64, float32 becomes float64.
func NormalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, int64, float64, string, document.ObjectID:
		return x, nil
	case *document.ObjectID:
		if x == nil {
			return nil, nil
		}
		return *x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, fmt.Errorf("%d overflows int64: %w", x, errors.ErrInvalidValue)
		}
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("%d overflows int64: %w", x, errors.ErrInvalidValue)
		}
		return int64(x), nil
	case float32:
		return float64(x), nil
	}

	// Named string/bool types (e.g. enums) are compared by their underlying value.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	}
	return nil, fmt.Errorf("unsupported equals value type %T: %w", v, errors.ErrInvalidValue)
}
