package filter

import (
	"fmt"

	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
)

// NewAnd combines filters with a logical and.
func NewAnd(children ...Filter) *And {
	return &And{Children: nonNil(children)}
}

// NewOr combines filters with a logical or.
func NewOr(children ...Filter) *Or {
	return &Or{Children: nonNil(children)}
}

// NewNot negates f.
func NewNot(f Filter) *Not {
	return &Not{Child: f}
}

// NewEquals builds an Equals node after validating the field and normalizing
// the value (see NormalizeValue).
func NewEquals(field string, value any) (*Equals, error) {
	if err := checkField(field); err != nil {
		return nil, err
	}
	v, err := NormalizeValue(value)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", field, err)
	}
	return &Equals{Field: field, Value: v}, nil
}

// Eq is NewEquals for values known to be valid. It panics otherwise.
func Eq(field string, value any) *Equals {
	f, err := NewEquals(field, value)
	if err != nil {
		panic(err)
	}
	return f
}

// EqID matches the entity with the given identity.
func EqID(id document.ObjectID) *Equals {
	return &Equals{Field: document.IDField, Value: id}
}

// NewGt returns field > value.
func NewGt(field string, value int64) *Gt { mustField(field); return &Gt{Field: field, Value: value} }

// NewGte returns field >= value.
func NewGte(field string, value int64) *Gte { mustField(field); return &Gte{Field: field, Value: value} }

// NewLt returns field < value.
func NewLt(field string, value int64) *Lt { mustField(field); return &Lt{Field: field, Value: value} }

// NewLte returns field <= value.
func NewLte(field string, value int64) *Lte { mustField(field); return &Lte{Field: field, Value: value} }

// NewRegex matches the string form of field against expression.
func NewRegex(field, expression string, caseSensitive bool) *Regex {
	mustField(field)
	return &Regex{Field: field, Expression: expression, CaseSensitive: caseSensitive}
}

// NewExists matches entities where field is set.
func NewExists(field string) *Exists {
	mustField(field)
	return &Exists{Field: field}
}

// NewFulltext matches entities containing expression in any string value.
func NewFulltext(expression string) *Fulltext {
	return &Fulltext{Expression: expression}
}

// NewTrue matches everything.
func NewTrue() *True { return &True{} }

// NewFalse matches nothing.
func NewFalse() *False { return &False{} }

// Empty is the filter used when a caller supplies no criteria.
func Empty() Filter { return &True{} }

// In desugars "field in (values...)" to an Or of Equals. An empty value list
// yields False so that "in nothing" can never match.
func In(field string, values []any) (Filter, error) {
	if err := checkField(field); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return &False{}, nil
	}
	children := make([]Filter, 0, len(values))
	for _, v := range values {
		eq, err := NewEquals(field, v)
		if err != nil {
			return nil, err
		}
		children = append(children, eq)
	}
	return &Or{Children: children}, nil
}

// InStrings is In for string values.
func InStrings(field string, values ...string) Filter {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	f, err := In(field, vals)
	if err != nil {
		panic(err)
	}
	return f
}

// FromMap builds the exact-match conjunction of all entries. Keys are
// prefixed with prefix+"." when prefix is not empty. An empty map yields True.
func FromMap(prefix string, criteria map[string]any) (Filter, error) {
	if len(criteria) == 0 {
		return &True{}, nil
	}
	keys := sortedKeys(criteria)
	children := make([]Filter, 0, len(keys))
	for _, k := range keys {
		field := k
		if prefix != "" {
			field = prefix + "." + k
		}
		eq, err := NewEquals(field, criteria[k])
		if err != nil {
			return nil, err
		}
		children = append(children, eq)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &And{Children: children}, nil
}

// CollectFilterAttributes returns every field name referenced by f.
func CollectFilterAttributes(f Filter) map[string]struct{} {
	out := make(map[string]struct{})
	collect(f, out)
	return out
}

func collect(f Filter, out map[string]struct{}) {
	if f == nil {
		return
	}
	if name := f.FieldName(); name != "" {
		out[name] = struct{}{}
	}
	for _, c := range Children(f) {
		collect(c, out)
	}
}

func checkField(field string) error {
	if field == "" {
		return fmt.Errorf("leaf filter requires a field: %w", errors.ErrInvalidValue)
	}
	return nil
}

func mustField(field string) {
	if err := checkField(field); err != nil {
		panic(err)
	}
}

func nonNil(children []Filter) []Filter {
	out := make([]Filter, 0, len(children))
	for _, c := range children {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}
