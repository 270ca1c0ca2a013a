package collection

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/filter"
)

// FilterFactory compiles a filter tree into a backend-native query.
type FilterFactory[Q any] interface {
	Build(f filter.Filter) (Q, error)
}

// Predicate is a filter compiled for in-process evaluation.
type Predicate func(doc *document.Document) (bool, error)

// Test evaluates p against an arbitrary value: a document, a map or any
// value with a JSON encoding.
func (p Predicate) Test(v any) (bool, error) {
	doc, ok := v.(*document.Document)
	if !ok {
		var err error
		if doc, err = document.Encode(v); err != nil {
			return false, err
		}
	}
	return p(doc)
}

// PredicateFactory compiles filters into Predicates.
type PredicateFactory struct{}

var _ FilterFactory[Predicate] = PredicateFactory{}

// Build implements FilterFactory.
func (PredicateFactory) Build(f filter.Filter) (Predicate, error) {
	return CompilePredicate(f)
}

// CompilePredicate compiles f. Paths are parsed and regular expressions
// compiled once, here; evaluation errors are limited to non-numeric values
// reaching a numeric comparison.
func CompilePredicate(f filter.Filter) (Predicate, error) {
	switch n := OrEmpty(f).(type) {
	case *filter.True:
		return func(*document.Document) (bool, error) { return true, nil }, nil
	case *filter.False:
		return func(*document.Document) (bool, error) { return false, nil }, nil

	case *filter.And:
		children, err := compileAll(n.Children)
		if err != nil {
			return nil, err
		}
		return func(doc *document.Document) (bool, error) {
			for _, c := range children {
				ok, err := c(doc)
				if err != nil || !ok {
					return false, err
				}
			}
			return true, nil
		}, nil

	case *filter.Or:
		children, err := compileAll(n.Children)
		if err != nil {
			return nil, err
		}
		return func(doc *document.Document) (bool, error) {
			for _, c := range children {
				ok, err := c(doc)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil
		}, nil

	case *filter.Not:
		if n.Child == nil {
			return nil, fmt.Errorf("not without operand: %w", errors.ErrInvalidValue)
		}
		child, err := CompilePredicate(n.Child)
		if err != nil {
			return nil, err
		}
		return func(doc *document.Document) (bool, error) {
			ok, err := child(doc)
			return !ok && err == nil, err
		}, nil

	case *filter.Equals:
		path, err := document.ParsePath(n.Field)
		if err != nil {
			return nil, err
		}
		if n.Value == nil {
			return func(doc *document.Document) (bool, error) {
				_, found, err := path.Lookup(doc)
				return !found, err
			}, nil
		}
		want := document.Stringify(n.Value)
		return func(doc *document.Document) (bool, error) {
			v, found, err := path.Lookup(doc)
			if err != nil || !found {
				return false, err
			}
			return anyValue(v, func(x any) bool { return document.Stringify(x) == want }), nil
		}, nil

	case *filter.Gt:
		return numeric(n.Field, n.Value, func(c int) bool { return c > 0 })
	case *filter.Gte:
		return numeric(n.Field, n.Value, func(c int) bool { return c >= 0 })
	case *filter.Lt:
		return numeric(n.Field, n.Value, func(c int) bool { return c < 0 })
	case *filter.Lte:
		return numeric(n.Field, n.Value, func(c int) bool { return c <= 0 })

	case *filter.Regex:
		path, err := document.ParsePath(n.Field)
		if err != nil {
			return nil, err
		}
		re, err := CompileRegex(n.Expression, n.CaseSensitive)
		if err != nil {
			return nil, err
		}
		return func(doc *document.Document) (bool, error) {
			v, found, err := path.Lookup(doc)
			if err != nil || !found {
				return false, err
			}
			return anyValue(v, func(x any) bool { return re.MatchString(document.Stringify(x)) }), nil
		}, nil

	case *filter.Exists:
		path, err := document.ParsePath(n.Field)
		if err != nil {
			return nil, err
		}
		return func(doc *document.Document) (bool, error) {
			_, found, err := path.Lookup(doc)
			return found, err
		}, nil

	case *filter.Fulltext:
		needle := strings.ToLower(n.Expression)
		return func(doc *document.Document) (bool, error) {
			found := false
			document.WalkStrings(doc, func(s string) bool {
				found = strings.Contains(strings.ToLower(s), needle)
				return !found
			})
			return found, nil
		}, nil
	}
	return nil, errors.NewUnsupportedFilter("predicate", f)
}

// CompileRegex compiles a filter expression with Go regexp syntax. Matching
// is unanchored, as in the database backends.
func CompileRegex(expr string, caseSensitive bool) (*regexp.Regexp, error) {
	if !caseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("regex %q: %v: %w", expr, err, errors.ErrInvalidValue)
	}
	return re, nil
}

func compileAll(filters []filter.Filter) ([]Predicate, error) {
	out := make([]Predicate, 0, len(filters))
	for _, f := range filters {
		p, err := CompilePredicate(f)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func numeric(field string, bound int64, accept func(cmp int) bool) (Predicate, error) {
	path, err := document.ParsePath(field)
	if err != nil {
		return nil, err
	}
	return func(doc *document.Document) (bool, error) {
		v, found, err := path.Lookup(doc)
		if err != nil || !found {
			return false, err
		}
		c, err := compareNumber(v, bound)
		if err != nil {
			return false, fmt.Errorf("field %s: %w", field, err)
		}
		return accept(c), nil
	}, nil
}

// compareNumber compares a document value with an integer bound, keeping
// full int64 precision when both sides are integers.
func compareNumber(v any, bound int64) (int, error) {
	if i, ok := v.(int64); ok {
		switch {
		case i < bound:
			return -1, nil
		case i > bound:
			return 1, nil
		}
		return 0, nil
	}
	f, ok := document.ToFloat(v)
	if !ok {
		return 0, fmt.Errorf("%T %v: %w", v, v, errors.ErrNotNumeric)
	}
	b := float64(bound)
	switch {
	case f < b:
		return -1, nil
	case f > b:
		return 1, nil
	}
	return 0, nil
}

// anyValue applies match to v, or to each element when v is an array.
func anyValue(v any, match func(any) bool) bool {
	if arr, ok := v.([]any); ok {
		for _, e := range arr {
			if match(e) {
				return true
			}
		}
		return false
	}
	return match(v)
}
