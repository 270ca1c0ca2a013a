package collection

import (
	"sort"
	"strings"

	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/filter"
)

// Query is a compiled in-process find. The memory, filesystem and key-value
// backends scan their documents through it.
type Query struct {
	match Predicate
	order []orderKey
	skip  int64
	limit int64
}

type orderKey struct {
	path document.Path
	dir  Direction
}

// NewQuery compiles f and the order of opts.
func NewQuery(f filter.Filter, opts FindOptions) (*Query, error) {
	match, err := CompilePredicate(f)
	if err != nil {
		return nil, err
	}
	q := &Query{match: match, skip: opts.Skip, limit: opts.Limit}
	for _, k := range opts.Order {
		p, err := document.ParsePath(k.Attribute)
		if err != nil {
			return nil, err
		}
		dir := k.Direction
		if dir != Descending {
			dir = Ascending
		}
		q.order = append(q.order, orderKey{path: p, dir: dir})
	}
	return q, nil
}

// Match reports whether doc passes the filter.
func (q *Query) Match(doc *document.Document) (bool, error) {
	return q.match(doc)
}

// Apply filters, sorts and pages docs. The input slice is not modified.
func (q *Query) Apply(docs []*document.Document) ([]*document.Document, error) {
	matched := make([]*document.Document, 0, len(docs))
	for _, d := range docs {
		ok, err := q.match(d)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, d)
		}
	}

	q.sort(matched)

	if q.skip > 0 {
		if q.skip >= int64(len(matched)) {
			return []*document.Document{}, nil
		}
		matched = matched[q.skip:]
	}
	if q.limit > 0 && q.limit < int64(len(matched)) {
		matched = matched[:q.limit]
	}
	return matched, nil
}

// sort orders docs by the order keys with identity ascending as the final
// tie-break, so results are deterministic across backends and runs.
func (q *Query) sort(docs []*document.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		for _, k := range q.order {
			va, _, _ := k.path.Lookup(a)
			vb, _, _ := k.path.Lookup(b)
			if c := CompareValues(va, vb); c != 0 {
				return (c < 0) == (k.dir == Ascending)
			}
		}
		return document.CompareIDs(a.GetID(), b.GetID()) < 0
	})
}

// Count counts matching docs, stopping at limit when limit > 0.
func Count(docs []*document.Document, f filter.Filter, limit int64) (int64, error) {
	match, err := CompilePredicate(f)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, d := range docs {
		ok, err := match(d)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
			if limit > 0 && n >= limit {
				break
			}
		}
	}
	return n, nil
}

// Distinct collects the unique string projections of field over the docs
// matching f. Null and missing values are skipped; array values contribute
// each element.
func Distinct(docs []*document.Document, field string, f filter.Filter) ([]string, error) {
	match, err := CompilePredicate(f)
	if err != nil {
		return nil, err
	}
	path, err := document.ParsePath(field)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	out := []string{}
	add := func(v any) {
		if v == nil {
			return
		}
		s := document.Stringify(v)
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, d := range docs {
		ok, err := match(d)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		v, found, _ := path.Lookup(d)
		if !found {
			continue
		}
		if arr, isArr := v.([]any); isArr {
			for _, e := range arr {
				add(e)
			}
			continue
		}
		add(v)
	}
	return out, nil
}

// CompareValues orders document values. Values of different types order by
// type rank: missing/null, numbers, strings, documents, arrays, booleans.
func CompareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case rankNumber:
		if ia, ok := a.(int64); ok {
			if ib, ok := b.(int64); ok {
				return cmpOrdered(ia, ib)
			}
		}
		fa, _ := document.ToFloat(a)
		fb, _ := document.ToFloat(b)
		return cmpOrdered(fa, fb)
	case rankString:
		return strings.Compare(document.Stringify(a), document.Stringify(b))
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case rankNull:
		return 0
	}
	return strings.Compare(document.Stringify(a), document.Stringify(b))
}

const (
	rankNull = iota
	rankNumber
	rankString
	rankDocument
	rankArray
	rankBool
)

func rank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case string, document.ObjectID:
		return rankString
	case bool:
		return rankBool
	case *document.Document, map[string]any:
		return rankDocument
	case []any:
		return rankArray
	}
	if _, ok := document.ToFloat(v); ok {
		return rankNumber
	}
	return rankString
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
