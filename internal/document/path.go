package document

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/xtxerr/strata/internal/errors"
)

// Path is a parsed dotted property path such as "attributes.property1".
type Path []string

// ParsePath splits a dotted path. Empty segments are rejected.
func ParsePath(path string) (Path, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path: %w", errors.ErrNoSuchProperty)
	}
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("malformed path %q: %w", path, errors.ErrNoSuchProperty)
		}
	}
	return Path(segs), nil
}

// String joins the segments back with dots.
func (p Path) String() string {
	return strings.Join(p, ".")
}

// Lookup resolves path against v. It returns (nil, false, nil) when any
// segment is missing or null along the way; only malformed paths are errors.
//
// v may be a *Document, a map with string keys, or any value with a JSON
// encoding (structs are projected through Encode first). "_id" is accepted
// as an alias of the identity key. "_class" on the root resolves to a stored
// "_class" key or, for non-document values, the Go type name.
func Lookup(v any, path string) (any, bool, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, false, err
	}
	return p.Lookup(v)
}

// Lookup resolves the parsed path against v. See Lookup.
func (p Path) Lookup(v any) (any, bool, error) {
	root, class, err := asContainer(v)
	if err != nil {
		return nil, false, err
	}
	cur := root
	for i, seg := range p {
		if cur == nil {
			return nil, false, nil
		}
		next, ok := step(cur, seg)
		if !ok {
			if i == 0 && seg == ClassField && class != "" {
				return class, true, nil
			}
			return nil, false, nil
		}
		cur = next
	}
	if cur == nil {
		return nil, false, nil
	}
	return cur, true, nil
}

// asContainer normalizes the root into a walkable value and reports the type
// name used for "_class".
func asContainer(v any) (any, string, error) {
	switch x := v.(type) {
	case nil:
		return nil, "", nil
	case *Document:
		return x, "", nil
	case Document:
		return &x, "", nil
	case map[string]any, map[string]string:
		return x, "", nil
	}
	d, err := Encode(v)
	if err != nil {
		return nil, "", err
	}
	return d, typeName(v), nil
}

func typeName(v any) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

func step(cur any, seg string) (any, bool) {
	switch c := cur.(type) {
	case *Document:
		if v, ok := c.Get(seg); ok {
			return v, true
		}
		if seg == StorageIDField {
			return c.Get(IDField)
		}
		return nil, false
	case map[string]any:
		if v, ok := c[seg]; ok {
			return v, true
		}
		if seg == StorageIDField {
			v, ok := c[IDField]
			return v, ok
		}
		return nil, false
	case map[string]string:
		if v, ok := c[seg]; ok {
			return v, true
		}
		if seg == StorageIDField {
			v, ok := c[IDField]
			return v, ok
		}
		return nil, false
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	}
	return nil, false
}

// WalkStrings calls fn for every string leaf of doc, descending into nested
// documents and arrays, until fn returns false.
func WalkStrings(doc *Document, fn func(s string) bool) {
	walkStrings(doc, fn)
}

func walkStrings(v any, fn func(string) bool) bool {
	switch x := v.(type) {
	case string:
		return fn(x)
	case *Document:
		cont := true
		x.Range(func(_ string, val any) bool {
			cont = walkStrings(val, fn)
			return cont
		})
		return cont
	case []any:
		for _, e := range x {
			if !walkStrings(e, fn) {
				return false
			}
		}
	}
	return true
}
