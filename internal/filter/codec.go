package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
)

// Value type tags carried next to Equals.expectedValue so that int64, float64,
// string and ObjectID survive a round trip unchanged.
const (
	valueTypeNull     = "null"
	valueTypeBoolean  = "boolean"
	valueTypeLong     = "long"
	valueTypeDouble   = "double"
	valueTypeString   = "string"
	valueTypeObjectID = "objectId"
)

// wireFilter is the tagged JSON form of every node kind.
type wireFilter struct {
	Type          Kind              `json:"type"`
	Field         string            `json:"field,omitempty"`
	ExpectedValue json.RawMessage   `json:"expectedValue,omitempty"`
	ValueType     string            `json:"valueType,omitempty"`
	Value         *int64            `json:"value,omitempty"`
	Expression    *string           `json:"expression,omitempty"`
	CaseSensitive *bool             `json:"caseSensitive,omitempty"`
	Children      []json.RawMessage `json:"children"`
}

type decodeFunc func(w *wireFilter) (Filter, error)

// decoders maps each discriminator to its decode function. It is filled in
// init because the composite decoders recurse through Unmarshal.
var decoders map[Kind]decodeFunc

func init() {
	decoders = map[Kind]decodeFunc{
		KindAnd: func(w *wireFilter) (Filter, error) {
			children, err := decodeChildren(w.Children)
			if err != nil {
				return nil, err
			}
			return &And{Children: children}, nil
		},
		KindOr: func(w *wireFilter) (Filter, error) {
			children, err := decodeChildren(w.Children)
			if err != nil {
				return nil, err
			}
			return &Or{Children: children}, nil
		},
		KindNot: func(w *wireFilter) (Filter, error) {
			children, err := decodeChildren(w.Children)
			if err != nil {
				return nil, err
			}
			if len(children) != 1 {
				return nil, fmt.Errorf("Not requires exactly one child, got %d: %w", len(children), errors.ErrInvalidValue)
			}
			return &Not{Child: children[0]}, nil
		},
		KindEquals: func(w *wireFilter) (Filter, error) {
			v, err := decodeExpectedValue(w.ValueType, w.ExpectedValue)
			if err != nil {
				return nil, err
			}
			return &Equals{Field: w.Field, Value: v}, nil
		},
		KindGt:  func(w *wireFilter) (Filter, error) { return &Gt{Field: w.Field, Value: intValue(w)}, nil },
		KindGte: func(w *wireFilter) (Filter, error) { return &Gte{Field: w.Field, Value: intValue(w)}, nil },
		KindLt:  func(w *wireFilter) (Filter, error) { return &Lt{Field: w.Field, Value: intValue(w)}, nil },
		KindLte: func(w *wireFilter) (Filter, error) { return &Lte{Field: w.Field, Value: intValue(w)}, nil },
		KindRegex: func(w *wireFilter) (Filter, error) {
			r := &Regex{Field: w.Field, CaseSensitive: true}
			if w.Expression != nil {
				r.Expression = *w.Expression
			}
			if w.CaseSensitive != nil {
				r.CaseSensitive = *w.CaseSensitive
			}
			return r, nil
		},
		KindExists: func(w *wireFilter) (Filter, error) { return &Exists{Field: w.Field}, nil },
		KindFulltext: func(w *wireFilter) (Filter, error) {
			f := &Fulltext{}
			if w.Expression != nil {
				f.Expression = *w.Expression
			}
			return f, nil
		},
		KindTrue:  func(*wireFilter) (Filter, error) { return &True{}, nil },
		KindFalse: func(*wireFilter) (Filter, error) { return &False{}, nil },
	}
}

// Marshal serializes f into its tagged JSON form.
func Marshal(f Filter) ([]byte, error) {
	w, err := toWire(f)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// Unmarshal parses the tagged JSON form produced by Marshal. A missing
// "children" key is treated like null.
func Unmarshal(data []byte) (Filter, error) {
	var w wireFilter
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode filter: %w", err)
	}
	return fromWire(&w)
}

// JSON wraps a Filter so it can be embedded in structs that are themselves
// JSON encoded.
type JSON struct {
	Filter Filter
}

// MarshalJSON implements json.Marshaler.
func (j JSON) MarshalJSON() ([]byte, error) {
	if j.Filter == nil {
		return []byte("null"), nil
	}
	return Marshal(j.Filter)
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *JSON) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		j.Filter = nil
		return nil
	}
	f, err := Unmarshal(data)
	if err != nil {
		return err
	}
	j.Filter = f
	return nil
}

func toWire(f Filter) (*wireFilter, error) {
	if f == nil {
		return nil, fmt.Errorf("nil filter: %w", errors.ErrInvalidValue)
	}
	w := &wireFilter{Type: f.Kind(), Field: f.FieldName()}

	switch n := f.(type) {
	case *And, *Or, *Not:
		children := Children(n)
		w.Children = make([]json.RawMessage, 0, len(children))
		for _, c := range children {
			data, err := Marshal(c)
			if err != nil {
				return nil, err
			}
			w.Children = append(w.Children, data)
		}
	case *Equals:
		vt, raw, err := encodeExpectedValue(n.Value)
		if err != nil {
			return nil, err
		}
		w.ValueType = vt
		w.ExpectedValue = raw
	case *Gt:
		w.Value = ptr(n.Value)
	case *Gte:
		w.Value = ptr(n.Value)
	case *Lt:
		w.Value = ptr(n.Value)
	case *Lte:
		w.Value = ptr(n.Value)
	case *Regex:
		w.Expression = ptr(n.Expression)
		w.CaseSensitive = ptr(n.CaseSensitive)
	case *Fulltext:
		w.Expression = ptr(n.Expression)
	case *Exists, *True, *False:
	default:
		return nil, errors.NewUnsupportedFilter("json", f)
	}
	return w, nil
}

func fromWire(w *wireFilter) (Filter, error) {
	dec, ok := decoders[w.Type]
	if !ok {
		return nil, fmt.Errorf("unknown filter type %q: %w", w.Type, errors.ErrUnsupportedFilter)
	}
	return dec(w)
}

func decodeChildren(raw []json.RawMessage) ([]Filter, error) {
	out := make([]Filter, 0, len(raw))
	for _, r := range raw {
		c, err := Unmarshal(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func encodeExpectedValue(v any) (string, json.RawMessage, error) {
	var vt string
	switch x := v.(type) {
	case nil:
		return valueTypeNull, json.RawMessage("null"), nil
	case bool:
		vt = valueTypeBoolean
	case int64:
		vt = valueTypeLong
	case float64:
		vt = valueTypeDouble
	case string:
		vt = valueTypeString
	case document.ObjectID:
		raw, err := json.Marshal(x.Hex())
		return valueTypeObjectID, raw, err
	default:
		return "", nil, fmt.Errorf("unsupported equals value type %T: %w", v, errors.ErrInvalidValue)
	}
	raw, err := json.Marshal(v)
	return vt, raw, err
}

func decodeExpectedValue(vt string, raw json.RawMessage) (any, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch vt {
	case valueTypeBoolean:
		var b bool
		err := json.Unmarshal(raw, &b)
		return b, err
	case valueTypeLong:
		var i int64
		err := json.Unmarshal(raw, &i)
		return i, err
	case valueTypeDouble:
		var f float64
		err := json.Unmarshal(raw, &f)
		return f, err
	case valueTypeString:
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case valueTypeObjectID:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return document.ParseObjectID(s)
	case "":
		// Untagged payloads: infer from the JSON token.
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
			return n.Float64()
		}
		return NormalizeValue(v)
	default:
		return nil, fmt.Errorf("unknown value type %q: %w", vt, errors.ErrInvalidValue)
	}
}

func intValue(w *wireFilter) int64 {
	if w.Value == nil {
		return 0
	}
	return *w.Value
}

func ptr[T any](v T) *T { return &v }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
