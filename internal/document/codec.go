package document

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// Encode projects v onto its document form. Documents are cloned, maps are
// converted directly and anything else goes through its JSON encoding.
func Encode(v any) (*Document, error) {
	switch x := v.(type) {
	case nil:
		return nil, fmt.Errorf("encode nil value")
	case *Document:
		return x.Clone(), nil
	case Document:
		return x.Clone(), nil
	case map[string]any:
		return FromMap(x), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return d, nil
}

// Decode fills the value pointed to by v from doc.
func Decode(doc *Document, v any) error {
	if target, ok := v.(*Document); ok {
		*target = *doc.Clone()
		return nil
	}
	data, err := doc.MarshalJSON()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode into %T: %w", v, err)
	}
	return nil
}

// DecodeAs allocates a T and decodes doc into it. T may be a pointer type.
func DecodeAs[T any](doc *Document) (T, error) {
	var zero T
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if rt.Kind() == reflect.Pointer {
		p := reflect.New(rt.Elem())
		if err := Decode(doc, p.Interface()); err != nil {
			return zero, err
		}
		return p.Interface().(T), nil
	}
	var v T
	if err := Decode(doc, &v); err != nil {
		return zero, err
	}
	return v, nil
}

// Stringify returns the canonical string form of a document value, used for
// string comparisons and distinct projections.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case ObjectID:
		return x.Hex()
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case json.Number:
		return x.String()
	case *Document:
		return x.String()
	}
	data, err := marshalValue(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// ToFloat converts a numeric document value. ok is false for any other type,
// including numeric-looking strings.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
