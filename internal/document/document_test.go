package document

import (
	"encoding/json"
	"testing"

	"github.com/xtxerr/strata/internal/errors"
)

func TestDocumentPreservesKeyOrder(t *testing.T) {
	doc, err := Parse([]byte(`{"z":1,"a":"x","m":{"b":true,"a":null},"l":[1,2.5,"s"]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	keys := doc.Keys()
	want := []string{"z", "a", "m", "l"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(keys))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key %d: expected %s, got %s", i, want[i], keys[i])
		}
	}

	out, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"z":1,"a":"x","m":{"b":true,"a":null},"l":[1,2.5,"s"]}` {
		t.Errorf("unexpected round trip: %s", out)
	}
}

func TestDocumentNumberTypes(t *testing.T) {
	doc, err := Parse([]byte(`{"i":42,"f":1.5}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v, _ := doc.Get("i"); v != int64(42) {
		t.Errorf("expected int64 42, got %T %v", v, v)
	}
	if v, _ := doc.Get("f"); v != 1.5 {
		t.Errorf("expected float64 1.5, got %T %v", v, v)
	}
}

func TestDocumentSetKeepsPosition(t *testing.T) {
	d := New()
	d.Set("a", 1)
	d.Set("b", 2)
	d.Set("a", 3)
	d.Delete("b")
	d.Set("c", 4)

	keys := d.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "c" {
		t.Errorf("unexpected keys %v", keys)
	}
	if v, _ := d.Get("a"); v != 3 {
		t.Errorf("expected a=3, got %v", v)
	}
}

func TestDocumentCloneIsDeep(t *testing.T) {
	inner := New()
	inner.Set("x", "1")
	d := New()
	d.Set("inner", inner)

	c := d.Clone()
	inner.Set("x", "2")

	v, ok, err := Lookup(c, "inner.x")
	if err != nil || !ok {
		t.Fatalf("lookup failed: ok=%v err=%v", ok, err)
	}
	if v != "1" {
		t.Errorf("expected clone to keep 1, got %v", v)
	}
}

func TestDocumentID(t *testing.T) {
	d := New()
	if !d.GetID().IsZero() {
		t.Error("new document should have no id")
	}

	id := NewObjectID()
	d.SetID(id)
	if d.GetID() != id {
		t.Errorf("expected %s, got %s", id.Hex(), d.GetID().Hex())
	}
	if v, _ := d.Get(IDField); v != id.Hex() {
		t.Errorf("expected hex id value, got %v", v)
	}

	d.SetID(NilObjectID)
	if _, ok := d.Get(IDField); ok {
		t.Error("zero id should remove the key")
	}
}

type sample struct {
	AbstractEntity
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestEncodeDecodeEntity(t *testing.T) {
	s := &sample{Name: "router", Count: 3}
	s.ID = NewObjectID()
	s.SetAttribute("site", "fra1")

	doc, err := Encode(s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if doc.GetID() != s.ID {
		t.Errorf("expected id %s, got %s", s.ID.Hex(), doc.GetID().Hex())
	}
	if v, ok, _ := Lookup(doc, "attributes.site"); !ok || v != "fra1" {
		t.Errorf("expected attributes.site=fra1, got %v", v)
	}

	back, err := DecodeAs[*sample](doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.Name != "router" || back.Count != 3 || back.ID != s.ID {
		t.Errorf("unexpected decoded value %+v", back)
	}
}

func TestLookup(t *testing.T) {
	doc := FromMap(map[string]any{
		"id":    "5f1b2c3d4e5f6a7b8c9d0e1f",
		"attrs": map[string]any{"a": "1", "nested": map[string]any{"b": int64(2)}},
		"list":  []any{"x", "y"},
		"null":  nil,
	})

	tests := []struct {
		path  string
		want  any
		found bool
	}{
		{"attrs.a", "1", true},
		{"attrs.nested.b", int64(2), true},
		{"list.1", "y", true},
		{"list.5", nil, false},
		{"_id", "5f1b2c3d4e5f6a7b8c9d0e1f", true},
		{"attrs.missing.deeper", nil, false},
		{"null", nil, false},
		{"null.child", nil, false},
	}
	for _, tt := range tests {
		got, ok, err := Lookup(doc, tt.path)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.path, err)
			continue
		}
		if ok != tt.found || got != tt.want {
			t.Errorf("%s: expected (%v, %v), got (%v, %v)", tt.path, tt.want, tt.found, got, ok)
		}
	}
}

func TestLookupMalformedPath(t *testing.T) {
	for _, p := range []string{"", "a..b", ".a", "a."} {
		if _, _, err := Lookup(New(), p); !errors.Is(err, errors.ErrNoSuchProperty) {
			t.Errorf("%q: expected ErrNoSuchProperty, got %v", p, err)
		}
	}
}

func TestLookupClass(t *testing.T) {
	v, ok, err := Lookup(&sample{Name: "x"}, ClassField)
	if err != nil || !ok {
		t.Fatalf("expected class, got ok=%v err=%v", ok, err)
	}
	if v != "github.com/xtxerr/strata/internal/document.sample" {
		t.Errorf("unexpected class %v", v)
	}
}

func TestWalkStrings(t *testing.T) {
	doc := FromMap(map[string]any{
		"a": "one",
		"b": map[string]any{"c": "two", "n": int64(1)},
		"d": []any{"three", true},
	})
	var got []string
	WalkStrings(doc, func(s string) bool {
		got = append(got, s)
		return true
	})
	if len(got) != 3 {
		t.Errorf("expected 3 strings, got %v", got)
	}
}

func TestStringify(t *testing.T) {
	id := NewObjectID()
	tests := []struct {
		in   any
		want string
	}{
		{"s", "s"},
		{int64(10), "10"},
		{1.5, "1.5"},
		{2.0, "2"},
		{true, "true"},
		{id, id.Hex()},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := Stringify(tt.in); got != tt.want {
			t.Errorf("Stringify(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
