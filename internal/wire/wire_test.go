package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/xtxerr/strata/internal/document"
)

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	id := document.NewObjectID()
	first := document.New()
	first.SetID(id)
	first.Set("count", int64(3))
	first.Set("ratio", 0.5)
	first.Set("attributes", document.FromMap(map[string]any{"site": "fra1"}))
	first.Set("tags", []any{"a", true, nil})

	second := document.New()
	second.Set("name", "x")

	for _, d := range []*document.Document{first, second} {
		if err := w.Write(d); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	r := NewReader(&buf)
	got, err := r.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.GetID() != id {
		t.Errorf("expected id %s, got %s", id.Hex(), got.GetID().Hex())
	}
	if v, _ := got.Get("count"); v != int64(3) {
		t.Errorf("expected count=3 as int64, got %T %v", v, v)
	}
	if v, _ := got.Get("ratio"); v != 0.5 {
		t.Errorf("expected ratio=0.5, got %v", v)
	}
	if v, ok, _ := document.Lookup(got, "attributes.site"); !ok || v != "fra1" {
		t.Errorf("expected attributes.site=fra1, got %v", v)
	}
	tags, _ := got.Get("tags")
	if arr, ok := tags.([]any); !ok || len(arr) != 3 || arr[1] != true || arr[2] != nil {
		t.Errorf("unexpected tags %v", tags)
	}

	got, err = r.Read()
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if v, _ := got.Get("name"); v != "x" {
		t.Errorf("expected name=x, got %v", v)
	}

	if _, err := r.Read(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}
