package memory

import (
	"context"
	"testing"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/collection/collectiontest"
	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/filter"
)

func TestConformance(t *testing.T) {
	collectiontest.Run(t, func(*testing.T) collection.Factory { return NewFactory() }, collectiontest.Options{})
}

func TestReturnedDocumentsAreCopies(t *testing.T) {
	ctx := context.Background()
	c := NewFactory().Collection("copies")

	doc := document.New()
	doc.Set("name", "original")
	if _, err := c.Save(ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	doc.Set("name", "mutated after save")

	got, err := collection.FindAll(ctx, c, nil, collection.FindOptions{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 document, got %d", len(got))
	}
	if v, _ := got[0].Get("name"); v != "original" {
		t.Errorf("expected stored copy to be unchanged, got %v", v)
	}

	got[0].Set("name", "mutated result")
	again, _ := collection.FindAll(ctx, c, nil, collection.FindOptions{})
	if v, _ := again[0].Get("name"); v != "original" {
		t.Errorf("expected result mutation not to leak, got %v", v)
	}
}

func TestRenameToExistingFails(t *testing.T) {
	ctx := context.Background()
	f := NewFactory()
	a := f.Collection("a")
	f.Collection("b")

	if err := a.Rename(ctx, "b"); err == nil {
		t.Error("expected rename onto an existing collection to fail")
	}
	if a.Name() != "a" {
		t.Errorf("expected name to stay a, got %s", a.Name())
	}
}

func TestFindHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewFactory().Collection("cancel")
	if _, err := c.Find(ctx, filter.Empty(), collection.FindOptions{}); err == nil {
		t.Error("expected error for cancelled context")
	}
}
