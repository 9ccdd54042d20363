package kv_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/arbor/storage/kv"
	"github.com/jrife/arbor/storage/kv/keys"
)

func fakeMap(t *testing.T, model map[string]string) *kv.FakeMap {
	m := kv.NewFakeMap()

	for k, v := range model {
		if err := m.Put([]byte(k), []byte(v)); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}
	}

	return m
}

func dump(t *testing.T, m kv.MapReader, r keys.Range, order kv.SortOrder) []string {
	iter, err := m.Keys(r, order)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	kvs, err := kv.Keys(iter, -1)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	result := []string{}

	for _, kv := range kvs {
		result = append(result, string(kv.Key())+"="+string(kv.Value()))
	}

	return result
}

func TestOverlay(t *testing.T) {
	base := fakeMap(t, map[string]string{"a": "1", "b": "2", "c": "3"})
	overlay := kv.NewOverlay(base)

	overlay.Put([]byte("b"), []byte("20"))
	overlay.Put([]byte("d"), []byte("4"))
	overlay.Delete([]byte("a"))
	overlay.Delete([]byte("x"))

	if value, _ := overlay.Get([]byte("b")); string(value) != "20" {
		t.Fatalf("expected overlay to observe its own write, got %q", value)
	}

	if value, _ := overlay.Get([]byte("a")); value != nil {
		t.Fatalf("expected overlay to observe its own delete, got %q", value)
	}

	if value, _ := overlay.Get([]byte("c")); string(value) != "3" {
		t.Fatalf("expected overlay to read through to the base, got %q", value)
	}

	if diff := cmp.Diff([]string{"b=20", "c=3", "d=4"}, dump(t, overlay, keys.All(), kv.SortOrderAsc)); diff != "" {
		t.Fatal(diff)
	}

	if diff := cmp.Diff([]string{"c=3", "b=20"}, dump(t, overlay, keys.All().Lt([]byte("d")), kv.SortOrderDesc)); diff != "" {
		t.Fatal(diff)
	}

	if diff := cmp.Diff([]string{"a=1", "b=2", "c=3"}, dump(t, base, keys.All(), kv.SortOrderAsc)); diff != "" {
		t.Fatal(diff)
	}

	if overlay.Len() != 4 {
		t.Fatalf("expected 4 changes, got %d", overlay.Len())
	}

	if err := kv.Apply(base, overlay.Changes()); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff([]string{"b=20", "c=3", "d=4"}, dump(t, base, keys.All(), kv.SortOrderAsc)); diff != "" {
		t.Fatal(diff)
	}
}
