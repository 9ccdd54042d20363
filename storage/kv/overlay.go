package kv

import (
	"fmt"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/jrife/arbor/storage/kv/keys"
)

var _ Map = (*Overlay)(nil)

// Overlay buffers updates on top of a read-only view of
// a map. Reads observe the buffered updates, the base is
// never modified. It is not safe for concurrent use.
type Overlay struct {
	base    MapReader
	changes *treemap.Map
}

// NewOverlay creates an overlay on top of base
func NewOverlay(base MapReader) *Overlay {
	return &Overlay{
		base: base,
		changes: treemap.NewWith(func(a, b interface{}) int {
			return keys.Compare(a.([]byte), b.([]byte))
		}),
	}
}

// Put implements Map.Put
func (overlay *Overlay) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}

	if len(value) == 0 {
		return ErrEmptyValue
	}

	overlay.changes.Put(copyBytes(key), copyBytes(value))

	return nil
}

// Delete implements Map.Delete
func (overlay *Overlay) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}

	overlay.changes.Put(copyBytes(key), []byte(nil))

	return nil
}

// Get implements Map.Get
func (overlay *Overlay) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}

	if v, ok := overlay.changes.Get(key); ok {
		return copyBytes(v.([]byte)), nil
	}

	return overlay.base.Get(key)
}

// Keys implements Map.Keys. The returned iterator walks a
// snapshot so the overlay may be updated while iterating.
func (overlay *Overlay) Keys(r keys.Range, order SortOrder) (Iterator, error) {
	iter, err := overlay.base.Keys(r, SortOrderAsc)

	if err != nil {
		return nil, fmt.Errorf("could not create base iterator: %w", err)
	}

	kvs, err := Keys(iter, -1)

	if err != nil {
		return nil, err
	}

	merged := NewFakeMap()

	for _, kv := range kvs {
		merged.m.Put(kv.Key(), kv.Value())
	}

	for _, change := range overlay.Changes() {
		if !r.Contains(change.Key()) {
			continue
		}

		if change.Value() == nil {
			merged.m.Remove(change.Key())
		} else {
			merged.m.Put(change.Key(), change.Value())
		}
	}

	return merged.Keys(r, order)
}

// Changes returns the buffered updates in key order.
// Deleted keys have a nil value.
func (overlay *Overlay) Changes() []KV {
	changes := make([]KV, 0, overlay.changes.Size())
	iter := overlay.changes.Iterator()

	for iter.Next() {
		changes = append(changes, KV{iter.Key().([]byte), iter.Value().([]byte)})
	}

	return changes
}

// Len returns the number of buffered updates
func (overlay *Overlay) Len() int {
	return overlay.changes.Size()
}

// Apply writes changes to m
func Apply(m MapUpdater, changes []KV) error {
	for _, change := range changes {
		if change.Value() == nil {
			if err := m.Delete(change.Key()); err != nil {
				return fmt.Errorf("could not delete key %x: %w", change.Key(), err)
			}

			continue
		}

		if err := m.Put(change.Key(), change.Value()); err != nil {
			return fmt.Errorf("could not put key %x: %w", change.Key(), err)
		}
	}

	return nil
}
