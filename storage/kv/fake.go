package kv

import (
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/jrife/arbor/storage/kv/keys"
)

var _ Map = (*FakeMap)(nil)

// FakeMap is an in-memory implementation of the
// Map interface. It is not safe for concurrent use.
type FakeMap struct {
	m *treemap.Map
}

// NewFakeMap creates a new FakeMap
func NewFakeMap() *FakeMap {
	return &FakeMap{m: treemap.NewWith(func(a, b interface{}) int {
		return keys.Compare(a.([]byte), b.([]byte))
	})}
}

// Put implements Map.Put
func (m *FakeMap) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}

	m.m.Put(copyBytes(key), copyBytes(value))

	return nil
}

// Delete implements Map.Delete
func (m *FakeMap) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}

	m.m.Remove(key)

	return nil
}

// Get implements Map.Get
func (m *FakeMap) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}

	v, ok := m.m.Get(key)

	if !ok {
		return nil, nil
	}

	return copyBytes(v.([]byte)), nil
}

// Keys implements Map.Keys. The iterator walks
// a snapshot of the matching keys so the map may
// be modified while iterating.
func (m *FakeMap) Keys(keys keys.Range, order SortOrder) (Iterator, error) {
	iter := m.m.Iterator()
	snapshot := []KV{}

	if order == SortOrderDesc {
		for iter.End(); iter.Prev(); {
			k := iter.Key().([]byte)

			if keys.Min != nil && compareKeys(k, keys.Min) < 0 {
				break
			}

			if keys.Contains(k) {
				snapshot = append(snapshot, KV{copyBytes(k), copyBytes(iter.Value().([]byte))})
			}
		}
	} else {
		for iter.Begin(); iter.Next(); {
			k := iter.Key().([]byte)

			if keys.Max != nil && compareKeys(k, keys.Max) >= 0 {
				break
			}

			if keys.Contains(k) {
				snapshot = append(snapshot, KV{copyBytes(k), copyBytes(iter.Value().([]byte))})
			}
		}
	}

	return &FakeIterator{kvs: snapshot, i: -1}, nil
}

// Len returns the number of keys in the map
func (m *FakeMap) Len() int {
	return m.m.Size()
}

func compareKeys(a, b []byte) int {
	return keys.Compare(a, b)
}

var _ Iterator = (*FakeIterator)(nil)

// FakeIterator is the iterator implementation for FakeMap
type FakeIterator struct {
	kvs []KV
	i   int
}

// Next implements Iterator.Next
func (iter *FakeIterator) Next() bool {
	if iter.i+1 >= len(iter.kvs) {
		iter.i = len(iter.kvs)

		return false
	}

	iter.i++

	return true
}

// Key implements Iterator.Key
func (iter *FakeIterator) Key() []byte {
	if iter.i < 0 || iter.i >= len(iter.kvs) {
		return nil
	}

	return iter.kvs[iter.i].Key()
}

// Value implements Iterator.Value
func (iter *FakeIterator) Value() []byte {
	if iter.i < 0 || iter.i >= len(iter.kvs) {
		return nil
	}

	return iter.kvs[iter.i].Value()
}

// Error implements Iterator.Error
func (iter *FakeIterator) Error() error {
	return nil
}
