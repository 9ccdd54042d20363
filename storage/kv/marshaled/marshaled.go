// Package marshaled wraps kv maps so that values are
// encoded with msgpack on the way in and decoded on
// the way out.
package marshaled

import (
	"fmt"

	"github.com/jrife/arbor/storage/kv"
	"github.com/jrife/arbor/storage/kv/keys"
	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes value the same way Map.Put does
func Marshal(value interface{}) ([]byte, error) {
	return msgpack.Marshal(value)
}

// Unmarshal decodes data the same way Map.Get does
func Unmarshal(data []byte, value interface{}) error {
	return msgpack.Unmarshal(data, value)
}

// Map is like kv.Map except it marshals values of type T
type Map[T any] struct {
	kv.Map
}

// New wraps m
func New[T any](m kv.Map) Map[T] {
	return Map[T]{Map: m}
}

// Put is like kv.MapUpdater.Put except it marshals the value
func (m Map[T]) Put(key []byte, value T) error {
	marshaledValue, err := Marshal(value)

	if err != nil {
		return fmt.Errorf("could not marshal value: %w", err)
	}

	return m.Map.Put(key, marshaledValue)
}

// PutRaw puts an already marshaled value
func (m Map[T]) PutRaw(key []byte, value []byte) error {
	return m.Map.Put(key, value)
}

// Get is like kv.MapReader.Get except it unmarshals the value.
// It returns nil if the key does not exist.
func (m Map[T]) Get(key []byte) (*T, error) {
	value, err := m.Map.Get(key)

	if err != nil {
		return nil, err
	}

	if value == nil {
		return nil, nil
	}

	var result T

	if err := Unmarshal(value, &result); err != nil {
		return nil, fmt.Errorf("could not unmarshal value at %x: %w", key, err)
	}

	return &result, nil
}

// Keys is like kv.MapReader.Keys except the returned iterator unmarshals values
func (m Map[T]) Keys(keys keys.Range, order kv.SortOrder) (*Iterator[T], error) {
	iter, err := m.Map.Keys(keys, order)

	if err != nil {
		return nil, err
	}

	return &Iterator[T]{Iterator: iter}, nil
}

// Iterator is like kv.Iterator except it unmarshals values
type Iterator[T any] struct {
	kv.Iterator
	value T
	err   error
}

// Next is like kv.Iterator.Next
func (iterator *Iterator[T]) Next() bool {
	if iterator.err != nil {
		return false
	}

	var zero T

	iterator.value = zero

	if !iterator.Iterator.Next() {
		iterator.err = iterator.Iterator.Error()

		return false
	}

	if err := Unmarshal(iterator.Iterator.Value(), &iterator.value); err != nil {
		iterator.err = fmt.Errorf("could not unmarshal value at %x: %w", iterator.Iterator.Key(), err)

		return false
	}

	return true
}

// Value returns the unmarshaled value at the current iterator position
func (iterator *Iterator[T]) Value() T {
	return iterator.value
}

// Error returns the first error encountered, if any
func (iterator *Iterator[T]) Error() error {
	return iterator.err
}
