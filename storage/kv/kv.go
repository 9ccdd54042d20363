package kv

import (
	"fmt"

	"github.com/jrife/arbor/storage/kv/keys"
)

// KV is a key-value pair
type KV [2][]byte

// Key returns the key
func (kv KV) Key() []byte {
	return kv[0]
}

// Value returns the value
func (kv KV) Value() []byte {
	return kv[1]
}

// Keys drains up to limit key-value pairs from iter.
// limit < 0 indicates no limit.
func Keys(iter Iterator, limit int) ([]KV, error) {
	result := []KV{}

	for (limit < 0 || len(result) < limit) && iter.Next() {
		result = append(result, KV{iter.Key(), iter.Value()})
	}

	if iter.Error() != nil {
		return nil, fmt.Errorf("iteration error: %w", iter.Error())
	}

	return result, nil
}

// DeleteRange deletes every key in m that falls inside r
// and returns the number of deleted keys
func DeleteRange(m Map, r keys.Range) (int, error) {
	iter, err := m.Keys(r, SortOrderAsc)

	if err != nil {
		return 0, fmt.Errorf("could not create keys iterator: %w", err)
	}

	kvs, err := Keys(iter, -1)

	if err != nil {
		return 0, err
	}

	for _, kv := range kvs {
		if err := m.Delete(kv.Key()); err != nil {
			return 0, fmt.Errorf("could not delete key %x: %w", kv.Key(), err)
		}
	}

	return len(kvs), nil
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	c := make([]byte, len(b))
	copy(c, b)

	return c
}
