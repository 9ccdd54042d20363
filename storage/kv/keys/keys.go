package keys

import (
	"bytes"
	"encoding/binary"
)

// Key is a single key
type Key []byte

// Int64ToKey constructs a key from an
// int64
func Int64ToKey(i int64) [8]byte {
	var k [8]byte

	binary.BigEndian.PutUint64(k[:], uint64(i))

	return k
}

// KeyToInt64 constructs an int64 from a
// byte array
func KeyToInt64(k [8]byte) int64 {
	return int64(binary.BigEndian.Uint64(k[:]))
}

// Compare compares two keys
// -1 means a < b
// 1 means a > b
// 0 means a = b
func Compare(a, b Key) int {
	return bytes.Compare(a, b)
}

// Inc treats key as a big-endian unsigned integer
// and returns key + 1 without modifying key. It returns
// nil if every byte of key is 0xff.
func Inc(key Key) Key {
	carry := true
	after := make(Key, len(key))

	copy(after, key)

	for i := len(after) - 1; i >= 0 && carry; i-- {
		if key[i] < 0xff {
			carry = false
		}

		after[i] = key[i] + 1
	}

	// carry will only be true if all elements of k
	// were equal to 0xff. The range should just go
	// all the way to the end of the real key range.
	if carry {
		return nil
	}

	return after
}

// Next returns the key directly after key such that
// there can exist no other key that comes between
// key and Next(key)
func Next(key Key) Key {
	next := make(Key, len(key)+1)

	copy(next, key)
	next[len(key)] = 0

	return next
}
