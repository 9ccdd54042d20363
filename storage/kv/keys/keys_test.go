package keys_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/arbor/storage/kv/keys"
)

func TestInc(t *testing.T) {
	testCases := map[string]struct {
		key    keys.Key
		result keys.Key
	}{
		"empty": {
			key:    keys.Key{},
			result: nil,
		},
		"no-carry": {
			key:    keys.Key{0x04, 0x01},
			result: keys.Key{0x04, 0x02},
		},
		"carry": {
			key:    keys.Key{0x04, 0xff},
			result: keys.Key{0x05, 0x00},
		},
		"overflow": {
			key:    keys.Key{0xff, 0xff},
			result: nil,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			original := append(keys.Key{}, testCase.key...)
			result := keys.Inc(testCase.key)

			if diff := cmp.Diff(testCase.result, result); diff != "" {
				t.Fatal(diff)
			}

			if diff := cmp.Diff(original, testCase.key); diff != "" {
				t.Fatalf("Inc modified its input: %s", diff)
			}
		})
	}
}

func TestRange(t *testing.T) {
	testCases := map[string]struct {
		r        keys.Range
		contains []string
		excludes []string
	}{
		"all": {
			r:        keys.All(),
			contains: []string{"", "a", "zzz"},
		},
		"eq": {
			r:        keys.All().Eq([]byte("b")),
			contains: []string{"b"},
			excludes: []string{"a", "b\x00", "ba", "c"},
		},
		"prefix": {
			r:        keys.All().Prefix([]byte("bb")),
			contains: []string{"bb\x00", "bba", "bbz"},
			excludes: []string{"bb", "bc", "ba", "b"},
		},
		"prefix-and-lt": {
			r:        keys.All().Prefix([]byte("bb")).Lt([]byte("bbm")),
			contains: []string{"bba", "bbl"},
			excludes: []string{"bbm", "bbz"},
		},
		"gt-lte": {
			r:        keys.All().Gt([]byte("a")).Lte([]byte("c")),
			contains: []string{"a\x00", "b", "c"},
			excludes: []string{"a", "c\x00", "d"},
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			for _, k := range testCase.contains {
				if !testCase.r.Contains([]byte(k)) {
					t.Errorf("expected range to contain %q", k)
				}
			}

			for _, k := range testCase.excludes {
				if testCase.r.Contains([]byte(k)) {
					t.Errorf("expected range to exclude %q", k)
				}
			}
		})
	}
}

func TestRangeEmpty(t *testing.T) {
	if !keys.All().Gte([]byte("b")).Lt([]byte("a")).Empty() {
		t.Fatalf("expected range to be empty")
	}

	if keys.All().Prefix([]byte("a")).Empty() {
		t.Fatalf("expected range not to be empty")
	}
}
