package sortedwindow

import (
	"github.com/emirpasic/gods/sets/treeset"
	"github.com/emirpasic/gods/utils"
)

// Comparator is a function that compares two values
// return 0 if they are equal
// return -1 if a < b
// return 1 if a > b
type Comparator func(a, b interface{}) int

type option func(*SortedMaxWindow)

// WithLimit sets the size limit for the
// sorted window.
func WithLimit(l int) option {
	return func(sortedWindow *SortedMaxWindow) {
		sortedWindow.limit = l
	}
}

// SortedMaxWindow keeps the largest values inserted into it.
// If limit is positive it sets the window size. If limit
// is negative or zero there is no limit and the window
// will grow to hold every value.
type SortedMaxWindow struct {
	compare Comparator
	limit   int
	set     *treeset.Set
}

// New creates a new SortedMaxWindow.
func New(comparator Comparator, opts ...option) *SortedMaxWindow {
	sw := &SortedMaxWindow{
		compare: comparator,
		limit:   -1,
		set:     treeset.NewWith(utils.Comparator(comparator)),
	}

	for _, opt := range opts {
		opt(sw)
	}

	return sw
}

// Insert adds obj to the window. If the window is full
// afterwards the smallest value is evicted and returned
// with ok set to true. That value may be obj itself.
func (sortedWindow *SortedMaxWindow) Insert(obj interface{}) (evicted interface{}, ok bool) {
	sortedWindow.set.Add(obj)

	if sortedWindow.limit <= 0 || sortedWindow.set.Size() <= sortedWindow.limit {
		return nil, false
	}

	min, _ := sortedWindow.Min()
	sortedWindow.set.Remove(min)

	return min, true
}

// Min returns the smallest value in the window
func (sortedWindow *SortedMaxWindow) Min() (interface{}, bool) {
	iter := sortedWindow.set.Iterator()

	if !iter.First() {
		return nil, false
	}

	return iter.Value(), true
}

// Max returns the largest value in the window
func (sortedWindow *SortedMaxWindow) Max() (interface{}, bool) {
	iter := sortedWindow.set.Iterator()

	if !iter.Last() {
		return nil, false
	}

	return iter.Value(), true
}

// Iterator returns an iterator for the window that returns
// values in ascending order
func (sortedWindow *SortedMaxWindow) Iterator() *Iterator {
	return &Iterator{iter: sortedWindow.set.Iterator()}
}

// Size returns the number of elements in the window
func (sortedWindow *SortedMaxWindow) Size() int {
	return sortedWindow.set.Size()
}

// Iterator is an iterator for a sorted window
type Iterator struct {
	iter treeset.Iterator
}

// Next advances the iterator. It must be called
// once to advance to the first position. It returns
// true if there is another value available, false
// otherwise
func (iter *Iterator) Next() bool {
	return iter.iter.Next()
}

// Value returns the value at the current position
func (iter *Iterator) Value() interface{} {
	return iter.iter.Value()
}
