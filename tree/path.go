package tree

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// separator terminates every path element inside an encoded key
const separator = 0x00

var (
	// ErrEmptyPath indicates that an operation needs a non-root path
	ErrEmptyPath = errors.New("path must not be empty")
	// ErrInvalidElement indicates that a path element is empty or
	// contains a reserved character
	ErrInvalidElement = errors.New("invalid path element")
)

// QName identifies a node type and doubles as the
// path element that addresses a node inside its parent
type QName string

// Path is an ordered sequence of identifiers locating a node
// in the tree. The empty path addresses the root. Paths are
// treated as immutable: every method returns a new Path.
type Path []QName

// NewPath builds a path from its elements
func NewPath(elements ...QName) Path {
	return append(Path{}, elements...)
}

// ParsePath parses a slash separated path such as /cars/car-1
func ParsePath(s string) (Path, error) {
	s = strings.Trim(s, "/")

	if s == "" {
		return Path{}, nil
	}

	parts := strings.Split(s, "/")
	path := make(Path, len(parts))

	for i, part := range parts {
		path[i] = QName(part)
	}

	if err := path.Validate(); err != nil {
		return nil, err
	}

	return path, nil
}

// MustParsePath is like ParsePath but panics on error
func MustParsePath(s string) Path {
	path, err := ParsePath(s)

	if err != nil {
		panic(err)
	}

	return path
}

// Validate checks that every element can be encoded
func (path Path) Validate() error {
	for i, element := range path {
		if element == "" || strings.ContainsRune(string(element), separator) || strings.ContainsRune(string(element), '/') {
			return fmt.Errorf("element %d (%q): %w", i, element, ErrInvalidElement)
		}
	}

	return nil
}

// String renders the path in its slash separated form
func (path Path) String() string {
	var b strings.Builder

	for _, element := range path {
		b.WriteByte('/')
		b.WriteString(string(element))
	}

	if b.Len() == 0 {
		return "/"
	}

	return b.String()
}

// IsRoot returns true for the empty path
func (path Path) IsRoot() bool {
	return len(path) == 0
}

// Last returns the last element of the path or
// the empty QName for the root
func (path Path) Last() QName {
	if len(path) == 0 {
		return ""
	}

	return path[len(path)-1]
}

// Parent returns the path without its last element.
// The parent of the root is the root.
func (path Path) Parent() Path {
	if len(path) == 0 {
		return Path{}
	}

	return NewPath(path[:len(path)-1]...)
}

// Child returns a new path with elements appended
func (path Path) Child(elements ...QName) Path {
	child := make(Path, 0, len(path)+len(elements))
	child = append(child, path...)
	child = append(child, elements...)

	return child
}

// Equal returns true if both paths have the same elements
func (path Path) Equal(other Path) bool {
	if len(path) != len(other) {
		return false
	}

	for i := range path {
		if path[i] != other[i] {
			return false
		}
	}

	return true
}

// IsAncestorOf returns true if path is a strict prefix of other
func (path Path) IsAncestorOf(other Path) bool {
	return len(path) < len(other) && path.Equal(other[:len(path)])
}

// Contains returns true if other equals path or is below it
func (path Path) Contains(other Path) bool {
	return len(path) <= len(other) && path.Equal(other[:len(path)])
}

// Overlaps returns true if either path contains the other. Two
// modifications conflict only if their paths overlap.
func (path Path) Overlaps(other Path) bool {
	return path.Contains(other) || other.Contains(path)
}

// Relative returns the elements of path below ancestor.
// It panics if ancestor does not contain path.
func (path Path) Relative(ancestor Path) Path {
	if !ancestor.Contains(path) {
		panic(fmt.Sprintf("%s is not inside %s", path, ancestor))
	}

	return NewPath(path[len(ancestor):]...)
}

// Key encodes the path so that the encoded keys of
// all descendants of path share the encoded key of path
// as a prefix and sort after it.
func (path Path) Key() []byte {
	size := 0

	for _, element := range path {
		size += len(element) + 1
	}

	key := make([]byte, 0, size)

	for _, element := range path {
		key = append(key, element...)
		key = append(key, separator)
	}

	return key
}

// PathFromKey decodes a key produced by Path.Key
func PathFromKey(key []byte) (Path, error) {
	if len(key) == 0 {
		return Path{}, nil
	}

	if key[len(key)-1] != separator {
		return nil, fmt.Errorf("key %x is not terminated", key)
	}

	parts := bytes.Split(key[:len(key)-1], []byte{separator})
	path := make(Path, len(parts))

	for i, part := range parts {
		if len(part) == 0 {
			return nil, fmt.Errorf("key %x: %w", key, ErrInvalidElement)
		}

		path[i] = QName(part)
	}

	return path, nil
}
