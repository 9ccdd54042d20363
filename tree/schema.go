package tree

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnknownRoot indicates that a path starts outside every
	// module known to the schema context
	ErrUnknownRoot = errors.New("path is not inside any known module")
	// ErrTypeMismatch indicates that a node's type does not match the
	// path element that addresses it
	ErrTypeMismatch = errors.New("node type does not match its path")
	// ErrMissingNode indicates a write or merge without a node
	ErrMissingNode = errors.New("modification has no node")
)

// SchemaContext describes the structure of the data model
// as far as the shards need it: the set of module roots.
// Contexts are immutable once built.
type SchemaContext struct {
	generation uint64
	roots      map[QName]struct{}
}

// NewSchemaContext builds a schema context that knows roots.
// generation orders successive contexts.
func NewSchemaContext(generation uint64, roots ...QName) *SchemaContext {
	schema := &SchemaContext{
		generation: generation,
		roots:      make(map[QName]struct{}, len(roots)),
	}

	for _, root := range roots {
		schema.roots[root] = struct{}{}
	}

	return schema
}

// Generation returns the generation of this context
func (schema *SchemaContext) Generation() uint64 {
	return schema.generation
}

// Roots returns the module roots in sorted order
func (schema *SchemaContext) Roots() []QName {
	roots := make([]QName, 0, len(schema.roots))

	for root := range schema.roots {
		roots = append(roots, root)
	}

	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	return roots
}

// Knows returns true if path is inside a known module
func (schema *SchemaContext) Knows(path Path) bool {
	if len(path) == 0 {
		return false
	}

	_, ok := schema.roots[path[0]]

	return ok
}

// Validate checks that mod is structurally consistent
// with this schema context
func (schema *SchemaContext) Validate(mod Modification) error {
	if len(mod.Path) == 0 {
		return ErrEmptyPath
	}

	if err := mod.Path.Validate(); err != nil {
		return err
	}

	if !schema.Knows(mod.Path) {
		return fmt.Errorf("%s: %w", mod.Path, ErrUnknownRoot)
	}

	if mod.Operation == OperationDelete {
		return nil
	}

	if mod.Node == nil {
		return fmt.Errorf("%s: %w", mod, ErrMissingNode)
	}

	return validateNode(mod.Path, mod.Node)
}

func validateNode(path Path, node *Node) error {
	if node.Type != path.Last() {
		return fmt.Errorf("%s: node of type %q: %w", path, node.Type, ErrTypeMismatch)
	}

	for name, child := range node.Children {
		if child == nil {
			return fmt.Errorf("%s: %w", path.Child(name), ErrMissingNode)
		}

		if err := validateNode(path.Child(name), child); err != nil {
			return err
		}
	}

	return nil
}
