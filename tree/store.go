package tree

import (
	"fmt"

	"github.com/jrife/arbor/storage/kv"
	"github.com/jrife/arbor/storage/kv/keys"
	"github.com/jrife/arbor/storage/kv/marshaled"
	"github.com/jrife/arbor/utils/stream"
)

// Store materializes a tree on top of a sorted kv map.
// Subtrees are stored under the encoded path of their root
// and no stored root is ever below another stored root.
type Store struct {
	nodes marshaled.Map[Node]
}

// NewStore wraps m
func NewStore(m kv.Map) *Store {
	return &Store{nodes: marshaled.New[Node](m)}
}

// Read returns the subtree at path or nil if nothing exists there
func (store *Store) Read(path Path) (*Node, error) {
	if len(path) == 0 {
		return nil, ErrEmptyPath
	}

	node, err := store.nodes.Get(path.Key())

	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", path, err)
	}

	if node != nil {
		return node, nil
	}

	ancestor, ancestorNode, err := store.storedAncestor(path)

	if err != nil {
		return nil, err
	}

	if ancestorNode != nil {
		return ancestorNode.Child(path.Relative(ancestor)), nil
	}

	return store.collectDescendants(path)
}

// Apply applies mod to the stored tree
func (store *Store) Apply(mod Modification) error {
	if len(mod.Path) == 0 {
		return ErrEmptyPath
	}

	ancestor, ancestorNode, err := store.storedAncestor(mod.Path)

	if err != nil {
		return err
	}

	if ancestorNode != nil {
		rel := mod.Path.Relative(ancestor)
		updated := ancestorNode.WithChild(rel, mod.apply(mod.Path, ancestorNode.Child(rel)))

		if err := store.nodes.Put(ancestor.Key(), *updated); err != nil {
			return fmt.Errorf("could not update %s: %w", ancestor, err)
		}

		return nil
	}

	var current *Node

	if mod.Operation == OperationMerge {
		if current, err = store.Read(mod.Path); err != nil {
			return err
		}
	}

	updated := mod.apply(mod.Path, current)

	if _, err := kv.DeleteRange(store.nodes.Map, keys.All().Prefix(mod.Path.Key())); err != nil {
		return fmt.Errorf("could not clear descendants of %s: %w", mod.Path, err)
	}

	if updated == nil {
		if err := store.nodes.Delete(mod.Path.Key()); err != nil {
			return fmt.Errorf("could not delete %s: %w", mod.Path, err)
		}

		return nil
	}

	if err := store.nodes.Put(mod.Path.Key(), *updated); err != nil {
		return fmt.Errorf("could not write %s: %w", mod.Path, err)
	}

	return nil
}

// Roots lists the paths of all stored subtree roots in key order
func (store *Store) Roots() ([]Path, error) {
	roots, err := store.RootStream()

	if err != nil {
		return nil, err
	}

	return stream.Collect(roots)
}

// RootStream streams the paths of all stored subtree roots in key order
func (store *Store) RootStream() (stream.Stream[Path], error) {
	iter, err := store.nodes.Map.Keys(keys.All(), kv.SortOrderAsc)

	if err != nil {
		return nil, fmt.Errorf("could not create keys iterator: %w", err)
	}

	return &rootStream{iter: iter}, nil
}

type rootStream struct {
	iter kv.Iterator
	path Path
	err  error
}

func (roots *rootStream) Next() bool {
	if roots.err != nil || !roots.iter.Next() {
		return false
	}

	roots.path, roots.err = PathFromKey(roots.iter.Key())

	return roots.err == nil
}

func (roots *rootStream) Value() Path {
	return roots.path
}

func (roots *rootStream) Error() error {
	if roots.err != nil {
		return roots.err
	}

	if err := roots.iter.Error(); err != nil {
		return fmt.Errorf("iteration error: %w", err)
	}

	return nil
}

func (store *Store) storedAncestor(path Path) (Path, *Node, error) {
	for i := len(path) - 1; i > 0; i-- {
		ancestor := path[:i]
		node, err := store.nodes.Get(ancestor.Key())

		if err != nil {
			return nil, nil, fmt.Errorf("could not read %s: %w", ancestor, err)
		}

		if node != nil {
			return NewPath(ancestor...), node, nil
		}
	}

	return nil, nil, nil
}

func (store *Store) collectDescendants(path Path) (*Node, error) {
	iter, err := store.nodes.Keys(keys.All().Prefix(path.Key()), kv.SortOrderAsc)

	if err != nil {
		return nil, fmt.Errorf("could not create keys iterator: %w", err)
	}

	var result *Node

	for iter.Next() {
		descendant, err := PathFromKey(iter.Key())

		if err != nil {
			return nil, err
		}

		node := iter.Value()
		result = ensure(result, path).WithChild(descendant.Relative(path), &node)
	}

	if iter.Error() != nil {
		return nil, fmt.Errorf("iteration error: %w", iter.Error())
	}

	return result, nil
}
