package tree

import (
	"fmt"
)

// Operation is the kind of change a Modification makes
type Operation int

const (
	// OperationWrite replaces the subtree at a path
	OperationWrite Operation = iota
	// OperationMerge merges a node into the subtree at a path
	OperationMerge
	// OperationDelete removes the subtree at a path
	OperationDelete
)

func (op Operation) String() string {
	switch op {
	case OperationWrite:
		return "write"
	case OperationMerge:
		return "merge"
	case OperationDelete:
		return "delete"
	}

	return fmt.Sprintf("Operation(%d)", int(op))
}

// Modification is one buffered change to the tree
type Modification struct {
	Operation Operation `msgpack:"o"`
	Path      Path      `msgpack:"p"`
	Node      *Node     `msgpack:"n,omitempty"`
}

// Write builds a write modification
func Write(path Path, node *Node) Modification {
	return Modification{Operation: OperationWrite, Path: path, Node: node}
}

// MergeInto builds a merge modification
func MergeInto(path Path, node *Node) Modification {
	return Modification{Operation: OperationMerge, Path: path, Node: node}
}

// Delete builds a delete modification
func Delete(path Path) Modification {
	return Modification{Operation: OperationDelete, Path: path}
}

func (mod Modification) String() string {
	return fmt.Sprintf("%s %s", mod.Operation, mod.Path)
}

// replaces returns true if mod alone determines the
// subtree at path, whatever it was before
func (mod Modification) replaces(path Path) bool {
	return mod.Operation != OperationMerge && mod.Path.Contains(path)
}

// apply returns the subtree at path after applying mod to base,
// the subtree at path before mod.
func (mod Modification) apply(path Path, base *Node) *Node {
	switch {
	case mod.Path.Contains(path):
		rel := path.Relative(mod.Path)

		switch mod.Operation {
		case OperationWrite:
			return mod.Node.Child(rel)
		case OperationDelete:
			return nil
		case OperationMerge:
			return Merge(base, mod.Node.Child(rel))
		}
	case path.IsAncestorOf(mod.Path):
		rel := mod.Path.Relative(path)

		switch mod.Operation {
		case OperationWrite:
			return ensure(base, path).WithChild(rel, mod.Node)
		case OperationDelete:
			if base == nil {
				return nil
			}

			return base.WithChild(rel, nil)
		case OperationMerge:
			base = ensure(base, path)

			return base.WithChild(rel, Merge(base.Child(rel), mod.Node))
		}
	}

	return base
}

// Covered returns true if mods determine the subtree at path
// without needing to know its committed state
func Covered(path Path, mods []Modification) bool {
	for _, mod := range mods {
		if mod.replaces(path) {
			return true
		}
	}

	return false
}

// Resolve returns the subtree at path once mods have been applied,
// in order, on top of base.
func Resolve(path Path, base *Node, mods []Modification) *Node {
	for _, mod := range mods {
		base = mod.apply(path, base)
	}

	return base
}

func ensure(node *Node, path Path) *Node {
	if node != nil {
		return node
	}

	return Container(path.Last())
}
