package tree

import (
	"sort"
)

// Node is a value in the tree together with its subtree.
// Nodes are immutable once handed to a transaction: every
// method returns a modified copy and leaves its receiver alone.
type Node struct {
	Type     QName           `json:"type" msgpack:"t"`
	Value    string          `json:"value,omitempty" msgpack:"v,omitempty"`
	Children map[QName]*Node `json:"children,omitempty" msgpack:"c,omitempty"`
}

// Container creates a node of type qname holding children.
// Each child is keyed by its own type.
func Container(qname QName, children ...*Node) *Node {
	node := &Node{Type: qname}

	if len(children) > 0 {
		node.Children = make(map[QName]*Node, len(children))

		for _, child := range children {
			node.Children[child.Type] = child
		}
	}

	return node
}

// Leaf creates a childless node carrying value
func Leaf(qname QName, value string) *Node {
	return &Node{Type: qname, Value: value}
}

// Clone returns a deep copy of node
func (node *Node) Clone() *Node {
	if node == nil {
		return nil
	}

	clone := &Node{Type: node.Type, Value: node.Value}

	if node.Children != nil {
		clone.Children = make(map[QName]*Node, len(node.Children))

		for name, child := range node.Children {
			clone.Children[name] = child.Clone()
		}
	}

	return clone
}

// ChildNames returns the names of the direct children in sorted order
func (node *Node) ChildNames() []QName {
	if node == nil {
		return nil
	}

	names := make([]QName, 0, len(node.Children))

	for name := range node.Children {
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	return names
}

// Child descends along rel and returns the node found there or nil
func (node *Node) Child(rel Path) *Node {
	current := node

	for _, element := range rel {
		if current == nil {
			return nil
		}

		current = current.Children[element]
	}

	return current
}

// WithChild returns a copy of node with child placed at rel, creating
// intermediate containers named after the path elements as needed. A nil
// child removes whatever is at rel. An empty rel replaces node itself.
func (node *Node) WithChild(rel Path, child *Node) *Node {
	var name QName

	if node != nil {
		name = node.Type
	}

	return withChild(node, name, rel, child)
}

func withChild(node *Node, name QName, rel Path, child *Node) *Node {
	if len(rel) == 0 {
		return child
	}

	var copied *Node

	if node == nil {
		if child == nil {
			return nil
		}

		copied = &Node{Type: name}
	} else {
		copied = node.shallowCopy()
	}

	next := withChild(copied.Children[rel[0]], rel[0], rel[1:], child)

	if next == nil {
		if copied.Children != nil {
			delete(copied.Children, rel[0])
		}

		return copied
	}

	if copied.Children == nil {
		copied.Children = make(map[QName]*Node)
	}

	copied.Children[rel[0]] = next

	return copied
}

func (node *Node) shallowCopy() *Node {
	copied := &Node{Type: node.Type, Value: node.Value}

	if node.Children != nil {
		copied.Children = make(map[QName]*Node, len(node.Children))

		for name, child := range node.Children {
			copied.Children[name] = child
		}
	}

	return copied
}

// Merge overlays update onto base. Children present in both
// are merged recursively, children only present in base are kept.
// The type of update wins, its value wins unless it is empty.
func Merge(base, update *Node) *Node {
	if update == nil {
		return base
	}

	if base == nil {
		return update
	}

	merged := &Node{Type: update.Type, Value: update.Value}

	if merged.Value == "" {
		merged.Value = base.Value
	}

	if len(base.Children) > 0 || len(update.Children) > 0 {
		merged.Children = make(map[QName]*Node, len(base.Children)+len(update.Children))

		for name, child := range base.Children {
			merged.Children[name] = child
		}

		for name, child := range update.Children {
			merged.Children[name] = Merge(base.Children[name], child)
		}
	}

	return merged
}

// Equal compares two subtrees structurally
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}

	if a.Type != b.Type || a.Value != b.Value || len(a.Children) != len(b.Children) {
		return false
	}

	for name, child := range a.Children {
		other, ok := b.Children[name]

		if !ok || !Equal(child, other) {
			return false
		}
	}

	return true
}
