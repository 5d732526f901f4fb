// Package flamegraph builds weighted call trees from folded stacks and lays
// them out as flame graph rectangles.
package flamegraph

import (
	"sort"
	"strings"

	"golang.org/x/exp/slices"
)

// RootName is the name of the synthetic root every tree starts from.
const RootName = "root"

// Node represents a node in the flame graph tree.
//
// Value is inclusive: it counts every sample whose stack passes through the
// node. Once a tree is finished, Children is sorted by Name and must be
// treated as read-only.
type Node struct {
	Name     string  `json:"name"`
	Value    int64   `json:"value"`
	Children []*Node `json:"children,omitempty"`

	// Internal use only, not serialized. Dropped by finish.
	childrenMap map[string]int `json:"-"`
}

// NewNode creates a new flame graph node.
func NewNode(name string, value int64) *Node {
	return &Node{
		Name:        name,
		Value:       value,
		childrenMap: make(map[string]int),
	}
}

// NewRoot creates an empty root node.
func NewRoot() *Node {
	return NewNode(RootName, 0)
}

// AddChild adds a child node and returns it. If a child with the same name
// already exists, the existing child is returned and child is discarded.
func (n *Node) AddChild(child *Node) *Node {
	if existing := n.GetChild(child.Name); existing != nil {
		return existing
	}
	if n.childrenMap == nil {
		n.childrenMap = make(map[string]int, len(n.Children)+1)
		for i, c := range n.Children {
			n.childrenMap[c.Name] = i
		}
	}
	n.childrenMap[child.Name] = len(n.Children)
	n.Children = append(n.Children, child)
	return child
}

// child finds or creates the child named name.
func (n *Node) child(name string) *Node {
	if idx, ok := n.childrenMap[name]; ok {
		return n.Children[idx]
	}
	return n.AddChild(NewNode(name, 0))
}

// GetChild returns a child node by name, or nil if not found.
func (n *Node) GetChild(name string) *Node {
	if n.childrenMap != nil {
		if idx, ok := n.childrenMap[name]; ok {
			return n.Children[idx]
		}
		return nil
	}
	i := sort.Search(len(n.Children), func(i int) bool {
		return n.Children[i].Name >= name
	})
	if i < len(n.Children) && n.Children[i].Name == name {
		return n.Children[i]
	}
	return nil
}

// HasChild checks if a child with the given name exists.
func (n *Node) HasChild(name string) bool {
	return n.GetChild(name) != nil
}

// Find follows path from n and returns the node reached, or nil.
// An empty path returns n itself.
func (n *Node) Find(path []string) *Node {
	cur := n
	for _, name := range path {
		if cur = cur.GetChild(name); cur == nil {
			return nil
		}
	}
	return cur
}

// FindStack is Find for a semicolon-joined path such as "main;handler".
func (n *Node) FindStack(stack string) *Node {
	if stack == "" {
		return n
	}
	return n.Find(strings.Split(stack, ";"))
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// SelfValue returns the samples attributed to this node and to none of its
// children. Trees built from folded stacks only carry self samples at the
// frames that end a stack.
func (n *Node) SelfValue() int64 {
	self := n.Value
	for _, c := range n.Children {
		self -= c.Value
	}
	return self
}

// Percent returns the node's share of total, in percent.
func (n *Node) Percent(total *Node) float64 {
	if total == nil || total.Value == 0 {
		return 0
	}
	return float64(n.Value) / float64(total.Value) * 100
}

// WalkFunc is called for every node in pre-order. path holds the names from
// the walk's start node down to node, inclusive, and is reused between calls.
// Returning false skips the node's children.
type WalkFunc func(path []string, node *Node, depth int) bool

// Walk visits the subtree rooted at n in pre-order, children in slice order.
// It uses an explicit stack so very deep trees cannot exhaust the goroutine stack.
func (n *Node) Walk(fn WalkFunc) {
	type item struct {
		node  *Node
		depth int
	}
	stack := []item{{node: n}}
	path := make([]string, 0, 16)

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		path = append(path[:it.depth], it.node.Name)
		if !fn(path, it.node, it.depth) {
			continue
		}
		for i := len(it.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{node: it.node.Children[i], depth: it.depth + 1})
		}
	}
}

// MaxDepth returns the depth of the deepest node below n (n itself is 0).
func (n *Node) MaxDepth() int {
	max := 0
	n.Walk(func(_ []string, _ *Node, depth int) bool {
		if depth > max {
			max = depth
		}
		return true
	})
	return max
}

// NodeCount returns the number of nodes in the subtree, n included.
func (n *Node) NodeCount() int {
	count := 0
	n.Walk(func([]string, *Node, int) bool {
		count++
		return true
	})
	return count
}

// finish sorts every node's children by name and drops the lookup maps.
func finish(root *Node) {
	root.Walk(func(_ []string, node *Node, _ int) bool {
		node.childrenMap = nil
		if len(node.Children) == 0 {
			node.Children = nil
			return true
		}
		slices.SortFunc(node.Children, func(a, b *Node) int {
			return strings.Compare(a.Name, b.Name)
		})
		return true
	})
}

// FlameGraph represents the complete flame graph structure.
type FlameGraph struct {
	Root         *Node `json:"root"`
	TotalSamples int64 `json:"totalSamples"`
	MaxDepth     int   `json:"maxDepth"`
	NodeCount    int   `json:"nodeCount"`
}

// NewFlameGraph wraps a finished tree and computes its summary.
func NewFlameGraph(root *Node) *FlameGraph {
	return &FlameGraph{
		Root:         root,
		TotalSamples: root.Value,
		MaxDepth:     root.MaxDepth(),
		NodeCount:    root.NodeCount(),
	}
}
