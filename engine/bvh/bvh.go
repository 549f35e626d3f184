// Package bvh builds flattened bounding volume hierarchies with a surface area
// heuristic. The trees back the software device's acceleration structures.
package bvh

import (
	"github.com/Carmen-Shannon/oxy-rt/common"
)

// Axis selects one of the three split axes.
type Axis uint8

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

const (
	// Splits are not evaluated along an axis shorter than this.
	minSideLength float32 = 1e-3

	// Splits are not evaluated when the step between candidates drops below this.
	minSplitStep float32 = 1e-5

	// Candidate split planes per axis at the root; halves with every level.
	rootSplitCandidates = 64

	// Lower bound on candidate split planes per axis.
	minSplitCandidates = 4

	// Work lists smaller than this are scored inline instead of on the pool.
	parallelThreshold = 512

	// Maximum traversal stack depth.
	stackDepth = 64
)

// Node is one 32-byte entry of a flattened tree. Nodes are stored depth-first so the
// left child of an inner node always follows it directly.
type Node struct {
	// Bounds encloses every item below this node.
	Bounds common.AABB

	// Offset is the index of the first item in Tree.Order for a leaf, or the index of
	// the right child for an inner node.
	Offset uint32

	// Count is the number of items in a leaf, or 0 for an inner node.
	Count uint32
}

// IsLeaf reports whether n references items rather than children.
func (n Node) IsLeaf() bool {
	return n.Count > 0
}

// Stats describes a finished build.
type Stats struct {
	Nodes    int
	Leaves   int
	MaxDepth int
	Items    int
}

// Tree is a flattened hierarchy over a list of items.
type Tree struct {
	// Nodes holds the hierarchy, root first. Empty when the tree has no items.
	Nodes []Node

	// Order lists item indices in leaf order. Leaf items are the range
	// Order[Offset : Offset+Count].
	Order []uint32

	Stats Stats
}

// Bounds returns the bounds of the whole tree, or an empty box for an empty tree.
func (t *Tree) Bounds() common.AABB {
	if len(t.Nodes) == 0 {
		return common.EmptyAABB()
	}
	return t.Nodes[0].Bounds
}

// HitFunc tests a ray against a single item. It returns the hit distance and true when
// the item is hit closer than tMax.
type HitFunc func(item uint32, tMax float32) (float32, bool)

// Intersect finds the closest item hit along r.
//
// Parameters:
//   - r: the ray to trace
//   - tMax: the farthest distance of interest
//   - hit: the per-item intersection test
//
// Returns:
//   - uint32: the index of the closest item hit
//   - float32: the distance to that hit
//   - bool: false when nothing was hit
func (t *Tree) Intersect(r common.Ray, tMax float32, hit HitFunc) (uint32, float32, bool) {
	if len(t.Nodes) == 0 {
		return 0, 0, false
	}

	invDir := r.Direction.Inverse()
	var stack [stackDepth]uint32
	sp := 1
	stack[0] = 0

	best := tMax
	var bestItem uint32
	found := false

	for sp > 0 {
		sp--
		idx := stack[sp]
		node := t.Nodes[idx]
		if node.Bounds.IntersectRay(r.Origin, invDir, best) > best {
			continue
		}

		if node.IsLeaf() {
			for _, item := range t.Order[node.Offset : node.Offset+node.Count] {
				if d, ok := hit(item, best); ok && d < best {
					best = d
					bestItem = item
					found = true
				}
			}
			continue
		}

		if sp+2 > stackDepth {
			continue
		}
		// right first so the left child is visited next
		stack[sp] = node.Offset
		stack[sp+1] = idx + 1
		sp += 2
	}

	return bestItem, best, found
}
