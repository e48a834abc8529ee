// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package tree

import "github.com/rcf-go/rcf/internal/boundingbox"

// BoxView is the read-only bounding-box surface a visitor sees while
// ascending the tree; it never exposes the tree's internal node type.
type BoxView interface {
	Dimensions() int
	Min() []float64
	Max() []float64
	RangeSum() float64
	Contains(point []float64) bool
}

// NodeView is the read-only surface of a tree node exposed to
// visitors during traversal, wrapping either a leaf or a branch.
type NodeView struct {
	IsLeaf   bool
	Depth    int
	Mass     int
	Box      BoxView
	Point    []float64 // only set when IsLeaf
	Handle   Handle    // only set when IsLeaf
	CutDim   int       // only set when !IsLeaf
	CutValue float64   // only set when !IsLeaf
	Center   []float64 // only set when !IsLeaf and WithCenterOfMass is enabled
}

func viewOf(n node, depth int) NodeView {
	switch v := n.(type) {
	case *leaf:
		return NodeView{IsLeaf: true, Depth: depth, Mass: v.n, Box: boxOf(n), Point: v.point, Handle: v.handle}
	case *branch:
		return NodeView{IsLeaf: false, Depth: depth, Mass: v.n, Box: boxOf(n), CutDim: v.cutDim, CutValue: v.cutValue, Center: v.center}
	}
	return NodeView{}
}

var _ BoxView = (*boundingbox.Box)(nil)

// Visitor is the capability set a traversal uses to accumulate a
// single-valued statistic while walking from a query's insertion point
// back up to the root. It is a plain struct of callbacks rather than
// an interface hierarchy, matching the branching needs of each
// concrete statistic (score, attribution, density) without forcing an
// inheritance chain.
type Visitor struct {
	// AcceptLeaf is called once, for the leaf at the end of the query
	// point's descent path (the point itself if it is already present;
	// otherwise not necessarily the closest leaf).
	AcceptLeaf func(leaf NodeView, depthOfQuery int)
	// AcceptInternal is called once per branch ascended through, in
	// leaf-to-root order, after AcceptLeaf.
	AcceptInternal func(branch NodeView, depthOfQuery int, sibling NodeView)
}

// Traverse walks the tree along the path point would take if it were
// being inserted, invoking AcceptLeaf at the bottom and then
// AcceptInternal for every ancestor on the way back to the root.
func (t *Tree) Traverse(point []float64, v Visitor) {
	if t.root == nil {
		return
	}
	path := t.pathTo(point)
	depthOfQuery := len(path) - 1
	leafNode := path[len(path)-1].n
	if v.AcceptLeaf != nil {
		v.AcceptLeaf(viewOf(leafNode, depthOfQuery), depthOfQuery)
	}
	for i := len(path) - 2; i >= 0; i-- {
		br := path[i].n.(*branch)
		var sibling node
		if br.left == path[i+1].n {
			sibling = br.right
		} else {
			sibling = br.left
		}
		if v.AcceptInternal != nil {
			v.AcceptInternal(viewOf(br, i), depthOfQuery, viewOf(sibling, i+1))
		}
	}
}

type pathStep struct {
	n     node
	depth int
}

// pathTo returns the root-to-leaf sequence of nodes the tree would
// descend through for point, without mutating anything.
func (t *Tree) pathTo(point []float64) []pathStep {
	var path []pathStep
	cur := t.root
	depth := 0
	for {
		path = append(path, pathStep{n: cur, depth: depth})
		br, ok := cur.(*branch)
		if !ok {
			return path
		}
		if point[br.cutDim] <= br.cutValue {
			cur = br.left
		} else {
			cur = br.right
		}
		depth++
	}
}

// MultiVisitor extends Visitor with the ability to fork into two
// independent accumulations at a branch (used by imputation, which
// must explore both children when the missing dimension makes the cut
// ambiguous) and later recombine them into one result.
type MultiVisitor struct {
	Visitor
	// ShouldSplit decides, at a branch, whether the query should
	// recurse into both children instead of the single path a normal
	// Visitor would follow. Branches where it returns false behave
	// exactly like Traverse.
	ShouldSplit func(branch NodeView) bool
	// Clone produces an independent copy of a partial result so each
	// branch of a split can accumulate separately.
	Clone func(partial interface{}) interface{}
	// Combine merges the two results produced by a split back into
	// one, given the branch that caused the split.
	Combine func(branch NodeView, left, right interface{}) interface{}
}

// TraverseMulti performs a traversal that may explore both children at
// branches where mv.ShouldSplit reports true, threading an
// accumulator value of the caller's choosing through AcceptLeaf and
// AcceptInternal (read from and written to acc by the caller's
// closures) and using Clone/Combine to reconcile forked branches.
func (t *Tree) TraverseMulti(point []float64, acc interface{}, mv MultiVisitor) interface{} {
	if t.root == nil {
		return acc
	}
	return t.traverseMultiNode(t.root, 0, point, acc, mv)
}

func (t *Tree) traverseMultiNode(n node, depth int, point []float64, acc interface{}, mv MultiVisitor) interface{} {
	if lf, ok := n.(*leaf); ok {
		if mv.AcceptLeaf != nil {
			mv.AcceptLeaf(viewOf(lf, depth), depth)
		}
		return acc
	}

	br := n.(*branch)
	view := viewOf(br, depth)
	if mv.ShouldSplit != nil && mv.ShouldSplit(view) {
		leftAcc := acc
		rightAcc := acc
		if mv.Clone != nil {
			leftAcc = mv.Clone(acc)
			rightAcc = mv.Clone(acc)
		}
		leftAcc = t.traverseMultiNode(br.left, depth+1, point, leftAcc, mv)
		rightAcc = t.traverseMultiNode(br.right, depth+1, point, rightAcc, mv)
		combined := acc
		if mv.Combine != nil {
			combined = mv.Combine(view, leftAcc, rightAcc)
		}
		if mv.AcceptInternal != nil {
			mv.AcceptInternal(view, depth, NodeView{})
		}
		return combined
	}

	var next node
	if point[br.cutDim] <= br.cutValue {
		next = br.left
	} else {
		next = br.right
	}
	var sibling node
	if next == br.left {
		sibling = br.right
	} else {
		sibling = br.left
	}
	acc = t.traverseMultiNode(next, depth+1, point, acc, mv)
	if mv.AcceptInternal != nil {
		mv.AcceptInternal(view, depth, viewOf(sibling, depth+1))
	}
	return acc
}
