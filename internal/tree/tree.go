// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package tree implements the random cut tree: a binary space
// partition over a bounded sample of point handles with incremental
// insertion, deletion, bounding-box maintenance, and visitor-based
// traversal.
package tree

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/rcf-go/rcf/internal/boundingbox"
	"github.com/rcf-go/rcf/internal/pointstore"
)

// Handle aliases the point store's handle type.
type Handle = pointstore.Handle

// ErrNotFound is returned when ForgetPoint is asked to remove a handle
// the tree does not contain. This is a forest-level invariant
// violation, not a recoverable condition.
var ErrNotFound = fmt.Errorf("tree: point not found")

// ErrSequenceMismatch is returned when a stored sequence-index set is
// enabled and the index being forgotten was never recorded against
// the handle.
var ErrSequenceMismatch = fmt.Errorf("tree: sequence index not recorded for handle")

// node is implemented by *branch and *leaf; it is the sum type the
// tree is built from. Visitor code never sees it directly — it is
// wrapped in the exported NodeView at traversal time.
type node interface {
	leafCount() int
	getParent() node
	setParent(node)
}

type branch struct {
	cutDim   int
	cutValue float64
	left     node
	right    node
	parent   node
	d        int // depth at creation time; not updated when the tree is later restructured.
	n        int // mass: sum of leaf masses in the subtree
	bbox     *boundingbox.Box
	center   []float64
}

func (b *branch) leafCount() int   { return b.n }
func (b *branch) getParent() node  { return b.parent }
func (b *branch) setParent(p node) { b.parent = p }

type leaf struct {
	handle Handle
	point  []float64
	parent node
	d      int
	n      int // mass, >1 when duplicate points are admitted
	seqIdx map[int64]struct{}
}

func (l *leaf) leafCount() int   { return l.n }
func (l *leaf) getParent() node  { return l.parent }
func (l *leaf) setParent(p node) { l.parent = p }

// Tree is a random cut tree over point handles of a fixed dimension.
type Tree struct {
	root   node
	leaves map[Handle]*leaf
	ndim   int
	rng    *rand.Rand

	storeSequenceIndexes     bool
	centerOfMassEnabled      bool
	boundingBoxCacheFraction float64
	capacity                 int
}

// Option configures a Tree at construction.
type Option func(*Tree)

// WithSequenceIndexes retains the set of admitting sequence indexes at
// each leaf, which ForgetPoint checks the forgotten index against. The
// sets are not exposed through NodeView, so visitors (including the
// near-neighbor visitor) report no sequence indexes.
func WithSequenceIndexes() Option {
	return func(t *Tree) { t.storeSequenceIndexes = true }
}

// WithCenterOfMass maintains a running sum of leaf points at every
// branch, exposed to visitors as NodeView.Center.
func WithCenterOfMass() Option {
	return func(t *Tree) { t.centerOfMassEnabled = true }
}

// WithBoundingBoxCacheFraction sets the top fraction (by creation
// depth) of the tree that keeps an explicit cached bounding box;
// deeper branches recompute their box on demand during traversal.
func WithBoundingBoxCacheFraction(f float64) Option {
	return func(t *Tree) { t.boundingBoxCacheFraction = f }
}

// New creates an empty Tree. capacity is the owning sampler's
// capacity, used only to size the bounding-box cache-depth heuristic.
func New(rng *rand.Rand, ndim, capacity int, opts ...Option) *Tree {
	t := &Tree{
		leaves:                   make(map[Handle]*leaf),
		ndim:                     ndim,
		rng:                      rng,
		boundingBoxCacheFraction: 1.0,
		capacity:                 capacity,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Size returns the number of live handles. Each admission carries its
// own handle, so a duplicate point admitted under a second handle
// counts again even though it shares the existing leaf.
func (t *Tree) Size() int { return len(t.leaves) }

// Mass returns root.mass, the total number of admissions currently
// represented in the tree (duplicates counted).
func (t *Tree) Mass() int {
	if t.root == nil {
		return 0
	}
	return t.root.leafCount()
}

func (t *Tree) cacheDepthLimit() int {
	estimatedMaxDepth := 2 * int(math.Ceil(math.Log2(float64(t.capacity+1))))
	return int(math.Floor(t.boundingBoxCacheFraction * float64(estimatedMaxDepth)))
}

func boxOf(n node) *boundingbox.Box {
	switch v := n.(type) {
	case nil:
		return nil
	case *leaf:
		return boundingbox.NewFromPoint(v.point)
	case *branch:
		if v.bbox != nil {
			return v.bbox
		}
		b := boxOf(v.left).Copy()
		b.Merge(boxOf(v.right))
		return b
	}
	return nil
}

func pointsEqual(a, b []float64) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// InsertPoint admits handle (whose vector is point) at sequenceIndex.
// If an existing leaf already holds an equal point, its mass is
// incremented instead of creating a new leaf.
func (t *Tree) InsertPoint(point []float64, handle Handle, sequenceIndex int64) {
	if t.root == nil {
		l := &leaf{handle: handle, point: append([]float64(nil), point...), n: 1, d: 0}
		if t.storeSequenceIndexes {
			l.seqIdx = map[int64]struct{}{sequenceIndex: {}}
		}
		t.root = l
		t.leaves[handle] = l
		return
	}

	cur := t.root
	depth := 0
	for {
		if lf, ok := cur.(*leaf); ok {
			if pointsEqual(lf.point, point) {
				lf.n++
				if t.storeSequenceIndexes {
					if lf.seqIdx == nil {
						lf.seqIdx = make(map[int64]struct{})
					}
					lf.seqIdx[sequenceIndex] = struct{}{}
				}
				t.retrace(lf.parent)
				t.leaves[handle] = lf
				return
			}
		}

		box := boxOf(cur)
		ext := box.UnionWithPoint(point)
		cutDim, cutValue := t.sampleCut(ext)

		if cutValue < box.Min()[cutDim] || cutValue >= box.Max()[cutDim] {
			t.spliceNewLeaf(cur, point, handle, sequenceIndex, cutDim, cutValue, depth)
			return
		}

		br := cur.(*branch)
		if point[br.cutDim] <= br.cutValue {
			cur = br.left
		} else {
			cur = br.right
		}
		depth++
	}
}

// sampleCut draws a cut dimension proportional to the extended box's
// per-dimension extent and a cut value uniform in the open interval
// for that dimension, resampling on boundary hits.
func (t *Tree) sampleCut(ext *boundingbox.Box) (int, float64) {
	s := ext.RangeSum()
	mins, maxs := ext.Min(), ext.Max()
	if s <= 0 {
		return 0, mins[0]
	}
	r := t.rng.Float64() * s
	var acc float64
	dim := len(mins) - 1
	for d := 0; d < len(mins); d++ {
		acc += maxs[d] - mins[d]
		if r < acc {
			dim = d
			break
		}
	}
	lo, hi := mins[dim], maxs[dim]
	if lo == hi {
		return dim, lo
	}
	for attempt := 0; attempt < 8; attempt++ {
		c := lo + t.rng.Float64()*(hi-lo)
		if c > lo && c < hi {
			return dim, c
		}
	}
	return dim, (lo + hi) / 2
}

func (t *Tree) spliceNewLeaf(cur node, point []float64, handle Handle, sequenceIndex int64, cutDim int, cutValue float64, depth int) {
	newLeaf := &leaf{handle: handle, point: append([]float64(nil), point...), n: 1, d: depth + 1}
	if t.storeSequenceIndexes {
		newLeaf.seqIdx = map[int64]struct{}{sequenceIndex: {}}
	}

	nb := &branch{cutDim: cutDim, cutValue: cutValue, d: depth, n: cur.leafCount() + 1}
	if point[cutDim] <= cutValue {
		nb.left, nb.right = newLeaf, cur
	} else {
		nb.left, nb.right = cur, newLeaf
	}
	if nb.d <= t.cacheDepthLimit() {
		b := boxOf(nb.left).Copy()
		b.Merge(boxOf(nb.right))
		nb.bbox = b
	}

	parent := cur.getParent()
	nb.parent = parent
	newLeaf.setParent(nb)
	cur.setParent(nb)
	if parent == nil {
		t.root = nb
	} else {
		pb := parent.(*branch)
		if pb.left == cur {
			pb.left = nb
		} else {
			pb.right = nb
		}
	}
	t.leaves[handle] = newLeaf
	if t.centerOfMassEnabled {
		t.recomputeCenter(nb)
	}
	t.retrace(parent)
}

func leafCountOf(n node) int {
	if n == nil {
		return 0
	}
	return n.leafCount()
}

func (t *Tree) recomputeCenter(b *branch) {
	b.center = make([]float64, t.ndim)
	addCenter := func(n node, weight int) {
		switch v := n.(type) {
		case *leaf:
			for i, x := range v.point {
				b.center[i] += x * float64(weight)
			}
		case *branch:
			if v.center != nil {
				for i, x := range v.center {
					b.center[i] += x
				}
			}
		}
	}
	addCenter(b.left, leafCountOf(b.left))
	addCenter(b.right, leafCountOf(b.right))
}

// retrace walks from n up to the root, refreshing mass, any cached
// bounding box, and (if enabled) the center-of-mass sum at each
// ancestor branch.
func (t *Tree) retrace(n node) {
	for n != nil {
		br, ok := n.(*branch)
		if !ok {
			n = n.getParent()
			continue
		}
		br.n = leafCountOf(br.left) + leafCountOf(br.right)
		if br.bbox != nil {
			b := boxOf(br.left).Copy()
			b.Merge(boxOf(br.right))
			br.bbox = b
		}
		if t.centerOfMassEnabled {
			t.recomputeCenter(br)
		}
		n = br.parent
	}
}

// ForgetPoint removes one admission of handle recorded under
// sequenceIndex. If the leaf's mass drops to zero it is spliced out
// and its sibling replaces its parent. ForgetPoint of a handle the
// tree does not contain is a forest-level invariant violation.
func (t *Tree) ForgetPoint(handle Handle, sequenceIndex int64) error {
	lf, ok := t.leaves[handle]
	if !ok {
		return fmt.Errorf("%w: handle %d", ErrNotFound, handle)
	}
	if t.storeSequenceIndexes {
		if _, ok := lf.seqIdx[sequenceIndex]; !ok {
			return fmt.Errorf("%w: handle %d, sequence %d", ErrSequenceMismatch, handle, sequenceIndex)
		}
		delete(lf.seqIdx, sequenceIndex)
	}

	lf.n--
	if lf.n > 0 {
		delete(t.leaves, handle)
		t.retrace(lf.parent)
		return nil
	}

	delete(t.leaves, handle)
	parent := lf.parent
	if parent == nil {
		t.root = nil
		return nil
	}

	pb := parent.(*branch)
	var sibling node
	if pb.left == node(lf) {
		sibling = pb.right
	} else {
		sibling = pb.left
	}
	grand := pb.parent
	sibling.setParent(grand)
	if grand == nil {
		t.root = sibling
	} else {
		gb := grand.(*branch)
		if gb.left == node(pb) {
			gb.left = sibling
		} else {
			gb.right = sibling
		}
	}
	t.retrace(grand)
	return nil
}

// Contains reports whether handle currently has a live leaf.
func (t *Tree) Contains(handle Handle) bool {
	_, ok := t.leaves[handle]
	return ok
}
