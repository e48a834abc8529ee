// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package boundingbox implements the axis-aligned bounding box used by
// the random cut tree to decide cuts and to answer containment and
// range-sum queries during insertion, deletion, and traversal.
package boundingbox

// Box is an axis-aligned interval hull over D dimensions. Min and Max
// are independent copies; callers must not mutate the slices returned
// by Min/Max.
//
// The range sum is accumulated in float64 regardless of the point
// store's element width, to bound drift in the range-sum cache
// regardless of storage precision.
type Box struct {
	min      []float64
	max      []float64
	rangeSum float64
	dirty    bool
}

// New creates an empty box of the given dimension. It is not valid to
// call Contains/RangeSum on an empty box before a Merge.
func New(dimensions int) *Box {
	return &Box{
		min: make([]float64, dimensions),
		max: make([]float64, dimensions),
	}
}

// NewFromPoint initializes a box whose min and max both equal point.
func NewFromPoint(point []float64) *Box {
	b := &Box{
		min: append([]float64(nil), point...),
		max: append([]float64(nil), point...),
	}
	b.rangeSum = 0
	return b
}

// Dimensions returns D.
func (b *Box) Dimensions() int { return len(b.min) }

// Min returns a read-only view of the lower bound. Callers must not
// mutate the returned slice.
func (b *Box) Min() []float64 { return b.min }

// Max returns a read-only view of the upper bound. Callers must not
// mutate the returned slice.
func (b *Box) Max() []float64 { return b.max }

// Copy returns an independent deep copy.
func (b *Box) Copy() *Box {
	return &Box{
		min:      append([]float64(nil), b.min...),
		max:      append([]float64(nil), b.max...),
		rangeSum: b.rangeSum,
		dirty:    b.dirty,
	}
}

// MergePoint extends the box, if needed, to contain point.
func (b *Box) MergePoint(point []float64) {
	for i, v := range point {
		if v < b.min[i] {
			b.min[i] = v
			b.dirty = true
		}
		if v > b.max[i] {
			b.max[i] = v
			b.dirty = true
		}
	}
}

// Merge extends the box, if needed, to contain other.
func (b *Box) Merge(other *Box) {
	for i := range b.min {
		if other.min[i] < b.min[i] {
			b.min[i] = other.min[i]
			b.dirty = true
		}
		if other.max[i] > b.max[i] {
			b.max[i] = other.max[i]
			b.dirty = true
		}
	}
}

// UnionWithPoint returns a new box equal to b extended to contain
// point, leaving b unmodified. Used during insertion to form B' =
// B ∪ {p} without disturbing the cached box of the existing subtree
// until the cut decision is known.
func (b *Box) UnionWithPoint(point []float64) *Box {
	u := b.Copy()
	u.MergePoint(point)
	return u
}

// Contains reports whether point lies within [min, max] on every
// dimension.
func (b *Box) Contains(point []float64) bool {
	for i, v := range point {
		if v < b.min[i] || v > b.max[i] {
			return false
		}
	}
	return true
}

// RangeSum returns sum_i (max_i - min_i), recomputing the cached value
// lazily if the box was mutated since the last call.
func (b *Box) RangeSum() float64 {
	if b.dirty || b.rangeSum == 0 {
		var sum float64
		for i := range b.min {
			sum += b.max[i] - b.min[i]
		}
		b.rangeSum = sum
		b.dirty = false
	}
	return b.rangeSum
}
