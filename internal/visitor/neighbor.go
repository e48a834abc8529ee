// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package visitor

import (
	"math"

	"github.com/rcf-go/rcf/internal/tree"
)

// Neighbor is a point found near a query during a NearNeighborVisitor
// traversal, together with its Euclidean distance to the query.
type Neighbor struct {
	Point    []float64
	Handle   tree.Handle
	Distance float64
}

// NearNeighborVisitor reports, for one tree, the leaf at the end of the
// query's descent path and its distance to the query. Other leaves are
// not examined, so a closer sample point elsewhere in the tree is not
// found.
type NearNeighborVisitor struct {
	queryPoint []float64
	best       *Neighbor
}

// NewNearNeighborVisitor creates a visitor for queryPoint.
func NewNearNeighborVisitor(queryPoint []float64) *NearNeighborVisitor {
	return &NearNeighborVisitor{queryPoint: queryPoint}
}

// Visitor returns the tree.Visitor callback set that records the
// leaf the query would be inserted next to.
func (v *NearNeighborVisitor) Visitor() tree.Visitor {
	return tree.Visitor{
		AcceptLeaf: func(leaf tree.NodeView, depthOfQuery int) {
			v.best = &Neighbor{Point: leaf.Point, Handle: leaf.Handle, Distance: euclidean(v.queryPoint, leaf.Point)}
		},
	}
}

// Neighbor returns the leaf point found, or nil if the tree was
// empty.
func (v *NearNeighborVisitor) Neighbor() *Neighbor { return v.best }

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
