// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package visitor

import "github.com/rcf-go/rcf/internal/tree"

// ImputeCandidate is one leaf-derived guess at the values of the
// missing dimensions of a query point.
type ImputeCandidate struct {
	Values []float64 // one entry per missing dimension, in MissingDims order
	Mass   int
}

// ImputeVisitor fills in the dimensions named by MissingDims by
// exploring every branch whose cut dimension is itself missing (since
// the query cannot be routed past such a cut) and collecting one
// candidate per leaf reached.
type ImputeVisitor struct {
	queryPoint  []float64
	missingDims []int
	missingSet  map[int]bool
}

// NewImputeVisitor creates a visitor for queryPoint with the given
// zero-based missing dimension indexes.
func NewImputeVisitor(queryPoint []float64, missingDims []int) *ImputeVisitor {
	set := make(map[int]bool, len(missingDims))
	for _, d := range missingDims {
		set[d] = true
	}
	return &ImputeVisitor{queryPoint: queryPoint, missingDims: missingDims, missingSet: set}
}

func (v *ImputeVisitor) leafCandidate(leaf tree.NodeView) ImputeCandidate {
	values := make([]float64, len(v.missingDims))
	for i, d := range v.missingDims {
		values[i] = leaf.Point[d]
	}
	return ImputeCandidate{Values: values, Mass: leaf.Mass}
}

// Collect runs a multi-visitor traversal over t and returns one
// candidate per leaf reached. Branches whose cut dimension is missing
// are explored on both sides, since the query cannot be meaningfully
// routed past a cut it has no value for.
func (v *ImputeVisitor) Collect(t *tree.Tree) []ImputeCandidate {
	var all []ImputeCandidate
	mv := tree.MultiVisitor{
		ShouldSplit: func(branch tree.NodeView) bool {
			return v.missingSet[branch.CutDim]
		},
	}
	mv.Visitor.AcceptLeaf = func(leaf tree.NodeView, depthOfQuery int) {
		all = append(all, v.leafCandidate(leaf))
	}
	t.TraverseMulti(v.queryPoint, nil, mv)
	return all
}

// BestCandidate picks the candidate whose mass is greatest, breaking
// ties toward the first encountered, favoring the most frequently
// observed completion over a plain average when candidates disagree.
func BestCandidate(candidates []ImputeCandidate) ImputeCandidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Mass > best.Mass {
			best = c
		}
	}
	return best
}
