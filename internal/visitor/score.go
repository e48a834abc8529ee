// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package visitor implements the concrete tree-traversal visitors that
// turn a random cut tree walk into a statistic: anomaly score,
// attribution, imputation, near-neighbor lookup, and density.
package visitor

import (
	"math"

	"github.com/rcf-go/rcf/internal/tree"
)

// AnomalyScoreVisitor accumulates the collusive displacement (CoDisp)
// a query point would cause across one tree.
// At each branch ascended through on the way from the query's
// insertion point to the root, the sibling subtree's mass is the
// number of points that would need to vanish for that separation to
// disappear; CoDisp is the sum, over every such branch, of that
// displacement normalized by the mass of the subtree the query would
// join. A point isolated high in the tree by very few neighbors scores
// high; a point deep inside a dense cluster scores low. This is the
// same per-branch quantity AnomalyAttributionVisitor accumulates into
// its DiVector, so Score() always equals DiVector().Sum() for an
// identical traversal.
type AnomalyScoreVisitor struct {
	score float64
}

// NewAnomalyScoreVisitor creates a fresh, empty visitor.
func NewAnomalyScoreVisitor() *AnomalyScoreVisitor {
	return &AnomalyScoreVisitor{}
}

// Visitor returns the tree.Visitor callback set that accumulates
// CoDisp while ascending from the query's insertion point.
func (v *AnomalyScoreVisitor) Visitor() tree.Visitor {
	return tree.Visitor{
		AcceptInternal: func(branch tree.NodeView, depthOfQuery int, sibling tree.NodeView) {
			disp := float64(sibling.Mass)
			codisp := disp / float64(branch.Mass)
			v.score += codisp
		},
	}
}

// Score returns the accumulated CoDisp for the traversal so far.
func (v *AnomalyScoreVisitor) Score() float64 { return v.score }

// DynamicScore converts a tree's raw CoDisp into the forest-level
// unit: the contribution is divided by the expected depth of a random
// binary tree over treeSize points so that trees of different current
// sizes contribute comparably before the
// executor averages across the forest.
func DynamicScore(codisp float64, treeSize int) float64 {
	if treeSize <= 1 {
		return codisp
	}
	return codisp / expectedDepth(treeSize)
}

func expectedDepth(n int) float64 {
	if n <= 1 {
		return 1
	}
	h := harmonic(n - 1)
	d := 2*h - 2*float64(n-1)/float64(n)
	if d <= 0 {
		return 1
	}
	return d
}

func harmonic(n int) float64 {
	if n <= 0 {
		return 0
	}
	return math.Log(float64(n)) + 0.5772156649015329
}
