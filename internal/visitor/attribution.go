// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package visitor

import "github.com/rcf-go/rcf/internal/tree"

// DiVector is a directional attribution vector: for each dimension it
// tracks how much of the anomaly score came from the query being
// higher (High) or lower (Low) than the tree's content at the
// separating cut.
type DiVector struct {
	High []float64
	Low  []float64
}

// NewDiVector allocates a zeroed DiVector of the given dimension.
func NewDiVector(dimensions int) *DiVector {
	return &DiVector{High: make([]float64, dimensions), Low: make([]float64, dimensions)}
}

// Sum returns the total score the vector represents, the same
// quantity AnomalyScoreVisitor.Score would report for an identical
// traversal.
func (d *DiVector) Sum() float64 {
	var s float64
	for i := range d.High {
		s += d.High[i] + d.Low[i]
	}
	return s
}

// Add accumulates other into d in place.
func (d *DiVector) Add(other *DiVector) {
	for i := range d.High {
		d.High[i] += other.High[i]
		d.Low[i] += other.Low[i]
	}
}

// AnomalyAttributionVisitor attributes a tree's CoDisp contribution to
// the dimension that caused each separating cut, and to the direction
// (High if the query's coordinate exceeded the cut, Low otherwise).
type AnomalyAttributionVisitor struct {
	vec        *DiVector
	queryPoint []float64
}

// NewAnomalyAttributionVisitor creates a visitor for queryPoint over a
// tree of the given dimension.
func NewAnomalyAttributionVisitor(queryPoint []float64, dimensions int) *AnomalyAttributionVisitor {
	return &AnomalyAttributionVisitor{vec: NewDiVector(dimensions), queryPoint: queryPoint}
}

// Visitor returns the tree.Visitor callback set that accumulates the
// DiVector while ascending from the query's insertion point.
func (v *AnomalyAttributionVisitor) Visitor() tree.Visitor {
	return tree.Visitor{
		AcceptInternal: func(branch tree.NodeView, depthOfQuery int, sibling tree.NodeView) {
			disp := float64(sibling.Mass)
			codisp := disp / float64(branch.Mass)
			dim := branch.CutDim
			if v.queryPoint[dim] > branch.CutValue {
				v.vec.High[dim] += codisp
			} else {
				v.vec.Low[dim] += codisp
			}
		},
	}
}

// DiVector returns the accumulated attribution for the traversal so
// far. The caller owns the returned value.
func (v *AnomalyAttributionVisitor) DiVector() *DiVector { return v.vec }
