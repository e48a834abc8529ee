// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package visitor

import "github.com/rcf-go/rcf/internal/tree"

// InterpolationMeasure is the raw ingredient a density estimate is
// built from for one tree: the mass and per-dimension bounding-box
// range sum of the smallest subtree enclosing the query at each
// ascended level.
type InterpolationMeasure struct {
	Mass          float64
	RangeSum      float64
	DepthWeighted float64
}

// DensityVisitor accumulates an interpolation measure by summing each
// ancestor branch's mass, range sum and depth, each weighted by
// 1/(depth+1), so shallow branches weigh most; branches with a zero
// range sum are skipped.
type DensityVisitor struct {
	measure   InterpolationMeasure
	sumWeight float64
}

// NewDensityVisitor creates a fresh, empty visitor.
func NewDensityVisitor() *DensityVisitor {
	return &DensityVisitor{}
}

// Visitor returns the tree.Visitor callback set that accumulates the
// interpolation measure while ascending from the query's insertion
// point.
func (v *DensityVisitor) Visitor() tree.Visitor {
	return tree.Visitor{
		AcceptInternal: func(branch tree.NodeView, depthOfQuery int, sibling tree.NodeView) {
			weight := 1.0 / float64(branch.Depth+1)
			rangeSum := branch.Box.RangeSum()
			if rangeSum <= 0 {
				return
			}
			v.measure.Mass += weight * float64(branch.Mass)
			v.measure.RangeSum += weight * rangeSum
			v.measure.DepthWeighted += weight * float64(branch.Depth)
			v.sumWeight += weight
		},
	}
}

// Measure returns the accumulated interpolation measure.
func (v *DensityVisitor) Measure() InterpolationMeasure { return v.measure }

// DensityOutput is the per-query result: a density estimate and the
// measure it was derived from, both averaged across the forest by the
// caller.
type DensityOutput struct {
	Density float64
	Measure InterpolationMeasure
}

// Combine turns an accumulated InterpolationMeasure into a density
// estimate: mass per unit volume, using the dimensionally-normalized
// range sum as the volume proxy rather than a true hyper-volume, which
// is numerically unstable in high dimension.
func Combine(m InterpolationMeasure, dimensions int) DensityOutput {
	if m.RangeSum <= 0 {
		return DensityOutput{Density: 0, Measure: m}
	}
	normalizedVolume := m.RangeSum / float64(dimensions)
	return DensityOutput{Density: m.Mass / normalizedVolume, Measure: m}
}
