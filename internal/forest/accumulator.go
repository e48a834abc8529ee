// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package forest

import "math"

// ConvergingAccumulator implements a one-sided early-stop test: a
// running value is a "witness" once it exceeds the mean of everything
// seen before it by more than alpha standard deviations; the
// accumulator declares convergence once enough witnesses have
// accrued, with a floor on the number of trees evaluated regardless
// of witness count.
type ConvergingAccumulator struct {
	alpha             float64
	precision         float64
	minValuesAccepted int

	n         int
	sum       float64
	sumSq     float64
	witnesses int
}

// NewConvergingAccumulator creates an accumulator. alpha is the
// standard-deviation multiplier for the witness test (0.5 is a
// reasonable default); precision determines the witness target,
// ceil(1/precision); minValuesAccepted is a floor below which
// convergence is never declared even with zero variance.
func NewConvergingAccumulator(alpha, precision float64, minValuesAccepted int) *ConvergingAccumulator {
	return &ConvergingAccumulator{alpha: alpha, precision: precision, minValuesAccepted: minValuesAccepted}
}

// Add records one more per-tree value, testing it against the mean and
// standard deviation of every value added before it.
func (c *ConvergingAccumulator) Add(x float64) {
	if c.n > 0 {
		mean := c.sum / float64(c.n)
		variance := c.sumSq/float64(c.n) - mean*mean
		if variance < 0 {
			variance = 0
		}
		sigma := math.Sqrt(variance)
		if x > mean+c.alpha*sigma {
			c.witnesses++
		}
	}
	c.n++
	c.sum += x
	c.sumSq += x * x
}

// Count returns how many values have been added.
func (c *ConvergingAccumulator) Count() int { return c.n }

// Mean returns the running mean, or 0 if nothing has been added.
func (c *ConvergingAccumulator) Mean() float64 {
	if c.n == 0 {
		return 0
	}
	return c.sum / float64(c.n)
}

// HasConverged reports whether enough witnesses have accrued, subject
// to the minValuesAccepted floor.
func (c *ConvergingAccumulator) HasConverged() bool {
	if c.n < c.minValuesAccepted {
		return false
	}
	target := int(math.Ceil(1.0 / c.precision))
	return c.witnesses >= target
}
