// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package visitor

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcf-go/rcf/internal/tree"
)

func buildTestTree(t *testing.T) *tree.Tree {
	t.Helper()
	tr := tree.New(rand.New(rand.NewSource(7)), 2, 20, tree.WithSequenceIndexes())
	points := [][]float64{
		{0, 0}, {0.1, 0.1}, {0.2, -0.1}, {-0.1, 0.2}, {0.1, -0.1},
	}
	for i, p := range points {
		tr.InsertPoint(p, tree.Handle(i), int64(i))
	}
	return tr
}

func TestAnomalyScoreHigherForOutlier(t *testing.T) {
	tr := buildTestTree(t)

	inlier := NewAnomalyScoreVisitor()
	tr.Traverse([]float64{0.05, 0.0}, inlier.Visitor())

	outlier := NewAnomalyScoreVisitor()
	tr.Traverse([]float64{50, 50}, outlier.Visitor())

	assert.Greater(t, outlier.Score(), inlier.Score(), "a far-away point should score higher CoDisp than a central one")
}

// TestAttributionSumsToScore checks that AnomalyScoreVisitor and
// AnomalyAttributionVisitor accumulate the same per-branch CoDisp
// quantity, just partitioned differently (by dimension and direction
// for attribution, not at all for score), so DiVector().Sum() equals
// Score() for any traversal, not merely one that happens to cross a
// single branch. A second query point exercises a different
// insertion path through the tree to rule out the identity holding
// only by coincidence for one path.
func TestAttributionSumsToScore(t *testing.T) {
	tr := buildTestTree(t)

	for _, query := range [][]float64{{10, -10}, {-5, 5}, {0.05, 0.0}} {
		scoreV := NewAnomalyScoreVisitor()
		tr.Traverse(query, scoreV.Visitor())

		attrV := NewAnomalyAttributionVisitor(query, 2)
		tr.Traverse(query, attrV.Visitor())

		assert.InDelta(t, scoreV.Score(), attrV.DiVector().Sum(), 1e-9, "attribution dimensions must sum to the overall score for query %v", query)
	}
}

func TestDiVectorAdd(t *testing.T) {
	a := NewDiVector(2)
	a.High[0] = 1
	b := NewDiVector(2)
	b.Low[1] = 2
	a.Add(b)
	require.Equal(t, []float64{1, 0}, a.High)
	require.Equal(t, []float64{0, 2}, a.Low)
}

func TestImputeCollectReturnsCandidates(t *testing.T) {
	tr := buildTestTree(t)
	query := []float64{0, 0}
	v := NewImputeVisitor(query, []int{1})

	candidates := v.Collect(tr)
	require.NotEmpty(t, candidates)
	for _, c := range candidates {
		require.Len(t, c.Values, 1)
	}
}

func TestBestCandidatePrefersHighestMass(t *testing.T) {
	candidates := []ImputeCandidate{
		{Values: []float64{1}, Mass: 1},
		{Values: []float64{2}, Mass: 5},
		{Values: []float64{3}, Mass: 2},
	}
	best := BestCandidate(candidates)
	assert.Equal(t, 2.0, best.Values[0])
}

func TestNearNeighborFindsClosestLeaf(t *testing.T) {
	tr := buildTestTree(t)
	v := NewNearNeighborVisitor([]float64{0.09, 0.09})
	tr.Traverse([]float64{0.09, 0.09}, v.Visitor())

	n := v.Neighbor()
	require.NotNil(t, n)
	assert.Less(t, n.Distance, 1.0)
}

func TestDensityVisitorAccumulatesPositiveMeasure(t *testing.T) {
	tr := buildTestTree(t)
	v := NewDensityVisitor()
	tr.Traverse([]float64{0.05, 0.0}, v.Visitor())

	out := Combine(v.Measure(), 2)
	assert.GreaterOrEqual(t, out.Density, 0.0)
}
