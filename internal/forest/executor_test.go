// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package forest

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcf-go/rcf/internal/pointstore"
	"github.com/rcf-go/rcf/internal/sampler"
	"github.com/rcf-go/rcf/internal/tree"
	"github.com/rcf-go/rcf/internal/visitor"
)

func newTestExecutor(t *testing.T, numTrees, capacity, dim int) *Executor {
	t.Helper()
	store, err := pointstore.New(dim, 1, pointstore.WithDirectLocationMap())
	require.NoError(t, err)

	pairs := make([]Pair, numTrees)
	for i := range pairs {
		rng := rand.New(rand.NewSource(int64(i + 1)))
		s, err := sampler.New(capacity, 1e-4, rng)
		require.NoError(t, err)
		pairs[i] = Pair{Sampler: s, Tree: tree.New(rng, dim, capacity)}
	}
	return New(pairs, store, WithThreadPoolSize(4))
}

func TestUpdateAdmitsPointsUpToCapacity(t *testing.T) {
	e := newTestExecutor(t, 3, 10, 2)
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 10; i++ {
		require.NoError(t, e.Update([]float64{rng.Float64(), rng.Float64()}))
	}
	assert.EqualValues(t, 10, e.TotalUpdates())

	for _, p := range e.pairs {
		assert.LessOrEqual(t, p.Tree.Size(), 10)
		assert.Equal(t, p.Tree.Size(), p.Sampler.Size())
	}
}

func TestUpdateManyPointsStaysBounded(t *testing.T) {
	e := newTestExecutor(t, 2, 20, 2)
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 500; i++ {
		require.NoError(t, e.Update([]float64{rng.NormFloat64(), rng.NormFloat64()}))
	}
	for _, p := range e.pairs {
		assert.LessOrEqual(t, p.Tree.Size(), 20)
	}
}

func TestTraverseForestEvaluatesEveryTree(t *testing.T) {
	e := newTestExecutor(t, 5, 15, 2)
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 30; i++ {
		require.NoError(t, e.Update([]float64{rng.NormFloat64(), rng.NormFloat64()}))
	}

	results, err := e.TraverseForest(context.Background(), func(tr *tree.Tree) float64 {
		v := visitor.NewAnomalyScoreVisitor()
		tr.Traverse([]float64{5, 5}, v.Visitor())
		return v.Score()
	}, nil)
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestTraverseForestConvergesEarlyOnObviousOutlier(t *testing.T) {
	e := newTestExecutor(t, 20, 10, 2)

	idx := make(map[*tree.Tree]int, len(e.pairs))
	for i, p := range e.pairs {
		idx[p.Tree] = i
	}
	// Four agreeing low values followed by sixteen agreeing high
	// values: the jump after index 3 should accrue ten witnesses
	// (ceil(1/0.1)) by the time the fourth batch of four finishes,
	// stopping before the fifth batch of trees is ever evaluated.
	vals := make([]float64, 20)
	for i := range vals {
		if i < 4 {
			vals[i] = 1
		} else {
			vals[i] = 10
		}
	}

	acc := NewConvergingAccumulator(0.5, 0.1, 4)
	results, err := e.TraverseForest(context.Background(), func(tr *tree.Tree) float64 {
		return vals[idx[tr]]
	}, acc)
	require.NoError(t, err)
	assert.Len(t, results, 16, "convergence should stop evaluation after the fourth batch of four trees")
}

func TestConvergingAccumulatorRequiresMinValues(t *testing.T) {
	acc := NewConvergingAccumulator(0.5, 0.01, 5)
	acc.Add(1.0)
	assert.False(t, acc.HasConverged(), "fewer than minValuesAccepted samples must never report converged")
}
