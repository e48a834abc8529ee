// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package preprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notMissing(n int) []bool { return make([]bool, n) }

func TestShingleFillsBeforeReady(t *testing.T) {
	p, err := New(Config{Dimensions: 2, ShingleSize: 3})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := p.ProcessTuple([]float64{float64(i), float64(i)}, notMissing(2), int64(i))
		require.NoError(t, err)
		assert.False(t, res.Ready)
	}

	res, err := p.ProcessTuple([]float64{2, 2}, notMissing(2), 2)
	require.NoError(t, err)
	require.True(t, res.Ready)
	assert.Len(t, res.Shingle, 6)
	assert.Equal(t, []float64{0, 0, 1, 1, 2, 2}, res.Shingle)
}

func TestFixedImputationFillsMissingValue(t *testing.T) {
	p, err := New(Config{Dimensions: 2, ShingleSize: 1, Imputation: ImputeFixed, FixedValues: []float64{-1, -1}})
	require.NoError(t, err)

	res, err := p.ProcessTuple([]float64{5, 0}, []bool{false, true}, 0)
	require.NoError(t, err)
	require.True(t, res.Ready)
	assert.Equal(t, []float64{5, -1}, res.Shingle)
	assert.Equal(t, 1, res.NumberImputed)
}

func TestPreviousImputationUsesLastObservedValue(t *testing.T) {
	p, err := New(Config{Dimensions: 1, ShingleSize: 1, Imputation: ImputePrevious})
	require.NoError(t, err)

	_, err = p.ProcessTuple([]float64{7}, []bool{false}, 0)
	require.NoError(t, err)

	res, err := p.ProcessTuple([]float64{0}, []bool{true}, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{7}, res.Shingle)
}

func TestLinearImputationDelaysOneStep(t *testing.T) {
	p, err := New(Config{Dimensions: 1, ShingleSize: 1, Imputation: ImputeLinear})
	require.NoError(t, err)

	res1, err := p.ProcessTuple([]float64{0}, []bool{true}, 0)
	require.NoError(t, err)
	assert.False(t, res1.Ready, "linear imputation needs a lookahead tuple before it can emit anything")

	res2, err := p.ProcessTuple([]float64{10}, notMissing(1), 1)
	require.NoError(t, err)
	require.True(t, res2.Ready)
	assert.Equal(t, []float64{5}, res2.Shingle, "first tuple's missing value should average to its own neighbor and the next tuple")
}

func TestDataQualityDropsWithImputation(t *testing.T) {
	p, err := New(Config{Dimensions: 2, ShingleSize: 1, Imputation: ImputeFixed, FixedValues: []float64{0, 0}, DataQualityDecay: 0.5})
	require.NoError(t, err)

	start := p.DataQuality()
	for i := 0; i < 5; i++ {
		_, err := p.ProcessTuple([]float64{1, 0}, []bool{false, true}, int64(i))
		require.NoError(t, err)
	}
	assert.Less(t, p.DataQuality(), start)
}

func TestFastForwardSynthesizesAcrossGap(t *testing.T) {
	p, err := New(Config{Dimensions: 1, ShingleSize: 1, UseTimestamps: true, DefaultTimestampDelta: 1, RunawayMaxUpdatesPerGap: 100})
	require.NoError(t, err)

	_, err = p.ProcessTuple([]float64{1}, notMissing(1), 0)
	require.NoError(t, err)

	res, err := p.ProcessTuple([]float64{2}, notMissing(1), 5)
	require.NoError(t, err)
	assert.Equal(t, 4, res.FastForwardPoints)
}

func TestFastForwardGuardCapsRunawayGap(t *testing.T) {
	p, err := New(Config{Dimensions: 1, ShingleSize: 1, UseTimestamps: true, DefaultTimestampDelta: 1, RunawayMaxUpdatesPerGap: 2})
	require.NoError(t, err)

	_, err = p.ProcessTuple([]float64{1}, notMissing(1), 0)
	require.NoError(t, err)

	res, err := p.ProcessTuple([]float64{2}, notMissing(1), 1000)
	require.NoError(t, err)
	assert.Equal(t, 2, res.FastForwardPoints)
}

func TestNormalizeTransformProducesZeroMeanOverTime(t *testing.T) {
	p, err := New(Config{Dimensions: 1, ShingleSize: 1, Transform: TransformNormalize, NormalizeDecay: 0.2})
	require.NoError(t, err)

	var last Result
	for i := 0; i < 50; i++ {
		last, err = p.ProcessTuple([]float64{10}, notMissing(1), int64(i))
		require.NoError(t, err)
	}
	assert.InDelta(t, 0, last.Shingle[0], 1e-6, "z-score of a constant stream should settle near zero once the running mean tracks it")
}

func TestWrongDimensionRejected(t *testing.T) {
	p, err := New(Config{Dimensions: 2, ShingleSize: 1})
	require.NoError(t, err)
	_, err = p.ProcessTuple([]float64{1}, []bool{false}, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRCFImputationRequiresImputer(t *testing.T) {
	_, err := New(Config{Dimensions: 1, ShingleSize: 1, Imputation: ImputeRCF})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
