// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package sampler

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFillsToCapacityThenEvicts(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s, err := New(5, 0.01, rng)
	require.NoError(t, err)

	for i := int64(0); i < 5; i++ {
		accept, _, evictedOK := s.AcceptPoint(i)
		require.True(t, accept, "reservoir should always accept while filling")
		require.False(t, evictedOK)
		s.AddPoint(Handle(i))
	}
	assert.True(t, s.IsFull())
	assert.Equal(t, 5, s.Size())

	sawAcceptAfterFull := false
	for i := int64(5); i < 200 && !sawAcceptAfterFull; i++ {
		accept, evicted, evictedOK := s.AcceptPoint(i)
		if !accept {
			continue
		}
		sawAcceptAfterFull = true
		assert.True(t, evictedOK)
		s.AddPoint(Handle(i))
		assert.Equal(t, 5, s.Size(), "size must stay at capacity after an accept+evict")
		_ = evicted
	}
	assert.True(t, sawAcceptAfterFull, "a sufficiently long stream should eventually evict")
}

func TestAddPointWithoutAcceptPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s, err := New(3, 0.1, rng)
	require.NoError(t, err)
	assert.Panics(t, func() { s.AddPoint(Handle(0)) })
}

func TestAcceptPointWithoutCommitPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s, err := New(1, 0.1, rng)
	require.NoError(t, err)
	accept, _, _ := s.AcceptPoint(0)
	require.True(t, accept)
	assert.Panics(t, func() { s.AcceptPoint(1) })
}

func TestNegativeDecayRejected(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, err := New(3, -0.1, rng)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestZeroDecayIsValidUniformSampling(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, err := New(3, 0, rng)
	assert.NoError(t, err)
}

func TestIsReadyTracksOutputAfter(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s, err := New(10, 0.01, rng, WithOutputAfter(3))
	require.NoError(t, err)

	for i := int64(0); i < 2; i++ {
		accept, _, _ := s.AcceptPoint(i)
		require.True(t, accept)
		s.AddPoint(Handle(i))
	}
	assert.False(t, s.IsReady())

	accept, _, _ := s.AcceptPoint(2)
	require.True(t, accept)
	s.AddPoint(Handle(2))
	assert.True(t, s.IsReady())
}

func TestDynamicDecayChangeReconciledLazily(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s, err := New(4, 0.01, rng)
	require.NoError(t, err)
	for i := int64(0); i < 4; i++ {
		accept, _, _ := s.AcceptPoint(i)
		require.True(t, accept)
		s.AddPoint(Handle(i))
	}
	before := s.GetSample()

	require.NoError(t, s.SetTimeDecay(0.05))
	after := s.GetSample()

	require.Len(t, after, len(before))
	for i := range before {
		assert.NotEqual(t, before[i].Weight, after[i].Weight, "weights should shift once decay is reconciled")
	}
}

func TestSetTimeDecayRejectsNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s, err := New(3, 0.1, rng)
	require.NoError(t, err)
	assert.ErrorIs(t, s.SetTimeDecay(-1), ErrInvalidArgument)
}
