// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package tree

import (
	"math/rand"
	"testing"
)

func TestEmptyTree(t *testing.T) {
	tr := New(rand.New(rand.NewSource(1)), 2, 10)
	if tr.Size() != 0 {
		t.Errorf("Size() = %d, want 0", tr.Size())
	}
	if tr.Mass() != 0 {
		t.Errorf("Mass() = %d, want 0", tr.Mass())
	}
}

func TestInsertSinglePoint(t *testing.T) {
	tr := New(rand.New(rand.NewSource(1)), 2, 10)
	tr.InsertPoint([]float64{1, 2}, Handle(0), 0)

	if tr.Size() != 1 {
		t.Errorf("Size() = %d, want 1", tr.Size())
	}
	if tr.Mass() != 1 {
		t.Errorf("Mass() = %d, want 1", tr.Mass())
	}
	if !tr.Contains(Handle(0)) {
		t.Errorf("Contains(0) = false, want true")
	}
}

func TestInsertMultiplePoints(t *testing.T) {
	tr := New(rand.New(rand.NewSource(42)), 2, 10)
	points := [][]float64{{0, 0}, {1, 1}, {5, 5}, {2, 3}, {-1, -4}}
	for i, p := range points {
		tr.InsertPoint(p, Handle(i), int64(i))
	}
	if tr.Size() != len(points) {
		t.Errorf("Size() = %d, want %d", tr.Size(), len(points))
	}
	if tr.Mass() != len(points) {
		t.Errorf("Mass() = %d, want %d", tr.Mass(), len(points))
	}
}

func TestInsertDuplicatePointCountsEachHandle(t *testing.T) {
	tr := New(rand.New(rand.NewSource(3)), 2, 10)
	tr.InsertPoint([]float64{1, 1}, Handle(0), 0)
	tr.InsertPoint([]float64{1, 1}, Handle(1), 1)
	tr.InsertPoint([]float64{9, 9}, Handle(2), 2)

	if tr.Size() != 3 {
		t.Errorf("Size() = %d, want 3 (each handle gets its own leaf entry)", tr.Size())
	}
	if tr.Mass() != 3 {
		t.Errorf("Mass() = %d, want 3", tr.Mass())
	}
}

func TestForgetPointRemovesHandle(t *testing.T) {
	tr := New(rand.New(rand.NewSource(5)), 2, 10, WithSequenceIndexes())
	for i, p := range [][]float64{{0, 0}, {1, 1}, {5, 5}} {
		tr.InsertPoint(p, Handle(i), int64(i))
	}
	if err := tr.ForgetPoint(Handle(1), 1); err != nil {
		t.Fatalf("ForgetPoint returned error: %v", err)
	}
	if tr.Contains(Handle(1)) {
		t.Errorf("Contains(1) = true after forget, want false")
	}
	if tr.Size() != 2 {
		t.Errorf("Size() = %d, want 2", tr.Size())
	}
	if tr.Mass() != 2 {
		t.Errorf("Mass() = %d, want 2", tr.Mass())
	}
}

func TestForgetUnknownHandleReturnsError(t *testing.T) {
	tr := New(rand.New(rand.NewSource(5)), 2, 10)
	tr.InsertPoint([]float64{0, 0}, Handle(0), 0)

	if err := tr.ForgetPoint(Handle(99), 0); err == nil {
		t.Errorf("ForgetPoint of an absent handle returned nil error, want ErrNotFound")
	}
}

func TestForgetWrongSequenceIndexReturnsError(t *testing.T) {
	tr := New(rand.New(rand.NewSource(5)), 2, 10, WithSequenceIndexes())
	tr.InsertPoint([]float64{0, 0}, Handle(0), 7)

	if err := tr.ForgetPoint(Handle(0), 8); err == nil {
		t.Errorf("ForgetPoint with a stale sequence index returned nil error, want ErrSequenceMismatch")
	}
}

func TestBoundingBoxContainsAllInsertedPoints(t *testing.T) {
	tr := New(rand.New(rand.NewSource(11)), 2, 10, WithBoundingBoxCacheFraction(1.0))
	points := [][]float64{{0, 0}, {3, -2}, {-5, 5}, {1, 1}}
	for i, p := range points {
		tr.InsertPoint(p, Handle(i), int64(i))
	}

	box := boxOf(tr.root)
	for _, p := range points {
		if !box.Contains(p) {
			t.Errorf("root bounding box does not contain inserted point %v", p)
		}
	}
}

func TestManyInsertDeleteKeepsMassConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	tr := New(rng, 3, 50, WithSequenceIndexes())

	live := make(map[Handle]int64)
	var nextHandle Handle
	for i := 0; i < 200; i++ {
		p := []float64{rng.Float64() * 10, rng.Float64() * 10, rng.Float64() * 10}
		h := nextHandle
		nextHandle++
		tr.InsertPoint(p, h, int64(i))
		live[h] = int64(i)

		if len(live) > 20 {
			for oldH, seq := range live {
				if err := tr.ForgetPoint(oldH, seq); err != nil {
					t.Fatalf("ForgetPoint(%d, %d) returned error: %v", oldH, seq, err)
				}
				delete(live, oldH)
				break
			}
		}

		if tr.Mass() != len(live) {
			t.Errorf("iteration %d: Mass() = %d, want %d", i, tr.Mass(), len(live))
		}
		if tr.Size() != len(live) {
			t.Errorf("iteration %d: Size() = %d, want %d", i, tr.Size(), len(live))
		}
	}
}

func TestTraverseVisitsLeafThenAncestorsToRoot(t *testing.T) {
	tr := New(rand.New(rand.NewSource(21)), 2, 10)
	points := [][]float64{{0, 0}, {10, 10}, {5, 5}, {2, 8}}
	for i, p := range points {
		tr.InsertPoint(p, Handle(i), int64(i))
	}

	var leafSeen bool
	var internalCount int
	tr.Traverse([]float64{0, 0}, Visitor{
		AcceptLeaf: func(leaf NodeView, depth int) {
			leafSeen = true
			if !leaf.IsLeaf {
				t.Errorf("AcceptLeaf received a non-leaf view")
			}
		},
		AcceptInternal: func(branch NodeView, depth int, sibling NodeView) {
			internalCount++
			if branch.IsLeaf {
				t.Errorf("AcceptInternal received a leaf view")
			}
		},
	})

	if !leafSeen {
		t.Errorf("Traverse never invoked AcceptLeaf")
	}
	if internalCount == 0 {
		t.Errorf("Traverse never invoked AcceptInternal for a 4-point tree")
	}
}
