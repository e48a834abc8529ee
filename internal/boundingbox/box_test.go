// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package boundingbox

import "testing"

func TestNewFromPoint(t *testing.T) {
	b := NewFromPoint([]float64{1, 2, 3})
	if b.RangeSum() != 0 {
		t.Errorf("expected rangeSum 0 for a point box, got %f", b.RangeSum())
	}
	if !b.Contains([]float64{1, 2, 3}) {
		t.Error("box should contain its own defining point")
	}
}

func TestMergePoint(t *testing.T) {
	b := NewFromPoint([]float64{0, 0})
	b.MergePoint([]float64{1, 1})
	if got := b.RangeSum(); got != 2 {
		t.Errorf("expected rangeSum 2, got %f", got)
	}
	if !b.Contains([]float64{0.5, 0.5}) {
		t.Error("expected box to contain midpoint")
	}
	if b.Contains([]float64{2, 0}) {
		t.Error("box should not contain point outside range")
	}
}

func TestMerge(t *testing.T) {
	a := NewFromPoint([]float64{0, 0})
	b := NewFromPoint([]float64{1, -1})
	a.Merge(b)
	if a.Min()[1] != -1 || a.Max()[0] != 1 {
		t.Errorf("unexpected merged bounds: min=%v max=%v", a.Min(), a.Max())
	}
}

func TestUnionWithPointLeavesOriginalUntouched(t *testing.T) {
	b := NewFromPoint([]float64{0, 0})
	u := b.UnionWithPoint([]float64{5, 5})
	if b.RangeSum() != 0 {
		t.Error("UnionWithPoint must not mutate the receiver")
	}
	if u.RangeSum() != 10 {
		t.Errorf("expected union rangeSum 10, got %f", u.RangeSum())
	}
}

func TestCopyIsIndependent(t *testing.T) {
	a := NewFromPoint([]float64{0, 0})
	c := a.Copy()
	c.MergePoint([]float64{3, 3})
	if a.RangeSum() != 0 {
		t.Error("mutating a copy must not affect the original")
	}
}
