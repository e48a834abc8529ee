// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package sampler implements the per-tree time-biased reservoir
// sampler (Efraimidis-Spirakis weighted reservoir with an exponential
// decay law) that decides which points a random cut tree admits and
// evicts.
package sampler

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"

	"github.com/rcf-go/rcf/internal/pointstore"
)

// Handle aliases the point store's handle type; the sampler only ever
// threads handles through, it never dereferences a point's contents.
type Handle = pointstore.Handle

// ErrInvalidArgument is returned for a negative decay rate.
var ErrInvalidArgument = fmt.Errorf("sampler: invalid argument")

// ErrInvariantViolation names the sampler's invariant-violation error
// kind. AcceptPoint and AddPoint called out of the required pairing
// panic rather than return it.
var ErrInvariantViolation = fmt.Errorf("sampler: invariant violation")

type entry struct {
	weight        float64
	handle        Handle
	sequenceIndex int64
}

// maxHeap orders entries so the largest (stalest, per the decay law
// where smaller weight is younger) weight sits at index 0 — the next
// candidate for eviction.
type maxHeap []entry

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].weight > h[j].weight }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(entry)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Sampler is a weighted reservoir of capacity C for a single tree.
type Sampler struct {
	capacity              int
	outputAfter           int
	lambda                float64
	initialAcceptFraction float64
	rng                   *rand.Rand

	heap       maxHeap
	decayDelta float64

	sequenceSeen int64

	pending               bool
	pendingWeight         float64
	pendingSequenceIndex  int64
	pendingHasEviction    bool
	pendingEvictionHandle Handle
}

// Option configures a Sampler at construction.
type Option func(*Sampler)

// WithOutputAfter sets the minimum sample count before IsReady
// reports true. Defaults to capacity.
func WithOutputAfter(n int) Option {
	return func(s *Sampler) { s.outputAfter = n }
}

// WithInitialAcceptFraction overrides the warm-up acceptance
// probability numerator. Defaults to 1.0, which degenerates to
// unconditional acceptance while the reservoir is filling.
func WithInitialAcceptFraction(f float64) Option {
	return func(s *Sampler) { s.initialAcceptFraction = f }
}

// New creates a Sampler with the given capacity, decay rate, and PRNG.
func New(capacity int, lambda float64, rng *rand.Rand, opts ...Option) (*Sampler, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidArgument, capacity)
	}
	if lambda < 0 {
		return nil, fmt.Errorf("%w: time decay must be >= 0, got %f", ErrInvalidArgument, lambda)
	}
	s := &Sampler{
		capacity:              capacity,
		outputAfter:           capacity,
		lambda:                lambda,
		initialAcceptFraction: 1.0,
		rng:                   rng,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Size returns the current number of occupied reservoir slots.
func (s *Sampler) Size() int { return len(s.heap) }

// Capacity returns C.
func (s *Sampler) Capacity() int { return s.capacity }

// IsFull reports whether the reservoir has reached capacity.
func (s *Sampler) IsFull() bool { return len(s.heap) >= s.capacity }

// IsReady reports whether the sampler has admitted at least
// outputAfter points.
func (s *Sampler) IsReady() bool { return len(s.heap) >= s.outputAfter }

// SetTimeDecay changes lambda. The resulting shift is accumulated and
// lazily subtracted from every stored weight the next time weights
// are reconciled (on the next steady-state
// AcceptPoint comparison or GetSample call), rather than rewriting the
// whole heap immediately.
func (s *Sampler) SetTimeDecay(lambda float64) error {
	if lambda < 0 {
		return fmt.Errorf("%w: time decay must be >= 0, got %f", ErrInvalidArgument, lambda)
	}
	s.decayDelta += lambda - s.lambda
	s.lambda = lambda
	return nil
}

func (s *Sampler) reconcileDecay() {
	if s.decayDelta == 0 {
		return
	}
	for i := range s.heap {
		s.heap[i].weight -= s.decayDelta
	}
	heap.Init(&s.heap)
	s.decayDelta = 0
}

func (s *Sampler) nextWeight(sequenceIndex int64) float64 {
	u := s.rng.Float64()
	for u <= 0 {
		u = s.rng.Float64()
	}
	if s.lambda == 0 {
		return math.Log(-math.Log(u))
	}
	return -s.lambda*float64(sequenceIndex) + math.Log(-math.Log(u))
}

// AcceptPoint decides whether the point about to be offered at
// sequenceIndex would be sampled. On acceptance it records a
// provisional weight that AddPoint must commit before the next
// AcceptPoint call. If the reservoir was already full, evictedOK
// reports true and evicted names the handle that would leave.
func (s *Sampler) AcceptPoint(sequenceIndex int64) (accept bool, evicted Handle, evictedOK bool) {
	if s.pending {
		panic("sampler: AcceptPoint called before a prior decision was committed with AddPoint")
	}
	s.sequenceSeen++

	if len(s.heap) < s.capacity {
		prob := math.Min(1.0, s.initialAcceptFraction*float64(s.capacity)/math.Max(float64(sequenceIndex), 1))
		if s.rng.Float64() >= prob {
			return false, 0, false
		}
		s.pendingWeight = s.nextWeight(sequenceIndex)
		s.pendingSequenceIndex = sequenceIndex
		s.pending = true
		s.pendingHasEviction = false
		return true, 0, false
	}

	s.reconcileDecay()
	w := s.nextWeight(sequenceIndex)
	if w >= s.heap[0].weight {
		return false, 0, false
	}

	top := heap.Pop(&s.heap).(entry)
	s.pendingWeight = w
	s.pendingSequenceIndex = sequenceIndex
	s.pending = true
	s.pendingHasEviction = true
	s.pendingEvictionHandle = top.handle
	return true, top.handle, true
}

// AddPoint commits the last accepted decision, binding it to handle.
// Calling AddPoint without a pending acceptance is an invariant
// violation.
func (s *Sampler) AddPoint(handle Handle) {
	if !s.pending {
		panic("sampler: AddPoint called without a pending AcceptPoint decision")
	}
	heap.Push(&s.heap, entry{weight: s.pendingWeight, handle: handle, sequenceIndex: s.pendingSequenceIndex})
	s.pending = false
	s.pendingHasEviction = false
}

// Sample is a reconciled (weight, handle, sequenceIndex) triple
// returned by GetSample.
type Sample struct {
	Weight        float64
	Handle        Handle
	SequenceIndex int64
}

// GetSample returns the reconciled current contents of the reservoir.
func (s *Sampler) GetSample() []Sample {
	s.reconcileDecay()
	out := make([]Sample, len(s.heap))
	for i, e := range s.heap {
		out[i] = Sample{Weight: e.weight, Handle: e.handle, SequenceIndex: e.sequenceIndex}
	}
	return out
}
