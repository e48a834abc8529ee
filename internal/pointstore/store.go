// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package pointstore implements the content-addressed, reference-counted
// store of fixed-dimension float vectors shared by every tree in a
// forest. It assigns stable integer handles and, in internal-shingling
// mode, deduplicates the overlap between consecutive shingled windows.
package pointstore

import (
	"fmt"
	"sync"
)

// Handle is a non-negative integer identifier for a stored point,
// stable for the lifetime of the underlying vector. A handle is
// reused only after its reference count has returned to zero; freed
// handles go on a free list and are handed out again by the next Add.
type Handle uint32

// ErrInvalidArgument is returned for wrong-length points and invalid
// construction parameters. The store has no capacity limit.
var ErrInvalidArgument = fmt.Errorf("pointstore: invalid argument")

// ErrInvariantViolation is returned when a caller decrements a handle
// that is not live. This is treated as fatal, unrecoverable state
// corruption rather than a value the caller is expected to branch on.
var ErrInvariantViolation = fmt.Errorf("pointstore: invariant violation")

type slot struct {
	// offset is either handle*dimension (directLocationMap) or the
	// start offset of this handle's shingle window inside the shared
	// rolling buffer (internalShingling).
	offset   int
	refCount uint32
	live     bool
}

// Store holds fixed-dimension float32 vectors behind stable handles.
// Float32 is used internally to save memory, since trees hold millions
// of floats; the layout is float32 whatever the forest's Precision
// setting.
type Store struct {
	mu sync.Mutex

	dimension         int
	shingleSize       int
	internalShingling bool
	directLocationMap bool

	buffer []float32
	slots  []slot
	free   []Handle

	// shingleWindow holds the most recent contiguous window of
	// internalShingling·blockSize floats; each new add in shingling
	// mode shifts this window by one block and stores only the new
	// block, sharing the rest with the previous handle's window.
	shingleWindow []float32
	blockSize     int
}

// Option configures a Store at construction.
type Option func(*Store)

// WithInternalShingling enables the deduplicating shingle-window mode.
// blockSize is the width of one input tuple (dimension / shingleSize).
func WithInternalShingling(blockSize int) Option {
	return func(s *Store) {
		s.internalShingling = true
		s.blockSize = blockSize
	}
}

// WithDirectLocationMap assigns offset = handle*dimension for every
// point, trading memory for simplicity (no shingle-window sharing).
func WithDirectLocationMap() Option {
	return func(s *Store) {
		s.directLocationMap = true
	}
}

// New creates a Store for vectors of the given dimension.
func New(dimension, shingleSize int, opts ...Option) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidArgument, dimension)
	}
	s := &Store{dimension: dimension, shingleSize: shingleSize}
	for _, opt := range opts {
		opt(s)
	}
	if s.internalShingling && s.blockSize <= 0 {
		return nil, fmt.Errorf("%w: internal shingling requires a positive block size", ErrInvalidArgument)
	}
	return s, nil
}

// Add stores point (length must equal the configured dimension) and
// returns a fresh handle with reference count 1.
//
// In internal-shingling mode, point is expected to be the full current
// shingle (dimension = blockSize*shingleSize); only the new trailing
// block is actually appended to the shared rolling window, and the
// handle records the start offset of its window within that buffer.
func (s *Store) Add(point []float32) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(point) != s.dimension {
		return 0, fmt.Errorf("%w: point has length %d, want %d", ErrInvalidArgument, len(point), s.dimension)
	}

	var offset int
	if s.internalShingling {
		offset = s.appendShingled(point)
	} else if s.directLocationMap {
		offset = int(s.nextDirectHandle()) * s.dimension
		s.growBufferTo(offset + s.dimension)
		copy(s.buffer[offset:offset+s.dimension], point)
	} else {
		offset = len(s.buffer)
		s.buffer = append(s.buffer, point...)
	}

	h := s.allocateHandle(offset)
	return h, nil
}

func (s *Store) nextDirectHandle() Handle {
	if len(s.free) > 0 {
		return s.free[len(s.free)-1]
	}
	return Handle(len(s.slots))
}

func (s *Store) growBufferTo(n int) {
	if len(s.buffer) < n {
		grown := make([]float32, n)
		copy(grown, s.buffer)
		s.buffer = grown
	}
}

// appendShingled shifts the rolling window by one block, appends the
// new trailing block, and returns the new window's start offset. When
// all but the last block of point equal the tail of the previous
// window, only that last block is appended and the rest is shared;
// otherwise (the previous shingle was never stored, or point does not
// continue it) the whole point is appended.
func (s *Store) appendShingled(point []float32) int {
	if len(s.shingleWindow) == 0 {
		// First shingle ever admitted: there is no prior window to
		// share an overlap with, so the whole point seeds the buffer.
		s.shingleWindow = append(s.shingleWindow, point...)
	} else {
		overlap := s.dimension - s.blockSize
		prev := s.shingleWindow[len(s.shingleWindow)-s.dimension:]
		shared := true
		for i := 0; i < overlap; i++ {
			if prev[s.blockSize+i] != point[i] {
				shared = false
				break
			}
		}
		if shared {
			s.shingleWindow = append(s.shingleWindow, point[overlap:]...)
		} else {
			s.shingleWindow = append(s.shingleWindow, point...)
		}
	}
	// The logical window for the handle being created is the last
	// `dimension` floats of the rolling buffer.
	return len(s.shingleWindow) - s.dimension
}

func (s *Store) allocateHandle(offset int) Handle {
	if len(s.free) > 0 {
		h := s.free[len(s.free)-1]
		s.free = s.free[:len(s.free)-1]
		s.slots[h] = slot{offset: offset, refCount: 1, live: true}
		return h
	}
	h := Handle(len(s.slots))
	s.slots = append(s.slots, slot{offset: offset, refCount: 1, live: true})
	return h
}

// Increment bumps the reference count of handle.
func (s *Store) Increment(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.mustLive(h)
	if err != nil {
		return err
	}
	s.slots[h] = slot{offset: sl.offset, refCount: sl.refCount + 1, live: true}
	return nil
}

// Decrement drops the reference count of handle, freeing the slot when
// it reaches zero. Decrementing a handle that is not live is an
// invariant violation.
func (s *Store) Decrement(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.mustLive(h)
	if err != nil {
		return err
	}
	if sl.refCount == 1 {
		s.slots[h] = slot{}
		s.free = append(s.free, h)
		return nil
	}
	s.slots[h] = slot{offset: sl.offset, refCount: sl.refCount - 1, live: true}
	return nil
}

// RefCount returns the current reference count of handle, or 0 if the
// handle is not live.
func (s *Store) RefCount(h Handle) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(h) >= len(s.slots) || !s.slots[h].live {
		return 0
	}
	return s.slots[h].refCount
}

// Get returns a read-only borrow of the float32 slice backing handle.
// The returned slice is valid only until the next mutating call on the
// store (Add, Decrement on a freeing handle, or Compact).
func (s *Store) Get(h Handle) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.mustLive(h)
	if err != nil {
		return nil, err
	}
	var buf []float32
	if s.internalShingling {
		buf = s.shingleWindow
	} else {
		buf = s.buffer
	}
	return buf[sl.offset : sl.offset+s.dimension], nil
}

// GetFloat64 is a convenience wrapper over Get for callers working in
// the float64 precision mode.
func (s *Store) GetFloat64(h Handle) ([]float64, error) {
	v, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out, nil
}

func (s *Store) mustLive(h Handle) (slot, error) {
	if int(h) >= len(s.slots) || !s.slots[h].live {
		return slot{}, fmt.Errorf("%w: handle %d is not live", ErrInvariantViolation, h)
	}
	return s.slots[h], nil
}

// Size returns the number of live handles.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sl := range s.slots {
		if sl.live {
			n++
		}
	}
	return n
}

// Remap is the handle renumbering table produced by Compact.
type Remap map[Handle]Handle

// Compact copies live slots into a contiguous prefix of the backing
// buffer (direct-location-map mode only; shingled mode shares a
// rolling window that is already compact by construction and returns
// an identity remap) and returns a table mapping old handles to new
// ones. Intended for use before persistence, which is out of scope for
// this module.
func (s *Store) Compact() (Remap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	remap := make(Remap)
	if s.internalShingling {
		minOffset := -1
		for h, sl := range s.slots {
			if !sl.live {
				continue
			}
			remap[Handle(h)] = Handle(h)
			if minOffset < 0 || sl.offset < minOffset {
				minOffset = sl.offset
			}
		}
		if minOffset > 0 {
			s.shingleWindow = append([]float32(nil), s.shingleWindow[minOffset:]...)
			for h := range s.slots {
				if s.slots[h].live {
					s.slots[h].offset -= minOffset
				}
			}
		}
		return remap, nil
	}

	newBuffer := make([]float32, 0, len(s.buffer))
	newSlots := make([]slot, 0, len(s.slots))
	for h, sl := range s.slots {
		if !sl.live {
			continue
		}
		newHandle := Handle(len(newSlots))
		newOffset := len(newBuffer)
		newBuffer = append(newBuffer, s.buffer[sl.offset:sl.offset+s.dimension]...)
		newSlots = append(newSlots, slot{offset: newOffset, refCount: sl.refCount, live: true})
		remap[Handle(h)] = newHandle
	}
	s.buffer = newBuffer
	s.slots = newSlots
	s.free = nil
	return remap, nil
}

// Dimension returns the configured point width.
func (s *Store) Dimension() int { return s.dimension }
