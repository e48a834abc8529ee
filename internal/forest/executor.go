// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package forest coordinates the N (sampler, tree) pairs that make up
// a random cut forest: sequential mutation through Update, and
// parallel fan-out traversal through TraverseForest/TraverseForestMulti,
// bounded by a thread pool and an optional early-convergence test.
package forest

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcf-go/rcf/internal/pointstore"
	"github.com/rcf-go/rcf/internal/sampler"
	"github.com/rcf-go/rcf/internal/tree"
)

// Pair couples one sampler with the tree it feeds.
type Pair struct {
	Sampler *sampler.Sampler
	Tree    *tree.Tree
}

// Executor owns a forest's (sampler, tree) pairs and the point store
// they share, and drives sequential updates and parallel traversals.
type Executor struct {
	pairs          []Pair
	store          *pointstore.Store
	threadPoolSize int
	logger         *zap.Logger

	totalUpdates int64
}

// Option configures an Executor at construction.
type Option func(*Executor)

// WithThreadPoolSize bounds how many trees are traversed concurrently
// during a fan-out; it defaults to the number of trees (unbounded
// beyond that).
func WithThreadPoolSize(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.threadPoolSize = n
		}
	}
}

// WithLogger attaches a structured logger; a nil logger (the default)
// is replaced with zap.NewNop() so call sites never need a nil check.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Executor over the given pairs and shared store.
func New(pairs []Pair, store *pointstore.Store, opts ...Option) *Executor {
	e := &Executor{
		pairs:          pairs,
		store:          store,
		threadPoolSize: len(pairs),
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.threadPoolSize <= 0 {
		e.threadPoolSize = 1
	}
	return e
}

// TotalUpdates returns the number of points admitted to the forest so
// far (the monotonically increasing sequence index counter).
func (e *Executor) TotalUpdates() int64 { return e.totalUpdates }

// NumberOfTrees returns the configured forest size.
func (e *Executor) NumberOfTrees() int { return len(e.pairs) }

// Update offers point to every tree's sampler in turn. Mutation is
// strictly sequential: each tree's accept/evict/insert cycle must
// finish before the next tree is offered the point, since sampler and
// tree state are not safe for concurrent mutation. Readers may still
// traverse concurrently with a future Update once it starts, by design
// of the point store's handle-stability guarantee; this module does
// not attempt to serialize Update against concurrent TraverseForest
// calls, leaving that to the caller.
func (e *Executor) Update(point []float64) error {
	point32 := make([]float32, len(point))
	for i, x := range point {
		point32[i] = float32(x)
	}

	seq := e.totalUpdates
	var storeHandle pointstore.Handle
	var stored bool

	for i := range e.pairs {
		p := e.pairs[i]
		accept, evictedHandle, evictedOK := p.Sampler.AcceptPoint(seq)
		if !accept {
			continue
		}

		if !stored {
			h, err := e.store.Add(point32)
			if err != nil {
				return fmt.Errorf("forest: storing point: %w", err)
			}
			storeHandle = h
			stored = true
		} else if err := e.store.Increment(storeHandle); err != nil {
			return fmt.Errorf("forest: incrementing shared handle: %w", err)
		}

		if evictedOK {
			if err := p.Tree.ForgetPoint(evictedHandle, 0); err != nil {
				return fmt.Errorf("forest: evicting from tree %d: %w", i, err)
			}
			if err := e.store.Decrement(evictedHandle); err != nil {
				return fmt.Errorf("forest: releasing evicted handle: %w", err)
			}
		}

		p.Tree.InsertPoint(point, storeHandle, seq)
		p.Sampler.AddPoint(storeHandle)
	}

	e.totalUpdates++
	return nil
}

// TraverseForest evaluates evaluate against every tree, fanning out up
// to threadPoolSize at a time, and returns every tree's result in
// pair order. If acc is non-nil, evaluation stops early once acc
// reports convergence after a full batch, and the remaining slots in
// the returned slice are left as the zero value.
func (e *Executor) TraverseForest(ctx context.Context, evaluate func(tr *tree.Tree) float64, acc *ConvergingAccumulator) ([]float64, error) {
	results := make([]float64, len(e.pairs))

	for start := 0; start < len(e.pairs); start += e.threadPoolSize {
		end := start + e.threadPoolSize
		if end > len(e.pairs) {
			end = len(e.pairs)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				results[i] = evaluate(e.pairs[i].Tree)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("forest: traversal fan-out: %w", err)
		}

		if acc != nil {
			for i := start; i < end; i++ {
				acc.Add(results[i])
			}
			if acc.HasConverged() {
				e.logger.Debug("forest traversal converged early",
					zap.Int("trees_evaluated", end),
					zap.Int("trees_total", len(e.pairs)))
				return results[:end], nil
			}
		}
	}

	return results, nil
}

// TraverseForestMulti is like TraverseForest but lets evaluate return
// an arbitrary per-tree value (e.g. a DiVector or InterpolationMeasure)
// instead of a single float64; no convergence test is applied since
// the caller's type is not innately orderable.
func (e *Executor) TraverseForestMulti(ctx context.Context, evaluate func(tr *tree.Tree) interface{}) ([]interface{}, error) {
	results := make([]interface{}, len(e.pairs))

	for start := 0; start < len(e.pairs); start += e.threadPoolSize {
		end := start + e.threadPoolSize
		if end > len(e.pairs) {
			end = len(e.pairs)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				results[i] = evaluate(e.pairs[i].Tree)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("forest: traversal fan-out: %w", err)
		}
	}

	return results, nil
}
