// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package rcf implements a streaming Random Cut Forest: an online,
// unsupervised learner over numerical vector streams supporting
// anomaly scoring, attribution, missing-value imputation, density
// estimation, and short-horizon forecasting.
package rcf

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"go.uber.org/zap"

	"github.com/rcf-go/rcf/internal/forest"
	"github.com/rcf-go/rcf/internal/pointstore"
	"github.com/rcf-go/rcf/internal/preprocess"
	"github.com/rcf-go/rcf/internal/sampler"
	"github.com/rcf-go/rcf/internal/tree"
	"github.com/rcf-go/rcf/internal/visitor"
)

// DiVector is the directional attribution vector returned by
// GetAnomalyAttribution, re-exported from the visitor package so
// callers never need to import an internal package.
type DiVector = visitor.DiVector

// Neighbor is a sample point found near a query, re-exported from the
// visitor package.
type Neighbor = visitor.Neighbor

// ForestFacade is the public entry point: update, score, attribute,
// impute, extrapolate, neighbors, density.
type ForestFacade struct {
	cfg          Config
	executor     *forest.Executor
	preprocessor *preprocess.Preprocessor
}

// NewForest constructs a forest from DefaultConfig overridden by opts.
func NewForest(opts ...Option) (*ForestFacade, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var storeOpts []pointstore.Option
	if cfg.InternalShinglingEnabled {
		storeOpts = append(storeOpts, pointstore.WithInternalShingling(cfg.InputWidth()))
	} else {
		storeOpts = append(storeOpts, pointstore.WithDirectLocationMap())
	}
	store, err := pointstore.New(cfg.Dimensions, cfg.ShingleSize, storeOpts...)
	if err != nil {
		return nil, err
	}

	pairs := make([]forest.Pair, cfg.NumberOfTrees)
	for i := range pairs {
		rng := rand.New(rand.NewSource(cfg.RandomSeed + int64(i)))
		s, err := sampler.New(cfg.SampleSize, cfg.TimeDecay, rng, sampler.WithOutputAfter(cfg.OutputAfter))
		if err != nil {
			return nil, err
		}

		var treeOpts []tree.Option
		treeOpts = append(treeOpts, tree.WithBoundingBoxCacheFraction(cfg.BoundingBoxCacheFraction))
		if cfg.StoreSequenceIndexes {
			treeOpts = append(treeOpts, tree.WithSequenceIndexes())
		}
		if cfg.CenterOfMassEnabled {
			treeOpts = append(treeOpts, tree.WithCenterOfMass())
		}
		pairs[i] = forest.Pair{Sampler: s, Tree: tree.New(rng, cfg.Dimensions, cfg.SampleSize, treeOpts...)}
	}

	threadPoolSize := 1
	if cfg.ParallelExecution {
		threadPoolSize = cfg.ThreadPoolSize
	}
	executor := forest.New(pairs, store, forest.WithThreadPoolSize(threadPoolSize), forest.WithLogger(cfg.Logger))

	cfg.Logger.Info("rcf: forest constructed",
		zap.Int("dimensions", cfg.Dimensions),
		zap.Int("numberOfTrees", cfg.NumberOfTrees),
		zap.Int("sampleSize", cfg.SampleSize),
		zap.Bool("parallelExecution", cfg.ParallelExecution))

	f := &ForestFacade{cfg: cfg, executor: executor}

	needsPreprocessor := cfg.ShingleSize > 1 || cfg.TransformMethod != TransformNone ||
		cfg.ImputationMethod != ImputationFixed || cfg.UseTimestamps
	if needsPreprocessor {
		pp, err := preprocess.New(preprocess.Config{
			Dimensions:              cfg.InputWidth(),
			ShingleSize:             cfg.ShingleSize,
			Transform:               cfg.TransformMethod,
			Imputation:              cfg.ImputationMethod,
			FixedValues:             cfg.FixedImputeValues,
			NormalizeDecay:          cfg.NormalizeDecay,
			UseTimestamps:           cfg.UseTimestamps,
			DefaultTimestampDelta:   cfg.DefaultTimestampDelta,
			RunawayMaxUpdatesPerGap: 3 * cfg.ShingleSize,
			DataQualityDecay:        cfg.DataQualityDecay,
			Imputer:                 f,
			Logger:                  cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		f.preprocessor = pp
	}
	return f, nil
}

// IsReady reports whether the forest has absorbed enough updates for
// queries to return more than the deterministic empty value.
func (f *ForestFacade) IsReady() bool {
	return f.executor.TotalUpdates() >= int64(f.cfg.OutputAfter)
}

// GetTotalUpdates returns the running total-updates counter.
func (f *ForestFacade) GetTotalUpdates() int64 { return f.executor.TotalUpdates() }

func (f *ForestFacade) validatePoint(point []float64) error {
	if len(point) != f.cfg.Dimensions {
		return fmt.Errorf("%w: point has length %d, want %d", ErrInvalidArgument, len(point), f.cfg.Dimensions)
	}
	for i, x := range point {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: point[%d] is NaN/Inf", ErrInvalidArgument, i)
		}
	}
	return nil
}

// normalizeSignedZero rewrites -0.0 to +0.0 so downstream comparisons
// and cut-boundary tie-breaks are deterministic.
func normalizeSignedZero(point []float64) []float64 {
	out := make([]float64, len(point))
	for i, x := range point {
		if x == 0 {
			out[i] = 0
		} else {
			out[i] = x
		}
	}
	return out
}

// Update admits a pre-shingled point of the forest's configured
// dimension. Raw, unshingled tuples should go through
// UpdateRaw/ProcessTuple instead. timestamp is accepted for API
// symmetry but is not otherwise interpreted at this layer;
// timestamp-driven fast-forward synthesis happens in the
// preprocessor, upstream of Update.
func (f *ForestFacade) Update(point []float64, timestamp ...int64) error {
	if err := f.validatePoint(point); err != nil {
		return err
	}
	if err := f.executor.Update(normalizeSignedZero(point)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}
	return nil
}

// UpdateRaw feeds one raw, possibly incomplete input tuple through the
// configured Preprocessor and, once its shingle window has filled,
// admits the resulting point to the forest. It is an error to call
// UpdateRaw on a forest configured with ShingleSize=1, NONE transform,
// FIXED/none imputation and no timestamps, since no preprocessor was
// constructed for it; call Update directly in that case.
func (f *ForestFacade) UpdateRaw(values []float64, missing []bool, timestamp int64) (preprocess.Result, error) {
	if f.preprocessor == nil {
		return preprocess.Result{}, fmt.Errorf("%w: forest was constructed without a preprocessor; call Update directly", ErrInvalidArgument)
	}
	res, err := f.preprocessor.ProcessTuple(values, missing, timestamp)
	if err != nil {
		return res, err
	}
	if res.Ready {
		shingleOnly := f.cfg.UseImputedFraction > 0 &&
			float64(res.NumberImputed)/float64(len(values)) > f.cfg.UseImputedFraction
		if !shingleOnly {
			if err := f.Update(res.Shingle); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

// Impute implements preprocess.Imputer, letting the preprocessor's
// ImputeRCF policy call back into this forest.
func (f *ForestFacade) Impute(partial []float64, missingDims []int) []float64 {
	out, err := f.ImputeMissingValues(partial, len(missingDims), missingDims)
	if err != nil {
		return partial
	}
	return out
}

// GetAnomalyScore returns the full-forest average CoDisp score for
// point, or 0 if the forest is not yet ready.
func (f *ForestFacade) GetAnomalyScore(point []float64) (float64, error) {
	if err := f.validatePoint(point); err != nil {
		return 0, err
	}
	if !f.IsReady() {
		return 0, nil
	}
	point = normalizeSignedZero(point)

	results, err := f.executor.TraverseForest(context.Background(), func(tr *tree.Tree) float64 {
		v := visitor.NewAnomalyScoreVisitor()
		tr.Traverse(point, v.Visitor())
		return visitor.DynamicScore(v.Score(), tr.Size())
	}, nil)
	if err != nil {
		return 0, err
	}
	return mean(results), nil
}

// GetApproximateAnomalyScore is like GetAnomalyScore but stops
// evaluating trees once the forest-level converging accumulator
// declares convergence (its witness count reaching ceil(1/precision),
// see forest.ConvergingAccumulator).
func (f *ForestFacade) GetApproximateAnomalyScore(point []float64) (float64, error) {
	if err := f.validatePoint(point); err != nil {
		return 0, err
	}
	if !f.IsReady() {
		return 0, nil
	}
	point = normalizeSignedZero(point)

	acc := forest.NewConvergingAccumulator(f.cfg.ApproximationAlpha, f.cfg.ApproximationPrecision, f.cfg.MinTreesAccepted)
	results, err := f.executor.TraverseForest(context.Background(), func(tr *tree.Tree) float64 {
		v := visitor.NewAnomalyScoreVisitor()
		tr.Traverse(point, v.Visitor())
		return visitor.DynamicScore(v.Score(), tr.Size())
	}, acc)
	if err != nil {
		return 0, err
	}
	return mean(results), nil
}

// GetAnomalyAttribution returns the forest-averaged DiVector for
// point.
func (f *ForestFacade) GetAnomalyAttribution(point []float64) (*DiVector, error) {
	_, div, err := f.scoreAndAttribution(point)
	return div, err
}

// GetAnomalyScoreAndAttribution computes the score and attribution in
// a single traversal pass per tree, guaranteeing they describe the
// same forest state (SPEC_FULL.md section 8).
func (f *ForestFacade) GetAnomalyScoreAndAttribution(point []float64) (float64, *DiVector, error) {
	return f.scoreAndAttribution(point)
}

func (f *ForestFacade) scoreAndAttribution(point []float64) (float64, *DiVector, error) {
	if err := f.validatePoint(point); err != nil {
		return 0, nil, err
	}
	if !f.IsReady() {
		return 0, visitor.NewDiVector(f.cfg.Dimensions), nil
	}
	point = normalizeSignedZero(point)

	type pair struct {
		score float64
		div   *DiVector
	}
	raw, err := f.executor.TraverseForestMulti(context.Background(), func(tr *tree.Tree) interface{} {
		attrV := visitor.NewAnomalyAttributionVisitor(point, f.cfg.Dimensions)
		tr.Traverse(point, attrV.Visitor())
		div := attrV.DiVector()
		return pair{score: visitor.DynamicScore(div.Sum(), tr.Size()), div: div}
	})
	if err != nil {
		return 0, nil, err
	}

	total := DiVector{High: make([]float64, f.cfg.Dimensions), Low: make([]float64, f.cfg.Dimensions)}
	var scoreSum float64
	for _, r := range raw {
		p := r.(pair)
		scoreSum += p.score
		normalizer := 1.0
		if p.div.Sum() > 0 {
			normalizer = p.score / p.div.Sum()
		}
		for i := range total.High {
			total.High[i] += p.div.High[i] * normalizer
			total.Low[i] += p.div.Low[i] * normalizer
		}
	}
	n := float64(len(raw))
	for i := range total.High {
		total.High[i] /= n
		total.Low[i] /= n
	}
	return scoreSum / n, &total, nil
}

// ImputeMissingValues fills in the k dimensions named by indices,
// returning a complete copy of point. If the forest is not ready, a
// copy of the input is returned unchanged.
func (f *ForestFacade) ImputeMissingValues(point []float64, k int, indices []int) ([]float64, error) {
	if len(point) != f.cfg.Dimensions {
		return nil, fmt.Errorf("%w: point has length %d, want %d", ErrInvalidArgument, len(point), f.cfg.Dimensions)
	}
	if len(indices) != k {
		return nil, fmt.Errorf("%w: indices has length %d, want k=%d", ErrInvalidArgument, len(indices), k)
	}
	out := append([]float64(nil), point...)
	if !f.IsReady() {
		return out, nil
	}

	percentile := 0.5
	if k > 1 {
		percentile = 0.25
	}

	raw, err := f.executor.TraverseForestMulti(context.Background(), func(tr *tree.Tree) interface{} {
		iv := visitor.NewImputeVisitor(out, indices)
		candidates := iv.Collect(tr)
		if len(candidates) == 0 {
			return scoredCandidate{candidate: visitor.ImputeCandidate{Values: make([]float64, k)}}
		}
		scored := make([]scoredCandidate, len(candidates))
		for i, c := range candidates {
			trial := append([]float64(nil), out...)
			for j, d := range indices {
				trial[d] = c.Values[j]
			}
			v := visitor.NewAnomalyScoreVisitor()
			tr.Traverse(trial, v.Visitor())
			scored[i] = scoredCandidate{candidate: c, score: visitor.DynamicScore(v.Score(), tr.Size())}
		}
		return pickPercentile(scored, percentile)
	})
	if err != nil {
		return nil, err
	}

	acrossTrees := make([]scoredCandidate, len(raw))
	for i, r := range raw {
		acrossTrees[i] = r.(scoredCandidate)
	}
	chosen := pickPercentile(acrossTrees, percentile)
	for j, d := range indices {
		out[d] = chosen.Values[j]
	}
	return out, nil
}

type scoredCandidate struct {
	candidate visitor.ImputeCandidate
	score     float64
}

// pickPercentile orders candidates by score ascending and returns the
// one at the requested percentile rank: the 50th percentile for a
// single missing dimension, the 25th for more than one, matching the
// combine rule used across trees.
func pickPercentile(scored []scoredCandidate, percentile float64) visitor.ImputeCandidate {
	sort.Slice(scored, func(i, j int) bool { return scored[i].score < scored[j].score })
	idx := int(percentile * float64(len(scored)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(scored) {
		idx = len(scored) - 1
	}
	return scored[idx].candidate
}

// GetNearNeighborsInSample returns every distinct sample point within
// distanceThreshold of point, merging identical leaf points found
// across multiple trees into one Neighbor.
func (f *ForestFacade) GetNearNeighborsInSample(point []float64, distanceThreshold float64) ([]Neighbor, error) {
	if err := f.validatePoint(point); err != nil {
		return nil, err
	}
	if !f.IsReady() {
		return nil, nil
	}
	point = normalizeSignedZero(point)

	raw, err := f.executor.TraverseForestMulti(context.Background(), func(tr *tree.Tree) interface{} {
		v := visitor.NewNearNeighborVisitor(point)
		tr.Traverse(point, v.Visitor())
		return v.Neighbor()
	})
	if err != nil {
		return nil, err
	}

	var out []Neighbor
	seen := make(map[string]int)
	for _, r := range raw {
		n, ok := r.(*visitor.Neighbor)
		if !ok || n == nil || n.Distance > distanceThreshold {
			continue
		}
		key := pointKey(n.Point)
		if i, ok := seen[key]; ok {
			out[i].Handle = n.Handle
			continue
		}
		seen[key] = len(out)
		out = append(out, *n)
	}
	return out, nil
}

func pointKey(p []float64) string {
	return fmt.Sprintf("%v", p)
}

// GetSimpleDensity returns the forest-averaged density estimate for
// point.
func (f *ForestFacade) GetSimpleDensity(point []float64) (visitor.DensityOutput, error) {
	if err := f.validatePoint(point); err != nil {
		return visitor.DensityOutput{}, err
	}
	if !f.IsReady() {
		return visitor.DensityOutput{}, nil
	}
	point = normalizeSignedZero(point)

	raw, err := f.executor.TraverseForestMulti(context.Background(), func(tr *tree.Tree) interface{} {
		v := visitor.NewDensityVisitor()
		tr.Traverse(point, v.Visitor())
		return v.Measure()
	})
	if err != nil {
		return visitor.DensityOutput{}, err
	}

	var total visitor.InterpolationMeasure
	for _, r := range raw {
		m := r.(visitor.InterpolationMeasure)
		total.Mass += m.Mass
		total.RangeSum += m.RangeSum
		total.DepthWeighted += m.DepthWeighted
	}
	n := float64(len(raw))
	if n > 0 {
		total.Mass /= n
		total.RangeSum /= n
		total.DepthWeighted /= n
	}
	return visitor.Combine(total, f.cfg.Dimensions), nil
}

// Extrapolate forecasts horizon additional shingle blocks beyond
// lastShingle. blockSize is the width of one forecast step; cyclic requests a
// wraparound forecast over the shingle instead of a forward walk.
// shingleIndex optionally names which block within the shingle to
// treat as the forecast anchor when the shingle holds more than one
// logical channel; -1 selects the last block. The anchor is used only
// when cyclic is true; a forward walk always forecasts the trailing
// block of the window.
func (f *ForestFacade) Extrapolate(lastShingle []float64, horizon, blockSize int, cyclic bool, shingleIndex ...int) ([][]float64, error) {
	if err := f.validatePoint(lastShingle); err != nil {
		return nil, err
	}
	if blockSize <= 0 || horizon <= 0 {
		return nil, fmt.Errorf("%w: horizon and blockSize must be positive", ErrInvalidArgument)
	}
	if !f.IsReady() {
		return nil, nil
	}

	anchor := f.cfg.ShingleSize - 1
	if len(shingleIndex) > 0 && shingleIndex[0] >= 0 {
		anchor = shingleIndex[0]
	}

	window := append([]float64(nil), normalizeSignedZero(lastShingle)...)
	out := make([][]float64, horizon)
	for step := 0; step < horizon; step++ {
		indices := make([]int, blockSize)
		var base int
		if cyclic {
			base = ((anchor+1+step)%f.cfg.ShingleSize) * blockSize
		} else {
			base = len(window) - blockSize
		}
		for i := range indices {
			indices[i] = base + i
		}

		filled, err := f.ImputeMissingValues(window, blockSize, indices)
		if err != nil {
			return nil, err
		}
		block := make([]float64, blockSize)
		for i, idx := range indices {
			block[i] = filled[idx]
		}
		out[step] = block

		if !cyclic {
			copy(window, window[blockSize:])
			copy(window[len(window)-blockSize:], block)
		}
	}
	return out, nil
}

// GetExtrapolationBasic is the single-block, non-cyclic convenience
// wrapper over Extrapolate named in SPEC_FULL.md section 8.
func (f *ForestFacade) GetExtrapolationBasic(lastShingle []float64, horizon int) ([][]float64, error) {
	return f.Extrapolate(lastShingle, horizon, f.cfg.InputWidth(), false)
}

// DataQuality returns the preprocessor's running data-quality EWMA,
// or 1.0 if no preprocessor was constructed (every update is treated
// as fully observed when there is no imputation pipeline).
func (f *ForestFacade) DataQuality() float64 {
	if f.preprocessor == nil {
		return 1.0
	}
	return f.preprocessor.DataQuality()
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
