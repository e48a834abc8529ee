// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package preprocess turns a stream of raw, possibly incomplete,
// possibly irregularly timestamped tuples into the fixed-dimension
// shingled vectors a forest consumes: imputing missing values,
// optionally normalizing or differencing, synthesizing fast-forward
// points across timestamp gaps, and tracking a data-quality estimate.
package preprocess

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

// ImputationMethod names how a missing input dimension is filled in.
type ImputationMethod int

const (
	ImputeFixed ImputationMethod = iota
	ImputePrevious
	ImputeNext
	ImputeLinear
	ImputeRCF
)

// TransformMethod names the per-dimension numeric transform applied
// after imputation and before shingling.
type TransformMethod int

const (
	TransformNone TransformMethod = iota
	TransformNormalize
	TransformDifference
	TransformNormalizeDifference
)

// ErrInvalidArgument is returned for malformed configuration or
// mismatched tuple widths.
var ErrInvalidArgument = fmt.Errorf("preprocess: invalid argument")

// Imputer is the hook ImputeRCF calls into: an external forest that
// can propose values for missing dimensions given a partially filled
// point. Kept as an interface here so this package never imports the
// forest package, avoiding an import cycle (the facade wires the two
// together).
type Imputer interface {
	Impute(partial []float64, missingDims []int) []float64
}

// Config configures a Preprocessor.
type Config struct {
	Dimensions  int
	ShingleSize int

	Transform  TransformMethod
	Imputation ImputationMethod
	// FixedValues fills missing positions under ImputeFixed; when empty,
	// missing positions are filled with 0.
	FixedValues []float64

	// NormalizeDecay is the EWMA decay rate used to track a running
	// mean/variance per dimension for TransformNormalize.
	NormalizeDecay float64

	UseTimestamps           bool
	DefaultTimestampDelta   int64
	RunawayMaxUpdatesPerGap int

	// DataQualityDecay is the EWMA decay rate for the fraction of
	// genuinely-observed (non-imputed, non-fast-forwarded) values.
	DataQualityDecay float64

	Imputer Imputer
	Logger  *zap.Logger
}

// Result is one call's worth of preprocessor output.
type Result struct {
	// Shingle is the full shingled vector, valid only when Ready is
	// true (the ring buffer has been filled ShingleSize times).
	Shingle []float64
	Ready   bool
	// NumberImputed counts dimensions of this tuple that were filled
	// in rather than genuinely observed, counting a position that is
	// both caller-declared-missing and fast-forward-overwritten once.
	NumberImputed int
	// FastForwardPoints is how many synthetic tuples, if any, were
	// generated to bridge a timestamp gap before this tuple.
	FastForwardPoints int
}

type runningStat struct {
	mean, variance float64
	initialized    bool
}

func (r *runningStat) update(x, decay float64) {
	if !r.initialized {
		r.mean = x
		r.variance = 0
		r.initialized = true
		return
	}
	delta := x - r.mean
	r.mean += decay * delta
	r.variance = (1 - decay) * (r.variance + decay*delta*delta)
}

func (r *runningStat) zscore(x float64) float64 {
	if !r.initialized || r.variance <= 0 {
		return 0
	}
	return (x - r.mean) / math.Sqrt(r.variance)
}

type pendingTuple struct {
	values  []float64
	missing []bool
}

// Preprocessor is stateful across calls: it holds the shingle ring
// buffer, the previous observed tuple, per-dimension running
// statistics, and (for NEXT/LINEAR imputation) a one-tuple lookahead
// buffer.
type Preprocessor struct {
	cfg Config
	log *zap.Logger

	shingle     []float64
	filledSlots int

	haveLast   bool
	lastValues []float64
	lastTimestamp int64

	stats []runningStat

	dataQuality float64

	pending *pendingTuple
}

// New creates a Preprocessor from cfg.
func New(cfg Config) (*Preprocessor, error) {
	if cfg.Dimensions <= 0 || cfg.ShingleSize <= 0 {
		return nil, fmt.Errorf("%w: dimensions and shingle size must be positive", ErrInvalidArgument)
	}
	if cfg.Imputation == ImputeFixed && len(cfg.FixedValues) == 0 {
		cfg.FixedValues = make([]float64, cfg.Dimensions)
	}
	if cfg.Imputation == ImputeFixed && len(cfg.FixedValues) != cfg.Dimensions {
		return nil, fmt.Errorf("%w: fixed imputation requires %d fixed values, got %d", ErrInvalidArgument, cfg.Dimensions, len(cfg.FixedValues))
	}
	if cfg.Imputation == ImputeRCF && cfg.Imputer == nil {
		return nil, fmt.Errorf("%w: RCF imputation requires an Imputer", ErrInvalidArgument)
	}
	if cfg.NormalizeDecay <= 0 {
		cfg.NormalizeDecay = 0.01
	}
	if cfg.DataQualityDecay <= 0 {
		cfg.DataQualityDecay = 0.01
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Preprocessor{
		cfg:         cfg,
		log:         log,
		shingle:     make([]float64, cfg.Dimensions*cfg.ShingleSize),
		stats:       make([]runningStat, cfg.Dimensions),
		dataQuality: 1.0,
	}, nil
}

// DataQuality returns the current EWMA fraction of genuinely-observed
// (non-imputed, non-synthesized) dimensions.
func (p *Preprocessor) DataQuality() float64 { return p.dataQuality }

// ProcessTuple feeds one raw input tuple (values, with missing[i]
// true wherever values[i] should be treated as absent rather than
// literal) into the preprocessor, returning the shingled output once
// the window has filled.
func (p *Preprocessor) ProcessTuple(values []float64, missing []bool, timestamp int64) (Result, error) {
	if len(values) != p.cfg.Dimensions || len(missing) != p.cfg.Dimensions {
		return Result{}, fmt.Errorf("%w: tuple has %d values / %d missing flags, want %d", ErrInvalidArgument, len(values), len(missing), p.cfg.Dimensions)
	}

	ffCount, err := p.fastForward(timestamp)
	if err != nil {
		return Result{}, err
	}

	if p.cfg.Imputation == ImputeNext || p.cfg.Imputation == ImputeLinear {
		return p.processWithLookahead(values, missing, ffCount)
	}

	filled, numImputed := p.impute(values, missing)
	return p.finish(filled, numImputed, ffCount), nil
}

// fastForward synthesizes repeated-previous-value tuples to bridge a
// timestamp gap larger than DefaultTimestampDelta, capped at
// RunawayMaxUpdatesPerGap to guard against a clock jump or backfill
// producing an unbounded burst of synthetic updates.
func (p *Preprocessor) fastForward(timestamp int64) (int, error) {
	if !p.cfg.UseTimestamps || !p.haveLast || p.cfg.DefaultTimestampDelta <= 0 {
		p.lastTimestamp = timestamp
		return 0, nil
	}
	gap := timestamp - p.lastTimestamp
	if gap <= p.cfg.DefaultTimestampDelta {
		p.lastTimestamp = timestamp
		return 0, nil
	}
	missedTicks := int(gap/p.cfg.DefaultTimestampDelta) - 1
	if missedTicks <= 0 {
		p.lastTimestamp = timestamp
		return 0, nil
	}
	capped := missedTicks
	if p.cfg.RunawayMaxUpdatesPerGap > 0 && capped > p.cfg.RunawayMaxUpdatesPerGap {
		p.log.Warn("preprocess: runaway timestamp gap capped",
			zap.Int("missed_ticks", missedTicks),
			zap.Int("cap", p.cfg.RunawayMaxUpdatesPerGap))
		capped = p.cfg.RunawayMaxUpdatesPerGap
	}
	missing := make([]bool, p.cfg.Dimensions)
	for i := 0; i < capped; i++ {
		filled, _ := p.impute(append([]float64(nil), p.lastValues...), missing)
		p.log.Debug("preprocess: synthesized fast-forward tuple", zap.Int("index", i))
		// Every position of a synthesized tuple is imputed, not observed.
		p.finish(filled, p.cfg.Dimensions, 0)
	}
	p.lastTimestamp = timestamp
	return capped, nil
}

// processWithLookahead implements NEXT/LINEAR imputation, which need
// one tuple of lookahead: the tuple actually reported to the caller is
// always one step behind the tuple just received.
func (p *Preprocessor) processWithLookahead(values []float64, missing []bool, ffCount int) (Result, error) {
	if p.pending == nil {
		p.pending = &pendingTuple{values: append([]float64(nil), values...), missing: append([]bool(nil), missing...)}
		return Result{Ready: false, FastForwardPoints: ffCount}, nil
	}

	finalized := make([]float64, p.cfg.Dimensions)
	numImputed := 0
	for i := range finalized {
		switch {
		case !p.pending.missing[i]:
			finalized[i] = p.pending.values[i]
		case p.cfg.Imputation == ImputeNext:
			finalized[i] = values[i]
			numImputed++
		default: // ImputeLinear
			prev := p.pending.values[i]
			if p.haveLast {
				prev = p.lastValues[i]
			}
			finalized[i] = (prev + values[i]) / 2
			numImputed++
		}
	}

	p.pending = &pendingTuple{values: append([]float64(nil), values...), missing: append([]bool(nil), missing...)}
	return p.finish(finalized, numImputed, ffCount), nil
}

// impute fills missing positions of values according to the
// configured (non-lookahead) method, returning the completed tuple
// and how many positions were filled in.
func (p *Preprocessor) impute(values []float64, missing []bool) ([]float64, int) {
	out := append([]float64(nil), values...)
	var missingDims []int
	for i, m := range missing {
		if m {
			missingDims = append(missingDims, i)
		}
	}
	if len(missingDims) == 0 {
		return out, 0
	}

	switch p.cfg.Imputation {
	case ImputeFixed:
		for _, d := range missingDims {
			out[d] = p.cfg.FixedValues[d]
		}
	case ImputePrevious:
		for _, d := range missingDims {
			if p.haveLast {
				out[d] = p.lastValues[d]
			}
		}
	case ImputeRCF:
		proposed := p.cfg.Imputer.Impute(out, missingDims)
		for i, d := range missingDims {
			out[d] = proposed[i]
		}
	default:
		for _, d := range missingDims {
			if p.haveLast {
				out[d] = p.lastValues[d]
			}
		}
	}
	return out, len(missingDims)
}

// finish applies the configured transform, pushes the result into the
// shingle ring buffer, updates running state, and returns the Result.
func (p *Preprocessor) finish(filled []float64, numImputed, ffCount int) Result {
	transformed := p.transform(filled)

	copy(p.shingle, p.shingle[p.cfg.Dimensions:])
	copy(p.shingle[len(p.shingle)-p.cfg.Dimensions:], transformed)
	if p.filledSlots < p.cfg.ShingleSize {
		p.filledSlots++
	}

	observedFraction := 1.0
	if p.cfg.Dimensions > 0 {
		observedFraction = 1.0 - float64(numImputed)/float64(p.cfg.Dimensions)
	}
	p.dataQuality += p.cfg.DataQualityDecay * (observedFraction - p.dataQuality)

	p.lastValues = filled
	p.haveLast = true

	ready := p.filledSlots >= p.cfg.ShingleSize
	var out []float64
	if ready {
		out = append([]float64(nil), p.shingle...)
	}
	return Result{Shingle: out, Ready: ready, NumberImputed: numImputed, FastForwardPoints: ffCount}
}

func (p *Preprocessor) transform(filled []float64) []float64 {
	out := make([]float64, len(filled))
	switch p.cfg.Transform {
	case TransformNone:
		copy(out, filled)
	case TransformNormalize:
		for i, x := range filled {
			p.stats[i].update(x, p.cfg.NormalizeDecay)
			out[i] = p.stats[i].zscore(x)
		}
	case TransformDifference:
		for i, x := range filled {
			if p.haveLast {
				out[i] = x - p.lastValues[i]
			}
		}
	case TransformNormalizeDifference:
		for i, x := range filled {
			diff := 0.0
			if p.haveLast {
				diff = x - p.lastValues[i]
			}
			p.stats[i].update(diff, p.cfg.NormalizeDecay)
			out[i] = p.stats[i].zscore(diff)
		}
	}
	return out
}
