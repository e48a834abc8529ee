// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package rcf

import (
	"fmt"
	"runtime"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rcf-go/rcf/internal/preprocess"
)

// Precision records the configured point element width. It is stored
// in Config only: the facade accepts and returns float64 and the point
// store holds float32 under either value (see internal/pointstore's
// design note).
type Precision int

const (
	PrecisionFloat32 Precision = iota
	PrecisionFloat64
)

// ForestMode selects the preprocessor policy family a forest runs
// under.
type ForestMode int

const (
	ForestModeStandard ForestMode = iota
	ForestModeTimeAugmented
	ForestModeStreamingImpute
)

// TransformMethod and ImputationMethod are re-exported from the
// preprocessor package so callers configure a forest without
// importing an internal package directly.
type TransformMethod = preprocess.TransformMethod

const (
	TransformNone                = preprocess.TransformNone
	TransformNormalize            = preprocess.TransformNormalize
	TransformDifference           = preprocess.TransformDifference
	TransformNormalizeDifference  = preprocess.TransformNormalizeDifference
)

type ImputationMethod = preprocess.ImputationMethod

const (
	ImputationFixed    = preprocess.ImputeFixed
	ImputationPrevious = preprocess.ImputePrevious
	ImputationNext     = preprocess.ImputeNext
	ImputationLinear   = preprocess.ImputeLinear
	ImputationRCF      = preprocess.ImputeRCF
)

// Config holds every construction-time parameter a Forest needs.
type Config struct {
	Dimensions  int
	ShingleSize int

	NumberOfTrees int
	SampleSize    int
	OutputAfter   int

	TimeDecay  float64
	RandomSeed int64

	StoreSequenceIndexes    bool
	CenterOfMassEnabled     bool
	ParallelExecution       bool
	ThreadPoolSize          int
	BoundingBoxCacheFraction float64

	InternalShinglingEnabled bool
	Precision                Precision

	ForestMode        ForestMode
	TransformMethod   TransformMethod
	ImputationMethod  ImputationMethod
	FixedImputeValues []float64
	UseImputedFraction float64

	// ApproximationPrecision and ApproximationAlpha parameterize
	// GetApproximateAnomalyScore's converging accumulator. These are a
	// per-query approximation knob rather than forest shape, but
	// GetApproximateAnomalyScore cannot be implemented without them.
	ApproximationPrecision float64
	ApproximationAlpha     float64
	MinTreesAccepted       int

	// NormalizeDecay and DataQualityDecay parameterize the
	// preprocessor's EWMA trackers: the exponentially weighted
	// normalization decay and the running EWMA of data quality.
	NormalizeDecay   float64
	DataQualityDecay float64

	// UseTimestamps and DefaultTimestampDelta gate fast-forward
	// synthesis of tuples across timestamp gaps.
	UseTimestamps         bool
	DefaultTimestampDelta int64

	Logger *zap.Logger
}

// DefaultConfig returns the baseline configuration: 50 trees, a
// sample size of 256 per tree, and a time decay of 1/(10*sampleSize).
func DefaultConfig() Config {
	sampleSize := 256
	return Config{
		ShingleSize:              1,
		NumberOfTrees:            50,
		SampleSize:               sampleSize,
		OutputAfter:              sampleSize,
		TimeDecay:                1.0 / (10.0 * float64(sampleSize)),
		RandomSeed:               0,
		ThreadPoolSize:           runtime.NumCPU(),
		BoundingBoxCacheFraction: 1.0,
		Precision:                PrecisionFloat32,
		ForestMode:               ForestModeStandard,
		TransformMethod:          TransformNone,
		ImputationMethod:         ImputationPrevious,
		UseImputedFraction:       0.5,
		ApproximationPrecision:   0.1,
		ApproximationAlpha:       0.5,
		MinTreesAccepted:         10,
		NormalizeDecay:           0.01,
		DataQualityDecay:         0.01,
		Logger:                   zap.NewNop(),
	}
}

// Option mutates a Config at construction, the functional-options
// idiom used throughout this package (see DESIGN.md).
type Option func(*Config)

func WithDimensions(d int) Option       { return func(c *Config) { c.Dimensions = d } }
func WithShingleSize(s int) Option      { return func(c *Config) { c.ShingleSize = s } }
func WithNumberOfTrees(n int) Option    { return func(c *Config) { c.NumberOfTrees = n } }
func WithSampleSize(n int) Option       { return func(c *Config) { c.SampleSize = n } }
func WithOutputAfter(n int) Option      { return func(c *Config) { c.OutputAfter = n } }
func WithTimeDecay(lambda float64) Option {
	return func(c *Config) { c.TimeDecay = lambda }
}
func WithRandomSeed(seed int64) Option { return func(c *Config) { c.RandomSeed = seed } }
func WithStoreSequenceIndexes() Option { return func(c *Config) { c.StoreSequenceIndexes = true } }
func WithCenterOfMassEnabled() Option  { return func(c *Config) { c.CenterOfMassEnabled = true } }
func WithParallelExecution(threadPoolSize int) Option {
	return func(c *Config) {
		c.ParallelExecution = true
		if threadPoolSize > 0 {
			c.ThreadPoolSize = threadPoolSize
		}
	}
}
func WithBoundingBoxCacheFraction(f float64) Option {
	return func(c *Config) { c.BoundingBoxCacheFraction = f }
}
func WithInternalShinglingEnabled() Option {
	return func(c *Config) { c.InternalShinglingEnabled = true }
}
func WithPrecision(p Precision) Option           { return func(c *Config) { c.Precision = p } }
func WithForestMode(m ForestMode) Option         { return func(c *Config) { c.ForestMode = m } }
func WithTransformMethod(m TransformMethod) Option {
	return func(c *Config) { c.TransformMethod = m }
}
func WithImputationMethod(m ImputationMethod) Option {
	return func(c *Config) { c.ImputationMethod = m }
}
func WithFixedImputeValues(values []float64) Option {
	return func(c *Config) { c.FixedImputeValues = values }
}
func WithUseImputedFraction(f float64) Option {
	return func(c *Config) { c.UseImputedFraction = f }
}
func WithApproximation(precision, alpha float64, minTreesAccepted int) Option {
	return func(c *Config) {
		c.ApproximationPrecision = precision
		c.ApproximationAlpha = alpha
		c.MinTreesAccepted = minTreesAccepted
	}
}
func WithTimestamps(defaultDelta int64) Option {
	return func(c *Config) {
		c.UseTimestamps = true
		c.DefaultTimestampDelta = defaultDelta
	}
}
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// InputWidth returns the per-tuple width d such that Dimensions =
// d*ShingleSize.
func (c Config) InputWidth() int {
	if c.ShingleSize <= 0 {
		return c.Dimensions
	}
	return c.Dimensions / c.ShingleSize
}

// Validate aggregates every independent invalid field with
// go.uber.org/multierr rather than stopping at the first.
func (c Config) Validate() error {
	var err error
	if c.Dimensions <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: dimensions must be positive, got %d", ErrInvalidArgument, c.Dimensions))
	}
	if c.ShingleSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: shingle size must be positive, got %d", ErrInvalidArgument, c.ShingleSize))
	}
	if c.NumberOfTrees <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: number of trees must be positive, got %d", ErrInvalidArgument, c.NumberOfTrees))
	}
	if c.SampleSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: sample size must be positive, got %d", ErrInvalidArgument, c.SampleSize))
	}
	if c.OutputAfter < 1 || (c.SampleSize > 0 && c.OutputAfter > c.SampleSize) {
		err = multierr.Append(err, fmt.Errorf("%w: outputAfter must be in [1, sampleSize], got %d", ErrInvalidArgument, c.OutputAfter))
	}
	if c.TimeDecay < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: time decay must be >= 0, got %f", ErrInvalidArgument, c.TimeDecay))
	}
	if c.BoundingBoxCacheFraction < 0 || c.BoundingBoxCacheFraction > 1 {
		err = multierr.Append(err, fmt.Errorf("%w: boundingBoxCacheFraction must be in [0,1], got %f", ErrInvalidArgument, c.BoundingBoxCacheFraction))
	}
	if c.ParallelExecution && c.ThreadPoolSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: threadPoolSize must be positive when parallelExecution is set", ErrInvalidArgument))
	}
	inputWidth := c.Dimensions
	if c.ShingleSize > 0 {
		inputWidth = c.Dimensions / c.ShingleSize
	}
	if c.ImputationMethod == ImputationFixed && len(c.FixedImputeValues) > 0 && len(c.FixedImputeValues) != inputWidth {
		err = multierr.Append(err, fmt.Errorf("%w: fixed impute values must have length dimensions/shingleSize, got %d want %d", ErrInvalidArgument, len(c.FixedImputeValues), inputWidth))
	}
	if c.UseImputedFraction < 0 || c.UseImputedFraction > 1 {
		err = multierr.Append(err, fmt.Errorf("%w: useImputedFraction must be in [0,1], got %f", ErrInvalidArgument, c.UseImputedFraction))
	}
	return err
}
