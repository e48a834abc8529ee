// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package rcf

import "fmt"

// ErrInvalidArgument is returned for malformed configuration or a
// query/update point that fails validation (wrong length, NaN, Inf).
var ErrInvalidArgument = fmt.Errorf("rcf: invalid argument")

// ErrInvariantViolation is returned for fatal, unrecoverable state
// corruption: a freed handle decremented again, deletion of a point
// that was never admitted, a heap property violated on load.
var ErrInvariantViolation = fmt.Errorf("rcf: invariant violation")

// ErrNotReady is reserved for call sites that need to distinguish "the
// forest has not seen enough updates yet" from a true error rather
// than silently returning the deterministic empty value ordinary
// queries get before then (score 0, zero DiVector, an empty neighbor
// list, or a copy of the input for imputation).
var ErrNotReady = fmt.Errorf("rcf: forest is not ready")
