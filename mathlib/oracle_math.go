// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mathlib

import (
	"errors"

	"github.com/holiman/uint256"
)

// ErrZeroTimeDelta is returned when averaging a cumulative reading over an
// empty window.
var ErrZeroTimeDelta = errors.New("zero time delta")

// The oracle's tick-cumulative register is a signed 56-bit counter; deltas
// wrap modulo 2^56 back into [-2^55, 2^55).
const (
	tickCumulativeSpan = int64(1) << 56
	tickCumulativeHalf = int64(1) << 55
)

// OracleTickCumulativeDelta returns end - start with the cumulative
// counter's wraparound applied explicitly.
func OracleTickCumulativeDelta(start, end int64) int64 {
	d := (end - start) % tickCumulativeSpan
	if d >= tickCumulativeHalf {
		d -= tickCumulativeSpan
	} else if d < -tickCumulativeHalf {
		d += tickCumulativeSpan
	}
	return d
}

// OracleAverageTick floors tickCumulativeDelta / timeDelta toward negative
// infinity, matching the reference truncation for negative deltas.
func OracleAverageTick(tickCumulativeDelta int64, timeDelta uint32) (int64, error) {
	if timeDelta == 0 {
		return 0, ErrZeroTimeDelta
	}
	t := int64(timeDelta)
	q := tickCumulativeDelta / t
	if tickCumulativeDelta%t != 0 && tickCumulativeDelta < 0 {
		q--
	}
	return q, nil
}

// OracleSqrtPriceX96 converts a tick-cumulative delta over a window into the
// sqrt price at the arithmetic-mean tick.
func OracleSqrtPriceX96(tickCumulativeDelta int64, timeDelta uint32) (*uint256.Int, error) {
	avgTick, err := OracleAverageTick(tickCumulativeDelta, timeDelta)
	if err != nil {
		return nil, err
	}
	if avgTick < int64(MinTick) || avgTick > int64(MaxTick) {
		return nil, ErrTickOutOfBounds
	}
	return SqrtRatioAtTick(int32(avgTick))
}
