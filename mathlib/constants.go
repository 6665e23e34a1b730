// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package mathlib implements the fixed-point math underlying the margined
// constant-product pool: Q64.96 sqrt-price arithmetic, liquidity/reserve
// conversions, swap deltas, and oracle tick-cumulative averaging.
//
// All unsigned quantities are *uint256.Int; intermediate products use the
// full 512-bit mul-div so no precision is lost before the final truncating
// division. Signed token amounts cross the package boundary as *big.Int.
package mathlib

import "github.com/holiman/uint256"

// Tick bounds for the 1.0001^tick price bijection.
const (
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

// Unit denominators for fee, maintenance and reward rates.
const (
	FeeUnit         uint64 = 1_000_000
	MaintenanceUnit uint64 = 1_000_000
)

// Hard floors rejected at position open, not silently skipped.
const (
	MinimumLiquidity uint64 = 10_000
	MinimumSize      uint64 = 10_000
)

var (
	// Q96 is the fixed-point scale of sqrt prices: 2^96.
	Q96 = new(uint256.Int).Lsh(uint256.NewInt(1), 96)

	// MaxUint128 bounds liquidity, reserves, debts and insurances.
	MaxUint128 = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)

	// MaxUint160 bounds sqrt prices.
	MaxUint160 = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 160), 1)

	// MinSqrtRatio is the sqrt price at MinTick.
	MinSqrtRatio = uint256.NewInt(4295128739)

	// MaxSqrtRatio is the sqrt price at MaxTick.
	MaxSqrtRatio = uint256.MustFromDecimal("1461446703485210103287273052203988822378723970342")
)
