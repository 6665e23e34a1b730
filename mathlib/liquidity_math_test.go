// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mathlib

import (
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestToLiquiditySqrtPriceX96Fixture(t *testing.T) {
	liquidity, sqrtPriceX96, err := ToLiquiditySqrtPriceX96(fixtureReserve0, fixtureReserve1)
	require.NoError(t, err)

	wantLiquidity := new(big.Int).Sqrt(new(big.Int).Mul(fixtureReserve0.ToBig(), fixtureReserve1.ToBig()))
	require.Equal(t, wantLiquidity, liquidity.ToBig())

	wantPrice := new(big.Int).Lsh(fixtureReserve1.ToBig(), 192)
	wantPrice.Div(wantPrice, fixtureReserve0.ToBig())
	wantPrice.Sqrt(wantPrice)
	require.Equal(t, wantPrice, sqrtPriceX96.ToBig())
}

func TestLiquiditySqrtPriceRoundTrip(t *testing.T) {
	cases := []struct {
		name               string
		reserve0, reserve1 string
	}{
		{"usdc/weth", "125040000000000", "71700000000000000000000"},
		{"balanced", "1000000000000000000", "1000000000000000000"},
		{"wide ratio", "1000000", "100000000000000000000000000"},
		{"large", "340282366920938463463374607431768211", "340282366920938463463374607431768211"},
	}
	for _, tc := range cases {
		r0 := uint256.MustFromDecimal(tc.reserve0)
		r1 := uint256.MustFromDecimal(tc.reserve1)
		liquidity, sqrtPriceX96, err := ToLiquiditySqrtPriceX96(r0, r1)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}

		amount0, amount1, err := ToAmounts(liquidity, sqrtPriceX96)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		liquidity2, sqrtPriceX962, err := ToLiquiditySqrtPriceX96(amount0, amount1)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}

		assertWithin(t, tc.name+" liquidity", liquidity2, liquidity, 1e-14)
		assertWithin(t, tc.name+" sqrt price", sqrtPriceX962, sqrtPriceX96, 1e-14)
	}
}

func assertWithin(t *testing.T, name string, got, want *uint256.Int, tolerance float64) {
	t.Helper()
	g := new(big.Float).SetPrec(256).SetInt(got.ToBig())
	w := new(big.Float).SetPrec(256).SetInt(want.ToBig())
	diff := new(big.Float).Sub(g, w)
	diff.Abs(diff).Quo(diff, w)
	if diff.Cmp(big.NewFloat(tolerance)) > 0 {
		t.Errorf("%s: %s differs from %s by %s", name, got, want, diff)
	}
}

func TestToLiquiditySqrtPriceX96Errors(t *testing.T) {
	one := uint256.NewInt(1)
	zero := uint256.NewInt(0)

	if _, _, err := ToLiquiditySqrtPriceX96(zero, one); !errors.Is(err, ErrZeroReserve) {
		t.Errorf("zero reserve0: got %v", err)
	}
	if _, _, err := ToLiquiditySqrtPriceX96(one, zero); !errors.Is(err, ErrZeroReserve) {
		t.Errorf("zero reserve1: got %v", err)
	}

	big130 := new(uint256.Int).Lsh(one, 130)
	if _, _, err := ToLiquiditySqrtPriceX96(big130, big130); !errors.Is(err, ErrLiquidityOverflow) {
		t.Errorf("oversized product: got %v", err)
	}
}

func TestLiquiditySqrtPriceX96Next(t *testing.T) {
	liquidity, sqrtPriceX96, err := ToLiquiditySqrtPriceX96(fixtureReserve0, fixtureReserve1)
	require.NoError(t, err)

	// Adding both legs proportionally grows liquidity at roughly the same price.
	add0 := new(big.Int).Rsh(fixtureReserve0.ToBig(), 4)
	add1 := new(big.Int).Rsh(fixtureReserve1.ToBig(), 4)
	liquidityNext, sqrtPriceNext, err := LiquiditySqrtPriceX96Next(liquidity, sqrtPriceX96, add0, add1)
	require.NoError(t, err)
	require.True(t, liquidityNext.Gt(liquidity))
	assertWithin(t, "proportional add", sqrtPriceNext, sqrtPriceX96, 1e-12)

	// Removing one leg moves the price.
	remove1 := new(big.Int).Neg(new(big.Int).Rsh(fixtureReserve1.ToBig(), 4))
	_, sqrtPriceDown, err := LiquiditySqrtPriceX96Next(liquidity, sqrtPriceX96, nil, remove1)
	require.NoError(t, err)
	require.True(t, sqrtPriceDown.Lt(sqrtPriceX96))

	// Withdrawing past the implied reserve fails.
	tooMuch := new(big.Int).Neg(new(big.Int).Lsh(fixtureReserve1.ToBig(), 1))
	_, _, err = LiquiditySqrtPriceX96Next(liquidity, sqrtPriceX96, nil, tooMuch)
	require.ErrorIs(t, err, ErrAmountExceedsReserve1)

	tooMuch0 := new(big.Int).Neg(new(big.Int).Lsh(fixtureReserve0.ToBig(), 1))
	_, _, err = LiquiditySqrtPriceX96Next(liquidity, sqrtPriceX96, tooMuch0, nil)
	require.ErrorIs(t, err, ErrAmountExceedsReserve0)
}
