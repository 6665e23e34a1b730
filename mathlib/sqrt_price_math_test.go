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

var (
	fixtureReserve0 = uint256.MustFromDecimal("125040000000000")
	fixtureReserve1 = uint256.MustFromDecimal("71700000000000000000000")
)

func fixtureState(t *testing.T) (liquidity, sqrtPriceX96 *uint256.Int) {
	t.Helper()
	liquidity, sqrtPriceX96, err := ToLiquiditySqrtPriceX96(fixtureReserve0, fixtureReserve1)
	require.NoError(t, err)
	return liquidity, sqrtPriceX96
}

func TestSqrtPriceX96NextOpenMonotonic(t *testing.T) {
	liquidity, sqrtPriceX96 := fixtureState(t)

	for _, divisor := range []uint64{100, 20, 5, 2} {
		delta := new(uint256.Int).Div(liquidity, uint256.NewInt(divisor))

		down, err := SqrtPriceX96NextOpen(liquidity, sqrtPriceX96, delta, true, 250_000)
		if err != nil {
			t.Fatalf("delta L/%d zeroForOne: %v", divisor, err)
		}
		if !down.Lt(sqrtPriceX96) {
			t.Errorf("delta L/%d: price %s did not strictly decrease from %s", divisor, down, sqrtPriceX96)
		}

		up, err := SqrtPriceX96NextOpen(liquidity, sqrtPriceX96, delta, false, 250_000)
		if err != nil {
			t.Fatalf("delta L/%d oneForZero: %v", divisor, err)
		}
		if !up.Gt(sqrtPriceX96) {
			t.Errorf("delta L/%d: price %s did not strictly increase from %s", divisor, up, sqrtPriceX96)
		}
	}
}

func TestSqrtPriceX96NextOpenRejectsFullDelta(t *testing.T) {
	liquidity, sqrtPriceX96 := fixtureState(t)

	_, err := SqrtPriceX96NextOpen(liquidity, sqrtPriceX96, liquidity, true, 250_000)
	require.ErrorIs(t, err, ErrLiquidityDeltaTooLarge)

	over := new(uint256.Int).AddUint64(liquidity.Clone(), 1)
	_, err = SqrtPriceX96NextOpen(liquidity, sqrtPriceX96, over, false, 250_000)
	require.ErrorIs(t, err, ErrLiquidityDeltaTooLarge)
}

// Checks the discriminant solution against the same algebra in float
// arithmetic: prod = dL(L-dL)*MU/(MU+m), root = sqrt(L^2-4prod),
// next = sqrtP * 2(L-dL)/(L+root) for the price-decreasing direction.
func TestSqrtPriceX96NextOpenReference(t *testing.T) {
	liquidity, sqrtPriceX96 := fixtureState(t)
	delta := new(uint256.Int).Div(liquidity, uint256.NewInt(20))

	got, err := SqrtPriceX96NextOpen(liquidity, sqrtPriceX96, delta, true, 250_000)
	require.NoError(t, err)

	prec := uint(256)
	l := new(big.Float).SetPrec(prec).SetInt(liquidity.ToBig())
	dl := new(big.Float).SetPrec(prec).SetInt(delta.ToBig())
	sp := new(big.Float).SetPrec(prec).SetInt(sqrtPriceX96.ToBig())

	rem := new(big.Float).SetPrec(prec).Sub(l, dl)
	prod := new(big.Float).SetPrec(prec).Mul(dl, rem)
	prod.Mul(prod, big.NewFloat(1_000_000))
	prod.Quo(prod, big.NewFloat(1_250_000))

	disc := new(big.Float).SetPrec(prec).Mul(l, l)
	disc.Sub(disc, new(big.Float).SetPrec(prec).Mul(big.NewFloat(4), prod))
	root := new(big.Float).SetPrec(prec).Sqrt(disc)

	want := new(big.Float).SetPrec(prec).Mul(sp, big.NewFloat(2))
	want.Mul(want, rem)
	want.Quo(want, new(big.Float).SetPrec(prec).Add(l, root))

	diff := new(big.Float).Sub(new(big.Float).SetPrec(prec).SetInt(got.ToBig()), want)
	diff.Abs(diff).Quo(diff, want)
	if diff.Cmp(big.NewFloat(1e-9)) > 0 {
		t.Errorf("next price %s off by %s from reference %s", got, diff, want)
	}
}

func TestSqrtPriceX96NextSwapExactInput(t *testing.T) {
	liquidity, sqrtPriceX96 := fixtureState(t)

	in := new(big.Int).SetUint64(1_000_000_000_000)
	down, err := SqrtPriceX96NextSwap(liquidity, sqrtPriceX96, true, in)
	require.NoError(t, err)
	require.True(t, down.Lt(sqrtPriceX96))

	// The implied token0 reserve grows by the input, up to division rounding.
	amount0, _, err := SwapAmounts(liquidity, sqrtPriceX96, down)
	require.NoError(t, err)
	diff := new(big.Int).Sub(amount0, in)
	require.True(t, diff.CmpAbs(big.NewInt(2)) <= 0, "amount0 %s vs input %s", amount0, in)

	up, err := SqrtPriceX96NextSwap(liquidity, sqrtPriceX96, false, new(big.Int).SetUint64(500_000_000_000_000_000))
	require.NoError(t, err)
	require.True(t, up.Gt(sqrtPriceX96))
}

func TestSqrtPriceX96NextSwapExactOutput(t *testing.T) {
	liquidity, sqrtPriceX96 := fixtureState(t)

	out := new(big.Int).SetUint64(1_000_000_000_000_000_000) // 1 token1 unit out
	next, err := SqrtPriceX96NextSwap(liquidity, sqrtPriceX96, true, new(big.Int).Neg(out))
	require.NoError(t, err)
	require.True(t, next.Lt(sqrtPriceX96))

	_, amount1, err := SwapAmounts(liquidity, sqrtPriceX96, next)
	require.NoError(t, err)
	diff := new(big.Int).Add(amount1, out)
	require.True(t, diff.CmpAbs(big.NewInt(2)) <= 0, "amount1 %s vs output %s", amount1, out)
}

func TestSqrtPriceX96NextSwapExceedsReserve(t *testing.T) {
	liquidity, sqrtPriceX96 := fixtureState(t)
	reserve0, reserve1, err := ToAmounts(liquidity, sqrtPriceX96)
	require.NoError(t, err)

	tooMuch1 := new(big.Int).Neg(new(big.Int).Add(reserve1.ToBig(), big.NewInt(1)))
	_, err = SqrtPriceX96NextSwap(liquidity, sqrtPriceX96, true, tooMuch1)
	require.ErrorIs(t, err, ErrAmountExceedsReserve1)

	tooMuch0 := new(big.Int).Neg(new(big.Int).Add(reserve0.ToBig(), big.NewInt(1)))
	_, err = SqrtPriceX96NextSwap(liquidity, sqrtPriceX96, false, tooMuch0)
	require.ErrorIs(t, err, ErrAmountExceedsReserve0)
}

func TestSqrtPriceX96NextSwapZeroLiquidity(t *testing.T) {
	_, sqrtPriceX96 := fixtureState(t)
	_, err := SqrtPriceX96NextSwap(uint256.NewInt(0), sqrtPriceX96, true, big.NewInt(1))
	if !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("zero liquidity: got %v", err)
	}
}
