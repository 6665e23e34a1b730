// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mathlib

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	ErrLiquidityDeltaTooLarge = errors.New("liquidity delta exceeds liquidity")
	ErrNegativeDiscriminant   = errors.New("negative discriminant")
	ErrAmountExceedsReserve0  = errors.New("amount exceeds reserve0")
	ErrAmountExceedsReserve1  = errors.New("amount exceeds reserve1")
	ErrSqrtPriceOutOfBounds   = errors.New("sqrt price out of bounds")
)

// SqrtPriceX96NextOpen solves for the pool sqrt price after removing
// liquidityDelta of virtual liquidity to back a leveraged position, with the
// borrowed leg scaled down by the maintenance requirement. The price strictly
// decreases for zeroForOne and strictly increases otherwise.
func SqrtPriceX96NextOpen(
	liquidity, sqrtPriceX96, liquidityDelta *uint256.Int,
	zeroForOne bool,
	maintenance uint32,
) (*uint256.Int, error) {
	prod, err := openProd(liquidity, liquidityDelta, maintenance)
	if err != nil {
		return nil, err
	}
	return solveSqrtPriceNext(liquidity, sqrtPriceX96, liquidityDelta, prod, zeroForOne)
}

// SqrtPriceX96Next is the unbiased form of the solved-price helper: the same
// discriminant formula with no maintenance scaling on the removed leg.
func SqrtPriceX96Next(
	liquidity, sqrtPriceX96, liquidityDelta *uint256.Int,
	zeroForOne bool,
) (*uint256.Int, error) {
	if !liquidityDelta.Lt(liquidity) {
		return nil, fmt.Errorf("%w: %s >= %s", ErrLiquidityDeltaTooLarge, liquidityDelta, liquidity)
	}
	prod := new(uint256.Int).Sub(liquidity, liquidityDelta)
	prod.Mul(prod, liquidityDelta)
	return solveSqrtPriceNext(liquidity, sqrtPriceX96, liquidityDelta, prod, zeroForOne)
}

// openProd computes liquidityDelta * (liquidity - liquidityDelta) scaled by
// MaintenanceUnit / (MaintenanceUnit + maintenance).
func openProd(liquidity, liquidityDelta *uint256.Int, maintenance uint32) (*uint256.Int, error) {
	if !liquidityDelta.Lt(liquidity) {
		return nil, fmt.Errorf("%w: %s >= %s", ErrLiquidityDeltaTooLarge, liquidityDelta, liquidity)
	}
	raw := new(uint256.Int).Sub(liquidity, liquidityDelta)
	raw.Mul(raw, liquidityDelta)
	return MulDiv(
		raw,
		uint256.NewInt(MaintenanceUnit),
		uint256.NewInt(MaintenanceUnit+uint64(maintenance)),
	)
}

// solveSqrtPriceNext evaluates the quadratic root
//
//	root = sqrt(liquidity^2 - 4*prod)
//
// and maps it onto the sqrt price: down by 2(L-dL)/(L+root) for zeroForOne,
// up by the reciprocal otherwise. Both liquidity and liquidityDelta are
// 128-bit so every product here fits 256 bits.
func solveSqrtPriceNext(
	liquidity, sqrtPriceX96, liquidityDelta, prod *uint256.Int,
	zeroForOne bool,
) (*uint256.Int, error) {
	square := new(uint256.Int).Mul(liquidity, liquidity)
	four := new(uint256.Int).Lsh(prod, 2)
	if square.Lt(four) {
		return nil, ErrNegativeDiscriminant
	}
	root := new(uint256.Int).Sqrt(new(uint256.Int).Sub(square, four))

	num := new(uint256.Int).Add(liquidity, root)
	den := new(uint256.Int).Sub(liquidity, liquidityDelta)
	den.Lsh(den, 1)

	var next *uint256.Int
	var err error
	if zeroForOne {
		next, err = MulDiv(sqrtPriceX96, den, num)
	} else {
		next, err = MulDivRoundingUp(sqrtPriceX96, num, den)
	}
	if err != nil {
		return nil, err
	}
	return checkSqrtPrice(next)
}

// SqrtPriceX96NextSwap computes the constant-product sqrt price after a swap
// of amountSpecified: positive for exact input, negative for exact output.
// Exact-output amounts exceeding the implied reserve fail.
func SqrtPriceX96NextSwap(
	liquidity, sqrtPriceX96 *uint256.Int,
	zeroForOne bool,
	amountSpecified *big.Int,
) (*uint256.Int, error) {
	if liquidity.IsZero() {
		return nil, ErrDivisionByZero
	}
	exactInput := amountSpecified.Sign() >= 0
	amount, overflow := uint256.FromBig(new(big.Int).Abs(amountSpecified))
	if overflow {
		return nil, fmt.Errorf("%w: amount %s", ErrMulDivOverflow, amountSpecified)
	}
	if amount.IsZero() {
		return checkSqrtPrice(new(uint256.Int).Set(sqrtPriceX96))
	}

	switch {
	case zeroForOne && exactInput:
		return nextSqrtPriceFromAmount0In(liquidity, sqrtPriceX96, amount)
	case zeroForOne:
		return nextSqrtPriceFromAmount1Out(liquidity, sqrtPriceX96, amount)
	case exactInput:
		return nextSqrtPriceFromAmount1In(liquidity, sqrtPriceX96, amount)
	default:
		return nextSqrtPriceFromAmount0Out(liquidity, sqrtPriceX96, amount)
	}
}

// nextSqrtPriceFromAmount0In: token0 added, price moves down. Rounds up so
// the pool never undercharges.
func nextSqrtPriceFromAmount0In(liquidity, sqrtPriceX96, amount *uint256.Int) (*uint256.Int, error) {
	numerator1 := new(uint256.Int).Lsh(liquidity, 96)

	product := new(uint256.Int).Mul(amount, sqrtPriceX96)
	if new(uint256.Int).Div(product, amount).Eq(sqrtPriceX96) {
		denominator, overflow := new(uint256.Int).AddOverflow(numerator1, product)
		if !overflow {
			next, err := MulDivRoundingUp(numerator1, sqrtPriceX96, denominator)
			if err != nil {
				return nil, err
			}
			return checkSqrtPrice(next)
		}
	}
	// amount * sqrtPrice exceeds one register: divide first.
	denominator := new(uint256.Int).Div(numerator1, sqrtPriceX96)
	denominator.Add(denominator, amount)
	next, err := DivRoundingUp(numerator1, denominator)
	if err != nil {
		return nil, err
	}
	return checkSqrtPrice(next)
}

// nextSqrtPriceFromAmount1Out: token1 removed, price moves down.
func nextSqrtPriceFromAmount1Out(liquidity, sqrtPriceX96, amount *uint256.Int) (*uint256.Int, error) {
	reserve1, err := MulDiv(liquidity, sqrtPriceX96, Q96)
	if err != nil {
		return nil, err
	}
	if amount.Gt(reserve1) {
		return nil, fmt.Errorf("%w: %s > %s", ErrAmountExceedsReserve1, amount, reserve1)
	}
	quotient, err := MulDivRoundingUp(amount, Q96, liquidity)
	if err != nil {
		return nil, err
	}
	if !quotient.Lt(sqrtPriceX96) {
		return nil, fmt.Errorf("%w: %s", ErrAmountExceedsReserve1, amount)
	}
	return checkSqrtPrice(new(uint256.Int).Sub(sqrtPriceX96, quotient))
}

// nextSqrtPriceFromAmount1In: token1 added, price moves up. Amounts beyond
// 160 bits take the full-precision mul-div path.
func nextSqrtPriceFromAmount1In(liquidity, sqrtPriceX96, amount *uint256.Int) (*uint256.Int, error) {
	var quotient *uint256.Int
	var err error
	if !amount.Gt(MaxUint160) {
		quotient = new(uint256.Int).Div(new(uint256.Int).Lsh(amount, 96), liquidity)
	} else {
		quotient, err = MulDiv(amount, Q96, liquidity)
		if err != nil {
			return nil, err
		}
	}
	next, overflow := new(uint256.Int).AddOverflow(sqrtPriceX96, quotient)
	if overflow {
		return nil, fmt.Errorf("%w: price overflow", ErrSqrtPriceOutOfBounds)
	}
	return checkSqrtPrice(next)
}

// nextSqrtPriceFromAmount0Out: token0 removed, price moves up. Rounds up.
func nextSqrtPriceFromAmount0Out(liquidity, sqrtPriceX96, amount *uint256.Int) (*uint256.Int, error) {
	numerator1 := new(uint256.Int).Lsh(liquidity, 96)
	reserve0 := new(uint256.Int).Div(numerator1, sqrtPriceX96)
	if !amount.Lt(reserve0) {
		return nil, fmt.Errorf("%w: %s >= %s", ErrAmountExceedsReserve0, amount, reserve0)
	}
	product := new(uint256.Int).Mul(amount, sqrtPriceX96)
	if !new(uint256.Int).Div(product, amount).Eq(sqrtPriceX96) {
		return nil, fmt.Errorf("%w: amount too large for exact output", ErrMulDivOverflow)
	}
	if !product.Lt(numerator1) {
		return nil, fmt.Errorf("%w: %s", ErrAmountExceedsReserve0, amount)
	}
	denominator := new(uint256.Int).Sub(numerator1, product)
	next, err := MulDivRoundingUp(numerator1, sqrtPriceX96, denominator)
	if err != nil {
		return nil, err
	}
	return checkSqrtPrice(next)
}

func checkSqrtPrice(sqrtPriceX96 *uint256.Int) (*uint256.Int, error) {
	if sqrtPriceX96.Lt(MinSqrtRatio) || sqrtPriceX96.Gt(MaxSqrtRatio) {
		return nil, fmt.Errorf("%w: %s", ErrSqrtPriceOutOfBounds, sqrtPriceX96)
	}
	return sqrtPriceX96, nil
}
