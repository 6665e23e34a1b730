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
	ErrLiquidityOverflow = errors.New("liquidity exceeds 128 bits")
	ErrZeroReserve       = errors.New("zero reserve")
)

// ToAmounts converts (liquidity, sqrtPriceX96) into the implied reserves:
// amount0 = liquidity * 2^96 / sqrtPrice, amount1 = liquidity * sqrtPrice / 2^96.
func ToAmounts(liquidity, sqrtPriceX96 *uint256.Int) (amount0, amount1 *uint256.Int, err error) {
	if sqrtPriceX96.IsZero() {
		return nil, nil, ErrDivisionByZero
	}
	amount0 = new(uint256.Int).Div(new(uint256.Int).Lsh(liquidity, 96), sqrtPriceX96)
	amount1, err = MulDiv(liquidity, sqrtPriceX96, Q96)
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// ToLiquiditySqrtPriceX96 converts reserves into the invariant pair:
// liquidity = sqrt(reserve0 * reserve1), sqrtPriceX96 = sqrt(reserve1/reserve0) * 2^96.
// The sqrt price is computed as isqrt((reserve1 << 192) / reserve0) so no
// precision is lost to the division.
func ToLiquiditySqrtPriceX96(reserve0, reserve1 *uint256.Int) (liquidity, sqrtPriceX96 *uint256.Int, err error) {
	if reserve0.IsZero() || reserve1.IsZero() {
		return nil, nil, ErrZeroReserve
	}
	product, overflow := new(uint256.Int).MulOverflow(reserve0, reserve1)
	if overflow {
		return nil, nil, fmt.Errorf("%w: reserve product", ErrLiquidityOverflow)
	}
	liquidity = new(uint256.Int).Sqrt(product)
	if liquidity.Gt(MaxUint128) {
		return nil, nil, fmt.Errorf("%w: %s", ErrLiquidityOverflow, liquidity)
	}

	// (reserve1 << 192) spans up to 320 bits, so this leg runs on math/big.
	shifted := new(big.Int).Lsh(reserve1.ToBig(), 192)
	ratio := new(big.Int).Div(shifted, reserve0.ToBig())
	root := new(big.Int).Sqrt(ratio)
	sqrtPriceX96, overflow = uint256.FromBig(root)
	if overflow || sqrtPriceX96.Gt(MaxUint160) {
		return nil, nil, fmt.Errorf("%w: sqrt price", ErrUint160Overflow)
	}
	return liquidity, sqrtPriceX96, nil
}

// LiquiditySqrtPriceX96Next applies signed reserve deltas and recomputes the
// invariant pair. A negative delta whose magnitude exceeds the implied
// reserve fails with ErrAmountExceedsReserve0/1.
func LiquiditySqrtPriceX96Next(
	liquidity, sqrtPriceX96 *uint256.Int,
	amount0, amount1 *big.Int,
) (liquidityNext, sqrtPriceX96Next *uint256.Int, err error) {
	reserve0, reserve1, err := ToAmounts(liquidity, sqrtPriceX96)
	if err != nil {
		return nil, nil, err
	}
	if err := applyDelta(reserve0, amount0, ErrAmountExceedsReserve0); err != nil {
		return nil, nil, err
	}
	if err := applyDelta(reserve1, amount1, ErrAmountExceedsReserve1); err != nil {
		return nil, nil, err
	}
	return ToLiquiditySqrtPriceX96(reserve0, reserve1)
}

func applyDelta(reserve *uint256.Int, amount *big.Int, exceedsErr error) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	mag, overflow := uint256.FromBig(new(big.Int).Abs(amount))
	if overflow {
		return fmt.Errorf("%w: delta magnitude", ErrMulDivOverflow)
	}
	if amount.Sign() < 0 {
		if mag.Gt(reserve) {
			return fmt.Errorf("%w: %s > %s", exceedsErr, mag, reserve)
		}
		reserve.Sub(reserve, mag)
		return nil
	}
	if _, carried := reserve.AddOverflow(reserve, mag); carried {
		return fmt.Errorf("%w: reserve delta", ErrMulDivOverflow)
	}
	return nil
}
