// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mathlib

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// SwapAmounts returns the signed token deltas implied by moving the pool
// from sqrtPriceX96 to sqrtPriceX96Next at constant liquidity. Positive
// amounts are owed to the pool, negative amounts are owed to the swapper.
func SwapAmounts(
	liquidity, sqrtPriceX96, sqrtPriceX96Next *uint256.Int,
) (amount0, amount1 *big.Int, err error) {
	if sqrtPriceX96.IsZero() || sqrtPriceX96Next.IsZero() {
		return nil, nil, ErrDivisionByZero
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, 96)

	r0 := new(uint256.Int).Div(numerator1, sqrtPriceX96)
	r0Next := new(uint256.Int).Div(numerator1, sqrtPriceX96Next)
	amount0 = new(big.Int).Sub(r0Next.ToBig(), r0.ToBig())

	r1, err := MulDiv(liquidity, sqrtPriceX96, Q96)
	if err != nil {
		return nil, nil, err
	}
	r1Next, err := MulDiv(liquidity, sqrtPriceX96Next, Q96)
	if err != nil {
		return nil, nil, err
	}
	amount1 = new(big.Int).Sub(r1Next.ToBig(), r1.ToBig())
	return amount0, amount1, nil
}

// SwapFees returns the fee on a swap input amount. With amountIsNet false
// the amount is the gross curve input and the fee is charged on top:
// amount * rate / FeeUnit. With amountIsNet true the amount excludes fees
// and the original gross input is backed out: amount * rate / (FeeUnit - rate).
func SwapFees(amount *uint256.Int, rate uint32, amountIsNet bool) (*uint256.Int, error) {
	if uint64(rate) >= FeeUnit {
		return nil, fmt.Errorf("%w: fee rate %d", ErrDivisionByZero, rate)
	}
	denominator := FeeUnit
	if amountIsNet {
		denominator = FeeUnit - uint64(rate)
	}
	return MulDiv(amount, uint256.NewInt(uint64(rate)), uint256.NewInt(denominator))
}
