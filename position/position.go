// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package position implements the pure bookkeeping of a leveraged position:
// assembly from pool state at open, funding accrual against an external
// oracle, the margin-safety test, and the terminal settle/liquidate states.
package position

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/luxfi/marginpool/mathlib"
)

var (
	ErrInvalidSqrtPriceOrder   = errors.New("sqrt price ordering violated")
	ErrInsuranceExceedsAmount  = errors.New("insurance exceeds borrowed amount")
	ErrDegenerateLiquidity     = errors.New("degenerate liquidity partition")
	ErrMaintenanceOverflow     = errors.New("maintenance-adjusted debt overflow")
)

// Info is a leveraged position. One of the two debt sides bears funding
// (debt0 for zeroForOne, debt1 otherwise); the opposite leg, together with
// the insurances, is value locked in the pool until close.
type Info struct {
	Size       *uint256.Int
	Debt0      *uint256.Int
	Debt1      *uint256.Int
	Insurance0 *uint256.Int
	Insurance1 *uint256.Int
	ZeroForOne bool
	Liquidated bool

	Tick                int32
	BlockTimestamp      uint32
	TickCumulativeDelta int64

	Margin          *uint256.Int
	LiquidityLocked *uint256.Int
	Rewards         *uint256.Int
}

// Clone deep-copies the position.
func (p *Info) Clone() *Info {
	return &Info{
		Size:                p.Size.Clone(),
		Debt0:               p.Debt0.Clone(),
		Debt1:               p.Debt1.Clone(),
		Insurance0:          p.Insurance0.Clone(),
		Insurance1:          p.Insurance1.Clone(),
		ZeroForOne:          p.ZeroForOne,
		Liquidated:          p.Liquidated,
		Tick:                p.Tick,
		BlockTimestamp:      p.BlockTimestamp,
		TickCumulativeDelta: p.TickCumulativeDelta,
		Margin:              p.Margin.Clone(),
		LiquidityLocked:     p.LiquidityLocked.Clone(),
		Rewards:             p.Rewards.Clone(),
	}
}

// Size returns the notional the trader is entitled to on close: token1 for
// zeroForOne (price decreased), token0 otherwise (price increased).
func Size(liquidity, sqrtPriceX96, sqrtPriceX96Next *uint256.Int, zeroForOne bool) (*uint256.Int, error) {
	if zeroForOne {
		if sqrtPriceX96Next.Gt(sqrtPriceX96) {
			return nil, fmt.Errorf("%w: next %s > %s", ErrInvalidSqrtPriceOrder, sqrtPriceX96Next, sqrtPriceX96)
		}
		diff := new(uint256.Int).Sub(sqrtPriceX96, sqrtPriceX96Next)
		size, err := mathlib.MulDiv(liquidity, diff, mathlib.Q96)
		if err != nil {
			return nil, err
		}
		return mathlib.ToUint128(size)
	}
	if sqrtPriceX96Next.Lt(sqrtPriceX96) {
		return nil, fmt.Errorf("%w: next %s < %s", ErrInvalidSqrtPriceOrder, sqrtPriceX96Next, sqrtPriceX96)
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, 96)
	size := new(uint256.Int).Sub(
		new(uint256.Int).Div(numerator1, sqrtPriceX96),
		new(uint256.Int).Div(numerator1, sqrtPriceX96Next),
	)
	return mathlib.ToUint128(size)
}

// Insurances splits the value retained by the pool against the removed
// liquidity into its two token legs.
func Insurances(
	liquidity, sqrtPriceX96, sqrtPriceX96Next, liquidityDelta *uint256.Int,
	zeroForOne bool,
) (insurance0, insurance1 *uint256.Int, err error) {
	remaining := new(uint256.Int).Sub(liquidity, liquidityDelta)
	var prod *uint256.Int
	if zeroForOne {
		prod, err = mathlib.MulDiv(remaining, sqrtPriceX96, sqrtPriceX96Next)
	} else {
		prod, err = mathlib.MulDiv(remaining, sqrtPriceX96Next, sqrtPriceX96)
	}
	if err != nil {
		return nil, nil, err
	}
	if prod.Gt(liquidity) {
		return nil, nil, fmt.Errorf("%w: prod %s > liquidity %s", ErrDegenerateLiquidity, prod, liquidity)
	}
	slack := new(uint256.Int).Sub(liquidity, prod)

	insurance0, err = mathlib.MulDiv(slack, mathlib.Q96, sqrtPriceX96)
	if err != nil {
		return nil, nil, err
	}
	if insurance0, err = mathlib.ToUint128(insurance0); err != nil {
		return nil, nil, err
	}
	insurance1, err = mathlib.MulDiv(slack, sqrtPriceX96, mathlib.Q96)
	if err != nil {
		return nil, nil, err
	}
	if insurance1, err = mathlib.ToUint128(insurance1); err != nil {
		return nil, nil, err
	}
	return insurance0, insurance1, nil
}

// Debts returns the amounts owed back to the pool so that insurance + debt
// reconstructs the removed liquidity at the post-open price. Insurance
// exceeding the undiscounted leg signals a dust position and fails.
func Debts(
	sqrtPriceX96Next, liquidityDelta, insurance0, insurance1 *uint256.Int,
) (debt0, debt1 *uint256.Int, err error) {
	amount0, err := mathlib.MulDiv(liquidityDelta, mathlib.Q96, sqrtPriceX96Next)
	if err != nil {
		return nil, nil, err
	}
	amount1, err := mathlib.MulDiv(liquidityDelta, sqrtPriceX96Next, mathlib.Q96)
	if err != nil {
		return nil, nil, err
	}
	if insurance0.Gt(amount0) {
		return nil, nil, fmt.Errorf("%w: insurance0 %s > %s", ErrInsuranceExceedsAmount, insurance0, amount0)
	}
	if insurance1.Gt(amount1) {
		return nil, nil, fmt.Errorf("%w: insurance1 %s > %s", ErrInsuranceExceedsAmount, insurance1, amount1)
	}
	debt0 = new(uint256.Int).Sub(amount0, insurance0)
	debt1 = new(uint256.Int).Sub(amount1, insurance1)
	if debt0, err = mathlib.ToUint128(debt0); err != nil {
		return nil, nil, err
	}
	if debt1, err = mathlib.ToUint128(debt1); err != nil {
		return nil, nil, err
	}
	return debt0, debt1, nil
}

// Assemble builds a new position from pool state at open time. Margin and
// rewards are attached by the caller after validation.
func Assemble(
	liquidity, sqrtPriceX96, sqrtPriceX96Next, liquidityDelta *uint256.Int,
	zeroForOne bool,
	tick int32,
	blockTimestamp uint32,
	tickCumulative, oracleTickCumulative int64,
) (*Info, error) {
	size, err := Size(liquidity, sqrtPriceX96, sqrtPriceX96Next, zeroForOne)
	if err != nil {
		return nil, err
	}
	insurance0, insurance1, err := Insurances(liquidity, sqrtPriceX96, sqrtPriceX96Next, liquidityDelta, zeroForOne)
	if err != nil {
		return nil, err
	}
	debt0, debt1, err := Debts(sqrtPriceX96Next, liquidityDelta, insurance0, insurance1)
	if err != nil {
		return nil, err
	}
	return &Info{
		Size:                size,
		Debt0:               debt0,
		Debt1:               debt1,
		Insurance0:          insurance0,
		Insurance1:          insurance1,
		ZeroForOne:          zeroForOne,
		Tick:                tick,
		BlockTimestamp:      blockTimestamp,
		TickCumulativeDelta: mathlib.OracleTickCumulativeDelta(tickCumulative, oracleTickCumulative),
		Margin:              uint256.NewInt(0),
		LiquidityLocked:     liquidityDelta.Clone(),
		Rewards:             uint256.NewInt(0),
	}, nil
}

// Fees returns the open fee on a position of the given size.
func Fees(size *uint256.Int, feeRate uint32) (*uint256.Int, error) {
	return mathlib.MulDiv(size, uint256.NewInt(uint64(feeRate)), uint256.NewInt(mathlib.FeeUnit))
}

// LiquidationRewards returns the size-proportional liquidation incentive
// escrowed at open.
func LiquidationRewards(size *uint256.Int, rewardRate uint32) (*uint256.Int, error) {
	return mathlib.MulDiv(size, uint256.NewInt(uint64(rewardRate)), uint256.NewInt(mathlib.FeeUnit))
}

// LiquidationRewardsWithGas returns the greater of the size-proportional
// reward and a gas-cost floor, so liquidators are compensated for execution
// cost regardless of position size. The floor is
// gasLiquidate * max(baseFee, baseFeeMin) scaled up by premium.
func LiquidationRewardsWithGas(
	size *uint256.Int,
	rewardRate uint32,
	baseFee, baseFeeMin *uint256.Int,
	gasLiquidate uint64,
	premium uint32,
) (*uint256.Int, error) {
	proportional, err := LiquidationRewards(size, rewardRate)
	if err != nil {
		return nil, err
	}
	fee := baseFee
	if baseFeeMin.Gt(fee) {
		fee = baseFeeMin
	}
	floor, err := mathlib.MulDiv(
		new(uint256.Int).Mul(fee, uint256.NewInt(gasLiquidate)),
		uint256.NewInt(mathlib.FeeUnit+uint64(premium)),
		uint256.NewInt(mathlib.FeeUnit),
	)
	if err != nil {
		return nil, err
	}
	if floor.Gt(proportional) {
		return floor, nil
	}
	return proportional, nil
}

// MarginMinimum returns the smallest margin keeping the position at the
// maintenance threshold, with the funding-bearing debt converted into
// margin-token units at the given spot sqrt price. The spot price is passed
// in because it moves between open and adjust/settle/liquidate.
func MarginMinimum(p *Info, maintenance uint32, sqrtPriceX96 *uint256.Int) (*uint256.Int, error) {
	collateral, err := debtAdjustedInMarginToken(p, maintenance, sqrtPriceX96)
	if err != nil {
		return nil, err
	}
	if !collateral.Gt(p.Size) {
		return uint256.NewInt(0), nil
	}
	return new(uint256.Int).Sub(collateral, p.Size), nil
}

// MarginMinimumWithFees is the pre-funding bound applied at open:
// size * (maintenance + fee) / FeeUnit.
func MarginMinimumWithFees(size *uint256.Int, maintenance, feeRate uint32) (*uint256.Int, error) {
	return mathlib.MulDiv(
		size,
		uint256.NewInt(uint64(maintenance)+uint64(feeRate)),
		uint256.NewInt(mathlib.FeeUnit),
	)
}

// Safe reports whether a funding-synced position is solvent at the given
// sqrt price: margin + size must cover the maintenance-adjusted debt in
// margin-token units.
func Safe(p *Info, sqrtPriceX96 *uint256.Int, maintenance uint32) (bool, error) {
	collateral, err := debtAdjustedInMarginToken(p, maintenance, sqrtPriceX96)
	if err != nil {
		return false, err
	}
	have := new(uint256.Int).Add(p.Margin, p.Size)
	return !have.Lt(collateral), nil
}

// debtAdjustedInMarginToken scales the funding-bearing debt by
// (MaintenanceUnit + maintenance) / MaintenanceUnit and converts it into the
// margin token at the given sqrt price.
func debtAdjustedInMarginToken(p *Info, maintenance uint32, sqrtPriceX96 *uint256.Int) (*uint256.Int, error) {
	unit := uint256.NewInt(mathlib.MaintenanceUnit)
	scale := uint256.NewInt(mathlib.MaintenanceUnit + uint64(maintenance))
	if p.ZeroForOne {
		adjusted, err := mathlib.MulDiv(p.Debt0, scale, unit)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMaintenanceOverflow, err)
		}
		// token0 -> token1 at spot: x * price.
		v, err := mathlib.MulDiv(adjusted, sqrtPriceX96, mathlib.Q96)
		if err != nil {
			return nil, err
		}
		return mathlib.MulDiv(v, sqrtPriceX96, mathlib.Q96)
	}
	adjusted, err := mathlib.MulDiv(p.Debt1, scale, unit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMaintenanceOverflow, err)
	}
	// token1 -> token0 at spot: y / price.
	v, err := mathlib.MulDiv(adjusted, mathlib.Q96, sqrtPriceX96)
	if err != nil {
		return nil, err
	}
	return mathlib.MulDiv(v, mathlib.Q96, sqrtPriceX96)
}

// DebtsAfterFunding compounds the funding-bearing debt by
// 1.0001^(delta / fundingPeriod), where delta is the divergence between the
// oracle and pool tick cumulatives accrued since the position's reference
// point, saturated at tickCumulativeRateMax per second elapsed. The
// saturation is a policy clamp, not an error.
func DebtsAfterFunding(
	p *Info,
	blockTimestampLast uint32,
	tickCumulativeDeltaLast int64,
	tickCumulativeRateMax int64,
	fundingPeriod uint32,
) (debt0, debt1 *uint256.Int, err error) {
	timeDelta := blockTimestampLast - p.BlockTimestamp
	if timeDelta == 0 {
		return p.Debt0.Clone(), p.Debt1.Clone(), nil
	}

	delta := mathlib.OracleTickCumulativeDelta(p.TickCumulativeDelta, tickCumulativeDeltaLast)
	deltaMax := tickCumulativeRateMax * int64(timeDelta)
	if delta > deltaMax {
		delta = deltaMax
	} else if delta < -deltaMax {
		delta = -deltaMax
	}

	// sqrt(1.0001^(2*delta/fundingPeriod)) over half the funding period is
	// exactly the 1.0001^(delta/fundingPeriod) multiplier.
	half := fundingPeriod / 2
	if p.ZeroForOne {
		multiplier, err := mathlib.OracleSqrtPriceX96(delta, half)
		if err != nil {
			return nil, nil, err
		}
		grown, err := mathlib.MulDiv(p.Debt0, multiplier, mathlib.Q96)
		if err != nil {
			return nil, nil, err
		}
		if grown, err = mathlib.ToUint128(grown); err != nil {
			return nil, nil, err
		}
		return grown, p.Debt1.Clone(), nil
	}
	multiplier, err := mathlib.OracleSqrtPriceX96(-delta, half)
	if err != nil {
		return nil, nil, err
	}
	grown, err := mathlib.MulDiv(p.Debt1, multiplier, mathlib.Q96)
	if err != nil {
		return nil, nil, err
	}
	if grown, err = mathlib.ToUint128(grown); err != nil {
		return nil, nil, err
	}
	return p.Debt0.Clone(), grown, nil
}

// Sync rolls the position's funding reference forward to the latest pool and
// oracle cumulatives. Calling it twice with the same timestamp is a no-op.
func Sync(
	p *Info,
	blockTimestampLast uint32,
	tickCumulativeLast, oracleTickCumulativeLast int64,
	tickCumulativeRateMax int64,
	fundingPeriod uint32,
) (*Info, error) {
	next := p.Clone()
	if blockTimestampLast == p.BlockTimestamp {
		return next, nil
	}
	deltaLast := mathlib.OracleTickCumulativeDelta(tickCumulativeLast, oracleTickCumulativeLast)
	debt0, debt1, err := DebtsAfterFunding(p, blockTimestampLast, deltaLast, tickCumulativeRateMax, fundingPeriod)
	if err != nil {
		return nil, err
	}
	next.Debt0 = debt0
	next.Debt1 = debt1
	next.BlockTimestamp = blockTimestampLast
	next.TickCumulativeDelta = deltaLast
	return next, nil
}

// AmountsLocked returns the gross amounts the pool must release to fully
// unwind the position, including posted margin.
func (p *Info) AmountsLocked() (amount0, amount1 *uint256.Int) {
	if p.ZeroForOne {
		amount0 = p.Insurance0.Clone()
		amount1 = new(uint256.Int).Add(p.Size, p.Margin)
		amount1.Add(amount1, p.Debt1)
		amount1.Add(amount1, p.Insurance1)
		return amount0, amount1
	}
	amount0 = new(uint256.Int).Add(p.Size, p.Margin)
	amount0.Add(amount0, p.Debt0)
	amount0.Add(amount0, p.Insurance0)
	amount1 = p.Insurance1.Clone()
	return amount0, amount1
}

// Settle returns the terminal state after a voluntary close. Direction,
// tick and timestamps remain as a historical residue.
func Settle(p *Info) *Info {
	next := p.Clone()
	zeroTerminal(next)
	return next
}

// Liquidate returns the terminal state after a forced close.
func Liquidate(p *Info) *Info {
	next := p.Clone()
	zeroTerminal(next)
	next.Liquidated = true
	return next
}

func zeroTerminal(p *Info) {
	p.Size = uint256.NewInt(0)
	p.Debt0 = uint256.NewInt(0)
	p.Debt1 = uint256.NewInt(0)
	p.Insurance0 = uint256.NewInt(0)
	p.Insurance1 = uint256.NewInt(0)
	p.Margin = uint256.NewInt(0)
	p.LiquidityLocked = uint256.NewInt(0)
	p.Rewards = uint256.NewInt(0)
}
