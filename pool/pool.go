// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pool implements the leveraged constant-product pool state machine:
// liquidity provision, swaps, and the leveraged position lifecycle of open,
// adjust, settle and liquidate, with funding accrued lazily against an
// external oracle.
package pool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/zeebo/blake3"

	"github.com/luxfi/marginpool/mathlib"
	"github.com/luxfi/marginpool/position"
)

var (
	ErrLocked                 = errors.New("pool locked")
	ErrNotInitialized         = errors.New("pool not initialized")
	ErrAlreadyInitialized     = errors.New("pool already initialized")
	ErrInvalidLiquidityDelta  = errors.New("invalid liquidity delta")
	ErrLiquidityBelowMinimum  = errors.New("liquidity below minimum")
	ErrInsufficientLiquidity  = errors.New("insufficient unlocked liquidity")
	ErrInvalidAmountSpecified = errors.New("invalid amount specified")
	ErrInvalidSqrtPriceLimit  = errors.New("invalid sqrt price limit")
	ErrSqrtPriceExceedsLimit  = errors.New("sqrt price exceeds limit")
	ErrSizeBelowMinimum       = errors.New("position size below minimum")
	ErrMarginLessThanMin      = errors.New("margin less than minimum")
	ErrPositionNotFound       = errors.New("position not found")
	ErrPositionClosed         = errors.New("position closed")
	ErrPositionSafe           = errors.New("position safe")
	ErrInvalidFeeProtocol     = errors.New("invalid fee protocol")
	ErrInvalidObservations    = errors.New("invalid oracle observations")
	ErrTransferShortfall      = errors.New("transfer shortfall")
)

// Pool is the singleton state machine for one market. Every state-mutating
// entry point takes the reentrancy lock for its whole duration; callbacks
// run with the lock held, so re-entry fails with ErrLocked instead of
// deadlocking. All mutations are staged in locals and committed only after
// every validation and callback has succeeded.
type Pool struct {
	mu     sync.Mutex
	locked bool

	cfg    Config
	oracle Oracle
	ledger TokenLedger
	log    log.Logger

	initialized     bool
	liquidity       *uint256.Int
	sqrtPriceX96    *uint256.Int
	tick            int32
	blockTimestamp  uint32
	tickCumulative  int64
	totalPositions  uint64
	feeProtocol     uint8
	liquidityLocked *uint256.Int
	protocolFees0   *uint256.Int
	protocolFees1   *uint256.Int

	positions map[common.Hash]*position.Info
}

// New builds a pool from a validated config. The pool is unusable until
// Initialize sets the starting price.
func New(cfg Config, oracle Oracle, ledger TokenLedger, logger log.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Pool{
		cfg:             cfg,
		oracle:          oracle,
		ledger:          ledger,
		log:             logger,
		liquidity:       uint256.NewInt(0),
		sqrtPriceX96:    uint256.NewInt(0),
		liquidityLocked: uint256.NewInt(0),
		protocolFees0:   uint256.NewInt(0),
		protocolFees1:   uint256.NewInt(0),
		positions:       make(map[common.Hash]*position.Info),
	}, nil
}

func (p *Pool) lock() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.locked {
		return ErrLocked
	}
	p.locked = true
	return nil
}

func (p *Pool) unlock() {
	p.mu.Lock()
	p.locked = false
	p.mu.Unlock()
}

func positionKey(owner common.Address, id uint64) common.Hash {
	h := blake3.New()
	h.Write(owner[:])
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	h.Write(buf[:])
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}

// clockNext stages the advanced timestamp and tick cumulative; nothing is
// committed until the operation succeeds.
func (p *Pool) clockNext() (uint32, int64) {
	now := p.cfg.Now()
	dt := now - p.blockTimestamp
	return now, p.tickCumulative + int64(p.tick)*int64(dt)
}

// pullVerify invokes a callback expected to transfer owed into the pool's
// account and verifies the balance delta.
func (p *Pool) pullVerify(token common.Address, owed *uint256.Int, invoke func() error) error {
	if owed.IsZero() {
		return invoke()
	}
	before, err := p.ledger.BalanceOf(token, p.cfg.Address)
	if err != nil {
		return err
	}
	if err := invoke(); err != nil {
		return err
	}
	after, err := p.ledger.BalanceOf(token, p.cfg.Address)
	if err != nil {
		return err
	}
	received := new(uint256.Int)
	if _, underflow := received.SubOverflow(after, before); underflow || received.Lt(owed) {
		return fmt.Errorf("%w: token %s owed %s", ErrTransferShortfall, token, owed)
	}
	return nil
}

func (p *Pool) push(token, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	return p.ledger.Transfer(token, p.cfg.Address, to, amount)
}

// marginToken returns the non-borrowed token for a direction: token1 for
// zeroForOne, token0 otherwise.
func (p *Pool) marginToken(zeroForOne bool) common.Address {
	if zeroForOne {
		return p.cfg.Token1
	}
	return p.cfg.Token0
}

func (p *Pool) debtToken(zeroForOne bool) common.Address {
	if zeroForOne {
		return p.cfg.Token0
	}
	return p.cfg.Token1
}

// Initialize sets the starting sqrt price and returns the corresponding
// tick. Liquidity arrives through the first Mint.
func (p *Pool) Initialize(sqrtPriceX96 *uint256.Int) (int32, error) {
	if err := p.lock(); err != nil {
		return 0, err
	}
	defer p.unlock()

	if p.initialized {
		return 0, ErrAlreadyInitialized
	}
	tick, err := mathlib.TickAtSqrtRatio(sqrtPriceX96)
	if err != nil {
		return 0, err
	}

	p.initialized = true
	p.sqrtPriceX96 = sqrtPriceX96.Clone()
	p.tick = tick
	p.blockTimestamp = p.cfg.Now()
	p.tickCumulative = 0

	p.log.Info("pool initialized",
		log.Stringer("id", p.cfg.ID),
		log.Stringer("sqrtPriceX96", sqrtPriceX96),
		log.Int("tick", int(tick)),
	)
	return tick, nil
}

// Mint adds liquidity at the current price. The callback must transfer the
// owed amounts of both tokens to the pool before returning.
func (p *Pool) Mint(
	recipient common.Address,
	liquidityDelta *uint256.Int,
	cb MintCallback,
	data []byte,
) (amount0, amount1 *uint256.Int, err error) {
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock()

	if !p.initialized {
		return nil, nil, ErrNotInitialized
	}
	if liquidityDelta == nil || liquidityDelta.IsZero() {
		return nil, nil, ErrInvalidLiquidityDelta
	}

	liquidityNext := new(uint256.Int).Add(p.liquidity, liquidityDelta)
	if liquidityNext, err = mathlib.ToUint128(liquidityNext); err != nil {
		return nil, nil, err
	}
	if liquidityNext.Lt(uint256.NewInt(mathlib.MinimumLiquidity)) {
		return nil, nil, fmt.Errorf("%w: %s < %d", ErrLiquidityBelowMinimum, liquidityNext, mathlib.MinimumLiquidity)
	}

	// Amounts owed round up so truncation never favors the minter.
	amount0, err = mathlib.MulDivRoundingUp(liquidityDelta, mathlib.Q96, p.sqrtPriceX96)
	if err != nil {
		return nil, nil, err
	}
	amount1, err = mathlib.MulDivRoundingUp(liquidityDelta, p.sqrtPriceX96, mathlib.Q96)
	if err != nil {
		return nil, nil, err
	}

	now, cum := p.clockNext()
	err = p.pullVerify(p.cfg.Token0, amount0, func() error {
		return p.pullVerify(p.cfg.Token1, amount1, func() error {
			return cb.MintCallback(amount0, amount1, data)
		})
	})
	if err != nil {
		return nil, nil, err
	}

	p.liquidity = liquidityNext
	p.blockTimestamp = now
	p.tickCumulative = cum

	p.log.Debug("mint",
		log.Stringer("recipient", recipient),
		log.Stringer("liquidityDelta", liquidityDelta),
	)
	return amount0, amount1, nil
}

// Burn removes liquidity and pushes the freed amounts to the recipient.
// Liquidity cannot fall below the locked plus minimum floor.
func (p *Pool) Burn(
	recipient common.Address,
	liquidityDelta *uint256.Int,
) (amount0, amount1 *uint256.Int, err error) {
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock()

	if !p.initialized {
		return nil, nil, ErrNotInitialized
	}
	if liquidityDelta == nil || liquidityDelta.IsZero() || liquidityDelta.Gt(p.liquidity) {
		return nil, nil, ErrInvalidLiquidityDelta
	}

	liquidityNext := new(uint256.Int).Sub(p.liquidity, liquidityDelta)
	floor := new(uint256.Int).Add(p.liquidityLocked, uint256.NewInt(mathlib.MinimumLiquidity))
	if liquidityNext.Lt(floor) {
		return nil, nil, fmt.Errorf("%w: %s < locked floor %s", ErrLiquidityBelowMinimum, liquidityNext, floor)
	}

	amount0, amount1, err = mathlib.ToAmounts(liquidityDelta, p.sqrtPriceX96)
	if err != nil {
		return nil, nil, err
	}

	now, cum := p.clockNext()
	if err := p.push(p.cfg.Token0, recipient, amount0); err != nil {
		return nil, nil, err
	}
	if err := p.push(p.cfg.Token1, recipient, amount1); err != nil {
		return nil, nil, err
	}

	p.liquidity = liquidityNext
	p.blockTimestamp = now
	p.tickCumulative = cum

	p.log.Debug("burn",
		log.Stringer("recipient", recipient),
		log.Stringer("liquidityDelta", liquidityDelta),
	)
	return amount0, amount1, nil
}

// Swap trades against the pool at constant liquidity. amountSpecified > 0 is
// exact input, < 0 exact output. Returned deltas are signed from the pool's
// perspective with the fee folded into the input leg.
func (p *Pool) Swap(
	recipient common.Address,
	zeroForOne bool,
	amountSpecified *big.Int,
	sqrtPriceLimitX96 *uint256.Int,
	cb SwapCallback,
	data []byte,
) (amount0, amount1 *big.Int, err error) {
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock()

	if !p.initialized {
		return nil, nil, ErrNotInitialized
	}
	if amountSpecified == nil || amountSpecified.Sign() == 0 {
		return nil, nil, ErrInvalidAmountSpecified
	}
	if err := p.checkSqrtPriceLimit(sqrtPriceLimitX96, zeroForOne); err != nil {
		return nil, nil, err
	}

	sqrtPriceNext, err := mathlib.SqrtPriceX96NextSwap(p.liquidity, p.sqrtPriceX96, zeroForOne, amountSpecified)
	if err != nil {
		return nil, nil, err
	}
	if sqrtPriceLimitX96 != nil {
		if zeroForOne && sqrtPriceNext.Lt(sqrtPriceLimitX96) {
			return nil, nil, fmt.Errorf("%w: %s < %s", ErrSqrtPriceExceedsLimit, sqrtPriceNext, sqrtPriceLimitX96)
		}
		if !zeroForOne && sqrtPriceNext.Gt(sqrtPriceLimitX96) {
			return nil, nil, fmt.Errorf("%w: %s > %s", ErrSqrtPriceExceedsLimit, sqrtPriceNext, sqrtPriceLimitX96)
		}
	}

	amount0, amount1, err = mathlib.SwapAmounts(p.liquidity, p.sqrtPriceX96, sqrtPriceNext)
	if err != nil {
		return nil, nil, err
	}

	input := amount1
	if zeroForOne {
		input = amount0
	}
	inputU, overflow := uint256.FromBig(input)
	if overflow {
		return nil, nil, mathlib.ErrUint128Overflow
	}
	fees, err := mathlib.SwapFees(inputU, p.cfg.Fee, true)
	if err != nil {
		return nil, nil, err
	}
	protocolCut := uint256.NewInt(0)
	if p.feeProtocol > 0 {
		protocolCut.Div(fees, uint256.NewInt(uint64(p.feeProtocol)))
	}
	reserveFees := new(uint256.Int).Sub(fees, protocolCut)

	// Reserves absorb the curve amounts plus the pool's share of the fee.
	delta0 := new(big.Int).Set(amount0)
	delta1 := new(big.Int).Set(amount1)
	if zeroForOne {
		delta0.Add(delta0, reserveFees.ToBig())
	} else {
		delta1.Add(delta1, reserveFees.ToBig())
	}
	liquidityNext, sqrtPriceCommitted, err := mathlib.LiquiditySqrtPriceX96Next(p.liquidity, p.sqrtPriceX96, delta0, delta1)
	if err != nil {
		return nil, nil, err
	}
	tickNext, err := mathlib.TickAtSqrtRatio(sqrtPriceCommitted)
	if err != nil {
		return nil, nil, err
	}

	// The caller owes curve input plus the whole fee.
	if zeroForOne {
		amount0 = new(big.Int).Add(amount0, fees.ToBig())
	} else {
		amount1 = new(big.Int).Add(amount1, fees.ToBig())
	}

	output := amount1
	outputToken := p.cfg.Token1
	if !zeroForOne {
		output = amount0
		outputToken = p.cfg.Token0
	}
	outputU, overflow := uint256.FromBig(new(big.Int).Neg(output))
	if overflow {
		return nil, nil, mathlib.ErrUint128Overflow
	}

	now, cum := p.clockNext()
	owedU := new(uint256.Int).Add(inputU, fees)
	pullToken := p.cfg.Token0
	if !zeroForOne {
		pullToken = p.cfg.Token1
	}
	err = p.pullVerify(pullToken, owedU, func() error {
		return cb.SwapCallback(amount0, amount1, data)
	})
	if err != nil {
		return nil, nil, err
	}
	if err := p.push(outputToken, recipient, outputU); err != nil {
		return nil, nil, err
	}

	p.liquidity = liquidityNext
	p.sqrtPriceX96 = sqrtPriceCommitted
	p.tick = tickNext
	p.blockTimestamp = now
	p.tickCumulative = cum
	if zeroForOne {
		p.protocolFees0.Add(p.protocolFees0, protocolCut)
	} else {
		p.protocolFees1.Add(p.protocolFees1, protocolCut)
	}

	p.log.Debug("swap",
		log.Stringer("recipient", recipient),
		log.Stringer("amount0", amount0),
		log.Stringer("amount1", amount1),
	)
	return amount0, amount1, nil
}

func (p *Pool) checkSqrtPriceLimit(limit *uint256.Int, zeroForOne bool) error {
	if limit == nil {
		return nil
	}
	if zeroForOne {
		if !limit.Lt(p.sqrtPriceX96) || !limit.Gt(mathlib.MinSqrtRatio) {
			return fmt.Errorf("%w: %s", ErrInvalidSqrtPriceLimit, limit)
		}
		return nil
	}
	if !limit.Gt(p.sqrtPriceX96) || !limit.Lt(mathlib.MaxSqrtRatio) {
		return fmt.Errorf("%w: %s", ErrInvalidSqrtPriceLimit, limit)
	}
	return nil
}

// Open creates a leveraged position backed by liquidityDelta of pool
// liquidity. The callback must transfer margin plus the open fee plus the
// liquidation-reward escrow, all in the margin token. Returns the
// pool-assigned position id.
func (p *Pool) Open(
	owner common.Address,
	zeroForOne bool,
	liquidityDelta *uint256.Int,
	margin *uint256.Int,
	sqrtPriceLimitX96 *uint256.Int,
	cb OpenCallback,
	data []byte,
) (uint64, error) {
	if err := p.lock(); err != nil {
		return 0, err
	}
	defer p.unlock()

	if !p.initialized {
		return 0, ErrNotInitialized
	}
	if liquidityDelta == nil || liquidityDelta.IsZero() || !liquidityDelta.Lt(p.liquidity) {
		return 0, ErrInvalidLiquidityDelta
	}
	if err := p.checkSqrtPriceLimit(sqrtPriceLimitX96, zeroForOne); err != nil {
		return 0, err
	}

	sqrtPriceNext, err := mathlib.SqrtPriceX96NextOpen(p.liquidity, p.sqrtPriceX96, liquidityDelta, zeroForOne, p.cfg.Maintenance)
	if err != nil {
		return 0, err
	}
	if sqrtPriceLimitX96 != nil {
		if zeroForOne && sqrtPriceNext.Lt(sqrtPriceLimitX96) {
			return 0, fmt.Errorf("%w: %s < %s", ErrSqrtPriceExceedsLimit, sqrtPriceNext, sqrtPriceLimitX96)
		}
		if !zeroForOne && sqrtPriceNext.Gt(sqrtPriceLimitX96) {
			return 0, fmt.Errorf("%w: %s > %s", ErrSqrtPriceExceedsLimit, sqrtPriceNext, sqrtPriceLimitX96)
		}
	}

	liquidityNext := new(uint256.Int).Sub(p.liquidity, liquidityDelta)
	lockedNext := new(uint256.Int).Add(p.liquidityLocked, liquidityDelta)
	if lockedNext.Gt(liquidityNext) {
		return 0, fmt.Errorf("%w: locked %s > liquidity %s", ErrInsufficientLiquidity, lockedNext, liquidityNext)
	}
	if liquidityNext.Lt(uint256.NewInt(mathlib.MinimumLiquidity)) {
		return 0, fmt.Errorf("%w: %s", ErrLiquidityBelowMinimum, liquidityNext)
	}

	obs, err := p.observe(0)
	if err != nil {
		return 0, err
	}
	now, cum := p.clockNext()

	pos, err := position.Assemble(p.liquidity, p.sqrtPriceX96, sqrtPriceNext, liquidityDelta, zeroForOne, p.tick, now, cum, obs[0])
	if err != nil {
		return 0, err
	}
	if pos.Size.Lt(uint256.NewInt(mathlib.MinimumSize)) {
		return 0, fmt.Errorf("%w: %s < %d", ErrSizeBelowMinimum, pos.Size, mathlib.MinimumSize)
	}

	marginMin, err := position.MarginMinimumWithFees(pos.Size, p.cfg.Maintenance, p.cfg.Fee)
	if err != nil {
		return 0, err
	}
	if margin == nil || margin.Lt(marginMin) {
		return 0, fmt.Errorf("%w: %s < %s", ErrMarginLessThanMin, margin, marginMin)
	}

	fees, err := position.Fees(pos.Size, p.cfg.Fee)
	if err != nil {
		return 0, err
	}
	rewards, err := position.LiquidationRewards(pos.Size, p.cfg.RewardRate)
	if err != nil {
		return 0, err
	}
	protocolCut := uint256.NewInt(0)
	if p.feeProtocol > 0 {
		protocolCut.Div(fees, uint256.NewInt(uint64(p.feeProtocol)))
	}
	reserveFees := new(uint256.Int).Sub(fees, protocolCut)

	// The pool's fee share joins reserves on the margin-token side.
	feeDelta0, feeDelta1 := new(big.Int), new(big.Int)
	if zeroForOne {
		feeDelta1.Set(reserveFees.ToBig())
	} else {
		feeDelta0.Set(reserveFees.ToBig())
	}
	liquidityCommitted, sqrtPriceCommitted, err := mathlib.LiquiditySqrtPriceX96Next(liquidityNext, sqrtPriceNext, feeDelta0, feeDelta1)
	if err != nil {
		return 0, err
	}
	tickNext, err := mathlib.TickAtSqrtRatio(sqrtPriceCommitted)
	if err != nil {
		return 0, err
	}

	pos.Margin = margin.Clone()
	pos.Rewards = rewards

	owed := new(uint256.Int).Add(margin, fees)
	owed.Add(owed, rewards)
	owed0, owed1 := uint256.NewInt(0), uint256.NewInt(0)
	if zeroForOne {
		owed1 = owed
	} else {
		owed0 = owed
	}
	err = p.pullVerify(p.marginToken(zeroForOne), owed, func() error {
		return cb.OpenCallback(owed0, owed1, data)
	})
	if err != nil {
		return 0, err
	}

	id := p.totalPositions
	p.positions[positionKey(owner, id)] = pos
	p.totalPositions++
	p.liquidity = liquidityCommitted
	p.sqrtPriceX96 = sqrtPriceCommitted
	p.tick = tickNext
	p.liquidityLocked = lockedNext
	p.blockTimestamp = now
	p.tickCumulative = cum
	if zeroForOne {
		p.protocolFees1.Add(p.protocolFees1, protocolCut)
	} else {
		p.protocolFees0.Add(p.protocolFees0, protocolCut)
	}

	p.log.Info("position opened",
		log.Stringer("owner", owner),
		log.Uint64("id", id),
		log.Stringer("size", pos.Size),
		log.Stringer("margin", margin),
	)
	return id, nil
}

// observe fetches oracle cumulatives for the given offsets plus now, and
// validates cardinality.
func (p *Pool) observe(secondsAgos ...uint32) ([]int64, error) {
	obs, err := p.oracle.Observe(secondsAgos)
	if err != nil {
		return nil, err
	}
	if len(obs) != len(secondsAgos) {
		return nil, fmt.Errorf("%w: got %d want %d", ErrInvalidObservations, len(obs), len(secondsAgos))
	}
	return obs, nil
}

// syncedPosition looks up a live position and rolls its funding forward to
// the staged clock.
func (p *Pool) syncedPosition(owner common.Address, id uint64, now uint32, cum, oracleCum int64) (*position.Info, common.Hash, error) {
	key := positionKey(owner, id)
	pos, ok := p.positions[key]
	if !ok {
		return nil, key, fmt.Errorf("%w: owner %s id %d", ErrPositionNotFound, owner, id)
	}
	if pos.Size.IsZero() {
		return nil, key, fmt.Errorf("%w: owner %s id %d", ErrPositionClosed, owner, id)
	}
	synced, err := position.Sync(pos, now, cum, oracleCum, p.cfg.TickCumulativeRateMax, p.cfg.FundingPeriod)
	if err != nil {
		return nil, key, err
	}
	return synced, key, nil
}

// Adjust changes a position's margin after funding sync. A positive delta is
// pulled through the callback; a negative delta is pushed to the recipient.
// Returns the position's margin after the change.
func (p *Pool) Adjust(
	owner, recipient common.Address,
	id uint64,
	marginDelta *big.Int,
	cb AdjustCallback,
	data []byte,
) (*uint256.Int, error) {
	if err := p.lock(); err != nil {
		return nil, err
	}
	defer p.unlock()

	if !p.initialized {
		return nil, ErrNotInitialized
	}
	if marginDelta == nil || marginDelta.Sign() == 0 {
		return nil, ErrInvalidAmountSpecified
	}

	obs, err := p.observe(0)
	if err != nil {
		return nil, err
	}
	now, cum := p.clockNext()
	synced, key, err := p.syncedPosition(owner, id, now, cum, obs[0])
	if err != nil {
		return nil, err
	}

	deltaU, overflow := uint256.FromBig(new(big.Int).Abs(marginDelta))
	if overflow {
		return nil, mathlib.ErrUint128Overflow
	}
	marginNext := new(uint256.Int)
	if marginDelta.Sign() > 0 {
		marginNext.Add(synced.Margin, deltaU)
	} else {
		if _, underflow := marginNext.SubOverflow(synced.Margin, deltaU); underflow {
			return nil, fmt.Errorf("%w: remove %s > margin %s", ErrInvalidAmountSpecified, deltaU, synced.Margin)
		}
	}
	if marginNext, err = mathlib.ToUint128(marginNext); err != nil {
		return nil, err
	}

	checked := synced.Clone()
	checked.Margin = marginNext
	marginMin, err := position.MarginMinimum(checked, p.cfg.Maintenance, p.sqrtPriceX96)
	if err != nil {
		return nil, err
	}
	if marginNext.Lt(marginMin) {
		return nil, fmt.Errorf("%w: %s < %s", ErrMarginLessThanMin, marginNext, marginMin)
	}

	token := p.marginToken(synced.ZeroForOne)
	if marginDelta.Sign() > 0 {
		err = p.pullVerify(token, deltaU, func() error {
			return cb.AdjustCallback(deltaU, data)
		})
	} else {
		err = p.push(token, recipient, deltaU)
	}
	if err != nil {
		return nil, err
	}

	synced.Margin = marginNext
	p.positions[key] = synced
	p.blockTimestamp = now
	p.tickCumulative = cum

	p.log.Debug("margin adjusted",
		log.Stringer("owner", owner),
		log.Uint64("id", id),
		log.Stringer("margin", marginNext),
	)
	return marginNext.Clone(), nil
}

// Settle voluntarily closes a position: the callback repays the borrowed
// debt, the recipient receives size plus margin plus the reward escrow, and
// debt plus insurance rejoin reserves. Returned amounts are signed from the
// pool's perspective.
func (p *Pool) Settle(
	owner, recipient common.Address,
	id uint64,
	cb SettleCallback,
	data []byte,
) (amount0, amount1 *big.Int, err error) {
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock()

	if !p.initialized {
		return nil, nil, ErrNotInitialized
	}

	obs, err := p.observe(0)
	if err != nil {
		return nil, nil, err
	}
	now, cum := p.clockNext()
	synced, key, err := p.syncedPosition(owner, id, now, cum, obs[0])
	if err != nil {
		return nil, nil, err
	}

	absorb0 := new(uint256.Int).Add(synced.Insurance0, synced.Debt0)
	absorb1 := new(uint256.Int).Add(synced.Insurance1, synced.Debt1)
	liquidityNext, sqrtPriceNext, err := mathlib.LiquiditySqrtPriceX96Next(p.liquidity, p.sqrtPriceX96, absorb0.ToBig(), absorb1.ToBig())
	if err != nil {
		return nil, nil, err
	}
	tickNext, err := mathlib.TickAtSqrtRatio(sqrtPriceNext)
	if err != nil {
		return nil, nil, err
	}
	lockedNext := new(uint256.Int)
	if _, underflow := lockedNext.SubOverflow(p.liquidityLocked, synced.LiquidityLocked); underflow {
		lockedNext.Clear()
	}

	payout := new(uint256.Int).Add(synced.Size, synced.Margin)
	payout.Add(payout, synced.Rewards)

	var owed0, owed1 *uint256.Int
	if synced.ZeroForOne {
		owed0, owed1 = synced.Debt0.Clone(), uint256.NewInt(0)
		amount0 = owed0.ToBig()
		amount1 = new(big.Int).Neg(payout.ToBig())
	} else {
		owed0, owed1 = uint256.NewInt(0), synced.Debt1.Clone()
		amount0 = new(big.Int).Neg(payout.ToBig())
		amount1 = owed1.ToBig()
	}

	err = p.pullVerify(p.debtToken(synced.ZeroForOne), new(uint256.Int).Add(owed0, owed1), func() error {
		return cb.SettleCallback(owed0, owed1, data)
	})
	if err != nil {
		return nil, nil, err
	}
	if err := p.push(p.marginToken(synced.ZeroForOne), recipient, payout); err != nil {
		return nil, nil, err
	}

	p.positions[key] = position.Settle(synced)
	p.liquidity = liquidityNext
	p.sqrtPriceX96 = sqrtPriceNext
	p.tick = tickNext
	p.liquidityLocked = lockedNext
	p.blockTimestamp = now
	p.tickCumulative = cum

	p.log.Info("position settled",
		log.Stringer("owner", owner),
		log.Uint64("id", id),
		log.Stringer("payout", payout),
	)
	return amount0, amount1, nil
}

// Liquidate force-closes an unsafe position. Safety is evaluated at the
// oracle TWAP over the configured window; the full locked value, margin
// included, is absorbed into reserves and the reward escrow goes to the
// recipient. Fails with ErrPositionSafe while the position is solvent.
func (p *Pool) Liquidate(
	owner, recipient common.Address,
	id uint64,
) (*uint256.Int, error) {
	if err := p.lock(); err != nil {
		return nil, err
	}
	defer p.unlock()

	if !p.initialized {
		return nil, ErrNotInitialized
	}

	obs, err := p.observe(p.cfg.SecondsAgo, 0)
	if err != nil {
		return nil, err
	}
	twapDelta := mathlib.OracleTickCumulativeDelta(obs[0], obs[1])
	twapSqrtPriceX96, err := mathlib.OracleSqrtPriceX96(twapDelta, p.cfg.SecondsAgo)
	if err != nil {
		return nil, err
	}

	now, cum := p.clockNext()
	synced, key, err := p.syncedPosition(owner, id, now, cum, obs[1])
	if err != nil {
		return nil, err
	}

	safe, err := position.Safe(synced, twapSqrtPriceX96, p.cfg.Maintenance)
	if err != nil {
		return nil, err
	}
	if safe {
		return nil, fmt.Errorf("%w: owner %s id %d", ErrPositionSafe, owner, id)
	}

	absorb0, absorb1 := synced.AmountsLocked()
	liquidityNext, sqrtPriceNext, err := mathlib.LiquiditySqrtPriceX96Next(p.liquidity, p.sqrtPriceX96, absorb0.ToBig(), absorb1.ToBig())
	if err != nil {
		return nil, err
	}
	tickNext, err := mathlib.TickAtSqrtRatio(sqrtPriceNext)
	if err != nil {
		return nil, err
	}
	lockedNext := new(uint256.Int)
	if _, underflow := lockedNext.SubOverflow(p.liquidityLocked, synced.LiquidityLocked); underflow {
		lockedNext.Clear()
	}

	rewards := synced.Rewards.Clone()
	if err := p.push(p.marginToken(synced.ZeroForOne), recipient, rewards); err != nil {
		return nil, err
	}

	p.positions[key] = position.Liquidate(synced)
	p.liquidity = liquidityNext
	p.sqrtPriceX96 = sqrtPriceNext
	p.tick = tickNext
	p.liquidityLocked = lockedNext
	p.blockTimestamp = now
	p.tickCumulative = cum

	p.log.Info("position liquidated",
		log.Stringer("owner", owner),
		log.Uint64("id", id),
		log.Stringer("rewards", rewards),
	)
	return rewards, nil
}

// SetFeeProtocol sets the protocol's share of fees: 0 disables, otherwise
// the denominator of the cut, 4 through 10.
func (p *Pool) SetFeeProtocol(feeProtocol uint8) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock()

	if feeProtocol != 0 && (feeProtocol < 4 || feeProtocol > 10) {
		return fmt.Errorf("%w: %d", ErrInvalidFeeProtocol, feeProtocol)
	}
	p.feeProtocol = feeProtocol
	return nil
}

// CollectProtocol pushes accrued protocol fees to the recipient, clamped to
// what has accrued.
func (p *Pool) CollectProtocol(
	recipient common.Address,
	amount0Requested, amount1Requested *uint256.Int,
) (amount0, amount1 *uint256.Int, err error) {
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock()

	amount0 = amount0Requested.Clone()
	if amount0.Gt(p.protocolFees0) {
		amount0 = p.protocolFees0.Clone()
	}
	amount1 = amount1Requested.Clone()
	if amount1.Gt(p.protocolFees1) {
		amount1 = p.protocolFees1.Clone()
	}

	if err := p.push(p.cfg.Token0, recipient, amount0); err != nil {
		return nil, nil, err
	}
	if err := p.push(p.cfg.Token1, recipient, amount1); err != nil {
		return nil, nil, err
	}
	p.protocolFees0.Sub(p.protocolFees0, amount0)
	p.protocolFees1.Sub(p.protocolFees1, amount1)
	return amount0, amount1, nil
}

// Position returns a copy of the position record, terminal ones included.
func (p *Pool) Position(owner common.Address, id uint64) (*position.Info, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[positionKey(owner, id)]
	if !ok {
		return nil, false
	}
	return pos.Clone(), true
}

func (p *Pool) Liquidity() *uint256.Int       { return p.liquidity.Clone() }
func (p *Pool) SqrtPriceX96() *uint256.Int    { return p.sqrtPriceX96.Clone() }
func (p *Pool) Tick() int32                   { return p.tick }
func (p *Pool) TickCumulative() int64         { return p.tickCumulative }
func (p *Pool) BlockTimestamp() uint32        { return p.blockTimestamp }
func (p *Pool) TotalPositions() uint64        { return p.totalPositions }
func (p *Pool) LiquidityLocked() *uint256.Int { return p.liquidityLocked.Clone() }

func (p *Pool) ProtocolFees() (*uint256.Int, *uint256.Int) {
	return p.protocolFees0.Clone(), p.protocolFees1.Clone()
}
