// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pool

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// Oracle supplies external tick-cumulative readings. Observe returns the
// cumulative tick at each requested offset in seconds before now, most
// distant first.
type Oracle interface {
	Observe(secondsAgos []uint32) ([]int64, error)
}

// TokenLedger moves fungible balances between accounts. The pool never
// assumes push-only or pull-only: it pushes amounts it owes and verifies
// pulled amounts by balance delta around a callback.
type TokenLedger interface {
	BalanceOf(token, account common.Address) (*uint256.Int, error)
	Transfer(token, from, to common.Address, amount *uint256.Int) error
}

// MintCallback supplies the token amounts owed for a liquidity mint. It runs
// with the pool lock held; re-entering any pool operation from inside it
// fails with ErrLocked.
type MintCallback interface {
	MintCallback(amount0Owed, amount1Owed *uint256.Int, data []byte) error
}

// OpenCallback supplies margin plus fees plus the liquidation-reward escrow
// for a position open, denominated in the margin token.
type OpenCallback interface {
	OpenCallback(amount0Owed, amount1Owed *uint256.Int, data []byte) error
}

// AdjustCallback supplies added margin on a positive margin adjustment.
type AdjustCallback interface {
	AdjustCallback(marginOwed *uint256.Int, data []byte) error
}

// SettleCallback repays the borrowed-side debt when a position closes.
type SettleCallback interface {
	SettleCallback(amount0Owed, amount1Owed *uint256.Int, data []byte) error
}

// SwapCallback supplies the input-side amount of a swap. Deltas are signed
// from the pool's perspective: positive amounts are owed to the pool.
type SwapCallback interface {
	SwapCallback(amount0Delta, amount1Delta *big.Int, data []byte) error
}
