// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// MemoryLedger is an in-memory TokenLedger. It backs the pool tests and
// serves as the reference collaborator implementation.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[common.Address]map[common.Address]*uint256.Int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

// Mint credits an account out of thin air.
func (l *MemoryLedger) Mint(token, to common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(token, to, amount)
}

func (l *MemoryLedger) BalanceOf(token, account common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if accounts, ok := l.balances[token]; ok {
		if balance, ok := accounts[account]; ok {
			return balance.Clone(), nil
		}
	}
	return uint256.NewInt(0), nil
}

func (l *MemoryLedger) Transfer(token, from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	accounts := l.balances[token]
	balance, ok := accounts[from]
	if !ok || balance.Lt(amount) {
		return fmt.Errorf("%w: token %s from %s", ErrInsufficientBalance, token, from)
	}
	balance.Sub(balance, amount)
	l.credit(token, to, amount)
	return nil
}

func (l *MemoryLedger) credit(token, to common.Address, amount *uint256.Int) {
	accounts, ok := l.balances[token]
	if !ok {
		accounts = make(map[common.Address]*uint256.Int)
		l.balances[token] = accounts
	}
	balance, ok := accounts[to]
	if !ok {
		balance = uint256.NewInt(0)
		accounts[to] = balance
	}
	balance.Add(balance, amount)
}
