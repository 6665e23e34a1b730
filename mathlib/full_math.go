// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mathlib

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	ErrMulDivOverflow  = errors.New("muldiv overflow")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrUint128Overflow = errors.New("value exceeds 128 bits")
	ErrUint160Overflow = errors.New("value exceeds 160 bits")
)

// MulDiv computes floor(a * b / denominator) with a full 512-bit
// intermediate product.
func MulDiv(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	if denominator.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, denominator)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s / %s", ErrMulDivOverflow, a, b, denominator)
	}
	return z, nil
}

// MulDivRoundingUp computes ceil(a * b / denominator) with a full 512-bit
// intermediate product.
func MulDivRoundingUp(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	z, err := MulDiv(a, b, denominator)
	if err != nil {
		return nil, err
	}
	rem := new(uint256.Int).MulMod(a, b, denominator)
	if !rem.IsZero() {
		if _, overflow := z.AddOverflow(z, uint256.NewInt(1)); overflow {
			return nil, fmt.Errorf("%w: rounding up", ErrMulDivOverflow)
		}
	}
	return z, nil
}

// DivRoundingUp computes ceil(a / denominator).
func DivRoundingUp(a, denominator *uint256.Int) (*uint256.Int, error) {
	if denominator.IsZero() {
		return nil, ErrDivisionByZero
	}
	z := new(uint256.Int).Div(a, denominator)
	rem := new(uint256.Int).Mod(a, denominator)
	if !rem.IsZero() {
		z.AddUint64(z, 1)
	}
	return z, nil
}

// ToUint128 validates that v fits the 128-bit range used for liquidity,
// reserves, debts and insurances.
func ToUint128(v *uint256.Int) (*uint256.Int, error) {
	if v.Gt(MaxUint128) {
		return nil, fmt.Errorf("%w: %s", ErrUint128Overflow, v)
	}
	return v, nil
}

// ToUint160 validates that v fits the 160-bit sqrt-price range.
func ToUint160(v *uint256.Int) (*uint256.Int, error) {
	if v.Gt(MaxUint160) {
		return nil, fmt.Errorf("%w: %s", ErrUint160Overflow, v)
	}
	return v, nil
}
