// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mathlib

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestMulDiv(t *testing.T) {
	cases := []struct {
		name    string
		a, b, d *uint256.Int
		want    *uint256.Int
		wantErr error
	}{
		{"exact", uint256.NewInt(6), uint256.NewInt(7), uint256.NewInt(3), uint256.NewInt(14), nil},
		{"floors", uint256.NewInt(7), uint256.NewInt(7), uint256.NewInt(10), uint256.NewInt(4), nil},
		{"zero numerator", uint256.NewInt(0), uint256.NewInt(7), uint256.NewInt(3), uint256.NewInt(0), nil},
		{
			"wide intermediate",
			new(uint256.Int).Lsh(uint256.NewInt(1), 200),
			new(uint256.Int).Lsh(uint256.NewInt(1), 100),
			new(uint256.Int).Lsh(uint256.NewInt(1), 150),
			new(uint256.Int).Lsh(uint256.NewInt(1), 150),
			nil,
		},
		{
			"overflow",
			new(uint256.Int).Lsh(uint256.NewInt(1), 200),
			new(uint256.Int).Lsh(uint256.NewInt(1), 100),
			uint256.NewInt(2),
			nil,
			ErrMulDivOverflow,
		},
		{"zero denominator", uint256.NewInt(1), uint256.NewInt(1), uint256.NewInt(0), nil, ErrDivisionByZero},
	}
	for _, tc := range cases {
		got, err := MulDiv(tc.a, tc.b, tc.d)
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("%s: err %v want %v", tc.name, err, tc.wantErr)
			continue
		}
		if tc.wantErr == nil && !got.Eq(tc.want) {
			t.Errorf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestMulDivRoundingUp(t *testing.T) {
	got, err := MulDivRoundingUp(uint256.NewInt(7), uint256.NewInt(7), uint256.NewInt(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Eq(uint256.NewInt(5)) {
		t.Errorf("got %s want 5", got)
	}

	got, err = MulDivRoundingUp(uint256.NewInt(6), uint256.NewInt(5), uint256.NewInt(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Eq(uint256.NewInt(3)) {
		t.Errorf("exact division rounded: got %s want 3", got)
	}

	max := new(uint256.Int).Not(uint256.NewInt(0))
	almostMax := new(uint256.Int).SubUint64(max, 1)
	if _, err := MulDivRoundingUp(max, max, almostMax); !errors.Is(err, ErrMulDivOverflow) {
		t.Errorf("expected rounding overflow, got %v", err)
	}
}

func TestDivRoundingUp(t *testing.T) {
	cases := []struct {
		a, d, want uint64
	}{
		{10, 5, 2},
		{11, 5, 3},
		{1, 5, 1},
		{0, 5, 0},
	}
	for _, tc := range cases {
		got, err := DivRoundingUp(uint256.NewInt(tc.a), uint256.NewInt(tc.d))
		if err != nil {
			t.Fatalf("%d/%d: %v", tc.a, tc.d, err)
		}
		if !got.Eq(uint256.NewInt(tc.want)) {
			t.Errorf("%d/%d: got %s want %d", tc.a, tc.d, got, tc.want)
		}
	}
	if _, err := DivRoundingUp(uint256.NewInt(1), uint256.NewInt(0)); !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("expected division by zero, got %v", err)
	}
}

func TestWidthChecks(t *testing.T) {
	if _, err := ToUint128(MaxUint128); err != nil {
		t.Errorf("max uint128 rejected: %v", err)
	}
	over := new(uint256.Int).AddUint64(MaxUint128.Clone(), 1)
	if _, err := ToUint128(over); !errors.Is(err, ErrUint128Overflow) {
		t.Errorf("expected uint128 overflow, got %v", err)
	}

	if _, err := ToUint160(MaxUint160); err != nil {
		t.Errorf("max uint160 rejected: %v", err)
	}
	over = new(uint256.Int).AddUint64(MaxUint160.Clone(), 1)
	if _, err := ToUint160(over); !errors.Is(err, ErrUint160Overflow) {
		t.Errorf("expected uint160 overflow, got %v", err)
	}
}
