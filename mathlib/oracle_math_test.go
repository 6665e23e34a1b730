// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mathlib

import (
	"errors"
	"testing"
)

func TestOracleTickCumulativeDelta(t *testing.T) {
	half := int64(1) << 55

	cases := []struct {
		name       string
		start, end int64
		want       int64
	}{
		{"forward", 100, 350, 250},
		{"backward", 350, 100, -250},
		{"zero", 42, 42, 0},
		// The 56-bit counter wraps: a tiny forward step across the boundary.
		{"wrap positive", half - 2, -half + 2, 4},
		{"wrap negative", -half + 2, half - 2, -4},
		{"at positive edge", 0, half - 1, half - 1},
		{"at negative edge", 0, -half, -half},
	}
	for _, tc := range cases {
		if got := OracleTickCumulativeDelta(tc.start, tc.end); got != tc.want {
			t.Errorf("%s: got %d want %d", tc.name, got, tc.want)
		}
	}
}

func TestOracleAverageTick(t *testing.T) {
	cases := []struct {
		name      string
		delta     int64
		timeDelta uint32
		want      int64
	}{
		{"exact", 600, 60, 10},
		{"truncates positive", 7, 2, 3},
		{"floors negative", -7, 2, -4},
		{"floors negative exact", -6, 3, -2},
		{"small negative", -1, 100, -1},
	}
	for _, tc := range cases {
		got, err := OracleAverageTick(tc.delta, tc.timeDelta)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("%s: got %d want %d", tc.name, got, tc.want)
		}
	}

	if _, err := OracleAverageTick(7, 0); !errors.Is(err, ErrZeroTimeDelta) {
		t.Errorf("zero window: got %v", err)
	}
}

func TestOracleSqrtPriceX96(t *testing.T) {
	got, err := OracleSqrtPriceX96(0, 600)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Eq(Q96) {
		t.Errorf("zero delta: got %s want %s", got, Q96)
	}

	// avg tick 100 over the window matches the tick bijection directly.
	got, err = OracleSqrtPriceX96(100*600, 600)
	if err != nil {
		t.Fatal(err)
	}
	want, err := SqrtRatioAtTick(100)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Eq(want) {
		t.Errorf("avg tick 100: got %s want %s", got, want)
	}

	if _, err := OracleSqrtPriceX96(int64(MaxTick+1)*600, 600); !errors.Is(err, ErrTickOutOfBounds) {
		t.Errorf("tick above bound: got %v", err)
	}
}
