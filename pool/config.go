// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pool

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/marginpool/mathlib"
)

var (
	ErrInvalidTokenPair   = errors.New("token pair invalid")
	ErrZeroAddress        = errors.New("zero address")
	ErrInvalidMaintenance = errors.New("maintenance out of range")
	ErrInvalidFee         = errors.New("fee out of range")
	ErrInvalidRewardRate  = errors.New("reward rate out of range")
	ErrInvalidWindow      = errors.New("observation window invalid")
	ErrInvalidRateMax     = errors.New("tick cumulative rate max invalid")
)

// Config carries the immutable parameters of a pool instance.
type Config struct {
	// ID identifies the pool across deployments.
	ID uuid.UUID

	// Address is the pool's own account on the token ledger.
	Address common.Address

	Token0 common.Address
	Token1 common.Address

	// Maintenance is the minimum collateralization ratio in MaintenanceUnit
	// parts, e.g. 250000 for 25%.
	Maintenance uint32

	// Fee is the open/swap fee rate in FeeUnit parts.
	Fee uint32

	// RewardRate sets the size-proportional liquidation incentive escrowed
	// at open, in FeeUnit parts.
	RewardRate uint32

	// SecondsAgo is the TWAP window used for the liquidation safety check.
	SecondsAgo uint32

	// FundingPeriod normalizes funding accrual: debt compounds by
	// 1.0001^(delta/FundingPeriod).
	FundingPeriod uint32

	// TickCumulativeRateMax caps the funding divergence per second elapsed.
	TickCumulativeRateMax int64

	// Now returns unix seconds truncated to u32. Tests inject a fake clock.
	Now func() uint32
}

// DefaultConfig returns a config with the standard parameters: 25%
// maintenance, 0.1% fee, 5% liquidation reward, 12h TWAP window, 7d funding
// period.
func DefaultConfig(address, token0, token1 common.Address) Config {
	return Config{
		ID:                    uuid.New(),
		Address:               address,
		Token0:                token0,
		Token1:                token1,
		Maintenance:           250_000,
		Fee:                   1_000,
		RewardRate:            50_000,
		SecondsAgo:            43_200,
		FundingPeriod:         604_800,
		TickCumulativeRateMax: 920,
		Now:                   unixNow,
	}
}

func unixNow() uint32 {
	return uint32(time.Now().Unix())
}

// Validate checks the config for use. A nil clock is replaced with the
// real one.
func (c *Config) Validate() error {
	if c.Address == (common.Address{}) || c.Token0 == (common.Address{}) || c.Token1 == (common.Address{}) {
		return ErrZeroAddress
	}
	if c.Token0 == c.Token1 {
		return ErrInvalidTokenPair
	}
	if c.Maintenance == 0 || uint64(c.Maintenance) >= mathlib.MaintenanceUnit {
		return ErrInvalidMaintenance
	}
	if uint64(c.Fee) >= mathlib.FeeUnit {
		return ErrInvalidFee
	}
	if uint64(c.RewardRate) >= mathlib.FeeUnit {
		return ErrInvalidRewardRate
	}
	if c.SecondsAgo == 0 || c.FundingPeriod < 2 {
		return ErrInvalidWindow
	}
	if c.TickCumulativeRateMax <= 0 {
		return ErrInvalidRateMax
	}
	if c.Now == nil {
		c.Now = unixNow
	}
	return nil
}
