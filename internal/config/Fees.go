/*

This file contains the fee configurator: the harvest fee schedule is loaded
from the environment and validated here, so the splitter itself never has to.

*/

package config

import (
	"fmt"

	"github.com/purplewavefinance/vault-core/internal/types"
)

// DefaultFeeSchedule is used when no fee variables are set: a 4.5% cut of
// harvested rewards, split 0.5% to the caller, 3.5% to the protocol treasury
// and 0.5% to the strategist.
var DefaultFeeSchedule = types.FeeSchedule{
	Total:      450,
	Call:       50,
	Beefy:      350,
	Strategist: 50,
}

// Fees is the active harvest fee schedule, set by LoadConfig.
var Fees = DefaultFeeSchedule

// FeeConfigurator hands the active schedule to strategies.
type FeeConfigurator struct{}

// GetFees returns the active harvest fee schedule.
func (FeeConfigurator) GetFees() types.FeeSchedule {
	return Fees
}

// loadFeeConfig reads the optional fee overrides and validates every value
// against the basis-point maximum.
func loadFeeConfig() error {
	schedule := DefaultFeeSchedule

	overrides := []struct {
		key    string
		target *uint64
	}{
		{"FEE_TOTAL_BPS", &schedule.Total},
		{"FEE_CALL_BPS", &schedule.Call},
		{"FEE_BEEFY_BPS", &schedule.Beefy},
		{"FEE_STRATEGIST_BPS", &schedule.Strategist},
	}
	for _, o := range overrides {
		value, err := getEnvAsUint64(o.key)
		if err != nil {
			continue // optional; keep the default
		}
		*o.target = value
	}

	if err := ValidateFeeSchedule(schedule); err != nil {
		return err
	}
	Fees = schedule
	return nil
}

// ValidateFeeSchedule rejects any basis-point value above the maximum.
func ValidateFeeSchedule(schedule types.FeeSchedule) error {
	checks := []struct {
		name  string
		value uint64
	}{
		{"total", schedule.Total},
		{"call", schedule.Call},
		{"beefy", schedule.Beefy},
		{"strategist", schedule.Strategist},
	}
	for _, c := range checks {
		if c.value > types.MaxBasisPoints {
			return fmt.Errorf("fee %s is %d basis points, exceeds %d", c.name, c.value, types.MaxBasisPoints)
		}
	}
	return nil
}
