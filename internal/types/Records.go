/*

This file contains the ledger-side records the vault keeps for every strategy
it has ever registered, plus the basis-point constants shared across packages.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

const (
	// MaxBasisPoints is the denominator for every ratio in the system.
	// Debt ratios across all active strategies may never sum past it.
	MaxBasisPoints uint64 = 10_000
)

var (
	// DegradationCoefficient is the fixed-point denominator for the locked
	// profit decay rate. A degradation equal to the coefficient releases all
	// locked profit in one second.
	DegradationCoefficient = sdkmath.NewIntWithDecimal(1, 18)

	// DefaultLockedProfitDegradation releases locked profit linearly over
	// six hours.
	DefaultLockedProfitDegradation = sdkmath.NewIntWithDecimal(1, 18).QuoRaw(6 * 60 * 60)
)

// StrategyRecord is the vault's bookkeeping entry for one strategy.
// Allocated is the vault's view of capital credited to the strategy; it is
// mutated only by the reconciliation path (report, credit disbursement and
// queue withdrawals), never directly.
type StrategyRecord struct {
	ID         string      `json:"id"`
	Activation time.Time   `json:"activation"`  // zero value means "never registered"
	DebtRatio  uint64      `json:"debt_ratio"`  // basis points of total vault assets
	Allocated  sdkmath.Int `json:"allocated"`   // pooled-asset units credited out
	Gains      sdkmath.Int `json:"gains"`       // cumulative realized profit
	Losses     sdkmath.Int `json:"losses"`      // cumulative realized loss
	LastReport time.Time   `json:"last_report"` // last reconciliation for this strategy
	Revoked    bool        `json:"revoked"`     // retired; must still repay Allocated
}

// Registered reports whether the record belongs to a strategy that was ever
// added. The activation timestamp is the sentinel: a zero activation is
// indistinguishable from never-added.
func (r StrategyRecord) Registered() bool {
	return !r.Activation.IsZero()
}

// FeeSchedule is the harvest fee configuration in basis points. Total is the
// fraction of harvested output converted to native before splitting; the
// call/beefy/strategist shares apply to that native amount and need not sum
// to Total.
type FeeSchedule struct {
	Total      uint64 `json:"total"`
	Call       uint64 `json:"call"`
	Beefy      uint64 `json:"beefy"`
	Strategist uint64 `json:"strategist"`
}
