/*

This file contains the observation types produced by harvest cycles and vault
operations. Receipts are persisted by the state package and served by the web
dashboard.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// FeeBreakdown is the result of splitting a gross native amount across the
// harvest fee recipients.
type FeeBreakdown struct {
	Call       sdkmath.Int `json:"call"`
	Beefy      sdkmath.Int `json:"beefy"`
	Strategist sdkmath.Int `json:"strategist"`
}

// HarvestReceipt records one completed harvest for one strategy.
type HarvestReceipt struct {
	ReceiptID       int64        `json:"receipt_id,omitempty"` // assigned by the database
	CycleID         string       `json:"cycle_id"`
	StrategyID      string       `json:"strategy_id"`
	Caller          string       `json:"caller"`
	Timestamp       time.Time    `json:"timestamp"`
	Harvested       sdkmath.Int  `json:"harvested"`        // want units realized from rewards
	ROI             sdkmath.Int  `json:"roi"`              // signed per-cycle performance
	Repayment       sdkmath.Int  `json:"repayment"`        // want units returned to the vault
	LiquidationLoss sdkmath.Int  `json:"liquidation_loss"` // shortfall charged against ROI
	OutstandingDebt sdkmath.Int  `json:"outstanding_debt"` // carried to the next cycle
	TotalBalance    sdkmath.Int  `json:"total_balance"`    // strategy want + pool after harvest
	Fees            FeeBreakdown `json:"fees"`
}

// VaultSnapshot captures the ledger-wide state after a keeper cycle.
type VaultSnapshot struct {
	SnapshotID     int64       `json:"snapshot_id,omitempty"`
	CycleID        string      `json:"cycle_id"`
	CycleNumber    int         `json:"cycle_number"`
	Timestamp      time.Time   `json:"timestamp"`
	TotalAssets    sdkmath.Int `json:"total_assets"`
	TotalIdle      sdkmath.Int `json:"total_idle"`
	TotalAllocated sdkmath.Int `json:"total_allocated"`
	LockedProfit   sdkmath.Int `json:"locked_profit"`
	TotalSupply    sdkmath.Int `json:"total_supply"`
	TotalDebtRatio uint64      `json:"total_debt_ratio"`
	StrategyCount  int         `json:"strategy_count"`
}
