// ./internal/state/harvest_store.go
package state

import (
	"database/sql"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/purplewavefinance/vault-core/internal/types"
)

/*
This file persists harvest receipts and vault snapshots. All token amounts
are stored as NUMERIC(40, 0) and round-tripped through sdkmath.Int strings
so no precision is lost.
*/

// SaveHarvestReceipt persists a harvest receipt and returns its database id.
func SaveHarvestReceipt(r types.HarvestReceipt) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO harvest_receipts (
			cycle_id, strategy_id, caller, harvested_at,
			harvested, roi, repayment, liquidation_loss,
			outstanding_debt, total_balance,
			call_fee, beefy_fee, strategist_fee
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING receipt_id`

	var receiptID int64
	err := DB.QueryRow(query,
		r.CycleID,
		r.StrategyID,
		r.Caller,
		r.Timestamp,
		r.Harvested.String(),
		r.ROI.String(),
		r.Repayment.String(),
		r.LiquidationLoss.String(),
		r.OutstandingDebt.String(),
		r.TotalBalance.String(),
		r.Fees.Call.String(),
		r.Fees.Beefy.String(),
		r.Fees.Strategist.String(),
	).Scan(&receiptID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert harvest receipt: %w", err)
	}

	log.Debug().
		Int64("receipt_id", receiptID).
		Str("strategy_id", r.StrategyID).
		Msg("Saved harvest receipt")
	return receiptID, nil
}

// GetRecentHarvests returns the most recent harvest receipts, newest first.
func GetRecentHarvests(limit int) ([]types.HarvestReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT receipt_id, cycle_id, strategy_id, caller, harvested_at,
		       harvested, roi, repayment, liquidation_loss,
		       outstanding_debt, total_balance,
		       call_fee, beefy_fee, strategist_fee
		FROM harvest_receipts
		ORDER BY harvested_at DESC
		LIMIT $1`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query harvest receipts: %w", err)
	}
	defer rows.Close()

	var receipts []types.HarvestReceipt
	for rows.Next() {
		var (
			r         types.HarvestReceipt
			harvested string
			roi       string
			repayment string
			liqLoss   string
			outDebt   string
			totalBal  string
			callFee   string
			beefyFee  string
			stratFee  string
		)
		err := rows.Scan(
			&r.ReceiptID, &r.CycleID, &r.StrategyID, &r.Caller, &r.Timestamp,
			&harvested, &roi, &repayment, &liqLoss,
			&outDebt, &totalBal,
			&callFee, &beefyFee, &stratFee,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan harvest receipt row: %w", err)
		}

		r.Harvested, err = parseStoredInt(harvested)
		if err != nil {
			return nil, err
		}
		r.ROI, err = parseStoredInt(roi)
		if err != nil {
			return nil, err
		}
		r.Repayment, err = parseStoredInt(repayment)
		if err != nil {
			return nil, err
		}
		r.LiquidationLoss, err = parseStoredInt(liqLoss)
		if err != nil {
			return nil, err
		}
		r.OutstandingDebt, err = parseStoredInt(outDebt)
		if err != nil {
			return nil, err
		}
		r.TotalBalance, err = parseStoredInt(totalBal)
		if err != nil {
			return nil, err
		}
		r.Fees.Call, err = parseStoredInt(callFee)
		if err != nil {
			return nil, err
		}
		r.Fees.Beefy, err = parseStoredInt(beefyFee)
		if err != nil {
			return nil, err
		}
		r.Fees.Strategist, err = parseStoredInt(stratFee)
		if err != nil {
			return nil, err
		}

		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating harvest receipt rows: %w", err)
	}
	return receipts, nil
}

// GetHarvestsForStrategy returns the most recent receipts for one strategy.
func GetHarvestsForStrategy(strategyID string, limit int) ([]types.HarvestReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT receipt_id, cycle_id, strategy_id, caller, harvested_at,
		       harvested, roi, repayment, liquidation_loss,
		       outstanding_debt, total_balance,
		       call_fee, beefy_fee, strategist_fee
		FROM harvest_receipts
		WHERE strategy_id = $1
		ORDER BY harvested_at DESC
		LIMIT $2`

	rows, err := DB.Query(query, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query harvest receipts for strategy %s: %w", strategyID, err)
	}
	defer rows.Close()

	var receipts []types.HarvestReceipt
	for rows.Next() {
		var (
			r      types.HarvestReceipt
			fields [9]string
		)
		err := rows.Scan(
			&r.ReceiptID, &r.CycleID, &r.StrategyID, &r.Caller, &r.Timestamp,
			&fields[0], &fields[1], &fields[2], &fields[3],
			&fields[4], &fields[5],
			&fields[6], &fields[7], &fields[8],
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan harvest receipt row: %w", err)
		}

		dests := []*sdkmath.Int{
			&r.Harvested, &r.ROI, &r.Repayment, &r.LiquidationLoss,
			&r.OutstandingDebt, &r.TotalBalance,
			&r.Fees.Call, &r.Fees.Beefy, &r.Fees.Strategist,
		}
		for i, dest := range dests {
			*dest, err = parseStoredInt(fields[i])
			if err != nil {
				return nil, err
			}
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating harvest receipt rows: %w", err)
	}
	return receipts, nil
}

// SaveVaultSnapshot persists a vault snapshot and returns its database id.
func SaveVaultSnapshot(s types.VaultSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO vault_snapshots (
			cycle_id, cycle_number, snapshot_timestamp,
			total_assets, total_idle, total_allocated, locked_profit,
			total_supply, total_debt_ratio, strategy_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING snapshot_id`

	var snapshotID int64
	err := DB.QueryRow(query,
		s.CycleID,
		s.CycleNumber,
		s.Timestamp,
		s.TotalAssets.String(),
		s.TotalIdle.String(),
		s.TotalAllocated.String(),
		s.LockedProfit.String(),
		s.TotalSupply.String(),
		s.TotalDebtRatio,
		s.StrategyCount,
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert vault snapshot: %w", err)
	}

	log.Debug().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", s.CycleNumber).
		Msg("Saved vault snapshot")
	return snapshotID, nil
}

// GetRecentSnapshots returns the most recent vault snapshots, newest first.
func GetRecentSnapshots(limit int) ([]types.VaultSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT snapshot_id, cycle_id, cycle_number, snapshot_timestamp,
		       total_assets, total_idle, total_allocated, locked_profit,
		       total_supply, total_debt_ratio, strategy_count
		FROM vault_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT $1`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query vault snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.VaultSnapshot
	for rows.Next() {
		var (
			s              types.VaultSnapshot
			totalAssets    string
			totalIdle      string
			totalAllocated string
			lockedProfit   string
			totalSupply    string
		)
		err := rows.Scan(
			&s.SnapshotID, &s.CycleID, &s.CycleNumber, &s.Timestamp,
			&totalAssets, &totalIdle, &totalAllocated, &lockedProfit,
			&totalSupply, &s.TotalDebtRatio, &s.StrategyCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vault snapshot row: %w", err)
		}

		s.TotalAssets, err = parseStoredInt(totalAssets)
		if err != nil {
			return nil, err
		}
		s.TotalIdle, err = parseStoredInt(totalIdle)
		if err != nil {
			return nil, err
		}
		s.TotalAllocated, err = parseStoredInt(totalAllocated)
		if err != nil {
			return nil, err
		}
		s.LockedProfit, err = parseStoredInt(lockedProfit)
		if err != nil {
			return nil, err
		}
		s.TotalSupply, err = parseStoredInt(totalSupply)
		if err != nil {
			return nil, err
		}

		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vault snapshot rows: %w", err)
	}
	return snapshots, nil
}

// GetLatestSnapshot returns the most recent snapshot, or sql.ErrNoRows if none exist.
func GetLatestSnapshot() (types.VaultSnapshot, error) {
	snapshots, err := GetRecentSnapshots(1)
	if err != nil {
		return types.VaultSnapshot{}, err
	}
	if len(snapshots) == 0 {
		return types.VaultSnapshot{}, sql.ErrNoRows
	}
	return snapshots[0], nil
}

// parseStoredInt converts a NUMERIC column value back into an sdkmath.Int.
// Postgres may render NUMERIC with a leading "+", which sdkmath rejects.
func parseStoredInt(s string) (sdkmath.Int, error) {
	if len(s) > 0 && s[0] == '+' {
		s = s[1:]
	}
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("failed to parse stored amount %q", s)
	}
	return v, nil
}

// TruncateStores removes all persisted rows. Intended for test and reset tooling.
func TruncateStores() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	_, err := DB.Exec(`TRUNCATE harvest_receipts, vault_snapshots RESTART IDENTITY`)
	if err != nil {
		return fmt.Errorf("failed to truncate stores: %w", err)
	}
	_, err = DB.Exec(`UPDATE cycle_counter SET current_cycle = 0, updated_at = CURRENT_TIMESTAMP WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("failed to reset cycle counter: %w", err)
	}
	return nil
}
