package keeper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/purplewavefinance/vault-core/internal/logger"
	"github.com/purplewavefinance/vault-core/internal/metrics"
	"github.com/purplewavefinance/vault-core/internal/state"
	"github.com/purplewavefinance/vault-core/internal/strategy"
	"github.com/purplewavefinance/vault-core/internal/types"
	"github.com/purplewavefinance/vault-core/internal/vault"
)

// Keeper drives the periodic credit disbursement and harvest cycle for a
// vault and its strategies.
type Keeper struct {
	logger     zerolog.Logger
	vault      *vault.Vault
	strategies []*strategy.Strategy
	keeperID   string

	persist bool

	// Runtime state
	cycleCount int
}

// Config holds the configuration for creating a new Keeper instance
type Config struct {
	Vault      *vault.Vault
	Strategies []*strategy.Strategy
	KeeperID   string

	// Persist controls whether receipts and snapshots are written to the
	// database. Disable for dry runs and tests without Postgres.
	Persist bool
}

// NewKeeper creates a new Keeper instance with dependency injection
func NewKeeper(cfg Config) (*Keeper, error) {
	if err := validateKeeperConfig(cfg); err != nil {
		return nil, fmt.Errorf("keeper configuration validation failed: %w", err)
	}

	k := &Keeper{
		logger:     logger.GetForComponent("keeper"),
		vault:      cfg.Vault,
		strategies: cfg.Strategies,
		keeperID:   cfg.KeeperID,
		persist:    cfg.Persist,
		cycleCount: 0,
	}

	k.logger.Info().
		Str("vault_id", k.vault.ID()).
		Int("strategies", len(k.strategies)).
		Str("keeper_id", k.keeperID).
		Msg("Keeper instance created successfully with dependency injection")

	return k, nil
}

// validateKeeperConfig validates the Keeper configuration
func validateKeeperConfig(cfg Config) error {
	if cfg.Vault == nil {
		return fmt.Errorf("vault cannot be nil")
	}
	if len(cfg.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	if cfg.KeeperID == "" {
		return fmt.Errorf("keeper ID cannot be empty")
	}
	for _, s := range cfg.Strategies {
		if s == nil {
			return fmt.Errorf("strategy cannot be nil")
		}
		if s.VaultID() != cfg.Vault.ID() {
			return fmt.Errorf("strategy %s is bound to vault %s, not %s", s.ID(), s.VaultID(), cfg.Vault.ID())
		}
	}
	return nil
}

// RunLoop starts the main keeper loop with the specified interval
func (k *Keeper) RunLoop(ctx context.Context, interval time.Duration) {
	k.logger.Info().
		Dur("interval", interval).
		Msg("Starting keeper main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	k.cycleCount++
	k.logger.Info().Int("cycle", k.cycleCount).Msg("Initiating harvest cycle")
	k.RunCycle(ctx)
	k.logger.Info().Int("cycle", k.cycleCount).Msg("Harvest cycle completed")

	// Continue with ticker
	for {
		select {
		case <-ctx.Done():
			k.logger.Info().Msg("Keeper loop stopped due to context cancellation")
			return
		case <-ticker.C:
			k.cycleCount++
			k.logger.Info().Int("cycle", k.cycleCount).Msg("Initiating harvest cycle")
			k.RunCycle(ctx)
			k.logger.Info().Int("cycle", k.cycleCount).Msg("Harvest cycle completed")
		}
	}
}

// RunCycle executes one complete credit-and-harvest pass over all strategies
func (k *Keeper) RunCycle(ctx context.Context) {
	cycleStartTime := time.Now()

	// Generate unique cycle ID for tracing logs across the entire cycle
	cycleID := uuid.New().String()
	cycleLogger := k.logger.With().Str("cycle_id", cycleID).Logger()

	cycleLogger.Info().Msg("--- Starting Harvest Cycle ---")

	order := k.cycleOrder()

	// --- Step 1: Disburse pending credit ---
	cycleLogger.Info().Msg("Step 1: Disbursing pending credit to strategies...")
	for _, strat := range order {
		if ctx.Err() != nil {
			cycleLogger.Warn().Msg("Cycle aborted: context cancelled")
			return
		}
		if strat.Paused() {
			cycleLogger.Debug().Str("strategy_id", strat.ID()).Msg("Skipping credit for paused strategy")
			continue
		}

		credited, err := k.vault.DisburseCredit(strat.ID())
		if err != nil {
			cycleLogger.Error().Err(err).Str("strategy_id", strat.ID()).Msg("Failed to disburse credit")
			continue
		}
		if credited.IsPositive() {
			cycleLogger.Info().
				Str("strategy_id", strat.ID()).
				Str("credited", credited.String()).
				Msg("Credit disbursed to strategy")
		}
	}

	// --- Step 2: Harvest each strategy ---
	cycleLogger.Info().Msg("Step 2: Harvesting strategies...")
	for _, strat := range order {
		if ctx.Err() != nil {
			cycleLogger.Warn().Msg("Cycle aborted: context cancelled")
			return
		}

		harvestStart := time.Now()
		receipt, err := strat.Harvest(k.keeperID)
		metrics.Vault().RecordHarvest(strat.ID(), time.Since(harvestStart), err)
		if err != nil {
			cycleLogger.Error().Err(err).Str("strategy_id", strat.ID()).Msg("Harvest failed")
			continue
		}

		receipt.CycleID = cycleID
		cycleLogger.Info().
			Str("strategy_id", strat.ID()).
			Str("harvested", receipt.Harvested.String()).
			Str("roi", receipt.ROI.String()).
			Str("repayment", receipt.Repayment.String()).
			Str("outstanding_debt", receipt.OutstandingDebt.String()).
			Msg("Strategy harvested")

		if k.persist {
			k.saveHarvestReceipt(cycleLogger, receipt)
		}

		if rec, ok := k.vault.StrategyRecord(strat.ID()); ok {
			metrics.Vault().RecordStrategy(strat.ID(), rec.Allocated, rec.Gains, rec.Losses)
		}
	}

	// --- Step 3: Snapshot vault state ---
	cycleLogger.Info().Msg("Step 3: Capturing vault snapshot...")
	snapshot := k.vault.Snapshot()
	snapshot.CycleID = cycleID
	snapshot.CycleNumber = k.nextCycleNumber()
	snapshot.Timestamp = time.Now()

	metrics.Vault().RecordSnapshot(
		snapshot.TotalAssets,
		snapshot.TotalIdle,
		snapshot.TotalAllocated,
		snapshot.LockedProfit,
		snapshot.TotalDebtRatio,
		snapshot.StrategyCount,
	)
	metrics.Vault().RecordPricePerShare(k.vault.PricePerShare())

	if k.persist {
		k.saveVaultSnapshot(cycleLogger, snapshot)
	}

	cycleLogger.Info().
		Str("total_assets", snapshot.TotalAssets.String()).
		Str("total_idle", snapshot.TotalIdle.String()).
		Str("total_allocated", snapshot.TotalAllocated.String()).
		Str("locked_profit", snapshot.LockedProfit.String()).
		Msg("End of Cycle State")

	cycleEndTime := time.Now()
	cycleLogger.Info().Str("cycleDuration", cycleEndTime.Sub(cycleStartTime).String()).Msg("Harvest Cycle Duration")

	cycleLogger.Info().Msg("--- Harvest Cycle Completed Successfully ---")
}

// cycleOrder arranges the configured strategies in the vault's withdrawal
// queue order. Strategies missing from the queue (paused or revoked ones)
// are appended at the end so they still reconcile and repay.
func (k *Keeper) cycleOrder() []*strategy.Strategy {
	byID := make(map[string]*strategy.Strategy, len(k.strategies))
	for _, s := range k.strategies {
		byID[s.ID()] = s
	}

	ordered := make([]*strategy.Strategy, 0, len(k.strategies))
	for _, id := range k.vault.WithdrawalQueue() {
		if s, ok := byID[id]; ok {
			ordered = append(ordered, s)
			delete(byID, id)
		}
	}
	for _, s := range k.strategies {
		if _, ok := byID[s.ID()]; ok {
			ordered = append(ordered, s)
		}
	}
	return ordered
}

// nextCycleNumber increments and returns the persistent cycle counter from database
func (k *Keeper) nextCycleNumber() int {
	if !k.persist {
		return k.cycleCount
	}
	cycleNumber, err := state.IncrementCycleNumber()
	if err != nil {
		k.logger.Error().Err(err).Msg("Failed to increment cycle number, using fallback")
		// Fallback to the in-memory counter if database fails
		return k.cycleCount
	}
	return cycleNumber
}

// saveHarvestReceipt saves the harvest receipt to database
func (k *Keeper) saveHarvestReceipt(cycleLogger zerolog.Logger, receipt types.HarvestReceipt) {
	receiptID, err := state.SaveHarvestReceipt(receipt)
	if err != nil {
		cycleLogger.Error().Err(err).Str("strategy_id", receipt.StrategyID).Msg("Failed to save harvest receipt to database")
		return
	}
	cycleLogger.Info().Int64("receipt_id", receiptID).Msg("Harvest receipt saved successfully")
}

// saveVaultSnapshot saves the vault snapshot to database
func (k *Keeper) saveVaultSnapshot(cycleLogger zerolog.Logger, snapshot types.VaultSnapshot) {
	snapshotID, err := state.SaveVaultSnapshot(snapshot)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to save vault snapshot to database")
		return
	}
	cycleLogger.Info().Int64("snapshot_id", snapshotID).Msg("Vault snapshot saved successfully")
}
