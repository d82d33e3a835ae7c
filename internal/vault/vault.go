package vault

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/purplewavefinance/vault-core/internal/logger"
	"github.com/purplewavefinance/vault-core/internal/types"
)

// Error definitions for zero-tolerance error handling. Authorization and
// configuration violations abort the whole operation before any mutation.
var (
	ErrShutdown            = errors.New("vault is in emergency shutdown")
	ErrZeroStrategy        = errors.New("strategy identity is zero")
	ErrStrategyExists      = errors.New("strategy is already registered")
	ErrVaultMismatch       = errors.New("strategy vault binding does not match")
	ErrWantMismatch        = errors.New("strategy want binding does not match")
	ErrDebtRatioExceeded   = errors.New("total debt ratio would exceed the maximum")
	ErrUnknownStrategy     = errors.New("strategy is not registered")
	ErrStrategyRevoked     = errors.New("strategy has been revoked")
	ErrEmptyQueue          = errors.New("withdrawal queue cannot be empty")
	ErrDuplicateQueueEntry = errors.New("withdrawal queue contains a duplicate entry")
	ErrInactiveQueueEntry  = errors.New("withdrawal queue entry is not an active strategy")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientShares  = errors.New("share balance is insufficient")
	ErrTvlCapExceeded      = errors.New("deposit would exceed the TVL cap")
	ErrWithdrawLossTooHigh = errors.New("withdrawal loss exceeds the configured maximum")
	ErrInvalidBasisPoints  = errors.New("basis points must not exceed the maximum")
	ErrInvalidDegradation  = errors.New("degradation rate must be positive and at most the coefficient")
	ErrReentrantCall       = errors.New("reentrant call into vault rejected")
	ErrNotManager          = errors.New("caller is not the vault manager")
)

// Config holds the parameters for creating a new Vault.
type Config struct {
	ID      string
	Want    string
	Manager string
	Keeper  string

	// WithdrawMaxLoss is the slippage tolerance, in basis points, for
	// withdrawals that must pull from strategies. Defaults to 100 (1%).
	WithdrawMaxLoss uint64

	// LockedProfitDegradation overrides the default six-hour release rate.
	LockedProfitDegradation sdkmath.Int

	// Clock overrides the wall clock, used by tests to drive decay.
	Clock func() time.Time
}

// Vault owns the pooled-asset ledger: strategy records, debt ratios, the
// withdrawal queue and the locked-profit decay state. Every public operation
// executes as one atomic unit guarded by the vault mutex; the busy flag
// rejects reentrant entry from within a strategy callout.
type Vault struct {
	mu   sync.Mutex
	busy bool

	logger zerolog.Logger
	now    func() time.Time

	id      string
	want    string
	manager string
	keeper  string

	idle        sdkmath.Int // want units held by the vault itself
	totalSupply sdkmath.Int
	accounts    map[string]sdkmath.Int

	strategies      map[string]*types.StrategyRecord
	handles         map[string]Strategy
	withdrawalQueue []string

	totalDebtRatio          uint64
	totalAllocated          sdkmath.Int
	lockedProfit            sdkmath.Int
	lockedProfitDegradation sdkmath.Int
	lastReport              time.Time

	emergencyShutdown bool
	withdrawMaxLoss   uint64
	tvlCap            sdkmath.Int // nil means uncapped
}

// New creates a Vault from the given configuration.
func New(cfg Config) (*Vault, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("vault configuration validation failed: %w", err)
	}

	degradation := cfg.LockedProfitDegradation
	if degradation.IsNil() {
		degradation = types.DefaultLockedProfitDegradation
	}
	withdrawMaxLoss := cfg.WithdrawMaxLoss
	if withdrawMaxLoss == 0 {
		withdrawMaxLoss = 100
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	v := &Vault{
		logger:                  logger.GetForComponent("vault").With().Str("vault_id", cfg.ID).Logger(),
		now:                     clock,
		id:                      cfg.ID,
		want:                    cfg.Want,
		manager:                 cfg.Manager,
		keeper:                  cfg.Keeper,
		idle:                    sdkmath.ZeroInt(),
		totalSupply:             sdkmath.ZeroInt(),
		accounts:                make(map[string]sdkmath.Int),
		strategies:              make(map[string]*types.StrategyRecord),
		handles:                 make(map[string]Strategy),
		totalAllocated:          sdkmath.ZeroInt(),
		lockedProfit:            sdkmath.ZeroInt(),
		lockedProfitDegradation: degradation,
		lastReport:              clock(),
		withdrawMaxLoss:         withdrawMaxLoss,
	}

	v.logger.Info().
		Str("want", cfg.Want).
		Uint64("withdrawMaxLossBps", withdrawMaxLoss).
		Msg("Vault ledger initialized")

	return v, nil
}

func validateConfig(cfg Config) error {
	if cfg.ID == "" {
		return fmt.Errorf("vault ID cannot be empty")
	}
	if cfg.Want == "" {
		return fmt.Errorf("want denom cannot be empty")
	}
	if cfg.WithdrawMaxLoss > types.MaxBasisPoints {
		return ErrInvalidBasisPoints
	}
	if !cfg.LockedProfitDegradation.IsNil() {
		if !cfg.LockedProfitDegradation.IsPositive() || cfg.LockedProfitDegradation.GT(types.DegradationCoefficient) {
			return ErrInvalidDegradation
		}
	}
	return nil
}

// enter serializes a public operation. It returns ErrReentrantCall when
// invoked from within a strategy callout window, where the mutex is released
// but another operation is still in flight.
func (v *Vault) enter() error {
	v.mu.Lock()
	if v.busy {
		v.mu.Unlock()
		return ErrReentrantCall
	}
	v.busy = true
	return nil
}

func (v *Vault) exit() {
	v.busy = false
	v.mu.Unlock()
}

// callout runs fn with the mutex released while the busy flag stays set, so
// any attempt by the callee to reenter the vault fails instead of
// deadlocking. Treat every call into a strategy as a potential reentry point.
func (v *Vault) callout(fn func()) {
	v.mu.Unlock()
	defer v.mu.Lock()
	fn()
}

// requireManager assumes the mutex is held.
func (v *Vault) requireManager(caller string) error {
	if caller != v.manager {
		return fmt.Errorf("%w: %s", ErrNotManager, caller)
	}
	return nil
}

// ID returns the vault identity strategies must bind to.
func (v *Vault) ID() string { return v.id }

// Want returns the pooled-asset denom of the vault.
func (v *Vault) Want() string { return v.want }

// AddStrategy registers a strategy with the given debt ratio, appends it to
// the withdrawal queue and reserves its share of the total debt ratio.
func (v *Vault) AddStrategy(strat Strategy, debtRatio uint64) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()

	if v.emergencyShutdown {
		return ErrShutdown
	}
	if strat == nil || strat.ID() == "" {
		return ErrZeroStrategy
	}
	if _, exists := v.strategies[strat.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrStrategyExists, strat.ID())
	}
	if strat.VaultID() != v.id {
		return fmt.Errorf("%w: strategy is bound to %q", ErrVaultMismatch, strat.VaultID())
	}
	if strat.Want() != v.want {
		return fmt.Errorf("%w: strategy wants %q", ErrWantMismatch, strat.Want())
	}
	if debtRatio+v.totalDebtRatio > types.MaxBasisPoints {
		return fmt.Errorf("%w: %d + %d", ErrDebtRatioExceeded, debtRatio, v.totalDebtRatio)
	}

	now := v.now()
	v.strategies[strat.ID()] = &types.StrategyRecord{
		ID:         strat.ID(),
		Activation: now,
		DebtRatio:  debtRatio,
		Allocated:  sdkmath.ZeroInt(),
		Gains:      sdkmath.ZeroInt(),
		Losses:     sdkmath.ZeroInt(),
		LastReport: now,
	}
	v.handles[strat.ID()] = strat
	v.withdrawalQueue = append(v.withdrawalQueue, strat.ID())
	v.totalDebtRatio += debtRatio

	v.logger.Info().
		Str("strategy", strat.ID()).
		Uint64("debtRatio", debtRatio).
		Uint64("totalDebtRatio", v.totalDebtRatio).
		Msg("Strategy added")

	return nil
}

// SetStrategyDebtRatio changes a strategy's basis-point entitlement. Only the
// manager may set a ratio, except that a strategy may zero its own on pause.
// Setting zero removes the strategy from capital planning without retiring
// it; a revoked strategy cannot be re-ratioed and must be re-added as a new
// identity.
func (v *Vault) SetStrategyDebtRatio(caller, strategyID string, newRatio uint64) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()

	selfZero := caller == strategyID && newRatio == 0
	if !selfZero {
		if err := v.requireManager(caller); err != nil {
			return err
		}
	}

	rec, ok := v.strategies[strategyID]
	if !ok || !rec.Registered() {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, strategyID)
	}
	if rec.Revoked {
		return fmt.Errorf("%w: %s", ErrStrategyRevoked, strategyID)
	}
	if v.totalDebtRatio-rec.DebtRatio+newRatio > types.MaxBasisPoints {
		return fmt.Errorf("%w: %d", ErrDebtRatioExceeded, v.totalDebtRatio-rec.DebtRatio+newRatio)
	}

	v.totalDebtRatio = v.totalDebtRatio - rec.DebtRatio + newRatio
	rec.DebtRatio = newRatio

	v.logger.Info().
		Str("strategy", strategyID).
		Uint64("debtRatio", newRatio).
		Uint64("totalDebtRatio", v.totalDebtRatio).
		Msg("Strategy debt ratio changed")

	return nil
}

// RevokeStrategy retires a strategy: its debt ratio drops to zero and stays
// there. The manager may revoke any strategy and a strategy may revoke
// itself. The record is kept because the strategy must still repay its
// outstanding allocation through subsequent harvests. Revoking an already
// revoked strategy is a harmless no-op.
func (v *Vault) RevokeStrategy(caller, strategyID string) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()

	if caller != strategyID {
		if err := v.requireManager(caller); err != nil {
			return err
		}
	}

	rec, ok := v.strategies[strategyID]
	if !ok || !rec.Registered() {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, strategyID)
	}
	if rec.Revoked {
		return nil
	}

	v.totalDebtRatio -= rec.DebtRatio
	rec.DebtRatio = 0
	rec.Revoked = true

	v.logger.Info().
		Str("strategy", strategyID).
		Str("allocated", rec.Allocated.String()).
		Msg("Strategy revoked")

	return nil
}

// SetWithdrawalQueue replaces the queue wholesale. The caller-supplied order
// defines pull priority on withdrawal shortfall.
func (v *Vault) SetWithdrawalQueue(strategyIDs []string) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()

	if len(strategyIDs) == 0 {
		return ErrEmptyQueue
	}
	seen := make(map[string]struct{}, len(strategyIDs))
	for _, id := range strategyIDs {
		rec, ok := v.strategies[id]
		if !ok || !rec.Registered() || rec.Revoked {
			return fmt.Errorf("%w: %s", ErrInactiveQueueEntry, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateQueueEntry, id)
		}
		seen[id] = struct{}{}
	}

	v.withdrawalQueue = append([]string(nil), strategyIDs...)
	v.logger.Info().Strs("queue", strategyIDs).Msg("Withdrawal queue replaced")
	return nil
}

// AvailableCapital returns the signed difference between a strategy's target
// allocation and what it currently holds. Positive means the strategy may
// draw more capital; negative means it owes the vault the absolute value.
// This is a pure read.
func (v *Vault) AvailableCapital(strategyID string) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, ok := v.strategies[strategyID]
	if !ok || !rec.Registered() {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategyID)
	}
	return v.availableCapital(rec), nil
}

// availableCapital assumes the mutex is held.
func (v *Vault) availableCapital(rec *types.StrategyRecord) sdkmath.Int {
	target := sdkmath.ZeroInt()
	if !v.emergencyShutdown && v.totalDebtRatio != 0 {
		target = v.totalAssets().MulRaw(int64(rec.DebtRatio)).QuoRaw(int64(types.MaxBasisPoints))
	}
	return target.Sub(rec.Allocated)
}

// StrategyAllocation returns the want units currently credited to a strategy.
func (v *Vault) StrategyAllocation(strategyID string) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, ok := v.strategies[strategyID]
	if !ok || !rec.Registered() {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategyID)
	}
	return rec.Allocated, nil
}

// DisburseCredit moves idle capital to a strategy, up to its available
// capital. Called by the keeper ahead of each harvest so reporting itself
// never hands out funds. Returns the amount actually disbursed.
func (v *Vault) DisburseCredit(strategyID string) (sdkmath.Int, error) {
	if err := v.enter(); err != nil {
		return sdkmath.Int{}, err
	}
	defer v.exit()

	rec, ok := v.strategies[strategyID]
	if !ok || !rec.Registered() {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategyID)
	}
	if rec.Revoked {
		return sdkmath.ZeroInt(), nil
	}

	credit := v.availableCapital(rec)
	if !credit.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}
	amount := sdkmath.MinInt(credit, v.idle)
	if !amount.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}

	v.idle = v.idle.Sub(amount)
	rec.Allocated = rec.Allocated.Add(amount)
	v.totalAllocated = v.totalAllocated.Add(amount)

	handle := v.handles[strategyID]
	v.callout(func() { handle.ReceiveCredit(amount) })

	v.logger.Info().
		Str("strategy", strategyID).
		Str("amount", amount.String()).
		Str("allocated", rec.Allocated.String()).
		Msg("Credit disbursed")

	return amount, nil
}

// Report reconciles a strategy's cycle with the ledger. The caller is the
// reporting strategy itself; a report is always about the caller, so an
// unregistered caller is rejected outright. Profit folds back into the
// strategy's allocation before the repayment is considered, losses draw the
// allocation down floored at zero, the repayment returns capital to the idle
// balance, and locked profit decays for the elapsed time before any net-new
// profit is locked. Returns the debt still outstanding after the update,
// which the strategy must repay over subsequent harvests.
func (v *Vault) Report(caller string, roi, repayment sdkmath.Int) (sdkmath.Int, error) {
	if err := v.enter(); err != nil {
		return sdkmath.Int{}, err
	}
	defer v.exit()

	rec, ok := v.strategies[caller]
	if !ok || !rec.Registered() {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, caller)
	}
	if roi.IsNil() {
		roi = sdkmath.ZeroInt()
	}
	if repayment.IsNil() {
		repayment = sdkmath.ZeroInt()
	}
	if repayment.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("%w: repayment %s", ErrInvalidAmount, repayment)
	}

	now := v.now()

	// Release the elapsed share of the previously locked profit before any
	// new profit from this report is locked.
	v.lockedProfit = v.lockedProfitRemaining(now)

	switch {
	case roi.IsPositive():
		rec.Gains = rec.Gains.Add(roi)
		rec.Allocated = rec.Allocated.Add(roi)
		v.totalAllocated = v.totalAllocated.Add(roi)
	case roi.IsNegative():
		loss := roi.Neg()
		rec.Losses = rec.Losses.Add(loss)
		drawdown := sdkmath.MinInt(loss, rec.Allocated)
		rec.Allocated = rec.Allocated.Sub(drawdown)
		v.totalAllocated = v.totalAllocated.Sub(drawdown)
	}

	// The full repayment lands in idle: the strategy has already handed the
	// funds over. Only the allocation drawdown is capped, covering a
	// repayment that exceeds what is still on the books after a loss.
	repaid := sdkmath.MinInt(repayment, rec.Allocated)
	rec.Allocated = rec.Allocated.Sub(repaid)
	v.totalAllocated = v.totalAllocated.Sub(repaid)
	v.idle = v.idle.Add(repayment)

	// Only the net-new, unreleased profit becomes locked: the portion
	// consumed to realize the repayment is already back in the idle balance.
	if roi.IsPositive() {
		locked := roi.Sub(sdkmath.MinInt(roi, repaid))
		v.lockedProfit = v.lockedProfit.Add(locked)
	}

	v.lastReport = now
	rec.LastReport = now

	outstanding := v.availableCapital(rec).Neg()
	if outstanding.IsNegative() {
		outstanding = sdkmath.ZeroInt()
	}

	v.logger.Info().
		Str("strategy", caller).
		Str("roi", roi.String()).
		Str("repayment", repayment.String()).
		Str("allocated", rec.Allocated.String()).
		Str("lockedProfit", v.lockedProfit.String()).
		Str("outstandingDebt", outstanding.String()).
		Msg("Strategy reported")

	return outstanding, nil
}

// totalAssets assumes the mutex is held.
func (v *Vault) totalAssets() sdkmath.Int {
	return v.idle.Add(v.totalAllocated)
}

// lockedProfitRemaining computes the lazily decayed locked profit at the
// given instant. Decay is a function of elapsed wall-clock time since the
// last ledger-wide report; nothing ticks in the background.
func (v *Vault) lockedProfitRemaining(now time.Time) sdkmath.Int {
	if v.lockedProfit.IsZero() {
		return v.lockedProfit
	}
	elapsed := now.Sub(v.lastReport)
	if elapsed <= 0 {
		return v.lockedProfit
	}
	ratio := v.lockedProfitDegradation.MulRaw(int64(elapsed / time.Second))
	if ratio.GTE(types.DegradationCoefficient) {
		return sdkmath.ZeroInt()
	}
	// Computing the remaining side makes truncation err toward release, so
	// the lock hits exactly zero at the end of the degradation window.
	return v.lockedProfit.
		Mul(types.DegradationCoefficient.Sub(ratio)).
		Quo(types.DegradationCoefficient)
}

// SetEmergencyShutdown toggles the shutdown state. The manager or the keeper
// may activate it; only the manager may lift it. While active, deposits and
// new registrations are rejected and every strategy's capital target drops to
// zero, so all strategies are expected to return capital.
func (v *Vault) SetEmergencyShutdown(caller string, active bool) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()

	if active {
		if caller != v.manager && caller != v.keeper {
			return fmt.Errorf("%w: %s", ErrNotManager, caller)
		}
	} else if err := v.requireManager(caller); err != nil {
		return err
	}

	v.emergencyShutdown = active
	v.logger.Warn().Bool("active", active).Msg("Emergency shutdown toggled")
	return nil
}

// SetWithdrawMaxLoss configures the slippage tolerance, in basis points, for
// withdrawals that traverse strategies.
func (v *Vault) SetWithdrawMaxLoss(caller string, bps uint64) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()

	if err := v.requireManager(caller); err != nil {
		return err
	}
	if bps > types.MaxBasisPoints {
		return fmt.Errorf("%w: %d", ErrInvalidBasisPoints, bps)
	}
	v.withdrawMaxLoss = bps
	return nil
}

// SetLockedProfitDegradation configures the per-second locked profit release
// rate as a fraction of the degradation coefficient.
func (v *Vault) SetLockedProfitDegradation(caller string, rate sdkmath.Int) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()

	if err := v.requireManager(caller); err != nil {
		return err
	}
	if rate.IsNil() || !rate.IsPositive() || rate.GT(types.DegradationCoefficient) {
		return ErrInvalidDegradation
	}
	v.lockedProfitDegradation = rate
	return nil
}

// SetTvlCap limits total vault assets; deposits pushing past it are rejected.
func (v *Vault) SetTvlCap(caller string, cap sdkmath.Int) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()

	if err := v.requireManager(caller); err != nil {
		return err
	}
	if cap.IsNil() || !cap.IsPositive() {
		return ErrInvalidAmount
	}
	v.tvlCap = cap
	v.logger.Info().Str("tvlCap", cap.String()).Msg("TVL cap set")
	return nil
}

// RemoveTvlCap lifts the deposit limit.
func (v *Vault) RemoveTvlCap(caller string) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()

	if err := v.requireManager(caller); err != nil {
		return err
	}
	v.tvlCap = sdkmath.Int{}
	v.logger.Info().Msg("TVL cap removed")
	return nil
}

// SetKeeper changes the identity allowed to drive harvest cycles.
func (v *Vault) SetKeeper(caller, keeper string) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()

	if err := v.requireManager(caller); err != nil {
		return err
	}
	v.keeper = keeper
	return nil
}

// Keeper returns the configured keeper identity.
func (v *Vault) Keeper() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.keeper
}

// IsShutdown reports the emergency shutdown state.
func (v *Vault) IsShutdown() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.emergencyShutdown
}

// TotalAssets returns idle plus allocated want units.
func (v *Vault) TotalAssets() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalAssets()
}

// TotalIdle returns the want units held directly by the vault.
func (v *Vault) TotalIdle() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.idle
}

// TotalAllocated returns the want units credited out across all strategies.
func (v *Vault) TotalAllocated() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalAllocated
}

// TotalDebtRatio returns the basis-point sum over all active strategies.
func (v *Vault) TotalDebtRatio() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalDebtRatio
}

// LockedProfit returns the locked profit remaining right now, after lazy
// decay.
func (v *Vault) LockedProfit() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lockedProfitRemaining(v.now())
}

// StrategyRecord returns a copy of the ledger record for a strategy.
func (v *Vault) StrategyRecord(strategyID string) (types.StrategyRecord, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.strategies[strategyID]
	if !ok {
		return types.StrategyRecord{}, false
	}
	return *rec, true
}

// WithdrawalQueue returns a copy of the current pull order.
func (v *Vault) WithdrawalQueue() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.withdrawalQueue...)
}

// Snapshot captures the ledger-wide state for persistence and the dashboard.
func (v *Vault) Snapshot() types.VaultSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	return types.VaultSnapshot{
		Timestamp:      now,
		TotalAssets:    v.totalAssets(),
		TotalIdle:      v.idle,
		TotalAllocated: v.totalAllocated,
		LockedProfit:   v.lockedProfitRemaining(now),
		TotalSupply:    v.totalSupply,
		TotalDebtRatio: v.totalDebtRatio,
		StrategyCount:  len(v.strategies),
	}
}
