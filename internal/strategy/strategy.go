package strategy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/purplewavefinance/vault-core/internal/fees"
	"github.com/purplewavefinance/vault-core/internal/logger"
	"github.com/purplewavefinance/vault-core/internal/types"
	"github.com/purplewavefinance/vault-core/internal/vault"
)

var (
	ErrNotVault      = errors.New("caller is not the owning vault")
	ErrNotManager    = errors.New("caller is neither manager nor keeper")
	ErrReentrantCall = errors.New("reentrant call into strategy rejected")
)

// Config holds the parameters for creating a new Strategy.
type Config struct {
	ID      string
	Vault   *vault.Vault
	Adapter PlatformAdapter
	Swapper Swapper
	Fees    FeeProvider

	Manager    string
	Keeper     string
	Strategist string

	// BeefyFeeRecipient receives the protocol share of harvest fees.
	BeefyFeeRecipient string

	// RewardToken and NativeToken are the denoms on either side of the fee
	// conversion; Router names the swap route used for both conversions.
	RewardToken string
	NativeToken string
	Router      string

	// Want overrides the pooled-asset denom recorded for this strategy.
	// Defaults to the vault's denom; a mismatch makes registration fail.
	Want string

	// Clock overrides the wall clock, used by tests.
	Clock func() time.Time
}

// Strategy runs a position in one underlying platform for one pooled asset.
// It converts harvested rewards into the pooled asset, computes per-cycle
// ROI and the repayment owed to the vault, and reinvests any surplus.
type Strategy struct {
	mu   sync.Mutex
	busy bool

	logger zerolog.Logger
	now    func() time.Time

	id      string
	want    string
	vaultID string
	vault   *vault.Vault

	adapter PlatformAdapter
	swapper Swapper
	fees    FeeProvider

	manager    string
	keeper     string
	strategist string
	beefyFee   string

	rewardToken string
	nativeToken string
	router      string

	wantBalance sdkmath.Int // idle want held by the strategy
	paused      bool
	lastHarvest time.Time
}

// New creates a Strategy from the given configuration.
func New(cfg Config) (*Strategy, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("strategy configuration validation failed: %w", err)
	}

	want := cfg.Want
	if want == "" {
		want = cfg.Vault.Want()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	s := &Strategy{
		logger:      logger.GetForComponent("strategy").With().Str("strategy_id", cfg.ID).Logger(),
		now:         clock,
		id:          cfg.ID,
		want:        want,
		vaultID:     cfg.Vault.ID(),
		vault:       cfg.Vault,
		adapter:     cfg.Adapter,
		swapper:     cfg.Swapper,
		fees:        cfg.Fees,
		manager:     cfg.Manager,
		keeper:      cfg.Keeper,
		strategist:  cfg.Strategist,
		beefyFee:    cfg.BeefyFeeRecipient,
		rewardToken: cfg.RewardToken,
		nativeToken: cfg.NativeToken,
		router:      cfg.Router,
		wantBalance: sdkmath.ZeroInt(),
	}

	s.adapter.GiveAllowances()
	return s, nil
}

func validateConfig(cfg Config) error {
	if cfg.ID == "" {
		return fmt.Errorf("strategy ID cannot be empty")
	}
	if cfg.Vault == nil {
		return fmt.Errorf("vault cannot be nil")
	}
	if cfg.Adapter == nil {
		return fmt.Errorf("platform adapter cannot be nil")
	}
	if cfg.Swapper == nil {
		return fmt.Errorf("swapper cannot be nil")
	}
	if cfg.Fees == nil {
		return fmt.Errorf("fee provider cannot be nil")
	}
	return nil
}

func (s *Strategy) enter() error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrReentrantCall
	}
	s.busy = true
	return nil
}

func (s *Strategy) exit() {
	s.busy = false
	s.mu.Unlock()
}

// callout runs fn with the mutex released while the busy flag stays set.
// Adapter and swapper calls go through here: a callback reentering the
// strategy fails instead of deadlocking.
func (s *Strategy) callout(fn func()) {
	s.mu.Unlock()
	defer s.mu.Lock()
	fn()
}

// ID returns the strategy identity.
func (s *Strategy) ID() string { return s.id }

// VaultID returns the vault identity this strategy was built against.
func (s *Strategy) VaultID() string { return s.vaultID }

// Want returns the pooled-asset denom this strategy holds and returns.
func (s *Strategy) Want() string { return s.want }

// Harvest claims and converts rewards, reconciles ROI and repayment with the
// vault, and reinvests the surplus. Anyone may call it; the caller earns the
// call fee. Harvesting with nothing to claim is a safe no-op that still
// reconciles.
func (s *Strategy) Harvest(caller string) (types.HarvestReceipt, error) {
	if err := s.enter(); err != nil {
		return types.HarvestReceipt{}, err
	}
	defer s.exit()

	now := s.now()
	receipt := types.HarvestReceipt{
		StrategyID:      s.id,
		Caller:          caller,
		Timestamp:       now,
		Harvested:       sdkmath.ZeroInt(),
		ROI:             sdkmath.ZeroInt(),
		Repayment:       sdkmath.ZeroInt(),
		LiquidationLoss: sdkmath.ZeroInt(),
		OutstandingDebt: sdkmath.ZeroInt(),
		TotalBalance:    sdkmath.ZeroInt(),
		Fees: types.FeeBreakdown{
			Call:       sdkmath.ZeroInt(),
			Beefy:      sdkmath.ZeroInt(),
			Strategist: sdkmath.ZeroInt(),
		},
	}

	if !s.paused {
		var claimed sdkmath.Int
		var claimErr error
		s.callout(func() { claimed, claimErr = s.adapter.ClaimRewards() })
		if claimErr != nil {
			return types.HarvestReceipt{}, fmt.Errorf("claiming rewards failed: %w", claimErr)
		}

		if claimed.IsPositive() {
			breakdown, harvested, err := s.chargeFeesAndConvert(caller, claimed)
			if err != nil {
				return types.HarvestReceipt{}, err
			}
			receipt.Fees = breakdown
			receipt.Harvested = harvested
		}
	}

	// Debt is read before liquidation; the repayment is capped by it.
	available, err := s.vault.AvailableCapital(s.id)
	if err != nil {
		return types.HarvestReceipt{}, fmt.Errorf("reading available capital failed: %w", err)
	}
	debt := available.Neg()
	if debt.IsNegative() {
		debt = sdkmath.ZeroInt()
	}

	allocated, err := s.vault.StrategyAllocation(s.id)
	if err != nil {
		return types.HarvestReceipt{}, fmt.Errorf("reading allocation failed: %w", err)
	}

	roi, repayment, loss, err := s.liquidateRepayment(debt, allocated)
	if err != nil {
		return types.HarvestReceipt{}, err
	}
	receipt.ROI = roi
	receipt.Repayment = repayment
	receipt.LiquidationLoss = loss

	outstanding, err := s.vault.Report(s.id, roi, repayment)
	if err != nil {
		return types.HarvestReceipt{}, fmt.Errorf("vault report failed: %w", err)
	}
	s.wantBalance = s.wantBalance.Sub(repayment) // transferred to the vault
	receipt.OutstandingDebt = outstanding

	if !s.paused {
		if err := s.reinvest(outstanding); err != nil {
			return types.HarvestReceipt{}, err
		}
	}

	s.lastHarvest = now
	receipt.TotalBalance = s.wantBalance.Add(s.adapter.BalanceOfPool())

	s.logger.Info().
		Str("caller", caller).
		Str("netGain", roi.String()).
		Str("totalBalance", receipt.TotalBalance.String()).
		Str("outstandingDebt", outstanding.String()).
		Msg("Harvest completed")

	return receipt, nil
}

// chargeFeesAndConvert converts the fee cut of the claimed rewards to native,
// splits it across the recipients, and converts the remainder to want.
// Assumes the mutex is held.
func (s *Strategy) chargeFeesAndConvert(caller string, claimed sdkmath.Int) (types.FeeBreakdown, sdkmath.Int, error) {
	schedule := s.fees.GetFees()
	breakdown := types.FeeBreakdown{
		Call:       sdkmath.ZeroInt(),
		Beefy:      sdkmath.ZeroInt(),
		Strategist: sdkmath.ZeroInt(),
	}
	harvested := sdkmath.ZeroInt()

	feeInput := fees.TotalCut(schedule, claimed)
	if feeInput.IsPositive() {
		var native sdkmath.Int
		var swapErr error
		s.callout(func() { native, swapErr = s.swapper.Swap(s.router, s.rewardToken, s.nativeToken, feeInput) })
		if swapErr != nil {
			return breakdown, harvested, fmt.Errorf("fee conversion failed: %w", swapErr)
		}
		breakdown = fees.Split(schedule, native)

		s.logger.Info().
			Str("callRecipient", caller).
			Str("callFee", breakdown.Call.String()).
			Str("beefyRecipient", s.beefyFee).
			Str("beefyFee", breakdown.Beefy.String()).
			Str("strategist", s.strategist).
			Str("strategistFee", breakdown.Strategist.String()).
			Msg("Fees charged")
	}

	remaining := claimed.Sub(feeInput)
	if remaining.IsPositive() {
		var wantOut sdkmath.Int
		var swapErr error
		s.callout(func() { wantOut, swapErr = s.swapper.Swap(s.router, s.rewardToken, s.want, remaining) })
		if swapErr != nil {
			return breakdown, harvested, fmt.Errorf("output conversion failed: %w", swapErr)
		}
		s.wantBalance = s.wantBalance.Add(wantOut)
		harvested = wantOut
	}

	return breakdown, harvested, nil
}

// liquidateRepayment computes the cycle's signed ROI and the repayment owed,
// freeing funds from the underlying position as needed. A liquidation
// shortfall is charged against ROI even when it arose from freeing newly
// recorded profit rather than repaying debt. Assumes the mutex is held.
func (s *Strategy) liquidateRepayment(debt, allocated sdkmath.Int) (roi, repayment, loss sdkmath.Int, err error) {
	totalAssets := s.wantBalance.Add(s.adapter.BalanceOfPool())

	roi = sdkmath.ZeroInt()
	toFree := debt
	switch {
	case totalAssets.GT(allocated):
		profit := totalAssets.Sub(allocated)
		toFree = debt.Add(profit)
		roi = profit
	case totalAssets.LT(allocated):
		roi = totalAssets.Sub(allocated)
	}

	freed, liqLoss, err := s.liquidatePosition(toFree)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, sdkmath.Int{}, err
	}

	repayment = sdkmath.MinInt(debt, freed)
	roi = roi.Sub(liqLoss)
	return roi, repayment, liqLoss, nil
}

// liquidatePosition frees up to amountNeeded want units. When the idle
// balance already covers the request no withdrawal happens. A platform
// honoring less than requested is a first-class outcome surfaced as loss,
// never an error; errors are reserved for the adapter itself failing.
// Assumes the mutex is held.
func (s *Strategy) liquidatePosition(amountNeeded sdkmath.Int) (liquidated, loss sdkmath.Int, err error) {
	if !amountNeeded.IsPositive() {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), nil
	}
	if s.wantBalance.GTE(amountNeeded) {
		return amountNeeded, sdkmath.ZeroInt(), nil
	}

	var withdrawn sdkmath.Int
	var werr error
	if s.paused {
		// Paused strategies evacuate the whole position regardless of the
		// requested amount.
		s.callout(func() { withdrawn, werr = s.adapter.EmergencyWithdraw() })
	} else {
		shortfall := amountNeeded.Sub(s.wantBalance)
		s.callout(func() { withdrawn, werr = s.adapter.WithdrawUnderlying(shortfall) })
	}
	if werr != nil {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("underlying withdrawal failed: %w", werr)
	}

	s.wantBalance = s.wantBalance.Add(withdrawn)
	liquidated = sdkmath.MinInt(s.wantBalance, amountNeeded)
	loss = amountNeeded.Sub(liquidated)
	if loss.IsNegative() {
		loss = sdkmath.ZeroInt()
	}
	return liquidated, loss, nil
}

// reinvest deposits everything idle beyond the outstanding debt back into
// the underlying position, leaving exactly the owed amount for the vault to
// claim on its next pull. Assumes the mutex is held.
func (s *Strategy) reinvest(outstanding sdkmath.Int) error {
	if !s.wantBalance.GT(outstanding) {
		return nil
	}
	deposit := s.wantBalance.Sub(outstanding)

	var depErr error
	s.callout(func() { depErr = s.adapter.DepositUnderlying(deposit) })
	if depErr != nil {
		return fmt.Errorf("reinvesting failed: %w", depErr)
	}
	s.wantBalance = s.wantBalance.Sub(deposit)
	return nil
}

// Withdraw liquidates amount want units for the vault and surfaces the
// liquidation loss. The vault decides whether the loss is acceptable; the
// strategy does not enforce the threshold itself.
func (s *Strategy) Withdraw(caller string, amount sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	if err := s.enter(); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	defer s.exit()

	if caller != s.vaultID {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: %s", ErrNotVault, caller)
	}

	freed, loss, err := s.liquidatePosition(amount)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	s.wantBalance = s.wantBalance.Sub(freed) // transferred to the vault

	s.logger.Debug().
		Str("requested", amount.String()).
		Str("freed", freed.String()).
		Str("loss", loss.String()).
		Msg("Vault withdrawal served")

	return freed, loss, nil
}

// ReceiveCredit accepts freshly disbursed capital from the vault.
func (s *Strategy) ReceiveCredit(amount sdkmath.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount.IsNil() || !amount.IsPositive() {
		return
	}
	s.wantBalance = s.wantBalance.Add(amount)
}

// Pause forces the emergency withdrawal path on the next liquidation,
// revokes platform allowances and zeroes this strategy's debt ratio so
// capital planning immediately excludes it.
func (s *Strategy) Pause(caller string) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.exit()

	if caller != s.manager && caller != s.keeper {
		return fmt.Errorf("%w: %s", ErrNotManager, caller)
	}

	s.paused = true
	s.callout(func() { s.adapter.RemoveAllowances() })

	if err := s.vault.SetStrategyDebtRatio(s.id, s.id, 0); err != nil {
		return fmt.Errorf("zeroing debt ratio failed: %w", err)
	}

	s.logger.Warn().Str("caller", caller).Msg("Strategy paused")
	return nil
}

// Unpause restores platform allowances. The vault's debt ratio is not
// restored automatically; re-allocation is an explicit manager decision.
func (s *Strategy) Unpause(caller string) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.exit()

	if caller != s.manager && caller != s.keeper {
		return fmt.Errorf("%w: %s", ErrNotManager, caller)
	}

	s.paused = false
	s.callout(func() { s.adapter.GiveAllowances() })

	s.logger.Info().Str("caller", caller).Msg("Strategy unpaused")
	return nil
}

// Paused reports whether the strategy is paused.
func (s *Strategy) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// LastHarvest returns the time of the last completed harvest.
func (s *Strategy) LastHarvest() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHarvest
}

// BalanceOfWant returns the idle want held by the strategy.
func (s *Strategy) BalanceOfWant() sdkmath.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wantBalance
}

// BalanceOfPool returns the want value staked in the underlying position.
func (s *Strategy) BalanceOfPool() sdkmath.Int {
	return s.adapter.BalanceOfPool()
}

// BalanceOf returns the strategy's total want value, idle plus staked.
func (s *Strategy) BalanceOf() sdkmath.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wantBalance.Add(s.adapter.BalanceOfPool())
}
