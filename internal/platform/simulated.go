/*

This file contains an in-process implementation of the platform adapter and
swapper capability sets. It backs the daemon's sim mode and the test suites:
reward drip, withdrawal liquidity limits and swap rates are all configurable
knobs, so partial fills and slippage can be exercised deterministically.

*/

package platform

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/purplewavefinance/vault-core/internal/logger"
)

var (
	ErrNoAllowance  = errors.New("platform allowance not given")
	ErrUnknownRoute = errors.New("no swap route configured")
)

// Simulated is a deterministic yield platform. It stakes want units, drips
// rewards on demand, and honors withdrawals only up to a configurable
// per-call liquidity limit.
type Simulated struct {
	mu sync.Mutex

	logger zerolog.Logger

	staked         sdkmath.Int
	pendingRewards sdkmath.Int

	// withdrawLimit caps a single WithdrawUnderlying call; nil means
	// unlimited. EmergencyWithdraw ignores it.
	withdrawLimit sdkmath.Int

	// swapRates maps "from->to" to a basis-point rate: out = in * rate / 10000.
	swapRates map[string]uint64

	allowed bool
}

// NewSimulated creates a platform with no stake, no pending rewards and no
// withdrawal limit.
func NewSimulated(name string) *Simulated {
	return &Simulated{
		logger:         logger.GetForComponent("platform").With().Str("platform", name).Logger(),
		staked:         sdkmath.ZeroInt(),
		pendingRewards: sdkmath.ZeroInt(),
		swapRates:      make(map[string]uint64),
	}
}

// DripRewards queues reward tokens for the next ClaimRewards call.
func (p *Simulated) DripRewards(amount sdkmath.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if amount.IsNil() || !amount.IsPositive() {
		return
	}
	p.pendingRewards = p.pendingRewards.Add(amount)
}

// SetWithdrawLimit caps how much a single withdrawal can return. Pass a nil
// Int to lift the cap.
func (p *Simulated) SetWithdrawLimit(limit sdkmath.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.withdrawLimit = limit
}

// Slash marks the stake down by amount, floored at zero, modeling a loss at
// the platform itself.
func (p *Simulated) Slash(amount sdkmath.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if amount.IsNil() || !amount.IsPositive() {
		return
	}
	p.staked = sdkmath.MaxInt(p.staked.Sub(amount), sdkmath.ZeroInt())
}

// SetSwapRate configures the basis-point conversion rate for a route.
func (p *Simulated) SetSwapRate(from, to string, bps uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.swapRates[from+"->"+to] = bps
}

// DepositUnderlying stakes want units into the position.
func (p *Simulated) DepositUnderlying(amount sdkmath.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.allowed {
		return ErrNoAllowance
	}
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("invalid deposit amount: %s", amount)
	}
	p.staked = p.staked.Add(amount)
	return nil
}

// WithdrawUnderlying unstakes up to amount, bounded by the stake and the
// configured liquidity limit. Returning less than requested is normal.
func (p *Simulated) WithdrawUnderlying(amount sdkmath.Int) (sdkmath.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if amount.IsNil() || amount.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("invalid withdrawal amount: %s", amount)
	}

	actual := sdkmath.MinInt(amount, p.staked)
	if !p.withdrawLimit.IsNil() {
		actual = sdkmath.MinInt(actual, p.withdrawLimit)
	}
	p.staked = p.staked.Sub(actual)

	p.logger.Debug().
		Str("requested", amount.String()).
		Str("honored", actual.String()).
		Msg("Withdrawal served")

	return actual, nil
}

// EmergencyWithdraw returns the entire stake, ignoring the liquidity limit.
func (p *Simulated) EmergencyWithdraw() (sdkmath.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	all := p.staked
	p.staked = sdkmath.ZeroInt()
	return all, nil
}

// BalanceOfPool reports the current stake.
func (p *Simulated) BalanceOfPool() sdkmath.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.staked
}

// ClaimRewards drains the pending reward balance and returns it.
func (p *Simulated) ClaimRewards() (sdkmath.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	claimed := p.pendingRewards
	p.pendingRewards = sdkmath.ZeroInt()
	return claimed, nil
}

// GiveAllowances enables deposits.
func (p *Simulated) GiveAllowances() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowed = true
}

// RemoveAllowances disables deposits.
func (p *Simulated) RemoveAllowances() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowed = false
}

// Swap converts amountIn along a configured route.
func (p *Simulated) Swap(router, from, to string, amountIn sdkmath.Int) (sdkmath.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quote(amountIn, from, to)
}

// EstimateAmountOut quotes a swap without executing it.
func (p *Simulated) EstimateAmountOut(router string, amountIn sdkmath.Int, from, to string) (sdkmath.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quote(amountIn, from, to)
}

// quote assumes the mutex is held.
func (p *Simulated) quote(amountIn sdkmath.Int, from, to string) (sdkmath.Int, error) {
	if from == to {
		return amountIn, nil
	}
	rate, ok := p.swapRates[from+"->"+to]
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("%w: %s -> %s", ErrUnknownRoute, from, to)
	}
	if amountIn.IsNil() || !amountIn.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}
	return amountIn.MulRaw(int64(rate)).QuoRaw(10_000), nil
}
