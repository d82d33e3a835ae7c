/*

This file contains the depositor-facing side of the vault: share accounting
over the free funds (total assets minus the still-locked profit), deposits
under the TVL cap, and withdrawals that pull from strategies in queue order
when the idle balance cannot cover the request.

*/

package vault

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// Virtual offsets added to totals in every share conversion, hardening the
// first deposit against share-price inflation.
var (
	virtualAssets = sdkmath.OneInt()
	virtualShares = sdkmath.OneInt()
)

// Deposit credits want units to the vault against newly minted shares. Fails
// while the vault is shut down or when the TVL cap would be exceeded.
func (v *Vault) Deposit(depositor string, amount sdkmath.Int) (sdkmath.Int, error) {
	if err := v.enter(); err != nil {
		return sdkmath.Int{}, err
	}
	defer v.exit()

	if v.emergencyShutdown {
		return sdkmath.Int{}, ErrShutdown
	}
	if depositor == "" {
		return sdkmath.Int{}, fmt.Errorf("%w: empty depositor", ErrInvalidAmount)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if !v.tvlCap.IsNil() && v.totalAssets().Add(amount).GT(v.tvlCap) {
		return sdkmath.Int{}, fmt.Errorf("%w: cap %s", ErrTvlCapExceeded, v.tvlCap)
	}

	shares := v.sharesForDeposit(amount)
	v.idle = v.idle.Add(amount)
	v.totalSupply = v.totalSupply.Add(shares)
	balance, ok := v.accounts[depositor]
	if !ok {
		balance = sdkmath.ZeroInt()
	}
	v.accounts[depositor] = balance.Add(shares)

	v.logger.Info().
		Str("depositor", depositor).
		Str("amount", amount.String()).
		Str("shares", shares.String()).
		Str("totalAssets", v.totalAssets().String()).
		Msg("Deposit accepted")

	return shares, nil
}

// WithdrawShares burns shares for want units at the current free-funds share
// price. On idle shortfall, strategies are drained in withdrawal-queue order;
// liquidation losses reduce the payout and are charged against the pulled
// strategy's allocation, and a strategy whose adapter errors is skipped as a
// zero fill. The whole withdrawal fails when the accumulated loss
// exceeds the configured maximum, though any liquidation already performed
// stays reflected in the ledger since slippage at the platform cannot be
// undone.
func (v *Vault) WithdrawShares(depositor string, shares sdkmath.Int) (sdkmath.Int, error) {
	if err := v.enter(); err != nil {
		return sdkmath.Int{}, err
	}
	defer v.exit()

	if shares.IsNil() || !shares.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrInvalidAmount, shares)
	}
	balance, ok := v.accounts[depositor]
	if !ok || balance.LT(shares) {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrInsufficientShares, depositor)
	}

	value := v.shareValue(shares)
	totalLoss := sdkmath.ZeroInt()

	for _, id := range v.withdrawalQueue {
		if !v.idle.LT(value) {
			break
		}
		rec := v.strategies[id]
		shortfall := value.Sub(v.idle)
		need := sdkmath.MinInt(shortfall, rec.Allocated)
		if !need.IsPositive() {
			continue
		}

		handle := v.handles[id]
		var freed, loss sdkmath.Int
		var werr error
		v.callout(func() { freed, loss, werr = handle.Withdraw(v.id, need) })
		if werr != nil {
			// An erroring strategy counts as a zero fill: its ledger entry is
			// untouched and the shortfall falls on the rest of the queue.
			v.logger.Warn().Err(werr).Str("strategy", id).Msg("Strategy withdrawal errored, skipped")
			continue
		}

		v.idle = v.idle.Add(freed)
		drawdown := sdkmath.MinInt(freed.Add(loss), rec.Allocated)
		rec.Allocated = rec.Allocated.Sub(drawdown)
		v.totalAllocated = v.totalAllocated.Sub(drawdown)

		if loss.IsPositive() {
			rec.Losses = rec.Losses.Add(loss)
			value = value.Sub(loss)
			totalLoss = totalLoss.Add(loss)
		}
	}

	// Liquidity the queue could not reach stays allocated; the withdrawer
	// gets what the vault can actually pay.
	if value.GT(v.idle) {
		value = v.idle
	}

	if totalLoss.IsPositive() {
		maxLoss := value.Add(totalLoss).
			MulRaw(int64(v.withdrawMaxLoss)).
			QuoRaw(int64(10_000))
		if totalLoss.GT(maxLoss) {
			return sdkmath.Int{}, fmt.Errorf("%w: loss %s exceeds %s", ErrWithdrawLossTooHigh, totalLoss, maxLoss)
		}
	}

	v.accounts[depositor] = balance.Sub(shares)
	v.totalSupply = v.totalSupply.Sub(shares)
	v.idle = v.idle.Sub(value)

	v.logger.Info().
		Str("depositor", depositor).
		Str("shares", shares.String()).
		Str("value", value.String()).
		Str("loss", totalLoss.String()).
		Str("totalBalance", v.totalAssets().String()).
		Msg("Withdrawal completed")

	return value, nil
}

// BalanceOf returns a depositor's share balance.
func (v *Vault) BalanceOf(depositor string) sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	balance, ok := v.accounts[depositor]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return balance
}

// TotalSupply returns the shares outstanding.
func (v *Vault) TotalSupply() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalSupply
}

// PricePerShare returns the withdrawable value of one share, reflecting
// total assets minus the profit still locked.
func (v *Vault) PricePerShare() sdkmath.LegacyDec {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.totalSupply.IsZero() {
		return sdkmath.LegacyOneDec()
	}
	return sdkmath.LegacyNewDecFromInt(v.freeFunds()).
		Quo(sdkmath.LegacyNewDecFromInt(v.totalSupply))
}

// freeFunds assumes the mutex is held.
func (v *Vault) freeFunds() sdkmath.Int {
	return v.totalAssets().Sub(v.lockedProfitRemaining(v.now()))
}

// sharesForDeposit assumes the mutex is held.
func (v *Vault) sharesForDeposit(amount sdkmath.Int) sdkmath.Int {
	return amount.
		Mul(v.totalSupply.Add(virtualShares)).
		Quo(v.freeFunds().Add(virtualAssets))
}

// shareValue assumes the mutex is held.
func (v *Vault) shareValue(shares sdkmath.Int) sdkmath.Int {
	return shares.
		Mul(v.freeFunds().Add(virtualAssets)).
		Quo(v.totalSupply.Add(virtualShares))
}
