package strategy

import (
	sdkmath "cosmossdk.io/math"

	"github.com/purplewavefinance/vault-core/internal/types"
)

// PlatformAdapter is the capability set a strategy needs from its underlying
// yield platform. The strategy never branches on the identity of the
// implementation behind it.
type PlatformAdapter interface {
	// DepositUnderlying stakes want units into the yield position.
	DepositUnderlying(amount sdkmath.Int) error

	// WithdrawUnderlying unstakes up to amount want units and returns what
	// the platform actually honored. Partial fills are normal operation,
	// not errors.
	WithdrawUnderlying(amount sdkmath.Int) (sdkmath.Int, error)

	// EmergencyWithdraw pulls the entire position regardless of limits.
	EmergencyWithdraw() (sdkmath.Int, error)

	// BalanceOfPool reports the want value currently staked.
	BalanceOfPool() sdkmath.Int

	// ClaimRewards harvests pending rewards and returns the claimed amount
	// in reward-token units.
	ClaimRewards() (sdkmath.Int, error)

	// GiveAllowances and RemoveAllowances toggle the platform's spending
	// approval for the strategy's funds.
	GiveAllowances()
	RemoveAllowances()
}

// Swapper converts between token denominations along configured routes.
type Swapper interface {
	// Swap trades amountIn of from into to on the given router and returns
	// the amount received.
	Swap(router, from, to string, amountIn sdkmath.Int) (sdkmath.Int, error)

	// EstimateAmountOut quotes a swap without executing it.
	EstimateAmountOut(router string, amountIn sdkmath.Int, from, to string) (sdkmath.Int, error)
}

// FeeProvider supplies the current harvest fee schedule. Basis points are
// validated by the configurator, not by consumers.
type FeeProvider interface {
	GetFees() types.FeeSchedule
}
