package platform

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositRequiresAllowance(t *testing.T) {
	p := NewSimulated("p1")

	err := p.DepositUnderlying(sdkmath.NewInt(100))
	assert.ErrorIs(t, err, ErrNoAllowance)

	p.GiveAllowances()
	require.NoError(t, p.DepositUnderlying(sdkmath.NewInt(100)))
	assert.Equal(t, int64(100), p.BalanceOfPool().Int64())

	p.RemoveAllowances()
	assert.ErrorIs(t, p.DepositUnderlying(sdkmath.NewInt(1)), ErrNoAllowance)
}

func TestWithdrawHonorsLimit(t *testing.T) {
	p := NewSimulated("p1")
	p.GiveAllowances()
	require.NoError(t, p.DepositUnderlying(sdkmath.NewInt(1_000)))

	// Unlimited: a request past the stake returns the whole stake.
	got, err := p.WithdrawUnderlying(sdkmath.NewInt(2_000))
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), got.Int64())
	assert.True(t, p.BalanceOfPool().IsZero())

	require.NoError(t, p.DepositUnderlying(sdkmath.NewInt(1_000)))
	p.SetWithdrawLimit(sdkmath.NewInt(300))

	got, err = p.WithdrawUnderlying(sdkmath.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.Int64())
	assert.Equal(t, int64(700), p.BalanceOfPool().Int64())

	// Emergency withdrawal ignores the limit entirely.
	got, err = p.EmergencyWithdraw()
	require.NoError(t, err)
	assert.Equal(t, int64(700), got.Int64())
	assert.True(t, p.BalanceOfPool().IsZero())
}

func TestSlashReducesStake(t *testing.T) {
	p := NewSimulated("p1")
	p.GiveAllowances()
	require.NoError(t, p.DepositUnderlying(sdkmath.NewInt(500)))

	p.Slash(sdkmath.NewInt(400))
	assert.Equal(t, int64(100), p.BalanceOfPool().Int64())

	// Slashing past the stake floors at zero; non-positive amounts are ignored.
	p.Slash(sdkmath.NewInt(1_000))
	assert.True(t, p.BalanceOfPool().IsZero())
	p.Slash(sdkmath.NewInt(-5))
	assert.True(t, p.BalanceOfPool().IsZero())
}

func TestClaimRewardsDrainsPending(t *testing.T) {
	p := NewSimulated("p1")

	got, err := p.ClaimRewards()
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	p.DripRewards(sdkmath.NewInt(40))
	p.DripRewards(sdkmath.NewInt(2))
	p.DripRewards(sdkmath.NewInt(-7)) // ignored

	got, err = p.ClaimRewards()
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Int64())

	got, err = p.ClaimRewards()
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestSwapRoutes(t *testing.T) {
	p := NewSimulated("p1")
	p.SetSwapRate("ureward", "uusdc", 9_500)

	out, err := p.Swap("router1", "ureward", "uusdc", sdkmath.NewInt(1_000))
	require.NoError(t, err)
	assert.Equal(t, int64(950), out.Int64())

	// Quotes match execution.
	quoted, err := p.EstimateAmountOut("router1", sdkmath.NewInt(1_000), "ureward", "uusdc")
	require.NoError(t, err)
	assert.Equal(t, out, quoted)

	// Identity swaps pass through without a configured route.
	out, err = p.Swap("router1", "uusdc", "uusdc", sdkmath.NewInt(123))
	require.NoError(t, err)
	assert.Equal(t, int64(123), out.Int64())

	_, err = p.Swap("router1", "uusdc", "uatom", sdkmath.NewInt(1))
	assert.ErrorIs(t, err, ErrUnknownRoute)
}
