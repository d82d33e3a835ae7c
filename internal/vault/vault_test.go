package vault

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purplewavefinance/vault-core/internal/types"
)

// stubStrategy satisfies the Strategy interface for ledger tests without
// involving a real platform.
type stubStrategy struct {
	id      string
	vaultID string
	want    string

	received sdkmath.Int

	// withdrawFn overrides Withdraw; nil means "free exactly what was asked".
	withdrawFn func(amount sdkmath.Int) (sdkmath.Int, sdkmath.Int, error)
}

func (s *stubStrategy) ID() string      { return s.id }
func (s *stubStrategy) VaultID() string { return s.vaultID }
func (s *stubStrategy) Want() string    { return s.want }

func (s *stubStrategy) ReceiveCredit(amount sdkmath.Int) {
	s.received = s.received.Add(amount)
}

func (s *stubStrategy) Withdraw(caller string, amount sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	if s.withdrawFn != nil {
		return s.withdrawFn(amount)
	}
	return amount, sdkmath.ZeroInt(), nil
}

// testClock is a manually advanced wall clock.
type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestVault(t *testing.T, clock *testClock) *Vault {
	t.Helper()
	v, err := New(Config{
		ID:      "vault1",
		Want:    "uusdc",
		Manager: "manager1",
		Keeper:  "keeper1",
		Clock:   clock.Now,
	})
	require.NoError(t, err)
	return v
}

func newStub(id string) *stubStrategy {
	return &stubStrategy{id: id, vaultID: "vault1", want: "uusdc", received: sdkmath.ZeroInt()}
}

func TestAddStrategy(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)

	strat := newStub("strat1")
	require.NoError(t, v.AddStrategy(strat, 5_000))

	rec, ok := v.StrategyRecord("strat1")
	require.True(t, ok)
	assert.Equal(t, uint64(5_000), rec.DebtRatio)
	assert.True(t, rec.Allocated.IsZero())
	assert.False(t, rec.Revoked)
	assert.True(t, rec.Registered())
	assert.Equal(t, []string{"strat1"}, v.WithdrawalQueue())
	assert.Equal(t, uint64(5_000), v.TotalDebtRatio())
}

func TestAddStrategyValidation(t *testing.T) {
	clock := newTestClock()

	t.Run("rejects duplicate registration", func(t *testing.T) {
		v := newTestVault(t, clock)
		require.NoError(t, v.AddStrategy(newStub("strat1"), 1_000))
		err := v.AddStrategy(newStub("strat1"), 1_000)
		assert.ErrorIs(t, err, ErrStrategyExists)
	})

	t.Run("rejects vault mismatch", func(t *testing.T) {
		v := newTestVault(t, clock)
		strat := newStub("strat1")
		strat.vaultID = "othervault"
		err := v.AddStrategy(strat, 1_000)
		assert.ErrorIs(t, err, ErrVaultMismatch)
	})

	t.Run("rejects want mismatch", func(t *testing.T) {
		v := newTestVault(t, clock)
		strat := newStub("strat1")
		strat.want = "uatom"
		err := v.AddStrategy(strat, 1_000)
		assert.ErrorIs(t, err, ErrWantMismatch)
	})

	t.Run("rejects nil and empty-id strategies", func(t *testing.T) {
		v := newTestVault(t, clock)
		assert.ErrorIs(t, v.AddStrategy(nil, 1_000), ErrZeroStrategy)
		assert.ErrorIs(t, v.AddStrategy(newStub(""), 1_000), ErrZeroStrategy)
	})

	t.Run("rejects registration during shutdown", func(t *testing.T) {
		v := newTestVault(t, clock)
		require.NoError(t, v.SetEmergencyShutdown("manager1", true))
		assert.ErrorIs(t, v.AddStrategy(newStub("strat1"), 1_000), ErrShutdown)
	})
}

func TestDebtRatioBudget(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)

	require.NoError(t, v.AddStrategy(newStub("strat1"), 6_000))
	require.NoError(t, v.AddStrategy(newStub("strat2"), 4_000))
	assert.Equal(t, types.MaxBasisPoints, v.TotalDebtRatio())

	// A single extra basis point over the budget is rejected.
	err := v.AddStrategy(newStub("strat3"), 1)
	assert.ErrorIs(t, err, ErrDebtRatioExceeded)

	// Re-ratioing an existing strategy past the budget is rejected too.
	err = v.SetStrategyDebtRatio("manager1", "strat2", 4_001)
	assert.ErrorIs(t, err, ErrDebtRatioExceeded)

	// Freeing headroom makes the same 1-bps registration succeed.
	require.NoError(t, v.SetStrategyDebtRatio("manager1", "strat2", 3_999))
	assert.NoError(t, v.AddStrategy(newStub("strat3"), 1))
	assert.Equal(t, types.MaxBasisPoints, v.TotalDebtRatio())
}

func TestSetStrategyDebtRatio(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)
	require.NoError(t, v.AddStrategy(newStub("strat1"), 5_000))

	// Zero ratio removes the strategy from planning but keeps it active.
	require.NoError(t, v.SetStrategyDebtRatio("manager1", "strat1", 0))
	rec, ok := v.StrategyRecord("strat1")
	require.True(t, ok)
	assert.Equal(t, uint64(0), rec.DebtRatio)
	assert.False(t, rec.Revoked)
	assert.Equal(t, uint64(0), v.TotalDebtRatio())

	// A zeroed strategy can be re-ratioed later.
	require.NoError(t, v.SetStrategyDebtRatio("manager1", "strat1", 2_500))
	assert.Equal(t, uint64(2_500), v.TotalDebtRatio())

	// Unknown strategies are rejected.
	err := v.SetStrategyDebtRatio("manager1", "ghost", 100)
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestRevokeStrategy(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)
	require.NoError(t, v.AddStrategy(newStub("strat1"), 5_000))

	require.NoError(t, v.RevokeStrategy("manager1", "strat1"))
	rec, _ := v.StrategyRecord("strat1")
	assert.True(t, rec.Revoked)
	assert.Equal(t, uint64(0), rec.DebtRatio)
	assert.Equal(t, uint64(0), v.TotalDebtRatio())

	// Revoking again is a harmless no-op.
	assert.NoError(t, v.RevokeStrategy("manager1", "strat1"))

	// A revoked strategy cannot be re-ratioed.
	err := v.SetStrategyDebtRatio("manager1", "strat1", 1_000)
	assert.ErrorIs(t, err, ErrStrategyRevoked)

	// A revoked strategy cannot re-enter the withdrawal queue.
	err = v.SetWithdrawalQueue([]string{"strat1"})
	assert.ErrorIs(t, err, ErrInactiveQueueEntry)
}

func TestSetWithdrawalQueue(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)
	require.NoError(t, v.AddStrategy(newStub("strat1"), 3_000))
	require.NoError(t, v.AddStrategy(newStub("strat2"), 3_000))

	assert.ErrorIs(t, v.SetWithdrawalQueue(nil), ErrEmptyQueue)
	assert.ErrorIs(t, v.SetWithdrawalQueue([]string{"strat1", "strat1"}), ErrDuplicateQueueEntry)
	assert.ErrorIs(t, v.SetWithdrawalQueue([]string{"ghost"}), ErrInactiveQueueEntry)

	require.NoError(t, v.SetWithdrawalQueue([]string{"strat2", "strat1"}))
	assert.Equal(t, []string{"strat2", "strat1"}, v.WithdrawalQueue())
}

func TestDisburseCredit(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)
	strat := newStub("strat1")
	require.NoError(t, v.AddStrategy(strat, 5_000))

	_, err := v.Deposit("alice", sdkmath.NewInt(1_000))
	require.NoError(t, err)

	// Target is 50% of total assets; all of it comes from idle.
	credited, err := v.DisburseCredit("strat1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), credited.Int64())
	assert.Equal(t, int64(500), strat.received.Int64())
	assert.Equal(t, int64(500), v.TotalIdle().Int64())
	assert.Equal(t, int64(500), v.TotalAllocated().Int64())
	assert.Equal(t, int64(1_000), v.TotalAssets().Int64())

	// At target, a second disbursement hands out nothing.
	credited, err = v.DisburseCredit("strat1")
	require.NoError(t, err)
	assert.True(t, credited.IsZero())

	// A revoked strategy never receives credit.
	require.NoError(t, v.RevokeStrategy("manager1", "strat1"))
	credited, err = v.DisburseCredit("strat1")
	require.NoError(t, err)
	assert.True(t, credited.IsZero())
}

func TestDisburseCreditBoundedByIdle(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)
	require.NoError(t, v.AddStrategy(newStub("strat1"), 5_000))
	require.NoError(t, v.AddStrategy(newStub("strat2"), 5_000))

	_, err := v.Deposit("alice", sdkmath.NewInt(1_000))
	require.NoError(t, err)
	_, err = v.DisburseCredit("strat1")
	require.NoError(t, err)
	_, err = v.DisburseCredit("strat2")
	require.NoError(t, err)
	assert.True(t, v.TotalIdle().IsZero())

	// A loss on strat1 reopens its capital target, but with nothing idle
	// the vault has nothing to hand out.
	_, err = v.Report("strat1", sdkmath.NewInt(-200), sdkmath.ZeroInt())
	require.NoError(t, err)
	available, err := v.AvailableCapital("strat1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), available.Int64())

	credited, err := v.DisburseCredit("strat1")
	require.NoError(t, err)
	assert.True(t, credited.IsZero())
}

func TestReportProfit(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)
	strat := newStub("strat1")
	require.NoError(t, v.AddStrategy(strat, 5_000))
	_, err := v.Deposit("alice", sdkmath.NewInt(1_000))
	require.NoError(t, err)
	_, err = v.DisburseCredit("strat1")
	require.NoError(t, err)

	outstanding, err := v.Report("strat1", sdkmath.NewInt(100), sdkmath.ZeroInt())
	require.NoError(t, err)

	rec, _ := v.StrategyRecord("strat1")
	assert.Equal(t, int64(100), rec.Gains.Int64())
	assert.Equal(t, int64(600), rec.Allocated.Int64())
	assert.Equal(t, int64(600), v.TotalAllocated().Int64())
	assert.Equal(t, int64(1_100), v.TotalAssets().Int64())
	assert.Equal(t, int64(100), v.LockedProfit().Int64())

	// Target is now 550 against 600 allocated: 50 outstanding.
	assert.Equal(t, int64(50), outstanding.Int64())
}

func TestReportRepayment(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)
	strat := newStub("strat1")
	require.NoError(t, v.AddStrategy(strat, 5_000))
	_, err := v.Deposit("alice", sdkmath.NewInt(1_000))
	require.NoError(t, err)
	_, err = v.DisburseCredit("strat1")
	require.NoError(t, err)
	_, err = v.Report("strat1", sdkmath.NewInt(100), sdkmath.ZeroInt())
	require.NoError(t, err)

	outstanding, err := v.Report("strat1", sdkmath.ZeroInt(), sdkmath.NewInt(50))
	require.NoError(t, err)
	assert.True(t, outstanding.IsZero())

	rec, _ := v.StrategyRecord("strat1")
	assert.Equal(t, int64(550), rec.Allocated.Int64())
	assert.Equal(t, int64(550), v.TotalIdle().Int64())
	assert.Equal(t, int64(1_100), v.TotalAssets().Int64())
}

func TestReportRepaymentCappedByAllocation(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)
	strat := newStub("strat1")
	require.NoError(t, v.AddStrategy(strat, 5_000))
	_, err := v.Deposit("alice", sdkmath.NewInt(1_000))
	require.NoError(t, err)
	_, err = v.DisburseCredit("strat1")
	require.NoError(t, err)

	// A repayment larger than the allocation still lands in idle in full;
	// only the allocation drawdown stops at zero.
	_, err = v.Report("strat1", sdkmath.ZeroInt(), sdkmath.NewInt(600))
	require.NoError(t, err)

	rec, _ := v.StrategyRecord("strat1")
	assert.True(t, rec.Allocated.IsZero())
	assert.Equal(t, int64(1_100), v.TotalIdle().Int64())
	assert.Equal(t, int64(1_100), v.TotalAssets().Int64())
}

func TestReportLossWithRepaymentConservesAssets(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)
	strat := newStub("strat1")
	require.NoError(t, v.AddStrategy(strat, 5_000))
	_, err := v.Deposit("alice", sdkmath.NewInt(1_000))
	require.NoError(t, err)
	_, err = v.DisburseCredit("strat1")
	require.NoError(t, err)

	// A crash wipes most of the position and liquidation only frees 100,
	// all of which is handed back. The loss floors the allocation at zero,
	// but the repaid units must still reach the idle balance: the vault
	// keeps 500 idle plus the 100 returned.
	_, err = v.Report("strat1", sdkmath.NewInt(-800), sdkmath.NewInt(100))
	require.NoError(t, err)

	rec, _ := v.StrategyRecord("strat1")
	assert.Equal(t, int64(800), rec.Losses.Int64())
	assert.True(t, rec.Allocated.IsZero())
	assert.True(t, v.TotalAllocated().IsZero())
	assert.Equal(t, int64(600), v.TotalIdle().Int64())
	assert.Equal(t, int64(600), v.TotalAssets().Int64())
}

func TestReportLossFlooredAtZero(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)
	strat := newStub("strat1")
	require.NoError(t, v.AddStrategy(strat, 5_000))
	_, err := v.Deposit("alice", sdkmath.NewInt(1_000))
	require.NoError(t, err)
	_, err = v.DisburseCredit("strat1")
	require.NoError(t, err)

	// Loss larger than the allocation: drawdown stops at zero, the full
	// loss is still recorded against the strategy's history.
	_, err = v.Report("strat1", sdkmath.NewInt(-700), sdkmath.ZeroInt())
	require.NoError(t, err)

	rec, _ := v.StrategyRecord("strat1")
	assert.Equal(t, int64(700), rec.Losses.Int64())
	assert.True(t, rec.Allocated.IsZero())
	assert.True(t, v.TotalAllocated().IsZero())
	assert.Equal(t, int64(500), v.TotalAssets().Int64())
	assert.True(t, v.LockedProfit().IsZero())
}

func TestReportRejectsNegativeRepayment(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)
	require.NoError(t, v.AddStrategy(newStub("strat1"), 5_000))
	_, err := v.Report("strat1", sdkmath.ZeroInt(), sdkmath.NewInt(-1))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = v.Report("ghost", sdkmath.ZeroInt(), sdkmath.ZeroInt())
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestLockedProfitDecay(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)
	strat := newStub("strat1")
	require.NoError(t, v.AddStrategy(strat, 10_000))
	_, err := v.Deposit("alice", sdkmath.NewInt(1_000))
	require.NoError(t, err)
	_, err = v.DisburseCredit("strat1")
	require.NoError(t, err)

	_, err = v.Report("strat1", sdkmath.NewInt(600), sdkmath.ZeroInt())
	require.NoError(t, err)
	assert.Equal(t, int64(600), v.LockedProfit().Int64())

	// Default degradation releases linearly over six hours.
	clock.Advance(3 * time.Hour)
	assert.Equal(t, int64(300), v.LockedProfit().Int64())

	clock.Advance(3 * time.Hour)
	assert.True(t, v.LockedProfit().IsZero())

	// Decay never goes negative, no matter how much time passes.
	clock.Advance(100 * time.Hour)
	assert.True(t, v.LockedProfit().IsZero())
}

func TestLockedProfitDecaysBeforeNewProfitLocks(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)
	strat := newStub("strat1")
	require.NoError(t, v.AddStrategy(strat, 10_000))
	_, err := v.Deposit("alice", sdkmath.NewInt(1_000))
	require.NoError(t, err)
	_, err = v.DisburseCredit("strat1")
	require.NoError(t, err)

	_, err = v.Report("strat1", sdkmath.NewInt(600), sdkmath.ZeroInt())
	require.NoError(t, err)

	// Half the lock has decayed when the next report lands; only the
	// remainder plus the new profit is locked afterwards.
	clock.Advance(3 * time.Hour)
	_, err = v.Report("strat1", sdkmath.NewInt(100), sdkmath.ZeroInt())
	require.NoError(t, err)
	assert.Equal(t, int64(400), v.LockedProfit().Int64())
}

func TestReportProfitConsumedByRepaymentIsNotLocked(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)
	strat := newStub("strat1")
	require.NoError(t, v.AddStrategy(strat, 5_000))
	_, err := v.Deposit("alice", sdkmath.NewInt(1_000))
	require.NoError(t, err)
	_, err = v.DisburseCredit("strat1")
	require.NoError(t, err)

	// Profit of 100 with a simultaneous repayment of 60: only the 40 that
	// stayed with the strategy is locked.
	_, err = v.Report("strat1", sdkmath.NewInt(100), sdkmath.NewInt(60))
	require.NoError(t, err)
	assert.Equal(t, int64(40), v.LockedProfit().Int64())

	rec, _ := v.StrategyRecord("strat1")
	assert.Equal(t, int64(540), rec.Allocated.Int64())
	assert.Equal(t, int64(560), v.TotalIdle().Int64())
}

func TestEmergencyShutdownZeroesTargets(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)
	strat := newStub("strat1")
	require.NoError(t, v.AddStrategy(strat, 5_000))
	_, err := v.Deposit("alice", sdkmath.NewInt(1_000))
	require.NoError(t, err)
	_, err = v.DisburseCredit("strat1")
	require.NoError(t, err)

	require.NoError(t, v.SetEmergencyShutdown("manager1", true))

	// The full allocation becomes outstanding debt.
	available, err := v.AvailableCapital("strat1")
	require.NoError(t, err)
	assert.Equal(t, int64(-500), available.Int64())

	// No fresh credit while shut down.
	credited, err := v.DisburseCredit("strat1")
	require.NoError(t, err)
	assert.True(t, credited.IsZero())

	// Reports still reconcile so strategies can wind the debt down.
	outstanding, err := v.Report("strat1", sdkmath.ZeroInt(), sdkmath.NewInt(500))
	require.NoError(t, err)
	assert.True(t, outstanding.IsZero())
	assert.Equal(t, int64(1_000), v.TotalIdle().Int64())

	// Lifting the shutdown restores capital planning.
	require.NoError(t, v.SetEmergencyShutdown("manager1", false))
	credited, err = v.DisburseCredit("strat1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), credited.Int64())
}

func TestSetLockedProfitDegradationValidation(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)

	assert.ErrorIs(t, v.SetLockedProfitDegradation("manager1", sdkmath.ZeroInt()), ErrInvalidDegradation)
	assert.ErrorIs(t, v.SetLockedProfitDegradation("manager1", sdkmath.NewInt(-1)), ErrInvalidDegradation)
	assert.ErrorIs(t, v.SetLockedProfitDegradation("manager1", types.DegradationCoefficient.AddRaw(1)), ErrInvalidDegradation)
	assert.NoError(t, v.SetLockedProfitDegradation("manager1", types.DegradationCoefficient))
}

func TestSetWithdrawMaxLossValidation(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)

	assert.ErrorIs(t, v.SetWithdrawMaxLoss("manager1", 10_001), ErrInvalidBasisPoints)
	assert.NoError(t, v.SetWithdrawMaxLoss("manager1", 10_000))
	assert.NoError(t, v.SetWithdrawMaxLoss("manager1", 0))
}

func TestVaultAuthorization(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)
	require.NoError(t, v.AddStrategy(newStub("strat1"), 5_000))
	require.NoError(t, v.AddStrategy(newStub("strat2"), 1_000))

	// Every mutating operation rejects a caller without the right role.
	assert.ErrorIs(t, v.SetStrategyDebtRatio("mallory", "strat1", 1_000), ErrNotManager)
	assert.ErrorIs(t, v.RevokeStrategy("mallory", "strat1"), ErrNotManager)
	assert.ErrorIs(t, v.SetWithdrawMaxLoss("mallory", 200), ErrNotManager)
	assert.ErrorIs(t, v.SetLockedProfitDegradation("mallory", sdkmath.OneInt()), ErrNotManager)
	assert.ErrorIs(t, v.SetTvlCap("mallory", sdkmath.NewInt(1_000)), ErrNotManager)
	assert.ErrorIs(t, v.RemoveTvlCap("mallory"), ErrNotManager)
	assert.ErrorIs(t, v.SetKeeper("mallory", "keeper2"), ErrNotManager)
	assert.ErrorIs(t, v.SetEmergencyShutdown("mallory", true), ErrNotManager)

	// A strategy may zero its own ratio but not raise it, and may revoke
	// itself but not a peer.
	assert.NoError(t, v.SetStrategyDebtRatio("strat1", "strat1", 0))
	assert.ErrorIs(t, v.SetStrategyDebtRatio("strat1", "strat1", 5_000), ErrNotManager)
	assert.ErrorIs(t, v.RevokeStrategy("strat1", "strat2"), ErrNotManager)
	assert.NoError(t, v.RevokeStrategy("strat2", "strat2"))

	// The keeper may pull the emergency brake, but only the manager lifts it.
	require.NoError(t, v.SetEmergencyShutdown("keeper1", true))
	assert.True(t, v.IsShutdown())
	assert.ErrorIs(t, v.SetEmergencyShutdown("keeper1", false), ErrNotManager)
	require.NoError(t, v.SetEmergencyShutdown("manager1", false))
	assert.False(t, v.IsShutdown())
}

func TestSnapshot(t *testing.T) {
	clock := newTestClock()
	v := newTestVault(t, clock)
	strat := newStub("strat1")
	require.NoError(t, v.AddStrategy(strat, 5_000))
	_, err := v.Deposit("alice", sdkmath.NewInt(1_000))
	require.NoError(t, err)
	_, err = v.DisburseCredit("strat1")
	require.NoError(t, err)
	_, err = v.Report("strat1", sdkmath.NewInt(100), sdkmath.ZeroInt())
	require.NoError(t, err)

	snap := v.Snapshot()
	assert.Equal(t, int64(1_100), snap.TotalAssets.Int64())
	assert.Equal(t, int64(500), snap.TotalIdle.Int64())
	assert.Equal(t, int64(600), snap.TotalAllocated.Int64())
	assert.Equal(t, int64(100), snap.LockedProfit.Int64())
	assert.Equal(t, int64(1_000), snap.TotalSupply.Int64())
	assert.Equal(t, uint64(5_000), snap.TotalDebtRatio)
	assert.Equal(t, 1, snap.StrategyCount)
}
