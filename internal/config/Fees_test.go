package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purplewavefinance/vault-core/internal/types"
)

func TestValidateFeeSchedule(t *testing.T) {
	assert.NoError(t, ValidateFeeSchedule(DefaultFeeSchedule))
	assert.NoError(t, ValidateFeeSchedule(types.FeeSchedule{
		Total: 10_000, Call: 10_000, Beefy: 10_000, Strategist: 10_000,
	}))

	err := ValidateFeeSchedule(types.FeeSchedule{Total: 10_001})
	assert.ErrorContains(t, err, "total")
	err = ValidateFeeSchedule(types.FeeSchedule{Beefy: 10_001})
	assert.ErrorContains(t, err, "beefy")
}

func TestLoadFeeConfigDefaults(t *testing.T) {
	require.NoError(t, loadFeeConfig())
	assert.Equal(t, DefaultFeeSchedule, Fees)
	assert.Equal(t, DefaultFeeSchedule, FeeConfigurator{}.GetFees())
}

func TestLoadFeeConfigOverrides(t *testing.T) {
	t.Setenv("FEE_TOTAL_BPS", "1000")
	t.Setenv("FEE_CALL_BPS", "100")

	require.NoError(t, loadFeeConfig())
	assert.Equal(t, uint64(1_000), Fees.Total)
	assert.Equal(t, uint64(100), Fees.Call)
	// Unset overrides keep their defaults.
	assert.Equal(t, DefaultFeeSchedule.Beefy, Fees.Beefy)
	assert.Equal(t, DefaultFeeSchedule.Strategist, Fees.Strategist)

	t.Cleanup(func() { Fees = DefaultFeeSchedule })
}

func TestLoadFeeConfigRejectsInvalidOverride(t *testing.T) {
	t.Setenv("FEE_TOTAL_BPS", "10001")
	assert.Error(t, loadFeeConfig())
}
