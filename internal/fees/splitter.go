/*

This file contains the pure fee-splitting math for harvests. Validation of the
basis points themselves happens at configuration load time, not here; the
split never fails.

*/

package fees

import (
	sdkmath "cosmossdk.io/math"

	"github.com/purplewavefinance/vault-core/internal/types"
)

// Split divides a gross native-denominated amount across the harvest fee
// recipients according to the schedule. Each share is an independent
// basis-point fraction of the gross amount; the shares need not exhaust it.
// Transfer execution is the caller's responsibility.
func Split(schedule types.FeeSchedule, grossNative sdkmath.Int) types.FeeBreakdown {
	if grossNative.IsNil() || !grossNative.IsPositive() {
		return types.FeeBreakdown{
			Call:       sdkmath.ZeroInt(),
			Beefy:      sdkmath.ZeroInt(),
			Strategist: sdkmath.ZeroInt(),
		}
	}

	return types.FeeBreakdown{
		Call:       share(grossNative, schedule.Call),
		Beefy:      share(grossNative, schedule.Beefy),
		Strategist: share(grossNative, schedule.Strategist),
	}
}

// TotalCut returns the fraction of a harvested amount that the schedule
// routes into fee charging before conversion to want.
func TotalCut(schedule types.FeeSchedule, harvested sdkmath.Int) sdkmath.Int {
	if harvested.IsNil() || !harvested.IsPositive() {
		return sdkmath.ZeroInt()
	}
	return share(harvested, schedule.Total)
}

func share(amount sdkmath.Int, bps uint64) sdkmath.Int {
	return amount.MulRaw(int64(bps)).QuoRaw(int64(types.MaxBasisPoints))
}
