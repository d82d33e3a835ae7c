package vault

import (
	sdkmath "cosmossdk.io/math"
)

// Strategy defines the vault-facing surface of a yield strategy.
// This interface abstracts away the specific underlying platform, allowing
// the ledger to hold live, simulated or test strategies interchangeably.
type Strategy interface {
	// ID returns the strategy's identity used to key its ledger record.
	ID() string

	// VaultID returns the vault identity the strategy was built against.
	// Registration fails unless it matches the registering vault.
	VaultID() string

	// Want returns the pooled-asset denom the strategy holds and returns.
	Want() string

	// ReceiveCredit hands freshly disbursed capital to the strategy. The
	// vault has already debited its idle balance and raised the strategy's
	// allocation when this is called.
	ReceiveCredit(amount sdkmath.Int)

	// Withdraw liquidates up to amount want units and transfers what was
	// freed back to the caller. A partial fill is surfaced through loss,
	// never through an error; errors are reserved for authorization
	// violations. Callable only by the owning vault, which passes its own
	// identity as caller.
	Withdraw(caller string, amount sdkmath.Int) (freed sdkmath.Int, loss sdkmath.Int, err error)
}
