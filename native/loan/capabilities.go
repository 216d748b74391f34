package loan

import (
	"math/big"

	"loanforge/crypto"
	nativecommon "loanforge/native/common"
)

// AssetDriver is the external surface the engine uses to move value. It is
// injected rather than hard-coded so the same Loan state machine can settle
// in whatever asset the deployment chooses; the engine never holds balances
// itself.
type AssetDriver interface {
	// BalanceOf returns the balance of asset held by account.
	BalanceOf(asset, account crypto.Address) (*big.Int, error)
	// Transfer moves amount of asset out of the loan's own custody to to.
	Transfer(asset, to crypto.Address, amount *big.Int) error
	// TransferFrom pulls amount of asset from from into to. The driver is
	// responsible for any prior approval check.
	TransferFrom(asset, from, to crypto.Address, amount *big.Int) error
}

// LenderFeeView lets the lender's platform levy two origination fees (a
// protocol treasury cut and a pool-delegate/servicer cut) at fund time
// without the loan engine knowing anything about fee schedules beyond a
// basis-point split and two recipient addresses.
type LenderFeeView interface {
	// TreasuryFeeBps is the annualized, basis-point fee owed to the
	// protocol treasury.
	TreasuryFeeBps() uint64
	// InvestorFeeBps is the annualized, basis-point fee owed to the pool
	// delegate (the entity that originated the loan on the lender's
	// behalf).
	InvestorFeeBps() uint64
	// Treasury is the address the treasury fee is paid to.
	Treasury() crypto.Address
	// PoolDelegate is the address the investor/delegate fee is paid to.
	PoolDelegate() crypto.Address
}

// PauseView is the injected capability the engine consults before any
// mutating call, reused from native/common so a single governance switch
// can halt every loan in a deployment alongside every other native module.
type PauseView = nativecommon.PauseView

// UpgradeCapability lets a factory swap the code backing a loan's engine
// behind a stable storage layout. The loan package does not implement this
// itself, and nothing in services/loand implements or calls it.
type UpgradeCapability interface {
	UpgradeInstance(version uint64, args []byte) error
}

// ModuleName is the key this package registers under with a PauseView.
const ModuleName = "loan"

func guard(p PauseView) error {
	if err := nativecommon.Guard(p, ModuleName); err != nil {
		return pausedError("ML:XX:MODULE_PAUSED", "loan module is paused")
	}
	return nil
}
