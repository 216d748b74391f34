// Package loan implements a single contract-per-loan state machine: a
// long-lived entity tracking principal, collateral and funds between exactly
// one borrower and one lender, from origination through repayment, default
// repossession, or refinancing.
package loan

import (
	"math/big"

	"loanforge/crypto"
)

// Status captures the coarse lifecycle stage of a Loan. Refinancing is a
// modifier within Active, not a distinct status.
type Status uint8

const (
	// StatusUninitialized is the zero value; no terms have been committed yet.
	StatusUninitialized Status = iota
	// StatusInitialized means terms are set but the loan has not been funded.
	StatusInitialized
	// StatusActive means the loan has been funded and is accruing payments.
	StatusActive
	// StatusTerminated means the loan closed, completed, or was repossessed.
	StatusTerminated
)

// Terms groups the loan parameters that are immutable after initialization
// except via the refinance protocol (component E).
type Terms struct {
	// GracePeriod is the number of seconds after a missed due date before
	// repossession becomes legal.
	GracePeriod uint64
	// PaymentInterval is the number of seconds between scheduled payments.
	PaymentInterval uint64
	// InterestRate is the annualized interest fraction, scaled by ONE.
	InterestRate *big.Int
	// LateFeeRate is a flat fraction of outstanding principal, scaled by ONE,
	// charged once a payment is made after its due date.
	LateFeeRate *big.Int
	// LateInterestPremium is an additional annualized fraction, scaled by
	// ONE, accrued on top of InterestRate for the late portion of a payment.
	LateInterestPremium *big.Int
	// ClosingRate is a flat fraction of outstanding principal, scaled by
	// ONE, charged on early close.
	ClosingRate *big.Int
	// CollateralRequired is the par collateral amount backing the full
	// PrincipalRequested per the I3 formula.
	CollateralRequired *big.Int
	// PrincipalRequested is the maximum principal ever outstanding on this
	// loan. Must be positive.
	PrincipalRequested *big.Int
	// EndingPrincipal is the balloon amount that remains unpaid at the
	// scheduled end of the loan. Must be <= PrincipalRequested.
	EndingPrincipal *big.Int
}

// Clone returns a deep copy of the terms so callers may mutate it freely.
func (t Terms) Clone() Terms {
	clone := Terms{
		GracePeriod:     t.GracePeriod,
		PaymentInterval: t.PaymentInterval,
	}
	clone.InterestRate = cloneInt(t.InterestRate)
	clone.LateFeeRate = cloneInt(t.LateFeeRate)
	clone.LateInterestPremium = cloneInt(t.LateInterestPremium)
	clone.ClosingRate = cloneInt(t.ClosingRate)
	clone.CollateralRequired = cloneInt(t.CollateralRequired)
	clone.PrincipalRequested = cloneInt(t.PrincipalRequested)
	clone.EndingPrincipal = cloneInt(t.EndingPrincipal)
	return clone
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Loan is the single long-lived entity mediating a bilateral lending
// relationship. All quantities are non-negative integers; there is no
// floating point anywhere in this package.
type Loan struct {
	// Borrower and Lender are the two parties. Lender is the zero address
	// until the loan is funded.
	Borrower crypto.Address
	Lender   crypto.Address

	// CollateralAsset and FundsAsset are distinct asset identifiers, fixed
	// at initialization.
	CollateralAsset crypto.Address
	FundsAsset      crypto.Address

	Terms Terms

	// Ledger state.
	DrawableFunds      *big.Int
	ClaimableFunds     *big.Int
	Collateral         *big.Int
	Principal          *big.Int
	NextPaymentDueDate uint64
	PaymentsRemaining  uint64

	// RefinanceCommitment is a 256-bit digest; zero means no proposal is
	// outstanding.
	RefinanceCommitment [32]byte

	Status Status
}

// IsActive reports whether the loan is currently active per invariant I5.
func (l *Loan) IsActive() bool {
	return l != nil && l.NextPaymentDueDate > 0
}

func isZeroAddress(a crypto.Address) bool {
	return len(a.Bytes()) == 0
}

// New constructs an Initialized loan from validated terms. principalRequested
// must be positive and endingPrincipal must not exceed it (invariant I1).
// payments is the number of scheduled payments over the life of the loan,
// seeded into paymentsRemaining; it becomes live ledger state on fundLoan.
func New(borrower, collateralAsset, fundsAsset crypto.Address, terms Terms, payments uint64) (*Loan, error) {
	if terms.PrincipalRequested == nil || terms.PrincipalRequested.Sign() <= 0 {
		return nil, newError(KindInvariant, "MLI:IN:PRINCIPAL_REQUESTED_ZERO", "principalRequested must be positive", nil)
	}
	if terms.EndingPrincipal == nil {
		terms.EndingPrincipal = big.NewInt(0)
	}
	if terms.EndingPrincipal.Cmp(terms.PrincipalRequested) > 0 {
		return nil, newError(KindInvariant, "MLI:IN:ENDING_PRINCIPAL_EXCEEDS_REQUESTED", "endingPrincipal exceeds principalRequested", nil)
	}
	if isZeroAddress(collateralAsset) || isZeroAddress(fundsAsset) {
		return nil, newError(KindInvariant, "MLI:IN:ASSET_REQUIRED", "collateral and funds assets must be set", nil)
	}
	if collateralAsset.Bytes() != nil && fundsAsset.Bytes() != nil && string(collateralAsset.Bytes()) == string(fundsAsset.Bytes()) {
		return nil, newError(KindInvariant, "MLI:IN:ASSETS_MUST_DIFFER", "collateral and funds assets must be distinct", nil)
	}

	l := &Loan{
		Borrower:           borrower,
		CollateralAsset:    collateralAsset,
		FundsAsset:         fundsAsset,
		Terms:              terms.Clone(),
		DrawableFunds:      big.NewInt(0),
		ClaimableFunds:     big.NewInt(0),
		Collateral:         big.NewInt(0),
		Principal:          big.NewInt(0),
		NextPaymentDueDate: 0,
		PaymentsRemaining:  payments,
		Status:             StatusInitialized,
	}
	return l, nil
}
