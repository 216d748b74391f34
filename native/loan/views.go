package loan

import "math/big"

// Details is the read-only projection of a Loan returned by GetLoanDetails,
// modeled on services/lending/engine.Engine's GetMarket/GetHealth view
// pattern: a flat snapshot safe to marshal and hand to a caller without
// exposing the mutable *Loan itself.
type Details struct {
	Borrower        string
	Lender          string
	CollateralAsset string
	FundsAsset      string

	Terms Terms

	DrawableFunds      *big.Int
	ClaimableFunds     *big.Int
	Collateral         *big.Int
	Principal          *big.Int
	NextPaymentDueDate uint64
	PaymentsRemaining  uint64
	RequiredCollateral *big.Int

	Status Status
}

// GetLoanDetails snapshots l into a Details projection.
func GetLoanDetails(l *Loan) Details {
	if l == nil {
		return Details{}
	}
	return Details{
		Borrower:           addrString(l.Borrower),
		Lender:             addrString(l.Lender),
		CollateralAsset:    addrString(l.CollateralAsset),
		FundsAsset:         addrString(l.FundsAsset),
		Terms:              l.Terms.Clone(),
		DrawableFunds:      new(big.Int).Set(l.DrawableFunds),
		ClaimableFunds:     new(big.Int).Set(l.ClaimableFunds),
		Collateral:         new(big.Int).Set(l.Collateral),
		Principal:          new(big.Int).Set(l.Principal),
		NextPaymentDueDate: l.NextPaymentDueDate,
		PaymentsRemaining:  l.PaymentsRemaining,
		RequiredCollateral: requiredCollateralFor(l.Principal, l.DrawableFunds, l.Terms.PrincipalRequested, l.Terms.CollateralRequired),
		Status:             l.Status,
	}
}

func addrString(a Refinancer) string {
	if isZeroAddress(a) {
		return ""
	}
	return a.String()
}

// GetCollateralRequired returns the additional collateral the borrower would
// need to post before drawing down drawAmount more, given current ledger
// state (spec scenario 6's getAdditionalCollateralRequiredFor). A zero result
// means the loan is already sufficiently collateralized for that draw.
func GetCollateralRequired(l *Loan, drawAmount *big.Int) *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	amt := drawAmount
	if amt == nil {
		amt = big.NewInt(0)
	}
	hypotheticalDrawable := new(big.Int).Sub(l.DrawableFunds, amt)
	required := requiredCollateralFor(l.Principal, hypotheticalDrawable, l.Terms.PrincipalRequested, l.Terms.CollateralRequired)
	additional := new(big.Int).Sub(required, l.Collateral)
	if additional.Sign() < 0 {
		return big.NewInt(0)
	}
	return additional
}

// GetNextPaymentBreakdown exposes nextPaymentBreakdown as a read-only
// projection for callers outside the package (views, service handlers).
func GetNextPaymentBreakdown(l *Loan, now uint64) (principal, interest *big.Int) {
	if l == nil {
		return big.NewInt(0), big.NewInt(0)
	}
	return l.nextPaymentBreakdown(now)
}

// GetClosingPaymentBreakdown exposes closingPaymentBreakdown as a read-only
// projection for callers outside the package.
func GetClosingPaymentBreakdown(l *Loan) (principal, interest *big.Int) {
	if l == nil {
		return big.NewInt(0), big.NewInt(0)
	}
	return l.closingPaymentBreakdown()
}

// ScheduleEntry is one row of a projected, on-time amortization schedule.
type ScheduleEntry struct {
	Payment            uint64
	Principal          *big.Int
	Interest           *big.Int
	RemainingPrincipal *big.Int
}

// ProjectSchedule builds the full on-time amortization table for a loan with
// the given terms, assuming every payment lands exactly on its due date (no
// late fees). It does not require a constructed Loan or Engine, so
// cmd/loand's amortize subcommand can preview a schedule before a loan is
// ever funded.
func ProjectSchedule(principal, endingPrincipal, rate *big.Int, interval uint64, totalPayments uint64) []ScheduleEntry {
	if totalPayments == 0 {
		return nil
	}
	remaining := new(big.Int).Set(principal)
	rows := make([]ScheduleEntry, 0, totalPayments)
	for i := uint64(1); i <= totalPayments; i++ {
		paymentsLeft := totalPayments - i + 1
		principalPortion, interestPortion := installment(remaining, endingPrincipal, rate, interval, paymentsLeft)
		if paymentsLeft == 1 {
			principalPortion = new(big.Int).Set(remaining)
		}
		remaining = new(big.Int).Sub(remaining, principalPortion)
		rows = append(rows, ScheduleEntry{
			Payment:            i,
			Principal:          principalPortion,
			Interest:           interestPortion,
			RemainingPrincipal: new(big.Int).Set(remaining),
		})
	}
	return rows
}
