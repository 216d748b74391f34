package loan

import "math/big"

// nextPaymentBreakdown computes the principal and interest due for the next
// scheduled payment as of now. When this is the final payment, principal is
// overridden to the full outstanding balance so the balloon is paid off. Late
// charges are added when now is past the due date.
func (l *Loan) nextPaymentBreakdown(now uint64) (principal, interest *big.Int) {
	principal, interest = installment(l.Principal, l.Terms.EndingPrincipal, l.Terms.InterestRate, l.Terms.PaymentInterval, l.PaymentsRemaining)

	if l.PaymentsRemaining == 1 {
		principal = new(big.Int).Set(l.Principal)
	}

	if now > l.NextPaymentDueDate {
		lateSeconds := now - l.NextPaymentDueDate

		combinedRate := new(big.Int).Add(l.Terms.InterestRate, l.Terms.LateInterestPremium)
		lateInterest := new(big.Int).Mul(l.Principal, combinedRate)
		lateInterest.Mul(lateInterest, new(big.Int).SetUint64(lateSeconds))
		denom := new(big.Int).Mul(big.NewInt(SecondsPerYear), ONE)
		lateInterest.Quo(lateInterest, denom)
		interest = new(big.Int).Add(interest, lateInterest)

		flatLateFee := new(big.Int).Mul(l.Terms.LateFeeRate, l.Principal)
		flatLateFee.Quo(flatLateFee, ONE)
		interest = new(big.Int).Add(interest, flatLateFee)
	}

	return principal, interest
}

// closingPaymentBreakdown computes the amount owed to close the loan ahead
// of its scheduled term: the full outstanding principal plus a flat closing
// fee on that principal.
func (l *Loan) closingPaymentBreakdown() (principal, interest *big.Int) {
	principal = new(big.Int).Set(l.Principal)
	interest = new(big.Int).Mul(principal, l.Terms.ClosingRate)
	interest.Quo(interest, ONE)
	return principal, interest
}
