package loan

import (
	"loanforge/core/types"
)

const (
	EventTypeInitialized       = "loan.initialized"
	EventTypeBorrowerSet       = "loan.borrower_set"
	EventTypeLenderSet         = "loan.lender_set"
	EventTypeFunded            = "loan.funded"
	EventTypeCollateralPosted  = "loan.collateral_posted"
	EventTypeCollateralRemoved = "loan.collateral_removed"
	EventTypeFundsDrawnDown    = "loan.funds_drawn_down"
	EventTypeFundsReturned     = "loan.funds_returned"
	EventTypeFundsClaimed      = "loan.funds_claimed"
	EventTypePaymentMade       = "loan.payment_made"
	EventTypeLoanClosed        = "loan.closed"
	EventTypeRepossessed       = "loan.repossessed"
	EventTypeSkimmed           = "loan.skimmed"
	EventTypeNewTermsProposed  = "loan.new_terms_proposed"
	EventTypeNewTermsAccepted  = "loan.new_terms_accepted"
)

func baseAttrs(l *Loan) map[string]string {
	attrs := make(map[string]string)
	if l == nil {
		return attrs
	}
	attrs["borrower"] = l.Borrower.String()
	if !isZeroAddress(l.Lender) {
		attrs["lender"] = l.Lender.String()
	}
	attrs["collateralAsset"] = l.CollateralAsset.String()
	attrs["fundsAsset"] = l.FundsAsset.String()
	attrs["principal"] = l.Principal.String()
	attrs["collateral"] = l.Collateral.String()
	return attrs
}

func newLoanEvent(eventType string, l *Loan, extra map[string]string) *types.Event {
	attrs := baseAttrs(l)
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// wrappedEvent adapts a *types.Event to the core/events.Event interface so
// it can pass through an Emitter.
type wrappedEvent struct {
	evt *types.Event
}

func (w wrappedEvent) EventType() string { return w.evt.Type }

// Wrap adapts a *types.Event built by one of the New*Event constructors into
// an events.Event for emission.
func Wrap(evt *types.Event) wrappedEvent {
	return wrappedEvent{evt: evt}
}

func NewInitializedEvent(l *Loan) *types.Event {
	return newLoanEvent(EventTypeInitialized, l, nil)
}

func NewBorrowerSetEvent(l *Loan) *types.Event {
	return newLoanEvent(EventTypeBorrowerSet, l, nil)
}

func NewLenderSetEvent(l *Loan) *types.Event {
	return newLoanEvent(EventTypeLenderSet, l, nil)
}

func NewFundedEvent(l *Loan, amount string) *types.Event {
	return newLoanEvent(EventTypeFunded, l, map[string]string{"amount": amount})
}

func NewCollateralPostedEvent(l *Loan, amount string) *types.Event {
	return newLoanEvent(EventTypeCollateralPosted, l, map[string]string{"amount": amount})
}

func NewCollateralRemovedEvent(l *Loan, amount string) *types.Event {
	return newLoanEvent(EventTypeCollateralRemoved, l, map[string]string{"amount": amount})
}

func NewFundsDrawnDownEvent(l *Loan, amount string) *types.Event {
	return newLoanEvent(EventTypeFundsDrawnDown, l, map[string]string{"amount": amount})
}

func NewFundsReturnedEvent(l *Loan, amount string) *types.Event {
	return newLoanEvent(EventTypeFundsReturned, l, map[string]string{"amount": amount})
}

func NewFundsClaimedEvent(l *Loan, amount string) *types.Event {
	return newLoanEvent(EventTypeFundsClaimed, l, map[string]string{"amount": amount})
}

func NewPaymentMadeEvent(l *Loan, principal, interest, lateFee string) *types.Event {
	return newLoanEvent(EventTypePaymentMade, l, map[string]string{
		"principal": principal,
		"interest":  interest,
		"lateFee":   lateFee,
	})
}

func NewLoanClosedEvent(l *Loan, closingAmount string) *types.Event {
	return newLoanEvent(EventTypeLoanClosed, l, map[string]string{"closingAmount": closingAmount})
}

func NewRepossessedEvent(l *Loan) *types.Event {
	return newLoanEvent(EventTypeRepossessed, l, nil)
}

func NewSkimmedEvent(l *Loan, asset, amount string) *types.Event {
	return newLoanEvent(EventTypeSkimmed, l, map[string]string{"asset": asset, "amount": amount})
}

func NewNewTermsProposedEvent(l *Loan, commitmentHex string) *types.Event {
	return newLoanEvent(EventTypeNewTermsProposed, l, map[string]string{"commitment": commitmentHex})
}

func NewNewTermsAcceptedEvent(l *Loan, commitmentHex string) *types.Event {
	return newLoanEvent(EventTypeNewTermsAccepted, l, map[string]string{"commitment": commitmentHex})
}
