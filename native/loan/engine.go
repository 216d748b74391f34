package loan

import (
	"encoding/hex"
	"math/big"

	"loanforge/core/events"
	"loanforge/core/types"
	"loanforge/crypto"
)

const basisPointsDenominator = 10000

// Engine executes the lifecycle transitions of a single Loan. It holds no
// persistence of its own; callers load a *Loan, invoke a method, and persist
// the (possibly mutated) result themselves. Every mutating method funnels
// through the pause gate before touching ledger state.
type Engine struct {
	driver  AssetDriver
	pauses  PauseView
	emitter events.Emitter
}

// NewEngine constructs an Engine. pauses and emitter may be nil, in which
// case the pause gate always passes and events are discarded.
func NewEngine(driver AssetDriver, pauses PauseView, emitter events.Emitter) *Engine {
	return &Engine{driver: driver, pauses: pauses, emitter: emitter}
}

func (e *Engine) emit(ev *types.Event) {
	if e.emitter == nil || ev == nil {
		return
	}
	e.emitter.Emit(Wrap(ev))
}

func hexEncode(b []byte) string { return "0x" + hex.EncodeToString(b) }

// FundLoan binds a lender to an Initialized loan, activates it, and splits
// the unaccounted funds-asset surplus into treasury fee, delegate fee,
// drawable funds and residual claimable. If the loan is already active, the
// call is treated as the re-funding variant: the surplus is credited to
// drawableFunds and no other state changes.
func (e *Engine) FundLoan(l *Loan, self crypto.Address, now uint64, lender crypto.Address, fee LenderFeeView) error {
	if err := guard(e.pauses); err != nil {
		return err
	}

	surplus, err := l.unaccounted(e.driver, self, l.FundsAsset)
	if err != nil {
		return err
	}

	if l.IsActive() {
		// Re-funding variant: credit the surplus to drawableFunds and make
		// no other change.
		if surplus.Sign() > 0 {
			l.DrawableFunds = new(big.Int).Add(l.DrawableFunds, surplus)
		}
		return nil
	}

	if l.NextPaymentDueDate != 0 || l.PaymentsRemaining == 0 {
		return stateError(codeAlreadyFunded, "loan already funded")
	}

	l.Lender = lender
	l.Principal = new(big.Int).Set(l.Terms.PrincipalRequested)
	l.NextPaymentDueDate = now + l.Terms.PaymentInterval

	principalRequested := l.Terms.PrincipalRequested
	paymentsRemaining := l.PaymentsRemaining

	var treasuryFee, delegateFee *big.Int
	if fee != nil {
		treasuryFee = feeShare(principalRequested, fee.TreasuryFeeBps(), l.Terms.PaymentInterval, paymentsRemaining)
		delegateFee = feeShare(principalRequested, fee.InvestorFeeBps(), l.Terms.PaymentInterval, paymentsRemaining)
	} else {
		treasuryFee, delegateFee = big.NewInt(0), big.NewInt(0)
	}

	if treasuryFee.Sign() > 0 {
		if err := e.driver.Transfer(l.FundsAsset, fee.Treasury(), treasuryFee); err != nil {
			return externalError("ML:FL:TREASURY_TRANSFER_FAILED", "treasury fee transfer failed", err)
		}
	}
	if delegateFee.Sign() > 0 {
		if err := e.driver.Transfer(l.FundsAsset, fee.PoolDelegate(), delegateFee); err != nil {
			return externalError("ML:FL:DELEGATE_TRANSFER_FAILED", "delegate fee transfer failed", err)
		}
	}

	drawable := new(big.Int).Sub(principalRequested, treasuryFee)
	drawable.Sub(drawable, delegateFee)
	if drawable.Sign() < 0 {
		return invariantError("ML:FL:FEES_EXCEED_PRINCIPAL", "treasury and delegate fees exceed principal")
	}
	l.DrawableFunds = drawable

	remaining, err := l.unaccounted(e.driver, self, l.FundsAsset)
	if err != nil {
		return err
	}
	if remaining.Sign() > 0 {
		l.ClaimableFunds = new(big.Int).Add(l.ClaimableFunds, remaining)
	}

	l.Status = StatusActive
	e.emit(NewFundedEvent(l, principalRequested.String()))
	return nil
}

func feeShare(principal *big.Int, bps uint64, interval uint64, payments uint64) *big.Int {
	if bps == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(principal, new(big.Int).SetUint64(bps))
	fee.Mul(fee, new(big.Int).SetUint64(interval))
	fee.Mul(fee, new(big.Int).SetUint64(payments))
	denom := new(big.Int).Mul(big.NewInt(SecondsPerYear), big.NewInt(basisPointsDenominator))
	fee.Quo(fee, denom)
	return fee
}

// PostCollateral credits any unaccounted collateral-asset surplus to the
// collateral bucket. Anyone may call this; it never moves assets itself.
func (e *Engine) PostCollateral(l *Loan, self crypto.Address) error {
	if err := guard(e.pauses); err != nil {
		return err
	}
	surplus, err := l.unaccounted(e.driver, self, l.CollateralAsset)
	if err != nil {
		return err
	}
	l.Collateral = new(big.Int).Add(l.Collateral, surplus)
	e.emit(NewCollateralPostedEvent(l, surplus.String()))
	return nil
}

// RemoveCollateral is borrower-only: it withdraws collateral and re-checks
// I3 afterward.
func (e *Engine) RemoveCollateral(l *Loan, caller, dst crypto.Address, amount *big.Int) error {
	if err := guard(e.pauses); err != nil {
		return err
	}
	if !addressEqual(caller, l.Borrower) {
		return authError(codeNotBorrower, "caller is not the borrower")
	}
	if l.Collateral.Cmp(amount) < 0 {
		return invariantError("ML:RC:INSUFFICIENT_COLLATERAL", "amount exceeds collateral balance")
	}
	l.Collateral = new(big.Int).Sub(l.Collateral, amount)
	if err := e.driver.Transfer(l.CollateralAsset, dst, amount); err != nil {
		return externalError("ML:RC:TRANSFER_FAILED", "collateral transfer failed", err)
	}
	if !l.isCollateralMaintained() {
		return invariantError(codeUndercollateralized, "removal would leave loan undercollateralized")
	}
	e.emit(NewCollateralRemovedEvent(l, amount.String()))
	return nil
}

// DrawdownFunds is borrower-only: it withdraws drawable funds and re-checks
// I3 afterward, since drawable funds reduce the exposed-principal term.
func (e *Engine) DrawdownFunds(l *Loan, caller, dst crypto.Address, amount *big.Int) error {
	if err := guard(e.pauses); err != nil {
		return err
	}
	if !addressEqual(caller, l.Borrower) {
		return authError(codeNotBorrower, "caller is not the borrower")
	}
	if l.DrawableFunds.Cmp(amount) < 0 {
		return invariantError(codeInsufficientDrawable, "amount exceeds drawable funds")
	}
	l.DrawableFunds = new(big.Int).Sub(l.DrawableFunds, amount)
	if err := e.driver.Transfer(l.FundsAsset, dst, amount); err != nil {
		return externalError("ML:DF:TRANSFER_FAILED", "funds transfer failed", err)
	}
	if !l.isCollateralMaintained() {
		return invariantError(codeUndercollateralized, "drawdown would leave loan undercollateralized")
	}
	e.emit(NewFundsDrawnDownEvent(l, amount.String()))
	return nil
}

// ReturnFunds credits any unaccounted funds-asset surplus to drawable funds.
func (e *Engine) ReturnFunds(l *Loan, self crypto.Address) error {
	if err := guard(e.pauses); err != nil {
		return err
	}
	surplus, err := l.unaccounted(e.driver, self, l.FundsAsset)
	if err != nil {
		return err
	}
	l.DrawableFunds = new(big.Int).Add(l.DrawableFunds, surplus)
	e.emit(NewFundsReturnedEvent(l, surplus.String()))
	return nil
}

// MakePayment applies the next scheduled payment. It reconciles any
// unaccounted funds-asset surplus into drawableFunds before settling the
// payment amount out of that same bucket, so a payer who simply transferred
// funds in ahead of the call is covered without a separate pull step.
func (e *Engine) MakePayment(l *Loan, self crypto.Address, now uint64) error {
	if err := guard(e.pauses); err != nil {
		return err
	}
	if !l.IsActive() {
		return stateError(codeNoPaymentDue, "loan is not active")
	}

	principalPortion, interestPortion := l.nextPaymentBreakdown(now)
	total := new(big.Int).Add(principalPortion, interestPortion)

	surplus, err := l.unaccounted(e.driver, self, l.FundsAsset)
	if err != nil {
		return err
	}
	available := new(big.Int).Add(l.DrawableFunds, surplus)
	if available.Cmp(total) < 0 {
		return invariantError(codeInsufficientFunds, "insufficient funds to settle payment")
	}

	l.DrawableFunds = new(big.Int).Sub(available, total)
	l.ClaimableFunds = new(big.Int).Add(l.ClaimableFunds, total)
	l.Principal = new(big.Int).Sub(l.Principal, principalPortion)
	l.NextPaymentDueDate += l.Terms.PaymentInterval
	l.PaymentsRemaining--

	if l.PaymentsRemaining == 0 {
		l.Status = StatusTerminated
		l.NextPaymentDueDate = 0
	}

	e.emit(NewPaymentMadeEvent(l, principalPortion.String(), interestPortion.String(), "0"))
	return nil
}

// CloseLoan settles the closing breakdown ahead of schedule. It is only
// valid while the current payment is not yet overdue.
func (e *Engine) CloseLoan(l *Loan, self crypto.Address, now uint64) error {
	if err := guard(e.pauses); err != nil {
		return err
	}
	if now > l.NextPaymentDueDate {
		return stateError("ML:CL:PAST_DUE", "loan is past due and cannot be closed early")
	}

	principal, interest := l.closingPaymentBreakdown()
	total := new(big.Int).Add(principal, interest)

	surplus, err := l.unaccounted(e.driver, self, l.FundsAsset)
	if err != nil {
		return err
	}
	available := new(big.Int).Add(l.DrawableFunds, surplus)
	if available.Cmp(total) < 0 {
		return invariantError(codeInsufficientFunds, "insufficient funds to close loan")
	}

	l.DrawableFunds = new(big.Int).Sub(available, total)
	l.ClaimableFunds = new(big.Int).Add(l.ClaimableFunds, total)
	l.Principal = big.NewInt(0)
	l.PaymentsRemaining = 0
	l.NextPaymentDueDate = 0
	l.Status = StatusTerminated

	e.emit(NewLoanClosedEvent(l, total.String()))
	return nil
}

// ClaimFunds is lender-only: it withdraws from claimableFunds.
func (e *Engine) ClaimFunds(l *Loan, caller, dst crypto.Address, amount *big.Int) error {
	if err := guard(e.pauses); err != nil {
		return err
	}
	if !addressEqual(caller, l.Lender) {
		return authError(codeNotLender, "caller is not the lender")
	}
	if l.ClaimableFunds.Cmp(amount) < 0 {
		return invariantError("ML:CF:INSUFFICIENT_CLAIMABLE", "amount exceeds claimable funds")
	}
	l.ClaimableFunds = new(big.Int).Sub(l.ClaimableFunds, amount)
	if err := e.driver.Transfer(l.FundsAsset, dst, amount); err != nil {
		return externalError("ML:CF:TRANSFER_FAILED", "funds transfer failed", err)
	}
	e.emit(NewFundsClaimedEvent(l, amount.String()))
	return nil
}

// Repossess is lender-only and only legal once the grace period after a
// missed due date has lapsed. It zeroes every ledger bucket and the lender
// role, then sweeps the loan's entire remaining balance of both assets to
// dst.
func (e *Engine) Repossess(l *Loan, caller, dst crypto.Address, self crypto.Address, now uint64) error {
	if err := guard(e.pauses); err != nil {
		return err
	}
	if !addressEqual(caller, l.Lender) {
		return authError(codeNotLender, "caller is not the lender")
	}
	if now <= l.NextPaymentDueDate+l.Terms.GracePeriod {
		return stateError(codeNotInGrace, "grace period has not lapsed")
	}

	l.DrawableFunds = big.NewInt(0)
	l.ClaimableFunds = big.NewInt(0)
	l.Collateral = big.NewInt(0)
	l.Principal = big.NewInt(0)
	l.PaymentsRemaining = 0
	l.NextPaymentDueDate = 0
	l.Lender = crypto.Address{}
	l.Status = StatusTerminated

	fundsBal, err := l.unaccounted(e.driver, self, l.FundsAsset)
	if err != nil {
		return err
	}
	collateralBal, err := l.unaccounted(e.driver, self, l.CollateralAsset)
	if err != nil {
		return err
	}
	if fundsBal.Sign() > 0 {
		if err := e.driver.Transfer(l.FundsAsset, dst, fundsBal); err != nil {
			return externalError("ML:RP:FUNDS_TRANSFER_FAILED", "funds sweep failed", err)
		}
	}
	if collateralBal.Sign() > 0 {
		if err := e.driver.Transfer(l.CollateralAsset, dst, collateralBal); err != nil {
			return externalError("ML:RP:COLLATERAL_TRANSFER_FAILED", "collateral sweep failed", err)
		}
	}

	e.emit(NewRepossessedEvent(l))
	return nil
}

// Skim sweeps a stray token that is neither the funds asset nor the
// collateral asset. Either party may call it.
func (e *Engine) Skim(l *Loan, caller, token, dst, self crypto.Address) error {
	if err := guard(e.pauses); err != nil {
		return err
	}
	if !addressEqual(caller, l.Borrower) && !addressEqual(caller, l.Lender) {
		return authError(codeNotBorrowerOrLender, "caller is neither borrower nor lender")
	}
	if addressEqual(token, l.FundsAsset) || addressEqual(token, l.CollateralAsset) {
		return invariantError("ML:SK:PROTECTED_ASSET", "cannot skim funds or collateral asset")
	}
	balance, err := e.driver.BalanceOf(token, self)
	if err != nil {
		return externalError("ML:SK:BALANCE_OF_FAILED", "asset driver balanceOf failed", err)
	}
	if balance.Sign() > 0 {
		if err := e.driver.Transfer(token, dst, balance); err != nil {
			return externalError("ML:SK:TRANSFER_FAILED", "skim transfer failed", err)
		}
	}
	e.emit(NewSkimmedEvent(l, token.String(), balance.String()))
	return nil
}

// SetBorrower reassigns the borrower role; only the current borrower may
// call it.
func (e *Engine) SetBorrower(l *Loan, caller, newBorrower crypto.Address) error {
	if err := guard(e.pauses); err != nil {
		return err
	}
	if !addressEqual(caller, l.Borrower) {
		return authError(codeNotBorrower, "caller is not the borrower")
	}
	if isZeroAddress(newBorrower) {
		return invariantError(codeZeroAddress, "borrower cannot be the zero address")
	}
	l.Borrower = newBorrower
	e.emit(NewBorrowerSetEvent(l))
	return nil
}

// SetLender reassigns the lender role; only the current lender may call it.
func (e *Engine) SetLender(l *Loan, caller, newLender crypto.Address) error {
	if err := guard(e.pauses); err != nil {
		return err
	}
	if !addressEqual(caller, l.Lender) {
		return authError(codeNotLender, "caller is not the lender")
	}
	if isZeroAddress(newLender) {
		return invariantError(codeZeroAddress, "lender cannot be the zero address")
	}
	l.Lender = newLender
	e.emit(NewLenderSetEvent(l))
	return nil
}

// ProposeNewTerms is the engine-level entry point for refinance phase one.
func (e *Engine) ProposeNewTerms(l *Loan, caller crypto.Address, refinancer Refinancer, calls []Call) error {
	if err := guard(e.pauses); err != nil {
		return err
	}
	if err := l.proposeNewTerms(caller, refinancer, calls); err != nil {
		return err
	}
	commitmentHex := "0x0"
	if l.RefinanceCommitment != ([32]byte{}) {
		commitmentHex = hexEncode(l.RefinanceCommitment[:])
	}
	e.emit(NewNewTermsProposedEvent(l, commitmentHex))
	return nil
}

// AcceptNewTerms is the engine-level entry point for refinance phase two.
// self identifies the loan's own custody address, needed to compute
// unaccounted(fundsAsset) when a call increases principal.
func (e *Engine) AcceptNewTerms(l *Loan, caller crypto.Address, self crypto.Address, refinancer Refinancer, calls []Call) error {
	if err := guard(e.pauses); err != nil {
		return err
	}
	commitment := l.RefinanceCommitment
	if err := l.acceptNewTerms(e.driver, self, caller, refinancer, calls); err != nil {
		return err
	}
	e.emit(NewNewTermsAcceptedEvent(l, hexEncode(commitment[:])))
	return nil
}
