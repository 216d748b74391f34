package loan

import (
	"math/big"
	"testing"

	"loanforge/core/events"
	"loanforge/crypto"
)

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(e events.Event) {
	r.events = append(r.events, e)
}

type stubFeeView struct {
	treasuryBps, delegateBps uint64
	treasury, delegate       crypto.Address
}

func (s stubFeeView) TreasuryFeeBps() uint64      { return s.treasuryBps }
func (s stubFeeView) InvestorFeeBps() uint64      { return s.delegateBps }
func (s stubFeeView) Treasury() crypto.Address    { return s.treasury }
func (s stubFeeView) PoolDelegate() crypto.Address { return s.delegate }

type stubPauses struct {
	paused bool
}

func (s stubPauses) IsPaused(string) bool { return s.paused }

func newTestEngine() (*Engine, *fakeDriver, *recordingEmitter) {
	driver := newFakeDriver()
	emitter := &recordingEmitter{}
	return NewEngine(driver, nil, emitter), driver, emitter
}

func TestFullLifecycleFundDrawRepay(t *testing.T) {
	l, self := testLoan()
	engine, driver, emitter := newTestEngine()
	lender := testAddr(crypto.NHBPrefix, 0x05)
	borrowerDst := testAddr(crypto.NHBPrefix, 0x06)

	// Lender pre-funds the contract's custody of the funds asset.
	driver.set(l.FundsAsset, self, 1_000_000)

	if err := engine.FundLoan(l, self, 1_000_000, lender, nil); err != nil {
		t.Fatalf("FundLoan failed: %v", err)
	}
	if !l.IsActive() {
		t.Fatalf("expected loan to be active after funding")
	}
	if l.DrawableFunds.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("expected drawable funds to equal principal with no fees, got %s", l.DrawableFunds)
	}

	// Borrower posts collateral before drawing down: a 400000 draw exposes
	// 400000 of principal, which needs 200000 of collateral under I3.
	driver.set(l.CollateralAsset, self, 500_000)
	if err := engine.PostCollateral(l, self); err != nil {
		t.Fatalf("PostCollateral failed: %v", err)
	}
	if l.Collateral.Cmp(big.NewInt(500_000)) != 0 {
		t.Fatalf("expected collateral 500000, got %s", l.Collateral)
	}

	if err := engine.DrawdownFunds(l, l.Borrower, borrowerDst, big.NewInt(400_000)); err != nil {
		t.Fatalf("DrawdownFunds failed: %v", err)
	}
	if l.DrawableFunds.Cmp(big.NewInt(600_000)) != 0 {
		t.Fatalf("expected drawable funds 600000 after drawdown, got %s", l.DrawableFunds)
	}

	// Payer transfers the payment in ahead of the call, as the reconciliation
	// discipline requires.
	principal, interest := l.nextPaymentBreakdown(l.NextPaymentDueDate - 1)
	total := new(big.Int).Add(principal, interest)
	driver.set(l.FundsAsset, self, new(big.Int).Add(l.DrawableFunds, total).Int64())

	if err := engine.MakePayment(l, self, l.NextPaymentDueDate-1); err != nil {
		t.Fatalf("MakePayment failed: %v", err)
	}
	if l.PaymentsRemaining != 11 {
		t.Fatalf("expected 11 payments remaining, got %d", l.PaymentsRemaining)
	}
	if l.ClaimableFunds.Cmp(total) != 0 {
		t.Fatalf("expected claimable funds to equal the settled payment, got %s want %s", l.ClaimableFunds, total)
	}

	if err := engine.ClaimFunds(l, l.Lender, lender, total); err != nil {
		t.Fatalf("ClaimFunds failed: %v", err)
	}
	if l.ClaimableFunds.Sign() != 0 {
		t.Fatalf("expected claimable funds to be drained, got %s", l.ClaimableFunds)
	}

	if len(emitter.events) == 0 {
		t.Fatalf("expected events to have been emitted")
	}
}

func TestFundLoanGuardedByPause(t *testing.T) {
	l, self := testLoan()
	driver := newFakeDriver()
	engine := NewEngine(driver, stubPauses{paused: true}, nil)
	driver.set(l.FundsAsset, self, 1_000_000)

	err := engine.FundLoan(l, self, 1_000_000, testAddr(crypto.NHBPrefix, 0x05), nil)
	if err == nil {
		t.Fatalf("expected paused error")
	}
	lerr, ok := err.(*Error)
	if !ok || lerr.Kind != KindPaused {
		t.Fatalf("expected a paused *Error, got %v", err)
	}
}

func TestFundLoanSplitsTreasuryAndDelegateFees(t *testing.T) {
	l, self := testLoan()
	engine, driver, _ := newTestEngine()
	lender := testAddr(crypto.NHBPrefix, 0x05)
	treasury := testAddr(crypto.NHBPrefix, 0x07)
	delegate := testAddr(crypto.NHBPrefix, 0x08)

	driver.set(l.FundsAsset, self, 1_000_000)
	fee := stubFeeView{treasuryBps: 100, delegateBps: 50, treasury: treasury, delegate: delegate}

	if err := engine.FundLoan(l, self, 1_000_000, lender, fee); err != nil {
		t.Fatalf("FundLoan failed: %v", err)
	}

	treasuryBal, _ := driver.BalanceOf(l.FundsAsset, treasury)
	delegateBal, _ := driver.BalanceOf(l.FundsAsset, delegate)
	if treasuryBal.Sign() <= 0 {
		t.Fatalf("expected a positive treasury fee transfer, got %s", treasuryBal)
	}
	if delegateBal.Sign() <= 0 {
		t.Fatalf("expected a positive delegate fee transfer, got %s", delegateBal)
	}

	wantDrawable := new(big.Int).Sub(l.Terms.PrincipalRequested, treasuryBal)
	wantDrawable.Sub(wantDrawable, delegateBal)
	if l.DrawableFunds.Cmp(wantDrawable) != 0 {
		t.Fatalf("drawable funds = %s, want %s", l.DrawableFunds, wantDrawable)
	}
}

func TestRefundingVariantRebatesSurplusWithoutMutation(t *testing.T) {
	l, self := activeLoan()
	engine, driver, _ := newTestEngine()
	driver.set(l.FundsAsset, self, 100_042) // drawableFunds (100000) + a 42 surplus

	principalBefore := new(big.Int).Set(l.Principal)
	if err := engine.FundLoan(l, self, 2_000_000, testAddr(crypto.NHBPrefix, 0x0A), nil); err != nil {
		t.Fatalf("re-funding call failed: %v", err)
	}
	if l.Principal.Cmp(principalBefore) != 0 {
		t.Fatalf("re-funding must not mutate principal, got %s", l.Principal)
	}
	if l.DrawableFunds.Cmp(big.NewInt(100_042)) != 0 {
		t.Fatalf("expected surplus of 42 rebated into drawable funds, got %s", l.DrawableFunds)
	}
}

func TestRepossessRequiresGracePeriodLapsed(t *testing.T) {
	l, self := activeLoan()
	engine, _, _ := newTestEngine()
	dst := testAddr(crypto.NHBPrefix, 0x0B)

	err := engine.Repossess(l, l.Lender, dst, self, l.NextPaymentDueDate+1)
	if err == nil {
		t.Fatalf("expected repossession to fail before grace period lapses")
	}

	err = engine.Repossess(l, l.Lender, dst, self, l.NextPaymentDueDate+l.Terms.GracePeriod+1)
	if err != nil {
		t.Fatalf("repossession should succeed after grace period lapses: %v", err)
	}
	if l.Status != StatusTerminated {
		t.Fatalf("expected loan to be terminated after repossession")
	}
	if !isZeroAddress(l.Lender) {
		t.Fatalf("expected lender to be cleared after repossession")
	}
}

func TestSkimRejectsProtectedAssets(t *testing.T) {
	l, self := activeLoan()
	engine, _, _ := newTestEngine()
	dst := testAddr(crypto.NHBPrefix, 0x0C)

	if err := engine.Skim(l, l.Borrower, l.FundsAsset, dst, self); err == nil {
		t.Fatalf("expected skim of the funds asset to be rejected")
	}
}

func TestSkimSweepsStrayToken(t *testing.T) {
	l, self := activeLoan()
	engine, driver, _ := newTestEngine()
	dst := testAddr(crypto.NHBPrefix, 0x0D)
	strayToken := testAddr(crypto.NHBPrefix, 0x0E)
	driver.set(strayToken, self, 777)

	if err := engine.Skim(l, l.Lender, strayToken, dst, self); err != nil {
		t.Fatalf("skim failed: %v", err)
	}
	bal, _ := driver.BalanceOf(strayToken, dst)
	if bal.Cmp(big.NewInt(777)) != 0 {
		t.Fatalf("expected stray token balance swept to dst, got %s", bal)
	}
}

func TestCloseLoanRejectsPastDue(t *testing.T) {
	l, self := activeLoan()
	engine, _, _ := newTestEngine()
	err := engine.CloseLoan(l, self, l.NextPaymentDueDate+1)
	if err == nil {
		t.Fatalf("expected close to fail once past due")
	}
}

func TestSetBorrowerAndSetLenderRequireCurrentHolder(t *testing.T) {
	l, _ := activeLoan()
	engine, _, _ := newTestEngine()
	newBorrower := testAddr(crypto.NHBPrefix, 0x0F)

	if err := engine.SetBorrower(l, testAddr(crypto.NHBPrefix, 0x99), newBorrower); err == nil {
		t.Fatalf("expected SetBorrower to reject a non-borrower caller")
	}
	if err := engine.SetBorrower(l, l.Borrower, newBorrower); err != nil {
		t.Fatalf("SetBorrower failed: %v", err)
	}
	if !addressEqual(l.Borrower, newBorrower) {
		t.Fatalf("expected borrower to be reassigned")
	}

	newLender := testAddr(crypto.NHBPrefix, 0x10)
	if err := engine.SetLender(l, testAddr(crypto.NHBPrefix, 0x99), newLender); err == nil {
		t.Fatalf("expected SetLender to reject a non-lender caller")
	}
	if err := engine.SetLender(l, l.Lender, newLender); err != nil {
		t.Fatalf("SetLender failed: %v", err)
	}
	if !addressEqual(l.Lender, newLender) {
		t.Fatalf("expected lender to be reassigned")
	}
}
