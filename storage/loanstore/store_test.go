package loanstore

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"loanforge/crypto"
	"loanforge/native/loan"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testAddr(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.MustNewAddress(crypto.NHBPrefix, raw)
}

func TestPutLoanAndGetLoanRoundTrip(t *testing.T) {
	store := NewStore(setupTestDB(t))

	borrower := testAddr(0x01)
	collateralAsset := testAddr(0x02)
	fundsAsset := testAddr(0x03)
	terms := loan.Terms{
		GracePeriod:         86400,
		PaymentInterval:     2592000,
		InterestRate:        big.NewInt(100_000_000_000_000_000),
		LateFeeRate:         big.NewInt(10_000_000_000_000_000),
		LateInterestPremium: big.NewInt(50_000_000_000_000_000),
		ClosingRate:         big.NewInt(20_000_000_000_000_000),
		CollateralRequired:  big.NewInt(500_000),
		PrincipalRequested:  big.NewInt(1_000_000),
		EndingPrincipal:     big.NewInt(0),
	}
	l, err := loan.New(borrower, collateralAsset, fundsAsset, terms, 12)
	if err != nil {
		t.Fatalf("loan.New: %v", err)
	}
	l.Collateral = big.NewInt(250_000)

	if err := store.PutLoan("loan-1", l); err != nil {
		t.Fatalf("PutLoan: %v", err)
	}

	got, err := store.GetLoan("loan-1")
	if err != nil {
		t.Fatalf("GetLoan: %v", err)
	}
	if got.Collateral.Cmp(big.NewInt(250_000)) != 0 {
		t.Fatalf("collateral round trip = %s, want 250000", got.Collateral)
	}
	if got.Terms.PrincipalRequested.Cmp(terms.PrincipalRequested) != 0 {
		t.Fatalf("principalRequested round trip = %s, want %s", got.Terms.PrincipalRequested, terms.PrincipalRequested)
	}
	if got.Borrower.String() != borrower.String() {
		t.Fatalf("borrower round trip = %s, want %s", got.Borrower.String(), borrower.String())
	}
}

func TestGetLoanMissingReturnsErrNotFound(t *testing.T) {
	store := NewStore(setupTestDB(t))
	if _, err := store.GetLoan("does-not-exist"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDriverTransferDebitsSelfCreditsDestination(t *testing.T) {
	store := NewStore(setupTestDB(t))
	asset := testAddr(0x10)
	self := testAddr(0x11)
	dst := testAddr(0x12)

	if err := store.CreditAssetBalance(asset, self, big.NewInt(1_000)); err != nil {
		t.Fatalf("CreditAssetBalance: %v", err)
	}

	driver := store.NewDriver(self)
	if err := driver.Transfer(asset, dst, big.NewInt(400)); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	selfBal, err := driver.BalanceOf(asset, self)
	if err != nil {
		t.Fatalf("BalanceOf self: %v", err)
	}
	if selfBal.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("self balance = %s, want 600", selfBal)
	}
	dstBal, err := driver.BalanceOf(asset, dst)
	if err != nil {
		t.Fatalf("BalanceOf dst: %v", err)
	}
	if dstBal.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("dst balance = %s, want 400", dstBal)
	}
}

func TestDriverTransferRejectsInsufficientBalance(t *testing.T) {
	store := NewStore(setupTestDB(t))
	asset := testAddr(0x20)
	self := testAddr(0x21)
	dst := testAddr(0x22)

	driver := store.NewDriver(self)
	if err := driver.Transfer(asset, dst, big.NewInt(50)); err == nil {
		t.Fatalf("expected insufficient balance error")
	}
}

func TestLockSerializesPerLoanID(t *testing.T) {
	store := NewStore(setupTestDB(t))
	unlock := store.Lock("loan-42")
	done := make(chan struct{})
	go func() {
		unlock2 := store.Lock("loan-42")
		unlock2()
		close(done)
	}()
	select {
	case <-done:
		t.Fatalf("second Lock on the same loan ID should not have succeeded before the first unlocked")
	default:
	}
	unlock()
	<-done
}
