package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"loanforge/crypto"
	"loanforge/native/loan"
	"loanforge/storage/loanstore"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := loanstore.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testAddr(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.MustNewAddress(crypto.NHBPrefix, raw)
}

func seedLoan(t *testing.T, store *loanstore.Store, loanID string, borrower, collateralAsset, fundsAsset crypto.Address) *loan.Loan {
	t.Helper()
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
	l.Collateral = big.NewInt(500_000)
	if err := store.PutLoan(loanID, l); err != nil {
		t.Fatalf("PutLoan: %v", err)
	}
	return l
}

func newTestServer(t *testing.T) (*Server, *loanstore.Store) {
	t.Helper()
	store := loanstore.NewStore(setupTestDB(t))
	srv := New(Config{
		Store: store,
		Now:   func() uint64 { return 1_700_000_000 },
	})
	return srv, store
}

func TestGetLoanReturnsSeededDetails(t *testing.T) {
	srv, store := newTestServer(t)
	borrower := testAddr(0x01)
	collateralAsset := testAddr(0x02)
	fundsAsset := testAddr(0x03)
	seedLoan(t, store, "loan-1", borrower, collateralAsset, fundsAsset)

	req := httptest.NewRequest(http.MethodGet, "/loans/loan-1/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var details loan.Details
	if err := json.Unmarshal(rec.Body.Bytes(), &details); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if details.Borrower != borrower.String() {
		t.Fatalf("borrower = %s, want %s", details.Borrower, borrower.String())
	}
}

func TestGetLoanMissingReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/loans/does-not-exist/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestFundLoanActivatesAndPersists(t *testing.T) {
	srv, store := newTestServer(t)
	borrower := testAddr(0x01)
	collateralAsset := testAddr(0x02)
	fundsAsset := testAddr(0x03)
	seedLoan(t, store, "loan-1", borrower, collateralAsset, fundsAsset)

	self := custodyAddress("loan-1")
	if err := store.CreditAssetBalance(fundsAsset, self, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("seed funds balance: %v", err)
	}

	// No auth secret is configured, so the caller is the zero address and
	// that is who FundLoan binds as lender.
	req := httptest.NewRequest(http.MethodPost, "/loans/loan-1/fund", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	got, err := store.GetLoan("loan-1")
	if err != nil {
		t.Fatalf("GetLoan: %v", err)
	}
	if got.Status != loan.StatusActive {
		t.Fatalf("status = %v, want active", got.Status)
	}
}

func TestRemoveCollateralRejectsNonBorrower(t *testing.T) {
	srv, store := newTestServer(t)
	borrower := testAddr(0x01)
	collateralAsset := testAddr(0x02)
	fundsAsset := testAddr(0x03)
	seedLoan(t, store, "loan-1", borrower, collateralAsset, fundsAsset)

	body, _ := json.Marshal(map[string]string{"amount": "1000"})
	req := httptest.NewRequest(http.MethodPost, "/loans/loan-1/collateral/remove", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	// No auth secret configured means every caller is the zero address,
	// which never matches the seeded borrower.
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403, body=%s", rec.Code, rec.Body.String())
	}
}
