package loanstore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"gorm.io/gorm"

	"loanforge/crypto"
	"loanforge/native/loan"
)

// ErrNotFound is returned by GetLoan when no record exists for the given ID.
var ErrNotFound = errors.New("loanstore: loan not found")

// Store wraps a *gorm.DB with the per-loan serialization the engine itself
// does not provide. Each loan ID gets its own *sync.Mutex, lazily created and
// kept for the process lifetime, mirroring the map-guarded-by-a-mutex idiom
// used by the teacher's own per-key guards (p2p's nonce tracker).
type Store struct {
	db *gorm.DB

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewStore wraps db. Callers are expected to have already run AutoMigrate.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for loanID and returns a function that releases it.
// Every engine call against a given loan must be bracketed by Lock/unlock so
// concurrent callers observe the single-threaded, totally ordered operation
// sequence the engine itself assumes.
func (s *Store) Lock(loanID string) func() {
	s.locksMu.Lock()
	m, ok := s.locks[loanID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[loanID] = m
	}
	s.locksMu.Unlock()

	m.Lock()
	return m.Unlock
}

// GetLoan loads and decodes the loan with the given ID.
func (s *Store) GetLoan(loanID string) (*loan.Loan, error) {
	var rec LoanRecord
	if err := s.db.First(&rec, "loan_id = ?", loanID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loanstore: get loan: %w", err)
	}
	return recordToLoan(&rec)
}

// PutLoan encodes and upserts l under loanID in a single transaction.
func (s *Store) PutLoan(loanID string, l *loan.Loan) error {
	rec, err := loanToRecord(loanID, l)
	if err != nil {
		return err
	}
	return s.db.Save(rec).Error
}

func bigToString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func stringToBig(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("loanstore: invalid integer %q", s)
	}
	return v, nil
}

func addressToString(a crypto.Address) string {
	if len(a.Bytes()) == 0 {
		return ""
	}
	return a.String()
}

func stringToAddress(s string) (crypto.Address, error) {
	if s == "" {
		return crypto.Address{}, nil
	}
	return crypto.DecodeAddress(s)
}

func loanToRecord(loanID string, l *loan.Loan) (*LoanRecord, error) {
	if l == nil {
		return nil, fmt.Errorf("loanstore: cannot persist a nil loan")
	}
	return &LoanRecord{
		LoanID:          loanID,
		Borrower:        addressToString(l.Borrower),
		Lender:          addressToString(l.Lender),
		CollateralAsset: addressToString(l.CollateralAsset),
		FundsAsset:      addressToString(l.FundsAsset),

		GracePeriod:         l.Terms.GracePeriod,
		PaymentInterval:     l.Terms.PaymentInterval,
		InterestRate:        bigToString(l.Terms.InterestRate),
		LateFeeRate:         bigToString(l.Terms.LateFeeRate),
		LateInterestPremium: bigToString(l.Terms.LateInterestPremium),
		ClosingRate:         bigToString(l.Terms.ClosingRate),
		CollateralRequired:  bigToString(l.Terms.CollateralRequired),
		PrincipalRequested:  bigToString(l.Terms.PrincipalRequested),
		EndingPrincipal:     bigToString(l.Terms.EndingPrincipal),

		DrawableFunds:      bigToString(l.DrawableFunds),
		ClaimableFunds:     bigToString(l.ClaimableFunds),
		Collateral:         bigToString(l.Collateral),
		Principal:          bigToString(l.Principal),
		NextPaymentDueDate: l.NextPaymentDueDate,
		PaymentsRemaining:  l.PaymentsRemaining,

		RefinanceCommitment: hex.EncodeToString(l.RefinanceCommitment[:]),
		Status:              uint8(l.Status),
	}, nil
}

func recordToLoan(rec *LoanRecord) (*loan.Loan, error) {
	borrower, err := stringToAddress(rec.Borrower)
	if err != nil {
		return nil, fmt.Errorf("loanstore: decode borrower: %w", err)
	}
	lender, err := stringToAddress(rec.Lender)
	if err != nil {
		return nil, fmt.Errorf("loanstore: decode lender: %w", err)
	}
	collateralAsset, err := stringToAddress(rec.CollateralAsset)
	if err != nil {
		return nil, fmt.Errorf("loanstore: decode collateral asset: %w", err)
	}
	fundsAsset, err := stringToAddress(rec.FundsAsset)
	if err != nil {
		return nil, fmt.Errorf("loanstore: decode funds asset: %w", err)
	}

	terms := loan.Terms{GracePeriod: rec.GracePeriod, PaymentInterval: rec.PaymentInterval}
	for _, f := range []struct {
		dst **big.Int
		src string
	}{
		{&terms.InterestRate, rec.InterestRate},
		{&terms.LateFeeRate, rec.LateFeeRate},
		{&terms.LateInterestPremium, rec.LateInterestPremium},
		{&terms.ClosingRate, rec.ClosingRate},
		{&terms.CollateralRequired, rec.CollateralRequired},
		{&terms.PrincipalRequested, rec.PrincipalRequested},
		{&terms.EndingPrincipal, rec.EndingPrincipal},
	} {
		v, err := stringToBig(f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}

	drawable, err := stringToBig(rec.DrawableFunds)
	if err != nil {
		return nil, err
	}
	claimable, err := stringToBig(rec.ClaimableFunds)
	if err != nil {
		return nil, err
	}
	collateral, err := stringToBig(rec.Collateral)
	if err != nil {
		return nil, err
	}
	principal, err := stringToBig(rec.Principal)
	if err != nil {
		return nil, err
	}

	var commitment [32]byte
	if rec.RefinanceCommitment != "" {
		decoded, err := hex.DecodeString(rec.RefinanceCommitment)
		if err != nil || len(decoded) != len(commitment) {
			return nil, fmt.Errorf("loanstore: decode refinance commitment: %w", err)
		}
		copy(commitment[:], decoded)
	}

	return &loan.Loan{
		Borrower:            borrower,
		Lender:              lender,
		CollateralAsset:     collateralAsset,
		FundsAsset:          fundsAsset,
		Terms:               terms,
		DrawableFunds:       drawable,
		ClaimableFunds:      claimable,
		Collateral:          collateral,
		Principal:           principal,
		NextPaymentDueDate:  rec.NextPaymentDueDate,
		PaymentsRemaining:   rec.PaymentsRemaining,
		RefinanceCommitment: commitment,
		Status:              loan.Status(rec.Status),
	}, nil
}
