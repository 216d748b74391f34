// Package loanstore persists native/loan aggregates and their asset-balance
// ledger through gorm, the same persistence stack the teacher's gateway
// services use for their own domain models.
package loanstore

import (
	"time"

	"gorm.io/gorm"
)

// LoanRecord is the gorm-mapped row backing a single loan.Loan aggregate.
// Every big.Int-valued field is stored as its base-10 string so precision
// survives round-trips through the database's native numeric types.
type LoanRecord struct {
	LoanID          string `gorm:"primaryKey;size:128"`
	Borrower        string `gorm:"size:128;index"`
	Lender          string `gorm:"size:128;index"`
	CollateralAsset string `gorm:"size:128"`
	FundsAsset      string `gorm:"size:128"`

	GracePeriod         uint64
	PaymentInterval     uint64
	InterestRate        string `gorm:"size:96"`
	LateFeeRate         string `gorm:"size:96"`
	LateInterestPremium string `gorm:"size:96"`
	ClosingRate         string `gorm:"size:96"`
	CollateralRequired  string `gorm:"size:96"`
	PrincipalRequested  string `gorm:"size:96"`
	EndingPrincipal     string `gorm:"size:96"`

	DrawableFunds      string `gorm:"size:96"`
	ClaimableFunds     string `gorm:"size:96"`
	Collateral         string `gorm:"size:96"`
	Principal          string `gorm:"size:96"`
	NextPaymentDueDate uint64
	PaymentsRemaining  uint64

	RefinanceCommitment string `gorm:"size:64"`
	Status              uint8

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (LoanRecord) TableName() string { return "loan_records" }

// AssetBalance is the custody ledger row the loanstore.Driver reads and
// writes on behalf of native/loan's AssetDriver capability: one row per
// (asset, holder) pair, holding the holder's balance of that asset.
type AssetBalance struct {
	Asset  string `gorm:"primaryKey;size:128"`
	Holder string `gorm:"primaryKey;size:128"`
	Amount string `gorm:"size:96;not null;default:'0'"`

	UpdatedAt time.Time
}

func (AssetBalance) TableName() string { return "loan_asset_balances" }

// AutoMigrate performs schema migration for every model this package owns,
// mirroring services/otc-gateway/models.AutoMigrate's single entry point.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&LoanRecord{}, &AssetBalance{})
}
