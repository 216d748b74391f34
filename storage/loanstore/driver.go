package loanstore

import (
	"errors"
	"fmt"
	"math/big"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"loanforge/crypto"
	"loanforge/native/loan"
)

// Driver implements loan.AssetDriver against a Store's asset-balance ledger,
// scoped to one loan's own custody address (self). A fresh Driver is handed
// to the engine for the duration of a single call, the same way the teacher's
// funding.Processor opens a transaction scoped to one webhook notification.
type Driver struct {
	store *Store
	self  crypto.Address
}

// NewDriver returns an AssetDriver whose outbound Transfer calls debit self's
// balance row.
func (s *Store) NewDriver(self crypto.Address) *Driver {
	return &Driver{store: s, self: self}
}

var _ loan.AssetDriver = (*Driver)(nil)

// BalanceOf returns account's recorded balance of asset, or zero if no row
// exists yet.
func (d *Driver) BalanceOf(asset, account crypto.Address) (*big.Int, error) {
	return d.store.balanceOf(d.store.db, asset, account)
}

func (s *Store) balanceOf(tx *gorm.DB, asset, account crypto.Address) (*big.Int, error) {
	var row AssetBalance
	err := tx.First(&row, "asset = ? AND holder = ?", addressToString(asset), addressToString(account)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loanstore: balance of: %w", err)
	}
	return stringToBig(row.Amount)
}

// Transfer moves amount of asset out of d.self's custody into to's balance.
func (d *Driver) Transfer(asset, to crypto.Address, amount *big.Int) error {
	return d.store.db.Transaction(func(tx *gorm.DB) error {
		return d.store.move(tx, asset, d.self, to, amount)
	})
}

// TransferFrom moves amount of asset from from's balance into to's balance,
// independent of d.self. Neither native/loan's engine nor services/loand
// calls it; deposits into a loan's custody balance go through
// CreditAssetBalance.
func (d *Driver) TransferFrom(asset, from, to crypto.Address, amount *big.Int) error {
	return d.store.db.Transaction(func(tx *gorm.DB) error {
		return d.store.move(tx, asset, from, to, amount)
	})
}

// move debits from and credits to inside the supplied transaction. A missing
// row is treated as a zero balance; the result is never allowed to go
// negative.
func (s *Store) move(tx *gorm.DB, asset, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("loanstore: transfer amount must be non-negative")
	}

	fromBal, err := s.balanceOf(tx, asset, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("loanstore: insufficient balance: have %s, need %s", fromBal, amount)
	}
	toBal, err := s.balanceOf(tx, asset, to)
	if err != nil {
		return err
	}

	newFrom := new(big.Int).Sub(fromBal, amount)
	newTo := new(big.Int).Add(toBal, amount)

	if err := s.upsertBalance(tx, asset, from, newFrom); err != nil {
		return err
	}
	return s.upsertBalance(tx, asset, to, newTo)
}

func (s *Store) upsertBalance(tx *gorm.DB, asset, holder crypto.Address, amount *big.Int) error {
	row := AssetBalance{Asset: addressToString(asset), Holder: addressToString(holder), Amount: bigToString(amount)}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "asset"}, {Name: "holder"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
	}).Create(&row).Error
}

// CreditAssetBalance increases holder's balance of asset by amount without
// debiting any other account — the entry point external deposits (a borrower
// or lender wiring funds into a loan's custody account out of band) use
// before the engine's own unaccounted() reconciliation picks the surplus up.
func (s *Store) CreditAssetBalance(asset, holder crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		bal, err := s.balanceOf(tx, asset, holder)
		if err != nil {
			return err
		}
		return s.upsertBalance(tx, asset, holder, new(big.Int).Add(bal, amount))
	})
}

// DebitAssetBalance decreases holder's balance of asset by amount, failing if
// the balance would go negative.
func (s *Store) DebitAssetBalance(asset, holder crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		bal, err := s.balanceOf(tx, asset, holder)
		if err != nil {
			return err
		}
		if bal.Cmp(amount) < 0 {
			return fmt.Errorf("loanstore: insufficient balance: have %s, need %s", bal, amount)
		}
		return s.upsertBalance(tx, asset, holder, new(big.Int).Sub(bal, amount))
	})
}

// GetAssetBalance is the read-only counterpart of CreditAssetBalance and
// DebitAssetBalance: it reports holder's balance of asset without routing
// through a Driver.
func (s *Store) GetAssetBalance(asset, holder crypto.Address) (*big.Int, error) {
	return s.balanceOf(s.db, asset, holder)
}
