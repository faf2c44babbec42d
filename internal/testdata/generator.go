// Package testdata builds fixture books for tests across the repository.
package testdata

import (
	"context"
	"time"

	"fiximports/internal/book"
)

// Fixture exposes the accounts of the canonical seeded book.
type Fixture struct {
	Checking   *book.Account
	CreditCard *book.Account
	Groceries  *book.Account
	Dining     *book.Account
	Fuel       *book.Account
	Imbalance  *book.Account
}

// Txn is one seeded imported transaction: value moved from the offset account
// into the imbalance account, waiting to be reclassified.
type Txn struct {
	Description string
	Memo        string
	Offset      *book.Account // nil means Checking
	ValueNum    int64
	When        time.Time
}

// DefaultTxns is the canonical set of imported transactions.
func DefaultTxns(f Fixture) []Txn {
	day := func(d int) time.Time {
		return time.Date(2026, time.March, d, 12, 0, 0, 0, time.UTC)
	}
	return []Txn{
		{Description: "Pizza Hut order", Memo: "card 4421", ValueNum: 3250, When: day(2)},
		{Description: "WOOLWORTHS 1041", Memo: "groceries run", ValueNum: 8120, When: day(3)},
		{Description: "Shell Coburg", Memo: "fuel", Offset: f.CreditCard, ValueNum: 6400, When: day(5)},
		{Description: "Opera ticket", Memo: "anniversary", ValueNum: 15000, When: day(9)},
	}
}

// Seed builds the canonical account tree and imported transactions in b.
func Seed(ctx context.Context, b *book.Book) (Fixture, error) {
	var f Fixture
	root := b.Root()

	assets, err := b.AddAccount(ctx, root, "Assets", "ASSET")
	if err != nil {
		return f, err
	}
	if f.Checking, err = b.AddAccount(ctx, assets, "Checking", "BANK"); err != nil {
		return f, err
	}
	liabilities, err := b.AddAccount(ctx, root, "Liabilities", "LIABILITY")
	if err != nil {
		return f, err
	}
	if f.CreditCard, err = b.AddAccount(ctx, liabilities, "CreditCard", "CREDIT"); err != nil {
		return f, err
	}
	expenses, err := b.AddAccount(ctx, root, "Expenses", "EXPENSE")
	if err != nil {
		return f, err
	}
	if f.Groceries, err = b.AddAccount(ctx, expenses, "Groceries", "EXPENSE"); err != nil {
		return f, err
	}
	if f.Dining, err = b.AddAccount(ctx, expenses, "Dining", "EXPENSE"); err != nil {
		return f, err
	}
	if f.Fuel, err = b.AddAccount(ctx, expenses, "Fuel", "EXPENSE"); err != nil {
		return f, err
	}
	if f.Imbalance, err = b.AddAccount(ctx, root, "Imbalance-USD", "BANK"); err != nil {
		return f, err
	}

	for _, txn := range DefaultTxns(f) {
		offset := txn.Offset
		if offset == nil {
			offset = f.Checking
		}
		if _, err := b.AddTransaction(ctx, offset, f.Imbalance, txn.Description, txn.When, txn.ValueNum, "", txn.Memo); err != nil {
			return f, err
		}
	}
	return f, nil
}
