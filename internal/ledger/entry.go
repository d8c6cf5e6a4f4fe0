package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction tells whether an entry increases or decreases an account's
// derived balance.
type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// Valid reports whether the direction is one of the two known values.
func (d Direction) Valid() bool {
	return d == Debit || d == Credit
}

// Entry is a single immutable ledger record. Amounts are always positive;
// the sign is carried by Direction. Entries are never updated or deleted
// once committed - corrections are new offsetting entries.
type Entry struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"account_id"`
	TransactionID string          `json:"transaction_id"`
	Direction     Direction       `json:"direction"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Signed returns the entry amount with the direction applied: positive for
// credits, negative for debits.
func (e Entry) Signed() decimal.Decimal {
	if e.Direction == Debit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// EntryInput describes one leg of an entry set before it is committed.
type EntryInput struct {
	AccountID string
	Direction Direction
	Amount    decimal.Decimal
}

// amountScale is the fixed-point scale for all monetary amounts.
const amountScale = 4

// ValidateAmount checks that an amount is positive and representable at
// scale 4. Amounts with more fractional digits are rejected rather than
// silently rounded; trailing zeros beyond scale 4 are fine, the comparison
// is on value, not representation.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(amountScale)) {
		return ErrInvalidAmount
	}
	return nil
}

// ValidateEntrySet enforces the double-entry invariant on a candidate set:
// every amount positive at scale 4, every direction known, and credits minus
// debits exactly zero. Store implementations call this before writing
// anything.
func ValidateEntrySet(inputs []EntryInput) error {
	if len(inputs) == 0 {
		return ErrUnbalancedEntrySet
	}

	sum := decimal.Zero
	for _, in := range inputs {
		if !in.Direction.Valid() {
			return ErrInvalidAmount
		}
		if err := ValidateAmount(in.Amount); err != nil {
			return err
		}
		if in.Direction == Credit {
			sum = sum.Add(in.Amount)
		} else {
			sum = sum.Sub(in.Amount)
		}
	}

	if !sum.IsZero() {
		return ErrUnbalancedEntrySet
	}
	return nil
}

// SumEntries computes the signed sum (credits minus debits) of a set of
// committed entries.
func SumEntries(entries []Entry) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Signed())
	}
	return sum
}

// netByAccount computes the signed net effect of an entry set per account.
// Store implementations use it to find the accounts a commit would debit
// overall, so the balance of each can be re-checked inside the commit scope.
func netByAccount(inputs []EntryInput) map[string]decimal.Decimal {
	net := make(map[string]decimal.Decimal, len(inputs))
	for _, in := range inputs {
		amount := in.Amount
		if in.Direction == Debit {
			amount = amount.Neg()
		}
		net[in.AccountID] = net[in.AccountID].Add(amount)
	}
	return net
}
