package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a money movement.
type TransactionType string

const (
	TypeDeposit    TransactionType = "deposit"
	TypeWithdrawal TransactionType = "withdrawal"
	TypeTransfer   TransactionType = "transfer"
)

// TransactionStatus is the lifecycle state of a transaction. A transaction
// is created pending or directly completed and transitions at most once to a
// terminal state; it is never re-opened.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// Transaction groups the entries created by one movement. Amount is the
// nominal movement amount, distinct from per-entry amounts when more than
// two entries exist.
type Transaction struct {
	ID             string            `json:"id"`
	Type           TransactionType   `json:"type"`
	Status         TransactionStatus `json:"status"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	Description    string            `json:"description"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// validateCommit checks an entry set against the transaction it belongs to.
// Transfers must balance to exactly zero across their legs. Deposits and
// withdrawals are single-entry movements whose counterparty is an external
// funding source outside the ledger: the one stored leg must match the
// transaction's nominal amount and direction.
func validateCommit(txn Transaction, inputs []EntryInput) error {
	if err := ValidateAmount(txn.Amount); err != nil {
		return err
	}

	switch txn.Type {
	case TypeDeposit, TypeWithdrawal:
		if len(inputs) != 1 {
			return ErrUnbalancedEntrySet
		}
		in := inputs[0]
		if err := ValidateAmount(in.Amount); err != nil {
			return err
		}
		want := Credit
		if txn.Type == TypeWithdrawal {
			want = Debit
		}
		if in.Direction != want || !in.Amount.Equal(txn.Amount) {
			return ErrUnbalancedEntrySet
		}
		return nil
	default:
		return ValidateEntrySet(inputs)
	}
}

// externalLeg returns the signed amount of the implicit external funding
// side of a transaction: zero for transfers, which are fully internal.
func externalLeg(txn Transaction) decimal.Decimal {
	switch txn.Type {
	case TypeDeposit:
		// The external source is debited; the stored leg is a credit.
		return txn.Amount.Neg()
	case TypeWithdrawal:
		return txn.Amount
	default:
		return decimal.Zero
	}
}
