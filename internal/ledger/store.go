package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// MaxListLimit bounds ListEntries result sets.
const MaxListLimit = 1000

// Store is the durable, append-only entry store. Implementations must make
// CommitEntrySet atomic: either every entry of the set becomes visible to
// subsequent balance reads, or none does.
type Store interface {
	// CalculateBalance sums all entries for the account, credits minus
	// debits, using exact fixed-point arithmetic. An account with no entries
	// has balance exactly zero.
	CalculateBalance(ctx context.Context, accountID string) (decimal.Decimal, error)

	// ListEntries returns entries for the account most-recent-first.
	// limit is clamped to MaxListLimit; negative limit or offset is
	// ErrInvalidRange.
	ListEntries(ctx context.Context, accountID string, limit, offset int) ([]Entry, error)

	// CommitEntrySet validates the set against the transaction and writes
	// the transaction row plus all entries as one atomic unit. An unbalanced
	// set or a non-positive amount fails with ErrUnbalancedEntrySet or
	// ErrInvalidAmount and writes nothing. A set that would take any
	// account's balance below zero fails with ErrInsufficientFunds; the
	// sufficiency check runs inside the same atomic scope as the write, so
	// it holds even when several processes share the store.
	CommitEntrySet(ctx context.Context, txn Transaction, inputs []EntryInput) ([]Entry, error)

	// VerifyDoubleEntry recomputes the signed sum of the entries sharing a
	// transaction identifier, including the implicit external leg of
	// deposits and withdrawals, and reports whether it is exactly zero.
	// It is a post-commit audit, not a gate.
	VerifyDoubleEntry(ctx context.Context, transactionID string) (bool, error)

	// GetTransaction returns a committed transaction or ErrNotFound.
	GetTransaction(ctx context.Context, transactionID string) (*Transaction, error)

	// FindByIdempotencyKey returns the transaction previously committed with
	// the key, or ErrNotFound when the key is unused.
	FindByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
}

func clampListRange(limit, offset int) (int, int, error) {
	if limit < 0 || offset < 0 {
		return 0, 0, ErrInvalidRange
	}
	if limit == 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	return limit, offset, nil
}
