package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory Store used by tests and local development.
// A single mutex guards all state, which makes every commit trivially
// atomic with respect to balance reads.
type MemoryStore struct {
	mu           sync.Mutex
	entries      []Entry
	transactions map[string]Transaction
	byIdemKey    map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]Transaction),
		byIdemKey:    make(map[string]string),
	}
}

func (m *MemoryStore) CalculateBalance(_ context.Context, accountID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(accountID), nil
}

func (m *MemoryStore) balanceLocked(accountID string) decimal.Decimal {
	balance := decimal.Zero
	for _, e := range m.entries {
		if e.AccountID == accountID {
			balance = balance.Add(e.Signed())
		}
	}
	return balance
}

func (m *MemoryStore) ListEntries(_ context.Context, accountID string, limit, offset int) ([]Entry, error) {
	limit, offset, err := clampListRange(limit, offset)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Entries are appended in commit order; walk backwards for
	// most-recent-first.
	var result []Entry
	skipped := 0
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].AccountID != accountID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		result = append(result, m.entries[i])
	}
	return result, nil
}

func (m *MemoryStore) CommitEntrySet(_ context.Context, txn Transaction, inputs []EntryInput) ([]Entry, error) {
	if err := validateCommit(txn, inputs); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// The durable backends enforce this with a UNIQUE constraint.
	if txn.IdempotencyKey != "" {
		if _, exists := m.byIdemKey[txn.IdempotencyKey]; exists {
			return nil, fmt.Errorf("idempotency key %q already used", txn.IdempotencyKey)
		}
	}

	// Sufficiency is re-checked here, inside the same critical section as
	// the write, so a stale balance read taken before the commit cannot
	// overdraw an account.
	for accountID, net := range netByAccount(inputs) {
		if net.Sign() >= 0 {
			continue
		}
		if m.balanceLocked(accountID).Add(net).Sign() < 0 {
			return nil, ErrInsufficientFunds
		}
	}

	now := time.Now().UTC()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}

	committed := make([]Entry, 0, len(inputs))
	for _, in := range inputs {
		committed = append(committed, Entry{
			ID:            uuid.NewString(),
			AccountID:     in.AccountID,
			TransactionID: txn.ID,
			Direction:     in.Direction,
			Amount:        in.Amount,
			CreatedAt:     now,
		})
	}

	m.transactions[txn.ID] = txn
	if txn.IdempotencyKey != "" {
		m.byIdemKey[txn.IdempotencyKey] = txn.ID
	}
	m.entries = append(m.entries, committed...)

	return committed, nil
}

func (m *MemoryStore) VerifyDoubleEntry(_ context.Context, transactionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.transactions[transactionID]
	if !ok {
		return false, ErrNotFound
	}

	sum := externalLeg(txn)
	for _, e := range m.entries {
		if e.TransactionID == transactionID {
			sum = sum.Add(e.Signed())
		}
	}
	return sum.IsZero(), nil
}

func (m *MemoryStore) GetTransaction(_ context.Context, transactionID string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.transactions[transactionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &txn, nil
}

func (m *MemoryStore) FindByIdempotencyKey(_ context.Context, key string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byIdemKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	txn := m.transactions[id]
	return &txn, nil
}

var _ Store = (*MemoryStore)(nil)
