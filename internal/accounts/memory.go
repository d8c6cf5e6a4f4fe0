package accounts

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ledger-core/internal/ledger"
)

// MemoryDirectory is an in-memory Directory for tests and local development.
type MemoryDirectory struct {
	mu       sync.Mutex
	accounts map[string]Account
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{accounts: make(map[string]Account)}
}

func (d *MemoryDirectory) CreateAccount(_ context.Context, userID string, category Category, currency string) (*Account, error) {
	if err := ValidateCategory(category); err != nil {
		return nil, err
	}
	if err := ValidateCurrency(currency); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UTC()
	account := Account{
		ID:        uuid.NewString(),
		UserID:    userID,
		Category:  category,
		Currency:  currency,
		Status:    Active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	d.accounts[account.ID] = account
	return &account, nil
}

func (d *MemoryDirectory) GetAccount(_ context.Context, accountID string) (*Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	account, ok := d.accounts[accountID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &account, nil
}

func (d *MemoryDirectory) ListForUser(_ context.Context, userID string) ([]Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var result []Account
	for _, account := range d.accounts {
		if account.UserID == userID {
			result = append(result, account)
		}
	}
	return result, nil
}

func (d *MemoryDirectory) SetStatus(_ context.Context, accountID string, status Status) (*Account, error) {
	if err := ValidateStatus(status); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	account, ok := d.accounts[accountID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	account.Status = status
	account.UpdatedAt = time.Now().UTC()
	d.accounts[accountID] = account
	return &account, nil
}

var _ Directory = (*MemoryDirectory)(nil)
