// Package accounts is the account directory: identity, currency and status
// records for ledger accounts. Balances are never stored here; they are
// derived from the ledger on every read.
package accounts

import (
	"context"
	"regexp"
	"time"

	"github.com/example/ledger-core/internal/ledger"
)

// Category is the closed set of account categories.
type Category string

const (
	Checking Category = "checking"
	Savings  Category = "savings"
	Business Category = "business"
)

// Status is the closed set of account lifecycle states. Status transitions
// are the only permitted mutation; accounts are never physically deleted.
type Status string

const (
	Active Status = "active"
	Frozen Status = "frozen"
	Closed Status = "closed"
)

// Account is a directory record. Currency is fixed at creation and never
// changes.
type Account struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Category  Category  `json:"account_type"`
	Currency  string    `json:"currency"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Directory exposes account lookup and eligibility checks. A missing account
// is ledger.ErrNotFound; infrastructure failures are distinct, wrapped
// errors - the two are never collapsed.
type Directory interface {
	CreateAccount(ctx context.Context, userID string, category Category, currency string) (*Account, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	ListForUser(ctx context.Context, userID string) ([]Account, error)
	SetStatus(ctx context.Context, accountID string, status Status) (*Account, error)
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidateCategory checks membership in the closed category set.
func ValidateCategory(category Category) error {
	switch category {
	case Checking, Savings, Business:
		return nil
	}
	return ledger.ErrInvalidAccountType
}

// ValidateCurrency checks for a 3-letter uppercase ISO 4217 style code.
func ValidateCurrency(currency string) error {
	if !currencyPattern.MatchString(currency) {
		return ledger.ErrInvalidCurrency
	}
	return nil
}

// ValidateStatus checks membership in the closed status set.
func ValidateStatus(status Status) error {
	switch status {
	case Active, Frozen, Closed:
		return nil
	}
	return ledger.ErrInvalidStatus
}

// EligibleForDebit reports whether the account may be debited. Frozen and
// closed accounts reject all movement.
func (a *Account) EligibleForDebit() bool {
	return a.Status == Active
}

// EligibleForCredit reports whether the account may be credited.
func (a *Account) EligibleForCredit() bool {
	return a.Status == Active
}
