package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/ledger-core/internal/ledger"
)

// SQLiteDirectory is an embedded Directory for local development, sharing a
// database handle with the sqlite ledger store.
type SQLiteDirectory struct {
	db *sql.DB
}

// NewSQLiteDirectory creates a Directory on an open sqlite database handle
// and ensures the accounts table exists.
func NewSQLiteDirectory(db *sql.DB) (*SQLiteDirectory, error) {
	schema := `CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		account_type TEXT NOT NULL CHECK (account_type IN ('checking', 'savings', 'business')),
		currency TEXT NOT NULL CHECK (length(currency) = 3),
		status TEXT NOT NULL CHECK (status IN ('active', 'frozen', 'closed')),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create accounts schema: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id)`); err != nil {
		return nil, fmt.Errorf("failed to create accounts index: %w", err)
	}
	return &SQLiteDirectory{db: db}, nil
}

func (d *SQLiteDirectory) CreateAccount(ctx context.Context, userID string, category Category, currency string) (*Account, error) {
	if err := ValidateCategory(category); err != nil {
		return nil, err
	}
	if err := ValidateCurrency(currency); err != nil {
		return nil, err
	}

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

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, account_type, currency, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, account.ID, account.UserID, string(account.Category), account.Currency, string(account.Status), account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}
	return &account, nil
}

func (d *SQLiteDirectory) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, user_id, account_type, currency, status, created_at, updated_at
		FROM accounts WHERE id = ?
	`, accountID)

	var a Account
	err := row.Scan(&a.ID, &a.UserID, &a.Category, &a.Currency, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

func (d *SQLiteDirectory) ListForUser(ctx context.Context, userID string) ([]Account, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, account_type, currency, status, created_at, updated_at
		FROM accounts WHERE user_id = ? ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Category, &a.Currency, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read accounts: %w", err)
	}
	return accounts, nil
}

func (d *SQLiteDirectory) SetStatus(ctx context.Context, accountID string, status Status) (*Account, error) {
	if err := ValidateStatus(status); err != nil {
		return nil, err
	}

	result, err := d.db.ExecContext(ctx, `
		UPDATE accounts SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC(), accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to update account status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check status update: %w", err)
	}
	if affected == 0 {
		return nil, ledger.ErrNotFound
	}
	return d.GetAccount(ctx, accountID)
}

var _ Directory = (*SQLiteDirectory)(nil)
