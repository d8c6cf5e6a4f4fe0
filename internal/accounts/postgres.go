package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/ledger-core/internal/ledger"
)

// PostgresDirectory is the durable Directory backed by PostgreSQL.
type PostgresDirectory struct {
	Pool *pgxpool.Pool
}

// NewPostgresDirectory creates a Directory on an existing connection pool.
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{Pool: pool}
}

const queryTimeout = 5 * time.Second

const accountColumns = `id, user_id, account_type, currency, status, created_at, updated_at`

func (d *PostgresDirectory) CreateAccount(ctx context.Context, userID string, category Category, currency string) (*Account, error) {
	if err := ValidateCategory(category); err != nil {
		return nil, err
	}
	if err := ValidateCurrency(currency); err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

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

	_, err := d.Pool.Exec(queryCtx, `
		INSERT INTO accounts (id, user_id, account_type, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, account.ID, account.UserID, account.Category, account.Currency, account.Status, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}
	return &account, nil
}

func (d *PostgresDirectory) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := d.Pool.QueryRow(queryCtx, `
		SELECT `+accountColumns+` FROM accounts WHERE id = $1
	`, accountID)

	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

func (d *PostgresDirectory) ListForUser(ctx context.Context, userID string) ([]Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := d.Pool.Query(queryCtx, `
		SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read accounts: %w", err)
	}
	return accounts, nil
}

func (d *PostgresDirectory) SetStatus(ctx context.Context, accountID string, status Status) (*Account, error) {
	if err := ValidateStatus(status); err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := d.Pool.QueryRow(queryCtx, `
		UPDATE accounts SET status = $2, updated_at = $3 WHERE id = $1
		RETURNING `+accountColumns+`
	`, accountID, status, time.Now().UTC())

	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update account status: %w", err)
	}
	return account, nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.UserID, &a.Category, &a.Currency, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

var _ Directory = (*PostgresDirectory)(nil)
