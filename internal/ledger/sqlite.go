package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SQLiteStore is an embedded Store for local development, backed by
// mattn/go-sqlite3 through database/sql. SQLite serializes writers, so the
// single write transaction per commit is sufficient for atomicity.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a Store on an open sqlite database handle and
// ensures the ledger tables exist.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL CHECK (type IN ('deposit', 'withdrawal', 'transfer')),
			status TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'failed')),
			amount TEXT NOT NULL,
			currency TEXT NOT NULL CHECK (length(currency) = 3),
			description TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT UNIQUE,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			transaction_id TEXT NOT NULL REFERENCES transactions(id),
			direction TEXT NOT NULL CHECK (direction IN ('debit', 'credit')),
			amount TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_transaction ON ledger_entries(transaction_id)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create ledger schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CalculateBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT direction, amount FROM ledger_entries WHERE account_id = ?
	`, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	// Amounts are stored as decimal strings; summing in SQL would fall back
	// to float affinity, so the sum is computed here instead.
	balance := decimal.Zero
	for rows.Next() {
		var direction Direction
		var amount decimal.Decimal
		if err := rows.Scan(&direction, &amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan entry: %w", err)
		}
		if direction == Credit {
			balance = balance.Add(amount)
		} else {
			balance = balance.Sub(amount)
		}
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to read entries: %w", err)
	}
	return balance, nil
}

func (s *SQLiteStore) ListEntries(ctx context.Context, accountID string, limit, offset int) ([]Entry, error) {
	limit, offset, err := clampListRange(limit, offset)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, transaction_id, direction, amount, created_at
		FROM ledger_entries
		WHERE account_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.TransactionID, &e.Direction, &e.Amount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger entries: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) CommitEntrySet(ctx context.Context, txn Transaction, inputs []EntryInput) ([]Entry, error) {
	if err := validateCommit(txn, inputs); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// SQLite allows one writer at a time, so a balance read inside the
	// write transaction cannot go stale before the insert below.
	for accountID, net := range netByAccount(inputs) {
		if net.Sign() >= 0 {
			continue
		}
		balance, err := sumEntriesTx(ctx, tx, accountID)
		if err != nil {
			return nil, err
		}
		if balance.Add(net).Sign() < 0 {
			return nil, ErrInsufficientFunds
		}
	}

	now := time.Now().UTC()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}

	var idemKey any
	if txn.IdempotencyKey != "" {
		idemKey = txn.IdempotencyKey
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, type, status, amount, currency, description, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, txn.ID, txn.Type, txn.Status, txn.Amount.String(), txn.Currency, txn.Description, idemKey, txn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	committed := make([]Entry, 0, len(inputs))
	for _, in := range inputs {
		e := Entry{
			ID:            uuid.NewString(),
			AccountID:     in.AccountID,
			TransactionID: txn.ID,
			Direction:     in.Direction,
			Amount:        in.Amount,
			CreatedAt:     now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, account_id, transaction_id, direction, amount, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, e.ID, e.AccountID, e.TransactionID, e.Direction, e.Amount.String(), e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
		}
		committed = append(committed, e)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit entry set: %w", err)
	}
	return committed, nil
}

func sumEntriesTx(ctx context.Context, tx *sql.Tx, accountID string) (decimal.Decimal, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT direction, amount FROM ledger_entries WHERE account_id = ?
	`, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to re-check balance: %w", err)
	}
	defer rows.Close()

	balance := decimal.Zero
	for rows.Next() {
		var direction Direction
		var amount decimal.Decimal
		if err := rows.Scan(&direction, &amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan entry: %w", err)
		}
		if direction == Credit {
			balance = balance.Add(amount)
		} else {
			balance = balance.Sub(amount)
		}
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to read entries: %w", err)
	}
	return balance, nil
}

func (s *SQLiteStore) VerifyDoubleEntry(ctx context.Context, transactionID string) (bool, error) {
	txn, err := s.GetTransaction(ctx, transactionID)
	if err != nil {
		return false, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT direction, amount FROM ledger_entries WHERE transaction_id = ?
	`, transactionID)
	if err != nil {
		return false, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	sum := externalLeg(*txn)
	for rows.Next() {
		var direction Direction
		var amount decimal.Decimal
		if err := rows.Scan(&direction, &amount); err != nil {
			return false, fmt.Errorf("failed to scan entry: %w", err)
		}
		if direction == Credit {
			sum = sum.Add(amount)
		} else {
			sum = sum.Sub(amount)
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("failed to read entries: %w", err)
	}
	return sum.IsZero(), nil
}

func (s *SQLiteStore) GetTransaction(ctx context.Context, transactionID string) (*Transaction, error) {
	return s.scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT id, type, status, amount, currency, description, COALESCE(idempotency_key, ''), created_at
		FROM transactions
		WHERE id = ?
	`, transactionID))
}

func (s *SQLiteStore) FindByIdempotencyKey(ctx context.Context, key string) (*Transaction, error) {
	return s.scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT id, type, status, amount, currency, description, COALESCE(idempotency_key, ''), created_at
		FROM transactions
		WHERE idempotency_key = ?
	`, key))
}

func (s *SQLiteStore) scanTransaction(row *sql.Row) (*Transaction, error) {
	var txn Transaction
	err := row.Scan(&txn.ID, &txn.Type, &txn.Status, &txn.Amount, &txn.Currency, &txn.Description, &txn.IdempotencyKey, &txn.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &txn, nil
}

var _ Store = (*SQLiteStore)(nil)
