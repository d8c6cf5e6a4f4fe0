package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore is the durable Store backed by PostgreSQL. Commits run in
// SERIALIZABLE transactions with the touched account rows locked FOR UPDATE
// in ascending identifier order, so concurrent movements against the same
// accounts are linearized by the database even across processes.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// NewPostgresStore creates a Store on an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

const (
	queryTimeout  = 5 * time.Second
	commitRetries = 3
)

func (ps *PostgresStore) CalculateBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance decimal.Decimal
	err := ps.Pool.QueryRow(queryCtx, `
		SELECT COALESCE(SUM(
			CASE WHEN direction = 'credit' THEN amount ELSE -amount END
		), 0)
		FROM ledger_entries
		WHERE account_id = $1
	`, accountID).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to calculate balance: %w", err)
	}
	return balance, nil
}

func (ps *PostgresStore) ListEntries(ctx context.Context, accountID string, limit, offset int) ([]Entry, error) {
	limit, offset, err := clampListRange(limit, offset)
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := ps.Pool.Query(queryCtx, `
		SELECT id, account_id, transaction_id, direction, amount, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
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

func (ps *PostgresStore) CommitEntrySet(ctx context.Context, txn Transaction, inputs []EntryInput) ([]Entry, error) {
	// The invariant is enforced here, before anything is written. The
	// database transaction below only protects against concurrent writers.
	if err := validateCommit(txn, inputs); err != nil {
		return nil, err
	}

	var committed []Entry
	for attempt := 0; attempt < commitRetries; attempt++ {
		entries, err := ps.commitOnce(ctx, txn, inputs)
		if err != nil {
			if IsRejection(err) {
				return nil, err
			}
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "40001" {
				// Serialization failure, retry.
				if attempt == commitRetries-1 {
					return nil, fmt.Errorf("failed to commit entry set after %d retries: %w", commitRetries, err)
				}
				time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
				continue
			}
			return nil, fmt.Errorf("failed to commit entry set: %w", err)
		}
		committed = entries
		break
	}
	return committed, nil
}

func (ps *PostgresStore) commitOnce(ctx context.Context, txn Transaction, inputs []EntryInput) ([]Entry, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	conn, err := ps.Pool.Acquire(queryCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(queryCtx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(queryCtx)

	// Lock every touched account row, always in ascending identifier order
	// so two transfers moving funds in opposite directions between the same
	// pair cannot deadlock.
	ids := accountIDsAscending(inputs)
	rows, err := tx.Query(queryCtx, `
		SELECT id FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock accounts: %w", err)
	}
	rows.Close()

	// Re-check sufficiency now that the account rows are locked. The
	// engine checks before committing, but its read is stale by commit
	// time when another process writes in between; this read is not.
	for accountID, net := range netByAccount(inputs) {
		if net.Sign() >= 0 {
			continue
		}
		var balance decimal.Decimal
		err := tx.QueryRow(queryCtx, `
			SELECT COALESCE(SUM(
				CASE WHEN direction = 'credit' THEN amount ELSE -amount END
			), 0)
			FROM ledger_entries
			WHERE account_id = $1
		`, accountID).Scan(&balance)
		if err != nil {
			return nil, fmt.Errorf("failed to re-check balance: %w", err)
		}
		if balance.Add(net).Sign() < 0 {
			return nil, ErrInsufficientFunds
		}
	}

	now := time.Now().UTC()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}

	_, err = tx.Exec(queryCtx, `
		INSERT INTO transactions (id, type, status, amount, currency, description, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
	`, txn.ID, txn.Type, txn.Status, txn.Amount, txn.Currency, txn.Description, txn.IdempotencyKey, txn.CreatedAt)
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
		_, err = tx.Exec(queryCtx, `
			INSERT INTO ledger_entries (id, account_id, transaction_id, direction, amount, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, e.ID, e.AccountID, e.TransactionID, e.Direction, e.Amount, e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
		}
		committed = append(committed, e)
	}

	if err := tx.Commit(queryCtx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return committed, nil
}

func accountIDsAscending(inputs []EntryInput) []string {
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, in.AccountID)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	return ids
}

func (ps *PostgresStore) VerifyDoubleEntry(ctx context.Context, transactionID string) (bool, error) {
	txn, err := ps.GetTransaction(ctx, transactionID)
	if err != nil {
		return false, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var sum decimal.Decimal
	err = ps.Pool.QueryRow(queryCtx, `
		SELECT COALESCE(SUM(
			CASE WHEN direction = 'credit' THEN amount ELSE -amount END
		), 0)
		FROM ledger_entries
		WHERE transaction_id = $1
	`, transactionID).Scan(&sum)
	if err != nil {
		return false, fmt.Errorf("failed to verify double entry: %w", err)
	}

	return sum.Add(externalLeg(*txn)).IsZero(), nil
}

func (ps *PostgresStore) GetTransaction(ctx context.Context, transactionID string) (*Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var txn Transaction
	err := ps.Pool.QueryRow(queryCtx, `
		SELECT id, type, status, amount, currency, description, COALESCE(idempotency_key, ''), created_at
		FROM transactions
		WHERE id = $1
	`, transactionID).Scan(&txn.ID, &txn.Type, &txn.Status, &txn.Amount, &txn.Currency, &txn.Description, &txn.IdempotencyKey, &txn.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &txn, nil
}

func (ps *PostgresStore) FindByIdempotencyKey(ctx context.Context, key string) (*Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var txn Transaction
	err := ps.Pool.QueryRow(queryCtx, `
		SELECT id, type, status, amount, currency, description, COALESCE(idempotency_key, ''), created_at
		FROM transactions
		WHERE idempotency_key = $1
	`, key).Scan(&txn.ID, &txn.Type, &txn.Status, &txn.Amount, &txn.Currency, &txn.Description, &txn.IdempotencyKey, &txn.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return &txn, nil
}

// Close closes the underlying pool.
func (ps *PostgresStore) Close() {
	ps.Pool.Close()
}

var _ Store = (*PostgresStore)(nil)
