// Package engine implements atomic, validated money movement on top of the
// account directory and the ledger store. It is the only writer of
// transactions and their paired ledger entries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/ledger-core/internal/accounts"
	"github.com/example/ledger-core/internal/events"
	"github.com/example/ledger-core/internal/ledger"
)

// DefaultOperationTimeout bounds how long a movement may wait for its
// per-account ordering before it is rejected.
const DefaultOperationTimeout = 5 * time.Second

// Dependencies wires an Engine. Directory and Store are required; Publisher
// and Logger are optional.
type Dependencies struct {
	Directory        accounts.Directory
	Store            ledger.Store
	Publisher        events.Publisher
	Logger           *slog.Logger
	OperationTimeout time.Duration
}

// Engine executes deposits, withdrawals and transfers. It holds no
// cross-call mutable state beyond the per-account lock table and is safe
// for concurrent use.
type Engine struct {
	directory accounts.Directory
	store     ledger.Store
	publisher events.Publisher
	logger    *slog.Logger
	locks     *accountLocks
	opTimeout time.Duration
}

// New creates an Engine from its dependencies.
func New(deps Dependencies) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := deps.OperationTimeout
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return &Engine{
		directory: deps.Directory,
		store:     deps.Store,
		publisher: deps.Publisher,
		logger:    logger,
		locks:     newAccountLocks(),
		opTimeout: timeout,
	}
}

// DepositRequest funds an account from an external source.
type DepositRequest struct {
	AccountID      string          `json:"account_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Description    string          `json:"description"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// WithdrawalRequest moves funds out of an account to an external sink.
type WithdrawalRequest struct {
	AccountID      string          `json:"account_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Description    string          `json:"description"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// TransferRequest moves funds between two ledger accounts.
type TransferRequest struct {
	SourceAccountID      string          `json:"source_account_id"`
	DestinationAccountID string          `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	Description          string          `json:"description"`
	IdempotencyKey       string          `json:"idempotency_key,omitempty"`
}

// AccountWithBalance pairs a directory record with its derived balance.
// The balance is recomputed from entries on every read; it is never stored.
type AccountWithBalance struct {
	accounts.Account
	Balance decimal.Decimal `json:"balance"`
}

// ExecuteDeposit credits the account with the full amount as a single-entry
// movement. The funding counterparty is external and is not itself a ledger
// account.
func (e *Engine) ExecuteDeposit(ctx context.Context, req DepositRequest) (*ledger.Transaction, error) {
	if err := ledger.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	if err := accounts.ValidateCurrency(req.Currency); err != nil {
		return nil, err
	}

	return e.withAccounts(ctx, req.IdempotencyKey, []string{req.AccountID}, func(ctx context.Context) (*ledger.Transaction, []ledger.EntryInput, error) {
		account, err := e.directory.GetAccount(ctx, req.AccountID)
		if err != nil {
			return nil, nil, err
		}
		if !account.EligibleForCredit() {
			return nil, nil, ledger.ErrAccountNotActive
		}
		if account.Currency != req.Currency {
			return nil, nil, ledger.ErrCurrencyMismatch
		}

		txn := e.newTransaction(ledger.TypeDeposit, req.Amount, req.Currency, req.Description, req.IdempotencyKey)
		inputs := []ledger.EntryInput{
			{AccountID: req.AccountID, Direction: ledger.Credit, Amount: req.Amount},
		}
		return &txn, inputs, nil
	})
}

// ExecuteWithdrawal debits the account after a sufficiency check taken
// inside the same account ordering scope as the commit.
func (e *Engine) ExecuteWithdrawal(ctx context.Context, req WithdrawalRequest) (*ledger.Transaction, error) {
	if err := ledger.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	if err := accounts.ValidateCurrency(req.Currency); err != nil {
		return nil, err
	}

	return e.withAccounts(ctx, req.IdempotencyKey, []string{req.AccountID}, func(ctx context.Context) (*ledger.Transaction, []ledger.EntryInput, error) {
		account, err := e.directory.GetAccount(ctx, req.AccountID)
		if err != nil {
			return nil, nil, err
		}
		if !account.EligibleForDebit() {
			return nil, nil, ledger.ErrAccountNotActive
		}
		if account.Currency != req.Currency {
			return nil, nil, ledger.ErrCurrencyMismatch
		}

		balance, err := e.store.CalculateBalance(ctx, req.AccountID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read balance: %w", err)
		}
		if balance.LessThan(req.Amount) {
			return nil, nil, ledger.ErrInsufficientFunds
		}

		txn := e.newTransaction(ledger.TypeWithdrawal, req.Amount, req.Currency, req.Description, req.IdempotencyKey)
		inputs := []ledger.EntryInput{
			{AccountID: req.AccountID, Direction: ledger.Debit, Amount: req.Amount},
		}
		return &txn, inputs, nil
	})
}

// ExecuteTransfer debits the source and credits the destination as one
// balanced entry set. The whole operation fails, writing nothing, if any
// precondition fails.
func (e *Engine) ExecuteTransfer(ctx context.Context, req TransferRequest) (*ledger.Transaction, error) {
	if err := ledger.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	if err := accounts.ValidateCurrency(req.Currency); err != nil {
		return nil, err
	}
	if req.SourceAccountID == req.DestinationAccountID {
		return nil, ledger.ErrSameAccount
	}

	ids := []string{req.SourceAccountID, req.DestinationAccountID}
	return e.withAccounts(ctx, req.IdempotencyKey, ids, func(ctx context.Context) (*ledger.Transaction, []ledger.EntryInput, error) {
		source, err := e.directory.GetAccount(ctx, req.SourceAccountID)
		if err != nil {
			return nil, nil, err
		}
		destination, err := e.directory.GetAccount(ctx, req.DestinationAccountID)
		if err != nil {
			return nil, nil, err
		}
		if !source.EligibleForDebit() || !destination.EligibleForCredit() {
			return nil, nil, ledger.ErrAccountNotActive
		}
		if source.Currency != req.Currency || destination.Currency != req.Currency {
			return nil, nil, ledger.ErrCurrencyMismatch
		}

		balance, err := e.store.CalculateBalance(ctx, req.SourceAccountID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read source balance: %w", err)
		}
		if balance.LessThan(req.Amount) {
			return nil, nil, ledger.ErrInsufficientFunds
		}

		txn := e.newTransaction(ledger.TypeTransfer, req.Amount, req.Currency, req.Description, req.IdempotencyKey)
		inputs := []ledger.EntryInput{
			{AccountID: req.SourceAccountID, Direction: ledger.Debit, Amount: req.Amount},
			{AccountID: req.DestinationAccountID, Direction: ledger.Credit, Amount: req.Amount},
		}
		return &txn, inputs, nil
	})
}

// withAccounts runs prepare and the subsequent commit under the per-account
// locks for the involved accounts, so the balance read and the entry commit
// are serialized against every other movement touching those accounts.
func (e *Engine) withAccounts(
	ctx context.Context,
	idempotencyKey string,
	accountIDs []string,
	prepare func(ctx context.Context) (*ledger.Transaction, []ledger.EntryInput, error),
) (*ledger.Transaction, error) {
	lockCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()

	release, err := e.locks.acquire(lockCtx, accountIDs...)
	if err != nil {
		return nil, err
	}
	defer release()

	if idempotencyKey != "" {
		prior, err := e.store.FindByIdempotencyKey(ctx, idempotencyKey)
		switch {
		case err == nil:
			// The movement already committed; return it without moving
			// funds again.
			return prior, nil
		case !errors.Is(err, ledger.ErrNotFound):
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
	}

	txn, inputs, err := prepare(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := e.store.CommitEntrySet(ctx, *txn, inputs); err != nil {
		// Rejections are ordinary results; only infrastructure failures are
		// worth an error-level record.
		if !ledger.IsRejection(err) {
			e.logger.Error("entry set commit failed", "transaction_id", txn.ID, "error", err)
		}
		return nil, err
	}

	e.auditCommit(ctx, txn)
	e.publishCompleted(ctx, txn, inputs)
	return txn, nil
}

func (e *Engine) newTransaction(txnType ledger.TransactionType, amount decimal.Decimal, currency, description, idempotencyKey string) ledger.Transaction {
	return ledger.Transaction{
		ID:             uuid.NewString(),
		Type:           txnType,
		Status:         ledger.StatusCompleted,
		Amount:         amount,
		Currency:       currency,
		Description:    description,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}
}

// auditCommit re-verifies the committed set. The commit path already
// enforced balance, so a violation here is an engine bug worth loud logging,
// not a reason to fail the caller.
func (e *Engine) auditCommit(ctx context.Context, txn *ledger.Transaction) {
	balanced, err := e.store.VerifyDoubleEntry(ctx, txn.ID)
	if err != nil {
		e.logger.Warn("double-entry audit failed", "transaction_id", txn.ID, "error", err)
		return
	}
	if !balanced {
		e.logger.Error("double-entry invariant violated after commit", "transaction_id", txn.ID, "type", txn.Type)
	}
}

func (e *Engine) publishCompleted(ctx context.Context, txn *ledger.Transaction, inputs []ledger.EntryInput) {
	if e.publisher == nil {
		return
	}

	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, in.AccountID)
	}

	err := e.publisher.Publish(ctx, events.TransactionCompleted{
		TransactionID: txn.ID,
		Type:          string(txn.Type),
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		AccountIDs:    ids,
		OccurredAt:    txn.CreatedAt,
	})
	if err != nil {
		e.logger.Warn("failed to publish transaction event", "transaction_id", txn.ID, "error", err)
	}
}

// CreateAccount creates a new active account in the directory.
func (e *Engine) CreateAccount(ctx context.Context, userID string, category accounts.Category, currency string) (*accounts.Account, error) {
	return e.directory.CreateAccount(ctx, userID, category, currency)
}

// SetAccountStatus transitions an account's status.
func (e *Engine) SetAccountStatus(ctx context.Context, accountID string, status accounts.Status) (*accounts.Account, error) {
	return e.directory.SetStatus(ctx, accountID, status)
}

// GetAccountWithBalance returns the directory record joined with the
// derived balance.
func (e *Engine) GetAccountWithBalance(ctx context.Context, accountID string) (*AccountWithBalance, error) {
	account, err := e.directory.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	balance, err := e.store.CalculateBalance(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	return &AccountWithBalance{Account: *account, Balance: balance}, nil
}

// ListAccountsForUser returns every account of a user, each with its
// derived balance.
func (e *Engine) ListAccountsForUser(ctx context.Context, userID string) ([]AccountWithBalance, error) {
	list, err := e.directory.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := make([]AccountWithBalance, 0, len(list))
	for _, account := range list {
		balance, err := e.store.CalculateBalance(ctx, account.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read balance for %s: %w", account.ID, err)
		}
		result = append(result, AccountWithBalance{Account: account, Balance: balance})
	}
	return result, nil
}

// ListLedger returns the account's entries most-recent-first. The account
// must exist.
func (e *Engine) ListLedger(ctx context.Context, accountID string, limit, offset int) ([]ledger.Entry, error) {
	if _, err := e.directory.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return e.store.ListEntries(ctx, accountID, limit, offset)
}
