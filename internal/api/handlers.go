package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/example/ledger-core/internal/accounts"
	"github.com/example/ledger-core/internal/engine"
	"github.com/example/ledger-core/internal/ledger"
)

// IdempotencyKeyHeader lets clients retry movement requests safely.
const IdempotencyKeyHeader = "Idempotency-Key"

type createAccountRequest struct {
	UserID      string `json:"user_id"`
	AccountType string `json:"account_type"`
	Currency    string `json:"currency"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

type movementRequest struct {
	AccountID            string          `json:"account_id"`
	SourceAccountID      string          `json:"source_account_id"`
	DestinationAccountID string          `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	Description          string          `json:"description"`
}

type transactionResponse struct {
	CorrelationID string              `json:"correlation_id"`
	Transaction   *ledger.Transaction `json:"transaction"`
}

type accountResponse struct {
	CorrelationID string                     `json:"correlation_id"`
	Account       *engine.AccountWithBalance `json:"account"`
}

type accountListResponse struct {
	CorrelationID string                      `json:"correlation_id"`
	Accounts      []engine.AccountWithBalance `json:"accounts"`
}

type ledgerResponse struct {
	CorrelationID string         `json:"correlation_id"`
	AccountID     string         `json:"account_id"`
	Entries       []ledger.Entry `json:"entries"`
}

func handleCreateAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		account, err := deps.Engine.CreateAccount(r.Context(), req.UserID, accounts.Category(req.AccountType), req.Currency)
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}

		withBalance, err := deps.Engine.GetAccountWithBalance(r.Context(), account.ID)
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, accountResponse{
			CorrelationID: CorrelationIDFromContext(r.Context()),
			Account:       withBalance,
		})
	}
}

func handleGetAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := chi.URLParam(r, "accountID")

		account, err := deps.Engine.GetAccountWithBalance(r.Context(), accountID)
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, accountResponse{
			CorrelationID: CorrelationIDFromContext(r.Context()),
			Account:       account,
		})
	}
}

func handleSetStatus(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := chi.URLParam(r, "accountID")

		var req setStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		if _, err := deps.Engine.SetAccountStatus(r.Context(), accountID, accounts.Status(req.Status)); err != nil {
			writeLedgerError(w, r, err)
			return
		}

		account, err := deps.Engine.GetAccountWithBalance(r.Context(), accountID)
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, accountResponse{
			CorrelationID: CorrelationIDFromContext(r.Context()),
			Account:       account,
		})
	}
}

func handleListUserAccounts(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		list, err := deps.Engine.ListAccountsForUser(r.Context(), userID)
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, accountListResponse{
			CorrelationID: CorrelationIDFromContext(r.Context()),
			Accounts:      list,
		})
	}
}

func handleListLedger(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := chi.URLParam(r, "accountID")

		limit, offset := 0, 0
		if v := r.URL.Query().Get("limit"); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "invalid_range")
				return
			}
			limit = i
		}
		if v := r.URL.Query().Get("offset"); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "invalid_range")
				return
			}
			offset = i
		}

		entries, err := deps.Engine.ListLedger(r.Context(), accountID, limit, offset)
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, ledgerResponse{
			CorrelationID: CorrelationIDFromContext(r.Context()),
			AccountID:     accountID,
			Entries:       entries,
		})
	}
}

func handleDeposit(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req movementRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		txn, err := deps.Engine.ExecuteDeposit(r.Context(), engine.DepositRequest{
			AccountID:      req.AccountID,
			Amount:         req.Amount,
			Currency:       req.Currency,
			Description:    req.Description,
			IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
		})
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, transactionResponse{
			CorrelationID: CorrelationIDFromContext(r.Context()),
			Transaction:   txn,
		})
	}
}

func handleWithdrawal(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req movementRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		txn, err := deps.Engine.ExecuteWithdrawal(r.Context(), engine.WithdrawalRequest{
			AccountID:      req.AccountID,
			Amount:         req.Amount,
			Currency:       req.Currency,
			Description:    req.Description,
			IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
		})
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, transactionResponse{
			CorrelationID: CorrelationIDFromContext(r.Context()),
			Transaction:   txn,
		})
	}
}

func handleTransfer(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req movementRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		txn, err := deps.Engine.ExecuteTransfer(r.Context(), engine.TransferRequest{
			SourceAccountID:      req.SourceAccountID,
			DestinationAccountID: req.DestinationAccountID,
			Amount:               req.Amount,
			Currency:             req.Currency,
			Description:          req.Description,
			IdempotencyKey:       r.Header.Get(IdempotencyKeyHeader),
		})
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, transactionResponse{
			CorrelationID: CorrelationIDFromContext(r.Context()),
			Transaction:   txn,
		})
	}
}
