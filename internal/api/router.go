// Package api is the thin HTTP surface over the money movement engine. It
// parses and validates requests, maps the engine's error taxonomy to
// response codes, and shapes JSON responses; all movement decisions live in
// the engine.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/ledger-core/internal/accounts"
	"github.com/example/ledger-core/internal/engine"
	"github.com/example/ledger-core/internal/ledger"
)

// Dependencies wires the router.
type Dependencies struct {
	Logger *slog.Logger

	Engine interface {
		CreateAccount(ctx context.Context, userID string, category accounts.Category, currency string) (*accounts.Account, error)
		SetAccountStatus(ctx context.Context, accountID string, status accounts.Status) (*accounts.Account, error)
		GetAccountWithBalance(ctx context.Context, accountID string) (*engine.AccountWithBalance, error)
		ListAccountsForUser(ctx context.Context, userID string) ([]engine.AccountWithBalance, error)
		ListLedger(ctx context.Context, accountID string, limit, offset int) ([]ledger.Entry, error)
		ExecuteDeposit(ctx context.Context, req engine.DepositRequest) (*ledger.Transaction, error)
		ExecuteWithdrawal(ctx context.Context, req engine.WithdrawalRequest) (*ledger.Transaction, error)
		ExecuteTransfer(ctx context.Context, req engine.TransferRequest) (*ledger.Transaction, error)
	}

	// Audit, when set, receives one payload per request for the
	// tamper-evident chain.
	Audit func(payload string)
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	if deps.Audit != nil {
		r.Use(AuditMiddleware(deps.Audit))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", handleCreateAccount(deps))
			r.Get("/{accountID}", handleGetAccount(deps))
			r.Patch("/{accountID}/status", handleSetStatus(deps))
			r.Get("/{accountID}/ledger", handleListLedger(deps))
		})

		r.Get("/users/{userID}/accounts", handleListUserAccounts(deps))

		r.Route("/movements", func(r chi.Router) {
			r.Post("/deposit", handleDeposit(deps))
			r.Post("/withdrawal", handleWithdrawal(deps))
			r.Post("/transfer", handleTransfer(deps))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r
}
