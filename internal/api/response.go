package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/ledger-core/internal/ledger"
)

type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	cid := CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(CorrelationIDHeader, cid)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	writeJSON(w, r, status, errorResponse{
		Error:         code,
		CorrelationID: CorrelationIDFromContext(r.Context()),
	})
}

// writeLedgerError maps the engine's error taxonomy onto HTTP statuses:
// validation errors are 400, missing resources 404, business-rule
// rejections 409/422, timeouts 503, everything else 500.
func writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	writeError(w, r, status, code)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ledger.ErrInvalidAccountType):
		return http.StatusBadRequest, "invalid_account_type"
	case errors.Is(err, ledger.ErrInvalidCurrency):
		return http.StatusBadRequest, "invalid_currency"
	case errors.Is(err, ledger.ErrInvalidStatus):
		return http.StatusBadRequest, "invalid_status"
	case errors.Is(err, ledger.ErrInvalidRange):
		return http.StatusBadRequest, "invalid_range"
	case errors.Is(err, ledger.ErrSameAccount):
		return http.StatusBadRequest, "same_account"
	case errors.Is(err, ledger.ErrAccountNotActive):
		return http.StatusConflict, "account_not_active"
	case errors.Is(err, ledger.ErrCurrencyMismatch):
		return http.StatusConflict, "currency_mismatch"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, ledger.ErrUnbalancedEntrySet):
		// Consistency failure: an engine bug, not a caller mistake.
		return http.StatusInternalServerError, "unbalanced_entry_set"
	case errors.Is(err, ledger.ErrOperationTimeout):
		return http.StatusServiceUnavailable, "operation_timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
