package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionCompleted is emitted after a movement commits.
type TransactionCompleted struct {
	TransactionID string          `json:"transaction_id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	AccountIDs    []string        `json:"account_ids"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Publisher delivers domain events to an external broker. Publishing is
// best-effort from the engine's point of view: a failed publish never fails
// the committed movement.
type Publisher interface {
	Publish(ctx context.Context, event TransactionCompleted) error
}
