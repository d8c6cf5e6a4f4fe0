package ledger

import "errors"

// Sentinel errors for the ledger core. Callers classify failures with
// errors.Is; the HTTP layer maps each class to a response code. Validation
// and business-rule rejections are ordinary results and are always surfaced,
// never swallowed.
var (
	// Validation errors: the caller sent something malformed.
	ErrInvalidAmount      = errors.New("amount must be positive with at most four decimal places")
	ErrInvalidAccountType = errors.New("invalid account type")
	ErrInvalidCurrency    = errors.New("currency must be a 3-letter uppercase code")
	ErrInvalidStatus      = errors.New("invalid account status")
	ErrInvalidRange       = errors.New("limit and offset must be non-negative")

	// Business-rule rejections.
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountNotActive  = errors.New("account is not active")
	ErrCurrencyMismatch  = errors.New("currency mismatch")
	ErrSameAccount       = errors.New("source and destination accounts must differ")

	// Consistency errors indicate an engine bug: the commit path refused to
	// write an unbalanced set.
	ErrUnbalancedEntrySet = errors.New("entry set does not satisfy the double-entry invariant")

	// Infrastructure errors.
	ErrOperationTimeout = errors.New("operation timed out before acquiring account ordering")

	ErrNotFound = errors.New("not found")
)

// IsRejection reports whether an error is a validation or business-rule
// rejection, as opposed to an infrastructure or consistency failure.
// Rejections are expected outcomes and are not logged as failures.
func IsRejection(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount, ErrInvalidAccountType, ErrInvalidCurrency,
		ErrInvalidStatus, ErrInvalidRange, ErrInsufficientFunds,
		ErrAccountNotActive, ErrCurrencyMismatch, ErrSameAccount,
		ErrNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
