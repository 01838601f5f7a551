package swap

import (
	"context"
	"errors"
)

// Stable error kinds. Handlers match with errors.Is and surface
// Kind(err) to the client, so wrapping must keep one of these in the
// chain.
var (
	// User-correctable: surfaced verbatim to the UI.
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrNotOwner          = errors.New("caller does not own the instance")
	ErrNotEligible       = errors.New("instance is not eligible for this trade")
	ErrInvalidCard       = errors.New("unknown card")
	ErrSameKindForbidden = errors.New("cannot swap a card for its own kind")

	// Race outcomes: the UI refreshes and re-renders.
	ErrAlreadyLocked  = errors.New("instance is already reserved by another offer")
	ErrNoLongerActive = errors.New("offer is no longer active")

	// Transient: retry after backoff, no partial state left behind.
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrTimeout            = errors.New("operation timed out")

	// Fatal for the attempt: offer and instances are quarantined until
	// an operator reconciles.
	ErrTradeIncomplete     = errors.New("trade incomplete, reconciliation required")
	ErrNeedsReconciliation = errors.New("state divergence recorded for reconciliation")

	// Store-level.
	ErrOfferNotFound    = errors.New("offer not found")
	ErrInstanceNotFound = errors.New("instance not found")
	ErrLockMismatch     = errors.New("lock held by a different offer")
	ErrInvalidCursor    = errors.New("invalid cursor")

	// ErrWriteConflict reports that a conditional write matched zero
	// rows: somebody else got there first. Stores return it; the
	// executor translates it before it reaches a caller.
	ErrWriteConflict = errors.New("conditional write conflict")
)

// Kind maps an error to its stable wire kind.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrInvalidCard):
		return "invalid_card"
	case errors.Is(err, ErrSameKindForbidden):
		return "same_kind_forbidden"
	case errors.Is(err, ErrAlreadyLocked):
		return "already_locked"
	case errors.Is(err, ErrNoLongerActive):
		return "no_longer_active"
	case errors.Is(err, ErrTradeIncomplete):
		return "trade_incomplete"
	case errors.Is(err, ErrNeedsReconciliation):
		return "needs_reconciliation"
	case errors.Is(err, ErrOfferNotFound), errors.Is(err, ErrInstanceNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidCursor):
		return "invalid_cursor"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "internal"
	}
}

// asTimeout collapses a deadline expiry into ErrTimeout so callers see a
// single transient kind regardless of where the round-trip died.
func asTimeout(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return ErrTimeout
	}
	return err
}
