package swap

import (
	"context"
	"time"

	"github.com/pharaohsoft/nileswap/nileswap/database/models"
)

// OfferStore is the durable record of offers: the single source of truth
// for their lifecycle state.
type OfferStore interface {
	Create(ctx context.Context, offer *models.SwapOffer) error
	GetByOfferID(ctx context.Context, offerID string) (*models.SwapOffer, error)
	// SetTerminal compare-and-sets status. It is the only sanctioned
	// status mutation and the linearization point of every trade.
	// Returns ErrNoLongerActive when the expected status no longer holds.
	SetTerminal(ctx context.Context, offerID string, next, expected models.SwapOfferStatus, closedAt time.Time) error
	ListActive(ctx context.Context, f MarketFilters) ([]*models.SwapOffer, error)
}

// InstanceStore marks card instances as reserved-for-trade and moves
// ownership. Every method is a single conditional write; a miss comes
// back as ErrWriteConflict.
type InstanceStore interface {
	GetByInstanceID(ctx context.Context, instanceID string) (*models.CardInstance, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.CardInstance, error)

	// Lock reserves the instance for offerID; ErrAlreadyLocked if some
	// offer already holds it.
	Lock(ctx context.Context, instanceID, offerID string) error
	// Unlock releases a reservation. Idempotent when the lock matches
	// offerID or is already clear; ErrLockMismatch (and no mutation)
	// when another offer holds it.
	Unlock(ctx context.Context, instanceID, offerID string) error

	// TransferOffered moves the maker's locked instance to the taker and
	// clears its lock in the same write.
	TransferOffered(ctx context.Context, instanceID, from, to, offerID string) error
	// TransferPayment moves an unlocked instance between owners.
	TransferPayment(ctx context.Context, instanceID, from, to string) error
	// RestoreOffered compensates a half-done swap: the offered instance
	// goes back to the maker with its reservation re-established.
	RestoreOffered(ctx context.Context, instanceID, from, to, offerID string) error
}

// TradeLog is the append-only audit record of completed swaps,
// idempotent by offer id.
type TradeLog interface {
	Append(ctx context.Context, rec *models.TradeRecord) error
	GetByOfferID(ctx context.Context, offerID string) (*models.TradeRecord, error)
	ListByPlayer(ctx context.Context, playerID string) ([]*models.TradeRecord, error)
}

// ReconLog records state divergences for the offline reconciler.
type ReconLog interface {
	Record(ctx context.Context, ev *models.ReconciliationEvent) error
}

// MasterCard is the registry's denormalized view of a card kind.
type MasterCard struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
	Rarity   int    `json:"rarity"`
}

// CardRegistry resolves master cards for validation and market
// denormalization. Unknown ids come back as ErrInvalidCard.
type CardRegistry interface {
	GetMasterCard(ctx context.Context, cardID int64) (MasterCard, error)
}

// ActivityRecorder is the best-effort activity feed. Implementations
// swallow and log their own failures.
type ActivityRecorder interface {
	Record(ctx context.Context, playerID, kind, description string)
}

// TxAcceptor is implemented by stores that can run the whole acceptance
// (eligibility re-checks, both transfers, audit append and the status
// compare-and-set) inside one transaction. When the offer store offers
// it, the executor prefers it over the two-step compensation scheme.
type TxAcceptor interface {
	AcceptSwapTx(ctx context.Context, offer *models.SwapOffer, takerID, payingInstanceID string, executedAt time.Time) error
}

// MarketFilters narrows ListActive. Zero values mean "no filter".
type MarketFilters struct {
	MakerID         string // only offers made by this player
	ExcludeMakerID  string // only offers not made by this player
	OfferedCardID   int64
	RequestedCardID int64
	Limit           int
	// Keyset cursor: rows strictly before (created_at, id) descending.
	Before   time.Time
	BeforeID int64
}
