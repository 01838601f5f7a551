package models

import (
	"time"

	"github.com/uptrace/bun"
)

type SwapOfferStatus string

const (
	SwapOfferActive    SwapOfferStatus = "active"
	SwapOfferCompleted SwapOfferStatus = "completed"
	SwapOfferCancelled SwapOfferStatus = "cancelled"
)

// SwapOffer is a maker's public intention to give one specific card
// instance for any instance of the requested master card.
//
// Status only ever moves active -> completed or active -> cancelled,
// through the compare-and-set in the offer repository. A unique partial
// index on (offered_instance_id) WHERE status = 'active' guarantees at
// most one active offer per instance at the storage level.
type SwapOffer struct {
	bun.BaseModel `bun:"table:swap_offers,alias:so"`

	ID                int64           `bun:"id,pk,autoincrement"`
	OfferID           string          `bun:"offer_id,notnull,unique"`
	MakerID           string          `bun:"maker_id,notnull"`
	OfferedInstanceID string          `bun:"offered_instance_id,notnull"`
	OfferedCardID     int64           `bun:"offered_card_id,notnull"`
	RequestedCardID   int64           `bun:"requested_card_id,notnull"`
	Status            SwapOfferStatus `bun:"status,notnull"`
	ClosedAt          time.Time       `bun:"closed_at,nullzero"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`

	// Relations for easy access
	OfferedCard   *Card `bun:"rel:belongs-to,join:offered_card_id=id"`
	RequestedCard *Card `bun:"rel:belongs-to,join:requested_card_id=id"`
}
