package models

import "time"

// PublishOfferRequest publishes a new swap offer.
type PublishOfferRequest struct {
	OfferedInstanceID string `json:"offered_instance_id"`
	RequestedCardID   int64  `json:"requested_card_id"`
}

// AcceptOfferRequest pays for an offer with one of the taker's instances.
type AcceptOfferRequest struct {
	PayingInstanceID string `json:"paying_instance_id"`
}

type PublishOfferResponse struct {
	OfferID string `json:"offer_id"`
}

// InventoryInstance is one row of GET /api/inventory.
type InventoryInstance struct {
	InstanceID string    `json:"instance_id"`
	CardID     int64     `json:"card_id"`
	CardName   string    `json:"card_name,omitempty"`
	Level      int       `json:"level"`
	Power      int64     `json:"power"`
	Locked     bool      `json:"locked"`
	ObtainedAt time.Time `json:"obtained_at"`
}

// TradeHistoryEntry is one row of GET /api/trades.
type TradeHistoryEntry struct {
	OfferID         string    `json:"offer_id"`
	MakerID         string    `json:"maker_id"`
	TakerID         string    `json:"taker_id"`
	MakerInstanceID string    `json:"maker_instance_id"`
	TakerInstanceID string    `json:"taker_instance_id"`
	ExecutedAt      time.Time `json:"executed_at"`
}
