package models

import (
	"time"

	"github.com/uptrace/bun"
)

// TradeRecord is the append-only audit row written once per completed
// swap. Idempotent by offer id: replaying an append is a no-op.
type TradeRecord struct {
	bun.BaseModel `bun:"table:trade_records,alias:tr"`

	ID              int64     `bun:"id,pk,autoincrement"`
	OfferID         string    `bun:"offer_id,notnull,unique"`
	MakerID         string    `bun:"maker_id,notnull"`
	TakerID         string    `bun:"taker_id,notnull"`
	MakerInstanceID string    `bun:"maker_instance_id,notnull"`
	TakerInstanceID string    `bun:"taker_instance_id,notnull"`
	ExecutedAt      time.Time `bun:"executed_at,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
