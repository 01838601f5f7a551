// models/card_instance.go
package models

import (
	"time"

	"github.com/uptrace/bun"
)

// CardInstance is one physical copy of a card in a player's collection.
// The instance id is the identity everything else hangs off: ownership
// transfers and lock flips always address a single instance row.
//
// Locked is a materialized projection of an active swap offer referencing
// this instance as its offered payload. LockOfferID names that offer.
type CardInstance struct {
	bun.BaseModel `bun:"table:card_instances,alias:ci"`

	InstanceID  string `bun:"instance_id,pk"`
	CardID      int64  `bun:"card_id,notnull"`
	OwnerID     string `bun:"owner_id,notnull"`
	Level       int    `bun:"level,notnull,default:1"`
	Power       int64  `bun:"power,notnull,default:0"`
	Locked      bool   `bun:"locked,notnull,default:false"`
	LockOfferID string `bun:"lock_offer_id,nullzero"`

	ObtainedAt time.Time `bun:"obtained_at,notnull,default:current_timestamp"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`

	Card *Card `bun:"rel:belongs-to,join:card_id=id"`
}
