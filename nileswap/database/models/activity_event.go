package models

import (
	"time"

	"github.com/uptrace/bun"
)

// ActivityEvent is a best-effort feed entry. Writes to it never fail a
// trade.
type ActivityEvent struct {
	bun.BaseModel `bun:"table:activity_events,alias:ae"`

	ID          int64  `bun:"id,pk,autoincrement"`
	PlayerID    string `bun:"player_id,notnull"`
	Kind        string `bun:"kind,notnull"`
	Description string `bun:"description,type:text"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
