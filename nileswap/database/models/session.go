package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Session maps an opaque token to a player. Sessions are issued by the
// login flow, which lives outside this service; we only validate them.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Token     string    `bun:"token,notnull,unique"`
	PlayerID  string    `bun:"player_id,notnull"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
