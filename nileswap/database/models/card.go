package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Card is a master card: the kind of card many instances can share
// (e.g. "Ramses II"). Instances reference it by ID.
type Card struct {
	bun.BaseModel `bun:"table:cards,alias:c"`

	ID        int64  `bun:"id,pk,autoincrement"`
	Name      string `bun:"name,notnull"`
	Rarity    int    `bun:"rarity,notnull,default:1"`
	ImagePath string `bun:"image_path,type:text,default:''"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
