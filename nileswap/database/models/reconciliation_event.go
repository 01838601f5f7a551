package models

import (
	"time"

	"github.com/uptrace/bun"
)

// ReconciliationEvent quarantines an offer or instance whose state could
// not be repaired in-band: a failed compensating write, a failed audit
// append. The reconciler surfaces open events to operators; it never
// resolves them automatically.
type ReconciliationEvent struct {
	bun.BaseModel `bun:"table:reconciliation_events,alias:re"`

	ID         int64     `bun:"id,pk,autoincrement"`
	OfferID    string    `bun:"offer_id,notnull"`
	InstanceID string    `bun:"instance_id,nullzero"`
	Stage      string    `bun:"stage,notnull"`
	Detail     string    `bun:"detail,type:text"`
	Resolved   bool      `bun:"resolved,notnull,default:false"`
	ResolvedAt time.Time `bun:"resolved_at,nullzero"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
