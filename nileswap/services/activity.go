package services

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/pharaohsoft/nileswap/nileswap/database/models"
)

// ActivityLogger feeds the player activity stream. Strictly best-effort:
// a failed insert is logged and forgotten, it never fails the operation
// that produced it.
type ActivityLogger struct {
	db *bun.DB
}

func NewActivityLogger(db *bun.DB) *ActivityLogger {
	return &ActivityLogger{db: db}
}

func (l *ActivityLogger) Record(ctx context.Context, playerID, kind, description string) {
	ev := &models.ActivityEvent{
		PlayerID:    playerID,
		Kind:        kind,
		Description: description,
	}

	if _, err := l.db.NewInsert().Model(ev).Exec(ctx); err != nil {
		slog.Warn("Failed to record activity event",
			slog.String("type", "db"),
			slog.String("player_id", playerID),
			slog.String("kind", kind),
			slog.Any("error", err))
	}
}
