package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/pharaohsoft/nileswap/nileswap/database/models"
	"github.com/pharaohsoft/nileswap/nileswap/swap"
)

type ReconciliationRepository interface {
	swap.ReconLog
	ListOpen(ctx context.Context) ([]*models.ReconciliationEvent, error)
	Resolve(ctx context.Context, id int64) error
}

type reconciliationRepository struct {
	db *bun.DB
}

func NewReconciliationRepository(db *bun.DB) ReconciliationRepository {
	return &reconciliationRepository{db: db}
}

func (r *reconciliationRepository) Record(ctx context.Context, ev *models.ReconciliationEvent) error {
	ev.CreatedAt = time.Now()

	_, err := r.db.NewInsert().Model(ev).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to record reconciliation event: %w", err)
	}
	return nil
}

func (r *reconciliationRepository) ListOpen(ctx context.Context) ([]*models.ReconciliationEvent, error) {
	var events []*models.ReconciliationEvent
	err := r.db.NewSelect().
		Model(&events).
		Where("resolved = false").
		Order("created_at ASC").
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to list open reconciliation events: %w", err)
	}
	return events, nil
}

func (r *reconciliationRepository) Resolve(ctx context.Context, id int64) error {
	_, err := r.db.NewUpdate().
		Model((*models.ReconciliationEvent)(nil)).
		Set("resolved = true").
		Set("resolved_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to resolve reconciliation event: %w", err)
	}
	return nil
}
