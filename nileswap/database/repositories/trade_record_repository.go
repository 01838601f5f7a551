package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/pharaohsoft/nileswap/nileswap/database/models"
	"github.com/pharaohsoft/nileswap/nileswap/swap"
)

type TradeRecordRepository interface {
	swap.TradeLog
	DB() *bun.DB
}

type tradeRecordRepository struct {
	db *bun.DB
}

func NewTradeRecordRepository(db *bun.DB) TradeRecordRepository {
	return &tradeRecordRepository{db: db}
}

func (r *tradeRecordRepository) DB() *bun.DB {
	return r.db
}

// Append writes the audit row for a completed swap. Idempotent by offer
// id so a replayed append after a partial failure cannot duplicate.
func (r *tradeRecordRepository) Append(ctx context.Context, rec *models.TradeRecord) error {
	rec.CreatedAt = time.Now()

	_, err := r.db.NewInsert().
		Model(rec).
		On("CONFLICT (offer_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to append trade record: %w", err)
	}
	return nil
}

func (r *tradeRecordRepository) GetByOfferID(ctx context.Context, offerID string) (*models.TradeRecord, error) {
	rec := new(models.TradeRecord)
	err := r.db.NewSelect().
		Model(rec).
		Where("offer_id = ?", offerID).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: trade for offer %s", swap.ErrOfferNotFound, offerID)
		}
		return nil, fmt.Errorf("failed to get trade record: %w", err)
	}
	return rec, nil
}

func (r *tradeRecordRepository) ListByPlayer(ctx context.Context, playerID string) ([]*models.TradeRecord, error) {
	var records []*models.TradeRecord
	err := r.db.NewSelect().
		Model(&records).
		Where("maker_id = ? OR taker_id = ?", playerID, playerID).
		Order("executed_at DESC").
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to list trade records: %w", err)
	}
	return records, nil
}
