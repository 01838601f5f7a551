package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/pharaohsoft/nileswap/nileswap/database/models"
	"github.com/pharaohsoft/nileswap/nileswap/swap"
)

const pgUniqueViolation = "23505"

type OfferRepository interface {
	swap.OfferStore
	swap.TxAcceptor
	DB() *bun.DB
}

type offerRepository struct {
	db *bun.DB
}

func NewOfferRepository(db *bun.DB) OfferRepository {
	return &offerRepository{db: db}
}

func (r *offerRepository) DB() *bun.DB {
	return r.db
}

func (r *offerRepository) Create(ctx context.Context, offer *models.SwapOffer) error {
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = time.Now()
	}
	offer.UpdatedAt = offer.CreatedAt
	offer.Status = models.SwapOfferActive

	_, err := r.db.NewInsert().Model(offer).Exec(ctx)
	if err != nil {
		// The partial unique index on (offered_instance_id) WHERE
		// status = 'active' tripping means a rival offer holds the
		// instance.
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: instance %s", swap.ErrAlreadyLocked, offer.OfferedInstanceID)
		}
		return fmt.Errorf("failed to create offer: %w", err)
	}
	return nil
}

func (r *offerRepository) GetByOfferID(ctx context.Context, offerID string) (*models.SwapOffer, error) {
	offer := new(models.SwapOffer)
	err := r.db.NewSelect().
		Model(offer).
		Where("offer_id = ?", offerID).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", swap.ErrOfferNotFound, offerID)
		}
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	return offer, nil
}

// SetTerminal is the linearization point: a single compare-and-set on
// status. Zero rows affected means the expected status no longer holds.
func (r *offerRepository) SetTerminal(ctx context.Context, offerID string, next, expected models.SwapOfferStatus, closedAt time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*models.SwapOffer)(nil)).
		Set("status = ?", next).
		Set("closed_at = ?", closedAt).
		Set("updated_at = ?", time.Now()).
		Where("offer_id = ? AND status = ?", offerID, expected).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to update offer status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", swap.ErrNoLongerActive, offerID)
	}
	return nil
}

func (r *offerRepository) ListActive(ctx context.Context, f swap.MarketFilters) ([]*models.SwapOffer, error) {
	var offers []*models.SwapOffer

	q := r.db.NewSelect().
		Model(&offers).
		Where("status = ?", models.SwapOfferActive)

	if f.MakerID != "" {
		q = q.Where("maker_id = ?", f.MakerID)
	}
	if f.ExcludeMakerID != "" {
		q = q.Where("maker_id != ?", f.ExcludeMakerID)
	}
	if f.OfferedCardID != 0 {
		q = q.Where("offered_card_id = ?", f.OfferedCardID)
	}
	if f.RequestedCardID != 0 {
		q = q.Where("requested_card_id = ?", f.RequestedCardID)
	}
	if !f.Before.IsZero() {
		q = q.Where("(created_at, id) < (?, ?)", f.Before, f.BeforeID)
	}

	q = q.Order("created_at DESC", "id DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list active offers: %w", err)
	}
	return offers, nil
}

// AcceptSwapTx runs the whole acceptance inside one serializable
// transaction: both instance rows and the offer row are re-checked under
// FOR UPDATE, so the client-side pre-checks can be as stale as they like.
func (r *offerRepository) AcceptSwapTx(ctx context.Context, offer *models.SwapOffer, takerID, payingInstanceID string, executedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", swap.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	// Re-read the offer under lock; the status check here is what
	// serializes rival takers and cancellations.
	current := new(models.SwapOffer)
	err = tx.NewSelect().
		Model(current).
		Where("offer_id = ? AND status = ?", offer.OfferID, models.SwapOfferActive).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", swap.ErrNoLongerActive, offer.OfferID)
		}
		return fmt.Errorf("%w: lock offer row: %v", swap.ErrStorageUnavailable, err)
	}

	// Maker must still hold the reserved instance.
	var offered models.CardInstance
	err = tx.NewSelect().
		Model(&offered).
		Where("instance_id = ? AND owner_id = ? AND locked = true AND lock_offer_id = ?",
			current.OfferedInstanceID, current.MakerID, current.OfferID).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: reservation gone for %s", swap.ErrNoLongerActive, current.OfferedInstanceID)
		}
		return fmt.Errorf("%w: lock offered instance: %v", swap.ErrStorageUnavailable, err)
	}

	// Taker must still hold an unlocked instance of the requested kind.
	var payment models.CardInstance
	err = tx.NewSelect().
		Model(&payment).
		Where("instance_id = ? AND owner_id = ? AND locked = false AND card_id = ?",
			payingInstanceID, takerID, current.RequestedCardID).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: paying instance %s", swap.ErrNotEligible, payingInstanceID)
		}
		return fmt.Errorf("%w: lock paying instance: %v", swap.ErrStorageUnavailable, err)
	}

	now := time.Now()

	_, err = tx.NewUpdate().
		Model((*models.CardInstance)(nil)).
		Set("owner_id = ?", takerID).
		Set("locked = false").
		Set("lock_offer_id = NULL").
		Set("updated_at = ?", now).
		Where("instance_id = ?", current.OfferedInstanceID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: transfer offered instance: %v", swap.ErrStorageUnavailable, err)
	}

	_, err = tx.NewUpdate().
		Model((*models.CardInstance)(nil)).
		Set("owner_id = ?", current.MakerID).
		Set("updated_at = ?", now).
		Where("instance_id = ?", payingInstanceID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: transfer paying instance: %v", swap.ErrStorageUnavailable, err)
	}

	rec := &models.TradeRecord{
		OfferID:         current.OfferID,
		MakerID:         current.MakerID,
		TakerID:         takerID,
		MakerInstanceID: current.OfferedInstanceID,
		TakerInstanceID: payingInstanceID,
		ExecutedAt:      executedAt,
	}
	_, err = tx.NewInsert().
		Model(rec).
		On("CONFLICT (offer_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: append trade record: %v", swap.ErrStorageUnavailable, err)
	}

	result, err := tx.NewUpdate().
		Model((*models.SwapOffer)(nil)).
		Set("status = ?", models.SwapOfferCompleted).
		Set("closed_at = ?", executedAt).
		Set("updated_at = ?", now).
		Where("offer_id = ? AND status = ?", current.OfferID, models.SwapOfferActive).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: complete offer: %v", swap.ErrStorageUnavailable, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: affected rows: %v", swap.ErrStorageUnavailable, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", swap.ErrNoLongerActive, current.OfferID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit swap: %v", swap.ErrStorageUnavailable, err)
	}

	slog.Info("Swap executed",
		slog.String("type", "db"),
		slog.String("offer_id", current.OfferID),
		slog.String("maker_id", current.MakerID),
		slog.String("taker_id", takerID))

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == pgUniqueViolation
	}
	return false
}
