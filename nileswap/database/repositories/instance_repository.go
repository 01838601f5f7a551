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

type InstanceRepository interface {
	swap.InstanceStore
	DB() *bun.DB
	Create(ctx context.Context, inst *models.CardInstance) error
}

type instanceRepository struct {
	db *bun.DB
}

func NewInstanceRepository(db *bun.DB) InstanceRepository {
	return &instanceRepository{db: db}
}

func (r *instanceRepository) DB() *bun.DB {
	return r.db
}

func (r *instanceRepository) Create(ctx context.Context, inst *models.CardInstance) error {
	now := time.Now()
	if inst.ObtainedAt.IsZero() {
		inst.ObtainedAt = now
	}
	inst.CreatedAt = now
	inst.UpdatedAt = now

	_, err := r.db.NewInsert().Model(inst).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create card instance: %w", err)
	}
	return nil
}

func (r *instanceRepository) GetByInstanceID(ctx context.Context, instanceID string) (*models.CardInstance, error) {
	inst := new(models.CardInstance)
	err := r.db.NewSelect().
		Model(inst).
		Where("instance_id = ?", instanceID).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", swap.ErrInstanceNotFound, instanceID)
		}
		return nil, fmt.Errorf("failed to get card instance: %w", err)
	}
	return inst, nil
}

func (r *instanceRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.CardInstance, error) {
	var instances []*models.CardInstance
	err := r.db.NewSelect().
		Model(&instances).
		Relation("Card").
		Where("owner_id = ?", ownerID).
		Order("obtained_at DESC").
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	return instances, nil
}

// Lock reserves the instance for an offer. One conditional write: the
// flag flips only if it is currently clear.
func (r *instanceRepository) Lock(ctx context.Context, instanceID, offerID string) error {
	result, err := r.db.NewUpdate().
		Model((*models.CardInstance)(nil)).
		Set("locked = true").
		Set("lock_offer_id = ?", offerID).
		Set("updated_at = ?", time.Now()).
		Where("instance_id = ? AND locked = false", instanceID).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to lock instance: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		exists, err := r.db.NewSelect().
			Model((*models.CardInstance)(nil)).
			Where("instance_id = ?", instanceID).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("failed to check instance: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", swap.ErrInstanceNotFound, instanceID)
		}
		return fmt.Errorf("%w: %s", swap.ErrAlreadyLocked, instanceID)
	}
	return nil
}

// Unlock releases a reservation held by offerID. Releasing an already
// unlocked instance is a no-op; a lock held by a different offer is left
// untouched.
func (r *instanceRepository) Unlock(ctx context.Context, instanceID, offerID string) error {
	result, err := r.db.NewUpdate().
		Model((*models.CardInstance)(nil)).
		Set("locked = false").
		Set("lock_offer_id = NULL").
		Set("updated_at = ?", time.Now()).
		Where("instance_id = ? AND locked = true AND lock_offer_id = ?", instanceID, offerID).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to unlock instance: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows > 0 {
		return nil
	}

	inst := new(models.CardInstance)
	err = r.db.NewSelect().
		Model(inst).
		Column("locked", "lock_offer_id").
		Where("instance_id = ?", instanceID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", swap.ErrInstanceNotFound, instanceID)
		}
		return fmt.Errorf("failed to check instance lock: %w", err)
	}
	if !inst.Locked {
		return nil // already released
	}
	return fmt.Errorf("%w: instance %s held by offer %s", swap.ErrLockMismatch, instanceID, inst.LockOfferID)
}

func (r *instanceRepository) TransferOffered(ctx context.Context, instanceID, from, to, offerID string) error {
	result, err := r.db.NewUpdate().
		Model((*models.CardInstance)(nil)).
		Set("owner_id = ?", to).
		Set("locked = false").
		Set("lock_offer_id = NULL").
		Set("updated_at = ?", time.Now()).
		Where("instance_id = ? AND owner_id = ? AND locked = true AND lock_offer_id = ?",
			instanceID, from, offerID).
		Exec(ctx)

	return conditionalOutcome(result, err, "transfer offered instance")
}

func (r *instanceRepository) TransferPayment(ctx context.Context, instanceID, from, to string) error {
	result, err := r.db.NewUpdate().
		Model((*models.CardInstance)(nil)).
		Set("owner_id = ?", to).
		Set("updated_at = ?", time.Now()).
		Where("instance_id = ? AND owner_id = ? AND locked = false", instanceID, from).
		Exec(ctx)

	return conditionalOutcome(result, err, "transfer payment instance")
}

func (r *instanceRepository) RestoreOffered(ctx context.Context, instanceID, from, to, offerID string) error {
	result, err := r.db.NewUpdate().
		Model((*models.CardInstance)(nil)).
		Set("owner_id = ?", to).
		Set("locked = true").
		Set("lock_offer_id = ?", offerID).
		Set("updated_at = ?", time.Now()).
		Where("instance_id = ? AND owner_id = ?", instanceID, from).
		Exec(ctx)

	return conditionalOutcome(result, err, "restore offered instance")
}

func conditionalOutcome(result sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", swap.ErrWriteConflict, op)
	}
	return nil
}
