package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/pharaohsoft/nileswap/nileswap/database"
	"github.com/pharaohsoft/nileswap/nileswap/database/repositories"
)

// Reconciler is the offline repair loop. The lock flag on a card
// instance is a materialized projection of an active offer's existence,
// so it can always be rebuilt from the offers table; that is exactly
// what each sweep does. Quarantined reconciliation events are only
// surfaced, never auto-resolved.
type Reconciler struct {
	db    *database.DB
	recon repositories.ReconciliationRepository
	sched gocron.Scheduler
}

func NewReconciler(db *database.DB, recon repositories.ReconciliationRepository) *Reconciler {
	return &Reconciler{db: db, recon: recon}
}

// Start schedules periodic sweeps. A non-positive interval disables the
// background job; Sweep can still be invoked directly.
func (r *Reconciler) Start(interval time.Duration) error {
	if interval <= 0 {
		return nil
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := r.Sweep(ctx); err != nil {
				slog.Error("Reconciliation sweep failed",
					slog.String("type", "swap"),
					slog.Any("error", err))
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule reconciliation job: %w", err)
	}

	sched.Start()
	r.sched = sched

	slog.Info("Reconciler started",
		slog.String("type", "swap"),
		slog.Duration("interval", interval))
	return nil
}

func (r *Reconciler) Stop() {
	if r.sched != nil {
		_ = r.sched.Shutdown()
	}
}

// Sweep rebuilds lock flags from the offers table and reports open
// quarantine events.
func (r *Reconciler) Sweep(ctx context.Context) error {
	// Clear locks with no active offer behind them.
	cleared, err := r.db.ExecWithLog(ctx, `
		UPDATE card_instances ci
		SET locked = false, lock_offer_id = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE ci.locked = true
		  AND NOT EXISTS (
			SELECT 1 FROM swap_offers so
			WHERE so.offered_instance_id = ci.instance_id AND so.status = 'active'
		  );`)
	if err != nil {
		return fmt.Errorf("failed to clear stray locks: %w", err)
	}

	// Restore locks an active offer expects to hold.
	restored, err := r.db.ExecWithLog(ctx, `
		UPDATE card_instances ci
		SET locked = true, lock_offer_id = so.offer_id, updated_at = CURRENT_TIMESTAMP
		FROM swap_offers so
		WHERE so.offered_instance_id = ci.instance_id
		  AND so.status = 'active'
		  AND (ci.locked = false OR ci.lock_offer_id IS DISTINCT FROM so.offer_id);`)
	if err != nil {
		return fmt.Errorf("failed to restore missing locks: %w", err)
	}

	open, err := r.recon.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("failed to list open events: %w", err)
	}

	if cleared.RowsAffected() > 0 || restored.RowsAffected() > 0 || len(open) > 0 {
		slog.Warn("Reconciliation sweep found work",
			slog.String("type", "swap"),
			slog.Int64("locks_cleared", cleared.RowsAffected()),
			slog.Int64("locks_restored", restored.RowsAffected()),
			slog.Int("open_events", len(open)))
	} else {
		slog.Debug("Reconciliation sweep clean", slog.String("type", "swap"))
	}

	return nil
}
