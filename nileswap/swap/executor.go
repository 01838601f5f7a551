package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pharaohsoft/nileswap/nileswap/database/models"
)

// Executor coordinates the multi-step swap between two accounts over
// shared state. It never assumes in-process mutual exclusion: every
// sanctioned transition is one conditional write against the store, and
// the compare-and-set on offer status is what serializes concurrent
// takers and cancellations.
type Executor struct {
	offers    OfferStore
	instances InstanceStore
	trades    TradeLog
	recon     ReconLog
	registry  CardRegistry
	activity  ActivityRecorder

	now func() time.Time
}

// AcceptResult is what the taker walks away with.
type AcceptResult struct {
	ReceivedInstanceID string `json:"received_instance_id"`
}

func NewExecutor(offers OfferStore, instances InstanceStore, trades TradeLog, recon ReconLog, registry CardRegistry, activity ActivityRecorder) *Executor {
	return &Executor{
		offers:    offers,
		instances: instances,
		trades:    trades,
		recon:     recon,
		registry:  registry,
		activity:  activity,
		now:       time.Now,
	}
}

// PublishOffer reserves the maker's instance and records an active
// offer. The reservation happens before the insert; a failed insert is
// compensated by releasing the reservation.
func (e *Executor) PublishOffer(ctx context.Context, makerID, offeredInstanceID string, requestedCardID int64) (string, error) {
	inst, err := e.instances.GetByInstanceID(ctx, offeredInstanceID)
	if err != nil {
		if errors.Is(err, ErrInstanceNotFound) {
			return "", fmt.Errorf("%w: offered instance %s", ErrInvalidCard, offeredInstanceID)
		}
		return "", asTimeout(ctx, fmt.Errorf("%w: read offered instance: %v", ErrStorageUnavailable, err))
	}
	if inst.OwnerID != makerID {
		return "", fmt.Errorf("%w: instance %s", ErrNotOwner, offeredInstanceID)
	}
	if inst.Locked {
		return "", fmt.Errorf("%w: instance %s", ErrAlreadyLocked, offeredInstanceID)
	}
	if inst.CardID == requestedCardID {
		return "", fmt.Errorf("%w: card %d", ErrSameKindForbidden, requestedCardID)
	}
	if _, err := e.registry.GetMasterCard(ctx, requestedCardID); err != nil {
		if errors.Is(err, ErrInvalidCard) {
			return "", fmt.Errorf("%w: requested card %d", ErrInvalidCard, requestedCardID)
		}
		return "", asTimeout(ctx, fmt.Errorf("%w: resolve requested card: %v", ErrStorageUnavailable, err))
	}

	offerID := uuid.NewString()

	if err := e.instances.Lock(ctx, offeredInstanceID, offerID); err != nil {
		if errors.Is(err, ErrAlreadyLocked) {
			return "", err
		}
		return "", asTimeout(ctx, fmt.Errorf("%w: lock offered instance: %v", ErrStorageUnavailable, err))
	}

	now := e.now()
	offer := &models.SwapOffer{
		OfferID:           offerID,
		MakerID:           makerID,
		OfferedInstanceID: offeredInstanceID,
		OfferedCardID:     inst.CardID,
		RequestedCardID:   requestedCardID,
		Status:            models.SwapOfferActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := e.offers.Create(ctx, offer); err != nil {
		// Compensate the reservation. If even that fails we must not
		// claim anything: quarantine and escalate.
		if uerr := e.instances.Unlock(ctx, offeredInstanceID, offerID); uerr != nil {
			e.quarantine(ctx, offerID, offeredInstanceID, "publish_unlock",
				fmt.Sprintf("offer insert failed (%v), compensating unlock failed (%v)", err, uerr))
			return "", fmt.Errorf("%w: publish left instance %s reserved", ErrNeedsReconciliation, offeredInstanceID)
		}
		if errors.Is(err, ErrAlreadyLocked) {
			return "", err
		}
		return "", asTimeout(ctx, fmt.Errorf("%w: insert offer: %v", ErrStorageUnavailable, err))
	}

	e.activity.Record(ctx, makerID, "swap_publish",
		fmt.Sprintf("offered instance %s for card %d", offeredInstanceID, requestedCardID))

	return offerID, nil
}

// CancelOffer withdraws the maker's offer. The compare-and-set on status
// decides the race against a concurrent acceptance; once it lands, the
// terminal status is the truth and a failed unlock only produces a
// reconciliation event.
func (e *Executor) CancelOffer(ctx context.Context, makerID, offerID string) error {
	offer, err := e.offers.GetByOfferID(ctx, offerID)
	if err != nil {
		if errors.Is(err, ErrOfferNotFound) {
			return err
		}
		return asTimeout(ctx, fmt.Errorf("%w: read offer: %v", ErrStorageUnavailable, err))
	}
	if offer.MakerID != makerID {
		return fmt.Errorf("%w: offer %s", ErrNotOwner, offerID)
	}

	if err := e.offers.SetTerminal(ctx, offerID, models.SwapOfferCancelled, models.SwapOfferActive, e.now()); err != nil {
		if errors.Is(err, ErrNoLongerActive) {
			return err
		}
		return asTimeout(ctx, fmt.Errorf("%w: cancel offer: %v", ErrStorageUnavailable, err))
	}

	if err := e.instances.Unlock(ctx, offer.OfferedInstanceID, offerID); err != nil {
		e.quarantine(ctx, offerID, offer.OfferedInstanceID, "cancel_unlock",
			fmt.Sprintf("offer cancelled but unlock failed: %v", err))
	}

	e.activity.Record(ctx, makerID, "swap_cancel", fmt.Sprintf("withdrew offer %s", offerID))
	return nil
}

// AcceptOffer completes the swap: the taker pays with an instance of the
// requested master card and receives the maker's offered instance.
//
// When the offer store can run the whole acceptance in one transaction
// it does; otherwise the two-step scheme with bounded retry and
// compensation runs over plain conditional writes.
func (e *Executor) AcceptOffer(ctx context.Context, takerID, offerID, payingInstanceID string) (AcceptResult, error) {
	offer, err := e.offers.GetByOfferID(ctx, offerID)
	if err != nil {
		if errors.Is(err, ErrOfferNotFound) {
			return AcceptResult{}, err
		}
		return AcceptResult{}, asTimeout(ctx, fmt.Errorf("%w: read offer: %v", ErrStorageUnavailable, err))
	}
	// Fail fast; the authoritative check is the compare-and-set below.
	if offer.Status != models.SwapOfferActive {
		return AcceptResult{}, fmt.Errorf("%w: offer %s", ErrNoLongerActive, offerID)
	}
	if takerID == offer.MakerID {
		return AcceptResult{}, fmt.Errorf("%w: cannot accept own offer", ErrNotEligible)
	}

	pay, err := e.instances.GetByInstanceID(ctx, payingInstanceID)
	if err != nil {
		if errors.Is(err, ErrInstanceNotFound) {
			return AcceptResult{}, fmt.Errorf("%w: paying instance %s", ErrNotEligible, payingInstanceID)
		}
		return AcceptResult{}, asTimeout(ctx, fmt.Errorf("%w: read paying instance: %v", ErrStorageUnavailable, err))
	}
	switch {
	case pay.OwnerID != takerID:
		return AcceptResult{}, fmt.Errorf("%w: caller does not own %s", ErrNotEligible, payingInstanceID)
	case pay.Locked:
		return AcceptResult{}, fmt.Errorf("%w: paying instance is reserved", ErrNotEligible)
	case pay.CardID != offer.RequestedCardID:
		// The maker requests requested_card_id; the taker must pay with
		// exactly that kind.
		return AcceptResult{}, fmt.Errorf("%w: offer wants card %d, got %d", ErrNotEligible, offer.RequestedCardID, pay.CardID)
	}

	executedAt := e.now()

	if txs, ok := e.offers.(TxAcceptor); ok {
		if err := txs.AcceptSwapTx(ctx, offer, takerID, payingInstanceID, executedAt); err != nil {
			return AcceptResult{}, asTimeout(ctx, err)
		}
	} else if err := e.acceptTwoStep(ctx, offer, takerID, payingInstanceID, executedAt); err != nil {
		return AcceptResult{}, asTimeout(ctx, err)
	}

	e.activity.Record(ctx, takerID, "swap_accept",
		fmt.Sprintf("received instance %s for %s", offer.OfferedInstanceID, payingInstanceID))
	e.activity.Record(ctx, offer.MakerID, "swap_fulfilled",
		fmt.Sprintf("offer %s fulfilled by %s", offerID, takerID))

	slog.Info("Swap completed",
		slog.String("type", "swap"),
		slog.String("offer_id", offerID),
		slog.String("maker_id", offer.MakerID),
		slog.String("taker_id", takerID))

	return AcceptResult{ReceivedInstanceID: offer.OfferedInstanceID}, nil
}

// acceptTwoStep runs the swap as individual conditional writes for
// stores without a transactional envelope.
//
// Step one moves the offered instance maker -> taker, clearing its lock
// in the same write; if it misses, nothing has moved. Step two moves the
// payment taker -> maker with one bounded retry; if it cannot land, the
// offered instance is rolled back to the maker with its lock restored
// and the offer stays active. Only then does the compare-and-set
// terminate the offer. Success is never declared while an instance is
// stranded.
func (e *Executor) acceptTwoStep(ctx context.Context, offer *models.SwapOffer, takerID, payingInstanceID string, executedAt time.Time) error {
	if err := e.instances.TransferOffered(ctx, offer.OfferedInstanceID, offer.MakerID, takerID, offer.OfferID); err != nil {
		if errors.Is(err, ErrWriteConflict) {
			// The reservation is gone: a rival taker or a cancellation
			// beat us. Nothing has moved.
			return fmt.Errorf("%w: offer %s", ErrNoLongerActive, offer.OfferID)
		}
		return fmt.Errorf("%w: transfer offered instance: %v", ErrStorageUnavailable, err)
	}

	err := e.instances.TransferPayment(ctx, payingInstanceID, takerID, offer.MakerID)
	if err != nil && !errors.Is(err, ErrWriteConflict) {
		// Single bounded retry before compensating.
		err = e.instances.TransferPayment(ctx, payingInstanceID, takerID, offer.MakerID)
	}
	if err != nil {
		if rerr := e.instances.RestoreOffered(ctx, offer.OfferedInstanceID, takerID, offer.MakerID, offer.OfferID); rerr != nil {
			e.quarantine(ctx, offer.OfferID, offer.OfferedInstanceID, "accept_compensation",
				fmt.Sprintf("payment transfer failed (%v), compensation failed (%v)", err, rerr))
			return fmt.Errorf("%w: offered instance stranded with taker", ErrTradeIncomplete)
		}
		if errors.Is(err, ErrWriteConflict) {
			return fmt.Errorf("%w: paying instance changed hands", ErrNotEligible)
		}
		return fmt.Errorf("%w: transfer payment instance: %v", ErrStorageUnavailable, err)
	}

	// Linearization point.
	if terr := e.offers.SetTerminal(ctx, offer.OfferID, models.SwapOfferCompleted, models.SwapOfferActive, executedAt); terr != nil {
		raceLost := errors.Is(terr, ErrNoLongerActive)

		// Put both instances back. How the offered instance returns
		// depends on why the compare-and-set missed: a lost race means
		// the offer is terminal and the instance comes back unlocked; a
		// store failure means the offer is still active and the
		// reservation must come back with it.
		rb1 := e.instances.TransferPayment(ctx, payingInstanceID, offer.MakerID, takerID)
		var rb2 error
		if raceLost {
			rb2 = e.instances.TransferPayment(ctx, offer.OfferedInstanceID, takerID, offer.MakerID)
		} else {
			rb2 = e.instances.RestoreOffered(ctx, offer.OfferedInstanceID, takerID, offer.MakerID, offer.OfferID)
		}
		if rb1 != nil || rb2 != nil {
			e.quarantine(ctx, offer.OfferID, offer.OfferedInstanceID, "accept_rollback",
				fmt.Sprintf("completion failed (%v), rollback failed (payment: %v, offered: %v)", terr, rb1, rb2))
			return fmt.Errorf("%w: rollback after failed completion", ErrTradeIncomplete)
		}
		if raceLost {
			return fmt.Errorf("%w: offer %s", ErrNoLongerActive, offer.OfferID)
		}
		return fmt.Errorf("%w: complete offer: %v", ErrStorageUnavailable, terr)
	}

	// Effects ordered after the linearization point may lag but must
	// eventually appear; a failed append is quarantined, not fatal.
	rec := &models.TradeRecord{
		OfferID:         offer.OfferID,
		MakerID:         offer.MakerID,
		TakerID:         takerID,
		MakerInstanceID: offer.OfferedInstanceID,
		TakerInstanceID: payingInstanceID,
		ExecutedAt:      executedAt,
	}
	if err := e.trades.Append(ctx, rec); err != nil {
		e.quarantine(ctx, offer.OfferID, "", "audit_append",
			fmt.Sprintf("trade completed but audit append failed: %v", err))
	}

	return nil
}

func (e *Executor) quarantine(ctx context.Context, offerID, instanceID, stage, detail string) {
	ev := &models.ReconciliationEvent{
		OfferID:    offerID,
		InstanceID: instanceID,
		Stage:      stage,
		Detail:     detail,
	}
	if err := e.recon.Record(ctx, ev); err != nil {
		// Last resort: the log line is the only trace left.
		slog.Error("Failed to record reconciliation event",
			slog.String("type", "swap"),
			slog.String("offer_id", offerID),
			slog.String("instance_id", instanceID),
			slog.String("stage", stage),
			slog.String("detail", detail),
			slog.Any("error", err))
		return
	}
	slog.Warn("Reconciliation event recorded",
		slog.String("type", "swap"),
		slog.String("offer_id", offerID),
		slog.String("stage", stage))
}
