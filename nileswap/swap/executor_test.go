package swap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/pharaohsoft/nileswap/nileswap/database/models"
)

func TestPublishAcceptHappyPath(t *testing.T) {
	w := newWorld()
	ctx := context.Background()

	w.seed("inst-a", "alice", 1)
	w.seed("inst-b", "bob", 2)

	offerID, err := w.executor.PublishOffer(ctx, "alice", "inst-a", 2)
	require.NoError(t, err)
	require.NotEmpty(t, offerID)

	// The offered instance is reserved while the offer is live.
	instA := w.instances.get("inst-a")
	assert.True(t, instA.Locked)
	assert.Equal(t, offerID, instA.LockOfferID)

	// Bob sees it on the market, Alice does not.
	page, err := w.market.Browse(ctx, "bob", BrowseFilter{})
	require.NoError(t, err)
	require.Len(t, page.Offers, 1)
	assert.Equal(t, offerID, page.Offers[0].OfferID)

	page, err = w.market.Browse(ctx, "alice", BrowseFilter{})
	require.NoError(t, err)
	assert.Empty(t, page.Offers)

	result, err := w.executor.AcceptOffer(ctx, "bob", offerID, "inst-b")
	require.NoError(t, err)
	assert.Equal(t, "inst-a", result.ReceivedInstanceID)

	// Ownership swapped, nothing left reserved.
	instA = w.instances.get("inst-a")
	instB := w.instances.get("inst-b")
	assert.Equal(t, "bob", instA.OwnerID)
	assert.Equal(t, "alice", instB.OwnerID)
	assert.False(t, instA.Locked)
	assert.False(t, instB.Locked)

	offer, err := w.offers.GetByOfferID(ctx, offerID)
	require.NoError(t, err)
	assert.Equal(t, models.SwapOfferCompleted, offer.Status)
	assert.False(t, offer.ClosedAt.IsZero())

	rec, err := w.trades.GetByOfferID(ctx, offerID)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.MakerID)
	assert.Equal(t, "bob", rec.TakerID)
	assert.Equal(t, "inst-a", rec.MakerInstanceID)
	assert.Equal(t, "inst-b", rec.TakerInstanceID)

	// The completed offer is off the market.
	page, err = w.market.Browse(ctx, "bob", BrowseFilter{})
	require.NoError(t, err)
	assert.Empty(t, page.Offers)

	assert.Empty(t, w.recon.open())
}

func TestPublishValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		makerID   string
		instance  string
		requested int64
		wantErr   error
	}{
		{
			name:      "not the owner",
			makerID:   "bob",
			instance:  "inst-a",
			requested: 2,
			wantErr:   ErrNotOwner,
		},
		{
			name:      "unknown instance",
			makerID:   "alice",
			instance:  "inst-missing",
			requested: 2,
			wantErr:   ErrInvalidCard,
		},
		{
			name:      "same kind forbidden",
			makerID:   "alice",
			instance:  "inst-a",
			requested: 1,
			wantErr:   ErrSameKindForbidden,
		},
		{
			name:      "unknown requested card",
			makerID:   "alice",
			instance:  "inst-a",
			requested: 99,
			wantErr:   ErrInvalidCard,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld()
			w.seed("inst-a", "alice", 1)

			_, err := w.executor.PublishOffer(ctx, tt.makerID, tt.instance, tt.requested)
			assert.ErrorIs(t, err, tt.wantErr)

			// Failed publishes leave nothing reserved.
			assert.False(t, w.instances.get("inst-a").Locked)
		})
	}
}

func TestPublishRejectsReservedInstance(t *testing.T) {
	w := newWorld()
	ctx := context.Background()

	w.seed("inst-a", "alice", 1)

	first, err := w.executor.PublishOffer(ctx, "alice", "inst-a", 2)
	require.NoError(t, err)

	// A second offer for the same instance bounces off the reservation.
	_, err = w.executor.PublishOffer(ctx, "alice", "inst-a", 3)
	assert.ErrorIs(t, err, ErrAlreadyLocked)

	// The first offer is untouched.
	offer, err := w.offers.GetByOfferID(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, models.SwapOfferActive, offer.Status)
	assert.Equal(t, first, w.instances.get("inst-a").LockOfferID)
}

func TestPublishCompensatesFailedInsert(t *testing.T) {
	w := newWorld()
	ctx := context.Background()

	w.seed("inst-a", "alice", 1)
	w.offers.failCreate = true

	_, err := w.executor.PublishOffer(ctx, "alice", "inst-a", 2)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	// The reservation taken before the insert is released again.
	assert.False(t, w.instances.get("inst-a").Locked)
	assert.Empty(t, w.recon.open())
}

func TestPublishQuarantinesWhenCompensationFails(t *testing.T) {
	w := newWorld()
	ctx := context.Background()

	w.seed("inst-a", "alice", 1)
	w.offers.failCreate = true
	w.instances.failUnlock = true

	_, err := w.executor.PublishOffer(ctx, "alice", "inst-a", 2)
	assert.ErrorIs(t, err, ErrNeedsReconciliation)

	events := w.recon.open()
	require.Len(t, events, 1)
	assert.Equal(t, "publish_unlock", events[0].Stage)
	assert.Equal(t, "inst-a", events[0].InstanceID)
}

func TestCancelReleasesReservation(t *testing.T) {
	w := newWorld()
	ctx := context.Background()

	w.seed("inst-a", "alice", 1)
	w.seed("inst-b", "bob", 2)

	offerID, err := w.executor.PublishOffer(ctx, "alice", "inst-a", 2)
	require.NoError(t, err)

	require.NoError(t, w.executor.CancelOffer(ctx, "alice", offerID))

	offer, err := w.offers.GetByOfferID(ctx, offerID)
	require.NoError(t, err)
	assert.Equal(t, models.SwapOfferCancelled, offer.Status)
	assert.False(t, w.instances.get("inst-a").Locked)

	// Cancelled offers are off the market and cannot be accepted.
	page, err := w.market.Browse(ctx, "bob", BrowseFilter{})
	require.NoError(t, err)
	assert.Empty(t, page.Offers)

	_, err = w.executor.AcceptOffer(ctx, "bob", offerID, "inst-b")
	assert.ErrorIs(t, err, ErrNoLongerActive)

	// A second cancel is reported as the race it lost.
	err = w.executor.CancelOffer(ctx, "alice", offerID)
	assert.ErrorIs(t, err, ErrNoLongerActive)

	// The instance is free to be offered again.
	_, err = w.executor.PublishOffer(ctx, "alice", "inst-a", 3)
	assert.NoError(t, err)
}

func TestCancelRequiresMaker(t *testing.T) {
	w := newWorld()
	ctx := context.Background()

	w.seed("inst-a", "alice", 1)

	offerID, err := w.executor.PublishOffer(ctx, "alice", "inst-a", 2)
	require.NoError(t, err)

	err = w.executor.CancelOffer(ctx, "bob", offerID)
	assert.ErrorIs(t, err, ErrNotOwner)

	err = w.executor.CancelOffer(ctx, "alice", "no-such-offer")
	assert.ErrorIs(t, err, ErrOfferNotFound)
}

func TestAcceptEligibility(t *testing.T) {
	ctx := context.Background()

	setup := func() (*world, string) {
		w := newWorld()
		w.seed("inst-a", "alice", 1)
		w.seed("inst-b", "bob", 2)
		w.seed("inst-c", "bob", 3)
		offerID, err := w.executor.PublishOffer(ctx, "alice", "inst-a", 2)
		require.NoError(t, err)
		return w, offerID
	}

	t.Run("maker cannot take own offer", func(t *testing.T) {
		w, offerID := setup()
		w.seed("inst-d", "alice", 2)
		_, err := w.executor.AcceptOffer(ctx, "alice", offerID, "inst-d")
		assert.ErrorIs(t, err, ErrNotEligible)
	})

	t.Run("payment must be the requested kind", func(t *testing.T) {
		w, offerID := setup()
		_, err := w.executor.AcceptOffer(ctx, "bob", offerID, "inst-c")
		assert.ErrorIs(t, err, ErrNotEligible)
	})

	t.Run("payment must belong to the taker", func(t *testing.T) {
		w, offerID := setup()
		w.seed("inst-e", "carol", 2)
		_, err := w.executor.AcceptOffer(ctx, "bob", offerID, "inst-e")
		assert.ErrorIs(t, err, ErrNotEligible)
	})

	t.Run("reserved payment is rejected", func(t *testing.T) {
		w, offerID := setup()
		_, err := w.executor.PublishOffer(ctx, "bob", "inst-b", 1)
		require.NoError(t, err)
		_, err = w.executor.AcceptOffer(ctx, "bob", offerID, "inst-b")
		assert.ErrorIs(t, err, ErrNotEligible)
	})

	t.Run("unknown offer", func(t *testing.T) {
		w, _ := setup()
		_, err := w.executor.AcceptOffer(ctx, "bob", "no-such-offer", "inst-b")
		assert.ErrorIs(t, err, ErrOfferNotFound)
	})
}

// Two takers race for the same offer: exactly one wins, the loser sees a
// clean no-longer-active, and no card is duplicated or lost.
func TestConcurrentAccept(t *testing.T) {
	w := newWorld()
	ctx := context.Background()

	w.seed("inst-a", "alice", 1)
	w.seed("inst-b", "bob", 2)
	w.seed("inst-c", "carol", 2)

	offerID, err := w.executor.PublishOffer(ctx, "alice", "inst-a", 2)
	require.NoError(t, err)

	errs := make([]error, 2)
	takers := []struct{ id, pay string }{
		{"bob", "inst-b"},
		{"carol", "inst-c"},
	}
	var g errgroup.Group
	for i, taker := range takers {
		i, taker := i, taker
		g.Go(func() error {
			_, errs[i] = w.executor.AcceptOffer(ctx, taker.id, offerID, taker.pay)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrNoLongerActive)
		}
	}
	assert.Equal(t, 1, winners)

	offer, err := w.offers.GetByOfferID(ctx, offerID)
	require.NoError(t, err)
	assert.Equal(t, models.SwapOfferCompleted, offer.Status)

	// Conservation: every instance has exactly one owner and the two
	// traded instances ended up with different players.
	instA := w.instances.get("inst-a")
	assert.False(t, instA.Locked)
	assert.NotEqual(t, "alice", instA.OwnerID)

	winnerPay := "inst-b"
	if errs[0] != nil {
		winnerPay = "inst-c"
	}
	assert.Equal(t, "alice", w.instances.get(winnerPay).OwnerID)

	assert.Empty(t, w.recon.open())
}

// A taker and the maker race acceptance against cancellation. Whoever
// wins the compare-and-set decides the outcome; either way the state is
// consistent afterwards.
func TestConcurrentAcceptAndCancel(t *testing.T) {
	w := newWorld()
	ctx := context.Background()

	w.seed("inst-a", "alice", 1)
	w.seed("inst-b", "bob", 2)

	offerID, err := w.executor.PublishOffer(ctx, "alice", "inst-a", 2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var acceptErr, cancelErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, acceptErr = w.executor.AcceptOffer(ctx, "bob", offerID, "inst-b")
	}()
	go func() {
		defer wg.Done()
		cancelErr = w.executor.CancelOffer(ctx, "alice", offerID)
	}()
	wg.Wait()

	offer, err := w.offers.GetByOfferID(ctx, offerID)
	require.NoError(t, err)

	instA := w.instances.get("inst-a")
	instB := w.instances.get("inst-b")

	switch offer.Status {
	case models.SwapOfferCompleted:
		assert.NoError(t, acceptErr)
		assert.ErrorIs(t, cancelErr, ErrNoLongerActive)
		assert.Equal(t, "bob", instA.OwnerID)
		assert.Equal(t, "alice", instB.OwnerID)
	case models.SwapOfferCancelled:
		assert.NoError(t, cancelErr)
		assert.ErrorIs(t, acceptErr, ErrNoLongerActive)
		assert.Equal(t, "alice", instA.OwnerID)
		assert.Equal(t, "bob", instB.OwnerID)
	default:
		t.Fatalf("offer left in non-terminal status %q", offer.Status)
	}

	assert.False(t, instA.Locked)
	assert.False(t, instB.Locked)
	assert.Empty(t, w.recon.open())
}

// The payment transfer fails past its retry: the offered instance must
// come back to the maker with its reservation restored and the offer
// stays live.
func TestAcceptCompensatesFailedPayment(t *testing.T) {
	w := newWorld()
	ctx := context.Background()

	w.seed("inst-a", "alice", 1)
	w.seed("inst-b", "bob", 2)

	offerID, err := w.executor.PublishOffer(ctx, "alice", "inst-a", 2)
	require.NoError(t, err)

	w.instances.failTransferPayment = 2 // first attempt plus the retry

	_, err = w.executor.AcceptOffer(ctx, "bob", offerID, "inst-b")
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	instA := w.instances.get("inst-a")
	assert.Equal(t, "alice", instA.OwnerID)
	assert.True(t, instA.Locked)
	assert.Equal(t, offerID, instA.LockOfferID)
	assert.Equal(t, "bob", w.instances.get("inst-b").OwnerID)

	offer, err := w.offers.GetByOfferID(ctx, offerID)
	require.NoError(t, err)
	assert.Equal(t, models.SwapOfferActive, offer.Status)

	// The transient failure over, the same acceptance goes through.
	result, err := w.executor.AcceptOffer(ctx, "bob", offerID, "inst-b")
	require.NoError(t, err)
	assert.Equal(t, "inst-a", result.ReceivedInstanceID)
}

func TestAcceptRetriesPaymentOnce(t *testing.T) {
	w := newWorld()
	ctx := context.Background()

	w.seed("inst-a", "alice", 1)
	w.seed("inst-b", "bob", 2)

	offerID, err := w.executor.PublishOffer(ctx, "alice", "inst-a", 2)
	require.NoError(t, err)

	w.instances.failTransferPayment = 1 // retry saves the trade

	result, err := w.executor.AcceptOffer(ctx, "bob", offerID, "inst-b")
	require.NoError(t, err)
	assert.Equal(t, "inst-a", result.ReceivedInstanceID)
	assert.Equal(t, "alice", w.instances.get("inst-b").OwnerID)
}

// Compensation itself fails: the trade is quarantined and the caller is
// told the truth instead of a fabricated success or clean failure.
func TestAcceptQuarantinesFailedCompensation(t *testing.T) {
	w := newWorld()
	ctx := context.Background()

	w.seed("inst-a", "alice", 1)
	w.seed("inst-b", "bob", 2)

	offerID, err := w.executor.PublishOffer(ctx, "alice", "inst-a", 2)
	require.NoError(t, err)

	w.instances.failTransferPayment = 2
	w.instances.failRestore = true

	_, err = w.executor.AcceptOffer(ctx, "bob", offerID, "inst-b")
	assert.ErrorIs(t, err, ErrTradeIncomplete)

	events := w.recon.open()
	require.Len(t, events, 1)
	assert.Equal(t, "accept_compensation", events[0].Stage)
	assert.Equal(t, offerID, events[0].OfferID)
}

// The status compare-and-set fails with a store error while the offer
// is still active: both transfers are rolled back, the reservation on
// the offered instance is re-established, and the caller sees the
// transient failure, not a race outcome.
func TestAcceptRollsBackWhenCompletionFails(t *testing.T) {
	w := newWorld()
	ctx := context.Background()

	w.seed("inst-a", "alice", 1)
	w.seed("inst-b", "bob", 2)

	offerID, err := w.executor.PublishOffer(ctx, "alice", "inst-a", 2)
	require.NoError(t, err)

	w.offers.failSetTerminal = true

	_, err = w.executor.AcceptOffer(ctx, "bob", offerID, "inst-b")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.NotErrorIs(t, err, ErrNoLongerActive)

	// The offer stays live and its reservation is intact.
	offer, err := w.offers.GetByOfferID(ctx, offerID)
	require.NoError(t, err)
	assert.Equal(t, models.SwapOfferActive, offer.Status)

	instA := w.instances.get("inst-a")
	assert.Equal(t, "alice", instA.OwnerID)
	assert.True(t, instA.Locked)
	assert.Equal(t, offerID, instA.LockOfferID)
	assert.Equal(t, "bob", w.instances.get("inst-b").OwnerID)
	assert.Empty(t, w.recon.open())

	// The store recovers; the same acceptance completes cleanly.
	w.offers.failSetTerminal = false
	result, err := w.executor.AcceptOffer(ctx, "bob", offerID, "inst-b")
	require.NoError(t, err)
	assert.Equal(t, "inst-a", result.ReceivedInstanceID)
}

func TestAcceptQuarantinesFailedCompletionRollback(t *testing.T) {
	w := newWorld()
	ctx := context.Background()

	w.seed("inst-a", "alice", 1)
	w.seed("inst-b", "bob", 2)

	offerID, err := w.executor.PublishOffer(ctx, "alice", "inst-a", 2)
	require.NoError(t, err)

	w.offers.failSetTerminal = true
	w.instances.failRestore = true

	_, err = w.executor.AcceptOffer(ctx, "bob", offerID, "inst-b")
	assert.ErrorIs(t, err, ErrTradeIncomplete)

	events := w.recon.open()
	require.Len(t, events, 1)
	assert.Equal(t, "accept_rollback", events[0].Stage)
	assert.Equal(t, offerID, events[0].OfferID)
}

func TestAcceptAuditFailureIsQuarantinedNotFatal(t *testing.T) {
	w := newWorld()
	ctx := context.Background()

	w.seed("inst-a", "alice", 1)
	w.seed("inst-b", "bob", 2)

	offerID, err := w.executor.PublishOffer(ctx, "alice", "inst-a", 2)
	require.NoError(t, err)

	w.trades.failAppend = true

	// The swap completed; the missing audit row is the reconciler's
	// problem, not the taker's.
	result, err := w.executor.AcceptOffer(ctx, "bob", offerID, "inst-b")
	require.NoError(t, err)
	assert.Equal(t, "inst-a", result.ReceivedInstanceID)

	events := w.recon.open()
	require.Len(t, events, 1)
	assert.Equal(t, "audit_append", events[0].Stage)
}

func TestExecutorUsesInjectedClock(t *testing.T) {
	w := newWorld()
	ctx := context.Background()

	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	w.executor.now = func() time.Time { return fixed }

	w.seed("inst-a", "alice", 1)
	w.seed("inst-b", "bob", 2)

	offerID, err := w.executor.PublishOffer(ctx, "alice", "inst-a", 2)
	require.NoError(t, err)

	offer, err := w.offers.GetByOfferID(ctx, offerID)
	require.NoError(t, err)
	assert.Equal(t, fixed, offer.CreatedAt)

	_, err = w.executor.AcceptOffer(ctx, "bob", offerID, "inst-b")
	require.NoError(t, err)

	rec, err := w.trades.GetByOfferID(ctx, offerID)
	require.NoError(t, err)
	assert.Equal(t, fixed, rec.ExecutedAt)
}
