package swap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pharaohsoft/nileswap/nileswap/database/models"
)

// The fakes below mimic the Postgres repositories over in-memory maps:
// every mutation is a single conditional write under one mutex, so the
// executor sees the same conflict semantics the real store produces.
// They deliberately do not implement TxAcceptor, which forces the
// executor through the two-step compensation path.

var errInjected = errors.New("injected store failure")

type fakeOffers struct {
	mu     sync.Mutex
	rows   map[string]*models.SwapOffer
	nextID int64

	failCreate      bool
	failSetTerminal bool
}

func newFakeOffers() *fakeOffers {
	return &fakeOffers{rows: make(map[string]*models.SwapOffer)}
}

func (f *fakeOffers) Create(ctx context.Context, offer *models.SwapOffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failCreate {
		return errInjected
	}
	for _, o := range f.rows {
		if o.Status == models.SwapOfferActive && o.OfferedInstanceID == offer.OfferedInstanceID {
			// The unique partial index on active offers.
			return fmt.Errorf("%w: instance %s", ErrAlreadyLocked, offer.OfferedInstanceID)
		}
	}
	f.nextID++
	cp := *offer
	cp.ID = f.nextID
	f.rows[cp.OfferID] = &cp
	offer.ID = cp.ID
	return nil
}

func (f *fakeOffers) GetByOfferID(ctx context.Context, offerID string) (*models.SwapOffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, ok := f.rows[offerID]
	if !ok {
		return nil, ErrOfferNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOffers) SetTerminal(ctx context.Context, offerID string, next, expected models.SwapOfferStatus, closedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSetTerminal {
		return errInjected
	}
	o, ok := f.rows[offerID]
	if !ok || o.Status != expected {
		return fmt.Errorf("%w: offer %s", ErrNoLongerActive, offerID)
	}
	o.Status = next
	o.ClosedAt = closedAt
	o.UpdatedAt = closedAt
	return nil
}

func (f *fakeOffers) ListActive(ctx context.Context, filters MarketFilters) ([]*models.SwapOffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.SwapOffer
	for _, o := range f.rows {
		if o.Status != models.SwapOfferActive {
			continue
		}
		if filters.MakerID != "" && o.MakerID != filters.MakerID {
			continue
		}
		if filters.ExcludeMakerID != "" && o.MakerID == filters.ExcludeMakerID {
			continue
		}
		if filters.OfferedCardID != 0 && o.OfferedCardID != filters.OfferedCardID {
			continue
		}
		if filters.RequestedCardID != 0 && o.RequestedCardID != filters.RequestedCardID {
			continue
		}
		if !filters.Before.IsZero() {
			if o.CreatedAt.After(filters.Before) {
				continue
			}
			if o.CreatedAt.Equal(filters.Before) && o.ID >= filters.BeforeID {
				continue
			}
		}
		cp := *o
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

type fakeInstances struct {
	mu   sync.Mutex
	rows map[string]*models.CardInstance

	failTransferPayment int // remaining injected failures
	failRestore         bool
	failUnlock          bool
}

func newFakeInstances() *fakeInstances {
	return &fakeInstances{rows: make(map[string]*models.CardInstance)}
}

func (f *fakeInstances) add(inst *models.CardInstance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *inst
	f.rows[cp.InstanceID] = &cp
}

func (f *fakeInstances) get(instanceID string) models.CardInstance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[instanceID]
}

func (f *fakeInstances) GetByInstanceID(ctx context.Context, instanceID string) (*models.CardInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	inst, ok := f.rows[instanceID]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	cp := *inst
	return &cp, nil
}

func (f *fakeInstances) ListByOwner(ctx context.Context, ownerID string) ([]*models.CardInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.CardInstance
	for _, inst := range f.rows {
		if inst.OwnerID == ownerID {
			cp := *inst
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out, nil
}

func (f *fakeInstances) Lock(ctx context.Context, instanceID, offerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	inst, ok := f.rows[instanceID]
	if !ok {
		return ErrInstanceNotFound
	}
	if inst.Locked {
		return fmt.Errorf("%w: instance %s", ErrAlreadyLocked, instanceID)
	}
	inst.Locked = true
	inst.LockOfferID = offerID
	return nil
}

func (f *fakeInstances) Unlock(ctx context.Context, instanceID, offerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failUnlock {
		return errInjected
	}
	inst, ok := f.rows[instanceID]
	if !ok {
		return ErrInstanceNotFound
	}
	if !inst.Locked {
		return nil
	}
	if inst.LockOfferID != offerID {
		return fmt.Errorf("%w: instance %s", ErrLockMismatch, instanceID)
	}
	inst.Locked = false
	inst.LockOfferID = ""
	return nil
}

func (f *fakeInstances) TransferOffered(ctx context.Context, instanceID, from, to, offerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	inst, ok := f.rows[instanceID]
	if !ok || inst.OwnerID != from || !inst.Locked || inst.LockOfferID != offerID {
		return ErrWriteConflict
	}
	inst.OwnerID = to
	inst.Locked = false
	inst.LockOfferID = ""
	return nil
}

func (f *fakeInstances) TransferPayment(ctx context.Context, instanceID, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failTransferPayment > 0 {
		f.failTransferPayment--
		return errInjected
	}
	inst, ok := f.rows[instanceID]
	if !ok || inst.OwnerID != from || inst.Locked {
		return ErrWriteConflict
	}
	inst.OwnerID = to
	return nil
}

func (f *fakeInstances) RestoreOffered(ctx context.Context, instanceID, from, to, offerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failRestore {
		return errInjected
	}
	inst, ok := f.rows[instanceID]
	if !ok || inst.OwnerID != from || inst.Locked {
		return ErrWriteConflict
	}
	inst.OwnerID = to
	inst.Locked = true
	inst.LockOfferID = offerID
	return nil
}

type fakeTrades struct {
	mu   sync.Mutex
	rows map[string]*models.TradeRecord

	failAppend bool
}

func newFakeTrades() *fakeTrades {
	return &fakeTrades{rows: make(map[string]*models.TradeRecord)}
}

func (f *fakeTrades) Append(ctx context.Context, rec *models.TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAppend {
		return errInjected
	}
	if _, ok := f.rows[rec.OfferID]; ok {
		return nil
	}
	cp := *rec
	f.rows[rec.OfferID] = &cp
	return nil
}

func (f *fakeTrades) GetByOfferID(ctx context.Context, offerID string) (*models.TradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.rows[offerID]
	if !ok {
		return nil, ErrOfferNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeTrades) ListByPlayer(ctx context.Context, playerID string) ([]*models.TradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.TradeRecord
	for _, rec := range f.rows {
		if rec.MakerID == playerID || rec.TakerID == playerID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeRecon struct {
	mu     sync.Mutex
	events []*models.ReconciliationEvent
}

func (f *fakeRecon) Record(ctx context.Context, ev *models.ReconciliationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *ev
	f.events = append(f.events, &cp)
	return nil
}

func (f *fakeRecon) open() []*models.ReconciliationEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.ReconciliationEvent(nil), f.events...)
}

type fakeRegistry struct {
	mu    sync.Mutex
	cards map[int64]MasterCard
}

func newFakeRegistry(cards ...MasterCard) *fakeRegistry {
	r := &fakeRegistry{cards: make(map[int64]MasterCard)}
	for _, c := range cards {
		r.cards[c.ID] = c
	}
	return r
}

func (f *fakeRegistry) GetMasterCard(ctx context.Context, cardID int64) (MasterCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	mc, ok := f.cards[cardID]
	if !ok {
		return MasterCard{}, fmt.Errorf("%w: card %d", ErrInvalidCard, cardID)
	}
	return mc, nil
}

type fakeActivity struct {
	mu      sync.Mutex
	entries []string
}

func (f *fakeActivity) Record(ctx context.Context, playerID, kind, description string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, playerID+"/"+kind)
}

// world bundles the fakes behind a ready-to-use executor and market.
type world struct {
	offers    *fakeOffers
	instances *fakeInstances
	trades    *fakeTrades
	recon     *fakeRecon
	registry  *fakeRegistry
	activity  *fakeActivity

	executor *Executor
	market   *Market
}

func newWorld() *world {
	w := &world{
		offers:    newFakeOffers(),
		instances: newFakeInstances(),
		trades:    newFakeTrades(),
		recon:     &fakeRecon{},
		registry: newFakeRegistry(
			MasterCard{ID: 1, Name: "Anubis", Rarity: 3},
			MasterCard{ID: 2, Name: "Bastet", Rarity: 2},
			MasterCard{ID: 3, Name: "Sobek", Rarity: 1},
		),
		activity: &fakeActivity{},
	}
	w.executor = NewExecutor(w.offers, w.instances, w.trades, w.recon, w.registry, w.activity)
	w.market = NewMarket(w.offers, w.registry)
	return w
}

// seed puts an unlocked instance of cardID into ownerID's collection.
func (w *world) seed(instanceID, ownerID string, cardID int64) {
	w.instances.add(&models.CardInstance{
		InstanceID: instanceID,
		CardID:     cardID,
		OwnerID:    ownerID,
		Level:      1,
		ObtainedAt: time.Now(),
	})
}
