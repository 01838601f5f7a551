package swap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sahilm/fuzzy"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Market is the query surface for the swap exchange: browse the open
// market or list your own offers. It only ever reads status = active
// rows, so a half-completed trade is never visible; the single
// observable mid-trade write is the status compare-and-set.
type Market struct {
	offers   OfferStore
	registry CardRegistry
}

func NewMarket(offers OfferStore, registry CardRegistry) *Market {
	return &Market{offers: offers, registry: registry}
}

// BrowseFilter narrows the market listing. Zero values mean no filter.
type BrowseFilter struct {
	OfferedMaster   int64
	RequestedMaster int64
	// Query fuzzy-matches against the offered card's name.
	Query  string
	Limit  int
	Cursor string
}

// CardSide is one denormalized side of an offer summary.
type CardSide struct {
	CardID   int64  `json:"card_id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
	Rarity   int    `json:"rarity"`
}

type OfferSummary struct {
	OfferID           string    `json:"offer_id"`
	MakerID           string    `json:"maker_id"`
	OfferedInstanceID string    `json:"offered_instance_id"`
	Offered           CardSide  `json:"offered"`
	Requested         CardSide  `json:"requested"`
	CreatedAt         time.Time `json:"created_at"`
}

type Page struct {
	Offers     []OfferSummary `json:"offers"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// Browse returns active offers not made by the viewer, newest first,
// ties broken by offer row id.
func (m *Market) Browse(ctx context.Context, viewerID string, f BrowseFilter) (Page, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	before, beforeID, err := decodeCursor(f.Cursor)
	if err != nil {
		return Page{}, err
	}

	offers, err := m.offers.ListActive(ctx, MarketFilters{
		ExcludeMakerID:  viewerID,
		OfferedCardID:   f.OfferedMaster,
		RequestedCardID: f.RequestedMaster,
		Limit:           limit + 1, // one extra row decides next_cursor
		Before:          before,
		BeforeID:        beforeID,
	})
	if err != nil {
		return Page{}, fmt.Errorf("%w: list active offers: %v", ErrStorageUnavailable, err)
	}

	hasMore := len(offers) > limit
	if hasMore {
		offers = offers[:limit]
	}

	summaries := make([]OfferSummary, 0, len(offers))
	for _, o := range offers {
		s, err := m.summarize(ctx, o.OfferID, o.MakerID, o.OfferedInstanceID, o.OfferedCardID, o.RequestedCardID, o.CreatedAt)
		if err != nil {
			return Page{}, err
		}
		summaries = append(summaries, s)
	}

	// The fuzzy filter runs after the page is cut, so a filtered browse
	// can return short or empty pages while matches exist further on.
	// NextCursor still advances over the unfiltered rows, so paging to
	// the end visits every match exactly once.
	if f.Query != "" {
		summaries = fuzzyFilter(summaries, f.Query)
	}

	page := Page{Offers: summaries}
	if hasMore {
		last := offers[len(offers)-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}

// Mine returns the viewer's own active offers, newest first.
func (m *Market) Mine(ctx context.Context, viewerID string) ([]OfferSummary, error) {
	offers, err := m.offers.ListActive(ctx, MarketFilters{
		MakerID: viewerID,
		Limit:   maxPageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list own offers: %v", ErrStorageUnavailable, err)
	}

	summaries := make([]OfferSummary, 0, len(offers))
	for _, o := range offers {
		s, err := m.summarize(ctx, o.OfferID, o.MakerID, o.OfferedInstanceID, o.OfferedCardID, o.RequestedCardID, o.CreatedAt)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

func (m *Market) summarize(ctx context.Context, offerID, makerID, instanceID string, offeredCardID, requestedCardID int64, createdAt time.Time) (OfferSummary, error) {
	offered, err := m.side(ctx, offeredCardID)
	if err != nil {
		return OfferSummary{}, err
	}
	requested, err := m.side(ctx, requestedCardID)
	if err != nil {
		return OfferSummary{}, err
	}
	return OfferSummary{
		OfferID:           offerID,
		MakerID:           makerID,
		OfferedInstanceID: instanceID,
		Offered:           offered,
		Requested:         requested,
		CreatedAt:         createdAt,
	}, nil
}

func (m *Market) side(ctx context.Context, cardID int64) (CardSide, error) {
	mc, err := m.registry.GetMasterCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, ErrInvalidCard) {
			// A dangling card id must not hide the rest of the market.
			return CardSide{CardID: cardID, Name: "unknown"}, nil
		}
		return CardSide{}, fmt.Errorf("%w: resolve card %d: %v", ErrStorageUnavailable, cardID, err)
	}
	return CardSide{CardID: mc.ID, Name: mc.Name, ImageURL: mc.ImageURL, Rarity: mc.Rarity}, nil
}

func fuzzyFilter(summaries []OfferSummary, query string) []OfferSummary {
	names := make([]string, len(summaries))
	for i, s := range summaries {
		names[i] = s.Offered.Name
	}
	matches := fuzzy.Find(query, names)
	out := make([]OfferSummary, 0, len(matches))
	for _, match := range matches {
		out = append(out, summaries[match.Index])
	}
	return out
}
