package services

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/pharaohsoft/nileswap/nileswap/database/repositories"
	"github.com/pharaohsoft/nileswap/nileswap/swap"
)

const defaultCardCacheSize = 2048

// ImageResolver turns a stored image path into a public URL.
type ImageResolver interface {
	ImageURL(imagePath string) string
}

// CardRegistry resolves master cards for offer validation and market
// denormalization. Master cards change rarely, so lookups go through an
// LRU in front of the cards table.
type CardRegistry struct {
	cards  repositories.CardRepository
	images ImageResolver
	cache  *lru.Cache
}

func NewCardRegistry(cards repositories.CardRepository, images ImageResolver, cacheSize int) (*CardRegistry, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCardCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create card cache: %w", err)
	}
	return &CardRegistry{cards: cards, images: images, cache: cache}, nil
}

func (r *CardRegistry) GetMasterCard(ctx context.Context, cardID int64) (swap.MasterCard, error) {
	if v, ok := r.cache.Get(cardID); ok {
		return v.(swap.MasterCard), nil
	}

	card, err := r.cards.GetByID(ctx, cardID)
	if err != nil {
		return swap.MasterCard{}, err
	}

	mc := swap.MasterCard{
		ID:       card.ID,
		Name:     card.Name,
		ImageURL: r.images.ImageURL(card.ImagePath),
		Rarity:   card.Rarity,
	}
	r.cache.Add(cardID, mc)
	return mc, nil
}
