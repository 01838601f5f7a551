package handlers

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/pharaohsoft/nileswap/backend/middleware"
	"github.com/pharaohsoft/nileswap/backend/models"
	"github.com/pharaohsoft/nileswap/backend/utils"
	"github.com/pharaohsoft/nileswap/nileswap/swap"
)

// Swapper is the write side of the exchange.
type Swapper interface {
	PublishOffer(ctx context.Context, makerID, offeredInstanceID string, requestedCardID int64) (string, error)
	CancelOffer(ctx context.Context, makerID, offerID string) error
	AcceptOffer(ctx context.Context, takerID, offerID, payingInstanceID string) (swap.AcceptResult, error)
}

// MarketViewer is the read side.
type MarketViewer interface {
	Browse(ctx context.Context, viewerID string, f swap.BrowseFilter) (swap.Page, error)
	Mine(ctx context.Context, viewerID string) ([]swap.OfferSummary, error)
}

// SwapHandlers serves the exchange API.
type SwapHandlers struct {
	executor  Swapper
	market    MarketViewer
	instances swap.InstanceStore
	trades    swap.TradeLog
	registry  swap.CardRegistry
}

func NewSwapHandlers(executor Swapper, market MarketViewer, instances swap.InstanceStore, trades swap.TradeLog, registry swap.CardRegistry) *SwapHandlers {
	return &SwapHandlers{
		executor:  executor,
		market:    market,
		instances: instances,
		trades:    trades,
		registry:  registry,
	}
}

// Register mounts the API under /api. Every route requires a session.
func (h *SwapHandlers) Register(app *fiber.App, sessions middleware.SessionValidator) {
	api := app.Group("/api", middleware.AuthRequired(sessions))

	api.Post("/offers", h.PublishOffer)
	api.Delete("/offers/:offerID", h.CancelOffer)
	api.Post("/offers/:offerID/accept", h.AcceptOffer)

	api.Get("/market", h.BrowseMarket)
	api.Get("/offers/mine", h.MyOffers)
	api.Get("/inventory", h.Inventory)
	api.Get("/trades", h.TradeHistory)
}

func (h *SwapHandlers) PublishOffer(c *fiber.Ctx) error {
	var req models.PublishOfferRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendBadRequest(c, "invalid request body")
	}
	if req.OfferedInstanceID == "" || req.RequestedCardID == 0 {
		return utils.SendBadRequest(c, "offered_instance_id and requested_card_id are required")
	}

	offerID, err := h.executor.PublishOffer(c.Context(), middleware.PlayerID(c), req.OfferedInstanceID, req.RequestedCardID)
	if err != nil {
		return utils.SendSwapError(c, err)
	}
	return utils.SendCreated(c, models.PublishOfferResponse{OfferID: offerID}, "offer published")
}

func (h *SwapHandlers) CancelOffer(c *fiber.Ctx) error {
	offerID := c.Params("offerID")
	if offerID == "" {
		return utils.SendBadRequest(c, "offer id is required")
	}

	if err := h.executor.CancelOffer(c.Context(), middleware.PlayerID(c), offerID); err != nil {
		return utils.SendSwapError(c, err)
	}
	return utils.SendSuccess(c, nil, "offer cancelled")
}

func (h *SwapHandlers) AcceptOffer(c *fiber.Ctx) error {
	offerID := c.Params("offerID")
	if offerID == "" {
		return utils.SendBadRequest(c, "offer id is required")
	}

	var req models.AcceptOfferRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendBadRequest(c, "invalid request body")
	}
	if req.PayingInstanceID == "" {
		return utils.SendBadRequest(c, "paying_instance_id is required")
	}

	result, err := h.executor.AcceptOffer(c.Context(), middleware.PlayerID(c), offerID, req.PayingInstanceID)
	if err != nil {
		return utils.SendSwapError(c, err)
	}
	return utils.SendSuccess(c, result, "swap completed")
}

func (h *SwapHandlers) BrowseMarket(c *fiber.Ctx) error {
	filter := swap.BrowseFilter{
		Query:  c.Query("q"),
		Cursor: c.Query("cursor"),
	}
	if v := c.Query("offered_card_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return utils.SendBadRequest(c, "offered_card_id must be an integer")
		}
		filter.OfferedMaster = id
	}
	if v := c.Query("requested_card_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return utils.SendBadRequest(c, "requested_card_id must be an integer")
		}
		filter.RequestedMaster = id
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return utils.SendBadRequest(c, "limit must be an integer")
		}
		filter.Limit = n
	}

	page, err := h.market.Browse(c.Context(), middleware.PlayerID(c), filter)
	if err != nil {
		return utils.SendSwapError(c, err)
	}
	return utils.SendSuccess(c, page, "")
}

func (h *SwapHandlers) MyOffers(c *fiber.Ctx) error {
	offers, err := h.market.Mine(c.Context(), middleware.PlayerID(c))
	if err != nil {
		return utils.SendSwapError(c, err)
	}
	return utils.SendSuccess(c, offers, "")
}

func (h *SwapHandlers) Inventory(c *fiber.Ctx) error {
	playerID := middleware.PlayerID(c)

	instances, err := h.instances.ListByOwner(c.Context(), playerID)
	if err != nil {
		return utils.SendSwapError(c, err)
	}

	out := make([]models.InventoryInstance, 0, len(instances))
	for _, inst := range instances {
		row := models.InventoryInstance{
			InstanceID: inst.InstanceID,
			CardID:     inst.CardID,
			Level:      inst.Level,
			Power:      inst.Power,
			Locked:     inst.Locked,
			ObtainedAt: inst.ObtainedAt,
		}
		if mc, err := h.registry.GetMasterCard(c.Context(), inst.CardID); err == nil {
			row.CardName = mc.Name
		}
		out = append(out, row)
	}
	return utils.SendSuccess(c, out, "")
}

func (h *SwapHandlers) TradeHistory(c *fiber.Ctx) error {
	playerID := middleware.PlayerID(c)

	records, err := h.trades.ListByPlayer(c.Context(), playerID)
	if err != nil {
		return utils.SendSwapError(c, err)
	}

	out := make([]models.TradeHistoryEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, models.TradeHistoryEntry{
			OfferID:         rec.OfferID,
			MakerID:         rec.MakerID,
			TakerID:         rec.TakerID,
			MakerInstanceID: rec.MakerInstanceID,
			TakerInstanceID: rec.TakerInstanceID,
			ExecutedAt:      rec.ExecutedAt,
		})
	}
	return utils.SendSuccess(c, out, "")
}
