package handler

import (
	"context"
	"net/http"

	"auction-marketplace/internal/biddingerrors"
	"auction-marketplace/internal/broadcast"
	lifecycle "auction-marketplace/internal/lifecycleService"
	model "auction-marketplace/internal/models"
	"auction-marketplace/services/bidding/helpers"
	"auction-marketplace/utils"

	"github.com/gin-gonic/gin"
)

//go:generate mockgen -source=auction_handler.go -destination=mock_auction_handler.go -package=handler

type AuctionServiceInterface interface {
	Create(ctx context.Context, principal model.Principal, spec lifecycle.CreateAuctionSpec) (model.Auction, error)
	Start(ctx context.Context, auctionID string) (model.Auction, error)
	Close(ctx context.Context, auctionID string) (model.Auction, error)
	Get(ctx context.Context, auctionID string) (model.AuctionListing, error)
	List(ctx context.Context) ([]model.AuctionListing, error)
}

type AuctionHandler struct {
	service   AuctionServiceInterface
	publisher Publisher
}

func NewAuctionHandler(service AuctionServiceInterface, publisher Publisher) *AuctionHandler {
	return &AuctionHandler{service: service, publisher: publisher}
}

// CreateAuctionHandler handles POST /auctions
func (h *AuctionHandler) CreateAuctionHandler(c *gin.Context) {
	principal, ok := helpers.PrincipalFrom(c)
	if !ok {
		helpers.RespondError(c, "CreateAuctionHandler", biddingerrors.ErrUnauthenticated, nil)
		return
	}

	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	auction, err := h.service.Create(c.Request.Context(), principal, lifecycle.CreateAuctionSpec{
		Title:         req.Title,
		Description:   req.Description,
		StartingPrice: *req.StartingPrice,
	})
	if err != nil {
		helpers.RespondError(c, "CreateAuctionHandler", err, map[string]any{"title": req.Title})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, auction, "auction created successfully")
	helpers.LogSuccess("CreateAuctionHandler", "auction created successfully", map[string]any{
		"auction_id": auction.AuctionID,
		"created_by": principal.UserID,
	})
}

// ListAuctionsHandler handles GET /auctions
func (h *AuctionHandler) ListAuctionsHandler(c *gin.Context) {
	listings, err := h.service.List(c.Request.Context())
	if err != nil {
		helpers.RespondError(c, "ListAuctionsHandler", err, nil)
		return
	}

	if listings == nil {
		listings = []model.AuctionListing{}
	}

	utils.JSONResponse(c, http.StatusOK, listings, "auctions retrieved successfully")
}

// GetAuctionHandler handles GET /auctions/:auction_id
func (h *AuctionHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	listing, err := h.service.Get(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "GetAuctionHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, listing, "auction retrieved successfully")
}

// StartAuctionHandler handles POST /auctions/:auction_id/start
func (h *AuctionHandler) StartAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	auction, err := h.service.Start(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "StartAuctionHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	h.publisher.Publish(broadcast.GlobalTopic, broadcast.AuctionStatusUpdated(auctionID, auction.Status))

	utils.JSONResponse(c, http.StatusOK, auction, "auction started successfully")
	helpers.LogSuccess("StartAuctionHandler", "auction started successfully", map[string]any{"auction_id": auctionID})
}

// CloseAuctionHandler handles POST /auctions/:auction_id/close
func (h *AuctionHandler) CloseAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	auction, err := h.service.Close(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "CloseAuctionHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	h.publisher.Publish(broadcast.GlobalTopic, broadcast.AuctionStatusUpdated(auctionID, auction.Status))

	utils.JSONResponse(c, http.StatusOK, auction, "auction closed successfully")
	helpers.LogSuccess("CloseAuctionHandler", "auction closed successfully", map[string]any{
		"auction_id":  auctionID,
		"final_price": auction.CurrentPrice.String(),
	})
}
