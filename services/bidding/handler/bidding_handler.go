package handler

import (
	"context"
	"errors"
	"net/http"

	"auction-marketplace/internal/biddingerrors"
	bidding "auction-marketplace/internal/biddingService"
	"auction-marketplace/internal/broadcast"
	model "auction-marketplace/internal/models"
	"auction-marketplace/services/bidding/helpers"
	"auction-marketplace/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=bidding_handler.go -destination=mock_handler.go -package=handler

type BiddingServiceInterface interface {
	PlaceBid(ctx context.Context, principal model.Principal, auctionID string, amount decimal.Decimal) (bidding.PlaceBidResult, error)
	GetBidsForAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error)
	GetAuctionsByUser(ctx context.Context, userID string) ([]model.Auction, error)
}

// Publisher fans events out to live clients; it must not block
type Publisher interface {
	Publish(topic string, event broadcast.Event)
}

type BiddingHandler struct {
	service   BiddingServiceInterface
	publisher Publisher
}

func NewBiddingHandler(service BiddingServiceInterface, publisher Publisher) *BiddingHandler {
	return &BiddingHandler{service: service, publisher: publisher}
}

// PlaceBidHandler handles POST /auctions/:auction_id/bid
func (h *BiddingHandler) PlaceBidHandler(c *gin.Context) {
	principal, ok := helpers.PrincipalFrom(c)
	if !ok {
		helpers.RespondError(c, "PlaceBidHandler", biddingerrors.ErrUnauthenticated, nil)
		return
	}

	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}

	auctionID := c.Param("auction_id")
	result, err := h.service.PlaceBid(c.Request.Context(), principal, auctionID, *req.Amount)
	if err != nil {
		helpers.RespondError(c, "PlaceBidHandler", err, map[string]any{
			"auction_id": auctionID,
			"user_id":    principal.UserID,
			"amount":     req.Amount.String(),
		})
		return
	}

	// the bid is committed; live clients hear about it even if this caller has gone away.
	// Publishing happens after the lock is released, so updatedAt lets clients drop stale frames.
	h.publisher.Publish(broadcast.AuctionTopic(auctionID),
		broadcast.BidUpdated(auctionID, result.Auction.CurrentPrice, result.Bid.BidderName, result.Auction.UpdatedAt))

	resp := helpers.PlaceBidResponse{
		Bid:     helpers.NewBidResponse(result.Bid),
		Auction: result.Auction,
	}

	utils.JSONResponse(c, http.StatusCreated, resp, "bid placed successfully")
	helpers.LogSuccess("PlaceBidHandler", "bid placed successfully", map[string]any{
		"bid_id":     result.Bid.BidID,
		"auction_id": auctionID,
		"user_id":    principal.UserID,
		"amount":     result.Bid.Amount.String(),
	})
}

// GetBidsByAuctionHandler handles GET /auctions/:auction_id/bids
func (h *BiddingHandler) GetBidsByAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bids, err := h.service.GetBidsForAuction(c.Request.Context(), auctionID)
	if err != nil && !errors.Is(err, biddingerrors.ErrNoBids) {
		helpers.RespondError(c, "GetBidsByAuctionHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	resp := make([]helpers.BidResponse, 0, len(bids))
	for _, b := range bids {
		resp = append(resp, helpers.NewBidResponse(b))
	}

	utils.JSONResponse(c, http.StatusOK, resp, "bids retrieved successfully")
	helpers.LogSuccess("GetBidsByAuctionHandler", "bids retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"count":      len(resp),
	})
}

// GetWinningBidHandler handles GET /auctions/:auction_id/winning
func (h *BiddingHandler) GetWinningBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bid, err := h.service.GetWinningBid(c.Request.Context(), auctionID)
	if err != nil {
		// no bids yet -> 404
		if errors.Is(err, biddingerrors.ErrNoBids) {
			utils.JSONError(c, http.StatusNotFound, helpers.KindNotFound, err, "no winning bid found")
			utils.Info("GetWinningBidHandler: no winning bid found", map[string]any{"auction_id": auctionID})
			return
		}
		helpers.RespondError(c, "GetWinningBidHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewBidResponse(bid), "winning bid retrieved successfully")
	helpers.LogSuccess("GetWinningBidHandler", "winning bid retrieved successfully", map[string]any{
		"bid_id":     bid.BidID,
		"auction_id": bid.AuctionID,
		"user_id":    bid.UserID,
		"amount":     bid.Amount.String(),
	})
}

// GetAuctionsByUserHandler handles GET /users/:user_id/auctions.
// Dealers may only look at their own bidding history.
func (h *BiddingHandler) GetAuctionsByUserHandler(c *gin.Context) {
	userID := c.Param("user_id")
	principal, ok := helpers.PrincipalFrom(c)
	if !ok {
		helpers.RespondError(c, "GetAuctionsByUserHandler", biddingerrors.ErrUnauthenticated, nil)
		return
	}
	if userID == "me" {
		userID = principal.UserID
	}
	if principal.UserID != userID && !principal.IsAdmin() {
		helpers.RespondError(c, "GetAuctionsByUserHandler", biddingerrors.ErrForbidden, map[string]any{"user_id": userID})
		return
	}

	auctions, err := h.service.GetAuctionsByUser(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, biddingerrors.ErrUserNoBids) {
		helpers.RespondError(c, "GetAuctionsByUserHandler", err, map[string]any{"user_id": userID})
		return
	}

	if auctions == nil {
		auctions = []model.Auction{}
	}

	utils.JSONResponse(c, http.StatusOK, auctions, "auctions retrieved successfully")
	helpers.LogSuccess("GetAuctionsByUserHandler", "auctions retrieved successfully", map[string]any{
		"user_id":        userID,
		"auctions_count": len(auctions),
	})
}
