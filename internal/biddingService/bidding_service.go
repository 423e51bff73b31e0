package bidding

import (
	"auction-marketplace/internal/biddingerrors"
	"auction-marketplace/internal/models"
	"auction-marketplace/internal/repository"
	"auction-marketplace/utils"
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PlaceBidResult is the accepted bid together with the auction as committed
type PlaceBidResult struct {
	Bid     models.Bid     `json:"bid"`
	Auction models.Auction `json:"auction"`
}

// BiddingService defines the business logic for auction bidding
type BiddingService struct {
	repo repository.AuctionDB
	now  func() time.Time
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(repo repository.AuctionDB) *BiddingService {
	return &BiddingService{
		repo: repo,
		now:  time.Now,
	}
}

// PlaceBid validates and records a principal's bid for an auction.
// The price check and both writes happen under the auction's lock, so two bids
// on one auction are accepted one after the other and never against a stale price.
func (s *BiddingService) PlaceBid(ctx context.Context, principal models.Principal, auctionID string, amount decimal.Decimal) (PlaceBidResult, error) {
	if err := validateBid(principal, auctionID, amount); err != nil {
		return PlaceBidResult{}, err
	}

	var result PlaceBidResult
	err := s.repo.WithAuctionLock(ctx, auctionID, func(tx repository.AuctionTx) error {
		auction := tx.Auction()

		if auction.Status != models.StatusActive {
			return fmt.Errorf("service: %w - auction %s is %s", biddingerrors.ErrAuctionNotActive, auctionID, auction.Status)
		}
		if amount.LessThanOrEqual(auction.CurrentPrice) {
			return fmt.Errorf("service: %w - current price is %s", biddingerrors.ErrBidTooLow, auction.CurrentPrice.StringFixed(models.MoneyScale))
		}

		// bid timestamps never run backwards within an auction, even if the wall clock does
		createdAt := s.now().UTC().Truncate(time.Microsecond)
		if createdAt.Before(auction.UpdatedAt) {
			createdAt = auction.UpdatedAt
		}

		bid := models.Bid{
			BidID:      utils.GenerateID(),
			AuctionID:  auctionID,
			UserID:     principal.UserID,
			BidderName: principal.DisplayName,
			Amount:     amount,
			CreatedAt:  createdAt,
		}
		if err := tx.InsertBid(ctx, bid); err != nil {
			return err
		}

		auction.CurrentPrice = amount
		auction.UpdatedAt = createdAt
		if err := tx.UpdateAuction(ctx, auction); err != nil {
			return err
		}

		result = PlaceBidResult{Bid: bid, Auction: auction}
		return nil
	})
	if err != nil {
		return PlaceBidResult{}, fmt.Errorf("service: failed to place bid on auction %s by user %s: %w", auctionID, principal.UserID, err)
	}

	return result, nil
}

// validateBid checks input validity before any lock is taken
func validateBid(principal models.Principal, auctionID string, amount decimal.Decimal) error {
	if auctionID == "" || principal.UserID == "" {
		return fmt.Errorf("service: %w - missing auctionID or userID", biddingerrors.ErrValidation)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("service: %w - non-positive bid amount", biddingerrors.ErrValidation)
	}
	if !models.HasMoneyScale(amount) {
		return fmt.Errorf("service: %w - bid amount has more than %d decimal places", biddingerrors.ErrValidation, models.MoneyScale)
	}
	if !models.WithinMoneyLimit(amount) {
		return fmt.Errorf("service: %w - bid amount must be below %s", biddingerrors.ErrValidation, models.MoneyLimit)
	}
	return nil
}

// GetBidsForAuction returns all bids for a specific auction
func (s *BiddingService) GetBidsForAuction(ctx context.Context, auctionID string) ([]models.Bid, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrValidation)
	}

	bids, err := s.repo.GetBidsByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}

	return bids, nil
}

// GetWinningBid returns the leading bid for a specific auction
func (s *BiddingService) GetWinningBid(ctx context.Context, auctionID string) (models.Bid, error) {
	if auctionID == "" {
		return models.Bid{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrValidation)
	}

	winningBid, err := s.repo.GetWinningBid(ctx, auctionID)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service: failed to get winning bid for auction %s: %w", auctionID, err)
	}

	return winningBid, nil
}

// GetAuctionsByUser returns all auctions a user has placed bids on
func (s *BiddingService) GetAuctionsByUser(ctx context.Context, userID string) ([]models.Auction, error) {
	if userID == "" {
		return nil, fmt.Errorf("service: %w - empty user ID", biddingerrors.ErrValidation)
	}

	auctions, err := s.repo.GetAuctionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get auctions for user %s: %w", userID, err)
	}

	return auctions, nil
}
