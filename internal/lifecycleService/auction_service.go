package lifecycle

import (
	"auction-marketplace/internal/biddingerrors"
	"auction-marketplace/internal/models"
	"auction-marketplace/internal/repository"
	"auction-marketplace/utils"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// maxTitleLength bounds auction titles
const maxTitleLength = 200

// CreateAuctionSpec carries the admin-supplied fields of a new auction
type CreateAuctionSpec struct {
	Title         string
	Description   string
	StartingPrice decimal.Decimal
}

// AuctionService drives auctions through PENDING -> ACTIVE -> CLOSED
type AuctionService struct {
	repo repository.AuctionDB
	now  func() time.Time
}

// NewAuctionService creates a new AuctionService instance
func NewAuctionService(repo repository.AuctionDB) *AuctionService {
	return &AuctionService{
		repo: repo,
		now:  time.Now,
	}
}

// Create stores a new PENDING auction owned by an admin
func (s *AuctionService) Create(ctx context.Context, principal models.Principal, spec CreateAuctionSpec) (models.Auction, error) {
	if !principal.IsAdmin() {
		return models.Auction{}, fmt.Errorf("service: %w - only admins can create auctions", biddingerrors.ErrForbidden)
	}

	title := strings.TrimSpace(spec.Title)
	switch {
	case title == "":
		return models.Auction{}, fmt.Errorf("service: %w - title is required", biddingerrors.ErrValidation)
	case len(title) > maxTitleLength:
		return models.Auction{}, fmt.Errorf("service: %w - title longer than %d characters", biddingerrors.ErrValidation, maxTitleLength)
	case spec.StartingPrice.IsNegative():
		return models.Auction{}, fmt.Errorf("service: %w - negative starting price", biddingerrors.ErrValidation)
	case !models.HasMoneyScale(spec.StartingPrice):
		return models.Auction{}, fmt.Errorf("service: %w - starting price has more than %d decimal places", biddingerrors.ErrValidation, models.MoneyScale)
	case !models.WithinMoneyLimit(spec.StartingPrice):
		return models.Auction{}, fmt.Errorf("service: %w - starting price must be below %s", biddingerrors.ErrValidation, models.MoneyLimit)
	}

	now := s.timestamp()
	auction := models.Auction{
		AuctionID:     utils.GenerateID(),
		Title:         title,
		Description:   strings.TrimSpace(spec.Description),
		StartingPrice: spec.StartingPrice,
		CurrentPrice:  spec.StartingPrice,
		Status:        models.StatusPending,
		CreatedBy:     principal.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.CreateAuction(ctx, auction); err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to create auction %q: %w", title, err)
	}
	return auction, nil
}

// Start opens a PENDING auction for bidding. Any other status is left untouched.
func (s *AuctionService) Start(ctx context.Context, auctionID string) (models.Auction, error) {
	if auctionID == "" {
		return models.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrValidation)
	}

	var started models.Auction
	err := s.repo.WithAuctionLock(ctx, auctionID, func(tx repository.AuctionTx) error {
		auction := tx.Auction()
		if auction.Status != models.StatusPending {
			return fmt.Errorf("%w - cannot start auction in status %s", biddingerrors.ErrInvalidTransition, auction.Status)
		}

		now := s.stamp(auction)
		auction.Status = models.StatusActive
		auction.StartTime = &now
		auction.UpdatedAt = now
		if err := tx.UpdateAuction(ctx, auction); err != nil {
			return err
		}

		started = auction
		return nil
	})
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to start auction %s: %w", auctionID, err)
	}
	return started, nil
}

// Close ends bidding on a PENDING or ACTIVE auction.
// Failures are reported as ErrAuctionCloseFailed wrapping their cause, except a
// lock timeout, which stays a retryable ErrLockTimeout.
func (s *AuctionService) Close(ctx context.Context, auctionID string) (models.Auction, error) {
	if auctionID == "" {
		return models.Auction{}, fmt.Errorf("service: %w: %w - empty auction ID", biddingerrors.ErrAuctionCloseFailed, biddingerrors.ErrValidation)
	}

	var closed models.Auction
	err := s.repo.WithAuctionLock(ctx, auctionID, func(tx repository.AuctionTx) error {
		auction := tx.Auction()
		if auction.Status == models.StatusClosed {
			return fmt.Errorf("%w - auction already closed", biddingerrors.ErrInvalidTransition)
		}

		now := s.stamp(auction)
		auction.Status = models.StatusClosed
		auction.EndTime = &now
		auction.UpdatedAt = now
		if err := tx.UpdateAuction(ctx, auction); err != nil {
			return err
		}

		closed = auction
		return nil
	})
	switch {
	case errors.Is(err, biddingerrors.ErrLockTimeout):
		return models.Auction{}, fmt.Errorf("service: auction %s busy, not closed: %w", auctionID, err)
	case err != nil:
		return models.Auction{}, fmt.Errorf("service: %w %s: %w", biddingerrors.ErrAuctionCloseFailed, auctionID, err)
	}
	return closed, nil
}

// Get returns one auction with its leading bidder
func (s *AuctionService) Get(ctx context.Context, auctionID string) (models.AuctionListing, error) {
	if auctionID == "" {
		return models.AuctionListing{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrValidation)
	}

	listing, err := s.repo.GetAuctionListing(ctx, auctionID)
	if err != nil {
		return models.AuctionListing{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	return listing, nil
}

// List returns every auction, newest first, with its leading bidder
func (s *AuctionService) List(ctx context.Context) ([]models.AuctionListing, error) {
	listings, err := s.repo.ListAuctions(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list auctions: %w", err)
	}
	return listings, nil
}

func (s *AuctionService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// stamp returns the transition time, never earlier than the auction's last update
func (s *AuctionService) stamp(auction models.Auction) time.Time {
	now := s.timestamp()
	if now.Before(auction.UpdatedAt) {
		return auction.UpdatedAt
	}
	return now
}
