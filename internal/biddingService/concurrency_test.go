package bidding

import (
	"auction-marketplace/internal/biddingerrors"
	model "auction-marketplace/internal/models"
	"auction-marketplace/internal/repository"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func bidder(i int) model.Principal {
	return model.Principal{UserID: fmt.Sprintf("user-%d", i), Role: model.RoleDealer, DisplayName: fmt.Sprintf("Dealer %d", i)}
}

// Concurrent bidders with distinct amounts: the final price is the highest amount
// that was accepted and every accepted bid was above its predecessor.
func TestPlaceBid_ConcurrentNoLostUpdate(t *testing.T) {
	t.Parallel()

	repo := repository.NewMemoryRepo(repository.WithLockTimeout(10 * time.Second))
	repo.AddAuction(activeAuction("auction1", 100))
	service := NewBiddingService(repo)

	const bidders = 200
	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
	)
	for i := 1; i <= bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := service.PlaceBid(context.Background(), bidder(i), "auction1", decimal.NewFromInt(int64(100+i)))
			if err == nil {
				accepted.Add(1)
				return
			}
			require.True(t, errors.Is(err, biddingerrors.ErrBidTooLow), "unexpected error: %v", err)
		}(i)
	}
	wg.Wait()

	auction, err := repo.GetAuction(context.Background(), "auction1")
	require.NoError(t, err)

	bids, err := repo.GetBidsByAuction(context.Background(), "auction1")
	require.NoError(t, err)
	require.Len(t, bids, int(accepted.Load()))

	// acceptance order is strictly increasing in amount and non-decreasing in time
	for i := 1; i < len(bids); i++ {
		require.True(t, bids[i].Amount.GreaterThan(bids[i-1].Amount))
		require.False(t, bids[i].CreatedAt.Before(bids[i-1].CreatedAt))
	}

	winning, err := repo.GetWinningBid(context.Background(), "auction1")
	require.NoError(t, err)
	require.True(t, auction.CurrentPrice.Equal(winning.Amount))
	require.True(t, auction.CurrentPrice.Equal(bids[len(bids)-1].Amount))
}

// Two identical amounts racing: exactly one is accepted.
func TestPlaceBid_ConcurrentEqualBids(t *testing.T) {
	t.Parallel()

	for round := 0; round < 20; round++ {
		repo := repository.NewMemoryRepo()
		repo.AddAuction(activeAuction("auction1", 100))
		service := NewBiddingService(repo)

		var (
			wg       sync.WaitGroup
			accepted atomic.Int64
			tooLow   atomic.Int64
		)
		start := make(chan struct{})
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, err := service.PlaceBid(context.Background(), bidder(i), "auction1", decimal.NewFromInt(150))
				switch {
				case err == nil:
					accepted.Add(1)
				case errors.Is(err, biddingerrors.ErrBidTooLow):
					tooLow.Add(1)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		require.Equal(t, int64(1), accepted.Load())
		require.Equal(t, int64(1), tooLow.Load())
	}
}

// A held lock on one auction does not delay bids on another.
func TestPlaceBid_AuctionIsolation(t *testing.T) {
	t.Parallel()

	repo := repository.NewMemoryRepo(repository.WithLockTimeout(5 * time.Second))
	repo.AddAuction(activeAuction("auctionA", 100))
	repo.AddAuction(activeAuction("auctionB", 100))
	service := NewBiddingService(repo)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = repo.WithAuctionLock(context.Background(), "auctionA", func(repository.AuctionTx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	started := time.Now()
	_, err := service.PlaceBid(context.Background(), dealer, "auctionB", decimal.NewFromInt(120))
	require.NoError(t, err)
	require.Less(t, time.Since(started), time.Second)

	close(release)

	_, err = service.PlaceBid(context.Background(), dealer, "auctionA", decimal.NewFromInt(120))
	require.NoError(t, err)
}

// A bidder stuck behind a busy auction gets a retryable timeout and leaves no trace.
func TestPlaceBid_LockTimeoutLeavesNoState(t *testing.T) {
	t.Parallel()

	repo := repository.NewMemoryRepo(repository.WithLockTimeout(10 * time.Millisecond))
	repo.AddAuction(activeAuction("auction1", 100))
	service := NewBiddingService(repo)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = repo.WithAuctionLock(context.Background(), "auction1", func(repository.AuctionTx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	_, err := service.PlaceBid(context.Background(), dealer, "auction1", decimal.NewFromInt(150))
	close(release)
	require.ErrorIs(t, err, biddingerrors.ErrLockTimeout)

	_, err = repo.GetBidsByAuction(context.Background(), "auction1")
	require.ErrorIs(t, err, biddingerrors.ErrNoBids)

	auction, err := repo.GetAuction(context.Background(), "auction1")
	require.NoError(t, err)
	require.True(t, auction.CurrentPrice.Equal(decimal.NewFromInt(100)))
}

// Rejected bids never touch the stored auction.
func TestPlaceBid_RejectionLeavesNoState(t *testing.T) {
	t.Parallel()

	repo := repository.NewMemoryRepo()
	pending := activeAuction("pending", 100)
	pending.Status = model.StatusPending
	repo.AddAuction(pending)
	repo.AddAuction(activeAuction("active", 100))
	service := NewBiddingService(repo)

	_, err := service.PlaceBid(context.Background(), dealer, "pending", decimal.NewFromInt(500))
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotActive)

	_, err = service.PlaceBid(context.Background(), dealer, "active", decimal.NewFromInt(100))
	require.ErrorIs(t, err, biddingerrors.ErrBidTooLow)

	_, err = service.PlaceBid(context.Background(), dealer, "missing", decimal.NewFromInt(100))
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)

	for _, id := range []string{"pending", "active"} {
		a, err := repo.GetAuction(context.Background(), id)
		require.NoError(t, err)
		require.True(t, a.CurrentPrice.Equal(decimal.NewFromInt(100)))
		_, err = repo.GetBidsByAuction(context.Background(), id)
		require.ErrorIs(t, err, biddingerrors.ErrNoBids)
	}
}
