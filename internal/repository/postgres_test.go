package repository

import (
	"auction-marketplace/internal/biddingerrors"
	model "auction-marketplace/internal/models"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Runs against a real PostgreSQL when AUCTION_TEST_POSTGRES_DSN is set.
// Tests share one database, so every row they write carries a fresh uuid.
func newTestPostgres(t *testing.T, lockTimeout time.Duration) *PostgresRepo {
	t.Helper()

	dsn := os.Getenv("AUCTION_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AUCTION_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	repo, err := NewPostgresRepo(ctx, PostgresConfig{DSN: dsn, MaxConns: 8, LockTimeout: lockTimeout})
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	require.NoError(t, repo.RunMigrations(ctx))
	return repo
}

func seedUser(t *testing.T, repo *PostgresRepo) model.User {
	t.Helper()

	id := uuid.NewString()
	u := model.User{
		UserID:       id,
		Email:        id + "@Example.com",
		Name:         "user-" + id[:8],
		Role:         model.RoleDealer,
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, repo.CreateUser(context.Background(), u))
	return u
}

func seedAuction(t *testing.T, repo *PostgresRepo, owner model.User, startingPrice int64, status model.AuctionStatus) model.Auction {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Microsecond)
	a := model.Auction{
		AuctionID:     uuid.NewString(),
		Title:         "Auction",
		StartingPrice: decimal.NewFromInt(startingPrice),
		CurrentPrice:  decimal.NewFromInt(startingPrice),
		Status:        status,
		CreatedBy:     owner.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, repo.CreateAuction(context.Background(), a))
	return a
}

func insertBidAt(repo *PostgresRepo, auctionID string, bidder model.User, amount int64, at time.Time) error {
	return repo.WithAuctionLock(context.Background(), auctionID, func(tx AuctionTx) error {
		return tx.InsertBid(context.Background(), model.Bid{
			BidID:      uuid.NewString(),
			AuctionID:  auctionID,
			UserID:     bidder.UserID,
			BidderName: bidder.Name,
			Amount:     decimal.NewFromInt(amount),
			CreatedAt:  at,
		})
	})
}

// Test migrations are idempotent and the user constraints hold
func TestPostgresRepo_MigrationsAndUsers(t *testing.T) {
	repo := newTestPostgres(t, time.Second)
	ctx := context.Background()

	require.NoError(t, repo.RunMigrations(ctx), "second run must be a no-op")

	u := seedUser(t, repo)

	err := repo.CreateUser(ctx, model.User{
		UserID: uuid.NewString(), Email: strings.ToUpper(u.Email), Role: model.RoleDealer, PasswordHash: "x", CreatedAt: time.Now(),
	})
	require.ErrorIs(t, err, biddingerrors.ErrUserExists)

	got, err := repo.GetUserByEmail(ctx, strings.ToUpper(u.Email))
	require.NoError(t, err)
	require.Equal(t, u.UserID, got.UserID)
	require.Equal(t, strings.ToLower(u.Email), got.Email)

	_, err = repo.GetUserByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, biddingerrors.ErrUserNotFound)
}

// Test concurrent locked writes never lose an update
func TestPostgresRepo_ConcurrentLockedWrites(t *testing.T) {
	repo := newTestPostgres(t, 10*time.Second)
	ctx := context.Background()

	bidder := seedUser(t, repo)
	auction := seedAuction(t, repo, bidder, 0, model.StatusActive)

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.WithAuctionLock(ctx, auction.AuctionID, func(tx AuctionTx) error {
				a := tx.Auction()
				next := a.CurrentPrice.Add(decimal.NewFromInt(1))
				now := time.Now().UTC().Truncate(time.Microsecond)
				if now.Before(a.UpdatedAt) {
					now = a.UpdatedAt
				}
				if err := tx.InsertBid(ctx, model.Bid{
					BidID: uuid.NewString(), AuctionID: a.AuctionID, UserID: bidder.UserID,
					BidderName: bidder.Name, Amount: next, CreatedAt: now,
				}); err != nil {
					return err
				}
				a.CurrentPrice = next
				a.UpdatedAt = now
				return tx.UpdateAuction(ctx, a)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	a, err := repo.GetAuction(ctx, auction.AuctionID)
	require.NoError(t, err)
	require.True(t, a.CurrentPrice.Equal(decimal.NewFromInt(writers)), "got %s", a.CurrentPrice)

	bids, err := repo.GetBidsByAuction(ctx, auction.AuctionID)
	require.NoError(t, err)
	require.Len(t, bids, writers)
	for i := 1; i < len(bids); i++ {
		require.True(t, bids[i].Amount.GreaterThan(bids[i-1].Amount))
		require.False(t, bids[i].CreatedAt.Before(bids[i-1].CreatedAt))
	}
}

// Test a failing callback rolls back everything it staged
func TestPostgresRepo_WithAuctionLockRollback(t *testing.T) {
	repo := newTestPostgres(t, time.Second)
	ctx := context.Background()

	bidder := seedUser(t, repo)
	auction := seedAuction(t, repo, bidder, 100, model.StatusActive)
	boom := errors.New("boom")

	err := repo.WithAuctionLock(ctx, auction.AuctionID, func(tx AuctionTx) error {
		a := tx.Auction()
		require.NoError(t, tx.InsertBid(ctx, model.Bid{
			BidID: uuid.NewString(), AuctionID: a.AuctionID, UserID: bidder.UserID,
			BidderName: bidder.Name, Amount: decimal.NewFromInt(150), CreatedAt: time.Now(),
		}))
		a.CurrentPrice = decimal.NewFromInt(150)
		require.NoError(t, tx.UpdateAuction(ctx, a))
		return boom
	})
	require.ErrorIs(t, err, boom)

	a, err := repo.GetAuction(ctx, auction.AuctionID)
	require.NoError(t, err)
	require.True(t, a.CurrentPrice.Equal(decimal.NewFromInt(100)))

	_, err = repo.GetBidsByAuction(ctx, auction.AuctionID)
	require.ErrorIs(t, err, biddingerrors.ErrNoBids)

	err = repo.WithAuctionLock(ctx, uuid.NewString(), func(AuctionTx) error { return nil })
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
}

// Test a held row lock surfaces as ErrLockTimeout
func TestPostgresRepo_LockTimeout(t *testing.T) {
	repo := newTestPostgres(t, 50*time.Millisecond)
	ctx := context.Background()

	owner := seedUser(t, repo)
	auction := seedAuction(t, repo, owner, 100, model.StatusActive)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- repo.WithAuctionLock(ctx, auction.AuctionID, func(AuctionTx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := repo.WithAuctionLock(ctx, auction.AuctionID, func(AuctionTx) error {
		t.Error("callback must not run without the lock")
		return nil
	})
	close(release)
	require.NoError(t, <-done)
	require.ErrorIs(t, err, biddingerrors.ErrLockTimeout)

	// the lock is free again
	require.NoError(t, repo.WithAuctionLock(ctx, auction.AuctionID, func(AuctionTx) error { return nil }))
}

// Test the listing projection and winning bid agree on the tie-break
func TestPostgresRepo_ListingProjection(t *testing.T) {
	repo := newTestPostgres(t, time.Second)
	ctx := context.Background()

	alice, bob := seedUser(t, repo), seedUser(t, repo)
	auction := seedAuction(t, repo, alice, 50, model.StatusActive)
	empty := seedAuction(t, repo, alice, 50, model.StatusPending)

	first := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, insertBidAt(repo, auction.AuctionID, alice, 100, first))
	require.NoError(t, insertBidAt(repo, auction.AuctionID, bob, 100, first.Add(time.Millisecond)))

	listing, err := repo.GetAuctionListing(ctx, auction.AuctionID)
	require.NoError(t, err)
	require.Equal(t, 2, listing.BidCount)
	require.NotNil(t, listing.LeadingBidderID)
	require.Equal(t, alice.UserID, *listing.LeadingBidderID, "earlier bid wins an equal amount")
	require.Equal(t, alice.Name, *listing.LeadingBidder)

	winning, err := repo.GetWinningBid(ctx, auction.AuctionID)
	require.NoError(t, err)
	require.Equal(t, alice.UserID, winning.UserID)

	noBids, err := repo.GetAuctionListing(ctx, empty.AuctionID)
	require.NoError(t, err)
	require.Nil(t, noBids.LeadingBidderID)
	require.Equal(t, 0, noBids.BidCount)

	_, err = repo.GetWinningBid(ctx, empty.AuctionID)
	require.ErrorIs(t, err, biddingerrors.ErrNoBids)
	_, err = repo.GetAuctionListing(ctx, uuid.NewString())
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)

	listings, err := repo.ListAuctions(ctx)
	require.NoError(t, err)
	var seen int
	for _, l := range listings {
		if l.AuctionID == auction.AuctionID {
			seen++
			require.Equal(t, alice.UserID, *l.LeadingBidderID)
			require.Equal(t, 2, l.BidCount)
		}
	}
	require.Equal(t, 1, seen)

	auctions, err := repo.GetAuctionsByUser(ctx, bob.UserID)
	require.NoError(t, err)
	require.Len(t, auctions, 1)
	require.Equal(t, auction.AuctionID, auctions[0].AuctionID)

	_, err = repo.GetAuctionsByUser(ctx, uuid.NewString())
	require.ErrorIs(t, err, biddingerrors.ErrUserNoBids)
}
