package perftests

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	bidding "auction-marketplace/internal/biddingService"
	"auction-marketplace/internal/broadcast"
	model "auction-marketplace/internal/models"
	"auction-marketplace/internal/repository"

	"github.com/shopspring/decimal"
)

func bidder(n int) model.Principal {
	id := fmt.Sprintf("user_%d", n)
	return model.Principal{UserID: id, Role: model.RoleDealer, DisplayName: id}
}

func activeAuction(id string, startingPrice int64) model.Auction {
	now := time.Now().UTC()
	price := decimal.NewFromInt(startingPrice)
	return model.Auction{
		AuctionID:     id,
		Title:         "benchmark " + id,
		StartingPrice: price,
		CurrentPrice:  price,
		Status:        model.StatusActive,
		CreatedBy:     "admin",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Benchmark_PlaceBid_Isolated bids once on each of b.N auctions (no contention)
func Benchmark_PlaceBid_Isolated(b *testing.B) {
	repo := repository.NewMemoryRepo()
	svc := bidding.NewBiddingService(repo)
	ctx := context.Background()

	for i := 0; i < b.N; i++ {
		repo.AddAuction(activeAuction(fmt.Sprintf("auction_%d", i), 50))
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		amount := decimal.NewFromInt(int64(51 + rand.Intn(100)))
		if _, err := svc.PlaceBid(ctx, bidder(i), fmt.Sprintf("auction_%d", i), amount); err != nil {
			b.Fatalf("failed to place bid: %v", err)
		}
	}
}

// Benchmark_PlaceBid_ConcurrentSharedAuction hammers one auction from every P
func Benchmark_PlaceBid_ConcurrentSharedAuction(b *testing.B) {
	repo := repository.NewMemoryRepo(repository.WithLockTimeout(10 * time.Second))
	svc := bidding.NewBiddingService(repo)
	repo.AddAuction(activeAuction("shared", 50))
	ctx := context.Background()

	var lastBid int64 = 50
	var accepted int64

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			next := atomic.AddInt64(&lastBid, int64(rnd.Intn(5)+1))
			if _, err := svc.PlaceBid(ctx, bidder(rnd.Int()), "shared", decimal.NewFromInt(next)); err == nil {
				atomic.AddInt64(&accepted, 1)
			}
		}
	})

	b.ReportMetric(float64(accepted)/float64(b.N), "accepted/op")
}

// Benchmark_GetWinningBid_ConcurrentSharedAuction reads the leader of a busy auction
func Benchmark_GetWinningBid_ConcurrentSharedAuction(b *testing.B) {
	repo := repository.NewMemoryRepo()
	svc := bidding.NewBiddingService(repo)
	repo.AddAuction(activeAuction("shared", 50))
	ctx := context.Background()

	for j := 0; j < 100; j++ {
		if _, err := svc.PlaceBid(ctx, bidder(j), "shared", decimal.NewFromInt(int64(51+j))); err != nil {
			b.Fatalf("seed bid %d: %v", j, err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := svc.GetWinningBid(ctx, "shared"); err != nil {
				b.Errorf("failed to get winning bid: %v", err)
				return
			}
		}
	})
}

// Benchmark_MixedWorkload_SharedAuction runs 70% reads against 30% bids on one auction
func Benchmark_MixedWorkload_SharedAuction(b *testing.B) {
	repo := repository.NewMemoryRepo(repository.WithLockTimeout(10 * time.Second))
	svc := bidding.NewBiddingService(repo)
	repo.AddAuction(activeAuction("shared", 50))
	ctx := context.Background()

	var lastBid int64 = 50

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			if rnd.Intn(10) < 3 {
				next := atomic.AddInt64(&lastBid, int64(rnd.Intn(5)+1))
				_, _ = svc.PlaceBid(ctx, bidder(rnd.Int()), "shared", decimal.NewFromInt(next))
				continue
			}
			_, _ = svc.GetBidsForAuction(ctx, "shared")
		}
	})
}

// Benchmark_Hub_PublishFanOut measures dispatch to many room subscribers
func Benchmark_Hub_PublishFanOut(b *testing.B) {
	hub := broadcast.NewHub(broadcast.WithQueueSize(b.N + 1))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(stopped)
	}()
	defer func() {
		cancel()
		<-stopped
	}()

	const subscribers = 100
	topic := broadcast.AuctionTopic("shared")
	var delivered int64
	for i := 0; i < subscribers; i++ {
		c, ok := hub.Connect(bidder(i))
		if !ok {
			b.Fatal("hub refused client")
		}
		if err := hub.Subscribe(c, topic); err != nil {
			b.Fatal(err)
		}
		go func() {
			for {
				select {
				case <-c.Messages():
					atomic.AddInt64(&delivered, 1)
				case <-c.Done():
					return
				}
			}
		}()
	}

	price := decimal.NewFromInt(100)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		hub.Publish(topic, broadcast.BidUpdated("shared", price, "bench", time.Now()))
	}
}
