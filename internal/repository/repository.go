package repository

import (
	"auction-marketplace/internal/biddingerrors"
	model "auction-marketplace/internal/models"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

//go:generate mockgen -source=repository.go -destination=mock_repository.go -package=repository

// AuctionDB defines the auction and bid storage interface for the marketplace
type AuctionDB interface {
	CreateAuction(ctx context.Context, auction model.Auction) error
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	ListAuctions(ctx context.Context) ([]model.AuctionListing, error)
	// GetAuctionListing returns one auction with its leading bidder and bid count
	GetAuctionListing(ctx context.Context, auctionID string) (model.AuctionListing, error)
	// WithAuctionLock runs fn while holding the exclusive lock of a single auction.
	// Writes staged through the AuctionTx are committed together when fn returns
	// nil and discarded otherwise.
	WithAuctionLock(ctx context.Context, auctionID string, fn func(tx AuctionTx) error) error
	GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error)
	GetAuctionsByUser(ctx context.Context, userID string) ([]model.Auction, error)
}

// AuctionTx is the view of one locked auction row handed to WithAuctionLock callbacks
type AuctionTx interface {
	Auction() model.Auction
	InsertBid(ctx context.Context, bid model.Bid) error
	UpdateAuction(ctx context.Context, auction model.Auction) error
}

// UserDB stores registered users for the identity service
type UserDB interface {
	CreateUser(ctx context.Context, user model.User) error
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	GetUserByID(ctx context.Context, userID string) (model.User, error)
}

// DefaultLockTimeout bounds how long a caller waits for a busy auction
const DefaultLockTimeout = 2 * time.Second

// MemoryOption configures a MemoryRepo
type MemoryOption func(*MemoryRepo)

// WithLockTimeout sets the per-auction lock wait limit; zero waits until the context ends
func WithLockTimeout(d time.Duration) MemoryOption {
	return func(r *MemoryRepo) {
		r.lockTimeout = d
	}
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB and UserDB.
// Data maps are guarded by mu, which is only held for short reads and commits.
// Bid acceptance is serialised per auction through the locks map.
type MemoryRepo struct {
	mu           sync.RWMutex
	auctions     map[string]model.Auction
	bids         map[string][]model.Bid // key: auctionID -> bids in acceptance order
	userAuctions map[string][]string    // key: userID -> auctionIDs the user has bid on
	users        map[string]model.User
	emails       map[string]string // key: lowercased email -> userID

	locksMu     sync.Mutex
	locks       map[string]chan struct{}
	lockTimeout time.Duration
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo(opts ...MemoryOption) *MemoryRepo {
	r := &MemoryRepo{
		auctions:     make(map[string]model.Auction),
		bids:         make(map[string][]model.Bid),
		userAuctions: make(map[string][]string),
		users:        make(map[string]model.User),
		emails:       make(map[string]string),
		locks:        make(map[string]chan struct{}),
		lockTimeout:  DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateAuction stores a new auction
func (r *MemoryRepo) CreateAuction(_ context.Context, auction model.Auction) error {
	if auction.AuctionID == "" {
		return fmt.Errorf("repository: create auction: empty id: %w", biddingerrors.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[auction.AuctionID]; ok {
		return fmt.Errorf("repository: create auction %s: duplicate id", auction.AuctionID)
	}
	r.auctions[auction.AuctionID] = auction
	return nil
}

// GetAuction returns a snapshot of one auction
func (r *MemoryRepo) GetAuction(_ context.Context, auctionID string) (model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return a, nil
}

// ListAuctions returns every auction, newest first, with its leading bidder
func (r *MemoryRepo) ListAuctions(_ context.Context) ([]model.AuctionListing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	listings := make([]model.AuctionListing, 0, len(r.auctions))
	for _, a := range r.auctions {
		listings = append(listings, r.listing(a))
	}

	sort.Slice(listings, func(i, j int) bool {
		if !listings[i].CreatedAt.Equal(listings[j].CreatedAt) {
			return listings[i].CreatedAt.After(listings[j].CreatedAt)
		}
		return listings[i].AuctionID < listings[j].AuctionID
	})
	return listings, nil
}

// GetAuctionListing returns one auction with its leading bidder
func (r *MemoryRepo) GetAuctionListing(_ context.Context, auctionID string) (model.AuctionListing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return model.AuctionListing{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return r.listing(a), nil
}

// listing projects an auction with its leading bid; callers hold mu
func (r *MemoryRepo) listing(a model.Auction) model.AuctionListing {
	bids := r.bids[a.AuctionID]
	l := model.AuctionListing{Auction: a, BidCount: len(bids)}
	if lead, ok := leadingBid(bids); ok {
		l.LeadingBidderID = &lead.UserID
		l.LeadingBidder = &lead.BidderName
	}
	return l
}

// WithAuctionLock serialises fn against every other locked operation on the same auction
func (r *MemoryRepo) WithAuctionLock(ctx context.Context, auctionID string, fn func(tx AuctionTx) error) error {
	// auctions are never deleted, so checking before locking keeps unknown ids out of the lock table
	if _, err := r.GetAuction(ctx, auctionID); err != nil {
		return fmt.Errorf("repository: lock %w", err)
	}

	release, err := r.acquire(ctx, auctionID)
	if err != nil {
		return err
	}
	defer release()

	current, err := r.GetAuction(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("repository: lock %w", err)
	}

	tx := &memoryTx{auction: current}
	if err := fn(tx); err != nil {
		return err
	}

	r.commit(tx)
	return nil
}

// acquire takes the auction's lock, giving up after lockTimeout or when ctx ends
func (r *MemoryRepo) acquire(ctx context.Context, auctionID string) (func(), error) {
	lock := r.auctionLock(auctionID)
	release := func() { <-lock }

	select {
	case lock <- struct{}{}:
		return release, nil
	default:
	}

	var timeout <-chan time.Time
	if r.lockTimeout > 0 {
		timer := time.NewTimer(r.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case lock <- struct{}{}:
		return release, nil
	case <-timeout:
		return nil, fmt.Errorf("repository: lock auction %s after %s: %w", auctionID, r.lockTimeout, biddingerrors.ErrLockTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("repository: lock auction %s: %w: %w", auctionID, biddingerrors.ErrLockTimeout, ctx.Err())
	}
}

func (r *MemoryRepo) auctionLock(auctionID string) chan struct{} {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	lock, ok := r.locks[auctionID]
	if !ok {
		lock = make(chan struct{}, 1)
		r.locks[auctionID] = lock
	}
	return lock
}

func (r *MemoryRepo) commit(tx *memoryTx) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tx.dirty {
		r.auctions[tx.auction.AuctionID] = tx.auction
	}
	for _, bid := range tx.bids {
		r.bids[bid.AuctionID] = append(r.bids[bid.AuctionID], bid)
		r.indexUserAuction(bid.UserID, bid.AuctionID)
	}
}

func (r *MemoryRepo) indexUserAuction(userID, auctionID string) {
	for _, id := range r.userAuctions[userID] {
		if id == auctionID {
			return
		}
	}
	r.userAuctions[userID] = append(r.userAuctions[userID], auctionID)
}

// memoryTx stages writes until the surrounding WithAuctionLock commits them
type memoryTx struct {
	auction model.Auction
	bids    []model.Bid
	dirty   bool
}

func (t *memoryTx) Auction() model.Auction {
	return t.auction
}

func (t *memoryTx) InsertBid(_ context.Context, bid model.Bid) error {
	if bid.AuctionID != t.auction.AuctionID {
		return fmt.Errorf("repository: insert bid for auction %s inside lock of %s", bid.AuctionID, t.auction.AuctionID)
	}
	t.bids = append(t.bids, bid)
	return nil
}

func (t *memoryTx) UpdateAuction(_ context.Context, auction model.Auction) error {
	if auction.AuctionID != t.auction.AuctionID {
		return fmt.Errorf("repository: update auction %s inside lock of %s", auction.AuctionID, t.auction.AuctionID)
	}
	t.auction = auction
	t.dirty = true
	return nil
}

// GetBidsByAuction returns all bids for an auction in acceptance order
func (r *MemoryRepo) GetBidsByAuction(_ context.Context, auctionID string) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	bids := r.bids[auctionID]
	if len(bids) == 0 {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	return append([]model.Bid(nil), bids...), nil
}

// GetWinningBid returns the leading bid for an auction
func (r *MemoryRepo) GetWinningBid(_ context.Context, auctionID string) (model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return model.Bid{}, fmt.Errorf("get winning bid for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	winning, ok := leadingBid(r.bids[auctionID])
	if !ok {
		return model.Bid{}, fmt.Errorf("get winning bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	return winning, nil
}

func leadingBid(bids []model.Bid) (model.Bid, bool) {
	if len(bids) == 0 {
		return model.Bid{}, false
	}
	winning := bids[0]
	for _, b := range bids[1:] {
		if b.Outranks(winning) {
			winning = b
		}
	}
	return winning, true
}

// GetAuctionsByUser returns all auctions a user has bid on
func (r *MemoryRepo) GetAuctionsByUser(_ context.Context, userID string) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auctionIDs, ok := r.userAuctions[userID]
	if !ok || len(auctionIDs) == 0 {
		return nil, fmt.Errorf("get auctions for user %s: %w", userID, biddingerrors.ErrUserNoBids)
	}

	auctions := make([]model.Auction, 0, len(auctionIDs))
	for _, id := range auctionIDs {
		if a, exists := r.auctions[id]; exists {
			auctions = append(auctions, a)
		}
	}
	return auctions, nil
}

// CreateUser stores a new user; emails are unique case-insensitively
func (r *MemoryRepo) CreateUser(_ context.Context, user model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(user.Email)
	if _, ok := r.emails[key]; ok {
		return fmt.Errorf("create user %s: %w", user.Email, biddingerrors.ErrUserExists)
	}
	if _, ok := r.users[user.UserID]; ok {
		return fmt.Errorf("create user %s: %w", user.UserID, biddingerrors.ErrUserExists)
	}
	r.users[user.UserID] = user
	r.emails[key] = user.UserID
	return nil
}

// GetUserByEmail looks a user up by email
func (r *MemoryRepo) GetUserByEmail(_ context.Context, email string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.emails[strings.ToLower(email)]
	if !ok {
		return model.User{}, fmt.Errorf("get user %s: %w", email, biddingerrors.ErrUserNotFound)
	}
	return r.users[id], nil
}

// GetUserByID looks a user up by id
func (r *MemoryRepo) GetUserByID(_ context.Context, userID string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userID]
	if !ok {
		return model.User{}, fmt.Errorf("get user %s: %w", userID, biddingerrors.ErrUserNotFound)
	}
	return u, nil
}

// AddAuction adds an auction to the repository. This method is intended for tests only.
func (r *MemoryRepo) AddAuction(auction model.Auction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auctions[auction.AuctionID] = auction
}

var (
	_ AuctionDB = (*MemoryRepo)(nil)
	_ UserDB    = (*MemoryRepo)(nil)
)
