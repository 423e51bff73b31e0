package repository

import (
	"auction-marketplace/internal/biddingerrors"
	model "auction-marketplace/internal/models"
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres error codes the adapter reacts to
const (
	pgLockNotAvailable = "55P03"
	pgUniqueViolation  = "23505"
)

// PostgresConfig holds connection parameters for the PostgreSQL record store
type PostgresConfig struct {
	DSN         string
	MaxConns    int
	MinConns    int
	LockTimeout time.Duration
}

// PostgresRepo implements AuctionDB and UserDB on PostgreSQL via pgx.
// Per-auction serialisation is a SELECT ... FOR UPDATE inside a transaction.
type PostgresRepo struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresRepo opens a connection pool and verifies connectivity
func NewPostgresRepo(ctx context.Context, cfg PostgresConfig) (*PostgresRepo, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &PostgresRepo{pool: pool, lockTimeout: lockTimeout}, nil
}

// Close shuts down the connection pool
func (r *PostgresRepo) Close() {
	r.pool.Close()
}

// RunMigrations applies the embedded goose migrations
func (r *PostgresRepo) RunMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("postgres: set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("postgres: run migrations: %w", err)
	}
	return nil
}

const auctionCols = `id, title, description, starting_price::text, current_price::text,
	status, start_time, end_time, created_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner, extra ...any) (model.Auction, error) {
	var a model.Auction
	var starting, current, status string

	dest := []any{
		&a.AuctionID, &a.Title, &a.Description, &starting, &current,
		&status, &a.StartTime, &a.EndTime, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return model.Auction{}, err
	}

	var err error
	if a.StartingPrice, err = decimal.NewFromString(starting); err != nil {
		return model.Auction{}, fmt.Errorf("parse starting_price %q: %w", starting, err)
	}
	if a.CurrentPrice, err = decimal.NewFromString(current); err != nil {
		return model.Auction{}, fmt.Errorf("parse current_price %q: %w", current, err)
	}
	a.Status = model.AuctionStatus(status)
	return a, nil
}

// CreateAuction inserts a new auction row
func (r *PostgresRepo) CreateAuction(ctx context.Context, a model.Auction) error {
	const query = `
		INSERT INTO auctions (
			id, title, description, starting_price, current_price,
			status, start_time, end_time, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9, $10, $11)`

	_, err := r.pool.Exec(ctx, query,
		a.AuctionID, a.Title, a.Description, a.StartingPrice.String(), a.CurrentPrice.String(),
		string(a.Status), a.StartTime, a.EndTime, a.CreatedBy, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create auction %s: %w", a.AuctionID, err)
	}
	return nil
}

// GetAuction reads one auction row without locking it
func (r *PostgresRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+auctionCols+` FROM auctions WHERE id = $1`, auctionID)
	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
		}
		return model.Auction{}, fmt.Errorf("postgres: get auction %s: %w", auctionID, err)
	}
	return a, nil
}

const listingQuery = `
	SELECT a.id, a.title, a.description, a.starting_price::text, a.current_price::text,
		a.status, a.start_time, a.end_time, a.created_by, a.created_at, a.updated_at,
		lead.user_id, lead.bidder_name,
		(SELECT COUNT(*) FROM bids c WHERE c.auction_id = a.id)
	FROM auctions a
	LEFT JOIN LATERAL (
		SELECT b.user_id, b.bidder_name
		FROM bids b
		WHERE b.auction_id = a.id
		ORDER BY b.amount DESC, b.created_at ASC
		LIMIT 1
	) lead ON TRUE`

func scanListing(row rowScanner) (model.AuctionListing, error) {
	var l model.AuctionListing
	var err error
	l.Auction, err = scanAuction(row, &l.LeadingBidderID, &l.LeadingBidder, &l.BidCount)
	return l, err
}

// ListAuctions returns every auction with the leading bid computed per auction
func (r *PostgresRepo) ListAuctions(ctx context.Context) ([]model.AuctionListing, error) {
	rows, err := r.pool.Query(ctx, listingQuery+` ORDER BY a.created_at DESC, a.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list auctions: %w", err)
	}
	defer rows.Close()

	listings := []model.AuctionListing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan auction listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list auctions: %w", err)
	}
	return listings, nil
}

// GetAuctionListing returns one auction with its leading bidder
func (r *PostgresRepo) GetAuctionListing(ctx context.Context, auctionID string) (model.AuctionListing, error) {
	l, err := scanListing(r.pool.QueryRow(ctx, listingQuery+` WHERE a.id = $1`, auctionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AuctionListing{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
		}
		return model.AuctionListing{}, fmt.Errorf("postgres: get auction listing %s: %w", auctionID, err)
	}
	return l, nil
}

// WithAuctionLock runs fn inside a transaction holding the auction row lock
func (r *PostgresRepo) WithAuctionLock(ctx context.Context, auctionID string, fn func(tx AuctionTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx for auction %s: %w", auctionID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
		fmt.Sprintf("%dms", r.lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("postgres: set lock_timeout: %w", err)
	}

	row := tx.QueryRow(ctx, `SELECT `+auctionCols+` FROM auctions WHERE id = $1 FOR UPDATE`, auctionID)
	current, err := scanAuction(row)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("postgres: lock auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
		case isLockTimeout(err):
			return fmt.Errorf("postgres: lock auction %s: %w: %w", auctionID, biddingerrors.ErrLockTimeout, err)
		}
		return fmt.Errorf("postgres: lock auction %s: %w", auctionID, err)
	}

	if err := fn(&postgresTx{tx: tx, auction: current}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit auction %s: %w", auctionID, err)
	}
	return nil
}

func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgLockNotAvailable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

type postgresTx struct {
	tx      pgx.Tx
	auction model.Auction
}

func (t *postgresTx) Auction() model.Auction {
	return t.auction
}

func (t *postgresTx) InsertBid(ctx context.Context, bid model.Bid) error {
	const query = `
		INSERT INTO bids (id, auction_id, user_id, bidder_name, amount, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)`

	_, err := t.tx.Exec(ctx, query,
		bid.BidID, bid.AuctionID, bid.UserID, bid.BidderName, bid.Amount.String(), bid.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert bid %s: %w", bid.BidID, err)
	}
	return nil
}

func (t *postgresTx) UpdateAuction(ctx context.Context, a model.Auction) error {
	const query = `
		UPDATE auctions
		SET current_price = $2::numeric, status = $3, start_time = $4, end_time = $5, updated_at = $6
		WHERE id = $1`

	tag, err := t.tx.Exec(ctx, query,
		a.AuctionID, a.CurrentPrice.String(), string(a.Status), a.StartTime, a.EndTime, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update auction %s: %w", a.AuctionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update auction %s: %w", a.AuctionID, biddingerrors.ErrAuctionNotFound)
	}
	t.auction = a
	return nil
}

const bidCols = `id, auction_id, user_id, bidder_name, amount::text, created_at`

func scanBid(row rowScanner) (model.Bid, error) {
	var b model.Bid
	var amount string
	if err := row.Scan(&b.BidID, &b.AuctionID, &b.UserID, &b.BidderName, &amount, &b.CreatedAt); err != nil {
		return model.Bid{}, err
	}
	var err error
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return model.Bid{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return b, nil
}

// GetBidsByAuction returns all bids for an auction in acceptance order
func (r *PostgresRepo) GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+bidCols+` FROM bids WHERE auction_id = $1 ORDER BY created_at ASC, amount ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get bids for auction %s: %w", auctionID, err)
	}
	defer rows.Close()

	var bids []model.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get bids for auction %s: %w", auctionID, err)
	}

	if len(bids) == 0 {
		if _, err := r.GetAuction(ctx, auctionID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	return bids, nil
}

// GetWinningBid returns the leading bid for an auction
func (r *PostgresRepo) GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+bidCols+` FROM bids WHERE auction_id = $1 ORDER BY amount DESC, created_at ASC LIMIT 1`, auctionID)
	b, err := scanBid(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, err := r.GetAuction(ctx, auctionID); err != nil {
				return model.Bid{}, err
			}
			return model.Bid{}, fmt.Errorf("get winning bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
		}
		return model.Bid{}, fmt.Errorf("postgres: get winning bid for auction %s: %w", auctionID, err)
	}
	return b, nil
}

// GetAuctionsByUser returns all auctions a user has bid on
func (r *PostgresRepo) GetAuctionsByUser(ctx context.Context, userID string) ([]model.Auction, error) {
	query := `
		SELECT ` + auctionCols + `
		FROM auctions
		WHERE id IN (SELECT DISTINCT auction_id FROM bids WHERE user_id = $1)
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get auctions for user %s: %w", userID, err)
	}
	defer rows.Close()

	var auctions []model.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan auction: %w", err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get auctions for user %s: %w", userID, err)
	}
	if len(auctions) == 0 {
		return nil, fmt.Errorf("get auctions for user %s: %w", userID, biddingerrors.ErrUserNoBids)
	}
	return auctions, nil
}

// CreateUser inserts a user; a duplicate email yields ErrUserExists
func (r *PostgresRepo) CreateUser(ctx context.Context, u model.User) error {
	const query = `
		INSERT INTO users (id, email, name, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query, u.UserID, strings.ToLower(u.Email), u.Name, string(u.Role), u.PasswordHash, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("create user %s: %w", u.Email, biddingerrors.ErrUserExists)
		}
		return fmt.Errorf("postgres: create user %s: %w", u.Email, err)
	}
	return nil
}

const userCols = `id, email, name, role, password_hash, created_at`

func scanUser(row rowScanner) (model.User, error) {
	var u model.User
	var role string
	if err := row.Scan(&u.UserID, &u.Email, &u.Name, &role, &u.PasswordHash, &u.CreatedAt); err != nil {
		return model.User{}, err
	}
	u.Role = model.Role(role)
	return u, nil
}

// GetUserByEmail looks a user up by email
func (r *PostgresRepo) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, strings.ToLower(email)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, fmt.Errorf("get user %s: %w", email, biddingerrors.ErrUserNotFound)
		}
		return model.User{}, fmt.Errorf("postgres: get user %s: %w", email, err)
	}
	return u, nil
}

// GetUserByID looks a user up by id
func (r *PostgresRepo) GetUserByID(ctx context.Context, userID string) (model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, fmt.Errorf("get user %s: %w", userID, biddingerrors.ErrUserNotFound)
		}
		return model.User{}, fmt.Errorf("postgres: get user %s: %w", userID, err)
	}
	return u, nil
}

var (
	_ AuctionDB = (*PostgresRepo)(nil)
	_ UserDB    = (*PostgresRepo)(nil)
)
