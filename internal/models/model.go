package models

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// amounts go over the wire as JSON numbers, not quoted strings
	decimal.MarshalJSONWithoutQuotes = true
}

// Role is the authorization role carried by a principal
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleDealer Role = "DEALER"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleDealer
}

// AuctionStatus is the lifecycle state of an auction
type AuctionStatus string

const (
	StatusPending AuctionStatus = "PENDING"
	StatusActive  AuctionStatus = "ACTIVE"
	StatusClosed  AuctionStatus = "CLOSED"
)

// User is a registered participant as stored by the identity collaborator
type User struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// DisplayName is the name shown to other bidders, falling back to the email
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// Principal returns the authenticated identity derived from the user
func (u User) Principal() Principal {
	return Principal{UserID: u.UserID, Role: u.Role, DisplayName: u.DisplayName()}
}

// Principal is the authenticated caller, trusted once it passed the access gate
type Principal struct {
	UserID      string `json:"user_id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name"`
}

// IsAdmin reports whether the principal holds the ADMIN role
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Auction is the aggregate root; bids hang off it
type Auction struct {
	AuctionID     string          `json:"auction_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	Status        AuctionStatus   `json:"status"`
	StartTime     *time.Time      `json:"start_time"`
	EndTime       *time.Time      `json:"end_time"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Bid represents a user's accepted bid on an auction
type Bid struct {
	BidID      string          `json:"bid_id"`
	AuctionID  string          `json:"auction_id"`
	UserID     string          `json:"user_id"`
	BidderName string          `json:"bidder_name"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Outranks reports whether b leads over other: higher amount, ties go to the earlier bid
func (b Bid) Outranks(other Bid) bool {
	if c := b.Amount.Cmp(other.Amount); c != 0 {
		return c > 0
	}
	return b.CreatedAt.Before(other.CreatedAt)
}

// AuctionListing is the read-side projection served by the auction list
type AuctionListing struct {
	Auction
	LeadingBidderID *string `json:"leading_bidder_id"`
	LeadingBidder   *string `json:"leading_bidder"`
	BidCount        int     `json:"bid_count"`
}

// MoneyScale is the number of decimal places a stored amount may carry
const MoneyScale = 2

// MoneyLimit is the exclusive upper bound of a stored amount, matching NUMERIC(18,2)
var MoneyLimit = decimal.New(1, 16)

// WithinMoneyLimit reports whether d is below MoneyLimit
func WithinMoneyLimit(d decimal.Decimal) bool {
	return d.LessThan(MoneyLimit)
}

// HasMoneyScale reports whether d fits the stored money precision without rounding
func HasMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyScale))
}
