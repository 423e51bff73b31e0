package helpers

import (
	"time"

	model "auction-marketplace/internal/models"

	"github.com/shopspring/decimal"
)

// Request/Response DTOs
type PlaceBidRequest struct {
	Amount *decimal.Decimal `json:"amount" binding:"required"`
}

type CreateAuctionRequest struct {
	Title         string           `json:"title" binding:"required,max=200"`
	Description   string           `json:"description" binding:"max=5000"`
	StartingPrice *decimal.Decimal `json:"starting_price" binding:"required"`
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	Name     string `json:"name" binding:"max=100"`
	Role     string `json:"role" binding:"omitempty,oneof=ADMIN DEALER"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type BidResponse struct {
	BidID      string          `json:"bid_id"`
	AuctionID  string          `json:"auction_id"`
	UserID     string          `json:"user_id"`
	BidderName string          `json:"bidder_name"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  string          `json:"created_at"`
}

type PlaceBidResponse struct {
	Bid     BidResponse   `json:"bid"`
	Auction model.Auction `json:"auction"`
}

type UserResponse struct {
	UserID string     `json:"user_id"`
	Email  string     `json:"email"`
	Name   string     `json:"name"`
	Role   model.Role `json:"role"`
}

type LoginResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// NewBidResponse converts a stored bid to its wire form
func NewBidResponse(bid model.Bid) BidResponse {
	return BidResponse{
		BidID:      bid.BidID,
		AuctionID:  bid.AuctionID,
		UserID:     bid.UserID,
		BidderName: bid.BidderName,
		Amount:     bid.Amount,
		CreatedAt:  bid.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// NewUserResponse converts a user to its wire form without credentials
func NewUserResponse(user model.User) UserResponse {
	return UserResponse{
		UserID: user.UserID,
		Email:  user.Email,
		Name:   user.Name,
		Role:   user.Role,
	}
}
