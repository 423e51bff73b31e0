package broadcast

import (
	"time"

	"auction-marketplace/internal/models"

	"github.com/shopspring/decimal"
)

// GlobalTopic reaches every connected client regardless of joined rooms
const GlobalTopic = "auctions"

const (
	EventBidUpdated           = "bidUpdated"
	EventAuctionStatusUpdated = "auctionStatusUpdated"
	eventJoined               = "joinedAuction"
	eventLeft                 = "leftAuction"
	eventError                = "error"
)

// AuctionTopic names the room of a single auction
func AuctionTopic(auctionID string) string {
	return "auction:" + auctionID
}

// Event is the frame pushed to clients
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// BidUpdatedData is the payload of a bidUpdated event.
// Frames for one auction may arrive out of order; clients keep the one with the
// latest UpdatedAt, or equivalently the highest CurrentPrice.
type BidUpdatedData struct {
	AuctionID     string          `json:"auctionId"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	LeadingBidder string          `json:"leadingBidder"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// StatusUpdatedData is the payload of an auctionStatusUpdated event
type StatusUpdatedData struct {
	AuctionID string               `json:"auctionId"`
	Status    models.AuctionStatus `json:"status"`
}

// BidUpdated builds the event announcing a newly accepted bid
func BidUpdated(auctionID string, currentPrice decimal.Decimal, leadingBidder string, updatedAt time.Time) Event {
	return Event{
		Name: EventBidUpdated,
		Data: BidUpdatedData{
			AuctionID:     auctionID,
			CurrentPrice:  currentPrice,
			LeadingBidder: leadingBidder,
			UpdatedAt:     updatedAt,
		},
	}
}

// AuctionStatusUpdated builds the event announcing a lifecycle transition
func AuctionStatusUpdated(auctionID string, status models.AuctionStatus) Event {
	return Event{
		Name: EventAuctionStatusUpdated,
		Data: StatusUpdatedData{AuctionID: auctionID, Status: status},
	}
}

type roomData struct {
	AuctionID string `json:"auctionId"`
}

type errorData struct {
	Message string `json:"message"`
}
