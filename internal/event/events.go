package event

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/maksimarefev/nft-marketplace/internal/domain"
)

// Type defines the type of event.
type Type uint16

const (
	EvListed Type = iota + 1
	EvListedOnAuction
	EvBidderChanged
	EvSold
	EvDelisted
)

func (t Type) String() string {
	switch t {
	case EvListed:
		return "Listed"
	case EvListedOnAuction:
		return "ListedOnAuction"
	case EvBidderChanged:
		return "BidderChanged"
	case EvSold:
		return "Sold"
	case EvDelisted:
		return "Delisted"
	default:
		return "Unknown"
	}
}

// Event is the interface for all marketplace events.
type Event interface {
	GetSeq() uint64
	GetTs() int64
	GetType() Type
}

// Sink receives events on the success path of a state transition, after all
// custody and payment movements for that transition have completed.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Seq uint64 `json:"seq"`
	Ts  int64  `json:"ts"` // unix micros
}

func (e BaseEvent) GetSeq() uint64 { return e.Seq }
func (e BaseEvent) GetTs() int64   { return e.Ts }

// ListedEvent records a fixed-price listing going live.
type ListedEvent struct {
	BaseEvent
	TokenID domain.TokenID  `json:"token_id"`
	Seller  domain.Address  `json:"seller"`
	Price   decimal.Decimal `json:"price"`
}

func (e ListedEvent) GetType() Type { return EvListed }

// ListedOnAuctionEvent records an auction listing going live. The deadline
// is journaled so replay can reconstruct the bidding window.
type ListedOnAuctionEvent struct {
	BaseEvent
	TokenID       domain.TokenID  `json:"token_id"`
	Seller        domain.Address  `json:"seller"`
	MinPrice      decimal.Decimal `json:"min_price"`
	DeadlineUnixM int64           `json:"deadline"`
}

func (e ListedOnAuctionEvent) GetType() Type { return EvListedOnAuction }

// BidderChangedEvent records an accepted bid displacing the previous one.
type BidderChangedEvent struct {
	BaseEvent
	Bidder  domain.Address  `json:"bidder"`
	TokenID domain.TokenID  `json:"token_id"`
	Price   decimal.Decimal `json:"price"`
}

func (e BidderChangedEvent) GetType() Type { return EvBidderChanged }

// SoldEvent records a completed sale, fixed-price or auction.
type SoldEvent struct {
	BaseEvent
	TokenID domain.TokenID  `json:"token_id"`
	Price   decimal.Decimal `json:"price"`
	Buyer   domain.Address  `json:"buyer"`
	Seller  domain.Address  `json:"seller"`
}

func (e SoldEvent) GetType() Type { return EvSold }

// DelistedEvent records a listing removed without a sale.
type DelistedEvent struct {
	BaseEvent
	TokenID domain.TokenID `json:"token_id"`
}

func (e DelistedEvent) GetType() Type { return EvDelisted }
