package domain

import (
	"github.com/shopspring/decimal"

	"github.com/maksimarefev/nft-marketplace/pkg/safe"
)

// Address identifies an account on the payment ledger and asset custodian.
type Address string

// TokenID is the opaque identifier of a unique asset token.
type TokenID uint64

// ListingKind discriminates the two trading modes of a listing.
type ListingKind uint8

const (
	KindFixedPrice ListingKind = iota + 1
	KindAuction
)

func (k ListingKind) String() string {
	switch k {
	case KindFixedPrice:
		return "FIXED_PRICE"
	case KindAuction:
		return "AUCTION"
	default:
		return "UNKNOWN"
	}
}

// Listing describes an asset currently offered for sale. A listing exists
// if and only if the marketplace holds custody of the token.
// Prices are decimal.Decimal: ledger amounts are arbitrary precision and
// must never be narrowed to a machine word.
type Listing struct {
	TokenID TokenID         `json:"token_id"`
	Seller  Address         `json:"seller"`
	Kind    ListingKind     `json:"kind"`
	Price   decimal.Decimal `json:"price"` // fixed price, or minimum price for auctions
}

// AuctionState holds the bidding state of an auction listing. It exists if
// and only if the owning listing has KindAuction.
type AuctionState struct {
	Bidder        Address         `json:"bidder,omitempty"` // empty until the first bid
	Bid           decimal.Decimal `json:"bid"`
	BidCount      uint64          `json:"bid_count"`
	DeadlineUnixM int64           `json:"deadline"` // unix micros
}

// HasBidder reports whether at least one bid has been accepted.
func (a *AuctionState) HasBidder() bool {
	return a.Bidder != ""
}

// Expired reports whether the bidding window is over. nowUnixM must come
// from the single clock the operation runs against.
func (a *AuctionState) Expired(nowUnixM int64) bool {
	return nowUnixM >= a.DeadlineUnixM
}

// Remaining returns the bidding time left in microseconds, never negative.
func (a *AuctionState) Remaining(nowUnixM int64) int64 {
	if a.Expired(nowUnixM) {
		return 0
	}
	return safe.SafeSub(a.DeadlineUnixM, nowUnixM)
}
