// Package custody defines the two capability interfaces the marketplace core
// needs from its external collaborators, plus in-memory implementations used
// by tests and the demo daemon. The core never talks to a chain, a database
// or a wire protocol directly; it talks to these two seams.
package custody

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/maksimarefev/nft-marketplace/internal/domain"
)

// AssetCustodian exposes ownership lookup and custody transfer for unique
// asset tokens.
type AssetCustodian interface {
	// OwnerOf returns the current holder of the token. It fails if the
	// token does not exist.
	OwnerOf(ctx context.Context, id domain.TokenID) (domain.Address, error)

	// TransferFrom moves custody of the token. It fails if from is not the
	// current holder.
	TransferFrom(ctx context.Context, from, to domain.Address, id domain.TokenID) error

	// Mint issues a new token to the owner and returns its identifier.
	Mint(ctx context.Context, to domain.Address, metadataRef string) (domain.TokenID, error)
}

// PaymentLedger exposes balance lookup and balance transfer for an
// account-based fungible asset.
type PaymentLedger interface {
	BalanceOf(ctx context.Context, addr domain.Address) (decimal.Decimal, error)

	// TransferFrom moves amount between accounts. A false return is a
	// transfer failure distinct from an error, and callers must treat it
	// as one.
	TransferFrom(ctx context.Context, from, to domain.Address, amount decimal.Decimal) (bool, error)
}
