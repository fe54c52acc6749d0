package market

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/maksimarefev/nft-marketplace/internal/domain"
)

// movement is one asset or payment transfer inside an atomic transition,
// paired with the transfer that undoes it. Multi-step transitions ("pull
// payment from the new bidder AND refund the old bidder") run as an ordered
// list: if step N fails, steps N-1..0 are reverted so none of the movements
// take effect.
type movement struct {
	describe string
	apply    func() error
	revert   func() error
}

// paymentMovement moves amount on the payment ledger. A false return from
// the ledger is a transfer failure, not a no-op.
func (m *Marketplace) paymentMovement(ctx context.Context, from, to domain.Address, amount decimal.Decimal) movement {
	transfer := func(from, to domain.Address) error {
		ok, err := m.ledger.TransferFrom(ctx, from, to, amount)
		if err != nil {
			return fmt.Errorf("payment ledger transfer: %w", err)
		}
		if !ok {
			return ErrPaymentFailed
		}
		return nil
	}
	return movement{
		describe: fmt.Sprintf("payment %s: %s -> %s", amount, from, to),
		apply:    func() error { return transfer(from, to) },
		revert:   func() error { return transfer(to, from) },
	}
}

// assetMovement moves token custody.
func (m *Marketplace) assetMovement(ctx context.Context, from, to domain.Address, id domain.TokenID) movement {
	return movement{
		describe: fmt.Sprintf("asset %d: %s -> %s", id, from, to),
		apply: func() error {
			if err := m.custodian.TransferFrom(ctx, from, to, id); err != nil {
				return fmt.Errorf("asset custody transfer: %w", err)
			}
			return nil
		},
		revert: func() error { return m.custodian.TransferFrom(ctx, to, from, id) },
	}
}

// runMovements applies the movements in order. On failure it reverts the
// already-applied prefix in reverse order and returns the first error.
// A failed revert is logged loudly; it means a collaborator accepted a
// transfer and refused its mirror, which the core cannot repair on its own.
func runMovements(movements ...movement) error {
	for i, mv := range movements {
		err := mv.apply()
		if err == nil {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			if rerr := movements[j].revert(); rerr != nil {
				slog.Error("ESCROW_REVERT_FAILED",
					slog.String("movement", movements[j].describe),
					slog.Any("error", rerr),
				)
			}
		}
		return err
	}
	return nil
}
