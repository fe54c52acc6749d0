package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maksimarefev/nft-marketplace/internal/custody"
	"github.com/maksimarefev/nft-marketplace/internal/domain"
	"github.com/maksimarefev/nft-marketplace/internal/event"
)

const (
	adminAddr  = domain.Address("admin")
	escrowAddr = domain.Address("marketplace")
	alice      = domain.Address("alice")
	bob        = domain.Address("bob")
	carol      = domain.Address("carol")
)

type fakeClock struct {
	nowUnixM int64
}

func (c *fakeClock) NowUnixM() int64 { return c.nowUnixM }

func (c *fakeClock) advance(d time.Duration) { c.nowUnixM += d.Microseconds() }

// recorder captures emitted events for assertions.
type recorder struct {
	events []event.Event
}

func (r *recorder) Emit(_ context.Context, ev event.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) last(t *testing.T) event.Event {
	t.Helper()
	if len(r.events) == 0 {
		t.Fatal("no events emitted")
	}
	return r.events[len(r.events)-1]
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	clock     *fakeClock
	custodian *custody.MemoryCustodian
	ledger    *custody.MemoryLedger
	events    *recorder
	market    *Marketplace
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		clock:     &fakeClock{nowUnixM: 1_000_000},
		custodian: custody.NewMemoryCustodian(),
		ledger:    custody.NewMemoryLedger(),
		events:    &recorder{},
	}

	opts = append([]Option{WithClock(f.clock), WithSinks(f.events)}, opts...)
	m, err := New(Config{
		Account:        escrowAddr,
		Admin:          adminAddr,
		AuctionTimeout: time.Hour,
		MinBids:        3,
	}, f.custodian, f.ledger, opts...)
	if err != nil {
		t.Fatalf("failed to build marketplace: %v", err)
	}
	f.market = m
	return f
}

func dec(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

// stuckCustodian reports an owner but refuses every custody transfer.
type stuckCustodian struct {
	owner domain.Address
}

func (c *stuckCustodian) OwnerOf(context.Context, domain.TokenID) (domain.Address, error) {
	return c.owner, nil
}

func (c *stuckCustodian) TransferFrom(context.Context, domain.Address, domain.Address, domain.TokenID) error {
	return errors.New("custodian unavailable")
}

func (c *stuckCustodian) Mint(context.Context, domain.Address, string) (domain.TokenID, error) {
	return 0, errors.New("custodian unavailable")
}

func (f *fixture) mint(owner domain.Address) domain.TokenID {
	f.t.Helper()
	id, err := f.market.CreateItem(f.ctx, adminAddr, "ipfs://QmSomeCID", owner)
	if err != nil {
		f.t.Fatalf("mint failed: %v", err)
	}
	return id
}

func (f *fixture) list(owner domain.Address, price int64) domain.TokenID {
	f.t.Helper()
	id := f.mint(owner)
	if err := f.market.ListItem(f.ctx, owner, id, dec(price)); err != nil {
		f.t.Fatalf("listItem failed: %v", err)
	}
	return id
}

func (f *fixture) listOnAuction(owner domain.Address, minPrice int64) domain.TokenID {
	f.t.Helper()
	id := f.mint(owner)
	if err := f.market.ListItemOnAuction(f.ctx, owner, id, dec(minPrice)); err != nil {
		f.t.Fatalf("listItemOnAuction failed: %v", err)
	}
	return id
}

func (f *fixture) owner(id domain.TokenID) domain.Address {
	f.t.Helper()
	owner, err := f.custodian.OwnerOf(f.ctx, id)
	if err != nil {
		f.t.Fatalf("ownerOf failed: %v", err)
	}
	return owner
}

func (f *fixture) balance(addr domain.Address) decimal.Decimal {
	f.t.Helper()
	b, err := f.ledger.BalanceOf(f.ctx, addr)
	if err != nil {
		f.t.Fatalf("balanceOf failed: %v", err)
	}
	return b
}

func (f *fixture) assertBalance(addr domain.Address, want int64) {
	f.t.Helper()
	if got := f.balance(addr); !got.Equal(dec(want)) {
		f.t.Errorf("balance of %s: expected %d, got %s", addr, want, got)
	}
}

func TestListItem(t *testing.T) {
	t.Run("Zero price fails", func(t *testing.T) {
		f := newFixture(t)
		id := f.mint(alice)

		err := f.market.ListItem(f.ctx, alice, id, decimal.Zero)
		if !errors.Is(err, ErrZeroPrice) {
			t.Errorf("expected ErrZeroPrice, got %v", err)
		}
	})

	t.Run("Nonexistent token fails with custodian reason", func(t *testing.T) {
		f := newFixture(t)

		err := f.market.ListItem(f.ctx, alice, 42, dec(1))
		if err == nil {
			t.Fatal("expected error for nonexistent token")
		}
		if KindOf(err) != 0 {
			t.Errorf("lookup failure must propagate the underlying reason, got %v", err)
		}
	})

	t.Run("Non-owner fails", func(t *testing.T) {
		f := newFixture(t)
		id := f.mint(alice)

		err := f.market.ListItem(f.ctx, bob, id, dec(1))
		if !errors.Is(err, ErrNotTokenOwner) {
			t.Errorf("expected ErrNotTokenOwner, got %v", err)
		}
	})

	t.Run("Success moves custody and emits Listed", func(t *testing.T) {
		f := newFixture(t)
		id := f.mint(alice)

		if err := f.market.ListItem(f.ctx, alice, id, dec(10)); err != nil {
			t.Fatalf("listItem failed: %v", err)
		}

		if got := f.owner(id); got != escrowAddr {
			t.Errorf("expected marketplace custody, got %s", got)
		}
		listing, ok := f.market.Listing(id)
		if !ok {
			t.Fatal("listing missing after listItem")
		}
		if listing.Kind != domain.KindFixedPrice || listing.Seller != alice || !listing.Price.Equal(dec(10)) {
			t.Errorf("unexpected listing: %+v", listing)
		}

		ev, ok := f.events.last(t).(*event.ListedEvent)
		if !ok {
			t.Fatalf("expected ListedEvent, got %T", f.events.last(t))
		}
		if ev.TokenID != id || ev.Seller != alice || !ev.Price.Equal(dec(10)) {
			t.Errorf("unexpected event: %+v", ev)
		}
	})

	t.Run("Custody failure leaves no listing", func(t *testing.T) {
		custodian := &stuckCustodian{owner: alice}
		m, err := New(Config{
			Account:        escrowAddr,
			Admin:          adminAddr,
			AuctionTimeout: time.Hour,
			MinBids:        3,
		}, custodian, custody.NewMemoryLedger())
		if err != nil {
			t.Fatalf("failed to build marketplace: %v", err)
		}

		if err := m.ListItem(context.Background(), alice, 1, dec(10)); err == nil {
			t.Fatal("expected failure")
		}
		if _, ok := m.Listing(1); ok {
			t.Error("failed listItem must not leave a listing behind")
		}
	})
}

func TestCancel(t *testing.T) {
	t.Run("Unlisted token fails", func(t *testing.T) {
		f := newFixture(t)

		if err := f.market.Cancel(f.ctx, alice, 1); !errors.Is(err, ErrNotListed) {
			t.Errorf("expected ErrNotListed, got %v", err)
		}
	})

	t.Run("Non-seller fails", func(t *testing.T) {
		f := newFixture(t)
		id := f.list(alice, 10)

		if err := f.market.Cancel(f.ctx, bob, id); !errors.Is(err, ErrNotTokenOwner) {
			t.Errorf("expected ErrNotTokenOwner, got %v", err)
		}
	})

	t.Run("Seller gets the token back", func(t *testing.T) {
		f := newFixture(t)
		id := f.list(alice, 10)

		if err := f.market.Cancel(f.ctx, alice, id); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}

		if got := f.owner(id); got != alice {
			t.Errorf("expected alice to hold the token, got %s", got)
		}
		if _, ok := f.market.Listing(id); ok {
			t.Error("listing must be removed")
		}
		if _, ok := f.events.last(t).(*event.DelistedEvent); !ok {
			t.Errorf("expected DelistedEvent, got %T", f.events.last(t))
		}
	})

	t.Run("Auction cancel refunds the standing bidder", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.Credit(bob, dec(20))
		id := f.listOnAuction(alice, 5)

		if err := f.market.MakeBid(f.ctx, bob, id, dec(7)); err != nil {
			t.Fatalf("makeBid failed: %v", err)
		}
		if err := f.market.Cancel(f.ctx, alice, id); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}

		f.assertBalance(bob, 20)
		f.assertBalance(escrowAddr, 0)
		if got := f.owner(id); got != alice {
			t.Errorf("expected alice to hold the token, got %s", got)
		}
		if _, ok := f.market.Auction(id); ok {
			t.Error("auction state must be removed")
		}
	})
}

func TestBuyItem(t *testing.T) {
	t.Run("Unlisted token fails", func(t *testing.T) {
		f := newFixture(t)

		if err := f.market.BuyItem(f.ctx, bob, 1); !errors.Is(err, ErrNotListed) {
			t.Errorf("expected ErrNotListed, got %v", err)
		}
	})

	t.Run("Auction listing is not purchasable", func(t *testing.T) {
		f := newFixture(t)
		id := f.listOnAuction(alice, 5)

		if err := f.market.BuyItem(f.ctx, bob, id); !errors.Is(err, ErrNotListed) {
			t.Errorf("expected ErrNotListed, got %v", err)
		}
	})

	t.Run("Insufficient balance fails", func(t *testing.T) {
		f := newFixture(t)
		id := f.list(alice, 10)
		f.ledger.Credit(bob, dec(9))

		if err := f.market.BuyItem(f.ctx, bob, id); !errors.Is(err, ErrInsufficientBalance) {
			t.Errorf("expected ErrInsufficientBalance, got %v", err)
		}
	})

	t.Run("Rejected payment transfer fails and changes nothing", func(t *testing.T) {
		f := newFixture(t)
		id := f.list(alice, 10)
		f.ledger.Credit(bob, dec(10))
		f.ledger.RejectNextTransfer()

		if err := f.market.BuyItem(f.ctx, bob, id); !errors.Is(err, ErrPaymentFailed) {
			t.Errorf("expected ErrPaymentFailed, got %v", err)
		}

		if _, ok := f.market.Listing(id); !ok {
			t.Error("listing must survive a failed purchase")
		}
		if got := f.owner(id); got != escrowAddr {
			t.Errorf("token must stay in escrow, held by %s", got)
		}
		f.assertBalance(bob, 10)
		f.assertBalance(alice, 0)
	})

	t.Run("Purchase pays the seller and hands over the token", func(t *testing.T) {
		f := newFixture(t)
		id := f.list(alice, 10)
		f.ledger.Credit(bob, dec(10))

		if err := f.market.BuyItem(f.ctx, bob, id); err != nil {
			t.Fatalf("buyItem failed: %v", err)
		}

		f.assertBalance(bob, 0)
		f.assertBalance(alice, 10)
		f.assertBalance(escrowAddr, 0)
		if got := f.owner(id); got != bob {
			t.Errorf("expected bob to own the token, got %s", got)
		}
		if _, ok := f.market.Listing(id); ok {
			t.Error("listing must be removed after sale")
		}

		ev, ok := f.events.last(t).(*event.SoldEvent)
		if !ok {
			t.Fatalf("expected SoldEvent, got %T", f.events.last(t))
		}
		if ev.TokenID != id || !ev.Price.Equal(dec(10)) || ev.Buyer != bob || ev.Seller != alice {
			t.Errorf("unexpected event: %+v", ev)
		}
	})
}

func TestNew_Validation(t *testing.T) {
	custodian := custody.NewMemoryCustodian()
	ledger := custody.NewMemoryLedger()

	t.Run("Zero timeout rejected", func(t *testing.T) {
		_, err := New(Config{Account: escrowAddr, Admin: adminAddr, MinBids: 1}, custodian, ledger)
		if !errors.Is(err, ErrZeroParameter) {
			t.Errorf("expected ErrZeroParameter, got %v", err)
		}
	})

	t.Run("Zero min bids rejected", func(t *testing.T) {
		_, err := New(Config{Account: escrowAddr, Admin: adminAddr, AuctionTimeout: time.Hour}, custodian, ledger)
		if !errors.Is(err, ErrZeroParameter) {
			t.Errorf("expected ErrZeroParameter, got %v", err)
		}
	})

	t.Run("Missing addresses rejected", func(t *testing.T) {
		_, err := New(Config{AuctionTimeout: time.Hour, MinBids: 1}, custodian, ledger)
		if err == nil {
			t.Error("expected error for missing addresses")
		}
	})
}
