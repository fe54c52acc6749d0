// Package market implements the marketplace core: the listing registry, the
// escrow custody movements and the auction state machine. Every public
// operation runs as one atomic unit of work; failure anywhere discards all
// effects of that operation.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maksimarefev/nft-marketplace/internal/custody"
	"github.com/maksimarefev/nft-marketplace/internal/domain"
	"github.com/maksimarefev/nft-marketplace/internal/event"
	"github.com/maksimarefev/nft-marketplace/internal/storage"
	"github.com/maksimarefev/nft-marketplace/pkg/safe"
)

// Metadata keys for the admin settings persisted in the journal.
const (
	metaKeyAuctionTimeout = "auction_timeout_us"
	metaKeyMinBids        = "min_bids"
)

// Config carries the deployment-time parameters of the marketplace.
type Config struct {
	// Account is the address the marketplace itself trades under. Escrowed
	// tokens and bids are held by this account.
	Account domain.Address

	// Admin may mint tokens and change the auction parameters.
	Admin domain.Address

	// AuctionTimeout is the initial bidding window length. Must be nonzero.
	AuctionTimeout time.Duration

	// MinBids is the initial bid count an auction must reach to resolve as
	// a sale. Must be nonzero.
	MinBids uint64
}

// Marketplace owns the listing registry and drives all state transitions.
// Operations are serialized: the mutex makes each one the sole writer of the
// entries it touches for the duration of its atomic step, and registry
// bookkeeping is updated before the external transfer calls go out, so a
// reentrant callback from a collaborator observes consistent post-transition
// state.
type Marketplace struct {
	mu sync.Mutex

	custodian custody.AssetCustodian
	ledger    custody.PaymentLedger
	clock     Clock

	account domain.Address
	admin   domain.Address

	auctionTimeout time.Duration
	minBids        uint64

	listings map[domain.TokenID]*domain.Listing
	auctions map[domain.TokenID]*domain.AuctionState
	nextSeq  uint64

	journal *storage.Journal // optional; panics the op on append failure
	sinks   []event.Sink     // best-effort observers (stream, broker)
}

// Option configures optional marketplace collaborators.
type Option func(*Marketplace)

// WithClock replaces the system clock. Tests drive time through this.
func WithClock(c Clock) Option {
	return func(m *Marketplace) { m.clock = c }
}

// WithJournal enables the persistent event journal and settings store.
func WithJournal(j *storage.Journal) Option {
	return func(m *Marketplace) { m.journal = j }
}

// WithSinks registers best-effort event observers. Sink failures are logged
// and do not fail the operation that emitted the event.
func WithSinks(sinks ...event.Sink) Option {
	return func(m *Marketplace) { m.sinks = append(m.sinks, sinks...) }
}

// New validates the configuration and builds a marketplace with an empty
// registry.
func New(cfg Config, custodian custody.AssetCustodian, ledger custody.PaymentLedger, opts ...Option) (*Marketplace, error) {
	if cfg.AuctionTimeout <= 0 || cfg.MinBids == 0 {
		return nil, fmt.Errorf("auction timeout and min bids: %w", ErrZeroParameter)
	}
	if cfg.Account == "" || cfg.Admin == "" {
		return nil, fmt.Errorf("marketplace account and admin addresses are required")
	}

	m := &Marketplace{
		custodian:      custodian,
		ledger:         ledger,
		clock:          SystemClock(),
		account:        cfg.Account,
		admin:          cfg.Admin,
		auctionTimeout: cfg.AuctionTimeout,
		minBids:        cfg.MinBids,
		listings:       make(map[domain.TokenID]*domain.Listing),
		auctions:       make(map[domain.TokenID]*domain.AuctionState),
		nextSeq:        1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateItem mints a new token to owner via the asset custodian. Admin only.
func (m *Marketplace) CreateItem(ctx context.Context, caller domain.Address, metadataRef string, owner domain.Address) (domain.TokenID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.admin {
		return 0, ErrNotAdmin
	}

	id, err := m.custodian.Mint(ctx, owner, metadataRef)
	if err != nil {
		return 0, fmt.Errorf("mint: %w", err)
	}

	slog.Info("Token minted",
		slog.Uint64("token_id", uint64(id)),
		slog.String("owner", string(owner)))
	return id, nil
}

// ListItem puts a token up for sale at a fixed price. The caller must be
// the token's current owner; custody moves to the marketplace.
func (m *Marketplace) ListItem(ctx context.Context, caller domain.Address, id domain.TokenID, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if price.Sign() <= 0 {
		return ErrZeroPrice
	}
	if err := m.requireOwner(ctx, caller, id); err != nil {
		return err
	}

	// Effects before interactions: the listing is registered before custody
	// moves, and unregistered if the move fails.
	m.listings[id] = &domain.Listing{
		TokenID: id,
		Seller:  caller,
		Kind:    domain.KindFixedPrice,
		Price:   price,
	}

	if err := runMovements(m.assetMovement(ctx, caller, m.account, id)); err != nil {
		delete(m.listings, id)
		return err
	}

	m.emit(ctx, &event.ListedEvent{
		BaseEvent: m.stamp(),
		TokenID:   id,
		Seller:    caller,
		Price:     price,
	})
	return nil
}

// ListItemOnAuction puts a token up for an English auction with the given
// minimum price. The bidding window closes at listing time plus the
// configured auction timeout.
func (m *Marketplace) ListItemOnAuction(ctx context.Context, caller domain.Address, id domain.TokenID, minPrice decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if minPrice.Sign() <= 0 {
		return ErrZeroPrice
	}
	if err := m.requireOwner(ctx, caller, id); err != nil {
		return err
	}

	deadline := safe.SafeAdd(m.clock.NowUnixM(), m.auctionTimeout.Microseconds())

	m.listings[id] = &domain.Listing{
		TokenID: id,
		Seller:  caller,
		Kind:    domain.KindAuction,
		Price:   minPrice,
	}
	m.auctions[id] = &domain.AuctionState{
		Bid:           decimal.Zero,
		DeadlineUnixM: deadline,
	}

	if err := runMovements(m.assetMovement(ctx, caller, m.account, id)); err != nil {
		delete(m.listings, id)
		delete(m.auctions, id)
		return err
	}

	m.emit(ctx, &event.ListedOnAuctionEvent{
		BaseEvent:     m.stamp(),
		TokenID:       id,
		Seller:        caller,
		MinPrice:      minPrice,
		DeadlineUnixM: deadline,
	})
	return nil
}

// Cancel delists a token and returns it to the seller. Seller only. A
// standing auction bid is refunded in the same atomic step.
func (m *Marketplace) Cancel(ctx context.Context, caller domain.Address, id domain.TokenID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	listing, ok := m.listings[id]
	if !ok {
		return ErrNotListed
	}
	if caller != listing.Seller {
		return ErrNotTokenOwner
	}
	auction := m.auctions[id]

	delete(m.listings, id)
	delete(m.auctions, id)

	movements := []movement{m.assetMovement(ctx, m.account, listing.Seller, id)}
	if auction != nil && auction.HasBidder() {
		movements = append(movements, m.paymentMovement(ctx, m.account, auction.Bidder, auction.Bid))
	}
	if err := runMovements(movements...); err != nil {
		m.listings[id] = listing
		if auction != nil {
			m.auctions[id] = auction
		}
		return err
	}

	m.emit(ctx, &event.DelistedEvent{BaseEvent: m.stamp(), TokenID: id})
	return nil
}

// BuyItem purchases a fixed-price listing at its quoted price. Payment goes
// straight from the buyer to the seller; the token leaves escrow to the
// buyer.
func (m *Marketplace) BuyItem(ctx context.Context, caller domain.Address, id domain.TokenID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	listing, ok := m.listings[id]
	if !ok || listing.Kind != domain.KindFixedPrice {
		return ErrNotListed
	}

	if err := m.requireBalance(ctx, caller, listing.Price); err != nil {
		return err
	}

	delete(m.listings, id)

	err := runMovements(
		m.paymentMovement(ctx, caller, listing.Seller, listing.Price),
		m.assetMovement(ctx, m.account, caller, id),
	)
	if err != nil {
		m.listings[id] = listing
		return err
	}

	m.emit(ctx, &event.SoldEvent{
		BaseEvent: m.stamp(),
		TokenID:   id,
		Price:     listing.Price,
		Buyer:     caller,
		Seller:    listing.Seller,
	})
	return nil
}

// MakeBid places a bid on a live auction. The first bid must be at least
// the minimum price; every later bid must strictly exceed the current one.
// The new amount is pulled into escrow and the displaced bidder is refunded
// their exact prior amount within the same atomic step, so escrow always
// holds the current bid and nothing else.
func (m *Marketplace) MakeBid(ctx context.Context, caller domain.Address, id domain.TokenID, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	auction, ok := m.auctions[id]
	if !ok {
		return ErrNoAuction
	}
	listing := m.listings[id]

	if auction.Expired(m.clock.NowUnixM()) {
		return ErrAuctionClosed
	}
	if price.LessThan(listing.Price) {
		return ErrBidTooLow
	}
	if auction.HasBidder() && !price.GreaterThan(auction.Bid) {
		return ErrBidNotHigher
	}
	if err := m.requireBalance(ctx, caller, price); err != nil {
		return err
	}

	prevBidder, prevBid := auction.Bidder, auction.Bid
	auction.Bidder = caller
	auction.Bid = price
	auction.BidCount++

	movements := []movement{m.paymentMovement(ctx, caller, m.account, price)}
	if prevBidder != "" {
		movements = append(movements, m.paymentMovement(ctx, m.account, prevBidder, prevBid))
	}
	if err := runMovements(movements...); err != nil {
		auction.Bidder = prevBidder
		auction.Bid = prevBid
		auction.BidCount--
		return err
	}

	m.emit(ctx, &event.BidderChangedEvent{
		BaseEvent: m.stamp(),
		Bidder:    caller,
		TokenID:   id,
		Price:     price,
	})
	return nil
}

// FinishAuction finalizes an auction whose deadline has passed. Callable by
// anyone: expiry only stops new bids, resolution happens lazily on this
// call. An auction that reached the minimum bid count resolves as a sale to
// the current bidder; otherwise the token returns to the seller and the
// standing bid, if any, is refunded.
func (m *Marketplace) FinishAuction(ctx context.Context, caller domain.Address, id domain.TokenID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	auction, ok := m.auctions[id]
	if !ok {
		return ErrNoAuction
	}
	if !auction.Expired(m.clock.NowUnixM()) {
		return ErrAuctionRunning
	}
	listing := m.listings[id]

	delete(m.listings, id)
	delete(m.auctions, id)

	restore := func() {
		m.listings[id] = listing
		m.auctions[id] = auction
	}

	// Inclusive comparison: a count exactly at the threshold sells.
	if auction.BidCount >= m.minBids {
		err := runMovements(
			m.assetMovement(ctx, m.account, auction.Bidder, id),
			m.paymentMovement(ctx, m.account, listing.Seller, auction.Bid),
		)
		if err != nil {
			restore()
			return err
		}

		m.emit(ctx, &event.SoldEvent{
			BaseEvent: m.stamp(),
			TokenID:   id,
			Price:     auction.Bid,
			Buyer:     auction.Bidder,
			Seller:    listing.Seller,
		})
		return nil
	}

	movements := []movement{m.assetMovement(ctx, m.account, listing.Seller, id)}
	if auction.HasBidder() {
		movements = append(movements, m.paymentMovement(ctx, m.account, auction.Bidder, auction.Bid))
	}
	if err := runMovements(movements...); err != nil {
		restore()
		return err
	}

	m.emit(ctx, &event.DelistedEvent{BaseEvent: m.stamp(), TokenID: id})
	return nil
}

// SetAuctionTimeout changes the bidding window for auctions listed from now
// on. Admin only, nonzero. Running auctions keep their deadline.
func (m *Marketplace) SetAuctionTimeout(ctx context.Context, caller domain.Address, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.admin {
		return ErrNotAdmin
	}
	if timeout <= 0 {
		return ErrZeroParameter
	}

	if err := m.saveSetting(ctx, metaKeyAuctionTimeout, strconv.FormatInt(timeout.Microseconds(), 10)); err != nil {
		return err
	}
	m.auctionTimeout = timeout

	slog.Info("Auction timeout updated", slog.Duration("timeout", timeout))
	return nil
}

// SetMinBidsNumber changes the bid count threshold auctions must reach to
// resolve as a sale. Admin only, nonzero.
func (m *Marketplace) SetMinBidsNumber(ctx context.Context, caller domain.Address, count uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.admin {
		return ErrNotAdmin
	}
	if count == 0 {
		return ErrZeroParameter
	}

	if err := m.saveSetting(ctx, metaKeyMinBids, strconv.FormatUint(count, 10)); err != nil {
		return err
	}
	m.minBids = count

	slog.Info("Minimum bids threshold updated", slog.Uint64("min_bids", count))
	return nil
}

// AuctionTimeout returns the current bidding window length.
func (m *Marketplace) AuctionTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.auctionTimeout
}

// MinBidsNumber returns the current bid count threshold.
func (m *Marketplace) MinBidsNumber() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minBids
}

// Listing returns a copy of the listing for id, if one exists.
func (m *Marketplace) Listing(id domain.TokenID) (domain.Listing, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	listing, ok := m.listings[id]
	if !ok {
		return domain.Listing{}, false
	}
	return *listing, true
}

// Auction returns a copy of the auction state for id, if one exists.
func (m *Marketplace) Auction(id domain.TokenID) (domain.AuctionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	auction, ok := m.auctions[id]
	if !ok {
		return domain.AuctionState{}, false
	}
	return *auction, true
}

// Listings returns a copy of every active listing.
func (m *Marketplace) Listings() []domain.Listing {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Listing, 0, len(m.listings))
	for _, listing := range m.listings {
		out = append(out, *listing)
	}
	return out
}

// requireOwner checks that caller holds the token. A failed lookup (e.g.
// the token does not exist) propagates the custodian's reason.
func (m *Marketplace) requireOwner(ctx context.Context, caller domain.Address, id domain.TokenID) error {
	owner, err := m.custodian.OwnerOf(ctx, id)
	if err != nil {
		return fmt.Errorf("owner lookup: %w", err)
	}
	if owner != caller {
		return ErrNotTokenOwner
	}
	return nil
}

func (m *Marketplace) requireBalance(ctx context.Context, addr domain.Address, amount decimal.Decimal) error {
	balance, err := m.ledger.BalanceOf(ctx, addr)
	if err != nil {
		return fmt.Errorf("balance lookup: %w", err)
	}
	if balance.LessThan(amount) {
		return ErrInsufficientBalance
	}
	return nil
}

// stamp assigns the next sequence number and the operation timestamp.
func (m *Marketplace) stamp() event.BaseEvent {
	base := event.BaseEvent{Seq: m.nextSeq, Ts: m.clock.NowUnixM()}
	m.nextSeq++
	return base
}

// emit records a completed transition. The journal append is load-bearing
// for recovery: losing it would desync replay from reality, so a journal
// failure halts. Notifier sinks are best-effort.
func (m *Marketplace) emit(ctx context.Context, ev event.Event) {
	if m.journal != nil {
		if err := m.journal.SaveEvent(ctx, ev); err != nil {
			panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
		}
	}
	for _, sink := range m.sinks {
		if err := sink.Emit(ctx, ev); err != nil {
			slog.Warn("Event sink failed",
				slog.String("event", ev.GetType().String()),
				slog.Uint64("seq", ev.GetSeq()),
				slog.Any("error", err))
		}
	}
}

func (m *Marketplace) saveSetting(ctx context.Context, key, value string) error {
	if m.journal == nil {
		return nil
	}
	if err := m.journal.UpsertMetadata(ctx, key, value, m.clock.NowUnixM()); err != nil {
		return fmt.Errorf("failed to persist setting %s: %w", key, err)
	}
	return nil
}
