package market

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maksimarefev/nft-marketplace/internal/domain"
	"github.com/maksimarefev/nft-marketplace/internal/event"
	"github.com/maksimarefev/nft-marketplace/internal/storage"
)

// RecoverFromJournal rebuilds the listing registry by replaying journaled
// events. Call once at startup, before serving operations. Replay folds
// registry bookkeeping only; custody and balances live with the external
// collaborators and are assumed to match the journal's tail.
func (m *Marketplace) RecoverFromJournal(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.journal == nil {
		slog.Info("No journal configured, starting fresh")
		return nil
	}

	lastSeq, err := m.journal.GetLastSeq(ctx)
	if err != nil {
		return fmt.Errorf("failed to get last seq: %w", err)
	}
	if lastSeq < m.nextSeq {
		slog.Info("Journal has no events past current state", slog.Uint64("next_seq", m.nextSeq))
		return nil
	}

	events, err := m.journal.LoadEvents(ctx, m.nextSeq)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}

	slog.Info("Replaying events from journal", slog.Int("count", len(events)))
	for _, ev := range events {
		if ev.GetSeq() != m.nextSeq {
			return fmt.Errorf("journal gap: expected seq %d, got %d", m.nextSeq, ev.GetSeq())
		}
		m.fold(ev)
		m.nextSeq++
	}

	slog.Info("Registry recovered from journal",
		slog.Uint64("next_seq", m.nextSeq),
		slog.Int("listings", len(m.listings)))
	return nil
}

// LoadSettings overrides the configured auction timeout and bid threshold
// with values persisted by earlier admin setter calls, if any. Call at
// startup alongside RecoverFromJournal.
func (m *Marketplace) LoadSettings(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.journal == nil {
		return nil
	}

	if raw, err := m.journal.GetMetadata(ctx, metaKeyAuctionTimeout); err != nil {
		return fmt.Errorf("failed to load auction timeout: %w", err)
	} else if raw != "" {
		micros, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || micros <= 0 {
			return fmt.Errorf("corrupt persisted auction timeout %q", raw)
		}
		m.auctionTimeout = time.Duration(micros) * time.Microsecond
	}

	if raw, err := m.journal.GetMetadata(ctx, metaKeyMinBids); err != nil {
		return fmt.Errorf("failed to load min bids: %w", err)
	} else if raw != "" {
		count, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || count == 0 {
			return fmt.Errorf("corrupt persisted min bids %q", raw)
		}
		m.minBids = count
	}

	slog.Info("Settings loaded",
		slog.Duration("auction_timeout", m.auctionTimeout),
		slog.Uint64("min_bids", m.minBids))
	return nil
}

// fold applies one journaled event to the registry.
func (m *Marketplace) fold(ev event.Event) {
	switch e := ev.(type) {
	case *event.ListedEvent:
		m.listings[e.TokenID] = &domain.Listing{
			TokenID: e.TokenID,
			Seller:  e.Seller,
			Kind:    domain.KindFixedPrice,
			Price:   e.Price,
		}
	case *event.ListedOnAuctionEvent:
		m.listings[e.TokenID] = &domain.Listing{
			TokenID: e.TokenID,
			Seller:  e.Seller,
			Kind:    domain.KindAuction,
			Price:   e.MinPrice,
		}
		m.auctions[e.TokenID] = &domain.AuctionState{
			Bid:           decimal.Zero,
			DeadlineUnixM: e.DeadlineUnixM,
		}
	case *event.BidderChangedEvent:
		if auction, ok := m.auctions[e.TokenID]; ok {
			auction.Bidder = e.Bidder
			auction.Bid = e.Price
			auction.BidCount++
		}
	case *event.SoldEvent:
		delete(m.listings, e.TokenID)
		delete(m.auctions, e.TokenID)
	case *event.DelistedEvent:
		delete(m.listings, e.TokenID)
		delete(m.auctions, e.TokenID)
	default:
		slog.Warn("Unknown event type in replay", slog.Any("type", ev.GetType()))
	}
}

// Snapshot captures the registry for fast recovery.
func (m *Marketplace) Snapshot() *storage.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := &storage.Snapshot{
		Seq:      m.nextSeq - 1,
		TsUnix:   m.clock.NowUnixM() / 1_000_000,
		Listings: make(map[domain.TokenID]*domain.Listing, len(m.listings)),
		Auctions: make(map[domain.TokenID]*domain.AuctionState, len(m.auctions)),
	}
	for id, listing := range m.listings {
		cp := *listing
		snap.Listings[id] = &cp
	}
	for id, auction := range m.auctions {
		cp := *auction
		snap.Auctions[id] = &cp
	}
	return snap
}

// RestoreSnapshot primes the registry from a snapshot. Call before
// RecoverFromJournal so only the journal tail after the snapshot replays.
func (m *Marketplace) RestoreSnapshot(snap *storage.Snapshot) {
	if snap == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.listings = make(map[domain.TokenID]*domain.Listing, len(snap.Listings))
	for id, listing := range snap.Listings {
		cp := *listing
		m.listings[id] = &cp
	}
	m.auctions = make(map[domain.TokenID]*domain.AuctionState, len(snap.Auctions))
	for id, auction := range snap.Auctions {
		cp := *auction
		m.auctions[id] = &cp
	}
	m.nextSeq = snap.Seq + 1

	slog.Info("Registry restored from snapshot",
		slog.Uint64("seq", snap.Seq),
		slog.Int("listings", len(m.listings)))
}
