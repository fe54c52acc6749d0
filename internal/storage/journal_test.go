package storage

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/maksimarefev/nft-marketplace/internal/domain"
	"github.com/maksimarefev/nft-marketplace/internal/event"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	journal, err := NewJournal(t.TempDir() + "/journal.db")
	if err != nil {
		t.Fatalf("Failed to create journal: %v", err)
	}
	t.Cleanup(func() { journal.Close() })
	return journal
}

func TestJournal_SaveAndLoad(t *testing.T) {
	journal := newTestJournal(t)
	ctx := context.Background()

	ev1 := &event.ListedEvent{
		BaseEvent: event.BaseEvent{Seq: 1, Ts: 1000},
		TokenID:   7,
		Seller:    "alice",
		Price:     decimal.NewFromInt(10),
	}
	ev2 := &event.ListedOnAuctionEvent{
		BaseEvent:     event.BaseEvent{Seq: 2, Ts: 2000},
		TokenID:       8,
		Seller:        "alice",
		MinPrice:      decimal.NewFromInt(5),
		DeadlineUnixM: 3_600_000_000,
	}
	ev3 := &event.BidderChangedEvent{
		BaseEvent: event.BaseEvent{Seq: 3, Ts: 3000},
		TokenID:   8,
		Bidder:    "bob",
		Price:     decimal.NewFromInt(7),
	}

	for _, ev := range []event.Event{ev1, ev2, ev3} {
		if err := journal.SaveEvent(ctx, ev); err != nil {
			t.Fatalf("Failed to save event %d: %v", ev.GetSeq(), err)
		}
	}

	loaded, err := journal.LoadEvents(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to load events: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(loaded))
	}

	listed, ok := loaded[0].(*event.ListedEvent)
	if !ok {
		t.Fatalf("Expected ListedEvent, got %T", loaded[0])
	}
	if listed.Seq != 1 || listed.TokenID != 7 || !listed.Price.Equal(decimal.NewFromInt(10)) {
		t.Errorf("ListedEvent mismatch: %+v", listed)
	}

	auctioned, ok := loaded[1].(*event.ListedOnAuctionEvent)
	if !ok {
		t.Fatalf("Expected ListedOnAuctionEvent, got %T", loaded[1])
	}
	if auctioned.DeadlineUnixM != 3_600_000_000 || !auctioned.MinPrice.Equal(decimal.NewFromInt(5)) {
		t.Errorf("ListedOnAuctionEvent mismatch: %+v", auctioned)
	}

	bid, ok := loaded[2].(*event.BidderChangedEvent)
	if !ok {
		t.Fatalf("Expected BidderChangedEvent, got %T", loaded[2])
	}
	if bid.Bidder != domain.Address("bob") || bid.GetTs() != 3000 {
		t.Errorf("BidderChangedEvent mismatch: %+v", bid)
	}
}

func TestJournal_LoadFromSeq(t *testing.T) {
	journal := newTestJournal(t)
	ctx := context.Background()

	for seq := uint64(1); seq <= 5; seq++ {
		ev := &event.DelistedEvent{
			BaseEvent: event.BaseEvent{Seq: seq, Ts: int64(seq * 100)},
			TokenID:   domain.TokenID(seq),
		}
		if err := journal.SaveEvent(ctx, ev); err != nil {
			t.Fatalf("Failed to save event %d: %v", seq, err)
		}
	}

	loaded, err := journal.LoadEvents(ctx, 4)
	if err != nil {
		t.Fatalf("Failed to load events: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 events from seq 4, got %d", len(loaded))
	}
	if loaded[0].GetSeq() != 4 || loaded[1].GetSeq() != 5 {
		t.Errorf("Wrong tail: seqs %d, %d", loaded[0].GetSeq(), loaded[1].GetSeq())
	}
}

func TestJournal_GetLastSeq(t *testing.T) {
	journal := newTestJournal(t)
	ctx := context.Background()

	last, err := journal.GetLastSeq(ctx)
	if err != nil {
		t.Fatalf("Failed to get last seq: %v", err)
	}
	if last != 0 {
		t.Errorf("Empty journal must report seq 0, got %d", last)
	}

	ev := &event.SoldEvent{
		BaseEvent: event.BaseEvent{Seq: 42, Ts: 1000},
		TokenID:   7,
		Price:     decimal.NewFromInt(10),
		Buyer:     "bob",
		Seller:    "alice",
	}
	if err := journal.SaveEvent(ctx, ev); err != nil {
		t.Fatalf("Failed to save event: %v", err)
	}

	last, err = journal.GetLastSeq(ctx)
	if err != nil {
		t.Fatalf("Failed to get last seq: %v", err)
	}
	if last != 42 {
		t.Errorf("Expected last seq 42, got %d", last)
	}
}

func TestJournal_Metadata(t *testing.T) {
	journal := newTestJournal(t)
	ctx := context.Background()

	value, err := journal.GetMetadata(ctx, "missing")
	if err != nil {
		t.Fatalf("Failed to read missing key: %v", err)
	}
	if value != "" {
		t.Errorf("Missing key must read empty, got %q", value)
	}

	if err := journal.UpsertMetadata(ctx, "min_bids", "3", 1000); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}
	if err := journal.UpsertMetadata(ctx, "min_bids", "5", 2000); err != nil {
		t.Fatalf("Failed to upsert again: %v", err)
	}

	value, err = journal.GetMetadata(ctx, "min_bids")
	if err != nil {
		t.Fatalf("Failed to read key: %v", err)
	}
	if value != "5" {
		t.Errorf("Expected latest value 5, got %q", value)
	}
}
