package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/maksimarefev/nft-marketplace/internal/domain"
)

func testSnapshot(seq uint64, ts int64) *Snapshot {
	return &Snapshot{
		Seq:    seq,
		TsUnix: ts,
		Listings: map[domain.TokenID]*domain.Listing{
			1: {TokenID: 1, Seller: "alice", Kind: domain.KindAuction, Price: decimal.NewFromInt(5)},
		},
		Auctions: map[domain.TokenID]*domain.AuctionState{
			1: {Bidder: "bob", Bid: decimal.NewFromInt(7), BidCount: 2, DeadlineUnixM: 3_600_000_000},
		},
	}
}

func TestSnapshotManager_SaveAndLoad(t *testing.T) {
	dir := filepath.Join(os.TempDir(), "market_snapshot_test")
	defer os.RemoveAll(dir)

	sm := NewSnapshotManager(dir)
	if err := sm.Save(testSnapshot(10, 1000)); err != nil {
		t.Fatalf("Failed to save snapshot: %v", err)
	}

	loaded, err := sm.LoadLatest()
	if err != nil {
		t.Fatalf("Failed to load snapshot: %v", err)
	}
	if loaded == nil {
		t.Fatal("Expected a snapshot, got nil")
	}
	if loaded.Seq != 10 || loaded.TsUnix != 1000 {
		t.Errorf("Snapshot header mismatch: %+v", loaded)
	}

	listing, ok := loaded.Listings[1]
	if !ok || listing.Seller != "alice" || !listing.Price.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Listing mismatch: %+v", listing)
	}
	auction, ok := loaded.Auctions[1]
	if !ok || auction.Bidder != "bob" || auction.BidCount != 2 {
		t.Errorf("Auction mismatch: %+v", auction)
	}
}

func TestSnapshotManager_LoadsHighestSeq(t *testing.T) {
	dir := filepath.Join(os.TempDir(), "market_snapshot_test2")
	defer os.RemoveAll(dir)

	sm := NewSnapshotManager(dir)
	for _, seq := range []uint64{5, 20, 12} {
		if err := sm.Save(testSnapshot(seq, int64(seq)*100)); err != nil {
			t.Fatalf("Failed to save snapshot %d: %v", seq, err)
		}
	}

	loaded, err := sm.LoadLatest()
	if err != nil {
		t.Fatalf("Failed to load snapshot: %v", err)
	}
	if loaded == nil || loaded.Seq != 20 {
		t.Errorf("Expected highest-seq snapshot 20, got %+v", loaded)
	}
}

func TestSnapshotManager_EmptyDir(t *testing.T) {
	dir := filepath.Join(os.TempDir(), "market_snapshot_empty")
	defer os.RemoveAll(dir)

	sm := NewSnapshotManager(dir)
	loaded, err := sm.LoadLatest()
	if err != nil {
		t.Fatalf("Missing dir must not error: %v", err)
	}
	if loaded != nil {
		t.Errorf("Expected nil snapshot, got %+v", loaded)
	}
}
