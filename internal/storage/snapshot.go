package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/maksimarefev/nft-marketplace/internal/domain"
)

// Snapshot is a point-in-time capture of the listing registry. Recovery
// loads the latest snapshot and replays only the journal tail after it.
type Snapshot struct {
	Seq      uint64                                 `json:"seq"` // last sequence folded into the snapshot
	TsUnix   int64                                  `json:"ts"`  // creation time (unix seconds)
	Listings map[domain.TokenID]*domain.Listing     `json:"listings"`
	Auctions map[domain.TokenID]*domain.AuctionState `json:"auctions"`
}

// SnapshotManager handles saving and loading registry snapshots.
type SnapshotManager struct {
	dir string
}

func NewSnapshotManager(dir string) *SnapshotManager {
	return &SnapshotManager{dir: dir}
}

// Save writes a snapshot to disk.
func (sm *SnapshotManager) Save(snap *Snapshot) error {
	if err := os.MkdirAll(sm.dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	filename := fmt.Sprintf("snapshot_%d_%d.json", snap.Seq, snap.TsUnix)
	path := filepath.Join(sm.dir, filename)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	slog.Info("Snapshot saved",
		slog.Uint64("seq", snap.Seq),
		slog.String("path", path))
	return nil
}

// LoadLatest loads the snapshot with the highest sequence number. Returns
// nil if no snapshot exists.
func (sm *SnapshotManager) LoadLatest() (*Snapshot, error) {
	entries, err := os.ReadDir(sm.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot dir: %w", err)
	}

	var latestPath string
	var latestSeq uint64
	found := false

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var seq uint64
		var ts int64
		if _, err := fmt.Sscanf(entry.Name(), "snapshot_%d_%d.json", &seq, &ts); err != nil {
			continue
		}
		if !found || seq > latestSeq {
			latestSeq = seq
			latestPath = filepath.Join(sm.dir, entry.Name())
			found = true
		}
	}
	if !found {
		return nil, nil
	}

	data, err := os.ReadFile(latestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	slog.Info("Snapshot loaded",
		slog.Uint64("seq", snap.Seq),
		slog.String("path", latestPath))
	return &snap, nil
}
