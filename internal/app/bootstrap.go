package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/maksimarefev/nft-marketplace/internal/custody"
	"github.com/maksimarefev/nft-marketplace/internal/domain"
	"github.com/maksimarefev/nft-marketplace/internal/event"
	"github.com/maksimarefev/nft-marketplace/internal/infra"
	"github.com/maksimarefev/nft-marketplace/internal/market"
	"github.com/maksimarefev/nft-marketplace/internal/notify"
	"github.com/maksimarefev/nft-marketplace/internal/storage"
	"github.com/maksimarefev/nft-marketplace/internal/stream"
)

// Bootstrap orchestrates the daemon startup sequence.
type Bootstrap struct {
	Config    *infra.Config
	Journal   *storage.Journal
	Snapshots *storage.SnapshotManager
	Market    *market.Marketplace
	Hub       *stream.Hub
	Publisher *notify.Publisher

	unlock func()
}

func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration, opens the journal and reconstructs the
// marketplace registry.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	slog.Info("🚀 Bootstrapping NFT marketplace...")

	// 1. Config + logger
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		return err
	}
	b.Config = cfg
	slog.SetDefault(infra.NewLogger(cfg))

	// 2. Workspace layout + single-instance lock
	workDir := infra.GetWorkspaceDir()
	dataDir := filepath.Join(workDir, "data")
	if err := infra.EnsureDir(dataDir); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	unlock, err := infra.CreateLockFile(workDir)
	if err != nil {
		return err
	}
	b.unlock = unlock

	// 3. Journal (single-writer WAL DB)
	dbPath := filepath.Join(dataDir, "journal.db")
	journal, err := storage.NewJournal(dbPath)
	if err != nil {
		return err
	}
	b.Journal = journal
	slog.Info("✅ Journal opened (WAL-mode)", slog.String("path", dbPath))

	b.Snapshots = storage.NewSnapshotManager(filepath.Join(dataDir, "snapshots"))

	// 4. Event fan-out
	b.Hub = stream.NewHub()
	sinks := []event.Sink{b.Hub}
	if cfg.Notify.AMQPURL != "" {
		pub, err := notify.NewPublisher(cfg.Notify.AMQPURL, cfg.Notify.Exchange)
		if err != nil {
			return err
		}
		b.Publisher = pub
		sinks = append(sinks, pub)
		slog.Info("✅ Broker publisher connected", slog.String("exchange", cfg.Notify.Exchange))
	}

	// 5. Collaborators. The demo daemon runs against in-memory custody and
	// ledger; a production deployment injects chain-backed implementations.
	custodian := custody.NewMemoryCustodian()
	ledger := custody.NewMemoryLedger()

	m, err := market.New(market.Config{
		Account:        domain.Address(cfg.Market.Account),
		Admin:          domain.Address(cfg.Market.Admin),
		AuctionTimeout: cfg.Market.AuctionTimeout.Std(),
		MinBids:        cfg.Market.MinBids,
	}, custodian, ledger,
		market.WithJournal(journal),
		market.WithSinks(sinks...),
	)
	if err != nil {
		return err
	}
	b.Market = m

	// 6. Recovery: persisted settings, latest snapshot, journal tail
	if err := m.LoadSettings(ctx); err != nil {
		return err
	}
	snap, err := b.Snapshots.LoadLatest()
	if err != nil {
		return err
	}
	m.RestoreSnapshot(snap)
	if err := m.RecoverFromJournal(ctx); err != nil {
		return err
	}

	slog.Info("✅ Marketplace ready",
		slog.String("admin", cfg.Market.Admin),
		slog.Uint64("min_bids", m.MinBidsNumber()),
		slog.Duration("auction_timeout", m.AuctionTimeout()))
	return nil
}

// Shutdown snapshots the registry and releases resources.
func (b *Bootstrap) Shutdown() {
	if b.Market != nil && b.Snapshots != nil {
		if err := b.Snapshots.Save(b.Market.Snapshot()); err != nil {
			slog.Error("Failed to save snapshot", slog.Any("error", err))
		}
	}
	if b.Publisher != nil {
		b.Publisher.Close()
	}
	if b.Journal != nil {
		b.Journal.Close()
	}
	if b.unlock != nil {
		b.unlock()
	}
}
