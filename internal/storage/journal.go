package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"github.com/maksimarefev/nft-marketplace/internal/event"
)

// Journal is the persistent, append-only record of marketplace events plus
// a small metadata KV table holding the mutable admin settings. SQLite in
// WAL mode, single writer.
type Journal struct {
	db *sql.DB
}

// NewJournal opens (or creates) the journal database at dbPath.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			type INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create events table: %w", err)
	}

	return &Journal{db: db}, nil
}

// SaveEvent appends an event to the journal, keyed by its sequence number.
func (j *Journal) SaveEvent(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = j.db.ExecContext(ctx,
		"INSERT INTO events (id, type, ts, payload) VALUES (?, ?, ?, ?)",
		ev.GetSeq(), ev.GetType(), ev.GetTs(), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// UpsertMetadata saves a key-value pair to the metadata table.
func (j *Journal) UpsertMetadata(ctx context.Context, key, value string, ts int64) error {
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		key, value, ts,
	)
	return err
}

// GetMetadata retrieves a value from the metadata table. A missing key
// reads as the empty string.
func (j *Journal) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := j.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// GetLastSeq returns the highest event sequence number stored, 0 if none.
func (j *Journal) GetLastSeq(ctx context.Context) (uint64, error) {
	var lastSeq sql.NullInt64
	err := j.db.QueryRowContext(ctx, "SELECT MAX(id) FROM events").Scan(&lastSeq)
	if err != nil {
		return 0, fmt.Errorf("failed to get last seq: %w", err)
	}
	if !lastSeq.Valid {
		return 0, nil
	}
	return uint64(lastSeq.Int64), nil
}

// LoadEvents loads events starting from fromSeq (inclusive), in sequence
// order. The registry is reconstructed from these on startup.
func (j *Journal) LoadEvents(ctx context.Context, fromSeq uint64) ([]event.Event, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT id, type, payload FROM events WHERE id >= ? ORDER BY id ASC",
		fromSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var id int64
		var evType int
		var payload []byte
		if err := rows.Scan(&id, &evType, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		ev, err := decodeEvent(event.Type(evType), payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode event %d: %w", id, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return events, nil
}

func decodeEvent(t event.Type, payload []byte) (event.Event, error) {
	switch t {
	case event.EvListed:
		var ev event.ListedEvent
		return &ev, json.Unmarshal(payload, &ev)
	case event.EvListedOnAuction:
		var ev event.ListedOnAuctionEvent
		return &ev, json.Unmarshal(payload, &ev)
	case event.EvBidderChanged:
		var ev event.BidderChangedEvent
		return &ev, json.Unmarshal(payload, &ev)
	case event.EvSold:
		var ev event.SoldEvent
		return &ev, json.Unmarshal(payload, &ev)
	case event.EvDelisted:
		var ev event.DelistedEvent
		return &ev, json.Unmarshal(payload, &ev)
	default:
		return nil, fmt.Errorf("unknown event type %d", t)
	}
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}
