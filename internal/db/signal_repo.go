package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/klauspost/compress/zstd"

	"ngetem/internal/types"
)

// SignalRepository provides data access for the signal_cache table.
// Payloads (POI dumps for a dense bbox run to megabytes) are zstd-compressed
// in the bytea column and transparently decompressed on read.
type SignalRepository struct {
	db      DBTX
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewSignalRepository creates a SignalRepository backed by the given database
// connection (pool or transaction).
func NewSignalRepository(db DBTX) (*SignalRepository, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &SignalRepository{db: db, encoder: enc, decoder: dec}, nil
}

var _ types.SignalStore = (*SignalRepository)(nil)

const signalSelect = `SELECT key, fetched_at, ttl_seconds, payload,
	last_error_at, last_error_message
	FROM signal_cache`

// Get returns the entry for a key, or (nil, nil) when absent. Absence is a
// normal cache state, not an error.
func (r *SignalRepository) Get(ctx context.Context, key string) (*types.SignalEntry, error) {
	row := r.db.QueryRow(ctx, signalSelect+` WHERE key = $1`, key)
	entry, err := r.scanSignal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get signal entry", err)
	}
	return entry, nil
}

// Put upserts an entry, replacing the payload and clearing any error state.
// This is the success path of a fetch: the new payload supersedes both the
// old payload and the old failure history.
func (r *SignalRepository) Put(ctx context.Context, entry *types.SignalEntry) error {
	compressed := r.encoder.EncodeAll(entry.Payload, nil)
	_, err := r.db.Exec(ctx,
		`INSERT INTO signal_cache (key, fetched_at, ttl_seconds, payload, last_error_at, last_error_message)
		 VALUES ($1, $2, $3, $4, NULL, '')
		 ON CONFLICT (key) DO UPDATE SET
		 fetched_at = EXCLUDED.fetched_at,
		 ttl_seconds = EXCLUDED.ttl_seconds,
		 payload = EXCLUDED.payload,
		 last_error_at = NULL,
		 last_error_message = ''`,
		entry.Key,
		entry.FetchedAt,
		entry.TTLSeconds,
		compressed,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to put signal entry", err)
	}
	return nil
}

// SetError patches error metadata onto an existing entry without touching
// the payload or fetch timestamp.
func (r *SignalRepository) SetError(ctx context.Context, key string, at time.Time, message string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE signal_cache SET last_error_at = $2, last_error_message = $3 WHERE key = $1`,
		key, at, message,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set signal error", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSignal, "signal entry not found", nil)
	}
	return nil
}

// ListExpiring returns entries whose freshness window ends within the given
// horizon (including already-expired entries), oldest expiry first. The
// background refresher uses this to re-warm the cache before staleness bites.
func (r *SignalRepository) ListExpiring(ctx context.Context, now time.Time, horizon time.Duration, limit int) ([]types.SignalEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT key, fetched_at, ttl_seconds, payload, last_error_at, last_error_message
		 FROM signal_cache
		 WHERE fetched_at + make_interval(secs => ttl_seconds) <= $1
		 ORDER BY fetched_at + make_interval(secs => ttl_seconds) ASC
		 LIMIT $2`,
		now.Add(horizon), limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list expiring signals", err)
	}
	defer rows.Close()

	var entries []types.SignalEntry
	for rows.Next() {
		entry, serr := r.scanSignal(rows)
		if serr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan signal entry", serr)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate signal entries", err)
	}
	return entries, nil
}

// Delete removes an entry by key. Deleting an absent key is a no-op.
func (r *SignalRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM signal_cache WHERE key = $1`, key); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete signal entry", err)
	}
	return nil
}

func (r *SignalRepository) scanSignal(row pgx.Row) (*types.SignalEntry, error) {
	var entry types.SignalEntry
	var compressed []byte
	if err := row.Scan(
		&entry.Key,
		&entry.FetchedAt,
		&entry.TTLSeconds,
		&compressed,
		&entry.LastErrorAt,
		&entry.LastErrorMessage,
	); err != nil {
		return nil, err
	}

	payload, err := r.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing payload for %s: %w", entry.Key, err)
	}
	entry.Payload = json.RawMessage(payload)
	return &entry, nil
}
