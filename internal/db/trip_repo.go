package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"ngetem/internal/types"
)

// TripRepository provides data access for the trips table.
type TripRepository struct {
	db DBTX
}

// NewTripRepository creates a TripRepository backed by the given database
// connection (pool or transaction).
func NewTripRepository(db DBTX) *TripRepository {
	return &TripRepository{db: db}
}

var _ types.TripRepository = (*TripRepository)(nil)

// Create inserts a new trip. The caller must set the ID (prefixed UUID,
// e.g. "trip_...") and required fields before calling.
func (r *TripRepository) Create(ctx context.Context, t *types.Trip) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO trips
		 (id, started_at, ended_at, start_lat, start_lon, end_lat, end_lon,
		  earnings, note, source, session_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, NOW()))
		 RETURNING created_at`,
		t.ID,
		t.StartedAt,
		t.EndedAt,
		t.StartLat,
		t.StartLon,
		t.EndLat,
		t.EndLon,
		t.Earnings,
		t.Note,
		string(t.Source),
		t.SessionID,
		nilIfZeroTime(t.CreatedAt),
	)
	if err := row.Scan(&t.CreatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create trip", err)
	}
	return nil
}

// GetByID fetches a single trip. Returns not_found_trip when absent.
func (r *TripRepository) GetByID(ctx context.Context, id string) (*types.Trip, error) {
	row := r.db.QueryRow(ctx, tripSelect+` WHERE id = $1`, id)
	t, err := scanTrip(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTrip, "trip not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get trip", err)
	}
	return t, nil
}

// GetAll returns the full trip history, most recent first. The feature
// builder filters per cell itself, so no spatial predicate here.
func (r *TripRepository) GetAll(ctx context.Context) ([]types.Trip, error) {
	rows, err := r.db.Query(ctx, tripSelect+` ORDER BY started_at DESC`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list trips", err)
	}
	defer rows.Close()

	var trips []types.Trip
	for rows.Next() {
		t, serr := scanTrip(rows)
		if serr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan trip", serr)
		}
		trips = append(trips, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate trips", err)
	}
	return trips, nil
}

// Delete removes a trip by id. Returns not_found_trip when nothing matched.
func (r *TripRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM trips WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete trip", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTrip, "trip not found", nil)
	}
	return nil
}

const tripSelect = `SELECT id, started_at, ended_at, start_lat, start_lon,
	end_lat, end_lon, earnings, note, source, session_id, created_at
	FROM trips`

func scanTrip(row pgx.Row) (*types.Trip, error) {
	var t types.Trip
	var source string
	if err := row.Scan(
		&t.ID,
		&t.StartedAt,
		&t.EndedAt,
		&t.StartLat,
		&t.StartLon,
		&t.EndLat,
		&t.EndLon,
		&t.Earnings,
		&t.Note,
		&source,
		&t.SessionID,
		&t.CreatedAt,
	); err != nil {
		return nil, err
	}
	t.Source = types.TripSource(source)
	return &t, nil
}
