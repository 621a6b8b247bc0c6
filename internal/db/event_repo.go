package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"ngetem/internal/types"
)

// EventRepository provides data access for the recommendation_events table,
// the audit trail of what was recommended and what the driver did with it.
// Items are stored as a JSONB column; chosen_cell and followed start NULL and
// are patched once by RecordOutcome.
type EventRepository struct {
	db DBTX
}

// NewEventRepository creates an EventRepository backed by the given database
// connection (pool or transaction).
func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

var _ types.EventRepository = (*EventRepository)(nil)

// Create inserts a new recommendation event. The caller must set the ID
// (prefixed UUID, e.g. "rec_...") before calling.
func (r *EventRepository) Create(ctx context.Context, event *types.RecommendationEvent) error {
	items, err := json.Marshal(event.Items)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal event items", err)
	}
	row := r.db.QueryRow(ctx,
		`INSERT INTO recommendation_events (id, created_at, lat, lon, area_id, items)
		 VALUES ($1, COALESCE($2, NOW()), $3, $4, $5, $6)
		 RETURNING created_at`,
		event.ID,
		nilIfZeroTime(event.CreatedAt),
		event.Lat,
		event.Lon,
		event.AreaID,
		items,
	)
	if err := row.Scan(&event.CreatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create recommendation event", err)
	}
	return nil
}

// GetByID fetches one event. Returns not_found_recommendation_event when absent.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*types.RecommendationEvent, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, created_at, lat, lon, area_id, items, chosen_cell, followed
		 FROM recommendation_events WHERE id = $1`,
		id,
	)

	var event types.RecommendationEvent
	var items []byte
	if err := row.Scan(
		&event.ID,
		&event.CreatedAt,
		&event.Lat,
		&event.Lon,
		&event.AreaID,
		&items,
		&event.ChosenCell,
		&event.Followed,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundEvent, "recommendation event not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get recommendation event", err)
	}
	if err := json.Unmarshal(items, &event.Items); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to unmarshal event items", err)
	}
	return &event, nil
}

// RecordOutcome patches the chosen cell and followed flag onto an event.
// The patch is one-shot: a second outcome for the same event conflicts.
func (r *EventRepository) RecordOutcome(ctx context.Context, id string, chosenCell string, followed bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE recommendation_events
		 SET chosen_cell = $2, followed = $3
		 WHERE id = $1 AND chosen_cell IS NULL`,
		id, chosenCell, followed,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record outcome", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the event does not exist or an outcome was already recorded.
		existing, gerr := r.GetByID(ctx, id)
		if gerr != nil {
			return gerr
		}
		if existing.ChosenCell != nil {
			return types.NewAppError(types.ErrCodeConflictOutcomeRecorded, "outcome already recorded for event", nil)
		}
		return types.NewAppError(types.ErrCodeNotFoundEvent, "recommendation event not found", nil)
	}
	return nil
}
