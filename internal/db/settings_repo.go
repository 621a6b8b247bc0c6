package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"ngetem/internal/types"
)

// SettingsRepository provides data access for the singleton settings row.
// The row is keyed "default" and created lazily on first read, so callers
// never observe a missing-settings state.
type SettingsRepository struct {
	db DBTX
}

// NewSettingsRepository creates a SettingsRepository backed by the given
// database connection (pool or transaction).
func NewSettingsRepository(db DBTX) *SettingsRepository {
	return &SettingsRepository{db: db}
}

var _ types.SettingsRepository = (*SettingsRepository)(nil)

const settingsSelect = `SELECT key, cost_per_km, avg_speed_kmh, exploration_rate,
	preferred_resolution, w_internal, w_recency, w_poi, w_travel, w_rain, updated_at
	FROM settings`

// Get returns the settings record, inserting the defaults first if no row
// exists yet. The insert uses ON CONFLICT DO NOTHING so two concurrent first
// reads cannot race into an error.
func (r *SettingsRepository) Get(ctx context.Context) (*types.Settings, error) {
	row := r.db.QueryRow(ctx, settingsSelect+` WHERE key = $1`, types.DefaultSettingsKey)
	s, err := scanSettings(row)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get settings", err)
	}

	defaults := types.DefaultSettings()
	if _, ierr := r.db.Exec(ctx,
		`INSERT INTO settings
		 (key, cost_per_km, avg_speed_kmh, exploration_rate, preferred_resolution,
		  w_internal, w_recency, w_poi, w_travel, w_rain, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		 ON CONFLICT (key) DO NOTHING`,
		defaults.Key,
		defaults.CostPerKm,
		defaults.AvgSpeedKmh,
		defaults.ExplorationRate,
		defaults.PreferredResolution,
		defaults.Weights.Internal,
		defaults.Weights.Recency,
		defaults.Weights.POI,
		defaults.Weights.Travel,
		defaults.Weights.Rain,
	); ierr != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to seed default settings", ierr)
	}

	row = r.db.QueryRow(ctx, settingsSelect+` WHERE key = $1`, types.DefaultSettingsKey)
	s, err = scanSettings(row)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read seeded settings", err)
	}
	return s, nil
}

// Update overwrites the user-editable fields and the weight vector.
func (r *SettingsRepository) Update(ctx context.Context, s *types.Settings) error {
	row := r.db.QueryRow(ctx,
		`UPDATE settings SET
		 cost_per_km = $2, avg_speed_kmh = $3, exploration_rate = $4,
		 preferred_resolution = $5, w_internal = $6, w_recency = $7,
		 w_poi = $8, w_travel = $9, w_rain = $10, updated_at = NOW()
		 WHERE key = $1
		 RETURNING updated_at`,
		types.DefaultSettingsKey,
		s.CostPerKm,
		s.AvgSpeedKmh,
		s.ExplorationRate,
		s.PreferredResolution,
		s.Weights.Internal,
		s.Weights.Recency,
		s.Weights.POI,
		s.Weights.Travel,
		s.Weights.Rain,
	)
	if err := row.Scan(&s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.NewAppError(types.ErrCodeNotFoundSettings, "settings row missing", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update settings", err)
	}
	s.Key = types.DefaultSettingsKey
	return nil
}

// UpdateWeights persists a new weight vector in a single statement, so
// concurrent weight updates serialize at the database rather than racing a
// read-modify-write in process. Returns the full updated record.
func (r *SettingsRepository) UpdateWeights(ctx context.Context, w types.Weights) (*types.Settings, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE settings SET
		 w_internal = $2, w_recency = $3, w_poi = $4, w_travel = $5, w_rain = $6,
		 updated_at = NOW()
		 WHERE key = $1
		 RETURNING key, cost_per_km, avg_speed_kmh, exploration_rate,
		 preferred_resolution, w_internal, w_recency, w_poi, w_travel, w_rain, updated_at`,
		types.DefaultSettingsKey,
		w.Internal,
		w.Recency,
		w.POI,
		w.Travel,
		w.Rain,
	)
	s, err := scanSettings(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSettings, "settings row missing", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update weights", err)
	}
	return s, nil
}

func scanSettings(row pgx.Row) (*types.Settings, error) {
	var s types.Settings
	if err := row.Scan(
		&s.Key,
		&s.CostPerKm,
		&s.AvgSpeedKmh,
		&s.ExplorationRate,
		&s.PreferredResolution,
		&s.Weights.Internal,
		&s.Weights.Recency,
		&s.Weights.POI,
		&s.Weights.Travel,
		&s.Weights.Rain,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}
