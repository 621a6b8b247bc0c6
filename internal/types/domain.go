package types

import (
	"encoding/json"
	"time"
)

// TripSource identifies how a trip record entered the system.
type TripSource string

const (
	TripSourceManual    TripSource = "manual"
	TripSourceImported  TripSource = "imported"
	TripSourceAssistant TripSource = "assistant"
)

// Trip is a completed job. Imported trips may lack coordinates; the feature
// builder skips them when aggregating per-cell history.
type Trip struct {
	ID        string     `json:"id" db:"id"`
	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   time.Time  `json:"ended_at" db:"ended_at"`
	StartLat  *float64   `json:"start_lat,omitempty" db:"start_lat"`
	StartLon  *float64   `json:"start_lon,omitempty" db:"start_lon"`
	EndLat    *float64   `json:"end_lat,omitempty" db:"end_lat"`
	EndLon    *float64   `json:"end_lon,omitempty" db:"end_lon"`
	Earnings  float64    `json:"earnings" db:"earnings"`
	Note      string     `json:"note,omitempty" db:"note"`
	Source    TripSource `json:"source" db:"source"`
	SessionID *string    `json:"session_id,omitempty" db:"session_id"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// HasStart reports whether the trip carries start coordinates.
func (t *Trip) HasStart() bool {
	return t.StartLat != nil && t.StartLon != nil
}

// MinTripHours floors trip durations so that zero or near-zero durations
// cannot blow up earnings-per-hour math.
const MinTripHours = 0.1

// DurationHours returns the trip duration in hours, floored at MinTripHours.
func (t *Trip) DurationHours() float64 {
	h := t.EndedAt.Sub(t.StartedAt).Hours()
	if h < MinTripHours {
		return MinTripHours
	}
	return h
}

// Weights is the scoring weight vector. Travel and rain are cost terms and
// default to negative values.
type Weights struct {
	Internal float64 `json:"w_internal" db:"w_internal"`
	Recency  float64 `json:"w_recency" db:"w_recency"`
	POI      float64 `json:"w_poi" db:"w_poi"`
	Travel   float64 `json:"w_travel" db:"w_travel"`
	Rain     float64 `json:"w_rain" db:"w_rain"`
}

// Settings is the single process-wide configuration record, keyed "default"
// in the settings table. It is created with defaults on first access and
// mutated by user-facing edits and the weight updater.
type Settings struct {
	Key                 string    `json:"-" db:"key"`
	CostPerKm           float64   `json:"cost_per_km" db:"cost_per_km"`
	AvgSpeedKmh         float64   `json:"avg_speed_kmh" db:"avg_speed_kmh"`
	ExplorationRate     float64   `json:"exploration_rate" db:"exploration_rate"`
	PreferredResolution int       `json:"preferred_resolution" db:"preferred_resolution"`
	Weights             Weights   `json:"weights" db:"-"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultSettingsKey is the key of the singleton settings row.
const DefaultSettingsKey = "default"

// DefaultSettings returns the settings record used when none has been
// persisted. The exploration constants are defaults, not invariants; they
// have no documented derivation and should not be assumed optimal.
func DefaultSettings() Settings {
	return Settings{
		Key:                 DefaultSettingsKey,
		CostPerKm:           300,
		AvgSpeedKmh:         28,
		ExplorationRate:     0.08,
		PreferredResolution: 16,
		Weights:             DefaultWeights(),
	}
}

// DefaultWeights returns the baseline scoring weight vector.
func DefaultWeights() Weights {
	return Weights{
		Internal: 1.0,
		Recency:  0.5,
		POI:      0.25,
		Travel:   -0.6,
		Rain:     -0.2,
	}
}

// CellFeatures is the per-cell feature vector computed fresh on every
// recommendation request. It is derived-only and never persisted on its own;
// a copy rides along inside each Recommendation for the audit trail.
type CellFeatures struct {
	Cell           string  `json:"cell"`
	InternalEPH    float64 `json:"internal_eph"`
	InternalCount  int     `json:"internal_count"`
	RecencyScore   float64 `json:"recency_score"`
	POICount       int     `json:"poi_count"`
	RainRiskNext3h float64 `json:"rain_risk_next_3h"`
	TravelKm       float64 `json:"travel_km"`
	TravelCost     float64 `json:"travel_cost"`
	Hour           int     `json:"hour"`
	DayOfWeek      int     `json:"day_of_week"`
}

// Recommendation is one ranked waiting-spot candidate.
type Recommendation struct {
	Cell     string       `json:"cell"`
	Score    float64      `json:"score"`
	Reasons  []string     `json:"reasons"`
	Features CellFeatures `json:"features"`
}

// RecommendationEvent is the audit record for one recommendation batch.
// Write-once at creation; ChosenCell and Followed are patched later when the
// driver reports an outcome.
type RecommendationEvent struct {
	ID         string               `json:"id" db:"id"`
	CreatedAt  time.Time            `json:"created_at" db:"created_at"`
	Lat        float64              `json:"lat" db:"lat"`
	Lon        float64              `json:"lon" db:"lon"`
	AreaID     string               `json:"area_id" db:"area_id"`
	Items      []RecommendationItem `json:"items" db:"items"`
	ChosenCell *string              `json:"chosen_cell,omitempty" db:"chosen_cell"`
	Followed   *bool                `json:"followed,omitempty" db:"followed"`
}

// RecommendationItem is the compact per-cell entry stored inside a
// RecommendationEvent's items JSONB column.
type RecommendationItem struct {
	Cell    string   `json:"cell"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// WeatherSummary is the normalized weather signal payload: an hourly
// precipitation-probability series covering at least the next 3 hours.
type WeatherSummary struct {
	Hourly []HourlyPoint `json:"hourly"`
}

// HourlyPoint is one entry of the hourly forecast series.
// PrecipitationProbability is a percentage in [0, 100].
type HourlyPoint struct {
	Time                     time.Time `json:"time"`
	PrecipitationProbability float64   `json:"precipitation_probability"`
}

// POIPayload is the normalized POI signal payload for a bounding box.
type POIPayload struct {
	Points []POIPoint `json:"points"`
}

// POIPoint is a single point of interest.
type POIPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// SignalEntry is one persisted signal-cache record, keyed by a signal
// identifier such as "poi:<bbox>" or "weather:<lat>,<lon>". The payload is
// an opaque JSON document; staleness is computed at read time from FetchedAt
// and TTLSeconds, never stored.
type SignalEntry struct {
	Key              string          `json:"key" db:"key"`
	FetchedAt        time.Time       `json:"fetched_at" db:"fetched_at"`
	TTLSeconds       int             `json:"ttl_seconds" db:"ttl_seconds"`
	Payload          json.RawMessage `json:"payload" db:"payload"`
	LastErrorAt      *time.Time      `json:"last_error_at,omitempty" db:"last_error_at"`
	LastErrorMessage string          `json:"last_error_message,omitempty" db:"last_error_message"`
}

// SignalMeta is the provenance metadata returned with every successful signal
// read. UI layers render "data is N hours old" and "last refresh failed" from
// this without re-deriving cache logic.
type SignalMeta struct {
	Key              string     `json:"key"`
	AgeSeconds       int64      `json:"age_seconds"`
	Fresh            bool       `json:"fresh"`
	Stale            bool       `json:"stale"`
	FromCache        bool       `json:"from_cache"`
	LastErrorAt      *time.Time `json:"last_error_at,omitempty"`
	LastErrorMessage string     `json:"last_error_message,omitempty"`
}

// SignalOptions controls one signal read. AllowNetwork false signals offline
// operation: the cache may serve whatever it holds but must not fetch.
// ForceRefresh bypasses freshness and asks for a network fetch (cooldown
// still applies). AllowStale permits serving an expired entry without a
// refresh attempt.
type SignalOptions struct {
	AllowNetwork bool `json:"allow_network"`
	ForceRefresh bool `json:"force_refresh"`
	AllowStale   bool `json:"allow_stale"`
}

// SignalResult couples a signal payload with its provenance metadata.
type SignalResult struct {
	Payload json.RawMessage `json:"payload"`
	Meta    SignalMeta      `json:"meta"`
}

// BoundingBox is a lat/lon rectangle used for POI fetches and candidate
// generation. South/West form the minimum corner.
type BoundingBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Contains reports whether the point lies inside the box (inclusive).
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.South && lat <= b.North && lon >= b.West && lon <= b.East
}
