package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"ngetem/internal/types"
)

// WeatherTTL is the freshness window for weather cache entries. Rain risk
// over a 3-hour horizon goes stale quickly.
const WeatherTTL = 30 * time.Minute

// weatherForecastHours is how far ahead the hourly series is requested.
// Comfortably beyond the 3-hour scoring window so clock skew cannot empty it.
const weatherForecastHours = 6

const maxWeatherResponseBytes = 1 << 20

// WeatherClient fetches hourly precipitation probability from an
// Open-Meteo-style forecast API.
type WeatherClient struct {
	client   *Client
	endpoint string
}

// NewWeatherClient creates a WeatherClient against the given forecast endpoint.
func NewWeatherClient(client *Client, endpoint string) *WeatherClient {
	return &WeatherClient{client: client, endpoint: endpoint}
}

// openMeteoResponse is the subset of the forecast output we consume. Times
// arrive as ISO-8601 strings without zone; the request pins timezone=UTC.
type openMeteoResponse struct {
	Hourly struct {
		Time                     []string  `json:"time"`
		PrecipitationProbability []float64 `json:"precipitation_probability"`
	} `json:"hourly"`
}

// Fetch retrieves the hourly series for a coordinate and normalizes it to a
// WeatherSummary.
func (w *WeatherClient) Fetch(ctx context.Context, lat, lon float64) (*types.WeatherSummary, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", lat))
	q.Set("longitude", fmt.Sprintf("%.4f", lon))
	q.Set("hourly", "precipitation_probability")
	q.Set("forecast_hours", fmt.Sprintf("%d", weatherForecastHours))
	q.Set("timezone", "UTC")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building weather request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamWeather, "weather upstream unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamWeather,
			fmt.Sprintf("weather upstream returned %d", resp.StatusCode),
			nil,
		)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWeatherResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading weather response: %w", err)
	}

	var parsed openMeteoResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamWeather, "weather upstream returned malformed JSON", err)
	}

	summary := &types.WeatherSummary{}
	for i, ts := range parsed.Hourly.Time {
		if i >= len(parsed.Hourly.PrecipitationProbability) {
			break
		}
		t, perr := time.ParseInLocation("2006-01-02T15:04", ts, time.UTC)
		if perr != nil {
			// Some deployments return full RFC 3339 timestamps.
			t, perr = time.Parse(time.RFC3339, ts)
			if perr != nil {
				continue
			}
		}
		summary.Hourly = append(summary.Hourly, types.HourlyPoint{
			Time:                     t,
			PrecipitationProbability: parsed.Hourly.PrecipitationProbability[i],
		})
	}
	return summary, nil
}

// CachedWeatherProvider serves weather payloads through the signal cache.
type CachedWeatherProvider struct {
	cache  *Cache
	client *WeatherClient
	ttl    time.Duration
}

// NewCachedWeatherProvider wires a WeatherClient behind the Cache.
func NewCachedWeatherProvider(cache *Cache, client *WeatherClient) *CachedWeatherProvider {
	return &CachedWeatherProvider{cache: cache, client: client, ttl: WeatherTTL}
}

// WeatherKey builds the cache key for a coordinate, rounded to two decimal
// places (roughly 1 km) so nearby requests share an entry.
func WeatherKey(lat, lon float64) string {
	return fmt.Sprintf("weather:%.2f,%.2f", lat, lon)
}

// GetWeather reads the weather signal for the coordinate through the cache.
func (p *CachedWeatherProvider) GetWeather(ctx context.Context, lat, lon float64, opts types.SignalOptions) (*types.WeatherSummary, types.SignalMeta, error) {
	result, err := p.cache.GetOrFetch(ctx, WeatherKey(lat, lon), p.ttl, opts, func(ctx context.Context) (json.RawMessage, error) {
		summary, ferr := p.client.Fetch(ctx, lat, lon)
		if ferr != nil {
			return nil, ferr
		}
		return json.Marshal(summary)
	})
	if err != nil {
		return nil, types.SignalMeta{}, err
	}

	var summary types.WeatherSummary
	if err := json.Unmarshal(result.Payload, &summary); err != nil {
		return nil, types.SignalMeta{}, types.NewAppError(
			types.ErrCodeUpstreamWeather,
			"cached weather payload is malformed",
			err,
		)
	}
	return &summary, result.Meta, nil
}
