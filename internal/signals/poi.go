package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ngetem/internal/types"
)

// POITTL is the freshness window for POI cache entries. POI density moves
// slowly; six hours keeps offline sessions useful without going blind.
const POITTL = 6 * time.Hour

// maxPOIResponseBytes caps the upstream response size (8 MB). A dense urban
// bbox can return a lot of elements.
const maxPOIResponseBytes = 8 << 20

// POIClient fetches points of interest from an Overpass-style API.
type POIClient struct {
	client   *Client
	endpoint string
}

// NewPOIClient creates a POIClient against the given Overpass endpoint.
func NewPOIClient(client *Client, endpoint string) *POIClient {
	return &POIClient{client: client, endpoint: endpoint}
}

// overpassResponse is the subset of the Overpass JSON output we consume.
type overpassResponse struct {
	Elements []struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
		// Ways and relations carry a center instead of lat/lon.
		Center *struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"center,omitempty"`
	} `json:"elements"`
}

// Fetch queries amenity nodes inside the bounding box and normalizes them to
// a POIPayload.
func (p *POIClient) Fetch(ctx context.Context, bbox types.BoundingBox) (*types.POIPayload, error) {
	query := fmt.Sprintf(
		`[out:json][timeout:10];node["amenity"](%f,%f,%f,%f);out center;`,
		bbox.South, bbox.West, bbox.North, bbox.East,
	)

	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building poi request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamPOI, "poi upstream unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamPOI,
			fmt.Sprintf("poi upstream returned %d", resp.StatusCode),
			nil,
		)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPOIResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading poi response: %w", err)
	}

	var parsed overpassResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamPOI, "poi upstream returned malformed JSON", err)
	}

	payload := &types.POIPayload{Points: make([]types.POIPoint, 0, len(parsed.Elements))}
	for _, el := range parsed.Elements {
		lat, lon := el.Lat, el.Lon
		if el.Center != nil {
			lat, lon = el.Center.Lat, el.Center.Lon
		}
		if lat == 0 && lon == 0 {
			continue
		}
		payload.Points = append(payload.Points, types.POIPoint{Lat: lat, Lon: lon})
	}
	return payload, nil
}

// CachedPOIProvider serves POI payloads through the signal cache.
type CachedPOIProvider struct {
	cache  *Cache
	client *POIClient
	ttl    time.Duration
}

// NewCachedPOIProvider wires a POIClient behind the Cache.
func NewCachedPOIProvider(cache *Cache, client *POIClient) *CachedPOIProvider {
	return &CachedPOIProvider{cache: cache, client: client, ttl: POITTL}
}

// POIKey builds the cache key for a bounding box, rounded to three decimal
// places (roughly 100 m) so nearby requests share an entry.
func POIKey(bbox types.BoundingBox) string {
	return fmt.Sprintf("poi:%.3f,%.3f,%.3f,%.3f", bbox.South, bbox.West, bbox.North, bbox.East)
}

// GetPOI reads the POI signal for the bbox through the cache, fetching from
// the upstream when the cache allows it.
func (p *CachedPOIProvider) GetPOI(ctx context.Context, bbox types.BoundingBox, opts types.SignalOptions) (*types.POIPayload, types.SignalMeta, error) {
	result, err := p.cache.GetOrFetch(ctx, POIKey(bbox), p.ttl, opts, func(ctx context.Context) (json.RawMessage, error) {
		payload, ferr := p.client.Fetch(ctx, bbox)
		if ferr != nil {
			return nil, ferr
		}
		return json.Marshal(payload)
	})
	if err != nil {
		return nil, types.SignalMeta{}, err
	}

	var payload types.POIPayload
	if err := json.Unmarshal(result.Payload, &payload); err != nil {
		return nil, types.SignalMeta{}, types.NewAppError(
			types.ErrCodeUpstreamPOI,
			"cached poi payload is malformed",
			err,
		)
	}
	return &payload, result.Meta, nil
}
