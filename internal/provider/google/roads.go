package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/CU-BIC/S3/internal/geo"
	"github.com/CU-BIC/S3/internal/sampler"
)

// MaxSnapPoints is the Roads API limit per nearestRoads request.
const MaxSnapPoints = 100

type nearestRoadsResponse struct {
	SnappedPoints []struct {
		Location struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"location"`
		OriginalIndex *int   `json:"originalIndex"`
		PlaceID       string `json:"placeId"`
	} `json:"snappedPoints"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Snap maps each point to its nearest road. Points with no nearby road are
// absent from the result; a point may appear more than once.
func (c *Client) Snap(ctx context.Context, points []sampler.Coordinate, credential string) ([]sampler.SnapResult, error) {
	if len(points) == 0 {
		return nil, nil
	}
	if len(points) > MaxSnapPoints {
		return nil, fmt.Errorf("snap: %d points exceeds the %d point limit", len(points), MaxSnapPoints)
	}
	encoded := make([]string, len(points))
	for i, p := range points {
		encoded[i] = formatLatLng(p.Lat, p.Lng)
	}
	query := url.Values{}
	query.Set("points", strings.Join(encoded, "|"))

	resp, err := c.get(ctx, c.cfg.RoadsURL+"/v1/nearestRoads", query, credential)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var payload nearestRoadsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode nearestRoads: %w", err)
	}
	if payload.Error != nil {
		if isQuotaStatus(payload.Error.Status) {
			return nil, fmt.Errorf("nearestRoads %s: %w", payload.Error.Status, sampler.ErrQuotaExceeded)
		}
		return nil, fmt.Errorf("nearestRoads %s: %s", payload.Error.Status, payload.Error.Message)
	}

	results := make([]sampler.SnapResult, 0, len(payload.SnappedPoints))
	for _, sp := range payload.SnappedPoints {
		if sp.OriginalIndex == nil {
			continue
		}
		snapped := geo.LatLng{Lat: sp.Location.Latitude, Lng: sp.Location.Longitude}
		results = append(results, sampler.SnapResult{OriginalIndex: *sp.OriginalIndex, Snapped: &snapped})
	}
	return results, nil
}
