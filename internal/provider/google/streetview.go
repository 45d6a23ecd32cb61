package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/CU-BIC/S3/internal/geo"
	"github.com/CU-BIC/S3/internal/sampler"
)

type metadataResponse struct {
	Status   string `json:"status"`
	PanoID   string `json:"pano_id"`
	Location struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
	Date         string `json:"date"`
	Copyright    string `json:"copyright"`
	ErrorMessage string `json:"error_message"`
}

// Lookup queries Street View metadata for the nearest panorama within
// radiusMeters. ZERO_RESULTS and NOT_FOUND mean no imagery.
func (c *Client) Lookup(ctx context.Context, point geo.LatLng, radiusMeters float64, credential string) (*sampler.PanoramaRecord, error) {
	query := url.Values{}
	query.Set("location", formatLatLng(point.Lat, point.Lng))
	query.Set("radius", strconv.FormatFloat(radiusMeters, 'f', -1, 64))

	resp, err := c.get(ctx, c.cfg.MapsURL+"/maps/api/streetview/metadata", query, credential)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var meta metadataResponse
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode streetview metadata: %w", err)
	}
	switch {
	case meta.Status == "OK":
		return &sampler.PanoramaRecord{
			PanoID:    meta.PanoID,
			Location:  geo.LatLng{Lat: meta.Location.Lat, Lng: meta.Location.Lng},
			Date:      meta.Date,
			Copyright: meta.Copyright,
		}, nil
	case meta.Status == "ZERO_RESULTS" || meta.Status == "NOT_FOUND":
		return nil, nil
	case isQuotaStatus(meta.Status):
		return nil, fmt.Errorf("streetview metadata %s: %w", meta.Status, sampler.ErrQuotaExceeded)
	default:
		return nil, fmt.Errorf("streetview metadata %s: %s", meta.Status, meta.ErrorMessage)
	}
}

// Fetch streams one Street View image at heading. The caller closes it.
func (c *Client) Fetch(ctx context.Context, point geo.LatLng, heading float64, credential string) (io.ReadCloser, error) {
	query := url.Values{}
	query.Set("size", fmt.Sprintf("%dx%d", c.cfg.ImageWidth, c.cfg.ImageHeight))
	query.Set("location", formatLatLng(point.Lat, point.Lng))
	query.Set("heading", strconv.FormatFloat(heading, 'f', -1, 64))
	query.Set("fov", strconv.FormatFloat(c.cfg.FOV, 'f', -1, 64))
	query.Set("pitch", strconv.FormatFloat(c.cfg.Pitch, 'f', -1, 64))

	resp, err := c.get(ctx, c.cfg.MapsURL+"/maps/api/streetview", query, credential)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
