package google

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"  // Static Maps may answer in GIF.
	_ "image/jpeg" // or JPEG.
	_ "image/png"
	"net/url"

	"github.com/CU-BIC/S3/internal/sampler"
)

// waterColor is the roadmap style's water fill.
var waterColor = [3]uint32{163, 203, 255}

// IsObstructed renders a 1x1 roadmap tile at zoom 20 centred on the point and
// reports whether its single pixel is water.
func (c *Client) IsObstructed(ctx context.Context, point sampler.Coordinate, credential string) (bool, error) {
	query := url.Values{}
	query.Set("center", formatLatLng(point.Lat, point.Lng))
	query.Set("zoom", "20")
	query.Set("size", "1x1")
	query.Set("maptype", "roadmap")

	resp, err := c.get(ctx, c.cfg.MapsURL+"/maps/api/staticmap", query, credential)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return false, fmt.Errorf("decode static map: %w", err)
	}
	b := img.Bounds()
	if b.Empty() {
		return false, fmt.Errorf("static map is empty")
	}
	r, g, bl, _ := img.At(b.Min.X, b.Min.Y).RGBA()
	return r>>8 == waterColor[0] && g>>8 == waterColor[1] && bl>>8 == waterColor[2], nil
}
