package output

import (
	"bytes"
	"fmt"
	"image/color"
	"strings"

	"github.com/twpayne/go-kml/v2"

	"github.com/CU-BIC/S3/internal/geo"
	"github.com/CU-BIC/S3/internal/sampler"
)

var (
	panoramaStyle = kml.SharedStyle("panorama", kml.IconStyle(kml.Color(color.RGBA{R: 0, G: 160, B: 0, A: 255})))
	noImageStyle  = kml.SharedStyle("no-imagery", kml.IconStyle(kml.Color(color.RGBA{R: 230, G: 160, B: 0, A: 255})))
	rejectedStyle = kml.SharedStyle("rejected", kml.IconStyle(kml.Color(color.RGBA{R: 200, G: 0, B: 0, A: 255})))
)

// EncodeKML renders three folders: points with imagery at the panorama
// location, processed points without imagery, and rejected grid points.
func EncodeKML(summary sampler.Summary) ([]byte, error) {
	var withImagery, without, rejected []kml.Element
	for _, c := range summary.Processed {
		if pano, ok := c.Panorama(); ok {
			withImagery = append(withImagery, placemark(pano.PanoID, panoramaDescription(pano), "#panorama", pano.Location))
			continue
		}
		at := c.LatLng()
		if s, ok := c.Snapped(); ok {
			at = s
		}
		without = append(without, placemark(c.String(), "no imagery within search radius", "#no-imagery", at))
	}
	for _, c := range summary.Rejected {
		rejected = append(rejected, placemark(c.String(), rejectionReason(c), "#rejected", c.LatLng()))
	}

	doc := kml.KML(
		kml.Document(
			kml.Name("S3 samples "+summary.RunID),
			kml.Description(fmt.Sprintf("status %s, %d processed, %d rejected", summary.Status, len(summary.Processed), len(summary.Rejected))),
			panoramaStyle,
			noImageStyle,
			rejectedStyle,
			kml.Folder(append([]kml.Element{kml.Name("Panoramas")}, withImagery...)...),
			kml.Folder(append([]kml.Element{kml.Name("Without imagery")}, without...)...),
			kml.Folder(append([]kml.Element{kml.Name("Rejected")}, rejected...)...),
		),
	)
	var buf bytes.Buffer
	if err := doc.WriteIndent(&buf, "", "  "); err != nil {
		return nil, fmt.Errorf("encode kml: %w", err)
	}
	return buf.Bytes(), nil
}

func placemark(name, description, style string, at geo.LatLng) kml.Element {
	return kml.Placemark(
		kml.Name(name),
		kml.Description(description),
		kml.StyleURL(style),
		kml.Point(kml.Coordinates(kml.Coordinate{Lon: at.Lng, Lat: at.Lat})),
	)
}

func panoramaDescription(p sampler.PanoramaRecord) string {
	parts := []string{}
	if p.Date != "" {
		parts = append(parts, "captured "+p.Date)
	}
	for _, img := range p.Images {
		parts = append(parts, img.URI)
	}
	return strings.Join(parts, "\n")
}

func rejectionReason(c sampler.Coordinate) string {
	if v, ok := c.InPolygon(); ok && !v {
		return "outside region"
	}
	if v, ok := c.InWater(); ok && v {
		return "obstructed"
	}
	return "rejected"
}
