// Package output turns committed batches and the final summary into run
// artifacts and events.
package output

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path"
	"strconv"

	"go.uber.org/zap"

	"github.com/CU-BIC/S3/internal/geo"
	"github.com/CU-BIC/S3/internal/logging"
	"github.com/CU-BIC/S3/internal/sampler"
)

// Artifact names written by ArtifactSink.Finalize.
const (
	SummaryFile   = "output.json"
	CSVFile       = "output.csv"
	PanoramasFile = "panoramas.json"
	KMLFile       = "samples.kml"
)

// CSVHeader is the column order of output.csv.
var CSVHeader = []string{
	"original_latitude",
	"original_longitude",
	"within_region",
	"in_water",
	"snapped_latitude",
	"snapped_longitude",
	"streetview_available",
}

// ArtifactSink writes one JSON file per committed batch and the final
// artifacts through a BlobStore.
type ArtifactSink struct {
	blobs  sampler.BlobStore
	prefix string
	logger *zap.Logger
}

// NewArtifactSink writes under prefix inside blobs.
func NewArtifactSink(blobs sampler.BlobStore, prefix string, logger *zap.Logger) *ArtifactSink {
	return &ArtifactSink{blobs: blobs, prefix: prefix, logger: logging.OrNop(logger)}
}

// PersistBatch writes batches/batch_<sequence>.json.
func (s *ArtifactSink) PersistBatch(ctx context.Context, record sampler.BatchRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal batch %d: %w", record.Sequence, err)
	}
	name := fmt.Sprintf("batches/batch_%05d.json", record.Sequence)
	if _, err := s.put(ctx, name, "application/json", data); err != nil {
		return err
	}
	return nil
}

// Finalize writes the summary, CSV, panorama list, and KML map.
func (s *ArtifactSink) Finalize(ctx context.Context, summary sampler.Summary) error {
	summaryJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	csvData, err := EncodeCSV(summary)
	if err != nil {
		return err
	}
	panoJSON, err := json.MarshalIndent(Panoramas(summary.Processed), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal panoramas: %w", err)
	}
	kmlData, err := EncodeKML(summary)
	if err != nil {
		return err
	}

	files := []struct {
		name, contentType string
		data              []byte
	}{
		{SummaryFile, "application/json", summaryJSON},
		{CSVFile, "text/csv", csvData},
		{PanoramasFile, "application/json", panoJSON},
		{KMLFile, "application/vnd.google-earth.kml+xml", kmlData},
	}
	for _, f := range files {
		uri, err := s.put(ctx, f.name, f.contentType, f.data)
		if err != nil {
			return err
		}
		s.logger.Info("artifact written", zap.String("run_id", summary.RunID), zap.String("uri", uri))
	}
	return nil
}

func (s *ArtifactSink) put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	full := name
	if s.prefix != "" {
		full = path.Join(s.prefix, name)
	}
	uri, err := s.blobs.PutObject(ctx, full, contentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("write %s: %w", full, err)
	}
	return uri, nil
}

// EncodeCSV renders processed then rejected points, one row each. Unset
// fields are empty cells.
func EncodeCSV(summary sampler.Summary) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(CSVHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, group := range [][]sampler.Coordinate{summary.Processed, summary.Rejected} {
		for _, c := range group {
			if err := w.Write(csvRow(c)); err != nil {
				return nil, fmt.Errorf("write csv row: %w", err)
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func csvRow(c sampler.Coordinate) []string {
	row := []string{formatFloat(c.Lat), formatFloat(c.Lng), "", "", "", "", "false"}
	if v, ok := c.InPolygon(); ok {
		row[2] = strconv.FormatBool(v)
	}
	if v, ok := c.InWater(); ok {
		row[3] = strconv.FormatBool(v)
	}
	if v, ok := c.Snapped(); ok {
		row[4], row[5] = formatFloat(v.Lat), formatFloat(v.Lng)
	}
	if _, ok := c.Panorama(); ok {
		row[6] = "true"
	}
	return row
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// PanoramaEntry ties a panorama to the grid point it was found from.
type PanoramaEntry struct {
	Original geo.LatLng             `json:"original"`
	Snapped  *geo.LatLng            `json:"snapped,omitempty"`
	Panorama sampler.PanoramaRecord `json:"panorama"`
}

// Panoramas lists every processed point that has imagery, in commit order.
func Panoramas(processed []sampler.Coordinate) []PanoramaEntry {
	out := make([]PanoramaEntry, 0, len(processed))
	for _, c := range processed {
		pano, ok := c.Panorama()
		if !ok {
			continue
		}
		entry := PanoramaEntry{Original: c.LatLng(), Panorama: pano}
		if s, ok := c.Snapped(); ok {
			entry.Snapped = &s
		}
		out = append(out, entry)
	}
	return out
}
