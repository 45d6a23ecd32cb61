package boundary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CU-BIC/S3/internal/geo"
	"github.com/CU-BIC/S3/internal/sampler"
)

const nominatim = `[
  {"display_name": "Elsewhere", "boundingbox": ["0","1","0","1"],
   "geojson": {"type": "Point", "coordinates": [0.5, 0.5]}},
  {"display_name": "Ottawa, Ontario, Canada",
   "boundingbox": ["45.0000000", "45.0100000", "-75.0100000", "-75.0000000"],
   "geojson": {"type": "MultiPolygon", "coordinates": [
     [[[-75.01, 45.0], [-75.0, 45.0], [-75.0, 45.01], [-75.01, 45.01], [-75.01, 45.0]],
      [[-75.006, 45.004], [-75.004, 45.004], [-75.004, 45.006], [-75.006, 45.006], [-75.006, 45.004]]],
     [[[-75.001, 45.0], [-75.0, 45.0], [-75.0, 45.001], [-75.001, 45.0]]]
   ]}}
]`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadNominatimPicksIndexAndLargestPolygon(t *testing.T) {
	t.Parallel()

	region, err := Load(writeFile(t, "city.json", nominatim), 1)
	require.NoError(t, err)

	assert.Equal(t, sampler.BoundingBox{MinLat: 45.0, MaxLat: 45.01, MinLng: -75.01, MaxLng: -75.0}, region.BoundingBox())
	assert.Len(t, region.Ring(), 5)
	require.Len(t, region.Exclusions(), 1, "polygon holes become exclusions")

	assert.True(t, region.Contains(geo.LatLng{Lat: 45.002, Lng: -75.008}))
	assert.False(t, region.Contains(geo.LatLng{Lat: 45.005, Lng: -75.005}), "inside the hole")
}

func TestParseNominatimErrors(t *testing.T) {
	t.Parallel()

	_, err := ParseNominatim([]byte(nominatim), 5)
	assert.ErrorContains(t, err, "out of range")

	_, err = ParseNominatim([]byte(nominatim), 0)
	assert.ErrorContains(t, err, "no polygon")

	_, err = ParseNominatim([]byte(`[{"boundingbox":["a","1","0","1"],"geojson":{}}]`), 0)
	assert.Error(t, err)

	_, err = ParseNominatim([]byte(`[{"boundingbox":["0","1","0","1"]}]`), 0)
	assert.ErrorContains(t, err, "polygon_geojson")
}

func TestParseGeoJSONShapes(t *testing.T) {
	t.Parallel()

	polygon := `{"type":"Polygon","coordinates":[[[-75.01,45.0],[-75.0,45.0],[-75.0,45.01],[-75.01,45.0]]]}`
	feature := `{"type":"Feature","properties":{"name":"x"},"geometry":` + polygon + `}`
	collection := `{"type":"FeatureCollection","features":[` + feature + `]}`

	for name, doc := range map[string]string{"geometry": polygon, "feature": feature, "collection": collection} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			region, err := Parse([]byte(doc), 0)
			require.NoError(t, err)
			assert.Equal(t, 45.01, region.BoundingBox().MaxLat)
			assert.Equal(t, -75.01, region.BoundingBox().MinLng)
			assert.Empty(t, region.Exclusions())
		})
	}
}

func TestParseGeoJSONRejectsNonPolygon(t *testing.T) {
	t.Parallel()

	_, err := ParseGeoJSON([]byte(`{"type":"LineString","coordinates":[[0,0],[1,1]]}`))
	assert.Error(t, err)
}

func TestLoadExclusions(t *testing.T) {
	t.Parallel()

	a := writeFile(t, "a.geojson", `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`)
	b := writeFile(t, "b.geojson", `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{},"geometry":{"type":"MultiPolygon","coordinates":[
			[[[2,2],[3,2],[3,3],[2,2]]],
			[[[4,4],[5,4],[5,5],[4,4]]]
		]}}]}`)

	rings, err := LoadExclusions(a, b)
	require.NoError(t, err)
	require.Len(t, rings, 3)
	for _, r := range rings {
		assert.True(t, r.Closed())
	}

	_, err = LoadExclusions(filepath.Join(t.TempDir(), "missing.geojson"))
	assert.Error(t, err)
}
