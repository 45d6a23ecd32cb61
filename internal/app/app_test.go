package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CU-BIC/S3/internal/app"
	"github.com/CU-BIC/S3/internal/config"
	pubmemory "github.com/CU-BIC/S3/internal/publisher/memory"
	"github.com/CU-BIC/S3/internal/sampler"
	"github.com/CU-BIC/S3/internal/storage/memory"
)

const boxGeoJSON = `{"type":"Polygon","coordinates":[[[-75.01,45.0],[-75.0,45.0],[-75.0,45.006],[-75.01,45.006],[-75.01,45.0]]]}`

// fakeMaps answers the four Google endpoints: every point snaps to itself,
// nothing is water, every location has a panorama.
type fakeMaps struct {
	calls atomic.Int64
	keys  sync.Map
}

func (f *fakeMaps) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	f.keys.Store(r.URL.Query().Get("key"), true)
	q := r.URL.Query()
	switch r.URL.Path {
	case "/v1/nearestRoads":
		type loc struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		}
		type point struct {
			Location      loc `json:"location"`
			OriginalIndex int `json:"originalIndex"`
		}
		var out []point
		for i, p := range strings.Split(q.Get("points"), "|") {
			var lat, lng float64
			_, _ = fmt.Sscanf(p, "%g,%g", &lat, &lng)
			out = append(out, point{Location: loc{lat, lng}, OriginalIndex: i})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"snappedPoints": out})
	case "/maps/api/staticmap":
		img := image.NewRGBA(image.Rect(0, 0, 1, 1))
		img.Set(0, 0, color.RGBA{R: 242, G: 239, B: 233, A: 255})
		w.Header().Set("Content-Type", "image/png")
		_ = png.Encode(w, img)
	case "/maps/api/streetview/metadata":
		var lat, lng float64
		_, _ = fmt.Sscanf(q.Get("location"), "%g,%g", &lat, &lng)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   "OK",
			"pano_id":  "pano-" + q.Get("location"),
			"location": map[string]float64{"lat": lat, "lng": lng},
			"date":     "2022-08",
		})
	case "/maps/api/streetview":
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	default:
		http.NotFound(w, r)
	}
}

func writeBoundary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "region.geojson")
	require.NoError(t, os.WriteFile(path, []byte(boxGeoJSON), 0o600))
	return path
}

func testConfig(t *testing.T, mapsURL string) config.Config {
	t.Helper()
	cfg, err := config.Load("", nil, nil)
	require.NoError(t, err)
	cfg.Region.Boundary = writeBoundary(t)
	cfg.Credentials.Keys = "k1"
	cfg.Sampler.StepDistance = 500
	cfg.Sampler.Headings = 2
	cfg.Sampler.Prefix = "test"
	cfg.Google.RoadsURL = mapsURL
	cfg.Google.MapsURL = mapsURL
	cfg.Google.MaxRetries = 1
	cfg.Storage.Backend = config.StorageMemory
	cfg.PubSub.RunTopic = "runs"
	cfg.PubSub.BatchTopic = "batches"
	return cfg
}

func TestAppRunEndToEnd(t *testing.T) {
	maps := &fakeMaps{}
	srv := httptest.NewServer(maps)
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL)
	blobs := memory.NewBlobStore()
	pub := pubmemory.New()
	ctx := context.Background()

	a, err := app.New(ctx, cfg, zap.NewNop(),
		app.WithHTTPClient(srv.Client()),
		app.WithBlobStore(blobs),
		app.WithPublisher(pub),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })

	summary, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampler.RunStatusCompleted, summary.Status)

	region, err := a.Region()
	require.NoError(t, err)
	est, err := app.EstimateGrid(region, cfg.Sampler.StepDistance)
	require.NoError(t, err)
	assert.Equal(t, est.GridPoints, summary.TotalVisited)
	assert.Equal(t, summary.TotalVisited, len(summary.Processed)+len(summary.Rejected))
	require.NotEmpty(t, summary.Processed)

	for _, c := range summary.Processed {
		pano, ok := c.Panorama()
		require.True(t, ok)
		assert.Len(t, pano.Images, 2)
	}

	paths := blobs.Paths()
	for _, name := range []string{"output.json", "output.csv", "panoramas.json", "samples.kml", "batches/batch_00001.json"} {
		assert.Contains(t, paths, name)
	}
	var images int
	for _, p := range paths {
		if strings.HasPrefix(p, "test/images/test_") {
			images++
		}
	}
	assert.Equal(t, 2*len(summary.Processed), images)

	assert.Len(t, pub.Messages("runs"), 1)
	assert.NotEmpty(t, pub.Messages("batches"))
	_, usedKey := maps.keys.Load("k1")
	assert.True(t, usedKey)
}

func TestAppRunPanoramasModeUsesCache(t *testing.T) {
	maps := &fakeMaps{}
	srv := httptest.NewServer(maps)
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL)
	cfg.Sampler.Mode = string(sampler.ModePanoramas)
	ctx := context.Background()
	blobs := memory.NewBlobStore()

	a, err := app.New(ctx, cfg, nil, app.WithHTTPClient(srv.Client()), app.WithBlobStore(blobs), app.WithPublisher(pubmemory.New()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })

	first, err := a.Run(ctx)
	require.NoError(t, err)
	afterFirst := maps.calls.Load()

	second, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(first.Processed), len(second.Processed))

	// Only the snap calls repeat; obstruction and panorama answers come from the cache.
	assert.Equal(t, int64(second.Batches), maps.calls.Load()-afterFirst)
	for _, p := range blobs.Paths() {
		assert.False(t, strings.Contains(p, "/images/"), "unexpected image %s", p)
	}
}

func TestAppRequiresCredentials(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0")
	cfg.Credentials.Keys = ""
	ctx := context.Background()

	a, err := app.New(ctx, cfg, nil, app.WithBlobStore(memory.NewBlobStore()), app.WithPublisher(pubmemory.New()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })

	_, err = a.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")
}

func TestAppNewRejectsUnknownBackends(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t, "http://127.0.0.1:0")
	cfg.Storage.Backend = "ftp"
	_, err := app.New(ctx, cfg, nil)
	require.ErrorContains(t, err, "unknown storage backend")

	cfg = testConfig(t, "http://127.0.0.1:0")
	cfg.Cache.Backend = "memcached"
	_, err = app.New(ctx, cfg, nil, app.WithBlobStore(memory.NewBlobStore()))
	require.ErrorContains(t, err, "unknown cache backend")
}

func TestLoadRegionWithExclusions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	boundaryPath := filepath.Join(dir, "region.geojson")
	require.NoError(t, os.WriteFile(boundaryPath, []byte(boxGeoJSON), 0o600))
	lake := `{"type":"Polygon","coordinates":[[[-75.008,45.001],[-75.002,45.001],[-75.002,45.005],[-75.008,45.005],[-75.008,45.001]]]}`
	lakePath := filepath.Join(dir, "lake.geojson")
	require.NoError(t, os.WriteFile(lakePath, []byte(lake), 0o600))

	region, err := app.LoadRegion(config.RegionConfig{Boundary: boundaryPath, Exclusions: []string{lakePath}})
	require.NoError(t, err)
	require.Len(t, region.Exclusions(), 1)

	_, err = app.LoadRegion(config.RegionConfig{})
	require.ErrorContains(t, err, "region.boundary is required")
}

func TestEstimateGrid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "region.geojson")
	require.NoError(t, os.WriteFile(path, []byte(boxGeoJSON), 0o600))
	region, err := app.LoadRegion(config.RegionConfig{Boundary: path})
	require.NoError(t, err)

	est, err := app.EstimateGrid(region, 500)
	require.NoError(t, err)
	assert.Equal(t, 4, est.GridPoints)
	assert.InDelta(t, 45.006, est.BoundingBox.MaxLat, 1e-9)
}
