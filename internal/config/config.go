// Package config loads and validates sampler configuration via Viper.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/CU-BIC/S3/internal/geo"
	"github.com/CU-BIC/S3/internal/logging"
	"github.com/CU-BIC/S3/internal/policy/ratelimit"
	"github.com/CU-BIC/S3/internal/provider/google"
	"github.com/CU-BIC/S3/internal/sampler"
	"github.com/CU-BIC/S3/internal/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. S3_SAMPLER_STEP_DISTANCE_M.
const EnvPrefix = "S3"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging     logging.Config    `mapstructure:"logging"`
	Region      RegionConfig      `mapstructure:"region"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Sampler     SamplerConfig     `mapstructure:"sampler"`
	Google      GoogleConfig      `mapstructure:"google"`
	RateLimit   ratelimit.Config  `mapstructure:"rate_limit"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Storage     StorageConfig     `mapstructure:"storage"`
	DB          DBConfig          `mapstructure:"db"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Server      ServerConfig      `mapstructure:"server"`
	Telemetry   telemetry.Config  `mapstructure:"telemetry"`
}

// RegionConfig points at the boundary file of the sampled area.
type RegionConfig struct {
	// Boundary is a Nominatim JSON array or a GeoJSON document.
	Boundary string `mapstructure:"boundary"`
	// Index selects the Nominatim result.
	Index      int      `mapstructure:"index"`
	Exclusions []string `mapstructure:"exclusions"`
}

// CredentialsConfig lists API keys inline or in a JSON file.
type CredentialsConfig struct {
	File string `mapstructure:"file"`
	// Keys is a comma separated list.
	Keys string `mapstructure:"keys"`
}

// SamplerConfig governs the collection pipeline.
type SamplerConfig struct {
	StepDistance     float64 `mapstructure:"step_distance_m"`
	BatchCapacity    int     `mapstructure:"batch_capacity"`
	SearchRadius     float64 `mapstructure:"search_radius_m"`
	Headings         int     `mapstructure:"headings"`
	Mode             string  `mapstructure:"mode"`
	Prefix           string  `mapstructure:"prefix"`
	Pipelined        bool    `mapstructure:"pipelined"`
	ImageConcurrency int     `mapstructure:"image_concurrency"`
	// Start is "lat,lng" of the grid point to resume from; empty starts at NW.
	Start string `mapstructure:"start"`
}

// GoogleConfig configures the Maps Platform adapters.
type GoogleConfig struct {
	RoadsURL         string  `mapstructure:"roads_url"`
	MapsURL          string  `mapstructure:"maps_url"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	ImageWidth       int     `mapstructure:"image_width"`
	ImageHeight      int     `mapstructure:"image_height"`
	FOV              float64 `mapstructure:"fov"`
	Pitch            float64 `mapstructure:"pitch"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
}

// Cache backends.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// CacheConfig selects where obstruction and panorama lookups are memoized.
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	Capacity      int           `mapstructure:"capacity"`
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
}

// Storage backends.
const (
	StorageLocal  = "local"
	StorageGCS    = "gcs"
	StorageMemory = "memory"
)

// StorageConfig sets where images and artifacts are written.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	// Destination is the local output directory.
	Destination string `mapstructure:"destination"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	GCSPrefix   string `mapstructure:"gcs_prefix"`
}

// DBConfig controls the optional Postgres sink.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	PointsTable     string        `mapstructure:"points_table"`
	RunsTable       string        `mapstructure:"runs_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// PubSubConfig holds the optional event topics.
type PubSubConfig struct {
	ProjectID  string `mapstructure:"project_id"`
	BatchTopic string `mapstructure:"batch_topic"`
	RunTopic   string `mapstructure:"run_topic"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled                bool `mapstructure:"enabled"`
	Port                   int  `mapstructure:"port"`
	ShutdownTimeoutSeconds int  `mapstructure:"shutdown_timeout_seconds"`
}

// Load builds a Config from disk, environment, and the flags bound in flags
// (config key -> flag name). Changed flags take precedence over every other source.
func Load(path string, flags *pflag.FlagSet, bindings map[string]string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	for key, name := range bindings {
		if flags == nil {
			break
		}
		f := flags.Lookup(name)
		if f == nil {
			return Config{}, fmt.Errorf("bind %s: unknown flag --%s", key, name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Empty defaults make AutomaticEnv overrides visible to Unmarshal.
	for _, key := range []string{
		"region.boundary", "credentials.file", "credentials.keys", "sampler.start",
		"google.roads_url", "google.maps_url", "cache.redis_addr", "cache.redis_password",
		"storage.gcs_bucket", "storage.gcs_prefix", "db.dsn",
		"pubsub.project_id", "pubsub.batch_topic", "pubsub.run_topic", "telemetry.service_version",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("region.index", 0)
	v.SetDefault("sampler.step_distance_m", 100.0)
	v.SetDefault("sampler.batch_capacity", 100)
	v.SetDefault("sampler.search_radius_m", 50.0)
	v.SetDefault("sampler.headings", 1)
	v.SetDefault("sampler.mode", string(sampler.ModeImages))
	v.SetDefault("sampler.prefix", "s3")
	v.SetDefault("sampler.pipelined", false)
	v.SetDefault("sampler.image_concurrency", 2)
	v.SetDefault("google.timeout_seconds", 15)
	v.SetDefault("google.image_width", 640)
	v.SetDefault("google.image_height", 360)
	v.SetDefault("google.fov", 90.0)
	v.SetDefault("google.pitch", 0.0)
	v.SetDefault("google.max_retries", 3)
	v.SetDefault("google.backoff_initial_ms", 250)
	v.SetDefault("google.backoff_max_ms", 4000)
	v.SetDefault("rate_limit.default_rps", 10.0)
	v.SetDefault("rate_limit.default_burst", 5)
	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.capacity", 100000)
	v.SetDefault("cache.ttl", "720h")
	v.SetDefault("cache.key_prefix", "s3:")
	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.destination", "output")
	v.SetDefault("db.points_table", "sample_points")
	v.SetDefault("db.runs_table", "sample_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 5)
	v.SetDefault("telemetry.service_name", "s3")
	v.SetDefault("telemetry.exporter", telemetry.ExporterNone)
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Sampler.StepDistance <= 0 {
		return fmt.Errorf("sampler.step_distance_m must be > 0")
	}
	if c.Sampler.BatchCapacity <= 0 {
		return fmt.Errorf("sampler.batch_capacity must be > 0")
	}
	if c.Sampler.BatchCapacity > google.MaxSnapPoints {
		return fmt.Errorf("sampler.batch_capacity must be <= %d, the Roads API limit per snap request", google.MaxSnapPoints)
	}
	if c.Sampler.SearchRadius <= 0 {
		return fmt.Errorf("sampler.search_radius_m must be > 0")
	}
	if !sampler.ValidHeadingCount(c.Sampler.Headings) {
		return fmt.Errorf("sampler.headings must be 1, 2, or 4")
	}
	if !sampler.Mode(c.Sampler.Mode).Valid() {
		return fmt.Errorf("sampler.mode must be %q or %q", sampler.ModeImages, sampler.ModePanoramas)
	}
	if c.Sampler.ImageConcurrency <= 0 {
		return fmt.Errorf("sampler.image_concurrency must be > 0")
	}
	if _, err := c.Sampler.StartPoint(); err != nil {
		return err
	}
	if c.Region.Index < 0 {
		return fmt.Errorf("region.index must be >= 0")
	}
	if c.Google.TimeoutSeconds <= 0 {
		return fmt.Errorf("google.timeout_seconds must be > 0")
	}
	if c.Google.MaxRetries <= 0 {
		return fmt.Errorf("google.max_retries must be > 0")
	}
	switch c.Cache.Backend {
	case CacheNone:
	case CacheMemory:
		if c.Cache.Capacity <= 0 {
			return fmt.Errorf("cache.capacity must be > 0 for the memory cache")
		}
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr must be set for the redis cache")
		}
	default:
		return fmt.Errorf("cache.backend must be one of none, memory, redis")
	}
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.Destination == "" {
			return fmt.Errorf("storage.destination must be set for local storage")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for gcs storage")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("storage.backend must be one of local, gcs, memory")
	}
	if (c.PubSub.BatchTopic != "" || c.PubSub.RunTopic != "") && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when a topic is configured")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// StartPoint parses Start, returning nil when it is empty.
func (s SamplerConfig) StartPoint() (*geo.LatLng, error) {
	if strings.TrimSpace(s.Start) == "" {
		return nil, nil
	}
	lat, lng, ok := strings.Cut(s.Start, ",")
	if !ok {
		return nil, fmt.Errorf("sampler.start must be \"lat,lng\"")
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return nil, fmt.Errorf("sampler.start latitude: %w", err)
	}
	ln, err := strconv.ParseFloat(strings.TrimSpace(lng), 64)
	if err != nil {
		return nil, fmt.Errorf("sampler.start longitude: %w", err)
	}
	return &geo.LatLng{Lat: la, Lng: ln}, nil
}

// GoogleTimeout converts the HTTP timeout into a duration.
func (c Config) GoogleTimeout() time.Duration {
	return time.Duration(c.Google.TimeoutSeconds) * time.Second
}

// ShutdownTimeout converts the server shutdown budget into a duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
