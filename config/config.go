package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"

	"compvalue/server/internal/models"
)

// Cache backends for the persisted tier.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	Server struct {
		Port string `env:"PORT" envDefault:"5250"`
		// Origins allowed by CORS
		AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
		GinMode        string   `env:"GIN_MODE" envDefault:"release"`
	}

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Database struct {
		Path string `env:"DB_PATH" envDefault:"database/compvalue.db"`
	}

	Cache struct {
		// How long a fetched comp set is served without refetching
		TTL time.Duration `env:"CACHE_TTL" envDefault:"24h"`

		// Upper bound on one shared fetch across all sources
		FetchTimeout time.Duration `env:"CACHE_FETCH_TIMEOUT" envDefault:"60s"`

		// sqlite, redis or memory
		Backend string `env:"CACHE_BACKEND" envDefault:"sqlite"`

		// Cron spec of the expired-entry purge
		PurgeSchedule string `env:"CACHE_PURGE_SCHEDULE" envDefault:"@every 1h"`
	}

	Redis struct {
		Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
		Prefix   string `env:"REDIS_PREFIX" envDefault:"compvalue:"`
	}

	Sources struct {
		// JSON file with source definitions; replaces the env sources below
		File string `env:"SOURCES_FILE"`

		Timeout  time.Duration `env:"SOURCE_TIMEOUT" envDefault:"15s"`
		Parallel bool          `env:"SOURCE_PARALLEL" envDefault:"false"`
		Blend    bool          `env:"SOURCE_BLEND" envDefault:"false"`

		// Comps priced outside [base*low, base*high] are dropped
		PriceLowFactor  float64 `env:"PRICE_LOW_FACTOR" envDefault:"0.5"`
		PriceHighFactor float64 `env:"PRICE_HIGH_FACTOR" envDefault:"2.0"`

		PrimaryURL   string `env:"PRIMARY_API_URL"`
		PrimaryKey   string `env:"PRIMARY_API_KEY"`
		SecondaryURL string `env:"SECONDARY_API_URL"`
		SecondaryKey string `env:"SECONDARY_API_KEY"`

		PublicRecords bool `env:"PUBLIC_RECORDS_ENABLED" envDefault:"true"`
		Demo          bool `env:"DEMO_SOURCE_ENABLED" envDefault:"false"`
	}

	Valuation struct {
		DefaultRadiusMiles float64 `env:"DEFAULT_RADIUS_MILES" envDefault:"1"`
		MaxComps           int     `env:"MAX_COMPS" envDefault:"10"`

		// Similarity weights
		DistanceWeight float64 `env:"WEIGHT_DISTANCE" envDefault:"0.30"`
		RecencyWeight  float64 `env:"WEIGHT_RECENCY" envDefault:"0.25"`
		SizeWeight     float64 `env:"WEIGHT_SIZE" envDefault:"0.25"`
		BedroomsWeight float64 `env:"WEIGHT_BEDROOMS" envDefault:"0.10"`
		BathsWeight    float64 `env:"WEIGHT_BATHS" envDefault:"0.10"`
	}

	Geocoder struct {
		URL       string        `env:"GEOCODER_URL" envDefault:"https://nominatim.openstreetmap.org/search"`
		UserAgent string        `env:"GEOCODER_USER_AGENT" envDefault:"compvalue/1.0"`
		CacheDir  string        `env:"GEOCODER_CACHE_DIR"`
		Delay     time.Duration `env:"GEOCODER_DELAY" envDefault:"1s"`

		// Cron spec of the sales coordinate backfill; empty disables it
		BackfillSchedule string `env:"GEOCODE_BACKFILL_SCHEDULE"`
	}

	Recorder struct {
		// Maximum number of retries for a failed save
		MaxRetries int `env:"RECORDER_MAX_RETRIES" envDefault:"3"`

		// Delay between retries
		RetryDelay time.Duration `env:"RECORDER_RETRY_DELAY" envDefault:"1s"`
	}

	Events struct {
		BufferSize      int `env:"EVENT_BUFFER_SIZE" envDefault:"256"`
		HistoryLimit    int `env:"EVENT_HISTORY_LIMIT" envDefault:"50"`
		HistorySubjects int `env:"EVENT_HISTORY_SUBJECTS" envDefault:"1000"`
	}
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and combinations env parsing cannot.
func (c *Config) Validate() error {
	var errs []error

	switch c.Cache.Backend {
	case BackendSQLite, BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}
	if c.Cache.Backend == BackendRedis && c.Redis.Addr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required for the redis cache backend"))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, errors.New("CACHE_TTL must not be negative"))
	}
	if c.Valuation.DefaultRadiusMiles <= 0 {
		errs = append(errs, errors.New("DEFAULT_RADIUS_MILES must be positive"))
	}
	if c.Valuation.MaxComps <= 0 {
		errs = append(errs, errors.New("MAX_COMPS must be positive"))
	}
	low, high := c.Sources.PriceLowFactor, c.Sources.PriceHighFactor
	if low < 0 || high < 0 || (low > 0 && high > 0 && low >= high) {
		errs = append(errs, fmt.Errorf("invalid price factors: low %.2f, high %.2f", low, high))
	}
	for _, w := range []float64{c.Valuation.DistanceWeight, c.Valuation.RecencyWeight, c.Valuation.SizeWeight, c.Valuation.BedroomsWeight, c.Valuation.BathsWeight} {
		if w < 0 {
			errs = append(errs, errors.New("similarity weights must not be negative"))
			break
		}
	}
	if c.Recorder.MaxRetries < 0 {
		errs = append(errs, errors.New("RECORDER_MAX_RETRIES must not be negative"))
	}

	return errors.Join(errs...)
}

// SourceList returns the source definitions in priority order: the sources
// file when set, otherwise the env sources.
func (c *Config) SourceList() ([]SourceConfig, error) {
	if c.Sources.File != "" {
		return LoadSourcesFile(c.Sources.File)
	}

	var list []SourceConfig
	if c.Sources.PrimaryURL != "" {
		list = append(list, SourceConfig{
			Name:    "primary",
			Kind:    KindAPI,
			BaseURL: c.Sources.PrimaryURL,
			APIKey:  c.Sources.PrimaryKey,
			Tag:     models.SourceAPIPrimary,
		})
	}
	if c.Sources.SecondaryURL != "" {
		list = append(list, SourceConfig{
			Name:    "secondary",
			Kind:    KindAPI,
			BaseURL: c.Sources.SecondaryURL,
			APIKey:  c.Sources.SecondaryKey,
			Tag:     models.SourceAPISecondary,
		})
	}
	if c.Sources.PublicRecords {
		list = append(list, SourceConfig{Name: "public_records", Kind: KindPublicRecords, Tag: models.SourcePublicRecord})
	}
	if c.Sources.Demo {
		list = append(list, SourceConfig{Name: "demo", Kind: KindDemo, Tag: models.SourceDemo})
	}
	return list, nil
}
