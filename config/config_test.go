package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compvalue/server/internal/models"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "5250", cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, BackendSQLite, cfg.Cache.Backend)
	assert.Equal(t, 1.0, cfg.Valuation.DefaultRadiusMiles)
	assert.Equal(t, 10, cfg.Valuation.MaxComps)
	assert.Equal(t, 0.5, cfg.Sources.PriceLowFactor)
	assert.True(t, cfg.Sources.PublicRecords)
	assert.False(t, cfg.Sources.Demo)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("CACHE_TTL", "2h")
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("SOURCE_PARALLEL", "true")
	t.Setenv("MAX_COMPS", "25")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, BackendRedis, cfg.Cache.Backend)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Sources.Parallel)
	assert.Equal(t, 25, cfg.Valuation.MaxComps)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown backend", func(c *Config) { c.Cache.Backend = "etcd" }},
		{"redis without address", func(c *Config) { c.Cache.Backend = BackendRedis; c.Redis.Addr = "" }},
		{"zero radius", func(c *Config) { c.Valuation.DefaultRadiusMiles = 0 }},
		{"zero max comps", func(c *Config) { c.Valuation.MaxComps = 0 }},
		{"inverted price factors", func(c *Config) { c.Sources.PriceLowFactor = 2; c.Sources.PriceHighFactor = 1 }},
		{"negative weight", func(c *Config) { c.Valuation.SizeWeight = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSourceList_FromEnv(t *testing.T) {
	t.Setenv("PRIMARY_API_URL", "https://primary.test/comps")
	t.Setenv("PRIMARY_API_KEY", "k1")
	t.Setenv("DEMO_SOURCE_ENABLED", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	list, err := cfg.SourceList()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "primary", list[0].Name)
	assert.Equal(t, "k1", list[0].APIKey)
	assert.Equal(t, models.SourceAPIPrimary, list[0].Tag)
	assert.Equal(t, KindPublicRecords, list[1].Kind)
	assert.Equal(t, KindDemo, list[2].Kind)
}

func writeSources(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadSourcesFile(t *testing.T) {
	path := writeSources(t, `{"sources": [
		{"name": "secondary", "kind": "api", "base_url": "https://b.test", "tag": "api_secondary", "timeout_seconds": 5},
		{"name": "records", "kind": "public_records", "tag": "public_record"}
	]}`)

	list, err := LoadSourcesFile(path)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "secondary", list[0].Name)
	assert.Equal(t, 5*time.Second, list[0].Timeout())
	assert.Equal(t, time.Duration(0), list[1].Timeout())

	t.Setenv("SOURCES_FILE", path)
	t.Setenv("PRIMARY_API_URL", "https://ignored.test")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	fromCfg, err := cfg.SourceList()
	require.NoError(t, err)
	assert.Equal(t, list, fromCfg)
}

func TestLoadSourcesFile_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing url":    `{"sources": [{"name": "a", "kind": "api", "tag": "api_primary"}]}`,
		"unknown kind":   `{"sources": [{"name": "a", "kind": "ftp", "tag": "api_primary"}]}`,
		"unknown tag":    `{"sources": [{"name": "a", "kind": "demo", "tag": "zillow"}]}`,
		"duplicate name": `{"sources": [{"name": "a", "kind": "demo", "tag": "demo"}, {"name": "a", "kind": "demo", "tag": "demo"}]}`,
		"bad json":       `{"sources": [`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadSourcesFile(writeSources(t, body))
			assert.Error(t, err)
		})
	}

	_, err := LoadSourcesFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
