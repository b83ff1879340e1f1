package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// No config.yaml in a fresh temp dir.
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.Data.Dir)
	assert.Equal(t, "EPSG:27700", cfg.Data.CRS)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "geolab.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "geolab", cfg.Store.Schema)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "files", cfg.Server.Source)
	assert.Equal(t, 800, cfg.Plot.Width)
	assert.Equal(t, 40, cfg.Plot.Margin)
	assert.Equal(t, "ylorrd", cfg.Plot.Palette)
	assert.Equal(t, "geolab/1.0", cfg.Fetch.UserAgent)
	assert.Equal(t, 60, cfg.Fetch.TimeoutSecs)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.InDelta(t, 5.0, cfg.Fetch.RatePerSec, 0.001)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Datasets)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
data:
  dir: notebooks/data
store:
  driver: postgres
  database_url: postgres://localhost/soho
  max_conns: 8
log:
  level: debug
  format: console
server:
  port: 9090
datasets:
  soho:
    url: https://example.org/soho.zip
  pumps:
    url: https://example.org/pumps.geojson
    keep: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "notebooks/data", cfg.Data.Dir)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/soho", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(8), cfg.Store.MaxConns)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	require.Len(t, cfg.Datasets, 2)
	assert.Equal(t, "https://example.org/soho.zip", cfg.Datasets["soho"].URL)
	assert.True(t, cfg.Datasets["pumps"].Keep)
	// Defaults still apply for unset values
	assert.Equal(t, "EPSG:27700", cfg.Data.CRS)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("GEOLAB_STORE_DRIVER", "sqlite")
	t.Setenv("GEOLAB_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("GEOLAB_SERVER_PORT", "3000")
	t.Setenv("GEOLAB_DATA_CRS", "EPSG:4326")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "EPSG:4326", cfg.Data.CRS)
}

func TestLoadBadFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("data: [\n"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with the defaults Load would populate.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Data.Dir = "data"
	cfg.Data.CRS = "EPSG:27700"
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "geolab.db"
	cfg.Server.Port = 8080
	cfg.Server.Source = "files"
	cfg.Fetch.TimeoutSecs = 60
	cfg.Fetch.MaxRetries = 3
	cfg.Fetch.RatePerSec = 5
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mode   string
		modify func(*Config)
		want   string
	}{
		{name: "analysis ok", mode: "analysis"},
		{name: "analysis bad crs", mode: "analysis", modify: func(c *Config) { c.Data.CRS = "mars" }, want: "data.crs"},
		{name: "analysis no dir", mode: "analysis", modify: func(c *Config) { c.Data.Dir = "" }, want: "data.dir is required"},
		{name: "store ok", mode: "store"},
		{name: "store driver", mode: "store", modify: func(c *Config) { c.Store.Driver = "mysql" }, want: "store.driver"},
		{name: "store url", mode: "store", modify: func(c *Config) { c.Store.DatabaseURL = "" }, want: "store.database_url is required"},
		{name: "store conns", mode: "store", modify: func(c *Config) { c.Store.MinConns, c.Store.MaxConns = 5, 2 }, want: "min_conns"},
		{name: "serve ok", mode: "serve"},
		{name: "serve port", mode: "serve", modify: func(c *Config) { c.Server.Port = 0 }, want: "server.port must be > 0"},
		{name: "serve source", mode: "serve", modify: func(c *Config) { c.Server.Source = "s3" }, want: "server.source"},
		{name: "serve from store", mode: "serve", modify: func(c *Config) { c.Server.Source = "store"; c.Store.DatabaseURL = "" }, want: "store.database_url"},
		{name: "fetch no datasets", mode: "fetch", want: "at least one dataset"},
		{name: "fetch ok", mode: "fetch", modify: func(c *Config) {
			c.Datasets = map[string]DatasetConfig{"soho": {URL: "https://example.org/soho.zip"}}
		}},
		{name: "fetch missing url", mode: "fetch", modify: func(c *Config) {
			c.Datasets = map[string]DatasetConfig{"soho": {}}
			c.Fetch.RatePerSec = 0
		}, want: "datasets.soho.url is required; fetch.rate_per_sec must be > 0"},
		{name: "unknown mode", mode: "enrich", want: "unknown mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			if tt.modify != nil {
				tt.modify(cfg)
			}
			err := cfg.Validate(tt.mode)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDefaultCRS(t *testing.T) {
	cfg := validDefaults()
	c, err := cfg.DefaultCRS()
	require.NoError(t, err)
	assert.Equal(t, 27700, c.EPSG)

	cfg.Data.CRS = ""
	c, err = cfg.DefaultCRS()
	require.NoError(t, err)
	assert.True(t, c.IsZero())
}
