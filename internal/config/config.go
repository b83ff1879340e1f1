package config

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/geolab/internal/crs"
)

// Config holds the full application configuration.
type Config struct {
	Data     DataConfig               `yaml:"data" mapstructure:"data"`
	Store    StoreConfig              `yaml:"store" mapstructure:"store"`
	Server   ServerConfig             `yaml:"server" mapstructure:"server"`
	Plot     PlotConfig               `yaml:"plot" mapstructure:"plot"`
	Fetch    FetchConfig              `yaml:"fetch" mapstructure:"fetch"`
	Datasets map[string]DatasetConfig `yaml:"datasets" mapstructure:"datasets"`
	Log      LogConfig                `yaml:"log" mapstructure:"log"`
}

// DataConfig locates input datasets.
type DataConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
	// CRS is assigned to files that carry no CRS metadata.
	CRS string `yaml:"crs" mapstructure:"crs"`
}

// StoreConfig configures the layer store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Schema      string `yaml:"schema" mapstructure:"schema"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	// Source is "files" (the data directory) or "store".
	Source string `yaml:"source" mapstructure:"source"`
}

// PlotConfig sizes and colours rendered maps.
type PlotConfig struct {
	Width   int    `yaml:"width" mapstructure:"width"`
	Height  int    `yaml:"height" mapstructure:"height"`
	Margin  int    `yaml:"margin" mapstructure:"margin"`
	Palette string `yaml:"palette" mapstructure:"palette"`
}

// FetchConfig configures dataset downloads.
type FetchConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TempDir     string  `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// DatasetConfig is a downloadable dataset.
type DatasetConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
	// Keep stores a zip archive as downloaded instead of extracting it.
	Keep bool `yaml:"keep" mapstructure:"keep"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.crs", "EPSG:27700")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "geolab.db")
	v.SetDefault("store.schema", "geolab")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.source", "files")
	v.SetDefault("plot.width", 800)
	v.SetDefault("plot.height", 800)
	v.SetDefault("plot.margin", 40)
	v.SetDefault("plot.palette", "ylorrd")
	v.SetDefault("fetch.user_agent", "geolab/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rate_per_sec", 5.0)
	v.SetDefault("fetch.temp_dir", "/tmp/geolab")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on: "analysis",
// "store", "serve" or "fetch".
func (c *Config) Validate(mode string) error {
	var errs []string
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	switch mode {
	case "analysis":
		c.validateData(check)
	case "store":
		c.validateStore(check)
	case "serve":
		c.validateData(check)
		check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port must be > 0 and < 65536")
		check(slices.Contains([]string{"files", "store"}, c.Server.Source), "server.source must be files or store")
		if c.Server.Source == "store" {
			c.validateStore(check)
		}
		c.validatePlot(check)
	case "fetch":
		check(c.Data.Dir != "", "data.dir is required")
		check(c.Fetch.TimeoutSecs > 0, "fetch.timeout_secs must be > 0")
		check(c.Fetch.MaxRetries >= 0, "fetch.max_retries must be >= 0")
		check(c.Fetch.RatePerSec > 0, "fetch.rate_per_sec must be > 0")
		check(len(c.Datasets) > 0, "datasets: at least one dataset is required")
		for name, ds := range c.Datasets {
			check(ds.URL != "", "datasets."+name+".url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateData(check func(bool, string)) {
	check(c.Data.Dir != "", "data.dir is required")
	if c.Data.CRS != "" {
		_, err := crs.Parse(c.Data.CRS)
		check(err == nil, "data.crs is not a recognised crs")
	}
}

func (c *Config) validateStore(check func(bool, string)) {
	check(c.Store.Driver == "postgres" || c.Store.Driver == "sqlite", "store.driver must be postgres or sqlite")
	check(c.Store.DatabaseURL != "", "store.database_url is required")
	check(c.Store.MinConns <= c.Store.MaxConns || c.Store.MaxConns == 0, "store.min_conns must not exceed store.max_conns")
}

func (c *Config) validatePlot(check func(bool, string)) {
	check(c.Plot.Width >= 0 && c.Plot.Height >= 0, "plot.width and plot.height must be >= 0")
}

// DefaultCRS parses Data.CRS; empty yields the zero CRS.
func (c *Config) DefaultCRS() (crs.CRS, error) {
	if c.Data.CRS == "" {
		return crs.CRS{}, nil
	}
	return crs.Parse(c.Data.CRS)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
