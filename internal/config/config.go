package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ctut-gis/atm-cli/internal/merge"
	"github.com/ctut-gis/atm-cli/pkg/overpass"
)

// Config holds the full application configuration.
type Config struct {
	Overpass   OverpassConfig   `yaml:"overpass" mapstructure:"overpass"`
	Nominatim  NominatimConfig  `yaml:"nominatim" mapstructure:"nominatim"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// OverpassConfig configures the POI fetch.
type OverpassConfig struct {
	URL         string        `yaml:"url" mapstructure:"url"`
	UserAgent   string        `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BBox        overpass.BBox `yaml:"bbox" mapstructure:"bbox"`
	Amenities   []string      `yaml:"amenities" mapstructure:"amenities"`
}

// Query builds the Overpass query for this configuration.
func (c OverpassConfig) Query() overpass.Query {
	return overpass.Query{
		BBox:        c.BBox,
		Amenities:   c.Amenities,
		TimeoutSecs: c.TimeoutSecs,
	}
}

// NominatimConfig configures reverse geocoding.
type NominatimConfig struct {
	URL              string  `yaml:"url" mapstructure:"url"`
	UserAgent        string  `yaml:"user_agent" mapstructure:"user_agent"`
	AcceptLanguage   string  `yaml:"accept_language" mapstructure:"accept_language"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Quota            int     `yaml:"quota" mapstructure:"quota"`
	DelayMs          int     `yaml:"delay_ms" mapstructure:"delay_ms"`
	CacheTTLHours    int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	BreakerFailures  int     `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	Disabled         bool    `yaml:"disabled" mapstructure:"disabled"`
}

// Delay is the minimum spacing between reverse requests.
func (c NominatimConfig) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// CacheTTL is how long a resolved address stays cached.
func (c NominatimConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// PipelineConfig configures enrichment runs. FetchSnapshotPath is the
// tag-only snapshot written by fetch; empty means fetch refreshes SnapshotPath.
type PipelineConfig struct {
	SnapshotPath      string `yaml:"snapshot_path" mapstructure:"snapshot_path"`
	FetchSnapshotPath string `yaml:"fetch_snapshot_path" mapstructure:"fetch_snapshot_path"`
	BoundaryPath      string `yaml:"boundary_path" mapstructure:"boundary_path"`
	Mode              string `yaml:"mode" mapstructure:"mode"`
	SkipDistricts     bool   `yaml:"skip_districts" mapstructure:"skip_districts"`
}

// FetchSnapshot returns the snapshot path the fetch command writes.
func (c PipelineConfig) FetchSnapshot() string {
	if c.FetchSnapshotPath != "" {
		return c.FetchSnapshotPath
	}
	return c.SnapshotPath
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	StaticDir      string   `yaml:"static_dir" mapstructure:"static_dir"`
	DataDir        string   `yaml:"data_dir" mapstructure:"data_dir"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// StoreConfig configures the SQLite side-car holding the run ledger and the
// geocode cache. An empty path disables it.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ScheduleConfig configures periodic enrichment inside serve.
type ScheduleConfig struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval   time.Duration `yaml:"interval" mapstructure:"interval"`
	RunOnStart bool          `yaml:"run_on_start" mapstructure:"run_on_start"`
}

// MonitoringConfig configures webhook alerts computed from the run ledger.
// Alerts are only evaluated inside serve with a store and a webhook URL.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinFinishedRuns      int     `yaml:"min_finished_runs" mapstructure:"min_finished_runs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// Enabled reports whether a webhook is configured.
func (c MonitoringConfig) Enabled() bool {
	return c.WebhookURL != ""
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// .env is optional; variables already set in the environment win.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ATM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("overpass.url", overpass.DefaultEndpoint)
	v.SetDefault("overpass.user_agent", "ctut-atm-mapper/1.0")
	v.SetDefault("overpass.timeout_secs", 60)
	v.SetDefault("overpass.bbox.south", 9.95)
	v.SetDefault("overpass.bbox.west", 105.60)
	v.SetDefault("overpass.bbox.north", 10.25)
	v.SetDefault("overpass.bbox.east", 105.85)
	v.SetDefault("overpass.amenities", overpass.DefaultAmenities)
	v.SetDefault("nominatim.url", "https://nominatim.openstreetmap.org")
	v.SetDefault("nominatim.user_agent", "ctut-atm-mapper/1.0")
	v.SetDefault("nominatim.accept_language", "vi")
	v.SetDefault("nominatim.rate_limit", 1.0)
	v.SetDefault("nominatim.quota", 40)
	v.SetDefault("nominatim.delay_ms", 1100)
	v.SetDefault("nominatim.cache_ttl_hours", 720)
	v.SetDefault("nominatim.breaker_failures", 5)
	v.SetDefault("nominatim.breaker_reset_secs", 30)
	v.SetDefault("nominatim.disabled", false)
	v.SetDefault("pipeline.snapshot_path", "data/atm-cantho-hybrid.json")
	v.SetDefault("pipeline.fetch_snapshot_path", "data/atm_cantho.json")
	v.SetDefault("pipeline.boundary_path", "data/ranhgioi.geojson")
	v.SetDefault("pipeline.mode", string(merge.ModeDiff))
	v.SetDefault("pipeline.skip_districts", false)
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.static_dir", "public")
	v.SetDefault("server.data_dir", "data")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("store.path", "atm.db")
	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.interval", "24h")
	v.SetDefault("schedule.run_on_start", false)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.min_finished_runs", 3)
	v.SetDefault("monitoring.lookback_window_hours", 72)
	v.SetDefault("monitoring.check_interval_secs", 3600)
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

// Validate checks the settings the given command depends on. mode is one of
// "enrich", "fetch" or "serve". All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "enrich", "fetch":
		errs = append(errs, c.validatePipeline()...)
	case "serve":
		errs = append(errs, c.validatePipeline()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port must be > 0 and <= 65535, got %d", c.Server.Port))
		}
		if c.Schedule.Enabled && c.Schedule.Interval < time.Minute {
			errs = append(errs, fmt.Sprintf("schedule.interval must be at least 1m, got %s", c.Schedule.Interval))
		}
		if c.Monitoring.Enabled() {
			if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
				errs = append(errs, fmt.Sprintf("monitoring.failure_rate_threshold must be within [0, 1], got %g", c.Monitoring.FailureRateThreshold))
			}
			if c.Monitoring.LookbackWindowHours <= 0 {
				errs = append(errs, fmt.Sprintf("monitoring.lookback_window_hours must be > 0, got %d", c.Monitoring.LookbackWindowHours))
			}
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validatePipeline() []string {
	var errs []string
	if err := c.Overpass.BBox.Validate(); err != nil {
		errs = append(errs, "overpass.bbox: "+err.Error())
	}
	if c.Overpass.URL == "" {
		errs = append(errs, "overpass.url is required")
	}
	if c.Nominatim.Quota < 0 {
		errs = append(errs, fmt.Sprintf("nominatim.quota must be >= 0, got %d", c.Nominatim.Quota))
	}
	if c.Nominatim.DelayMs < 0 {
		errs = append(errs, fmt.Sprintf("nominatim.delay_ms must be >= 0, got %d", c.Nominatim.DelayMs))
	}
	if !c.Nominatim.Disabled && c.Nominatim.UserAgent == "" {
		errs = append(errs, "nominatim.user_agent is required")
	}
	if _, err := merge.ParseMode(c.Pipeline.Mode); err != nil {
		errs = append(errs, "pipeline.mode: "+err.Error())
	}
	if c.Pipeline.SnapshotPath == "" {
		errs = append(errs, "pipeline.snapshot_path is required")
	}
	return errs
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
