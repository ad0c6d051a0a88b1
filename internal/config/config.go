package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"eodbars/internal/logging"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Supported bar providers.
const (
	ProviderTwelveData = "twelvedata"
	ProviderAlpaca     = "alpaca"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Quality   QualityConfig   `mapstructure:"quality"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the bar store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// Timescale converts market_data.bars into a hypertable during migrate.
	Timescale bool `mapstructure:"timescale"`
}

// SchedulerConfig governs the daily job cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Offset          time.Duration `mapstructure:"offset"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStartup    bool          `mapstructure:"run_on_startup"`
}

// ProviderConfig covers upstream market data access.
type ProviderConfig struct {
	Bars               string           `mapstructure:"bars"`
	TwelveData         TwelveDataConfig `mapstructure:"twelvedata"`
	Alpaca             AlpacaConfig     `mapstructure:"alpaca"`
	RateLimitPerMinute int              `mapstructure:"rate_limit_per_minute"`
	RateBurst          int              `mapstructure:"rate_burst"`
	Breaker            BreakerConfig    `mapstructure:"breaker"`
}

// TwelveDataConfig captures Twelve Data REST connectivity.
type TwelveDataConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AlpacaConfig captures Alpaca market data credentials.
type AlpacaConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	BaseURL   string `mapstructure:"base_url"`
	Feed      string `mapstructure:"feed"`
}

// BreakerConfig tunes the provider circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// CacheConfig enables the Redis read-through cache for bar fetches.
type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// JobsConfig holds the windows used by the scheduled entry points.
type JobsConfig struct {
	IngestWindowDays   int `mapstructure:"ingest_window_days"`
	RepairLookbackDays int `mapstructure:"repair_lookback_days"`
	ActionsWindowDays  int `mapstructure:"actions_window_days"`
	QualityWindowDays  int `mapstructure:"quality_window_days"`
}

// QualityConfig holds data quality thresholds.
type QualityConfig struct {
	MinBarsPerMonth      int     `mapstructure:"min_bars_per_month"`
	SpikeThreshold       float64 `mapstructure:"spike_threshold"`
	VolumeSpikeThreshold float64 `mapstructure:"volume_spike_threshold"`
	MaxDetails           int     `mapstructure:"max_details"`
}

// MetricsConfig exposes Prometheus metrics from the daemon when Listen is set.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EODBARS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "eodbars")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.timescale", false)

	// 22:00 UTC is after the US close in both EST and EDT.
	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.offset", "22h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x656f6462))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_startup", false)

	v.SetDefault("provider.bars", ProviderTwelveData)
	v.SetDefault("provider.twelvedata.base_url", "https://api.twelvedata.com")
	v.SetDefault("provider.twelvedata.api_key", "")
	v.SetDefault("provider.twelvedata.request_timeout", "15s")
	v.SetDefault("provider.twelvedata.user_agent", "eodbars/1.0")
	v.SetDefault("provider.alpaca.api_key", "")
	v.SetDefault("provider.alpaca.api_secret", "")
	v.SetDefault("provider.alpaca.base_url", "")
	v.SetDefault("provider.alpaca.feed", "iex")
	v.SetDefault("provider.rate_limit_per_minute", 8)
	v.SetDefault("provider.rate_burst", 1)
	v.SetDefault("provider.breaker.max_failures", 5)
	v.SetDefault("provider.breaker.open_timeout", "60s")

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", "10m")

	v.SetDefault("jobs.ingest_window_days", 5)
	v.SetDefault("jobs.repair_lookback_days", 30)
	v.SetDefault("jobs.actions_window_days", 7)
	v.SetDefault("jobs.quality_window_days", 30)

	v.SetDefault("quality.min_bars_per_month", 20)
	v.SetDefault("quality.spike_threshold", 5.0)
	v.SetDefault("quality.volume_spike_threshold", 10.0)
	v.SetDefault("quality.max_details", 100)

	v.SetDefault("metrics.listen", "")

	v.SetDefault("export.max_data_points", 5000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver)
	}
	switch c.Provider.Bars {
	case ProviderTwelveData, ProviderAlpaca:
	default:
		return fmt.Errorf("provider.bars must be %q or %q, got %q", ProviderTwelveData, ProviderAlpaca, c.Provider.Bars)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Offset < 0 || c.Scheduler.Offset >= c.Scheduler.Interval {
		return fmt.Errorf("scheduler.offset must be within [0, scheduler.interval)")
	}
	if c.Provider.RateLimitPerMinute < 0 {
		return fmt.Errorf("provider.rate_limit_per_minute cannot be negative")
	}
	if c.Jobs.IngestWindowDays <= 0 || c.Jobs.ActionsWindowDays <= 0 || c.Jobs.QualityWindowDays <= 0 {
		return fmt.Errorf("jobs windows must be greater than zero")
	}
	if c.Jobs.RepairLookbackDays <= 0 {
		return fmt.Errorf("jobs.repair_lookback_days must be greater than zero")
	}
	if c.Quality.MinBarsPerMonth <= 0 {
		return fmt.Errorf("quality.min_bars_per_month must be greater than zero")
	}
	if c.Quality.SpikeThreshold <= 0 || c.Quality.VolumeSpikeThreshold <= 0 {
		return fmt.Errorf("quality spike thresholds must be greater than zero")
	}
	if c.Quality.MaxDetails <= 0 {
		return fmt.Errorf("quality.max_details must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
