package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"hyperstats/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Venue    VenueConfig    `mapstructure:"venue"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
	Signals  SignalsConfig  `mapstructure:"signals"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates optional PostgreSQL connectivity for the
// condition registry and alert audit log.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	AuditRetention  time.Duration `mapstructure:"audit_retention"`
}

// VenueConfig covers exchange API access.
type VenueConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	WSURL          string        `mapstructure:"ws_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	HistoryChunk   int           `mapstructure:"history_chunk"`
	MaxInFlight    int           `mapstructure:"max_in_flight"`
}

// RefreshConfig governs the polling cadence and retention window.
type RefreshConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	Horizon      time.Duration `mapstructure:"horizon"`
}

// SignalsConfig tunes signal derivation thresholds.
type SignalsConfig struct {
	TopK                   int           `mapstructure:"top_k"`
	OISpikeThresholdPct    float64       `mapstructure:"oi_spike_threshold_pct"`
	VolumeSpikeRatio       float64       `mapstructure:"volume_spike_ratio"`
	CascadeBucket          time.Duration `mapstructure:"cascade_bucket"`
	CascadeMinCount        int           `mapstructure:"cascade_min_count"`
	DivergenceThresholdPct float64       `mapstructure:"divergence_threshold_pct"`
	MinLiquidationSize     float64       `mapstructure:"min_liquidation_size"`
}

// AlertingConfig defines delivery routing.
type AlertingConfig struct {
	Enabled    bool           `mapstructure:"enabled"`
	QueueDepth int            `mapstructure:"queue_depth"`
	Telegram   TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram sink.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	// Secrets such as the bot token commonly live in a local .env file.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("HYPERSTATS")
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
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "hyperstats")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("venue.base_url", "https://api.hyperliquid.xyz")
	v.SetDefault("venue.ws_url", "wss://api.hyperliquid.xyz/ws")
	v.SetDefault("venue.request_timeout", "10s")
	v.SetDefault("venue.user_agent", "hyperstats/1.0")
	v.SetDefault("venue.history_chunk", 25)
	v.SetDefault("venue.max_in_flight", 8)

	v.SetDefault("refresh.interval", "30s")
	v.SetDefault("refresh.startup_delay", "0s")
	v.SetDefault("refresh.horizon", "24h")

	v.SetDefault("signals.top_k", 5)
	v.SetDefault("signals.oi_spike_threshold_pct", 10.0)
	v.SetDefault("signals.volume_spike_ratio", 2.0)
	v.SetDefault("signals.cascade_bucket", "5m")
	v.SetDefault("signals.cascade_min_count", 3)
	v.SetDefault("signals.divergence_threshold_pct", 50.0)
	v.SetDefault("signals.min_liquidation_size", 0.0)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.queue_depth", 128)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.audit_retention", "720h")
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
	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be greater than zero")
	}
	if c.Refresh.Horizon <= 0 {
		return fmt.Errorf("refresh.horizon must be greater than zero")
	}
	if c.Venue.RequestTimeout <= 0 {
		return fmt.Errorf("venue.request_timeout must be greater than zero")
	}
	if c.Venue.HistoryChunk <= 0 {
		return fmt.Errorf("venue.history_chunk must be greater than zero")
	}
	if c.Venue.MaxInFlight <= 0 {
		return fmt.Errorf("venue.max_in_flight must be greater than zero")
	}
	if c.Signals.TopK <= 0 {
		return fmt.Errorf("signals.top_k must be greater than zero")
	}
	if c.Signals.OISpikeThresholdPct < 0 {
		return fmt.Errorf("signals.oi_spike_threshold_pct cannot be negative")
	}
	if c.Signals.VolumeSpikeRatio <= 0 {
		return fmt.Errorf("signals.volume_spike_ratio must be greater than zero")
	}
	if c.Signals.MinLiquidationSize < 0 {
		return fmt.Errorf("signals.min_liquidation_size cannot be negative")
	}
	if c.Database.AuditRetention < 0 {
		return fmt.Errorf("database.audit_retention cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be configured")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be configured")
		}
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
