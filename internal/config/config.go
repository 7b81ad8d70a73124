package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"lol-match-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Logging       logging.Config      `mapstructure:"logging"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Riot          RiotConfig          `mapstructure:"riot"`
	RateLimit     RateLimitConfig     `mapstructure:"ratelimit"`
	Polling       PollingConfig       `mapstructure:"polling"`
	Rules         RulesConfig         `mapstructure:"rules"`
	Stats         StatsConfig         `mapstructure:"stats"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Export        ExportConfig        `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RiotConfig covers access to the Riot match API.
type RiotConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	Region         string        `mapstructure:"region"`
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// InvalidResponsesDir receives raw payloads that fail schema validation,
	// for out-of-band diagnosis.
	InvalidResponsesDir string `mapstructure:"invalid_responses_dir"`
}

// RateLimitConfig mirrors the documented API quota.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// PollingConfig governs the match discovery loop.
type PollingConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Workers         int           `mapstructure:"workers"`
	BatchSize       int           `mapstructure:"batch_size"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
}

// RulesConfig points at the declarative rule set.
type RulesConfig struct {
	Path string `mapstructure:"path"`
}

// StatsConfig tunes the percentile snapshot refresh cadence, deliberately
// slower than per-match evaluation.
type StatsConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// NotificationsConfig defines delivery channels for fired rules.
type NotificationsConfig struct {
	Discord DiscordConfig `mapstructure:"discord"`
}

// DiscordConfig describes the webhook channel.
type DiscordConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LOLWATCHER")
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
	v.SetDefault("app.name", "lolwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("riot.region", "europe")
	v.SetDefault("riot.request_timeout", "30s")
	v.SetDefault("riot.invalid_responses_dir", "data/invalid_responses")

	// The documented development quota: 100 requests per 2 minutes.
	v.SetDefault("ratelimit.requests", 100)
	v.SetDefault("ratelimit.window", "2m")

	v.SetDefault("polling.interval", "5m")
	v.SetDefault("polling.workers", 4)
	v.SetDefault("polling.batch_size", 20)
	v.SetDefault("polling.startup_delay", "0s")
	v.SetDefault("polling.align_to_interval", false)

	v.SetDefault("rules.path", "rules.yaml")

	v.SetDefault("stats.refresh_interval", "15m")

	v.SetDefault("notifications.discord.enabled", false)
	v.SetDefault("notifications.discord.timeout", "10s")

	v.SetDefault("export.max_data_points", 2000)
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
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("polling.interval must be greater than zero")
	}
	if c.Polling.Workers <= 0 {
		return fmt.Errorf("polling.workers must be greater than zero")
	}
	if c.Polling.BatchSize <= 0 || c.Polling.BatchSize > 100 {
		return fmt.Errorf("polling.batch_size must be between 1 and 100")
	}
	if c.RateLimit.Requests <= 0 {
		return fmt.Errorf("ratelimit.requests must be greater than zero")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("ratelimit.window must be greater than zero")
	}
	if c.Stats.RefreshInterval <= 0 {
		return fmt.Errorf("stats.refresh_interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Notifications.Discord.Enabled && c.Notifications.Discord.WebhookURL == "" {
		return fmt.Errorf("notifications.discord.webhook_url must be configured when discord is enabled")
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
