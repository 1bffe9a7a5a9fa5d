package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"whale-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Social   SocialConfig   `mapstructure:"social"`
	Model    ModelConfig    `mapstructure:"model"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Database DatabaseConfig `mapstructure:"database"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// FeedConfig covers the Whale Alert websocket subscription.
type FeedConfig struct {
	URL              string        `mapstructure:"url"`
	APIKey           string        `mapstructure:"api_key"`
	Blockchains      []string      `mapstructure:"blockchains"`
	Symbols          []string      `mapstructure:"symbols"`
	MinValueUSD      int64         `mapstructure:"min_value_usd"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	SubscribeTimeout time.Duration `mapstructure:"subscribe_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	QueueSize        int           `mapstructure:"queue_size"`
}

// SocialConfig drives the optional Twitter context lookup.
type SocialConfig struct {
	BearerToken   string        `mapstructure:"bearer_token"`
	BaseURL       string        `mapstructure:"base_url"`
	MaxResults    int           `mapstructure:"max_results"`
	Timeout       time.Duration `mapstructure:"timeout"`
	DisplayLength int           `mapstructure:"display_length"`
	RatePerMinute float64       `mapstructure:"rate_per_minute"`
}

// ModelConfig points at an OpenAI-compatible inference endpoint.
type ModelConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	ModelID     string        `mapstructure:"model_id"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	BotToken      string        `mapstructure:"bot_token"`
	ChatID        string        `mapstructure:"chat_id"`
	APIBase       string        `mapstructure:"api_base"`
	ParseMode     string        `mapstructure:"parse_mode"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

// PipelineConfig bounds per-alert fan-out.
type PipelineConfig struct {
	MaxInFlight  int           `mapstructure:"max_in_flight"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the delivery audit log.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// AuditConfig governs retention of delivery records.
type AuditConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

// MetricsConfig exposes the prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WHALEWATCH")
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
	v.SetDefault("app.name", "whalewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 7)
	v.SetDefault("logging.file.max_age_days", 30)

	v.SetDefault("feed.url", "wss://leviathan.whale-alert.io/ws")
	v.SetDefault("feed.api_key", "")
	v.SetDefault("feed.blockchains", []string{"ethereum", "bitcoin"})
	v.SetDefault("feed.symbols", []string{"eth", "btc"})
	v.SetDefault("feed.min_value_usd", 10000)
	v.SetDefault("feed.reconnect_delay", "300s")
	v.SetDefault("feed.handshake_timeout", "15s")
	v.SetDefault("feed.subscribe_timeout", "20s")
	v.SetDefault("feed.read_timeout", "60s")
	v.SetDefault("feed.queue_size", 64)

	v.SetDefault("social.bearer_token", "")
	v.SetDefault("social.base_url", "https://api.twitter.com")
	v.SetDefault("social.max_results", 10)
	v.SetDefault("social.timeout", "10s")
	v.SetDefault("social.display_length", 150)
	v.SetDefault("social.rate_per_minute", 30.0)

	v.SetDefault("model.api_key", "")
	v.SetDefault("model.base_url", "https://api.cerebras.ai/v1")
	v.SetDefault("model.model_id", "llama3.1-8b")
	v.SetDefault("model.max_tokens", 60)
	v.SetDefault("model.temperature", 0.7)
	v.SetDefault("model.timeout", "120s")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.parse_mode", "Markdown")
	v.SetDefault("telegram.timeout", "10s")
	v.SetDefault("telegram.rate_per_second", 1.0)
	v.SetDefault("telegram.burst", 5)

	v.SetDefault("pipeline.max_in_flight", 0)
	v.SetDefault("pipeline.drain_timeout", "10s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x77686c77))

	v.SetDefault("audit.retention", "720h")
	v.SetDefault("audit.prune_interval", "1h")

	v.SetDefault("metrics.listen_addr", "")

	v.SetDefault("export.max_data_points", 10000)
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
	if c.Feed.ReconnectDelay <= 0 {
		return fmt.Errorf("feed.reconnect_delay must be greater than zero")
	}
	if c.Feed.MinValueUSD < 0 {
		return fmt.Errorf("feed.min_value_usd cannot be negative")
	}
	if c.Feed.QueueSize < 0 {
		return fmt.Errorf("feed.queue_size cannot be negative")
	}
	if c.Social.DisplayLength <= 0 {
		return fmt.Errorf("social.display_length must be greater than zero")
	}
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("model.max_tokens must be greater than zero")
	}
	if c.Pipeline.MaxInFlight < 0 {
		return fmt.Errorf("pipeline.max_in_flight cannot be negative")
	}
	if c.Pipeline.DrainTimeout < 0 {
		return fmt.Errorf("pipeline.drain_timeout cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Audit.Retention > 0 && c.Audit.PruneInterval <= 0 {
		return fmt.Errorf("audit.prune_interval must be greater than zero when retention is set")
	}
	return nil
}

// ValidateRuntime checks the credentials the alerter cannot run without.
func (c *Config) ValidateRuntime() error {
	var missing []string
	if c.Feed.APIKey == "" {
		missing = append(missing, "feed.api_key")
	}
	if c.Feed.URL == "" {
		missing = append(missing, "feed.url")
	}
	if len(c.Feed.Symbols) == 0 {
		missing = append(missing, "feed.symbols")
	}
	return missingError(append(missing, c.missingDelivery()...))
}

// ValidateDelivery checks only what enrichment and delivery need, for
// commands that never touch the feed.
func (c *Config) ValidateDelivery() error {
	return missingError(c.missingDelivery())
}

func (c *Config) missingDelivery() []string {
	var missing []string
	if c.Model.APIKey == "" {
		missing = append(missing, "model.api_key")
	}
	if c.Model.ModelID == "" {
		missing = append(missing, "model.model_id")
	}
	if c.Telegram.BotToken == "" {
		missing = append(missing, "telegram.bot_token")
	}
	if c.Telegram.ChatID == "" {
		missing = append(missing, "telegram.chat_id")
	}
	return missing
}

func missingError(missing []string) error {
	if len(missing) > 0 {
		return fmt.Errorf("missing essential config: %s", strings.Join(missing, ", "))
	}
	return nil
}

// SocialEnabled reports whether tweets should be fetched for context.
func (c *Config) SocialEnabled() bool {
	return c.Social.BearerToken != ""
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
