// Package config loads process configuration from YAML, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Config is the root configuration structure.
type Config struct {
	General   GeneralConfig   `yaml:"general"`
	Discord   DiscordConfig   `yaml:"discord"`
	Birdeye   BirdeyeConfig   `yaml:"birdeye"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	HTTP      HTTPConfig      `yaml:"http"`
}

type GeneralConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json|text
}

type DiscordConfig struct {
	Token        string        `yaml:"token"`
	ChannelID    string        `yaml:"channel_id"`
	GuildID      string        `yaml:"guild_id"`
	BaseURL      string        `yaml:"base_url"`
	BotName      string        `yaml:"bot_name"`
	MessageLimit int           `yaml:"message_limit"`
	Timeout      time.Duration `yaml:"timeout"`
}

type BirdeyeConfig struct {
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	Chain          string        `yaml:"chain"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
}

type DeliveryConfig struct {
	BaseURL string        `yaml:"base_url"`
	AgentID string        `yaml:"agent_id"`
	Timeout time.Duration `yaml:"timeout"`
}

type StorageConfig struct {
	Backend          string        `yaml:"backend"` // file|memory|postgres|mongo
	DataFile         string        `yaml:"data_file"`
	PostgresDSN      string        `yaml:"postgres_dsn"`
	MongoURI         string        `yaml:"mongo_uri"`
	ClickHouseDSN    string        `yaml:"clickhouse_dsn"` // optional performance history sink
	LegacyImportFile string        `yaml:"legacy_import_file"`
	RefreshInterval  time.Duration `yaml:"refresh_interval"` // performance throttle window
}

type SchedulerConfig struct {
	IngestInterval   time.Duration `yaml:"ingest_interval"`
	MentionInterval  time.Duration `yaml:"mention_interval"`
	RefreshInterval  time.Duration `yaml:"refresh_interval"`
	DeliveryInterval time.Duration `yaml:"delivery_interval"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads an optional YAML file, applies defaults and environment overrides, and validates.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		// Expand environment variables
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyDefaults(cfg)
	applyEnv(cfg, os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}

	if cfg.Discord.BaseURL == "" {
		cfg.Discord.BaseURL = "https://discord.com/api/v9"
	}
	if cfg.Discord.BotName == "" {
		cfg.Discord.BotName = "Rick"
	}
	if cfg.Discord.MessageLimit == 0 {
		cfg.Discord.MessageLimit = 50
	}
	if cfg.Discord.Timeout == 0 {
		cfg.Discord.Timeout = 60 * time.Second
	}

	if cfg.Birdeye.BaseURL == "" {
		cfg.Birdeye.BaseURL = "https://public-api.birdeye.so"
	}
	if cfg.Birdeye.Chain == "" {
		cfg.Birdeye.Chain = "solana"
	}
	if cfg.Birdeye.Timeout == 0 {
		cfg.Birdeye.Timeout = 10 * time.Second
	}
	if cfg.Birdeye.MaxAttempts == 0 {
		cfg.Birdeye.MaxAttempts = 3
	}
	if cfg.Birdeye.RetryDelay == 0 {
		cfg.Birdeye.RetryDelay = 2 * time.Second
	}
	if cfg.Birdeye.RateLimitRPS == 0 {
		cfg.Birdeye.RateLimitRPS = 5
	}
	if cfg.Birdeye.RateLimitBurst == 0 {
		cfg.Birdeye.RateLimitBurst = 5
	}

	if cfg.Delivery.BaseURL == "" {
		cfg.Delivery.BaseURL = "http://localhost:3000"
	}
	if cfg.Delivery.Timeout == 0 {
		cfg.Delivery.Timeout = 5 * time.Second
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendFile
	}
	if cfg.Storage.DataFile == "" {
		cfg.Storage.DataFile = "data/tokens.json"
	}
	if cfg.Storage.RefreshInterval == 0 {
		cfg.Storage.RefreshInterval = 30 * time.Minute
	}

	if cfg.Scheduler.IngestInterval == 0 {
		cfg.Scheduler.IngestInterval = 2 * time.Second
	}
	if cfg.Scheduler.MentionInterval == 0 {
		cfg.Scheduler.MentionInterval = 15 * time.Second
	}
	if cfg.Scheduler.RefreshInterval == 0 {
		cfg.Scheduler.RefreshInterval = 30 * time.Minute
	}
	if cfg.Scheduler.DeliveryInterval == 0 {
		cfg.Scheduler.DeliveryInterval = 6 * time.Minute
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":3210"
	}
}

// applyEnv overrides fields from the deployment environment.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set("LOG_LEVEL", &cfg.General.LogLevel)
	set("LOG_FORMAT", &cfg.General.LogFormat)
	set("AUTHORIZATION_TOKEN", &cfg.Discord.Token)
	set("CHANNEL_ID", &cfg.Discord.ChannelID)
	set("GUILD_ID", &cfg.Discord.GuildID)
	set("BIRDEYE_API_KEY", &cfg.Birdeye.APIKey)
	set("AGENT_ID", &cfg.Delivery.AgentID)
	set("DELIVERY_URL", &cfg.Delivery.BaseURL)
	set("STORAGE_BACKEND", &cfg.Storage.Backend)
	set("DATA_FILE", &cfg.Storage.DataFile)
	set("POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	set("MONGO_URI", &cfg.Storage.MongoURI)
	set("CLICKHOUSE_DSN", &cfg.Storage.ClickHouseDSN)
	set("LEGACY_IMPORT_FILE", &cfg.Storage.LegacyImportFile)

	if port, ok := lookup("PORT"); ok && port != "" {
		cfg.HTTP.Addr = ":" + port
	}
}

// Validate checks settings every command needs.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.DataFile == "" {
			errs = append(errs, errors.New("storage.data_file is required for the file backend"))
		}
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres backend"))
		}
	case BackendMongo:
		if c.Storage.MongoURI == "" {
			errs = append(errs, errors.New("storage.mongo_uri is required for the mongo backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	switch c.General.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.General.LogFormat))
	}

	if c.Storage.RefreshInterval <= 0 {
		errs = append(errs, errors.New("storage.refresh_interval must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"scheduler.ingest_interval":   c.Scheduler.IngestInterval,
		"scheduler.mention_interval":  c.Scheduler.MentionInterval,
		"scheduler.refresh_interval":  c.Scheduler.RefreshInterval,
		"scheduler.delivery_interval": c.Scheduler.DeliveryInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Birdeye.MaxAttempts < 1 {
		errs = append(errs, errors.New("birdeye.max_attempts must be at least 1"))
	}

	return errors.Join(errs...)
}

// ValidatePipeline checks the credentials the pipeline process needs on top of Validate.
func (c *Config) ValidatePipeline() error {
	var errs []error
	required := []struct {
		name  string
		value string
	}{
		{"AUTHORIZATION_TOKEN", c.Discord.Token},
		{"CHANNEL_ID", c.Discord.ChannelID},
		{"GUILD_ID", c.Discord.GuildID},
		{"BIRDEYE_API_KEY", c.Birdeye.APIKey},
		{"AGENT_ID", c.Delivery.AgentID},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}
	return errors.Join(errs...)
}
