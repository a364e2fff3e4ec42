package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the batch orchestration service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Providers     ProviderConfig      `mapstructure:"providers"`
	Models        []ModelCardEntry    `mapstructure:"models"`
	ModelAliases  []ModelAliasEntry   `mapstructure:"model_aliases"`
	Batches       BatchesConfig       `mapstructure:"batches"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	Images        ImagesConfig        `mapstructure:"images"`
	Realtime      RealtimeConfig      `mapstructure:"realtime"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MinConns        int32         `mapstructure:"min_conns"`
}

// UsesMemory reports whether the in-process store was selected.
func (d DatabaseConfig) UsesMemory() bool {
	return strings.EqualFold(strings.TrimSpace(d.Driver), "memory")
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type ProviderConfig struct {
	OpenAIKey        string        `mapstructure:"openai_key"`
	OpenAIBaseURL    string        `mapstructure:"openai_base_url"`
	OpenAIOrg        string        `mapstructure:"openai_organization"`
	AnthropicKey     string        `mapstructure:"anthropic_key"`
	AnthropicBaseURL string        `mapstructure:"anthropic_base_url"`
	AnthropicVersion string        `mapstructure:"anthropic_version"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// ModelCardEntry is a model card declared in configuration and seeded into the store.
type ModelCardEntry struct {
	APIModel       string   `mapstructure:"api_model"`
	Name           string   `mapstructure:"name"`
	Provider       string   `mapstructure:"provider"`
	ModelType      string   `mapstructure:"model_type"`
	InModalities   []string `mapstructure:"in_modalities"`
	BatchUse       *bool    `mapstructure:"batch_use"`
	ContextType    string   `mapstructure:"context_type"`
	MaxOutTokens   int32    `mapstructure:"max_out_tokens"`
	InputCostPerM  float64  `mapstructure:"input_1m_token_cost"`
	OutputCostPerM float64  `mapstructure:"output_1m_token_cost"`
}

func (e ModelCardEntry) IsBatchEnabled() bool {
	if e.BatchUse == nil {
		return true
	}
	return *e.BatchUse
}

// ModelAliasEntry maps a short model name onto a canonical api model.
type ModelAliasEntry struct {
	Alias  string `mapstructure:"alias"`
	Target string `mapstructure:"target"`
}

type BatchesConfig struct {
	SummaryModel        string  `mapstructure:"summary_model"`
	DefaultModel        string  `mapstructure:"default_model"`
	DefaultMaxTokens    int32   `mapstructure:"default_max_tokens"`
	BatchDiscount       float64 `mapstructure:"batch_discount"`
	QueueListWindowDays int     `mapstructure:"queue_list_window_days"`
}

type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DailyHour    int           `mapstructure:"daily_hour"`
	DailyMinute  int           `mapstructure:"daily_minute"`
	Timezone     string        `mapstructure:"timezone"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type WebhookConfig struct {
	OpenAISecret   string        `mapstructure:"openai_secret"`
	Tolerance      time.Duration `mapstructure:"tolerance"`
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`
	DedupeTTL      time.Duration `mapstructure:"dedupe_ttl"`
}

type ImagesConfig struct {
	Storage       string            `mapstructure:"storage"`
	MaxDimension  int               `mapstructure:"max_dimension"`
	JPEGQuality   int               `mapstructure:"jpeg_quality"`
	EncryptionKey string            `mapstructure:"encryption_key"`
	S3            ImagesS3Config    `mapstructure:"s3"`
	Local         ImagesLocalConfig `mapstructure:"local"`
}

type ImagesS3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type ImagesLocalConfig struct {
	Directory string `mapstructure:"directory"`
}

type RealtimeConfig struct {
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else if cfg := os.Getenv("LIFEHUB_CONFIG_FILE"); cfg != "" {
		v.SetConfigFile(cfg)
		explicitFile = true
	}

	if !explicitFile {
		v.SetConfigName("lifehub")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("LIFEHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set and fills derived defaults.
func (c *Config) Validate() error {
	var missing []string

	if !c.Database.UsesMemory() && c.Database.URL == "" {
		missing = append(missing, "LIFEHUB_DATABASE_URL")
	}
	if c.Redis.URL == "" {
		missing = append(missing, "LIFEHUB_REDIS_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "", "postgres":
		c.Database.Driver = "postgres"
	case "memory":
		c.Database.Driver = "memory"
	default:
		return fmt.Errorf("database.driver must be postgres or memory")
	}
	if c.Database.MaxConns < 0 {
		return fmt.Errorf("database.max_conns must be >= 0")
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}
	if c.Providers.Timeout <= 0 {
		c.Providers.Timeout = 120 * time.Second
	}

	if err := c.Batches.validate(); err != nil {
		return err
	}
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	if err := c.Webhook.validate(); err != nil {
		return err
	}
	if err := c.Images.validate(); err != nil {
		return err
	}

	for i, entry := range c.Models {
		if strings.TrimSpace(entry.APIModel) == "" {
			return fmt.Errorf("models[%d].api_model must be provided", i)
		}
		switch strings.ToLower(strings.TrimSpace(entry.Provider)) {
		case "openai", "anthropic":
		default:
			return fmt.Errorf("models[%d].provider must be OpenAI or Anthropic", i)
		}
		switch entry.ContextType {
		case "":
			c.Models[i].ContextType = "system"
		case "none", "system", "developer":
		default:
			return fmt.Errorf("models[%d].context_type must be none, system or developer", i)
		}
		if entry.InputCostPerM < 0 || entry.OutputCostPerM < 0 {
			return fmt.Errorf("models[%d] token costs must be >= 0", i)
		}
		if strings.TrimSpace(entry.Name) == "" {
			c.Models[i].Name = entry.APIModel
		}
	}

	if len(c.ModelAliases) == 0 {
		c.ModelAliases = DefaultModelAliases()
	}
	for i, entry := range c.ModelAliases {
		if strings.TrimSpace(entry.Alias) == "" || strings.TrimSpace(entry.Target) == "" {
			return fmt.Errorf("model_aliases[%d] requires alias and target", i)
		}
	}

	if strings.TrimSpace(c.Realtime.ChannelPrefix) == "" {
		c.Realtime.ChannelPrefix = "lifehub:rt"
	}
	return nil
}

func (b *BatchesConfig) validate() error {
	if strings.TrimSpace(b.SummaryModel) == "" {
		return fmt.Errorf("batches.summary_model must be provided")
	}
	if b.DefaultMaxTokens <= 0 {
		b.DefaultMaxTokens = 4096
	}
	if b.BatchDiscount < 0 || b.BatchDiscount > 1 {
		return fmt.Errorf("batches.batch_discount must be between 0 and 1")
	}
	if b.QueueListWindowDays <= 0 {
		b.QueueListWindowDays = 7
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	if s.DailyHour < 0 || s.DailyHour > 23 {
		return fmt.Errorf("scheduler.daily_hour must be between 0 and 23")
	}
	if s.DailyMinute < 0 || s.DailyMinute > 59 {
		return fmt.Errorf("scheduler.daily_minute must be between 0 and 59")
	}
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		tz = "Local"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("invalid scheduler.timezone: %w", err)
	}
	s.Timezone = tz
	if s.TickInterval <= 0 {
		s.TickInterval = time.Minute
	}
	if s.PollInterval <= 0 {
		s.PollInterval = 15 * time.Minute
	}
	return nil
}

// Location returns the timezone the daily trigger is evaluated in.
func (s SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (w *WebhookConfig) validate() error {
	if w.Tolerance <= 0 {
		w.Tolerance = 5 * time.Minute
	}
	if w.ProcessTimeout <= 0 {
		w.ProcessTimeout = 2 * time.Minute
	}
	if w.DedupeTTL <= 0 {
		w.DedupeTTL = 24 * time.Hour
	}
	return nil
}

func (i *ImagesConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(i.Storage)) {
	case "", "local":
		i.Storage = "local"
	case "s3":
		i.Storage = "s3"
		if strings.TrimSpace(i.S3.Bucket) == "" {
			return fmt.Errorf("images.s3.bucket must be provided for s3 storage")
		}
	default:
		return fmt.Errorf("images.storage must be local or s3")
	}
	if i.MaxDimension <= 0 {
		i.MaxDimension = 2048
	}
	if i.JPEGQuality <= 0 || i.JPEGQuality > 100 {
		i.JPEGQuality = 85
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_mb", 10)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.run_migrations", true)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("providers.anthropic_version", "2023-06-01")
	v.SetDefault("providers.timeout", "120s")

	v.SetDefault("batches.summary_model", "gpt-4.1-nano-2025-04-14")
	v.SetDefault("batches.default_model", "gpt-4.1-2025-04-14")
	v.SetDefault("batches.default_max_tokens", 4096)
	v.SetDefault("batches.batch_discount", 0.5)
	v.SetDefault("batches.queue_list_window_days", 7)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.daily_hour", 19)
	v.SetDefault("scheduler.daily_minute", 0)
	v.SetDefault("scheduler.timezone", "Local")
	v.SetDefault("scheduler.tick_interval", "1m")
	v.SetDefault("scheduler.poll_interval", "15m")

	v.SetDefault("webhook.tolerance", "5m")
	v.SetDefault("webhook.process_timeout", "2m")
	v.SetDefault("webhook.dedupe_ttl", "24h")

	v.SetDefault("images.storage", "local")
	v.SetDefault("images.max_dimension", 2048)
	v.SetDefault("images.jpeg_quality", 85)
	v.SetDefault("images.local.directory", "./data/images")

	v.SetDefault("realtime.channel_prefix", "lifehub:rt")

	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")

	v.SetDefault("logging.level", "info")
}

// DefaultModelAliases maps short model names to their dated snapshots.
func DefaultModelAliases() []ModelAliasEntry {
	return []ModelAliasEntry{
		{Alias: "o1", Target: "o1-2024-12-17"},
		{Alias: "o1-preview", Target: "o1-preview-2024-09-12"},
		{Alias: "o1-mini", Target: "o1-mini-2024-09-12"},
		{Alias: "o3-mini", Target: "o3-mini-2025-01-31"},
		{Alias: "gpt-4o", Target: "gpt-4o-2024-11-20"},
		{Alias: "gpt-4o-mini", Target: "gpt-4o-mini-2024-07-18"},
		{Alias: "gpt-4.1", Target: "gpt-4.1-2025-04-14"},
		{Alias: "gpt-4.1-mini", Target: "gpt-4.1-mini-2025-04-14"},
		{Alias: "gpt-4.1-nano", Target: "gpt-4.1-nano-2025-04-14"},
	}
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
