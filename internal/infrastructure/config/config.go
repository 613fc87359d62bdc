package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "github.com/ONEONUORA/stellar-insights/internal/domain/errors"
)

// Config holds all configuration for the application.
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	RPC         RPCConfig      `mapstructure:"rpc"`
	Listener    ListenerConfig `mapstructure:"listener"`
	Alert       AlertConfig    `mapstructure:"alert"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Host            string   `mapstructure:"host"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
	TrustedProxies  []string `mapstructure:"trusted_proxies"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	QueryTimeout    int    `mapstructure:"query_timeout"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
	// Enabled toggles the optional hot-read cache in front of event queries.
	Enabled bool `mapstructure:"enabled"`
	TTL     int  `mapstructure:"ttl_seconds"`
	// KeyPrefix namespaces every key this service writes, so the query
	// facade's cache can share a Redis instance with other services
	// without key collisions.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// RPCConfig configures the Soroban JSON-RPC client the Listener polls.
type RPCConfig struct {
	URL        string `mapstructure:"url"`
	ContractID string `mapstructure:"contract_id"`
	TimeoutSec int    `mapstructure:"timeout_seconds"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// ListenerConfig configures the polling state machine and retention sweep.
type ListenerConfig struct {
	PollIntervalSec  int   `mapstructure:"poll_interval_seconds"`
	StartLedger      int64 `mapstructure:"start_ledger"`
	RetentionDays    int   `mapstructure:"retention_days"`
	CleanupIntervalH int   `mapstructure:"cleanup_interval_hours"`
}

// AlertConfig configures the Alert Contract's delivery sinks.
type AlertConfig struct {
	WebhookURL    string `mapstructure:"webhook_url"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	EmailAPIKey   string `mapstructure:"email_api_key"`
	EmailFrom     string `mapstructure:"email_from"`
	EmailTo       string `mapstructure:"email_to"`
}

// PollInterval returns the configured polling cadence as a time.Duration.
func (l ListenerConfig) PollInterval() time.Duration {
	return time.Duration(l.PollIntervalSec) * time.Second
}

// RetentionPeriod returns the configured retention window as a time.Duration.
func (l ListenerConfig) RetentionPeriod() time.Duration {
	return time.Duration(l.RetentionDays) * 24 * time.Hour
}

// Timeout returns the configured RPC request timeout as a time.Duration.
func (r RPCConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSec) * time.Second
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.Name,
			cfg.Database.SSLMode,
		)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.rate_limit_per_min", 120)
	viper.SetDefault("server.allowed_origins", []string{"*"})

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "stellar_insights")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 50)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", 3600)
	viper.SetDefault("database.query_timeout", 30)
	viper.SetDefault("database.max_retries", 3)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.ttl_seconds", 30)
	viper.SetDefault("redis.key_prefix", "stellar-insights")

	viper.SetDefault("rpc.url", "https://soroban-testnet.stellar.org")
	viper.SetDefault("rpc.timeout_seconds", 30)
	viper.SetDefault("rpc.max_retries", 3)

	viper.SetDefault("listener.poll_interval_seconds", 10)
	viper.SetDefault("listener.start_ledger", 0)
	viper.SetDefault("listener.retention_days", 90)
	viper.SetDefault("listener.cleanup_interval_hours", 24)
}

func overrideFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}

	if rpcURL := os.Getenv("SOROBAN_RPC_URL"); rpcURL != "" {
		viper.Set("rpc.url", rpcURL)
	}
	if contractID := os.Getenv("SNAPSHOT_CONTRACT_ID"); contractID != "" {
		viper.Set("rpc.contract_id", contractID)
	}
	if pollInterval := os.Getenv("CONTRACT_EVENT_POLL_INTERVAL"); pollInterval != "" {
		if secs, err := strconv.Atoi(pollInterval); err == nil {
			viper.Set("listener.poll_interval_seconds", secs)
		}
	}
	if startLedger := os.Getenv("CONTRACT_EVENT_START_LEDGER"); startLedger != "" {
		if ledger, err := strconv.ParseInt(startLedger, 10, 64); err == nil {
			viper.Set("listener.start_ledger", ledger)
		}
	}
	if retentionDays := os.Getenv("EVENT_RETENTION_DAYS"); retentionDays != "" {
		if days, err := strconv.Atoi(retentionDays); err == nil {
			viper.Set("listener.retention_days", days)
		}
	}

	if webhookURL := os.Getenv("ALERT_WEBHOOK_URL"); webhookURL != "" {
		viper.Set("alert.webhook_url", webhookURL)
	}
	if webhookSecret := os.Getenv("ALERT_WEBHOOK_SECRET"); webhookSecret != "" {
		viper.Set("alert.webhook_secret", webhookSecret)
	}
	if emailAPIKey := os.Getenv("SENDGRID_API_KEY"); emailAPIKey != "" {
		viper.Set("alert.email_api_key", emailAPIKey)
	}
	if emailFrom := os.Getenv("ALERT_EMAIL_FROM"); emailFrom != "" {
		viper.Set("alert.email_from", emailFrom)
	}
	if emailTo := os.Getenv("ALERT_EMAIL_TO"); emailTo != "" {
		viper.Set("alert.email_to", emailTo)
	}
}

func validate(cfg *Config) error {
	if cfg.RPC.URL == "" {
		return fmt.Errorf("SOROBAN_RPC_URL is required")
	}
	if cfg.RPC.ContractID == "" {
		return apperrors.ErrConfigMissingContractID
	}
	if cfg.Database.URL == "" && (cfg.Database.Host == "" || cfg.Database.Name == "") {
		return fmt.Errorf("database configuration is incomplete")
	}
	return nil
}
