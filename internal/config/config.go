package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"snowpulse/pkg/errors"
	"snowpulse/pkg/models"
)

const (
	// EnvPrefix prefixes every environment override, e.g. SNOWPULSE_SNOWFLAKE_ACCOUNT.
	EnvPrefix = "SNOWPULSE"
	// EnvConfigFile overrides the config file location.
	EnvConfigFile = "SNOWPULSE_CONFIG"

	dirPermission  = 0700
	filePermission = 0600
)

// DefaultTickers are the symbols tracked by the market-data pipeline.
var DefaultTickers = []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA", "NVDA", "META"}

func GetConfigPath() string {
	if configFile := os.Getenv(EnvConfigFile); configFile != "" {
		return filepath.Dir(configFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".snowpulse")
}

func GetConfigFile() string {
	if configFile := os.Getenv(EnvConfigFile); configFile != "" {
		cleaned, err := cleanPath(configFile)
		if err != nil {
			return filepath.Join(GetConfigPath(), "config.yaml")
		}
		return cleaned
	}
	return filepath.Join(GetConfigPath(), "config.yaml")
}

// SetDefaults registers every key with viper. Keys without a default are
// invisible to AutomaticEnv, so all of them are listed here.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("snowflake.account", "")
	v.SetDefault("snowflake.username", "")
	v.SetDefault("snowflake.password", "")
	v.SetDefault("snowflake.private_key_path", "")
	v.SetDefault("snowflake.private_key_passphrase", "")
	v.SetDefault("snowflake.role", "")
	v.SetDefault("snowflake.warehouse", "")
	v.SetDefault("snowflake.database", "")
	v.SetDefault("snowflake.schema", "COMMON")
	v.SetDefault("snowflake.timeout", 30*time.Second)

	v.SetDefault("quality.tickers", DefaultTickers)
	v.SetDefault("quality.retention", 7*24*time.Hour)
	v.SetDefault("quality.log_table", "COMMON.QUALITY_LOG")

	v.SetDefault("alerts.table", "COMMON.ALERT_LOG")
	v.SetDefault("alerts.quality_window", 65*time.Minute)
	v.SetDefault("alerts.market_window", 24*time.Hour)
	v.SetDefault("alerts.big_move_threshold_pct", 3.0)
	v.SetDefault("alerts.volume_multiplier", 2.0)
	v.SetDefault("alerts.market_alerts", true)

	v.SetDefault("scheduler.quality_spec", "@every 60m")
	v.SetDefault("scheduler.alerts_spec", "@every 5m")
	v.SetDefault("scheduler.lock_ttl", 30*time.Minute)
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.prefix", "snowpulse")

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("ingest.api_key", "")
	v.SetDefault("ingest.base_url", "https://api.polygon.io")
	v.SetDefault("ingest.requests_per_minute", 5)
	v.SetDefault("ingest.aggregate_interval", 60*time.Second)
	v.SetDefault("ingest.news_interval", 300*time.Second)
	v.SetDefault("ingest.backfill_days", 30)
	v.SetDefault("ingest.news_limit", 50)
	v.SetDefault("ingest.http_timeout", 15*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", true)
}

// NewViper returns a viper instance wired for snowpulse: defaults, env
// overrides and the given config file (or the default location).
func NewViper(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
	} else if os.Getenv(EnvConfigFile) != "" {
		v.SetConfigFile(GetConfigFile())
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath(GetConfigPath())
	}
	return v
}

// LoadDotEnv loads a .env file from the working directory if present.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load reads configuration from path (or the default search locations),
// applies environment overrides, resolves keyring secrets and validates.
// A missing config file is not an error; defaults and env still apply.
func Load(path string) (*models.Config, error) {
	return LoadViper(NewViper(path))
}

// LoadViper decodes an already configured viper instance. cmd binds its
// flags to v before calling this.
func LoadViper(v *viper.Viper) (*models.Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to read configuration").
				WithContext("file", v.ConfigFileUsed())
		}
	}

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to decode configuration")
	}

	if err := resolveSecrets(&cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolveSecrets(cfg *models.Config) error {
	secrets := []struct {
		field string
		value *string
	}{
		{"snowflake.password", &cfg.Snowflake.Password},
		{"snowflake.private_key_passphrase", &cfg.Snowflake.PrivateKeyPassphrase},
		{"redis.password", &cfg.Redis.Password},
		{"ingest.api_key", &cfg.Ingest.APIKey},
	}
	for _, s := range secrets {
		resolved, err := ResolveSecret(*s.value)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeSecretLookup, "Failed to resolve secret").
				WithContext("field", s.field)
		}
		*s.value = resolved
	}
	return nil
}

// Validate checks the settings every command relies on. Connection
// credentials are checked separately when a warehouse connection is opened.
func Validate(cfg *models.Config) error {
	if cfg.Quality.Retention <= 0 {
		return errors.ConfigError("quality.retention must be positive", "quality.retention")
	}
	if len(cfg.Quality.Tickers) == 0 {
		return errors.ConfigError("quality.tickers must not be empty", "quality.tickers")
	}
	for i, c := range cfg.Quality.Checks {
		if _, err := models.ParseCheckName(c.Name); err != nil {
			return errors.ConfigError(err.Error(), fmt.Sprintf("quality.checks[%d].name", i))
		}
		if c.Table == "" {
			return errors.ConfigError("check table is required", fmt.Sprintf("quality.checks[%d].table", i))
		}
	}
	if cfg.Alerts.QualityWindow <= 0 {
		return errors.ConfigError("alerts.quality_window must be positive", "alerts.quality_window")
	}
	if cfg.Alerts.MarketWindow <= 0 {
		return errors.ConfigError("alerts.market_window must be positive", "alerts.market_window")
	}
	if cfg.Scheduler.QualitySpec == "" || cfg.Scheduler.AlertsSpec == "" {
		return errors.ConfigError("scheduler specs must not be empty", "scheduler")
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return errors.ConfigError("redis.addr is required when redis is enabled", "redis.addr")
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		return errors.ConfigError("logging.format must be json or text", "logging.format")
	}
	return nil
}

func Save(config *models.Config) error {
	if err := os.MkdirAll(GetConfigPath(), dirPermission); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(GetConfigFile(), data, filePermission); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func Exists() bool {
	_, err := os.Stat(GetConfigFile())
	return err == nil
}

// cleanPath rejects traversal sequences and returns an absolute path.
func cleanPath(path string) (string, error) {
	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid path: contains directory traversal")
	}
	if !filepath.IsAbs(cleaned) {
		abs, err := filepath.Abs(cleaned)
		if err != nil {
			return "", fmt.Errorf("failed to resolve absolute path: %w", err)
		}
		cleaned = abs
	}
	return cleaned, nil
}
