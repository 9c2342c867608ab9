package models

import "time"

type Config struct {
	Snowflake Snowflake `yaml:"snowflake" mapstructure:"snowflake"`
	Quality   Quality   `yaml:"quality" mapstructure:"quality"`
	Alerts    Alerts    `yaml:"alerts" mapstructure:"alerts"`
	Scheduler Scheduler `yaml:"scheduler" mapstructure:"scheduler"`
	Redis     Redis     `yaml:"redis" mapstructure:"redis"`
	HTTP      HTTP      `yaml:"http" mapstructure:"http"`
	Ingest    Ingest    `yaml:"ingest" mapstructure:"ingest"`
	Logging   Logging   `yaml:"logging" mapstructure:"logging"`
}

type Snowflake struct {
	Account              string        `yaml:"account" mapstructure:"account"`
	Username             string        `yaml:"username" mapstructure:"username"`
	Password             string        `yaml:"password" mapstructure:"password"`               // plain value or keyring:<name>
	PrivateKeyPath       string        `yaml:"private_key_path" mapstructure:"private_key_path"` // PEM key for key-pair auth
	PrivateKeyPassphrase string        `yaml:"private_key_passphrase" mapstructure:"private_key_passphrase"`
	Role                 string        `yaml:"role" mapstructure:"role"`
	Warehouse            string        `yaml:"warehouse" mapstructure:"warehouse"`
	Database             string        `yaml:"database" mapstructure:"database"`
	Schema               string        `yaml:"schema" mapstructure:"schema"`
	Timeout              time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Quality configures the evaluator battery
type Quality struct {
	Tickers   []string      `yaml:"tickers" mapstructure:"tickers"`
	Retention time.Duration `yaml:"retention" mapstructure:"retention"`
	LogTable  string        `yaml:"log_table" mapstructure:"log_table"`
	Checks    []CheckConfig `yaml:"checks" mapstructure:"checks"` // empty means the built-in battery
}

// CheckConfig describes one check of the battery. Which fields matter depends on Name.
type CheckConfig struct {
	Name      string   `yaml:"name" mapstructure:"name"`
	Table     string   `yaml:"table" mapstructure:"table"`
	Column    string   `yaml:"column" mapstructure:"column"`       // timestamp expression or identifier column
	Threshold float64  `yaml:"threshold" mapstructure:"threshold"` // minutes for FRESHNESS
	Expected  []string `yaml:"expected" mapstructure:"expected"`
	Predicate string   `yaml:"predicate" mapstructure:"predicate"`
	Key       []string `yaml:"key" mapstructure:"key"`
}

type Alerts struct {
	Table               string        `yaml:"table" mapstructure:"table"`
	QualityWindow       time.Duration `yaml:"quality_window" mapstructure:"quality_window"`
	MarketWindow        time.Duration `yaml:"market_window" mapstructure:"market_window"`
	BigMoveThresholdPct float64       `yaml:"big_move_threshold_pct" mapstructure:"big_move_threshold_pct"`
	VolumeMultiplier    float64       `yaml:"volume_multiplier" mapstructure:"volume_multiplier"`
	MarketAlerts        bool          `yaml:"market_alerts" mapstructure:"market_alerts"`
}

type Scheduler struct {
	QualitySpec string        `yaml:"quality_spec" mapstructure:"quality_spec"`
	AlertsSpec  string        `yaml:"alerts_spec" mapstructure:"alerts_spec"`
	LockTTL     time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"`
	RunOnStart  bool          `yaml:"run_on_start" mapstructure:"run_on_start"`
}

type Redis struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	PoolSize int    `yaml:"pool_size" mapstructure:"pool_size"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

type HTTP struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// Ingest configures the Polygon.io polling streamer
type Ingest struct {
	APIKey            string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	AggregateInterval time.Duration `yaml:"aggregate_interval" mapstructure:"aggregate_interval"`
	NewsInterval      time.Duration `yaml:"news_interval" mapstructure:"news_interval"`
	BackfillDays      int           `yaml:"backfill_days" mapstructure:"backfill_days"`
	NewsLimit         int           `yaml:"news_limit" mapstructure:"news_limit"`
	HTTPTimeout       time.Duration `yaml:"http_timeout" mapstructure:"http_timeout"`
}

type Logging struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"` // json or text
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}
