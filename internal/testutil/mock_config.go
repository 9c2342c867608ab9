package testutil

import (
	"time"

	"snowpulse/pkg/models"
)

// MockConfigBuilder provides a fluent interface for building test configurations
type MockConfigBuilder struct {
	config *models.Config
}

// NewMockConfigBuilder starts from a configuration with every default filled in
func NewMockConfigBuilder() *MockConfigBuilder {
	return &MockConfigBuilder{
		config: &models.Config{
			Snowflake: models.Snowflake{
				Account:   "test123.us-east-1",
				Username:  "testuser",
				Password:  "testpass",
				Role:      "SNOWPULSE_ROLE",
				Warehouse: "SNOWPULSE_WH",
				Database:  "SNOWPULSE_DB",
				Schema:    "COMMON",
				Timeout:   30 * time.Second,
			},
			Quality: models.Quality{
				Tickers:   []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA", "NVDA", "META"},
				Retention: 7 * 24 * time.Hour,
				LogTable:  "COMMON.QUALITY_LOG",
			},
			Alerts: models.Alerts{
				Table:               "COMMON.ALERT_LOG",
				QualityWindow:       65 * time.Minute,
				MarketWindow:        24 * time.Hour,
				BigMoveThresholdPct: 3,
				VolumeMultiplier:    2,
				MarketAlerts:        true,
			},
			Scheduler: models.Scheduler{
				QualitySpec: "@every 60m",
				AlertsSpec:  "@every 5m",
				LockTTL:     30 * time.Minute,
			},
			Redis: models.Redis{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "snowpulse",
			},
			HTTP: models.HTTP{Addr: ":8080"},
			Ingest: models.Ingest{
				BaseURL:           "https://api.polygon.io",
				RequestsPerMinute: 5,
				AggregateInterval: 60 * time.Second,
				NewsInterval:      300 * time.Second,
				BackfillDays:      30,
				NewsLimit:         50,
				HTTPTimeout:       15 * time.Second,
			},
			Logging: models.Logging{
				Level:  "info",
				Format: "json",
			},
		},
	}
}

// WithSnowflake sets the connection identity
func (b *MockConfigBuilder) WithSnowflake(account, username, password, warehouse, role string) *MockConfigBuilder {
	b.config.Snowflake.Account = account
	b.config.Snowflake.Username = username
	b.config.Snowflake.Password = password
	b.config.Snowflake.Warehouse = warehouse
	b.config.Snowflake.Role = role
	return b
}

func (b *MockConfigBuilder) WithTickers(tickers ...string) *MockConfigBuilder {
	b.config.Quality.Tickers = tickers
	return b
}

// WithCheck appends a configured check, replacing the built-in battery
func (b *MockConfigBuilder) WithCheck(check models.CheckConfig) *MockConfigBuilder {
	b.config.Quality.Checks = append(b.config.Quality.Checks, check)
	return b
}

func (b *MockConfigBuilder) WithRedis(addr string) *MockConfigBuilder {
	b.config.Redis.Enabled = true
	b.config.Redis.Addr = addr
	return b
}

func (b *MockConfigBuilder) WithIngest(baseURL, apiKey string) *MockConfigBuilder {
	b.config.Ingest.BaseURL = baseURL
	b.config.Ingest.APIKey = apiKey
	return b
}

// Build returns the constructed configuration
func (b *MockConfigBuilder) Build() *models.Config {
	return b.config
}

// ConfigScenarios provides pre-built configuration scenarios for testing
var ConfigScenarios = struct {
	Basic     func() *models.Config
	WithRedis func() *models.Config
	Invalid   func() *models.Config
}{
	Basic: func() *models.Config {
		return NewMockConfigBuilder().Build()
	},

	WithRedis: func() *models.Config {
		return NewMockConfigBuilder().WithRedis("127.0.0.1:6379").Build()
	},

	Invalid: func() *models.Config {
		return NewMockConfigBuilder().
			WithTickers().
			WithCheck(models.CheckConfig{Name: "FRESHNESS"}).
			Build()
	},
}
