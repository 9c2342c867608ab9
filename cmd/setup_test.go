package cmd

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snowpulse/internal/config"
	tu "snowpulse/internal/testutil"
)

func TestSetupCommand(t *testing.T) {
	assert.NotNil(t, setupCmd)
	assert.Equal(t, "setup", setupCmd.Use)
	assert.Equal(t, "Initial configuration setup", setupCmd.Short)
	assert.NotNil(t, setupCmd.Flags().Lookup("force"))
	assert.NotNil(t, setupCmd.Flags().Lookup("no-keyring"))
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := defaultConfig()
	require.NoError(t, err)

	assert.Equal(t, config.DefaultTickers, cfg.Quality.Tickers)
	assert.Equal(t, "@every 60m", cfg.Scheduler.QualitySpec)
	assert.Equal(t, "@every 5m", cfg.Scheduler.AlertsSpec)
	assert.Equal(t, "COMMON.ALERT_LOG", cfg.Alerts.Table)
	assert.Equal(t, 5, cfg.Ingest.RequestsPerMinute)
	assert.NoError(t, config.Validate(cfg))
}

func TestStoreSecrets(t *testing.T) {
	cfg := tu.NewMockConfigBuilder().WithIngest("https://api.polygon.io", "pk_live").Build()
	cfg.Redis.Password = ""

	stored := map[string]string{}
	warnings := storeSecrets(cfg, func(name, value string) (string, error) {
		if name == "ingest.api_key" {
			return "", fmt.Errorf("keyring locked")
		}
		stored[name] = value
		return "keyring:" + name, nil
	})

	assert.Equal(t, map[string]string{"snowflake.password": "testpass"}, stored)
	assert.Equal(t, "keyring:snowflake.password", cfg.Snowflake.Password)
	assert.Equal(t, "pk_live", cfg.Ingest.APIKey, "a secret that cannot be stored stays in place")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "ingest.api_key")
	assert.Contains(t, warnings[0], "keyring locked")
}
