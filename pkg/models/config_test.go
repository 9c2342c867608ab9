package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigYAMLRoundTrip(t *testing.T) {
	config := Config{
		Snowflake: Snowflake{
			Account:   "xy12345.us-east-1",
			Username:  "pulse_user",
			Password:  "keyring:snowflake",
			Role:      "SNOWPULSE_ROLE",
			Warehouse: "SNOWPULSE_WH",
			Database:  "SNOWPULSE_DB",
			Schema:    "COMMON",
		},
		Quality: Quality{
			Tickers: []string{"AAPL", "MSFT"},
			Checks: []CheckConfig{
				{Name: "FRESHNESS", Table: "RAW.RAW_NEWS", Threshold: 15},
				{Name: "DUPLICATES", Table: "ANALYTICS.DAILY_OHLCV", Key: []string{"TICKER", "TRADE_DATE"}},
			},
		},
	}

	data, err := yaml.Marshal(&config)
	require.NoError(t, err)
	assert.Contains(t, string(data), "private_key_path")

	var decoded Config
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, config.Snowflake, decoded.Snowflake)
	assert.Equal(t, config.Quality.Checks, decoded.Quality.Checks)
}

func TestParseCheckName(t *testing.T) {
	tests := []struct {
		in      string
		want    CheckName
		wantErr bool
	}{
		{in: "FRESHNESS", want: CheckFreshness},
		{in: " volume ", want: CheckVolume},
		{in: "Consistency", want: CheckConsistency},
		{in: "LATENCY", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCheckName(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatusWorse(t *testing.T) {
	assert.True(t, StatusFail.Worse(StatusPass))
	assert.True(t, StatusFail.Worse(StatusWarn))
	assert.True(t, StatusWarn.Worse(StatusPass))
	assert.False(t, StatusPass.Worse(StatusWarn))
	assert.False(t, StatusFail.Worse(StatusFail))
}

func TestVolumeSpikeRatio(t *testing.T) {
	spike := VolumeSpike{Ticker: "NVDA", TradeDate: time.Now(), Volume: 300, AvgVolume: 100}
	assert.InDelta(t, 3.0, spike.Ratio(), 1e-9)

	assert.Zero(t, VolumeSpike{Volume: 10}.Ratio())
}
