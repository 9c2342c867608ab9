package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snowpulse/internal/store"
	tu "snowpulse/internal/testutil"
	"snowpulse/pkg/errors"
	"snowpulse/pkg/models"
)

func TestDefaultChecks(t *testing.T) {
	checks := DefaultChecks(tickers)
	require.Len(t, checks, 10)

	seen := make(map[string]int)
	for _, c := range checks {
		require.NoError(t, c.Validate(), c.ID())
		seen[string(c.Name)]++
	}
	assert.Equal(t, map[string]int{
		"FRESHNESS":    2,
		"COMPLETENESS": 2,
		"VALIDITY":     2,
		"CONSISTENCY":  1,
		"DUPLICATES":   1,
		"VOLUME":       2,
	}, seen)

	// callers cannot alias the expected set
	checks[2].Expected[0] = "XXX"
	assert.Equal(t, "AAPL", tickers[0])
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, models.StatusFail, Severity(models.CheckFreshness))
	assert.Equal(t, models.StatusFail, Severity(models.CheckCompleteness))
	assert.Equal(t, models.StatusFail, Severity(models.CheckValidity))
	assert.Equal(t, models.StatusWarn, Severity(models.CheckConsistency))
	assert.Equal(t, models.StatusWarn, Severity(models.CheckDuplicates))
	assert.Equal(t, models.StatusWarn, Severity(models.CheckVolume))
}

func TestFromConfig(t *testing.T) {
	t.Run("defaults when no checks configured", func(t *testing.T) {
		cfg := tu.NewMockConfigBuilder().Build()
		checks, err := FromConfig(cfg.Quality)
		require.NoError(t, err)
		assert.Len(t, checks, 10)
	})

	t.Run("configured battery", func(t *testing.T) {
		cfg := tu.NewMockConfigBuilder().
			WithTickers("AAPL", "MSFT").
			WithCheck(models.CheckConfig{Name: "freshness", Table: "RAW.RAW_TRADES", Threshold: 5}).
			WithCheck(models.CheckConfig{Name: "Completeness", Table: store.DailyOHLCVView}).
			WithCheck(models.CheckConfig{Name: "DUPLICATES", Table: store.DailyOHLCVView, Key: []string{"TICKER", "TRADE_DATE"}}).
			Build()

		checks, err := FromConfig(cfg.Quality)
		require.NoError(t, err)
		require.Len(t, checks, 3)
		assert.Equal(t, models.CheckFreshness, checks[0].Name)
		assert.Equal(t, []string{"AAPL", "MSFT"}, checks[1].Expected)
		assert.Equal(t, "DUPLICATES:ANALYTICS.DAILY_OHLCV", checks[2].ID())
	})

	tests := []struct {
		name  string
		check models.CheckConfig
	}{
		{"unknown name", models.CheckConfig{Name: "LATENCY", Table: "RAW.RAW_TRADES"}},
		{"bad table", models.CheckConfig{Name: "VOLUME", Table: "RAW.RAW_TRADES; DROP"}},
		{"freshness without threshold", models.CheckConfig{Name: "FRESHNESS", Table: "RAW.RAW_NEWS"}},
		{"validity without predicate", models.CheckConfig{Name: "VALIDITY", Table: store.DailyOHLCVView}},
		{"duplicates without key", models.CheckConfig{Name: "DUPLICATES", Table: store.DailyOHLCVView}},
		{"commented predicate", models.CheckConfig{Name: "CONSISTENCY", Table: store.DailyOHLCVView, Predicate: "1=1 /* x */"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tu.NewMockConfigBuilder().WithCheck(tt.check).Build()
			checks, err := FromConfig(cfg.Quality)
			require.Error(t, err)
			assert.Nil(t, checks)
			assert.Equal(t, errors.ErrCodeCheckInvalid, errors.GetErrorCode(err))
		})
	}
}
