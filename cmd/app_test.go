package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snowpulse/internal/cache"
	"snowpulse/internal/observability"
	"snowpulse/pkg/models"
)

func TestOneShotLockerWarnsWithoutRedis(t *testing.T) {
	var buf bytes.Buffer
	logger, err := observability.NewLogger(observability.LoggerConfig{Level: "warn", Format: "text", Output: &buf})
	require.NoError(t, err)

	a := &app{cfg: &models.Config{}, logger: logger}
	locker, err := a.oneShotLocker(context.Background())
	require.NoError(t, err)

	assert.IsType(t, &cache.LocalLocker{}, locker)
	assert.Contains(t, buf.String(), "does not span processes")
}

func TestLockerWithoutRedisIsQuiet(t *testing.T) {
	var buf bytes.Buffer
	logger, err := observability.NewLogger(observability.LoggerConfig{Level: "warn", Format: "text", Output: &buf})
	require.NoError(t, err)

	a := &app{cfg: &models.Config{}, logger: logger}
	_, err = a.locker(context.Background())
	require.NoError(t, err)
	assert.Empty(t, buf.String(), "serve holds the lock in one process and needs no warning")
}
