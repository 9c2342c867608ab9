package cmd

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableRows(names ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"TABLE_SCHEMA", "TABLE_NAME"})
	for _, n := range names {
		schema, table, _ := strings.Cut(n, ".")
		rows.AddRow(schema, table)
	}
	return rows
}

var allTables = []string{
	"COMMON.QUALITY_LOG", "COMMON.ALERT_LOG", "COMMON.QUALITY_WATERMARKS",
	"RAW.RAW_TRADES", "RAW.RAW_AGGREGATES", "RAW.RAW_NEWS",
}

func TestStatusCommand(t *testing.T) {
	withConfig(t, baseConfig)
	db := withWarehouse(t)
	checked := time.Now().UTC().Add(-10 * time.Minute)

	db.ExpectQuery(regexp.QuoteMeta("FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA IN (?, ?)")).
		WithArgs("COMMON", "RAW").
		WillReturnRows(tableRows(allTables...))
	db.ExpectQuery(regexp.QuoteMeta("QUALIFY ROW_NUMBER() OVER (PARTITION BY CHECK_NAME, TABLE_NAME")).
		WillReturnRows(sqlmock.NewRows([]string{"CHECK_ID", "RUN_ID", "CHECKED_AT", "CHECK_NAME", "TABLE_NAME", "STATUS", "METRIC_VALUE", "THRESHOLD", "MESSAGE"}).
			AddRow(31, "run-9", checked, "COMPLETENESS", "ANALYTICS.DAILY_OHLCV", "PASS", 7.0, 7.0, "7 of 7 expected values present").
			AddRow(32, "run-9", checked, "FRESHNESS", "RAW.RAW_NEWS", "FAIL", 42.0, 15.0, "latest ingestion 42 minutes ago exceeds 15 minute threshold"))

	output, err := executeCommand("status")
	require.NoError(t, err)

	assert.Contains(t, output, "COMPLETENESS")
	assert.Contains(t, output, "exceeds 15 minute threshold")
	assert.Contains(t, output, "1 PASS, 1 FAIL")
	assert.Contains(t, output, "last checked 10m")
	assert.NoError(t, db.ExpectationsWereMet())
}

func TestStatusMissingTables(t *testing.T) {
	withConfig(t, baseConfig)
	db := withWarehouse(t)

	db.ExpectQuery("INFORMATION_SCHEMA.TABLES").
		WillReturnRows(tableRows("COMMON.QUALITY_LOG", "COMMON.ALERT_LOG"))

	output, err := executeCommand("status")
	require.NoError(t, err)
	assert.NotContains(t, output, "CHECKED AT", "the quality log is not queried")
	assert.NoError(t, db.ExpectationsWereMet())
}

func TestStatusEmptyLog(t *testing.T) {
	withConfig(t, baseConfig)
	db := withWarehouse(t)

	db.ExpectQuery("INFORMATION_SCHEMA.TABLES").WillReturnRows(tableRows(allTables...))
	db.ExpectQuery("QUALIFY").
		WillReturnRows(sqlmock.NewRows([]string{"CHECK_ID", "RUN_ID", "CHECKED_AT", "CHECK_NAME", "TABLE_NAME", "STATUS", "METRIC_VALUE", "THRESHOLD", "MESSAGE"}))

	output, err := executeCommand("status")
	require.NoError(t, err)
	assert.Contains(t, output, "No quality results recorded yet")
}
