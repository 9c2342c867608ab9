package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snowpulse/pkg/errors"
)

func newSource(t *testing.T) (*Source, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSource(db), mock
}

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"RAW_NEWS", "RAW.RAW_NEWS", "SNOWPULSE_DB.RAW.RAW_NEWS", "_tmp$1"}
	for _, v := range valid {
		assert.NoError(t, ValidateIdentifier(v), v)
	}

	invalid := []string{"", "1TABLE", "RAW.RAW_NEWS;", "A.B.C.D", "RAW NEWS", `"quoted"`}
	for _, v := range invalid {
		assert.Error(t, ValidateIdentifier(v), v)
	}
}

func TestValidateExpression(t *testing.T) {
	assert.NoError(t, ValidateExpression("LOW_PRICE > HIGH_PRICE OR CLOSE_PRICE < LOW_PRICE"))
	assert.NoError(t, ValidateExpression("RECORD_METADATA:ingested_at::TIMESTAMP_NTZ"))
	assert.Error(t, ValidateExpression("  "))
	assert.Error(t, ValidateExpression("1=1; DROP TABLE X"))
	assert.Error(t, ValidateExpression("1=1 -- comment"))
}

func TestLatestTimestamp(t *testing.T) {
	src, mock := newSource(t)
	latest := time.Date(2026, 3, 2, 13, 55, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(RECORD_METADATA:ingested_at::TIMESTAMP_NTZ) FROM RAW.RAW_NEWS")).
		WillReturnRows(sqlmock.NewRows([]string{"MAX"}).AddRow(latest))
	mock.ExpectQuery(regexp.QuoteMeta("FROM RAW.RAW_TRADES")).
		WillReturnRows(sqlmock.NewRows([]string{"MAX"}).AddRow(nil))

	got, ok, err := src.LatestTimestamp(context.Background(), "RAW.RAW_NEWS", "RECORD_METADATA:ingested_at::TIMESTAMP_NTZ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, latest, got)

	_, ok, err = src.LatestTimestamp(context.Background(), "RAW.RAW_TRADES", "INGESTED_AT")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDistinctPresent(t *testing.T) {
	src, mock := newSource(t)
	tickers := []string{"AAPL", "MSFT", "GOOGL"}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(DISTINCT TICKER) FROM ANALYTICS.DAILY_OHLCV WHERE TICKER IN (?, ?, ?)")).
		WithArgs("AAPL", "MSFT", "GOOGL").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT"}).AddRow(2))

	n, err := src.DistinctPresent(context.Background(), "ANALYTICS.DAILY_OHLCV", "TICKER", tickers)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = src.DistinctPresent(context.Background(), "ANALYTICS.DAILY_OHLCV", "TICKER", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountViolations(t *testing.T) {
	src, mock := newSource(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM ANALYTICS.DAILY_OHLCV WHERE (VOLUME < 0)")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT"}).AddRow(3))

	n, err := src.CountViolations(context.Background(), "ANALYTICS.DAILY_OHLCV", "VOLUME < 0")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = src.CountViolations(context.Background(), "ANALYTICS.DAILY_OHLCV", "1=1; DELETE FROM X")
	assert.Equal(t, errors.ErrCodeInvalidIdentifier, errors.GetErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountDuplicates(t *testing.T) {
	src, mock := newSource(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(CNT - 1), 0) FROM (SELECT TICKER, TRADE_DATE, COUNT(*) AS CNT FROM ANALYTICS.DAILY_OHLCV GROUP BY TICKER, TRADE_DATE HAVING COUNT(*) > 1)")).
		WillReturnRows(sqlmock.NewRows([]string{"N"}).AddRow(4))

	n, err := src.CountDuplicates(context.Background(), "ANALYTICS.DAILY_OHLCV", []string{"TICKER", "TRADE_DATE"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	_, err = src.CountDuplicates(context.Background(), "ANALYTICS.DAILY_OHLCV", nil)
	assert.Equal(t, errors.ErrCodeCheckInvalid, errors.GetErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountSince(t *testing.T) {
	src, mock := newSource(t)
	mark := time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)
	newest := mark.Add(50 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*), MAX(INGESTED_AT) FROM RAW.RAW_TRADES WHERE INGESTED_AT > ?")).
		WithArgs(mark).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT", "MAX"}).AddRow(12, newest))
	mock.ExpectQuery(`SELECT COUNT\(\*\), MAX\(INGESTED_AT\) FROM RAW\.RAW_NEWS$`).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT", "MAX"}).AddRow(0, nil))

	n, latest, err := src.CountSince(context.Background(), "RAW.RAW_TRADES", "INGESTED_AT", mark)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.Equal(t, newest, latest)

	n, latest, err = src.CountSince(context.Background(), "RAW.RAW_NEWS", "INGESTED_AT", time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, latest.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
