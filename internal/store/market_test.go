package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snowpulse/pkg/errors"
	"snowpulse/pkg/models"
)

func TestMarketDailyMoves(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	day := time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE ABS(DAILY_RETURN_PCT) > ?")).
		WithArgs(3.0).
		WillReturnRows(sqlmock.NewRows([]string{"TICKER", "TRADE_DATE", "DAILY_RETURN_PCT"}).
			AddRow("TSLA", day, -4.2).
			AddRow("NVDA", day, 3.5))

	moves, err := NewMarket(db).DailyMoves(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, moves, 2)
	assert.Equal(t, models.DailyMove{Ticker: "TSLA", TradeDate: day, ReturnPct: -4.2}, moves[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarketTrendFlips(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	day := time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("LAG(TREND_SIGNAL) OVER (PARTITION BY TICKER ORDER BY TRADE_DATE) AS PREV_SIGNAL")).
		WillReturnRows(sqlmock.NewRows([]string{"TICKER", "TRADE_DATE", "SMA_5", "SMA_20", "TREND_SIGNAL", "PREV_SIGNAL"}).
			AddRow("AAPL", day, 231.4, 229.9, "BULLISH", "BEARISH"))

	flips, err := NewMarket(db).TrendFlips(context.Background())
	require.NoError(t, err)
	require.Len(t, flips, 1)
	assert.Equal(t, "BULLISH", flips[0].Signal)
	assert.Equal(t, "BEARISH", flips[0].PrevSignal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarketVolumeSpikes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	day := time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("ROWS BETWEEN 20 PRECEDING AND 1 PRECEDING")).
		WithArgs(2.0).
		WillReturnRows(sqlmock.NewRows([]string{"TICKER", "TRADE_DATE", "VOLUME", "AVG_VOLUME"}).
			AddRow("META", day, 48_000_000.0, 20_000_000.0))

	spikes, err := NewMarket(db).VolumeSpikes(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, spikes, 1)
	assert.InDelta(t, 2.4, spikes[0].Ratio(), 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarketDetectError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM ANALYTICS.DAILY_RETURNS").WillReturnError(fmt.Errorf("Object 'ANALYTICS.DAILY_RETURNS' does not exist"))

	_, err = NewMarket(db).DailyMoves(context.Background(), 3)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAlertDetect, errors.GetErrorCode(err))
}

func TestWatermarks(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	marks, err := NewWatermarks(db, "")
	require.NoError(t, err)

	stored := time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT LAST_INGESTED_AT FROM COMMON.QUALITY_WATERMARKS WHERE DATASET = ?")).
		WithArgs("RAW.RAW_TRADES").
		WillReturnRows(sqlmock.NewRows([]string{"LAST_INGESTED_AT"}).AddRow(stored))
	mock.ExpectQuery("FROM COMMON.QUALITY_WATERMARKS").
		WithArgs("RAW.RAW_NEWS").
		WillReturnRows(sqlmock.NewRows([]string{"LAST_INGESTED_AT"}))

	got, ok, err := marks.Load(context.Background(), "RAW.RAW_TRADES")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, stored, got)

	_, ok, err = marks.Load(context.Background(), "RAW.RAW_NEWS")
	require.NoError(t, err)
	assert.False(t, ok)

	news := stored.Add(time.Hour)
	trades := stored.Add(30 * time.Minute)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("MERGE INTO COMMON.QUALITY_WATERMARKS AS w")).
		WithArgs("RAW.RAW_NEWS", news).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHEN MATCHED AND s.LAST_INGESTED_AT > w.LAST_INGESTED_AT")).
		WithArgs("RAW.RAW_TRADES", trades).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, marks.Advance(context.Background(), map[string]time.Time{
		"RAW.RAW_TRADES": trades,
		"RAW.RAW_NEWS":   news,
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWatermarksAdvanceRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	marks, err := NewWatermarks(db, "")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("MERGE INTO").WillReturnError(fmt.Errorf("lock timeout"))
	mock.ExpectRollback()

	err = marks.Advance(context.Background(), map[string]time.Time{"RAW.RAW_NEWS": time.Now()})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeWatermark, errors.GetErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRawWriterAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	records := []models.RawRecord{
		{Content: map[string]interface{}{"T": "AAPL", "c": 231.4}, Metadata: map[string]interface{}{"source": "polygon_prev"}},
		{Content: map[string]interface{}{"T": "MSFT", "c": 412.0}, Metadata: map[string]interface{}{"source": "polygon_prev"}},
	}
	content0, _ := json.Marshal(records[0].Content)
	meta0, _ := json.Marshal(records[0].Metadata)
	content1, _ := json.Marshal(records[1].Content)
	meta1, _ := json.Marshal(records[1].Metadata)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO RAW.RAW_AGGREGATES (RECORD_CONTENT, RECORD_METADATA) SELECT PARSE_JSON(column1), PARSE_JSON(column2) FROM VALUES (?, ?), (?, ?)")).
		WithArgs(string(content0), string(meta0), string(content1), string(meta1)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, NewRawWriter(db).Append(context.Background(), RawAggregatesTable, records))
	assert.NoError(t, mock.ExpectationsWereMet())

	err = NewRawWriter(db).Append(context.Background(), "RAW.RAW_NEWS;", records)
	assert.Equal(t, errors.ErrCodeInvalidIdentifier, errors.GetErrorCode(err))
}
