package store

import (
	"context"
	"database/sql"
	"fmt"

	"snowpulse/pkg/errors"
	"snowpulse/pkg/models"
)

// Derived views read by the market-condition alert rules.
const (
	DailyReturnsView   = "ANALYTICS.DAILY_RETURNS"
	MovingAveragesView = "ANALYTICS.MOVING_AVERAGES"
	DailyOHLCVView     = "ANALYTICS.DAILY_OHLCV"
)

// Market detects market conditions on the latest trade date.
type Market struct {
	db *sql.DB
}

func NewMarket(db *sql.DB) *Market {
	return &Market{db: db}
}

// DailyMoves returns tickers whose latest daily return exceeds thresholdPct in magnitude.
func (m *Market) DailyMoves(ctx context.Context, thresholdPct float64) ([]models.DailyMove, error) {
	query := fmt.Sprintf(`SELECT TICKER, TRADE_DATE, DAILY_RETURN_PCT
FROM %[1]s
WHERE ABS(DAILY_RETURN_PCT) > ?
  AND TRADE_DATE = (SELECT MAX(TRADE_DATE) FROM %[1]s)
ORDER BY TICKER`, DailyReturnsView)

	rows, err := m.db.QueryContext(ctx, query, thresholdPct)
	if err != nil {
		return nil, detectError("daily moves", query, err)
	}
	defer rows.Close()

	var moves []models.DailyMove
	for rows.Next() {
		var mv models.DailyMove
		if err := rows.Scan(&mv.Ticker, &mv.TradeDate, &mv.ReturnPct); err != nil {
			return nil, detectError("daily moves", query, err)
		}
		moves = append(moves, mv)
	}
	return moves, rows.Err()
}

// TrendFlips returns tickers whose latest trend signal differs from the previous day's.
func (m *Market) TrendFlips(ctx context.Context) ([]models.TrendFlip, error) {
	query := fmt.Sprintf(`SELECT TICKER, TRADE_DATE, SMA_5, SMA_20, TREND_SIGNAL, PREV_SIGNAL
FROM (
    SELECT TICKER, TRADE_DATE, SMA_5, SMA_20, TREND_SIGNAL,
           LAG(TREND_SIGNAL) OVER (PARTITION BY TICKER ORDER BY TRADE_DATE) AS PREV_SIGNAL,
           ROW_NUMBER() OVER (PARTITION BY TICKER ORDER BY TRADE_DATE DESC) AS RN
    FROM %s
)
WHERE RN = 1 AND PREV_SIGNAL IS NOT NULL AND TREND_SIGNAL <> PREV_SIGNAL
ORDER BY TICKER`, MovingAveragesView)

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, detectError("trend flips", query, err)
	}
	defer rows.Close()

	var flips []models.TrendFlip
	for rows.Next() {
		var f models.TrendFlip
		if err := rows.Scan(&f.Ticker, &f.TradeDate, &f.SMA5, &f.SMA20, &f.Signal, &f.PrevSignal); err != nil {
			return nil, detectError("trend flips", query, err)
		}
		flips = append(flips, f)
	}
	return flips, rows.Err()
}

// VolumeSpikes returns tickers whose latest volume exceeds multiplier times
// the average of the 20 preceding sessions.
func (m *Market) VolumeSpikes(ctx context.Context, multiplier float64) ([]models.VolumeSpike, error) {
	query := fmt.Sprintf(`SELECT TICKER, TRADE_DATE, VOLUME, AVG_VOLUME
FROM (
    SELECT TICKER, TRADE_DATE, VOLUME,
           AVG(VOLUME) OVER (PARTITION BY TICKER ORDER BY TRADE_DATE ROWS BETWEEN 20 PRECEDING AND 1 PRECEDING) AS AVG_VOLUME,
           ROW_NUMBER() OVER (PARTITION BY TICKER ORDER BY TRADE_DATE DESC) AS RN
    FROM %s
)
WHERE RN = 1 AND AVG_VOLUME > 0 AND VOLUME > ? * AVG_VOLUME
ORDER BY TICKER`, DailyOHLCVView)

	rows, err := m.db.QueryContext(ctx, query, multiplier)
	if err != nil {
		return nil, detectError("volume spikes", query, err)
	}
	defer rows.Close()

	var spikes []models.VolumeSpike
	for rows.Next() {
		var s models.VolumeSpike
		if err := rows.Scan(&s.Ticker, &s.TradeDate, &s.Volume, &s.AvgVolume); err != nil {
			return nil, detectError("volume spikes", query, err)
		}
		spikes = append(spikes, s)
	}
	return spikes, rows.Err()
}

func detectError(what, query string, err error) error {
	return errors.Wrap(errors.SQLError("Failed to detect "+what, query, err), errors.ErrCodeAlertDetect, "Failed to detect "+what)
}
