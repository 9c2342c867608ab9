package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"snowpulse/pkg/errors"
	"snowpulse/pkg/models"
)

// DefaultAlertLogTable is the sink for every emitted alert.
const DefaultAlertLogTable = "COMMON.ALERT_LOG"

// AlertLog appends alerts with a windowed idempotency check.
type AlertLog struct {
	db    *sql.DB
	table string
}

func NewAlertLog(db *sql.DB, table string) (*AlertLog, error) {
	if table == "" {
		table = DefaultAlertLogTable
	}
	if err := ValidateIdentifier(table); err != nil {
		return nil, err
	}
	return &AlertLog{db: db, table: table}, nil
}

// InsertIfAbsent writes rec unless an alert with the same name and dedup
// key was triggered at or after since. The existence test and the insert
// are one statement, so concurrent notifiers cannot both insert.
func (l *AlertLog) InsertIfAbsent(ctx context.Context, rec models.AlertRecord, since time.Time) (bool, error) {
	query := fmt.Sprintf(`INSERT INTO %[1]s (TRIGGERED_AT, ALERT_NAME, TICKER, DEDUP_KEY, MESSAGE, METRIC_VALUE)
SELECT ?::TIMESTAMP_NTZ, ?, ?, ?, ?, ?::FLOAT
WHERE NOT EXISTS (
    SELECT 1 FROM %[1]s
    WHERE ALERT_NAME = ? AND DEDUP_KEY = ? AND TRIGGERED_AT >= ?
)`, l.table)

	res, err := l.db.ExecContext(ctx, query,
		utc(rec.TriggeredAt), rec.AlertName, rec.Ticker, rec.DedupKey, rec.Message, rec.MetricValue,
		rec.AlertName, rec.DedupKey, utc(since),
	)
	if err != nil {
		return false, errors.Wrap(errors.SQLError("Failed to insert alert", query, err), errors.ErrCodeAlertInsert, "Failed to insert alert").
			WithContext("alert", rec.AlertName).
			WithContext("dedup_key", rec.DedupKey)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.SQLError("Failed to read inserted row count", query, err)
	}
	return n > 0, nil
}

// Recent returns the newest alerts first.
func (l *AlertLog) Recent(ctx context.Context, limit int) ([]models.AlertRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(
		"SELECT ALERT_ID, TRIGGERED_AT, ALERT_NAME, TICKER, COALESCE(DEDUP_KEY, TICKER), MESSAGE, METRIC_VALUE FROM %s ORDER BY TRIGGERED_AT DESC, ALERT_ID DESC LIMIT ?",
		l.table,
	)
	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.SQLError("Failed to query alert log", query, err)
	}
	defer rows.Close()

	var alerts []models.AlertRecord
	for rows.Next() {
		var (
			a                         models.AlertRecord
			ticker, dedupKey, message sql.NullString
			metric                    sql.NullFloat64
		)
		if err := rows.Scan(&a.AlertID, &a.TriggeredAt, &a.AlertName, &ticker, &dedupKey, &message, &metric); err != nil {
			return nil, errors.SQLError("Failed to scan alert row", query, err)
		}
		a.Ticker = ticker.String
		a.DedupKey = dedupKey.String
		a.Message = message.String
		a.MetricValue = metric.Float64
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.SQLError("Failed to iterate alert log", query, err)
	}
	return alerts, nil
}
