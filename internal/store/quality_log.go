package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"snowpulse/pkg/errors"
	"snowpulse/pkg/models"
)

// DefaultQualityLogTable is where check results are appended.
const DefaultQualityLogTable = "COMMON.QUALITY_LOG"

const qualityColumns = "CHECK_ID, RUN_ID, CHECKED_AT, CHECK_NAME, TABLE_NAME, STATUS, METRIC_VALUE, THRESHOLD, MESSAGE"

// QualityLog is the append-only record of check executions.
type QualityLog struct {
	db    *sql.DB
	table string
}

func NewQualityLog(db *sql.DB, table string) (*QualityLog, error) {
	if table == "" {
		table = DefaultQualityLogTable
	}
	if err := ValidateIdentifier(table); err != nil {
		return nil, err
	}
	return &QualityLog{db: db, table: table}, nil
}

// Append writes all results of one run in a single multi-row insert.
func (l *QualityLog) Append(ctx context.Context, results []models.CheckResult) error {
	if len(results) == 0 {
		return nil
	}

	rows := make([]string, 0, len(results))
	args := make([]interface{}, 0, len(results)*8)
	for _, r := range results {
		rows = append(rows, "("+placeholders(8)+")")
		args = append(args,
			r.RunID,
			utc(r.CheckedAt),
			string(r.CheckName),
			r.TableName,
			string(r.Status),
			r.MetricValue,
			r.Threshold,
			r.Message,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (RUN_ID, CHECKED_AT, CHECK_NAME, TABLE_NAME, STATUS, METRIC_VALUE, THRESHOLD, MESSAGE) VALUES %s",
		l.table, strings.Join(rows, ", "),
	)

	return withTx(ctx, l.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return errors.SQLError("Failed to append quality results", query, err).
				WithContext("rows", len(results))
		}
		if n, err := res.RowsAffected(); err == nil && n != int64(len(results)) {
			return errors.New(errors.ErrCodeSQLExecution,
				fmt.Sprintf("Quality log insert wrote %d of %d rows", n, len(results)))
		}
		return nil
	})
}

// Prune deletes rows checked strictly before the cutoff.
func (l *QualityLog) Prune(ctx context.Context, before time.Time) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE CHECKED_AT < ?", l.table)
	res, err := l.db.ExecContext(ctx, query, utc(before))
	if err != nil {
		return 0, errors.SQLError("Failed to prune quality log", query, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.SQLError("Failed to read pruned row count", query, err)
	}
	return n, nil
}

// FailuresSince returns FAIL rows checked at or after since, oldest first.
func (l *QualityLog) FailuresSince(ctx context.Context, since time.Time) ([]models.CheckResult, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE STATUS = 'FAIL' AND CHECKED_AT >= ? ORDER BY CHECKED_AT, CHECK_ID",
		qualityColumns, l.table,
	)
	return l.query(ctx, query, utc(since))
}

// Latest returns one row per (check name, table name) from the newest run
// of that pair. When several checks share the pair, the worst status wins.
func (l *QualityLog) Latest(ctx context.Context) ([]models.CheckResult, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s QUALIFY ROW_NUMBER() OVER (PARTITION BY CHECK_NAME, TABLE_NAME ORDER BY CHECKED_AT DESC, "+
			"CASE STATUS WHEN 'FAIL' THEN 0 WHEN 'WARN' THEN 1 ELSE 2 END, CHECK_ID DESC) = 1 ORDER BY CHECK_NAME, TABLE_NAME",
		qualityColumns, l.table,
	)
	return l.query(ctx, query)
}

// LastRunAt returns the newest CHECKED_AT, zero when the log is empty.
func (l *QualityLog) LastRunAt(ctx context.Context) (time.Time, error) {
	query := fmt.Sprintf("SELECT MAX(CHECKED_AT) FROM %s", l.table)
	var last sql.NullTime
	if err := l.db.QueryRowContext(ctx, query).Scan(&last); err != nil {
		return time.Time{}, errors.SQLError("Failed to read last run time", query, err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return last.Time, nil
}

func (l *QualityLog) query(ctx context.Context, query string, args ...interface{}) ([]models.CheckResult, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.SQLError("Failed to query quality log", query, err)
	}
	defer rows.Close()

	var results []models.CheckResult
	for rows.Next() {
		var (
			r                 models.CheckResult
			runID, message    sql.NullString
			metric, threshold sql.NullFloat64
			checkName, status string
		)
		if err := rows.Scan(&r.CheckID, &runID, &r.CheckedAt, &checkName, &r.TableName, &status, &metric, &threshold, &message); err != nil {
			return nil, errors.SQLError("Failed to scan quality log row", query, err)
		}
		r.RunID = runID.String
		r.CheckName = models.CheckName(checkName)
		r.Status = models.Status(status)
		r.MetricValue = metric.Float64
		r.Threshold = threshold.Float64
		r.Message = message.String
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.SQLError("Failed to iterate quality log", query, err)
	}
	return results, nil
}
