package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"snowpulse/pkg/errors"
)

// DefaultWatermarkTable stores the Volume check cursors.
const DefaultWatermarkTable = "COMMON.QUALITY_WATERMARKS"

// Watermarks persists the last-consumed ingestion timestamp per dataset.
type Watermarks struct {
	db    *sql.DB
	table string
}

func NewWatermarks(db *sql.DB, table string) (*Watermarks, error) {
	if table == "" {
		table = DefaultWatermarkTable
	}
	if err := ValidateIdentifier(table); err != nil {
		return nil, err
	}
	return &Watermarks{db: db, table: table}, nil
}

// Load returns the stored watermark for dataset; ok is false when none exists.
func (w *Watermarks) Load(ctx context.Context, dataset string) (time.Time, bool, error) {
	query := fmt.Sprintf("SELECT LAST_INGESTED_AT FROM %s WHERE DATASET = ?", w.table)
	var last time.Time
	err := w.db.QueryRowContext(ctx, query, dataset).Scan(&last)
	if stderrors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrap(errors.SQLError("Failed to load watermark", query, err),
			errors.ErrCodeWatermark, "Failed to load watermark").WithContext("dataset", dataset)
	}
	return last, true, nil
}

// Advance moves each dataset's watermark forward in one transaction.
// A watermark never moves backwards.
func (w *Watermarks) Advance(ctx context.Context, marks map[string]time.Time) error {
	if len(marks) == 0 {
		return nil
	}

	datasets := make([]string, 0, len(marks))
	for d := range marks {
		datasets = append(datasets, d)
	}
	sort.Strings(datasets)

	query := fmt.Sprintf(`MERGE INTO %s AS w
USING (SELECT ? AS DATASET, ?::TIMESTAMP_NTZ AS LAST_INGESTED_AT) AS s
ON w.DATASET = s.DATASET
WHEN MATCHED AND s.LAST_INGESTED_AT > w.LAST_INGESTED_AT THEN
    UPDATE SET LAST_INGESTED_AT = s.LAST_INGESTED_AT, UPDATED_AT = CURRENT_TIMESTAMP()
WHEN NOT MATCHED THEN
    INSERT (DATASET, LAST_INGESTED_AT, UPDATED_AT) VALUES (s.DATASET, s.LAST_INGESTED_AT, CURRENT_TIMESTAMP())`, w.table)

	return withTx(ctx, w.db, func(tx *sql.Tx) error {
		for _, d := range datasets {
			if _, err := tx.ExecContext(ctx, query, d, utc(marks[d])); err != nil {
				return errors.Wrap(errors.SQLError("Failed to advance watermark", query, err),
					errors.ErrCodeWatermark, "Failed to advance watermark").WithContext("dataset", d)
			}
		}
		return nil
	})
}
