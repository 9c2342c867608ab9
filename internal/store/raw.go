package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"snowpulse/pkg/errors"
	"snowpulse/pkg/models"
)

// Raw landing tables written by the ingest streamer.
const (
	RawTradesTable     = "RAW.RAW_TRADES"
	RawAggregatesTable = "RAW.RAW_AGGREGATES"
	RawNewsTable       = "RAW.RAW_NEWS"
)

// rawBatchSize bounds the number of bind variables per statement.
const rawBatchSize = 500

// RawWriter appends semi-structured records to RAW tables.
type RawWriter struct {
	db *sql.DB
}

func NewRawWriter(db *sql.DB) *RawWriter {
	return &RawWriter{db: db}
}

// Append inserts records as (RECORD_CONTENT, RECORD_METADATA) VARIANT pairs.
func (w *RawWriter) Append(ctx context.Context, table string, records []models.RawRecord) error {
	if err := ValidateIdentifier(table); err != nil {
		return err
	}
	for start := 0; start < len(records); start += rawBatchSize {
		end := start + rawBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := w.appendBatch(ctx, table, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (w *RawWriter) appendBatch(ctx context.Context, table string, records []models.RawRecord) error {
	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*2)
	for _, r := range records {
		content, err := json.Marshal(r.Content)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeRawAppend, "Failed to encode record content")
		}
		metadata, err := json.Marshal(r.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeRawAppend, "Failed to encode record metadata")
		}
		values = append(values, "(?, ?)")
		args = append(args, string(content), string(metadata))
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (RECORD_CONTENT, RECORD_METADATA) SELECT PARSE_JSON(column1), PARSE_JSON(column2) FROM VALUES %s",
		table, strings.Join(values, ", "),
	)
	if _, err := w.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(errors.SQLError("Failed to append raw records", query, err),
			errors.ErrCodeRawAppend, "Failed to append raw records").
			WithContext("table", table).
			WithContext("rows", len(records))
	}
	return nil
}
