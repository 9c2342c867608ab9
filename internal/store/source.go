package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"snowpulse/pkg/errors"
)

// Source runs the aggregate queries behind each quality check.
// Dataset names and column names are validated identifiers; timestamp
// expressions and predicates come from configuration.
type Source struct {
	db *sql.DB
}

func NewSource(db *sql.DB) *Source {
	return &Source{db: db}
}

// LatestTimestamp returns MAX(tsExpr) over dataset; ok is false when empty.
func (s *Source) LatestTimestamp(ctx context.Context, dataset, tsExpr string) (time.Time, bool, error) {
	if err := ValidateIdentifier(dataset); err != nil {
		return time.Time{}, false, err
	}
	if err := ValidateExpression(tsExpr); err != nil {
		return time.Time{}, false, err
	}

	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", tsExpr, dataset)
	var latest sql.NullTime
	if err := s.db.QueryRowContext(ctx, query).Scan(&latest); err != nil {
		return time.Time{}, false, errors.SQLError("Failed to read latest ingestion time", query, err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time, true, nil
}

// DistinctPresent counts how many of the expected identifiers occur in column.
func (s *Source) DistinctPresent(ctx context.Context, dataset, column string, expected []string) (int64, error) {
	if err := ValidateIdentifier(dataset); err != nil {
		return 0, err
	}
	if err := ValidateIdentifier(column); err != nil {
		return 0, err
	}
	if len(expected) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM %s WHERE %s IN (%s)",
		column, dataset, column, placeholders(len(expected)))
	args := make([]interface{}, len(expected))
	for i, e := range expected {
		args[i] = e
	}
	return s.count(ctx, query, args...)
}

// CountViolations counts rows matching predicate.
func (s *Source) CountViolations(ctx context.Context, dataset, predicate string) (int64, error) {
	if err := ValidateIdentifier(dataset); err != nil {
		return 0, err
	}
	if err := ValidateExpression(predicate); err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE (%s)", dataset, predicate)
	return s.count(ctx, query)
}

// CountDuplicates counts rows beyond the first for every duplicated key.
func (s *Source) CountDuplicates(ctx context.Context, dataset string, key []string) (int64, error) {
	if err := ValidateIdentifier(dataset); err != nil {
		return 0, err
	}
	if len(key) == 0 {
		return 0, errors.New(errors.ErrCodeCheckInvalid, "Duplicate check needs at least one key column")
	}
	for _, col := range key {
		if err := ValidateIdentifier(col); err != nil {
			return 0, err
		}
	}

	cols := strings.Join(key, ", ")
	query := fmt.Sprintf(
		"SELECT COALESCE(SUM(CNT - 1), 0) FROM (SELECT %s, COUNT(*) AS CNT FROM %s GROUP BY %s HAVING COUNT(*) > 1)",
		cols, dataset, cols,
	)
	return s.count(ctx, query)
}

// CountSince counts rows whose tsExpr is after the watermark and returns
// the newest timestamp seen. A zero watermark counts every row.
func (s *Source) CountSince(ctx context.Context, dataset, tsExpr string, after time.Time) (int64, time.Time, error) {
	if err := ValidateIdentifier(dataset); err != nil {
		return 0, time.Time{}, err
	}
	if err := ValidateExpression(tsExpr); err != nil {
		return 0, time.Time{}, err
	}

	query := fmt.Sprintf("SELECT COUNT(*), MAX(%s) FROM %s", tsExpr, dataset)
	var args []interface{}
	if !after.IsZero() {
		query += fmt.Sprintf(" WHERE %s > ?", tsExpr)
		args = append(args, utc(after))
	}

	var (
		n      int64
		latest sql.NullTime
	)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n, &latest); err != nil {
		return 0, time.Time{}, errors.SQLError("Failed to count new rows", query, err)
	}
	return n, latest.Time, nil
}

func (s *Source) count(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.SQLError("Failed to evaluate check query", query, err)
	}
	return n, nil
}
