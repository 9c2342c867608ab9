// Package store holds the warehouse-backed implementations of the quality
// log, the alert log, watermarks and the data sources the checks read.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"snowpulse/pkg/errors"
)

// identifierPattern accepts TABLE, SCHEMA.TABLE and DB.SCHEMA.TABLE.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*){0,2}$`)

// ValidateIdentifier rejects anything that is not a plain, optionally
// qualified, unquoted identifier. Identifiers are interpolated into SQL.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return errors.New(errors.ErrCodeInvalidIdentifier, fmt.Sprintf("Invalid identifier %q", name)).
			WithContext("identifier", name)
	}
	return nil
}

// ValidateExpression is a coarse guard for configured SQL fragments such as
// timestamp expressions and violation predicates.
func ValidateExpression(expr string) error {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return errors.New(errors.ErrCodeInvalidIdentifier, "Empty SQL expression")
	}
	for _, banned := range []string{";", "--", "/*"} {
		if strings.Contains(trimmed, banned) {
			return errors.New(errors.ErrCodeInvalidIdentifier, fmt.Sprintf("SQL expression must not contain %q", banned)).
				WithContext("expression", expr)
		}
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// utc normalises timestamps bound to TIMESTAMP_NTZ columns.
func utc(t time.Time) time.Time {
	return t.UTC()
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSQLTransaction, "Failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrCodeSQLTransaction, "Failed to commit transaction")
	}
	return nil
}
