package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"snowpulse/internal/store"
	"snowpulse/pkg/errors"
)

// RequiredTables are the objects the migrations create and the pipeline writes.
var RequiredTables = []string{
	store.DefaultQualityLogTable,
	store.DefaultAlertLogTable,
	store.DefaultWatermarkTable,
	store.RawTradesTable,
	store.RawAggregatesTable,
	store.RawNewsTable,
}

// MissingTables returns the SCHEMA.TABLE names from tables that do not exist
// in the connection's current database.
func MissingTables(ctx context.Context, db *sql.DB, tables []string) ([]string, error) {
	schemas := map[string]struct{}{}
	for _, t := range tables {
		if err := store.ValidateIdentifier(t); err != nil {
			return nil, err
		}
		parts := strings.Split(strings.ToUpper(t), ".")
		if len(parts) != 2 {
			return nil, errors.New(errors.ErrCodeInvalidIdentifier, fmt.Sprintf("Table %q must be SCHEMA.TABLE", t))
		}
		schemas[parts[0]] = struct{}{}
	}
	if len(schemas) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(schemas))
	args := make([]interface{}, 0, len(schemas))
	for s := range schemas {
		names = append(names, s)
	}
	sort.Strings(names)
	for _, s := range names {
		args = append(args, s)
	}

	query := fmt.Sprintf(
		"SELECT TABLE_SCHEMA, TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA IN (%s)",
		strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", "),
	)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.SQLError("Failed to list tables", query, err)
	}
	defer rows.Close()

	existing := map[string]struct{}{}
	for rows.Next() {
		var schemaName, tableName string
		if err := rows.Scan(&schemaName, &tableName); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSQLExecution, "Failed to scan table row")
		}
		existing[strings.ToUpper(schemaName+"."+tableName)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSQLExecution, "Failed to list tables")
	}

	var missing []string
	for _, t := range tables {
		if _, ok := existing[strings.ToUpper(t)]; !ok {
			missing = append(missing, t)
		}
	}
	return missing, nil
}
