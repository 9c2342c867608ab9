// Package quality evaluates the data-quality battery and records one
// result row per check per run.
package quality

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"snowpulse/internal/store"
	"snowpulse/pkg/errors"
	"snowpulse/pkg/models"
)

// IngestedAtExpr extracts the ingestion timestamp stamped on every raw record.
const IngestedAtExpr = "RECORD_METADATA:ingested_at::TIMESTAMP_NTZ"

// Source is the read side the checks run against.
type Source interface {
	LatestTimestamp(ctx context.Context, dataset, tsExpr string) (time.Time, bool, error)
	DistinctPresent(ctx context.Context, dataset, column string, expected []string) (int64, error)
	CountViolations(ctx context.Context, dataset, predicate string) (int64, error)
	CountDuplicates(ctx context.Context, dataset string, key []string) (int64, error)
	CountSince(ctx context.Context, dataset, tsExpr string, after time.Time) (int64, time.Time, error)
}

// WatermarkStore persists the Volume check cursors.
type WatermarkStore interface {
	Load(ctx context.Context, dataset string) (time.Time, bool, error)
	Advance(ctx context.Context, marks map[string]time.Time) error
}

// Check is one descriptor of the battery. Which fields are used depends on Name.
type Check struct {
	Name      models.CheckName
	Dataset   string
	Column    string   // timestamp expression for FRESHNESS and VOLUME, identifier column for COMPLETENESS
	Threshold float64  // minutes for FRESHNESS
	Expected  []string // COMPLETENESS
	Predicate string   // VALIDITY and CONSISTENCY
	Key       []string // DUPLICATES
}

// ID identifies the check in logs and alert dedup keys.
func (c Check) ID() string {
	return string(c.Name) + ":" + c.Dataset
}

// Severity is the status a check reports when its condition is violated.
func Severity(name models.CheckName) models.Status {
	switch name {
	case models.CheckConsistency, models.CheckDuplicates, models.CheckVolume:
		return models.StatusWarn
	default:
		return models.StatusFail
	}
}

// Validate checks that the descriptor carries what its kind needs.
func (c Check) Validate() error {
	invalid := func(msg string) error {
		return errors.New(errors.ErrCodeCheckInvalid, fmt.Sprintf("%s: %s", c.ID(), msg)).
			WithContext("check", string(c.Name)).
			WithContext("table", c.Dataset)
	}

	if err := store.ValidateIdentifier(c.Dataset); err != nil {
		return invalid(err.Error())
	}

	switch c.Name {
	case models.CheckFreshness:
		if c.Threshold <= 0 {
			return invalid("threshold must be a positive number of minutes")
		}
		if err := store.ValidateExpression(c.timestampExpr()); err != nil {
			return invalid(err.Error())
		}
	case models.CheckCompleteness:
		if len(c.Expected) == 0 {
			return invalid("expected set is empty")
		}
		if err := store.ValidateIdentifier(c.identifierColumn()); err != nil {
			return invalid(err.Error())
		}
	case models.CheckValidity, models.CheckConsistency:
		if err := store.ValidateExpression(c.Predicate); err != nil {
			return invalid(err.Error())
		}
	case models.CheckDuplicates:
		if len(c.Key) == 0 {
			return invalid("key has no columns")
		}
		for _, col := range c.Key {
			if err := store.ValidateIdentifier(col); err != nil {
				return invalid(err.Error())
			}
		}
	case models.CheckVolume:
		if err := store.ValidateExpression(c.timestampExpr()); err != nil {
			return invalid(err.Error())
		}
	default:
		return invalid("unknown check")
	}
	return nil
}

func (c Check) timestampExpr() string {
	if c.Column == "" {
		return IngestedAtExpr
	}
	return c.Column
}

func (c Check) identifierColumn() string {
	if c.Column == "" {
		return "TICKER"
	}
	return c.Column
}

// outcome is what a check computes before it becomes a log row.
type outcome struct {
	status    models.Status
	metric    float64
	threshold float64
	message   string
	// newest ingestion time seen by a VOLUME check, staged for the watermark
	watermark time.Time
}

func (c Check) evaluate(ctx context.Context, src Source, marks WatermarkStore, now time.Time) (outcome, error) {
	switch c.Name {
	case models.CheckFreshness:
		return c.freshness(ctx, src, now)
	case models.CheckCompleteness:
		return c.completeness(ctx, src)
	case models.CheckValidity, models.CheckConsistency:
		return c.violations(ctx, src)
	case models.CheckDuplicates:
		return c.duplicates(ctx, src)
	case models.CheckVolume:
		return c.volume(ctx, src, marks)
	}
	return outcome{}, errors.New(errors.ErrCodeCheckInvalid, fmt.Sprintf("unknown check %q", c.Name))
}

func (c Check) freshness(ctx context.Context, src Source, now time.Time) (outcome, error) {
	latest, ok, err := src.LatestTimestamp(ctx, c.Dataset, c.timestampExpr())
	if err != nil {
		return outcome{}, err
	}
	out := outcome{threshold: c.Threshold}
	if !ok {
		out.status = models.StatusFail
		out.metric = -1
		out.message = fmt.Sprintf("%s has never been ingested", c.Dataset)
		return out, nil
	}

	elapsed := now.Sub(latest)
	out.metric = math.Round(elapsed.Minutes())
	if elapsed > time.Duration(c.Threshold*float64(time.Minute)) {
		out.status = models.StatusFail
		out.message = fmt.Sprintf("latest ingestion %.0f minutes ago exceeds %.0f minute threshold", out.metric, c.Threshold)
	} else {
		out.status = models.StatusPass
		out.message = fmt.Sprintf("latest ingestion %.0f minutes ago", out.metric)
	}
	return out, nil
}

func (c Check) completeness(ctx context.Context, src Source) (outcome, error) {
	n, err := src.DistinctPresent(ctx, c.Dataset, c.identifierColumn(), c.Expected)
	if err != nil {
		return outcome{}, err
	}
	out := outcome{metric: float64(n), threshold: float64(len(c.Expected)), status: models.StatusPass}
	out.message = fmt.Sprintf("%d of %d expected values of %s present", n, len(c.Expected), c.identifierColumn())
	if n < int64(len(c.Expected)) {
		out.status = models.StatusFail
	}
	return out, nil
}

func (c Check) violations(ctx context.Context, src Source) (outcome, error) {
	n, err := src.CountViolations(ctx, c.Dataset, c.Predicate)
	if err != nil {
		return outcome{}, err
	}
	out := outcome{metric: float64(n), status: models.StatusPass}
	if n > 0 {
		out.status = Severity(c.Name)
		out.message = fmt.Sprintf("%d rows match %s", n, c.Predicate)
	} else {
		out.message = "no violating rows"
	}
	return out, nil
}

func (c Check) duplicates(ctx context.Context, src Source) (outcome, error) {
	n, err := src.CountDuplicates(ctx, c.Dataset, c.Key)
	if err != nil {
		return outcome{}, err
	}
	out := outcome{metric: float64(n), status: models.StatusPass}
	key := strings.Join(c.Key, ", ")
	if n > 0 {
		out.status = Severity(c.Name)
		out.message = fmt.Sprintf("%d duplicate rows on (%s)", n, key)
	} else {
		out.message = fmt.Sprintf("(%s) is unique", key)
	}
	return out, nil
}

func (c Check) volume(ctx context.Context, src Source, marks WatermarkStore) (outcome, error) {
	mark, _, err := marks.Load(ctx, c.Dataset)
	if err != nil {
		return outcome{}, err
	}
	n, latest, err := src.CountSince(ctx, c.Dataset, c.timestampExpr(), mark)
	if err != nil {
		return outcome{}, err
	}

	out := outcome{metric: float64(n), status: models.StatusPass}
	switch {
	case n == 0 && mark.IsZero():
		out.status = Severity(c.Name)
		out.message = fmt.Sprintf("%s has no rows", c.Dataset)
	case n == 0:
		out.status = Severity(c.Name)
		out.message = fmt.Sprintf("no new rows since %s", mark.UTC().Format(time.RFC3339))
	default:
		out.message = fmt.Sprintf("%d new rows", n)
	}
	if latest.After(mark) {
		out.watermark = latest
	}
	return out, nil
}

// DefaultChecks is the built-in ten-check battery over the raw landing
// tables and the derived daily views.
func DefaultChecks(tickers []string) []Check {
	expected := append([]string(nil), tickers...)
	return []Check{
		{Name: models.CheckFreshness, Dataset: store.RawAggregatesTable, Threshold: 10},
		{Name: models.CheckFreshness, Dataset: store.RawNewsTable, Threshold: 15},
		{Name: models.CheckCompleteness, Dataset: store.DailyOHLCVView, Column: "TICKER", Expected: expected},
		{Name: models.CheckCompleteness, Dataset: store.MovingAveragesView, Column: "TICKER", Expected: expected},
		{Name: models.CheckValidity, Dataset: store.DailyOHLCVView, Predicate: "OPEN_PRICE <= 0 OR HIGH_PRICE <= 0 OR LOW_PRICE <= 0 OR CLOSE_PRICE <= 0"},
		{Name: models.CheckValidity, Dataset: store.DailyOHLCVView, Predicate: "VOLUME < 0"},
		{Name: models.CheckConsistency, Dataset: store.DailyOHLCVView, Predicate: "LOW_PRICE > HIGH_PRICE OR CLOSE_PRICE < LOW_PRICE OR CLOSE_PRICE > HIGH_PRICE"},
		{Name: models.CheckDuplicates, Dataset: store.DailyOHLCVView, Key: []string{"TICKER", "TRADE_DATE"}},
		{Name: models.CheckVolume, Dataset: store.RawTradesTable},
		{Name: models.CheckVolume, Dataset: store.RawNewsTable},
	}
}

// FromConfig builds the battery from configuration, falling back to the
// default battery when no checks are configured.
func FromConfig(cfg models.Quality) ([]Check, error) {
	if len(cfg.Checks) == 0 {
		checks := DefaultChecks(cfg.Tickers)
		if err := validateAll(checks); err != nil {
			return nil, err
		}
		return checks, nil
	}

	checks := make([]Check, 0, len(cfg.Checks))
	for i, cc := range cfg.Checks {
		name, err := models.ParseCheckName(cc.Name)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeCheckInvalid, fmt.Sprintf("Invalid quality.checks[%d]", i))
		}
		c := Check{
			Name:      name,
			Dataset:   strings.TrimSpace(cc.Table),
			Column:    strings.TrimSpace(cc.Column),
			Threshold: cc.Threshold,
			Expected:  cc.Expected,
			Predicate: cc.Predicate,
			Key:       cc.Key,
		}
		if name == models.CheckCompleteness && len(c.Expected) == 0 {
			c.Expected = append([]string(nil), cfg.Tickers...)
		}
		checks = append(checks, c)
	}
	if err := validateAll(checks); err != nil {
		return nil, err
	}
	return checks, nil
}

func validateAll(checks []Check) error {
	for _, c := range checks {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}
