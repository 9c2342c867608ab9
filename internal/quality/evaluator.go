package quality

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"snowpulse/internal/observability"
	"snowpulse/pkg/errors"
	"snowpulse/pkg/models"
)

// DefaultRetention is how long quality log rows are kept.
const DefaultRetention = 7 * 24 * time.Hour

// ResultLog is the append-only sink of check results.
type ResultLog interface {
	Append(ctx context.Context, results []models.CheckResult) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// RunReport summarises one evaluator run.
type RunReport struct {
	RunID     string
	CheckedAt time.Time
	Results   []models.CheckResult
	Pruned    int64
	Duration  time.Duration
}

// Counts returns the number of results per status.
func (r *RunReport) Counts() map[models.Status]int {
	counts := map[models.Status]int{
		models.StatusPass: 0,
		models.StatusWarn: 0,
		models.StatusFail: 0,
	}
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// Failed reports whether any check failed.
func (r *RunReport) Failed() bool {
	return r.Counts()[models.StatusFail] > 0
}

// Evaluator runs the battery against a Source.
type Evaluator struct {
	checks     []Check
	source     Source
	results    ResultLog
	watermarks WatermarkStore
	retention  time.Duration
	now        func() time.Time
	newRunID   func() string
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// Option configures an Evaluator.
type Option func(*Evaluator)

func WithRetention(d time.Duration) Option {
	return func(e *Evaluator) {
		if d > 0 {
			e.retention = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

func WithRunIDs(next func() string) Option {
	return func(e *Evaluator) { e.newRunID = next }
}

func WithLogger(l *observability.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// NewEvaluator validates the battery and wires the evaluator.
func NewEvaluator(checks []Check, source Source, results ResultLog, watermarks WatermarkStore, opts ...Option) (*Evaluator, error) {
	if len(checks) == 0 {
		return nil, errors.New(errors.ErrCodeCheckInvalid, "Quality battery has no checks")
	}
	if err := validateAll(checks); err != nil {
		return nil, err
	}

	e := &Evaluator{
		checks:     append([]Check(nil), checks...),
		source:     source,
		results:    results,
		watermarks: watermarks,
		retention:  DefaultRetention,
		now:        time.Now,
		newRunID:   uuid.NewString,
		logger:     observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithField("component", "quality")
	return e, nil
}

// Checks returns a copy of the battery in evaluation order.
func (e *Evaluator) Checks() []Check {
	return append([]Check(nil), e.checks...)
}

// Run evaluates every check, appends one row per check, advances the
// Volume watermarks and prunes rows older than the retention period.
//
// Check errors never abort the run; they become FAIL rows. An error is
// returned only when the results could not be persisted or when the
// post-append maintenance failed, in which case the report is still
// returned.
func (e *Evaluator) Run(ctx context.Context) (report *RunReport, err error) {
	started := time.Now()
	defer func() { e.metrics.ObserveRun("quality", started, err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	report = &RunReport{
		RunID:     e.newRunID(),
		CheckedAt: now,
		Results:   make([]models.CheckResult, 0, len(e.checks)),
	}
	log := e.logger.WithField("run_id", report.RunID)
	log.Info("Starting quality evaluation")

	staged := make(map[string]time.Time)
	for _, c := range e.checks {
		res, mark := e.evaluate(ctx, c, now)
		res.RunID = report.RunID
		res.CheckedAt = now
		report.Results = append(report.Results, res)

		if !mark.IsZero() && mark.After(staged[c.Dataset]) {
			staged[c.Dataset] = mark
		}
		e.logResult(log, res)
		e.metrics.RecordCheck(string(res.CheckName), res.TableName, string(res.Status))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.results.Append(ctx, report.Results); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCheckFailed, "Failed to append quality results").
			WithContext("run_id", report.RunID)
	}

	var maintenance []error
	if err := e.watermarks.Advance(ctx, staged); err != nil {
		log.WithError(err).Warn("Failed to advance volume watermarks")
		maintenance = append(maintenance, err)
	}

	pruned, err := e.results.Prune(ctx, now.Add(-e.retention))
	if err != nil {
		log.WithError(err).Warn("Failed to prune quality log")
		maintenance = append(maintenance, err)
	}
	report.Pruned = pruned
	report.Duration = time.Since(started)

	counts := report.Counts()
	log.InfoWithFields("Quality evaluation finished", map[string]interface{}{
		"pass":        counts[models.StatusPass],
		"warn":        counts[models.StatusWarn],
		"fail":        counts[models.StatusFail],
		"pruned":      pruned,
		"duration_ms": report.Duration.Milliseconds(),
	})

	if len(maintenance) > 0 {
		return report, stderrors.Join(maintenance...)
	}
	return report, nil
}

// evaluate runs one check in isolation. Errors and panics become FAIL rows.
func (e *Evaluator) evaluate(ctx context.Context, c Check, now time.Time) (res models.CheckResult, mark time.Time) {
	res = models.CheckResult{CheckName: c.Name, TableName: c.Dataset}

	defer func() {
		if r := recover(); r != nil {
			res.Status = models.StatusFail
			res.MetricValue = 0
			res.Message = fmt.Sprintf("check panicked: %v", r)
			mark = time.Time{}
			e.logger.WithFields(map[string]interface{}{
				"check": c.ID(),
				"panic": r,
			}).Error("Quality check panicked")
		}
	}()

	out, err := c.evaluate(ctx, e.source, e.watermarks, now)
	if err != nil {
		res.Status = models.StatusFail
		res.Message = "check error: " + errors.Summarize(err)
		return res, time.Time{}
	}

	res.Status = out.status
	res.MetricValue = out.metric
	res.Threshold = out.threshold
	res.Message = out.message
	return res, out.watermark
}

func (e *Evaluator) logResult(log *observability.Logger, res models.CheckResult) {
	fields := map[string]interface{}{
		"check":     string(res.CheckName),
		"table":     res.TableName,
		"status":    string(res.Status),
		"metric":    res.MetricValue,
		"threshold": res.Threshold,
	}
	switch res.Status {
	case models.StatusFail:
		log.ErrorWithFields(res.Message, fields)
	case models.StatusWarn:
		log.WarnWithFields(res.Message, fields)
	default:
		log.WithFields(fields).Debug(res.Message)
	}
}
