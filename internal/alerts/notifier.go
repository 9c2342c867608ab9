package alerts

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"snowpulse/internal/observability"
	"snowpulse/pkg/errors"
	"snowpulse/pkg/models"
)

// Sink is the alert log. InsertIfAbsent must be a single conditional write.
type Sink interface {
	InsertIfAbsent(ctx context.Context, rec models.AlertRecord, since time.Time) (bool, error)
}

// Deduper is an optional expiring key set consulted before the alert log.
type Deduper interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RuleStats counts what one rule produced in one run.
type RuleStats struct {
	Detected   int
	Emitted    int
	Suppressed int
	Err        error
}

// Report is the outcome of one notifier run.
type Report struct {
	TriggeredAt time.Time
	Emitted     []models.AlertRecord
	Rules       map[string]*RuleStats
}

// Suppressed is the number of candidates dropped by deduplication.
func (r *Report) Suppressed() int {
	n := 0
	for _, s := range r.Rules {
		n += s.Suppressed
	}
	return n
}

// Notifier emits alerts for every detector, at most once per dedup window.
type Notifier struct {
	sink    Sink
	deduper Deduper
	now     func() time.Time
	logger  *observability.Logger
	metrics *observability.Metrics
}

type Option func(*Notifier)

// WithDeduper fronts the alert log with an expiring key set.
func WithDeduper(d Deduper) Option {
	return func(n *Notifier) { n.deduper = d }
}

func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

func WithLogger(l *observability.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

func NewNotifier(sink Sink, opts ...Option) *Notifier {
	n := &Notifier{
		sink:   sink,
		now:    time.Now,
		logger: observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.WithField("component", "alerts")
	return n
}

// Run evaluates every detector against the same timestamp. A failing
// detector does not stop the others; all failures are returned joined.
func (n *Notifier) Run(ctx context.Context, detectors ...Detector) (report *Report, err error) {
	started := time.Now()
	defer func() { n.metrics.ObserveRun("alerts", started, err) }()

	now := n.now().UTC()
	report = &Report{TriggeredAt: now, Rules: make(map[string]*RuleStats, len(detectors))}

	var errs []error
	for _, d := range detectors {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		stats := n.runDetector(ctx, d, now, report)
		report.Rules[d.AlertName()] = stats
		if stats.Err != nil {
			errs = append(errs, stats.Err)
		}
	}

	n.logger.InfoWithFields("Alert notification finished", map[string]interface{}{
		"emitted":    len(report.Emitted),
		"suppressed": report.Suppressed(),
		"errors":     len(errs),
	})
	return report, stderrors.Join(errs...)
}

func (n *Notifier) runDetector(ctx context.Context, d Detector, now time.Time, report *Report) *RuleStats {
	stats := &RuleStats{}
	log := n.logger.WithField("alert", d.AlertName())

	candidates, err := d.Candidates(ctx, now)
	if err != nil {
		stats.Err = errors.Wrap(err, errors.ErrCodeAlertDetect, fmt.Sprintf("Alert %s detection failed", d.AlertName())).
			WithContext("alert", d.AlertName())
		log.WithError(err).Error("Alert detection failed")
		return stats
	}
	stats.Detected = len(candidates)

	window := d.DedupWindow()
	since := now.Add(-window)
	var insertErrs []error

	for _, c := range candidates {
		rec := models.AlertRecord{
			TriggeredAt: now,
			AlertName:   d.AlertName(),
			Ticker:      c.Ticker,
			DedupKey:    c.DedupKey,
			Message:     c.Message,
			MetricValue: c.MetricValue,
		}
		if rec.Ticker == "" {
			rec.Ticker = models.NoTicker
		}
		if rec.DedupKey == "" {
			rec.DedupKey = rec.Ticker
		}

		emitted, err := n.emit(ctx, rec, since, window)
		if err != nil {
			insertErrs = append(insertErrs, err)
			log.WithError(err).WithField("dedup_key", rec.DedupKey).Error("Failed to record alert")
			continue
		}

		n.metrics.RecordAlert(rec.AlertName, emitted)
		if !emitted {
			stats.Suppressed++
			log.WithField("dedup_key", rec.DedupKey).Debug("Alert suppressed within dedup window")
			continue
		}
		stats.Emitted++
		report.Emitted = append(report.Emitted, rec)
		log.WithFields(map[string]interface{}{
			"ticker":    rec.Ticker,
			"dedup_key": rec.DedupKey,
			"metric":    rec.MetricValue,
		}).Warn(rec.Message)
	}

	if len(insertErrs) > 0 {
		stats.Err = stderrors.Join(insertErrs...)
	}
	return stats
}

// emit claims the dedup key in the cache, when present, and then performs
// the conditional insert. The alert log stays authoritative: a cache error
// falls through to the log, and a failed insert releases the claim.
func (n *Notifier) emit(ctx context.Context, rec models.AlertRecord, since time.Time, window time.Duration) (bool, error) {
	claimed := false
	if n.deduper != nil {
		key := rec.AlertName + ":" + rec.DedupKey
		ok, err := n.deduper.Claim(ctx, key, window)
		switch {
		case err != nil:
			n.logger.WithError(err).WithField("key", key).Warn("Dedup cache unavailable, relying on alert log")
		case !ok:
			return false, nil
		default:
			claimed = true
		}
	}

	inserted, err := n.sink.InsertIfAbsent(ctx, rec, since)
	if err != nil {
		if claimed {
			if rerr := n.deduper.Release(ctx, rec.AlertName+":"+rec.DedupKey); rerr != nil {
				n.logger.WithError(rerr).Warn("Failed to release dedup claim")
			}
		}
		return false, err
	}
	return inserted, nil
}
