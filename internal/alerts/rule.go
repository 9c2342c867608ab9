// Package alerts turns detected conditions into deduplicated alert log rows.
package alerts

import (
	"context"
	"time"
)

// Candidate is a detected condition before deduplication.
type Candidate struct {
	Ticker      string
	DedupKey    string
	MetricValue float64
	Message     string
}

// Detector is what the Notifier runs. Rule implements it for any source row type.
type Detector interface {
	AlertName() string
	DedupWindow() time.Duration
	Candidates(ctx context.Context, now time.Time) ([]Candidate, error)
}

// Rule is a detect-then-insert alert definition over source rows of type T.
type Rule[T any] struct {
	Name   string
	Window time.Duration

	// Detect returns the qualifying rows as of now.
	Detect func(ctx context.Context, now time.Time) ([]T, error)
	// Key returns the ticker written to the log and the dedup key.
	Key     func(T) (ticker, dedupKey string)
	Metric  func(T) float64
	Message func(T) string
}

func (r Rule[T]) AlertName() string { return r.Name }

func (r Rule[T]) DedupWindow() time.Duration { return r.Window }

// Candidates runs Detect and maps every row to a Candidate.
func (r Rule[T]) Candidates(ctx context.Context, now time.Time) ([]Candidate, error) {
	rows, err := r.Detect(ctx, now)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		ticker, key := r.Key(row)
		c := Candidate{Ticker: ticker, DedupKey: key, Message: r.Message(row)}
		if r.Metric != nil {
			c.MetricValue = r.Metric(row)
		}
		out = append(out, c)
	}
	return out, nil
}
