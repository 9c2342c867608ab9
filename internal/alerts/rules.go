package alerts

import (
	"context"
	"fmt"
	"time"

	"snowpulse/pkg/models"
)

// Default dedup windows. The quality window exceeds the hourly evaluator
// interval so that one missed run still produces an alert.
const (
	DefaultQualityWindow = 65 * time.Minute
	DefaultMarketWindow  = 24 * time.Hour
)

// FailureSource reads FAIL rows from the quality log.
type FailureSource interface {
	FailuresSince(ctx context.Context, since time.Time) ([]models.CheckResult, error)
}

// MarketSource detects market conditions on the latest trade date.
type MarketSource interface {
	DailyMoves(ctx context.Context, thresholdPct float64) ([]models.DailyMove, error)
	TrendFlips(ctx context.Context) ([]models.TrendFlip, error)
	VolumeSpikes(ctx context.Context, multiplier float64) ([]models.VolumeSpike, error)
}

// QualityFailureRule raises DATA_QUALITY_FAIL for every FAIL row checked
// within the window, keyed by check and table. Failures of one run that
// share a key are folded into a single alert.
func QualityFailureRule(src FailureSource, window time.Duration) Rule[models.CheckResult] {
	if window <= 0 {
		window = DefaultQualityWindow
	}
	return Rule[models.CheckResult]{
		Name:   models.AlertDataQualityFail,
		Window: window,
		Detect: func(ctx context.Context, now time.Time) ([]models.CheckResult, error) {
			rows, err := src.FailuresSince(ctx, now.Add(-window))
			if err != nil {
				return nil, err
			}
			return foldFailures(rows), nil
		},
		Key: func(r models.CheckResult) (string, string) {
			return models.NoTicker, qualityKey(r)
		},
		Metric: func(r models.CheckResult) float64 { return r.MetricValue },
		Message: func(r models.CheckResult) string {
			return fmt.Sprintf("%s failed on %s: %s", r.CheckName, r.TableName, r.Message)
		},
	}
}

func qualityKey(r models.CheckResult) string {
	return string(r.CheckName) + ":" + r.TableName
}

// foldFailures merges rows of the same run and key, joining their messages
// and keeping the largest metric. Order of first appearance is kept.
func foldFailures(rows []models.CheckResult) []models.CheckResult {
	type runKey struct {
		key string
		at  time.Time
	}
	index := make(map[runKey]int, len(rows))
	out := make([]models.CheckResult, 0, len(rows))
	for _, r := range rows {
		k := runKey{qualityKey(r), r.CheckedAt.UTC()}
		i, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, r)
			continue
		}
		merged := &out[i]
		if r.Message != "" {
			if merged.Message != "" {
				merged.Message += "; "
			}
			merged.Message += r.Message
		}
		if r.MetricValue > merged.MetricValue {
			merged.MetricValue = r.MetricValue
		}
	}
	return out
}

func BigDailyMoveRule(src MarketSource, thresholdPct float64, window time.Duration) Rule[models.DailyMove] {
	if window <= 0 {
		window = DefaultMarketWindow
	}
	return Rule[models.DailyMove]{
		Name:   models.AlertBigDailyMove,
		Window: window,
		Detect: func(ctx context.Context, _ time.Time) ([]models.DailyMove, error) {
			return src.DailyMoves(ctx, thresholdPct)
		},
		Key:    func(m models.DailyMove) (string, string) { return m.Ticker, m.Ticker },
		Metric: func(m models.DailyMove) float64 { return m.ReturnPct },
		Message: func(m models.DailyMove) string {
			return fmt.Sprintf("%s moved %.2f%% on %s", m.Ticker, m.ReturnPct, m.TradeDate.Format("2006-01-02"))
		},
	}
}

func TrendChangeRule(src MarketSource, window time.Duration) Rule[models.TrendFlip] {
	if window <= 0 {
		window = DefaultMarketWindow
	}
	return Rule[models.TrendFlip]{
		Name:   models.AlertTrendChange,
		Window: window,
		Detect: func(ctx context.Context, _ time.Time) ([]models.TrendFlip, error) {
			return src.TrendFlips(ctx)
		},
		Key:    func(f models.TrendFlip) (string, string) { return f.Ticker, f.Ticker },
		Metric: func(f models.TrendFlip) float64 { return f.SMA5 - f.SMA20 },
		Message: func(f models.TrendFlip) string {
			return fmt.Sprintf("%s trend changed from %s to %s on %s (SMA5 %.2f, SMA20 %.2f)",
				f.Ticker, f.PrevSignal, f.Signal, f.TradeDate.Format("2006-01-02"), f.SMA5, f.SMA20)
		},
	}
}

func HighVolumeRule(src MarketSource, multiplier float64, window time.Duration) Rule[models.VolumeSpike] {
	if window <= 0 {
		window = DefaultMarketWindow
	}
	return Rule[models.VolumeSpike]{
		Name:   models.AlertHighVolume,
		Window: window,
		Detect: func(ctx context.Context, _ time.Time) ([]models.VolumeSpike, error) {
			return src.VolumeSpikes(ctx, multiplier)
		},
		Key:    func(s models.VolumeSpike) (string, string) { return s.Ticker, s.Ticker },
		Metric: func(s models.VolumeSpike) float64 { return s.Ratio() },
		Message: func(s models.VolumeSpike) string {
			return fmt.Sprintf("%s volume %.0f is %.1fx its 20-day average on %s",
				s.Ticker, s.Volume, s.Ratio(), s.TradeDate.Format("2006-01-02"))
		},
	}
}

// RulesFromConfig returns the quality failure rule and, when enabled, the
// three market-condition rules.
func RulesFromConfig(cfg models.Alerts, failures FailureSource, market MarketSource) []Detector {
	rules := []Detector{QualityFailureRule(failures, cfg.QualityWindow)}
	if cfg.MarketAlerts && market != nil {
		rules = append(rules,
			BigDailyMoveRule(market, cfg.BigMoveThresholdPct, cfg.MarketWindow),
			TrendChangeRule(market, cfg.MarketWindow),
			HighVolumeRule(market, cfg.VolumeMultiplier, cfg.MarketWindow),
		)
	}
	return rules
}
