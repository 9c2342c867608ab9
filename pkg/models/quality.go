package models

import (
	"fmt"
	"strings"
	"time"
)

// Status is the outcome of a single check execution
type Status string

const (
	StatusPass Status = "PASS"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

// Worse reports whether s is a more severe outcome than other.
func (s Status) Worse(other Status) bool {
	return s.rank() > other.rank()
}

func (s Status) rank() int {
	switch s {
	case StatusFail:
		return 2
	case StatusWarn:
		return 1
	}
	return 0
}

// CheckName enumerates the kinds of data-quality checks
type CheckName string

const (
	CheckFreshness    CheckName = "FRESHNESS"
	CheckCompleteness CheckName = "COMPLETENESS"
	CheckValidity     CheckName = "VALIDITY"
	CheckConsistency  CheckName = "CONSISTENCY"
	CheckDuplicates   CheckName = "DUPLICATES"
	CheckVolume       CheckName = "VOLUME"
)

// CheckNames lists every supported check kind in battery order.
var CheckNames = []CheckName{
	CheckFreshness,
	CheckCompleteness,
	CheckValidity,
	CheckConsistency,
	CheckDuplicates,
	CheckVolume,
}

// ParseCheckName converts a case-insensitive name into a CheckName
func ParseCheckName(s string) (CheckName, error) {
	name := CheckName(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range CheckNames {
		if name == known {
			return name, nil
		}
	}
	return "", fmt.Errorf("unknown check name %q", s)
}

// NoTicker marks alerts that are not scoped to a ticker.
const NoTicker = "N/A"

// Alert names written to the alert log.
const (
	AlertDataQualityFail = "DATA_QUALITY_FAIL"
	AlertBigDailyMove    = "BIG_DAILY_MOVE"
	AlertTrendChange     = "TREND_CHANGE"
	AlertHighVolume      = "HIGH_VOLUME"
)

// CheckResult is one row of the quality log. Rows are append-only.
type CheckResult struct {
	CheckID     int64     `json:"check_id"`
	RunID       string    `json:"run_id"`
	CheckedAt   time.Time `json:"checked_at"`
	CheckName   CheckName `json:"check_name"`
	TableName   string    `json:"table_name"`
	Status      Status    `json:"status"`
	MetricValue float64   `json:"metric_value"`
	Threshold   float64   `json:"threshold"`
	Message     string    `json:"message"`
}

// AlertRecord is one row of the alert log.
type AlertRecord struct {
	AlertID     int64     `json:"alert_id"`
	TriggeredAt time.Time `json:"triggered_at"`
	AlertName   string    `json:"alert_name"`
	Ticker      string    `json:"ticker"`
	DedupKey    string    `json:"dedup_key"`
	Message     string    `json:"message"`
	MetricValue float64   `json:"metric_value"`
}

// DailyMove is a ticker's daily return on the latest trade date.
type DailyMove struct {
	Ticker    string
	TradeDate time.Time
	ReturnPct float64
}

// TrendFlip is a change of the SMA5/SMA20 trend signal between the last two trade dates.
type TrendFlip struct {
	Ticker     string
	TradeDate  time.Time
	SMA5       float64
	SMA20      float64
	Signal     string
	PrevSignal string
}

// VolumeSpike is a latest-day volume compared to its trailing 20-day average.
type VolumeSpike struct {
	Ticker    string
	TradeDate time.Time
	Volume    float64
	AvgVolume float64
}

// Ratio returns volume over average volume, 0 when the average is unknown.
func (v VolumeSpike) Ratio() float64 {
	if v.AvgVolume <= 0 {
		return 0
	}
	return v.Volume / v.AvgVolume
}

// RawRecord is one semi-structured row appended to a RAW table.
type RawRecord struct {
	Content  map[string]interface{}
	Metadata map[string]interface{}
}
