package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggerConfig{
		Level:   "debug",
		Output:  &buf,
		Service: "snowpulse",
		Version: "1.0.0",
	})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected log output to contain 'test message', got: %s", output)
	}
	if !strings.Contains(output, `"service":"snowpulse"`) {
		t.Errorf("Expected log output to contain service name, got: %s", output)
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggerConfig{Level: "info", Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.WithField("run_id", "abc").InfoWithFields("evaluation finished", map[string]interface{}{
		"checks": 10,
	})
	logger.WithError(errors.New("boom")).Error("failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 log lines, got %d: %s", len(lines), buf.String())
	}

	var first map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("Expected JSON output: %v", err)
	}
	if first["run_id"] != "abc" || first["checks"] != float64(10) {
		t.Errorf("Missing fields in %v", first)
	}
	if first["message"] != "evaluation finished" {
		t.Errorf("Expected message key, got %v", first)
	}
	if !strings.Contains(lines[1], `"error":"boom"`) {
		t.Errorf("Expected error field, got %s", lines[1])
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggerConfig{Level: "warn", Output: &buf, Format: "text"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("Unexpected level filtering: %s", buf.String())
	}

	if _, err := NewLogger(LoggerConfig{Level: "verbose"}); err == nil {
		t.Error("Expected error for invalid level")
	}
	if err := logger.SetLevel("nope"); err == nil {
		t.Error("Expected error for invalid level")
	}
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(LoggerConfig{Level: "info", Output: &buf})
	cl := NewCronLogger(logger)

	cl.Info("tick", "entry", 1)
	if buf.Len() != 0 {
		t.Errorf("Cron info should log at debug level, got %s", buf.String())
	}

	cl.Error(errors.New("panic"), "job failed", "job", "quality")
	out := buf.String()
	if !strings.Contains(out, `"job":"quality"`) || !strings.Contains(out, `"component":"cron"`) {
		t.Errorf("Unexpected cron error output: %s", out)
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	m.RecordCheck("FRESHNESS", "RAW.RAW_NEWS", "FAIL")
	m.RecordCheck("FRESHNESS", "RAW.RAW_NEWS", "FAIL")
	m.RecordAlert("HIGH_VOLUME", true)
	m.RecordAlert("HIGH_VOLUME", false)
	m.RecordIngested("RAW.RAW_NEWS", 5)
	m.ObserveRun("quality", time.Now().Add(-time.Second), nil)
	m.ObserveRun("alerts", time.Now(), errors.New("down"))

	if got := testutil.ToFloat64(m.qualityChecks.WithLabelValues("FRESHNESS", "RAW.RAW_NEWS", "FAIL")); got != 2 {
		t.Errorf("Expected 2 checks, got %v", got)
	}
	if got := testutil.ToFloat64(m.alertsEmitted.WithLabelValues("HIGH_VOLUME")); got != 1 {
		t.Errorf("Expected 1 emitted alert, got %v", got)
	}
	if got := testutil.ToFloat64(m.alertsSuppressed.WithLabelValues("HIGH_VOLUME")); got != 1 {
		t.Errorf("Expected 1 suppressed alert, got %v", got)
	}
	if got := testutil.ToFloat64(m.ingestedRecords.WithLabelValues("RAW.RAW_NEWS")); got != 5 {
		t.Errorf("Expected 5 ingested records, got %v", got)
	}
	if got := testutil.ToFloat64(m.runErrors.WithLabelValues("alerts")); got != 1 {
		t.Errorf("Expected 1 run error, got %v", got)
	}
	if got := testutil.ToFloat64(m.lastRun.WithLabelValues("quality")); got == 0 {
		t.Error("Expected last run timestamp to be set")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "snowpulse_quality_checks_total") {
		t.Errorf("Expected exported metric, got: %s", rec.Body.String())
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordCheck("VOLUME", "RAW.RAW_TRADES", "PASS")
	m.RecordAlert("TREND_CHANGE", true)
	m.ObserveRun("quality", time.Now(), nil)
	m.RecordIngested("RAW.RAW_TRADES", 1)
}

type staticCheck struct {
	name   string
	status HealthStatus
}

func (s staticCheck) Name() string { return s.name }

func (s staticCheck) Check(ctx context.Context) HealthResult {
	return HealthResult{Status: s.status}
}

func TestHealthManager(t *testing.T) {
	tests := []struct {
		name     string
		checks   []HealthCheck
		expected HealthStatus
		code     int
	}{
		{
			name:     "all up",
			checks:   []HealthCheck{staticCheck{"snowflake", HealthStatusUp}, staticCheck{"redis", HealthStatusUp}},
			expected: HealthStatusUp,
			code:     http.StatusOK,
		},
		{
			name:     "degraded",
			checks:   []HealthCheck{staticCheck{"snowflake", HealthStatusUp}, staticCheck{"quality", HealthStatusDegraded}},
			expected: HealthStatusDegraded,
			code:     http.StatusOK,
		},
		{
			name:     "down wins",
			checks:   []HealthCheck{staticCheck{"snowflake", HealthStatusDown}, staticCheck{"quality", HealthStatusDegraded}},
			expected: HealthStatusDown,
			code:     http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hm := NewHealthManager(time.Second, NewNopLogger())
			for _, c := range tt.checks {
				hm.RegisterCheck(c)
			}

			report := hm.CheckHealth(context.Background())
			if report.Status != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, report.Status)
			}
			if len(report.Components) != len(tt.checks) {
				t.Errorf("Expected %d components, got %d", len(tt.checks), len(report.Components))
			}

			rec := httptest.NewRecorder()
			hm.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tt.code {
				t.Errorf("Expected HTTP %d, got %d", tt.code, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), `"status": "`+tt.expected.String()+`"`) {
				t.Errorf("Expected status name in body, got %s", rec.Body.String())
			}
		})
	}
}

func TestPingAndStalenessChecks(t *testing.T) {
	ctx := context.Background()

	ok := NewPingHealthCheck("snowflake", time.Second, func(context.Context) error { return nil })
	if r := ok.Check(ctx); r.Status != HealthStatusUp {
		t.Errorf("Expected UP, got %s", r.Status)
	}
	bad := NewPingHealthCheck("redis", time.Second, func(context.Context) error { return errors.New("refused") })
	if r := bad.Check(ctx); r.Status != HealthStatusDown || !strings.Contains(r.Message, "refused") {
		t.Errorf("Expected DOWN with cause, got %+v", r)
	}

	var last time.Time
	stale := NewStalenessHealthCheck("quality", time.Hour, func() time.Time { return last })
	if r := stale.Check(ctx); r.Status != HealthStatusUnknown {
		t.Errorf("Expected UNKNOWN before first run, got %s", r.Status)
	}
	last = time.Now().Add(-2 * time.Hour)
	if r := stale.Check(ctx); r.Status != HealthStatusDegraded {
		t.Errorf("Expected DEGRADED, got %s", r.Status)
	}
	last = time.Now()
	if r := stale.Check(ctx); r.Status != HealthStatusUp {
		t.Errorf("Expected UP, got %s", r.Status)
	}
}
