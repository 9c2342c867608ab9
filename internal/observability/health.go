package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus int

const (
	HealthStatusUp HealthStatus = iota
	HealthStatusDown
	HealthStatusDegraded
	HealthStatusUnknown
)

var statusNames = map[HealthStatus]string{
	HealthStatusUp:       "UP",
	HealthStatusDown:     "DOWN",
	HealthStatusDegraded: "DEGRADED",
	HealthStatusUnknown:  "UNKNOWN",
}

func (s HealthStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// MarshalJSON renders the status by name.
func (s HealthStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// HealthCheck represents a health check
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) HealthResult
}

// HealthResult represents the result of a health check
type HealthResult struct {
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Duration  time.Duration          `json:"duration_ms"`
	Timestamp time.Time              `json:"timestamp"`
}

// HealthReport represents the overall health report
type HealthReport struct {
	Status     HealthStatus            `json:"status"`
	Timestamp  time.Time               `json:"timestamp"`
	Duration   time.Duration           `json:"duration_ms"`
	Components map[string]HealthResult `json:"components"`
	Metadata   map[string]interface{}  `json:"metadata,omitempty"`
}

// HealthManager manages health checks
type HealthManager struct {
	mu       sync.RWMutex
	checks   map[string]HealthCheck
	timeout  time.Duration
	metadata map[string]interface{}
	logger   *Logger
}

// NewHealthManager creates a new health manager
func NewHealthManager(timeout time.Duration, logger *Logger) *HealthManager {
	return &HealthManager{
		checks:   make(map[string]HealthCheck),
		timeout:  timeout,
		metadata: make(map[string]interface{}),
		logger:   logger,
	}
}

// RegisterCheck registers a health check
func (hm *HealthManager) RegisterCheck(check HealthCheck) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[check.Name()] = check
}

// SetMetadata sets metadata for the health report
func (hm *HealthManager) SetMetadata(key string, value interface{}) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.metadata[key] = value
}

// CheckHealth performs all health checks and returns a report
func (hm *HealthManager) CheckHealth(ctx context.Context) HealthReport {
	start := time.Now()

	hm.mu.RLock()
	checks := make(map[string]HealthCheck, len(hm.checks))
	for name, check := range hm.checks {
		checks[name] = check
	}
	metadata := make(map[string]interface{}, len(hm.metadata))
	for k, v := range hm.metadata {
		metadata[k] = v
	}
	hm.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	type namedResult struct {
		name   string
		result HealthResult
	}
	results := make(chan namedResult, len(checks))

	for name, check := range checks {
		go func(name string, check HealthCheck) {
			checkStart := time.Now()
			result := check.Check(ctx)
			result.Duration = time.Since(checkStart)
			result.Timestamp = time.Now()
			results <- namedResult{name, result}
		}(name, check)
	}

	components := make(map[string]HealthResult, len(checks))
	overallStatus := HealthStatusUp

	for i := 0; i < len(checks); i++ {
		r := <-results
		components[r.name] = r.result

		switch r.result.Status {
		case HealthStatusDown:
			overallStatus = HealthStatusDown
		case HealthStatusDegraded, HealthStatusUnknown:
			if overallStatus == HealthStatusUp {
				overallStatus = r.result.Status
			}
		}
	}

	report := HealthReport{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Duration:   time.Since(start),
		Components: components,
		Metadata:   metadata,
	}

	if hm.logger != nil {
		hm.logger.WithFields(map[string]interface{}{
			"status":      overallStatus.String(),
			"duration_ms": report.Duration.Milliseconds(),
			"components":  len(components),
		}).Debug("Health check completed")
	}

	return report
}

// HealthHandler returns an HTTP handler for health checks
func (hm *HealthManager) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := hm.CheckHealth(r.Context())

		w.Header().Set("Content-Type", "application/json")

		switch report.Status {
		case HealthStatusUp, HealthStatusDegraded:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(report)
	}
}

// PingHealthCheck reports a component as down when its ping function fails.
type PingHealthCheck struct {
	name    string
	timeout time.Duration
	ping    func(ctx context.Context) error
}

// NewPingHealthCheck creates a health check around ping
func NewPingHealthCheck(name string, timeout time.Duration, ping func(ctx context.Context) error) *PingHealthCheck {
	return &PingHealthCheck{name: name, timeout: timeout, ping: ping}
}

func (p *PingHealthCheck) Name() string {
	return p.name
}

func (p *PingHealthCheck) Check(ctx context.Context) HealthResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.ping(ctx); err != nil {
		return HealthResult{
			Status:  HealthStatusDown,
			Message: fmt.Sprintf("%s unreachable: %v", p.name, err),
			Details: map[string]interface{}{"error": err.Error()},
		}
	}
	return HealthResult{Status: HealthStatusUp, Message: fmt.Sprintf("%s reachable", p.name)}
}

// StalenessHealthCheck reports degraded when a job has not completed recently.
type StalenessHealthCheck struct {
	name   string
	maxAge time.Duration
	last   func() time.Time
}

// NewStalenessHealthCheck creates a check that compares last() with maxAge.
func NewStalenessHealthCheck(name string, maxAge time.Duration, last func() time.Time) *StalenessHealthCheck {
	return &StalenessHealthCheck{name: name, maxAge: maxAge, last: last}
}

func (s *StalenessHealthCheck) Name() string {
	return s.name
}

func (s *StalenessHealthCheck) Check(ctx context.Context) HealthResult {
	last := s.last()
	if last.IsZero() {
		return HealthResult{Status: HealthStatusUnknown, Message: "no completed run yet"}
	}
	age := time.Since(last)
	details := map[string]interface{}{"last_run": last, "age_seconds": int64(age.Seconds())}
	if age > s.maxAge {
		return HealthResult{
			Status:  HealthStatusDegraded,
			Message: fmt.Sprintf("last run %s ago", age.Truncate(time.Second)),
			Details: details,
		}
	}
	return HealthResult{Status: HealthStatusUp, Details: details}
}
