package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"snowpulse/pkg/models"
)

// MockSource provides an in-memory implementation of the check data source
type MockSource struct {
	mu sync.Mutex

	// Latest ingestion time per dataset; missing means empty
	Latest map[string]time.Time
	// Distinct identifiers present per dataset
	Present map[string][]string
	// Violating row counts per predicate
	Violations map[string]int64
	// Duplicate row counts per dataset
	Duplicates map[string]int64
	// Ingestion times per dataset, consulted by CountSince
	Rows map[string][]time.Time

	// Errors per dataset, returned by every query against it
	Errors map[string]error
	// Panics per dataset
	Panics map[string]interface{}

	Calls []string
}

// NewMockSource creates an empty mock source
func NewMockSource() *MockSource {
	return &MockSource{
		Latest:     make(map[string]time.Time),
		Present:    make(map[string][]string),
		Violations: make(map[string]int64),
		Duplicates: make(map[string]int64),
		Rows:       make(map[string][]time.Time),
		Errors:     make(map[string]error),
		Panics:     make(map[string]interface{}),
	}
}

func (m *MockSource) enter(op, dataset string) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, op+" "+dataset)
	p, panics := m.Panics[dataset]
	err := m.Errors[dataset]
	m.mu.Unlock()

	if panics {
		panic(p)
	}
	return err
}

func (m *MockSource) LatestTimestamp(ctx context.Context, dataset, tsExpr string) (time.Time, bool, error) {
	if err := m.enter("latest", dataset); err != nil {
		return time.Time{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Latest[dataset]
	return t, ok, nil
}

func (m *MockSource) DistinctPresent(ctx context.Context, dataset, column string, expected []string) (int64, error) {
	if err := m.enter("distinct", dataset); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	present := make(map[string]bool)
	for _, v := range m.Present[dataset] {
		present[v] = true
	}
	var n int64
	for _, e := range expected {
		if present[e] {
			n++
			delete(present, e)
		}
	}
	return n, nil
}

func (m *MockSource) CountViolations(ctx context.Context, dataset, predicate string) (int64, error) {
	if err := m.enter("violations", dataset); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Violations[predicate], nil
}

func (m *MockSource) CountDuplicates(ctx context.Context, dataset string, key []string) (int64, error) {
	if err := m.enter("duplicates", dataset); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Duplicates[dataset], nil
}

func (m *MockSource) CountSince(ctx context.Context, dataset, tsExpr string, after time.Time) (int64, time.Time, error) {
	if err := m.enter("since", dataset); err != nil {
		return 0, time.Time{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		n      int64
		latest time.Time
	)
	for _, t := range m.Rows[dataset] {
		if !after.IsZero() && !t.After(after) {
			continue
		}
		n++
		if t.After(latest) {
			latest = t
		}
	}
	return n, latest, nil
}

// MockResultLog is an in-memory quality log
type MockResultLog struct {
	mu sync.Mutex

	Rows   []models.CheckResult
	nextID int64

	AppendError error
	PruneError  error
	Appends     int
}

func NewMockResultLog() *MockResultLog {
	return &MockResultLog{}
}

func (m *MockResultLog) Append(ctx context.Context, results []models.CheckResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendError != nil {
		return m.AppendError
	}
	m.Appends++
	for _, r := range results {
		m.nextID++
		r.CheckID = m.nextID
		m.Rows = append(m.Rows, r)
	}
	return nil
}

func (m *MockResultLog) Prune(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PruneError != nil {
		return 0, m.PruneError
	}
	kept := m.Rows[:0]
	var pruned int64
	for _, r := range m.Rows {
		if r.CheckedAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, r)
	}
	m.Rows = kept
	return pruned, nil
}

func (m *MockResultLog) FailuresSince(ctx context.Context, since time.Time) ([]models.CheckResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var failures []models.CheckResult
	for _, r := range m.Rows {
		if r.Status == models.StatusFail && !r.CheckedAt.Before(since) {
			failures = append(failures, r)
		}
	}
	return failures, nil
}

// Latest returns the worst row of the newest run per (check, table), ordered
// by check then table
func (m *MockResultLog) Latest(ctx context.Context) ([]models.CheckResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	newest := map[string]models.CheckResult{}
	for _, r := range m.Rows {
		key := string(r.CheckName) + ":" + r.TableName
		cur, ok := newest[key]
		switch {
		case !ok, r.CheckedAt.After(cur.CheckedAt):
			newest[key] = r
		case r.CheckedAt.Equal(cur.CheckedAt) && !cur.Status.Worse(r.Status):
			newest[key] = r
		}
	}
	latest := make([]models.CheckResult, 0, len(newest))
	for _, r := range newest {
		latest = append(latest, r)
	}
	sort.Slice(latest, func(i, j int) bool {
		if latest[i].CheckName != latest[j].CheckName {
			return latest[i].CheckName < latest[j].CheckName
		}
		return latest[i].TableName < latest[j].TableName
	})
	return latest, nil
}

// Seed appends rows as if an earlier run had written them
func (m *MockResultLog) Seed(rows ...models.CheckResult) {
	_ = m.Append(context.Background(), rows)
}

func (m *MockResultLog) Snapshot() []models.CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CheckResult(nil), m.Rows...)
}

// MockWatermarks is an in-memory watermark table
type MockWatermarks struct {
	mu sync.Mutex

	Marks        map[string]time.Time
	LoadError    error
	AdvanceError error
}

func NewMockWatermarks() *MockWatermarks {
	return &MockWatermarks{Marks: make(map[string]time.Time)}
}

func (m *MockWatermarks) Load(ctx context.Context, dataset string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadError != nil {
		return time.Time{}, false, m.LoadError
	}
	t, ok := m.Marks[dataset]
	return t, ok, nil
}

func (m *MockWatermarks) Advance(ctx context.Context, marks map[string]time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AdvanceError != nil {
		return m.AdvanceError
	}
	for d, t := range marks {
		if t.After(m.Marks[d]) {
			m.Marks[d] = t
		}
	}
	return nil
}

// MockAlertLog is an in-memory alert log with the same windowed
// insert-if-absent semantics as the warehouse table
type MockAlertLog struct {
	mu sync.Mutex

	Records     []models.AlertRecord
	nextID      int64
	InsertError error
}

func NewMockAlertLog() *MockAlertLog {
	return &MockAlertLog{}
}

func (m *MockAlertLog) InsertIfAbsent(ctx context.Context, rec models.AlertRecord, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.InsertError != nil {
		return false, m.InsertError
	}
	for _, r := range m.Records {
		if r.AlertName == rec.AlertName && r.DedupKey == rec.DedupKey && !r.TriggeredAt.Before(since) {
			return false, nil
		}
	}
	m.nextID++
	rec.AlertID = m.nextID
	m.Records = append(m.Records, rec)
	return true, nil
}

func (m *MockAlertLog) Recent(ctx context.Context, limit int) ([]models.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := append([]models.AlertRecord(nil), m.Records...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TriggeredAt.Equal(out[j].TriggeredAt) {
			return out[i].AlertID > out[j].AlertID
		}
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of records for an alert name and dedup key
func (m *MockAlertLog) Count(alertName, dedupKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, r := range m.Records {
		if r.AlertName == alertName && r.DedupKey == dedupKey {
			n++
		}
	}
	return n
}

// MockDeduper is an in-memory expiring key set
type MockDeduper struct {
	mu sync.Mutex

	Keys       map[string]time.Time
	ClaimError error
	Now        func() time.Time
}

func NewMockDeduper() *MockDeduper {
	return &MockDeduper{Keys: make(map[string]time.Time), Now: time.Now}
}

func (m *MockDeduper) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ClaimError != nil {
		return false, m.ClaimError
	}
	now := m.Now()
	if exp, ok := m.Keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.Keys[key] = now.Add(ttl)
	return true, nil
}

func (m *MockDeduper) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Keys[key]; !ok {
		return fmt.Errorf("key %s not claimed", key)
	}
	delete(m.Keys, key)
	return nil
}
