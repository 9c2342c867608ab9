// Package scheduler runs the quality and alert jobs on cron specs with a
// single-flight guard per job.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"snowpulse/internal/cache"
	"snowpulse/internal/observability"
	"snowpulse/pkg/errors"
)

// Job names
const (
	JobQuality = "quality"
	JobAlerts  = "alerts"
)

// DefaultLockTTL bounds how long a crashed run can hold its lock.
const DefaultLockTTL = 30 * time.Minute

// Locker is a named, expiring, cross-run lock.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (cache.Unlock, bool, error)
}

// Job is a unit of scheduled work
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusSkipped   JobStatus = "skipped"
)

// JobState is a snapshot of one job for the status surfaces
type JobState struct {
	Name        string    `json:"name"`
	Spec        string    `json:"spec"`
	Status      JobStatus `json:"status"`
	LastRun     time.Time `json:"last_run"`
	LastSuccess time.Time `json:"last_success"`
	NextRun     time.Time `json:"next_run"`
	Error       string    `json:"error,omitempty"`
}

type entry struct {
	job   Job
	id    cron.EntryID
	state JobState
}

// Scheduler wraps robfig/cron with per-job locking and status tracking
type Scheduler struct {
	cron    *cron.Cron
	locker  Locker
	lockTTL time.Duration
	logger  *observability.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	// initial runs fired by Start, outside cron's own tracking
	initial sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. A nil locker falls back to an in-process lock.
func New(locker Locker, lockTTL time.Duration, logger *observability.Logger) *Scheduler {
	if locker == nil {
		locker = cache.NewLocalLocker()
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	logger = logger.WithField("component", "scheduler")

	cronLogger := observability.NewCronLogger(logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
			cron.WithLogger(cronLogger),
		),
		locker:  locker,
		lockTTL: lockTTL,
		logger:  logger,
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers a job under its cron spec
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New(errors.ErrCodeInvalidInput, "Job needs a name and a run function")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[job.Name]; exists {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("Job %s already registered", job.Name))
	}

	name := job.Name
	id, err := s.cron.AddFunc(job.Spec, func() {
		if err := s.RunOnce(s.ctx, name); err != nil && errors.GetErrorCode(err) != errors.ErrCodeRunInProgress {
			s.logger.WithError(err).WithField("job", name).Error("Scheduled run failed")
		}
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, fmt.Sprintf("Invalid cron spec %q for job %s", job.Spec, job.Name)).
			WithContext("job", job.Name)
	}

	s.entries[name] = &entry{
		job: job,
		id:  id,
		state: JobState{
			Name:   name,
			Spec:   job.Spec,
			Status: JobStatusPending,
		},
	}
	return nil
}

// RunOnce runs a registered job now, holding its lock for the duration.
// It returns an ErrCodeRunInProgress error when another run holds the lock.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("Unknown job %s", name))
	}

	s.setState(name, func(st *JobState) {
		st.Status = JobStatusRunning
		st.LastRun = time.Now().UTC()
	})

	log := s.logger.WithField("job", name)
	log.Debug("Job started")
	err := WithLock(ctx, s.locker, name, s.lockTTL, e.job.Run)

	s.setState(name, func(st *JobState) {
		switch {
		case errors.GetErrorCode(err) == errors.ErrCodeRunInProgress:
			st.Status = JobStatusSkipped
			st.Error = ""
		case err != nil:
			st.Status = JobStatusFailed
			st.Error = errors.Summarize(err)
		default:
			st.Status = JobStatusCompleted
			st.LastSuccess = st.LastRun
			st.Error = ""
		}
	})

	if errors.GetErrorCode(err) == errors.ErrCodeRunInProgress {
		log.Info("Skipping run, another run holds the lock")
	}
	return err
}

func (s *Scheduler) setState(name string, fn func(*JobState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[name]; ok {
		fn(&e.state)
	}
}

// Start begins firing jobs. With runOnStart every job runs once immediately.
func (s *Scheduler) Start(runOnStart bool) {
	s.cron.Start()
	s.logger.Info("Scheduler started")

	if !runOnStart {
		return
	}
	s.mu.RLock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		name := name
		s.initial.Add(1)
		go func() {
			defer s.initial.Done()
			if err := s.RunOnce(s.ctx, name); err != nil && errors.GetErrorCode(err) != errors.ErrCodeRunInProgress {
				s.logger.WithError(err).WithField("job", name).Error("Initial run failed")
			}
		}()
	}
}

// Stop cancels running jobs and waits for them to return, or for ctx.
// Runs started by Start's runOnStart are waited for too.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.initial.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Jobs returns a snapshot of every registered job
func (s *Scheduler) Jobs() []JobState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobState, 0, len(s.entries))
	for _, e := range s.entries {
		st := e.state
		if next := s.cron.Entry(e.id).Next; !next.IsZero() {
			st.NextRun = next.UTC()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LastSuccess returns when the job last completed without error
func (s *Scheduler) LastSuccess(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[name]; ok {
		return e.state.LastSuccess
	}
	return time.Time{}
}

// WithLock runs fn while holding the named lock.
func WithLock(ctx context.Context, locker Locker, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	unlock, ok, err := locker.TryLock(ctx, name, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.ErrCodeRunInProgress, fmt.Sprintf("A %s run is already in progress", name)).
			WithContext("job", name).
			WithSeverity(errors.SeverityWarning)
	}
	defer func() {
		// the run's ctx may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = unlock(releaseCtx)
	}()

	return fn(ctx)
}
