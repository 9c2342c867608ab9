package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snowpulse/internal/cache"
	tu "snowpulse/internal/testutil"
	"snowpulse/pkg/errors"
)

func TestAddRejectsBadSpec(t *testing.T) {
	s := New(nil, time.Minute, nil)

	err := s.Add(Job{Name: JobQuality, Spec: "every hour", Run: func(context.Context) error { return nil }})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetErrorCode(err))

	require.NoError(t, s.Add(Job{Name: JobQuality, Spec: "@every 60m", Run: func(context.Context) error { return nil }}))
	err = s.Add(Job{Name: JobQuality, Spec: "@every 60m", Run: func(context.Context) error { return nil }})
	assert.Error(t, err)
}

func TestRunOnceTracksState(t *testing.T) {
	s := New(nil, time.Minute, nil)
	fail := true
	require.NoError(t, s.Add(Job{Name: JobAlerts, Spec: "@every 5m", Run: func(context.Context) error {
		if fail {
			return fmt.Errorf("warehouse suspended")
		}
		return nil
	}}))

	require.Error(t, s.RunOnce(context.Background(), JobAlerts))
	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, JobStatusFailed, jobs[0].Status)
	assert.Contains(t, jobs[0].Error, "warehouse suspended")
	assert.True(t, s.LastSuccess(JobAlerts).IsZero())

	fail = false
	require.NoError(t, s.RunOnce(context.Background(), JobAlerts))
	jobs = s.Jobs()
	assert.Equal(t, JobStatusCompleted, jobs[0].Status)
	assert.Empty(t, jobs[0].Error)
	assert.False(t, s.LastSuccess(JobAlerts).IsZero())

	assert.Error(t, s.RunOnce(context.Background(), "missing"))
}

func TestRunOnceSingleFlight(t *testing.T) {
	locker := cache.NewLocalLocker()
	s := New(locker, time.Minute, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var runs int32
	require.NoError(t, s.Add(Job{Name: JobQuality, Spec: "@every 60m", Run: func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		close(started)
		<-release
		return nil
	}}))

	done := make(chan error, 1)
	go func() { done <- s.RunOnce(context.Background(), JobQuality) }()
	<-started

	err := s.RunOnce(context.Background(), JobQuality)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeRunInProgress, errors.GetErrorCode(err))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestWithLockSharedAcrossSchedulers(t *testing.T) {
	locker := cache.NewLocalLocker()
	ctx := context.Background()

	unlock, ok, err := locker.TryLock(ctx, JobQuality, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	called := false
	err = WithLock(ctx, locker, JobQuality, time.Minute, func(context.Context) error {
		called = true
		return nil
	})
	assert.Equal(t, errors.ErrCodeRunInProgress, errors.GetErrorCode(err))
	assert.False(t, called)

	require.NoError(t, unlock(ctx))
	require.NoError(t, WithLock(ctx, locker, JobQuality, time.Minute, func(context.Context) error {
		called = true
		return nil
	}))
	assert.True(t, called)
}

func TestStartRunsOnStartAndStop(t *testing.T) {
	s := New(nil, time.Minute, nil)
	var runs int32
	require.NoError(t, s.Add(Job{Name: JobQuality, Spec: "@every 60m", Run: func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}}))

	s.Start(true)
	tu.NewTestHelper(t).WaitFor(func() bool {
		return atomic.LoadInt32(&runs) == 1 && !s.LastSuccess(JobQuality).IsZero()
	}, 2*time.Second, "initial run")

	jobs := s.Jobs()
	assert.False(t, jobs[0].NextRun.IsZero())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestStopCancelsRunningJob(t *testing.T) {
	s := New(nil, time.Minute, nil)
	cancelled := make(chan struct{})
	require.NoError(t, s.Add(Job{Name: JobQuality, Spec: "@every 60m", Run: func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}}))

	s.Start(true)
	tu.NewTestHelper(t).WaitFor(func() bool {
		return s.Jobs()[0].Status == JobStatusRunning
	}, 2*time.Second, "job running")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("job context was not cancelled")
	}
}

func TestStopWaitsForInitialRun(t *testing.T) {
	s := New(nil, time.Minute, nil)
	started := make(chan struct{})
	var finished int32
	require.NoError(t, s.Add(Job{Name: JobQuality, Spec: "@every 60m", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		// cleanup that outlives cancellation, like a final warehouse write
		time.Sleep(100 * time.Millisecond)
		atomic.StoreInt32(&finished, 1)
		return ctx.Err()
	}}))

	s.Start(true)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
}

func TestStopGivesUpOnHungInitialRun(t *testing.T) {
	s := New(nil, time.Minute, nil)
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	require.NoError(t, s.Add(Job{Name: JobQuality, Spec: "@every 60m", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}))

	s.Start(true)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
}
