package schedule_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brscrawler/brs-crawler/schedule"
)

const (
	testTimeout = 5 * time.Second
	testTick    = 10 * time.Millisecond
)

func newTestJob() *testJob {
	return &testJob{
		errChan: make(chan error),
		started: make(chan struct{}, 1),
		stopped: make(chan struct{}, 1),
	}
}

type testJob struct {
	// for causing the Run method to return an err
	errChan chan error
	// for blocking until the job is running
	started chan struct{}
	// for blocking until the job is stopped
	stopped chan struct{}
}

func (r *testJob) Run(ctx context.Context) error {
	r.started <- struct{}{}
	defer func() {
		r.stopped <- struct{}{}
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case chanErr := <-r.errChan:
		return chanErr
	}
}

// panicJob panics on its first run and then behaves like a testJob.
type panicJob struct {
	runs atomic.Int32
	*testJob
}

func (p *panicJob) Run(ctx context.Context) error {
	if p.runs.Add(1) == 1 {
		panic("worker crashed")
	}
	return p.testJob.Run(ctx)
}

func TestScheduler(t *testing.T) {
	t.Run("list jobs", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		tJob := newTestJob()

		s := schedule.NewScheduler(0, &schedule.JobConfig{
			Name: t.Name(),
			Job:  tJob,
		})

		go func() {
			_ = s.Run(ctx)
		}()

		// wait for it to start
		<-tJob.started

		jobs := s.Jobs()
		require.Len(t, jobs, 1)
		assert.True(t, jobs[0].Running)
		assert.Equal(t, schedule.JobID(1), jobs[0].ID)
		assert.Equal(t, t.Name(), jobs[0].Name)
	})

	t.Run("run returns when context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		tJob := newTestJob()
		s := schedule.NewScheduler(0, &schedule.JobConfig{Name: "w0", Job: tJob, RestartOnFailure: true})

		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()
		<-tJob.started

		cancel()
		<-tJob.stopped
		assert.ErrorIs(t, <-done, context.Canceled)
		assert.False(t, s.Jobs()[0].Running)
	})

	t.Run("run returns when all jobs complete", func(t *testing.T) {
		tJob := newTestJob()
		s := schedule.NewScheduler(0, &schedule.JobConfig{Name: "w0", Job: tJob})

		done := make(chan error, 1)
		go func() { done <- s.Run(context.Background()) }()
		<-tJob.started

		tJob.errChan <- nil
		<-tJob.stopped
		assert.NoError(t, <-done)
	})

	t.Run("job restarts on failure", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		tJob := newTestJob()
		s := schedule.NewScheduler(0, &schedule.JobConfig{
			Name:             t.Name(),
			Job:              tJob,
			RestartOnFailure: true,
		})
		go func() {
			_ = s.Run(ctx)
		}()
		<-tJob.started

		// cause the job to return an error
		tJob.errChan <- errors.New("FAIL")
		<-tJob.stopped
		<-tJob.started

		jobs := s.Jobs()
		assert.True(t, jobs[0].Running)
		assert.Equal(t, 1, jobs[0].Restarts)
		assert.Equal(t, "FAIL", jobs[0].Error)
	})

	t.Run("job restarts after panic", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		pJob := &panicJob{testJob: newTestJob()}
		s := schedule.NewScheduler(0, &schedule.JobConfig{
			Name:             t.Name(),
			Job:              pJob,
			RestartOnFailure: true,
		})
		go func() {
			_ = s.Run(ctx)
		}()

		// the second run reaches the test job
		<-pJob.started

		jobs := s.Jobs()
		assert.True(t, jobs[0].Running)
		assert.Equal(t, 1, jobs[0].Restarts)
		assert.Contains(t, jobs[0].Error, "worker crashed")
	})

	t.Run("failed job without restart stays stopped", func(t *testing.T) {
		tJob := newTestJob()
		s := schedule.NewScheduler(0, &schedule.JobConfig{Name: "w0", Job: tJob})

		done := make(chan error, 1)
		go func() { done <- s.Run(context.Background()) }()
		<-tJob.started

		tJob.errChan <- errors.New("FAIL")
		<-tJob.stopped
		assert.NoError(t, <-done)

		jobs := s.Jobs()
		assert.False(t, jobs[0].Running)
		assert.Equal(t, 0, jobs[0].Restarts)
		assert.Equal(t, "FAIL", jobs[0].Error)
	})
}
