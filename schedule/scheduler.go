package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"go.uber.org/zap"
	
	"github.com/brscrawler/brs-crawler/metrics"
	"github.com/brscrawler/brs-crawler/wait"
)

var log = logging.Logger("crawler/schedule")

type Job interface {
	// Run starts running the job and blocks until the context is done or
	// an error occurs. Run may be called again after an error to retry the
	// job so implementations must ensure that Run resets any necessary state.
	Run(context.Context) error
}

type JobConfig struct {
	lk sync.Mutex
	// ID of the job
	id JobID

	// running is true if the job is executing, false otherwise.
	running bool

	// restarts counts how many times the job has been restarted.
	restarts int

	// errorMsg holds the error that most recently stopped the job.
	errorMsg string

	log *zap.SugaredLogger

	// Name is a human readable name for the job for use in logging
	Name string

	// Job is the job that will be executed.
	Job Job

	// RestartOnFailure controls whether the job should be restarted if it stops with an error or panics.
	RestartOnFailure bool

	// RestartOnCompletion controls whether the job should be restarted if it stops without an error.
	RestartOnCompletion bool

	// RestartDelay is the amount of time to wait before restarting a stopped job
	RestartDelay time.Duration
}

// Scheduler runs a fixed set of jobs, each in its own goroutine, restarting them according to their configuration.
// Jobs never share state through the scheduler.
type Scheduler struct {
	jobs   map[JobID]*JobConfig
	jobsMu sync.Mutex

	jobDelay time.Duration
	clock    clock.Clock

	context context.Context
	wg      sync.WaitGroup
}

// NewScheduler returns a scheduler for the given jobs. Job starts are staggered by jobDelay plus jitter.
func NewScheduler(jobDelay time.Duration, jobs ...*JobConfig) *Scheduler {
	s := &Scheduler{
		jobDelay: jobDelay,
		clock:    clock.New(),
		jobs:     make(map[JobID]*JobConfig),
	}

	for i, jc := range jobs {
		jc.id = JobID(i + 1)
		jc.log = log.With("id", jc.id, "name", jc.Name)
		s.jobs[jc.id] = jc
	}
	return s
}

// Run starts every job and blocks until the context is done and all jobs have stopped, or until every job has
// exited without being restarted.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Infow("starting scheduler", "jobs", len(s.jobs))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// used as context for jobs, ensure they are canceled when context is canceled.
	s.context = ctx

	for id := JobID(1); int(id) <= len(s.jobs); id++ {
		s.wg.Add(1)
		go s.execute(s.jobs[id])

		// A little jitter between jobs so workers do not claim in lockstep.
		if s.jobDelay > 0 {
			if err := wait.Sleep(ctx, s.clock, wait.Jitter(s.jobDelay, 2)); err != nil {
				break
			}
		}
	}

	s.wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Info("all jobs complete, scheduler exiting")
	return nil
}

type JobResult struct {
	ID       JobID
	Name     string
	Error    string
	Running  bool
	Restarts int

	RestartOnFailure    bool
	RestartOnCompletion bool
	RestartDelay        time.Duration
}

type JobID int

// Jobs reports the state of every job, ordered by ID.
func (s *Scheduler) Jobs() []JobResult {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if len(s.jobs) == 0 {
		return nil
	}
	out := make([]JobResult, 0, len(s.jobs))
	for id := JobID(1); int(id) <= len(s.jobs); id++ {
		j := s.jobs[id]
		j.lk.Lock()
		out = append(out, JobResult{
			ID:                  j.id,
			Name:                j.Name,
			Error:               j.errorMsg,
			Running:             j.running,
			Restarts:            j.restarts,
			RestartOnFailure:    j.RestartOnFailure,
			RestartOnCompletion: j.RestartOnCompletion,
			RestartDelay:        j.RestartDelay,
		})
		j.lk.Unlock()
	}
	return out
}

func (s *Scheduler) execute(jc *JobConfig) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(s.context)
	ctx = metrics.WithTagValue(ctx, metrics.Worker, jc.Name)

	jc.lk.Lock()
	jc.running = true
	jc.lk.Unlock()
	metrics.RecordInc(ctx, metrics.WorkersRunning)

	// Report job is complete when this goroutine exits
	defer func() {
		jc.lk.Lock()
		jc.running = false
		jc.lk.Unlock()
		cancel()
		metrics.RecordDec(ctx, metrics.WorkersRunning)

		jc.log.Info("job execution ended")
	}()

	doneFirstRun := false
	for {
		if ctx.Err() != nil {
			return
		}

		if doneFirstRun {
			jc.log.Infow("restarting job", "delay", jc.RestartDelay)
			if err := wait.Sleep(ctx, s.clock, jc.RestartDelay); err != nil {
				return
			}
			jc.lk.Lock()
			jc.restarts++
			jc.lk.Unlock()
			metrics.RecordInc(ctx, metrics.WorkerRestart)
		} else {
			jc.log.Info("running job")
			doneFirstRun = true
		}

		err := runJob(ctx, jc.Job)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			jc.log.Errorw("job exited with failure", "error", err.Error())
			jc.lk.Lock()
			jc.errorMsg = err.Error()
			jc.lk.Unlock()

			if !jc.RestartOnFailure {
				return
			}
		} else {
			jc.log.Info("job exited cleanly")

			if !jc.RestartOnCompletion {
				return
			}
		}
	}
}

// runJob runs j, converting a panic into an error so a crashing job can be restarted like a failing one.
func runJob(ctx context.Context, j Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return j.Run(ctx)
}
