package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// DefaultJobTimeout bounds a single job run.
const DefaultJobTimeout = 5 * time.Minute

// ErrUnknownJob is returned by Trigger for an unregistered job name.
var ErrUnknownJob = errors.New("unknown job")

// job is a registered job and its bookkeeping.
type job struct {
	name  string
	spec  string
	fn    JobFunc
	entry cron.EntryID

	// run serializes executions of this job, so a manual trigger never
	// overlaps a scheduled tick.
	run sync.Mutex

	runs     int
	failures int
	last     *Execution
}

// Scheduler manages job scheduling and execution.
type Scheduler struct {
	logger  *slog.Logger
	loc     *time.Location
	cron    *cron.Cron
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	jobs    map[string]*job
	order   []string
	running bool
}

// New creates a scheduler that evaluates cron expressions in loc.
// Scheduled runs of a job that is still running are skipped.
func New(loc *time.Location, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		logger: logger,
		loc:    loc,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		timeout: DefaultJobTimeout,
		now:     time.Now,
		jobs:    make(map[string]*job),
	}
}

// SetTimeout overrides the per-run timeout.
func (s *Scheduler) SetTimeout(d time.Duration) {
	s.timeout = d
}

// AddJob registers fn under name on a standard five-field cron spec
// (descriptors such as @every are accepted too).
func (s *Scheduler) AddJob(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	j := &job{name: name, spec: spec, fn: fn}
	id, err := s.cron.AddFunc(spec, func() {
		if _, err := s.execute(context.Background(), j, false); err != nil {
			s.logger.Error("job failed", "job", j.name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("job %q: invalid schedule %q: %w", name, spec, err)
	}
	j.entry = id

	s.jobs[name] = j
	s.order = append(s.order, name)

	s.logger.Debug("job registered", "job", name, "schedule", spec)
	return nil
}

// Start begins firing jobs on their schedules.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs), "location", s.loc.String())
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Trigger runs the named job immediately, bypassing its schedule. It
// waits for an in-flight run of the same job to finish first.
func (s *Scheduler) Trigger(ctx context.Context, name string) (*Execution, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, j, true)
}

// execute runs a job under its lock and a timeout, and records the
// outcome.
func (s *Scheduler) execute(ctx context.Context, j *job, manual bool) (*Execution, error) {
	j.run.Lock()
	defer j.run.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := s.now().In(s.loc)
	exec := &Execution{
		ID:        newID(),
		Job:       j.name,
		Manual:    manual,
		StartedAt: started,
	}

	s.logger.Debug("executing job", "job", j.name, "execution_id", exec.ID, "manual", manual)

	err := j.fn(ctx, started)

	exec.CompletedAt = s.now().In(s.loc)
	if err != nil {
		exec.Status = StatusFailed
		exec.Result = err.Error()
	} else {
		exec.Status = StatusCompleted
	}

	s.mu.Lock()
	j.runs++
	if err != nil {
		j.failures++
	}
	j.last = exec
	s.mu.Unlock()

	s.logger.Debug("job execution completed",
		"job", j.name,
		"execution_id", exec.ID,
		"status", exec.Status,
		"duration", exec.CompletedAt.Sub(started),
	)

	return exec, err
}

// Stats returns scheduler statistics, jobs in registration order.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Stats{Running: s.running, Jobs: make([]JobStats, 0, len(s.order))}
	for _, name := range s.order {
		j := s.jobs[name]
		entry := s.cron.Entry(j.entry)
		js := JobStats{
			Name:     j.name,
			Schedule: j.spec,
			Next:     entry.Next,
			Prev:     entry.Prev,
			Runs:     j.runs,
			Failures: j.failures,
		}
		if j.last != nil {
			last := *j.last
			js.Last = &last
		}
		out.Jobs = append(out.Jobs, js)
	}
	return out
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// cronLogger adapts slog to cron.Logger. cron's own info chatter goes
// to debug.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
