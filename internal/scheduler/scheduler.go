package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lotwise/driveline/pkg/schema"
)

// WorkflowRunner is the interface the scheduler uses to run workflows.
// Satisfied by *engine.Engine; each Build issues a fresh correlation id, so
// every scheduled run gets its own replay trail.
type WorkflowRunner interface {
	Build(ctx context.Context, sandboxID, sessionID string, spec *schema.WorkflowSpec) (*schema.Workflow, error)
	Execute(ctx context.Context, workflowID string) (*schema.Workflow, error)
}

// Job is a registered recurring workflow.
type Job struct {
	Name      string
	CronExpr  string
	Spec      *schema.WorkflowSpec
	SandboxID string
	SessionID string
}

// JobStatus is a snapshot of one registered job's schedule state.
type JobStatus struct {
	Name          string     `json:"name"`
	CronExpr      string     `json:"cron_expr"`
	NextRunAt     time.Time  `json:"next_run_at"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// job is the scheduler's mutable record for a registered Job.
type job struct {
	def      Job
	schedule cron.Schedule

	nextRun    time.Time
	lastRun    *time.Time
	lastStatus string
}

// Scheduler runs registered workflow specs on cron schedules. Due jobs are
// launched concurrently; a job still in flight when its next fire time
// passes is skipped for that tick, not queued.
type Scheduler struct {
	runner   WorkflowRunner
	parser   cron.Parser
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*job
	cancel context.CancelFunc
	done   chan struct{}
	runs   sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job names currently executing (dedup)
}

// NewScheduler creates a Scheduler. interval is the tick period; zero or
// negative means the 60s default. logger may be nil.
func NewScheduler(runner WorkflowRunner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		interval: interval,
		logger:   logger,
		jobs:     make(map[string]*job),
		inflight: make(map[string]struct{}),
	}
}

// Register adds a recurring job. The cron expression is parsed up front so a
// bad schedule fails registration, not a 3am tick. Registration works before
// and after Start.
func (s *Scheduler) Register(j Job) error {
	if j.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "job name is required")
	}
	if j.Spec == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "job %q has no workflow spec", j.Name)
	}
	if j.SessionID == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "job %q has no session id", j.Name)
	}

	schedule, err := s.parser.Parse(j.CronExpr)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"job %q: parse cron expression %q: %s", j.Name, j.CronExpr, err.Error()).WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.Name]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "job %q already registered", j.Name)
	}
	s.jobs[j.Name] = &job{
		def:      j,
		schedule: schedule,
		nextRun:  schedule.Next(time.Now().UTC()),
	}

	s.logger.Info("scheduled job registered",
		slog.String("job", j.Name),
		slog.String("cron", j.CronExpr),
		slog.String("workflow", j.Spec.Name))
	return nil
}

// Jobs returns a snapshot of every registered job's schedule state.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := JobStatus{
			Name:          j.def.Name,
			CronExpr:      j.def.CronExpr,
			NextRunAt:     j.nextRun,
			LastRunStatus: j.lastStatus,
		}
		if j.lastRun != nil {
			t := *j.lastRun
			st.LastRunAt = &t
		}
		out = append(out, st)
	}
	return out
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.loop(schedCtx, done)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.runs.Wait()
		close(done)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick launches every due job that is not already in flight. The next fire
// time advances at launch, so a run that outlives its own schedule slot
// drops the overlapping fire instead of stacking runs.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if !j.nextRun.After(now) {
			j.nextRun = j.schedule.Next(now)
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		if !s.tryAcquire(j.def.Name) {
			s.logger.Warn("scheduled job still running, skipping fire",
				slog.String("job", j.def.Name))
			continue
		}
		s.runs.Add(1)
		go func(j *job) {
			defer s.runs.Done()
			defer s.release(j.def.Name)
			s.runJob(ctx, j, now)
		}(j)
	}
}

// RunNow fires a registered job immediately, outside its schedule. The
// in-flight guard still applies.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "job %q is not registered", name)
	}
	if !s.tryAcquire(name) {
		return schema.NewErrorf(schema.ErrCodeConflict, "job %q is already running", name)
	}
	defer s.release(name)

	s.runJob(ctx, j, time.Now().UTC())
	return nil
}

// runJob builds and executes one run of the job's workflow spec.
func (s *Scheduler) runJob(ctx context.Context, j *job, firedAt time.Time) {
	s.logger.Info("running scheduled job",
		slog.String("job", j.def.Name),
		slog.String("workflow", j.def.Spec.Name))

	status := "success"
	wf, err := s.runner.Build(ctx, j.def.SandboxID, j.def.SessionID, j.def.Spec)
	if err == nil {
		_, err = s.runner.Execute(ctx, wf.ID)
	}
	if err != nil {
		status = "error"
		s.logger.Error("scheduled job run failed",
			slog.String("job", j.def.Name),
			slog.Any("error", err))
	} else {
		s.logger.Info("scheduled job run completed",
			slog.String("job", j.def.Name),
			slog.String("workflow_id", wf.ID),
			slog.String("correlation_id", wf.CorrelationID))
	}

	s.mu.Lock()
	j.lastRun = &firedAt
	j.lastStatus = status
	s.mu.Unlock()
}

// tryAcquire marks the job in flight unless it already is.
func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

func (s *Scheduler) release(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}

// NextRun computes the next fire time for a cron expression.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop cancels the loop and waits for it and any in-flight runs to finish.
// Safe to call more than once.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	s.logger.Info("scheduler stopped")
	return nil
}
