package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/carepilot/internal/database"
	"github.com/nugget/carepilot/internal/events"
)

// runTimeout bounds a single job run.
const runTimeout = 30 * time.Minute

// Scheduler fires registered jobs once a day.
type Scheduler struct {
	logger *slog.Logger
	store  *Store
	bus    *events.Bus
	loc    *time.Location
	at     TimeOfDay
	now    func() time.Time

	mu      sync.Mutex
	jobs    map[string]Job
	order   []string
	timers  map[string]*time.Timer // job name -> timer
	running bool
	wg      sync.WaitGroup
}

// New creates a scheduler that runs jobs daily at at in loc. bus may be
// nil.
func New(logger *slog.Logger, store *Store, bus *events.Bus, loc *time.Location, at TimeOfDay) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		logger: logger.With("component", "scheduler"),
		store:  store,
		bus:    bus,
		loc:    loc,
		at:     at,
		now:    time.Now,
		jobs:   make(map[string]Job),
		timers: make(map[string]*time.Timer),
	}
}

// Register adds a named job. Register before Start.
func (s *Scheduler) Register(name string, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; !exists {
		s.order = append(s.order, name)
	}
	s.jobs[name] = job
}

// Start catches up on today's runs that are already due, then arms a
// timer per job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	names := append([]string(nil), s.order...)
	s.mu.Unlock()

	s.logger.Debug("scheduler starting", "jobs", len(names), "daily_at", fmt.Sprintf("%02d:%02d", s.at.Hour, s.at.Minute))

	for _, name := range names {
		s.checkMissed(ctx, name)
		s.schedule(name)
	}
	return nil
}

// Stop cancels all timers and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for name, timer := range s.timers {
		timer.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Trigger runs a job immediately for the current day.
func (s *Scheduler) Trigger(ctx context.Context, name string) (*Execution, error) {
	return s.execute(ctx, name, s.now().In(s.loc))
}

// checkMissed runs name now when today's scheduled time has passed
// without a completed run.
func (s *Scheduler) checkMissed(ctx context.Context, name string) {
	now := s.now().In(s.loc)
	if now.Before(s.at.On(now)) {
		return
	}
	last, err := s.store.LastCompletedDay(ctx, name)
	if err != nil {
		s.logger.Error("failed to read last run", "job", name, "error", err)
		return
	}
	if last >= now.Format(database.DateFormat) {
		return
	}
	s.logger.Info("catching up missed run", "job", name, "last_completed", last)
	_, _ = s.execute(ctx, name, now)
}

// schedule sets up a timer for the next run.
func (s *Scheduler) schedule(name string) {
	now := s.now().In(s.loc)
	next := s.at.NextRun(now)
	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if timer, exists := s.timers[name]; exists {
		timer.Stop()
	}
	s.timers[name] = time.AfterFunc(delay, func() {
		s.onFire(name)
	})

	s.logger.Debug("job scheduled", "job", name, "next", next, "delay", delay)
}

// onFire is called when a job's timer fires.
func (s *Scheduler) onFire(name string) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	delete(s.timers, name)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	if _, err := s.execute(ctx, name, s.now().In(s.loc)); err != nil {
		s.logger.Error("job failed", "job", name, "error", err)
	}
	s.schedule(name)
}

// execute runs a job and records the execution.
func (s *Scheduler) execute(ctx context.Context, name string, now time.Time) (*Execution, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown job %q", name)
	}

	exec := &Execution{
		Job:       name,
		Day:       now.Format(database.DateFormat),
		StartedAt: time.Now(),
		Status:    StatusRunning,
	}
	if err := s.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}

	s.logger.Info("executing job", "job", name, "day", exec.Day, "execution_id", exec.ID)
	s.bus.Emit(events.SourceScheduler, events.KindTaskFired, map[string]any{"job": name, "day": exec.Day})

	execErr := job(ctx, now)

	completed := time.Now()
	exec.CompletedAt = &completed
	if execErr != nil {
		exec.Status = StatusFailed
		exec.Result = execErr.Error()
	} else {
		exec.Status = StatusCompleted
		exec.Result = "success"
	}
	if err := s.store.UpdateExecution(ctx, exec); err != nil {
		s.logger.Error("failed to update execution", "id", exec.ID, "error", err)
	}

	s.logger.Info("job execution completed",
		"job", name,
		"execution_id", exec.ID,
		"status", exec.Status,
		"duration", completed.Sub(exec.StartedAt),
	)
	s.bus.Emit(events.SourceScheduler, events.KindTaskComplete, map[string]any{
		"job": name, "day": exec.Day, "status": string(exec.Status),
	})
	return exec, execErr
}
