package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	jobTimeout = time.Minute
	maxRuns    = 100
)

// JobFunc is the work a scheduled job performs.
type JobFunc func(ctx context.Context) error

// RunRecord tracks a job execution.
type RunRecord struct {
	Job       string    `json:"job"`
	StartedAt time.Time `json:"startedAt"`
	Duration  string    `json:"duration"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

type job struct {
	name     string
	schedule string
	fn       JobFunc
	entryID  cron.EntryID
}

// Scheduler runs named jobs on cron schedules ("@every 10m", "0 * * * *").
type Scheduler struct {
	mu   sync.RWMutex
	cron *cron.Cron
	jobs map[string]*job
	runs []RunRecord
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		jobs: make(map[string]*job),
	}
}

// Start begins the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("cron scheduler started", "jobs", s.Len())
}

// Stop stops the scheduler and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// ValidateSchedule reports whether schedule is a standard cron expression
// or descriptor such as "@every 10m".
func ValidateSchedule(schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// Add schedules fn under name, replacing any job with the same name.
func (s *Scheduler) Add(name, schedule string, fn JobFunc) error {
	if err := ValidateSchedule(schedule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.entryID)
	}
	j := &job{name: name, schedule: schedule, fn: fn}
	entryID, err := s.cron.AddFunc(schedule, func() { s.execute(j) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	j.entryID = entryID
	s.jobs[name] = j
	return nil
}

// Remove deletes a job.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[name]; ok {
		s.cron.Remove(j.entryID)
		delete(s.jobs, name)
	}
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// RunNow runs a job synchronously outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	return s.execute(j)
}

// Runs returns the most recent run records, oldest first.
func (s *Scheduler) Runs() []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunRecord, len(s.runs))
	copy(out, s.runs)
	return out
}

func (s *Scheduler) execute(j *job) error {
	start := time.Now()
	slog.Debug("cron job executing", "job", j.name)

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	err := j.fn(ctx)
	duration := time.Since(start)

	record := RunRecord{
		Job:       j.name,
		StartedAt: start,
		Duration:  duration.String(),
		Success:   err == nil,
	}
	if err != nil {
		record.Error = err.Error()
		slog.Warn("cron job failed", "job", j.name, "error", err, "duration", duration)
	} else {
		slog.Debug("cron job completed", "job", j.name, "duration", duration)
	}

	s.mu.Lock()
	s.runs = append(s.runs, record)
	if len(s.runs) > maxRuns {
		s.runs = s.runs[len(s.runs)-maxRuns:]
	}
	s.mu.Unlock()
	return err
}
