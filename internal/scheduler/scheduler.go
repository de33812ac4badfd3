package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/javiormeow/nanoclaw/internal/schedule"
	"github.com/javiormeow/nanoclaw/internal/taskstore"
)

// maxResultLen bounds the stored last_result summary.
const maxResultLen = 200

// Runner executes one due task's prompt and returns the textual result.
type Runner interface {
	RunTask(ctx context.Context, task *taskstore.ScheduledTask) (string, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, task *taskstore.ScheduledTask) (string, error)

func (f RunnerFunc) RunTask(ctx context.Context, task *taskstore.ScheduledTask) (string, error) {
	return f(ctx, task)
}

// RunObserver is notified after each completed task run. Used for the
// audit event publisher; failures there never affect the loop.
type RunObserver interface {
	TaskRan(task *taskstore.ScheduledTask, run *taskstore.TaskRun)
}

// Config holds scheduler settings.
type Config struct {
	PollInterval time.Duration `json:"pollInterval"`
	LockPath     string        `json:"lockPath" envconfig:"LOCK_PATH"`
}

// DefaultConfig returns sensible scheduler defaults.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		PollInterval: 60 * time.Second,
		LockPath:     filepath.Join(home, ".nanoclaw", "scheduler.lock"),
	}
}

// Scheduler polls the store for due tasks and executes them one at a time.
// Exactly one instance may run per store; a file lock taken at startup
// enforces that.
type Scheduler struct {
	cfg      Config
	store    *taskstore.Store
	runner   Runner
	observer RunObserver
	lock     *FileLock
}

// New creates a Scheduler.
func New(cfg Config, store *taskstore.Store, runner Runner) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.LockPath == "" {
		cfg.LockPath = DefaultConfig().LockPath
	}
	return &Scheduler{
		cfg:    cfg,
		store:  store,
		runner: runner,
		lock:   NewFileLock(cfg.LockPath),
	}
}

// SetObserver installs a run observer. Must be called before Run.
func (s *Scheduler) SetObserver(obs RunObserver) {
	s.observer = obs
}

// Run acquires the single-instance lock and starts the poll loop.
// Blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	acquired, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("scheduler lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("scheduler lock %s held by another process", s.cfg.LockPath)
	}
	defer s.lock.Unlock()

	slog.Info("Scheduler started", "poll", s.cfg.PollInterval)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return ctx.Err()
		case t := <-ticker.C:
			s.Tick(ctx, t)
		}
	}
}

// Tick selects due tasks and executes each in turn. A store read failure
// abandons the whole tick; the next tick retries. Task execution failures
// are recorded on the task and never stop the loop.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	due, err := s.store.GetDueTasks(now)
	if err != nil {
		slog.Error("Scheduler due query failed", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}
	slog.Info("Scheduler tick", "due", len(due))

	for _, task := range due {
		if ctx.Err() != nil {
			return
		}
		s.runOne(ctx, task.ID)
	}
}

// runOne re-reads the task, executes it, logs the run, and reschedules.
// The re-read closes the gap between selection and execution: a task
// cancelled or paused in between is skipped with no trace.
func (s *Scheduler) runOne(ctx context.Context, id string) {
	task, err := s.store.GetTaskByID(id)
	if err != nil {
		slog.Error("Scheduler task re-read failed", "task", id, "error", err)
		return
	}
	if task == nil || task.Status != taskstore.StatusActive {
		slog.Debug("Scheduler skipping stale due entry", "task", id)
		return
	}

	slog.Info("Running task", "task", task.ID, "group", task.GroupFolder, "type", task.ScheduleType)
	started := time.Now()
	result, runErr := s.runner.RunTask(ctx, task)
	completed := time.Now()
	duration := completed.Sub(started)

	run := &taskstore.TaskRun{
		TaskID:     task.ID,
		RunAt:      started,
		DurationMS: duration.Milliseconds(),
	}
	var summary string
	if runErr != nil {
		run.Status = taskstore.RunStatusError
		msg := truncate(runErr.Error())
		run.Error = &msg
		summary = truncate("Error: " + runErr.Error())
		slog.Error("Task failed", "task", task.ID, "duration", duration, "error", runErr)
	} else {
		run.Status = taskstore.RunStatusSuccess
		res := truncate(result)
		run.Result = &res
		if result == "" {
			summary = "Completed"
		} else {
			summary = truncate(result)
		}
		slog.Info("Task completed", "task", task.ID, "duration", duration)
	}

	if err := s.store.LogTaskRun(run); err != nil {
		slog.Error("Task run log failed", "task", task.ID, "error", err)
	}

	// Reschedule from completion time so slow runs do not pile up.
	next := s.nextRunAfter(task, completed)
	if err := s.store.UpdateTaskAfterRun(task.ID, next, completed, summary); err != nil {
		slog.Error("Task reschedule failed", "task", task.ID, "error", err)
		return
	}

	if s.observer != nil {
		s.observer.TaskRan(task, run)
	}
}

// nextRunAfter computes the fire time following a completed run. A "once"
// task and any schedule that no longer yields a future time go terminal.
func (s *Scheduler) nextRunAfter(task *taskstore.ScheduledTask, completed time.Time) *time.Time {
	if task.ScheduleType == schedule.TypeOnce {
		return nil
	}
	next, err := schedule.NextRun(task.ScheduleType, task.ScheduleValue, completed)
	if err != nil {
		slog.Warn("Task schedule no longer valid", "task", task.ID, "error", err)
		return nil
	}
	return next
}

// truncate caps s at maxResultLen bytes without splitting a UTF-8 rune.
func truncate(s string) string {
	if len(s) <= maxResultLen {
		return s
	}
	cut := maxResultLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
