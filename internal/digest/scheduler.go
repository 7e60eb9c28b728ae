package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/job-alerts/internal/domain"
	"github.com/robfig/cron/v3"
)

// Runner executes digest runs.
type Runner interface {
	Run(ctx context.Context, freq domain.Frequency) (*RunResult, error)
}

// Task is a maintenance job run on the purge schedule.
type Task struct {
	Name string
	Fn   func(ctx context.Context) error
}

// ScheduleConfig configures when digests and maintenance run.
type ScheduleConfig struct {
	Location      *time.Location
	DailyHour     int
	WeeklyDay     time.Weekday
	WeeklyHour    int
	PurgeSchedule string
}

// Specs returns the cron expressions for the daily and weekly digests.
func (c ScheduleConfig) Specs() (daily, weekly string) {
	return fmt.Sprintf("0 %d * * *", c.DailyHour), fmt.Sprintf("0 %d * * %d", c.WeeklyHour, int(c.WeeklyDay))
}

// Scheduler triggers digest runs and maintenance tasks on a cron schedule
// in a fixed timezone.
type Scheduler struct {
	cron   *cron.Cron
	cfg    ScheduleConfig
	runner Runner
	tasks  []Task
}

// NewScheduler creates a new scheduler. Tasks run sequentially on the purge
// schedule. A nil runner schedules maintenance tasks only.
func NewScheduler(cfg ScheduleConfig, runner Runner, tasks ...Task) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	logger := cronLogger{l: slog.Default().With("component", "scheduler")}

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		cfg:    cfg,
		runner: runner,
		tasks:  tasks,
	}
}

// Start registers the jobs and starts the scheduler. ctx is passed to every
// job and is not cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	daily, weekly := s.cfg.Specs()

	if s.runner != nil {
		if _, err := s.cron.AddFunc(daily, func() { s.runDigest(ctx, domain.FrequencyDaily) }); err != nil {
			return fmt.Errorf("schedule daily digest: %w", err)
		}
		if _, err := s.cron.AddFunc(weekly, func() { s.runDigest(ctx, domain.FrequencyWeekly) }); err != nil {
			return fmt.Errorf("schedule weekly digest: %w", err)
		}
	}
	if len(s.tasks) > 0 && s.cfg.PurgeSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.PurgeSchedule, func() { s.runTasks(ctx) }); err != nil {
			return fmt.Errorf("schedule purge: %w", err)
		}
	}

	s.cron.Start()
	slog.Info("scheduler started",
		"timezone", s.cfg.Location.String(),
		"digests", s.runner != nil,
		"daily", daily,
		"weekly", weekly,
		"purge", s.cfg.PurgeSchedule,
	)
	return nil
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

func (s *Scheduler) runDigest(ctx context.Context, freq domain.Frequency) {
	task := "digest_" + string(freq)
	_, err := s.runner.Run(ctx, freq)
	switch {
	case errors.Is(err, ErrRunInProgress):
		scheduledTasks.WithLabelValues(task, "skipped").Inc()
		slog.Info("digest run skipped, another run in progress", "frequency", freq)
	case err != nil:
		scheduledTasks.WithLabelValues(task, "failed").Inc()
		slog.Error("digest run failed", "frequency", freq, "error", err)
	default:
		scheduledTasks.WithLabelValues(task, "success").Inc()
	}
}

func (s *Scheduler) runTasks(ctx context.Context) {
	for _, t := range s.tasks {
		if err := t.Fn(ctx); err != nil {
			scheduledTasks.WithLabelValues(t.Name, "failed").Inc()
			slog.Error("scheduled task failed", "task", t.Name, "error", err)
			continue
		}
		scheduledTasks.WithLabelValues(t.Name, "success").Inc()
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
