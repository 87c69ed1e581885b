// Package scheduler runs the market's background jobs: the fixed-interval
// price roll-forward and the crontab battle round. Interval jobs fire once
// immediately on start; crontab jobs wait for their first slot.
package scheduler

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/go-co-op/gocron/v2"
)

type taskFn func(ctx context.Context) error

type Scheduler struct {
	inner gocron.Scheduler
}

func New() *Scheduler {
	inner, err := gocron.NewScheduler()
	if err != nil {
		panic(err.Error())
	}
	return &Scheduler{inner: inner}
}

func (s *Scheduler) Start() {
	s.inner.Start()
}

func (s *Scheduler) Stop() {
	_ = s.inner.Shutdown()
}

func (s *Scheduler) NewIntervalJob(name string, task taskFn, interval time.Duration) {
	s.add(gocron.DurationJob(interval), name, task, gocron.WithStartAt(gocron.WithStartImmediately()))
}

// NewCrontabJob schedules task by a crontab expression with a seconds field.
func (s *Scheduler) NewCrontabJob(name string, task taskFn, crontab string) {
	s.add(gocron.CronJob(crontab, true), name, task)
}

func (s *Scheduler) add(definition gocron.JobDefinition, name string, task taskFn, extra ...gocron.JobOption) {
	// singleton mode: a slow run pushes the next one back instead of
	// overlapping it
	opts := append([]gocron.JobOption{gocron.WithSingletonMode(gocron.LimitModeReschedule)}, extra...)

	if _, err := s.inner.NewJob(definition, gocron.NewTask(s.runSafely(name, task)), opts...); err != nil {
		slog.Error("Scheduler creating job error", slog.String("jobName", name))
		panic(err.Error())
	}
}

// runSafely keeps a panicking job from taking the daemon down with it.
func (s *Scheduler) runSafely(jobName string, task taskFn) func(ctx context.Context) {
	return func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error(
					"Panic recovered in scheduler job",
					slog.String("jobName", jobName),
					slog.Any("panic", r),
					slog.String("stacktrace", string(debug.Stack())),
				)
			}
		}()

		slog.Info("job start", slog.String("jobName", jobName))

		if err := task(ctx); err != nil {
			slog.Error("job failed", slog.String("jobName", jobName), slog.Any("error", err))
			return
		}

		slog.Info("job completed", slog.String("jobName", jobName))
	}
}
