// Package scheduler runs periodic maintenance work on a gocron scheduler.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"luma-backend/internal/logger"
)

// Task is one unit of scheduled work. The context is cancelled on Stop and
// bounded by the task timeout.
type Task func(ctx context.Context) error

// Scheduler wraps gocron with tagged singleton jobs.
type Scheduler struct {
	scheduler *gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
	timeout   time.Duration
}

// NewScheduler returns a stopped scheduler. timeout bounds every run; zero
// means no bound beyond Stop.
func NewScheduler(timeout time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	s.SingletonModeAll()

	return &Scheduler{
		scheduler: s,
		ctx:       ctx,
		cancel:    cancel,
		timeout:   timeout,
	}
}

func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop cancels in-flight runs and waits for the scheduler to halt.
func (s *Scheduler) Stop() {
	s.cancel()
	s.scheduler.Stop()
}

// ScheduleCron runs task on a cron expression.
func (s *Scheduler) ScheduleCron(tag, cronExpr string, task Task) error {
	_, err := s.scheduler.Cron(cronExpr).Tag(tag).Do(s.wrap(tag, task))
	return err
}

// ScheduleInterval runs task every interval, starting on the next tick.
func (s *Scheduler) ScheduleInterval(tag string, interval time.Duration, task Task) error {
	_, err := s.scheduler.Every(interval).WaitForSchedule().Tag(tag).Do(s.wrap(tag, task))
	return err
}

func (s *Scheduler) RemoveJob(tag string) error {
	return s.scheduler.RemoveByTag(tag)
}

// JobInfo is a snapshot of one scheduled job.
type JobInfo struct {
	Tag      string    `json:"tag"`
	NextRun  time.Time `json:"next_run"`
	LastRun  time.Time `json:"last_run"`
	RunCount int       `json:"run_count"`
}

func (s *Scheduler) Jobs() []JobInfo {
	jobs := s.scheduler.Jobs()
	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		info := JobInfo{NextRun: j.NextRun(), LastRun: j.LastRun(), RunCount: j.RunCount()}
		if tags := j.Tags(); len(tags) > 0 {
			info.Tag = tags[0]
		}
		out = append(out, info)
	}
	return out
}

func (s *Scheduler) wrap(tag string, task Task) func() {
	return func() {
		ctx := s.ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		start := time.Now()
		if err := task(ctx); err != nil {
			logger.Error("Scheduled job failed", "job", tag, "error", err, "duration", time.Since(start))
			return
		}
		logger.Debug("Scheduled job completed", "job", tag, "duration", time.Since(start))
	}
}
