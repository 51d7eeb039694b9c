// Package janitor runs periodic maintenance: cache pruning, rate limiter
// sweeps and purging of finished persistence jobs.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

const (
	PruneSchedule = "@every 10m"
	PurgeSchedule = "@daily"

	DefaultJobRetention = 7 * 24 * time.Hour
)

// Pruner drops expired cache entries.
type Pruner interface {
	Prune() int
}

// Sweeper drops elapsed rate limit windows.
type Sweeper interface {
	Sweep() int
}

// JobPurger deletes completed jobs last updated before a cutoff.
type JobPurger interface {
	PurgeJobs(before time.Time) (int64, error)
}

// Task is one scheduled function.
type Task struct {
	Name     string
	Schedule string
	Run      func()
}

type Deps struct {
	Caches       []Pruner
	Limiter      Sweeper
	Jobs         JobPurger
	JobRetention time.Duration
	Now          func() time.Time
}

// Tasks builds the standard maintenance tasks for the non-nil deps.
func Tasks(d Deps) []Task {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.JobRetention <= 0 {
		d.JobRetention = DefaultJobRetention
	}

	var tasks []Task
	if len(d.Caches) > 0 || d.Limiter != nil {
		tasks = append(tasks, Task{Name: "prune", Schedule: PruneSchedule, Run: func() {
			pruned := 0
			for _, c := range d.Caches {
				pruned += c.Prune()
			}
			swept := 0
			if d.Limiter != nil {
				swept = d.Limiter.Sweep()
			}
			slog.Debug("janitor: pruned", "cache_entries", pruned, "limiter_windows", swept)
		}})
	}
	if d.Jobs != nil {
		tasks = append(tasks, Task{Name: "purge_jobs", Schedule: PurgeSchedule, Run: func() {
			n, err := d.Jobs.PurgeJobs(d.Now().Add(-d.JobRetention))
			if err != nil {
				slog.Error("janitor: purging jobs", "error", err)
				return
			}
			slog.Info("janitor: purged completed jobs", "count", n)
		}})
	}
	return tasks
}

// Janitor schedules tasks on a cron runner.
type Janitor struct {
	cron  *cronlib.Cron
	tasks []Task
}

func New(tasks ...Task) (*Janitor, error) {
	parser := cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor)
	c := cronlib.New(
		cronlib.WithParser(parser),
		cronlib.WithChain(cronlib.Recover(slogLogger{}), cronlib.SkipIfStillRunning(slogLogger{})),
		cronlib.WithLogger(slogLogger{}),
	)
	for _, t := range tasks {
		if _, err := c.AddFunc(t.Schedule, t.Run); err != nil {
			return nil, fmt.Errorf("scheduling %s (%q): %w", t.Name, t.Schedule, err)
		}
	}
	return &Janitor{cron: c, tasks: tasks}, nil
}

func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop stops scheduling and waits for running tasks until ctx is done.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunNow runs every task once, synchronously.
func (j *Janitor) RunNow() {
	for _, t := range j.tasks {
		t.Run()
	}
}

// slogLogger adapts slog to the cron logger interface.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
