// Package scheduler runs the pipeline jobs on a timer through asynq. Every
// enqueue carries a uniqueness lock for the job's interval, so a run that is
// still queued or executing blocks the next one.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/david/govbid-leads/internal/config"
	"github.com/david/govbid-leads/internal/logger"
)

// Entry is one periodic job.
type Entry struct {
	Task     string
	Schedule config.JobSchedule
}

// Entries maps the configured schedule onto task names.
func Entries(jobs config.JobsConfig) []Entry {
	return []Entry{
		{TaskFetchOpportunities, jobs.FetchOpportunities},
		{TaskPromoteLeads, jobs.PromoteLeads},
		{TaskInitiateConversations, jobs.InitiateConversations},
		{TaskAnalyzeConversations, jobs.AnalyzeConversations},
		{TaskDetectNoShows, jobs.DetectNoShows},
	}
}

type Scheduler struct {
	periodic *asynq.Scheduler
	client   *asynq.Client
	entries  []Entry
	queue    string
	log      *logger.Logger
}

func NewScheduler(opt asynq.RedisConnOpt, jobs config.JobsConfig, queue string, log *logger.Logger) *Scheduler {
	if queue == "" {
		queue = "default"
	}
	log = log.Component("scheduler")
	s := &Scheduler{
		client:  asynq.NewClient(opt),
		entries: Entries(jobs),
		queue:   queue,
		log:     log,
	}
	s.periodic = asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Logger:   asynqLogger{log},
		Location: time.UTC,
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if errors.Is(err, asynq.ErrDuplicateTask) {
				log.Info("Skipping job, previous run still pending")
				return
			}
			if err != nil {
				log.Warn("Periodic enqueue failed", "error", err)
			}
		},
	})
	return s
}

func (s *Scheduler) options(e Entry) []asynq.Option {
	unique := e.Schedule.Interval
	if unique < time.Second {
		unique = time.Second
	}
	return []asynq.Option{asynq.Queue(s.queue), asynq.Unique(unique), asynq.MaxRetry(0)}
}

// Register adds every job as a periodic entry.
func (s *Scheduler) Register() error {
	for _, e := range s.entries {
		task, err := newJobTask(e.Task)
		if err != nil {
			return err
		}
		spec := fmt.Sprintf("@every %s", e.Schedule.Interval)
		if _, err := s.periodic.Register(spec, task, s.options(e)...); err != nil {
			return fmt.Errorf("register %s: %w", e.Task, err)
		}
		s.log.Info("Job scheduled", "task", e.Task, "every", e.Schedule.Interval)
	}
	return nil
}

// EnqueueInitial queues the first run of every job after its initial delay.
// It returns how many were queued; duplicates of pending runs are skipped.
func (s *Scheduler) EnqueueInitial(ctx context.Context) (int, error) {
	queued := 0
	for _, e := range s.entries {
		task, err := newJobTask(e.Task)
		if err != nil {
			return queued, err
		}
		opts := append(s.options(e), asynq.ProcessIn(e.Schedule.InitialDelay))
		_, err = s.client.EnqueueContext(ctx, task, opts...)
		if errors.Is(err, asynq.ErrDuplicateTask) {
			s.log.Info("Initial run already pending", "task", e.Task)
			continue
		}
		if err != nil {
			return queued, fmt.Errorf("enqueue %s: %w", e.Task, err)
		}
		queued++
	}
	return queued, nil
}

// Trigger queues one run of task now.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	for _, e := range s.entries {
		if e.Task != name {
			continue
		}
		task, err := newJobTask(name)
		if err != nil {
			return err
		}
		_, err = s.client.EnqueueContext(ctx, task, s.options(e)...)
		return err
	}
	return fmt.Errorf("unknown task %q", name)
}

// Run registers the jobs, queues the initial runs and blocks until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Register(); err != nil {
		return err
	}
	if _, err := s.EnqueueInitial(ctx); err != nil {
		return err
	}
	if err := s.periodic.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	<-ctx.Done()
	s.periodic.Shutdown()
	return nil
}

func (s *Scheduler) Close() error {
	return s.client.Close()
}
