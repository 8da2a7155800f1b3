package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/david/govbid-leads/internal/logger"
)

// Jobs is the work behind each task.
type Jobs interface {
	FetchOpportunities(ctx context.Context) error
	PromoteLeads(ctx context.Context) error
	InitiateConversations(ctx context.Context) error
	AnalyzeConversations(ctx context.Context) error
	DetectNoShows(ctx context.Context) error
}

type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	jobs    Jobs
	timeout time.Duration
	log     *logger.Logger
}

func NewWorker(opt asynq.RedisConnOpt, jobs Jobs, queue string, concurrency int, timeout time.Duration, log *logger.Logger) *Worker {
	if queue == "" {
		queue = "default"
	}
	if concurrency < 1 {
		concurrency = 2
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	log = log.Component("worker")

	w := &Worker{
		server: asynq.NewServer(opt, asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{queue: 1},
			Logger:      asynqLogger{log},
		}),
		mux:     asynq.NewServeMux(),
		jobs:    jobs,
		timeout: timeout,
		log:     log,
	}

	w.mux.HandleFunc(TaskFetchOpportunities, w.handle(jobs.FetchOpportunities))
	w.mux.HandleFunc(TaskPromoteLeads, w.handle(jobs.PromoteLeads))
	w.mux.HandleFunc(TaskInitiateConversations, w.handle(jobs.InitiateConversations))
	w.mux.HandleFunc(TaskAnalyzeConversations, w.handle(jobs.AnalyzeConversations))
	w.mux.HandleFunc(TaskDetectNoShows, w.handle(jobs.DetectNoShows))
	return w
}

func (w *Worker) handle(fn func(context.Context) error) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		payload, err := parseJobPayload(task)
		if err != nil {
			return fmt.Errorf("%s: bad payload: %w", task.Type(), err)
		}
		ctx, cancel := context.WithTimeout(ctx, w.timeout)
		defer cancel()

		start := time.Now()
		w.log.Info("Job started", "task", task.Type(), "trigger", payload.Trigger)
		if err := fn(ctx); err != nil {
			w.log.Error("Job failed", "task", task.Type(), "duration", time.Since(start), "error", err)
			return err
		}
		w.log.Info("Job finished", "task", task.Type(), "duration", time.Since(start))
		return nil
	}
}

// ProcessTask runs task inline, bypassing the queue.
func (w *Worker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	return w.mux.ProcessTask(ctx, task)
}

// Run processes tasks until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}
