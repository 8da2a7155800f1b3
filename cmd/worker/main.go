// Command worker runs the periodic pipeline jobs: the asynq scheduler
// enqueues them and the worker executes them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/david/govbid-leads/internal/app"
	"github.com/david/govbid-leads/internal/config"
	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/scheduler"
)

func main() {
	queue := flag.String("queue", "pipeline", "asynq queue name")
	concurrency := flag.Int("concurrency", 2, "jobs processed in parallel")
	noSchedule := flag.Bool("no-schedule", false, "only process tasks, do not enqueue them")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env, "queue", *queue)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisOpt, err := scheduler.RedisOpt(cfg.RedisURL)
	if err != nil {
		log.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	worker := scheduler.NewWorker(redisOpt, a.Runner, *queue, *concurrency, cfg.JobTimeout, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	if !*noSchedule {
		sched := scheduler.NewScheduler(redisOpt, cfg.Pipeline.Jobs, *queue, log)
		defer sched.Close()
		g.Go(func() error { return sched.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	log.Info("worker stopped")
}
