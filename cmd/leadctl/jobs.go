package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/david/govbid-leads/internal/app"
	"github.com/david/govbid-leads/internal/scheduler"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch recent SAM.gov opportunities and create placeholder leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			stats, err := a.Runner.Ingest(ctx)
			if err != nil {
				return err
			}
			printResult("ingest", stats)
			return nil
		})
	},
}

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Match waiting opportunities to Facebook business pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			stats, err := a.Runner.Promote(ctx)
			if err != nil {
				return err
			}
			printResult("promote", stats)
			return nil
		})
	},
}

var contactCmd = &cobra.Command{
	Use:   "contact",
	Short: "Send the first message to prospected leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			stats, err := a.Runner.Contact(ctx)
			if err != nil {
				return err
			}
			printResult("contact", stats)
			return nil
		})
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Summarize finished conversations into learnings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			stats, err := a.Runner.Analyze(ctx)
			if err != nil {
				return err
			}
			printResult("analyze", stats)
			return nil
		})
	},
}

var noShowsCmd = &cobra.Command{
	Use:   "no-shows",
	Short: "Move leads that missed their appointment to follow-up",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			stats, err := a.Runner.NoShows(ctx)
			if err != nil {
				return err
			}
			printResult("no-shows", stats)
			return nil
		})
	},
}

var triggerQueue string

// triggerCmd hands a job to the running worker instead of executing it here.
var triggerCmd = &cobra.Command{
	Use:       "trigger <task>",
	Short:     "Queue one run of a scheduled job on the worker",
	Args:      cobra.ExactArgs(1),
	ValidArgs: scheduler.TaskNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		opt, err := scheduler.RedisOpt(cfg.RedisURL)
		if err != nil {
			return err
		}
		sched := scheduler.NewScheduler(opt, cfg.Pipeline.Jobs, triggerQueue, log)
		defer sched.Close()

		err = sched.Trigger(cmd.Context(), args[0])
		if errors.Is(err, asynq.ErrDuplicateTask) {
			fmt.Printf("%s %s is already queued or running\n", color.YellowString("!"), args[0])
			return nil
		}
		if err != nil {
			return fmt.Errorf("trigger %s: %w", args[0], err)
		}
		printResult("queued", args[0])
		return nil
	},
}

func init() {
	triggerCmd.Flags().StringVar(&triggerQueue, "queue", "pipeline", "asynq queue name")
}
