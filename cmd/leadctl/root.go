package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/david/govbid-leads/internal/app"
	"github.com/david/govbid-leads/internal/config"
	"github.com/david/govbid-leads/internal/logger"
)

var (
	pipelineFile string
	quiet        bool
)

var rootCmd = &cobra.Command{
	Use:           "leadctl",
	Short:         "GovBid lead pipeline tools",
	Long:          color.CyanString("leadctl") + " runs pipeline stages by hand and inspects leads, runs and migrations.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&pipelineFile, "pipeline", "", "pipeline tuning file (defaults to PIPELINE_CONFIG or the built-in file)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")

	rootCmd.AddCommand(ingestCmd, promoteCmd, contactCmd, analyzeCmd, noShowsCmd)
	rootCmd.AddCommand(triggerCmd, runsCmd, leadsCmd, statsCmd, migrateCmd)
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if pipelineFile != "" {
		p, err := config.LoadPipeline(pipelineFile)
		if err != nil {
			return nil, nil, err
		}
		cfg.Pipeline = p
	}
	env := cfg.Env
	if quiet {
		env = "production"
	}
	return cfg, logger.New(env), nil
}

// withApp loads config, wires the services and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printResult(label string, v interface{}) {
	fmt.Printf("%s %s %+v\n", color.GreenString("✔"), label, v)
}
