package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/david/govbid-leads/internal/db"
	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/models"
)

var (
	runsLimit   int
	leadsLimit  int
	leadsStatus string
)

// withStore opens the database without wiring the external clients.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, s *db.Store) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewStore(pool))
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, s *db.Store) error {
			runs, err := s.ListRuns(ctx, runsLimit)
			if err != nil {
				return err
			}
			renderRuns(os.Stdout, runs)
			return nil
		})
	},
}

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "List leads, most recently updated first",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := db.LeadFilter{Limit: leadsLimit}
		if leadsStatus != "" {
			st, ok := models.ParseLeadStatus(leadsStatus)
			if !ok {
				return fmt.Errorf("unknown status %q", leadsStatus)
			}
			filter.Status = st
		}
		return withStore(cmd, func(ctx context.Context, s *db.Store) error {
			leads, err := s.ListLeads(ctx, filter)
			if err != nil {
				return err
			}
			renderLeads(os.Stdout, leads)
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count leads per status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, s *db.Store) error {
			counts, err := s.CountLeadsByStatus(ctx)
			if err != nil {
				return err
			}
			renderStats(os.Stdout, counts)
			return nil
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		applied, err := db.ApplyMigrations(ctx, pool, logger.Nop())
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			log.Info("Schema is up to date")
			return nil
		}
		for _, name := range applied {
			printResult("applied", name)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 10, "number of runs")
	leadsCmd.Flags().IntVarP(&leadsLimit, "limit", "n", 25, "number of leads")
	leadsCmd.Flags().StringVarP(&leadsStatus, "status", "s", "", "only leads in this status")
}

// statusColor groups the vocabulary: failures red, booked green, in-flight
// yellow.
func statusColor(st models.LeadStatus) func(a ...interface{}) string {
	switch st {
	case models.StatusProspectingFailed, models.StatusEngagementFailed, models.StatusDisqualified:
		return color.New(color.FgRed).SprintFunc()
	case models.StatusAppointmentSet:
		return color.New(color.FgGreen, color.Bold).SprintFunc()
	case models.StatusIdentified:
		return fmt.Sprint
	default:
		return color.New(color.FgYellow).SprintFunc()
	}
}

func renderRuns(w io.Writer, runs []models.PipelineRun) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Job", "Status", "Found", "Saved", "Errors", "Duration", "Started At"})
	for _, r := range runs {
		duration := "Running..."
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		status := r.Status
		if status == "failed" {
			status = color.RedString(status)
		}
		t.AppendRow(table.Row{r.Job, status, r.ItemsFound, r.ItemsSaved, r.Errors, duration, r.StartedAt.Format("2006-01-02 15:04:05")})
	}
	t.Render()
}

func renderLeads(w io.Writer, leads []models.Lead) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ID", "Status", "Business", "Opportunity", "Work Item", "Updated"})
	for _, l := range leads {
		opp := ""
		if l.Opportunity != nil {
			opp = truncate(l.Opportunity.Title, 48)
		}
		wi := ""
		if l.WorkItemID != nil {
			wi = fmt.Sprint(*l.WorkItemID)
		}
		t.AppendRow(table.Row{
			l.ID.String()[:8], statusColor(l.Status)(string(l.Status)), l.BusinessName, opp, wi,
			l.LastUpdatedAt.Format("2006-01-02 15:04"),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", len(leads)})
	t.Render()
}

func renderStats(w io.Writer, counts map[models.LeadStatus]int) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Status", "Leads"})
	total := 0
	for _, st := range models.AllStatuses {
		n := counts[st]
		total += n
		t.AppendRow(table.Row{statusColor(st)(string(st)), n})
	}
	t.AppendFooter(table.Row{"Total", total})
	t.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
