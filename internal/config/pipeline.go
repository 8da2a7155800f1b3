package config

import (
	"embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/david/govbid-leads/internal/validate"
)

//go:embed pipeline.yaml
var pipelineYAML embed.FS

// Pipeline holds the tuning knobs for ingestion, outreach and the job schedule.
type Pipeline struct {
	Ingest   IngestConfig   `yaml:"ingest" validate:"required"`
	Jobs     JobsConfig     `yaml:"jobs" validate:"required"`
	Booking  BookingConfig  `yaml:"booking" validate:"required"`
	Outreach OutreachConfig `yaml:"outreach" validate:"required"`
}

type IngestConfig struct {
	Keywords           []string `yaml:"keywords" validate:"min=1,dive,required"`
	LookbackDays       int      `yaml:"lookback_days" validate:"gt=0,lte=365"`
	Limit              int      `yaml:"limit" validate:"gt=0,lte=1000"`
	Concurrency        int      `yaml:"concurrency" validate:"gt=0"`
	CreatePlaceholders bool     `yaml:"create_placeholders"`
	EnrichDescriptions bool     `yaml:"enrich_descriptions"`
}

type JobSchedule struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	Interval     time.Duration `yaml:"interval" validate:"gt=0"`
}

type JobsConfig struct {
	FetchOpportunities    JobSchedule `yaml:"fetch_opportunities"`
	PromoteLeads          JobSchedule `yaml:"promote_leads"`
	InitiateConversations JobSchedule `yaml:"initiate_conversations"`
	AnalyzeConversations  JobSchedule `yaml:"analyze_conversations"`
	DetectNoShows         JobSchedule `yaml:"detect_no_shows"`
}

type BookingConfig struct {
	SlotsOffered int           `yaml:"slots_offered" validate:"gt=0,lte=10"`
	NoShowGrace  time.Duration `yaml:"no_show_grace" validate:"gte=0"`
}

type OutreachConfig struct {
	ContactBatch int     `yaml:"contact_batch" validate:"gt=0"`
	AnalyzeBatch int     `yaml:"analyze_batch" validate:"gt=0"`
	GraphRPS     float64 `yaml:"graph_rps" validate:"gt=0"`
	GraphBurst   int     `yaml:"graph_burst" validate:"gt=0"`
	WebhookRPS   float64 `yaml:"webhook_rps" validate:"gt=0"`
	WebhookBurst int     `yaml:"webhook_burst" validate:"gt=0"`
}

// LoadPipeline reads path when given, otherwise the embedded defaults.
// Environment references like ${VAR} are expanded before parsing.
func LoadPipeline(path string) (*Pipeline, error) {
	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = pipelineYAML.ReadFile("pipeline.yaml")
	}
	if err != nil {
		return nil, fmt.Errorf("reading pipeline config: %w", err)
	}
	return ParsePipeline(data)
}

func ParsePipeline(data []byte) (*Pipeline, error) {
	expanded := os.ExpandEnv(string(data))

	var p Pipeline
	if err := yaml.Unmarshal([]byte(expanded), &p); err != nil {
		return nil, fmt.Errorf("parsing pipeline config: %w", err)
	}
	if err := validate.New().Struct(p); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	return &p, nil
}
