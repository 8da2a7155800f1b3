// Package events publishes lead status changes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/david/govbid-leads/internal/lead"
	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/models"
)

const TypeStatusChanged = "lead.status_changed"

// StatusChanged is the JSON value of every published message.
type StatusChanged struct {
	Type         string            `json:"type"`
	LeadID       string            `json:"lead_id"`
	Operation    string            `json:"operation"`
	From         models.LeadStatus `json:"from"`
	To           models.LeadStatus `json:"to"`
	BusinessName string            `json:"business_name,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is a lead.Hook that writes one message per status change, keyed
// by lead id so a lead's events stay ordered within a partition.
type Publisher struct {
	w       messageWriter
	timeout time.Duration
	log     *logger.Logger
}

// NewKafkaPublisher writes to topic on the comma-separated brokers.
func NewKafkaPublisher(brokers, topic string, timeout time.Duration, log *logger.Logger) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           timeout,
	}
	return newPublisher(w, timeout, log)
}

func newPublisher(w messageWriter, timeout time.Duration, log *logger.Logger) *Publisher {
	return &Publisher{w: w, timeout: timeout, log: log.Component("events")}
}

func (p *Publisher) LeadChanged(ctx context.Context, c lead.Change) error {
	ev := StatusChanged{
		Type:         TypeStatusChanged,
		LeadID:       c.Lead.ID.String(),
		Operation:    string(c.Op),
		From:         c.From,
		To:           c.To,
		BusinessName: c.Lead.BusinessName,
		OccurredAt:   c.At,
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(ev.LeadID),
		Value:   value,
		Headers: []kafka.Header{{Key: "type", Value: []byte(TypeStatusChanged)}},
		Time:    c.At,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", TypeStatusChanged, err)
	}
	p.log.Debug("Lead event published", "lead_id", ev.LeadID, "to", c.To)
	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}

// Nop drops every event. It is used when no brokers are configured.
type Nop struct{}

func (Nop) LeadChanged(context.Context, lead.Change) error { return nil }
func (Nop) Close() error                                  { return nil }

// Sink is a lead.Hook that must be closed on shutdown.
type Sink interface {
	lead.Hook
	Close() error
}

// New returns a Kafka publisher, or Nop when brokers is empty.
func New(brokers, topic string, timeout time.Duration, log *logger.Logger) Sink {
	if strings.TrimSpace(brokers) == "" {
		return Nop{}
	}
	return NewKafkaPublisher(brokers, topic, timeout, log)
}
