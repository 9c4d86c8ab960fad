// Package events publishes identity domain events after a resolution commits.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event types.
const (
	TypeContactCreated  = "contact.created"
	TypeContactMerged   = "contact.merged"
	TypeClusterRepaired = "cluster.repaired"
)

// Source identifies this service in published events.
const Source = "identity-reconciliation"

// Event is one domain event.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// New stamps an event with a fresh id and the current time.
func New(eventType string, data map[string]any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    Source,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher delivers events somewhere durable or observable.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// LogPublisher writes events to the structured log. Used when no broker is configured.
type LogPublisher struct {
	log logrus.FieldLogger
}

// NewLogPublisher returns a publisher that logs each event at info level.
func NewLogPublisher(log logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{log: log.WithField("component", "events")}
}

func (p *LogPublisher) Publish(_ context.Context, events ...Event) error {
	for _, e := range events {
		p.log.WithFields(logrus.Fields{
			"event_id":   e.ID,
			"event_type": e.Type,
			"data":       e.Data,
		}).Info("Event published")
	}
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }
func (Nop) Close() error                            { return nil }
