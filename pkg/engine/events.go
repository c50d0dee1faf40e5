package engine

import (
	"context"
	"sync"

	"github.com/emberci/ember/pkg/telemetry"
)

// LogPublisher publishes run timeline events to the structured log.
type LogPublisher struct {
	logger *telemetry.Logger
}

// NewLogPublisher creates an event publisher backed by the given logger.
func NewLogPublisher(logger *telemetry.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.NewComponentLogger("events")}
}

// Publish implements EventPublisher.
func (p *LogPublisher) Publish(_ context.Context, event *Event) {
	log := p.logger.WithRunID(event.RunID)
	if event.JobID != "" {
		log = log.WithJobID(event.JobID)
	}
	if event.Step != "" {
		log = log.WithStep(event.Step)
	}
	switch event.Type.Severity() {
	case "error":
		log.WithField("event", string(event.Type)).Error(event.Message)
	default:
		log.WithField("event", string(event.Type)).Info(event.Message)
	}
}

// MemoryPublisher collects events in memory. It is used by tests and by
// callers that want to inspect the timeline after a run.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryPublisher creates an empty in-memory event publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish implements EventPublisher.
func (p *MemoryPublisher) Publish(_ context.Context, event *Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *event)
}

// Events returns a copy of the collected events.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
