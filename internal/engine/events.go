package engine

import (
	"context"
	"time"

	"github.com/mandalnitish/discom-queue-backend/internal/models"
)

const (
	EventIssued         = "token.issued"
	EventDispatched     = "token.dispatched"
	EventCompleted      = "token.completed"
	EventCancelled      = "token.cancelled"
	EventCounterUpdated = "counter.updated"
)

// Event is one committed state change, pushed to the journal before the
// caller is acknowledged and to the sink after.
type Event struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Category  string          `json:"category,omitempty"`
	Token     *models.Token   `json:"token,omitempty"`
	Counter   *models.Counter `json:"counter,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Journal durably records committed transitions. An Append error fails the
// operation: the engine rolls the in-memory transition back rather than
// acknowledge a change the journal never saw.
type Journal interface {
	Append(ctx context.Context, event Event) error
}

// Sink receives events after commit, in commit order. Delivery is
// fire-and-forget from the engine's perspective.
type Sink interface {
	Deliver(event Event)
}

type noopJournal struct{}

func (noopJournal) Append(context.Context, Event) error { return nil }

type noopSink struct{}

func (noopSink) Deliver(Event) {}

func (e *Engine) newEvent(eventType string, token *models.Token, counter *models.Counter) Event {
	event := Event{
		EventID:   e.newID(),
		Type:      eventType,
		CreatedAt: e.clock.Now(),
	}
	if token != nil {
		copied := *token
		event.Token = &copied
		event.Category = copied.Category
	}
	if counter != nil {
		copied := *counter
		event.Counter = &copied
		if event.Category == "" {
			event.Category = copied.Category
		}
	}
	return event
}
