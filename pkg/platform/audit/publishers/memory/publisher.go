package memory

import (
	"context"
	"sync"

	audit "tokenverif/pkg/platform/audit"
)

// Publisher keeps emitted events in memory. Used by local runs without Kafka
// and by tests that assert on the audit trail.
type Publisher struct {
	mu     sync.RWMutex
	events []audit.Event
}

func NewPublisher() *Publisher {
	return &Publisher{}
}

func (p *Publisher) Emit(_ context.Context, event audit.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event.Category == "" {
		event.Category = event.Action.Category()
	}
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of every event emitted so far.
func (p *Publisher) Events() []audit.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]audit.Event{}, p.events...)
}

// ByAction returns the events with the given action.
func (p *Publisher) ByAction(action audit.AuditEvent) []audit.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []audit.Event
	for _, e := range p.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func (p *Publisher) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}
