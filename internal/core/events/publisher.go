package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"jamlink/internal/core/domain"

	"go.uber.org/zap"
)

// Handler receives a published domain event.
type Handler func(ctx context.Context, event domain.Event) error

// Subscription identifies a registered handler so it can be unregistered.
type Subscription struct {
	name domain.EventName
	id   uint64
}

type registration struct {
	id      uint64
	handler Handler
}

// Publisher multicasts domain events, by name, to registered handlers in
// registration order. OccurredOn is a process-wide monotonic sequence assigned
// at publish time.
type Publisher struct {
	mu       sync.RWMutex
	handlers map[domain.EventName][]registration
	nextID   uint64
	seq      atomic.Uint64

	logger *zap.SugaredLogger
}

// NewPublisher creates an empty publisher.
func NewPublisher(logger *zap.Logger) *Publisher {
	return &Publisher{
		handlers: make(map[domain.EventName][]registration),
		logger:   logger.Sugar(),
	}
}

// Register appends a handler for the event name. The same handler may be
// registered more than once; each registration fires once per publish.
func (p *Publisher) Register(name domain.EventName, handler Handler) Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	p.handlers[name] = append(p.handlers[name], registration{id: p.nextID, handler: handler})
	return Subscription{name: name, id: p.nextID}
}

// Unregister removes the handler identified by the subscription.
func (p *Publisher) Unregister(sub Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	regs := p.handlers[sub.name]
	for i, reg := range regs {
		if reg.id == sub.id {
			p.handlers[sub.name] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}

// Publish fans the event out to every handler registered for its name and
// waits for all of them. Handler errors are collected, not short-circuited.
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	event.OccurredOn = p.seq.Add(1)

	p.mu.RLock()
	regs := make([]registration, len(p.handlers[event.Name]))
	copy(regs, p.handlers[event.Name])
	p.mu.RUnlock()

	var errs []error
	for _, reg := range regs {
		if err := reg.handler(ctx, event); err != nil {
			p.logger.Warnw("event handler failed", "event", event.Name, "error", err)
			errs = append(errs, fmt.Errorf("handler for %s: %w", event.Name, err))
		}
	}
	return errors.Join(errs...)
}

// PublishAll publishes events in order. A handler failure for one event
// surfaces but does not stop the remaining events in the batch.
func (p *Publisher) PublishAll(ctx context.Context, events []domain.Event) error {
	var errs []error
	for _, event := range events {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
