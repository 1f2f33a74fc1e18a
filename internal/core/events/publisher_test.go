package events

import (
	"context"
	"errors"
	"testing"

	"jamlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestPublisher() *Publisher {
	return NewPublisher(zap.NewNop())
}

func TestPublish_FIFOAcrossHandlers(t *testing.T) {
	p := newTestPublisher()

	var order []string
	p.Register(domain.EventPlayerJoined, func(ctx context.Context, e domain.Event) error {
		order = append(order, "first")
		return nil
	})
	p.Register(domain.EventPlayerJoined, func(ctx context.Context, e domain.Event) error {
		order = append(order, "second")
		return nil
	})

	err := p.Publish(context.Background(), domain.Event{Name: domain.EventPlayerJoined})
	assert.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestPublish_OnlyMatchingName(t *testing.T) {
	p := newTestPublisher()

	called := 0
	p.Register(domain.EventPlayerJoined, func(ctx context.Context, e domain.Event) error {
		called++
		return nil
	})

	p.Publish(context.Background(), domain.Event{Name: domain.EventPlayerLeft})
	assert.Equal(t, 0, called)
}

func TestPublish_DuplicateHandlerFiresTwice(t *testing.T) {
	p := newTestPublisher()

	called := 0
	handler := func(ctx context.Context, e domain.Event) error {
		called++
		return nil
	}
	p.Register(domain.EventRoomCreated, handler)
	p.Register(domain.EventRoomCreated, handler)

	p.Publish(context.Background(), domain.Event{Name: domain.EventRoomCreated})
	assert.Equal(t, 2, called)
}

func TestUnregister_RemovesOnlyThatRegistration(t *testing.T) {
	p := newTestPublisher()

	called := 0
	handler := func(ctx context.Context, e domain.Event) error {
		called++
		return nil
	}
	sub := p.Register(domain.EventRoomCreated, handler)
	p.Register(domain.EventRoomCreated, handler)
	p.Unregister(sub)

	p.Publish(context.Background(), domain.Event{Name: domain.EventRoomCreated})
	assert.Equal(t, 1, called)
}

func TestPublish_AssignsMonotonicOccurredOn(t *testing.T) {
	p := newTestPublisher()

	var seen []uint64
	p.Register(domain.EventPlayerJoined, func(ctx context.Context, e domain.Event) error {
		seen = append(seen, e.OccurredOn)
		return nil
	})

	for i := 0; i < 3; i++ {
		p.Publish(context.Background(), domain.Event{Name: domain.EventPlayerJoined})
	}
	assert.Equal(t, []uint64{1, 2, 3}, seen)
}

func TestPublishAll_ContinuesAfterFailure(t *testing.T) {
	p := newTestPublisher()

	var delivered []domain.EventName
	p.Register(domain.EventPlayerJoined, func(ctx context.Context, e domain.Event) error {
		delivered = append(delivered, e.Name)
		return errors.New("boom")
	})
	p.Register(domain.EventPlayerLeft, func(ctx context.Context, e domain.Event) error {
		delivered = append(delivered, e.Name)
		return nil
	})

	err := p.PublishAll(context.Background(), []domain.Event{
		{Name: domain.EventPlayerJoined},
		{Name: domain.EventPlayerLeft},
	})

	assert.Error(t, err)
	assert.Equal(t, []domain.EventName{domain.EventPlayerJoined, domain.EventPlayerLeft}, delivered)
}
