package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"fairroll-backend/internal/lib/logger/sl"
	"fairroll-backend/internal/models"
)

var ErrQueueClosed = errors.New("event queue closed")

// EventSink delivers one event to the outside world. Delivery guarantees are
// the sink's business.
type EventSink interface {
	Deliver(ctx context.Context, event models.Event) error
}

type SinkFunc func(ctx context.Context, event models.Event) error

func (f SinkFunc) Deliver(ctx context.Context, event models.Event) error {
	return f(ctx, event)
}

// FanoutSink delivers to every sink and joins their errors.
type FanoutSink []EventSink

func (f FanoutSink) Deliver(ctx context.Context, event models.Event) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Deliver(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RedisSink publishes events on a per-user pub/sub channel.
type RedisSink struct {
	client *redis.Client
	prefix string
}

func NewRedisSink(client *redis.Client, channelPrefix string) *RedisSink {
	return &RedisSink{
		client: client,
		prefix: channelPrefix,
	}
}

func (s *RedisSink) Channel(userID int64) string {
	return fmt.Sprintf(KeyEventChannelUser, s.prefix, userID)
}

func (s *RedisSink) Deliver(ctx context.Context, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.client.Publish(ctx, s.Channel(event.UserID), data).Err()
}

// EventQueue decouples settlement from notification delivery. Settlements
// enqueue only after their transaction committed; a single dispatcher drains
// the queue into the sink.
type EventQueue struct {
	events chan models.Event
	sink   EventSink
	log    *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewEventQueue(size int, sink EventSink, log *slog.Logger) *EventQueue {
	return &EventQueue{
		events: make(chan models.Event, size),
		sink:   sink,
		log:    log,
		done:   make(chan struct{}),
	}
}

// Enqueue blocks until every event is queued or ctx ends.
func (q *EventQueue) Enqueue(ctx context.Context, events ...models.Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	for _, ev := range events {
		select {
		case q.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Run dispatches events until Close is called and the queue is drained.
func (q *EventQueue) Run(ctx context.Context) error {
	defer close(q.done)

	for ev := range q.events {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := q.sink.Deliver(dctx, ev); err != nil {
			q.log.Warn("event delivery failed",
				slog.String("event_type", string(ev.Type)),
				sl.UserID(ev.UserID),
				sl.Err(err))
		}
		cancel()
	}
	return nil
}

// Close stops accepting events and waits for Run to drain what is queued.
func (q *EventQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.events)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newEvent(eventType models.EventType, userID int64, payload map[string]any) models.Event {
	return models.Event{
		ID:        models.GenerateEventID(),
		Type:      eventType,
		UserID:    userID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}
