package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fairroll-backend/internal/models"
	"fairroll-backend/internal/services"
)

func TestEventQueueDrainsOnClose(t *testing.T) {
	var (
		mu  sync.Mutex
		got []models.Event
	)
	sink := services.SinkFunc(func(_ context.Context, ev models.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
		return nil
	})

	q := services.NewEventQueue(16, sink, discardLogger())
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	require.NoError(t, q.Enqueue(ctx,
		models.Event{ID: "1", Type: models.EventBalanceChanged, UserID: 1},
		models.Event{ID: "2", Type: models.EventItemWon, UserID: 1},
	))

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, q.Close(closeCtx))
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	require.Equal(t, "1", got[0].ID)
	require.Equal(t, "2", got[1].ID)

	require.ErrorIs(t, q.Enqueue(ctx, models.Event{ID: "3"}), services.ErrQueueClosed)
}

func TestEventQueueEnqueueRespectsContext(t *testing.T) {
	q := services.NewEventQueue(1, services.FanoutSink{}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Enqueue(ctx, models.Event{ID: "fills-buffer"}))

	cancel()
	require.ErrorIs(t, q.Enqueue(ctx, models.Event{ID: "blocked"}), context.Canceled)
}

func TestFanoutSinkJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	delivered := 0

	sink := services.FanoutSink{
		services.SinkFunc(func(context.Context, models.Event) error { return boom }),
		services.SinkFunc(func(context.Context, models.Event) error { delivered++; return nil }),
	}

	err := sink.Deliver(context.Background(), models.Event{ID: "x"})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, delivered, "a failing sink does not starve the others")
}

func TestRedisSinkPublishes(t *testing.T) {
	_, rs := newRedis(t)
	ctx := context.Background()

	sink := services.NewRedisSink(rs.Client(), "events:user:")
	require.Equal(t, "events:user:42", sink.Channel(42))

	sub := rs.Client().Subscribe(ctx, sink.Channel(42))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, sink.Deliver(ctx, models.Event{
		ID:      "evt_1",
		Type:    models.EventItemWon,
		UserID:  42,
		Payload: map[string]any{"item_id": "knife"},
	}))

	select {
	case msg := <-sub.Channel():
		var ev models.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		require.Equal(t, "evt_1", ev.ID)
		require.Equal(t, models.EventItemWon, ev.Type)
		require.Equal(t, "knife", ev.Payload["item_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}
