package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversToTypedAndGlobalHandlers(t *testing.T) {
	bus := NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))

	var typed, global Recorder
	require.NoError(t, bus.Subscribe(BookingConfirmed, typed.Handle))
	require.NoError(t, bus.SubscribeAll(global.Handle))
	assert.Error(t, bus.Subscribe(BookingConfirmed, nil))

	at := time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)
	bus.Publish(context.Background(), New(BookingConfirmed, "i1", "s1", at))
	bus.Publish(context.Background(), New(RequestSubmitted, "i1", "s1", at))

	assert.Len(t, typed.Events(), 1)
	assert.Len(t, global.Events(), 2)
	assert.Len(t, global.OfType(RequestSubmitted), 1)
}

func TestBus_HandlerFailuresAreIsolated(t *testing.T) {
	bus := NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))

	var rec Recorder
	require.NoError(t, bus.SubscribeAll(func(context.Context, Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(context.Context, Event) error { panic("worse") }))
	require.NoError(t, bus.SubscribeAll(rec.Handle))

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), New(SlotExpired, "i1", "s1", time.Now()))
	})
	assert.Len(t, rec.Events(), 1)
}

type fakeRedis struct {
	channel string
	payload []byte
	err     error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)

	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedisForwarder(t *testing.T) {
	client := &fakeRedis{}
	fwd := NewRedisForwarder(client, "bidding:events")

	ev := New(BookingConfirmed, "i1", "s1", time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC))
	ev.Price = 15000
	require.NoError(t, fwd.Handle(context.Background(), ev))

	assert.Equal(t, "bidding:events", client.channel)

	var got Event
	require.NoError(t, json.Unmarshal(client.payload, &got))
	assert.Equal(t, ev, got)

	client.err = errors.New("redis down")
	assert.Error(t, fwd.Handle(context.Background(), ev))
}
