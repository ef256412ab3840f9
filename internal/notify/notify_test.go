package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Notify(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 16)
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Notify(context.Background(), Event{Type: EventLowBalance, PlanID: uint64(i + 1)}))
	}
	d.Close()
	assert.Equal(t, 5, sink.count())
	for _, event := range sink.events {
		assert.False(t, event.OccurredAt.IsZero())
	}

	// Notify after Close is a silent no-op.
	require.NoError(t, d.Notify(context.Background(), Event{Type: EventLowBalance}))
	d.Close()
}

func TestMultiReturnsFirstError(t *testing.T) {
	failing := &recordingSink{err: errors.New("boom")}
	ok := &recordingSink{}
	err := Multi{failing, nil, ok}.Notify(context.Background(), Event{Type: EventExpiringSoon})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, ok.count())
}

func TestRedisSinkPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sub := client.Subscribe(context.Background(), "ledger-events")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	sink := NewRedisSink(client, "ledger-events")
	event := Event{Type: EventRolloverCreated, PlanID: 3, Hours: decimal.RequireFromString("2.5"), OccurredAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, sink.Notify(context.Background(), event))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, EventRolloverCreated, got.Type)
	assert.Equal(t, uint64(3), got.PlanID)
	assert.True(t, got.Hours.Equal(decimal.RequireFromString("2.5")))
}
