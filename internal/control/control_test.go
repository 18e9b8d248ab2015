package control

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEventWakes(t *testing.T) {
	t.Parallel()

	require.True(t, Event{Type: EventBegin}.Wakes())
	require.True(t, Event{Type: EventUpdate}.Wakes())
	require.False(t, Event{Type: EventFinish}.Wakes())
}

func TestEventEncodeDecode(t *testing.T) {
	t.Parallel()

	at := time.Unix(1700000000, 0).UTC()
	data, err := Event{Type: EventUpdate, Vendor: "acme", Size: 3, At: at}.Encode()
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, Event{Type: EventUpdate, Vendor: "acme", Size: 3, At: at}, got)

	_, err = Decode([]byte("{"))
	require.Error(t, err)
}

func TestMemoryBusFanOut(t *testing.T) {
	t.Parallel()

	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	second, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, Event{Type: EventBegin, Vendor: "acme"}))
	for _, ch := range []<-chan Event{first, second} {
		select {
		case evt := <-ch:
			require.Equal(t, EventBegin, evt.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestMemoryBusUnsubscribeOnCancel(t *testing.T) {
	t.Parallel()

	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryBusPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	for i := 0; i < defaultSubscriberBuffer*2; i++ {
		require.NoError(t, bus.Publish(ctx, Event{Type: EventUpdate, Size: i}))
	}
}

func TestMemoryBusClose(t *testing.T) {
	t.Parallel()

	bus := NewMemoryBus()
	ch, err := bus.Subscribe(context.Background())
	require.NoError(t, err)
	require.NoError(t, bus.Close())
	_, ok := <-ch
	require.False(t, ok)

	late, err := bus.Subscribe(context.Background())
	require.NoError(t, err)
	_, ok = <-late
	require.False(t, ok)
}

func TestRedisBusRoundTrip(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus, err := NewRedisBus(client, "", zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, Event{Type: EventUpdate, Vendor: "acme", Size: 2}))
	select {
	case evt := <-events:
		require.Equal(t, EventUpdate, evt.Type)
		require.Equal(t, "acme", evt.Vendor)
		require.Equal(t, 2, evt.Size)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received over redis")
	}
}

func TestRedisBusSkipsMalformedPayloads(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus, err := NewRedisBus(client, "events", zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, "events", "not-json").Err())
	require.NoError(t, bus.Publish(ctx, Event{Type: EventFinish}))
	select {
	case evt := <-events:
		require.Equal(t, EventFinish, evt.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("valid event not delivered after malformed one")
	}
}

func TestNewRedisBusRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := NewRedisBus(nil, "", nil)
	require.Error(t, err)
}
