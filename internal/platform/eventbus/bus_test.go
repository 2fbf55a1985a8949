package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careflow/careflow/internal/domain/task"
	"github.com/careflow/careflow/internal/platform/websocket"
)

type sinkFunc func(ctx context.Context, ev websocket.Event) error

func (f sinkFunc) Publish(ctx context.Context, ev websocket.Event) error { return f(ctx, ev) }

func setupBus(t *testing.T, opts ...Option) (*Bus, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, opts...), mr, client
}

func collect(t *testing.T, b *Bus) (<-chan websocket.Event, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan websocket.Event, 8)
	require.NoError(t, b.Start(ctx, sinkFunc(func(_ context.Context, ev websocket.Event) error {
		out <- ev
		return nil
	})))
	t.Cleanup(func() {
		cancel()
		b.Close()
	})
	return out, cancel
}

func TestBus_RelaysTaskEvents(t *testing.T) {
	bus, _, _ := setupBus(t)
	events, _ := collect(t, bus)

	tk := task.New(task.TypeNurseAssignment, task.RoleNurse, uuid.New(), nil, "")
	tk.ID = uuid.New()
	require.NoError(t, bus.TaskEnqueued(context.Background(), tk))

	select {
	case ev := <-events:
		assert.Equal(t, websocket.EventTaskEnqueued, ev.Type)
		assert.Equal(t, "tasks.NURSE", ev.Topic)
		assert.Equal(t, tk.ID.String(), ev.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not relayed")
	}
}

func TestBus_SharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newBus := func() *Bus {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { c.Close() })
		return New(c, WithChannel("ward-7"))
	}
	a, b := newBus(), newBus()
	fromA, _ := collect(t, a)
	fromB, _ := collect(t, b)

	require.NoError(t, a.Publish(context.Background(), websocket.Event{Type: "x", Topic: "tasks.BED"}))
	for name, ch := range map[string]<-chan websocket.Event{"a": fromA, "b": fromB} {
		select {
		case ev := <-ch:
			assert.Equal(t, "tasks.BED", ev.Topic, name)
		case <-time.After(2 * time.Second):
			t.Fatalf("instance %s missed the event", name)
		}
	}
}

func TestBus_IgnoresMalformedPayload(t *testing.T) {
	bus, _, client := setupBus(t)
	events, _ := collect(t, bus)

	require.NoError(t, client.Publish(context.Background(), DefaultChannel, "not json").Err())
	require.NoError(t, bus.Publish(context.Background(), websocket.Event{Type: "ok", Topic: "tasks.CLEANER"}))

	select {
	case ev := <-events:
		assert.Equal(t, "ok", ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("relay stopped after malformed payload")
	}
}

func TestBus_StopsOnCancel(t *testing.T) {
	bus, _, _ := setupBus(t)
	var mu sync.Mutex
	count := 0
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, bus.Start(ctx, sinkFunc(func(context.Context, websocket.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})))

	cancel()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	client.Close()

	_, err = Connect(context.Background(), "not-a-url")
	assert.Error(t, err)

	mr.Close()
	_, err = Connect(context.Background(), "redis://"+mr.Addr())
	assert.Error(t, err)
}
