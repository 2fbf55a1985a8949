// Package eventbus relays queue notifications between server instances
// over Redis pub/sub. Every instance publishes the tasks it enqueues and
// forwards what it hears to its local websocket hub, so an agent connected
// to any instance sees every task for its role.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/careflow/careflow/internal/domain/task"
	"github.com/careflow/careflow/internal/platform/websocket"
)

const DefaultChannel = "careflow:events"

type Bus struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger

	mu  sync.Mutex
	sub *redis.PubSub
	wg  sync.WaitGroup
}

type Option func(*Bus)

// WithChannel overrides the pub/sub channel name.
func WithChannel(name string) Option {
	return func(b *Bus) { b.channel = name }
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *Bus) { b.log = l }
}

func New(client *redis.Client, opts ...Option) *Bus {
	b := &Bus{client: client, channel: DefaultChannel, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect parses a redis:// URL and checks the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Publish sends ev to every subscribed instance.
func (b *Bus) Publish(ctx context.Context, ev websocket.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// TaskEnqueued publishes the enqueue event for t.
func (b *Bus) TaskEnqueued(ctx context.Context, t *task.Task) error {
	ev, err := websocket.TaskEvent(t)
	if err != nil {
		return err
	}
	return b.Publish(ctx, ev)
}

// Start subscribes to the channel and forwards every event to sink until
// ctx is cancelled or Close is called. It returns once the subscription is
// confirmed.
func (b *Bus) Start(ctx context.Context, sink websocket.EventPublisher) error {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}

	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.relay(ctx, sub.Channel(), sink)
	}()
	return nil
}

func (b *Bus) relay(ctx context.Context, ch <-chan *redis.Message, sink websocket.EventPublisher) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev websocket.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed event")
				continue
			}
			if err := sink.Publish(ctx, ev); err != nil {
				b.log.Error().Err(err).Str("topic", ev.Topic).Msg("event relay failed")
			}
		}
	}
}

// Close ends the subscription and waits for the relay to stop.
func (b *Bus) Close() error {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Close()
	}
	b.wg.Wait()
	return err
}
