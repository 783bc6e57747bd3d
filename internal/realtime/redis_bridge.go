// Package realtime relays booking change events between processes over Redis pub/sub,
// so a calendar open on one instance refreshes after a write on another.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"fieldbook/internal/events"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultChannel = "fieldbook:booking_changes"
	publishTimeout = 2 * time.Second
)

type envelope struct {
	Origin    string          `json:"origin"`
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type RedisBridge struct {
	client  *redis.Client
	bus     *events.EventBus
	channel string
	origin  string
	logger  zerolog.Logger

	mu          sync.Mutex
	pubsub      *redis.PubSub
	unsubscribe func()
	done        chan struct{}
}

func NewRedisBridge(client *redis.Client, bus *events.EventBus, channel string, logger *zerolog.Logger) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBridge{
		client:  client,
		bus:     bus,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger.With().Str("component", "realtime_bridge").Logger(),
	}
}

// Start subscribes to the channel and begins relaying in both directions.
func (b *RedisBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		return nil
	}

	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	b.pubsub = pubsub
	b.done = make(chan struct{})
	b.unsubscribe = b.bus.Subscribe(events.TypeBookingChanged, b.forward)
	go b.listen(ctx, pubsub.Channel())

	b.logger.Info().Str("channel", b.channel).Str("origin", b.origin).Msg("realtime bridge started")
	return nil
}

// forward publishes locally originated events to Redis.
func (b *RedisBridge) forward(e *events.Event) error {
	if e.Source != "" {
		return nil
	}
	raw, err := json.Marshal(envelope{
		Origin:    b.origin,
		EventID:   e.ID,
		Type:      e.Type,
		Payload:   e.Payload,
		CreatedAt: e.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, raw).Err(); err != nil {
		b.logger.Warn().Err(err).Str("event_id", e.ID).Msg("failed to relay change event")
		return err
	}
	return nil
}

func (b *RedisBridge) listen(ctx context.Context, ch <-chan *redis.Message) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn().Err(err).Msg("dropping malformed change event")
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			b.bus.Publish(&events.Event{
				ID:        env.EventID,
				Type:      env.Type,
				Source:    "redis:" + env.Origin,
				Payload:   env.Payload,
				CreatedAt: env.CreatedAt,
			})
		}
	}
}

func (b *RedisBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub == nil {
		return nil
	}
	b.unsubscribe()
	err := b.pubsub.Close()
	<-b.done
	b.pubsub = nil
	return err
}
