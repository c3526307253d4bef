package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type busEnvelope struct {
	Source string          `json:"source"`
	Room   string          `json:"room,omitempty"`
	Event  EventType       `json:"event"`
	Frame  json.RawMessage `json:"frame"`
	SentAt time.Time       `json:"sent_at"`
}

// Bus relays dispatched frames between nodes. NATS is used when connected, redis pub/sub otherwise.
// Frames published by this node are ignored on receipt.
type Bus struct {
	redis   *redis.Client
	channel string
	nats    *nats.Conn
	subject string
	nodeID  string
	logger  zerolog.Logger
}

// NewBus returns nil when neither transport is configured.
func NewBus(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) *Bus {
	if (redisClient == nil && natsConn == nil) || channelBase == "" {
		return nil
	}

	return &Bus{
		redis:   redisClient,
		channel: channelBase + ":realtime",
		nats:    natsConn,
		subject: strings.ReplaceAll(channelBase, ":", ".") + ".realtime",
		nodeID:  uuid.NewString(),
		logger:  logger.With().Str("component", "realtime_bus").Logger(),
	}
}

// NodeID identifies this process on the bus.
func (b *Bus) NodeID() string {
	return b.nodeID
}

// Transport names the transport in use.
func (b *Bus) Transport() string {
	if b.nats != nil {
		return "nats"
	}
	return "redis"
}

// Publish sends a frame addressed to room. An empty room addresses every client.
func (b *Bus) Publish(ctx context.Context, room string, event EventType, frame []byte) error {
	payload, err := json.Marshal(busEnvelope{
		Source: b.nodeID,
		Room:   room,
		Event:  event,
		Frame:  frame,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if b.nats != nil {
		return b.nats.Publish(b.subject, payload)
	}
	return b.redis.Publish(ctx, b.channel, payload).Err()
}

// Start subscribes to the bus and invokes handle for every frame published by another node.
// It returns once the subscription is active; consumption stops when ctx is cancelled.
func (b *Bus) Start(ctx context.Context, handle func(room string, event EventType, frame []byte)) error {
	if b.nats != nil {
		return b.consumeNATS(ctx, handle)
	}
	return b.consumeRedis(ctx, handle)
}

func (b *Bus) consumeRedis(ctx context.Context, handle func(string, EventType, []byte)) error {
	pubsub := b.redis.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}

	go func() {
		defer func() { _ = pubsub.Close() }()
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
					return
				}
				b.logger.Error().Err(err).Msg("realtime redis subscription closed")
				return
			}
			b.handle([]byte(msg.Payload), handle)
		}
	}()
	return nil
}

func (b *Bus) consumeNATS(ctx context.Context, handle func(string, EventType, []byte)) error {
	// Plain subscription: each node delivers to its own clients.
	sub, err := b.nats.Subscribe(b.subject, func(msg *nats.Msg) {
		b.handle(msg.Data, handle)
	})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to drain realtime nats subscription")
		}
	}()
	return nil
}

func (b *Bus) handle(payload []byte, handle func(string, EventType, []byte)) {
	var envelope busEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		b.logger.Warn().Err(err).Msg("invalid realtime bus payload")
		return
	}

	if envelope.Source == b.nodeID {
		return
	}

	handle(envelope.Room, envelope.Event, envelope.Frame)
}
