package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/medilink-api/internal/middleware"
	"github.com/noah-isme/medilink-api/internal/observability"
)

// Dispatcher delivers events to connected clients. Callers persist state before dispatching;
// delivery is best effort and failures are only logged.
type Dispatcher interface {
	ToUser(ctx context.Context, userID string, event Event)
	ToUsers(ctx context.Context, userIDs []string, event Event)
	ToConversation(ctx context.Context, conversationID string, event Event)
	Broadcast(ctx context.Context, event Event)
}

// RoomAuthorizer decides whether a user may join a conversation room.
type RoomAuthorizer interface {
	CanJoinConversation(ctx context.Context, conversationID, userID string) (bool, error)
}

// Options configures an Engine. Redis and NATS are optional; without them the engine serves a single node
// with no outbox and in-memory presence.
type Options struct {
	Redis        *redis.Client
	NATS         *nats.Conn
	ChannelBase  string
	SendBuffer   int
	OutboxMaxLen int64
	OutboxTTL    time.Duration
	PresenceTTL  time.Duration
	Logger       zerolog.Logger
}

// Engine owns the hub and implements Dispatcher on top of it.
type Engine struct {
	hub        *Hub
	bus        *Bus
	outbox     *Outbox
	presence   *Presence
	authorizer RoomAuthorizer
	sendBuffer int
	logger     zerolog.Logger
}

// NewEngine wires the hub with the optional bus, outbox and presence store.
func NewEngine(opts Options) *Engine {
	return &Engine{
		hub:        NewHub(opts.Logger),
		bus:        NewBus(opts.Redis, opts.NATS, opts.ChannelBase, opts.Logger),
		outbox:     NewOutbox(opts.Redis, opts.ChannelBase, opts.OutboxMaxLen, opts.OutboxTTL),
		presence:   NewPresence(opts.Redis, opts.ChannelBase, opts.PresenceTTL),
		sendBuffer: opts.SendBuffer,
		logger:     opts.Logger.With().Str("component", "realtime_engine").Logger(),
	}
}

// SetAuthorizer installs the conversation room guard. Without one every join is allowed.
func (e *Engine) SetAuthorizer(authorizer RoomAuthorizer) {
	e.authorizer = authorizer
}

// Start subscribes to the cross-node bus when one is configured.
func (e *Engine) Start(ctx context.Context) error {
	if e.bus == nil {
		return nil
	}
	if err := e.bus.Start(ctx, e.deliverRemote); err != nil {
		return err
	}
	e.logger.Info().Str("transport", e.bus.Transport()).Str("node_id", e.bus.NodeID()).Msg("realtime bus subscribed")
	return nil
}

// Stats reports local hub counters.
func (e *Engine) Stats() Stats {
	return e.hub.Stats()
}

// OnlineUsers returns which of userIDs are online. Without redis only this node's clients are considered.
func (e *Engine) OnlineUsers(ctx context.Context, userIDs []string) ([]string, error) {
	if e.presence != nil {
		return e.presence.Online(ctx, userIDs)
	}

	online := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if e.hub.Members(UserRoom(id)) > 0 {
			online = append(online, id)
		}
	}
	return online, nil
}

// ServeConnection runs the pumps for an authenticated websocket and blocks until it closes.
func (e *Engine) ServeConnection(ctx context.Context, conn Conn, userID string) {
	if ctx == nil {
		ctx = context.Background()
	}

	client := newClient(conn, userID, e.sendBuffer)
	e.hub.attach(client)

	logger := e.logger.With().
		Str("user_id", userID).
		Str("correlation_id", middleware.CorrelationIDFromContext(ctx)).
		Logger()
	logger.Debug().Msg("realtime client connected")

	go client.writePump(func() { e.heartbeat(ctx, client) })
	client.readPump(ctx, func(ctx context.Context, raw []byte) {
		e.handleFrame(ctx, client, raw)
	})

	client.close()
	e.hub.LeaveAll(client)
	if client.registered && e.presence != nil && e.hub.Members(UserRoom(userID)) == 0 {
		if err := e.presence.Remove(context.Background(), userID); err != nil {
			logger.Warn().Err(err).Msg("failed to clear presence")
		}
	}
	logger.Debug().Msg("realtime client disconnected")
}

// ToUser delivers event to every connection registered as userID and records it in the user's outbox.
func (e *Engine) ToUser(ctx context.Context, userID string, event Event) {
	if userID == "" {
		return
	}

	if e.outbox != nil {
		id, err := e.outbox.Append(ctx, userID, event)
		if err != nil {
			e.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to record outbox event")
		}
		event.ID = id
	}

	e.emit(ctx, UserRoom(userID), event)
}

// ToUsers delivers event to each distinct user.
func (e *Engine) ToUsers(ctx context.Context, userIDs []string, event Event) {
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		e.ToUser(ctx, id, event)
	}
}

// ToConversation delivers event to clients that joined the conversation room.
func (e *Engine) ToConversation(ctx context.Context, conversationID string, event Event) {
	if conversationID == "" {
		return
	}
	e.emit(ctx, ConversationRoom(conversationID), event)
}

// Broadcast delivers event to every connected client.
func (e *Engine) Broadcast(ctx context.Context, event Event) {
	e.emit(ctx, "", event)
}

func (e *Engine) emit(ctx context.Context, room string, event Event) {
	frame, err := json.Marshal(event)
	if err != nil {
		e.logger.Error().Err(err).Str("event", string(event.Name)).Msg("failed to encode realtime event")
		return
	}

	e.deliverLocal(room, frame)
	observability.RealtimeEvents().WithLabelValues(string(event.Name), "local").Inc()

	if e.bus != nil {
		if err := e.bus.Publish(ctx, room, event.Name, frame); err != nil {
			e.logger.Warn().Err(err).Str("event", string(event.Name)).Msg("failed to publish realtime event")
		}
	}
}

func (e *Engine) deliverRemote(room string, event EventType, frame []byte) {
	e.deliverLocal(room, frame)
	observability.RealtimeEvents().WithLabelValues(string(event), "remote").Inc()
}

func (e *Engine) deliverLocal(room string, frame []byte) int {
	if room == "" {
		return e.hub.DeliverAll(frame)
	}
	return e.hub.Deliver(room, frame)
}

func (e *Engine) heartbeat(ctx context.Context, client *Client) {
	if e.presence == nil {
		return
	}
	if !e.hub.isMember(UserRoom(client.userID), client) {
		return
	}
	if err := e.presence.Touch(ctx, client.userID); err != nil {
		e.logger.Debug().Err(err).Msg("presence heartbeat failed")
	}
}

func (e *Engine) handleFrame(ctx context.Context, client *Client, raw []byte) {
	frame, err := parseInbound(raw)
	if err != nil {
		observability.RealtimeDropped().WithLabelValues("invalid_frame").Inc()
		e.reply(client, EventError, map[string]string{"message": err.Error()})
		return
	}

	switch frame.Event {
	case EventRegisterUser:
		e.register(ctx, client, frame.Data)
	case EventJoinConversation:
		e.joinConversation(ctx, client, frame.Data)
	case EventLeaveConversation:
		conversationID, err := decodeString(frame.Data)
		if err != nil {
			e.reply(client, EventError, map[string]string{"message": "invalid conversation id"})
			return
		}
		e.hub.Leave(ConversationRoom(conversationID), client)
	case EventTyping, EventStopTyping, EventMessageSeen:
		e.relayChatSignal(ctx, client, frame)
	case EventPostUpdated, EventPostDeleted:
		e.relayPostChange(ctx, client, frame)
	}
}

func (e *Engine) register(ctx context.Context, client *Client, data json.RawMessage) {
	payload, err := decodeRegister(data)
	if err != nil {
		e.reply(client, EventError, map[string]string{"message": "invalid registration"})
		return
	}
	if payload.UserID != client.userID {
		e.reply(client, EventError, map[string]string{"message": "cannot register as another user"})
		return
	}

	e.hub.Join(UserRoom(client.userID), client)
	client.registered = true
	if e.presence != nil {
		if err := e.presence.Touch(ctx, client.userID); err != nil {
			e.logger.Warn().Err(err).Str("user_id", client.userID).Msg("failed to record presence")
		}
	}
	e.reply(client, EventRegistered, map[string]string{"userId": client.userID})

	if payload.LastEventID == "" || e.outbox == nil {
		return
	}

	missed, err := e.outbox.Since(ctx, client.userID, payload.LastEventID)
	if err != nil {
		e.logger.Warn().Err(err).Str("user_id", client.userID).Msg("failed to read outbox for replay")
		return
	}
	for _, event := range missed {
		frame, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if !client.enqueue(frame) {
			observability.RealtimeDropped().WithLabelValues("slow_consumer").Inc()
			continue
		}
		observability.RealtimeReplayed().Inc()
	}
}

func (e *Engine) joinConversation(ctx context.Context, client *Client, data json.RawMessage) {
	conversationID, err := decodeString(data)
	if err != nil || conversationID == "" {
		e.reply(client, EventError, map[string]string{"message": "invalid conversation id"})
		return
	}

	if e.authorizer != nil {
		allowed, err := e.authorizer.CanJoinConversation(ctx, conversationID, client.userID)
		if err != nil {
			e.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("conversation room check failed")
			e.reply(client, EventError, map[string]string{"message": "unable to join conversation"})
			return
		}
		if !allowed {
			e.reply(client, EventError, map[string]string{"message": "not a participant of this conversation"})
			return
		}
	}

	e.hub.Join(ConversationRoom(conversationID), client)
	e.reply(client, EventJoined, map[string]string{"conversationId": conversationID})
}

func (e *Engine) relayChatSignal(ctx context.Context, client *Client, frame inboundFrame) {
	var payload chatSignalPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		e.reply(client, EventError, map[string]string{"message": "invalid payload"})
		return
	}
	payload.ChatID = strings.TrimSpace(payload.ChatID)

	room := ConversationRoom(payload.ChatID)
	if !e.hub.isMember(room, client) {
		e.reply(client, EventError, map[string]string{"message": "join the conversation first"})
		return
	}

	if frame.Event == EventMessageSeen {
		payload.From = ""
		payload.By = client.userID
	} else {
		payload.From = client.userID
	}

	e.ToConversation(ctx, payload.ChatID, NewEvent(frame.Event, payload))
}

// relayPostChange broadcasts a post edit or removal to every connection, stamped with the sender.
func (e *Engine) relayPostChange(ctx context.Context, client *Client, frame inboundFrame) {
	var payload map[string]interface{}
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		e.reply(client, EventError, map[string]string{"message": "invalid payload"})
		return
	}
	postID, _ := payload["postId"].(string)
	payload["postId"] = strings.TrimSpace(postID)
	payload["by"] = client.userID

	e.Broadcast(ctx, NewEvent(frame.Event, payload))
}

func (e *Engine) reply(client *Client, name EventType, data interface{}) {
	frame, err := json.Marshal(NewEvent(name, data))
	if err != nil {
		return
	}
	if !client.enqueue(frame) {
		observability.RealtimeDropped().WithLabelValues("slow_consumer").Inc()
	}
}
