package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/medilink-api/internal/models"
	"github.com/noah-isme/medilink-api/internal/realtime"
	"github.com/noah-isme/medilink-api/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.UserConnection{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
		&models.MessageRead{},
		&models.Notification{},
	))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, id, name string, tokens ...string) models.User {
	t.Helper()

	user := models.User{ID: id, Name: name, Role: "patient", DeviceTokens: tokens}
	require.NoError(t, db.Create(&user).Error)
	return user
}

type dispatched struct {
	target string
	event  realtime.Event
}

// recordingDispatcher captures events instead of delivering them.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []dispatched
}

func (d *recordingDispatcher) record(target string, event realtime.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, dispatched{target: target, event: event})
}

func (d *recordingDispatcher) ToUser(_ context.Context, userID string, event realtime.Event) {
	d.record(realtime.UserRoom(userID), event)
}

func (d *recordingDispatcher) ToUsers(ctx context.Context, userIDs []string, event realtime.Event) {
	for _, id := range userIDs {
		d.ToUser(ctx, id, event)
	}
}

func (d *recordingDispatcher) ToConversation(_ context.Context, conversationID string, event realtime.Event) {
	d.record(realtime.ConversationRoom(conversationID), event)
}

func (d *recordingDispatcher) Broadcast(_ context.Context, event realtime.Event) {
	d.record("*", event)
}

// to returns the events addressed to a room, in dispatch order.
func (d *recordingDispatcher) to(room string) []realtime.Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]realtime.Event, 0)
	for _, item := range d.events {
		if item.target == room {
			out = append(out, item.event)
		}
	}
	return out
}

func (d *recordingDispatcher) named(room string, name realtime.EventType) []realtime.Event {
	out := make([]realtime.Event, 0)
	for _, event := range d.to(room) {
		if event.Name == name {
			out = append(out, event)
		}
	}
	return out
}

type sentPush struct {
	tokens  []string
	message PushMessage
}

type recordingGateway struct {
	mu   sync.Mutex
	sent []sentPush
	err  error
}

func (g *recordingGateway) Send(_ context.Context, tokens []string, message PushMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sentPush{tokens: append([]string(nil), tokens...), message: message})
	return g.err
}

func (g *recordingGateway) deliveries() []sentPush {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentPush(nil), g.sent...)
}

type fixture struct {
	db            *gorm.DB
	redis         *redis.Client
	dispatcher    *recordingDispatcher
	gateway       *recordingGateway
	push          *PushNotifier
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	notifications repository.NotificationRepository
	users         repository.UserRepository
	messaging     MessagingService
	notification  NotificationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		db:            db,
		redis:         client,
		dispatcher:    &recordingDispatcher{},
		gateway:       &recordingGateway{},
		conversations: repository.NewConversationRepository(db),
		messages:      repository.NewMessageRepository(db),
		notifications: repository.NewNotificationRepository(db),
		users:         repository.NewUserRepository(db),
	}

	directory := NewUserDirectory(f.users, client, "test", time.Minute, testLogger())
	f.push = NewPushNotifier(f.gateway, directory, time.Second, testLogger())
	f.messaging = NewMessagingService(f.conversations, f.messages, directory, f.dispatcher, f.push, testLogger())
	f.notification = NewNotificationService(NotificationDeps{
		Notifications: f.notifications,
		Users:         f.users,
		Messaging:     f.messaging,
		Directory:     directory,
		Dispatcher:    f.dispatcher,
		Push:          f.push,
		Cache:         client,
		ChannelBase:   "test",
		FenceTTL:      time.Minute,
		Validator:     validator.New(),
		Logger:        testLogger(),
	})
	return f
}
