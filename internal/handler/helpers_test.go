package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/medilink-api/internal/dto"
	"github.com/noah-isme/medilink-api/internal/models"
	"github.com/noah-isme/medilink-api/internal/realtime"
	"github.com/noah-isme/medilink-api/internal/service"
)

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Details map[string]string `json:"details"`
	Data    json.RawMessage   `json:"data"`
	Meta    json.RawMessage   `json:"meta"`
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(body, target))
}

// authenticatedApp returns an app whose routes see the given user and role, mimicking the JWT middleware.
func authenticatedApp(userID, role string) (*fiber.App, fiber.Router) {
	app := fiber.New()
	group := app.Group("/api/v1", func(c *fiber.Ctx) error {
		if userID != "" {
			c.Locals("user_id", userID)
		}
		if role != "" {
			c.Locals("user_role", role)
		}
		return c.Next()
	})
	return app, group
}

func jsonRequest(t *testing.T, method, path string, payload interface{}) *http.Request {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func perform(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, envelope) {
	t.Helper()

	resp, err := app.Test(req)
	require.NoError(t, err)

	var payload envelope
	decodeResponse(t, resp, &payload)
	return resp, payload
}

func multipartRequest(t *testing.T, path, text string, files map[string][]byte) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("text", text))
	for name, content := range files {
		part, err := writer.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

type fakeMessaging struct {
	calls        []string
	conversation dto.ConversationResponse
	message      dto.MessageResponse
	lastInput    service.SendMessageInput
	lastArgs     []string
	err          error
}

func (f *fakeMessaging) record(name string, args ...string) {
	f.calls = append(f.calls, name)
	f.lastArgs = args
}

func (f *fakeMessaging) GetOrCreateConversation(_ context.Context, requesterID, otherUserID string) (dto.ConversationResponse, error) {
	f.record("getOrCreate", requesterID, otherUserID)
	return f.conversation, f.err
}

func (f *fakeMessaging) ListConversations(_ context.Context, userID string) ([]dto.ConversationResponse, error) {
	f.record("list", userID)
	if f.err != nil {
		return nil, f.err
	}
	return []dto.ConversationResponse{f.conversation}, nil
}

func (f *fakeMessaging) GetMessages(_ context.Context, conversationID, requesterID string) ([]dto.MessageResponse, error) {
	f.record("messages", conversationID, requesterID)
	if f.err != nil {
		return nil, f.err
	}
	return []dto.MessageResponse{f.message}, nil
}

func (f *fakeMessaging) SendMessage(_ context.Context, conversationID, senderID string, input service.SendMessageInput) (dto.MessageResponse, error) {
	f.record("send", conversationID, senderID)
	f.lastInput = input
	return f.message, f.err
}

func (f *fakeMessaging) StartRequest(_ context.Context, senderID, receiverID, text string) (dto.ConversationResponse, error) {
	f.record("start", senderID, receiverID, text)
	return f.conversation, f.err
}

func (f *fakeMessaging) Accept(_ context.Context, conversationID, actorID string) (dto.ConversationResponse, error) {
	f.record("accept", conversationID, actorID)
	return f.conversation, f.err
}

func (f *fakeMessaging) Ignore(_ context.Context, conversationID, actorID string) (dto.ConversationResponse, error) {
	f.record("ignore", conversationID, actorID)
	return f.conversation, f.err
}

func (f *fakeMessaging) DeleteDirect(_ context.Context, userA, userB string) error {
	f.record("deleteDirect", userA, userB)
	return f.err
}

func (f *fakeMessaging) CanJoinConversation(_ context.Context, conversationID, userID string) (bool, error) {
	f.record("canJoin", conversationID, userID)
	return f.err == nil, f.err
}

type fakeAttachments struct {
	names  []string
	result []models.Attachment
	err    error
}

func (f *fakeAttachments) Upload(_ context.Context, files []*multipart.FileHeader) ([]models.Attachment, error) {
	for _, file := range files {
		f.names = append(f.names, file.Filename)
	}
	return f.result, f.err
}

type fakeNotifications struct {
	calls        []string
	lastArgs     []string
	notification dto.NotificationResponse
	connections  []dto.UserSummary
	interaction  service.InteractionInput
	limit        int
	offset       int
	err          error
}

func (f *fakeNotifications) record(name string, args ...string) {
	f.calls = append(f.calls, name)
	f.lastArgs = args
}

func (f *fakeNotifications) CreateConnectionRequest(_ context.Context, senderID, receiverID string) (dto.NotificationResponse, error) {
	f.record("connect", senderID, receiverID)
	return f.notification, f.err
}

func (f *fakeNotifications) Accept(_ context.Context, notificationID, actorID string) (dto.NotificationResponse, error) {
	f.record("accept", notificationID, actorID)
	return f.notification, f.err
}

func (f *fakeNotifications) Reject(_ context.Context, notificationID, actorID string) (dto.NotificationResponse, error) {
	f.record("reject", notificationID, actorID)
	return f.notification, f.err
}

func (f *fakeNotifications) DeferToLater(_ context.Context, notificationID, actorID string) (dto.NotificationResponse, error) {
	f.record("maybe", notificationID, actorID)
	return f.notification, f.err
}

func (f *fakeNotifications) Unconnect(_ context.Context, userID, otherUserID string) error {
	f.record("unconnect", userID, otherUserID)
	return f.err
}

func (f *fakeNotifications) NotifyInteraction(_ context.Context, input service.InteractionInput) (*dto.NotificationResponse, error) {
	f.record("interaction", input.ActorID, input.RecipientID)
	f.interaction = input
	if f.err != nil {
		return nil, f.err
	}
	return &f.notification, nil
}

func (f *fakeNotifications) List(_ context.Context, userID string, limit, offset int) ([]dto.NotificationResponse, error) {
	f.record("list", userID)
	f.limit, f.offset = limit, offset
	if f.err != nil {
		return nil, f.err
	}
	return []dto.NotificationResponse{f.notification}, nil
}

func (f *fakeNotifications) MarkRead(_ context.Context, notificationID, userID string) (dto.NotificationResponse, error) {
	f.record("markRead", notificationID, userID)
	return f.notification, f.err
}

func (f *fakeNotifications) ListConnections(_ context.Context, userID string) ([]dto.UserSummary, error) {
	f.record("connections", userID)
	return f.connections, f.err
}

type fakeEngine struct {
	online  []string
	queried []string
	stats   realtime.Stats
	err     error
}

func (f *fakeEngine) ServeConnection(context.Context, realtime.Conn, string) {}

func (f *fakeEngine) OnlineUsers(_ context.Context, userIDs []string) ([]string, error) {
	f.queried = userIDs
	return f.online, f.err
}

func (f *fakeEngine) Stats() realtime.Stats {
	return f.stats
}
