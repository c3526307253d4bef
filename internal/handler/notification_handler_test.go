package handler_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/medilink-api/internal/dto"
	"github.com/noah-isme/medilink-api/internal/handler"
	"github.com/noah-isme/medilink-api/internal/service"
)

func newNotificationApp(svc *fakeNotifications) *fiber.App {
	app, group := authenticatedApp("u2", "")
	logger := zerolog.New(io.Discard)
	handler.NewNotificationHandler(svc, logger).Register(group.Group("/notifications"))
	handler.NewConnectionHandler(svc, logger).Register(group.Group("/users"))
	handler.NewInteractionHandler(svc, validator.New(), logger).Register(group.Group("/interactions"))
	return app
}

func TestNotificationHandler_ListPassesPaging(t *testing.T) {
	svc := &fakeNotifications{notification: dto.NotificationResponse{ID: "n1", Type: "like"}}
	app := newNotificationApp(svc)

	resp, payload := perform(t, app, jsonRequest(t, http.MethodGet, "/api/v1/notifications/?limit=5&offset=10", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, 5, svc.limit)
	require.Equal(t, 10, svc.offset)

	var meta dto.NotificationListQuery
	require.NoError(t, json.Unmarshal(payload.Meta, &meta))
	require.Equal(t, dto.NotificationListQuery{Limit: 5, Offset: 10}, meta)

	resp, payload = perform(t, app, jsonRequest(t, http.MethodGet, "/api/v1/notifications/?limit=many", nil))
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid limit", payload.Message)
}

func TestNotificationHandler_Answers(t *testing.T) {
	cases := []struct {
		path    string
		call    string
		message string
	}{
		{"/api/v1/notifications/accept/n1", "accept", "connection accepted"},
		{"/api/v1/notifications/reject/n1", "reject", "connection request removed"},
		{"/api/v1/notifications/maybe/n1", "maybe", "marked as maybe later"},
	}

	for _, tc := range cases {
		svc := &fakeNotifications{notification: dto.NotificationResponse{ID: "n1"}}
		app := newNotificationApp(svc)

		resp, payload := perform(t, app, jsonRequest(t, http.MethodPost, tc.path, nil))
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		require.Equal(t, tc.message, payload.Message)
		require.Equal(t, []string{tc.call}, svc.calls)
		require.Equal(t, []string{"n1", "u2"}, svc.lastArgs)
	}
}

func TestNotificationHandler_AnswerFinalStateIsBadRequest(t *testing.T) {
	svc := &fakeNotifications{err: fmt.Errorf("%w: request already accepted", service.ErrInvalidState)}
	app := newNotificationApp(svc)

	resp, payload := perform(t, app, jsonRequest(t, http.MethodPost, "/api/v1/notifications/accept/n1", nil))
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Contains(t, payload.Message, "already accepted")
}

func TestNotificationHandler_MarkRead(t *testing.T) {
	svc := &fakeNotifications{notification: dto.NotificationResponse{ID: "n1", IsRead: true}}
	app := newNotificationApp(svc)

	resp, _ := perform(t, app, jsonRequest(t, http.MethodPatch, "/api/v1/notifications/n1/read", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"n1", "u2"}, svc.lastArgs)
}

func TestConnectionHandler_Routes(t *testing.T) {
	svc := &fakeNotifications{connections: []dto.UserSummary{{ID: "u1", Name: "Nadia"}}}
	app := newNotificationApp(svc)

	resp, payload := perform(t, app, jsonRequest(t, http.MethodGet, "/api/v1/users/connections", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var connections []dto.UserSummary
	require.NoError(t, json.Unmarshal(payload.Data, &connections))
	require.Equal(t, "Nadia", connections[0].Name)

	resp, _ = perform(t, app, jsonRequest(t, http.MethodPost, "/api/v1/users/connect/u1", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"u2", "u1"}, svc.lastArgs)

	resp, payload = perform(t, app, jsonRequest(t, http.MethodPost, "/api/v1/users/u1/unconnect", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "connection removed", payload.Message)
	require.Equal(t, []string{"u2", "u1"}, svc.lastArgs)
}

func TestConnectionHandler_DuplicateRequestConflicts(t *testing.T) {
	svc := &fakeNotifications{err: fmt.Errorf("%w: connection request already pending", service.ErrConflict)}
	app := newNotificationApp(svc)

	resp, payload := perform(t, app, jsonRequest(t, http.MethodPost, "/api/v1/users/connect/u1", nil))
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
	require.False(t, payload.Success)
}

func TestInteractionHandler_Create(t *testing.T) {
	svc := &fakeNotifications{notification: dto.NotificationResponse{ID: "n9", Type: "comment"}}
	app := newNotificationApp(svc)

	body := map[string]string{"type": "comment", "recipientId": "author", "postId": "post-1", "preview": "Nice"}
	resp, payload := perform(t, app, jsonRequest(t, http.MethodPost, "/api/v1/interactions/", body))
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.Equal(t, "interaction recorded", payload.Message)
	require.Equal(t, "u2", svc.interaction.ActorID)
	require.Equal(t, "author", svc.interaction.RecipientID)
	require.EqualValues(t, "comment", svc.interaction.Type)

	resp, payload = perform(t, app, jsonRequest(t, http.MethodPost, "/api/v1/interactions/", map[string]string{"type": "share", "recipientId": "a", "postId": "p"}))
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "oneof", payload.Details["Type"])
}
