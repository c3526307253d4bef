package handler_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/medilink-api/internal/config"
	"github.com/noah-isme/medilink-api/internal/dto"
	"github.com/noah-isme/medilink-api/internal/handler"
	"github.com/noah-isme/medilink-api/internal/realtime"
)

func newRealtimeApp(role string, engine *fakeEngine) *fiber.App {
	app, group := authenticatedApp("u1", role)
	handler.NewRealtimeHandler(engine, zerolog.New(io.Discard)).Register(group)
	return app
}

func TestRealtimeHandler_Presence(t *testing.T) {
	engine := &fakeEngine{online: []string{"u2"}}
	app := newRealtimeApp("", engine)

	resp, payload := perform(t, app, jsonRequest(t, http.MethodGet, "/api/v1/presence?user_ids=u2,%20u3,", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"u2", "u3"}, engine.queried)

	var presence dto.PresenceResponse
	require.NoError(t, json.Unmarshal(payload.Data, &presence))
	require.Equal(t, []string{"u2"}, presence.Online)
}

func TestRealtimeHandler_PresenceLimits(t *testing.T) {
	engine := &fakeEngine{}
	app := newRealtimeApp("", engine)

	ids := make([]string, 201)
	for i := range ids {
		ids[i] = "u"
	}
	resp, payload := perform(t, app, jsonRequest(t, http.MethodGet, "/api/v1/presence?user_ids="+strings.Join(ids, ","), nil))
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "too many user ids", payload.Message)
	require.Nil(t, engine.queried)

	engine.err = errors.New("redis down")
	resp, _ = perform(t, app, jsonRequest(t, http.MethodGet, "/api/v1/presence?user_ids=u2", nil))
	require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestRealtimeHandler_StatsRequireAdmin(t *testing.T) {
	engine := &fakeEngine{stats: realtime.Stats{Connections: 3, Rooms: 5, Users: 2}}

	resp, _ := perform(t, newRealtimeApp("patient", engine), jsonRequest(t, http.MethodGet, "/api/v1/realtime/stats", nil))
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, payload := perform(t, newRealtimeApp("admin", engine), jsonRequest(t, http.MethodGet, "/api/v1/realtime/stats", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var stats realtime.Stats
	require.NoError(t, json.Unmarshal(payload.Data, &stats))
	require.Equal(t, engine.stats, stats)
}

func TestRealtimeHandler_PlainRequestNeedsUpgrade(t *testing.T) {
	app := newRealtimeApp("", &fakeEngine{})

	resp, err := app.Test(jsonRequest(t, http.MethodGet, "/api/v1/ws", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestHealthCheckReportsRealtimeStats(t *testing.T) {
	app := fiber.New()
	engine := &fakeEngine{stats: realtime.Stats{Connections: 1, Rooms: 1, Users: 1}}
	app.Get("/health", handler.HealthCheck(config.Config{AppName: "MediLink API", AppEnv: "test"}, nil, engine))

	resp, payload := perform(t, app, jsonRequest(t, http.MethodGet, "/health", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var health handler.HealthResponse
	require.NoError(t, json.Unmarshal(payload.Data, &health))
	require.Equal(t, "ok", health.Status)
	require.Equal(t, "MediLink API", health.Service)
	require.Empty(t, health.Redis)
	require.Equal(t, engine.stats, health.Realtime)
}
