package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	inbound  chan []byte
	outbound chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:  make(chan []byte, 16),
		outbound: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-f.inbound:
		return websocket.TextMessage, msg, nil
	case <-f.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	select {
	case <-f.closed:
		return errors.New("connection closed")
	case f.outbound <- data:
		return nil
	}
}

func (f *fakeConn) SetReadLimit(int64)                        {}
func (f *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (f *fakeConn) SetPongHandler(func(appData string) error) {}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type receivedEvent struct {
	ID   string          `json:"id"`
	Name EventType       `json:"event"`
	Data json.RawMessage `json:"data"`
}

func serve(t *testing.T, engine *Engine, userID string) *fakeConn {
	t.Helper()

	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		engine.ServeConnection(context.Background(), conn, userID)
		close(done)
	}()

	t.Cleanup(func() {
		_ = conn.Close()
		<-done
	})
	return conn
}

func send(t *testing.T, conn *fakeConn, event EventType, data interface{}) {
	t.Helper()

	raw, err := json.Marshal(map[string]interface{}{"event": event, "data": data})
	require.NoError(t, err)
	conn.inbound <- raw
}

func expectEvent(t *testing.T, conn *fakeConn, name EventType) receivedEvent {
	t.Helper()

	select {
	case raw := <-conn.outbound:
		var event receivedEvent
		require.NoError(t, json.Unmarshal(raw, &event))
		require.Equal(t, name, event.Name, "unexpected frame %s", string(raw))
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", name)
		return receivedEvent{}
	}
}

func expectSilence(t *testing.T, conn *fakeConn) {
	t.Helper()

	select {
	case raw := <-conn.outbound:
		t.Fatalf("unexpected frame %s", string(raw))
	case <-time.After(100 * time.Millisecond):
	}
}

func register(t *testing.T, conn *fakeConn, userID string) {
	t.Helper()

	send(t, conn, EventRegisterUser, userID)
	expectEvent(t, conn, EventRegistered)
}

type stubAuthorizer struct {
	allowed map[string]bool
}

func (s stubAuthorizer) CanJoinConversation(_ context.Context, conversationID, userID string) (bool, error) {
	return s.allowed[conversationID+"/"+userID], nil
}
