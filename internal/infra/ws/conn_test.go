package ws

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/internal/core/event"
)

// localBus はテスト用のインプロセスバス
type localBus struct {
	mu   sync.Mutex
	subs map[string][]chan map[string]any
}

func newLocalBus() *localBus {
	return &localBus{subs: make(map[string][]chan map[string]any)}
}

func (b *localBus) Publish(ctx context.Context, topic string, payload map[string]any) error {
	payload = event.EnrichPayload(topic, payload)
	b.mu.Lock()
	targets := append([]chan map[string]any(nil), b.subs[topic]...)
	b.mu.Unlock()
	for _, ch := range targets {
		ch <- payload
	}
	return nil
}

func (b *localBus) Subscribe(ctx context.Context, topic string, handler event.Handler) error {
	ch := make(chan map[string]any, 16)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-ch:
			event.SafeHandle(ctx, slog.Default(), topic, handler, payload)
		}
	}
}

func dialTest(t *testing.T, bus event.Bus, tenantID string) (*websocket.Conn, func()) {
	t.Helper()
	notifier := event.NewNotifier(bus)
	server := httptest.NewServer(NewHandler(notifier))

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?tenant_id=" + tenantID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}

	return conn, func() {
		conn.Close()
		server.Close()
	}
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHandlerSendsGreetingFirst(t *testing.T) {
	conn, cleanup := dialTest(t, newLocalBus(), "acme")
	defer cleanup()

	msg := readJSON(t, conn)
	assert.Equal(t, "connected", msg["event"])
	assert.Equal(t, "acme", msg["tenant_id"])
	assert.NotEmpty(t, msg["ts"])
}

func TestHandlerPingPong(t *testing.T) {
	conn, cleanup := dialTest(t, newLocalBus(), "acme")
	defer cleanup()

	readJSON(t, conn) // greeting

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	msg := readJSON(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

func TestHandlerForwardsBusEvents(t *testing.T) {
	bus := newLocalBus()
	conn, cleanup := dialTest(t, bus, "acme")
	defer cleanup()

	readJSON(t, conn) // greeting

	// 購読が張られるまで少し待つ
	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.subs["acme.jobs"]) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), "acme.jobs", map[string]any{
		"event":  "job_status",
		"status": "done",
	}))

	msg := readJSON(t, conn)
	assert.Equal(t, "job_status", msg["event"])
	assert.Equal(t, "done", msg["status"])
	assert.Equal(t, "acme", msg["tenant_id"])
}

func TestHandlerRequiresTenantID(t *testing.T) {
	notifier := event.NewNotifier(newLocalBus())
	server := httptest.NewServer(NewHandler(notifier))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)
}
