package event

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBus はテスト用のインプロセスバス。トピックごとに発行順を保って配送する。
type memBus struct {
	mu   sync.Mutex
	subs map[string][]chan map[string]any
}

func newMemBus() *memBus {
	return &memBus{subs: make(map[string][]chan map[string]any)}
}

func (b *memBus) Publish(ctx context.Context, topic string, payload map[string]any) error {
	payload = EnrichPayload(topic, payload)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[topic] {
		ch <- payload
	}
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	ch := make(chan map[string]any, 64)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-ch:
			SafeHandle(ctx, slog.Default(), topic, handler, payload)
		}
	}
}

// fakeConn は Conn のテスト実装。書き込みを記録し、読み込みはチャネル駆動。
type fakeConn struct {
	mu       sync.Mutex
	written  []map[string]any
	incoming chan map[string]any
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan map[string]any, 8)}
}

func (c *fakeConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, msg)
	return nil
}

func (c *fakeConn) ReadJSON(v any) error {
	msg, ok := <-c.incoming
	if !ok {
		return io.EOF
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (c *fakeConn) Close() error {
	return nil
}

func (c *fakeConn) messages() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, len(c.written))
	copy(out, c.written)
	return out
}

func (c *fakeConn) waitFor(t *testing.T, match func(map[string]any) bool) map[string]any {
	t.Helper()
	var found map[string]any
	require.Eventually(t, func() bool {
		for _, msg := range c.messages() {
			if match(msg) {
				found = msg
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	return found
}

func startConnection(t *testing.T, n *Notifier, tenantID string) (*fakeConn, func()) {
	t.Helper()
	conn := newFakeConn()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.HandleConnection(ctx, tenantID, conn)
	}()

	// 挨拶が届くまで待って接続確立とみなす
	conn.waitFor(t, func(m map[string]any) bool { return m["event"] == "connected" })

	return conn, func() {
		cancel()
		close(conn.incoming)
		<-done
	}
}

func TestNotifierGreetingFirst(t *testing.T) {
	n := NewNotifier(newMemBus())
	conn, stop := startConnection(t, n, "acme")
	defer stop()

	msgs := conn.messages()
	require.NotEmpty(t, msgs)

	// 最初のメッセージは必ず合成の接続挨拶
	first := msgs[0]
	assert.Equal(t, "connected", first["event"])
	assert.Equal(t, "acme", first["tenant_id"])
	assert.NotEmpty(t, first["ts"])
}

func TestNotifierPingPong(t *testing.T) {
	n := NewNotifier(newMemBus())
	conn, stop := startConnection(t, n, "acme")
	defer stop()

	conn.incoming <- map[string]any{"type": "ping"}

	conn.waitFor(t, func(m map[string]any) bool { return m["type"] == "pong" })
}

func TestNotifierBridgesBusEvents(t *testing.T) {
	bus := newMemBus()
	n := NewNotifier(bus)
	conn, stop := startConnection(t, n, "acme")
	defer stop()

	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.subs[JobsTopic("acme")]) > 0
	}, 2*time.Second, 10*time.Millisecond)

	err := bus.Publish(context.Background(), JobsTopic("acme"), map[string]any{
		"event":  "job_status",
		"status": "running",
	})
	require.NoError(t, err)

	msg := conn.waitFor(t, func(m map[string]any) bool { return m["event"] == "job_status" })
	assert.Equal(t, "running", msg["status"])

	// バス側でタイムスタンプとテナントIDが補われている
	assert.Equal(t, "acme", msg["tenant_id"])
	assert.NotEmpty(t, msg["ts"])
}

func TestNotifierTenantIsolation(t *testing.T) {
	bus := newMemBus()
	n := NewNotifier(bus)

	acme, stopAcme := startConnection(t, n, "acme")
	defer stopAcme()
	globex, stopGlobex := startConnection(t, n, "globex")
	defer stopGlobex()

	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.subs[JobsTopic("acme")]) > 0 && len(bus.subs[JobsTopic("globex")]) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), JobsTopic("acme"), map[string]any{"event": "job_status"}))

	acme.waitFor(t, func(m map[string]any) bool { return m["event"] == "job_status" })

	// 別テナントの接続には届かない
	time.Sleep(50 * time.Millisecond)
	for _, msg := range globex.messages() {
		assert.NotEqual(t, "job_status", msg["event"])
	}
}

func TestNotifierBroadcast(t *testing.T) {
	n := NewNotifier(newMemBus())

	first, stopFirst := startConnection(t, n, "acme")
	defer stopFirst()
	second, stopSecond := startConnection(t, n, "acme")
	defer stopSecond()

	assert.Equal(t, 2, n.ConnectionCount("acme"))

	// 同一テナントの全接続に同じイベントが届く
	n.Broadcast("acme", map[string]any{"event": "announcement"})

	first.waitFor(t, func(m map[string]any) bool { return m["event"] == "announcement" })
	second.waitFor(t, func(m map[string]any) bool { return m["event"] == "announcement" })
}

func TestNotifierUnregisterOnDisconnect(t *testing.T) {
	n := NewNotifier(newMemBus())

	_, stop := startConnection(t, n, "acme")
	assert.Equal(t, 1, n.ConnectionCount("acme"))

	stop()
	require.Eventually(t, func() bool {
		return n.ConnectionCount("acme") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEnrichPayload(t *testing.T) {
	payload := EnrichPayload("acme.jobs", map[string]any{"event": "job_status"})
	assert.Equal(t, "acme", payload["tenant_id"])
	assert.NotEmpty(t, payload["ts"])

	// 設定済みの値は上書きしない
	payload = EnrichPayload("acme.jobs", map[string]any{"tenant_id": "other", "ts": "fixed"})
	assert.Equal(t, "other", payload["tenant_id"])
	assert.Equal(t, "fixed", payload["ts"])
}

func TestSafeHandleRecoversPanic(t *testing.T) {
	bus := newMemBus()

	var mu sync.Mutex
	var handled []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Subscribe(ctx, "acme.jobs", func(ctx context.Context, payload map[string]any) {
			if payload["boom"] == true {
				panic("handler exploded")
			}
			mu.Lock()
			handled = append(handled, payload["id"].(string))
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.subs["acme.jobs"]) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, "acme.jobs", map[string]any{"id": "1"}))
	require.NoError(t, bus.Publish(ctx, "acme.jobs", map[string]any{"boom": true}))
	require.NoError(t, bus.Publish(ctx, "acme.jobs", map[string]any{"id": "2"}))

	// panic したイベントを挟んでも購読ループは生き続け、順序も保たれる
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 2
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"1", "2"}, handled)
	mu.Unlock()

	cancel()
	<-done
}
