package event

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Conn はクライアントとの双方向JSONチャネル。
// gorilla/websocket のアダプターが internal/infra/ws にある。
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// Notifier はテナントごとの接続レジストリとイベントのファンアウトを担う。
// 同一テナントの全接続に同じイベントが届くブロードキャスト方式で、
// 接続間でイベントを奪い合うことはない。
type Notifier struct {
	bus    Bus
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]map[Conn]struct{}
}

// NotifierOption は Notifier の追加設定
type NotifierOption func(*Notifier)

// WithNotifierLogger はロガーを設定する
func WithNotifierLogger(logger *slog.Logger) NotifierOption {
	return func(n *Notifier) { n.logger = logger }
}

// NewNotifier は新しい Notifier を作成する
func NewNotifier(bus Bus, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		bus:    bus,
		logger: slog.Default(),
		conns:  make(map[string]map[Conn]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// HandleConnection は1接続分のライフサイクルを処理する。
// 最初に必ず接続挨拶を送り、以後はテナントのジョブトピックを購読して
// イベントを接続へ流す。クライアントの ping には pong で応える。
// 接続が閉じられるかコンテキストが終わるまでブロックする。
func (n *Notifier) HandleConnection(ctx context.Context, tenantID string, conn Conn) error {
	n.register(tenantID, conn)
	defer n.unregister(tenantID, conn)

	greeting := map[string]any{
		"event":     "connected",
		"tenant_id": tenantID,
		"ts":        time.Now().UTC().Format(time.RFC3339),
	}
	if err := conn.WriteJSON(greeting); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 接続ごとに1購読。バス側の障害で接続全体は殺さない。
	go func() {
		err := n.bus.Subscribe(ctx, JobsTopic(tenantID), func(ctx context.Context, payload map[string]any) {
			if err := conn.WriteJSON(payload); err != nil {
				cancel()
			}
		})
		if err != nil && ctx.Err() == nil {
			n.logger.Error("event subscription failed",
				slog.String("tenant_id", tenantID),
				slog.String("error", err.Error()))
		}
	}()

	return n.readLoop(ctx, conn)
}

// readLoop はクライアントからのメッセージを処理する
func (n *Notifier) readLoop(ctx context.Context, conn Conn) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			// 切断は正常系として扱う
			return nil
		}

		if msg["type"] == "ping" {
			if err := conn.WriteJSON(map[string]any{"type": "pong"}); err != nil {
				return nil
			}
		}
	}
}

// Broadcast はテナントの全接続にペイロードを直接送る。
// 書き込みに失敗した接続はレジストリから外す。
func (n *Notifier) Broadcast(tenantID string, payload map[string]any) {
	n.mu.Lock()
	conns := make([]Conn, 0, len(n.conns[tenantID]))
	for conn := range n.conns[tenantID] {
		conns = append(conns, conn)
	}
	n.mu.Unlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(payload); err != nil {
			n.logger.Warn("broadcast write failed", slog.String("error", err.Error()))
			n.unregister(tenantID, conn)
		}
	}
}

// ConnectionCount はテナントの接続数を返す
func (n *Notifier) ConnectionCount(tenantID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.conns[tenantID])
}

func (n *Notifier) register(tenantID string, conn Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conns[tenantID] == nil {
		n.conns[tenantID] = make(map[Conn]struct{})
	}
	n.conns[tenantID][conn] = struct{}{}
}

func (n *Notifier) unregister(tenantID string, conn Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.conns[tenantID], conn)
	if len(n.conns[tenantID]) == 0 {
		delete(n.conns, tenantID)
	}
}
