package ws

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/jinford/doc-rag/internal/core/event"
)

// Conn は gorilla/websocket の接続を event.Conn に適合させるラッパー。
// WriteJSON はBus購読ゴルーチンとBroadcastの双方から呼ばれるため排他する。
type Conn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

var _ event.Conn = (*Conn)(nil)

func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn}
}

func (c *Conn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Conn) ReadJSON(v any) error {
	return c.conn.ReadJSON(v)
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// Handler はジョブイベント配信用のWebSocketエンドポイント。
// 接続をアップグレードしてテナント単位の通知ループに引き渡す。
type Handler struct {
	notifier *event.Notifier
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

type HandlerOption func(*Handler)

// WithHandlerLogger はロガーを設定する
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

// WithCheckOrigin はOriginヘッダの検証関数を設定する
func WithCheckOrigin(check func(r *http.Request) bool) HandlerOption {
	return func(h *Handler) { h.upgrader.CheckOrigin = check }
}

// NewHandler は新しいWebSocketハンドラを作成する
func NewHandler(notifier *event.Notifier, opts ...HandlerOption) *Handler {
	h := &Handler{
		notifier: notifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP はWebSocket接続を受け付ける。
// テナントIDはクエリパラメータ tenant_id で指定する。
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade websocket connection", slog.String("error", err.Error()))
		return
	}

	conn := NewConn(wsConn)
	defer conn.Close()

	if err := h.notifier.HandleConnection(r.Context(), tenantID, conn); err != nil {
		h.logger.Warn("websocket connection closed with error",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()))
	}
}
