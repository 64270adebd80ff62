package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/jinford/doc-rag/internal/core/event"
)

// EventBus は Redis Pub/Sub を使った event.Bus 実装。
// Redis の Pub/Sub は同一チャネル内で発行順に配送されるため、
// トピック単位の順序保証はそのまま引き継がれる。
type EventBus struct {
	client *redis.Client
	logger *slog.Logger
}

// EventBusOption は EventBus のオプション設定
type EventBusOption func(*EventBus)

// WithEventBusLogger はロガーを設定する
func WithEventBusLogger(logger *slog.Logger) EventBusOption {
	return func(b *EventBus) { b.logger = logger }
}

// NewEventBus は新しい EventBus を作成する
func NewEventBus(client *redis.Client, opts ...EventBusOption) *EventBus {
	b := &EventBus{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// コンパイル時の型チェック
var _ event.Bus = (*EventBus)(nil)

// Publish はペイロードを補完してトピックに発行する
func (b *EventBus) Publish(ctx context.Context, topic string, payload map[string]any) error {
	payload = event.EnrichPayload(topic, payload)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", topic, err)
	}
	return nil
}

// Subscribe はトピックを購読し、コンテキストが終わるまでハンドラーに配送する。
// 壊れたペイロードやハンドラーの panic で購読ループは止まらない。
func (b *EventBus) Subscribe(ctx context.Context, topic string, handler event.Handler) error {
	pubsub := b.client.Subscribe(ctx, topic)
	defer pubsub.Close()

	// 購読確立の確認
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var payload map[string]any
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				b.logger.Error("invalid event payload",
					slog.String("topic", topic),
					slog.String("error", err.Error()))
				continue
			}
			event.SafeHandle(ctx, b.logger, topic, handler, payload)
		}
	}
}
