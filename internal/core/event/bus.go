package event

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Handler は購読したイベント1件を処理する
type Handler func(ctx context.Context, payload map[string]any)

// Bus はワーカーとAPIをつなぐイベントバスのインターフェース。
// Publish の失敗は呼び出し側のジョブを失敗させない前提で扱う。
// Subscribe はコンテキストがキャンセルされるまでブロックし、
// 同一トピック内では発行順に配送する。
type Bus interface {
	Publish(ctx context.Context, topic string, payload map[string]any) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
}

// JobsTopic はテナントのジョブイベント用トピック名を返す
func JobsTopic(tenantID string) string {
	return tenantID + ".jobs"
}

// EnrichPayload はペイロードにタイムスタンプとテナントIDを補う。
// 既に設定済みの値は上書きしない。テナントIDはトピック名から取り出す。
func EnrichPayload(topic string, payload map[string]any) map[string]any {
	if payload == nil {
		payload = make(map[string]any)
	}
	if _, ok := payload["ts"]; !ok {
		payload["ts"] = time.Now().UTC().Format(time.RFC3339)
	}
	if _, ok := payload["tenant_id"]; !ok {
		if tenant, _, found := strings.Cut(topic, "."); found && tenant != "" {
			payload["tenant_id"] = tenant
		}
	}
	return payload
}

// SafeHandle はハンドラーの panic を回収して購読ループを守る
func SafeHandle(ctx context.Context, logger *slog.Logger, topic string, handler Handler, payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panicked",
				slog.String("topic", topic),
				slog.Any("panic", r))
		}
	}()
	handler(ctx, payload)
}
