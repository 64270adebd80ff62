package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jinford/doc-rag/internal/core/answer"
)

// DefaultCacheTTL は回答キャッシュの有効期間
const DefaultCacheTTL = time.Hour

// AnswerCache は Redis を使った回答キャッシュ。
// キーは必ずテナントで接頭されるため、テナントをまたいだヒットは起きない。
type AnswerCache struct {
	client *redis.Client
	ttl    time.Duration
}

// AnswerCacheOption は AnswerCache のオプション設定
type AnswerCacheOption func(*AnswerCache)

// WithCacheTTL はキャッシュの有効期間を上書きする
func WithCacheTTL(ttl time.Duration) AnswerCacheOption {
	return func(c *AnswerCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// NewAnswerCache は新しい AnswerCache を作成する
func NewAnswerCache(client *redis.Client, opts ...AnswerCacheOption) *AnswerCache {
	c := &AnswerCache{
		client: client,
		ttl:    DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// コンパイル時の型チェック
var _ answer.Cache = (*AnswerCache)(nil)

func cacheKey(tenantID, fingerprint string) string {
	return fmt.Sprintf("answer:%s:%s", tenantID, fingerprint)
}

// Get はキャッシュ済みの回答を返す。未登録なら (nil, nil)。
func (c *AnswerCache) Get(ctx context.Context, tenantID, fingerprint string) (*answer.Result, error) {
	data, err := c.client.Get(ctx, cacheKey(tenantID, fingerprint)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read answer cache: %w", err)
	}

	var result answer.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode cached answer: %w", err)
	}
	return &result, nil
}

// Set は回答をTTL付きで書き込む
func (c *AnswerCache) Set(ctx context.Context, tenantID, fingerprint string, result *answer.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode answer for cache: %w", err)
	}

	if err := c.client.Set(ctx, cacheKey(tenantID, fingerprint), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write answer cache: %w", err)
	}
	return nil
}

// Invalidate はテナントのキャッシュをすべて削除する
func (c *AnswerCache) Invalidate(ctx context.Context, tenantID string) error {
	pattern := fmt.Sprintf("answer:%s:*", tenantID)

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan answer cache keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete answer cache keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
