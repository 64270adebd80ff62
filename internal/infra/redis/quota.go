package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jinford/doc-rag/internal/core/answer"
)

// DefaultDailyTokenQuota はテナントの1日あたりトークン上限
const DefaultDailyTokenQuota = 200_000

// QuotaLimiter はテナント単位の日次トークンクォータを Redis で管理する。
// 判定は INCRBY の戻り値に対して行う（読み取り後の書き込みではない）ため、
// 上限付近で同時リクエストが重なってもすり抜けは高々1リクエスト分に収まる。
type QuotaLimiter struct {
	client *redis.Client
	quota  int64
	now    func() time.Time
}

// QuotaLimiterOption は QuotaLimiter のオプション設定
type QuotaLimiterOption func(*QuotaLimiter)

// WithDailyTokenQuota は日次クォータを上書きする
func WithDailyTokenQuota(quota int64) QuotaLimiterOption {
	return func(q *QuotaLimiter) {
		if quota > 0 {
			q.quota = quota
		}
	}
}

// withClock はテスト用に時刻取得を差し替える
func withClock(now func() time.Time) QuotaLimiterOption {
	return func(q *QuotaLimiter) { q.now = now }
}

// NewQuotaLimiter は新しい QuotaLimiter を作成する
func NewQuotaLimiter(client *redis.Client, opts ...QuotaLimiterOption) *QuotaLimiter {
	q := &QuotaLimiter{
		client: client,
		quota:  DefaultDailyTokenQuota,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// コンパイル時の型チェック
var _ answer.QuotaLimiter = (*QuotaLimiter)(nil)

func (q *QuotaLimiter) key(tenantID string) string {
	return fmt.Sprintf("quota:%s:%s", tenantID, q.now().UTC().Format("2006-01-02"))
}

// Allow は tokens 分を加算した上で日次上限内かどうかを返す
func (q *QuotaLimiter) Allow(ctx context.Context, tenantID string, tokens int) (bool, error) {
	key := q.key(tenantID)

	total, err := q.client.IncrBy(ctx, key, int64(tokens)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment quota counter: %w", err)
	}

	// 日付キーなので翌日以降は自然に切り替わる。期限は掃除用。
	if total == int64(tokens) {
		if err := q.client.Expire(ctx, key, 48*time.Hour).Err(); err != nil {
			return false, fmt.Errorf("failed to set quota expiry: %w", err)
		}
	}

	return total <= q.quota, nil
}

// Usage は当日の消費トークン数を返す
func (q *QuotaLimiter) Usage(ctx context.Context, tenantID string) (int64, error) {
	total, err := q.client.Get(ctx, q.key(tenantID)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read quota counter: %w", err)
	}
	return total, nil
}
