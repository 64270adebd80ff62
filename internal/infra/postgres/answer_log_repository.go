package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jinford/doc-rag/internal/core/answer"
	"github.com/jinford/doc-rag/pkg/db"
	"github.com/jinford/doc-rag/pkg/models"
)

// AnswerLogRepository は回答利用量を answer_logs テーブルに記録します
type AnswerLogRepository struct {
	db *db.DB
}

// NewAnswerLogRepository は新しい AnswerLogRepository を作成します
func NewAnswerLogRepository(database *db.DB) *AnswerLogRepository {
	return &AnswerLogRepository{db: database}
}

// コンパイル時の型チェック
var _ answer.UsageLogger = (*AnswerLogRepository)(nil)

// LogUsage は回答1件分の利用量を記録します
func (r *AnswerLogRepository) LogUsage(ctx context.Context, tenantID, query string, usage answer.Usage) error {
	sql := `
		INSERT INTO answer_logs (id, tenant_id, query, provider, model, in_tokens, out_tokens, latency_ms, cost_usd, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`

	_, err := r.db.Pool.Exec(ctx, sql,
		UUIDToPgtype(uuid.New()), tenantID, query, usage.Provider, usage.Model,
		IntPtrToPgtype(usage.InTokens), IntPtrToPgtype(usage.OutTokens),
		usage.LatencyMS, usage.CostUSD)
	if err != nil {
		return fmt.Errorf("failed to insert answer log: %w", err)
	}
	return nil
}

// ListByTenant はテナントの利用実績を新しい順で取得します
func (r *AnswerLogRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*models.AnswerLog, error) {
	if limit <= 0 {
		limit = 100
	}

	sql := `
		SELECT id, tenant_id, query, provider, model, in_tokens, out_tokens, latency_ms, cost_usd, created_at
		FROM answer_logs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, sql, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list answer logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AnswerLog
	for rows.Next() {
		var log models.AnswerLog
		err := rows.Scan(&log.ID, &log.TenantID, &log.Query, &log.Provider, &log.Model,
			&log.InTokens, &log.OutTokens, &log.LatencyMS, &log.CostUSD, &log.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan answer log: %w", err)
		}
		logs = append(logs, &log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate answer logs: %w", err)
	}
	return logs, nil
}
