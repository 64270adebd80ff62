package models

import (
	"time"

	"github.com/google/uuid"
)

// JobType はパイプラインのステージ種別
type JobType string

const (
	JobTypeParse JobType = "parse"
	JobTypeChunk JobType = "chunk"
	JobTypeEmbed JobType = "embed"
)

// JobStatus はジョブの状態。done / error は終端状態で、以後遷移しない。
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// IsTerminal は終端状態かどうかを判定する
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// Job は1ドキュメント1ステージのジョブ行を表します。
// Progress はジョブ内で単調増加し、ちょうど 100 になるのは status=done のときのみです。
type Job struct {
	ID         uuid.UUID `json:"job_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Type       JobType   `json:"type"`
	Status     JobStatus `json:"status"`
	Progress   int       `json:"progress"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AnswerLog は回答生成の利用実績を表します
type AnswerLog struct {
	ID        uuid.UUID `json:"id"`
	TenantID  string    `json:"tenantID"`
	Query     string    `json:"query"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	InTokens  *int      `json:"inTokens,omitempty"`
	OutTokens *int      `json:"outTokens,omitempty"`
	LatencyMS int       `json:"latencyMS"`
	CostUSD   *float64  `json:"costUSD,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
