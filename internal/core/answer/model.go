package answer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

const (
	DefaultTopK         = 10
	DefaultMaxCtxTokens = 2000
	DefaultTemperature  = 0.2
	DefaultMaxTokens    = 1024
	DefaultTimeoutSec   = 30
)

// Request は回答生成リクエスト
type Request struct {
	TenantID     string
	Query        string
	TopK         int
	Rerank       bool
	MaxCtxTokens int
	Model        string
	Temperature  float64
	MaxTokens    int
	TimeoutSec   int
}

// applyDefaults はゼロ値のパラメータに既定値を埋める
func (r *Request) applyDefaults(defaultModel string) {
	if r.TopK == 0 {
		r.TopK = DefaultTopK
	}
	if r.MaxCtxTokens == 0 {
		r.MaxCtxTokens = DefaultMaxCtxTokens
	}
	if r.Model == "" {
		r.Model = defaultModel
	}
	if r.Temperature == 0 {
		r.Temperature = DefaultTemperature
	}
	if r.MaxTokens == 0 {
		r.MaxTokens = DefaultMaxTokens
	}
	if r.TimeoutSec == 0 {
		r.TimeoutSec = DefaultTimeoutSec
	}
}

// Fingerprint はキャッシュキーに使うリクエストの指紋を返す。
// テナントIDを必ず含めるため、テナントをまたいだキャッシュ共有は起きない。
func (r *Request) Fingerprint() string {
	raw := fmt.Sprintf("%s|%s|%d|%t|%d|%s",
		r.TenantID, r.Query, r.TopK, r.Rerank, r.MaxCtxTokens, r.Model)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Citation は回答の引用元。スコアはベクトル検索時点の値を保持する
type Citation struct {
	DocID   uuid.UUID `json:"doc_id"`
	ChunkID uuid.UUID `json:"chunk_id"`
	Page    *int      `json:"page"`
	Score   float64   `json:"score"`
}

// Usage は生成1回分の利用量
type Usage struct {
	Provider  string   `json:"provider"`
	Model     string   `json:"model"`
	InTokens  *int     `json:"in_tokens"`
	OutTokens *int     `json:"out_tokens"`
	LatencyMS int      `json:"latency_ms"`
	CostUSD   *float64 `json:"cost_usd"`
}

// Result は回答生成の結果
type Result struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Usage     Usage      `json:"usage"`
	CacheHit  bool       `json:"cache_hit,omitempty"`
}

// ストリーミングイベント種別
const (
	StreamEventChunk = "chunk"
	StreamEventDone  = "done"
	StreamEventError = "error"
)

// StreamEvent はストリーミング回答の1イベント。
// chunk イベントの列のあと、done か error のどちらか1件で必ず終わる。
type StreamEvent struct {
	Type      string     `json:"type"`
	Text      string     `json:"text,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`
	Code      string     `json:"code,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// Message は生成プロバイダーに渡す1メッセージ
type Message struct {
	Role    string
	Content string
}

// GenerateParams は生成プロバイダーへのパラメータ
type GenerateParams struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

// StreamDelta はストリーミング生成の1断片。
// Usage は最終デルタでのみ設定される。
type StreamDelta struct {
	Text  string
	Usage *Usage
	Err   error
}

// Generator はLLM生成プロバイダーのインターフェース
type Generator interface {
	Generate(ctx context.Context, params GenerateParams) (string, *Usage, error)
	Stream(ctx context.Context, params GenerateParams) (<-chan StreamDelta, error)
}

// Cache は回答キャッシュのインターフェース
type Cache interface {
	Get(ctx context.Context, tenantID, fingerprint string) (*Result, error)
	Set(ctx context.Context, tenantID, fingerprint string, result *Result) error
	Invalidate(ctx context.Context, tenantID string) error
}

// UsageLogger は回答利用量の永続化を担う
type UsageLogger interface {
	LogUsage(ctx context.Context, tenantID, query string, usage Usage) error
}

// QuotaLimiter はテナント単位の日次トークンクォータを管理する
type QuotaLimiter interface {
	// Allow は tokens 分を加算した上で上限内かどうかを返す
	Allow(ctx context.Context, tenantID string, tokens int) (bool, error)
}
