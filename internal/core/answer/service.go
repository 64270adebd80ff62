package answer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/doc-rag/internal/core/index"
	"github.com/jinford/doc-rag/internal/core/retrieve"
	"github.com/jinford/doc-rag/pkg/apperr"
	"github.com/jinford/doc-rag/pkg/models"
)

// ErrQuotaExceeded はテナントの日次トークンクォータ超過を表す
var ErrQuotaExceeded = errors.New("daily token quota exceeded")

// Orchestrator は検索から生成までの回答パイプラインを束ねる
type Orchestrator struct {
	embedder     retrieve.Embedder
	index        *index.Index
	chunks       retrieve.ChunkStore
	generator    Generator
	counter      TokenCounter
	guard        *Guard
	reranker     retrieve.Reranker
	cache        Cache
	usageLog     UsageLogger
	quota        QuotaLimiter
	defaultModel string
	logger       *slog.Logger
}

// OrchestratorOption は Orchestrator の追加設定
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorReranker はリランカーを設定する
func WithOrchestratorReranker(r retrieve.Reranker) OrchestratorOption {
	return func(o *Orchestrator) { o.reranker = r }
}

// WithCache は回答キャッシュを設定する
func WithCache(c Cache) OrchestratorOption {
	return func(o *Orchestrator) { o.cache = c }
}

// WithUsageLogger は利用量ロガーを設定する
func WithUsageLogger(l UsageLogger) OrchestratorOption {
	return func(o *Orchestrator) { o.usageLog = l }
}

// WithQuotaLimiter はクォータリミッターを設定する
func WithQuotaLimiter(q QuotaLimiter) OrchestratorOption {
	return func(o *Orchestrator) { o.quota = q }
}

// WithDefaultModel は既定の生成モデルを設定する
func WithDefaultModel(model string) OrchestratorOption {
	return func(o *Orchestrator) { o.defaultModel = model }
}

// WithOrchestratorLogger はロガーを設定する
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

// NewOrchestrator は新しい Orchestrator を作成する
func NewOrchestrator(embedder retrieve.Embedder, idx *index.Index, chunks retrieve.ChunkStore, generator Generator, counter TokenCounter, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		embedder:     embedder,
		index:        idx,
		chunks:       chunks,
		generator:    generator,
		counter:      counter,
		guard:        NewGuard(),
		defaultModel: "gpt-4o-mini",
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// retrieval は検索フェーズの中間結果
type retrieval struct {
	ordered   []*models.Chunk
	citations []Citation
}

// GenerateAnswer は回答を一括生成する
func (o *Orchestrator) GenerateAnswer(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	req.applyDefaults(o.defaultModel)
	if err := o.validate(ctx, &req); err != nil {
		return nil, err
	}

	fingerprint := req.Fingerprint()
	if o.cache != nil {
		cached, err := o.cache.Get(ctx, req.TenantID, fingerprint)
		if err != nil {
			o.logger.Warn("answer cache read failed", slog.String("error", err.Error()))
		} else if cached != nil {
			cached.CacheHit = true
			cached.Usage.LatencyMS = int(time.Since(start).Milliseconds())
			return cached, nil
		}
	}

	ret, err := o.retrieveContext(ctx, &req)
	if err != nil {
		return nil, err
	}

	messages, _ := BuildMessages(req.Query, ret.ordered, req.MaxCtxTokens, o.counter)

	genCtx, cancel := context.WithTimeout(ctx, time.Duration(req.TimeoutSec)*time.Second)
	defer cancel()

	text, usage, err := o.generator.Generate(genCtx, GenerateParams{
		Messages:    messages,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, err
	}
	if usage == nil {
		usage = &Usage{Model: req.Model}
	}
	usage.LatencyMS = int(time.Since(start).Milliseconds())

	result := &Result{
		Answer:    text,
		Citations: ret.citations,
		Usage:     *usage,
	}

	// キャッシュと利用量ログはベストエフォート。失敗しても回答は返す。
	if o.cache != nil {
		if err := o.cache.Set(ctx, req.TenantID, fingerprint, result); err != nil {
			o.logger.Warn("answer cache write failed", slog.String("error", err.Error()))
		}
	}
	o.logUsage(ctx, &req, *usage)

	return result, nil
}

// StreamAnswer は回答をストリーミング生成する。
// 返すチャネルは chunk イベントの列のあと、done か error のどちらか
// 1件を流して必ずクローズされる。ストリーミング結果はキャッシュしない。
func (o *Orchestrator) StreamAnswer(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	start := time.Now()

	req.applyDefaults(o.defaultModel)
	if err := o.validate(ctx, &req); err != nil {
		return nil, err
	}

	ret, err := o.retrieveContext(ctx, &req)
	if err != nil {
		return nil, err
	}

	messages, _ := BuildMessages(req.Query, ret.ordered, req.MaxCtxTokens, o.counter)

	genCtx, cancel := context.WithTimeout(ctx, time.Duration(req.TimeoutSec)*time.Second)

	deltas, err := o.generator.Stream(genCtx, GenerateParams{
		Messages:    messages,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer cancel()

		usage := &Usage{Model: req.Model}
		for delta := range deltas {
			if delta.Err != nil {
				events <- StreamEvent{
					Type:    StreamEventError,
					Code:    errorCode(delta.Err),
					Message: delta.Err.Error(),
				}
				return
			}
			if delta.Usage != nil {
				usage = delta.Usage
			}
			if delta.Text != "" {
				events <- StreamEvent{Type: StreamEventChunk, Text: delta.Text}
			}
		}

		usage.LatencyMS = int(time.Since(start).Milliseconds())
		o.logUsage(ctx, &req, *usage)

		events <- StreamEvent{
			Type:      StreamEventDone,
			Citations: ret.citations,
			Usage:     usage,
		}
	}()

	return events, nil
}

// validate は入力検証とクォータ確認を行う
func (o *Orchestrator) validate(ctx context.Context, req *Request) error {
	if err := o.guard.ValidateQuery(req.Query); err != nil {
		return err
	}
	if err := o.guard.ValidateParameters(req); err != nil {
		return err
	}

	if o.quota != nil && req.TenantID != "" {
		allowed, err := o.quota.Allow(ctx, req.TenantID, req.MaxTokens)
		if err != nil {
			// クォータ基盤の障害で回答を止めない
			o.logger.Warn("quota check failed", slog.String("error", err.Error()))
			return nil
		}
		if !allowed {
			return ErrQuotaExceeded
		}
	}
	return nil
}

// retrieveContext は埋め込み→ベクトル検索→チャンク読込→リランクを行い、
// 生成に使うチャンク順と引用リストを返す。引用のスコアはリランクの有無に
// かかわらずベクトル検索時点の値を使う。
func (o *Orchestrator) retrieveContext(ctx context.Context, req *Request) (*retrieval, error) {
	vector, err := o.embedder.EmbedSingle(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	matches, err := o.index.Search(ctx, vector, req.TopK)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, apperr.ErrNoRelevantContext
	}

	ids := make([]uuid.UUID, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ChunkID)
	}
	chunkMap, err := o.chunks.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	ordered := make([]*models.Chunk, 0, len(matches))
	citations := make([]Citation, 0, len(matches))
	for _, m := range matches {
		chunk, ok := chunkMap[m.ChunkID]
		if !ok {
			continue
		}
		ordered = append(ordered, chunk)
		citations = append(citations, Citation{
			DocID:   chunk.DocumentID,
			ChunkID: chunk.ID,
			Page:    chunk.Page,
			Score:   m.Score,
		})
	}
	if len(ordered) == 0 {
		return nil, apperr.ErrNoRelevantContext
	}

	if req.Rerank && len(ordered) > 1 && o.reranker != nil {
		ordered = o.applyRerank(ctx, req.Query, ordered)
	}

	return &retrieval{ordered: ordered, citations: citations}, nil
}

// applyRerank は検索結果順のペアをリランカーに渡し、返った順序で
// チャンクを並べ替える。失敗時は元の順序のまま続行する。
func (o *Orchestrator) applyRerank(ctx context.Context, query string, ordered []*models.Chunk) []*models.Chunk {
	pairs := make([]retrieve.RerankPair, 0, len(ordered))
	for _, chunk := range ordered {
		pairs = append(pairs, retrieve.RerankPair{Query: query, Document: chunk.Text})
	}

	indices, err := o.reranker.Rerank(ctx, pairs, len(pairs))
	if err != nil {
		o.logger.Warn("rerank failed, using similarity order", slog.String("error", err.Error()))
		return ordered
	}

	reranked := make([]*models.Chunk, 0, len(ordered))
	seen := make(map[int]bool, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(ordered) || seen[i] {
			continue
		}
		seen[i] = true
		reranked = append(reranked, ordered[i])
	}
	if len(reranked) == 0 {
		return ordered
	}
	return reranked
}

func (o *Orchestrator) logUsage(ctx context.Context, req *Request, usage Usage) {
	if o.usageLog == nil || req.TenantID == "" {
		return
	}
	if err := o.usageLog.LogUsage(ctx, req.TenantID, req.Query, usage); err != nil {
		o.logger.Warn("usage log failed", slog.String("error", err.Error()))
	}
}

// errorCode はストリーミングの error イベントに載せるコードを決める
func errorCode(err error) string {
	switch {
	case apperr.IsValidation(err):
		return "validation_error"
	case apperr.IsProviderUnavailable(err):
		return "provider_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal_error"
	}
}
