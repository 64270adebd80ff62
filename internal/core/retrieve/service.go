package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jinford/doc-rag/internal/core/index"
	"github.com/jinford/doc-rag/pkg/apperr"
)

const (
	// DefaultTopK は初段の類似検索件数
	DefaultTopK = 100

	// DefaultRerankK はリランキング対象の件数
	DefaultRerankK = 20
)

// Retriever は「Embedding → 近傍検索 → チャンク読込 → 任意リランキング」を
// 束ねたハイブリッド検索を提供する
type Retriever struct {
	embedder Embedder
	index    *index.Index
	chunks   ChunkStore
	reranker Reranker
	logger   *slog.Logger

	// fallbackCount はリランカー縮退が起きた回数（可観測性用）
	fallbackCount atomic.Int64
}

// RetrieverOption は Retriever のオプション設定
type RetrieverOption func(*Retriever)

// WithReranker はリランカーを設定する
func WithReranker(r Reranker) RetrieverOption {
	return func(s *Retriever) {
		s.reranker = r
	}
}

// WithRetrieverLogger はロガーを差し替える
func WithRetrieverLogger(logger *slog.Logger) RetrieverOption {
	return func(s *Retriever) {
		s.logger = logger
	}
}

// NewRetriever は新しい Retriever を作成する
func NewRetriever(embedder Embedder, idx *index.Index, chunks ChunkStore, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		embedder: embedder,
		index:    idx,
		chunks:   chunks,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FallbackCount はリランカー縮退の累計回数を返す
func (r *Retriever) FallbackCount() int64 {
	return r.fallbackCount.Load()
}

// Retrieve はクエリに関連するチャンクをスコア付きで返す。
// useRerank が真でもリランカー障害時はベクトル類似度順にフォールバックし、
// リクエストを失敗させない。
func (r *Retriever) Retrieve(ctx context.Context, query string, topK, rerankK int, useRerank bool) ([]ChunkHit, error) {
	if query == "" {
		return nil, apperr.NewValidationError("query is required")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if rerankK <= 0 {
		rerankK = DefaultRerankK
	}

	queryVector, err := r.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := r.index.Search(ctx, queryVector, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(matches) == 0 {
		return []ChunkHit{}, nil
	}

	hits, err := r.loadHits(ctx, matches)
	if err != nil {
		return nil, err
	}

	if useRerank && len(hits) > 1 && r.reranker != nil {
		hits = r.applyRerank(ctx, query, hits, rerankK)
	}

	return hits, nil
}

// loadHits はインデックスの結果順を保ったままチャンク行を読み込み、
// ヒットリストに変換する。ストレージ側の取得順には依存しない。
func (r *Retriever) loadHits(ctx context.Context, matches []index.Match) ([]ChunkHit, error) {
	ids := make([]uuid.UUID, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ChunkID)
	}

	rows, err := r.chunks.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	hits := make([]ChunkHit, 0, len(matches))
	for _, m := range matches {
		chunk, ok := rows[m.ChunkID]
		if !ok {
			continue
		}
		hits = append(hits, ChunkHit{
			ChunkID:     chunk.ID,
			DocID:       chunk.DocumentID,
			Page:        chunk.Page,
			Score:       m.Score,
			Snippet:     MakeSnippet(chunk.Text, DefaultSnippetLength),
			Breadcrumbs: append([]string(nil), chunk.HeaderPath...),
		})
	}
	return hits, nil
}

// applyRerank は上位 rerankK 件をリランカーで並べ替える。
// pairs はベクトル検索の結果順で構築し、返ってきた位置インデックスも
// 同じ順序に対して適用する。失敗時は元の順序のまま返し、縮退を記録する。
func (r *Retriever) applyRerank(ctx context.Context, query string, hits []ChunkHit, rerankK int) []ChunkHit {
	if rerankK > len(hits) {
		rerankK = len(hits)
	}
	top := hits[:rerankK]

	pairs := make([]RerankPair, 0, len(top))
	for _, hit := range top {
		pairs = append(pairs, RerankPair{Query: query, Document: hit.Snippet})
	}

	indices, err := r.reranker.Rerank(ctx, pairs, rerankK)
	if err != nil {
		r.fallbackCount.Add(1)
		r.logger.Warn("reranker unavailable, falling back to similarity order",
			"error", err,
			"candidates", len(pairs),
		)
		return hits
	}

	reordered := make([]ChunkHit, 0, len(hits))
	seen := make(map[int]bool, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(top) || seen[idx] {
			continue
		}
		seen[idx] = true
		reordered = append(reordered, top[idx])
	}
	// リランカーが返さなかった上位候補は元の順で補う
	for i, hit := range top {
		if !seen[i] {
			reordered = append(reordered, hit)
		}
	}

	return append(reordered, hits[rerankK:]...)
}
