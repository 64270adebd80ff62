package retrieve

import (
	"context"

	"github.com/google/uuid"

	"github.com/jinford/doc-rag/pkg/models"
)

// ChunkHit は検索でヒットしたチャンクとそのスコア・表示用メタデータを表す
type ChunkHit struct {
	ChunkID     uuid.UUID `json:"chunk_id"`
	DocID       uuid.UUID `json:"doc_id"`
	Page        *int      `json:"page,omitempty"`
	Score       float64   `json:"score"`
	Snippet     string    `json:"snippet"`
	Breadcrumbs []string  `json:"breadcrumbs"`
}

// RerankPair はリランカーに渡す (クエリ, ドキュメント) の組
type RerankPair struct {
	Query    string
	Document string
}

// Embedder はクエリテキストのEmbedding生成インターフェース
type Embedder interface {
	// EmbedSingle は単一テキストのEmbeddingを生成する
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
}

// ChunkStore はチャンク行の読み取りインターフェース
type ChunkStore interface {
	// GetChunksByIDs は ID 指定でチャンクを取得する（見つからない ID は結果に含めない）
	GetChunksByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Chunk, error)
}

// Reranker は二次リランキングのインターフェース。
// 返り値は入力 pairs に対する位置インデックスの並び（良い順）。
// バックエンド到達不能は回復可能なエラーとして返すこと（クラッシュさせない）。
type Reranker interface {
	Rerank(ctx context.Context, pairs []RerankPair, topK int) ([]int, error)
}
