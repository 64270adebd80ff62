package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/doc-rag/internal/core/index"
	"github.com/jinford/doc-rag/pkg/db"
)

// DefaultEfSearch は HNSW 検索時の探索候補数のデフォルト値。
// 大きいほど再現率が上がり、検索が遅くなる。
const DefaultEfSearch = 100

// VectorStore は pgvector を使った index.Store 実装。
// HNSW インデックスによる近似近傍検索のため、スコアの絶対値ではなく
// 相対的な順位だけが保証される。
type VectorStore struct {
	db       *db.DB
	efSearch int
}

// VectorStoreOption は VectorStore のオプション設定
type VectorStoreOption func(*VectorStore)

// WithEfSearch は HNSW の探索候補数を上書きする
func WithEfSearch(ef int) VectorStoreOption {
	return func(s *VectorStore) {
		if ef > 0 {
			s.efSearch = ef
		}
	}
}

// NewVectorStore は新しい VectorStore を作成します
func NewVectorStore(database *db.DB, opts ...VectorStoreOption) *VectorStore {
	s := &VectorStore{
		db:       database,
		efSearch: DefaultEfSearch,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// コンパイル時の型チェック
var _ index.Store = (*VectorStore)(nil)

// Upsert はチャンクの Embedding を保存します。
// chunk_id 単位の置き換えで、再登録しても行は重複しません。
// 同一 chunk_id への同時書き込みは行ロックで直列化され後勝ちになります。
func (s *VectorStore) Upsert(ctx context.Context, chunkIDs []uuid.UUID, vectors [][]float32, provider string) error {
	batch := &pgx.Batch{}
	for i, chunkID := range chunkIDs {
		batch.Queue(`
			INSERT INTO embeddings (chunk_id, vector, provider, created_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (chunk_id)
			DO UPDATE SET vector = EXCLUDED.vector, provider = EXCLUDED.provider, created_at = now()`,
			UUIDToPgtype(chunkID), pgvector.NewVector(vectors[i]), provider)
	}

	results := s.db.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for range chunkIDs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert embeddings: %w", err)
		}
	}
	return nil
}

// Search はコサイン類似度の降順で近傍チャンクを返します。
// score = 1 - cosine_distance で [0,1] に収まります（正規化済み前提）。
func (s *VectorStore) Search(ctx context.Context, queryVector []float32, topK int) ([]index.Match, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin search transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// 検索品質パラメータはトランザクション内でのみ有効にする
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", s.efSearch)); err != nil {
		return nil, fmt.Errorf("failed to set ef_search: %w", err)
	}

	query := `
		SELECT chunk_id, 1 - (vector <=> $1) AS score
		FROM embeddings
		ORDER BY vector <=> $1
		LIMIT $2`

	rows, err := tx.Query(ctx, query, pgvector.NewVector(queryVector), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}
	defer rows.Close()

	var matches []index.Match
	for rows.Next() {
		var m index.Match
		if err := rows.Scan(&m.ChunkID, &m.Score); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate matches: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit search transaction: %w", err)
	}
	return matches, nil
}
