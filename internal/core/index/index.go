package index

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/jinford/doc-rag/pkg/apperr"
)

// Match はベクトル検索のヒット1件を表す。Score は [0,1] のコサイン類似度。
type Match struct {
	ChunkID uuid.UUID
	Score   float64
}

// Store はベクトルの保存と近傍検索のバックエンドインターフェース。
// 実装は chunk_id 単位の置き換え upsert（重複行を作らない）を保証すること。
type Store interface {
	// Upsert は chunk_id ごとにベクトルを置き換え保存する
	Upsert(ctx context.Context, chunkIDs []uuid.UUID, vectors [][]float32, provider string) error

	// Search は近いベクトルを最大 topK 件返す（スコア降順）
	Search(ctx context.Context, queryVector []float32, topK int) ([]Match, error)
}

// Index は Store に次元バリデーションと L2 正規化を重ねたベクトルインデックス。
// 正規化済みベクトル同士ならコサイン類似度は内積に一致する。
type Index struct {
	store     Store
	dimension int
}

// New は新しい Index を作成する
func New(store Store, dimension int) *Index {
	return &Index{
		store:     store,
		dimension: dimension,
	}
}

// Dimension は設定済みのベクトル次元を返す
func (i *Index) Dimension() int {
	return i.dimension
}

// Upsert はチャンクIDとベクトルの組を保存する。
// 長さ不一致・次元不一致は ValidationError で、書き込み前に中断する。
func (i *Index) Upsert(ctx context.Context, chunkIDs []uuid.UUID, vectors [][]float32, provider string) error {
	if len(chunkIDs) != len(vectors) {
		return apperr.NewValidationError("chunk id count %d does not match vector count %d", len(chunkIDs), len(vectors))
	}

	normalized := make([][]float32, len(vectors))
	for n, vec := range vectors {
		if len(vec) != i.dimension {
			return apperr.NewValidationError("vector %d has dimension %d, expected %d", n, len(vec), i.dimension)
		}
		normalized[n] = Normalize(vec)
	}

	if len(normalized) == 0 {
		return nil
	}

	return i.store.Upsert(ctx, chunkIDs, normalized, provider)
}

// Search はクエリベクトルに近いチャンクを返す。
// 空インデックスでは空スライスを返し、エラーにはしない。
// 接続障害はそのまま伝播する（黙って空結果にしない）。
func (i *Index) Search(ctx context.Context, queryVector []float32, topK int) ([]Match, error) {
	if len(queryVector) != i.dimension {
		return nil, apperr.NewValidationError("query vector has dimension %d, expected %d", len(queryVector), i.dimension)
	}
	if topK <= 0 {
		topK = 10
	}

	matches, err := i.store.Search(ctx, Normalize(queryVector), topK)
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []Match{}
	}
	return matches, nil
}

// Normalize はベクトルを L2 正規化した新しいスライスを返す。
// ゼロベクトルはそのままコピーを返す。
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}

	out := make([]float32, len(vec))
	if sum == 0 {
		copy(out, vec)
		return out
	}

	norm := math.Sqrt(sum)
	for n, v := range vec {
		out[n] = float32(float64(v) / norm)
	}
	return out
}
