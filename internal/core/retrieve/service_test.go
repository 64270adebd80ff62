package retrieve

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/internal/core/index"
	"github.com/jinford/doc-rag/pkg/apperr"
	"github.com/jinford/doc-rag/pkg/models"
)

type stubEmbedder struct {
	vector []float32
	err    error
}

func (e *stubEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vector, nil
}

// stubIndexStore は検索結果を固定で返す index.Store 実装
type stubIndexStore struct {
	matches []index.Match
	err     error
}

func (s *stubIndexStore) Upsert(ctx context.Context, chunkIDs []uuid.UUID, vectors [][]float32, provider string) error {
	return nil
}

func (s *stubIndexStore) Search(ctx context.Context, queryVector []float32, topK int) ([]index.Match, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.matches) > topK {
		return s.matches[:topK], nil
	}
	return s.matches, nil
}

// stubChunkStore は ID 順に依存しない map でチャンクを返す
type stubChunkStore struct {
	chunks map[uuid.UUID]*models.Chunk
}

func (s *stubChunkStore) GetChunksByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Chunk, error) {
	out := make(map[uuid.UUID]*models.Chunk, len(ids))
	for _, id := range ids {
		if c, ok := s.chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

type failingReranker struct{ calls int }

func (r *failingReranker) Rerank(ctx context.Context, pairs []RerankPair, topK int) ([]int, error) {
	r.calls++
	return nil, apperr.NewProviderUnavailable("reranker", apperr.ReasonTimeout, errors.New("connection refused"))
}

type reversingReranker struct{ gotPairs []RerankPair }

func (r *reversingReranker) Rerank(ctx context.Context, pairs []RerankPair, topK int) ([]int, error) {
	r.gotPairs = pairs
	indices := make([]int, len(pairs))
	for i := range pairs {
		indices[i] = len(pairs) - 1 - i
	}
	return indices, nil
}

// fixture は類似度 0.9 / 0.5 / 0.1 の3チャンク構成を組み立てる
func fixture() (*stubIndexStore, *stubChunkStore, []uuid.UUID) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	store := &stubIndexStore{matches: []index.Match{
		{ChunkID: ids[0], Score: 0.9},
		{ChunkID: ids[1], Score: 0.5},
		{ChunkID: ids[2], Score: 0.1},
	}}

	docID := uuid.New()
	chunks := make(map[uuid.UUID]*models.Chunk, 3)
	for i, id := range ids {
		chunks[id] = &models.Chunk{
			ID:         id,
			DocumentID: docID,
			HeaderPath: []string{"Doc", fmt.Sprintf("Sec%d", i)},
			Text:       fmt.Sprintf("chunk body %d", i),
		}
	}
	return store, &stubChunkStore{chunks: chunks}, ids
}

func newTestRetriever(store index.Store, chunks ChunkStore, opts ...RetrieverOption) *Retriever {
	idx := index.New(store, 3)
	return NewRetriever(&stubEmbedder{vector: []float32{1, 0, 0}}, idx, chunks, opts...)
}

func TestRetrieveSimilarityOrder(t *testing.T) {
	store, chunkStore, ids := fixture()
	r := newTestRetriever(store, chunkStore)

	hits, err := r.Retrieve(context.Background(), "query", 10, 10, false)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, ids[0], hits[0].ChunkID)
	assert.Equal(t, ids[1], hits[1].ChunkID)
	assert.Equal(t, ids[2], hits[2].ChunkID)
	assert.Equal(t, []float64{0.9, 0.5, 0.1}, []float64{hits[0].Score, hits[1].Score, hits[2].Score})
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Score, 0.0)
		assert.LessOrEqual(t, h.Score, 1.0)
		assert.NotEmpty(t, h.Breadcrumbs)
	}
}

func TestRetrieveEmptyIndex(t *testing.T) {
	r := newTestRetriever(&stubIndexStore{}, &stubChunkStore{})

	hits, err := r.Retrieve(context.Background(), "query", 10, 10, false)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRetrieveRerankerFallback(t *testing.T) {
	store, chunkStore, _ := fixture()
	reranker := &failingReranker{}
	r := newTestRetriever(store, chunkStore, WithReranker(reranker))

	withRerank, err := r.Retrieve(context.Background(), "query", 10, 10, true)
	require.NoError(t, err)

	without, err := r.Retrieve(context.Background(), "query", 10, 10, false)
	require.NoError(t, err)

	// リランカーが常に失敗しても useRerank=false と同じ順序になる
	require.Equal(t, len(without), len(withRerank))
	for i := range without {
		assert.Equal(t, without[i].ChunkID, withRerank[i].ChunkID)
	}
	assert.Equal(t, 1, reranker.calls)
	assert.Equal(t, int64(1), r.FallbackCount())
}

func TestRetrieveRerankReordersByIndices(t *testing.T) {
	store, chunkStore, ids := fixture()
	reranker := &reversingReranker{}
	r := newTestRetriever(store, chunkStore, WithReranker(reranker))

	hits, err := r.Retrieve(context.Background(), "query", 10, 10, true)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	// 逆順リランカーなので元の類似度順の逆になる
	assert.Equal(t, ids[2], hits[0].ChunkID)
	assert.Equal(t, ids[1], hits[1].ChunkID)
	assert.Equal(t, ids[0], hits[2].ChunkID)
}

func TestRetrieveRerankPairsFollowIndexOrder(t *testing.T) {
	store, chunkStore, _ := fixture()
	reranker := &reversingReranker{}
	r := newTestRetriever(store, chunkStore, WithReranker(reranker))

	_, err := r.Retrieve(context.Background(), "query", 10, 2, true)
	require.NoError(t, err)

	// rerankK=2 なので上位2件だけが、ベクトル検索の結果順で渡る
	require.Len(t, reranker.gotPairs, 2)
	assert.Equal(t, "chunk body 0", reranker.gotPairs[0].Document)
	assert.Equal(t, "chunk body 1", reranker.gotPairs[1].Document)
	assert.Equal(t, "query", reranker.gotPairs[0].Query)
}

func TestRetrieveRerankKeepsTail(t *testing.T) {
	store, chunkStore, ids := fixture()
	r := newTestRetriever(store, chunkStore, WithReranker(&reversingReranker{}))

	hits, err := r.Retrieve(context.Background(), "query", 10, 2, true)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	// 上位2件は入れ替わり、残りは類似度順のまま後ろに付く
	assert.Equal(t, ids[1], hits[0].ChunkID)
	assert.Equal(t, ids[0], hits[1].ChunkID)
	assert.Equal(t, ids[2], hits[2].ChunkID)
}

func TestRetrieveEmptyQueryRejected(t *testing.T) {
	r := newTestRetriever(&stubIndexStore{}, &stubChunkStore{})

	_, err := r.Retrieve(context.Background(), "", 10, 10, false)
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestRetrieveEmbedderFailurePropagates(t *testing.T) {
	idx := index.New(&stubIndexStore{}, 3)
	r := NewRetriever(&stubEmbedder{err: errors.New("boom")}, idx, &stubChunkStore{})

	_, err := r.Retrieve(context.Background(), "query", 10, 10, false)
	require.Error(t, err)
}

func TestRetrieveSearchFailurePropagates(t *testing.T) {
	r := newTestRetriever(&stubIndexStore{err: errors.New("connection reset")}, &stubChunkStore{})

	// 接続障害は空結果に化けさせず伝播する
	_, err := r.Retrieve(context.Background(), "query", 10, 10, false)
	require.Error(t, err)
}

func TestMakeSnippetSentenceBoundary(t *testing.T) {
	// 文境界（index 76）が上限の70%を超えているので境界で切る
	text := "The quick brown fox jumps over the lazy dog while the patient cat watches on. " +
		"Then a very long second sentence continues well beyond the limit for this snippet."

	snippet := MakeSnippet(text, 100)
	assert.Equal(t, "The quick brown fox jumps over the lazy dog while the patient cat watches on.", snippet)
}

func TestMakeSnippetEarlyBoundaryPlainTruncation(t *testing.T) {
	// 最後の文境界が上限の70%より手前なら境界では切らず単純に切り詰める
	text := "First sentence is here. Second sentence follows. " +
		"Third one keeps going with a lot of additional words to push the text over the threshold limit for truncation."

	snippet := MakeSnippet(text, 100)
	assert.Len(t, snippet, 100)
	assert.Contains(t, snippet, "Third one keeps going")
}

func TestMakeSnippetShortTextUnchanged(t *testing.T) {
	assert.Equal(t, "short", MakeSnippet("short", 100))
}
