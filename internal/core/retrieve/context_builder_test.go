package retrieve

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordCounter は空白区切りの単語数をトークン数とみなす簡易カウンター
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

func makeHit(docID uuid.UUID, page int, score float64, snippet string, crumbs ...string) ChunkHit {
	p := page
	return ChunkHit{
		ChunkID:     uuid.New(),
		DocID:       docID,
		Page:        &p,
		Score:       score,
		Snippet:     snippet,
		Breadcrumbs: crumbs,
	}
}

func TestContextBuilderTokenBudget(t *testing.T) {
	b := NewContextBuilder(wordCounter{})

	// 各ヒット5トークン。予算12なら2件で打ち切られる
	hits := []ChunkHit{
		makeHit(uuid.New(), 1, 0.9, "one two three four five", "A"),
		makeHit(uuid.New(), 1, 0.8, "one two three four five", "B"),
		makeHit(uuid.New(), 1, 0.7, "one two three four five", "C"),
	}

	result := b.Build(hits, 12)
	require.Len(t, result, 2)

	total := 0
	for _, h := range result {
		total += wordCounter{}.Count(h.Snippet)
	}
	assert.LessOrEqual(t, total, 12)
	assert.Equal(t, 0.9, result[0].Score)
	assert.Equal(t, 0.8, result[1].Score)
}

func TestContextBuilderMaxChunks(t *testing.T) {
	b := NewContextBuilder(wordCounter{})

	hits := make([]ChunkHit, 0, 10)
	for i := 0; i < 10; i++ {
		hits = append(hits, makeHit(uuid.New(), i, float64(10-i)/10, "word", string(rune('A'+i))))
	}

	// 予算が十分でも件数上限で打ち切られる
	result := b.Build(hits, 1000)
	assert.Len(t, result, MaxContextChunks)
}

func TestContextBuilderDedupKeepsHigherScore(t *testing.T) {
	b := NewContextBuilder(wordCounter{})
	docID := uuid.New()

	low := makeHit(docID, 1, 0.3, "low score snippet", "Doc", "Sec")
	high := makeHit(docID, 1, 0.8, "high score snippet", "Doc", "Sec")

	result := b.Build([]ChunkHit{low, high}, 1000)
	require.Len(t, result, 1)
	assert.Equal(t, 0.8, result[0].Score)
	assert.Equal(t, "high score snippet", result[0].Snippet)
}

func TestContextBuilderMergesSameDocPage(t *testing.T) {
	b := NewContextBuilder(wordCounter{})
	docID := uuid.New()

	first := makeHit(docID, 2, 0.6, "alpha part", "Doc", "Intro")
	second := makeHit(docID, 2, 0.9, "beta part", "Doc", "Detail")

	result := b.Build([]ChunkHit{first, second}, 1000)
	require.Len(t, result, 1)

	merged := result[0]
	assert.Equal(t, 0.9, merged.Score)
	assert.Equal(t, []string{"Doc", "Detail"}, merged.Breadcrumbs)
	assert.Contains(t, merged.Snippet, "alpha part")
	assert.Contains(t, merged.Snippet, "beta part")

	// 連結順はチャンクIDで決まり、入力順には依存しない
	reversed := b.Build([]ChunkHit{second, first}, 1000)
	require.Len(t, reversed, 1)
	assert.Equal(t, merged.Snippet, reversed[0].Snippet)
}

func TestContextBuilderDifferentPagesNotMerged(t *testing.T) {
	b := NewContextBuilder(wordCounter{})
	docID := uuid.New()

	result := b.Build([]ChunkHit{
		makeHit(docID, 1, 0.9, "page one", "Doc"),
		makeHit(docID, 2, 0.8, "page two", "Doc"),
	}, 1000)
	assert.Len(t, result, 2)
}

func TestContextBuilderEmptyInput(t *testing.T) {
	b := NewContextBuilder(wordCounter{})
	assert.Empty(t, b.Build(nil, 100))
}

func TestContextBuilderFirstHitOverBudget(t *testing.T) {
	b := NewContextBuilder(wordCounter{})

	hits := []ChunkHit{makeHit(uuid.New(), 1, 0.9, "one two three four five", "A")}
	result := b.Build(hits, 3)
	assert.Empty(t, result)
}
