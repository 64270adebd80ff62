package retrieve

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

const (
	// MaxContextChunks はコンテキストに入れるチャンク数の上限
	MaxContextChunks = 6

	// MergedSnippetMaxTokens はマージ後スニペットのトークン上限の目安
	MergedSnippetMaxTokens = 400
)

// TokenCounter はテキストのトークン数を数えるインターフェース
type TokenCounter interface {
	Count(text string) int
}

// ContextBuilder は検索ヒットを重複排除・マージ・トークン予算で絞り込み、
// 生成プロンプトに入れるコンテキストを組み立てる
type ContextBuilder struct {
	counter TokenCounter
}

// NewContextBuilder は新しい ContextBuilder を作成する
func NewContextBuilder(counter TokenCounter) *ContextBuilder {
	return &ContextBuilder{counter: counter}
}

// Build はヒットリストからコンテキストを組み立てる。
// 返り値は高々 MaxContextChunks 件で、スニペットのトークン合計は
// maxCtxTokens を超えない。
func (b *ContextBuilder) Build(hits []ChunkHit, maxCtxTokens int) []ChunkHit {
	if len(hits) == 0 {
		return []ChunkHit{}
	}

	unique := dedupHits(hits)
	merged := b.mergeNeighbors(unique)

	// スコア降順で貪欲に採用し、予算を超える直前で打ち切る。
	// 個々のスニペットを縮めて詰め込むことはしない。
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })

	var result []ChunkHit
	usedTokens := 0
	for _, hit := range merged {
		tokens := b.counter.Count(hit.Snippet)
		if usedTokens+tokens > maxCtxTokens {
			break
		}
		result = append(result, hit)
		usedTokens += tokens

		if len(result) >= MaxContextChunks {
			break
		}
	}

	if result == nil {
		result = []ChunkHit{}
	}
	return result
}

// dedupHits は (doc, page, breadcrumbs) が同じヒットを1件にまとめる。
// 衝突時はスコアの高い方を残す。
func dedupHits(hits []ChunkHit) []ChunkHit {
	best := make(map[string]int, len(hits))
	var unique []ChunkHit

	for _, hit := range hits {
		key := dedupKey(hit)
		if i, ok := best[key]; ok {
			if hit.Score > unique[i].Score {
				unique[i] = hit
			}
			continue
		}
		best[key] = len(unique)
		unique = append(unique, hit)
	}
	return unique
}

func dedupKey(hit ChunkHit) string {
	page := -1
	if hit.Page != nil {
		page = *hit.Page
	}
	return fmt.Sprintf("%s|%d|%s", hit.DocID, page, strings.Join(hit.Breadcrumbs, ">"))
}

// mergeNeighbors は同一 (doc, page) のヒットを1件に連結する。
// 連結順はチャンクIDで安定化し、スコアは最大値を引き継ぐ。
func (b *ContextBuilder) mergeNeighbors(hits []ChunkHit) []ChunkHit {
	type groupKey struct {
		doc  string
		page int
	}

	groups := make(map[groupKey][]ChunkHit)
	var order []groupKey
	for _, hit := range hits {
		page := -1
		if hit.Page != nil {
			page = *hit.Page
		}
		key := groupKey{doc: hit.DocID.String(), page: page}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], hit)
	}

	merged := make([]ChunkHit, 0, len(order))
	for _, key := range order {
		group := groups[key]
		if len(group) == 1 {
			merged = append(merged, group[0])
			continue
		}

		sort.Slice(group, func(i, j int) bool {
			return bytes.Compare(group[i].ChunkID[:], group[j].ChunkID[:]) < 0
		})

		snippets := make([]string, 0, len(group))
		bestScore := group[0].Score
		bestIdx := 0
		for i, hit := range group {
			snippets = append(snippets, hit.Snippet)
			if hit.Score > bestScore {
				bestScore = hit.Score
				bestIdx = i
			}
		}

		out := group[0]
		out.Score = bestScore
		out.Breadcrumbs = group[bestIdx].Breadcrumbs
		out.Snippet = b.capSnippet(strings.Join(snippets, " "))
		merged = append(merged, out)
	}
	return merged
}

// capSnippet はマージ後のスニペットをトークン上限の目安まで
// 文境界で切り詰める
func (b *ContextBuilder) capSnippet(snippet string) string {
	count := b.counter.Count(snippet)
	if count <= MergedSnippetMaxTokens {
		return snippet
	}
	targetChars := len(snippet) * MergedSnippetMaxTokens / count
	return MakeSnippet(snippet, targetChars)
}
