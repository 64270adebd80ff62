package answer

import (
	"fmt"
	"strings"

	"github.com/jinford/doc-rag/pkg/models"
)

// systemInstruction は生成時の基本指示。
// 引用タグの形式と「見つからない」場合の定型句を固定する。
const systemInstruction = `Answer concisely and only from the provided context.
Always cite sources inline in the form [doc:{doc_id} chunk:{chunk_id}].
If the context does not contain the answer, reply: "Not found in the sources."`

// promptReserveTokens はシステム指示とクエリに加えて確保する余裕分
const promptReserveTokens = 100

// TokenCounter はテキストのトークン数を数えるインターフェース
type TokenCounter interface {
	Count(text string) int
}

// BuildMessages はコンテキストチャンクを予算内で詰めた生成用メッセージを
// 組み立てる。チャンクは渡された順に採用し、予算を超えた時点で打ち切る。
// 返り値の2つ目は未使用のまま残ったコンテキストトークン数。
func BuildMessages(query string, contexts []*models.Chunk, maxCtxTokens int, counter TokenCounter) ([]Message, int) {
	reserved := counter.Count(systemInstruction) + counter.Count(query) + promptReserveTokens
	available := maxCtxTokens - reserved

	var parts []string
	totalTokens := 0
	for _, chunk := range contexts {
		text := strings.TrimSpace(chunk.Text)
		if text == "" {
			continue
		}

		tag := fmt.Sprintf("[doc:%s chunk:%s", chunk.DocumentID, chunk.ID)
		if chunk.Page != nil {
			tag += fmt.Sprintf(" page:%d", *chunk.Page)
		}
		tag += "]"

		block := tag + "\n" + text + "\n"
		tokens := counter.Count(block)
		if totalTokens+tokens > available {
			break
		}
		parts = append(parts, block)
		totalTokens += tokens
	}

	content := fmt.Sprintf("%s\n\nContext:\n%s\n\nQuestion: %s",
		systemInstruction, strings.Join(parts, "\n\n"), query)

	messages := []Message{{Role: "user", Content: content}}
	return messages, available - totalTokens
}
