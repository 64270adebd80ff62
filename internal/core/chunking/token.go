package chunking

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultWindowTokens はトークン分割のウィンドウ幅
	DefaultWindowTokens = 500

	// DefaultOverlapTokens はウィンドウ間のオーバーラップ
	DefaultOverlapTokens = 75
)

// TokenSplitter はトークン数に基づいてテキストを分割します
type TokenSplitter struct {
	encoder *tiktoken.Tiktoken
	window  int
	overlap int
}

// NewTokenSplitter は新しい TokenSplitter を作成します。
// cl100k_base エンコーダを使用します（text-embedding-3-small と互換）。
func NewTokenSplitter(window, overlap int) (*TokenSplitter, error) {
	if window <= 0 {
		window = DefaultWindowTokens
	}
	if overlap < 0 || overlap >= window {
		overlap = DefaultOverlapTokens
	}

	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoder: %w", err)
	}

	return &TokenSplitter{
		encoder: encoder,
		window:  window,
		overlap: overlap,
	}, nil
}

// Split はテキストをウィンドウ幅ごとに分割します。
// ウィンドウ以下のテキストはそのまま1件で返します。
func (s *TokenSplitter) Split(text string) []string {
	tokens := s.encoder.Encode(text, nil, nil)

	if len(tokens) <= s.window {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(tokens) {
		end := start + s.window
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, s.encoder.Decode(tokens[start:end]))

		// オーバーラップ分だけ戻して次ウィンドウへ
		next := end - s.overlap
		if next <= start || end == len(tokens) {
			break
		}
		start = next
	}

	return chunks
}

// Count はテキストのトークン数を返します
func (s *TokenSplitter) Count(text string) int {
	return len(s.encoder.Encode(text, nil, nil))
}
