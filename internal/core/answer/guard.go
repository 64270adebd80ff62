package answer

import (
	"strings"

	"github.com/jinford/doc-rag/pkg/apperr"
)

// MaxQueryLength はクエリの最大文字数
const MaxQueryLength = 1000

// Guard は回答生成リクエストの入力検証を行う
type Guard struct{}

// NewGuard は新しい Guard を作成する
func NewGuard() *Guard {
	return &Guard{}
}

// ValidateQuery はクエリ本文を検証する
func (g *Guard) ValidateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return apperr.NewValidationError("query cannot be empty")
	}
	if len(query) > MaxQueryLength {
		return apperr.NewValidationError("query too long (max %d characters)", MaxQueryLength)
	}
	return nil
}

// ValidateParameters は生成パラメータの範囲を検証する
func (g *Guard) ValidateParameters(req *Request) error {
	if req.TopK < 1 || req.TopK > 50 {
		return apperr.NewValidationError("top_k must be between 1 and 50")
	}
	if req.MaxCtxTokens < 100 || req.MaxCtxTokens > 4096 {
		return apperr.NewValidationError("max_ctx must be between 100 and 4096")
	}
	if req.MaxTokens < 1 || req.MaxTokens > 4096 {
		return apperr.NewValidationError("max_tokens must be between 1 and 4096")
	}
	if req.Temperature < 0.0 || req.Temperature > 1.0 {
		return apperr.NewValidationError("temperature must be between 0.0 and 1.0")
	}
	if req.TimeoutSec < 1 || req.TimeoutSec > 120 {
		return apperr.NewValidationError("timeout must be between 1 and 120 seconds")
	}
	return nil
}
