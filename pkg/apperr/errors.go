package apperr

import (
	"errors"
	"fmt"
)

// ErrNoRelevantContext は検索ヒットが0件だったことを表す終端条件。
// プロバイダ障害とは区別され、リトライ対象にはならない。
var ErrNoRelevantContext = errors.New("no relevant context found")

// ProviderReason はプロバイダ障害の分類
type ProviderReason string

const (
	ReasonAuth      ProviderReason = "auth"
	ReasonRateLimit ProviderReason = "rate_limit"
	ReasonTimeout   ProviderReason = "timeout"
	ReasonOther     ProviderReason = "other"
)

// ValidationError は不正入力を表す（リトライ不可、書き込み前に中断）
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// NewValidationError は新しい ValidationError を作成する
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation は err が ValidationError かどうかを判定する
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotFoundError は対象リソースが存在しないことを表す
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewNotFoundError は新しい NotFoundError を作成する
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// IsNotFound は err が NotFoundError かどうかを判定する
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// ProviderUnavailableError は外部プロバイダ（Embedding/Rerank/生成）の
// バックエンド障害を表す。Reason に分類を、Err に元のエラーを保持する。
type ProviderUnavailableError struct {
	Provider string
	Reason   ProviderReason
	Err      error
}

func (e *ProviderUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s unavailable (%s): %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("provider %s unavailable (%s)", e.Provider, e.Reason)
}

func (e *ProviderUnavailableError) Unwrap() error {
	return e.Err
}

// NewProviderUnavailable は新しい ProviderUnavailableError を作成する
func NewProviderUnavailable(provider string, reason ProviderReason, err error) *ProviderUnavailableError {
	return &ProviderUnavailableError{Provider: provider, Reason: reason, Err: err}
}

// IsProviderUnavailable は err が ProviderUnavailableError かどうかを判定する
func IsProviderUnavailable(err error) bool {
	var pue *ProviderUnavailableError
	return errors.As(err, &pue)
}

// ProviderReasonOf は err に含まれる ProviderUnavailableError の分類を返す。
// 該当しない場合は ReasonOther を返す。
func ProviderReasonOf(err error) ProviderReason {
	var pue *ProviderUnavailableError
	if errors.As(err, &pue) {
		return pue.Reason
	}
	return ReasonOther
}

// PipelineStageError はバックグラウンドジョブの失敗を表す。
// メッセージはジョブ行にそのまま記録され、後続ステージは投入されない。
type PipelineStageError struct {
	Stage   string
	Message string
}

func (e *PipelineStageError) Error() string {
	return fmt.Sprintf("pipeline stage %s failed: %s", e.Stage, e.Message)
}

// NewPipelineStageError は新しい PipelineStageError を作成する
func NewPipelineStageError(stage string, err error) *PipelineStageError {
	return &PipelineStageError{Stage: stage, Message: err.Error()}
}
