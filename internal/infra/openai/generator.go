package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/doc-rag/internal/core/answer"
	"github.com/jinford/doc-rag/pkg/apperr"
)

// DefaultGenerateModel はモデル未指定時のデフォルトモデル
const DefaultGenerateModel = "gpt-4o-mini"

// Generator は OpenAI API を使用した回答生成プロバイダー
type Generator struct {
	client openai.Client
	model  string
}

// GeneratorOption は Generator のオプション設定
type GeneratorOption func(*Generator)

// WithGenerateModel はデフォルトモデルを上書きする
func WithGenerateModel(model string) GeneratorOption {
	return func(g *Generator) { g.model = model }
}

// NewGenerator は新しい Generator を作成する
func NewGenerator(apiKey string, opts ...GeneratorOption) *Generator {
	g := &Generator{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
		),
		model: DefaultGenerateModel,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate は回答を一括生成する
func (g *Generator) Generate(ctx context.Context, params answer.GenerateParams) (string, *answer.Usage, error) {
	start := time.Now()

	completion, err := g.client.Chat.Completions.New(ctx, g.buildParams(params))
	if err != nil {
		return "", nil, classifyError("openai", err)
	}
	if len(completion.Choices) == 0 {
		return "", nil, fmt.Errorf("no completion choices returned")
	}

	inTokens := int(completion.Usage.PromptTokens)
	outTokens := int(completion.Usage.CompletionTokens)
	usage := &answer.Usage{
		Provider:  "openai",
		Model:     string(completion.Model),
		InTokens:  &inTokens,
		OutTokens: &outTokens,
		LatencyMS: int(time.Since(start).Milliseconds()),
	}

	return completion.Choices[0].Message.Content, usage, nil
}

// Stream は回答をストリーミング生成する。
// テキスト断片を順に流し、利用量が得られれば最後のデルタに載せる。
func (g *Generator) Stream(ctx context.Context, params answer.GenerateParams) (<-chan answer.StreamDelta, error) {
	chatParams := g.buildParams(params)
	chatParams.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := g.client.Chat.Completions.NewStreaming(ctx, chatParams)

	deltas := make(chan answer.StreamDelta)
	go func() {
		defer close(deltas)
		defer stream.Close()

		var usage *answer.Usage
		for stream.Next() {
			chunk := stream.Current()

			if chunk.Usage.TotalTokens > 0 {
				in := int(chunk.Usage.PromptTokens)
				out := int(chunk.Usage.CompletionTokens)
				usage = &answer.Usage{
					Provider:  "openai",
					Model:     string(chunk.Model),
					InTokens:  &in,
					OutTokens: &out,
				}
			}

			if len(chunk.Choices) == 0 {
				continue
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				select {
				case deltas <- answer.StreamDelta{Text: text}:
				case <-ctx.Done():
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			deltas <- answer.StreamDelta{Err: classifyError("openai", err)}
			return
		}
		if usage != nil {
			deltas <- answer.StreamDelta{Usage: usage}
		}
	}()

	return deltas, nil
}

func (g *Generator) buildParams(params answer.GenerateParams) openai.ChatCompletionNewParams {
	model := params.Model
	if model == "" {
		model = g.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(params.Messages))
	for _, msg := range params.Messages {
		if msg.Role == "system" {
			messages = append(messages, openai.SystemMessage(msg.Content))
			continue
		}
		messages = append(messages, openai.UserMessage(msg.Content))
	}

	chatParams := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(params.Temperature),
	}
	if params.MaxTokens > 0 {
		chatParams.MaxTokens = openai.Int(int64(params.MaxTokens))
	}
	return chatParams
}

// classifyError はプロバイダーのエラーを理由付きの ProviderUnavailable に分類する
func classifyError(provider string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return apperr.NewProviderUnavailable(provider, apperr.ReasonAuth, err)
		case apiErr.StatusCode == 429:
			return apperr.NewProviderUnavailable(provider, apperr.ReasonRateLimit, err)
		default:
			return apperr.NewProviderUnavailable(provider, apperr.ReasonOther, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.NewProviderUnavailable(provider, apperr.ReasonTimeout, err)
	}
	return apperr.NewProviderUnavailable(provider, apperr.ReasonOther, err)
}

// インターフェース実装の確認
var _ answer.Generator = (*Generator)(nil)
