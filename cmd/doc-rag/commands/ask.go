package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/internal/core/answer"
	"github.com/jinford/doc-rag/pkg/apperr"
)

// AskAction は質問に対する回答を生成するコマンドのアクション
func AskAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	req := answer.Request{
		TenantID:     cmd.String("tenant"),
		Query:        cmd.String("query"),
		TopK:         int(cmd.Int("top-k")),
		Rerank:       cmd.Bool("rerank"),
		MaxCtxTokens: int(cmd.Int("max-ctx")),
		Model:        cmd.String("model"),
	}

	if cmd.Bool("stream") {
		return streamAnswer(ctx, appCtx, req)
	}

	result, err := appCtx.Container.Orchestrator.GenerateAnswer(ctx, req)
	if err != nil {
		return describeAnswerError(err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func streamAnswer(ctx context.Context, appCtx *AppContext, req answer.Request) error {
	events, err := appCtx.Container.Orchestrator.StreamAnswer(ctx, req)
	if err != nil {
		return describeAnswerError(err)
	}

	for event := range events {
		switch event.Type {
		case answer.StreamEventChunk:
			fmt.Print(event.Text)
		case answer.StreamEventDone:
			fmt.Println()
			out, err := json.MarshalIndent(map[string]any{
				"citations": event.Citations,
				"usage":     event.Usage,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
		case answer.StreamEventError:
			fmt.Println()
			fmt.Fprintf(os.Stderr, "error (%s): %s\n", event.Code, event.Message)
		}
	}
	return nil
}

// describeAnswerError は回答生成の失敗を分類ごとのメッセージに変換する
func describeAnswerError(err error) error {
	switch {
	case errors.Is(err, apperr.ErrNoRelevantContext):
		fmt.Println("関連するコンテキストが見つかりませんでした")
		return nil
	case errors.Is(err, answer.ErrQuotaExceeded):
		return fmt.Errorf("本日のトークンクォータを超過しています: %w", err)
	case apperr.IsValidation(err):
		return fmt.Errorf("入力が不正です: %w", err)
	case apperr.IsProviderUnavailable(err):
		return fmt.Errorf("プロバイダが利用できません (%s): %w", apperr.ProviderReasonOf(err), err)
	default:
		return err
	}
}
