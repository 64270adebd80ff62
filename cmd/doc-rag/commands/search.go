package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/internal/core/retrieve"
	"github.com/jinford/doc-rag/pkg/apperr"
)

type searchResult struct {
	Matches []retrieve.ChunkHit `json:"matches"`
	Usage   searchUsage         `json:"usage"`
}

type searchUsage struct {
	OutTokens int `json:"out_tokens"`
}

// SearchAction は類似チャンク検索を実行するコマンドのアクション
func SearchAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	query := cmd.String("query")
	topK := int(cmd.Int("top-k"))
	useRerank := cmd.Bool("rerank")
	maxCtx := int(cmd.Int("max-ctx"))

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	hits, err := appCtx.Container.Retriever.Retrieve(ctx, query, topK, topK, useRerank)
	if err != nil {
		if errors.Is(err, apperr.ErrNoRelevantContext) {
			fmt.Println("ヒットはありません")
			return nil
		}
		return fmt.Errorf("検索に失敗: %w", err)
	}

	matches := appCtx.Container.Context.Build(hits, maxCtx)
	if len(matches) == 0 {
		fmt.Println("ヒットはありません")
		return nil
	}

	outTokens := 0
	for _, match := range matches {
		outTokens += appCtx.Container.Tokens.Count(match.Snippet)
	}

	result := searchResult{
		Matches: matches,
		Usage:   searchUsage{OutTokens: outTokens},
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
