package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/pkg/models"
)

// documentStatus はドキュメントとジョブ一覧のレスポンス形式
type documentStatus struct {
	Document *models.Document `json:"document"`
	Jobs     []*models.Job    `json:"jobs"`
}

// DocumentStatusAction はドキュメントの処理状況を表示するコマンドのアクション
func DocumentStatusAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	idStr := cmd.String("id")

	documentID, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("--id はUUID形式で指定してください: %w", err)
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	doc, err := appCtx.Container.Repository.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("ドキュメントの取得に失敗: %w", err)
	}

	jobs, err := appCtx.Container.Repository.ListJobsByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("ジョブ一覧の取得に失敗: %w", err)
	}

	out, err := json.MarshalIndent(documentStatus{Document: doc, Jobs: jobs}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
