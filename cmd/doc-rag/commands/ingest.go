package commands

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/pkg/models"
)

// IngestAction はドキュメントを登録し、parseジョブを投入するコマンドのアクション
func IngestAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	tenantID := cmd.String("tenant")
	filePath := cmd.String("file")
	name := cmd.String("name")
	mimeType := cmd.String("mime")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("ファイルの読み込みに失敗: %w", err)
	}

	if name == "" {
		name = filepath.Base(filePath)
	}
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(filePath))
		if mimeType == "" {
			mimeType = "text/plain"
		}
	}

	uri, err := appCtx.Container.Storage.Put(ctx, tenantID, name, data)
	if err != nil {
		return fmt.Errorf("blobの保存に失敗: %w", err)
	}

	doc := &models.Document{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Name:       name,
		Mime:       mimeType,
		StorageURI: uri,
		Status:     models.DocumentStatusUploaded,
	}
	if err := appCtx.Container.Repository.CreateDocument(ctx, doc); err != nil {
		return fmt.Errorf("ドキュメントの登録に失敗: %w", err)
	}

	job, err := appCtx.Container.Repository.CreateJob(ctx, doc.ID, models.JobTypeParse)
	if err != nil {
		return fmt.Errorf("parseジョブの投入に失敗: %w", err)
	}

	fmt.Printf("document registered: %s\n", doc.ID)
	fmt.Printf("parse job queued: %s\n", job.ID)
	return nil
}
