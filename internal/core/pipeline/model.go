package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/doc-rag/internal/core/chunking"
	"github.com/jinford/doc-rag/pkg/models"
)

// EmbedBatchSize は埋め込みステージの1バッチあたりのチャンク数
const EmbedBatchSize = 64

// Store はパイプラインが使う永続化レイヤー
type Store interface {
	GetDocument(ctx context.Context, documentID uuid.UUID) (*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, documentID uuid.UUID, status models.DocumentStatus) error

	SaveElements(ctx context.Context, documentID uuid.UUID, elements []models.Element) error
	GetElements(ctx context.Context, documentID uuid.UUID) ([]models.Element, error)

	SaveChunks(ctx context.Context, documentID uuid.UUID, chunks []chunking.Chunk) error
	GetDocumentChunks(ctx context.Context, documentID uuid.UUID) ([]models.Chunk, error)

	CreateJob(ctx context.Context, documentID uuid.UUID, jobType models.JobType) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error

	// ClaimQueuedJob は queued なジョブを1件、他のワーカーと競合しない形で
	// running 状態にして返す。対象がなければ None を返す。
	ClaimQueuedJob(ctx context.Context) (mo.Option[*models.Job], error)
}

// Parser はバイト列からエレメント列を取り出す外部コラボレーター
type Parser interface {
	Parse(ctx context.Context, data []byte, mime string) ([]models.Element, error)
	ExtractTables(ctx context.Context, data []byte, mime string) ([]models.Element, error)
}

// ObjectStore は元ファイルの取得元
type ObjectStore interface {
	Get(ctx context.Context, uri string) ([]byte, error)
}

// Embedder はチャンク本文の埋め込みを生成する
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Provider() string
}

// Publisher はジョブの状態遷移イベントを配信する。
// 配信の失敗はジョブ自体を失敗させない。
type Publisher interface {
	Publish(ctx context.Context, topic string, payload map[string]any) error
}
