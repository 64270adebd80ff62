package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jinford/doc-rag/internal/core/chunking"
	"github.com/jinford/doc-rag/internal/core/event"
	"github.com/jinford/doc-rag/internal/core/index"
	"github.com/jinford/doc-rag/pkg/apperr"
	"github.com/jinford/doc-rag/pkg/models"
)

// Runner はドキュメント取り込みの各ステージを実行するジョブステートマシン。
// ステージは parse → chunk → embed の順で、次のステージのジョブは前の
// ステージが done をコミットした後にのみ作成される。
type Runner struct {
	store     Store
	parser    Parser
	objects   ObjectStore
	pipeline  *chunking.Pipeline
	embedder  Embedder
	index     *index.Index
	bus       Publisher
	batchSize int
	logger    *slog.Logger
}

// RunnerOption は Runner の追加設定
type RunnerOption func(*Runner)

// WithPublisher はジョブイベントの配信先を設定する
func WithPublisher(bus Publisher) RunnerOption {
	return func(r *Runner) { r.bus = bus }
}

// WithEmbedBatchSize は埋め込みバッチサイズを上書きする
func WithEmbedBatchSize(size int) RunnerOption {
	return func(r *Runner) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// WithRunnerLogger はロガーを設定する
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner は新しい Runner を作成する
func NewRunner(store Store, parser Parser, objects ObjectStore, pipeline *chunking.Pipeline, embedder Embedder, idx *index.Index, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:     store,
		parser:    parser,
		objects:   objects,
		pipeline:  pipeline,
		embedder:  embedder,
		index:     idx,
		batchSize: EmbedBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run はジョブ1件を種別に応じて実行する。ステージの失敗はジョブ行に
// エラーメッセージそのままで記録され、後続ステージはキューに入らない。
func (r *Runner) Run(ctx context.Context, job *models.Job) error {
	doc, err := r.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		r.fail(ctx, job, "", err)
		return apperr.NewPipelineStageError(string(job.Type), err)
	}

	switch job.Type {
	case models.JobTypeParse:
		err = r.runParse(ctx, job, doc)
	case models.JobTypeChunk:
		err = r.runChunk(ctx, job, doc)
	case models.JobTypeEmbed:
		err = r.runEmbed(ctx, job, doc)
	default:
		err = fmt.Errorf("unknown job type: %s", job.Type)
	}

	if err != nil {
		r.fail(ctx, job, doc.TenantID, err)
		return apperr.NewPipelineStageError(string(job.Type), err)
	}
	return nil
}

func (r *Runner) runParse(ctx context.Context, job *models.Job, doc *models.Document) error {
	if err := r.advance(ctx, job, doc.TenantID, models.JobStatusRunning, 10); err != nil {
		return err
	}

	data, err := r.objects.Get(ctx, doc.StorageURI)
	if err != nil {
		return fmt.Errorf("ドキュメントの取得に失敗しました: %w", err)
	}

	elements, err := r.parser.Parse(ctx, data, doc.Mime)
	if err != nil {
		return fmt.Errorf("ドキュメントのパースに失敗しました: %w", err)
	}
	if err := r.store.SaveElements(ctx, doc.ID, elements); err != nil {
		return fmt.Errorf("エレメントの保存に失敗しました: %w", err)
	}
	if err := r.advance(ctx, job, doc.TenantID, models.JobStatusRunning, 70); err != nil {
		return err
	}

	tables, err := r.parser.ExtractTables(ctx, data, doc.Mime)
	if err != nil {
		return fmt.Errorf("テーブルの抽出に失敗しました: %w", err)
	}
	if len(tables) > 0 {
		if err := r.store.SaveElements(ctx, doc.ID, tables); err != nil {
			return fmt.Errorf("テーブルエレメントの保存に失敗しました: %w", err)
		}
	}
	if err := r.advance(ctx, job, doc.TenantID, models.JobStatusRunning, 85); err != nil {
		return err
	}

	if err := r.advance(ctx, job, doc.TenantID, models.JobStatusDone, 100); err != nil {
		return err
	}
	return r.enqueueNext(ctx, doc, models.JobTypeChunk)
}

func (r *Runner) runChunk(ctx context.Context, job *models.Job, doc *models.Document) error {
	if err := r.advance(ctx, job, doc.TenantID, models.JobStatusRunning, 70); err != nil {
		return err
	}

	elements, err := r.store.GetElements(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("エレメントの取得に失敗しました: %w", err)
	}

	chunks := r.pipeline.BuildChunks(elements)
	if err := r.store.SaveChunks(ctx, doc.ID, chunks); err != nil {
		return fmt.Errorf("チャンクの保存に失敗しました: %w", err)
	}
	if err := r.advance(ctx, job, doc.TenantID, models.JobStatusRunning, 85); err != nil {
		return err
	}

	// チャンクまで揃えばドキュメントは検索可能。埋め込みは追っての充実分。
	if err := r.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentStatusDone); err != nil {
		return fmt.Errorf("ドキュメントステータスの更新に失敗しました: %w", err)
	}

	if err := r.advance(ctx, job, doc.TenantID, models.JobStatusDone, 100); err != nil {
		return err
	}
	return r.enqueueNext(ctx, doc, models.JobTypeEmbed)
}

func (r *Runner) runEmbed(ctx context.Context, job *models.Job, doc *models.Document) error {
	if err := r.advance(ctx, job, doc.TenantID, models.JobStatusRunning, 0); err != nil {
		return err
	}

	chunks, err := r.store.GetDocumentChunks(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("チャンクの取得に失敗しました: %w", err)
	}
	if len(chunks) == 0 {
		return r.advance(ctx, job, doc.TenantID, models.JobStatusDone, 100)
	}

	total := len(chunks)
	processed := 0
	for i := 0; i < total; i += r.batchSize {
		end := i + r.batchSize
		if end > total {
			end = total
		}
		batch := chunks[i:end]

		if err := r.advance(ctx, job, doc.TenantID, models.JobStatusRunning, processed*100/total); err != nil {
			return err
		}

		texts := make([]string, 0, len(batch))
		ids := make([]uuid.UUID, 0, len(batch))
		for _, chunk := range batch {
			texts = append(texts, chunk.Text)
			ids = append(ids, chunk.ID)
		}

		vectors, err := r.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("埋め込みの生成に失敗しました: %w", err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("埋め込み数が一致しません: %d != %d", len(vectors), len(batch))
		}

		if err := r.index.Upsert(ctx, ids, vectors, r.embedder.Provider()); err != nil {
			return fmt.Errorf("インデックスへの登録に失敗しました: %w", err)
		}
		processed += len(batch)
	}

	return r.advance(ctx, job, doc.TenantID, models.JobStatusDone, 100)
}

// advance はジョブの状態と進捗を更新して永続化し、イベントを配信する。
// 進捗はジョブ内で単調増加とし、後退する値は現在値に丸める。
func (r *Runner) advance(ctx context.Context, job *models.Job, tenantID string, status models.JobStatus, progress int) error {
	if progress < job.Progress {
		progress = job.Progress
	}
	job.Status = status
	job.Progress = progress

	if err := r.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("ジョブの更新に失敗しました: %w", err)
	}
	r.publish(ctx, tenantID, job)
	return nil
}

// fail はジョブをエラー終端に落とす。既に終端なら状態は変えない。
func (r *Runner) fail(ctx context.Context, job *models.Job, tenantID string, cause error) {
	if job.Status.IsTerminal() {
		r.logger.Error("job stage failed after terminal state",
			slog.String("job_id", job.ID.String()),
			slog.String("error", cause.Error()))
		return
	}

	job.Status = models.JobStatusError
	job.Error = cause.Error()
	if err := r.store.UpdateJob(ctx, job); err != nil {
		r.logger.Error("failed to persist job error state",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()))
		return
	}
	r.publish(ctx, tenantID, job)
}

// enqueueNext は次のステージのジョブを queued で作成する
func (r *Runner) enqueueNext(ctx context.Context, doc *models.Document, jobType models.JobType) error {
	next, err := r.store.CreateJob(ctx, doc.ID, jobType)
	if err != nil {
		return fmt.Errorf("次ステージのジョブ作成に失敗しました: %w", err)
	}
	r.publish(ctx, doc.TenantID, next)
	return nil
}

// publish はジョブイベントをテナントのトピックに配信する。失敗は致命的でない。
func (r *Runner) publish(ctx context.Context, tenantID string, job *models.Job) {
	if r.bus == nil || tenantID == "" {
		return
	}

	payload := map[string]any{
		"event":       "job_status",
		"job_id":      job.ID.String(),
		"document_id": job.DocumentID.String(),
		"type":        string(job.Type),
		"status":      string(job.Status),
		"progress":    job.Progress,
	}
	if job.Error != "" {
		payload["error"] = job.Error
	}

	if err := r.bus.Publish(ctx, event.JobsTopic(tenantID), payload); err != nil {
		r.logger.Warn("job event publish failed",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()))
	}
}
