package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/mo"

	"github.com/jinford/doc-rag/internal/core/chunking"
	"github.com/jinford/doc-rag/internal/core/pipeline"
	"github.com/jinford/doc-rag/internal/core/retrieve"
	"github.com/jinford/doc-rag/pkg/apperr"
	"github.com/jinford/doc-rag/pkg/db"
	"github.com/jinford/doc-rag/pkg/models"
)

// Repository はドキュメント・エレメント・チャンク・ジョブを扱う
// PostgreSQL リポジトリです
type Repository struct {
	db *db.DB
}

// NewRepository は新しい Repository を作成します
func NewRepository(database *db.DB) *Repository {
	return &Repository{db: database}
}

// コンパイル時の型チェック
var (
	_ pipeline.Store      = (*Repository)(nil)
	_ retrieve.ChunkStore = (*Repository)(nil)
)

// === Document ===

// CreateDocument はドキュメント行を作成します
func (r *Repository) CreateDocument(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (id, tenant_id, name, mime, storage_uri, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())`

	_, err := r.db.Pool.Exec(ctx, query,
		UUIDToPgtype(doc.ID), doc.TenantID, doc.Name, doc.Mime, doc.StorageURI, string(doc.Status))
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetDocument はドキュメントを取得します
func (r *Repository) GetDocument(ctx context.Context, documentID uuid.UUID) (*models.Document, error) {
	query := `
		SELECT id, tenant_id, name, mime, storage_uri, status, created_at, updated_at
		FROM documents
		WHERE id = $1`

	row := r.db.Pool.QueryRow(ctx, query, UUIDToPgtype(documentID))

	var doc models.Document
	var status string
	err := row.Scan(&doc.ID, &doc.TenantID, &doc.Name, &doc.Mime, &doc.StorageURI, &status, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NewNotFoundError("document", documentID.String())
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	doc.Status = models.DocumentStatus(status)
	return &doc, nil
}

// UpdateDocumentStatus はドキュメントの処理状態を更新します
func (r *Repository) UpdateDocumentStatus(ctx context.Context, documentID uuid.UUID, status models.DocumentStatus) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE documents SET status = $2, updated_at = now() WHERE id = $1`,
		UUIDToPgtype(documentID), string(status))
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NewNotFoundError("document", documentID.String())
	}
	return nil
}

// === Element ===

// SaveElements はエレメントを一括保存します。抽出順を seq 列で保持します。
func (r *Repository) SaveElements(ctx context.Context, documentID uuid.UUID, elements []models.Element) error {
	if len(elements) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, elem := range elements {
		bbox, err := ToJSONB(elem.BBox)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO elements (id, document_id, type, text, page, bbox, table_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			UUIDToPgtype(elem.ID), UUIDToPgtype(documentID), string(elem.Type), elem.Text,
			IntPtrToPgtype(elem.Page), bbox, StringPtrToPgtext(elem.TableID))
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for range elements {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to save elements: %w", err)
		}
	}
	return nil
}

// GetElements はドキュメントのエレメントを抽出順で取得します
func (r *Repository) GetElements(ctx context.Context, documentID uuid.UUID) ([]models.Element, error) {
	query := `
		SELECT id, document_id, type, text, page, bbox, table_id
		FROM elements
		WHERE document_id = $1
		ORDER BY seq`

	rows, err := r.db.Pool.Query(ctx, query, UUIDToPgtype(documentID))
	if err != nil {
		return nil, fmt.Errorf("failed to get elements: %w", err)
	}
	defer rows.Close()

	var elements []models.Element
	for rows.Next() {
		var elem models.Element
		var elemType string
		var bbox []byte
		var page pgtype.Int4
		var tableID pgtype.Text

		if err := rows.Scan(&elem.ID, &elem.DocumentID, &elemType, &elem.Text, &page, &bbox, &tableID); err != nil {
			return nil, fmt.Errorf("failed to scan element: %w", err)
		}
		elem.Type = models.ElementType(elemType)
		elem.Page = PgtypeToIntPtr(page)
		elem.TableID = PgtextToStringPtr(tableID)
		if err := FromJSONB(bbox, &elem.BBox); err != nil {
			return nil, err
		}
		elements = append(elements, elem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate elements: %w", err)
	}
	return elements, nil
}

// === Chunk ===

// SaveChunks はチャンキング結果を保存します。ID はここで採番します。
func (r *Repository) SaveChunks(ctx context.Context, documentID uuid.UUID, chunks []chunking.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, chunk := range chunks {
		headerPath, err := ToJSONB(chunk.HeaderPath)
		if err != nil {
			return err
		}
		tableMeta, err := ToJSONB(chunk.TableMeta)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO chunks (id, document_id, element_id, level, header_path, text, token_count, page, table_meta, acl)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			UUIDToPgtype(uuid.New()), UUIDToPgtype(documentID), UUIDPtrToPgtype(chunk.ElementID),
			string(chunk.Level), headerPath, chunk.Text, chunk.TokenCount,
			IntPtrToPgtype(chunk.Page), tableMeta, chunk.ACL)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to save chunks: %w", err)
		}
	}
	return nil
}

// GetDocumentChunks はドキュメントのチャンクを生成順で取得します
func (r *Repository) GetDocumentChunks(ctx context.Context, documentID uuid.UUID) ([]models.Chunk, error) {
	query := chunkSelect + ` WHERE document_id = $1 ORDER BY seq`

	rows, err := r.db.Pool.Query(ctx, query, UUIDToPgtype(documentID))
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}
	return chunks, nil
}

// GetChunksByIDs は ID 指定でチャンクを取得し、ID をキーにした map で返します
func (r *Repository) GetChunksByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Chunk, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*models.Chunk{}, nil
	}

	query := chunkSelect + ` WHERE id = ANY($1)`

	rows, err := r.db.Pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks by ids: %w", err)
	}
	defer rows.Close()

	result := make(map[uuid.UUID]*models.Chunk, len(ids))
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		result[chunk.ID] = chunk
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}
	return result, nil
}

const chunkSelect = `
	SELECT id, document_id, element_id, level, header_path, text, token_count, page, table_meta, acl, created_at
	FROM chunks`

func scanChunk(rows pgx.Rows) (*models.Chunk, error) {
	var chunk models.Chunk
	var level string
	var headerPath, tableMeta []byte
	var elementID pgtype.UUID
	var page pgtype.Int4

	err := rows.Scan(&chunk.ID, &chunk.DocumentID, &elementID, &level, &headerPath,
		&chunk.Text, &chunk.TokenCount, &page, &tableMeta, &chunk.ACL, &chunk.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan chunk: %w", err)
	}

	chunk.Level = models.ChunkLevel(level)
	chunk.ElementID = PgtypeToUUIDPtr(elementID)
	chunk.Page = PgtypeToIntPtr(page)
	if err := FromJSONB(headerPath, &chunk.HeaderPath); err != nil {
		return nil, err
	}
	if err := FromJSONB(tableMeta, &chunk.TableMeta); err != nil {
		return nil, err
	}
	return &chunk, nil
}

// === Job ===

// CreateJob はステージのジョブを queued で作成します
func (r *Repository) CreateJob(ctx context.Context, documentID uuid.UUID, jobType models.JobType) (*models.Job, error) {
	query := `
		INSERT INTO jobs (id, document_id, type, status, progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, now(), now())
		RETURNING id, document_id, type, status, progress, error, created_at, updated_at`

	row := r.db.Pool.QueryRow(ctx, query,
		UUIDToPgtype(uuid.New()), UUIDToPgtype(documentID), string(jobType), string(models.JobStatusQueued))
	return scanJobRow(row)
}

// UpdateJob はジョブの状態・進捗・エラーを更新します
func (r *Repository) UpdateJob(ctx context.Context, job *models.Job) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, progress = $3, error = $4, updated_at = now()
		WHERE id = $1`,
		UUIDToPgtype(job.ID), string(job.Status), job.Progress, StringToNullableText(job.Error))
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NewNotFoundError("job", job.ID.String())
	}
	return nil
}

// ClaimQueuedJob は queued なジョブを1件 running に遷移させて返します。
// FOR UPDATE SKIP LOCKED により複数ワーカー間で同じジョブを掴みません。
// 対象がなければ None を返します。
func (r *Repository) ClaimQueuedJob(ctx context.Context) (mo.Option[*models.Job], error) {
	none := mo.None[*models.Job]()

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return none, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE jobs
		SET status = 'running', updated_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'queued'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, document_id, type, status, progress, error, created_at, updated_at`

	job, err := scanJobRow(tx.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return none, nil
		}
		return none, err
	}

	if err := tx.Commit(ctx); err != nil {
		return none, fmt.Errorf("failed to commit claim: %w", err)
	}
	return mo.Some(job), nil
}

// ListJobsByDocument はドキュメントのジョブをステージ順で取得します
func (r *Repository) ListJobsByDocument(ctx context.Context, documentID uuid.UUID) ([]*models.Job, error) {
	query := `
		SELECT id, document_id, type, status, progress, error, created_at, updated_at
		FROM jobs
		WHERE document_id = $1
		ORDER BY created_at`

	rows, err := r.db.Pool.Query(ctx, query, UUIDToPgtype(documentID))
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanJobRow(row pgx.Row) (*models.Job, error) {
	var job models.Job
	var jobType, status string
	var jobErr pgtype.Text

	err := row.Scan(&job.ID, &job.DocumentID, &jobType, &status, &job.Progress, &jobErr, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	job.Type = models.JobType(jobType)
	job.Status = models.JobStatus(status)
	job.Error = PgtextToString(jobErr)
	return &job, nil
}

func scanJob(rows pgx.Rows) (*models.Job, error) {
	return scanJobRow(rows)
}
