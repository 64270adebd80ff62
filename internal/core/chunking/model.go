package chunking

import (
	"github.com/google/uuid"

	"github.com/jinford/doc-rag/pkg/models"
)

// Chunk はチャンキングパイプラインの出力1件を表す。
// 永続化前の段階のため ID を持たない（ID は保存時に採番される）。
type Chunk struct {
	Level      models.ChunkLevel
	HeaderPath []string
	Text       string
	TokenCount int
	Page       *int
	ElementID  *uuid.UUID
	TableMeta  *models.TableMeta
	ACL        []string
}

// section は見出し分割後のひとまとまりの本文を表す
type section struct {
	elements   []models.Element
	headerPath []string
}
