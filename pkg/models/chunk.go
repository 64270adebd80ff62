package models

import (
	"time"

	"github.com/google/uuid"
)

// ChunkLevel はチャンクの由来（本文セクション or テーブル）を表す
type ChunkLevel string

const (
	ChunkLevelSection ChunkLevel = "section"
	ChunkLevelTable   ChunkLevel = "table"
)

// TableMeta はテーブル由来チャンクの付帯情報を表します
type TableMeta struct {
	TableID  string   `json:"tableID"`
	Rows     int      `json:"rows"`
	StartRow int      `json:"startRow,omitempty"`
	EndRow   int      `json:"endRow,omitempty"`
	Headers  []string `json:"headers,omitempty"`
}

// Chunk は検索単位となるドキュメント断片を表します。
// Chunking Pipeline が一度だけ生成し、以後不変です。
// 削除はドキュメントのカスケード削除のみで行われます。
type Chunk struct {
	ID         uuid.UUID  `json:"id"`
	DocumentID uuid.UUID  `json:"documentID"`
	ElementID  *uuid.UUID `json:"elementID,omitempty"`
	Level      ChunkLevel `json:"level"`
	HeaderPath []string   `json:"headerPath"`
	Text       string     `json:"text"`
	TokenCount int        `json:"tokenCount"`
	Page       *int       `json:"page,omitempty"`
	TableMeta  *TableMeta `json:"tableMeta,omitempty"`
	ACL        []string   `json:"acl,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Embedding はチャンクのEmbeddingベクトルを表します。
// chunk_id と 1:1 で対応し、再生成時は上書きされます（重複しない）。
type Embedding struct {
	ChunkID   uuid.UUID `json:"chunkID"`
	Vector    []float32 `json:"vector"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"createdAt"`
}
