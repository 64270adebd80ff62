package models

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus はドキュメントの処理状態を表す
type DocumentStatus string

const (
	DocumentStatusUploaded   DocumentStatus = "uploaded"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusDone       DocumentStatus = "done"
	DocumentStatusError      DocumentStatus = "error"
)

// Document はテナントにアップロードされたドキュメントを表します
type Document struct {
	ID         uuid.UUID      `json:"id"`
	TenantID   string         `json:"tenantID"`
	Name       string         `json:"name"`
	Mime       string         `json:"mime"`
	StorageURI string         `json:"storageURI"`
	Status     DocumentStatus `json:"status"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// ElementType はパーサが生成する要素の種別
type ElementType string

const (
	ElementTypeTitle ElementType = "title"
	ElementTypeText  ElementType = "text"
	ElementTypeList  ElementType = "list"
	ElementTypeTable ElementType = "table"
	ElementTypeCode  ElementType = "code"
)

// IsHeader は要素が見出し（title または h1〜h6）かどうかを判定する
func (t ElementType) IsHeader() bool {
	if t == ElementTypeTitle {
		return true
	}
	s := string(t)
	return len(s) == 2 && s[0] == 'h' && s[1] >= '1' && s[1] <= '6'
}

// HeaderLevel は見出しレベルを返す（title は 1 扱い、見出し以外は 0）
func (t ElementType) HeaderLevel() int {
	if t == ElementTypeTitle {
		return 1
	}
	s := string(t)
	if len(s) == 2 && s[0] == 'h' && s[1] >= '1' && s[1] <= '6' {
		return int(s[1] - '0')
	}
	return 0
}

// Element はパーサがドキュメントから抽出した要素を表します。
// パーサ連携側で生成され、以後不変です。
type Element struct {
	ID         uuid.UUID   `json:"id"`
	DocumentID uuid.UUID   `json:"documentID"`
	Type       ElementType `json:"type"`
	Text       string      `json:"text"`
	Page       *int        `json:"page,omitempty"`
	BBox       []float64   `json:"bbox,omitempty"`
	TableID    *string     `json:"tableID,omitempty"`
}
