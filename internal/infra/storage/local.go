package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jinford/doc-rag/internal/core/pipeline"
)

const uriScheme = "file://"

// Local はローカルファイルシステム上のblobストア。
// アップロードされた元ファイルを保持し、file:// 形式のURIで参照する。
type Local struct {
	root string
}

var _ pipeline.ObjectStore = (*Local)(nil)

// NewLocal は root 配下にblobを格納するストアを作成する
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Local{root: root}, nil
}

// Put はblobを保存し、参照用URIを返す
func (s *Local) Put(ctx context.Context, tenantID, name string, data []byte) (string, error) {
	dir := filepath.Join(s.root, tenantID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create tenant directory: %w", err)
	}

	// 同名ファイルの衝突を避けるためUUIDを前置する
	path := filepath.Join(dir, uuid.NewString()+"-"+filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return uriScheme + path, nil
}

// Get はURIで参照されるblobを読み出す
func (s *Local) Get(ctx context.Context, uri string) ([]byte, error) {
	path := strings.TrimPrefix(uri, uriScheme)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", uri, err)
	}
	return data, nil
}

// Exists はblobが存在するかどうかを返す
func (s *Local) Exists(ctx context.Context, uri string) (bool, error) {
	_, err := os.Stat(strings.TrimPrefix(uri, uriScheme))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Delete はblobを削除する。存在しない場合もエラーにしない。
func (s *Local) Delete(ctx context.Context, uri string) error {
	err := os.Remove(strings.TrimPrefix(uri, uriScheme))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", uri, err)
	}
	return nil
}
