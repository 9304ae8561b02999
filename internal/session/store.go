// Package session は認証セッションのライフサイクル管理を提供する。
// セッションの保持・永続化・トークン有効性検証・定期的な失効チェックを含む。
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hitoshi/kifuman/internal/model"
)

// Store はセッションの永続化先インターフェース。
// 再起動をまたいでセッションを保持するキーバリューストアの抽象。
type Store interface {
	// Get は保存済みセッションを返す。未保存の場合は(nil, nil)。
	Get() (*model.Session, error)
	// Set はセッションを保存する。
	Set(s *model.Session) error
	// Remove は保存済みセッションを削除する。未保存の場合も成功とする。
	Remove() error
}

// FileStore はJSONファイルにセッションを永続化するStore実装。
// クレデンシャルを含むためファイルは0600で作成する。
type FileStore struct {
	path string
}

// NewFileStore はFileStoreを生成する。
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Get はセッションファイルを読み込んで返す。
// ファイルが存在しない場合は(nil, nil)を返す。
// 内容が壊れている場合はエラーを返す（呼び出し元がログアウト扱いにする）。
func (fs *FileStore) Get() (*model.Session, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("セッションファイルの読み込みに失敗しました: %w", err)
	}

	var s model.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("セッションファイルのパースに失敗しました: %w", err)
	}
	if s.Token == "" {
		return nil, nil
	}
	return &s, nil
}

// Set はセッションをJSONとして書き込む。
// 親ディレクトリが存在しない場合は作成する。
func (fs *FileStore) Set(s *model.Session) error {
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o700); err != nil {
		return fmt.Errorf("セッションディレクトリの作成に失敗しました: %w", err)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("セッションのエンコードに失敗しました: %w", err)
	}

	if err := os.WriteFile(fs.path, data, 0o600); err != nil {
		return fmt.Errorf("セッションファイルの書き込みに失敗しました: %w", err)
	}
	return nil
}

// Remove はセッションファイルを削除する。存在しない場合も成功とする。
func (fs *FileStore) Remove() error {
	if err := os.Remove(fs.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("セッションファイルの削除に失敗しました: %w", err)
	}
	return nil
}
