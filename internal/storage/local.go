// Package storage はアップロードファイルの保存を抽象化するレイヤーを提供します。
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local はローカルファイルシステムへの保存を行うストレージ実装です。
// 保存先: <baseDir>/<fileID>_<元のファイル名>
type Local struct {
	baseDir string
}

// NewLocal は保存先ディレクトリを作成して Local を返します。
func NewLocal(baseDir string) (*Local, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir is required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &Local{baseDir: baseDir}, nil
}

// Save はアップロードされた内容を保存し、保存先パスと書き込みサイズを返します。
// ファイル名はパス要素を取り除いた basename のみを使用します。
func (l *Local) Save(fileID, filename string, r io.Reader) (string, int64, error) {
	if fileID == "" {
		return "", 0, fmt.Errorf("fileID is required")
	}
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) {
		name = "upload"
	}
	path := filepath.Join(l.baseDir, fmt.Sprintf("%s_%s", fileID, name))

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	size, err := io.Copy(dst, r)
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("failed to write file: %w", err)
	}
	return path, size, nil
}

// Open は保存済みファイルを読み取り用に開きます。
func (l *Local) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Delete は保存済みファイルを削除します。既に存在しない場合はエラーにしません。
func (l *Local) Delete(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Exists は保存済みファイルの有無を返します。
func (l *Local) Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
