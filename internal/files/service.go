// Package files はアップロードされたファイルのレコード管理と受付・照会・削除を提供します。
package files

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/yourusername/parseflow/internal/storage"
)

// Scheduler は解析ジョブを非同期キューに投入するためのインターフェースです。
type Scheduler interface {
	Schedule(ctx context.Context, fileID string) error
}

// Service はファイルの受付から削除までを取りまとめます。
type Service struct {
	store   *Store
	storage *storage.Local
	logger  *log.Logger
}

// NewService は Service を作成します。logger は nil でも構いません。
func NewService(store *Store, storage *storage.Local, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		store:   store,
		storage: storage,
		logger:  logger,
	}
}

// Intake はアップロード内容を保存し、uploading 状態のレコードを作成して返します。
// 解析ジョブの投入は呼び出し側（ハンドラー）が Scheduler 経由で行います。
func (s *Service) Intake(ctx context.Context, filename string, src io.Reader) (*Record, error) {
	fileID := uuid.NewString()

	path, size, err := s.storage.Save(fileID, filename, src)
	if err != nil {
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}

	record := &Record{
		FileID:    fileID,
		Filename:  filename,
		FilePath:  path,
		Status:    StatusUploading,
		Progress:  0,
		CreatedAt: time.Now().UTC(),
	}

	// 保存済みの実体から種別を判定する。失敗しても受付は継続する。
	if mt, err := mimetype.DetectFile(path); err == nil {
		record.ContentType = mt.String()
	} else {
		s.logger.Printf("failed to detect content type fileID=%s: %v", fileID, err)
	}

	if err := s.store.Create(ctx, record); err != nil {
		if cleanupErr := s.storage.Delete(path); cleanupErr != nil {
			err = fmt.Errorf("%w (cleanup failed: %v)", err, cleanupErr)
		}
		return nil, err
	}

	s.logger.Printf("file accepted fileID=%s filename=%s size=%d", fileID, filename, size)
	return record, nil
}

// Query はレコードを取得します。存在しない場合は ErrNotFound を返します。
func (s *Service) Query(ctx context.Context, fileID string) (*Record, error) {
	return s.store.Get(ctx, fileID)
}

// List は全レコードを返します。
func (s *Service) List(ctx context.Context) ([]*Record, error) {
	return s.store.List(ctx)
}

// Remove はファイルの実体とレコードを削除します。存在しない場合は ErrNotFound を
// 返します。
//
// 解析実行中の削除はベストエフォートです。実行中の Runner を止めることはせず、
// レコード削除後の Runner の保存は ErrNotFound となり、メモリ上の進捗で配信
// だけが終端まで継続します。
func (s *Service) Remove(ctx context.Context, fileID string) error {
	record, err := s.store.Get(ctx, fileID)
	if err != nil {
		return err
	}

	if err := s.storage.Delete(record.FilePath); err != nil {
		s.logger.Printf("failed to delete stored file fileID=%s: %v", fileID, err)
	}

	return s.store.Delete(ctx, fileID)
}
