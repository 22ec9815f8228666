package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fileKeyPrefix = "file:"
	scanBatchSize = 100
)

// ErrNotFound は指定されたファイルIDのレコードが存在しないことを表します。
var ErrNotFound = errors.New("file not found")

// Store はファイルレコードを Redis に保存します。
// 同一レコードへの競合する書き込みは WATCH 付きトランザクションで直列化します。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore は Store を作成します。ttl が 0 の場合、レコードは無期限に保持されます。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Create は新規レコードを保存します。同じIDのレコードが既に存在する場合はエラーを返します。
func (s *Store) Create(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.FileID == "" {
		return fmt.Errorf("fileID is required")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, fileKey(record.FileID), payload, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("file already exists: %s", record.FileID)
	}
	return nil
}

// Get はレコードを取得します。存在しない場合は ErrNotFound を返します。
func (s *Store) Get(ctx context.Context, fileID string) (*Record, error) {
	if fileID == "" {
		return nil, fmt.Errorf("fileID is required")
	}
	data, err := s.rdb.Get(ctx, fileKey(fileID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Update はレコードを部分更新します。存在しない場合は ErrNotFound を返します。
func (s *Store) Update(ctx context.Context, fileID string, mutate func(*Record)) error {
	return s.updatePartial(ctx, fileID, mutate)
}

// UpdateProgress は進捗値を更新します。
func (s *Store) UpdateProgress(ctx context.Context, fileID string, progress int) error {
	return s.updatePartial(ctx, fileID, func(record *Record) {
		record.Progress = progress
	})
}

// MarkProcessing はレコードを処理中状態へ遷移させます。
func (s *Store) MarkProcessing(ctx context.Context, fileID string) error {
	return s.updatePartial(ctx, fileID, func(record *Record) {
		record.Status = StatusProcessing
	})
}

// MarkReady は解析完了時の情報を保存します。
func (s *Store) MarkReady(ctx context.Context, fileID string, parsed any) error {
	return s.updatePartial(ctx, fileID, func(record *Record) {
		record.Status = StatusReady
		record.Progress = 100
		record.ParsedContent = parsed
	})
}

// MarkFailed はレコードを失敗状態へ遷移させます。進捗は最後の値のまま保持します。
func (s *Store) MarkFailed(ctx context.Context, fileID string) error {
	return s.updatePartial(ctx, fileID, func(record *Record) {
		record.Status = StatusFailed
	})
}

// Delete はレコードを削除します。存在しない場合は ErrNotFound を返します。
func (s *Store) Delete(ctx context.Context, fileID string) error {
	if fileID == "" {
		return fmt.Errorf("fileID is required")
	}
	deleted, err := s.rdb.Del(ctx, fileKey(fileID)).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrNotFound
	}
	return nil
}

// List は全レコードを取得します。並び順は保証しません。
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	var records []*Record
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, fileKeyPrefix+"*", scanBatchSize).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			data, err := s.rdb.Get(ctx, key).Bytes()
			if err != nil {
				// SCAN と GET の間に削除された場合はスキップ
				if err == redis.Nil {
					continue
				}
				return nil, err
			}
			var record Record
			if err := json.Unmarshal(data, &record); err != nil {
				return nil, err
			}
			records = append(records, &record)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return records, nil
}

func (s *Store) updatePartial(ctx context.Context, fileID string, mutate func(*Record)) error {
	if fileID == "" {
		return fmt.Errorf("fileID is required")
	}
	key := fileKey(fileID)
	for {
		tx := s.rdb.TxPipeline()
		data, err := s.rdb.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return ErrNotFound
			}
			return err
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		mutate(&record)
		record.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		tx.Set(ctx, key, payload, s.ttl)
		_, err = tx.Exec(ctx)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
}

func fileKey(id string) string {
	return fileKeyPrefix + id
}
