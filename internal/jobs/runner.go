package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/yourusername/parseflow/internal/files"
	"github.com/yourusername/parseflow/internal/progress"
)

// Parser はファイル解析処理が実装するインターフェースです。
// tick は進捗（0〜100）が進むたびに呼び出します。刻み幅と間隔は実装側が決めます。
// 戻り値は解析結果（レコードの parsed_content として保存されます）です。
type Parser interface {
	Parse(ctx context.Context, record *files.Record, tick func(percent int)) (any, error)
}

// SimulatedParser は実際の解析の代わりに一定間隔で進捗を刻むシミュレーション実装です。
type SimulatedParser struct {
	Step     int           // 1刻みあたりの進捗増分（%）
	Interval time.Duration // 刻み間隔
}

// Parse は record.Progress から 100 まで Step きざみで進捗を報告します。
func (p *SimulatedParser) Parse(ctx context.Context, record *files.Record, tick func(percent int)) (any, error) {
	step := p.Step
	if step <= 0 {
		step = 10
	}

	for percent := record.Progress + step; ; percent += step {
		if percent > 100 {
			percent = 100
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.Interval):
		}
		tick(percent)
		if percent >= 100 {
			break
		}
	}

	return map[string]any{"message": "Parsed content placeholder"}, nil
}

// Runner は1ファイル分の解析ジョブを状態機械
// uploading → processing → ready/failed に沿って進めます。
// 同一ファイルIDに対して同時に動く Runner は高々ひとつです（Manager のユニーク
// タスクIDと下記の状態ガードで担保します）。
type Runner struct {
	store  *files.Store
	hub    *progress.Hub
	parser Parser
	logger *log.Logger
}

// NewRunner は Runner を作成します。logger は nil でも構いません。
func NewRunner(store *files.Store, hub *progress.Hub, parser Parser, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		store:  store,
		hub:    hub,
		parser: parser,
		logger: logger,
	}
}

// Run はファイルIDに対応する解析ジョブを終端状態まで実行します。
//
// 進捗の永続化に失敗してもジョブは中断せず、メモリ上の進捗を正として
// 続行します（次の刻みで再度保存を試みます）。解析自体が失敗した場合は
// 必ず failed へ遷移させ、processing のまま放置することはありません。
func (r *Runner) Run(ctx context.Context, fileID string) error {
	record, err := r.store.Get(ctx, fileID)
	if err != nil {
		if errors.Is(err, files.ErrNotFound) {
			// 実行前に削除されたレコード。何もせず終了する。
			r.logger.Printf("parse skipped, record not found fileID=%s", fileID)
			return nil
		}
		return fmt.Errorf("failed to load record: %w", err)
	}

	// 終端状態および処理中レコードの再実行は no-op にする
	if record.Status.IsTerminal() {
		r.logger.Printf("parse skipped, already terminal fileID=%s status=%s", fileID, record.Status)
		return nil
	}
	if record.Status == files.StatusProcessing {
		r.logger.Printf("parse skipped, already processing fileID=%s", fileID)
		return nil
	}

	record.Status = files.StatusProcessing
	if err := r.store.MarkProcessing(ctx, fileID); err != nil {
		r.persistWarn(fileID, err)
	}
	r.broadcast(fileID, files.StatusProcessing, record.Progress)

	lastProgress := record.Progress
	parsed, parseErr := r.parser.Parse(ctx, record, func(percent int) {
		// 進捗は単調非減少。逆行する報告は無視する。
		if percent <= lastProgress {
			return
		}
		if percent > 100 {
			percent = 100
		}
		lastProgress = percent
		if err := r.store.UpdateProgress(ctx, fileID, percent); err != nil {
			r.persistWarn(fileID, err)
		}
		r.broadcast(fileID, files.StatusProcessing, percent)
	})

	if parseErr != nil {
		r.logger.Printf("parse failed fileID=%s: %v", fileID, parseErr)
		r.markTerminal(fileID, func() error {
			return r.store.MarkFailed(ctx, fileID)
		})
		r.broadcast(fileID, files.StatusFailed, lastProgress)
		return nil
	}

	r.markTerminal(fileID, func() error {
		return r.store.MarkReady(ctx, fileID, parsed)
	})
	r.broadcast(fileID, files.StatusReady, 100)
	return nil
}

// markTerminal は終端状態の保存を行います。一時的な失敗は一度だけ再試行し、
// それでも失敗した場合はメモリ上の状態を正として配信だけは継続します。
// 実行中に削除されたレコード（ErrNotFound）は再試行しません。
func (r *Runner) markTerminal(fileID string, persist func() error) {
	err := persist()
	if err == nil {
		return
	}
	if !errors.Is(err, files.ErrNotFound) {
		time.Sleep(100 * time.Millisecond)
		if err = persist(); err == nil {
			return
		}
	}
	r.persistWarn(fileID, err)
}

func (r *Runner) broadcast(fileID string, status files.Status, percent int) {
	r.hub.Broadcast(progress.Event{
		FileID:   fileID,
		Status:   string(status),
		Progress: percent,
	})
}

func (r *Runner) persistWarn(fileID string, err error) {
	r.logger.Printf("failed to persist record, continuing with in-memory state fileID=%s: %v", fileID, err)
}
