// Package tag はフロントエンドAPIから利用するタグ管理のドメインロジックを提供する。
// タグの所属テーブルの照会、アイテム追加、キュー補充ジョブの起動を含む。
package tag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/tagcrawler/internal/config"
	"github.com/hitoshi/tagcrawler/internal/filestore"
	"github.com/hitoshi/tagcrawler/internal/model"
	"github.com/hitoshi/tagcrawler/internal/repository"
)

// LocationNone はタグがどのテーブルにも存在しないことを表す。
const LocationNone = "None"

// Sender はキューへメッセージを送信する。
type Sender interface {
	Send(ctx context.Context, queue string, body model.WorkMessage, delay time.Duration) error
}

// DirRemover はディレクトリをベストエフォートで削除する。
type DirRemover interface {
	RemoveDir(dir string)
}

// Refiller はテーブルの全タグをキューへ投入する。
type Refiller interface {
	Run(ctx context.Context, table, queue string) (int, error)
}

// Service はタグ管理のサービス層。
// ダウンロードテーブルとお気に入りテーブルの相互排他を追加時に保証する。
type Service struct {
	repo     repository.TagRepository
	sender   Sender
	dirs     DirRemover
	refiller Refiller
	cfg      *config.Config
	logger   *slog.Logger

	jobCtx context.Context
	jobs   sync.WaitGroup
}

// NewService はServiceを生成する。
// jobCtxはバックグラウンドのキュー補充ジョブに渡すコンテキスト。
func NewService(
	jobCtx context.Context,
	repo repository.TagRepository,
	sender Sender,
	dirs DirRemover,
	refiller Refiller,
	cfg *config.Config,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		sender:   sender,
		dirs:     dirs,
		refiller: refiller,
		cfg:      cfg,
		logger:   logger,
		jobCtx:   jobCtx,
	}
}

// pairTables はダウンロードテーブルとお気に入りテーブルを返す。
func (s *Service) pairTables() (string, string) {
	return s.cfg.Reconcile.Table, s.cfg.Categories[model.CategoryFavorite].Table
}

// Location はタグが所属するテーブル名を返す。
// レコード数が多い方のテーブルを返す。同数の場合（どちらにも存在しない場合を含む）は
// LocationNoneを返す。
func (s *Service) Location(ctx context.Context, tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", model.NewEmptyTagError()
	}

	dlTable, favTable := s.pairTables()
	dl, err := s.repo.Query(ctx, dlTable, tag)
	if err != nil {
		return "", fmt.Errorf("タグの照会に失敗しました: %w", err)
	}
	fav, err := s.repo.Query(ctx, favTable, tag)
	if err != nil {
		return "", fmt.Errorf("タグの照会に失敗しました: %w", err)
	}

	switch {
	case len(dl) > len(fav):
		return dlTable, nil
	case len(fav) > len(dl):
		return favTable, nil
	default:
		return LocationNone, nil
	}
}

// AddItem はtableにタグを登録し、反対側のテーブルとディレクトリから取り除いて優先キューへ投入する。
// 反対側の削除とディレクトリ削除はベストエフォートで行う。
func (s *Service) AddItem(ctx context.Context, table, tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return model.NewEmptyTagError()
	}
	target, ok := s.cfg.ByTable(table)
	if !ok {
		return model.NewInvalidTableError(table)
	}
	opposite, ok := s.cfg.OppositeOf(table)
	if !ok {
		return model.NewInvalidTableError(table)
	}

	if err := s.repo.Upsert(ctx, target.Table, tag); err != nil {
		return fmt.Errorf("タグの登録に失敗しました: %w", err)
	}

	logger := s.logger.With(slog.String("tag", tag), slog.String("table", target.Table))

	if err := s.repo.Delete(ctx, opposite.Table, tag); err != nil {
		logger.Error("反対側テーブルからの削除に失敗しました",
			slog.String("opposite", opposite.Table),
			slog.String("error", err.Error()),
		)
	}

	if err := s.sender.Send(ctx, target.PriorityQueue, model.NewWorkMessage(tag), 0); err != nil {
		return fmt.Errorf("キューへの投入に失敗しました: %w", err)
	}

	for _, root := range []string{opposite.Dirs.Content, opposite.Dirs.History} {
		if dir, ok := filestore.TagDir(root, tag); ok {
			s.dirs.RemoveDir(dir)
		}
	}

	logger.Info("タグを追加しました", slog.String("queue", target.PriorityQueue))
	return nil
}

// StartRefill はtableの全タグを通常キューへ投入するジョブをバックグラウンドで開始する。
func (s *Service) StartRefill(table string) error {
	target, ok := s.cfg.ByTable(table)
	if !ok {
		return model.NewInvalidTableError(table)
	}

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		if _, err := s.refiller.Run(s.jobCtx, target.Table, target.Queue); err != nil {
			s.logger.Error("キュー補充ジョブに失敗しました",
				slog.String("table", target.Table),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

// Wait は実行中のバックグラウンドジョブの終了を待つ。
func (s *Service) Wait() {
	s.jobs.Wait()
}
