package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/hitoshi/tagcrawler/internal/filestore"
	"github.com/hitoshi/tagcrawler/internal/metrics"
	"github.com/hitoshi/tagcrawler/internal/model"
	"github.com/hitoshi/tagcrawler/internal/searchapi"
)

// FileDownloader はファイルのダウンロードを行う。
type FileDownloader interface {
	Download(ctx context.Context, destPath, fileURL, refererURL, token string) error
}

// URLValidator はダウンロード前にファイルURLを検証する。
type URLValidator interface {
	ValidateFileURL(rawURL string) error
}

// DownloaderConfig はダウンロードカテゴリの設定。
type DownloaderConfig struct {
	Category      model.Category
	Table         string
	ContentDir    string
	OKDir         string
	NGDir         string
	RefererURL    string
	IgnorePostIDs []string
}

// Downloader は検索結果のうち未取得のファイルをダウンロードする。
// 保留・承認・却下の3ディレクトリに同名ファイルがあればダウンロードしない。
type Downloader struct {
	store     TagStore
	files     Files
	client    FileDownloader
	tokens    TokenSource
	validator URLValidator
	cfg       DownloaderConfig
	ignore    map[string]struct{}
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewDownloader はDownloaderを生成する。validatorがnilの場合はURL検証を行わない。
func NewDownloader(
	store TagStore,
	files Files,
	client FileDownloader,
	tokens TokenSource,
	validator URLValidator,
	cfg DownloaderConfig,
	m metrics.MetricsCollector,
	logger *slog.Logger,
) *Downloader {
	if m == nil {
		m = metrics.Nop{}
	}
	ignore := make(map[string]struct{}, len(cfg.IgnorePostIDs))
	for _, id := range cfg.IgnorePostIDs {
		ignore[id] = struct{}{}
	}
	return &Downloader{
		store:     store,
		files:     files,
		client:    client,
		tokens:    tokens,
		validator: validator,
		cfg:       cfg,
		ignore:    ignore,
		metrics:   m,
		logger:    logger.With(slog.String("category", string(cfg.Category))),
	}
}

// Begin はレコードの存在を確認し、既存ファイル名の集合を作成する。
// レコードがない場合やディレクトリを読めない場合はfalseを返す。
func (d *Downloader) Begin(ctx context.Context, tag string) (TagHandler, bool) {
	records, err := d.store.Query(ctx, d.cfg.Table, tag)
	if err != nil {
		d.logger.Error("タグレコードの取得に失敗しました",
			slog.String("tag", tag),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	if len(records) == 0 {
		d.logger.Info("テーブルにタグが存在しないためスキップします",
			slog.String("tag", tag),
			slog.String("table", d.cfg.Table),
		)
		return nil, false
	}

	pending, ok1 := filestore.TagDir(d.cfg.ContentDir, tag)
	okDir, ok2 := filestore.TagDir(d.cfg.OKDir, tag)
	ngDir, ok3 := filestore.TagDir(d.cfg.NGDir, tag)
	if !ok1 || !ok2 || !ok3 {
		d.logger.Warn("タグをディレクトリ名に使用できません", slog.String("tag", tag))
		return nil, false
	}

	existing, err := d.files.FilenameSet(pending, okDir, ngDir)
	if err != nil {
		d.logger.Error("既存ファイルの一覧取得に失敗しました",
			slog.String("tag", tag),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	return &downloadUnit{d: d, tag: tag, pending: pending, existing: existing}, true
}

type downloadUnit struct {
	d        *Downloader
	tag      string
	pending  string
	existing map[string]struct{}
}

// HandlePage はページ内の未取得ファイルをダウンロードする。
// 404はそのアイテムのみスキップし、それ以外の失敗はエラーを返す。
func (u *downloadUnit) HandlePage(ctx context.Context, page int, items []model.SearchResultItem) error {
	d := u.d
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}

		postID := item.ID.String()
		logger := d.logger.With(slog.String("tag", u.tag), slog.String("post_id", postID))
		if postID == "" {
			continue
		}
		if _, ok := d.ignore[postID]; ok {
			d.metrics.RecordDownload("ignored")
			continue
		}

		name, err := searchapi.FileName(postID, item.FileURL)
		if err != nil {
			logger.Warn("ファイル名を決定できません",
				slog.String("file_url", item.FileURL),
				slog.String("error", err.Error()),
			)
			d.metrics.RecordDownload("invalid")
			continue
		}
		if _, ok := u.existing[name]; ok {
			d.metrics.RecordDownload("exists")
			continue
		}

		if d.validator != nil {
			if err := d.validator.ValidateFileURL(item.FileURL); err != nil {
				logger.Warn("ファイルURLが許可されていません",
					slog.String("file_url", item.FileURL),
					slog.String("error", err.Error()),
				)
				d.metrics.RecordDownload("rejected")
				continue
			}
		}

		if err := d.files.EnsureDir(u.pending); err != nil {
			return err
		}
		token, err := d.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("アクセストークンを取得できません: %w", err)
		}

		dest := filepath.Join(u.pending, name)
		err = d.client.Download(ctx, dest, item.FileURL, d.cfg.RefererURL+postID, token)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			decision := Classify(OpDownload, err)
			d.metrics.RecordDecision(OpDownload.String(), decision.String())
			if decision == DecisionSkipItem {
				logger.Info("ファイルが見つからないためスキップします", slog.String("file_url", item.FileURL))
				d.metrics.RecordDownload("not_found")
				continue
			}
			d.metrics.RecordDownload("failed")
			return fmt.Errorf("ダウンロードに失敗しました: post_id=%s: %w", postID, err)
		}

		u.existing[name] = struct{}{}
		d.metrics.RecordDownload("downloaded")
		logger.Info("ファイルをダウンロードしました", slog.String("path", dest))
	}
	return nil
}

// HandleExhausted は検索結果がなくなったタグのレコードを削除する。
func (u *downloadUnit) HandleExhausted(ctx context.Context, page int) {
	d := u.d
	if err := d.store.Delete(context.WithoutCancel(ctx), d.cfg.Table, u.tag); err != nil {
		d.logger.Error("タグレコードの削除に失敗しました",
			slog.String("tag", u.tag),
			slog.String("error", err.Error()),
		)
		return
	}
	d.logger.Info("検索結果がないためタグを削除しました",
		slog.String("tag", u.tag),
		slog.String("table", d.cfg.Table),
		slog.Int("page", page),
	)
}
