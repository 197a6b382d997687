package crawl

import (
	"context"
	"log/slog"

	"github.com/hitoshi/tagcrawler/internal/filestore"
	"github.com/hitoshi/tagcrawler/internal/metrics"
	"github.com/hitoshi/tagcrawler/internal/model"
)

// ReconcilerConfig はタグ統合の対象テーブルとディレクトリ。
type ReconcilerConfig struct {
	Table      string
	ContentDir string
	HistoryDir string
}

// Reconciler は日本語タグと英語タグの重複を検出し、英語タグへ統合する。
type Reconciler struct {
	store   TagStore
	files   Files
	cfg     ReconcilerConfig
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewReconciler はReconcilerを生成する。
func NewReconciler(store TagStore, files Files, cfg ReconcilerConfig, m metrics.MetricsCollector, logger *slog.Logger) *Reconciler {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Reconciler{
		store:   store,
		files:   files,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// Begin はタグ1件分の統合処理を開始する。
func (r *Reconciler) Begin(_ context.Context, tag string) (TagHandler, bool) {
	return &reconcileUnit{r: r, tag: tag, merged: make(map[string]struct{})}, true
}

type reconcileUnit struct {
	r      *Reconciler
	tag    string
	merged map[string]struct{}
}

// HandlePage はページ内の各アイテムのロケールタグを調べ、別名を統合する。
func (u *reconcileUnit) HandlePage(ctx context.Context, page int, items []model.SearchResultItem) error {
	for _, item := range items {
		for _, lt := range item.Tags {
			alias, ok := aliasOf(u.tag, lt)
			if !ok {
				continue
			}
			if _, done := u.merged[alias]; done {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			u.r.merge(ctx, u.tag, alias)
			u.merged[alias] = struct{}{}
		}
	}
	return nil
}

// HandleExhausted は結果0件をログに記録する。レコードは削除しない。
func (u *reconcileUnit) HandleExhausted(_ context.Context, page int) {
	if page == 1 {
		u.r.logger.Info("検索結果がありません",
			slog.String("tag", u.tag),
			slog.Int("page", page),
		)
	}
}

// aliasOf は日本語名がtagに一致し、英語名がtagと異なる場合に英語名を返す。
func aliasOf(tag string, lt model.LocaleTag) (string, bool) {
	if lt.NameJA == nil || *lt.NameJA != tag {
		return "", false
	}
	if lt.NameEN == nil || *lt.NameEN == "" || *lt.NameEN == tag {
		return "", false
	}
	return *lt.NameEN, true
}

// merge はjaのレコードとディレクトリをenへ統合する。
// enをディレクトリ名に使用できない場合は何も変更しない。
// ストアの失敗はログに記録して次のステップへ進むが、ディレクトリの移動に失敗した場合は
// jaのレコードを残し、次回の統合で移動を再試行できるようにする。
// 途中でキャンセルされてもステップを最後まで適用する。
func (r *Reconciler) merge(ctx context.Context, ja, en string) {
	ctx = context.WithoutCancel(ctx)
	logger := r.logger.With(slog.String("tag", ja), slog.String("alias", en))

	if filestore.SanitizeSegment(en) == "" {
		logger.Error("統合先タグをディレクトリ名に使用できないため統合しません")
		return
	}

	if err := r.store.Upsert(ctx, r.cfg.Table, en); err != nil {
		logger.Error("統合先タグのレコード更新に失敗しました", slog.String("error", err.Error()))
	}

	moved := true
	for _, root := range []string{r.cfg.ContentDir, r.cfg.HistoryDir} {
		if !r.moveTagDir(logger, root, ja, en) {
			moved = false
		}
	}
	if !moved {
		logger.Error("ディレクトリを移動できなかったため統合元のレコードを残します",
			slog.String("table", r.cfg.Table),
		)
		return
	}

	if err := r.store.Delete(ctx, r.cfg.Table, ja); err != nil {
		logger.Error("統合元タグのレコード削除に失敗しました", slog.String("error", err.Error()))
	}

	r.metrics.RecordMerge()
	logger.Info("タグを統合しました", slog.String("table", r.cfg.Table))
}

// moveTagDir はroot配下のjaディレクトリをenへ移動する。
// 移動元がない場合は何もせずtrueを返し、移動できなかった場合はfalseを返す。
func (r *Reconciler) moveTagDir(logger *slog.Logger, root, ja, en string) bool {
	if root == "" {
		return true
	}
	src, ok := filestore.TagDir(root, ja)
	if !ok || !r.files.Exists(src) {
		return true
	}
	dst, ok := filestore.TagDir(root, en)
	if !ok {
		logger.Error("統合先タグをディレクトリ名に使用できません", slog.String("root", root))
		return false
	}
	if err := r.files.MoveDir(src, dst); err != nil {
		logger.Error("ディレクトリの移動に失敗しました",
			slog.String("src", src),
			slog.String("dst", dst),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}
