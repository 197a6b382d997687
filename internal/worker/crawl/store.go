package crawl

import (
	"context"

	"github.com/hitoshi/tagcrawler/internal/model"
)

// TagStore はカテゴリテーブルのタグレコード操作。
// repository.TagRepositoryのうちクロールで使う操作のみを持つ。
type TagStore interface {
	Query(ctx context.Context, table, tag string) ([]model.TagRecord, error)
	Upsert(ctx context.Context, table, tag string) error
	Delete(ctx context.Context, table, tag string) error
}

// Files はタグ別ディレクトリのファイル操作。filestore.Storeが実装する。
type Files interface {
	Exists(path string) bool
	FilenameSet(dirs ...string) (map[string]struct{}, error)
	EnsureDir(dir string) error
	MoveDir(src, dst string) error
}
