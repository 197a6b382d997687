// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/tagcrawler/internal/model"
)

// TagRepository はカテゴリテーブル上のタグレコードの永続化インターフェース。
// テーブルはキー・バリューストアのテーブル名で、タグがパーティションキーとなる。
type TagRepository interface {
	// Query は指定テーブルでタグに一致するレコードを返す。見つからない場合は空スライスを返す。
	Query(ctx context.Context, table, tag string) ([]model.TagRecord, error)

	// Upsert はレコードを作成または更新し、鮮度マーカーlastを0にリセットする。
	Upsert(ctx context.Context, table, tag string) error

	// Delete はレコードを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, table, tag string) error

	// ListTags は指定テーブルの全タグを返す。
	ListTags(ctx context.Context, table string) ([]string, error)
}
