package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/tagcrawler/internal/model"
)

// PostgresTagRepo はPostgreSQLを使用したタグリポジトリ。
// 全カテゴリテーブルを1つのtag_recordsテーブルにtable_name列で格納する。
type PostgresTagRepo struct {
	db *sql.DB
}

// NewPostgresTagRepo はPostgresTagRepoを生成する。
func NewPostgresTagRepo(db *sql.DB) *PostgresTagRepo {
	return &PostgresTagRepo{db: db}
}

// Query は指定テーブルでタグに一致するレコードを返す。
func (r *PostgresTagRepo) Query(ctx context.Context, table, tag string) ([]model.TagRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT table_name, tag, last, updated_at
		 FROM tag_records WHERE table_name = $1 AND tag = $2`,
		table, tag,
	)
	if err != nil {
		return nil, fmt.Errorf("タグレコードの検索に失敗しました: %w", err)
	}
	defer rows.Close()

	records := []model.TagRecord{}
	for rows.Next() {
		var rec model.TagRecord
		if err := rows.Scan(&rec.Table, &rec.Tag, &rec.Last, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("タグレコードの読み取りに失敗しました: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("タグレコードの走査に失敗しました: %w", err)
	}
	return records, nil
}

// Upsert はレコードを作成または更新し、lastを0にリセットする。
func (r *PostgresTagRepo) Upsert(ctx context.Context, table, tag string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tag_records (table_name, tag, last, updated_at)
		 VALUES ($1, $2, 0, now())
		 ON CONFLICT (table_name, tag) DO UPDATE
		 SET last = 0, updated_at = now()`,
		table, tag,
	)
	if err != nil {
		return fmt.Errorf("タグレコードの更新に失敗しました: %w", err)
	}
	return nil
}

// Delete はレコードを削除する。
func (r *PostgresTagRepo) Delete(ctx context.Context, table, tag string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM tag_records WHERE table_name = $1 AND tag = $2`,
		table, tag,
	)
	if err != nil {
		return fmt.Errorf("タグレコードの削除に失敗しました: %w", err)
	}
	return nil
}

// ListTags は指定テーブルの全タグを更新日時の古い順に返す。
func (r *PostgresTagRepo) ListTags(ctx context.Context, table string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tag FROM tag_records WHERE table_name = $1 ORDER BY updated_at ASC, tag ASC`,
		table,
	)
	if err != nil {
		return nil, fmt.Errorf("タグ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("タグの読み取りに失敗しました: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("タグ一覧の走査に失敗しました: %w", err)
	}
	return tags, nil
}
