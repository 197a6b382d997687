// Package model はドメインモデルを定義する。
package model

import "time"

// WorkMessage はキューで受け渡されるタグ単位の作業メッセージ。
// キューは少なくとも1回の配送を保証するため、同じメッセージが重複して届くことがある。
type WorkMessage struct {
	Tag  string `json:"tag"`
	Last string `json:"last"`
}

// NewWorkMessage は鮮度マーカー"0"のメッセージを生成する。
func NewWorkMessage(tag string) WorkMessage {
	return WorkMessage{Tag: tag, Last: "0"}
}

// TagRecord はカテゴリテーブル上のタグレコード。
// Lastは作成時・マージ時に0へリセットされる鮮度マーカー。
type TagRecord struct {
	Table     string
	Tag       string
	Last      int64
	UpdatedAt time.Time
}

// Category はダウンロードワーカーのカテゴリを表す。
type Category string

const (
	// CategoryFavorite はお気に入りタグのカテゴリ。
	CategoryFavorite Category = "favorite"
	// CategoryArtist はアーティストタグのカテゴリ。
	CategoryArtist Category = "artist"
	// CategoryStudio はスタジオタグのカテゴリ。
	CategoryStudio Category = "studio"
)

// Categories はダウンロードワーカーが扱う全カテゴリ。
var Categories = []Category{CategoryFavorite, CategoryArtist, CategoryStudio}

// ParseCategory は文字列をCategoryに変換する。未知の値の場合はfalseを返す。
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}
