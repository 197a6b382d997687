package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// PostID は検索APIの投稿ID。
// APIは数値と文字列のどちらでIDを返すこともあるため、両方を受け付ける。
// いずれの場合も整数でなければならない。
type PostID string

// UnmarshalJSON は数値または文字列のIDを読み込む。
func (p *PostID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("投稿IDの読み込みに失敗しました: %w", err)
		}
		return p.set(s)
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("投稿IDの読み込みに失敗しました: %w", err)
	}
	return p.set(n.String())
}

func (p *PostID) set(s string) error {
	if _, err := strconv.ParseInt(s, 10, 64); err != nil {
		return fmt.Errorf("投稿IDが整数ではありません: %q", s)
	}
	*p = PostID(s)
	return nil
}

// String はIDの文字列表現を返す。
func (p PostID) String() string {
	return string(p)
}

// LocaleTag は投稿に付与されたタグのロケール別名称。
// 名称がnullの場合はnilになる。
type LocaleTag struct {
	NameJA *string `json:"name_ja"`
	NameEN *string `json:"name_en"`
}

// SearchResultItem は検索APIが返す投稿1件。
type SearchResultItem struct {
	ID      PostID      `json:"id"`
	FileURL string      `json:"file_url"`
	Tags    []LocaleTag `json:"tags"`
}
