package searchapi

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// ErrNoExtension はファイルURLから拡張子を取得できないことを表す。
var ErrNoExtension = errors.New("ファイルURLに拡張子がありません")

// ErrInvalidPostID は投稿IDをファイル名に使用できないことを表す。
var ErrInvalidPostID = errors.New("投稿IDをファイル名に使用できません")

// FileName は投稿IDとファイルURLの拡張子から保存ファイル名 "<post_id>.<ext>" を組み立てる。
// 拡張子の大文字小文字はURLのまま保持し、クエリ文字列とフラグメントは無視する。
// 組み立てた名前が単一のパス要素にならない場合はErrInvalidPostIDを返す。
func FileName(postID, fileURL string) (string, error) {
	if postID == "" || strings.ContainsAny(postID, `/\`) || postID == "." || postID == ".." {
		return "", ErrInvalidPostID
	}
	u, err := url.Parse(fileURL)
	if err != nil {
		return "", fmt.Errorf("ファイルURLの解析に失敗しました: %w", err)
	}
	ext := path.Ext(u.Path)
	if len(ext) < 2 || strings.ContainsAny(ext, `/\`) {
		return "", ErrNoExtension
	}
	name := postID + ext
	if filepath.Base(name) != name {
		return "", ErrInvalidPostID
	}
	return name, nil
}
