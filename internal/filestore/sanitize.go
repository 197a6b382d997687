package filestore

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxSegmentBytes は多くのファイルシステムにおけるファイル名長の上限。
const maxSegmentBytes = 255

// reservedNames はWindowsで予約されているファイル名。
var reservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {}, "COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {}, "LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// SanitizeSegment はタグ名をパスの1要素として安全な文字列に変換する。
// パス区切りや制御文字を取り除き、"."や".."、予約名は空文字列にする。
func SanitizeSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '/' || r == '\\' || r == '?' || r == '<' || r == '>' ||
			r == ':' || r == '*' || r == '|' || r == '"':
			continue
		case unicode.IsControl(r) || r == utf8.RuneError:
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimRight(b.String(), ". ")

	if out == "" || out == "." || out == ".." {
		return ""
	}
	base := strings.ToUpper(out)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if _, ok := reservedNames[base]; ok {
		return ""
	}

	for len(out) > maxSegmentBytes {
		_, size := utf8.DecodeLastRuneInString(out)
		out = out[:len(out)-size]
	}
	return out
}

// TagDir はroot配下のタグ用ディレクトリパスを返す。
// タグがパス要素として使えない場合はfalseを返す。
func TagDir(root, tag string) (string, bool) {
	seg := SanitizeSegment(tag)
	if seg == "" {
		return "", false
	}
	return filepath.Join(root, seg), true
}
