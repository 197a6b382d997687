package searchapi

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError は検索APIが2xx以外のHTTPステータスを返したことを表す。
// レスポンスを受け取れなかった通信エラーはStatusErrorにならない。
type StatusError struct {
	Op         string // "token", "search", "download"
	StatusCode int
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTPステータス %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
}

// StatusCode はerrに含まれるHTTPステータスを返す。
// StatusErrorを含まない場合（通信エラーなど）はfalseを返す。
func StatusCode(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode, true
	}
	return 0, false
}
