// Package crawl はキュー駆動のタグクロールエンジンを提供する。
// キューのポーリング、ページ単位の検索、リトライ判定、
// およびタグ統合（Reconciler）とコンテンツダウンロード（Downloader）の戦略を含む。
package crawl

import (
	"github.com/hitoshi/tagcrawler/internal/searchapi"
)

// Op はリトライ判定の対象となる操作の種類。
type Op int

const (
	// OpSearch は検索APIの呼び出し。
	OpSearch Op = iota
	// OpDownload はファイルのダウンロード。
	OpDownload
)

// String はメトリクスとログ用の操作名を返す。
func (o Op) String() string {
	switch o {
	case OpSearch:
		return "search"
	case OpDownload:
		return "download"
	default:
		return "unknown"
	}
}

// Decision はエラーに対する処理方針。
type Decision int

const (
	// DecisionContinue は遅延なしで同じページを再試行する。
	DecisionContinue Decision = iota
	// DecisionRefreshAndRetry はトークンを更新して同じページを再試行する。
	DecisionRefreshAndRetry
	// DecisionAbortUnit は今回のサイクルでこのタグの処理を打ち切る。
	DecisionAbortUnit
	// DecisionWaitAndRetry はリクエスト間隔だけ待って同じページを再試行する。
	DecisionWaitAndRetry
	// DecisionSkipItem はこのアイテムだけをスキップして次へ進む。
	DecisionSkipItem
)

// String はメトリクスとログ用の判定名を返す。
func (d Decision) String() string {
	switch d {
	case DecisionContinue:
		return "continue"
	case DecisionRefreshAndRetry:
		return "refresh_and_retry"
	case DecisionAbortUnit:
		return "abort_unit"
	case DecisionWaitAndRetry:
		return "wait_and_retry"
	case DecisionSkipItem:
		return "skip_item"
	default:
		return "unknown"
	}
}

// ClassifyStatus はHTTPステータスコードを処理方針に分類する。
// 検索とダウンロードで表が異なる。
func ClassifyStatus(op Op, statusCode int) Decision {
	if op == OpDownload {
		if statusCode == 404 {
			return DecisionSkipItem
		}
		return DecisionAbortUnit
	}

	switch {
	case statusCode == 401:
		return DecisionRefreshAndRetry
	case statusCode == 400 || statusCode == 408:
		return DecisionAbortUnit
	case statusCode == 504:
		return DecisionAbortUnit
	case statusCode == 502:
		return DecisionWaitAndRetry
	default:
		return DecisionContinue
	}
}

// Classify はエラーを処理方針に分類する。
// HTTPステータスを持たないエラー（通信エラー）は検索・ダウンロードともにAbortUnitになる。
func Classify(op Op, err error) Decision {
	statusCode, ok := searchapi.StatusCode(err)
	if !ok {
		return DecisionAbortUnit
	}
	return ClassifyStatus(op, statusCode)
}
