// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーから利用する。
type MetricsCollector interface {
	RecordMessage(worker, queue string)
	RecordEmptyPoll(worker string)
	RecordSearchStatus(statusCode int)
	RecordDecision(op, decision string)
	RecordDownload(result string)
	RecordMerge()
	RecordCycleLatency(worker string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	messages     *prometheus.CounterVec
	emptyPolls   *prometheus.CounterVec
	searchStatus *prometheus.CounterVec
	decisions    *prometheus.CounterVec
	downloads    *prometheus.CounterVec
	merges       prometheus.Counter
	cycleLatency *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagcrawler_messages_total",
			Help: "受信した作業メッセージの合計数",
		}, []string{"worker", "queue"}),
		emptyPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagcrawler_empty_polls_total",
			Help: "両キューが空だったポーリングの合計数",
		}, []string{"worker"}),
		searchStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagcrawler_search_status_total",
			Help: "検索APIのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagcrawler_retry_decisions_total",
			Help: "エラー分類の判定結果別の合計数",
		}, []string{"op", "decision"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagcrawler_downloads_total",
			Help: "投稿ごとのダウンロード処理結果の合計数",
		}, []string{"result"}),
		merges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tagcrawler_tag_merges_total",
			Help: "ロケール別名タグのマージ合計数",
		}),
		cycleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tagcrawler_tag_cycle_seconds",
			Help:    "タグ1件の処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"worker"}),
	}

	reg.MustRegister(
		c.messages,
		c.emptyPolls,
		c.searchStatus,
		c.decisions,
		c.downloads,
		c.merges,
		c.cycleLatency,
	)

	return c
}

// RecordMessage はメッセージの受信を記録する。
func (c *Collector) RecordMessage(worker, queue string) {
	c.messages.WithLabelValues(worker, queue).Inc()
}

// RecordEmptyPoll は空振りのポーリングを記録する。
func (c *Collector) RecordEmptyPoll(worker string) {
	c.emptyPolls.WithLabelValues(worker).Inc()
}

// RecordSearchStatus は検索APIのHTTPステータスコードを記録する。
func (c *Collector) RecordSearchStatus(statusCode int) {
	c.searchStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordDecision はエラー分類の判定結果を記録する。
func (c *Collector) RecordDecision(op, decision string) {
	c.decisions.WithLabelValues(op, decision).Inc()
}

// RecordDownload はダウンロード処理の結果（downloaded, skipped, not_found, failed）を記録する。
func (c *Collector) RecordDownload(result string) {
	c.downloads.WithLabelValues(result).Inc()
}

// RecordMerge はタグのマージを記録する。
func (c *Collector) RecordMerge() {
	c.merges.Inc()
}

// RecordCycleLatency はタグ1件の処理時間を記録する。
func (c *Collector) RecordCycleLatency(worker string, duration time.Duration) {
	c.cycleLatency.WithLabelValues(worker).Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordMessage(string, string)             {}
func (Nop) RecordEmptyPoll(string)                   {}
func (Nop) RecordSearchStatus(int)                   {}
func (Nop) RecordDecision(string, string)            {}
func (Nop) RecordDownload(string)                    {}
func (Nop) RecordMerge()                             {}
func (Nop) RecordCycleLatency(string, time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
