package crawl

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/tagcrawler/internal/metrics"
	"github.com/hitoshi/tagcrawler/internal/queue"
)

// Worker はキューのポーリングとタグごとの検索サイクルを繰り返す。
// 1つのWorkerは複数のポーリングループを並行して実行できる。
type Worker struct {
	name         string
	poller       *Poller
	cycle        *PagedSearchCycle
	strategy     Strategy
	pollInterval time.Duration
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	wait         func(ctx context.Context, d time.Duration) error
}

// NewWorker はWorkerを生成する。pollIntervalは両キューが空のときの待機時間。
func NewWorker(
	name string,
	poller *Poller,
	cycle *PagedSearchCycle,
	strategy Strategy,
	pollInterval time.Duration,
	m metrics.MetricsCollector,
	logger *slog.Logger,
) *Worker {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Worker{
		name:         name,
		poller:       poller,
		cycle:        cycle,
		strategy:     strategy,
		pollInterval: pollInterval,
		metrics:      m,
		logger:       logger.With(slog.String("worker", name)),
		wait:         sleepContext,
	}
}

// Start はconcurrency個のポーリングループを起動し、すべて終了するまで待機する。
// concurrencyが0以下の場合は1を使用する。
func (w *Worker) Start(ctx context.Context, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}

	w.logger.Info("ワーカーを開始しました",
		slog.Int("concurrency", concurrency),
		slog.Duration("poll_interval", w.pollInterval),
	)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()

	w.logger.Info("ワーカーを停止しました")
}

// Run はコンテキストがキャンセルされるまでポーリングを繰り返す。
// 両キューが空の場合はpollIntervalだけ待機する。
func (w *Worker) Run(ctx context.Context) {
	for {
		processed, err := w.RunOnce(ctx)
		if err != nil || ctx.Err() != nil {
			return
		}
		if processed {
			continue
		}
		w.metrics.RecordEmptyPoll(w.name)
		if err := w.wait(ctx, w.pollInterval); err != nil {
			return
		}
	}
}

// RunOnce はメッセージを1件取り出して処理する。
// メッセージを処理した場合はtrueを返す。コンテキストがキャンセルされた場合はエラーを返す。
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	msg, err := w.poller.Next(ctx)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}

	w.metrics.RecordMessage(w.name, msg.Queue)
	w.process(ctx, msg)
	return true, ctx.Err()
}

// process はメッセージのタグについて検索サイクルを実行し、完了後に確認応答する。
// キャンセルで中断した場合は確認応答せず、処理中リストに残す。
func (w *Worker) process(ctx context.Context, msg *queue.Message) {
	start := time.Now()
	tag := msg.Body.Tag
	logger := w.logger.With(
		slog.String("tag", tag),
		slog.String("queue", msg.Queue),
	)

	outcome := OutcomeCompleted
	if strings.TrimSpace(tag) == "" {
		logger.Warn("タグが空のメッセージを破棄します", slog.String("message_id", msg.ID))
	} else if h, ok := w.strategy.Begin(ctx, tag); ok {
		outcome = w.cycle.Run(ctx, tag, h)
	}

	if outcome == OutcomeCancelled || ctx.Err() != nil {
		logger.Info("処理を中断しました。メッセージは再配信されます")
		return
	}

	if err := w.poller.Ack(ctx, msg); err != nil {
		logger.Error("メッセージの確認応答に失敗しました", slog.String("error", err.Error()))
	}

	duration := time.Since(start)
	w.metrics.RecordCycleLatency(w.name, duration)
	logger.Info("タグの処理が完了しました",
		slog.String("outcome", outcome.String()),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
}
