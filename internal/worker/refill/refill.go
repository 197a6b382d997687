// Package refill はカテゴリテーブルの全タグを通常キューへ再投入するジョブを提供する。
// 投入済みのタグが重複してもワーカー側で冪等に処理される。
package refill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/tagcrawler/internal/model"
)

// TagLister はテーブル内の全タグを列挙する。
type TagLister interface {
	ListTags(ctx context.Context, table string) ([]string, error)
}

// Sender はキューへメッセージを送信する。
type Sender interface {
	Send(ctx context.Context, queue string, body model.WorkMessage, delay time.Duration) error
}

// Job はキュー補充ジョブ。
type Job struct {
	lister TagLister
	sender Sender
	logger *slog.Logger
}

// NewJob は新しいJobを生成する。
func NewJob(lister TagLister, sender Sender, logger *slog.Logger) *Job {
	return &Job{
		lister: lister,
		sender: sender,
		logger: logger,
	}
}

// Run はtableの全タグをqueueへ遅延なしで送信し、送信件数を返す。
// 個別の送信失敗はログに記録して続行する。
func (j *Job) Run(ctx context.Context, table, queue string) (int, error) {
	start := time.Now()

	tags, err := j.lister.ListTags(ctx, table)
	if err != nil {
		j.logger.Error("キュー補充ジョブのタグ取得に失敗しました",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("タグ一覧の取得に失敗: %w", err)
	}

	sent := 0
	for _, tag := range tags {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if err := j.sender.Send(ctx, queue, model.NewWorkMessage(tag), 0); err != nil {
			j.logger.Error("タグのキュー投入に失敗しました",
				slog.String("tag", tag),
				slog.String("queue", queue),
				slog.String("error", err.Error()),
			)
			continue
		}
		sent++
	}

	duration := time.Since(start)
	j.logger.Info("キュー補充ジョブが完了しました",
		slog.String("table", table),
		slog.String("queue", queue),
		slog.Int("tag_count", len(tags)),
		slog.Int("sent_count", sent),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return sent, nil
}
