package crawl

import (
	"context"
	"log/slog"

	"github.com/hitoshi/tagcrawler/internal/queue"
)

// Receiver はキューからのメッセージ受信と確認応答のインターフェース。
type Receiver interface {
	Receive(ctx context.Context, queue string) (*queue.Message, error)
	Ack(ctx context.Context, msg *queue.Message) error
}

// Poller は優先キュー、通常キューの順にメッセージを1件取り出す。
type Poller struct {
	recv     Receiver
	priority string
	normal   string
	logger   *slog.Logger
}

// NewPoller はPollerを生成する。priorityが空の場合は通常キューのみを参照する。
func NewPoller(recv Receiver, priority, normal string, logger *slog.Logger) *Poller {
	return &Poller{
		recv:     recv,
		priority: priority,
		normal:   normal,
		logger:   logger,
	}
}

// Queues はポーリング対象のキュー名を優先順に返す。
func (p *Poller) Queues() []string {
	var qs []string
	if p.priority != "" {
		qs = append(qs, p.priority)
	}
	if p.normal != "" {
		qs = append(qs, p.normal)
	}
	return qs
}

// Next は次のメッセージを返す。両方のキューが空の場合は(nil, nil)を返す。
// 受信エラーはログに記録して次のキューへ進む。
func (p *Poller) Next(ctx context.Context) (*queue.Message, error) {
	for _, q := range p.Queues() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := p.recv.Receive(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Error("キューからの受信に失敗しました",
				slog.String("queue", q),
				slog.String("error", err.Error()),
			)
			continue
		}
		if msg != nil {
			return msg, nil
		}
	}
	return nil, nil
}

// Ack はメッセージの処理完了をキューに通知する。
func (p *Poller) Ack(ctx context.Context, msg *queue.Message) error {
	return p.recv.Ack(ctx, msg)
}
