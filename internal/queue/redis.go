// Package queue はRedisリストを使った作業メッセージキューを提供する。
//
// キー構成（キュー名をqとする）:
//
//	q             配送待ちメッセージのリスト
//	q:processing  受信済みで未確認（Ack前）のメッセージ
//	q:delayed     遅延送信メッセージのsorted set（scoreは配送可能時刻のUNIX秒）
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/tagcrawler/internal/model"
)

// Message は受信したメッセージ。処理後にAckで削除する。
type Message struct {
	ID    string
	Queue string
	Body  model.WorkMessage
	raw   string
}

// envelope はRedisに格納するメッセージの形式。
// 同じ本文のメッセージを個別にAckできるようIDを持たせる。
type envelope struct {
	ID   string            `json:"id"`
	Body model.WorkMessage `json:"body"`
}

// RedisQueue はRedisを使ったキュー実装。
type RedisQueue struct {
	client redis.Cmdable
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisQueue はRedisQueueを生成する。
func NewRedisQueue(client redis.Cmdable, logger *slog.Logger) *RedisQueue {
	return &RedisQueue{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

func processingKey(queue string) string { return queue + ":processing" }
func delayedKey(queue string) string    { return queue + ":delayed" }

// Receive はキューから1件をノンブロッキングで受信する。
// メッセージがない場合は(nil, nil)を返す。
// 受信したメッセージは処理中リストに移され、Ackされるまで残る。
func (q *RedisQueue) Receive(ctx context.Context, queue string) (*Message, error) {
	if err := q.promoteDelayed(ctx, queue); err != nil {
		q.logger.Warn("遅延メッセージの移動に失敗しました",
			slog.String("queue", queue),
			slog.String("error", err.Error()),
		)
	}

	raw, err := q.client.LMove(ctx, queue, processingKey(queue), "LEFT", "RIGHT").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("メッセージの受信に失敗しました: %s: %w", queue, err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || env.Body.Tag == "" {
		// 解釈できないメッセージは再配送しても処理できないため破棄する
		q.client.LRem(ctx, processingKey(queue), 1, raw)
		return nil, fmt.Errorf("不正なメッセージを破棄しました: %s: %q", queue, raw)
	}

	return &Message{ID: env.ID, Queue: queue, Body: env.Body, raw: raw}, nil
}

// Ack は処理済みのメッセージを処理中リストから削除する。
func (q *RedisQueue) Ack(ctx context.Context, msg *Message) error {
	if err := q.client.LRem(ctx, processingKey(msg.Queue), 1, msg.raw).Err(); err != nil {
		return fmt.Errorf("メッセージの削除に失敗しました: %s: %w", msg.Queue, err)
	}
	return nil
}

// Send はメッセージを送信する。delayが正の場合は遅延キューに登録する。
func (q *RedisQueue) Send(ctx context.Context, queue string, body model.WorkMessage, delay time.Duration) error {
	data, err := json.Marshal(envelope{ID: uuid.NewString(), Body: body})
	if err != nil {
		return fmt.Errorf("メッセージのエンコードに失敗しました: %w", err)
	}

	if delay > 0 {
		err = q.client.ZAdd(ctx, delayedKey(queue), redis.Z{
			Score:  float64(q.now().Add(delay).Unix()),
			Member: string(data),
		}).Err()
	} else {
		err = q.client.RPush(ctx, queue, string(data)).Err()
	}
	if err != nil {
		return fmt.Errorf("メッセージの送信に失敗しました: %s: %w", queue, err)
	}
	return nil
}

// RecoverInflight は処理中リストに残ったメッセージをキューの先頭に戻す。
// 前回のプロセスが処理途中で停止した場合の再配送に使う。戻した件数を返す。
func (q *RedisQueue) RecoverInflight(ctx context.Context, queue string) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, processingKey(queue), queue, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("処理中メッセージの復旧に失敗しました: %s: %w", queue, err)
		}
		n++
	}
}

// Len は配送待ちメッセージ数を返す。
func (q *RedisQueue) Len(ctx context.Context, queue string) (int64, error) {
	return q.client.LLen(ctx, queue).Result()
}

// promoteDelayed は配送可能時刻を過ぎた遅延メッセージをキューの末尾に移す。
// ZRemに成功したインスタンスだけがRPushするため、複数ワーカーでも二重投入しない。
func (q *RedisQueue) promoteDelayed(ctx context.Context, queue string) error {
	due, err := q.client.ZRangeByScore(ctx, delayedKey(queue), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().Unix(), 10),
	}).Result()
	if err != nil {
		return err
	}

	for _, member := range due {
		removed, err := q.client.ZRem(ctx, delayedKey(queue), member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.RPush(ctx, queue, member).Err(); err != nil {
			return err
		}
	}
	return nil
}
