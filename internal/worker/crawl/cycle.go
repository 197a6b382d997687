package crawl

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/hitoshi/tagcrawler/internal/metrics"
	"github.com/hitoshi/tagcrawler/internal/model"
	"github.com/hitoshi/tagcrawler/internal/searchapi"
)

// Searcher は検索APIの1ページ検索インターフェース。
type Searcher interface {
	Search(ctx context.Context, q searchapi.Query, token string) ([]model.SearchResultItem, error)
}

// TokenSource はアクセストークンの取得と更新のインターフェース。
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// TagHandler は1タグ分の検索結果を受け取る。
type TagHandler interface {
	// HandlePage は結果が1件以上あるページを処理する。エラーを返すとタグの処理を打ち切る。
	HandlePage(ctx context.Context, page int, items []model.SearchResultItem) error
	// HandleExhausted は結果が0件のページに到達したときに呼ばれる。
	HandleExhausted(ctx context.Context, page int)
}

// Strategy はタグごとのTagHandlerを生成する。
// falseを返した場合、そのタグは検索せずに処理済みとする。
type Strategy interface {
	Begin(ctx context.Context, tag string) (TagHandler, bool)
}

// Outcome は1タグ分のサイクルの結果。
type Outcome int

const (
	// OutcomeCompleted はページ上限まで処理した。
	OutcomeCompleted Outcome = iota
	// OutcomeExhausted は結果が0件のページに到達した。
	OutcomeExhausted
	// OutcomeAborted はエラーにより処理を打ち切った。
	OutcomeAborted
	// OutcomeCancelled はコンテキストのキャンセルにより中断した。
	OutcomeCancelled
)

// String はログ用の結果名を返す。
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeAborted:
		return "aborted"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// CycleConfig はページ検索サイクルの設定。
type CycleConfig struct {
	// PageLimit は1サイクルで検索する最大ページ数。
	PageLimit int
	// MaxAttempts は1ページあたりの最大試行回数。
	MaxAttempts int
	// RequestPoll は502応答時の待機時間。
	RequestPoll time.Duration
	// Params は検索パラメータのテンプレート。
	Params url.Values
}

// PagedSearchCycle はタグごとにページ検索を行い、結果をTagHandlerへ渡す。
type PagedSearchCycle struct {
	searcher Searcher
	tokens   TokenSource
	cfg      CycleConfig
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	wait     func(ctx context.Context, d time.Duration) error
}

// NewPagedSearchCycle はPagedSearchCycleを生成する。
// PageLimitとMaxAttemptsが0以下の場合は1を使用する。
func NewPagedSearchCycle(
	searcher Searcher,
	tokens TokenSource,
	cfg CycleConfig,
	m metrics.MetricsCollector,
	logger *slog.Logger,
) *PagedSearchCycle {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &PagedSearchCycle{
		searcher: searcher,
		tokens:   tokens,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		wait:     sleepContext,
	}
}

// Run はtagの検索サイクルを実行する。
func (c *PagedSearchCycle) Run(ctx context.Context, tag string, h TagHandler) Outcome {
	for page := 1; page <= c.cfg.PageLimit; page++ {
		items, outcome, ok := c.fetchPage(ctx, tag, page)
		if !ok {
			return outcome
		}

		if len(items) == 0 {
			h.HandleExhausted(ctx, page)
			return OutcomeExhausted
		}

		if err := h.HandlePage(ctx, page, items); err != nil {
			if ctx.Err() != nil {
				return OutcomeCancelled
			}
			c.logger.Warn("ページの処理を中断しました",
				slog.String("tag", tag),
				slog.Int("page", page),
				slog.String("error", err.Error()),
			)
			return OutcomeAborted
		}
	}
	return OutcomeCompleted
}

// fetchPage は1ページを取得する。リトライ判定に従い同じページを再試行する。
// 取得できなかった場合は結果とfalseを返す。
func (c *PagedSearchCycle) fetchPage(ctx context.Context, tag string, page int) ([]model.SearchResultItem, Outcome, bool) {
	query := searchapi.Query{Tag: tag, Page: page, Params: c.cfg.Params}

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return nil, OutcomeCancelled, false
		}

		token, err := c.tokens.Token(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, OutcomeCancelled, false
			}
			c.logger.Error("アクセストークンを取得できません",
				slog.String("tag", tag),
				slog.String("error", err.Error()),
			)
			return nil, OutcomeAborted, false
		}

		items, err := c.searcher.Search(ctx, query, token)
		if err == nil {
			c.metrics.RecordSearchStatus(200)
			return items, OutcomeCompleted, true
		}
		if ctx.Err() != nil {
			return nil, OutcomeCancelled, false
		}

		decision := Classify(OpSearch, err)
		c.metrics.RecordDecision(OpSearch.String(), decision.String())
		attrs := []any{
			slog.String("tag", tag),
			slog.Int("page", page),
			slog.Int("attempt", attempt),
			slog.String("decision", decision.String()),
			slog.String("error", err.Error()),
		}
		if status, ok := searchapi.StatusCode(err); ok {
			c.metrics.RecordSearchStatus(status)
			attrs = append(attrs, slog.Int("http_status", status))
		}

		if decision == DecisionAbortUnit {
			c.logger.Warn("検索に失敗したためタグの処理を中断します", attrs...)
			return nil, OutcomeAborted, false
		}
		if attempt >= c.cfg.MaxAttempts {
			c.logger.Warn("検索の試行回数が上限に達したためタグの処理を中断します", attrs...)
			return nil, OutcomeAborted, false
		}
		c.logger.Info("検索に失敗したため再試行します", attrs...)

		switch decision {
		case DecisionRefreshAndRetry:
			if _, err := c.tokens.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, OutcomeCancelled, false
				}
				c.logger.Error("アクセストークンの更新に失敗しました",
					slog.String("tag", tag),
					slog.String("error", err.Error()),
				)
				return nil, OutcomeAborted, false
			}
		case DecisionWaitAndRetry:
			if err := c.wait(ctx, c.cfg.RequestPoll); err != nil {
				return nil, OutcomeCancelled, false
			}
		}
	}
}

// sleepContext はdだけ待機する。ctxがキャンセルされた場合はctxのエラーを返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
