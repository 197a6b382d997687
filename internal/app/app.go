package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/tagcrawler/internal/config"
	"github.com/hitoshi/tagcrawler/internal/database"
	"github.com/hitoshi/tagcrawler/internal/filestore"
	"github.com/hitoshi/tagcrawler/internal/handler"
	"github.com/hitoshi/tagcrawler/internal/logger"
	"github.com/hitoshi/tagcrawler/internal/metrics"
	"github.com/hitoshi/tagcrawler/internal/middleware"
	"github.com/hitoshi/tagcrawler/internal/model"
	"github.com/hitoshi/tagcrawler/internal/queue"
	"github.com/hitoshi/tagcrawler/internal/repository"
	"github.com/hitoshi/tagcrawler/internal/searchapi"
	"github.com/hitoshi/tagcrawler/internal/security"
	"github.com/hitoshi/tagcrawler/internal/tag"
	"github.com/hitoshi/tagcrawler/internal/worker/crawl"
	"github.com/hitoshi/tagcrawler/internal/worker/refill"
)

// shutdownTimeout はHTTPサーバーのグレースフルシャットダウンの待機上限。
const shutdownTimeout = 30 * time.Second

// tokenRetryDelay は起動時のトークン取得の再試行間隔。
const tokenRetryDelay = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 設定読み込み前にログを使えるようにする
	log := logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		return nil, log, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, log, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMでグレースフルに停止する。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "3000"
		}
		return runHealthcheck(port)
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandReconcile:
		return runReconcile(ctx, cfg, log)
	case CommandDownload:
		category, ok := ParseDownloadCategory(args)
		if !ok {
			return fmt.Errorf("download requires a category: one of %v", model.Categories)
		}
		return runDownload(ctx, cfg, log, category)
	case CommandMigrate:
		return runMigrate(cfg, log)
	default:
		return runServe(ctx, cfg, log)
	}
}

// openStore はDB接続を開き、疎通を確認する。
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sql.DB, error) {
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	log.Info("database connection established")
	return db, nil
}

// openQueue はRedisへ接続してキューアダプタを返す。
func openQueue(ctx context.Context, cfg *config.Config, log *slog.Logger) (*redis.Client, *queue.RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info("queue connection established", slog.String("addr", cfg.RedisAddr))
	return client, queue.NewRedisQueue(client, log), nil
}

// runServe はフロントエンドAPIサーバーモードで起動する。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	db, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, q, err := openQueue(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	repo := repository.NewPostgresTagRepo(db)
	files := filestore.NewOS(log)
	refillJob := refill.NewJob(repo, q, log)
	tagService := tag.NewService(ctx, repo, q, files, refillJob, cfg, log)

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), log)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		TagService:        tagService,
		Logger:            log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	tagService.Wait()

	log.Info("API server stopped gracefully")
	return nil
}

// engine はワーカーモードで共有する依存関係。
type engine struct {
	db      *sql.DB
	redis   *redis.Client
	queue   *queue.RedisQueue
	repo    *repository.PostgresTagRepo
	files   *filestore.Store
	tokens  *searchapi.TokenProvider
	search  *searchapi.Client
	metrics *metrics.Collector
	close   func()
}

// newEngine はDB・キュー・検索APIクライアントを初期化し、メトリクスサーバーを起動する。
// アクセストークンを取得できるまでブロックする。
func newEngine(ctx context.Context, cfg *config.Config, log *slog.Logger) (*engine, error) {
	db, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	redisClient, q, err := openQueue(ctx, cfg, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)
	metricsServer := startMetricsServer(cfg.MetricsPort, reg, log)

	files := filestore.NewOS(log)
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	downloadClient := security.NewDownloadGuard().NewSafeClient(cfg.HTTPTimeout)

	e := &engine{
		db:      db,
		redis:   redisClient,
		queue:   q,
		repo:    repository.NewPostgresTagRepo(db),
		files:   files,
		tokens:  searchapi.NewTokenProvider(httpClient, cfg.AuthURL, cfg.AuthLogin, cfg.AuthPassword, log),
		search:  searchapi.NewClient(httpClient, downloadClient, cfg.SearchBaseURL, cfg.SearchRate, files, log),
		metrics: collector,
	}
	e.close = func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutdownCtx)
		redisClient.Close()
		db.Close()
	}

	if _, err := e.tokens.WaitToken(ctx, tokenRetryDelay); err != nil {
		e.close()
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}
	return e, nil
}

// startMetricsServer は/metricsを公開するHTTPサーバーをバックグラウンドで起動する。
func startMetricsServer(port string, gatherer prometheus.Gatherer, log *slog.Logger) *http.Server {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           metrics.SetupMetricsRoute(gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("metrics server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
	return server
}

// recoverInflight は前回のプロセスが処理中のまま残したメッセージをキューへ戻す。
func (e *engine) recoverInflight(ctx context.Context, log *slog.Logger, queues ...string) {
	for _, name := range queues {
		if name == "" {
			continue
		}
		n, err := e.queue.RecoverInflight(ctx, name)
		if err != nil {
			log.Error("処理中メッセージの復旧に失敗しました",
				slog.String("queue", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if n > 0 {
			log.Info("処理中メッセージをキューへ戻しました",
				slog.String("queue", name),
				slog.Int("count", n),
			)
		}
	}
}

// newCycle は検索パラメータテンプレートからPagedSearchCycleを生成する。
func (e *engine) newCycle(cfg *config.Config, paramsTemplate string, log *slog.Logger) (*crawl.PagedSearchCycle, error) {
	params, err := searchapi.ParseParams(paramsTemplate)
	if err != nil {
		return nil, err
	}
	return crawl.NewPagedSearchCycle(e.search, e.tokens, crawl.CycleConfig{
		PageLimit:   cfg.SearchPageLimit,
		MaxAttempts: cfg.SearchMaxAttempts,
		RequestPoll: cfg.RequestPoll,
		Params:      params,
	}, e.metrics, log), nil
}

// runReconcile はダウンロードテーブルのタグ統合ワーカーとして起動する。
func runReconcile(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	e, err := newEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer e.close()

	cc := cfg.Reconcile
	cycle, err := e.newCycle(cfg, cfg.ReconcileSearchParams, log)
	if err != nil {
		return err
	}
	reconciler := crawl.NewReconciler(e.repo, e.files, crawl.ReconcilerConfig{
		Table:      cc.Table,
		ContentDir: cc.Dirs.Content,
		HistoryDir: cc.Dirs.History,
	}, e.metrics, log)

	poller := crawl.NewPoller(e.queue, cc.PriorityQueue, cc.Queue, log)
	e.recoverInflight(ctx, log, poller.Queues()...)

	crawl.NewWorker("reconcile", poller, cycle, reconciler, cc.QueuePoll, e.metrics, log).
		Start(ctx, cfg.WorkerConcurrency)
	return nil
}

// runDownload は指定カテゴリのダウンロードワーカーとして起動する。
func runDownload(ctx context.Context, cfg *config.Config, log *slog.Logger, category model.Category) error {
	cc, ok := cfg.Category(category)
	if !ok {
		return fmt.Errorf("unknown category: %s", category)
	}

	e, err := newEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer e.close()

	cycle, err := e.newCycle(cfg, cfg.DownloadSearchParams, log)
	if err != nil {
		return err
	}
	downloader := crawl.NewDownloader(e.repo, e.files, e.search, e.tokens, security.NewDownloadGuard(), crawl.DownloaderConfig{
		Category:      category,
		Table:         cc.Table,
		ContentDir:    cc.Dirs.Content,
		OKDir:         cc.Dirs.OK,
		NGDir:         cc.Dirs.NG,
		RefererURL:    cfg.RefererURL,
		IgnorePostIDs: cfg.IgnorePostIDs,
	}, e.metrics, log)

	poller := crawl.NewPoller(e.queue, cc.PriorityQueue, cc.Queue, log)
	e.recoverInflight(ctx, log, poller.Queues()...)

	crawl.NewWorker(string(category), poller, cycle, downloader, cc.QueuePoll, e.metrics, log).
		Start(ctx, cfg.WorkerConcurrency)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	v, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(v.Version)),
		slog.Bool("dirty", v.Dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
