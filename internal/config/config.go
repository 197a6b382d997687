package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/tagcrawler/internal/model"
)

// Dirs はカテゴリごとのディレクトリ構成。
// Contentは未確認（pending）、OKは承認済み、NGは却下済み、Historyは履歴のルート。
type Dirs struct {
	Content string
	OK      string
	NG      string
	History string
}

// CategoryConfig はワーカー1種類分のテーブル・キュー・ディレクトリ設定。
type CategoryConfig struct {
	Table         string
	PriorityQueue string
	Queue         string
	QueuePoll     time.Duration
	Dirs          Dirs
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Queue
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Search API
	SearchBaseURL         string
	AuthURL               string
	AuthLogin             string
	AuthPassword          string
	RefererURL            string
	ReconcileSearchParams string
	DownloadSearchParams  string
	SearchPageLimit       int
	SearchMaxAttempts     int
	SearchRate            float64
	RequestPoll           time.Duration
	HTTPTimeout           time.Duration

	// Worker
	WorkerConcurrency int
	IgnorePostIDs     []string

	// Reconcile はダウンロードテーブルの整合ワーカー設定。
	Reconcile CategoryConfig
	// Categories はダウンロードワーカーのカテゴリ別設定。
	Categories map[model.Category]CategoryConfig

	// Logging
	LogLevel string

	// Server
	ServerPort        string
	MetricsPort       string
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.RedisAddr = required("REDIS_ADDR")
	cfg.SearchBaseURL = required("SEARCH_BASE_URL")
	cfg.AuthURL = required("AUTH_URL")
	cfg.AuthLogin = required("AUTH_LOGIN")
	cfg.AuthPassword = required("AUTH_PASSWORD")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.RefererURL = getEnvString("REFERER_URL", strings.TrimRight(cfg.SearchBaseURL, "/")+"/post/show/")
	cfg.ReconcileSearchParams = getEnvString("RECONCILE_SEARCH_PARAMS", "limit=100")
	cfg.DownloadSearchParams = getEnvString("DOWNLOAD_SEARCH_PARAMS", "limit=100")
	cfg.SearchPageLimit = getEnvInt("SEARCH_PAGE_LIMIT", 1)
	cfg.SearchMaxAttempts = getEnvInt("SEARCH_MAX_ATTEMPTS", 5)
	cfg.SearchRate = getEnvFloat("SEARCH_RATE", 1)
	cfg.RequestPoll = getEnvSeconds("REQUEST_POLL", 10*time.Second)
	cfg.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", 60*time.Second)
	cfg.WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", 1)
	cfg.IgnorePostIDs = getEnvList("IGNORE_POST_IDS")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "3000")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")

	dataDir := getEnvString("DATA_DIR", "data")
	cfg.Reconcile = loadCategory("DL", "download", dataDir)
	cfg.Categories = map[model.Category]CategoryConfig{
		model.CategoryFavorite: loadCategory("FAV", "favorite", dataDir),
		model.CategoryArtist:   loadCategory("ART", "artist", dataDir),
		model.CategoryStudio:   loadCategory("STU", "studio", dataDir),
	}

	if cfg.SearchPageLimit < 1 {
		return nil, fmt.Errorf("SEARCH_PAGE_LIMIT must be >= 1, got %d", cfg.SearchPageLimit)
	}
	if cfg.SearchMaxAttempts < 1 {
		return nil, fmt.Errorf("SEARCH_MAX_ATTEMPTS must be >= 1, got %d", cfg.SearchMaxAttempts)
	}

	return cfg, nil
}

// Category は指定カテゴリのダウンロードワーカー設定を返す。
func (c *Config) Category(category model.Category) (CategoryConfig, bool) {
	cc, ok := c.Categories[category]
	return cc, ok
}

// OppositeOf は相互排他テーブルの組（ダウンロード⇔お気に入り）の反対側を返す。
// 組に属さないテーブルの場合はfalseを返す。
func (c *Config) OppositeOf(table string) (CategoryConfig, bool) {
	fav := c.Categories[model.CategoryFavorite]
	switch table {
	case c.Reconcile.Table:
		return fav, true
	case fav.Table:
		return c.Reconcile, true
	default:
		return CategoryConfig{}, false
	}
}

// ByTable はテーブル名に対応する設定を返す。
func (c *Config) ByTable(table string) (CategoryConfig, bool) {
	if table == c.Reconcile.Table {
		return c.Reconcile, true
	}
	for _, cc := range c.Categories {
		if cc.Table == table {
			return cc, true
		}
	}
	return CategoryConfig{}, false
}

// loadCategory はprefix付きの環境変数からカテゴリ設定を読み込む。
// 例: prefix=FAV の場合 FAV_TABLE, FAV_QUEUE, FAV_PRIORITY_QUEUE, FAV_QUEUE_POLL, FAV_DIR ...
func loadCategory(prefix, name, dataDir string) CategoryConfig {
	root := filepath.Join(dataDir, name)
	return CategoryConfig{
		Table:         getEnvString(prefix+"_TABLE", name),
		PriorityQueue: getEnvString(prefix+"_PRIORITY_QUEUE", "tagcrawler:"+name+":priority"),
		Queue:         getEnvString(prefix+"_QUEUE", "tagcrawler:"+name),
		QueuePoll:     getEnvSeconds(prefix+"_QUEUE_POLL", 30*time.Second),
		Dirs: Dirs{
			Content: getEnvString(prefix+"_DIR", filepath.Join(root, "content")),
			OK:      getEnvString(prefix+"_OK_DIR", filepath.Join(root, "ok")),
			NG:      getEnvString(prefix+"_NG_DIR", filepath.Join(root, "ng")),
			History: getEnvString(prefix+"_HIST_DIR", filepath.Join(root, "history")),
		},
	}
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvSeconds は秒数の整数またはtime.ParseDuration形式を受け付ける。
func getEnvSeconds(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return getEnvDuration(key, defaultVal)
}

func getEnvList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
