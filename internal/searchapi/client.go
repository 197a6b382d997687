// Package searchapi は投稿検索APIのクライアントを提供する。
// トークン取得、タグ検索（ページ単位）、ファイルのダウンロードを含む。
package searchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/hitoshi/tagcrawler/internal/model"
)

const userAgent = "TagCrawler/1.0"

// FileWriter はダウンロード内容の書き込み先。
type FileWriter interface {
	WriteFileAtomic(path string, r io.Reader) error
}

// Query は1ページ分の検索条件。
type Query struct {
	Tag    string
	Page   int
	Params url.Values
}

// Client は検索APIのクライアント。
// 検索リクエストはレートリミッターで間隔を制御する。
type Client struct {
	httpClient     *http.Client
	downloadClient *http.Client
	baseURL        string
	limiter        *rate.Limiter
	files          FileWriter
	logger         *slog.Logger
}

// NewClient はClientを生成する。
// downloadClientはファイルURL（外部CDN）へのリクエストに使用する。
// searchRateは1秒あたりの検索リクエスト数で、0以下の場合は制限しない。
func NewClient(
	httpClient *http.Client,
	downloadClient *http.Client,
	baseURL string,
	searchRate float64,
	files FileWriter,
	logger *slog.Logger,
) *Client {
	limit := rate.Inf
	if searchRate > 0 {
		limit = rate.Limit(searchRate)
	}
	return &Client{
		httpClient:     httpClient,
		downloadClient: downloadClient,
		baseURL:        strings.TrimRight(baseURL, "/"),
		limiter:        rate.NewLimiter(limit, 1),
		files:          files,
		logger:         logger,
	}
}

// ParseParams はURLクエリ文字列形式の検索パラメータテンプレートを解析する。
func ParseParams(template string) (url.Values, error) {
	v, err := url.ParseQuery(strings.TrimPrefix(template, "?"))
	if err != nil {
		return nil, fmt.Errorf("検索パラメータの解析に失敗しました: %w", err)
	}
	return v, nil
}

// Search はタグの検索結果の1ページを取得する。
// 2xx以外のレスポンスは*StatusErrorとして返す。
func (c *Client) Search(ctx context.Context, q Query, token string) ([]model.SearchResultItem, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	for k, vs := range q.Params {
		params[k] = append([]string(nil), vs...)
	}
	params.Set("tags", q.Tag)
	params.Set("page", strconv.Itoa(q.Page))

	reqURL := c.baseURL + "/posts?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("検索リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("検索リクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Op: "search", StatusCode: resp.StatusCode}
	}

	var items []model.SearchResultItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("検索レスポンスのパースに失敗しました: %w", err)
	}
	return items, nil
}

// Download はfileURLの内容をdestPathに保存する。
// リファラーとトークンを付与してリクエストし、2xx以外は*StatusErrorとして返す。
func (c *Client) Download(ctx context.Context, destPath, fileURL, refererURL, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return fmt.Errorf("ダウンロードリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if refererURL != "" {
		req.Header.Set("Referer", refererURL)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return fmt.Errorf("ダウンロードリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{Op: "download", StatusCode: resp.StatusCode}
	}

	if err := c.files.WriteFileAtomic(destPath, resp.Body); err != nil {
		return fmt.Errorf("ダウンロードファイルの保存に失敗しました: %w", err)
	}

	c.logger.Debug("ファイルをダウンロードしました",
		slog.String("path", destPath),
		slog.String("file_url", fileURL),
	)
	return nil
}
