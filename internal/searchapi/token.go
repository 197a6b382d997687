package searchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
)

// TokenProvider は検索APIのベアラートークンを取得・保持する。
// 複数のワーカーgoroutineから共有される。
type TokenProvider struct {
	httpClient *http.Client
	authURL    string
	login      string
	password   string
	logger     *slog.Logger

	mu    sync.Mutex
	token string
}

// NewTokenProvider はTokenProviderを生成する。
func NewTokenProvider(httpClient *http.Client, authURL, login, password string, logger *slog.Logger) *TokenProvider {
	return &TokenProvider{
		httpClient: httpClient,
		authURL:    authURL,
		login:      login,
		password:   password,
		logger:     logger,
	}
}

type tokenRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// Token は保持しているトークンを返す。未取得の場合は取得する。
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	token := p.token
	p.mu.Unlock()
	if token != "" {
		return token, nil
	}
	return p.Refresh(ctx)
}

// Refresh は認証エンドポイントから新しいトークンを取得して保持する。
func (p *TokenProvider) Refresh(ctx context.Context) (string, error) {
	body, err := json.Marshal(tokenRequest{Login: p.login, Password: p.password})
	if err != nil {
		return "", fmt.Errorf("認証リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.authURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("認証リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("認証リクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Op: "token", StatusCode: resp.StatusCode}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("認証レスポンスのパースに失敗しました: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("認証レスポンスにaccess_tokenが含まれていません")
	}

	p.mu.Lock()
	p.token = tr.AccessToken
	p.mu.Unlock()

	p.logger.Info("アクセストークンを取得しました")
	return tr.AccessToken, nil
}

// WaitToken はトークンを取得できるまでdelay間隔で再試行する。
// ctxがキャンセルされた場合はctxのエラーを返す。
func (p *TokenProvider) WaitToken(ctx context.Context, delay time.Duration) (string, error) {
	var token string
	err := retry.Do(
		func() error {
			t, err := p.Refresh(ctx)
			if err != nil {
				return err
			}
			token = t
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Error("アクセストークンの取得に失敗しました。再試行します",
				slog.Uint64("attempt", uint64(n+1)),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return token, nil
}
