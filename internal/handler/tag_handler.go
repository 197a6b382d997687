package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/tagcrawler/internal/middleware"
	"github.com/hitoshi/tagcrawler/internal/model"
)

// TagServiceInterface はタグハンドラーが必要とするサービスインターフェース。
type TagServiceInterface interface {
	// Location はタグが所属するテーブル名を返す。
	Location(ctx context.Context, tag string) (string, error)
	// AddItem はテーブルにタグを登録して優先キューへ投入する。
	AddItem(ctx context.Context, table, tag string) error
	// StartRefill はテーブルの全タグを通常キューへ投入するジョブを開始する。
	StartRefill(table string) error
}

// TagHandler はタグ管理のHTTPハンドラー。
type TagHandler struct {
	service TagServiceInterface
	logger  *slog.Logger
}

// NewTagHandler はTagHandlerを生成する。
func NewTagHandler(service TagServiceInterface, logger *slog.Logger) *TagHandler {
	return &TagHandler{service: service, logger: logger}
}

// tagResponse はタグ操作の成功レスポンス。
type tagResponse struct {
	Success bool   `json:"success"`
	Table   string `json:"table,omitempty"`
	Tag     string `json:"tag"`
}

// storeErrorResponse はストア障害時のレスポンス。
type storeErrorResponse struct {
	Success bool   `json:"success"`
	Tag     string `json:"tag"`
}

// addItemRequest はアイテム追加リクエストのボディ。
type addItemRequest struct {
	Table string `json:"table"`
	Tag   string `json:"tag"`
}

// refillRequest はキュー補充リクエストのボディ。
type refillRequest struct {
	Table string `json:"table"`
}

// refillResponse はキュー補充の受付レスポンス。
type refillResponse struct {
	Success bool   `json:"success"`
	Table   string `json:"table"`
}

// maxBodyBytes はリクエストボディの上限。
const maxBodyBytes = 1 << 16

// Location はタグの所属テーブルを返す。
// GET /api/tags/location?tag=X
func (h *TagHandler) Location(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")

	table, err := h.service.Location(r.Context(), tag)
	if err != nil {
		h.writeServiceError(w, tag, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, tagResponse{Success: true, Table: table, Tag: tag})
}

// AddItem はタグをテーブルへ追加する。
// POST /api/items
func (h *TagHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.service.AddItem(r.Context(), req.Table, req.Tag); err != nil {
		h.writeServiceError(w, req.Tag, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, tagResponse{Success: true, Table: req.Table, Tag: req.Tag})
}

// Refill はキュー補充ジョブを開始する。ジョブの完了は待たない。
// POST /api/refill
func (h *TagHandler) Refill(w http.ResponseWriter, r *http.Request) {
	var req refillRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.service.StartRefill(req.Table); err != nil {
		h.writeServiceError(w, "", err)
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, refillResponse{Success: true, Table: req.Table})
}

// Health はプロセスの稼働確認に応答する。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody はJSONボディをvにデコードする。失敗した場合は400を書き込みfalseを返す。
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("JSONボディが不正です"))
		return false
	}
	return true
}

// writeServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// 入力検証エラーは400、それ以外はストア障害として503を返す。
func (h *TagHandler) writeServiceError(w http.ResponseWriter, tag string, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	h.logger.Error("タグ操作に失敗しました",
		slog.String("tag", tag),
		slog.String("error", err.Error()),
	)
	middleware.WriteJSON(w, http.StatusServiceUnavailable, storeErrorResponse{Success: false, Tag: tag})
}
