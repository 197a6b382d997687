package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/tagcrawler/internal/model"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// mockTagService はTagServiceInterfaceのテスト用実装。
type mockTagService struct {
	locationFn    func(ctx context.Context, tag string) (string, error)
	addItemFn     func(ctx context.Context, table, tag string) error
	startRefillFn func(table string) error
}

func (m *mockTagService) Location(ctx context.Context, tag string) (string, error) {
	return m.locationFn(ctx, tag)
}

func (m *mockTagService) AddItem(ctx context.Context, table, tag string) error {
	return m.addItemFn(ctx, table, tag)
}

func (m *mockTagService) StartRefill(table string) error {
	return m.startRefillFn(table)
}

func decodeJSON(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

func TestTagHandler_Location(t *testing.T) {
	svc := &mockTagService{locationFn: func(_ context.Context, tag string) (string, error) {
		if tag != "猫" {
			t.Errorf("tag = %q", tag)
		}
		return "favorite", nil
	}}
	h := NewTagHandler(svc, newTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/tags/location?tag=%E7%8C%AB", nil)
	w := httptest.NewRecorder()
	h.Location(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	want := map[string]any{"success": true, "table": "favorite", "tag": "猫"}
	if diff := cmp.Diff(want, decodeJSON(t, w.Body)); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestTagHandler_Location_StoreError(t *testing.T) {
	svc := &mockTagService{locationFn: func(context.Context, string) (string, error) {
		return "", errors.New("db down")
	}}
	h := NewTagHandler(svc, newTestLogger())

	w := httptest.NewRecorder()
	h.Location(w, httptest.NewRequest(http.MethodGet, "/api/tags/location?tag=cat", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	want := map[string]any{"success": false, "tag": "cat"}
	if diff := cmp.Diff(want, decodeJSON(t, w.Body)); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestTagHandler_Location_EmptyTag(t *testing.T) {
	svc := &mockTagService{locationFn: func(context.Context, string) (string, error) {
		return "", model.NewEmptyTagError()
	}}
	h := NewTagHandler(svc, newTestLogger())

	w := httptest.NewRecorder()
	h.Location(w, httptest.NewRequest(http.MethodGet, "/api/tags/location", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	body := decodeJSON(t, w.Body)
	if body["code"] != model.ErrCodeEmptyTag || body["success"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestTagHandler_AddItem(t *testing.T) {
	var gotTable, gotTag string
	svc := &mockTagService{addItemFn: func(_ context.Context, table, tag string) error {
		gotTable, gotTag = table, tag
		return nil
	}}
	h := NewTagHandler(svc, newTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/items", strings.NewReader(`{"table":"download","tag":"fox"}`))
	w := httptest.NewRecorder()
	h.AddItem(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotTable != "download" || gotTag != "fox" {
		t.Errorf("service called with (%q, %q)", gotTable, gotTag)
	}
	want := map[string]any{"success": true, "table": "download", "tag": "fox"}
	if diff := cmp.Diff(want, decodeJSON(t, w.Body)); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestTagHandler_AddItem_InvalidJSON(t *testing.T) {
	svc := &mockTagService{addItemFn: func(context.Context, string, string) error {
		t.Error("サービスを呼ぶべきでない")
		return nil
	}}
	h := NewTagHandler(svc, newTestLogger())

	w := httptest.NewRecorder()
	h.AddItem(w, httptest.NewRequest(http.MethodPost, "/api/items", strings.NewReader(`{"table":`)))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestTagHandler_AddItem_InvalidTable(t *testing.T) {
	svc := &mockTagService{addItemFn: func(_ context.Context, table, _ string) error {
		return model.NewInvalidTableError(table)
	}}
	h := NewTagHandler(svc, newTestLogger())

	w := httptest.NewRecorder()
	h.AddItem(w, httptest.NewRequest(http.MethodPost, "/api/items", strings.NewReader(`{"table":"artist","tag":"fox"}`)))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if body := decodeJSON(t, w.Body); body["code"] != model.ErrCodeInvalidTable {
		t.Errorf("code = %v", body["code"])
	}
}

func TestTagHandler_Refill(t *testing.T) {
	var got string
	svc := &mockTagService{startRefillFn: func(table string) error {
		got = table
		return nil
	}}
	h := NewTagHandler(svc, newTestLogger())

	w := httptest.NewRecorder()
	h.Refill(w, httptest.NewRequest(http.MethodPost, "/api/refill", strings.NewReader(`{"table":"favorite"}`)))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if got != "favorite" {
		t.Errorf("table = %q", got)
	}
}
