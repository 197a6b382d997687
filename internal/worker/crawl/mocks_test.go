package crawl

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/hitoshi/tagcrawler/internal/model"
	"github.com/hitoshi/tagcrawler/internal/queue"
	"github.com/hitoshi/tagcrawler/internal/searchapi"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

// --- Receiver ---

type mockReceiver struct {
	mu         sync.Mutex
	queues     map[string][]*queue.Message
	receiveErr map[string]error
	received   []string
	acked      []*queue.Message
}

func newMockReceiver() *mockReceiver {
	return &mockReceiver{
		queues:     make(map[string][]*queue.Message),
		receiveErr: make(map[string]error),
	}
}

func (m *mockReceiver) push(q, tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[q] = append(m.queues[q], &queue.Message{
		ID:    q + "-" + tag,
		Queue: q,
		Body:  model.NewWorkMessage(tag),
	})
}

func (m *mockReceiver) Receive(_ context.Context, q string) (*queue.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, q)
	if err := m.receiveErr[q]; err != nil {
		return nil, err
	}
	msgs := m.queues[q]
	if len(msgs) == 0 {
		return nil, nil
	}
	m.queues[q] = msgs[1:]
	return msgs[0], nil
}

func (m *mockReceiver) Ack(_ context.Context, msg *queue.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, msg)
	return nil
}

// --- Searcher / TokenSource ---

type mockSearcher struct {
	mu       sync.Mutex
	searchFn func(q searchapi.Query, token string) ([]model.SearchResultItem, error)
	calls    []searchapi.Query
	tokens   []string
}

func (m *mockSearcher) Search(_ context.Context, q searchapi.Query, token string) ([]model.SearchResultItem, error) {
	m.mu.Lock()
	m.calls = append(m.calls, q)
	m.tokens = append(m.tokens, token)
	m.mu.Unlock()
	return m.searchFn(q, token)
}

type mockTokens struct {
	mu         sync.Mutex
	token      string
	refreshed  int
	tokenErr   error
	refreshErr error
}

func (m *mockTokens) Token(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokenErr != nil {
		return "", m.tokenErr
	}
	return m.token, nil
}

func (m *mockTokens) Refresh(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refreshErr != nil {
		return "", m.refreshErr
	}
	m.refreshed++
	m.token = "refreshed"
	return m.token, nil
}

// --- TagStore ---

type mockStore struct {
	mu        sync.Mutex
	records   map[string]map[string]int64
	queryErr  error
	upsertErr error
	deleteErr error
	upserts   int
	deletes   int
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[string]map[string]int64)}
}

func (m *mockStore) put(table, tag string, last int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[table] == nil {
		m.records[table] = make(map[string]int64)
	}
	m.records[table][tag] = last
}

func (m *mockStore) get(table, tag string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.records[table][tag]
	return last, ok
}

func (m *mockStore) Query(_ context.Context, table, tag string) ([]model.TagRecord, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if last, ok := m.get(table, tag); ok {
		return []model.TagRecord{{Table: table, Tag: tag, Last: last}}, nil
	}
	return []model.TagRecord{}, nil
}

func (m *mockStore) Upsert(_ context.Context, table, tag string) error {
	m.mu.Lock()
	m.upserts++
	m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.put(table, tag, 0)
	return nil
}

func (m *mockStore) Delete(_ context.Context, table, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.records[table], tag)
	return nil
}

// --- FileDownloader ---

type downloadCall struct {
	DestPath   string
	FileURL    string
	RefererURL string
	Token      string
}

// mockDownloader はdownloadFnがnilの場合、destPathに空でないファイルを書き込む。
type mockDownloader struct {
	mu         sync.Mutex
	downloadFn func(destPath, fileURL string) error
	calls      []downloadCall
}

func (m *mockDownloader) Download(_ context.Context, destPath, fileURL, refererURL, token string) error {
	m.mu.Lock()
	m.calls = append(m.calls, downloadCall{destPath, fileURL, refererURL, token})
	m.mu.Unlock()
	if m.downloadFn != nil {
		return m.downloadFn(destPath, fileURL)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte("data"), 0o644)
}

// --- TagHandler ---

type recordingHandler struct {
	pages        []int
	exhausted    []int
	handlePageFn func(page int, items []model.SearchResultItem) error
}

func (h *recordingHandler) HandlePage(_ context.Context, page int, items []model.SearchResultItem) error {
	h.pages = append(h.pages, page)
	if h.handlePageFn != nil {
		return h.handlePageFn(page, items)
	}
	return nil
}

func (h *recordingHandler) HandleExhausted(_ context.Context, page int) {
	h.exhausted = append(h.exhausted, page)
}
