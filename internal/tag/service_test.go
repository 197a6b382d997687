package tag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/tagcrawler/internal/config"
	"github.com/hitoshi/tagcrawler/internal/model"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Reconcile: config.CategoryConfig{
			Table:         "download",
			PriorityQueue: "dl:priority",
			Queue:         "dl",
			Dirs:          config.Dirs{Content: "/data/dl", History: "/data/dlHist"},
		},
		Categories: map[model.Category]config.CategoryConfig{
			model.CategoryFavorite: {
				Table:         "favorite",
				PriorityQueue: "fav:priority",
				Queue:         "fav",
				Dirs:          config.Dirs{Content: "/data/ig", History: "/data/igHist"},
			},
			model.CategoryArtist: {Table: "artist", Queue: "art"},
		},
	}
}

// --- mocks ---

type mockRepo struct {
	mu        sync.Mutex
	records   map[string]map[string]bool
	queryErr  error
	upsertErr error
	deleteErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{records: make(map[string]map[string]bool)}
}

func (m *mockRepo) has(table, tag string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[table][tag]
}

func (m *mockRepo) Query(_ context.Context, table, tag string) ([]model.TagRecord, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if m.has(table, tag) {
		return []model.TagRecord{{Table: table, Tag: tag}}, nil
	}
	return nil, nil
}

func (m *mockRepo) Upsert(_ context.Context, table, tag string) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[table] == nil {
		m.records[table] = make(map[string]bool)
	}
	m.records[table][tag] = true
	return nil
}

func (m *mockRepo) Delete(_ context.Context, table, tag string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records[table], tag)
	return nil
}

func (m *mockRepo) ListTags(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}

type sentMessage struct {
	Queue string
	Body  model.WorkMessage
}

type mockSender struct {
	sent []sentMessage
	err  error
}

func (m *mockSender) Send(_ context.Context, queue string, body model.WorkMessage, _ time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{queue, body})
	return nil
}

type mockDirs struct{ removed []string }

func (m *mockDirs) RemoveDir(dir string) { m.removed = append(m.removed, dir) }

type mockRefiller struct {
	mu    sync.Mutex
	calls [][2]string
	done  chan struct{}
}

func (m *mockRefiller) Run(_ context.Context, table, queue string) (int, error) {
	m.mu.Lock()
	m.calls = append(m.calls, [2]string{table, queue})
	m.mu.Unlock()
	if m.done != nil {
		close(m.done)
	}
	return 0, nil
}

type fixture struct {
	repo     *mockRepo
	sender   *mockSender
	dirs     *mockDirs
	refiller *mockRefiller
	svc      *Service
}

func newFixture() *fixture {
	f := &fixture{
		repo:     newMockRepo(),
		sender:   &mockSender{},
		dirs:     &mockDirs{},
		refiller: &mockRefiller{},
	}
	f.svc = NewService(context.Background(), f.repo, f.sender, f.dirs, f.refiller, testConfig(), newTestLogger())
	return f
}

// --- tests ---

func TestLocation(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *mockRepo)
		want  string
	}{
		{name: "どちらにもない", setup: func(*mockRepo) {}, want: LocationNone},
		{name: "ダウンロードのみ", setup: func(r *mockRepo) { r.Upsert(context.Background(), "download", "cat") }, want: "download"},
		{name: "お気に入りのみ", setup: func(r *mockRepo) { r.Upsert(context.Background(), "favorite", "cat") }, want: "favorite"},
		{name: "両方に同数", setup: func(r *mockRepo) {
			r.Upsert(context.Background(), "download", "cat")
			r.Upsert(context.Background(), "favorite", "cat")
		}, want: LocationNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f.repo)
			got, err := f.svc.Location(context.Background(), "cat")
			if err != nil {
				t.Fatalf("Location: %v", err)
			}
			if got != tt.want {
				t.Errorf("Location = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLocation_Errors(t *testing.T) {
	f := newFixture()
	var apiErr *model.APIError
	if _, err := f.svc.Location(context.Background(), "  "); !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeEmptyTag {
		t.Errorf("空タグはEMPTY_TAGを返すべき: %v", err)
	}

	f.repo.queryErr = errors.New("db down")
	_, err := f.svc.Location(context.Background(), "cat")
	if err == nil || errors.As(err, &apiErr) {
		t.Errorf("ストアエラーはAPIErrorでないエラーを返すべき: %v", err)
	}
}

func TestAddItem_EnforcesExclusivePair(t *testing.T) {
	f := newFixture()
	f.repo.Upsert(context.Background(), "download", "cat")

	if err := f.svc.AddItem(context.Background(), "favorite", " cat "); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	if !f.repo.has("favorite", "cat") {
		t.Error("favoriteに登録されるべき")
	}
	if f.repo.has("download", "cat") {
		t.Error("downloadから削除されるべき")
	}
	wantSent := []sentMessage{{Queue: "fav:priority", Body: model.WorkMessage{Tag: "cat", Last: "0"}}}
	if diff := cmp.Diff(wantSent, f.sender.sent); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
	wantRemoved := []string{"/data/dl/cat", "/data/dlHist/cat"}
	if diff := cmp.Diff(wantRemoved, f.dirs.removed); diff != "" {
		t.Errorf("removed mismatch (-want +got):\n%s", diff)
	}
}

func TestAddItem_DownloadTable(t *testing.T) {
	f := newFixture()

	if err := f.svc.AddItem(context.Background(), "download", "fox"); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if len(f.sender.sent) != 1 || f.sender.sent[0].Queue != "dl:priority" {
		t.Errorf("sent = %+v", f.sender.sent)
	}
	wantRemoved := []string{"/data/ig/fox", "/data/igHist/fox"}
	if diff := cmp.Diff(wantRemoved, f.dirs.removed); diff != "" {
		t.Errorf("removed mismatch (-want +got):\n%s", diff)
	}
}

func TestAddItem_Validation(t *testing.T) {
	f := newFixture()
	var apiErr *model.APIError

	for _, table := range []string{"artist", "ignore", ""} {
		err := f.svc.AddItem(context.Background(), table, "cat")
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidTable {
			t.Errorf("table %q: err = %v, want INVALID_TABLE", table, err)
		}
	}
	if err := f.svc.AddItem(context.Background(), "download", ""); !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeEmptyTag {
		t.Errorf("err = %v, want EMPTY_TAG", err)
	}
	if len(f.sender.sent) != 0 {
		t.Errorf("検証エラー時は投入しないべき: %+v", f.sender.sent)
	}
}

func TestAddItem_OppositeDeleteFailureIsBestEffort(t *testing.T) {
	f := newFixture()
	f.repo.deleteErr = errors.New("db down")

	if err := f.svc.AddItem(context.Background(), "download", "cat"); err != nil {
		t.Fatalf("反対側の削除失敗でエラーにすべきでない: %v", err)
	}
	if len(f.sender.sent) != 1 {
		t.Errorf("キューへ投入されるべき")
	}
}

func TestAddItem_UpsertFailure(t *testing.T) {
	f := newFixture()
	f.repo.upsertErr = errors.New("db down")

	if err := f.svc.AddItem(context.Background(), "download", "cat"); err == nil {
		t.Error("登録失敗時はエラーを返すべき")
	}
	if len(f.sender.sent) != 0 {
		t.Errorf("登録失敗時は投入しないべき")
	}
}

func TestStartRefill(t *testing.T) {
	f := newFixture()
	f.refiller.done = make(chan struct{})

	if err := f.svc.StartRefill("artist"); err != nil {
		t.Fatalf("StartRefill: %v", err)
	}
	select {
	case <-f.refiller.done:
	case <-time.After(2 * time.Second):
		t.Fatal("補充ジョブが実行されない")
	}
	f.svc.Wait()

	want := [][2]string{{"artist", "art"}}
	if diff := cmp.Diff(want, f.refiller.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestStartRefill_UnknownTable(t *testing.T) {
	f := newFixture()
	var apiErr *model.APIError
	if err := f.svc.StartRefill("nope"); !errors.As(err, &apiErr) {
		t.Errorf("err = %v, want APIError", err)
	}
	f.svc.Wait()
	if len(f.refiller.calls) != 0 {
		t.Error("ジョブを起動すべきでない")
	}
}
