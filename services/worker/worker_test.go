package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sjsage522/noticewatcher/helpers"
	"sjsage522/noticewatcher/internal/adapter"
	"sjsage522/noticewatcher/internal/detector"
	"sjsage522/noticewatcher/internal/filter"
	"sjsage522/noticewatcher/internal/state"
	werrors "sjsage522/noticewatcher/pkg/errors"
	"sjsage522/noticewatcher/pkg/retry"
	"sjsage522/noticewatcher/services/notifier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockAdapter implements the adapter.Adapter interface for testing
type MockAdapter struct {
	mu    sync.Mutex
	name  string
	items []adapter.ObservedItem
	err   error
	calls int
	// fetch overrides items and err when set
	fetch func(ctx context.Context) ([]adapter.ObservedItem, error)
}

// Ensure MockAdapter implements adapter.Adapter
var _ adapter.Adapter = (*MockAdapter)(nil)

func (m *MockAdapter) Fetch(ctx context.Context) ([]adapter.ObservedItem, error) {
	m.mu.Lock()
	m.calls++
	fetch, items, err := m.fetch, m.items, m.err
	m.mu.Unlock()

	if fetch != nil {
		return fetch(ctx)
	}
	return items, err
}

func (m *MockAdapter) Name() string       { return m.name }
func (m *MockAdapter) Kind() adapter.Kind { return adapter.KindBoard }

func (m *MockAdapter) set(items ...adapter.ObservedItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = items
	m.err = nil
}

func (m *MockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockNotifier implements the notifier.Notifier interface for testing
type MockNotifier struct {
	mu      sync.Mutex
	sent    []notifier.Message
	err     error
	trimmed int
	// onSend runs before a message is accepted
	onSend func(msg notifier.Message)
}

// Ensure MockNotifier implements notifier.Notifier and notifier.Trimmer
var (
	_ notifier.Notifier = (*MockNotifier)(nil)
	_ notifier.Trimmer  = (*MockNotifier)(nil)
)

func (m *MockNotifier) Name() string { return "mock" }

func (m *MockNotifier) Send(_ context.Context, msg notifier.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.onSend != nil {
		m.onSend(msg)
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *MockNotifier) TrimStreams(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trimmed++
	return nil
}

func (m *MockNotifier) Sent() []notifier.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notifier.Message(nil), m.sent...)
}

// MockLogger implements the helpers.LoggerInterface for testing
type MockLogger struct {
	mu     sync.Mutex
	errors []string
	infos  []string
}

// Ensure MockLogger implements helpers.LoggerInterface
var _ helpers.LoggerInterface = (*MockLogger)(nil)

func NewMockLogger() *MockLogger {
	return &MockLogger{
		errors: make([]string, 0),
		infos:  make([]string, 0),
	}
}

func (m *MockLogger) LogError(sourceID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, sourceID+": "+err.Error())
}

func (m *MockLogger) LogInfo(format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, fmt.Sprintf(format, args...))
}

// failingBackend is a state.Backend whose saves fail
type failingBackend struct{}

var _ state.Backend = failingBackend{}

func (failingBackend) Load(context.Context) (map[string]state.Fingerprint, error) {
	return map[string]state.Fingerprint{}, nil
}
func (failingBackend) Save(context.Context, map[string]state.Fingerprint) error {
	return errors.New("disk full")
}
func (failingBackend) Close() error { return nil }

var fastRetry = retry.Policy{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond}

func newFileStore(t *testing.T) (*state.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storage.json")
	store := state.NewStore(state.NewFileBackend(path))
	require.NoError(t, store.Load(context.Background()))
	return store, path
}

func newTestWorker(sources []Source, store *state.Store, n notifier.Notifier, log helpers.LoggerInterface) *Worker {
	return NewWorker(context.Background(), sources, store, n, log, Options{
		Workers:      2,
		FetchTimeout: time.Second,
		Retry:        fastRetry,
	})
}

func boardSource(id string, a adapter.Adapter, notifyFirst bool) Source {
	return Source{
		ID:        id,
		Name:      id,
		Adapter:   a,
		Policy:    detector.Policy{Strategy: state.StrategySingle, NotifyOnFirstSeen: notifyFirst},
		Retention: state.Retention{Strategy: state.StrategySingle},
	}
}

func readStateFile(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestBoardScenario(t *testing.T) {
	store, path := newFileStore(t)
	board := &MockAdapter{name: "board-A"}
	n := &MockNotifier{}
	w := newTestWorker([]Source{boardSource("board-A", board, true)}, store, n, NewMockLogger())

	// first run, no prior fingerprint
	board.set(adapter.ObservedItem{Title: "Notice 1", Identity: "101"})
	report := w.RunOnce(context.Background())
	out, ok := report.Get("board-A")
	require.True(t, ok)
	assert.Equal(t, StatusNotified, out.Status)
	assert.Equal(t, StageCommitted, out.Stage)
	assert.Equal(t, "101", readStateFile(t, path)["board-A"])
	require.Len(t, n.Sent(), 1)
	assert.Equal(t, "[새 글 알림] board-A", n.Sent()[0].Subject)

	// second run, identical item
	report = w.RunOnce(context.Background())
	out, _ = report.Get("board-A")
	assert.Equal(t, StatusUnchanged, out.Status)
	assert.Equal(t, "101", readStateFile(t, path)["board-A"])
	assert.Len(t, n.Sent(), 1)

	// third run, a newer item
	board.set(adapter.ObservedItem{Title: "Notice 2", Identity: "102"})
	report = w.RunOnce(context.Background())
	out, _ = report.Get("board-A")
	assert.Equal(t, StatusNotified, out.Status)
	assert.Equal(t, "[board-A] Notified: Notice 2", out.Summary())
	assert.Equal(t, "102", readStateFile(t, path)["board-A"])
	assert.Len(t, n.Sent(), 2)
}

func TestIdempotence(t *testing.T) {
	store, _ := newFileStore(t)
	board := &MockAdapter{name: "board-A", items: []adapter.ObservedItem{{Title: "Notice 1", Identity: "101"}}}
	n := &MockNotifier{}
	w := newTestWorker([]Source{boardSource("board-A", board, true)}, store, n, NewMockLogger())

	first := w.RunOnce(context.Background())
	second := w.RunOnce(context.Background())

	assert.Equal(t, 1, first.Count(StatusNotified))
	assert.Equal(t, 1, second.Count(StatusUnchanged))
	assert.Len(t, n.Sent(), 1)
}

func TestFirstSeenIsSeededSilently(t *testing.T) {
	store, path := newFileStore(t)
	board := &MockAdapter{name: "board-A", items: []adapter.ObservedItem{{Title: "Notice 1", Identity: "101"}}}
	n := &MockNotifier{}
	w := newTestWorker([]Source{boardSource("board-A", board, false)}, store, n, NewMockLogger())

	report := w.RunOnce(context.Background())
	out, _ := report.Get("board-A")
	assert.Equal(t, StatusUnchanged, out.Status)
	assert.True(t, out.Seeded)
	assert.Equal(t, StageSeeded, out.Stage)
	assert.Equal(t, "[board-A] Unchanged (first seen: Notice 1)", out.Summary())
	assert.Empty(t, n.Sent())
	assert.Equal(t, "101", readStateFile(t, path)["board-A"])

	board.set(adapter.ObservedItem{Title: "Notice 2", Identity: "102"})
	report = w.RunOnce(context.Background())
	assert.Equal(t, 1, report.Count(StatusNotified))
}

func TestExclusionNeverReachesDetector(t *testing.T) {
	store, path := newFileStore(t)
	board := &MockAdapter{name: "board-A", items: []adapter.ObservedItem{{Title: "Seeking tutoring help"}}}
	n := &MockNotifier{}
	src := boardSource("board-A", board, true)
	src.Rules = filter.Rules{Keywords: []string{"tutoring"}}
	w := newTestWorker([]Source{src}, store, n, NewMockLogger())

	// without a fingerprint
	report := w.RunOnce(context.Background())
	out, _ := report.Get("board-A")
	assert.Equal(t, StatusUnchanged, out.Status)
	assert.Equal(t, StageExcluded, out.Stage)
	assert.Nil(t, out.Item)
	_, ok := store.Get("board-A")
	assert.False(t, ok, "store untouched")

	// with a fingerprint that differs
	_, err := store.Commit(context.Background(), "board-A", "101", src.Retention)
	require.NoError(t, err)
	report = w.RunOnce(context.Background())
	out, _ = report.Get("board-A")
	assert.Equal(t, StatusUnchanged, out.Status)
	assert.Equal(t, "101", readStateFile(t, path)["board-A"])
	assert.Empty(t, n.Sent())
}

func TestExcludedRowsAreSkippedForTheNextOne(t *testing.T) {
	store, _ := newFileStore(t)
	board := &MockAdapter{name: "ewhaian", items: []adapter.ObservedItem{
		{Title: "[공지] 게시판 정책", Identity: "1"},
		{Title: "수학 과외 선생님 구함", Identity: "9"},
		{Title: "카페 주말 알바", Identity: "8"},
	}}
	n := &MockNotifier{}
	src := boardSource("ewhaian", board, true)
	src.Rules = filter.Rules{Keywords: []string{"정책", "공지", "과외", "선생님"}}
	w := newTestWorker([]Source{src}, store, n, NewMockLogger())

	report := w.RunOnce(context.Background())
	out, _ := report.Get("ewhaian")
	assert.Equal(t, StatusNotified, out.Status)
	assert.Equal(t, 2, out.Skipped)
	assert.Equal(t, "카페 주말 알바", out.Item.Title)
}

func TestHistoryTolerance(t *testing.T) {
	store, _ := newFileStore(t)
	retention := state.Retention{Strategy: state.StrategyHistory, HistorySize: 5}
	for _, key := range []string{"101", "102", "103", "104", "105"} {
		_, err := store.Commit(context.Background(), "board-A", key, retention)
		require.NoError(t, err)
	}

	board := &MockAdapter{name: "board-A"}
	n := &MockNotifier{}
	src := Source{
		ID:        "board-A",
		Adapter:   board,
		Policy:    detector.Policy{Strategy: state.StrategyHistory},
		Retention: retention,
	}
	w := newTestWorker([]Source{src}, store, n, NewMockLogger())

	// a post was deleted, so an older one is on top again
	board.set(adapter.ObservedItem{Title: "Notice 3", Identity: "103"})
	report := w.RunOnce(context.Background())
	assert.Equal(t, 1, report.Count(StatusUnchanged))
	assert.Empty(t, n.Sent())

	board.set(adapter.ObservedItem{Title: "Notice 6", Identity: "106"})
	report = w.RunOnce(context.Background())
	assert.Equal(t, 1, report.Count(StatusNotified))

	fp, _ := store.Get("board-A")
	assert.Equal(t, []string{"106", "105", "104", "103", "102"}, fp.Keys)
}

func TestFailureIsolation(t *testing.T) {
	store, _ := newFileStore(t)
	s1 := &MockAdapter{name: "s1", items: []adapter.ObservedItem{{Title: "one", Identity: "1"}}}
	s2 := &MockAdapter{name: "s2", err: werrors.NewNetwork("s2", "fetch failed", errors.New("connection reset"))}
	s3 := &MockAdapter{name: "s3", items: []adapter.ObservedItem{{Title: "three", Identity: "3"}}}
	n := &MockNotifier{}
	mockLogger := NewMockLogger()
	w := newTestWorker([]Source{
		boardSource("s1", s1, true),
		boardSource("s2", s2, true),
		boardSource("s3", s3, true),
	}, store, n, mockLogger)

	report := w.RunOnce(context.Background())
	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, "s1", report.Outcomes[0].SourceID, "outcomes keep configuration order")
	assert.Equal(t, StatusNotified, report.Outcomes[0].Status)
	assert.Equal(t, StatusError, report.Outcomes[1].Status)
	assert.Equal(t, StageFetchFailed, report.Outcomes[1].Stage)
	assert.Equal(t, StatusNotified, report.Outcomes[2].Status)

	require.Len(t, report.Errors(), 1)
	assert.Equal(t, "s2", report.Errors()[0].SourceID)
	assert.Equal(t, 3, s2.Calls(), "network errors are retried")
	assert.Equal(t, 3, report.Outcomes[1].Attempts)

	mockLogger.mu.Lock()
	defer mockLogger.mu.Unlock()
	require.Len(t, mockLogger.errors, 1)
	assert.Contains(t, mockLogger.errors[0], "s2: ")
	assert.Contains(t, mockLogger.errors[0], "connection reset")
}

func TestPermanentErrorsFailFast(t *testing.T) {
	store, _ := newFileStore(t)
	auth := &MockAdapter{name: "members", err: werrors.NewAuth("members", "login rejected", nil)}
	parse := &MockAdapter{name: "drift", err: werrors.NewParsing("drift", "no rows matched", nil)}
	w := newTestWorker([]Source{boardSource("members", auth, true), boardSource("drift", parse, true)}, store, &MockNotifier{}, NewMockLogger())

	report := w.RunOnce(context.Background())
	assert.Equal(t, 2, report.Count(StatusError))
	assert.Equal(t, 1, auth.Calls())
	assert.Equal(t, 1, parse.Calls())
	assert.Equal(t, "[drift] Error: [parsing] drift: no rows matched", report.Outcomes[1].Summary())
}

func TestFetchTimeoutIsPerAttempt(t *testing.T) {
	store, _ := newFileStore(t)
	slow := &MockAdapter{name: "slow"}
	slow.fetch = func(ctx context.Context) ([]adapter.ObservedItem, error) {
		<-ctx.Done()
		return nil, werrors.NewNetwork("slow", "fetch failed", ctx.Err())
	}
	fast := &MockAdapter{name: "fast", items: []adapter.ObservedItem{{Title: "ok", Identity: "1"}}}

	w := NewWorker(context.Background(), []Source{boardSource("slow", slow, true), boardSource("fast", fast, true)},
		store, &MockNotifier{}, NewMockLogger(), Options{
			Workers:      1,
			FetchTimeout: 20 * time.Millisecond,
			Retry:        retry.Policy{MaxAttempts: 2, InitialWait: time.Millisecond},
		})

	start := time.Now()
	report := w.RunOnce(context.Background())
	assert.Less(t, time.Since(start), 2*time.Second)

	slowOut, _ := report.Get("slow")
	assert.Equal(t, StatusError, slowOut.Status)
	assert.ErrorIs(t, slowOut.Err, context.DeadlineExceeded)
	assert.Equal(t, 2, slowOut.Attempts)

	fastOut, _ := report.Get("fast")
	assert.Equal(t, StatusNotified, fastOut.Status, "a hanging source does not block the others")
}

func TestNotifyFailureDoesNotCommit(t *testing.T) {
	store, path := newFileStore(t)
	board := &MockAdapter{name: "board-A", items: []adapter.ObservedItem{{Title: "Notice 1", Identity: "101"}}}
	n := &MockNotifier{err: errors.New("smtp: 421 service not available")}
	w := newTestWorker([]Source{boardSource("board-A", board, true)}, store, n, NewMockLogger())

	report := w.RunOnce(context.Background())
	out, _ := report.Get("board-A")
	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, StageNotifyFailed, out.Stage)
	assert.True(t, werrors.Is(out.Err, werrors.ErrorTypeSend))
	_, ok := store.Get("board-A")
	assert.False(t, ok, "the item must not be lost by committing before delivery")
	assert.NotContains(t, readStateFile(t, path), "board-A")

	// the transport recovers and the item is delivered on the next run
	n.mu.Lock()
	n.err = nil
	n.mu.Unlock()
	report = w.RunOnce(context.Background())
	assert.Equal(t, 1, report.Count(StatusNotified))
	assert.Len(t, n.Sent(), 1)
}

func TestCommitIsSavedBeforeTheNextSource(t *testing.T) {
	store, path := newFileStore(t)
	first := &MockAdapter{name: "first", items: []adapter.ObservedItem{{Title: "Notice 1", Identity: "101"}}}

	// The second source inspects the state file while the run is still in
	// progress, as a process killed at that moment would leave it.
	var onDisk map[string]any
	second := &MockAdapter{name: "second"}
	second.fetch = func(context.Context) ([]adapter.ObservedItem, error) {
		onDisk = readStateFile(t, path)
		return nil, werrors.NewParsing("second", "no rows matched", nil)
	}

	n := &MockNotifier{}
	w := NewWorker(context.Background(), []Source{boardSource("first", first, true), boardSource("second", second, true)},
		store, n, NewMockLogger(), Options{Workers: 1, FetchTimeout: time.Second, Retry: fastRetry})

	w.RunOnce(context.Background())
	require.NotNil(t, onDisk)
	assert.Equal(t, "101", onDisk["first"])

	// a fresh process reading the file does not notify again
	restarted := state.NewStore(state.NewFileBackend(path))
	require.NoError(t, restarted.Load(context.Background()))
	n2 := &MockNotifier{}
	w2 := newTestWorker([]Source{boardSource("first", first, true)}, restarted, n2, NewMockLogger())
	report := w2.RunOnce(context.Background())
	assert.Equal(t, 1, report.Count(StatusUnchanged))
	assert.Empty(t, n2.Sent())
}

func TestCommitFailureIsReportedAndKeptInMemory(t *testing.T) {
	store := state.NewStore(failingBackend{})
	require.NoError(t, store.Load(context.Background()))
	board := &MockAdapter{name: "board-A", items: []adapter.ObservedItem{{Title: "Notice 1", Identity: "101"}}}
	n := &MockNotifier{}
	w := newTestWorker([]Source{boardSource("board-A", board, true)}, store, n, NewMockLogger())

	report := w.RunOnce(context.Background())
	out, _ := report.Get("board-A")
	assert.Equal(t, StatusNotified, out.Status)
	assert.Equal(t, StageCommitFailed, out.Stage)
	assert.Error(t, out.Err)
	assert.Error(t, report.FlushErr)
	assert.Contains(t, out.Summary(), "state not saved")

	// the in-memory record still prevents a repeat within the process
	w.RunOnce(context.Background())
	assert.Len(t, n.Sent(), 1)
}

func TestStateKeyOverridesID(t *testing.T) {
	store, path := newFileStore(t)
	board := &MockAdapter{name: "donga-law", items: []adapter.ObservedItem{{Title: "수강신청 안내"}}}
	src := boardSource("donga-law", board, false)
	src.StateKey = "동아대 law 학사공지"
	w := newTestWorker([]Source{src}, store, &MockNotifier{}, NewMockLogger())

	w.RunOnce(context.Background())
	onDisk := readStateFile(t, path)
	assert.Equal(t, "수강신청 안내", onDisk["동아대 law 학사공지"])
	assert.NotContains(t, onDisk, "donga-law")
}

func TestAdapterPanicIsIsolated(t *testing.T) {
	store, _ := newFileStore(t)
	broken := &MockAdapter{name: "broken"}
	broken.fetch = func(context.Context) ([]adapter.ObservedItem, error) { panic("nil selection") }
	ok := &MockAdapter{name: "ok", items: []adapter.ObservedItem{{Title: "t", Identity: "1"}}}
	w := newTestWorker([]Source{boardSource("broken", broken, true), boardSource("ok", ok, true)}, store, &MockNotifier{}, NewMockLogger())

	report := w.RunOnce(context.Background())
	assert.Equal(t, StatusError, report.Outcomes[0].Status)
	assert.Contains(t, report.Outcomes[0].Err.Error(), "nil selection")
	assert.Equal(t, StatusNotified, report.Outcomes[1].Status)
}

func TestNotifierPanicIsReportedAtNotifyStage(t *testing.T) {
	store, _ := newFileStore(t)
	board := &MockAdapter{name: "board-A", items: []adapter.ObservedItem{{Title: "Notice 1", Identity: "101"}}}
	n := &MockNotifier{onSend: func(notifier.Message) { panic("smtp client nil") }}
	w := newTestWorker([]Source{boardSource("board-A", board, true)}, store, n, NewMockLogger())

	report := w.RunOnce(context.Background())
	out, _ := report.Get("board-A")
	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, StageNotifyFailed, out.Stage)
	assert.Equal(t, 1, out.Attempts)
	assert.Contains(t, out.Err.Error(), "smtp client nil")
	_, ok := store.Get("board-A")
	assert.False(t, ok)
}

func TestEmptyBoardIsUnchanged(t *testing.T) {
	store, _ := newFileStore(t)
	empty := &MockAdapter{name: "empty", items: []adapter.ObservedItem{}}
	w := newTestWorker([]Source{boardSource("empty", empty, true)}, store, &MockNotifier{}, NewMockLogger())

	report := w.RunOnce(context.Background())
	out, _ := report.Get("empty")
	assert.Equal(t, StatusUnchanged, out.Status)
	assert.Equal(t, StageUnchanged, out.Stage)
	assert.Equal(t, "[empty] Unchanged", out.Summary())
}

func TestRunOnceTrimsStreamsAndLogsSummary(t *testing.T) {
	store, _ := newFileStore(t)
	board := &MockAdapter{name: "board-A", items: []adapter.ObservedItem{{Title: "Notice 1", Identity: "101"}}}
	n := &MockNotifier{}
	mockLogger := NewMockLogger()
	w := newTestWorker([]Source{boardSource("board-A", board, true)}, store, n, mockLogger)

	report := w.RunOnce(context.Background())
	assert.NotEmpty(t, report.RunID)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
	assert.Equal(t, 1, n.trimmed)

	mockLogger.mu.Lock()
	defer mockLogger.mu.Unlock()
	assert.Contains(t, mockLogger.infos, "[board-A] Notified: Notice 1")
}

func TestWorkerStartStopsOnCancel(t *testing.T) {
	store, _ := newFileStore(t)
	board := &MockAdapter{name: "board-A", items: []adapter.ObservedItem{{Title: "Notice 1", Identity: "101"}}}

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(ctx, []Source{boardSource("board-A", board, true)}, store, &MockNotifier{}, NewMockLogger(), Options{
		Workers:       1,
		FetchTimeout:  time.Second,
		Retry:         fastRetry,
		CrawlInterval: 10 * time.Millisecond,
	})

	done := make(chan struct{})
	go func() {
		w.Start()
		close(done)
	}()

	require.Eventually(t, func() bool { return board.Calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
