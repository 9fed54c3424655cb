package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rcliao/netpulse/internal/authz"
	"github.com/rcliao/netpulse/internal/kv"
	"github.com/rcliao/netpulse/internal/metrics"
	"github.com/rcliao/netpulse/internal/model"
)

type collector struct {
	mu   sync.Mutex
	seen []model.Notification
}

func (c *collector) Notify(n model.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, n)
}

func (c *collector) all() []model.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Notification(nil), c.seen...)
}

func newTestTracker(t *testing.T, store kv.Store, n Notifier, opts ...Option) *Tracker {
	t.Helper()
	auth := authz.NewDomainStore(store)
	if err := auth.Seed(context.Background(), []string{"example.com"}); err != nil {
		t.Fatalf("seed domains: %v", err)
	}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	tr := New(store, auth, n, opts...)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func ptr[T any](v T) *T { return &v }

func TestCompletedRecordTimings(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, kv.NewMemoryStore(), nil)

	tr.RecordStart(ctx, 1, "r1", "https://example.com/a.js", "GET", "script", 0)
	tr.RecordHeaders(1, "r1", 50, []model.Header{{Name: "Content-Type", Value: "text/javascript"}})
	tr.RecordCompletion(1, "r1", 120, 200, ptr[int64](512))

	records, err := tr.GetRecords(ctx, 1)
	if err != nil {
		t.Fatalf("get records: %v", err)
	}
	r, ok := records["r1"]
	if !ok {
		t.Fatal("expected record r1")
	}
	if r.Domain != "example.com" {
		t.Errorf("expected domain example.com, got %q", r.Domain)
	}
	if r.TotalTime == nil || *r.TotalTime != 120 {
		t.Errorf("expected totalTime 120, got %v", r.TotalTime)
	}
	if r.TTFB == nil || *r.TTFB != 50 {
		t.Errorf("expected ttfb 50, got %v", r.TTFB)
	}
	if r.ContentDownloadTime == nil || *r.ContentDownloadTime != 70 {
		t.Errorf("expected contentDownloadTime 70, got %v", r.ContentDownloadTime)
	}
	if r.StatusCode == nil || *r.StatusCode != 200 {
		t.Errorf("expected status 200, got %v", r.StatusCode)
	}
	if r.Error != "" {
		t.Errorf("completed record must not carry an error, got %q", r.Error)
	}
	if r.ResponseHeadersSize == nil || *r.ResponseHeadersSize == 0 {
		t.Error("expected responseHeadersSize to be set")
	}
	if r.ResponseSize == nil || *r.ResponseSize != 512 {
		t.Errorf("expected responseSize 512, got %v", r.ResponseSize)
	}
	if r.State() != model.StateCompleted {
		t.Errorf("expected completed state, got %s", r.State())
	}
}

func TestUnauthorizedDomainNotTracked(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, kv.NewMemoryStore(), nil)

	tr.RecordStart(ctx, 1, "r1", "https://other.org/x", "GET", "xhr", 0)
	tr.RecordHeaders(1, "r1", 10, nil)
	tr.RecordCompletion(1, "r1", 20, 200, nil)

	records, err := tr.GetRecords(ctx, 1)
	if err != nil {
		t.Fatalf("get records: %v", err)
	}
	if _, ok := records["r1"]; ok {
		t.Error("expected no record for unauthorized domain")
	}
}

func TestSubdomainAuthorized(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, kv.NewMemoryStore(), nil)

	tr.RecordStart(ctx, 1, "r1", "https://cdn.example.com:8443/app.css", "GET", "stylesheet", 0)
	records, _ := tr.GetRecords(ctx, 1)
	if r, ok := records["r1"]; !ok || r.Domain != "cdn.example.com" {
		t.Errorf("expected subdomain record, got %+v", records)
	}
}

func TestEventsWithoutStartAreDropped(t *testing.T) {
	ctx := context.Background()
	n := &collector{}
	tr := newTestTracker(t, kv.NewMemoryStore(), n)

	tr.RecordHeaders(1, "ghost", 10, nil)
	tr.RecordCompletion(1, "ghost", 20, 200, nil)
	tr.RecordError(1, "ghost", 30, "net::ERR_FAILED")

	records, _ := tr.GetRecords(ctx, 1)
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
	if len(n.all()) != 0 {
		t.Error("expected no notifications for absent records")
	}
	if len(tr.Tabs()) != 0 {
		t.Errorf("expected no tracked tabs, got %v", tr.Tabs())
	}
}

func TestErroredRecord(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, kv.NewMemoryStore(), nil)

	tr.RecordStart(ctx, 2, "r1", "https://example.com/api", "POST", "xhr", 100)
	tr.RecordError(2, "r1", 175, "net::ERR_CONNECTION_RESET")

	records, _ := tr.GetRecords(ctx, 2)
	r := records["r1"]
	if r.Error != "net::ERR_CONNECTION_RESET" {
		t.Errorf("expected error text, got %q", r.Error)
	}
	if r.StatusCode != nil {
		t.Error("errored record must not carry a status code")
	}
	if r.TotalTime == nil || *r.TotalTime != 75 {
		t.Errorf("expected totalTime 75, got %v", r.TotalTime)
	}
	if r.TTFB != nil || r.ContentDownloadTime != nil {
		t.Error("ttfb and contentDownloadTime need observed headers")
	}
	if r.State() != model.StateErrored {
		t.Errorf("expected errored state, got %s", r.State())
	}
}

func TestContentLengthFallback(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, kv.NewMemoryStore(), nil)

	tr.RecordStart(ctx, 1, "r1", "https://example.com/img.png", "GET", "image", 0)
	tr.RecordHeaders(1, "r1", 5, []model.Header{{Name: "content-length", Value: " 2048 "}})
	tr.RecordCompletion(1, "r1", 9, 200, nil)

	records, _ := tr.GetRecords(ctx, 1)
	if got := records["r1"].ResponseSize; got == nil || *got != 2048 {
		t.Errorf("expected responseSize 2048 from Content-Length, got %v", got)
	}
}

func TestGetRecordsReturnsCopy(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, kv.NewMemoryStore(), nil)

	tr.RecordStart(ctx, 1, "r1", "https://example.com/", "GET", "main_frame", 0)
	tr.RecordCompletion(1, "r1", 10, 200, nil)

	first, _ := tr.GetRecords(ctx, 1)
	*first["r1"].StatusCode = 500

	second, _ := tr.GetRecords(ctx, 1)
	if *second["r1"].StatusCode != 200 {
		t.Errorf("mutating a returned record leaked into tracker state")
	}
}

func TestClearRecordsRemovesMirror(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	tr := newTestTracker(t, store, nil)

	tr.RecordStart(ctx, 3, "r1", "https://example.com/", "GET", "main_frame", 0)
	tr.RecordCompletion(3, "r1", 10, 200, nil)

	if err := tr.ClearRecords(ctx, 3); err != nil {
		t.Fatalf("clear: %v", err)
	}

	records, err := tr.GetRecords(ctx, 3)
	if err != nil {
		t.Fatalf("get records: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty mapping, got %d records", len(records))
	}
	if _, ok, _ := store.Get(ctx, StorageKey(3)); ok {
		t.Error("expected durable mirror key to be absent")
	}
}

func TestTabClosedEvent(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	tr := newTestTracker(t, store, nil)

	tr.RecordStart(ctx, 4, "r1", "https://example.com/", "GET", "main_frame", 0)
	tr.RecordCompletion(4, "r1", 10, 200, nil)

	if err := tr.Apply(ctx, Event{Kind: "onRemoved", TabID: 4}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, ok, _ := store.Get(ctx, StorageKey(4)); ok {
		t.Error("expected mirror removed on tab close")
	}
	if len(tr.Tabs()) != 0 {
		t.Errorf("expected no tabs, got %v", tr.Tabs())
	}
}

func TestRecordsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	auth := authz.NewDomainStore(store)
	auth.Add(ctx, "example.com")

	first := New(store, auth, nil)
	first.RecordStart(ctx, 5, "r1", "https://example.com/", "GET", "main_frame", 0)
	first.RecordCompletion(5, "r1", 42, 204, nil)
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := New(store, auth, nil)
	defer second.Close()
	records, err := second.GetRecords(ctx, 5)
	if err != nil {
		t.Fatalf("get records: %v", err)
	}
	r, ok := records["r1"]
	if !ok {
		t.Fatal("expected record from durable mirror")
	}
	if r.StatusCode == nil || *r.StatusCode != 204 {
		t.Errorf("expected status 204, got %v", r.StatusCode)
	}
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	n := &collector{}
	tr := newTestTracker(t, kv.NewMemoryStore(), n)

	tr.RecordStart(ctx, 1, "ok", "https://example.com/a", "GET", "xhr", 0)
	tr.RecordStart(ctx, 1, "bad", "https://example.com/b", "GET", "xhr", 0)
	tr.RecordCompletion(1, "ok", 10, 200, nil)
	tr.RecordError(1, "bad", 12, "net::ERR_ABORTED")

	got := n.all()
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
	if got[0].Kind != model.KindCompleted || got[0].RequestID != "ok" {
		t.Errorf("unexpected first notification %+v", got[0])
	}
	if got[1].Kind != model.KindFailed || got[1].Record.Error != "net::ERR_ABORTED" {
		t.Errorf("unexpected second notification %+v", got[1])
	}
	if got[0].ID == "" || got[0].ID == got[1].ID {
		t.Errorf("expected distinct notification ids, got %q and %q", got[0].ID, got[1].ID)
	}
}

type failingStore struct {
	kv.Store
}

func (failingStore) Set(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestPersistFailureIsLoggedNotReturned(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)

	mem := kv.NewMemoryStore()
	auth := authz.NewDomainStore(mem)
	auth.Add(ctx, "example.com")

	tr := New(failingStore{mem}, auth, nil, WithLogger(zap.New(core)))
	defer tr.Close()

	tr.RecordStart(ctx, 1, "r1", "https://example.com/", "GET", "main_frame", 0)
	tr.RecordCompletion(1, "r1", 10, 200, nil)
	tr.Flush(ctx)

	records, _ := tr.GetRecords(ctx, 1)
	if _, ok := records["r1"]; !ok {
		t.Error("in-memory mutation must survive a failed persist")
	}

	warns := logs.FilterMessage("persist tab records failed").FilterLevelExact(zapcore.WarnLevel)
	if warns.Len() != 1 {
		t.Errorf("expected one persist warning, got %d", warns.Len())
	}
	if logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 0 {
		t.Error("persistence failures must not log at error level")
	}
}

func TestClosedTracker(t *testing.T) {
	tr := New(kv.NewMemoryStore(), authz.NewDomainStore(kv.NewMemoryStore()), nil)
	tr.Close()

	if err := tr.ClearRecords(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestTrackerMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	tr := newTestTracker(t, kv.NewMemoryStore(), nil, WithMetrics(m))

	tr.RecordStart(ctx, 1, "r1", "https://example.com/", "GET", "main_frame", 0)
	tr.RecordStart(ctx, 1, "r2", "https://nope.test/", "GET", "main_frame", 0)
	tr.RecordCompletion(1, "missing", 5, 200, nil)

	if got := testutil.ToFloat64(m.TrackerEvents.WithLabelValues("start", "created")); got != 1 {
		t.Errorf("expected 1 created start, got %v", got)
	}
	if got := testutil.ToFloat64(m.TrackerEvents.WithLabelValues("start", "unauthorized")); got != 1 {
		t.Errorf("expected 1 unauthorized start, got %v", got)
	}
	if got := testutil.ToFloat64(m.TrackerEvents.WithLabelValues("completed", "dropped")); got != 1 {
		t.Errorf("expected 1 dropped completion, got %v", got)
	}
	if got := testutil.ToFloat64(m.TrackedTabs); got != 1 {
		t.Errorf("expected 1 tracked tab, got %v", got)
	}
}
