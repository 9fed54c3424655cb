// Package tracker correlates browser network lifecycle events into
// per-request timing records, keyed by (tabId, requestId).
//
// The start event is the only point where a record is created and the only
// point where domain authorization is consulted. Headers, completion and
// error events for unknown keys are dropped. Terminal mutations are
// mirrored to durable storage under requestData_{tabId} through an ordered
// write queue, and a best-effort notification is pushed to the Notifier.
//
// The write queue holds at most one pending write per tab. A newer snapshot
// replaces an unwritten older one, so a slow store never blocks callers and
// never grows the queue past the number of tabs.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/rcliao/netpulse/internal/authz"
	"github.com/rcliao/netpulse/internal/kv"
	"github.com/rcliao/netpulse/internal/logging"
	"github.com/rcliao/netpulse/internal/metrics"
	"github.com/rcliao/netpulse/internal/model"
)

// StorageKeyPrefix prefixes every per-tab durable mirror key.
const StorageKeyPrefix = "requestData_"

// ErrClosed is returned by operations that need the write queue after Close.
var ErrClosed = errors.New("tracker closed")

const defaultPersistTimeout = 5 * time.Second

// StorageKey returns the durable mirror key for a tab.
func StorageKey(tabID int) string {
	return StorageKeyPrefix + strconv.Itoa(tabID)
}

type entry struct {
	rec model.RequestRecord
	// contentLength is taken from response headers and backs up a
	// completion event that carries no size.
	contentLength *int64
}

// pendingWrite is the latest unwritten durable state for one tab.
type pendingWrite struct {
	records map[string]model.RequestRecord
	remove  bool
	waiters []chan error
}

// Tracker owns the in-memory map tabId -> requestId -> record.
type Tracker struct {
	mu      sync.Mutex
	tabs    map[int]map[string]*entry
	closed  bool
	entropy io.Reader

	store    kv.Store
	auth     authz.Authorizer
	notifier Notifier
	logger   *zap.Logger
	metrics  *metrics.Metrics

	pending  map[int]*pendingWrite
	order    []int
	inflight bool
	flushers []chan error
	wake     chan struct{}

	done           chan struct{}
	closeOnce      sync.Once
	persistTimeout time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(t *Tracker) { t.logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(t *Tracker) { t.metrics = m } }

// WithPersistTimeout bounds each durable write.
func WithPersistTimeout(d time.Duration) Option { return func(t *Tracker) { t.persistTimeout = d } }

// New creates a Tracker and starts its persistence worker. A nil notifier
// disables notifications.
func New(store kv.Store, auth authz.Authorizer, notifier Notifier, opts ...Option) *Tracker {
	t := &Tracker{
		tabs:           map[int]map[string]*entry{},
		entropy:        ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		store:          store,
		auth:           auth,
		notifier:       notifier,
		persistTimeout: defaultPersistTimeout,
		pending:        map[int]*pendingWrite{},
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	if t.notifier == nil {
		t.notifier = NopNotifier{}
	}
	t.logger = logging.OrNop(t.logger)

	go t.persistLoop()
	return t
}

// Close stops accepting durable writes and waits for pending ones.
func (t *Tracker) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		t.signal()
		<-t.done
	})
	return nil
}

// RecordStart creates a Started record when the URL's domain is authorized.
// Unauthorized domains and unparseable URLs are skipped silently.
func (t *Tracker) RecordStart(ctx context.Context, tabID int, requestID, rawURL, method, resourceType string, ts float64) {
	domain := domainOf(rawURL)
	if domain == "" {
		t.logger.Debug("skip request with unparseable url",
			zap.Int("tab_id", tabID), zap.String("request_id", requestID), zap.String("url", rawURL))
		t.metrics.TrackerEvent(string(KindStart), "invalid")
		return
	}

	ok, err := t.auth.IsAuthorized(ctx, domain)
	if err != nil {
		t.logger.Warn("domain authorization lookup failed",
			zap.String("domain", domain), zap.Error(err))
		t.metrics.TrackerEvent(string(KindStart), "auth_error")
		return
	}
	if !ok {
		t.logger.Debug("domain not authorized, not tracking",
			zap.Int("tab_id", tabID), zap.String("domain", domain))
		t.metrics.TrackerEvent(string(KindStart), "unauthorized")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tab, exists := t.tabs[tabID]
	if !exists {
		tab = map[string]*entry{}
		t.tabs[tabID] = tab
	}
	tab[requestID] = &entry{rec: model.RequestRecord{
		TabID:     tabID,
		RequestID: requestID,
		URL:       rawURL,
		Domain:    domain,
		Method:    method,
		Type:      resourceType,
		StartTime: ts,
	}}
	t.metrics.TrackerEvent(string(KindStart), "created")
	t.metrics.SetTrackedTabs(len(t.tabs))
}

// RecordHeaders stamps headerReceivedTime and, when headers is non-nil,
// the serialized header size.
func (t *Tracker) RecordHeaders(tabID int, requestID string, ts float64, headers []model.Header) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.lookupLocked(tabID, requestID, KindHeaders)
	if e == nil {
		return
	}
	e.rec.HeaderReceivedTime = &ts
	if headers != nil {
		size := headersSize(headers)
		e.rec.ResponseHeadersSize = &size
		e.contentLength = contentLength(headers)
	}
	t.metrics.TrackerEvent(string(KindHeaders), "applied")
}

// RecordCompletion finalizes a record with its status code and derived
// timings, persists the tab and notifies listeners.
func (t *Tracker) RecordCompletion(tabID int, requestID string, ts float64, statusCode int, responseSize *int64) {
	t.mu.Lock()
	e := t.lookupLocked(tabID, requestID, KindCompleted)
	if e == nil {
		t.mu.Unlock()
		return
	}

	finish(&e.rec, ts)
	e.rec.StatusCode = &statusCode
	e.rec.Error = ""
	switch {
	case responseSize != nil:
		v := *responseSize
		e.rec.ResponseSize = &v
	case e.contentLength != nil:
		v := *e.contentLength
		e.rec.ResponseSize = &v
	}

	n := t.terminalLocked(tabID, e, model.KindCompleted)
	t.mu.Unlock()

	t.metrics.TrackerEvent(string(KindCompleted), "applied")
	t.notifier.Notify(n)
}

// RecordError finalizes a record with the browser's error text, persists
// the tab and notifies listeners.
func (t *Tracker) RecordError(tabID int, requestID string, ts float64, errorText string) {
	t.mu.Lock()
	e := t.lookupLocked(tabID, requestID, KindError)
	if e == nil {
		t.mu.Unlock()
		return
	}

	finish(&e.rec, ts)
	if errorText == "" {
		errorText = "unknown error"
	}
	e.rec.Error = errorText
	e.rec.StatusCode = nil

	n := t.terminalLocked(tabID, e, model.KindFailed)
	t.mu.Unlock()

	t.metrics.TrackerEvent(string(KindError), "applied")
	t.notifier.Notify(n)
}

// GetRecords returns a copy of the tab's records. When memory holds none
// (for example after a restart) it falls back to the durable mirror.
func (t *Tracker) GetRecords(ctx context.Context, tabID int) (map[string]model.RequestRecord, error) {
	t.mu.Lock()
	if tab := t.tabs[tabID]; len(tab) > 0 {
		out := make(map[string]model.RequestRecord, len(tab))
		for id, e := range tab {
			out[id] = e.rec.Clone()
		}
		t.mu.Unlock()
		return out, nil
	}
	t.mu.Unlock()

	records, ok, err := kv.GetJSON[map[string]model.RequestRecord](ctx, t.store, StorageKey(tabID))
	if err != nil {
		return map[string]model.RequestRecord{}, fmt.Errorf("read tab %d mirror: %w", tabID, err)
	}
	if !ok || records == nil {
		return map[string]model.RequestRecord{}, nil
	}
	return records, nil
}

// ClearRecords empties the tab in memory and deletes its durable mirror.
// The delete replaces any unwritten snapshot of the tab and lands after
// one already in flight.
func (t *Tracker) ClearRecords(ctx context.Context, tabID int) error {
	t.mu.Lock()
	delete(t.tabs, tabID)
	t.metrics.SetTrackedTabs(len(t.tabs))
	done := make(chan error, 1)
	err := t.enqueueLocked(tabID, nil, true, done)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	return wait(ctx, done)
}

// OnTabClosed drops all state for a closed tab.
func (t *Tracker) OnTabClosed(ctx context.Context, tabID int) error {
	t.logger.Debug("tab closed, dropping records", zap.Int("tab_id", tabID))
	return t.ClearRecords(ctx, tabID)
}

// Flush waits until the write queue is empty and no write is in flight.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if len(t.order) == 0 && !t.inflight {
		t.mu.Unlock()
		return nil
	}
	done := make(chan error, 1)
	t.flushers = append(t.flushers, done)
	t.mu.Unlock()
	return wait(ctx, done)
}

// Tabs returns the IDs of tabs holding in-memory records, sorted.
func (t *Tracker) Tabs() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]int, 0, len(t.tabs))
	for id, tab := range t.tabs {
		if len(tab) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

func (t *Tracker) lookupLocked(tabID int, requestID string, kind EventKind) *entry {
	e := t.tabs[tabID][requestID]
	if e == nil {
		t.logger.Debug("no record for event, dropping",
			zap.String("kind", string(kind)), zap.Int("tab_id", tabID), zap.String("request_id", requestID))
		t.metrics.TrackerEvent(string(kind), "dropped")
	}
	return e
}

// terminalLocked queues the tab snapshot for persistence and builds the
// notification. Called with t.mu held.
func (t *Tracker) terminalLocked(tabID int, e *entry, kind model.NotificationKind) model.Notification {
	tab := t.tabs[tabID]
	snapshot := make(map[string]model.RequestRecord, len(tab))
	for id, other := range tab {
		snapshot[id] = other.rec.Clone()
	}
	if err := t.enqueueLocked(tabID, snapshot, false, nil); err != nil {
		t.logger.Warn("persist skipped", zap.Int("tab_id", tabID), zap.Error(err))
	}

	return model.Notification{
		ID:        ulid.MustNew(ulid.Timestamp(time.Now()), t.entropy).String(),
		Kind:      kind,
		TabID:     tabID,
		RequestID: e.rec.RequestID,
		Record:    e.rec.Clone(),
	}
}

// enqueueLocked records the tab's latest durable state and wakes the
// worker. It never blocks. A non-nil done receives the result of the write
// that carries this state. Called with t.mu held.
func (t *Tracker) enqueueLocked(tabID int, records map[string]model.RequestRecord, remove bool, done chan error) error {
	if t.closed {
		return ErrClosed
	}
	w, ok := t.pending[tabID]
	if !ok {
		w = &pendingWrite{}
		t.pending[tabID] = w
		t.order = append(t.order, tabID)
	}
	w.records, w.remove = records, remove
	if done != nil {
		w.waiters = append(w.waiters, done)
	}
	t.signal()
	return nil
}

func (t *Tracker) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// persistLoop writes pending tab states in first-queued order, one at a
// time, outside the tracker lock.
func (t *Tracker) persistLoop() {
	defer close(t.done)
	for {
		t.mu.Lock()
		for len(t.order) == 0 && !t.closed {
			t.mu.Unlock()
			<-t.wake
			t.mu.Lock()
		}
		if len(t.order) == 0 {
			t.releaseFlushersLocked()
			t.mu.Unlock()
			return
		}
		tabID := t.order[0]
		t.order = t.order[1:]
		w := t.pending[tabID]
		delete(t.pending, tabID)
		t.inflight = true
		t.mu.Unlock()

		err := t.write(tabID, w)
		for _, ch := range w.waiters {
			ch <- err
		}

		t.mu.Lock()
		t.inflight = false
		if len(t.order) == 0 {
			t.releaseFlushersLocked()
		}
		t.mu.Unlock()
	}
}

func (t *Tracker) write(tabID int, w *pendingWrite) error {
	ctx, cancel := context.WithTimeout(context.Background(), t.persistTimeout)
	defer cancel()
	var err error
	if w.remove {
		err = t.store.Delete(ctx, StorageKey(tabID))
	} else {
		err = kv.SetJSON(ctx, t.store, StorageKey(tabID), w.records)
	}
	if err != nil {
		t.logger.Warn("persist tab records failed",
			zap.Int("tab_id", tabID), zap.Bool("remove", w.remove), zap.Error(err))
	}
	return err
}

func (t *Tracker) releaseFlushersLocked() {
	for _, ch := range t.flushers {
		ch <- nil
	}
	t.flushers = nil
}

func wait(ctx context.Context, done chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish stamps endTime and the derived timings. ttfb and
// contentDownloadTime are only set when headers were observed.
func finish(r *model.RequestRecord, ts float64) {
	end := ts
	total := end - r.StartTime
	r.EndTime = &end
	r.TotalTime = &total
	if r.HeaderReceivedTime != nil {
		ttfb := *r.HeaderReceivedTime - r.StartTime
		download := total - ttfb
		r.TTFB = &ttfb
		r.ContentDownloadTime = &download
	}
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func headersSize(headers []model.Header) int {
	b, err := json.Marshal(headers)
	if err != nil {
		return 0
	}
	return len(b)
}

func contentLength(headers []model.Header) *int64 {
	for _, h := range headers {
		if !strings.EqualFold(h.Name, "Content-Length") {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(h.Value), 10, 64)
		if err != nil || n < 0 {
			return nil
		}
		return &n
	}
	return nil
}
