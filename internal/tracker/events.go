package tracker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/rcliao/netpulse/internal/model"
)

// EventKind names a browser lifecycle event.
type EventKind string

const (
	KindStart     EventKind = "start"
	KindHeaders   EventKind = "headers"
	KindCompleted EventKind = "completed"
	KindError     EventKind = "error"
	KindTabClosed EventKind = "tab_closed"
)

// webRequestKinds maps the browser API listener names onto event kinds so
// an extension can forward events without renaming them.
var webRequestKinds = map[string]EventKind{
	"onBeforeRequest":   KindStart,
	"onHeadersReceived": KindHeaders,
	"onCompleted":       KindCompleted,
	"onErrorOccurred":   KindError,
	"onRemoved":         KindTabClosed,
}

// ParseKind accepts either an EventKind or a webRequest listener name.
func ParseKind(s string) (EventKind, error) {
	switch k := EventKind(s); k {
	case KindStart, KindHeaders, KindCompleted, KindError, KindTabClosed:
		return k, nil
	}
	if k, ok := webRequestKinds[s]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}

// Event is the wire form of one browser lifecycle event.
type Event struct {
	Kind            string         `json:"kind"`
	TabID           int            `json:"tabId"`
	RequestID       string         `json:"requestId,omitempty"`
	URL             string         `json:"url,omitempty"`
	Method          string         `json:"method,omitempty"`
	Type            string         `json:"type,omitempty"`
	TimeStamp       float64        `json:"timeStamp"`
	StatusCode      int            `json:"statusCode,omitempty"`
	ResponseHeaders []model.Header `json:"responseHeaders,omitempty"`
	ResponseSize    *int64         `json:"responseSize,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// ErrInvalidEvent wraps events that cannot be applied.
var ErrInvalidEvent = errors.New("invalid event")

// Apply routes one event to the matching tracker operation. Requests that
// do not belong to a tab (tabId < 0) are ignored.
func (t *Tracker) Apply(ctx context.Context, ev Event) error {
	kind, err := ParseKind(ev.Kind)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if ev.TabID < 0 {
		t.logger.Debug("ignoring event outside any tab", zap.String("kind", ev.Kind))
		return nil
	}
	if kind != KindTabClosed && ev.RequestID == "" {
		return fmt.Errorf("%w: %s event without requestId", ErrInvalidEvent, kind)
	}

	switch kind {
	case KindStart:
		method := ev.Method
		if method == "" {
			method = "GET"
		}
		t.RecordStart(ctx, ev.TabID, ev.RequestID, ev.URL, method, ev.Type, ev.TimeStamp)
	case KindHeaders:
		t.RecordHeaders(ev.TabID, ev.RequestID, ev.TimeStamp, ev.ResponseHeaders)
	case KindCompleted:
		t.RecordCompletion(ev.TabID, ev.RequestID, ev.TimeStamp, ev.StatusCode, ev.ResponseSize)
	case KindError:
		t.RecordError(ev.TabID, ev.RequestID, ev.TimeStamp, ev.Error)
	case KindTabClosed:
		return t.OnTabClosed(ctx, ev.TabID)
	}
	return nil
}

// EventSource yields events until it returns io.EOF.
type EventSource interface {
	Next(ctx context.Context) (Event, error)
}

// maxEventLine bounds one NDJSON line.
const maxEventLine = 1 << 20

// DecoderSource reads newline-delimited JSON events. A line that is not a
// valid event is reported as ErrInvalidEvent and the source moves on to
// the next line.
type DecoderSource struct {
	sc   *bufio.Scanner
	line int
}

// NewDecoderSource reads events from r.
func NewDecoderSource(r io.Reader) *DecoderSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	return &DecoderSource{sc: sc}
}

func (s *DecoderSource) Next(ctx context.Context) (Event, error) {
	var ev Event
	for {
		if err := ctx.Err(); err != nil {
			return ev, err
		}
		if !s.sc.Scan() {
			if err := s.sc.Err(); err != nil {
				return ev, fmt.Errorf("read events: %w", err)
			}
			return ev, io.EOF
		}
		s.line++
		line := bytes.TrimSpace(s.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, &ev); err != nil {
			return Event{}, fmt.Errorf("%w: line %d: %v", ErrInvalidEvent, s.line, err)
		}
		return ev, nil
	}
}

// Run applies events from src until it is exhausted or ctx ends. Invalid
// events, including undecodable lines, are logged and skipped; a read
// failure stops the run.
func (t *Tracker) Run(ctx context.Context, src EventSource) (applied int, err error) {
	for {
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return applied, nil
		}
		if errors.Is(err, ErrInvalidEvent) {
			t.logger.Warn("skipping event", zap.Error(err))
			continue
		}
		if err != nil {
			return applied, err
		}
		if err := t.Apply(ctx, ev); err != nil {
			t.logger.Warn("skipping event", zap.Error(err))
			continue
		}
		applied++
	}
}
