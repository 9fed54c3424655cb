package sse

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"go.uber.org/zap/zaptest"
)

type trackedBody struct {
	io.Reader
	closed atomic.Bool
}

func (b *trackedBody) Close() error {
	b.closed.Store(true)
	return nil
}

func extractText(raw json.RawMessage) (string, error) {
	var v struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	if v.Text == nil {
		return "", errors.New("no text field")
	}
	return *v.Text, nil
}

func newDecoder(t *testing.T) *Decoder {
	return &Decoder{Logger: zaptest.NewLogger(t)}
}

func TestDecodeStream(t *testing.T) {
	input := strings.Join([]string{
		": keepalive",
		"event: message",
		`data: {"text":"Hello"}`,
		"",
		`data: not json`,
		`data: {"other":1}`,
		`data:{"text":", "}`,
		`data: {"text":"world"}` + "\r",
		"data: [DONE]",
		"",
	}, "\n")
	body := &trackedBody{Reader: strings.NewReader(input)}

	var deltas, fulls []string
	got, err := newDecoder(t).Decode(context.Background(), body, extractText, func(delta, full string) {
		deltas = append(deltas, delta)
		fulls = append(fulls, full)
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != "Hello, world" {
		t.Errorf("expected %q, got %q", "Hello, world", got)
	}
	if strings.Join(deltas, "|") != "Hello|, |world" {
		t.Errorf("unexpected deltas %q", deltas)
	}
	if fulls[len(fulls)-1] != "Hello, world" {
		t.Errorf("unexpected cumulative text %q", fulls)
	}
	if !body.closed.Load() {
		t.Error("expected body to be closed")
	}
}

func TestDecodeMultiByteAcrossReads(t *testing.T) {
	input := `data: {"text":"网络"}` + "\n" + `data: {"text":"性能"}`
	body := &trackedBody{Reader: iotest.OneByteReader(strings.NewReader(input))}

	got, err := newDecoder(t).Decode(context.Background(), body, extractText, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != "网络性能" {
		t.Errorf("expected %q, got %q", "网络性能", got)
	}
}

func TestDecodeReadError(t *testing.T) {
	boom := errors.New("connection reset")
	body := &trackedBody{Reader: io.MultiReader(strings.NewReader(`data: {"text":"a"}`+"\n"), iotest.ErrReader(boom))}

	got, err := newDecoder(t).Decode(context.Background(), body, extractText, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected read error, got %v", err)
	}
	if got != "a" {
		t.Errorf("expected partial text, got %q", got)
	}
	if !body.closed.Load() {
		t.Error("expected body to be closed")
	}
}

func TestDecodeStall(t *testing.T) {
	pr, pw := io.Pipe()
	go pw.Write([]byte(`data: {"text":"first"}` + "\n"))

	d := &Decoder{StallTimeout: 50 * time.Millisecond, OverallTimeout: 5 * time.Second, Logger: zaptest.NewLogger(t)}
	got, err := d.Decode(context.Background(), pr, extractText, nil)

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if te.Budget != BudgetStall {
		t.Errorf("expected stall budget, got %s", te.Budget)
	}
	if got != "first" {
		t.Errorf("expected partial text, got %q", got)
	}
	if _, err := pw.Write([]byte("late")); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("expected body closed after stall, got %v", err)
	}
	if _, err := pr.Read(make([]byte, 1)); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("expected closed body to report ErrClosedPipe, got %v", err)
	}
}

func TestDecodeOverallTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		for {
			if _, err := pw.Write([]byte(": ping\n")); err != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	d := &Decoder{StallTimeout: time.Second, OverallTimeout: 60 * time.Millisecond}
	_, err := d.Decode(context.Background(), pr, extractText, nil)

	var te *TimeoutError
	if !errors.As(err, &te) || te.Budget != BudgetStream {
		t.Fatalf("expected stream budget timeout, got %v", err)
	}
}

func TestDecodeCancellation(t *testing.T) {
	errStop := errors.New("stopped by user")
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	pr, pw := io.Pipe()
	go pw.Write([]byte(`data: {"text":"partial"}` + "\n"))

	d := &Decoder{StallTimeout: 5 * time.Second, OverallTimeout: 5 * time.Second}
	_, err := d.Decode(ctx, pr, extractText, func(delta, full string) {
		cancel(errStop)
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("expected cancellation cause, got %v", err)
	}
	if _, err := pw.Write([]byte("x")); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("expected body closed after cancel, got %v", err)
	}
}
