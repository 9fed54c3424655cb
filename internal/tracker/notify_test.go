package tracker

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rcliao/netpulse/internal/model"
)

func TestWriterNotifier(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriterNotifier(&buf, nil)

	w.Notify(model.Notification{ID: "a", Kind: model.KindCompleted, TabID: 1, RequestID: "r1"})
	w.Notify(model.Notification{ID: "b", Kind: model.KindFailed, TabID: 1, RequestID: "r2"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var n model.Notification
	if err := json.Unmarshal([]byte(lines[1]), &n); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if n.Kind != model.KindFailed || n.RequestID != "r2" {
		t.Errorf("unexpected notification %+v", n)
	}
}

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster()
	a, cancelA := b.Subscribe(1)
	c, cancelC := b.Subscribe(1)
	defer cancelC()

	b.Notify(model.Notification{ID: "1"})
	if got := (<-a).ID; got != "1" {
		t.Errorf("subscriber a got %q", got)
	}
	if got := (<-c).ID; got != "1" {
		t.Errorf("subscriber c got %q", got)
	}

	cancelA()
	cancelA()
	if b.Subscribers() != 1 {
		t.Errorf("expected 1 subscriber, got %d", b.Subscribers())
	}
	if _, ok := <-a; ok {
		t.Error("expected cancelled channel to be closed")
	}
}

func TestBroadcasterDropsWhenFull(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Notify(model.Notification{ID: "1"})
	b.Notify(model.Notification{ID: "2"})

	if got := (<-ch).ID; got != "1" {
		t.Errorf("expected first notification, got %q", got)
	}
	select {
	case n := <-ch:
		t.Errorf("expected overflow to be dropped, got %q", n.ID)
	default:
	}
}
