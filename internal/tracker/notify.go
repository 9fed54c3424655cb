package tracker

import (
	"encoding/json"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/rcliao/netpulse/internal/logging"
	"github.com/rcliao/netpulse/internal/model"
)

// Notifier receives terminal-record notifications.
//
// Delivery is best-effort: Notify has no error result, must not block for
// long, and a missing or slow receiver is a normal condition.
type Notifier interface {
	Notify(n model.Notification)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(model.Notification) {}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(model.Notification)

func (f NotifierFunc) Notify(n model.Notification) { f(n) }

// WriterNotifier writes each notification as one JSON line.
type WriterNotifier struct {
	mu     sync.Mutex
	enc    *json.Encoder
	logger *zap.Logger
}

// NewWriterNotifier writes NDJSON notifications to w.
func NewWriterNotifier(w io.Writer, logger *zap.Logger) *WriterNotifier {
	return &WriterNotifier{enc: json.NewEncoder(w), logger: logging.OrNop(logger)}
}

func (w *WriterNotifier) Notify(n model.Notification) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(n); err != nil {
		w.logger.Debug("notification not delivered", zap.String("id", n.ID), zap.Error(err))
	}
}

// Broadcaster fans notifications out to subscribers. A subscriber whose
// buffer is full misses the notification.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[int]chan model.Notification
	next int
}

// NewBroadcaster returns a Broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: map[int]chan model.Notification{}}
}

// Subscribe registers a listener. The returned cancel func unregisters it
// and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan model.Notification, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan model.Notification, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the current listener count.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broadcaster) Notify(n model.Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
		}
	}
}
