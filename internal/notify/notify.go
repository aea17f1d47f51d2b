// Package notify provides an in-process change bus: the engine publishes one
// notification per snapshot swap and live views subscribe to it.
package notify

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type is the kind of change a notification reports.
type Type int

const (
	// DatasetLoaded follows an import or load that replaced the dataset.
	DatasetLoaded Type = iota
	// FilterChanged follows a change of the active layers, actors or search
	// term.
	FilterChanged
	// SelectionChanged follows a change of the selected span set.
	SelectionChanged
)

var typeNames = [...]string{
	DatasetLoaded:    "dataset_loaded",
	FilterChanged:    "filter_changed",
	SelectionChanged: "selection_changed",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "unknown"
	}
	return typeNames[t]
}

// ParseType returns the type with the given name.
func ParseType(name string) (Type, bool) {
	for i, n := range typeNames {
		if n == name {
			return Type(i), true
		}
	}
	return 0, false
}

// MarshalText encodes the type by name.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a type name.
func (t *Type) UnmarshalText(text []byte) error {
	v, ok := ParseType(string(text))
	if !ok {
		return fmt.Errorf("unknown notification type %q", text)
	}
	*t = v
	return nil
}

// Notification describes one published snapshot.
type Notification struct {
	Type       Type   `json:"type"`
	DatasetID  string `json:"dataset_id"`
	Generation uint64 `json:"generation"`
	Visible    int    `json:"visible"`
	Total      int    `json:"total"`
	Timestamp  int64  `json:"timestamp"`
}

// Notifier fans notifications out to subscribers.
type Notifier struct {
	subscribers sync.Map
	bufferSize  int
	dropped     atomic.Int64
}

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 32

// NewNotifier creates a notifier whose subscriber channels hold bufferSize
// notifications.
func NewNotifier(bufferSize int) *Notifier {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Notifier{bufferSize: bufferSize}
}

// Publish sends notif to every matching subscriber. It never blocks: a
// subscriber whose channel is full misses the notification.
func (n *Notifier) Publish(notif Notification) {
	if notif.Timestamp == 0 {
		notif.Timestamp = time.Now().UnixMilli()
	}
	n.subscribers.Range(func(_, value interface{}) bool {
		sub := value.(*Subscriber)
		if !sub.matches(notif.Type) {
			return true
		}
		if !sub.send(notif) {
			n.dropped.Add(1)
		}
		return true
	})
}

// Subscribe registers a subscriber for the given types, or for every type
// when none are given.
func (n *Notifier) Subscribe(types ...Type) *Subscriber {
	sub := &Subscriber{
		ID:    "sub_" + uuid.NewString(),
		Types: types,
		ch:    make(chan Notification, n.bufferSize),
	}
	n.subscribers.Store(sub.ID, sub)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Unknown IDs are
// ignored.
func (n *Notifier) Unsubscribe(id string) {
	if value, ok := n.subscribers.LoadAndDelete(id); ok {
		value.(*Subscriber).close()
	}
}

// Subscribers returns the number of registered subscribers.
func (n *Notifier) Subscribers() int {
	count := 0
	n.subscribers.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// Dropped returns how many notifications were lost to full channels.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

// Subscriber is one registration on a Notifier.
type Subscriber struct {
	ID    string
	Types []Type

	mu     sync.Mutex
	ch     chan Notification
	closed bool
}

// send delivers without blocking and reports whether the notification was
// queued. A closed subscriber silently discards.
func (s *Subscriber) send(notif Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- notif:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// C returns the channel notifications arrive on. It is closed by
// Unsubscribe.
func (s *Subscriber) C() <-chan Notification {
	return s.ch
}

func (s *Subscriber) matches(t Type) bool {
	if len(s.Types) == 0 {
		return true
	}
	for _, want := range s.Types {
		if want == t {
			return true
		}
	}
	return false
}
