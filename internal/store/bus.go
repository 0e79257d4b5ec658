package store

import "sync"

// Event kinds published on the change bus. Observers (a UI process or any
// downstream consumer) mirror the store by reacting to these.
const (
	EventNewMessage     = "message.new"
	EventScrollUnlock   = "scroll.unlock"
	EventConvUpdated    = "conversation.updated"
	EventConvMoved      = "conversation.moved"
	EventConvRemoved    = "conversation.removed"
	EventTypingStarted  = "typing.started"
	EventTypingStopped  = "typing.stopped"
	EventUnreadDialogs  = "counter.unread_dialogs"
	EventSessionStopped = "session.stopped"
)

// Event is one change notification. Only the fields relevant to the kind
// are set.
type Event struct {
	Kind   string `json:"kind"`
	PeerID int64  `json:"peer_id,omitempty"`
	UserID int64  `json:"user_id,omitempty"`
	MsgID  int64  `json:"msg_id,omitempty"`
	// RandomID and First accompany message.new so observers can dedupe
	// their own pending sends against the authoritative echo; Echo marks a
	// message the engine itself sent.
	RandomID int64 `json:"random_id,omitempty"`
	First    bool  `json:"first,omitempty"`
	Echo     bool  `json:"echo,omitempty"`
	// UnlockUp / UnlockDown accompany scroll.unlock: more history may now
	// be fetchable past the corresponding pagination boundary.
	UnlockUp   bool `json:"unlock_up,omitempty"`
	UnlockDown bool `json:"unlock_down,omitempty"`
	Count      int  `json:"count,omitempty"`
}

// Bus publishes change events to observers. Implementations must not block
// dispatch for long; publishing is fire-and-forget.
type Bus interface {
	Publish(ev Event)
}

// NopBus discards all events.
type NopBus struct{}

func (NopBus) Publish(Event) {}

// MemBus records events in memory; used in tests and by in-process
// observers.
type MemBus struct {
	mu     sync.Mutex
	events []Event
}

// NewMemBus creates an empty recording bus.
func NewMemBus() *MemBus {
	return &MemBus{}
}

func (b *MemBus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

// Events returns a copy of everything published so far.
func (b *MemBus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// ByKind returns published events of one kind, in order.
func (b *MemBus) ByKind(kind string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for _, ev := range b.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
