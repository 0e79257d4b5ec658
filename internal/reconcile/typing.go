package reconcile

import (
	"sync"
	"time"

	"github.com/pulse/chat-sync/internal/metrics"
	"github.com/pulse/chat-sync/internal/store"
)

// typingTicks is how many decay intervals a typing indicator survives
// without a refresh.
const typingTicks = 5

type typingKey struct {
	peer, user int64
}

// TypingTracker owns the decay timers behind the store's typing state.
// An indicator starts at typingTicks and loses one tick per interval; a
// repeated typing event resets it, a message from the typist removes it
// immediately.
type TypingTracker struct {
	store    store.Store
	bus      store.Bus
	interval time.Duration

	mu      sync.Mutex
	timers  map[typingKey]*time.Timer
	stopped bool
}

func NewTypingTracker(st store.Store, bus store.Bus, interval time.Duration) *TypingTracker {
	if interval <= 0 {
		interval = time.Second
	}
	return &TypingTracker{
		store:    st,
		bus:      bus,
		interval: interval,
		timers:   make(map[typingKey]*time.Timer),
	}
}

// Start registers or refreshes a typing indicator.
func (t *TypingTracker) Start(peerID, userID int64, kind string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	_, existed := t.store.Typing(peerID, userID)
	t.store.SetTyping(peerID, userID, kind, typingTicks)
	if !existed {
		metrics.TypingActive.Inc()
		t.bus.Publish(store.Event{Kind: store.EventTypingStarted, PeerID: peerID, UserID: userID})
	}

	key := typingKey{peerID, userID}
	if _, ok := t.timers[key]; !ok {
		t.timers[key] = time.AfterFunc(t.interval, func() { t.tick(key) })
	}
}

func (t *TypingTracker) tick(key typingKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if _, ok := t.timers[key]; !ok {
		return
	}

	entry, ok := t.store.Typing(key.peer, key.user)
	if !ok {
		delete(t.timers, key)
		return
	}
	if entry.Ticks <= 1 {
		delete(t.timers, key)
		t.store.RemoveTyping(key.peer, key.user)
		metrics.TypingActive.Dec()
		t.bus.Publish(store.Event{Kind: store.EventTypingStopped, PeerID: key.peer, UserID: key.user})
		return
	}
	t.store.SetTyping(key.peer, key.user, entry.Kind, entry.Ticks-1)
	t.timers[key] = time.AfterFunc(t.interval, func() { t.tick(key) })
}

// Remove drops one typing indicator, if present.
func (t *TypingTracker) Remove(peerID, userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(typingKey{peerID, userID})
}

// ClearPeer drops every typing indicator of a peer.
func (t *TypingTracker) ClearPeer(peerID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.timers {
		if key.peer == peerID {
			t.removeLocked(key)
		}
	}
	// entries may exist without a timer after Stop/Start churn
	t.store.ClearTyping(peerID)
}

func (t *TypingTracker) removeLocked(key typingKey) {
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}
	if _, ok := t.store.Typing(key.peer, key.user); !ok {
		return
	}
	t.store.RemoveTyping(key.peer, key.user)
	metrics.TypingActive.Dec()
	t.bus.Publish(store.Event{Kind: store.EventTypingStopped, PeerID: key.peer, UserID: key.user})
}

// Stop cancels every pending timer. Used at session teardown.
func (t *TypingTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
}
