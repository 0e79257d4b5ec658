package reconcile

import (
	"sync"
	"time"

	"github.com/pulse/chat-sync/internal/domain"
	"github.com/pulse/chat-sync/internal/store"
)

// MuteTimers flips a conversation back to unmuted when its temporary mute
// deadline passes. Permanent mutes never get a timer.
type MuteTimers struct {
	store store.Store
	bus   store.Bus

	mu      sync.Mutex
	timers  map[int64]*time.Timer
	stopped bool
}

func NewMuteTimers(st store.Store, bus store.Bus) *MuteTimers {
	return &MuteTimers{store: st, bus: bus, timers: make(map[int64]*time.Timer)}
}

// Arm schedules an unmute at the deadline, replacing any earlier timer for
// the peer.
func (m *MuteTimers) Arm(peerID int64, until time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if timer, ok := m.timers[peerID]; ok {
		timer.Stop()
	}
	m.timers[peerID] = time.AfterFunc(time.Until(until), func() { m.expire(peerID) })
}

// Disarm cancels a pending unmute.
func (m *MuteTimers) Disarm(peerID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.timers[peerID]; ok {
		timer.Stop()
		delete(m.timers, peerID)
	}
}

func (m *MuteTimers) expire(peerID int64) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	delete(m.timers, peerID)
	m.mu.Unlock()

	muted := false
	m.store.PatchConversation(domain.ConversationPatch{ID: peerID, Muted: &muted})
	m.bus.Publish(store.Event{Kind: store.EventConvUpdated, PeerID: peerID})
}

// Stop cancels every pending timer.
func (m *MuteTimers) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for peerID, timer := range m.timers {
		timer.Stop()
		delete(m.timers, peerID)
	}
}
