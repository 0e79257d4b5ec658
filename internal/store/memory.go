package store

import (
	"sort"
	"sync"

	"github.com/pulse/chat-sync/internal/domain"
)

// Memory is the in-process Store implementation. It is goroutine-safe; every
// command takes the store lock, so handler mutations and typing-decay ticks
// touching the same entry are serialized.
type Memory struct {
	mu sync.RWMutex

	convs  map[int64]*convState
	active []int64 // ordering list, most recent first

	typing   map[int64]map[int64]TypingEntry
	profiles map[int64]domain.Profile

	unreadDialogs int
}

type convState struct {
	conv    domain.Conversation
	last    *domain.Message
	msgs    []domain.Message
	opened  bool
	loading bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		convs:    make(map[int64]*convState),
		typing:   make(map[int64]map[int64]TypingEntry),
		profiles: make(map[int64]domain.Profile),
	}
}

func (m *Memory) state(peerID int64) *convState {
	cs, ok := m.convs[peerID]
	if !ok {
		cs = &convState{conv: domain.Conversation{ID: peerID, Members: domain.MembersUnknown}}
		m.convs[peerID] = cs
	}
	return cs
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

func (m *Memory) Conversation(peerID int64) (domain.Conversation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cs, ok := m.convs[peerID]
	if !ok {
		return domain.Conversation{}, false
	}
	return cs.conv, true
}

func (m *Memory) LastMessage(peerID int64) (domain.Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cs, ok := m.convs[peerID]
	if !ok || cs.last == nil {
		return domain.Message{}, false
	}
	return *cs.last, true
}

func (m *Memory) Messages(peerID int64) []domain.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cs, ok := m.convs[peerID]
	if !ok {
		return nil
	}
	out := make([]domain.Message, len(cs.msgs))
	copy(out, cs.msgs)
	return out
}

func (m *Memory) ActivePeers() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]int64, len(m.active))
	copy(out, m.active)
	return out
}

func (m *Memory) HasActivePeer(peerID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeIndex(peerID) >= 0
}

func (m *Memory) ViewOpened(peerID int64) (bool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cs, ok := m.convs[peerID]
	if !ok {
		return false, false
	}
	return cs.opened, cs.loading
}

func (m *Memory) HasProfile(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.profiles[id]
	return ok
}

// Profile returns the stored profile; exposed for observers and tests.
func (m *Memory) Profile(id int64) (domain.Profile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	return p, ok
}

func (m *Memory) Typing(peerID, userID int64) (TypingEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.typing[peerID][userID]
	return entry, ok
}

func (m *Memory) FindMessagePeer(msgID int64) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for peerID, cs := range m.convs {
		for i := range cs.msgs {
			if cs.msgs[i].ID == msgID {
				return peerID, true
			}
		}
	}
	return 0, false
}

func (m *Memory) NewestMessageID() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.active) == 0 {
		return 0
	}
	cs, ok := m.convs[m.active[0]]
	if !ok || cs.last == nil {
		return 0
	}
	return cs.last.ID
}

// UnreadDialogs returns the account-level unread dialog counter.
func (m *Memory) UnreadDialogs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unreadDialogs
}

// ---------------------------------------------------------------------------
// Conversation mutations
// ---------------------------------------------------------------------------

func (m *Memory) UpsertConversation(conv domain.Conversation, lastMsg *domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := m.state(conv.ID)
	cs.conv = conv
	if lastMsg != nil {
		msg := *lastMsg
		cs.last = &msg
		cs.conv.LastMsgID = msg.ID
	}
}

func (m *Memory) PatchConversation(patch domain.ConversationPatch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := m.state(patch.ID)
	patch.Apply(&cs.conv)
}

func (m *Memory) SetLastMessage(peerID int64, msg *domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := m.state(peerID)
	if msg == nil {
		cs.last = nil
		return
	}
	copied := *msg
	cs.last = &copied
	cs.conv.LastMsgID = copied.ID
}

func (m *Memory) AddActivePeer(peerID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeIndex(peerID) >= 0 {
		return
	}
	m.active = append(m.active, peerID)
	m.reposition(peerID)
}

func (m *Memory) RemoveActivePeer(peerID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.activeIndex(peerID); i >= 0 {
		m.active = append(m.active[:i], m.active[i+1:]...)
	}
}

func (m *Memory) MoveConversation(peerID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reposition(peerID)
}

func (m *Memory) activeIndex(peerID int64) int {
	for i, id := range m.active {
		if id == peerID {
			return i
		}
	}
	return -1
}

// reposition re-sorts the active list entry for peerID by its last-message
// id (message ids grow monotonically across the account, so they double as
// the recency ordering key).
func (m *Memory) reposition(peerID int64) {
	if m.activeIndex(peerID) < 0 {
		return
	}
	sort.SliceStable(m.active, func(i, j int) bool {
		return m.lastMsgID(m.active[i]) > m.lastMsgID(m.active[j])
	})
}

func (m *Memory) lastMsgID(peerID int64) int64 {
	cs, ok := m.convs[peerID]
	if !ok {
		return 0
	}
	if cs.last != nil {
		return cs.last.ID
	}
	return cs.conv.LastMsgID
}

// ---------------------------------------------------------------------------
// Message mutations
// ---------------------------------------------------------------------------

func (m *Memory) AppendMessages(peerID int64, msgs []domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := m.state(peerID)
	for _, msg := range msgs {
		if m.replaceExisting(cs, msg) {
			continue
		}
		cs.msgs = append(cs.msgs, msg)
	}
}

func (m *Memory) InsertMessage(peerID int64, msg domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := m.state(peerID)
	if m.replaceExisting(cs, msg) {
		return
	}
	i := sort.Search(len(cs.msgs), func(i int) bool {
		return cs.msgs[i].ID >= msg.ID
	})
	cs.msgs = append(cs.msgs, domain.Message{})
	copy(cs.msgs[i+1:], cs.msgs[i:])
	cs.msgs[i] = msg
}

func (m *Memory) replaceExisting(cs *convState, msg domain.Message) bool {
	for i := range cs.msgs {
		if cs.msgs[i].ID == msg.ID {
			cs.msgs[i] = msg
			return true
		}
	}
	return false
}

func (m *Memory) EditMessage(peerID int64, msg domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.convs[peerID]
	if !ok {
		return
	}
	for i := range cs.msgs {
		if cs.msgs[i].ID == msg.ID {
			cs.msgs[i] = msg
			break
		}
	}
	if cs.last != nil && cs.last.ID == msg.ID {
		copied := msg
		cs.last = &copied
	}
}

func (m *Memory) MarkListened(peerID, msgID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.convs[peerID]
	if !ok {
		return
	}
	for i := range cs.msgs {
		if cs.msgs[i].ID == msgID {
			cs.msgs[i].WasListened = true
			break
		}
	}
	if cs.last != nil && cs.last.ID == msgID {
		cs.last.WasListened = true
	}
}

func (m *Memory) RemoveMessages(peerID int64, msgIDs []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.convs[peerID]
	if !ok {
		return
	}
	remove := make(map[int64]bool, len(msgIDs))
	for _, id := range msgIDs {
		remove[id] = true
	}
	kept := cs.msgs[:0]
	for _, msg := range cs.msgs {
		if !remove[msg.ID] {
			kept = append(kept, msg)
		}
	}
	cs.msgs = kept
}

func (m *Memory) RemoveAllMessages(peerID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cs, ok := m.convs[peerID]; ok {
		cs.msgs = nil
		cs.last = nil
	}
}

// ---------------------------------------------------------------------------
// Typing mutations
// ---------------------------------------------------------------------------

func (m *Memory) SetTyping(peerID, userID int64, kind string, ticks int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	peerTyping, ok := m.typing[peerID]
	if !ok {
		peerTyping = make(map[int64]TypingEntry)
		m.typing[peerID] = peerTyping
	}
	peerTyping[userID] = TypingEntry{Kind: kind, Ticks: ticks}
}

func (m *Memory) RemoveTyping(peerID, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if peerTyping, ok := m.typing[peerID]; ok {
		delete(peerTyping, userID)
		if len(peerTyping) == 0 {
			delete(m.typing, peerID)
		}
	}
}

func (m *Memory) ClearTyping(peerID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.typing, peerID)
}

// ---------------------------------------------------------------------------
// Profiles and account state
// ---------------------------------------------------------------------------

func (m *Memory) UpsertProfiles(profiles []domain.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range profiles {
		m.profiles[p.ID] = p
	}
}

func (m *Memory) PatchProfile(patch domain.ProfilePatch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[patch.ID]
	if !ok {
		return
	}
	patch.Apply(&p)
	m.profiles[patch.ID] = p
}

func (m *Memory) SetUnreadDialogs(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreadDialogs = count
}

func (m *Memory) SetViewOpened(peerID int64, opened bool, loading bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := m.state(peerID)
	cs.opened = opened
	cs.loading = loading
}
