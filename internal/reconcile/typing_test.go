package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/pulse/chat-sync/internal/dispatch"
	"github.com/pulse/chat-sync/internal/domain"
	"github.com/pulse/chat-sync/internal/event"
	"github.com/pulse/chat-sync/internal/store"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

func TestTyping_DecaysAfterTicks(t *testing.T) {
	f := newFixture(t)

	err := f.h.handleTyping("text")(context.Background(), dispatch.Entry{
		Data: &event.Typing{PeerID: 200, UserIDs: []int64{11}},
	})
	if err != nil {
		t.Fatalf("handleTyping: %v", err)
	}

	entry, ok := f.store.Typing(200, 11)
	if !ok || entry.Kind != "text" || entry.Ticks != typingTicks {
		t.Fatalf("Typing = %+v, %v", entry, ok)
	}

	if !waitFor(t, time.Second, func() bool {
		_, ok := f.store.Typing(200, 11)
		return !ok
	}) {
		t.Fatal("typing indicator did not decay")
	}

	if started := f.bus.ByKind(store.EventTypingStarted); len(started) != 1 {
		t.Errorf("typing.started events = %+v", started)
	}
	if stopped := f.bus.ByKind(store.EventTypingStopped); len(stopped) != 1 {
		t.Errorf("typing.stopped events = %+v", stopped)
	}
}

func TestTyping_RefreshResetsTicks(t *testing.T) {
	f := newFixture(t)

	f.h.typing.Start(200, 11, "text")
	// Let a couple of ticks elapse, then refresh.
	waitFor(t, time.Second, func() bool {
		entry, ok := f.store.Typing(200, 11)
		return ok && entry.Ticks < typingTicks
	})
	f.h.typing.Start(200, 11, "text")

	// A decay tick may race the assertion, so allow one already elapsed.
	entry, ok := f.store.Typing(200, 11)
	if !ok || entry.Ticks < typingTicks-1 {
		t.Errorf("Typing after refresh = %+v, %v", entry, ok)
	}

	if started := f.bus.ByKind(store.EventTypingStarted); len(started) != 1 {
		t.Errorf("refresh published extra typing.started: %+v", started)
	}
}

func TestTyping_SkipsOwnAccount(t *testing.T) {
	f := newFixture(t)

	err := f.h.handleTyping("audio")(context.Background(), dispatch.Entry{
		Data: &event.Typing{PeerID: 200, UserIDs: []int64{testAccount, 11}},
	})
	if err != nil {
		t.Fatalf("handleTyping: %v", err)
	}

	if _, ok := f.store.Typing(200, testAccount); ok {
		t.Error("own account got a typing indicator")
	}
	if entry, ok := f.store.Typing(200, 11); !ok || entry.Kind != "audio" {
		t.Errorf("Typing(200, 11) = %+v, %v", entry, ok)
	}
}

func TestTyping_RemovedByMessage(t *testing.T) {
	f := newFixture(t)
	f.seedConversation(200, 0, 10)
	f.h.typing.Start(200, 200, "text")

	if err := f.h.handleNewMessages(context.Background(), dispatch.Entry{
		Tag:    event.TagNewMessage,
		PeerID: 200,
		Items:  []any{incoming(200, 30)},
	}); err != nil {
		t.Fatalf("handleNewMessages: %v", err)
	}

	if _, ok := f.store.Typing(200, 200); ok {
		t.Error("a message from the typist did not clear the indicator")
	}
}

func TestMuteTimers_Expiry(t *testing.T) {
	st := store.NewMemory()
	bus := store.NewMemBus()
	st.UpsertConversation(domain.Conversation{ID: 200, Muted: true}, nil)

	m := NewMuteTimers(st, bus)
	defer m.Stop()

	m.Arm(200, time.Now().Add(5*time.Millisecond))

	if !waitFor(t, time.Second, func() bool {
		conv, _ := st.Conversation(200)
		return !conv.Muted
	}) {
		t.Fatal("mute did not expire")
	}
}

func TestMuteTimers_Disarm(t *testing.T) {
	st := store.NewMemory()
	st.UpsertConversation(domain.Conversation{ID: 200, Muted: true}, nil)

	m := NewMuteTimers(st, store.NewMemBus())
	defer m.Stop()

	m.Arm(200, time.Now().Add(5*time.Millisecond))
	m.Disarm(200)

	time.Sleep(20 * time.Millisecond)
	if conv, _ := st.Conversation(200); !conv.Muted {
		t.Error("disarmed timer still fired")
	}
}
