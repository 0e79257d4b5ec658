package longpoll

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/pulse/chat-sync/internal/api"
	"github.com/pulse/chat-sync/internal/dispatch"
	"github.com/pulse/chat-sync/internal/event"
	"github.com/pulse/chat-sync/internal/store"
)

// fakeCaller replays canned responses per method, in order, and records the
// parameters each call carried.
type fakeCaller struct {
	mu        sync.Mutex
	responses map[string][]string
	calls     []string
	params    map[string][]api.Params
}

func (f *fakeCaller) Call(_ context.Context, method string, params api.Params, _ ...api.Platform) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if f.params == nil {
		f.params = make(map[string][]api.Params)
	}
	f.params[method] = append(f.params[method], params)
	queued := f.responses[method]
	if len(queued) == 0 {
		return nil, fmt.Errorf("fakeCaller: no response for %s", method)
	}
	f.responses[method] = queued[1:]
	return json.RawMessage(queued[0]), nil
}

func (f *fakeCaller) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.calls {
		if m == method {
			n++
		}
	}
	return n
}

func (f *fakeCaller) firstParams(method string) api.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.params[method]) == 0 {
		return nil
	}
	return f.params[method][0]
}

// fakeSnap records cursor persistence calls.
type fakeSnap struct {
	mu      sync.Mutex
	saved   []Cursor
	cleared int
}

func (s *fakeSnap) Load(context.Context) (Cursor, error) { return Cursor{}, nil }

func (s *fakeSnap) Save(_ context.Context, cur Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, cur)
	return nil
}

func (s *fakeSnap) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared++
	return nil
}

type recorded struct {
	mu      sync.Mutex
	entries []dispatch.Entry
}

func (r *recorded) handle(_ context.Context, e dispatch.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recorded) all() []dispatch.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]dispatch.Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func testController(caller Caller, rec *recorded) *Controller {
	decode := func(t event.Tuple) (any, error) { return t, nil }
	registry := dispatch.Registry{
		event.TagNewMessage:    {Pack: true, Decode: decode, Handle: rec.handle},
		event.TagReadInbound:   {Decode: decode, Handle: rec.handle},
		event.TagUnreadCounter: {Decode: decode, Handle: rec.handle},
	}
	return New(DefaultConfig(), 100, caller, nil, dispatch.New(registry), store.NewMemory(), store.NewMemBus(), nil)
}

func TestApply_CursorMonotonic(t *testing.T) {
	var rec recorded
	c := testController(&fakeCaller{}, &rec)
	c.cursor = Cursor{TS: 500, PTS: 90}

	c.apply(context.Background(), &pollResponse{TS: 510})
	if c.cursor.TS != 510 {
		t.Errorf("TS = %d, want 510", c.cursor.TS)
	}

	// A smaller ts must never move the cursor backwards.
	c.apply(context.Background(), &pollResponse{TS: 505})
	if c.cursor.TS != 510 {
		t.Errorf("TS = %d after stale response, want 510", c.cursor.TS)
	}
}

func TestApply_AdvancesPTS(t *testing.T) {
	var rec recorded
	c := testController(&fakeCaller{}, &rec)
	c.cursor = Cursor{TS: 500, PTS: 90}

	var resp pollResponse
	if err := json.Unmarshal([]byte(`{"ts": 510, "pts": 200, "updates": []}`), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	c.apply(context.Background(), &resp)
	if c.cursor.PTS != 200 {
		t.Errorf("PTS = %d after poll response with pts=200, want 200", c.cursor.PTS)
	}

	// Stale or absent pts must not move the cursor backwards.
	c.apply(context.Background(), &pollResponse{TS: 520, PTS: 150})
	c.apply(context.Background(), &pollResponse{TS: 530})
	if c.cursor.PTS != 200 {
		t.Errorf("PTS = %d, want 200", c.cursor.PTS)
	}
	if c.cursor.TS != 530 {
		t.Errorf("TS = %d, want 530", c.cursor.TS)
	}
}

func TestApply_DispatchesUpdates(t *testing.T) {
	var rec recorded
	c := testController(&fakeCaller{}, &rec)

	c.apply(context.Background(), &pollResponse{
		TS: 501,
		Updates: []json.RawMessage{
			json.RawMessage(`[80, 3, 3]`),
			json.RawMessage(`not json`),
			json.RawMessage(`[6, 200, 50, 0]`),
		},
	})

	entries := rec.all()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (malformed skipped)", len(entries))
	}
	if entries[0].Tag != event.TagUnreadCounter || entries[1].Tag != event.TagReadInbound {
		t.Errorf("tags = %d, %d", entries[0].Tag, entries[1].Tag)
	}
}

func TestRecover_KeyExpiredKeepsCursor(t *testing.T) {
	var rec recorded
	caller := &fakeCaller{responses: map[string][]string{
		"messages.getLongPollServer": {
			`{"server": "im.vk.com/new", "key": "fresh", "ts": 999, "pts": 999}`,
		},
	}}
	c := testController(caller, &rec)
	c.server, c.key = "im.vk.com/old", "stale"
	c.cursor = Cursor{TS: 500, PTS: 90}

	if err := c.recover(context.Background(), &pollResponse{Failed: failKeyExpired}); err != nil {
		t.Fatalf("recover: %v", err)
	}

	if c.key != "fresh" || c.server != "im.vk.com/new" {
		t.Errorf("descriptor not rotated: server=%q key=%q", c.server, c.key)
	}
	if c.cursor.TS != 500 || c.cursor.PTS != 90 {
		t.Errorf("cursor = %+v, must be untouched by a key rotation", c.cursor)
	}
	if caller.callCount("messages.getLongPollHistory") != 0 {
		t.Error("key rotation must not trigger a backfill")
	}
}

func TestRecover_HistoryOutdatedBackfills(t *testing.T) {
	var rec recorded
	caller := &fakeCaller{responses: map[string][]string{
		"messages.getLongPollHistory": {
			`{"history": [[6, 200, 50, 0]], "new_pts": 120, "more": false}`,
		},
	}}
	c := testController(caller, &rec)
	c.cursor = Cursor{TS: 500, PTS: 90}

	err := c.recover(context.Background(), &pollResponse{Failed: failHistoryOutdated, TS: 600})
	if err != nil {
		t.Fatalf("recover: %v", err)
	}

	if c.cursor.TS != 600 {
		t.Errorf("TS = %d, want the ts from the failure response", c.cursor.TS)
	}
	// The history request must go out with the stale ts; the response ts is
	// adopted only after the gap is replayed.
	if got := caller.firstParams("messages.getLongPollHistory")["ts"]; got != "500" {
		t.Errorf("history requested with ts=%s, want 500", got)
	}
	if c.cursor.PTS != 120 {
		t.Errorf("PTS = %d, want new_pts from history", c.cursor.PTS)
	}
	if len(rec.all()) != 1 {
		t.Errorf("backfill dispatched %d entries, want 1", len(rec.all()))
	}
	if caller.callCount("messages.getLongPollServer") != 0 {
		t.Error("history-outdated must not refetch the descriptor")
	}
}

func TestRecover_DataLostRefetchesEverything(t *testing.T) {
	var rec recorded
	caller := &fakeCaller{responses: map[string][]string{
		"messages.getLongPollHistory": {
			`{"history": [], "new_pts": 130, "more": false}`,
		},
		"messages.getLongPollServer": {
			`{"server": "im.vk.com/next", "key": "next", "ts": 700, "pts": 700}`,
		},
	}}
	c := testController(caller, &rec)
	snap := &fakeSnap{}
	c.snap = snap
	c.cursor = Cursor{TS: 500, PTS: 90}

	if err := c.recover(context.Background(), &pollResponse{Failed: failDataLost}); err != nil {
		t.Fatalf("recover: %v", err)
	}

	if c.cursor.PTS != 130 {
		t.Errorf("PTS = %d, want new_pts from the backfill", c.cursor.PTS)
	}
	if c.cursor.TS != 700 || c.key != "next" {
		t.Errorf("descriptor not adopted: ts=%d key=%q", c.cursor.TS, c.key)
	}
	if snap.cleared != 1 {
		t.Errorf("discarded cursor cleared %d times, want 1", snap.cleared)
	}
	if len(snap.saved) == 0 || snap.saved[len(snap.saved)-1].PTS != 130 {
		t.Errorf("saved cursors = %+v, want the recovered one persisted", snap.saved)
	}
}

func TestRecover_VersionInvalidIsFatal(t *testing.T) {
	var rec recorded
	c := testController(&fakeCaller{}, &rec)

	if err := c.recover(context.Background(), &pollResponse{Failed: failVersionInvalid}); err == nil {
		t.Fatal("expected an error for a rejected protocol version")
	}
}

func TestBackfill_Paginates(t *testing.T) {
	var rec recorded
	caller := &fakeCaller{responses: map[string][]string{
		"messages.getLongPollHistory": {
			`{"history": [[6, 200, 50, 0]], "new_pts": 100, "more": true}`,
			`{"history": [[6, 200, 60, 0]], "new_pts": 110, "more": false}`,
		},
	}}
	c := testController(caller, &rec)
	c.cursor = Cursor{TS: 500, PTS: 90}

	if err := c.backfill(context.Background()); err != nil {
		t.Fatalf("backfill: %v", err)
	}

	if caller.callCount("messages.getLongPollHistory") != 2 {
		t.Errorf("fetched %d pages, want 2", caller.callCount("messages.getLongPollHistory"))
	}
	if c.cursor.PTS != 110 {
		t.Errorf("PTS = %d, want 110", c.cursor.PTS)
	}
}

func TestReshapeHistory_MessageTagsGetRichForm(t *testing.T) {
	var rec recorded
	c := testController(&fakeCaller{}, &rec)

	var hp historyPage
	raw := `{
		"history": [[4, 30, 1, 200], [4, 99, 1, 200], [6, 200, 30, 0]],
		"messages": {"items": [{"id": 30, "peer_id": 200, "from_id": 200, "date": 1600000000, "text": "hi"}]}
	}`
	if err := json.Unmarshal([]byte(raw), &hp); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}

	updates := c.reshapeHistory(&hp)
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2 (missing body dropped)", len(updates))
	}

	first := updates[0]
	if !first.FromHistory || first.PeerID != 200 {
		t.Errorf("first update = %+v", first)
	}
	ev, ok := first.Rich.(*event.MessageEvent)
	if !ok {
		t.Fatalf("Rich = %T, want *event.MessageEvent", first.Rich)
	}
	if ev.Msg.ID != 30 || ev.Msg.Text != "hi" {
		t.Errorf("rich message = %+v", ev.Msg)
	}

	if updates[1].FromHistory || updates[1].Tag != event.TagReadInbound {
		t.Errorf("second update = %+v", updates[1])
	}
}
