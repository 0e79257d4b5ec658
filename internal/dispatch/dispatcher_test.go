package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pulse/chat-sync/internal/event"
)

func rawTuple(t *testing.T, raw string) (int, event.Tuple) {
	t.Helper()
	tag, tuple, err := event.Parse(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("Parse(%s): %v", raw, err)
	}
	return tag, tuple
}

func update(t *testing.T, raw string) Update {
	tag, tuple := rawTuple(t, raw)
	return Update{Tag: tag, Tuple: tuple}
}

type captured struct {
	entries []Entry
}

func (c *captured) handle(_ context.Context, e Entry) error {
	c.entries = append(c.entries, e)
	return nil
}

func packableRegistry(c *captured) Registry {
	decode := func(t event.Tuple) (any, error) {
		id, err := t.Int(0)
		if err != nil {
			return nil, err
		}
		return id, nil
	}
	return Registry{
		4: {Pack: true, Decode: decode, Handle: c.handle},
		2: {Pack: true, Decode: decode, Handle: c.handle},
		6: {Decode: decode, Handle: c.handle},
	}
}

func TestDispatch_PacksAdjacentSamePeer(t *testing.T) {
	var c captured
	d := New(packableRegistry(&c))

	d.Dispatch(context.Background(), []Update{
		update(t, `[4, 1, 0, 200]`),
		update(t, `[4, 2, 0, 200]`),
		update(t, `[4, 3, 0, 300]`),
	})

	if len(c.entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(c.entries))
	}
	if len(c.entries[0].Items) != 2 || c.entries[0].PeerID != 200 {
		t.Errorf("first entry: peer=%d items=%d", c.entries[0].PeerID, len(c.entries[0].Items))
	}
	if len(c.entries[1].Items) != 1 || c.entries[1].PeerID != 300 {
		t.Errorf("second entry: peer=%d items=%d", c.entries[1].PeerID, len(c.entries[1].Items))
	}
}

func TestDispatch_InterleavingBreaksPack(t *testing.T) {
	var c captured
	d := New(packableRegistry(&c))

	// Same peer and tag at positions 0 and 2, but a different tag sits
	// between them, so they must not merge.
	d.Dispatch(context.Background(), []Update{
		update(t, `[4, 1, 0, 200]`),
		update(t, `[2, 9, 128, 200]`),
		update(t, `[4, 2, 0, 200]`),
	})

	if len(c.entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(c.entries))
	}
	for i, want := range []int{4, 2, 4} {
		if c.entries[i].Tag != want {
			t.Errorf("entries[%d].Tag = %d, want %d", i, c.entries[i].Tag, want)
		}
	}
}

func TestDispatch_UnknownAndMalformedSkipped(t *testing.T) {
	var c captured
	d := New(packableRegistry(&c))

	d.Dispatch(context.Background(), []Update{
		update(t, `[999, 1]`),         // unknown tag
		update(t, `[6, "not an id"]`), // decode error
		update(t, `[6, 42]`),
	})

	if len(c.entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(c.entries))
	}
	if c.entries[0].Data.(int64) != 42 {
		t.Errorf("Data = %v, want 42", c.entries[0].Data)
	}
}

func TestDispatch_PreloadEvaluation(t *testing.T) {
	var c captured
	reg := packableRegistry(&c)
	def := reg[4]
	def.Preload = func(data any) bool {
		items := data.([]any)
		for _, item := range items {
			if item.(int64) > 100 {
				return true
			}
		}
		return false
	}
	reg[4] = def
	d := New(reg)

	d.Dispatch(context.Background(), []Update{
		update(t, `[4, 1, 0, 200]`),
		update(t, `[4, 150, 0, 300]`),
	})

	if len(c.entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(c.entries))
	}
	if c.entries[0].Preload {
		t.Error("small item flagged for preload")
	}
	if !c.entries[1].Preload {
		t.Error("large item not flagged for preload")
	}
}

func TestDispatch_HistoryUsesRichPayload(t *testing.T) {
	var c captured
	d := New(packableRegistry(&c))

	d.Dispatch(context.Background(), []Update{
		{Tag: 4, Rich: int64(7), PeerID: 200, FromHistory: true},
		{Tag: 4, Rich: int64(8), PeerID: 200, FromHistory: true},
	})

	if len(c.entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(c.entries))
	}
	e := c.entries[0]
	if !e.FromHistory || e.PeerID != 200 || len(e.Items) != 2 {
		t.Errorf("entry = %+v", e)
	}
	if e.Preload {
		t.Error("history entries must never request preload")
	}
}
