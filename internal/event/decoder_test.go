package event

import (
	"encoding/json"
	"testing"
)

const account = int64(100)

func mustTuple(t *testing.T, raw string) Tuple {
	t.Helper()
	_, tuple, err := Parse(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("Parse(%s): %v", raw, err)
	}
	return tuple
}

func decode(t *testing.T, raw string) *MessageEvent {
	t.Helper()
	ev, err := DecodeMessage(mustTuple(t, raw), account)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	return ev
}

func TestDecodeMessage_Basic(t *testing.T) {
	ev := decode(t, `[4, 10, 1, 200, 1600000000, "hello", {"title": " ... "}, {}, 777, 5, 0]`)
	if ev == nil {
		t.Fatal("DecodeMessage returned nil for a full tuple")
	}

	msg := ev.Msg
	if msg.ID != 10 || msg.PeerID != 200 || msg.Date != 1600000000 {
		t.Errorf("got id=%d peer=%d date=%d", msg.ID, msg.PeerID, msg.Date)
	}
	if msg.Text != "hello" {
		t.Errorf("Text = %q, want %q", msg.Text, "hello")
	}
	if msg.Out {
		t.Error("incoming message decoded as outgoing")
	}
	if msg.FromID != 200 {
		t.Errorf("FromID = %d, want peer id for a dialog", msg.FromID)
	}
	if msg.RandomID != 777 || msg.ConversationMessageID != 5 {
		t.Errorf("random=%d cmid=%d", msg.RandomID, msg.ConversationMessageID)
	}
	if msg.HasAttachment || msg.NeedsFetch() {
		t.Error("plain text message should not need a fetch")
	}
}

func TestDecodeMessage_Outbox(t *testing.T) {
	ev := decode(t, `[4, 11, 3, 200, 1600000001, "mine", {}, {}, 0, 6, 0]`)
	if !ev.Msg.Out {
		t.Fatal("outbox flag not honored")
	}
	if ev.Msg.FromID != account {
		t.Errorf("FromID = %d, want account id %d", ev.Msg.FromID, account)
	}
}

func TestDecodeMessage_FromExtra(t *testing.T) {
	ev := decode(t, `[4, 12, 1, 2000000123, 1600000002, "hi", {"from": "555"}, {}, 0, 7, 0]`)
	if ev.Msg.FromID != 555 {
		t.Errorf("FromID = %d, want 555 from extra", ev.Msg.FromID)
	}
	if ev.Msg.Out {
		t.Error("chat message from another member decoded as outgoing")
	}
}

func TestDecodeMessage_SkipsShortAndDateless(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"short tuple", `[4, 10, 1]`},
		{"zero date", `[4, 10, 1, 5, 0, "", {}, {}, 0, 1, 0]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeMessage(mustTuple(t, tt.raw), account)
			if err != nil {
				t.Fatalf("DecodeMessage: %v", err)
			}
			if ev != nil {
				t.Errorf("expected nil event, got %+v", ev)
			}
		})
	}
}

func TestDecodeMessage_ServiceAction(t *testing.T) {
	raw := `[4, 13, 1, 2000000123, 1600000003, "renamed", ` +
		`{"source_act": "chat_title_update", "source_text": "new title", "source_mid": "42"}, {}, 0, 8, 0]`
	ev := decode(t, raw)

	if ev.Msg.Action == nil {
		t.Fatal("service fields did not produce an action")
	}
	if ev.Msg.Action.Type != "chat_title_update" {
		t.Errorf("Action.Type = %q", ev.Msg.Action.Type)
	}
	if ev.Msg.Action.Text != "new title" {
		t.Errorf("Action.Text = %q", ev.Msg.Action.Text)
	}
	if ev.Msg.Action.MemberID != 42 {
		t.Errorf("Action.MemberID = %d", ev.Msg.Action.MemberID)
	}
	if ev.Msg.Text != "" {
		t.Errorf("service message kept text %q", ev.Msg.Text)
	}
}

func TestDecodeMessage_AttachmentSummary(t *testing.T) {
	raw := `[4, 14, 1, 200, 1600000004, "", {}, ` +
		`{"attach1": "1_2", "attach1_type": "doc", "attach1_kind": "audiomsg",` +
		` "attach2": "3_4", "attach2_type": "photo",` +
		` "attach3": "5_6", "attach3_type": "group", "geo": "1"}, 0, 9, 0]`
	ev := decode(t, raw)

	want := map[string]int{"audio_message": 1, "photo": 1, "event": 1, "geo": 1}
	for typ, count := range want {
		if ev.Msg.Attachments[typ] != count {
			t.Errorf("Attachments[%q] = %d, want %d", typ, ev.Msg.Attachments[typ], count)
		}
	}
	if !ev.Msg.HasAttachment {
		t.Error("HasAttachment = false with attachments present")
	}
}

func TestDecodeMessage_ForwardWithoutReply(t *testing.T) {
	ev := decode(t, `[4, 15, 1, 200, 1600000005, "", {}, {"fwd": "0_0"}, 0, 10, 0]`)
	if ev.Msg.FwdCount != -1 {
		t.Errorf("FwdCount = %d, want -1 for uncounted forwards", ev.Msg.FwdCount)
	}
	if !ev.Msg.NeedsFetch() {
		t.Error("forwarded message should need a fetch")
	}
}

func TestDecodeMessage_MarkedUsers(t *testing.T) {
	tests := []struct {
		name     string
		marked   string
		mentions []int64
		all      bool
	}{
		{"explicit ids", `[[1, [100, 200]]]`, []int64{100, 200}, false},
		{"all sentinel", `[[1, "all"]]`, nil, true},
		{"expiring ignored", `[[2, "all"]]`, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `[4, 16, 1, 2000000123, 1600000006, "x", {"marked_users": ` + tt.marked + `}, {}, 0, 11, 0]`
			ev := decode(t, raw)
			if len(ev.Peer.Mentions) != len(tt.mentions) {
				t.Fatalf("Mentions = %v, want %v", ev.Peer.Mentions, tt.mentions)
			}
			for i, id := range tt.mentions {
				if ev.Peer.Mentions[i] != id {
					t.Errorf("Mentions[%d] = %d, want %d", i, ev.Peer.Mentions[i], id)
				}
			}
			if ev.Peer.MentionsAll != tt.all {
				t.Errorf("MentionsAll = %v, want %v", ev.Peer.MentionsAll, tt.all)
			}
		})
	}
}

func TestDecodeMessage_KeyboardPlacement(t *testing.T) {
	inline := decode(t, `[4, 17, 1, 200, 1600000007, "", {"keyboard": {"inline": true, "one_time": false}}, {}, 0, 12, 0]`)
	if inline.Msg.Keyboard == nil || inline.Peer.Keyboard != nil {
		t.Error("inline keyboard must attach to the message")
	}

	peer := decode(t, `[4, 18, 1, 200, 1600000008, "", {"keyboard": {"inline": false, "one_time": true}}, {}, 0, 13, 0]`)
	if peer.Peer.Keyboard == nil || peer.Msg.Keyboard != nil {
		t.Error("non-inline keyboard must attach to the peer")
	}
	if peer.Peer.Keyboard.AuthorID != 200 {
		t.Errorf("keyboard AuthorID = %d, want sender id", peer.Peer.Keyboard.AuthorID)
	}
}

func TestDecodeMessage_Hidden(t *testing.T) {
	ev := decode(t, `[4, 19, 65536, 200, 1600000009, "", {}, {}, 0, 14, 0]`)
	if !ev.Msg.Hidden {
		t.Error("hidden flag not decoded")
	}
}
