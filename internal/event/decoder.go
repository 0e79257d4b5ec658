package event

import (
	"encoding/json"
	"regexp"

	"github.com/pulse/chat-sync/internal/domain"
)

// Message tuple layout (after the leading tag):
//
//	[msg_id, flags, peer_id, timestamp, text, extra{}, attachments{},
//	 random_id, conversation_message_id, edit_time]
const (
	fieldMsgID = iota
	fieldFlags
	fieldPeerID
	fieldDate
	fieldText
	fieldExtra
	fieldAttachments
	fieldRandomID
	fieldConversationMsgID
	fieldEditTime

	messageTupleLen = 10
)

// PeerPatch is the partial conversation update resolvable from a single
// message tuple.
type PeerPatch struct {
	ID          int64
	Channel     bool
	Keyboard    *domain.Keyboard
	Mentions    []int64
	MentionsAll bool
}

// MessageEvent is the decoded form of a message-bearing tuple: a partial
// peer update plus the fully decoded message.
type MessageEvent struct {
	Peer PeerPatch
	Msg  domain.Message
}

var attachKeyRe = regexp.MustCompile(`^attach(\d+)$`)

// serviceActionKeys maps abbreviated wire keys inside source_* fields to
// their structured names.
var serviceActionRenames = map[string]string{
	"act":           "type",
	"mid":           "member_id",
	"chat_local_id": "conversation_message_id",
}

// decodeServiceAction pulls source_-prefixed fields from the extra object
// into a structured action payload. Returns nil when no such fields exist.
func decodeServiceAction(extra map[string]json.RawMessage) *domain.Action {
	action := &domain.Action{}
	found := false

	for key, raw := range extra {
		if len(key) <= len("source_") || key[:len("source_")] != "source_" {
			continue
		}
		name := key[len("source_"):]
		if renamed, ok := serviceActionRenames[name]; ok {
			name = renamed
		}

		switch name {
		case "type":
			action.Type = objString(raw)
		case "member_id":
			if n, ok := objInt(raw); ok {
				action.MemberID = n
			}
		case "text":
			action.Text = objString(raw)
		case "conversation_message_id":
			if n, ok := objInt(raw); ok {
				action.ConversationMessageID = n
			}
		default:
			// Unrecognized source_ fields still mark the message as a
			// service message.
		}
		found = true
	}

	if !found {
		return nil
	}
	return action
}

// decodeAttachmentSummary counts attachment occurrences per normalized type
// from the keyed attachments object. A kind sub-field overrides the declared
// type for voice notes and graffiti, and community attachments surface as
// events. A geo key flags a location attachment.
func decodeAttachmentSummary(fields map[string]json.RawMessage) map[string]int {
	attachments := make(map[string]int)

	if _, ok := fields["geo"]; ok {
		attachments["geo"]++
	}

	for key := range fields {
		m := attachKeyRe.FindStringSubmatch(key)
		if m == nil {
			continue
		}

		id := m[1]
		kind := ""
		if raw, ok := fields["attach"+id+"_kind"]; ok {
			kind = objString(raw)
		}
		typ := ""
		if raw, ok := fields["attach"+id+"_type"]; ok {
			typ = objString(raw)
		}

		switch {
		case kind == "audiomsg":
			typ = "audio_message"
		case kind == "graffiti":
			typ = "graffiti"
		case typ == "group":
			typ = "event"
		}

		attachments[typ]++
	}

	return attachments
}

// decodeMarkedUsers interprets the packed marked_users field. Each entry is
// a [kind, payload] pair; kind 1 is a mention (explicit id list or the "all"
// sentinel), kind 2 is a disappearing message and never contributes
// mentions.
func decodeMarkedUsers(raw json.RawMessage) (mentions []int64, all bool) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}

	for _, entry := range entries {
		var pair []json.RawMessage
		if err := json.Unmarshal(entry, &pair); err != nil || len(pair) < 2 {
			continue
		}

		var kind int
		if err := json.Unmarshal(pair[0], &kind); err != nil || kind != 1 {
			continue
		}

		var ids []int64
		if err := json.Unmarshal(pair[1], &ids); err == nil {
			mentions = ids
			continue
		}
		var sentinel string
		if err := json.Unmarshal(pair[1], &sentinel); err == nil && sentinel == "all" {
			all = true
		}
	}

	return mentions, all
}

// DecodeMessage converts a message-bearing tuple into a MessageEvent.
// Returns nil without error for pure counter/flag tuples that carry no
// renderable message (a bare read marker or important-flag change, which
// arrives on the same tag with a short tuple and no timestamp).
func DecodeMessage(t Tuple, accountID int64) (*MessageEvent, error) {
	if t.Len() < 4 {
		return nil, nil
	}
	date, err := t.Int(fieldDate)
	if err != nil {
		return nil, err
	}
	if date == 0 {
		return nil, nil
	}
	if t.Len() < messageTupleLen {
		return nil, errShortTuple(t.Len())
	}

	msgID, err := t.Int(fieldMsgID)
	if err != nil {
		return nil, err
	}
	flagMask, err := t.Int(fieldFlags)
	if err != nil {
		return nil, err
	}
	peerID, err := t.Int(fieldPeerID)
	if err != nil {
		return nil, err
	}
	text, err := t.String(fieldText)
	if err != nil {
		return nil, err
	}
	extra, err := t.Object(fieldExtra)
	if err != nil {
		return nil, err
	}
	attachFields, err := t.Object(fieldAttachments)
	if err != nil {
		return nil, err
	}
	randomID, err := t.Int(fieldRandomID)
	if err != nil {
		return nil, err
	}
	conversationMsgID, err := t.Int(fieldConversationMsgID)
	if err != nil {
		return nil, err
	}
	editTime, err := t.Int(fieldEditTime)
	if err != nil {
		return nil, err
	}

	flags := Flags(flagMask)
	action := decodeServiceAction(extra)

	fromID := peerID
	if flags.Has(FlagOutbox) {
		fromID = accountID
	} else if raw, ok := extra["from"]; ok {
		if n, ok := objInt(raw); ok {
			fromID = n
		}
	}
	out := fromID == accountID || flags.Has(FlagOutbox)

	var keyboard *domain.Keyboard
	if raw, ok := extra["keyboard"]; ok {
		var k domain.Keyboard
		if err := json.Unmarshal(raw, &k); err == nil {
			k.AuthorID = fromID
			keyboard = &k
		}
	}

	var mentions []int64
	var mentionsAll bool
	if raw, ok := extra["marked_users"]; ok {
		mentions, mentionsAll = decodeMarkedUsers(raw)
	}

	attachments := decodeAttachmentSummary(attachFields)
	hasReply := flags.Has(FlagReplyMsg)
	_, hasFwd := attachFields["fwd"]
	hasAttachment := hasReply || hasFwd || len(attachments) > 0

	_, hasTemplate := extra["has_template"]
	_, sourceIsChannel := extra["source_is_channel"]

	fwdCount := 0
	if !hasReply && hasFwd {
		// The tuple reports forwards without a count; the real number is
		// only known after a direct fetch.
		fwdCount = -1
	}

	msgText := text
	if action != nil {
		msgText = ""
	}

	ev := &MessageEvent{
		Peer: PeerPatch{
			ID: peerID,
			// A channel is betrayed either by a re-join service marker or
			// by the deleted flag on an incoming message.
			Channel:     !out && flags.Has(FlagDeleted) || sourceIsChannel,
			Mentions:    mentions,
			MentionsAll: mentionsAll,
		},
		Msg: domain.Message{
			ID:                    msgID,
			PeerID:                peerID,
			FromID:                fromID,
			Out:                   out,
			Text:                  msgText,
			Date:                  date,
			EditTime:              editTime,
			ConversationMessageID: conversationMsgID,
			RandomID:              randomID,
			Action:                action,
			Attachments:           attachments,
			HasAttachment:         hasAttachment,
			HasReplyMsg:           hasReply,
			FwdCount:              fwdCount,
			HasTemplate:           hasTemplate,
			Hidden:                flags.Has(FlagHidden),
			ContentDeleted:        text == "" && action == nil && !hasAttachment,
			Origin:                domain.OriginPoll,
		},
	}

	if keyboard != nil {
		if keyboard.Inline {
			ev.Msg.Keyboard = keyboard
		} else {
			ev.Peer.Keyboard = keyboard
		}
	}

	return ev, nil
}
