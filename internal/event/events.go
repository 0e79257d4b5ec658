package event

import "fmt"

// Numeric event-type tags of the long-poll stream.
const (
	TagFlagsSet      = 2  // important/spam/delete/voice-listened flag set
	TagFlagsReset    = 3  // read/unimportant/restore flag reset
	TagNewMessage    = 4  // new message
	TagEditMessage   = 5  // message edited
	TagReadInbound   = 6  // incoming messages read up to msg_id
	TagReadOutbound  = 7  // outgoing messages read up to msg_id
	TagFriendOnline  = 8  // friend came online
	TagFriendOffline = 9  // friend went offline
	TagMentionRead   = 10 // mention in peer seen (ignored)
	TagMentionNew    = 12 // new mention in peer (ignored)
	TagPurge         = 13 // all messages of a peer removed
	TagSnippet       = 18 // link snippet attached to a message
	TagCacheReset    = 19 // message cache invalidated, re-fetch required
	TagChatInfoOld   = 51 // superseded chat-info change (ignored)
	TagChatInfo      = 52 // membership/ACL change
	TagTypingText    = 63 // text typing signal
	TagTypingVoice   = 64 // voice-recording signal
	TagUnreadCounter = 80 // unread dialogs counter changed
	TagInvisible     = 81 // friend invisibility toggled (ignored)
	TagPushSettings  = 114 // per-peer notification settings changed
	TagCall          = 115 // incoming call (ignored)
)

func errShortTuple(n int) error {
	return fmt.Errorf("event: tuple too short (%d fields)", n)
}

// FlagChange is a decoded flag-set tuple. For this tag only voice-listened
// marks and deletions matter; an important-flag change decodes to nil.
type FlagChange struct {
	MsgID    int64
	PeerID   int64
	Listened bool
}

// DecodeFlagChange decodes a [msg_id, flags, peer_id] flag-set tuple.
// Returns nil when the tuple is an important-flag change, which the engine
// ignores.
func DecodeFlagChange(t Tuple) (*FlagChange, error) {
	if t.Len() < 3 {
		return nil, errShortTuple(t.Len())
	}
	msgID, err := t.Int(0)
	if err != nil {
		return nil, err
	}
	mask, err := t.Int(1)
	if err != nil {
		return nil, err
	}
	peerID, err := t.Int(2)
	if err != nil {
		return nil, err
	}

	flags := Flags(mask)
	if flags.Has(FlagAudioListened) {
		return &FlagChange{MsgID: msgID, PeerID: peerID, Listened: true}, nil
	}
	if flags.Has(FlagImportant) {
		return nil, nil
	}
	return &FlagChange{MsgID: msgID, PeerID: peerID}, nil
}

// ReadMarker is a decoded read-marker tuple.
type ReadMarker struct {
	PeerID int64
	MsgID  int64
	Unread int
}

// DecodeReadMarker decodes [peer_id, msg_id, unread_count]. The outbound
// variant omits the counter.
func DecodeReadMarker(t Tuple) (*ReadMarker, error) {
	if t.Len() < 2 {
		return nil, errShortTuple(t.Len())
	}
	peerID, err := t.Int(0)
	if err != nil {
		return nil, err
	}
	msgID, err := t.Int(1)
	if err != nil {
		return nil, err
	}
	m := &ReadMarker{PeerID: peerID, MsgID: msgID}
	if t.Len() > 2 {
		count, err := t.Int(2)
		if err != nil {
			return nil, err
		}
		m.Unread = int(count)
	}
	return m, nil
}

// Presence is a decoded friend online/offline tuple.
type Presence struct {
	UserID int64
	Online bool
	// Platform class for online events: 1 mobile, 2 iPhone, 3 iPad,
	// 4 android, 5 windowsPhone, 6 windows10, 7 web.
	Platform int
	Time     int64
	AppID    int64
}

// DecodePresence decodes [-user_id, platform, timestamp, app_id].
func DecodePresence(t Tuple, online bool) (*Presence, error) {
	if t.Len() < 4 {
		return nil, errShortTuple(t.Len())
	}
	negID, err := t.Int(0)
	if err != nil {
		return nil, err
	}
	platform, err := t.Int(1)
	if err != nil {
		return nil, err
	}
	ts, err := t.Int(2)
	if err != nil {
		return nil, err
	}
	appID, err := t.Int(3)
	if err != nil {
		return nil, err
	}
	return &Presence{
		UserID:   -negID,
		Online:   online,
		Platform: int(platform),
		Time:     ts,
		AppID:    appID,
	}, nil
}

// Typing is a decoded typing-signal tuple.
type Typing struct {
	PeerID  int64
	UserIDs []int64
}

// DecodeTyping decodes [peer_id, [from_ids], ids_length, timestamp].
func DecodeTyping(t Tuple) (*Typing, error) {
	if t.Len() < 2 {
		return nil, errShortTuple(t.Len())
	}
	peerID, err := t.Int(0)
	if err != nil {
		return nil, err
	}
	ids, err := t.IntSlice(1)
	if err != nil {
		return nil, err
	}
	return &Typing{PeerID: peerID, UserIDs: ids}, nil
}

// Membership/ACL sub-type codes of the chat-info tag.
const (
	ChatTitleChanged    = 1 // handled through the new-message service action
	ChatPhotoChanged    = 2
	ChatAdminAppointed  = 3
	ChatRightsChanged   = 4
	ChatPinChanged      = 5
	ChatMemberJoined    = 6
	ChatMemberLeft      = 7
	ChatMemberKicked    = 8
	ChatAdminDemoted    = 9
	ChatKeyboardToggled = 11 // handled through the new-message service action
)

// ChatAction is a decoded membership/ACL change tuple.
type ChatAction struct {
	Type   int
	PeerID int64
	Extra  int64
}

// DecodeChatAction decodes [type, peer_id, extra].
func DecodeChatAction(t Tuple) (*ChatAction, error) {
	if t.Len() < 3 {
		return nil, errShortTuple(t.Len())
	}
	typ, err := t.Int(0)
	if err != nil {
		return nil, err
	}
	peerID, err := t.Int(1)
	if err != nil {
		return nil, err
	}
	extra, err := t.Int(2)
	if err != nil {
		return nil, err
	}
	return &ChatAction{Type: int(typ), PeerID: peerID, Extra: extra}, nil
}

// Purge is a decoded whole-conversation deletion tuple.
type Purge struct {
	PeerID    int64
	LastMsgID int64
}

// DecodePurge decodes [peer_id, last_msg_id].
func DecodePurge(t Tuple) (*Purge, error) {
	if t.Len() < 1 {
		return nil, errShortTuple(t.Len())
	}
	peerID, err := t.Int(0)
	if err != nil {
		return nil, err
	}
	p := &Purge{PeerID: peerID}
	if t.Len() > 1 {
		lastID, err := t.Int(1)
		if err != nil {
			return nil, err
		}
		p.LastMsgID = lastID
	}
	return p, nil
}

// DecodeCacheReset decodes [msg_id].
func DecodeCacheReset(t Tuple) (int64, error) {
	if t.Len() < 1 {
		return 0, errShortTuple(t.Len())
	}
	return t.Int(0)
}

// DecodeUnreadCounter decodes [count, count_with_notifications, ...].
func DecodeUnreadCounter(t Tuple) (int, error) {
	if t.Len() < 1 {
		return 0, errShortTuple(t.Len())
	}
	n, err := t.Int(0)
	return int(n), err
}

// PushSettings is a decoded notification-settings tuple.
// DisabledUntil: -1 disabled indefinitely, 0 enabled, otherwise the unix
// time at which notifications come back.
type PushSettings struct {
	PeerID        int64
	DisabledUntil int64
}

// DecodePushSettings decodes [{peer_id, sound, disabled_until}].
func DecodePushSettings(t Tuple) (*PushSettings, error) {
	if t.Len() < 1 {
		return nil, errShortTuple(t.Len())
	}
	obj, err := t.Object(0)
	if err != nil {
		return nil, err
	}
	ps := &PushSettings{}
	if raw, ok := obj["peer_id"]; ok {
		if n, ok := objInt(raw); ok {
			ps.PeerID = n
		}
	}
	if raw, ok := obj["disabled_until"]; ok {
		if n, ok := objInt(raw); ok {
			ps.DisabledUntil = n
		}
	}
	if ps.PeerID == 0 {
		return nil, fmt.Errorf("event: push settings without peer_id")
	}
	return ps, nil
}
