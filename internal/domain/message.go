package domain

import "encoding/json"

// Origin describes how a message reached the local store. Messages that
// arrived through the live poll carry a terse payload and may need a direct
// fetch to fill in attachment bodies; history and fetch origins are already
// complete.
type Origin int

const (
	OriginPoll Origin = iota
	OriginHistory
	OriginFetch
)

// Action is the structured payload of a service message (title change,
// member joined, message pinned and so on).
type Action struct {
	Type                  string `json:"type"`
	MemberID              int64  `json:"member_id,omitempty"`
	Text                  string `json:"text,omitempty"`
	ConversationMessageID int64  `json:"conversation_message_id,omitempty"`
}

// ActionChatTitleUpdate is the service action emitted when a chat is renamed.
// Title renames additionally patch the conversation record, so handlers
// special-case this type.
const ActionChatTitleUpdate = "chat_title_update"

// Keyboard is a bot keyboard attached to a message or conversation. Button
// layout is kept opaque; the engine only needs authorship and placement.
type Keyboard struct {
	OneTime  bool            `json:"one_time"`
	Inline   bool            `json:"inline"`
	AuthorID int64           `json:"author_id"`
	Buttons  json.RawMessage `json:"buttons,omitempty"`
}

// Message is a single message inside a conversation. It is identified by
// (peer id, ID); ConversationMessageID is the chat-local number and RandomID
// is the client-generated value used to dedupe a locally originated send
// against its authoritative echo.
type Message struct {
	ID                    int64
	PeerID                int64
	FromID                int64
	Out                   bool
	Text                  string
	Date                  int64
	EditTime              int64
	ConversationMessageID int64
	RandomID              int64

	Action *Action

	// Attachments maps a normalized attachment type to its occurrence
	// count. Live-poll tuples only describe attachments, so bodies are
	// fetched separately when needed.
	Attachments   map[string]int
	HasAttachment bool
	HasReplyMsg   bool
	// FwdCount is the number of forwarded messages; -1 means the poll
	// tuple reported forwards without a count.
	FwdCount    int
	HasTemplate bool

	Keyboard *Keyboard

	Hidden         bool
	WasListened    bool
	ContentDeleted bool

	Origin Origin
}

// NeedsFetch reports whether the message content is incomplete and correct
// rendering requires re-fetching it through the API (reply linkage, forwards
// or templated payloads are never delivered in full by the poll stream).
func (m *Message) NeedsFetch() bool {
	return m.HasReplyMsg || m.FwdCount != 0 || m.HasTemplate
}
