package domain

// MembersUnknown is the Members value for conversations whose member count
// has not been loaded (one-to-one dialogs never have one).
const MembersUnknown = -1

// Conversation is the local view of a peer: counters, read markers,
// membership and ordering metadata. The last-message snapshot lives next to
// it in the store, not inside it.
type Conversation struct {
	ID      int64
	Channel bool
	Title   string
	Photo   string

	Members  int
	Left     bool
	OwnerID  int64
	AdminIDs []int64

	Muted        bool
	WriteAllowed bool

	Unread    int
	LastMsgID int64
	// InRead / OutRead are the ids of the last read incoming and outgoing
	// messages respectively.
	InRead  int64
	OutRead int64

	// Mentions is the ordered list of message ids that mention the local
	// account; appended on new mentions, trimmed when read.
	Mentions []int64

	Keyboard  *Keyboard
	PinnedMsg *Message

	// Loaded marks conversations fetched in full through the API, as
	// opposed to ones created from a single poll event.
	Loaded bool
}

// ConversationPatch is a partial conversation update carrying only the
// fields resolvable from a single event. Nil pointer fields are untouched;
// a nil Mentions slice means the mention list is unchanged.
type ConversationPatch struct {
	ID int64

	Channel      *bool
	Title        *string
	Muted        *bool
	Left         *bool
	WriteAllowed *bool
	Members      *int

	Unread    *int
	LastMsgID *int64
	InRead    *int64
	OutRead   *int64

	Mentions    []int64
	HasMentions bool

	Keyboard    *Keyboard
	AdminIDs    []int64
	HasAdminIDs bool

	RemovePinnedMsg bool
}

// Apply folds the patch into a conversation.
func (p *ConversationPatch) Apply(c *Conversation) {
	if p.Channel != nil {
		c.Channel = *p.Channel
	}
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Muted != nil {
		c.Muted = *p.Muted
	}
	if p.Left != nil {
		c.Left = *p.Left
	}
	if p.WriteAllowed != nil {
		c.WriteAllowed = *p.WriteAllowed
	}
	if p.Members != nil {
		c.Members = *p.Members
	}
	if p.Unread != nil {
		c.Unread = *p.Unread
	}
	if p.LastMsgID != nil {
		c.LastMsgID = *p.LastMsgID
	}
	if p.InRead != nil {
		c.InRead = *p.InRead
	}
	if p.OutRead != nil {
		c.OutRead = *p.OutRead
	}
	if p.HasMentions {
		c.Mentions = p.Mentions
	}
	if p.Keyboard != nil {
		c.Keyboard = p.Keyboard
	}
	if p.HasAdminIDs {
		c.AdminIDs = p.AdminIDs
	}
	if p.RemovePinnedMsg {
		c.PinnedMsg = nil
	}
}
