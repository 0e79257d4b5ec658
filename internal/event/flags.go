// Package event decodes the terse positional tuples of the long-poll stream
// into typed deltas. Decoding is pure: the only outside input is the
// authenticated account id, needed to resolve message direction.
package event

// Flags is the packed message flag mask carried in the second tuple field.
type Flags uint32

const (
	FlagUnread        Flags = 1 << 0  // unread message
	FlagOutbox        Flags = 1 << 1  // outgoing message
	FlagImportant     Flags = 1 << 3  // marked important
	FlagChat          Flags = 1 << 4  // sent to a chat via the web client
	FlagFriends       Flags = 1 << 5  // outgoing, or incoming from a friend
	FlagSpam          Flags = 1 << 6  // marked as spam
	FlagDeleted       Flags = 1 << 7  // deleted locally
	FlagAudioListened Flags = 1 << 12 // voice note played
	FlagChat2         Flags = 1 << 13 // sent to a chat via other clients
	FlagCancelSpam    Flags = 1 << 15 // spam mark removed
	FlagHidden        Flags = 1 << 16 // service greeting from a community
	FlagDeletedAll    Flags = 1 << 17 // deleted for everyone
	FlagChatIn        Flags = 1 << 19 // incoming chat message
	FlagSilent        Flags = 1 << 20 // silent send / chat leave
	FlagReplyMsg      Flags = 1 << 21 // reply to a message
)

// Has reports whether every bit of mask is set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}
