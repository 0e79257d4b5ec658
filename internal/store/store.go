// Package store holds the local conversation/message state the sync engine
// reconciles the event stream into. The Store interface is a mutation-only
// command surface: handlers issue typed commands against it and it performs
// no independent logic beyond ordering and lookups.
package store

import "github.com/pulse/chat-sync/internal/domain"

// TypingEntry is one decaying typing indicator keyed by (peer, user).
type TypingEntry struct {
	Kind  string // "text" or "audio"
	Ticks int    // remaining ~1s decay ticks
}

// Store is the command surface of the local state container. Mutations never
// fail; lookups report presence through their second return value.
type Store interface {
	// Lookups.
	Conversation(peerID int64) (domain.Conversation, bool)
	LastMessage(peerID int64) (domain.Message, bool)
	Messages(peerID int64) []domain.Message
	// ActivePeers returns the conversation ordering list, most recent
	// first.
	ActivePeers() []int64
	HasActivePeer(peerID int64) bool
	// ViewOpened reports whether the conversation is open in an observer
	// view and whether older messages are being loaded into it.
	ViewOpened(peerID int64) (opened bool, loading bool)
	HasProfile(id int64) bool
	Typing(peerID, userID int64) (TypingEntry, bool)
	// FindMessagePeer locates which held conversation contains a message.
	FindMessagePeer(msgID int64) (int64, bool)
	// NewestMessageID returns the id of the newest message of the most
	// recent active conversation, or 0 when nothing is loaded.
	NewestMessageID() int64

	// Conversation mutations.
	UpsertConversation(conv domain.Conversation, lastMsg *domain.Message)
	PatchConversation(patch domain.ConversationPatch)
	// SetLastMessage replaces the cached last-message snapshot; a nil
	// message clears it.
	SetLastMessage(peerID int64, msg *domain.Message)
	AddActivePeer(peerID int64)
	RemoveActivePeer(peerID int64)
	// MoveConversation repositions the peer in the ordering list
	// according to its last-message snapshot.
	MoveConversation(peerID int64)

	// Message mutations.
	AppendMessages(peerID int64, msgs []domain.Message)
	InsertMessage(peerID int64, msg domain.Message)
	EditMessage(peerID int64, msg domain.Message)
	MarkListened(peerID, msgID int64)
	RemoveMessages(peerID int64, msgIDs []int64)
	RemoveAllMessages(peerID int64)

	// Typing mutations.
	SetTyping(peerID, userID int64, kind string, ticks int)
	RemoveTyping(peerID, userID int64)
	ClearTyping(peerID int64)

	// Profile mutations.
	UpsertProfiles(profiles []domain.Profile)
	PatchProfile(patch domain.ProfilePatch)

	// Account-level counters and view state.
	SetUnreadDialogs(count int)
	SetViewOpened(peerID int64, opened bool, loading bool)
}
