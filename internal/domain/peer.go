// Package domain defines the conversation, message and profile model shared
// by the sync engine, plus the parsing of rich API wire objects into it.
// Peer id ranges encode the peer kind: small positive ids are users, negative
// ids are communities, and ids above the chat offset are multi-user chats.
package domain

// ChatOffset is the id boundary above which a peer is a multi-user chat
// (or a channel, which is a chat with broadcast-only semantics).
const ChatOffset = 2_000_000_000

// PeerKind classifies a peer id.
type PeerKind int

const (
	KindUser PeerKind = iota
	KindGroup
	KindChat
)

// KindOf returns the peer kind encoded in the id.
func KindOf(peerID int64) PeerKind {
	switch {
	case peerID > ChatOffset:
		return KindChat
	case peerID < 0:
		return KindGroup
	default:
		return KindUser
	}
}

// IsChat reports whether the peer id addresses a multi-user chat or channel.
func IsChat(peerID int64) bool {
	return peerID > ChatOffset
}
