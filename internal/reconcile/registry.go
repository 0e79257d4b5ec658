package reconcile

import (
	"github.com/pulse/chat-sync/internal/dispatch"
	"github.com/pulse/chat-sync/internal/event"
)

// decodeMessageEvent adapts the message decoder to the dispatch signature.
// The wrapper collapses a typed nil into an untyped one so skipped tuples
// compare equal to nil through the interface.
func (h *Handlers) decodeMessageEvent(t event.Tuple) (any, error) {
	ev, err := event.DecodeMessage(t, h.account)
	if ev == nil {
		return nil, err
	}
	return ev, err
}

func decodeFlagChange(t event.Tuple) (any, error) {
	fc, err := event.DecodeFlagChange(t)
	if fc == nil {
		return nil, err
	}
	return fc, err
}

func decodeReadMarker(t event.Tuple) (any, error) {
	return event.DecodeReadMarker(t)
}

func decodePresence(online bool) func(t event.Tuple) (any, error) {
	return func(t event.Tuple) (any, error) {
		return event.DecodePresence(t, online)
	}
}

// Registry builds the full event-type table. Tags listed with a nil Handle
// are known but deliberately ignored; everything absent from the table is an
// unknown tag the dispatcher logs.
func (h *Handlers) Registry() dispatch.Registry {
	preloadOne := func(data any) bool {
		ev, ok := data.(*event.MessageEvent)
		return ok && needsPreload(ev)
	}
	preloadPack := func(data any) bool {
		items, ok := data.([]any)
		return ok && anyNeedsPreload(items)
	}

	return dispatch.Registry{
		event.TagFlagsSet: {
			Pack:   true,
			Decode: decodeFlagChange,
			Handle: h.handleFlagsSet,
		},
		event.TagFlagsReset: {
			Pack:    true,
			Decode:  h.decodeMessageEvent,
			Preload: preloadPack,
			Handle:  h.handleRestoredMessages,
		},
		event.TagNewMessage: {
			Pack:    true,
			Decode:  h.decodeMessageEvent,
			Preload: preloadPack,
			Handle:  h.handleNewMessages,
		},
		event.TagEditMessage: {
			Decode:  h.decodeMessageEvent,
			Preload: preloadOne,
			Handle:  h.handleEditMessage,
		},
		event.TagReadInbound: {
			Decode: decodeReadMarker,
			Handle: h.handleReadInbound,
		},
		event.TagReadOutbound: {
			Decode: decodeReadMarker,
			Handle: h.handleReadOutbound,
		},
		event.TagFriendOnline: {
			Decode: decodePresence(true),
			Handle: h.handlePresence,
		},
		event.TagFriendOffline: {
			Decode: decodePresence(false),
			Handle: h.handlePresence,
		},
		event.TagMentionRead: {},
		event.TagMentionNew:  {},
		event.TagPurge: {
			Decode: func(t event.Tuple) (any, error) { return event.DecodePurge(t) },
			Handle: h.handlePurge,
		},
		event.TagSnippet: {
			Decode:  h.decodeMessageEvent,
			Preload: preloadOne,
			Handle:  h.handleSnippet,
		},
		event.TagCacheReset: {
			Decode: func(t event.Tuple) (any, error) { return event.DecodeCacheReset(t) },
			Handle: h.handleCacheReset,
		},
		event.TagChatInfoOld: {},
		event.TagChatInfo: {
			Decode: func(t event.Tuple) (any, error) { return event.DecodeChatAction(t) },
			Handle: h.handleChatAction,
		},
		event.TagTypingText: {
			Decode: func(t event.Tuple) (any, error) { return event.DecodeTyping(t) },
			Handle: h.handleTyping("text"),
		},
		event.TagTypingVoice: {
			Decode: func(t event.Tuple) (any, error) { return event.DecodeTyping(t) },
			Handle: h.handleTyping("audio"),
		},
		event.TagUnreadCounter: {
			Decode: func(t event.Tuple) (any, error) { return event.DecodeUnreadCounter(t) },
			Handle: h.handleUnreadCounter,
		},
		event.TagInvisible: {},
		event.TagPushSettings: {
			Decode: func(t event.Tuple) (any, error) {
				ps, err := event.DecodePushSettings(t)
				if ps == nil {
					return nil, err
				}
				return ps, err
			},
			Handle: h.handlePushSettings,
		},
		event.TagCall: {},
	}
}
