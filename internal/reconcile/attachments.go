package reconcile

import (
	"github.com/pulse/chat-sync/internal/domain"
	"github.com/pulse/chat-sync/internal/event"
)

// renderableAttachments are the attachment types a client can display and
// therefore worth a full-body refetch when a message arrives with only the
// longpoll summary.
var renderableAttachments = map[string]bool{
	"photo":         true,
	"video":         true,
	"audio":         true,
	"audio_message": true,
	"doc":           true,
	"sticker":       true,
	"graffiti":      true,
	"link":          true,
	"wall":          true,
	"geo":           true,
}

// preloadAttachments must be present in full before the message can be
// rendered at all, so their fetch blocks insertion on the preload lane.
var preloadAttachments = map[string]bool{
	"photo":         true,
	"video":         true,
	"doc":           true,
	"sticker":       true,
	"graffiti":      true,
	"audio_message": true,
}

func hasAttachmentIn(msg *domain.Message, set map[string]bool) bool {
	for kind := range msg.Attachments {
		if set[kind] {
			return true
		}
	}
	return false
}

// wantsRefetch reports whether a longpoll message carries content that the
// summary form cannot represent and a messages.getById round trip restores.
func wantsRefetch(msg *domain.Message) bool {
	if msg.HasReplyMsg || msg.FwdCount != 0 || msg.HasTemplate {
		return true
	}
	return hasAttachmentIn(msg, renderableAttachments)
}

// needsPreload reports whether the message cannot be shown before its
// refetch completes.
func needsPreload(ev *event.MessageEvent) bool {
	if ev.Msg.FwdCount != 0 || ev.Msg.HasTemplate {
		return true
	}
	return hasAttachmentIn(&ev.Msg, preloadAttachments)
}

func anyNeedsPreload(items []any) bool {
	for _, item := range items {
		if ev, ok := item.(*event.MessageEvent); ok && needsPreload(ev) {
			return true
		}
	}
	return false
}
