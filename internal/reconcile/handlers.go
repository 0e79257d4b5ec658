// Package reconcile applies decoded long-poll events to the local store:
// each handler mutates conversation, message, typing and profile state so
// the cache converges on what the server holds, fetching through the API
// queue whenever an event's terse payload is not enough.
package reconcile

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulse/chat-sync/internal/api"
	"github.com/pulse/chat-sync/internal/dispatch"
	"github.com/pulse/chat-sync/internal/domain"
	"github.com/pulse/chat-sync/internal/event"
	"github.com/pulse/chat-sync/internal/metrics"
	"github.com/pulse/chat-sync/internal/store"
)

// Archiver persists messages to durable storage. Archiving is best effort;
// failures are logged and never block reconciliation.
type Archiver interface {
	SaveMessages(ctx context.Context, msgs []domain.Message) error
}

// Sender posts outbound messages through the API queue. *api.Client
// satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, peerID, randomID int64, text string) (int64, error)
}

// Config carries the account identity plus optional collaborators.
type Config struct {
	AccountID int64
	// TypingInterval is the typing decay tick; defaults to one second.
	TypingInterval time.Duration
	// Archiver, when set, receives every new and edited message.
	Archiver Archiver
	// Sender, when set, enables Send.
	Sender Sender
}

// Handlers holds the full reconciliation handler set over one store.
type Handlers struct {
	account int64
	store   store.Store
	api     Caller
	bus     store.Bus
	typing  *TypingTracker
	mutes   *MuteTimers
	archive Archiver
	members *memberLoader
	sender  Sender

	sendMu  sync.Mutex
	pending map[int64]bool

	// gen is the session generation. Background fetches capture it before
	// going remote and drop their result if a new session started meanwhile,
	// so a stale fetch cannot clobber backfilled state.
	gen atomic.Uint64
}

func New(cfg Config, st store.Store, caller Caller, bus store.Bus) *Handlers {
	if bus == nil {
		bus = store.NopBus{}
	}
	return &Handlers{
		account: cfg.AccountID,
		store:   st,
		api:     caller,
		bus:     bus,
		typing:  NewTypingTracker(st, bus, cfg.TypingInterval),
		mutes:   NewMuteTimers(st, bus),
		archive: cfg.Archiver,
		members: newMemberLoader(),
		sender:  cfg.Sender,
		pending: make(map[int64]bool),
	}
}

// Send posts a text message and tracks its random id so the authoritative
// echo arriving through the stream is recognized as our own send rather than
// surfaced as a fresh message.
func (h *Handlers) Send(ctx context.Context, peerID int64, text string) (int64, error) {
	if h.sender == nil {
		return 0, errors.New("reconcile: no sender configured")
	}
	randomID := api.RandomID()
	h.sendMu.Lock()
	h.pending[randomID] = true
	h.sendMu.Unlock()

	msgID, err := h.sender.SendMessage(ctx, peerID, randomID, text)
	if err != nil {
		h.consumeSend(randomID)
		return 0, err
	}
	return msgID, nil
}

// consumeSend reports whether randomID belongs to a pending local send,
// clearing it. The echo can beat the send call's own response, so the entry
// is registered before the call goes out.
func (h *Handlers) consumeSend(randomID int64) bool {
	if randomID == 0 {
		return false
	}
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	if !h.pending[randomID] {
		return false
	}
	delete(h.pending, randomID)
	return true
}

// Typing exposes the decay tracker, mainly so a session teardown can stop it.
func (h *Handlers) Typing() *TypingTracker { return h.typing }

// BeginSession advances the session generation, invalidating background
// fetches still in flight from the previous session.
func (h *Handlers) BeginSession() {
	h.gen.Add(1)
}

// Close stops all background timers and invalidates in-flight fetches.
func (h *Handlers) Close() {
	h.gen.Add(1)
	h.typing.Stop()
	h.mutes.Stop()
}

func (h *Handlers) archiveMessages(ctx context.Context, msgs []domain.Message) {
	if h.archive == nil || len(msgs) == 0 {
		return
	}
	if err := h.archive.SaveMessages(ctx, msgs); err != nil {
		log.Printf("reconcile: archive %d messages: %v", len(msgs), err)
		return
	}
	metrics.ArchivedMessages.Add(float64(len(msgs)))
}

// handleFlagsSet processes voice-listened marks and message deletions. After
// deletions the conversation's last message is re-fetched; a conversation
// left empty drops off the ordering list.
func (h *Handlers) handleFlagsSet(ctx context.Context, e dispatch.Entry) error {
	peerID := e.PeerID
	var removed []int64
	for _, item := range e.Items {
		fc := item.(*event.FlagChange)
		if fc.Listened {
			h.store.MarkListened(peerID, fc.MsgID)
			continue
		}
		removed = append(removed, fc.MsgID)
	}
	if len(removed) == 0 {
		return nil
	}

	h.store.RemoveMessages(peerID, removed)

	// The conversation record is refreshed whether or not the peer is on
	// the ordering list; only list membership itself depends on it.
	msg, err := h.fetchLastMessage(ctx, peerID)
	if err != nil {
		return err
	}
	if !h.store.HasActivePeer(peerID) {
		return nil
	}
	if msg == nil {
		h.store.RemoveActivePeer(peerID)
		h.store.RemoveAllMessages(peerID)
		h.bus.Publish(store.Event{Kind: store.EventConvRemoved, PeerID: peerID})
		return nil
	}
	h.store.MoveConversation(peerID)
	h.bus.Publish(store.Event{Kind: store.EventConvMoved, PeerID: peerID})
	return nil
}

// handleRestoredMessages re-surfaces messages whose deletion or spam flag
// was reset. Restored messages outside the locally loaded window only unlock
// the corresponding pagination boundary; ones inside it are fetched in full
// and spliced back in.
func (h *Handlers) handleRestoredMessages(ctx context.Context, e dispatch.Entry) error {
	peerID := e.PeerID
	local := h.store.Messages(peerID)

	last, err := h.fetchLastMessage(ctx, peerID)
	if err != nil {
		return err
	}

	var unlockUp, unlockDown bool
	var fetchIDs []int64
	for _, item := range e.Items {
		ev := item.(*event.MessageEvent)
		switch {
		case len(local) == 0:
			unlockUp, unlockDown = true, true
		case ev.Msg.ID < local[0].ID:
			unlockUp = true
		case ev.Msg.ID > local[len(local)-1].ID:
			unlockDown = true
		default:
			fetchIDs = append(fetchIDs, ev.Msg.ID)
		}
	}

	if len(fetchIDs) > 0 {
		full, err := h.fetchMessages(ctx, peerID, fetchIDs, false)
		if err != nil {
			return err
		}
		for _, msg := range full {
			h.store.InsertMessage(peerID, msg)
		}
	}
	if unlockUp || unlockDown {
		h.bus.Publish(store.Event{
			Kind:       store.EventScrollUnlock,
			PeerID:     peerID,
			UnlockUp:   unlockUp,
			UnlockDown: unlockDown,
		})
	}

	if last == nil {
		return nil
	}
	// Surface the peer only when its restored last message is at least as
	// recent as the loaded tail of the ordering list.
	if oldest := h.oldestActiveLastMsgID(); oldest == 0 || last.ID > oldest {
		if !h.store.HasActivePeer(peerID) {
			h.store.AddActivePeer(peerID)
		}
		h.store.MoveConversation(peerID)
		h.bus.Publish(store.Event{Kind: store.EventConvMoved, PeerID: peerID})
	}
	return nil
}

func (h *Handlers) oldestActiveLastMsgID() int64 {
	peers := h.store.ActivePeers()
	if len(peers) == 0 {
		return 0
	}
	msg, ok := h.store.LastMessage(peers[len(peers)-1])
	if !ok {
		return 0
	}
	return msg.ID
}

// handleNewMessages applies a pack of new messages to one conversation:
// counters, read markers, mentions, keyboards, the last-message snapshot and
// ordering. Messages carrying attachment summaries are re-fetched in full,
// synchronously on the preload lane and fire-and-forget otherwise.
func (h *Handlers) handleNewMessages(ctx context.Context, e dispatch.Entry) error {
	peerID := e.PeerID
	conv, hasConv := h.store.Conversation(peerID)
	opened, loading := h.store.ViewOpened(peerID)
	local := h.store.Messages(peerID)

	// The view shows the conversation's true bottom when it is open and
	// either empty (and not mid-load) or its newest local message is the
	// conversation's last. Only then can arrivals be appended directly.
	atBottom := opened && ((len(local) == 0 && !loading) ||
		(len(local) > 0 && hasConv && conv.LastMsgID == local[len(local)-1].ID))

	items := make([]*event.MessageEvent, 0, len(e.Items))
	for _, item := range e.Items {
		items = append(items, item.(*event.MessageEvent))
	}
	lastMsg := items[len(items)-1].Msg

	if atBottom {
		var appendable []domain.Message
		for _, ev := range items {
			if !needsPreload(ev) {
				appendable = append(appendable, ev.Msg)
			}
		}
		h.store.AppendMessages(peerID, appendable)
	}

	patch := domain.ConversationPatch{ID: peerID, LastMsgID: &lastMsg.ID}
	var mentions []int64
	if hasConv {
		mentions = append(mentions, conv.Mentions...)
	}

	var unread int
	unreadSet := false
	var refetchIDs []int64
	for _, ev := range items {
		msg := ev.Msg
		if atBottom && wantsRefetch(&msg) {
			refetchIDs = append(refetchIDs, msg.ID)
		}
		if msg.Action != nil && msg.Action.Type == domain.ActionChatTitleUpdate {
			title := msg.Action.Text
			patch.Title = &title
		}
		if msg.Out {
			// An own message read everything before it.
			patch.InRead = &msg.ID
			unread = 0
			unreadSet = true
			continue
		}

		h.typing.Remove(peerID, msg.FromID)
		patch.OutRead = &msg.ID
		if ev.Peer.Keyboard != nil {
			patch.Keyboard = ev.Peer.Keyboard
		}
		switch {
		case unreadSet:
			unread++
		case hasConv:
			unread = conv.Unread + 1
			unreadSet = true
		}
		if mentionsAccount(ev.Peer.Mentions, h.account) {
			mentions = append(mentions, msg.ID)
		}
	}
	if unreadSet {
		patch.Unread = &unread
	}
	patch.Mentions = mentions
	patch.HasMentions = true

	if len(refetchIDs) > 0 {
		if e.Preload {
			full, err := h.insertFetched(ctx, peerID, refetchIDs)
			if err != nil {
				return err
			}
			if len(full) > 0 && full[len(full)-1].ID == lastMsg.ID {
				lastMsg = full[len(full)-1]
			}
		} else {
			gen := h.gen.Load()
			go func() {
				full, err := h.fetchMessages(ctx, peerID, refetchIDs, false)
				if err != nil {
					log.Printf("reconcile: background message fetch: %v", err)
					return
				}
				if h.gen.Load() != gen {
					return
				}
				for _, msg := range full {
					h.store.InsertMessage(peerID, msg)
				}
			}()
		}
	}

	for i, ev := range items {
		h.bus.Publish(store.Event{
			Kind:     store.EventNewMessage,
			PeerID:   peerID,
			MsgID:    ev.Msg.ID,
			RandomID: ev.Msg.RandomID,
			First:    i == 0,
			Echo:     ev.Msg.Out && h.consumeSend(ev.Msg.RandomID),
		})
	}
	h.archiveMessages(ctx, messagesOf(items))

	if lastMsg.Hidden {
		return nil
	}

	h.store.PatchConversation(patch)
	h.store.SetLastMessage(peerID, &lastMsg)
	if !h.store.HasActivePeer(peerID) {
		h.store.AddActivePeer(peerID)
		// A peer first seen through the poll has only a partial record;
		// fill it in off the handler path.
		gen := h.gen.Load()
		go func() {
			conv, profiles, err := h.fetchConversation(ctx, peerID)
			if err != nil {
				log.Printf("reconcile: %v", err)
				return
			}
			if h.gen.Load() != gen {
				return
			}
			h.store.UpsertProfiles(profiles)
			if conv != nil {
				h.store.UpsertConversation(*conv, nil)
			}
		}()
	}
	h.store.MoveConversation(peerID)
	h.bus.Publish(store.Event{Kind: store.EventConvMoved, PeerID: peerID})
	return nil
}

// insertFetched fetches full message bodies and splices them into the
// conversation, replacing summary forms already present.
func (h *Handlers) insertFetched(ctx context.Context, peerID int64, msgIDs []int64) ([]domain.Message, error) {
	full, err := h.fetchMessages(ctx, peerID, msgIDs, false)
	if err != nil {
		return nil, err
	}
	for _, msg := range full {
		h.store.InsertMessage(peerID, msg)
	}
	return full, nil
}

func messagesOf(items []*event.MessageEvent) []domain.Message {
	msgs := make([]domain.Message, len(items))
	for i, ev := range items {
		msgs[i] = ev.Msg
	}
	return msgs
}

func mentionsAccount(ids []int64, account int64) bool {
	for _, id := range ids {
		if id == account {
			return true
		}
	}
	return false
}

// handleEditMessage replaces a message body in place. Editing never moves
// the conversation; a mention stripped by the edit is dropped from the
// unread-mention list.
func (h *Handlers) handleEditMessage(ctx context.Context, e dispatch.Entry) error {
	ev := e.Data.(*event.MessageEvent)
	peerID := ev.Msg.PeerID
	msg := ev.Msg

	h.typing.Remove(peerID, msg.FromID)

	if wantsRefetch(&msg) && h.holdsMessage(peerID, msg.ID) {
		if e.Preload {
			full, err := h.fetchMessages(ctx, peerID, []int64{msg.ID}, false)
			if err != nil {
				return err
			}
			if len(full) > 0 {
				msg = full[0]
			}
		} else {
			gen := h.gen.Load()
			go func() {
				full, err := h.fetchMessages(ctx, peerID, []int64{msg.ID}, false)
				if err != nil {
					log.Printf("reconcile: background edit fetch: %v", err)
					return
				}
				if h.gen.Load() != gen {
					return
				}
				for _, m := range full {
					h.store.EditMessage(peerID, m)
				}
			}()
		}
	}

	conv, hasConv := h.store.Conversation(peerID)
	if hasConv {
		patch := domain.ConversationPatch{ID: peerID, HasMentions: true}
		patch.Mentions = append(patch.Mentions, conv.Mentions...)
		if msg.ID > conv.InRead && !mentionsAccount(ev.Peer.Mentions, h.account) {
			patch.Mentions = removeID(patch.Mentions, msg.ID)
		}
		h.store.PatchConversation(patch)
	}

	if last, ok := h.store.LastMessage(peerID); ok && last.ID == msg.ID {
		h.store.SetLastMessage(peerID, &msg)
	}
	h.store.EditMessage(peerID, msg)
	h.archiveMessages(ctx, []domain.Message{msg})
	h.bus.Publish(store.Event{Kind: store.EventConvUpdated, PeerID: peerID, MsgID: msg.ID})
	return nil
}

func (h *Handlers) holdsMessage(peerID, msgID int64) bool {
	for _, m := range h.store.Messages(peerID) {
		if m.ID == msgID {
			return true
		}
	}
	return false
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// handleReadInbound moves the incoming read marker and trims read mentions.
func (h *Handlers) handleReadInbound(ctx context.Context, e dispatch.Entry) error {
	rm := e.Data.(*event.ReadMarker)

	patch := domain.ConversationPatch{
		ID:          rm.PeerID,
		Unread:      &rm.Unread,
		InRead:      &rm.MsgID,
		HasMentions: true,
	}
	if conv, ok := h.store.Conversation(rm.PeerID); ok {
		for _, id := range conv.Mentions {
			if id > rm.MsgID {
				patch.Mentions = append(patch.Mentions, id)
			}
		}
	}
	// Reading the self dialog acknowledges both directions.
	if rm.PeerID == h.account {
		patch.OutRead = &rm.MsgID
	}
	h.store.PatchConversation(patch)
	h.bus.Publish(store.Event{Kind: store.EventConvUpdated, PeerID: rm.PeerID})
	return nil
}

// handleReadOutbound moves the outgoing read marker. The peer having read up
// to msgID implies everything up to it was delivered in both directions, so
// the incoming marker advances with it.
func (h *Handlers) handleReadOutbound(ctx context.Context, e dispatch.Entry) error {
	rm := e.Data.(*event.ReadMarker)
	h.store.PatchConversation(domain.ConversationPatch{
		ID:      rm.PeerID,
		InRead:  &rm.MsgID,
		OutRead: &rm.MsgID,
	})
	h.bus.Publish(store.Event{Kind: store.EventConvUpdated, PeerID: rm.PeerID})
	return nil
}

// handlePresence updates a known friend's online state; presence of users
// whose profile was never loaded is dropped.
func (h *Handlers) handlePresence(ctx context.Context, e dispatch.Entry) error {
	p := e.Data.(*event.Presence)
	if !h.store.HasProfile(p.UserID) {
		return nil
	}

	online := p.Online
	// Desktop platforms (windows10, web) do not count as mobile.
	mobile := online && p.Platform != 6 && p.Platform != 7
	patch := domain.ProfilePatch{
		ID:               p.UserID,
		Online:           &online,
		OnlineMobile:     &mobile,
		OnlineApp:        &p.AppID,
		LastSeenAt:       &p.Time,
		LastSeenPlatform: &p.Platform,
	}
	h.store.PatchProfile(patch)
	h.bus.Publish(store.Event{Kind: store.EventConvUpdated, UserID: p.UserID})
	return nil
}

// handlePurge drops a conversation wholesale.
func (h *Handlers) handlePurge(ctx context.Context, e dispatch.Entry) error {
	p := e.Data.(*event.Purge)
	h.store.RemoveAllMessages(p.PeerID)
	h.store.SetLastMessage(p.PeerID, nil)
	h.store.RemoveActivePeer(p.PeerID)
	h.typing.ClearPeer(p.PeerID)
	h.bus.Publish(store.Event{Kind: store.EventConvRemoved, PeerID: p.PeerID})
	return nil
}

// handleSnippet refreshes a message after the server attached a link
// snippet to it.
func (h *Handlers) handleSnippet(ctx context.Context, e dispatch.Entry) error {
	ev := e.Data.(*event.MessageEvent)
	msg := ev.Msg
	if e.Preload {
		full, err := h.fetchMessages(ctx, msg.PeerID, []int64{msg.ID}, false)
		if err != nil {
			return err
		}
		if len(full) > 0 {
			msg = full[0]
		}
	}
	h.store.EditMessage(msg.PeerID, msg)
	h.bus.Publish(store.Event{Kind: store.EventConvUpdated, PeerID: msg.PeerID, MsgID: msg.ID})
	return nil
}

// handleCacheReset re-fetches a message the server invalidated, if it is
// held locally at all.
func (h *Handlers) handleCacheReset(ctx context.Context, e dispatch.Entry) error {
	msgID := e.Data.(int64)
	peerID, ok := h.store.FindMessagePeer(msgID)
	if !ok {
		return nil
	}
	_, err := h.fetchMessages(ctx, peerID, []int64{msgID}, true)
	return err
}

// handleChatAction applies membership and ACL changes to a chat. Sub-types
// whose delta cannot be derived locally trigger a full conversation
// re-fetch.
func (h *Handlers) handleChatAction(ctx context.Context, e dispatch.Entry) error {
	ca := e.Data.(*event.ChatAction)
	if ca.Type == event.ChatTitleChanged || ca.Type == event.ChatKeyboardToggled {
		// Delivered through the accompanying service message.
		return nil
	}

	conv, ok := h.store.Conversation(ca.PeerID)
	if !ok {
		return nil
	}
	isSelf := ca.Extra == h.account
	patch := domain.ConversationPatch{ID: ca.PeerID}

	switch ca.Type {
	case event.ChatPhotoChanged, event.ChatRightsChanged:
		return h.loadConversation(ctx, ca.PeerID)

	case event.ChatAdminAppointed:
		if isSelf {
			return h.loadConversation(ctx, ca.PeerID)
		}
		patch.AdminIDs = append(append([]int64{}, conv.AdminIDs...), ca.Extra)
		patch.HasAdminIDs = true

	case event.ChatAdminDemoted:
		if isSelf {
			return h.loadConversation(ctx, ca.PeerID)
		}
		patch.AdminIDs = removeID(append([]int64{}, conv.AdminIDs...), ca.Extra)
		patch.HasAdminIDs = true

	case event.ChatPinChanged:
		if ca.Extra != 0 {
			return h.loadConversation(ctx, ca.PeerID)
		}
		patch.RemovePinnedMsg = true

	case event.ChatMemberJoined:
		if conv.Members != domain.MembersUnknown {
			members := conv.Members + 1
			patch.Members = &members
		}
		if isSelf {
			left := false
			patch.Left = &left
			writeAllowed := !conv.Channel
			patch.WriteAllowed = &writeAllowed
			if !conv.Channel {
				if err := h.loadConversation(ctx, ca.PeerID); err != nil {
					return err
				}
				if err := h.loadConversationMembers(ctx, ca.PeerID, true); err != nil {
					return err
				}
			}
		}

	case event.ChatMemberLeft, event.ChatMemberKicked:
		h.typing.Remove(ca.PeerID, ca.Extra)
		if conv.Members != domain.MembersUnknown {
			members := conv.Members - 1
			patch.Members = &members
		}
		if isSelf {
			left := true
			patch.Left = &left
			if ca.Type == event.ChatMemberKicked {
				writeAllowed := false
				patch.WriteAllowed = &writeAllowed
			}
			h.typing.ClearPeer(ca.PeerID)
		}

	default:
		log.Printf("reconcile: unknown chat action type=%d peer=%d", ca.Type, ca.PeerID)
		return nil
	}

	h.store.PatchConversation(patch)
	h.bus.Publish(store.Event{Kind: store.EventConvUpdated, PeerID: ca.PeerID})
	return nil
}

// handleTyping starts or refreshes typing indicators for everyone named in
// the signal, except the local account.
func (h *Handlers) handleTyping(kind string) func(ctx context.Context, e dispatch.Entry) error {
	return func(ctx context.Context, e dispatch.Entry) error {
		t := e.Data.(*event.Typing)
		for _, userID := range t.UserIDs {
			if userID == h.account {
				continue
			}
			h.typing.Start(t.PeerID, userID, kind)
		}
		return nil
	}
}

// handleUnreadCounter updates the account-wide unread dialogs counter.
func (h *Handlers) handleUnreadCounter(ctx context.Context, e dispatch.Entry) error {
	count := e.Data.(int)
	h.store.SetUnreadDialogs(count)
	h.bus.Publish(store.Event{Kind: store.EventUnreadDialogs, Count: count})
	return nil
}

// handlePushSettings flips a conversation's mute flag and arms the unmute
// timer for temporary mutes.
func (h *Handlers) handlePushSettings(ctx context.Context, e dispatch.Entry) error {
	ps := e.Data.(*event.PushSettings)
	if _, ok := h.store.Conversation(ps.PeerID); !ok {
		return nil
	}

	muted := ps.DisabledUntil != 0
	h.store.PatchConversation(domain.ConversationPatch{ID: ps.PeerID, Muted: &muted})

	if ps.DisabledUntil > 0 {
		h.mutes.Arm(ps.PeerID, time.Unix(ps.DisabledUntil, 0))
	} else {
		h.mutes.Disarm(ps.PeerID)
	}
	h.bus.Publish(store.Event{Kind: store.EventConvUpdated, PeerID: ps.PeerID})
	return nil
}
