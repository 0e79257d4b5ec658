package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/pulse/chat-sync/internal/api"
	"github.com/pulse/chat-sync/internal/domain"
)

// profileFields is the profile field set requested on every conversation and
// member fetch.
const profileFields = "photo_50,photo_100,verified,sex,status,first_name_acc,last_name_acc,online,last_seen,online_info,domain"

// codeKickedFromChat is the remote error for member listing of a chat the
// account has left or been removed from.
const codeKickedFromChat = 917

// Caller is the API surface the handlers need; *api.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, params api.Params, platform ...api.Platform) (json.RawMessage, error)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = itoa(id)
	}
	return strings.Join(parts, ",")
}

// fetchLastMessage re-fetches a conversation's authoritative last message
// and folds the returned conversation into the store. Returns nil when the
// conversation has no messages left; the cached snapshot is cleared then.
func (h *Handlers) fetchLastMessage(ctx context.Context, peerID int64) (*domain.Message, error) {
	raw, err := h.api.Call(ctx, "execute.getLastMessage", api.Params{
		"peer_id": itoa(peerID),
		"func_v":  "2",
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: last message of %d: %w", peerID, err)
	}

	var resp struct {
		Message      *domain.APIMessage      `json:"message"`
		Conversation *domain.APIConversation `json:"conversation"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("reconcile: last message of %d: %w", peerID, err)
	}

	var msg *domain.Message
	if resp.Message != nil {
		m := domain.ParseMessage(resp.Message, h.account)
		msg = &m
	}

	if resp.Conversation != nil {
		conv := domain.ParseConversation(resp.Conversation, h.account)
		h.store.UpsertConversation(conv, msg)
	}
	if msg == nil {
		h.store.SetLastMessage(peerID, nil)
	}
	return msg, nil
}

// fetchMessages retrieves full message bodies by id. When apply is set, each
// returned message replaces its local counterpart in place; either way the
// parsed messages are returned.
func (h *Handlers) fetchMessages(ctx context.Context, peerID int64, msgIDs []int64, apply bool) ([]domain.Message, error) {
	raw, err := h.api.Call(ctx, "messages.getById", api.Params{
		"message_ids": joinIDs(msgIDs),
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: fetch messages %v: %w", msgIDs, err)
	}

	var resp struct {
		Items []domain.APIMessage `json:"items"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("reconcile: fetch messages %v: %w", msgIDs, err)
	}

	messages := make([]domain.Message, 0, len(resp.Items))
	for i := range resp.Items {
		msg := domain.ParseMessage(&resp.Items[i], h.account)
		messages = append(messages, msg)
		if apply {
			h.store.EditMessage(peerID, msg)
		}
	}
	return messages, nil
}

// loadConversation re-fetches one conversation in full, merging the attached
// profiles into the store.
func (h *Handlers) loadConversation(ctx context.Context, peerID int64) error {
	conv, profiles, err := h.fetchConversation(ctx, peerID)
	if err != nil {
		return err
	}
	h.store.UpsertProfiles(profiles)
	if conv != nil {
		h.store.UpsertConversation(*conv, nil)
	}
	return nil
}

// fetchConversation is the remote half of loadConversation; callers that may
// outlive the session apply the result themselves after a generation check.
func (h *Handlers) fetchConversation(ctx context.Context, peerID int64) (*domain.Conversation, []domain.Profile, error) {
	raw, err := h.api.Call(ctx, "messages.getConversationsById", api.Params{
		"peer_ids": itoa(peerID),
		"extended": "1",
		"fields":   profileFields,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reconcile: load conversation %d: %w", peerID, err)
	}

	var resp struct {
		Items    []domain.APIConversation `json:"items"`
		Profiles []domain.APIProfile      `json:"profiles"`
		Groups   []domain.APIGroup        `json:"groups"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, fmt.Errorf("reconcile: load conversation %d: %w", peerID, err)
	}

	profiles := domain.MergeProfiles(resp.Profiles, resp.Groups)
	if len(resp.Items) == 0 {
		return nil, profiles, nil
	}
	conv := domain.ParseConversation(&resp.Items[0], h.account)
	return &conv, profiles, nil
}

// memberLoader remembers which chats already had their member profiles
// loaded so repeated membership events don't refetch them.
type memberLoader struct {
	mu     sync.Mutex
	loaded map[int64]bool
}

func newMemberLoader() *memberLoader {
	return &memberLoader{loaded: make(map[int64]bool)}
}

// loadConversationMembers fetches member profiles of a chat once. A kicked
// error clears the loaded mark, since the account may return later and need
// a retry.
func (h *Handlers) loadConversationMembers(ctx context.Context, peerID int64, force bool) error {
	h.members.mu.Lock()
	if h.members.loaded[peerID] && !force {
		h.members.mu.Unlock()
		return nil
	}
	h.members.loaded[peerID] = true
	h.members.mu.Unlock()

	raw, err := h.api.Call(ctx, "messages.getConversationMembers", api.Params{
		"peer_id": itoa(peerID),
		"fields":  profileFields,
	})
	if err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) && apiErr.Code == codeKickedFromChat {
			h.members.mu.Lock()
			delete(h.members.loaded, peerID)
			h.members.mu.Unlock()
			return nil
		}
		return fmt.Errorf("reconcile: load members of %d: %w", peerID, err)
	}

	var resp struct {
		Profiles []domain.APIProfile `json:"profiles"`
		Groups   []domain.APIGroup   `json:"groups"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("reconcile: load members of %d: %w", peerID, err)
	}

	h.store.UpsertProfiles(domain.MergeProfiles(resp.Profiles, resp.Groups))
	return nil
}
