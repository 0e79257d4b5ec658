package longpoll

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pulse/chat-sync/internal/api"
	"github.com/pulse/chat-sync/internal/dispatch"
	"github.com/pulse/chat-sync/internal/domain"
	"github.com/pulse/chat-sync/internal/event"
	"github.com/pulse/chat-sync/internal/metrics"
)

// backfillPageLimit is the per-page message cap of a history request.
const backfillPageLimit = 500

// historyFields is the profile field set requested alongside history.
const historyFields = "photo_50,photo_100,verified,sex,first_name_acc,last_name_acc,online,last_seen,online_info,domain"

// historyPage is one messages.getLongPollHistory response.
type historyPage struct {
	History       []json.RawMessage        `json:"history"`
	Messages      historyMessages          `json:"messages"`
	Conversations []domain.APIConversation `json:"conversations"`
	Profiles      []domain.APIProfile      `json:"profiles"`
	Groups        []domain.APIGroup        `json:"groups"`
	NewPTS        uint64                   `json:"new_pts"`
	More          bool                     `json:"more"`
}

type historyMessages struct {
	Items []domain.APIMessage `json:"items"`
}

// backfill replays history from the current pts until the server reports no
// more pages. Message-bearing history records are reshaped into the rich
// form the handlers consume, since history delivers full message objects
// separately from the event tuples.
func (c *Controller) backfill(ctx context.Context) error {
	for {
		page, err := c.fetchHistoryPage(ctx)
		if err != nil {
			return err
		}
		metrics.BackfillPages.Inc()

		c.store.UpsertProfiles(domain.MergeProfiles(page.Profiles, page.Groups))
		for i := range page.Conversations {
			conv := domain.ParseConversation(&page.Conversations[i], c.account)
			if _, held := c.store.Conversation(conv.ID); held {
				c.store.UpsertConversation(conv, nil)
			}
		}

		updates := c.reshapeHistory(page)
		if len(updates) > 0 {
			c.disp.Dispatch(ctx, updates)
		}

		if page.NewPTS > c.cursor.PTS {
			c.cursor.PTS = page.NewPTS
		}
		if !page.More {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Controller) fetchHistoryPage(ctx context.Context) (*historyPage, error) {
	params := api.Params{
		"ts":         strconv.FormatUint(c.cursor.TS, 10),
		"pts":        strconv.FormatUint(c.cursor.PTS, 10),
		"msgs_limit": strconv.Itoa(backfillPageLimit),
		"lp_version": strconv.Itoa(protocolVersion),
		"fields":     historyFields,
	}
	if maxID := c.store.NewestMessageID(); maxID > 0 {
		params["max_msg_id"] = strconv.FormatInt(maxID, 10)
	}

	raw, err := c.api.Call(ctx, "messages.getLongPollHistory", params)
	if err != nil {
		return nil, fmt.Errorf("longpoll: history at pts %d: %w", c.cursor.PTS, err)
	}
	var page historyPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("longpoll: history at pts %d: %w", c.cursor.PTS, err)
	}
	return &page, nil
}

// reshapeHistory converts history records into dispatch updates. Tags that
// carry a message body in the live stream arrive here as a bare reference
// tuple plus a full message object, so those are rebuilt into rich events;
// every other tag passes through as a normal tuple.
func (c *Controller) reshapeHistory(page *historyPage) []dispatch.Update {
	byID := make(map[int64]*domain.APIMessage, len(page.Messages.Items))
	for i := range page.Messages.Items {
		byID[page.Messages.Items[i].ID] = &page.Messages.Items[i]
	}

	var updates []dispatch.Update
	for _, raw := range page.History {
		tag, tuple, err := event.Parse(raw)
		if err != nil {
			metrics.EventsMalformed.Inc()
			continue
		}

		switch tag {
		case event.TagFlagsReset, event.TagNewMessage, event.TagEditMessage, event.TagSnippet:
			msgID, err := tuple.Int(0)
			if err != nil {
				metrics.EventsMalformed.Inc()
				continue
			}
			apiMsg, ok := byID[msgID]
			if !ok {
				continue
			}
			msg := domain.ParseMessage(apiMsg, c.account)
			msg.Origin = domain.OriginHistory
			updates = append(updates, dispatch.Update{
				Tag:         tag,
				Rich:        &event.MessageEvent{Peer: event.PeerPatch{ID: msg.PeerID}, Msg: msg},
				PeerID:      msg.PeerID,
				FromHistory: true,
			})
		default:
			updates = append(updates, dispatch.Update{Tag: tag, Tuple: tuple})
		}
	}
	return updates
}
