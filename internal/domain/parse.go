package domain

import (
	"encoding/json"
	"strings"
)

// Wire structs for the rich API objects returned by conversation, history
// and direct-fetch calls. Only the fields the engine consumes are declared.

type APIPeer struct {
	ID      int64  `json:"id"`
	Type    string `json:"type"`
	LocalID int64  `json:"local_id"`
}

type APIPushSettings struct {
	DisabledUntil   int64 `json:"disabled_until"`
	DisabledForever bool  `json:"disabled_forever"`
	NoSound         bool  `json:"no_sound"`
}

type APIChatPhoto struct {
	Photo50  string `json:"photo_50"`
	Photo100 string `json:"photo_100"`
	Photo200 string `json:"photo_200"`
}

type APIChatSettings struct {
	OwnerID        int64         `json:"owner_id"`
	Title          string        `json:"title"`
	State          string        `json:"state"` // in | left | kicked
	MembersCount   int           `json:"members_count"`
	PinnedMessage  *APIMessage   `json:"pinned_message"`
	Photo          *APIChatPhoto `json:"photo"`
	AdminIDs       []int64       `json:"admin_ids"`
	ActiveIDs      []int64       `json:"active_ids"`
	IsGroupChannel bool          `json:"is_group_channel"`
}

type APIConversation struct {
	Peer            APIPeer          `json:"peer"`
	LastMessageID   int64            `json:"last_message_id"`
	InRead          int64            `json:"in_read"`
	OutRead         int64            `json:"out_read"`
	UnreadCount     int              `json:"unread_count"`
	Mentions        []int64          `json:"mentions"`
	CurrentKeyboard *APIKeyboard     `json:"current_keyboard"`
	PushSettings    *APIPushSettings `json:"push_settings"`
	CanWrite        struct {
		Allowed bool `json:"allowed"`
	} `json:"can_write"`
	ChatSettings *APIChatSettings `json:"chat_settings"`
}

type APIKeyboard struct {
	OneTime  bool            `json:"one_time"`
	Inline   bool            `json:"inline"`
	AuthorID int64           `json:"author_id"`
	Buttons  json.RawMessage `json:"buttons"`
}

type APIAttachment struct {
	Type string `json:"type"`
	Link *struct {
		URL string `json:"url"`
	} `json:"link"`
}

type APIAction struct {
	Type                  string `json:"type"`
	MemberID              int64  `json:"member_id"`
	Text                  string `json:"text"`
	ConversationMessageID int64  `json:"conversation_message_id"`
}

type APIMessage struct {
	ID                    int64           `json:"id"`
	PeerID                int64           `json:"peer_id"`
	FromID                int64           `json:"from_id"`
	Text                  string          `json:"text"`
	Date                  int64           `json:"date"`
	UpdateTime            int64           `json:"update_time"`
	ConversationMessageID int64           `json:"conversation_message_id"`
	RandomID              int64           `json:"random_id"`
	Action                *APIAction      `json:"action"`
	Attachments           []APIAttachment `json:"attachments"`
	Geo                   json.RawMessage `json:"geo"`
	FwdMessages           []APIMessage    `json:"fwd_messages"`
	ReplyMessage          *APIMessage     `json:"reply_message"`
	Keyboard              *APIKeyboard    `json:"keyboard"`
	Template              json.RawMessage `json:"template"`
	IsHidden              bool            `json:"is_hidden"`
	WasListened           bool            `json:"was_listened"`
}

// Link attachments are reclassified by destination so the attachment summary
// distinguishes playlists, artist pages and articles from plain links.
const (
	playlistLink = "https://m.vk.com/audio?act=audio_playlist"
	artistLink   = "https://m.vk.com/artist/"
	articleLink  = "https://m.vk.com/@"
)

func attachmentType(a APIAttachment) string {
	if a.Type == "link" && a.Link != nil {
		switch {
		case strings.Contains(a.Link.URL, playlistLink):
			return "audio_playlist"
		case strings.Contains(a.Link.URL, artistLink):
			return "artist"
		case strings.Contains(a.Link.URL, articleLink):
			return "article"
		}
	}
	return a.Type
}

func parseKeyboard(k *APIKeyboard) *Keyboard {
	if k == nil {
		return nil
	}
	return &Keyboard{
		OneTime:  k.OneTime,
		Inline:   k.Inline,
		AuthorID: k.AuthorID,
		Buttons:  k.Buttons,
	}
}

// ParseMessage converts a rich API message into the domain model. The
// account id resolves message direction.
func ParseMessage(msg *APIMessage, accountID int64) Message {
	attachments := make(map[string]int)
	if len(msg.Geo) > 0 && string(msg.Geo) != "null" {
		attachments["geo"]++
	}
	for _, a := range msg.Attachments {
		attachments[attachmentType(a)]++
	}

	fwdCount := len(msg.FwdMessages)
	hasReply := msg.ReplyMessage != nil
	hasAttachment := fwdCount > 0 || hasReply || len(attachments) > 0

	return Message{
		ID:                    msg.ID,
		PeerID:                msg.PeerID,
		FromID:                msg.FromID,
		Out:                   msg.FromID == accountID,
		Text:                  msg.Text,
		Date:                  msg.Date,
		EditTime:              msg.UpdateTime,
		ConversationMessageID: msg.ConversationMessageID,
		RandomID:              msg.RandomID,
		Action:                parseAction(msg.Action),
		Attachments:           attachments,
		HasAttachment:         hasAttachment,
		HasReplyMsg:           hasReply,
		FwdCount:              fwdCount,
		HasTemplate:           len(msg.Template) > 0 && string(msg.Template) != "null",
		Keyboard:              parseKeyboard(msg.Keyboard),
		Hidden:                msg.IsHidden,
		WasListened:           msg.WasListened,
		ContentDeleted:        msg.Text == "" && msg.Action == nil && !hasAttachment,
		Origin:                OriginFetch,
	}
}

func parseAction(a *APIAction) *Action {
	if a == nil {
		return nil
	}
	return &Action{
		Type:                  a.Type,
		MemberID:              a.MemberID,
		Text:                  a.Text,
		ConversationMessageID: a.ConversationMessageID,
	}
}

// ParseConversation converts a rich API conversation into the domain model.
func ParseConversation(conv *APIConversation, accountID int64) Conversation {
	isChat := IsChat(conv.Peer.ID)
	cs := conv.ChatSettings

	c := Conversation{
		ID:           conv.Peer.ID,
		Members:      MembersUnknown,
		Muted:        conv.PushSettings != nil && conv.PushSettings.DisabledForever,
		Unread:       conv.UnreadCount,
		WriteAllowed: conv.CanWrite.Allowed,
		Keyboard:     parseKeyboard(conv.CurrentKeyboard),
		LastMsgID:    conv.LastMessageID,
		InRead:       conv.InRead,
		OutRead:      conv.OutRead,
		Mentions:     conv.Mentions,
		Loaded:       true,
	}

	if isChat && cs != nil {
		c.Channel = cs.IsGroupChannel
		c.Members = cs.MembersCount
		c.Left = cs.State == "left" || cs.State == "kicked"
		c.Title = strings.ReplaceAll(cs.Title, "\n", " ")
		c.OwnerID = cs.OwnerID
		c.AdminIDs = cs.AdminIDs
		if cs.Photo != nil {
			c.Photo = cs.Photo.Photo100
		}
		if cs.PinnedMessage != nil {
			pinned := ParseMessage(cs.PinnedMessage, accountID)
			c.PinnedMsg = &pinned
		}
	}

	return c
}

// APIProfile is a user record from a profiles block; APIGroup is a community
// record from a groups block.
type APIProfile struct {
	ID          int64  `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Photo50     string `json:"photo_50"`
	Photo100    string `json:"photo_100"`
	Deactivated string `json:"deactivated"`
	Online      int    `json:"online"`
	OnlineApp   int64  `json:"online_app"`
	LastSeen    *struct {
		Time     int64 `json:"time"`
		Platform int   `json:"platform"`
	} `json:"last_seen"`
}

type APIGroup struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Photo50     string `json:"photo_50"`
	Photo100    string `json:"photo_100"`
	Deactivated string `json:"deactivated"`
}

// MergeProfiles normalizes a profiles + groups pair into one profile batch,
// negating community ids so sender ids resolve uniformly.
func MergeProfiles(profiles []APIProfile, groups []APIGroup) []Profile {
	out := make([]Profile, 0, len(profiles)+len(groups))

	for _, p := range profiles {
		photo := p.Photo100
		if photo == "" {
			photo = p.Photo50
		}
		prof := Profile{
			ID:          p.ID,
			FirstName:   p.FirstName,
			LastName:    p.LastName,
			Name:        strings.TrimSpace(p.FirstName + " " + p.LastName),
			Photo:       photo,
			Deactivated: p.Deactivated != "",
			Online:      p.Online == 1,
			OnlineApp:   p.OnlineApp,
		}
		if p.LastSeen != nil {
			prof.LastSeenAt = p.LastSeen.Time
			prof.LastSeenPlatform = p.LastSeen.Platform
		}
		out = append(out, prof)
	}

	for _, g := range groups {
		photo := g.Photo100
		if photo == "" {
			photo = g.Photo50
		}
		out = append(out, Profile{
			ID:          -g.ID,
			Name:        g.Name,
			Photo:       photo,
			Group:       true,
			Deactivated: g.Deactivated != "",
		})
	}

	return out
}
