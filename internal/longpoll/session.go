// Package longpoll runs the live update session: it obtains a poll server
// descriptor, long-polls it for event batches, recovers from the protocol's
// failure codes and backfills missed history through the API queue.
package longpoll

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pulse/chat-sync/internal/api"
)

// protocolVersion is the long-poll protocol version this engine speaks.
// A failed:4 response means the server no longer supports it.
const protocolVersion = 10

// pollMode requests attachment summaries (2), extended event payloads (8),
// returned pts (32), the platform field of presence events (64) and
// random_id delivery (128).
const pollMode = 2 | 8 | 32 | 64 | 128

// Cursor is the session's resume position: ts orders poll batches, pts
// orders the server-side history used for backfill. Both only ever move
// forward within a session.
type Cursor struct {
	TS  uint64 `json:"ts"`
	PTS uint64 `json:"pts"`
}

// Snapshot persists the cursor across process restarts so a fresh session
// can backfill from the last applied position instead of starting cold.
type Snapshot interface {
	// Load returns the saved cursor, or a zero cursor when none exists.
	Load(ctx context.Context) (Cursor, error)
	Save(ctx context.Context, cur Cursor) error
	Clear(ctx context.Context) error
}

// serverDescriptor is the connection handle returned by the API: the host
// to poll, the access key for it, and the initial cursor.
type serverDescriptor struct {
	Server string `json:"server"`
	Key    string `json:"key"`
	TS     uint64 `json:"ts"`
	PTS    uint64 `json:"pts"`
}

// Caller is the API surface the session needs; *api.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, params api.Params, platform ...api.Platform) (json.RawMessage, error)
}

func fetchServer(ctx context.Context, caller Caller) (*serverDescriptor, error) {
	raw, err := caller.Call(ctx, "messages.getLongPollServer", api.Params{
		"lp_version": strconv.Itoa(protocolVersion),
		"need_pts":   "1",
	})
	if err != nil {
		return nil, fmt.Errorf("longpoll: get server: %w", err)
	}
	var desc serverDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("longpoll: get server: %w", err)
	}
	if desc.Server == "" || desc.Key == "" {
		return nil, fmt.Errorf("longpoll: get server: empty descriptor")
	}
	return &desc, nil
}
