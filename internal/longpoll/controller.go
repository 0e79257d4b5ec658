package longpoll

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/pulse/chat-sync/internal/dispatch"
	"github.com/pulse/chat-sync/internal/event"
	"github.com/pulse/chat-sync/internal/metrics"
	"github.com/pulse/chat-sync/internal/store"
	"github.com/pulse/chat-sync/internal/transport"
)

// Failure codes of a poll response.
const (
	failHistoryOutdated = 1 // ts too old, adopt the returned ts and backfill
	failKeyExpired      = 2 // key rotated, refetch it and keep the cursor
	failDataLost        = 3 // server-side loss, backfill and refetch in full
	failVersionInvalid  = 4 // protocol version rejected, nothing to recover
)

// State of the session lifecycle.
type State int32

const (
	StateUnstarted State = iota
	StatePolling
	StateRecovering
	StateTerminated
)

// Config holds poll timing. The request timeout leads the server-side wait
// by a second so a stuck response surfaces as a local timeout.
type Config struct {
	Wait        time.Duration
	PollTimeout time.Duration
}

// DefaultConfig returns the protocol's standard timing.
func DefaultConfig() Config {
	return Config{
		Wait:        10 * time.Second,
		PollTimeout: 11 * time.Second,
	}
}

// Controller owns one long-poll session: descriptor, cursor, poll loop and
// recovery. Run drives it to completion; everything else is internal.
type Controller struct {
	cfg     Config
	api     Caller
	httpc   *transport.Client
	disp    *dispatch.Dispatcher
	store   store.Store
	bus     store.Bus
	snap    Snapshot
	account int64

	mu     sync.Mutex
	state  State
	server string
	key    string
	cursor Cursor
}

// New creates a controller. snap may be nil when cursor persistence is not
// wanted.
func New(cfg Config, account int64, caller Caller, httpc *transport.Client, disp *dispatch.Dispatcher, st store.Store, bus store.Bus, snap Snapshot) *Controller {
	if bus == nil {
		bus = store.NopBus{}
	}
	return &Controller{
		cfg:     cfg,
		api:     caller,
		httpc:   httpc,
		disp:    disp,
		store:   st,
		bus:     bus,
		snap:    snap,
		account: account,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// pollResponse is one a_check response: either a ts plus updates, or a
// failure code. pts rides along when mode bit 32 is set.
type pollResponse struct {
	Failed  int               `json:"failed"`
	TS      uint64            `json:"ts"`
	PTS     uint64            `json:"pts"`
	Updates []json.RawMessage `json:"updates"`
}

// Run connects and polls until the context is cancelled or the session hits
// an unrecoverable condition. A saved cursor, when present, is replayed
// through backfill before live polling starts.
func (c *Controller) Run(ctx context.Context) error {
	defer func() {
		c.setState(StateTerminated)
		c.bus.Publish(store.Event{Kind: store.EventSessionStopped})
	}()

	desc, err := fetchServer(ctx, c.api)
	if err != nil {
		return err
	}
	c.server, c.key = desc.Server, desc.Key
	c.cursor = Cursor{TS: desc.TS, PTS: desc.PTS}

	if c.snap != nil {
		saved, err := c.snap.Load(ctx)
		switch {
		case err != nil:
			log.Printf("longpoll: cursor load: %v", err)
		case saved.PTS > 0 && saved.PTS < desc.PTS:
			c.setState(StateRecovering)
			c.cursor.PTS = saved.PTS
			if err := c.backfill(ctx); err != nil {
				return err
			}
		}
	}

	c.setState(StatePolling)
	log.Printf("longpoll: session started at ts=%d pts=%d", c.cursor.TS, c.cursor.PTS)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := c.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.PollCycles.WithLabelValues("error").Inc()
			return err
		}

		if resp.Failed == 0 {
			c.apply(ctx, resp)
			continue
		}

		metrics.PollCycles.WithLabelValues("failed").Inc()
		if err := c.recover(ctx, resp); err != nil {
			return err
		}
	}
}

// apply dispatches one successful batch and advances the cursor.
func (c *Controller) apply(ctx context.Context, resp *pollResponse) {
	if len(resp.Updates) > 0 {
		start := time.Now()
		c.disp.Dispatch(ctx, c.toUpdates(resp.Updates))
		metrics.DispatchLatency.Observe(time.Since(start).Seconds())
	}
	if resp.TS > c.cursor.TS {
		c.cursor.TS = resp.TS
	}
	if resp.PTS > c.cursor.PTS {
		c.cursor.PTS = resp.PTS
	}
	metrics.PollCycles.WithLabelValues("ok").Inc()
	c.saveCursor(ctx)
}

func (c *Controller) toUpdates(raws []json.RawMessage) []dispatch.Update {
	updates := make([]dispatch.Update, 0, len(raws))
	for _, raw := range raws {
		tag, tuple, err := event.Parse(raw)
		if err != nil {
			log.Printf("longpoll: bad update: %v", err)
			metrics.EventsMalformed.Inc()
			continue
		}
		updates = append(updates, dispatch.Update{Tag: tag, Tuple: tuple})
	}
	return updates
}

// recover runs the failure-specific procedure. Codes 1 and 3 replay history;
// 2 only rotates the key; 4 is terminal.
func (c *Controller) recover(ctx context.Context, resp *pollResponse) error {
	c.setState(StateRecovering)
	defer c.setState(StatePolling)
	metrics.Recoveries.WithLabelValues(strconv.Itoa(resp.Failed)).Inc()
	log.Printf("longpoll: recovering from failure code %d", resp.Failed)

	switch resp.Failed {
	case failHistoryOutdated:
		// Backfill from the stale ts first; the server-supplied ts is
		// adopted only once the gap is replayed.
		if err := c.backfill(ctx); err != nil {
			return err
		}
		if resp.TS > c.cursor.TS {
			c.cursor.TS = resp.TS
		}

	case failKeyExpired:
		desc, err := fetchServer(ctx, c.api)
		if err != nil {
			return err
		}
		c.server, c.key = desc.Server, desc.Key

	case failDataLost:
		// The persisted cursor refers to a stream the server discarded.
		if c.snap != nil {
			if err := c.snap.Clear(ctx); err != nil {
				log.Printf("longpoll: cursor clear: %v", err)
			}
		}
		if err := c.backfill(ctx); err != nil {
			return err
		}
		desc, err := fetchServer(ctx, c.api)
		if err != nil {
			return err
		}
		c.server, c.key = desc.Server, desc.Key
		c.cursor.TS = desc.TS

	case failVersionInvalid:
		return fmt.Errorf("longpoll: protocol version %d rejected by server", protocolVersion)

	default:
		return fmt.Errorf("longpoll: unknown failure code %d", resp.Failed)
	}

	c.saveCursor(ctx)
	return nil
}

func (c *Controller) poll(ctx context.Context) (*pollResponse, error) {
	q := url.Values{}
	q.Set("act", "a_check")
	q.Set("key", c.key)
	q.Set("ts", strconv.FormatUint(c.cursor.TS, 10))
	q.Set("wait", strconv.Itoa(int(c.cfg.Wait/time.Second)))
	q.Set("mode", strconv.Itoa(pollMode))
	q.Set("version", strconv.Itoa(protocolVersion))

	resp, err := c.httpc.Do(ctx, transport.Request{
		URL:     "https://" + c.server + "?" + q.Encode(),
		Timeout: c.cfg.PollTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("longpoll: poll: %w", err)
	}

	var pr pollResponse
	if err := json.Unmarshal(resp.Body, &pr); err != nil {
		return nil, fmt.Errorf("longpoll: poll response: %w", err)
	}
	return &pr, nil
}

func (c *Controller) saveCursor(ctx context.Context) {
	if c.snap == nil {
		return
	}
	if err := c.snap.Save(ctx, c.cursor); err != nil {
		log.Printf("longpoll: cursor save: %v", err)
	}
}
