// Package api invokes named remote procedures against the messaging backend.
// All calls funnel through a single-flight queue: one remote call executes
// at a time, callers await their turn, and a retryable error (rate limit,
// flood) blocks the queue on the same call until it resolves.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulse/chat-sync/internal/transport"
)

// Version is the remote API protocol version sent with every call.
const Version = "5.131"

// Params are the named parameters of one remote procedure call.
type Params map[string]string

// Platform selects the credential and endpoint flavor for a call.
type Platform struct {
	Android bool
	VKMe    bool
}

// Request is one queued remote call. Handlers may mutate Params between
// retries.
type Request struct {
	Method   string
	Params   Params
	Platform Platform
}

// Config holds API client settings.
type Config struct {
	Host         string
	VKMeHost     string
	Lang         string
	Token        string
	AndroidToken string
	// Timeout bounds a single HTTP attempt; the transport retries
	// connectivity loss underneath it.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:     "api.vk.com",
		VKMeHost: "api.vk.me",
		Lang:     "ru",
		Timeout:  30 * time.Second,
	}
}

// Doer is the transport contract the client needs. *transport.Client
// satisfies it.
type Doer interface {
	Do(ctx context.Context, req transport.Request) (*transport.Response, error)
}

type call struct {
	ctx    context.Context
	req    *Request
	result chan callResult
}

type callResult struct {
	data json.RawMessage
	err  error
}

// Client is the single-flight API client.
type Client struct {
	cfg       Config
	transport Doer

	mu       sync.RWMutex
	handlers map[int]ErrorHandler

	queue chan *call
	done  chan struct{}
	once  sync.Once
}

// New creates an API client and starts its queue worker.
func New(cfg Config, doer Doer) *Client {
	c := &Client{
		cfg:       cfg,
		transport: doer,
		handlers:  defaultHandlers(),
		queue:     make(chan *call, 128),
		done:      make(chan struct{}),
	}
	go c.worker()
	return c
}

// OnError registers (or replaces) the handler for a remote error code.
func (c *Client) OnError(code int, handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[code] = handler
}

func (c *Client) handler(code int) ErrorHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handlers[code]
}

// Close stops the queue worker. In-flight and queued calls fail with
// ErrClosed.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// Call enqueues a remote procedure call and awaits its result. The context
// covers both the queue wait and the call itself.
func (c *Client) Call(ctx context.Context, method string, params Params, platform ...Platform) (json.RawMessage, error) {
	req := &Request{Method: method, Params: params}
	if len(platform) > 0 {
		req.Platform = platform[0]
	}
	if req.Params == nil {
		req.Params = Params{}
	}

	cl := &call{ctx: ctx, req: req, result: make(chan callResult, 1)}

	select {
	case c.queue <- cl:
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-cl.result:
		return res.data, res.err
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// worker drains the queue one call at a time. A retryable resolution loops
// on the same call without advancing.
func (c *Client) worker() {
	for {
		select {
		case <-c.done:
			return
		case cl := <-c.queue:
			data, err := c.run(cl)
			cl.result <- callResult{data: data, err: err}
		}
	}
}

func (c *Client) run(cl *call) (json.RawMessage, error) {
	for {
		data, apiErr, err := c.execute(cl.ctx, cl.req)
		if err != nil {
			return nil, err
		}
		if apiErr == nil {
			return data, nil
		}

		handler := c.handler(apiErr.Code)
		if handler == nil {
			return nil, apiErr
		}

		res := handler(cl.req, apiErr)
		if !res.Retry {
			if res.Err != nil {
				return nil, res.Err
			}
			return nil, apiErr
		}
		if res.Delay > 0 {
			select {
			case <-time.After(res.Delay):
			case <-cl.ctx.Done():
				return nil, cl.ctx.Err()
			case <-c.done:
				return nil, ErrClosed
			}
		}
	}
}

type callEnvelope struct {
	Response      json.RawMessage `json:"response"`
	Error         *Error          `json:"error"`
	ExecuteErrors json.RawMessage `json:"execute_errors"`
}

func (c *Client) execute(ctx context.Context, req *Request) (json.RawMessage, *Error, error) {
	form := url.Values{}
	token := c.cfg.Token
	if req.Platform.Android {
		token = c.cfg.AndroidToken
	}
	if token != "" {
		form.Set("access_token", token)
	}
	form.Set("lang", c.cfg.Lang)
	form.Set("v", Version)
	for key, value := range req.Params {
		form.Set(key, value)
	}

	host := c.cfg.Host
	if req.Platform.VKMe {
		host = c.cfg.VKMeHost
	}

	resp, err := c.transport.Do(ctx, transport.Request{
		Method:  "POST",
		URL:     "https://" + host + "/method/" + req.Method,
		Body:    form.Encode(),
		Timeout: c.cfg.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("api: %s: %w", req.Method, err)
	}

	var env callEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, nil, fmt.Errorf("api: %s: decode response: %w", req.Method, err)
	}

	if len(env.ExecuteErrors) > 0 {
		return nil, nil, fmt.Errorf("api: %s: execute errors: %s", req.Method, env.ExecuteErrors)
	}
	if env.Error != nil {
		return nil, env.Error, nil
	}
	if env.Response == nil {
		return nil, nil, fmt.Errorf("api: %s: empty response", req.Method)
	}
	return env.Response, nil, nil
}

// RandomID generates a client-side random message id used to dedupe a local
// send against its authoritative echo from the stream.
func RandomID() int64 {
	return int64(int32(uuid.New().ID()))
}

// SendMessage posts a text message through the queue and returns the new
// message id. The caller supplies the random id (see RandomID) so it can
// match the authoritative echo from the stream against this send.
func (c *Client) SendMessage(ctx context.Context, peerID, randomID int64, text string) (int64, error) {
	data, err := c.Call(ctx, "messages.send", Params{
		"peer_id":   strconv.FormatInt(peerID, 10),
		"random_id": strconv.FormatInt(randomID, 10),
		"message":   text,
	})
	if err != nil {
		return 0, err
	}
	var msgID int64
	if err := json.Unmarshal(data, &msgID); err != nil {
		return 0, fmt.Errorf("api: messages.send: decode response: %w", err)
	}
	return msgID, nil
}
