package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pulse/chat-sync/internal/transport"
)

// scriptedDoer replays canned response bodies in order and records the
// requests it saw.
type scriptedDoer struct {
	mu        sync.Mutex
	responses []string
	requests  []transport.Request
}

func (d *scriptedDoer) Do(_ context.Context, req transport.Request) (*transport.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	if len(d.responses) == 0 {
		return nil, fmt.Errorf("scriptedDoer: no response left for %s", req.URL)
	}
	body := d.responses[0]
	d.responses = d.responses[1:]
	return &transport.Response{Body: []byte(body), StatusCode: 200}, nil
}

func (d *scriptedDoer) seen() []transport.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]transport.Request, len(d.requests))
	copy(out, d.requests)
	return out
}

func newTestClient(doer Doer) *Client {
	cfg := DefaultConfig()
	cfg.Token = "token"
	return New(cfg, doer)
}

func TestCall_Basic(t *testing.T) {
	doer := &scriptedDoer{responses: []string{`{"response": {"ok": 1}}`}}
	c := newTestClient(doer)
	defer c.Close()

	data, err := c.Call(context.Background(), "users.get", Params{"user_ids": "1"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(data) != `{"ok": 1}` {
		t.Errorf("response = %s", data)
	}

	reqs := doer.seen()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests", len(reqs))
	}
	if !strings.HasSuffix(reqs[0].URL, "/method/users.get") {
		t.Errorf("URL = %s", reqs[0].URL)
	}
	form, err := url.ParseQuery(reqs[0].Body)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if form.Get("access_token") != "token" || form.Get("v") != Version {
		t.Errorf("form = %v", form)
	}
	if form.Get("user_ids") != "1" {
		t.Errorf("user_ids = %q", form.Get("user_ids"))
	}
}

func TestCall_RetryableErrorRepeatsSameCall(t *testing.T) {
	doer := &scriptedDoer{responses: []string{
		`{"error": {"error_code": 6, "error_msg": "too many requests"}}`,
		`{"response": 42}`,
	}}
	c := newTestClient(doer)
	defer c.Close()

	// Shorten the retry delay so the test does not sleep for a second.
	c.OnError(CodeTooManyRequests, func(*Request, *Error) Resolution {
		return Resolution{Retry: true, Delay: time.Millisecond}
	})

	data, err := c.Call(context.Background(), "messages.getById", Params{"message_ids": "5"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(data) != "42" {
		t.Errorf("response = %s", data)
	}

	reqs := doer.seen()
	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want the same call twice", len(reqs))
	}
	if reqs[0].URL != reqs[1].URL || reqs[0].Body != reqs[1].Body {
		t.Error("retry did not repeat the identical call")
	}
}

func TestCall_SingleFlightOrder(t *testing.T) {
	doer := &scriptedDoer{responses: []string{
		`{"response": 1}`,
		`{"response": 2}`,
	}}
	c := newTestClient(doer)
	defer c.Close()

	first, err := c.Call(context.Background(), "first.method", nil)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := c.Call(context.Background(), "second.method", nil)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if string(first) != "1" || string(second) != "2" {
		t.Errorf("responses out of order: %s, %s", first, second)
	}
	reqs := doer.seen()
	if !strings.Contains(reqs[0].URL, "first.method") || !strings.Contains(reqs[1].URL, "second.method") {
		t.Errorf("requests out of order: %v", reqs)
	}
}

func TestCall_SessionExpiredClassification(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want error
	}{
		{"revoked", "user revoke access for this token", ErrSessionExpired},
		{"deactivated", "user is deactivated", ErrAccountDeactivated},
		{"blocked", "invalid access_token (2)", ErrAccountBlocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := &scriptedDoer{responses: []string{
				`{"error": {"error_code": 5, "error_msg": "` + tt.msg + `"}}`,
			}}
			c := newTestClient(doer)
			defer c.Close()

			_, err := c.Call(context.Background(), "messages.getLongPollServer", nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCall_UnhandledErrorSurfaces(t *testing.T) {
	doer := &scriptedDoer{responses: []string{
		`{"error": {"error_code": 917, "error_msg": "kicked from chat"}}`,
	}}
	c := newTestClient(doer)
	defer c.Close()

	_, err := c.Call(context.Background(), "messages.getConversationMembers", nil)
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if apiErr.Code != 917 {
		t.Errorf("Code = %d", apiErr.Code)
	}
}

func TestCall_AndroidPlatformUsesSecondToken(t *testing.T) {
	doer := &scriptedDoer{responses: []string{`{"response": 1}`}}
	cfg := DefaultConfig()
	cfg.Token = "main"
	cfg.AndroidToken = "android"
	c := New(cfg, doer)
	defer c.Close()

	if _, err := c.Call(context.Background(), "execute.method", nil, Platform{Android: true}); err != nil {
		t.Fatalf("Call: %v", err)
	}

	form, _ := url.ParseQuery(doer.seen()[0].Body)
	if form.Get("access_token") != "android" {
		t.Errorf("access_token = %q, want the android token", form.Get("access_token"))
	}
}

func TestCall_Closed(t *testing.T) {
	c := newTestClient(&scriptedDoer{})
	c.Close()

	if _, err := c.Call(context.Background(), "any.method", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
