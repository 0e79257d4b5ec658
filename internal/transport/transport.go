// Package transport performs HTTP requests for the sync engine. Connectivity
// failures (no DNS, timeouts, resets) are retried indefinitely behind a
// shared wait-for-network probe, so callers above only ever see semantic
// errors or a cancelled context.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Config holds transport settings.
type Config struct {
	// ProbeHost is resolved to detect connectivity recovery.
	ProbeHost string
	// ProbeInterval is the delay between failed connectivity probes.
	ProbeInterval time.Duration
	UserAgent     string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ProbeHost:     "api.vk.com",
		ProbeInterval: 5 * time.Second,
	}
}

// Request describes one HTTP call. Body, when set, is sent as a urlencoded
// form POST payload. A zero Timeout means no per-request deadline.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Body    string
	Timeout time.Duration
}

// Response is the surfaced result of a completed request.
type Response struct {
	Body       []byte
	Header     http.Header
	StatusCode int
}

// Client retries requests across connectivity loss. A single in-flight
// connectivity probe is shared by all waiting callers.
type Client struct {
	cfg  Config
	http *http.Client

	mu      sync.Mutex
	waiting chan struct{} // non-nil while a probe is running
}

// New creates a transport client.
func New(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{},
	}
}

// Do executes the request, retrying for as long as the failure class is
// connectivity. It returns when a response arrives, a non-connectivity error
// occurs, or the context is cancelled.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	for {
		resp, err := c.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isConnectivityError(err) {
			return nil, fmt.Errorf("transport: %s %s: %w", req.Method, req.URL, err)
		}

		log.Printf("transport: connectivity lost (%v), waiting", err)
		if err := c.waitConnection(ctx); err != nil {
			return nil, err
		}
	}
}

func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if req.Body != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.cfg.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		Body:       data,
		Header:     httpResp.Header,
		StatusCode: httpResp.StatusCode,
	}, nil
}

// waitConnection blocks until the probe host resolves again. Concurrent
// callers share one probe loop.
func (c *Client) waitConnection(ctx context.Context) error {
	c.mu.Lock()
	ch := c.waiting
	if ch == nil {
		ch = make(chan struct{})
		c.waiting = ch
		go c.probe(ch)
	}
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) probe(done chan struct{}) {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := net.DefaultResolver.LookupHost(ctx, c.cfg.ProbeHost)
		cancel()

		if err == nil {
			c.mu.Lock()
			c.waiting = nil
			c.mu.Unlock()
			close(done)
			return
		}
		time.Sleep(c.cfg.ProbeInterval)
	}
}

// isConnectivityError classifies an error as transient network loss:
// timeouts, DNS failures, refused or reset connections, and abrupt EOFs.
func isConnectivityError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return false
}
