// Package messaging publishes store change events over NATS so observer
// processes (a UI shell, bots, relays) can mirror the local state without
// linking the engine in.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pulse/chat-sync/internal/store"
)

// SubjectPrefix is the root of all change-event subjects. The full subject
// is sync.<account_id>.<event kind>, so observers can subscribe to one
// account or one kind with a wildcard.
const SubjectPrefix = "sync"

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "chat-sync",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Bus publishes store events to NATS. It satisfies store.Bus; publishing is
// fire-and-forget and a failed publish is only logged.
type Bus struct {
	conn    *nats.Conn
	account string
}

// NewBus connects to NATS and returns a ready publisher. It returns an
// error if the initial connection fails.
func NewBus(cfg Config, accountID int64) (*Bus, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: connect to %s: %w", cfg.URL, err)
	}

	return &Bus{
		conn:    conn,
		account: strconv.FormatInt(accountID, 10),
	}, nil
}

// Publish sends one change event on sync.<account>.<kind>.
func (b *Bus) Publish(ev store.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[nats] marshal %s: %v", ev.Kind, err)
		return
	}
	subject := SubjectPrefix + "." + b.account + "." + ev.Kind
	if err := b.conn.Publish(subject, data); err != nil {
		log.Printf("[nats] publish %s: %v", subject, err)
	}
}

// Close drains the connection so queued events flush before shutdown.
func (b *Bus) Close() {
	if err := b.conn.Drain(); err != nil {
		log.Printf("[nats] drain: %v", err)
	}
}
