// Package dispatch routes decoded long-poll events to their registered
// handlers. Consecutive events of the same packable type targeting the same
// peer coalesce into one logical entry, and each entry's preload predicate
// decides whether auxiliary data must be fetched before its handler runs.
package dispatch

import (
	"context"
	"log"

	"github.com/pulse/chat-sync/internal/event"
	"github.com/pulse/chat-sync/internal/metrics"
)

// Definition declares how one event type behaves. A nil Handle means the
// type is deliberately ignored. Decode must return an untyped nil to skip a
// tuple (a typed nil wrapped in an interface would not compare equal).
type Definition struct {
	// Pack coalesces consecutive events of this type targeting the same
	// peer into one handler invocation.
	Pack bool
	// Decode converts a raw tuple into a typed delta; a nil result skips
	// the tuple.
	Decode func(t event.Tuple) (any, error)
	// Preload reports whether the handler needs auxiliary data fetched
	// before it runs. Packed definitions receive the whole item list.
	Preload func(data any) bool
	// Handle applies the delta to the local store.
	Handle func(ctx context.Context, e Entry) error
}

// Registry is the fixed event-type table.
type Registry map[int]Definition

// Update is one item of an incoming batch: either a live raw tuple or an
// already-rich backfill record.
type Update struct {
	Tag   int
	Tuple event.Tuple

	// Rich carries the pre-decoded payload of a history record; PeerID is
	// its packing key. Decode is skipped for these.
	Rich        any
	PeerID      int64
	FromHistory bool
}

// Entry is one logical unit handed to a handler. Packed entries carry
// Items; standalone entries carry Data.
type Entry struct {
	Tag         int
	PeerID      int64
	Items       []any
	Data        any
	FromHistory bool
	// Preload reports whether the dispatcher awaited an auxiliary fetch
	// budget for this entry; handlers fetch synchronously when set and
	// fire-and-forget otherwise.
	Preload bool
}

// Dispatcher applies batches against a registry.
type Dispatcher struct {
	registry Registry
}

// New creates a dispatcher over the given registry.
func New(registry Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch processes one ordered batch. Unknown tags and individually
// malformed tuples are logged and skipped; they never abort the batch.
// Handlers run sequentially in arrival order, so store mutations touching
// the same peer keep their relative order.
func (d *Dispatcher) Dispatch(ctx context.Context, updates []Update) {
	entries := d.collect(updates)

	for _, e := range entries {
		def := d.registry[e.Tag]

		if !e.FromHistory && def.Preload != nil {
			if e.Items != nil {
				e.Preload = def.Preload(e.Items)
			} else {
				e.Preload = def.Preload(e.Data)
			}
		}

		if err := def.Handle(ctx, *e); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[lp] handler tag=%d peer=%d: %v", e.Tag, e.PeerID, err)
			metrics.HandlerErrors.Inc()
		}
	}
}

// collect decodes the batch and groups it into logical entries. Packing is
// deliberately non-greedy: only the immediately preceding entry is a merge
// candidate, so interleaved types for one peer stay separate.
func (d *Dispatcher) collect(updates []Update) []*Entry {
	var entries []*Entry

	for _, u := range updates {
		def, known := d.registry[u.Tag]
		if !known {
			log.Printf("[lp] unknown event tag=%d", u.Tag)
			metrics.EventsUnknown.Inc()
			continue
		}
		if def.Handle == nil {
			continue
		}

		var data any
		switch {
		case u.FromHistory:
			data = u.Rich
		case def.Decode != nil:
			var err error
			data, err = def.Decode(u.Tuple)
			if err != nil {
				log.Printf("[lp] decode tag=%d: %v", u.Tag, err)
				metrics.EventsMalformed.Inc()
				continue
			}
		default:
			data = u.Tuple
		}
		if data == nil {
			continue
		}
		metrics.EventsDecoded.Inc()

		if !def.Pack {
			entries = append(entries, &Entry{
				Tag:         u.Tag,
				Data:        data,
				FromHistory: u.FromHistory,
			})
			continue
		}

		peerID := u.PeerID
		if !u.FromHistory {
			id, err := u.Tuple.Int(2)
			if err != nil {
				log.Printf("[lp] packable tag=%d without peer id: %v", u.Tag, err)
				metrics.EventsMalformed.Inc()
				continue
			}
			peerID = id
		}

		if last := lastEntry(entries); last != nil &&
			last.Tag == u.Tag && last.Items != nil && last.PeerID == peerID {
			last.Items = append(last.Items, data)
			continue
		}

		entries = append(entries, &Entry{
			Tag:         u.Tag,
			PeerID:      peerID,
			Items:       []any{data},
			FromHistory: u.FromHistory,
		})
	}

	return entries
}

func lastEntry(entries []*Entry) *Entry {
	if len(entries) == 0 {
		return nil
	}
	return entries[len(entries)-1]
}
