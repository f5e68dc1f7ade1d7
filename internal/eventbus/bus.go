package eventbus

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/nats-io/nats.go"
)

// Bus is the process-local publish/subscribe channel. Handlers are called in
// registration order (§4.10 item 3's buffers are ordered; §8 testable
// property #12 requires "in registration order").
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler

	// nc is an optional NATS connection. When set, committed events are also
	// published (fire-and-forget) so that other case-handle processes
	// against the same networked case can observe commits. Off by default;
	// publish errors are logged, never propagated, matching Handle's
	// best-effort contract.
	nc      *nats.Conn
	subject string
}

// New creates an empty bus with no NATS sink.
func New() *Bus {
	return &Bus{}
}

// WithNATS attaches an optional fan-out sink. subject is the NATS subject
// events are published to.
func (b *Bus) WithNATS(nc *nats.Conn, subject string) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nc = nc
	b.subject = subject
	return b
}

// Register adds a handler. Order of registration is the order handlers are
// invoked in.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Unregister removes a handler by id, returning whether it was present.
func (b *Bus) Unregister(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.handlers {
		if h.ID() == id {
			b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// Publish fires events, in order, to every handler whose Handles() includes
// the event's type. Handler errors are logged, not returned: a failure here
// must never retroactively affect the transaction that already committed.
//
// Must only be called after a successful commit (§4.10, §8 property #12).
func (b *Bus) Publish(ctx context.Context, events []Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	nc, subject := b.nc, b.subject
	b.mu.RUnlock()

	for i := range events {
		e := &events[i]
		for _, h := range handlers {
			if !matches(h, e.Type) {
				continue
			}
			if err := h.Handle(ctx, e); err != nil {
				log.Printf("eventbus: handler %s failed for %s: %v", h.ID(), e.Type, err)
			}
		}
		if nc != nil {
			if payload, err := json.Marshal(e); err == nil {
				if err := nc.Publish(subject, payload); err != nil {
					log.Printf("eventbus: nats publish failed: %v", err)
				}
			}
		}
	}
}

func matches(h Handler, t EventType) bool {
	for _, want := range h.Handles() {
		if want == t {
			return true
		}
	}
	return false
}
