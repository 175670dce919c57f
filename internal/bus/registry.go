package bus

import (
	"context"
	"sync"

	"github.com/avelkova/taskbus/internal/domain"
)

// Handler processes one delivered event. A nil return acknowledges the
// entry; an error sends it through the retry path. All handlers for an
// entry are re-run on retry, so handlers must be idempotent.
type Handler func(ctx context.Context, event domain.Event) error

// registry maps event types to their handlers in registration order. It is
// purely in-process state; registration never touches the broker.
type registry struct {
	mu       sync.RWMutex
	handlers map[domain.EventType][]Handler
}

func newRegistry() *registry {
	return &registry{handlers: make(map[domain.EventType][]Handler)}
}

func (r *registry) add(t domain.EventType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = append(r.handlers[t], h)
}

func (r *registry) get(t domain.EventType) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[t]
}
