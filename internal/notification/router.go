package notification

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/auralink/proactive/internal/datastore/entities"
)

// Router maps channels to deliverers.
type Router struct {
	mu         sync.RWMutex
	deliverers map[entities.Channel]Deliverer
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{deliverers: make(map[entities.Channel]Deliverer)}
}

// Register sets the deliverer for a channel, replacing any previous one.
func (r *Router) Register(channel entities.Channel, d Deliverer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliverers[channel] = d
}

// Channels returns the registered channels, sorted.
func (r *Router) Channels() []entities.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entities.Channel, 0, len(r.deliverers))
	for ch := range r.deliverers {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

// Deliver routes n to the channel's deliverer. Unknown channels and
// deliverer panics come back as failed results.
func (r *Router) Deliver(ctx context.Context, channel entities.Channel, n *entities.QueuedNotification) (result DeliveryResult) {
	r.mu.RLock()
	d, ok := r.deliverers[channel]
	r.mu.RUnlock()
	if !ok {
		return DeliveryResult{Error: fmt.Sprintf("no deliverer registered for channel %s", channel)}
	}

	defer func() {
		if p := recover(); p != nil {
			result = DeliveryResult{Error: fmt.Sprintf("deliverer for %s panicked: %v", channel, p)}
		}
	}()
	return d.Deliver(ctx, n)
}
