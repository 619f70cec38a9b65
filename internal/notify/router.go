package notify

import (
	"log"
	"sync"

	"github.com/CLIAIMONITOR/cos/internal/events"
)

// Router dispatches bus events to every registered channel, fire-and-forget.
type Router struct {
	channels []Channel
	mu       sync.RWMutex
}

// NewRouter creates a router over the given channels.
func NewRouter(channels []Channel) *Router {
	if channels == nil {
		channels = []Channel{}
	}
	return &Router{channels: channels}
}

// AddChannel registers an additional channel.
func (r *Router) AddChannel(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, ch)
}

// Route sends event to every channel whose ShouldNotify matches, each in
// its own goroutine so a slow or failing channel never blocks the others.
func (r *Router) Route(event events.Event) {
	r.mu.RLock()
	channels := make([]Channel, len(r.channels))
	copy(channels, r.channels)
	r.mu.RUnlock()

	for _, ch := range channels {
		go func(channel Channel) {
			if !channel.ShouldNotify(event) {
				return
			}
			if err := channel.Send(event); err != nil {
				log.Printf("[notify] channel %s failed to send event %s: %v", channel.Name(), event.ID, err)
			}
		}(ch)
	}
}

// Run subscribes to bus under target and routes every event until stopCh
// closes.
func (r *Router) Run(bus *events.Bus, target string, stopCh <-chan struct{}) {
	ch := bus.Subscribe(target, nil)
	defer bus.Unsubscribe(target, ch)

	for {
		select {
		case event := <-ch:
			r.Route(event)
		case <-stopCh:
			return
		}
	}
}
