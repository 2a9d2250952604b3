// Package feed fans newly stored messages out to live stream subscribers.
package feed

import (
	"sync"

	"github.com/rs/zerolog"

	"meshweb/models"
)

const (
	// DefaultSubscriberBuffer is the per-subscriber event queue depth. A
	// subscriber that falls this far behind is dropped rather than allowed
	// to block the hub.
	DefaultSubscriberBuffer = 16

	broadcastBuffer = 256
)

// Subscriber receives published messages until it is unsubscribed, dropped,
// or the hub closes.
type Subscriber struct {
	events chan models.Message
	done   chan struct{}
}

// Events returns the subscriber's message stream.
func (s *Subscriber) Events() <-chan models.Message {
	return s.events
}

// Done is closed when the subscriber will receive no further events.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Hub is a single-goroutine fan-out of messages to stream subscribers.
type Hub struct {
	logger zerolog.Logger

	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan models.Message

	closeOnce sync.Once
	closed    chan struct{}
	stopped   chan struct{}
}

// NewHub starts the hub goroutine.
func NewHub(logger zerolog.Logger) *Hub {
	h := &Hub{
		logger:     logger.With().Str("component", "feed").Logger(),
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		broadcast:  make(chan models.Message, broadcastBuffer),
		closed:     make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go h.run()
	return h
}

// Subscribe registers a new stream subscriber.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		events: make(chan models.Message, DefaultSubscriberBuffer),
		done:   make(chan struct{}),
	}

	select {
	case h.register <- sub:
	case <-h.closed:
		close(sub.done)
	}
	return sub
}

// Unsubscribe removes a subscriber; its Done channel is closed.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	select {
	case h.unregister <- sub:
	case <-h.closed:
	}
}

// Publish queues one message for delivery to all current subscribers.
func (h *Hub) Publish(message models.Message) {
	select {
	case h.broadcast <- message:
	case <-h.closed:
	}
}

// Close stops the hub and completes all subscribers.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.closed)
		<-h.stopped
	})
}

func (h *Hub) run() {
	defer close(h.stopped)

	subscribers := make(map[*Subscriber]bool)
	defer func() {
		for sub := range subscribers {
			close(sub.done)
		}
	}()

	for {
		select {
		case sub := <-h.register:
			subscribers[sub] = true

		case sub := <-h.unregister:
			if subscribers[sub] {
				delete(subscribers, sub)
				close(sub.done)
			}

		case message := <-h.broadcast:
			for sub := range subscribers {
				select {
				case sub.events <- message:
				default:
					// Subscriber stalled; cut it loose instead of
					// holding everyone else up.
					delete(subscribers, sub)
					close(sub.done)
					h.logger.Warn().Msg("dropped stalled feed subscriber")
				}
			}

		case <-h.closed:
			return
		}
	}
}
