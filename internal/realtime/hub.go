package realtime

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// subscriberBuffer is the per-connection event backlog. Subscribers that fall
// further behind than this lose events rather than stalling the broadcast.
const subscriberBuffer = 64

// Hub fans published events out to the websocket connections subscribed to a
// topic on this instance. Delivery is at-most-once: a full subscriber channel
// drops the event for that subscriber only.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan []byte
	closed      bool
	logger      zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[string]chan []byte),
		logger:      logger,
	}
}

// Subscribe registers a listener on topic. The returned cancel func removes
// the subscription and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(topic string) (<-chan []byte, func()) {
	id := uuid.NewString()
	ch := make(chan []byte, subscriberBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if _, ok := h.subscribers[topic]; !ok {
		h.subscribers[topic] = make(map[string]chan []byte)
	}
	h.subscribers[topic][id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { h.unsubscribe(topic, id) })
	}
	return ch, cancel
}

func (h *Hub) unsubscribe(topic, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[topic]
	if !ok {
		return
	}
	ch, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	close(ch)
	if len(subs) == 0 {
		delete(h.subscribers, topic)
	}
}

// Broadcast delivers payload to every current subscriber of topic without
// blocking on any of them. The sends happen under the read lock: unsubscribe
// and Close close channels under the write lock, so a channel can never be
// closed mid-send.
func (h *Hub) Broadcast(topic string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers[topic] {
		select {
		case ch <- payload:
		default:
			h.logger.Debug().Str("topic", topic).Msg("dropping event for slow subscriber")
		}
	}
}

// Close shuts the hub down and closes every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for topic, subs := range h.subscribers {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(h.subscribers, topic)
	}
}
