package broadcast

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrUnauthorized indicates a subscription attempt without a permitted role.
var ErrUnauthorized = errors.New("broadcast: role not permitted for topic")

// ErrUnknownTopic indicates a subscription to a topic that is never published.
var ErrUnknownTopic = errors.New("broadcast: unknown topic")

// observer buffer; a full buffer drops the payload for that observer only.
const observerBuffer = 32

// Subscriber abstracts a streaming client (websocket or SSE).
type Subscriber interface {
	Send([]byte) error
	Close()
}

// observer wraps a subscriber with its own delivery path so a slow client
// cannot block delivery to others.
type observer struct {
	sub    Subscriber
	role   string
	topics map[Topic]struct{}
	out    chan []byte
	done   chan struct{}
	once   sync.Once
}

func (o *observer) stop() {
	o.once.Do(func() { close(o.out) })
}

func (o *observer) writeLoop() {
	defer close(o.done)
	for payload := range o.out {
		if err := o.sub.Send(payload); err != nil {
			break
		}
	}
	o.sub.Close()
	for range o.out {
		// drain after send failure until stop closes the channel
	}
}

// Hub fans published payloads out to subscribed observers and retains the
// latest payload per topic so new subscribers get an immediate snapshot.
type Hub struct {
	mu        sync.Mutex
	observers map[Topic]map[*observer]struct{}
	byClient  map[Subscriber]*observer
	retained  map[Topic][]byte
	logger    *slog.Logger
	connDelta func(delta int)
}

// NewHub creates an initialized Hub. connDelta, when non-nil, is invoked with
// +1 on subscribe and -1 on unsubscribe so the metrics aggregator tracks live
// push connections from lifecycle events rather than inference.
func NewHub(logger *slog.Logger, connDelta func(delta int)) *Hub {
	if logger != nil {
		logger = logger.With("component", "broadcaster")
	}
	return &Hub{
		observers: make(map[Topic]map[*observer]struct{}),
		byClient:  make(map[Subscriber]*observer),
		retained:  make(map[Topic][]byte),
		logger:    logger,
		connDelta: connDelta,
	}
}

// Subscribe registers a client for the given topics after checking the topic
// ACL against the role established at subscribe time. On success the retained
// snapshot of every subscribed topic is sent immediately. On authorization
// failure nothing is sent and ErrUnauthorized is returned.
func (h *Hub) Subscribe(sub Subscriber, role string, topics []Topic) error {
	if len(topics) == 0 {
		// default subscription covers everything the role may see; an
		// explicitly requested topic is still checked below
		topics = AuthorizedTopics(role)
		if len(topics) == 0 {
			return ErrUnauthorized
		}
	}
	for _, topic := range topics {
		if !KnownTopic(topic) {
			return ErrUnknownTopic
		}
		if !Authorized(role, topic) {
			return ErrUnauthorized
		}
	}

	obs := &observer{
		sub:    sub,
		role:   role,
		topics: make(map[Topic]struct{}, len(topics)),
		out:    make(chan []byte, observerBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	prev, replaced := h.byClient[sub]
	if replaced {
		h.detachLocked(prev)
	}
	h.byClient[sub] = obs
	var snapshots [][]byte
	for _, topic := range topics {
		obs.topics[topic] = struct{}{}
		if h.observers[topic] == nil {
			h.observers[topic] = make(map[*observer]struct{})
		}
		h.observers[topic][obs] = struct{}{}
		if payload, ok := h.retained[topic]; ok {
			snapshots = append(snapshots, payload)
		}
	}
	h.mu.Unlock()

	if replaced {
		// the previous write loop must finish before the new one starts
		// writing to the same client
		<-prev.done
	}
	go obs.writeLoop()
	for _, payload := range snapshots {
		obs.deliver(payload, h.logger)
	}
	// a resubscribe replaces the registration; the connection count holds
	if h.connDelta != nil && !replaced {
		h.connDelta(1)
	}
	return nil
}

// Unsubscribe removes a client, closes its delivery path, and waits for the
// write loop to finish so no write lands on the client afterwards.
func (h *Hub) Unsubscribe(sub Subscriber) {
	h.mu.Lock()
	obs, ok := h.byClient[sub]
	if ok {
		h.detachLocked(obs)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	<-obs.done
	if h.connDelta != nil {
		h.connDelta(-1)
	}
}

// Publish fans a payload out to every observer of the topic, best effort per
// observer, and retains it as the topic snapshot.
func (h *Hub) Publish(topic Topic, payload []byte) {
	if !KnownTopic(topic) {
		return
	}
	retained := append([]byte(nil), payload...)

	h.mu.Lock()
	h.retained[topic] = retained
	targets := make([]*observer, 0, len(h.observers[topic]))
	for obs := range h.observers[topic] {
		targets = append(targets, obs)
	}
	h.mu.Unlock()

	for _, obs := range targets {
		obs.deliver(retained, h.logger)
	}
}

// Snapshot returns the retained payload of a topic, mirroring what a new
// push subscriber would receive. ok is false when nothing was published yet.
func (h *Hub) Snapshot(topic Topic) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	payload, ok := h.retained[topic]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), payload...), true
}

// SubscriberCount reports the number of registered clients.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byClient)
}

func (h *Hub) detachLocked(obs *observer) {
	for topic := range obs.topics {
		if set, ok := h.observers[topic]; ok {
			delete(set, obs)
			if len(set) == 0 {
				delete(h.observers, topic)
			}
		}
	}
	delete(h.byClient, obs.sub)
	obs.stop()
}

func (o *observer) deliver(payload []byte, logger *slog.Logger) {
	defer func() {
		// the out channel closes when the observer detaches; a racing send
		// must not take the publisher down
		_ = recover()
	}()
	select {
	case o.out <- payload:
	default:
		if logger != nil {
			logger.Warn("observer buffer full, payload dropped")
		}
	}
}
